package main

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/Orine99/ees-education-dashboard/internal/config"
	"github.com/Orine99/ees-education-dashboard/internal/ees"
	"github.com/Orine99/ees-education-dashboard/internal/ees/client"
	"github.com/Orine99/ees-education-dashboard/internal/store"
)

// components holds everything built from configuration.
type components struct {
	client   *client.Client
	pages    *store.MemoryStore[ees.QueryResponse]
	trends   *store.MemoryStore[ees.QueryResponse]
	meta     *store.MemoryStore[*ees.Metadata]
	sessions *ees.SessionRegistry
	service  *ees.Service
}

func build(cfg *config.AppConfig, log zerolog.Logger) (*components, error) {
	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	eesClient, err := client.New(cfg.EESBaseURL, client.HTTPClientConfig{
		Client: httpClient,
		Backoff: client.BackoffConfig{
			MaxRetries:      cfg.MaxRetries,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     8 * cfg.RetryInterval,
		},
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             max(1, int(cfg.RequestsPerSecond)),
	}, log.With().Str("component", "ees_client").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create ees client: %w", err)
	}

	cacheLog := log.With().Str("component", "cache").Logger()
	pages, err := store.NewMemoryStore[ees.QueryResponse](store.Options{
		Name:           "pages",
		TTL:            cfg.PageTTL,
		Capacity:       cfg.CacheCapacity,
		RetainPerGroup: cfg.SessionWindows,
		MaxStaleAge:    cfg.MaxStaleAge,
		Logger:         cacheLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create page cache: %w", err)
	}
	trends, err := store.NewMemoryStore[ees.QueryResponse](store.Options{
		Name:        "trends",
		TTL:         cfg.PageTTL,
		Capacity:    max(1, cfg.CacheCapacity/10),
		MaxStaleAge: cfg.MaxStaleAge,
		Logger:      cacheLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create trend cache: %w", err)
	}
	meta, err := store.NewMemoryStore[*ees.Metadata](store.Options{
		Name:     "meta",
		TTL:      cfg.MetaTTL,
		Capacity: max(16, 2*len(cfg.DataSetIDs)),
		Logger:   cacheLog,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	service, err := ees.NewService(ees.ServiceConfig{
		Upstream:       eesClient,
		Pages:          pages,
		Trends:         trends,
		Meta:           meta,
		DataSetVersion: cfg.DataSetVersion,
		TrendPeriods:   cfg.TrendPeriods,
		TrendPageSize:  cfg.TrendPageSize,
		Logger:         log.With().Str("component", "service").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	return &components{
		client:   eesClient,
		pages:    pages,
		trends:   trends,
		meta:     meta,
		sessions: ees.NewSessionRegistry(cfg.SessionIdleTTL, nil, log.With().Str("component", "sessions").Logger()),
		service:  service,
	}, nil
}
