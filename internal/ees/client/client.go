package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
)

// Client talks to the Explore Education Statistics public API.
type Client struct {
	baseURL string
	cfg     HTTPClientConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, cfg HTTPClientConfig, log zerolog.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("ees base url is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ees",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &Client{
		baseURL: base,
		cfg:     cfg,
		breaker: cb,
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}, nil
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ForwardMeta fetches data-set metadata and returns the reply as-is.
func (c *Client) ForwardMeta(ctx context.Context, req ees.MetaRequest) (*ees.RawResponse, error) {
	target := ees.MetaURL(c.baseURL, req.DataSetID, req.Types, req.Version)
	return c.doRequestWithResilience(ctx, "meta", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		return r, nil
	})
}

// ForwardQuery posts a raw query body and returns the reply as-is.
func (c *Client) ForwardQuery(ctx context.Context, dataSetID, version string, body []byte) (*ees.RawResponse, error) {
	target := ees.QueryURL(c.baseURL, dataSetID, version)
	return c.doRequestWithResilience(ctx, "query", func(ctx context.Context) (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Accept", "application/json")
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	})
}

// Meta fetches data-set metadata. A non-2xx reply becomes an *ees.UpstreamError.
func (c *Client) Meta(ctx context.Context, req ees.MetaRequest) ([]byte, error) {
	if strings.TrimSpace(req.DataSetID) == "" {
		return nil, fmt.Errorf("%w: dataSetId", ees.ErrMissingParameter)
	}
	resp, err := c.ForwardMeta(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("meta request: %w", err)
	}
	if !success(resp.Status) {
		return nil, &ees.UpstreamError{Op: "meta", Status: resp.Status, Body: string(resp.Body)}
	}
	return resp.Body, nil
}

// Query runs a data-set query. A non-2xx reply becomes an *ees.UpstreamError.
func (c *Client) Query(ctx context.Context, dataSetID, version string, body ees.QueryRequest) ([]byte, error) {
	if strings.TrimSpace(dataSetID) == "" {
		return nil, fmt.Errorf("%w: dataSetId", ees.ErrMissingParameter)
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	resp, err := c.ForwardQuery(ctx, dataSetID, version, payload)
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	if !success(resp.Status) {
		return nil, &ees.UpstreamError{Op: "query", Status: resp.Status, Body: string(resp.Body)}
	}
	return resp.Body, nil
}

func success(status int) bool {
	return status >= 200 && status < 300
}
