package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AppConfig struct {
	// EESBaseURL is the root of the statistics API, without a trailing slash.
	EESBaseURL     string
	DataSetIDs     []string
	DataSetVersion string

	HTTPTimeout       time.Duration
	MaxRetries        int
	RetryInterval     time.Duration
	RequestsPerSecond float64

	// Cache retention.
	PageTTL        time.Duration
	MetaTTL        time.Duration
	CacheCapacity  int
	SessionWindows int           // windows kept per selection (grid maxBlocksInCache)
	MaxStaleAge    time.Duration // how long stale windows may stay resident
	SessionIdleTTL time.Duration

	WindowSize      int
	PrefetchWindows int
	TrendPeriods    int
	TrendPageSize   int

	SweepInterval       time.Duration
	MetaRefreshInterval time.Duration

	SchoolsLatency time.Duration

	Port      string
	LogLevel  string
	LogPretty bool
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":       "PORT",
	"base-url":   "EES_API_BASE",
	"log-level":  "LOG_LEVEL",
	"log-pretty": "LOG_PRETTY",
	"datasets":   "EES_DATASET_IDS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("EES_DATASET_VERSION", "")
	v.SetDefault("EES_HTTP_TIMEOUT", "15s")
	v.SetDefault("EES_MAX_RETRIES", 0)
	v.SetDefault("EES_RETRY_INTERVAL", "500ms")
	v.SetDefault("EES_RATE_LIMIT", 10.0)
	v.SetDefault("PAGE_CACHE_TTL", "5m")
	v.SetDefault("META_CACHE_TTL", "60m")
	v.SetDefault("PAGE_CACHE_CAPACITY", 500)
	v.SetDefault("SESSION_WINDOWS", 10)
	v.SetDefault("CACHE_MAX_STALE_AGE", "30m")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("DEFAULT_WINDOW_SIZE", 50)
	v.SetDefault("PREFETCH_WINDOWS", 1)
	v.SetDefault("TREND_PERIODS", 10)
	v.SetDefault("TREND_PAGE_SIZE", 2000)
	v.SetDefault("CACHE_SWEEP_INTERVAL", "1m")
	v.SetDefault("META_REFRESH_INTERVAL", "60m")
	v.SetDefault("SCHOOLS_LATENCY", "400ms")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
}

// Load reads configuration from .env, the environment and, when given,
// command-line flags, which take precedence.
func Load(flags *pflag.FlagSet) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &AppConfig{
		EESBaseURL:        strings.TrimRight(strings.TrimSpace(v.GetString("EES_API_BASE")), "/"),
		DataSetIDs:        splitList(v.GetString("EES_DATASET_IDS")),
		DataSetVersion:    v.GetString("EES_DATASET_VERSION"),
		MaxRetries:        v.GetInt("EES_MAX_RETRIES"),
		RequestsPerSecond: v.GetFloat64("EES_RATE_LIMIT"),
		CacheCapacity:     v.GetInt("PAGE_CACHE_CAPACITY"),
		SessionWindows:    v.GetInt("SESSION_WINDOWS"),
		WindowSize:        v.GetInt("DEFAULT_WINDOW_SIZE"),
		PrefetchWindows:   v.GetInt("PREFETCH_WINDOWS"),
		TrendPeriods:      v.GetInt("TREND_PERIODS"),
		TrendPageSize:     v.GetInt("TREND_PAGE_SIZE"),
		Port:              v.GetString("PORT"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogPretty:         v.GetBool("LOG_PRETTY"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"EES_HTTP_TIMEOUT", &cfg.HTTPTimeout},
		{"EES_RETRY_INTERVAL", &cfg.RetryInterval},
		{"PAGE_CACHE_TTL", &cfg.PageTTL},
		{"META_CACHE_TTL", &cfg.MetaTTL},
		{"CACHE_MAX_STALE_AGE", &cfg.MaxStaleAge},
		{"SESSION_IDLE_TTL", &cfg.SessionIdleTTL},
		{"CACHE_SWEEP_INTERVAL", &cfg.SweepInterval},
		{"META_REFRESH_INTERVAL", &cfg.MetaRefreshInterval},
		{"SCHOOLS_LATENCY", &cfg.SchoolsLatency},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.EESBaseURL == "" {
		errs = append(errs, errors.New("EES_API_BASE is required"))
	}
	if c.PageTTL <= 0 {
		errs = append(errs, errors.New("PAGE_CACHE_TTL must be positive"))
	}
	if c.MetaTTL <= 0 {
		errs = append(errs, errors.New("META_CACHE_TTL must be positive"))
	}
	if c.CacheCapacity <= 0 {
		errs = append(errs, errors.New("PAGE_CACHE_CAPACITY must be positive"))
	}
	if c.WindowSize <= 0 {
		errs = append(errs, errors.New("DEFAULT_WINDOW_SIZE must be positive"))
	}
	if c.SessionWindows < 0 {
		errs = append(errs, errors.New("SESSION_WINDOWS must not be negative"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("EES_MAX_RETRIES must not be negative"))
	}
	if c.PrefetchWindows < 0 {
		errs = append(errs, errors.New("PREFETCH_WINDOWS must not be negative"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("EES_HTTP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
