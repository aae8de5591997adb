package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
	"github.com/Orine99/ees-education-dashboard/internal/metrics"
)

// BackoffConfig controls exponential backoff behaviour. MaxRetries of zero
// means every request is attempted exactly once.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client            *http.Client
	Backoff           BackoffConfig
	RequestsPerSecond float64
	Burst             int
}

var (
	errRetryableStatus = errors.New("retryable upstream status")
	errNoHTTPClient    = errors.New("http client not configured")
	errInvalidConfig   = errors.New("invalid backoff configuration")
)

// statusError carries a rate-limited or server-error response through the
// circuit breaker so it counts as a failure.
type statusError struct {
	resp *ees.RawResponse
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%v: %d", errRetryableStatus, e.resp.Status)
}

func (e *statusError) Unwrap() error {
	return errRetryableStatus
}

func (cfg HTTPClientConfig) validate() error {
	if cfg.Client == nil {
		return errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 {
		return errInvalidConfig
	}
	if cfg.Backoff.MaxRetries > 0 && cfg.Backoff.InitialInterval <= 0 {
		return errInvalidConfig
	}
	return nil
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if c.cfg.Backoff.InitialInterval > 0 {
		exp.InitialInterval = c.cfg.Backoff.InitialInterval
	}
	if c.cfg.Backoff.MaxInterval > 0 {
		exp.MaxInterval = c.cfg.Backoff.MaxInterval
	}
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.cfg.Backoff.MaxRetries)), ctx)
}

// doRequestWithResilience executes the request under the rate limiter and
// circuit breaker, retrying transport failures, 429 and 5xx responses with
// exponential backoff. Any response that reached the caller's side of the
// wire is returned, whatever its status; only transport failures, an open
// circuit and cancellation are errors.
func (c *Client) doRequestWithResilience(
	ctx context.Context,
	op string,
	buildRequest func(ctx context.Context) (*http.Request, error),
) (*ees.RawResponse, error) {
	var (
		resp    *ees.RawResponse
		attempt int
	)

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := buildRequest(ctx)
		if err != nil {
			return backoff.Permanent(err)
		}

		start := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			httpResp, execErr := c.cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}
			defer httpResp.Body.Close()

			body, readErr := io.ReadAll(httpResp.Body)
			if readErr != nil {
				return nil, readErr
			}
			raw := &ees.RawResponse{
				Status:      httpResp.StatusCode,
				ContentType: httpResp.Header.Get("Content-Type"),
				Body:        body,
			}
			if raw.Status == http.StatusTooManyRequests || raw.Status >= 500 {
				return nil, &statusError{resp: raw}
			}
			return raw, nil
		})

		var se *statusError
		switch {
		case err == nil:
			resp = result.(*ees.RawResponse)
			metrics.RecordUpstreamRequest(op, resp.Status, time.Since(start), nil)
			return nil
		case errors.As(err, &se):
			resp = se.resp
			metrics.RecordUpstreamRequest(op, se.resp.Status, time.Since(start), nil)
		default:
			metrics.RecordUpstreamRequest(op, 0, time.Since(start), err)
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("%w: %v", ees.ErrCircuitOpen, err))
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Str("operation", op).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying upstream request")
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		if errors.Is(err, errRetryableStatus) && resp != nil {
			return resp, nil
		}
		return nil, err
	}
	return resp, nil
}
