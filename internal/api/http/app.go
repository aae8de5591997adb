package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Orine99/ees-education-dashboard/internal/ees"
	"github.com/Orine99/ees-education-dashboard/internal/metrics"
)

// AppOptions configures the Fiber app.
type AppOptions struct {
	Name         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       zerolog.Logger
}

// NewApp builds the Fiber app with error handling, middleware and the
// health and metrics endpoints. API routes are added by RegisterRoutes.
func NewApp(opts AppOptions) *fiber.App {
	if opts.Name == "" {
		opts.Name = "ees-dashboard"
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 30 * time.Second
	}

	app := fiber.New(fiber.Config{
		AppName:               opts.Name,
		DisableStartupMessage: true,
		Immutable:             true,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(metrics.Middleware())
	app.Use(requestLogger(opts.Logger))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": opts.Name,
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

// errorHandler renders every error as {"error": true, "message": ...}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var (
		fe *fiber.Error
		ue *ees.UpstreamError
	)
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, ees.ErrMissingParameter), errors.Is(err, ees.ErrInvalidParameter):
		code = fiber.StatusBadRequest
	case errors.As(err, &ue):
		code = fiber.StatusBadGateway
	case errors.Is(err, ees.ErrCircuitOpen):
		code = fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusGatewayTimeout
	}

	if code >= fiber.StatusInternalServerError {
		zerolog.Ctx(c.UserContext()).Error().Err(err).Int("status", code).Msg("request failed")
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// requestLogger attaches a request-scoped logger to the user context and
// logs each request once it completes. Errors are rendered here so the
// logged status and the outer middleware see the final response.
func requestLogger(base zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set(fiber.HeaderXRequestID, reqID)

		l := base.With().
			Str("request_id", reqID).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Logger()
		c.SetUserContext(l.WithContext(c.UserContext()))

		err := c.Next()

		ev := l.Info()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
			ev = l.Warn().Err(err)
		}
		ev.Int("status", c.Response().StatusCode()).
			Dur("duration", time.Since(start)).
			Msg("request")
		return nil
	}
}
