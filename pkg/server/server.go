// Package server exposes chat sessions over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/barekit/docinsights/pkg/ingest"
	"github.com/barekit/docinsights/pkg/metrics"
	"github.com/barekit/docinsights/pkg/session"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// multipart framing allowance on top of the upload limit
const formOverhead = 1 << 20

// Server is the HTTP chat surface.
type Server struct {
	app      *fiber.App
	sessions *session.Manager
	metrics  *metrics.Metrics

	maxUpload     int64
	sweepInterval time.Duration
	cancel        context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMaxUpload sets the largest accepted file.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithSweepInterval sets how often idle sessions are ended.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sweepInterval = d
	}
}

// New creates a Server over sessions.
func New(sessions *session.Manager, opts ...Option) *Server {
	s := &Server{
		sessions:      sessions,
		maxUpload:     ingest.DefaultMaxBytes,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "docinsights",
		BodyLimit:             int(s.maxUpload + formOverhead),
		ErrorHandler:          errorHandler,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(requestLogger)
	s.routes()
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	g := s.app.Group("/sessions")
	g.Post("/", s.startSession)
	g.Get("/:id", s.getSession)
	g.Delete("/:id", s.endSession)
	g.Post("/:id/files", s.uploadFile)
	g.Post("/:id/messages", s.postMessage)
	g.Get("/:id/history", s.history)
}

// Listen serves on addr and sweeps idle sessions until Shutdown.
func (s *Server) Listen(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.sessions.Run(ctx, s.sweepInterval)

	slog.Info("server listening", "addr", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the sweeper, the listener and every open session.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.app.ShutdownWithContext(ctx)
	s.sessions.Close(ctx)
	return err
}

func requestLogger(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	} else if err != nil {
		status = statusFor(err)
	}
	slog.Debug("request", "method", c.Method(), "path", c.Path(), "status", status, "duration", time.Since(start))
	return err
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedType):
		return fiber.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, ingest.ErrEmptyDocument):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrClosed):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
