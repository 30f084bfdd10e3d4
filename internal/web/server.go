package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vbonduro/detectchat/internal/domain"
	"github.com/vbonduro/detectchat/internal/service"
)

const (
	defaultMaxBodyBytes = 128 << 20
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 60 * time.Second
	// writeTimeout has to outlast fetch, upload and predict combined.
	writeTimeout = 180 * time.Second
	idleTimeout  = 120 * time.Second
)

// chatResponder is the subset of service.ChatService the server requires.
type chatResponder interface {
	Respond(ctx context.Context, req service.ChatRequest) service.Reply
}

// detectionLister is the subset of store.DetectionStore the server requires.
type detectionLister interface {
	ListByChatID(ctx context.Context, chatID string, limit int) ([]*domain.Detection, error)
}

type Options struct {
	// MaxBodyBytes bounds the whole JSON request body. Clients repeat each
	// base64 image in data.images and in message attachments, and resend the
	// history, so this must sit well above the per-image cap.
	MaxBodyBytes int64
}

type Server struct {
	service      chatResponder
	detections   detectionLister
	app          *echo.Echo
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewServer wires routes and middleware. detections may be nil when the audit
// log is disabled; its endpoint then answers 404.
func NewServer(svc chatResponder, detections detectionLister, opts Options, logger *slog.Logger) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = jsonErrorHandler

	s := &Server{
		service:      svc,
		detections:   detections,
		app:          e,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:   true,
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"request_id", v.RequestID,
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"duration_ms", v.Latency.Milliseconds(),
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			logger.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	}))

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.POST("/api/chat", s.handleChat)
	s.app.GET("/api/chats/:chatId/detections", s.handleListDetections)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.app.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.logger.Info("starting server", "addr", addr)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.app,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
