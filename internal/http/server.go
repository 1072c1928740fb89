// Package http serves the orgrag operations over a JSON API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/orgrag/internal/logging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	backend Backend
	metrics *HTTPMetrics
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// BodyLimit caps request bodies, blob uploads included, in echo's
	// size notation ("32M").
	BodyLimit string
}

// NewServer creates a server over backend.
func NewServer(backend Backend, logger *zap.Logger, cfg *Config) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "32M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		backend: backend,
		metrics: NewHTTPMetrics(logger),
		logger:  logger,
		config:  cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.metrics.MetricsMiddleware())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

// requestLogger puts the request id on the context and logs each request.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

		err := next(c)
		if err != nil {
			// Resolve the status before logging it.
			c.Error(err)
		}

		s.logger.Info("http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tenants", s.handleCreateTenant)
	v1.GET("/tenants", s.handleListTenants)

	t := v1.Group("/tenants/:tenant")
	t.GET("", s.handleTenantInfo)
	t.DELETE("", s.handleDeleteTenant)
	t.POST("/ingest/files", s.handleIngestFiles)
	t.POST("/ingest/url", s.handleIngestURL)
	t.POST("/ask", s.handleAsk)
	t.GET("/stats", s.handleStats)
	t.GET("/sources", s.handleListSources)
	t.GET("/sources/:id/documents", s.handleSourceDocuments)
	t.DELETE("/sources/:id", s.handleDeleteSource)
	t.PUT("/documents/:id/status", s.handleUpdateDocumentStatus)
	t.GET("/blobs", s.handleListBlobs)
	t.PUT("/blobs/:name", s.handleUploadBlob)
	t.GET("/blobs/:name", s.handleDownloadBlob)
	t.DELETE("/blobs/:name", s.handleDeleteBlob)
}

// ServeHTTP lets the server be mounted or exercised with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Start(ctx context.Context, timeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
