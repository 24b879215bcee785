// Package server hosts the REST API alongside the gRPC service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/PaulBabatuyi/filebox/internal/middleware"
	"github.com/PaulBabatuyi/filebox/internal/observability"
	"github.com/PaulBabatuyi/filebox/internal/service"
)

type Options struct {
	APIKeys *middleware.APIKeys
	Metrics *observability.HTTPMetrics
	// MetricsHandler is mounted at /metrics when set.
	MetricsHandler http.Handler
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewRouter builds the chi router for the REST API.
func NewRouter(svc *service.FileBox, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.APIKeys == nil {
		opts.APIKeys = middleware.NewAPIKeys(nil)
	}
	h := &handler{svc: svc, logger: opts.Logger, maxUpload: opts.MaxUploadBytes}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP)
	r.Use(middleware.RequestLogger(opts.Logger), middleware.Metrics(opts.Metrics))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.healthz)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(opts.APIKeys.HTTP)

		r.Post("/upload-file", h.uploadFile)
		r.Get("/file-response/{file_id}", h.getFile)
		r.Put("/file-response/{file_id}/meta-data", h.updateMetadata)
		r.Get("/file-bytes", h.getFileBytes)

		r.Get("/config", h.getConfig)
		r.Put("/config", h.setConfig)

		r.Put("/moderation-exclusions/{file_type}/{file_id}", h.addExclusion)
		r.Delete("/moderation-exclusions/{file_type}/{file_id}", h.removeExclusion)
		r.Get("/moderation-tasks", h.listTasks)
		r.Post("/review-outcomes", h.reviewOutcomes)
	})
	return r
}

// Server is the HTTP listener with graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

func New(port int, handler http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger,
	}
}

// Serve accepts connections on lis until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", lis.Addr().String()))
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Run listens on the configured address.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, lis)
}
