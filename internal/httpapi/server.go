// Package httpapi exposes engine metrics and saved benchmark runs over HTTP
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/jzx17/godispatch/internal/store"
)

const (
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 5 * time.Minute
)

// RunRequest asks the server to run a scaling sequence
type RunRequest struct {
	Tasks   int   `json:"total_tasks" validate:"gt=0,lte=10000"`
	Workers []int `json:"workers" validate:"required,min=1,max=16,dive,gt=0,lte=256"`
}

// Runner executes a scaling sequence and returns the saved runs
type Runner func(ctx context.Context, req RunRequest) ([]store.Run, error)

// Server wraps the chi router and its dependencies
type Server struct {
	router   *chi.Mux
	store    store.Store
	gatherer prometheus.Gatherer
	runner   Runner
	logger   logrus.FieldLogger
	addr     string
}

// Option configures a Server
type Option func(*Server)

// WithRunner enables POST /v1/runs
func WithRunner(r Runner) Option {
	return func(s *Server) {
		s.runner = r
	}
}

// NewServer creates and configures a new HTTP server. st may be nil, in
// which case the run endpoints answer 503.
func NewServer(addr string, st store.Store, gatherer prometheus.Gatherer, logger logrus.FieldLogger, opts ...Option) *Server {
	srv := &Server{
		router:   chi.NewRouter(),
		store:    st,
		gatherer: gatherer,
		logger:   logger,
		addr:     addr,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)

	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/v1/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleCreateRuns)
		r.Get("/{batch}", s.handleGetBatch)
	})
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves until ctx is done, then shuts down within shutdownTimeout
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}
