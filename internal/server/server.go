package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/engine"
	"github.com/headline-goat/feed-goat/internal/logging"
	"github.com/headline-goat/feed-goat/internal/metrics"
	"github.com/headline-goat/feed-goat/internal/store"
)

// maxBodyBytes bounds request bodies, candidate pools included.
const maxBodyBytes = 10 << 20

type Server struct {
	engine    *engine.Engine
	store     *store.SQLiteStore
	port      int
	logger    *zap.Logger
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	router    *http.ServeMux
	startTime time.Time
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option { return func(s *Server) { s.logger = logging.OrNop(l) } }

// WithMetrics records request metrics into m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// WithStore lets /health report the database size.
func WithStore(st *store.SQLiteStore) Option { return func(s *Server) { s.store = st } }

func New(e *engine.Engine, port int, opts ...Option) *Server {
	srv := &Server{
		engine:    e,
		port:      port,
		logger:    zap.NewNop(),
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.HandleFunc("POST /api/feed", s.handleFeed)
	s.router.HandleFunc("GET /api/levers", s.handleLevers)
	s.router.HandleFunc("GET /api/variants", s.handleVariants)
	s.router.HandleFunc("GET /api/variants/{name}", s.handleVariant)

	s.router.HandleFunc("GET /api/experiments", s.handleExperiments)
	s.router.HandleFunc("POST /api/experiments/{id}/variant", s.handleAssign)
	s.router.HandleFunc("POST /api/experiments/{id}/convert", s.handleConvert)
	s.router.HandleFunc("GET /api/experiments/{id}/results", s.handleResults)
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening", zap.Int("port", s.port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down server")
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.observe(s.router)
}
