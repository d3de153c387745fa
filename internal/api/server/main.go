package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/bz888/labchain-ml/internal/api/server/handlers"
	"github.com/bz888/labchain-ml/internal/config"
	"github.com/bz888/labchain-ml/internal/logger"
	"github.com/bz888/labchain-ml/internal/protocol"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

type Server struct {
	cfg          config.Config
	log          *logger.Logger
	standardizer protocol.Standardizer
	registry     prometheus.Registerer
	gatherer     prometheus.Gatherer
	metrics      *Metrics
	handler      *handlers.Handler
	router       *chi.Mux
}

type Option func(*Server)

func WithStandardizer(st protocol.Standardizer) Option {
	return func(s *Server) { s.standardizer = st }
}

// WithRegistry replaces the private metrics registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
		s.gatherer = reg
	}
}

func New(cfg config.Config, log *logger.Logger, opts ...Option) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		cfg:          cfg,
		log:          log.WithTag("server"),
		standardizer: protocol.NewSplitter(),
		registry:     reg,
		gatherer:     reg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if reg == s.registry {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	s.metrics = NewMetrics(s.registry)
	s.handler = handlers.NewHandler(s.standardizer, log,
		handlers.WithMaxBodyBytes(cfg.MaxBodyBytes),
		handlers.WithStepObserver(s.metrics.ObserveSteps))

	s.router = chi.NewRouter()
	s.registerRoutes(s.router)

	if cfg.APIKey == "" {
		s.log.Warn("API_KEY is not set, every standardize request will be rejected")
	}
	return s
}

// Handler is the full HTTP stack: request id, CORS, gzip, then the router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", APIKeyHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		Debug:          false,
	})
	return requestID(c.Handler(gzhttp.GzipHandler(s.router)))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.log.Info("Server started", "addr", ln.Addr().String(), "env", s.cfg.Env, "dev", s.cfg.Dev)
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)

	case <-ctx.Done():
		s.log.Info("Start shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Graceful shutdown did not complete", "timeout", shutdownTimeout, "error", err)
			if err := srv.Close(); err != nil {
				return fmt.Errorf("close server: %w", err)
			}
		}
		s.log.Info("Server stopped gracefully")
		return nil
	}
}
