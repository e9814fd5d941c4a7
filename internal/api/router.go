package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nikhilbhutani/voiceproxy/internal/api/handlers"
	"github.com/nikhilbhutani/voiceproxy/internal/api/middleware"
	"github.com/nikhilbhutani/voiceproxy/internal/config"
	"github.com/nikhilbhutani/voiceproxy/internal/metrics"
	"github.com/nikhilbhutani/voiceproxy/internal/synthesis"
)

type Router struct {
	mux      *chi.Mux
	cfg      *config.Config
	provider synthesis.Provider
	logger   *slog.Logger
	registry *prometheus.Registry
	limiter  *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, provider synthesis.Provider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	return &Router{
		mux:      chi.NewRouter(),
		cfg:      cfg,
		provider: provider,
		logger:   logger,
		registry: registry,
		limiter:  middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}
}

// Limiter exposes the rate limiter so its eviction loop can be started.
func (rt *Router) Limiter() *middleware.RateLimiter { return rt.limiter }

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	if rt.cfg.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.Logging(rt.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.CORS.AllowedOrigins))

	// Health and metrics (not rate limited)
	health := handlers.NewHealthHandler(map[string]handlers.Check{
		"config": func(context.Context) error { return rt.cfg.Validate() },
	})
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))

	m := metrics.New(rt.registry)
	orchestrator := synthesis.NewOrchestrator(rt.cfg.Speech, rt.provider, rt.cfg.Synthesis.Timeout,
		synthesis.WithLogger(rt.logger),
		synthesis.WithRecorder(m),
	)
	classifier := synthesis.NewClassifier(rt.logger, rt.cfg.Speech.Key)
	voiceH := handlers.NewVoiceHandler(orchestrator, classifier, m, rt.logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(rt.limiter.Limit)
		r.Post("/generate-voice", voiceH.Generate)
	})

	return r
}
