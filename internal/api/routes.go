package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"zk.share/config"
	"zk.share/internal/audit"
	"zk.share/internal/store"
)

type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for every state decision the handlers make.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func SetupRouter(s store.Store, cfg *config.Config, log *zap.Logger, opts ...Option) *chi.Mux {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	log = log.Named("api")
	h := NewHandler(s, cfg, audit.NewLogger(s, log), log, o.now)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// CORS
	r.Use(CORS(CORSConfig{
		AllowedOrigins: []string{cfg.Server.BaseURL},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID", headerOrgID, headerUserID, headerRole},
		MaxAge:         86400,
	}))

	// Health
	r.Get("/health", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		reveal := chi.Chain()
		if cfg.RateLimit.Enabled {
			apiLimiter := NewRateLimiter(cfg.RateLimit.RequestsPerMin, time.Minute)
			revealLimiter := NewRateLimiter(cfg.RateLimit.RevealPerMin, time.Minute)

			r.Use(apiLimiter.Middleware)
			reveal = chi.Chain(revealLimiter.Middleware)
		}
		r.Use(JSONOnly)

		r.Route("/secrets", func(r chi.Router) {
			r.Post("/", h.CreateSecret)
			r.With(reveal...).Get("/{id}", h.RevealSecret)
			r.Get("/{id}/status", h.GetStatus)
			r.Patch("/{id}", h.UpdateSecret)
			r.Delete("/{id}", h.DeleteSecret)
		})

		r.Get("/audit", h.ListAccessEvents)

		r.Route("/tiers", func(r chi.Router) {
			r.Get("/", h.ListTiers)
			r.Get("/{tier}", h.GetTier)
			r.Post("/{tier}/validate", h.ValidateUsage)
		})
	})

	return r
}
