package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/wolfman30/psychiatrai/internal/http/middleware"
	"github.com/wolfman30/psychiatrai/internal/screening"
	"github.com/wolfman30/psychiatrai/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ScreeningHandler   *screening.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// RateLimitRPS <= 0 disables rate limiting of /api routes.
	RateLimitRPS   float64
	RateLimitBurst int

	// ExposeSessions mounts the session inspection endpoint. Never set in production.
	ExposeSessions bool

	// ReadinessCheck reports whether backing services are reachable (optional).
	ReadinessCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.ReadinessCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.ScreeningHandler != nil {
		r.Route("/api", func(api chi.Router) {
			if cfg.RateLimitRPS > 0 {
				api.Use(httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, nil))
			}
			api.Post("/receive_input", cfg.ScreeningHandler.ReceiveInput)
			if cfg.ExposeSessions {
				api.Get("/sessions/{sessionID}", cfg.ScreeningHandler.GetSession)
			}
		})
	}

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]string{"status": "degraded", "error": err.Error()}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
