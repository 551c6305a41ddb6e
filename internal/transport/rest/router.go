package rest

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/repairshop/internal/auth"
	"github.com/frahmantamala/repairshop/internal/obs"
	"github.com/frahmantamala/repairshop/internal/transport/middleware"
	"github.com/frahmantamala/repairshop/internal/transport/swagger"
	"github.com/frahmantamala/repairshop/pkg/logger"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
)

// Options are the pieces RegisterAllRoutes wires together. Metrics and
// Limiter are optional. AllowLocalOrigins admits localhost origins to CORS.
type Options struct {
	DB                Pinger
	AuthHandler       *auth.Handler
	Metrics           *obs.Metrics
	Limiter           *middleware.RateLimiter
	MaxBodyBytes      int64
	AllowedOrigins    []string
	AllowLocalOrigins bool
	Logger            *slog.Logger
}

func RegisterAllRoutes(router *chi.Mux, opts Options) {
	lg := opts.Logger
	if lg == nil {
		lg = logger.LoggerWrapper()
	}
	healthHandler := NewHealthHandler(opts.DB)

	// Apply global middleware
	router.Use(middleware.RequestID)
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(lg))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Instrument)
	}
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.CORS(opts.AllowLocalOrigins, opts.AllowedOrigins...))

	router.Get("/health", healthHandler.healthCheckHandler)
	router.Get("/ping", healthHandler.pingHandler)

	if opts.Metrics != nil {
		router.Handle("/metrics", opts.Metrics.Handler())
	}

	router.Handle(swagger.SpecPath, swagger.SpecHandler())
	router.Handle("/swagger/*", swagger.Handler())

	if opts.AuthHandler != nil {
		var throttle func(http.Handler) http.Handler
		if opts.Limiter != nil {
			throttle = opts.Limiter.Middleware
		}
		router.Route("/auth", func(sr chi.Router) {
			sr.Use(middleware.MaxBodyBytes(opts.MaxBodyBytes))
			sr.Use(middleware.LoggingMiddleware(lg))
			opts.AuthHandler.Mount(sr, throttle)
		})
	}
}

func loggerFrom(r *http.Request) *slog.Logger {
	return logger.From(r.Context())
}
