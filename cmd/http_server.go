package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/repairshop/internal"
	"github.com/frahmantamala/repairshop/internal/app"
	"github.com/frahmantamala/repairshop/internal/auth"
	authpg "github.com/frahmantamala/repairshop/internal/auth/postgres"
	"github.com/frahmantamala/repairshop/internal/core/events"
	"github.com/frahmantamala/repairshop/internal/database"
	"github.com/frahmantamala/repairshop/internal/obs"
	"github.com/frahmantamala/repairshop/internal/session"
	"github.com/frahmantamala/repairshop/internal/transport"
	"github.com/frahmantamala/repairshop/internal/transport/middleware"
	"github.com/frahmantamala/repairshop/internal/transport/rest"
	"github.com/frahmantamala/repairshop/pkg/logger"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "none"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server exposing the auth endpoints, health checks and metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer(cmd.Context())
	},
}

// Dependencies is what the boot modules build, in order.
type Dependencies struct {
	Config   *internal.Config
	DB       *database.Connection
	Router   *chi.Mux
	Sessions *session.Manager
	Store    expiringStore
	Limiter  *middleware.RateLimiter
	Metrics  *obs.Metrics
	Logger   *slog.Logger
}

type expiringStore interface {
	session.Store
	DeleteExpired(ctx context.Context) (int64, error)
}

func startHTTPServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := bootstrap()
	if err != nil {
		return err
	}

	deps := &Dependencies{Config: cfg, Router: chi.NewRouter(), Logger: logger.LoggerWrapper()}
	modules := app.NewRegistry(deps.Logger)
	if err := modules.Register(
		app.ModuleFunc{ModuleName: "database", Fn: deps.bootDatabase},
		app.ModuleFunc{ModuleName: "auth", Fn: deps.bootAuth},
	); err != nil {
		return err
	}
	if err := modules.BootAll(ctx); err != nil {
		if deps.DB != nil {
			_ = deps.DB.Close()
		}
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.DB.Close(); err != nil {
			deps.Logger.Error("Database close error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go deps.collectSessions(ctx, 15*time.Minute)
	go deps.Limiter.Run(ctx, time.Minute)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		deps.Logger.Info("Starting HTTP server", "address", addr)
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		deps.Logger.Info("Shutting down...")
		shutdownCtx, cancel := internal.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	deps.Logger.Info("Server stopped")
	return nil
}

func (d *Dependencies) bootDatabase(ctx context.Context) error {
	conn, err := openDatabase(ctx, d.Config)
	if err != nil {
		return err
	}
	d.DB = conn
	return nil
}

func (d *Dependencies) bootAuth(ctx context.Context) error {
	cfg := d.Config

	repo, err := authpg.NewRepository(d.DB.ORM)
	if err != nil {
		return err
	}

	switch cfg.Security.SessionStore {
	case "memory":
		d.Store = session.NewMemoryStore(nil)
	default:
		d.Store = session.NewSQLStore(d.DB.ORM, nil)
	}
	d.Sessions = session.NewManager(d.Store,
		session.WithTTL(cfg.Security.SessionTTL),
		session.WithLogger(d.Logger))

	bus := events.NewEventBus(d.Logger)
	bus.Subscribe(events.AllEvents, events.AuditLogHandler(d.Logger))
	if cfg.Observability.Metrics.Enabled {
		d.Metrics = obs.NewMetrics()
		d.Metrics.SetBuildInfo(buildVersion, buildCommit)
		bus.Subscribe(events.AllEvents, d.Metrics.AuthEventHandler())
	}

	secret, _ := cfg.Security.TokenSecret()
	deps := auth.Dependencies{
		Repo:       repo,
		Tokens:     auth.NewTokenCodec(secret, auth.WithTokenTTL(cfg.Security.TokenTTL)),
		Events:     bus,
		Logger:     d.Logger,
		BCryptCost: cfg.Security.BCryptCost,
		CSRFTTL:    cfg.Security.CSRFTTL,
	}

	base := transport.NewBaseHandler(d.Logger)
	d.Limiter = middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst, base).
		TrustProxyHeaders(cfg.Server.TrustProxyHeaders)

	rest.RegisterAllRoutes(d.Router, rest.Options{
		DB:                d.DB.SQL,
		AuthHandler:       auth.NewHandler(base, deps, d.Sessions),
		Metrics:           d.Metrics,
		Limiter:           d.Limiter,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		AllowLocalOrigins: !cfg.IsProduction(),
		Logger:            d.Logger,
	})
	return nil
}

func (d *Dependencies) collectSessions(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := d.Store.DeleteExpired(ctx)
			if err != nil {
				d.Logger.WarnContext(ctx, "session cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				d.Logger.DebugContext(ctx, "expired sessions removed", "count", n)
			}
		}
	}
}
