package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/caridad-org/console/internal/backend"
	"github.com/caridad-org/console/internal/console"
	"github.com/caridad-org/console/internal/observability"
	"github.com/caridad-org/console/internal/rbac"
	"github.com/caridad-org/console/internal/session"
	"github.com/caridad-org/console/internal/shared"
	"github.com/caridad-org/console/internal/tokenstore"
	"github.com/caridad-org/console/internal/transport"
)

// Runtime holds the long-lived console services, created once at startup.
type Runtime struct {
	Config   *Config
	Logger   *slog.Logger
	Tokens   tokenstore.Store
	Backend  *backend.Client
	Sessions *session.Manager
	Location *transport.Location
	Routes   *rbac.RouteTable
	Metrics  *observability.Metrics
	Handler  http.Handler

	closers []func() error
}

// NewRuntime wires the console services described by cfg.
func NewRuntime(ctx context.Context, cfg *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = NewLogger(cfg)
	}
	rt := &Runtime{Config: cfg, Logger: logger, Metrics: observability.NewMetrics()}

	tokens, err := rt.openTokenStore(ctx)
	if err != nil {
		return nil, err
	}
	rt.Tokens = tokens

	routes := rbac.DefaultRoutes()
	if cfg.RoutesFile != "" {
		routes, err = rbac.LoadRoutes(cfg.RoutesFile)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
	}
	rt.Routes = routes

	httpClient := &http.Client{Timeout: cfg.BackendTimeout}
	rt.Backend = backend.NewClient(cfg.BackendURL, httpClient)
	rt.Sessions = session.NewManager(rt.Backend, tokens, session.Options{
		Logger:   logger.With(slog.String("component", "session")),
		Observer: rt.Metrics,
	})
	rt.Location = transport.NewLocation(shared.PathWelcome)
	httpClient.Transport = transport.New(transport.Config{
		Tokens:    tokens,
		Session:   rt.Sessions,
		Navigator: rt.Location,
		Recorder:  rt.Metrics,
		Logger:    logger.With(slog.String("component", "transport")),
	})

	guard := rbac.Middleware{Source: rt.Sessions, Routes: routes, Logger: logger}
	handler := console.NewHandler(logger, rt.Sessions, rt.Backend, routes, rt.Location, guard)
	rt.Handler = NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		ConsoleHandler: handler,
		Backend:        rt.Backend,
		Metrics:        rt.Metrics,
	})
	return rt, nil
}

func (rt *Runtime) openTokenStore(ctx context.Context) (tokenstore.Store, error) {
	switch rt.Config.TokenStore {
	case TokenStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: rt.Config.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("app: redis ping: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		return tokenstore.NewRedisStore(client, rt.Config.RedisTokenPrefix), nil
	default:
		return tokenstore.NewFileStore(rt.Config.TokenFile), nil
	}
}

// Restore rebuilds a session persisted by a previous run. Failures are
// logged; the console then starts logged out.
func (rt *Runtime) Restore(ctx context.Context) {
	if err := rt.Sessions.Restore(ctx); err != nil {
		rt.Logger.Warn("session restore", slog.Any("error", err))
	}
}

// Close releases resources opened by NewRuntime.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
