// Package app wires configuration, storage, the auth service and the HTTP
// server together.  Every cmd/server subcommand starts from Open.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"github.com/iliyamo/fiifi-auth/internal/auth"
	"github.com/iliyamo/fiifi-auth/internal/config"
	"github.com/iliyamo/fiifi-auth/internal/database"
	"github.com/iliyamo/fiifi-auth/internal/handler"
	"github.com/iliyamo/fiifi-auth/internal/metrics"
	"github.com/iliyamo/fiifi-auth/internal/middleware"
	"github.com/iliyamo/fiifi-auth/internal/queue"
	"github.com/iliyamo/fiifi-auth/internal/repository"
	"github.com/iliyamo/fiifi-auth/internal/router"
	"github.com/iliyamo/fiifi-auth/internal/utils"
)

const shutdownTimeout = 10 * time.Second

// App holds the long-lived components of one process.
type App struct {
	Cfg      config.Config
	Log      *slog.Logger
	DB       *sql.DB
	Users    *repository.UserRepo
	Sessions *repository.SessionRepo
	Service  *auth.Service
	Metrics  *metrics.Metrics
	Events   *queue.Publisher // nil when RABBITMQ_URL is empty
	Redis    *redis.Client    // set by Server; nil when rate limiting is off
	Started  time.Time
}

// Open connects to the database, applies the schema when AUTO_MIGRATE is
// set and builds the auth service.  The caller owns Close.
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := database.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
			return nil, multierr.Append(fmt.Errorf("migrate: %w", err), db.Close())
		}
	}

	tokens, err := auth.NewTokenService(cfg.TokenConfig(), time.Now)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}

	a := &App{
		Cfg:      cfg,
		Log:      log,
		DB:       db,
		Users:    repository.NewUserRepo(db),
		Sessions: repository.NewSessionRepo(db, time.Now),
		Metrics:  metrics.New(),
		Started:  time.Now(),
	}

	deps := auth.Dependencies{
		Users:    a.Users,
		Sessions: a.Sessions,
		Tokens:   tokens,
		Hasher:   utils.NewHasher(cfg.BcryptCost),
		Metrics:  a.Metrics,
		Logger:   log,
	}
	if cfg.RabbitURL != "" {
		a.Events = queue.NewPublisher(cfg.RabbitURL, log)
		deps.Events = a.Events
	} else {
		log.Info("RABBITMQ_URL not set; auth events are not published")
	}
	a.Service = auth.NewService(deps)
	return a, nil
}

// Server builds the echo instance with every route registered.  Redis is
// connected here because only the HTTP surface rate-limits.
func (a *App) Server() (*echo.Echo, error) {
	rl, err := config.LoadRateLimitConfig()
	if err != nil {
		return nil, err
	}
	var limiter echo.MiddlewareFunc
	if rl.Enabled {
		rcfg, err := config.LoadRedisConfig()
		if err != nil {
			return nil, err
		}
		a.Redis = config.NewRedisClient(rcfg)
		if a.Redis == nil {
			a.Log.Warn("redis unreachable; rate limiting disabled", "addr", rcfg.Addr)
		} else {
			limiter = middleware.NewTokenBucket(rl, a.Redis)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestMetrics(a.Metrics))
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			a.Log.LogAttrs(c.Request().Context(), level, "http request",
				slog.String("method", v.Method),
				slog.String("path", v.URIPath),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.Any("error", v.Error),
			)
			return nil
		},
	}))

	router.RegisterRoutes(e, handler.NewHealthHandler(a.Started), a.Metrics.Handler())
	router.RegisterAuth(e, handler.NewAuthHandler(a.Service, a.Cfg.RequestTimeout, a.Log), limiter)
	return e, nil
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	e, err := a.Server()
	if err != nil {
		return err
	}
	addr := ":" + a.Cfg.Port

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("listening", "addr", addr, "env", a.Cfg.Env, "db_driver", a.Cfg.DBDriver)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Log.Info("shutting down")
	return e.Shutdown(sctx)
}

// Sweep deletes sessions whose expiry has passed.  Session validity never
// depends on it; it only reclaims storage.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	n, err := a.Sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	a.Metrics.AddSwept(n)
	a.Log.InfoContext(ctx, "expired sessions swept", "operation", "sweep", "outcome", "success", "count", n)
	return n, nil
}

// Close releases every connection the App opened.
func (a *App) Close() error {
	var err error
	if a.Events != nil {
		err = multierr.Append(err, a.Events.Close())
	}
	if a.Redis != nil {
		err = multierr.Append(err, a.Redis.Close())
	}
	if a.DB != nil {
		err = multierr.Append(err, a.DB.Close())
	}
	return err
}
