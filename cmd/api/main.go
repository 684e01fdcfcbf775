package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"diagnostics-proxy/internal/access"
	"diagnostics-proxy/internal/audit"
	"diagnostics-proxy/internal/auth"
	"diagnostics-proxy/internal/config"
	"diagnostics-proxy/internal/hostapi"
	"diagnostics-proxy/internal/httpapi"
	"diagnostics-proxy/internal/loki"
	"diagnostics-proxy/internal/persistence"
	"diagnostics-proxy/internal/pipeline"
	"diagnostics-proxy/internal/ratelimit"
	"diagnostics-proxy/internal/settings"
	"diagnostics-proxy/internal/views"
	"diagnostics-proxy/pkg/logger"
	"diagnostics-proxy/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var db *sql.DB
	if cfg.Persistence.Backend == config.BackendPostgres {
		db, err = utils.OpenPostgres(rootCtx, cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	store, err := openStore(rootCtx, cfg, rdb, db)
	if err != nil {
		log.Error("persistence init failed", "backend", cfg.Persistence.Backend, "err", err)
		os.Exit(1)
	}
	log.Info("persistence ready", "backend", cfg.Persistence.Backend)

	var settingsSource settings.Source = settings.Environ()
	if cfg.Settings.Source == config.SettingsFromRedis {
		// Env values seed defaults; the Redis hash overrides them at runtime.
		settingsSource = settings.Layered{settings.Environ(), settings.NewRedisHash(rdb, cfg.Settings.RedisKey)}
	}

	host := hostapi.New()
	auditLog := audit.NewLog(store)

	var opts []pipeline.Option
	if rdb != nil {
		opts = append(opts, pipeline.WithSlots(pipeline.NewRedisSlots(rdb)))
	}
	p := pipeline.New(
		settingsSource,
		access.NewEvaluator(host, log),
		ratelimit.New(store),
		auditLog,
		log,
		opts...,
	)

	h := httpapi.Handlers{
		Pipeline: p,
		Logs: loki.New(loki.Config{
			BaseURL:  cfg.Loki.URL,
			TenantID: cfg.Loki.TenantID,
			Username: cfg.Loki.Username,
			Password: cfg.Loki.Password,
		}, nil),
		Host:  host,
		Audit: auditLog,
		Views: views.NewStore(store),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), readiness(rdb, db))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client, db *sql.DB) (persistence.Store, error) {
	switch cfg.Persistence.Backend {
	case config.BackendRedis:
		return persistence.NewRedis(rdb), nil
	case config.BackendPostgres:
		pg := persistence.NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return persistence.NewMemory(), nil
	}
}

// readiness checks the backing stores that are configured.
func readiness(rdb *redis.Client, db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		if rdb != nil {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return err
			}
		}
		if db != nil {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
		}
		return nil
	}
}
