package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david/grant-enhancer/internal/api"
	"github.com/david/grant-enhancer/internal/auth"
	"github.com/david/grant-enhancer/internal/config"
	"github.com/david/grant-enhancer/internal/db"
	"github.com/david/grant-enhancer/internal/enhance"
	"github.com/david/grant-enhancer/internal/jobs"
	"github.com/david/grant-enhancer/internal/probe"
	"go.uber.org/zap"
)

func main() {
	// Until the configured logger is built.
	if bootstrap, err := zap.NewProduction(); err == nil {
		zap.ReplaceGlobals(bootstrap)
	}

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("load config", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		zap.L().Fatal("validate config", zap.Error(err))
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		zap.L().Fatal("init logger", zap.Error(err))
	}
	defer func() { _ = zap.L().Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		zap.L().Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		zap.L().Fatal("migration failed", zap.Error(err))
	}

	prober := probe.New(probe.Options{
		Timeout:      cfg.Monitor.Timeout(),
		RateLimitRPS: cfg.Monitor.RateLimitRPS,
		MaxBodyBytes: cfg.Monitor.MaxBodyBytes,
	})
	pipeline, err := enhance.NewPipeline(cfg.Pipeline(), prober)
	if err != nil {
		zap.L().Fatal("build pipeline", zap.Error(err))
	}
	runner := jobs.NewRunner(db.NewStore(pool), pipeline, cfg.Monitor.StaleAfter())

	admin, err := auth.NewAdmin(auth.Credentials{
		Secret:     cfg.Admin.Secret,
		SecretHash: cfg.Admin.SecretHash,
		JWTSecret:  cfg.Admin.JWTSecret,
	})
	if err != nil {
		zap.L().Fatal("admin credentials", zap.Error(err))
	}

	srv := api.NewServer(runner, admin, api.Options{
		CORSOrigins:  cfg.Server.CORSOrigins,
		MatchLimit:   cfg.Match.Limit,
		MonitorLimit: cfg.Monitor.BatchLimit,
	})

	go func() {
		zap.L().Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Echo.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("shutdown", zap.Error(err))
	}
}
