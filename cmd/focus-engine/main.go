package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/terra-clan/focus-engine/internal/api"
	"github.com/terra-clan/focus-engine/internal/auth"
	"github.com/terra-clan/focus-engine/internal/award"
	"github.com/terra-clan/focus-engine/internal/cache"
	"github.com/terra-clan/focus-engine/internal/cleanup"
	"github.com/terra-clan/focus-engine/internal/config"
	"github.com/terra-clan/focus-engine/internal/health"
	"github.com/terra-clan/focus-engine/internal/levels"
	"github.com/terra-clan/focus-engine/internal/storage"
	"github.com/terra-clan/focus-engine/internal/stream"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting focus-engine",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
	)

	table := levels.Default()
	if cfg.Levels.File != "" {
		table, err = levels.Load(cfg.Levels.File)
		if err != nil {
			slog.Error("failed to load level table", "file", cfg.Levels.File, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("level table loaded", "version", table.Version(), "max_level", table.MaxLevel())

	// Create context for initialization
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	repo, err := openRepository(initCtx, cfg.Database)
	if err != nil {
		slog.Error("failed to create database repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("database connected successfully")

	registry := health.NewRegistry()
	registry.Register("database", health.CheckerFunc(repo.Ping))

	serviceOpts := []award.Option{}

	if cfg.Redis.Address != "" {
		profileCache, err := cache.NewRedisProfileCache(initCtx, cache.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.ProfileTTL,
		})
		if err != nil {
			slog.Error("failed to create profile cache", "error", err)
			os.Exit(1)
		}
		defer profileCache.Close()
		registry.Register("redis", profileCache)
		serviceOpts = append(serviceOpts, award.WithCache(profileCache))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var hub *stream.Hub
	if cfg.Stream.Enabled {
		hub = stream.NewHub()
		var publisher stream.Publisher = hub

		if cfg.Database.Driver == "postgres" {
			bridge, err := stream.NewPGBridge(cfg.Database.DSN, hub)
			if err != nil {
				slog.Error("failed to create profile bridge", "error", err)
				os.Exit(1)
			}
			defer bridge.Close()
			if err := bridge.Start(ctx); err != nil {
				slog.Error("failed to start profile bridge", "error", err)
				os.Exit(1)
			}
			registry.Register("stream", bridge)
			publisher = bridge
		}
		serviceOpts = append(serviceOpts, award.WithPublisher(publisher))
	}

	verifier, err := newVerifier(initCtx, cfg.Auth)
	if err != nil {
		slog.Error("failed to create token verifier", "error", err)
		os.Exit(1)
	}

	awards := award.NewService(repo, award.NewEngine(table), serviceOpts...)

	// Start cleanup worker
	cleaner := cleanup.NewCleaner(repo, cfg.Cleanup.Interval, cfg.Cleanup.AwardRetention)
	cleaner.Start(ctx)

	deps := api.Deps{
		Awards:   awards,
		Levels:   table,
		Verifier: verifier,
		Health:   registry,
		Hub:      hub,
	}
	if cfg.Auth.ProvisionProfiles {
		deps.Provisioner = repo
	}

	// Setup HTTP server
	server := api.NewServer(cfg.Server, deps)
	httpServer := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     server.Router(),
		ReadTimeout: 15 * time.Second,
		// The profile stream holds connections open; per-request limits come from the router
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("HTTP server starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gracefully...")

	// Cancel context to stop background workers
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("focus-engine stopped")
}

func openRepository(ctx context.Context, cfg config.DatabaseConfig) (storage.Repository, error) {
	switch cfg.Driver {
	case "sqlite":
		slog.Info("opening sqlite database", "path", cfg.SQLitePath)
		return storage.NewSQLiteRepository(ctx, cfg.SQLitePath)
	default:
		migrations, err := storage.Migrations(cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load migrations: %w", err)
		}

		slog.Info("running database migrations", "dir", cfg.MigrationsDir)
		if err := storage.MigrateFromDSN(ctx, cfg.DSN, migrations); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		return storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:          cfg.DSN,
			MaxOpenConns: int32(cfg.MaxOpenConns),
			MaxIdleConns: int32(cfg.MaxIdleConns),
		})
	}
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (auth.TokenVerifier, error) {
	if cfg.DevMode {
		slog.Warn("auth dev mode enabled: bearer tokens are trusted as user ids")
		return auth.StaticVerifier{}, nil
	}
	return auth.NewOIDCVerifier(ctx, auth.OIDCConfig{
		Issuer:   cfg.Issuer,
		JWKSURL:  cfg.JWKSURL,
		Audience: cfg.Audience,
	})
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
