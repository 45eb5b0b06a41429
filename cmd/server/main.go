package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/stockimport/internal/config"
	"github.com/JonMunkholm/stockimport/internal/core"
	_ "github.com/JonMunkholm/stockimport/internal/core/datasets" // Register all datasets
	"github.com/JonMunkholm/stockimport/internal/logging"
	"github.com/JonMunkholm/stockimport/internal/notify"
	"github.com/JonMunkholm/stockimport/internal/storage/objectstore"
	"github.com/JonMunkholm/stockimport/internal/storage/postgres"
	"github.com/JonMunkholm/stockimport/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Logging.LogstashAddr != "" {
		mirror, err := logging.SetupWithLogstash(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.LogstashAddr)
		if err != nil {
			return err
		}
		defer func() { _ = mirror.Close() }()
	} else {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	}

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"sync_threshold", cfg.Import.SyncThreshold,
		"max_concurrent", cfg.Import.MaxConcurrent,
		"archive_enabled", cfg.Storage.Enabled(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return err
		}
	}

	deps := core.Dependencies{
		Writer:   postgres.NewRowWriter(pool),
		History:  postgres.NewJobHistory(pool),
		Notifier: notify.New(cfg.Notify),
	}
	if cfg.Storage.Enabled() {
		store, err := objectstore.New(cfg.Storage)
		if err != nil {
			return err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return err
		}
		deps.Files = store
		slog.Info("source archive enabled", "bucket", store.Bucket())
	}

	// The pool context outlives the signal so running jobs can drain.
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()

	service := core.NewService(poolCtx, cfg, deps)
	slog.Info("datasets registered", "count", core.DatasetCount())

	server := web.NewServer(service, cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		service.StartSweeper(gctx, cfg.Import.GCInterval)
		return nil
	})
	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Drain imports before closing HTTP so followers see the terminal
		// events of jobs that finish during shutdown.
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("import jobs did not finish in time", "error", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// connect opens the pgx pool with the configured limits and verifies it.
func connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
