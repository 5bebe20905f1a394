package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/levelup/internal/adapters/http/api"
	"github.com/okian/levelup/internal/adapters/http/swagger"
	app "github.com/okian/levelup/internal/app"
	"github.com/okian/levelup/internal/config"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout            = 10 * time.Second
	writeTimeout           = 30 * time.Second
	idleTimeout            = 60 * time.Second
	readHeaderTimeout      = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	systemMetricsInterval  = 10 * time.Second
	serviceMetricsInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "levelup:", err)
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := newService(cfg, log)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	mux, err := newMux(ctx, svc)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(gctx, "shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runTicker(gctx, systemMetricsInterval, updateSystemMetrics)
		return nil
	})
	g.Go(func() error {
		runTicker(gctx, serviceMetricsInterval, func() { svc.GetStats() })
		return nil
	})

	err = g.Wait()
	log.Info(ctx, "server stopped")
	return err
}

func newService(cfg *config.Config, log logger.Logger) *app.Service {
	return app.New(
		app.WithLogger(log.Named("service")),
		app.WithDataDir(cfg.DataDir),
		app.WithBackupDir(cfg.BackupDir),
		app.WithEconomyDB(cfg.EconomyDB),
		app.WithPlatform(cfg.PlatformURL, cfg.PlatformTimeout()),
		app.WithProgressionDefaults(cfg.Progression()),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.EventQueueSize),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithBackupRetention(cfg.BackupRetention),
		app.WithAutoBackupInterval(cfg.AutoBackupInterval()),
		app.WithSyncTolerance(cfg.SyncTolerance),
		app.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
	)
}

func newMux(ctx context.Context, svc *app.Service) (*http.ServeMux, error) {
	deps, err := svc.Dependencies()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(deps).Register(ctx, mux)
	return mux, nil
}

// runTicker calls fn every interval until ctx ends.
func runTicker(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}
