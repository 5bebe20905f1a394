// Package service wires the progression components into one process and
// exposes them to the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/okian/levelup/internal/adapters/economy"
	"github.com/okian/levelup/internal/adapters/http/api"
	"github.com/okian/levelup/internal/adapters/kvstore"
	eventqueue "github.com/okian/levelup/internal/adapters/mq/queue"
	workerpool "github.com/okian/levelup/internal/adapters/mq/worker"
	"github.com/okian/levelup/internal/adapters/platform"
	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/backup"
	"github.com/okian/levelup/internal/domain/dedupe"
	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
	"github.com/okian/levelup/internal/domain/reward"
	"github.com/okian/levelup/internal/domain/voice"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
	"github.com/okian/levelup/pkg/metrics"
)

const stopTimeout = 30 * time.Second

// Service owns every component of the progression engine.
type Service struct {
	mu sync.RWMutex

	// Configuration
	dataDir         string
	backupDir       string
	economyDB       string
	platformURL     string
	platformTimeout time.Duration
	defaults        progression.Settings
	workerCount     int
	queueSize       int
	dedupeSize      int
	retention       int
	autoBackup      time.Duration
	tolerance       int64
	maxLeaderboard  int
	clock           clock.Clock

	// Components
	store      *repository.ProgressionStore
	economy    *economy.SQLiteStore
	platform   *platform.Client
	engine     *grant.Engine
	dispatcher *reward.Dispatcher
	voice      *voice.Scheduler
	reconciler *reconcile.Reconciler
	backups    *backup.Manager
	deduper    dedupe.Deduper
	queue      *eventqueue.InMemoryQueue
	pool       *workerpool.Pool

	// State
	started    bool
	cancel     context.CancelFunc
	background sync.WaitGroup

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		dataDir:         "data",
		platformTimeout: 5 * time.Second,
		defaults:        progression.DefaultSettings(),
		workerCount:     runtime.NumCPU(),
		queueSize:       10_000,
		dedupeSize:      100_000,
		retention:       backup.DefaultRetention,
		tolerance:       reconcile.DefaultTolerance,
		maxLeaderboard:  100,
		clock:           clock.Real(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the stores, builds the components and starts the workers
// and the auto backup loop. The background work outlives ctx until Stop.
func (s *Service) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting levelup service...", logger.String("dataDir", s.dataDir))

	defer func() {
		if err != nil {
			s.closeStores(ctx)
		}
	}()

	kv, err := kvstore.NewFileStore(s.dataDir)
	if err != nil {
		return fmt.Errorf("open data dir: %w", err)
	}
	backupDir := s.backupDir
	if backupDir == "" {
		backupDir = filepath.Join(s.dataDir, "backups")
	}
	snapshots, err := kvstore.NewFileStore(backupDir)
	if err != nil {
		return fmt.Errorf("open backup dir: %w", err)
	}

	s.store, err = repository.Open(ctx, kv, repository.WithDefaultSettings(s.defaults))
	if err != nil {
		return fmt.Errorf("open progression store: %w", err)
	}

	if s.economyDB != "" {
		if s.economy, err = economy.Open(ctx, s.economyDB); err != nil {
			return fmt.Errorf("open economy store: %w", err)
		}
	}

	if s.platformURL != "" {
		if s.platform, err = platform.NewClient(s.platformURL, platform.WithTimeout(s.platformTimeout)); err != nil {
			return fmt.Errorf("platform bridge: %w", err)
		}
		s.dispatcher = reward.NewDispatcher(s.platform, s.platform, reward.WithRenderer(s.platform))
	} else {
		s.dispatcher = reward.NewDispatcher(nil, nil)
		s.logger.Warn(ctx, "no platform bridge configured; role rewards and notifications are skipped")
	}

	s.engine = grant.NewEngine(s.store, grant.WithClock(s.clock), grant.WithLevelUpHandler(s.dispatcher))
	s.voice = voice.NewScheduler(s.engine, s.store, voice.WithClock(s.clock))

	backupOpts := []backup.Option{backup.WithRetention(s.retention), backup.WithClock(s.clock)}
	if s.economy != nil {
		s.reconciler = reconcile.New(s.store, s.economy,
			reconcile.WithTolerance(s.tolerance),
			reconcile.WithClock(s.clock),
		)
		backupOpts = append(backupOpts, backup.WithEconomy(s.economy), backup.WithStatusChecker(s.reconciler))
	}
	s.backups = backup.NewManager(s.store, snapshots, backupOpts...)
	if s.reconciler != nil {
		s.reconciler.SetCheckpointer(s.backups)
	}

	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine, s.voice)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	if s.autoBackup > 0 {
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			if err := s.backups.ScheduleAutoBackups(runCtx, s.autoBackup); err != nil {
				s.logger.Error(runCtx, "auto backups stopped", logger.Error(err))
			}
		}()
	}

	s.started = true
	s.logger.Info(ctx, "levelup service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("records", s.store.Count()),
		logger.Bool("economy", s.economy != nil),
		logger.Bool("platform", s.platform != nil),
		logger.Duration("autoBackup", s.autoBackup),
	)
	return nil
}

// Stop cancels voice timers, drains queued events, waits for pending
// level-up notifications and closes the economy store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping levelup service...")

	s.voice.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	if err := s.pool.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
	}

	s.cancel()
	s.background.Wait()
	s.engine.Wait()
	s.closeStores(ctx)

	s.started = false
	s.logger.Info(ctx, "levelup service stopped")
}

func (s *Service) closeStores(ctx context.Context) {
	if s.economy == nil {
		return
	}
	if err := s.economy.Close(); err != nil {
		s.logger.Error(ctx, "close economy store", logger.Error(err))
	}
	s.economy = nil
}

// Dependencies returns the components the HTTP API serves.
func (s *Service) Dependencies() (api.Dependencies, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return api.Dependencies{}, errors.New("service not started")
	}
	deps := api.Dependencies{
		Deduper:             s.deduper,
		Queue:               s.queue,
		Progress:            s.engine,
		Board:               s.store,
		Backups:             s.backups,
		Stats:               s,
		MaxLeaderboardLimit: s.maxLeaderboard,
	}
	if s.reconciler != nil {
		deps.Sync = s.reconciler
	}
	return deps, nil
}

// Store returns the progression store.
func (s *Service) Store() *repository.ProgressionStore { return s.store }

// Engine returns the grant engine.
func (s *Service) Engine() *grant.Engine { return s.engine }

// Voice returns the voice scheduler.
func (s *Service) Voice() *voice.Scheduler { return s.voice }

// Backups returns the backup manager.
func (s *Service) Backups() *backup.Manager { return s.backups }

// Reconciler returns the reconciler, or nil without an economy store.
func (s *Service) Reconciler() *reconcile.Reconciler { return s.reconciler }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}

	queueLen := s.queue.Len(context.Background())
	records := s.store.Count()
	sessions := len(s.voice.Active())

	stats["queueLength"] = queueLen
	stats["trackedUsers"] = records
	stats["voiceSessions"] = sessions
	stats["dedupeEntries"] = s.deduper.Size()
	stats["economyEnabled"] = s.economy != nil
	stats["platformEnabled"] = s.platform != nil

	metrics.UpdateQueueSize(queueLen)
	metrics.UpdateTrackedUsers(records)
	metrics.UpdateVoiceSessions(sessions)
	return stats
}
