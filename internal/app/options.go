package service

import (
	"time"

	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDataDir sets the directory of the progression and config documents.
func WithDataDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.dataDir = dir
		}
	}
}

// WithBackupDir sets the snapshot directory. Defaults to <data dir>/backups.
func WithBackupDir(dir string) Option {
	return func(s *Service) {
		s.backupDir = dir
	}
}

// WithEconomyDB enables the economy store backed by the SQLite file at path.
func WithEconomyDB(path string) Option {
	return func(s *Service) {
		s.economyDB = path
	}
}

// WithPlatform enables role awards and notifications through the bridge at url.
func WithPlatform(url string, timeout time.Duration) Option {
	return func(s *Service) {
		s.platformURL = url
		if timeout > 0 {
			s.platformTimeout = timeout
		}
	}
}

// WithProgressionDefaults sets the settings used until a config document exists.
func WithProgressionDefaults(settings progression.Settings) Option {
	return func(s *Service) {
		s.defaults = settings.Clone()
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the event queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithBackupRetention sets how many snapshots are kept.
func WithBackupRetention(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.retention = n
		}
	}
}

// WithAutoBackupInterval sets the snapshot period; zero disables auto backups.
func WithAutoBackupInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.autoBackup = d
		}
	}
}

// WithSyncTolerance sets the XP difference still considered in sync.
func WithSyncTolerance(t int64) Option {
	return func(s *Service) {
		if t >= 0 {
			s.tolerance = t
		}
	}
}

// WithMaxLeaderboardLimit caps GET /leaderboard?limit.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLeaderboard = n
		}
	}
}

// WithClock sets the time source of every timed component.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
