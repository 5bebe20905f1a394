// Package config defines service configuration structures and loading hooks.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/okian/levelup/internal/domain/progression"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DataDir holds the progression and config documents.
	DataDir string `koanf:"data_dir"`

	// BackupDir holds snapshots. Empty means <data_dir>/backups.
	BackupDir string `koanf:"backup_dir"`

	// EconomyDB is the SQLite file of the economy store. Empty disables
	// reconciliation and economy extracts in backups.
	EconomyDB string `koanf:"economy_db"`

	// EventQueueSize bounds the in-memory event queue.
	EventQueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of event workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the message id de-duplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	BackupRetention      int   `koanf:"backup_retention"`
	AutoBackupIntervalMS int64 `koanf:"auto_backup_interval_ms"`
	SyncTolerance        int64 `koanf:"sync_tolerance"`

	// PlatformURL is the chat platform bridge. Empty disables role awards
	// and notifications.
	PlatformURL       string `koanf:"platform_url"`
	PlatformTimeoutMS int    `koanf:"platform_timeout_ms"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// Default progression config, used until a config document is saved.
	TextXPMin           int64   `koanf:"text_xp_min"`
	TextXPMax           int64   `koanf:"text_xp_max"`
	TextCooldownMS      int64   `koanf:"text_cooldown_ms"`
	VoiceXPPerTick      int64   `koanf:"voice_xp_per_tick"`
	VoiceTickIntervalMS int64   `koanf:"voice_tick_interval_ms"`
	LevelBaseXP         float64 `koanf:"level_base_xp"`
	LevelMultiplier     float64 `koanf:"level_multiplier"`
}

// New creates a Config holding the defaults.
func New() *Config {
	def := progression.DefaultConfig()
	return &Config{
		LogLevel:             "info",
		LogFormat:            "text",
		Addr:                 ":9080",
		DataDir:              "data",
		EventQueueSize:       10_000,
		WorkerCount:          runtime.NumCPU(),
		DedupeSize:           100_000,
		BackupRetention:      10,
		AutoBackupIntervalMS: int64(6 * time.Hour / time.Millisecond),
		SyncTolerance:        10,
		PlatformTimeoutMS:    5_000,
		MaxLeaderboardLimit:  100,
		TextXPMin:            def.TextXP.Min,
		TextXPMax:            def.TextXP.Max,
		TextCooldownMS:       def.TextXP.CooldownMs,
		VoiceXPPerTick:       def.VoiceXP.AmountPerTick,
		VoiceTickIntervalMS:  def.VoiceXP.TickIntervalMs,
		LevelBaseXP:          def.LevelFormula.BaseXP,
		LevelMultiplier:      def.LevelFormula.Multiplier,
	}
}

// Progression returns the default progression settings described by c.
func (c *Config) Progression() progression.Settings {
	s := progression.DefaultSettings()
	s.Default.TextXP = progression.TextXP{Min: c.TextXPMin, Max: c.TextXPMax, CooldownMs: c.TextCooldownMS}
	s.Default.VoiceXP = progression.VoiceXP{AmountPerTick: c.VoiceXPPerTick, TickIntervalMs: c.VoiceTickIntervalMS}
	s.Default.LevelFormula = progression.Formula{BaseXP: c.LevelBaseXP, Multiplier: c.LevelMultiplier}
	return s
}

// AutoBackupInterval returns the snapshot period; zero disables auto backups.
func (c *Config) AutoBackupInterval() time.Duration {
	return time.Duration(c.AutoBackupIntervalMS) * time.Millisecond
}

// PlatformTimeout bounds each bridge request.
func (c *Config) PlatformTimeout() time.Duration {
	return time.Duration(c.PlatformTimeoutMS) * time.Millisecond
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DataDir == "":
		return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.EventQueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.BackupRetention < 1:
		return fmt.Errorf("%w: backup_retention must be at least 1", ErrInvalidConfig)
	case c.AutoBackupIntervalMS < 0:
		return fmt.Errorf("%w: auto_backup_interval_ms must not be negative", ErrInvalidConfig)
	case c.SyncTolerance < 0:
		return fmt.Errorf("%w: sync_tolerance must not be negative", ErrInvalidConfig)
	case c.PlatformTimeoutMS < 1:
		return fmt.Errorf("%w: platform_timeout_ms must be positive", ErrInvalidConfig)
	case c.MaxLeaderboardLimit < 1:
		return fmt.Errorf("%w: max_leaderboard_limit must be positive", ErrInvalidConfig)
	}
	if err := c.Progression().Default.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
