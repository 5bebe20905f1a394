package backup

import (
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
)

// DefaultRetention is the number of snapshots kept by Prune.
const DefaultRetention = 10

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithRetention sets how many snapshots Prune keeps.
func WithRetention(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.retention = n
		}
	}
}

// WithEconomy sets the economy store captured read-only in snapshots.
func WithEconomy(e EconomyReader) Option {
	return func(m *Manager) {
		m.economy = e
	}
}

// WithStatusChecker sets the sync status source recorded in snapshot metadata.
func WithStatusChecker(s StatusChecker) Option {
	return func(m *Manager) {
		m.status = s
	}
}

// WithClock sets the clock used for timestamps and auto-backup ticks.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
