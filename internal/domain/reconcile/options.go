package reconcile

import (
	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
)

// DefaultTolerance is the absolute XP drift tolerated between the stores.
const DefaultTolerance int64 = 10

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithTolerance sets the absolute XP drift tolerance.
func WithTolerance(t int64) Option {
	return func(r *Reconciler) {
		if t >= 0 {
			r.tolerance = t
		}
	}
}

// WithCheckpointer sets the backup taken before every synchronization.
func WithCheckpointer(c Checkpointer) Option {
	return func(r *Reconciler) {
		r.checkpoint = c
	}
}

// WithClock sets the clock stamped on reports.
func WithClock(c clock.Clock) Option {
	return func(r *Reconciler) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}
