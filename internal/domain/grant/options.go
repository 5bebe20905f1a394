package grant

import (
	"math/rand"

	"github.com/okian/levelup/pkg/clock"
	"github.com/okian/levelup/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock sets the time source used for cooldowns and grant timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRand sets the random source used to draw text grant amounts.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) {
		if r != nil {
			e.rng = r
		}
	}
}

// WithLevelUpHandler sets the handler invoked after a grant raises a level.
func WithLevelUpHandler(h LevelUpHandler) Option {
	return func(e *Engine) {
		e.handler = h
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}
