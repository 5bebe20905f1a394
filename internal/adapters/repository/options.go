package repository

import (
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/pkg/logger"
)

// Option applies a configuration option to the ProgressionStore.
type Option func(*ProgressionStore)

// WithDefaultSettings sets the settings used when none are persisted yet,
// or when the persisted ones fail validation.
func WithDefaultSettings(settings progression.Settings) Option {
	return func(s *ProgressionStore) {
		s.defaults = settings.Clone()
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *ProgressionStore) {
		if l != nil {
			s.logger = l
		}
	}
}
