package reward

import "github.com/okian/levelup/pkg/logger"

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithRenderer enables image cards on notifications.
func WithRenderer(r CardRenderer) Option {
	return func(d *Dispatcher) {
		d.renderer = r
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}
