package platform

import (
	"net/http"
	"time"

	"github.com/okian/levelup/pkg/logger"
)

const defaultTimeout = 5 * time.Second

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout bounds every bridge request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
