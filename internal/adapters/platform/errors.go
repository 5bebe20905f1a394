package platform

import "errors"

var (
	// ErrNotConfigured is returned by NewClient when no bridge URL is set.
	ErrNotConfigured = errors.New("platform bridge url not configured")

	// ErrBridge wraps non-2xx responses from the bridge.
	ErrBridge = errors.New("platform bridge request failed")
)
