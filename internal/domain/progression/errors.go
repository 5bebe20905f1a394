package progression

import "errors"

// Sentinel kinds for progression errors.
var (
	// ErrConfig marks a progression config rejected at load time.
	ErrConfig     = errors.New("invalid progression config")
	ErrInvalidKey = errors.New("invalid progression key")
)
