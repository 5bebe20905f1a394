package grant

import "errors"

var (
	// ErrInvalidTarget is returned for empty guild/user ids or out of range admin targets.
	ErrInvalidTarget = errors.New("invalid grant target")

	errOnCooldown = errors.New("text grant on cooldown")
)
