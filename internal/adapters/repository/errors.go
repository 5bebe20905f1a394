package repository

import "errors"

// Sentinel kinds for progression store errors.
var (
	// ErrPersistence marks a load or save failure of the underlying store.
	// The mutation that triggered it has been discarded.
	ErrPersistence = errors.New("progression store persistence failed")
	ErrNotFound    = errors.New("progression record not found")
)
