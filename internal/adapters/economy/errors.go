package economy

import "errors"

var (
	ErrNotFound      = errors.New("economy record not found")
	ErrNotConfigured = errors.New("economy store is not configured")
	ErrInvalidRecord = errors.New("invalid economy record")
)
