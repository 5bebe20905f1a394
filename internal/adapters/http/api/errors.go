package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/levelup/internal/adapters/repository"
	"github.com/okian/levelup/internal/domain/backup"
	"github.com/okian/levelup/internal/domain/grant"
	"github.com/okian/levelup/internal/domain/model"
	"github.com/okian/levelup/internal/domain/progression"
	"github.com/okian/levelup/internal/domain/reconcile"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("component not configured")
)

// Error carries the operation that failed alongside its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.Error()
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error { return &Error{Op: op, Kind: kind} }

// WrapKind tags err with kind for op.
func WrapKind(op string, kind, err error) error { return &Error{Op: op, Kind: kind, Err: err} }

// Wrap prefixes err with op.
func Wrap(op string, err error) error { return fmt.Errorf("%s: %w", op, err) }

// classify maps domain errors onto an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBackpressure):
		return http.StatusTooManyRequests, "backpressure"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidEvent),
		errors.Is(err, grant.ErrInvalidTarget),
		errors.Is(err, progression.ErrInvalidKey),
		errors.Is(err, progression.ErrConfig),
		errors.Is(err, reconcile.ErrInvalidDirection):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, backup.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, backup.ErrCorrupt):
		return http.StatusConflict, "corrupt_backup"
	case errors.Is(err, reconcile.ErrBackupFailed):
		return http.StatusServiceUnavailable, "backup_failed"
	case errors.Is(err, repository.ErrPersistence):
		return http.StatusServiceUnavailable, "persistence_error"
	}
	return http.StatusInternalServerError, "internal_error"
}
