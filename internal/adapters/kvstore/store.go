// Package kvstore defines the durable key/value store every persistent
// component writes through. Values are JSON documents; a Save either
// fully replaces the previous value or leaves it untouched.
package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel kinds for store errors.
var (
	ErrInvalidKey = errors.New("invalid store key")
	ErrClosed     = errors.New("store closed")
)

// Entry describes one stored value.
type Entry struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is the durable key/value contract.
type Store interface {
	// Load decodes the value at key into v. found is false (and v untouched)
	// when the key does not exist.
	Load(ctx context.Context, key string, v any) (found bool, err error)

	// Save atomically replaces the value at key.
	Save(ctx context.Context, key string, v any) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the entries whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Entry, error)
}

// ValidateKey accepts slash-separated keys of [A-Za-z0-9._-] segments.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, ".tmp-") {
			return ErrInvalidKey
		}
		for _, r := range seg {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			default:
				return ErrInvalidKey
			}
		}
	}
	return nil
}
