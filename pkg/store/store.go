package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("key not found")

// ErrInvalidValue is returned when a backend requires JSON and the value is not.
var ErrInvalidValue = errors.New("value is not valid JSON")

// Well-known keys of the client state.
const (
	KeyToken         = "token"
	KeyUser          = "user"
	KeyDiscoverBooks = "cache_discover_books"
	KeyLibraryBooks  = "cache_library_books"
)

// KV is the local key-value state used for the session and the response cache.
// Values are JSON documents; callers own their encoding.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
}
