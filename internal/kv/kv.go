// Package kv is the shared key-value store behind sessions, OAuth state and the refresh lock.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or has expired
var ErrNotFound = errors.New("kv: key not found")

// Store represents a key-value storage system with the atomic primitives the
// session layer needs. A ttl of zero stores the value without expiry.
type Store interface {
	// Get retrieves the value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)
	// Set stores a key-value pair with optional expiration duration
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores the value only if key is absent and reports whether it was stored
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// GetDel atomically reads and removes key, or returns ErrNotFound
	GetDel(ctx context.Context, key string) (string, error)
	// Del removes keys; missing keys are ignored
	Del(ctx context.Context, keys ...string) error
	// DelIfValue removes key only while it still holds value
	DelIfValue(ctx context.Context, key, value string) (bool, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}
