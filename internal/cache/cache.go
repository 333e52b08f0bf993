// Package cache is the key-value cache used for the latest message chunk of
// each room. The cache is an optimization only; callers must stay correct
// when every call fails.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals a missing key, so callers can tell a miss from a
// transport failure.
var ErrMiss = errors.New("cache: miss")

// Cache is safe for concurrent use. Values are raw bytes; serialization is
// the caller's concern.
type Cache interface {
	// Get returns ErrMiss when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value with ttl. Zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes keys. Removing a missing key is not an error.
	Del(ctx context.Context, keys ...string) error
}

// Versioned adds a per-key write generation so read-through fills cannot
// resurrect data older than the last invalidation:
//
//	v := Version(key)       // reader, before reading the source
//	... read source ...
//	SetIfVersion(key, v, …) // stores only if no Bump happened in between
//
// Writers call Bump after every successful write.
type Versioned interface {
	Cache

	// Version returns the current generation of key; 0 if never bumped.
	Version(ctx context.Context, key string) (int64, error)

	// Bump deletes key and advances its generation.
	Bump(ctx context.Context, key string) error

	// SetIfVersion stores value only if key's generation still equals
	// version. Reports whether the value was stored.
	SetIfVersion(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error)
}

// Nop never stores anything. It is used when Redis is unreachable at
// startup.
type Nop struct{}

var _ Versioned = Nop{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Del(context.Context, ...string) error { return nil }
func (Nop) Version(context.Context, string) (int64, error) { return 0, nil }
func (Nop) Bump(context.Context, string) error { return nil }

func (Nop) SetIfVersion(context.Context, string, int64, []byte, time.Duration) (bool, error) {
	return false, nil
}
