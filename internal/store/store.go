// Package store provides the opaque key-value persistence collaborator used
// for cooldown markers and answer staging. The orchestrator core never
// interprets stored contents beyond reading and writing primitive values.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

// Store is an opaque key-value store with per-key TTL support.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
