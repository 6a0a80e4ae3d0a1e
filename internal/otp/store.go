package otp

import (
	"context"
	"errors"
	"time"
)

var ErrMissing = errors.New("key missing")

// Store is the small key/value surface the verifier needs. Values expire.
type Store interface {
	// SetNX sets key only if absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	// Incr bumps a counter, starting its ttl when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
}
