// Package locker serializes billing work for one business across replicas.
package locker

import (
	"context"
	"errors"
	"time"
)

// ErrNotObtained is returned when the lock is still held by someone else after waiting
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held lock
type Lock interface {
	Key() string
	Release(ctx context.Context) error
}

// Locker obtains exclusive, expiring locks by key
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

// BusinessKey is the lock key guarding billing work of a business
func BusinessKey(businessID string) string {
	return "billing:business:" + businessID
}
