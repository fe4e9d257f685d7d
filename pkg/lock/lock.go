// Package lock provides the distributed lock used to serialize execution
// of a matrix cell (or document) across worker processes. The lock, not
// the broker, is the correctness primitive: messages may be redelivered or
// processed out of order, but only one holder may act on a resource key at
// any wall-clock instant.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by AcquireWithRetry when the lock could not be
// acquired before the retry budget elapsed.
var ErrUnavailable = errors.New("lock unavailable")

// Locker is the distributed lock contract. Implementations must make
// acquire atomic (SET-if-absent), and release/extend atomic
// compare-and-act operations keyed by the token returned from Acquire.
type Locker interface {
	// Acquire tries to take the lock for resourceKey with the given TTL.
	// Returns an opaque token and true on success, or ("", false) if the
	// resource is already locked.
	Acquire(ctx context.Context, resourceKey string, ttl time.Duration) (token string, ok bool, err error)

	// Release performs a compare-and-delete: it removes the lock only if
	// it is still held with this exact token. Returns false (no error) if
	// the token is stale or the lock already expired.
	Release(ctx context.Context, resourceKey, token string) (bool, error)

	// Extend performs a compare-and-set: it resets the TTL only if the
	// lock is still held with this exact token.
	Extend(ctx context.Context, resourceKey, token string, additionalTTL time.Duration) (bool, error)

	// IsLocked reports whether resourceKey currently has any holder.
	IsLocked(ctx context.Context, resourceKey string) (bool, error)
}

// AcquireWithRetry polls Acquire every retryInterval until acquireTimeout
// elapses, returning ErrUnavailable if no attempt succeeds in time.
func AcquireWithRetry(ctx context.Context, l Locker, resourceKey string, ttl, acquireTimeout, retryInterval time.Duration) (string, error) {
	deadline := time.Now().Add(acquireTimeout)
	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		token, ok, err := l.Acquire(ctx, resourceKey, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrUnavailable
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
