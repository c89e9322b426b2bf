// Package lock serializes work per key. Authorization uses it to keep one
// numbering sequence (tenant, sales point, document type) single-writer.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired is returned when the context ends before the lock is granted.
	ErrNotAcquired = errors.New("lock not acquired")
	// ErrLeaseLost is the cancellation cause of a held context whose lease expired
	// or was taken over while the section was still running.
	ErrLeaseLost = errors.New("lock lease lost")
)

// Locker grants exclusive sections per key. The held context derives from ctx and
// is canceled on unlock or when exclusion can no longer be guaranteed; work inside
// the section should run on it. The returned unlock is idempotent.
type Locker interface {
	Lock(ctx context.Context, key string) (held context.Context, unlock func(), err error)
}

// WaitObserver is told how long each acquisition waited.
type WaitObserver interface {
	ObserveLockWait(backend string, waited time.Duration, err error)
}

// Observed wraps a Locker so every acquisition is reported under backend.
func Observed(l Locker, backend string, obs WaitObserver) Locker {
	if obs == nil {
		return l
	}
	return &observed{inner: l, backend: backend, obs: obs}
}

type observed struct {
	inner   Locker
	backend string
	obs     WaitObserver
}

func (o *observed) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	start := time.Now()
	held, unlock, err := o.inner.Lock(ctx, key)
	o.obs.ObserveLockWait(o.backend, time.Since(start), err)
	return held, unlock, err
}

func notAcquired(ctx context.Context) error {
	return errors.Join(ErrNotAcquired, context.Cause(ctx))
}
