package lock

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresLocker uses session advisory locks. The pooled connection that took
// the lock is pinned until unlock, so the lock dies with the session if the
// process crashes.
type PostgresLocker struct {
	pool          *pgxpool.Pool
	retryInterval time.Duration
	log           *slog.Logger
}

func NewPostgresLocker(pool *pgxpool.Pool, retryInterval time.Duration, log *slog.Logger) *PostgresLocker {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &PostgresLocker{pool: pool, retryInterval: retryInterval, log: log}
}

// advisoryKey folds a key into the bigint space of pg_advisory_lock.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

func (l *PostgresLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, notAcquired(ctx)
		}
		return nil, nil, fmt.Errorf("acquire connection for lock %s: %w", key, err)
	}

	id := advisoryKey(key)
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		var ok bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", id).Scan(&ok); err != nil {
			conn.Release()
			if ctx.Err() != nil {
				return nil, nil, notAcquired(ctx)
			}
			return nil, nil, fmt.Errorf("try advisory lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return nil, nil, notAcquired(ctx)
		case <-ticker.C:
		}
	}

	held, cancelHeld := context.WithCancel(ctx)
	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancelHeld()
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := conn.Exec(unlockCtx, "SELECT pg_advisory_unlock($1)", id); err != nil {
				// Closing the session drops every advisory lock it holds.
				l.log.Error("Failed to release advisory lock, closing session", "key", key, "error", err)
				_ = conn.Conn().Close(unlockCtx)
			}
			conn.Release()
		})
	}, nil
}
