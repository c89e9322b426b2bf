package lock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker is a lease lock shared by every replica: SET NX PX with a random
// token, polled until granted, extended while held and released only by its owner.
type RedisLocker struct {
	client        redis.UniversalClient
	prefix        string
	ttl           time.Duration
	retryInterval time.Duration
	release       *redis.Script
	extend        *redis.Script
	log           *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl, retryInterval time.Duration, log *slog.Logger) *RedisLocker {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		prefix:        "fiscal:seq-lock:",
		ttl:           ttl,
		retryInterval: retryInterval,
		release:       redis.NewScript(releaseScript),
		extend:        redis.NewScript(extendScript),
		log:           log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	redisKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, notAcquired(ctx)
			}
			return nil, nil, fmt.Errorf("acquire redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, nil, notAcquired(ctx)
		case <-ticker.C:
		}
	}

	held, cancelHeld := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, cancelHeld, stop, done)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancelHeld(nil)
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.release.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
				l.log.Error("Failed to release redis lock", "key", key, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lease every ttl/3 so a long WSFE exchange does not outlive it.
// When the key no longer carries our token another holder may own it, so the held
// context is canceled with ErrLeaseLost.
func (l *RedisLocker) keepAlive(redisKey, token string, lost context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := l.extend.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn("Failed to extend redis lock", "key", redisKey, "error", err)
				continue
			}
			if n == 0 {
				l.log.Error("Redis lock lease lost", "key", redisKey)
				lost(ErrLeaseLost)
				return
			}
		}
	}
}
