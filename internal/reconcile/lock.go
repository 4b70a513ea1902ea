package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lock is the distributed mutual exclusion primitive for reconciliation.
// Exactly one instance may hold it at a time; contention is normal in a
// multi-instance deployment and must not be treated as a failure.
type Lock interface {
	// Acquire returns a release token when the lock was taken. acquired is
	// false, with a nil error, when another holder has it.
	Acquire(ctx context.Context) (token string, acquired bool, err error)
	Release(ctx context.Context, token string) error
}

// releaseScript deletes the key only when the caller still owns it, so an
// expired-and-reacquired lock is never released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements Lock with SET NX PX plus a compare-and-delete release.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLock) Release(ctx context.Context, token string) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, token).Err()
}

// MemoryLock is the single-process Lock used by tests and the local profile.
type MemoryLock struct {
	mu    sync.Mutex
	token string
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{}
}

func (l *MemoryLock) Acquire(_ context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token != "" {
		return "", false, nil
	}
	l.token = uuid.NewString()
	return l.token, true, nil
}

func (l *MemoryLock) Release(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.token == token {
		l.token = ""
	}
	return nil
}
