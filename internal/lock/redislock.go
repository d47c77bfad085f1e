package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when the lock stays held by another process for
// the whole maxWait budget.
var ErrNotAcquired = errors.New("lock not acquired")

// GlobalSyncLock is the broad lock for batch operations that must not overlap
// with per-user rebuilds.
const GlobalSyncLock = "global-sync"

// retryBackoff is the fixed pause between acquire attempts.
const retryBackoff = 100 * time.Millisecond

// releaseScript deletes the lock only when the stored token still matches,
// so an expired lease reacquired by someone else cannot be released by the
// old holder.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

// RebuildLockName returns the coordination lock name for one (user, benchmark)
// rebuild.
func RebuildLockName(userID, benchmark string) string {
	return fmt.Sprintf("rebuild:%s:%s", userID, benchmark)
}

// RedisLock is a distributed mutual-exclusion primitive backed by Redis
// SET NX with a TTL lease. Leases auto-expire so a crashed holder cannot
// deadlock other processes.
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string
}

func New(client *redis.Client, prefix string) *RedisLock {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

func (l *RedisLock) key(name string) string {
	return l.prefix + name
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire tries to take the named lock, retrying on a fixed backoff until
// maxWait elapses. It returns true on success and false with ErrNotAcquired
// on timeout; it never blocks forever. The lease expires after leaseTimeout
// even if the holder crashes.
func (l *RedisLock) Acquire(ctx context.Context, name string, leaseTimeout, maxWait time.Duration) (bool, error) {
	token := newToken()
	deadline := time.Now().Add(maxWait)

	for {
		ok, err := l.client.SetNX(ctx, l.key(name), token, leaseTimeout).Result()
		if err != nil {
			return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			l.mu.Lock()
			l.tokens[name] = token
			l.mu.Unlock()
			return true, nil
		}

		if time.Now().Add(retryBackoff).After(deadline) {
			return false, fmt.Errorf("lock %s held after %s: %w", name, maxWait, ErrNotAcquired)
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryBackoff):
		}
	}
}

// Release gives the lock back before its lease expires. Best effort: it only
// deletes the record when this process still holds it.
func (l *RedisLock) Release(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	token, ok := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()
	if !ok {
		return false, nil
	}

	n, err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, token).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return n == 1, nil
}

// IsLocked reports whether an unexpired lease exists for the named lock.
func (l *RedisLock) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lock %s: %w", name, err)
	}
	return n > 0, nil
}
