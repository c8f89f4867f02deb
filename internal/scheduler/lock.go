package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const activationRunLockKey = "activations:run-lock"

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLock serializes activation runs across workers and processes.
type RunLock struct {
	rdb redis.UniversalClient
	key string
}

func NewRunLock(rdb redis.UniversalClient) *RunLock {
	return &RunLock{rdb: rdb, key: activationRunLockKey}
}

// NewRedisClient builds the go-redis client the lock uses.
func NewRedisClient(redisURL string, tlsInsecure bool) (*redis.Client, error) {
	opt, err := redisOptions(redisURL, tlsInsecure)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

// TryAcquire takes the lock for ttl. It returns ok=false without error when
// another holder has it. The returned release func is safe to call after the
// lock expired.
func (l *RunLock) TryAcquire(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	token, err := newToken()
	if err != nil {
		return nil, false, err
	}

	ok, err = l.rdb.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}
	return release, true, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
