package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"example.com/fittrack/internal/domain"
	"example.com/fittrack/internal/logger"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a guard shared by every API replica. Locks expire after ttl so a
// crashed holder cannot wedge a user.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedis constructs a Redis guard.
func NewRedis(rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{rdb: rdb, prefix: "fittrack:inflight:", ttl: ttl, log: log.With("component", "redis_guard")}
}

// Acquire claims key with SET NX or fails fast with domain.ErrBusy.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrBusy, key)
	}
	return func() {
		// The caller's context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.rdb, []string{r.prefix + key}, token).Err(); err != nil {
			r.log.Warn("release in-flight lock", "key", key, "error", err)
		}
	}, nil
}
