package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease only if it still holds our record.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Redis is a Locker for processes sharing a Redis server. A lease is a key
// set with NX and a PX expiry, so a crashed holder's lease lapses on the
// server.
type Redis struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedis creates a Redis locker. The client stays owned by the caller.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, now: time.Now}
}

func (r *Redis) leaseKey(key string) string {
	return r.prefix + ":lease:" + key
}

// TryAcquire sets the lease key if it does not exist.
func (r *Redis) TryAcquire(ctx context.Context, key, holderID string, ttl time.Duration) (*Record, bool, error) {
	rec := &Record{Key: key, HolderID: holderID, AcquiredAt: r.now(), TTL: ttl}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode lease: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.leaseKey(key), data, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	rec.token = string(data)
	return rec, true, nil
}

// Confirm reports whether the lease key still holds rec.
func (r *Redis) Confirm(ctx context.Context, rec *Record) (bool, error) {
	cur, err := r.client.Get(ctx, r.leaseKey(rec.Key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read lease %s: %w", rec.Key, err)
	}
	return cur == rec.token, nil
}

// Release deletes the lease key if it still holds rec.
func (r *Redis) Release(ctx context.Context, rec *Record) error {
	if err := releaseLua.Run(ctx, r.client, []string{r.leaseKey(rec.Key)}, rec.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", rec.Key, err)
	}
	return nil
}
