package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"arraymon/internal/types"
)

// Tracker shares run state between processes that may ingest: the
// in-process worker, the AMQP worker and the tools CLI.
type Tracker interface {
	// Lock claims the next run. ok is false while another holder owns it.
	Lock(ctx context.Context, ttl time.Duration) (ok bool, err error)
	Unlock(ctx context.Context) error
	SetState(ctx context.Context, s State) error
	SetResult(ctx context.Context, run types.IngestRun) error
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisTracker struct {
	client *redis.Client
	prefix string
	token  string
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func NewRedisTracker(client *redis.Client, siteID string) *RedisTracker {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return &RedisTracker{
		client: client,
		prefix: "arraymon:" + siteID + ":ingest:",
		token:  hex.EncodeToString(b),
	}
}

func (t *RedisTracker) Lock(ctx context.Context, ttl time.Duration) (bool, error) {
	return t.client.SetNX(ctx, t.prefix+"lock", t.token, ttl).Result()
}

func (t *RedisTracker) Unlock(ctx context.Context) error {
	return unlockScript.Run(ctx, t.client, []string{t.prefix + "lock"}, t.token).Err()
}

func (t *RedisTracker) SetState(ctx context.Context, s State) error {
	return t.client.HSet(ctx, t.prefix+"state",
		"state", s.String(),
		"updated_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
}

func (t *RedisTracker) SetResult(ctx context.Context, run types.IngestRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return t.client.Set(ctx, t.prefix+"last_run", data, 0).Err()
}
