package clock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultClockKey = "sync:version-clock"

// nextScript returns max(now, last+1) and stores it. ARGV[1] is the caller's
// wall clock in milliseconds.
var nextScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local now = tonumber(ARGV[1])
local nxt = now
if nxt <= last then
  nxt = last + 1
end
redis.call('SET', KEYS[1], nxt)
return nxt
`)

// observeScript raises the stored value to ARGV[1] if it is lower.
var observeScript = redis.NewScript(`
local last = tonumber(redis.call('GET', KEYS[1]) or '0')
local v = tonumber(ARGV[1])
if v > last then
  redis.call('SET', KEYS[1], v)
end
return 0
`)

// RedisClock shares one version sequence between every server instance
// pointing at the same Redis.
type RedisClock struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewRedisClock(client *redis.Client) *RedisClock {
	return &RedisClock{client: client, key: defaultClockKey, now: time.Now}
}

func (c *RedisClock) Next(ctx context.Context) (int64, error) {
	v, err := nextScript.Run(ctx, c.client, []string{c.key}, c.now().UnixMilli()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to issue version: %w", err)
	}
	return v, nil
}

func (c *RedisClock) Observe(ctx context.Context, v int64) error {
	if err := observeScript.Run(ctx, c.client, []string{c.key}, v).Err(); err != nil {
		return fmt.Errorf("failed to observe version: %w", err)
	}
	return nil
}
