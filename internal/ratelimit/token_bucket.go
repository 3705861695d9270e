package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeScript refills KEYS[1] at ARGV[1] tokens per second up to ARGV[2] and
// takes one token if available. It returns {allowed, tokens, retry_ms};
// tokens is a string so the fractional part survives the Lua to Redis
// conversion.
const takeScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local t = redis.call("TIME")
local now = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + (now - last) * rate / 1000)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, tostring(tokens), retry}
`

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	errInvalidLimit  = errors.New("rate limiter needs a key, a positive rate and a positive burst")
)

// Limit is a refill rate in tokens per second and a bucket capacity.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) valid() bool {
	return l.Rate > 0 && l.Burst > 0
}

// ttl keeps an idle bucket around for twice the time it takes to refill.
func (l Limit) ttl() time.Duration {
	if !l.valid() {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(2*float64(l.Burst)/l.Rate))
	return time.Duration(seconds) * time.Second
}

type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Bucket keeps one Redis hash per key so every API replica draws from the
// same budget.
type Bucket struct {
	client *redis.Client
	script *redis.Script
}

func NewBucket(client *redis.Client) *Bucket {
	if client == nil {
		return nil
	}
	return &Bucket{client: client, script: redis.NewScript(takeScript)}
}

// Take consumes one token from key.
func (b *Bucket) Take(ctx context.Context, key string, limit Limit) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrNotConfigured
	}
	if key == "" || !limit.valid() {
		return Decision{}, errInvalidLimit
	}

	reply, err := b.script.Run(ctx, b.client, []string{key},
		limit.Rate, limit.Burst, limit.ttl().Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, err
	}
	return decodeReply(reply)
}

func decodeReply(reply []any) (Decision, error) {
	if len(reply) != 3 {
		return Decision{}, fmt.Errorf("rate limiter: unexpected reply %v", reply)
	}
	allowed, ok1 := reply[0].(int64)
	raw, ok2 := reply[1].(string)
	retryMS, ok3 := reply[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return Decision{}, fmt.Errorf("rate limiter: unexpected reply %v", reply)
	}
	tokens, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limiter: tokens %q: %w", raw, err)
	}
	return Decision{
		Allowed:    allowed == 1,
		Remaining:  int(tokens),
		RetryAfter: time.Duration(retryMS) * time.Millisecond,
	}, nil
}
