package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// The bucket lives in a hash of {tokens, ts}; ts is Redis server time in ms.
// tokens is returned as a string because Redis truncates Lua numbers.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now_parts = redis.call("TIME")
local now = now_parts[1] * 1000 + math.floor(now_parts[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
tokens = math.min(burst, tokens + math.max(0, now - last) / 1000 * rate)

local allowed = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ARGV[3])
return {allowed, tostring(tokens)}
`

var (
	ErrLimiterNotConfigured = errors.New("limiter_not_configured")
	ErrLimiterKeyEmpty      = errors.New("limiter_key_empty")
	ErrLimitInvalid         = errors.New("limit_invalid")
	ErrLimiterReply         = errors.New("limiter_reply_invalid")
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
	seconds := max(math.Ceil(float64(l.Burst)/l.Rate*2), 1)
	return time.Duration(seconds) * time.Second
}

// Result is the outcome of taking one token.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// TokenBucket takes tokens from Redis backed buckets shared by every replica.
type TokenBucket struct {
	client *redis.Client
	script *redis.Script
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client, script: redis.NewScript(tokenBucketScript)}
}

// Allow takes one token from the bucket at key.
func (t *TokenBucket) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	if t == nil || t.client == nil {
		return Result{}, ErrLimiterNotConfigured
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return Result{}, ErrLimiterKeyEmpty
	}
	if !limit.valid() {
		return Result{}, ErrLimitInvalid
	}

	reply, err := t.script.Run(ctx, t.client, []string{key},
		limit.Rate, limit.Burst, limit.ttl().Milliseconds()).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("take token %s: %w", key, err)
	}
	return decodeReply(reply, limit)
}

func decodeReply(reply []any, limit Limit) (Result, error) {
	if len(reply) < 2 {
		return Result{}, ErrLimiterReply
	}
	allowed, err := replyNumber(reply[0])
	if err != nil {
		return Result{}, err
	}
	tokens, err := replyNumber(reply[1])
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Allowed:   allowed == 1,
		Limit:     limit.Burst,
		Remaining: int(tokens),
	}
	if !res.Allowed && tokens < 1 {
		res.RetryAfter = time.Duration((1 - tokens) / limit.Rate * float64(time.Second))
	}
	return res, nil
}

func replyNumber(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrLimiterReply, n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrLimiterReply, v)
	}
}
