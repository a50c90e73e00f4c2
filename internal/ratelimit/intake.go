package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/instructorledger/internal/config"
)

const keyIntakeSource = "ledger:intake:source:%s"

// IntakeLimiter throttles lesson-completion submissions per calling source.
// A nil or disabled limiter allows everything.
type IntakeLimiter struct {
	bucket *TokenBucket
	limit  Limit
}

func NewIntakeLimiter(cfg config.Config, client *redis.Client) *IntakeLimiter {
	if !cfg.RateLimit.IntakeEnabled || client == nil {
		return nil
	}
	limit := Limit{Rate: cfg.RateLimit.IntakeRate, Burst: cfg.RateLimit.IntakeBurst}
	if !limit.valid() {
		return nil
	}
	return &IntakeLimiter{bucket: NewTokenBucket(client), limit: limit}
}

func (l *IntakeLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *IntakeLimiter) Allow(ctx context.Context, source string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	source = strings.TrimSpace(source)
	if source == "" {
		source = "anonymous"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyIntakeSource, source), l.limit)
}
