package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/instructorledger/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerRefusesLocks(t *testing.T) {
	var l *Locker
	_, ok, err := l.TryLock(context.Background(), "k", time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
}

func TestNewLockerWithoutClient(t *testing.T) {
	assert.Nil(t, NewLocker(nil))
}

func TestIntakeLimiterDisabledAllows(t *testing.T) {
	l := NewIntakeLimiter(config.Config{}, nil)
	assert.False(t, l.Enabled())

	res, err := l.Allow(context.Background(), "user:1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestDecodeReply(t *testing.T) {
	limit := Limit{Rate: 2, Burst: 5}

	allowed, err := decodeReply([]any{int64(1), "4.5"}, limit)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 4, allowed.Remaining)
	assert.Equal(t, 5, allowed.Limit)
	assert.Zero(t, allowed.RetryAfter)

	denied, err := decodeReply([]any{int64(0), "0.5"}, limit)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, 250*time.Millisecond, denied.RetryAfter)

	_, err = decodeReply([]any{int64(1)}, limit)
	assert.ErrorIs(t, err, ErrLimiterReply)
	_, err = decodeReply([]any{int64(1), "many"}, limit)
	assert.ErrorIs(t, err, ErrLimiterReply)
}

func TestLimitTTL(t *testing.T) {
	assert.Equal(t, 5*time.Second, Limit{Rate: 20, Burst: 50}.ttl())
	assert.Equal(t, time.Second, Limit{Rate: 1000, Burst: 1}.ttl())
	assert.False(t, Limit{Rate: 0, Burst: 1}.valid())
}

func TestNilTokenBucketIsNotConfigured(t *testing.T) {
	var b *TokenBucket
	_, err := b.Allow(context.Background(), "k", Limit{Rate: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrLimiterNotConfigured)
}

func TestNilLockerRunDoesNotCallFn(t *testing.T) {
	var l *Locker
	called := false
	ran, err := l.Run(context.Background(), "k", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, ran)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.False(t, called)
}
