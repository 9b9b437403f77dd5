package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:    retries,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestErrorRecoveryManager_DefaultPolicies(t *testing.T) {
	erm := NewErrorRecoveryManager(nil, nil)

	md := erm.Policy(PolicyMarketData)
	require.NotNil(t, md)
	assert.Equal(t, 3, md.MaxRetries)
	assert.Equal(t, 2.0, md.BackoffFactor)

	db := erm.Policy(PolicyDatabase)
	require.NotNil(t, db)
	assert.Equal(t, 50*time.Millisecond, db.InitialDelay)

	assert.Same(t, md, erm.Policy("unknown"))
}

func TestErrorRecoveryManager_RetriesUntilSuccess(t *testing.T) {
	erm := NewErrorRecoveryManager(nullLogger(), nil)
	erm.RegisterRetryPolicy("op", fastPolicy(3))

	attempts := 0
	err := erm.ExecuteWithRetry(context.Background(), "op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestErrorRecoveryManager_ExhaustsRetries(t *testing.T) {
	erm := NewErrorRecoveryManager(nullLogger(), nil)
	erm.RegisterRetryPolicy("op", fastPolicy(2))

	attempts := 0
	err := erm.ExecuteWithRetry(context.Background(), "op", func() error {
		attempts++
		return errors.New("still down")
	})

	assert.EqualError(t, err, "still down")
	assert.Equal(t, 3, attempts)
}

func TestErrorRecoveryManager_StopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("bad request")
	erm := NewErrorRecoveryManager(nullLogger(), func(err error) bool { return !errors.Is(err, permanent) })
	erm.RegisterRetryPolicy("op", fastPolicy(5))

	attempts := 0
	err := erm.ExecuteWithRetry(context.Background(), "op", func() error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, attempts)
}

func TestErrorRecoveryManager_HonoursContext(t *testing.T) {
	erm := NewErrorRecoveryManager(nullLogger(), nil)
	erm.RegisterRetryPolicy("slow", &RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := erm.ExecuteWithRetry(ctx, "slow", func() error { return errors.New("down") })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCalculateDelay(t *testing.T) {
	base := 100 * time.Millisecond

	assert.Equal(t, base, calculateDelay(base, &RetryPolicy{}))
	for i := 0; i < 50; i++ {
		d := calculateDelay(base, &RetryPolicy{JitterEnabled: true})
		assert.GreaterOrEqual(t, d, 87*time.Millisecond)
		assert.LessOrEqual(t, d, 113*time.Millisecond)
	}
}
