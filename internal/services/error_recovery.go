package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Retry policy names.
const (
	PolicyMarketData = "market_data"
	PolicyDatabase   = "database_operation"
)

// RetryPolicy defines retry behavior for failed operations
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// ErrorRecoveryManager retries operations by named policy.
type ErrorRecoveryManager struct {
	logger        *logrus.Logger
	retryPolicies map[string]*RetryPolicy
	retryable     func(error) bool
	mu            sync.RWMutex
}

// NewErrorRecoveryManager creates a manager preloaded with DefaultRetryPolicies.
// retryable decides whether a failed attempt may be repeated; nil retries everything.
func NewErrorRecoveryManager(logger *logrus.Logger, retryable func(error) bool) *ErrorRecoveryManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	return &ErrorRecoveryManager{
		logger:        logger,
		retryPolicies: DefaultRetryPolicies(),
		retryable:     retryable,
	}
}

// RegisterRetryPolicy registers a retry policy for a specific operation
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy *RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()

	erm.retryPolicies[name] = policy
}

// Policy returns the policy registered under name, or the market data policy.
func (erm *ErrorRecoveryManager) Policy(name string) *RetryPolicy {
	erm.mu.RLock()
	defer erm.mu.RUnlock()

	if p, ok := erm.retryPolicies[name]; ok {
		return p
	}
	return erm.retryPolicies[PolicyMarketData]
}

// ExecuteWithRetry runs operation until it succeeds, returns a non-retryable
// error, exhausts the policy, or ctx is done. Backoff waits honour ctx.
func (erm *ErrorRecoveryManager) ExecuteWithRetry(
	ctx context.Context,
	operationName string,
	operation func() error,
) error {
	start := time.Now()
	policy := erm.Policy(operationName)

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := operation()
		if err == nil {
			if attempt > 0 {
				erm.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt + 1,
					"duration":  time.Since(start),
				}).Info("Operation recovered after retry")
			}
			return nil
		}

		lastErr = err
		if !erm.retryable(err) || attempt == policy.MaxRetries {
			break
		}

		wait := calculateDelay(delay, policy)
		erm.logger.WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt + 1,
			"error":     err.Error(),
			"delay":     wait,
		}).Warn("Operation failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	erm.logger.WithFields(logrus.Fields{
		"operation": operationName,
		"duration":  time.Since(start),
		"error":     lastErr.Error(),
	}).Debug("Operation failed")

	return lastErr
}

// calculateDelay applies up to ±12.5% jitter when enabled.
func calculateDelay(baseDelay time.Duration, policy *RetryPolicy) time.Duration {
	if !policy.JitterEnabled || baseDelay <= 0 {
		return baseDelay
	}
	jitter := time.Duration(float64(baseDelay) * 0.25 * (rand.Float64() - 0.5))
	return baseDelay + jitter
}

// DefaultRetryPolicies returns default retry policies for common operations
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		PolicyMarketData: {
			MaxRetries:    3,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      10 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		PolicyDatabase: {
			MaxRetries:    3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 1.5,
			JitterEnabled: true,
		},
	}
}
