package storage

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/esap-cc/shortlinker/internal/core"
	"github.com/esap-cc/shortlinker/internal/metrics"
)

// RetryConfig tunes the exponential backoff applied to storage writes.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultRetryConfig matches the documented backoff: 50ms base, 2s cap,
// 5 attempts, randomized jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxAttempts:     5,
	}
}

// withRetry runs op under exponential backoff. Transient errors are
// retried up to cfg.MaxAttempts; permanent errors abort immediately.
// The final error is classified into the domain taxonomy.
func withRetry(ctx context.Context, logger *slog.Logger, cfg RetryConfig, opName string, op func() error) error {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.MaxElapsedTime = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt > 1 {
			metrics.DBRetryTotal.WithLabelValues(opName).Inc()
		}
		logger.Warn("storage operation failed, retrying",
			"operation", opName,
			"attempt", attempt,
			"error", err,
		)
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(
		backoff.WithMaxRetries(bo, cfg.MaxAttempts-1), ctx))
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return core.NewTransientStorageError(opName+" failed after retries", err)
	}
	return core.NewPermanentStorageError(opName+" failed", err)
}

// IsTransient reports whether an error is worth retrying: connection
// failures, timeouts, deadlocks and lock contention. Logical errors such
// as constraint violations are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique") {
		return false
	}
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"timed out",
		"deadlock",
		"database is locked",
		"database table is locked",
		"try again",
		"too many connections",
		"server closed the connection",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
