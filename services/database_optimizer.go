package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// RetryConfig holds retry configuration for database operations
type RetryConfig struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DatabaseOptimizer runs store operations with retry on transient
// failures and records query metrics
type DatabaseOptimizer struct {
	db                 *sql.DB
	retryConfig        RetryConfig
	slowQueryThreshold time.Duration
	metrics            *shared.DatabaseMetrics
}

// NewDatabaseOptimizer creates a new database optimizer
func NewDatabaseOptimizer(db *sql.DB) *DatabaseOptimizer {
	config := shared.NewDefaultUnifiedConfiguration()

	return &DatabaseOptimizer{
		db: db,
		retryConfig: RetryConfig{
			MaxRetries:    3,
			BaseDelay:     100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
		},
		slowQueryThreshold: config.Database.SlowQueryThreshold,
		metrics:            shared.NewDatabaseMetrics(),
	}
}

// Metrics returns the query metrics collected so far
func (opt *DatabaseOptimizer) Metrics() *shared.DatabaseMetrics {
	return opt.metrics
}

// ExecuteWithRetry executes a database operation with exponential backoff retry
func (opt *DatabaseOptimizer) ExecuteWithRetry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= opt.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(opt.retryConfig.BaseDelay) *
				math.Pow(opt.retryConfig.BackoffFactor, float64(attempt-1)))
			if delay > opt.retryConfig.MaxDelay {
				delay = opt.retryConfig.MaxDelay
			}

			logrus.WithFields(logrus.Fields{
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
				"error":     lastErr,
			}).Warn("Retrying database operation")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		startTime := time.Now()
		err := fn()
		duration := time.Since(startTime)
		slow := duration > opt.slowQueryThreshold

		opt.metrics.RecordQuery(err == nil, duration, slow)

		if slow {
			logrus.WithFields(logrus.Fields{
				"operation": operation,
				"duration":  duration,
				"threshold": opt.slowQueryThreshold,
			}).Warn("Slow database query detected")
		}

		if err == nil {
			return nil
		}

		lastErr = err
		if !isRetryableDBError(err) {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"operation":   operation,
		"max_retries": opt.retryConfig.MaxRetries,
		"final_error": lastErr,
	}).Error("Database operation failed after all retries")

	return fmt.Errorf("database operation %s failed after %d retries: %w", operation, opt.retryConfig.MaxRetries, lastErr)
}

// isRetryableDBError treats connection failures (class 08), transaction
// rollbacks such as serialization failures and deadlocks (class 40) and
// transient network errors as retryable
func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return true
		default:
			return false
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "connection reset", "broken pipe", "bad connection", "timeout"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// isUniqueViolation reports a Postgres unique_violation (23505)
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
