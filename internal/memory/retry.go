package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/tainanafeng/math-coach/internal/metrics"
)

const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 100 * time.Millisecond
)

// RetryPolicy retries an operation that failed with a busy/locked error.
// The delay between attempts is fixed.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryAttempts
	}
	if p.Delay <= 0 {
		p.Delay = DefaultRetryDelay
	}
	return p
}

// do runs fn up to p.Attempts times. Errors that are not lock contention
// are returned as-is after the first failure. When every attempt hits
// contention the result wraps ErrStoreUnavailable.
func (p RetryPolicy) do(ctx context.Context, op string, log *zap.Logger, fn func() error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isLockedError(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		metrics.StoreRetriesTotal.WithLabelValues(op).Inc()
		log.Debug("database locked, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}

	metrics.StoreUnavailableTotal.WithLabelValues(op).Inc()
	log.Warn("database kept locked after retries", zap.String("op", op), zap.Int("attempts", p.Attempts))
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// isLockedError reports whether err is SQLITE_BUSY or SQLITE_LOCKED
// (including extended codes), falling back to message matching for
// errors that lost their type on the way up.
func isLockedError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}
