package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
)

// do runs fn under the store's lock-contention policy. Only SQLITE_BUSY and
// SQLITE_LOCKED are retried; corruption is mapped to ErrCorrupt.
func (s *Store) do(ctx context.Context, op string, fn func(context.Context) error) error {
	err := backoff.Retry(ctx, s.retry, IsBusy, func(ctx context.Context, attempt int) error {
		err := fn(ctx)
		if err != nil && IsBusy(err) && attempt < s.retry.MaxAttempts() {
			metrics.ObserveQueueRetry(op)
			s.logger.Warn("work queue busy, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("delay", s.retry.Delay(attempt)),
			)
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, backoff.ErrExhausted):
		return fmt.Errorf("%w: %s: %w", ErrBusy, op, err)
	case IsCorrupt(err):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	default:
		return err
	}
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked
	}
	return false
}

// IsCorrupt reports whether err means the database file cannot be read.
func IsCorrupt(err error) bool {
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		return sqlErr.Code == sqlite3.ErrCorrupt || sqlErr.Code == sqlite3.ErrNotADB
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "database disk image is malformed")
}
