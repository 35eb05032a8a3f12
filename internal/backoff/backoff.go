// Package backoff provides the retry policies shared by the queue, the fetch
// orchestrator and the directory client.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy decides how many attempts an operation gets and how long to wait
// after each failed attempt. Attempts are numbered from 1.
type Policy interface {
	MaxAttempts() int
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay after every failed attempt.
type Exponential struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// MaxAttempts implements Policy.
func (e Exponential) MaxAttempts() int { return max(e.Attempts, 1) }

// Delay returns Base * 2^(attempt-1), capped at Max when Max is positive.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := e.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if e.Max > 0 && delay >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && delay > e.Max {
		return e.Max
	}
	return delay
}

// Linear grows the delay by Base after every failed attempt.
type Linear struct {
	Attempts int
	Base     time.Duration
}

// MaxAttempts implements Policy.
func (l Linear) MaxAttempts() int { return max(l.Attempts, 1) }

// Delay returns Base * attempt.
func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return l.Base * time.Duration(attempt)
}

// ErrExhausted marks an operation that failed on every allowed attempt.
var ErrExhausted = errors.New("retry attempts exhausted")

// Retry runs op until it succeeds, returns an error retryable rejects, or the
// policy runs out of attempts. The final error wraps both ErrExhausted and the
// last error returned by op.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts()
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx, attempt)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if serr := Sleep(ctx, p.Delay(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff sleep: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
