package directory

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
)

// Creator is the slice of the Client the Sink needs.
type Creator interface {
	CreateRestaurant(ctx context.Context, p RestaurantPayload) error
}

// Sink forwards parsed restaurants to the directory, retrying server and
// network failures and treating duplicate answers as already ingested.
type Sink struct {
	creator Creator
	retry   backoff.Policy
	logger  *zap.Logger
}

// SinkOption customizes a Sink.
type SinkOption func(*Sink)

// WithSinkRetry overrides the create retry policy.
func WithSinkRetry(p backoff.Policy) SinkOption {
	return func(s *Sink) {
		if p != nil {
			s.retry = p
		}
	}
}

// WithSinkLogger attaches a logger.
func WithSinkLogger(l *zap.Logger) SinkOption {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSink builds a Sink over creator.
func NewSink(creator Creator, opts ...SinkOption) *Sink {
	s := &Sink{
		creator: creator,
		retry:   backoff.Exponential{Attempts: 3, Base: 500 * time.Millisecond, Max: 8 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Forward submits one record. It reports true when the directory now holds
// the record. Invalid records and terminal 4xx answers return false with the
// error so the caller can log and move on.
func (s *Sink) Forward(ctx context.Context, p RestaurantPayload) (bool, error) {
	if err := p.Validate(); err != nil {
		metrics.ObserveRecord("invalid")
		return false, err
	}

	err := backoff.Retry(ctx, s.retry, IsTemporary, func(ctx context.Context, attempt int) error {
		err := s.creator.CreateRestaurant(ctx, p)
		if err != nil && IsTemporary(err) && attempt < s.retry.MaxAttempts() {
			s.logger.Warn("restaurant create failed, retrying",
				zap.String("name", p.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})

	switch {
	case err == nil:
		metrics.ObserveRecord("ok")
		return true, nil
	case IsDuplicate(err):
		metrics.ObserveRecord("duplicate")
		s.logger.Debug("restaurant already exists", zap.String("url", p.TripadvisorDetailPage))
		return true, nil
	case errors.Is(err, context.Canceled):
		return false, err
	default:
		metrics.ObserveRecord("failed")
		s.logger.Warn("restaurant rejected",
			zap.String("name", p.Name),
			zap.String("url", p.TripadvisorDetailPage),
			zap.Error(err),
		)
		return false, err
	}
}
