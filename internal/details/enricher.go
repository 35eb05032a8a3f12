package details

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/publisher"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/storage"
)

// Directory is the restaurant surface the enricher needs.
type Directory interface {
	RandomRestaurant(ctx context.Context, country string) (directory.Restaurant, bool, error)
	UpdateRestaurant(ctx context.Context, id int64, fields map[string]any) error
}

// Clock stamps snapshots and last_scraped.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Record is the archived snapshot of one restaurant.
type Record struct {
	RunID          string    `json:"run_id"`
	RestaurantID   int64     `json:"restaurant_id"`
	RestaurantName string    `json:"restaurant_name"`
	TripadvisorURL string    `json:"tripadvisor_url"`
	FinalURL       string    `json:"final_url"`
	HTTPStatus     int       `json:"http_status"`
	ScrapedAt      time.Time `json:"scraped_at"`
	Details        Details   `json:"details"`
}

// Notification announces an archived snapshot.
type Notification struct {
	RunID        string `json:"run_id"`
	RestaurantID int64  `json:"restaurant_id"`
	Status       Status `json:"status"`
	URI          string `json:"uri"`
}

// Summary counts what a run did.
type Summary struct {
	RunID     string
	Processed int
	Statuses  map[Status]int
}

// Enricher renders never-scraped restaurants one at a time.
type Enricher struct {
	dir       Directory
	renderer  Renderer
	blobs     storage.BlobStore
	publisher publisher.Publisher
	topic     string
	prefix    string
	idle      time.Duration
	failure   time.Duration
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithPublisher announces archived snapshots on topic.
func WithPublisher(p publisher.Publisher, topic string) Option {
	return func(e *Enricher) {
		if p != nil && topic != "" {
			e.publisher, e.topic = p, topic
		}
	}
}

// WithPathPrefix sets the object prefix of snapshots.
func WithPathPrefix(prefix string) Option {
	return func(e *Enricher) { e.prefix = prefix }
}

// WithDelays sets the pause when no restaurant is available and the pause
// after an unsuccessful page.
func WithDelays(idle, failure time.Duration) Option {
	return func(e *Enricher) {
		e.idle, e.failure = idle, failure
	}
}

// WithClock injects the clock.
func WithClock(c Clock) Option {
	return func(e *Enricher) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithIDGenerator injects the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Enricher) {
		if g != nil {
			e.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Enricher) {
		if l != nil {
			e.logger = l
		}
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

// NewEnricher builds an Enricher. Without WithPublisher nothing is
// announced.
func NewEnricher(dir Directory, r Renderer, blobs storage.BlobStore, opts ...Option) *Enricher {
	e := &Enricher{
		dir:       dir,
		renderer:  r,
		blobs:     blobs,
		publisher: publisher.Nop{},
		prefix:    "restaurants",
		idle:      60 * time.Second,
		failure:   10 * time.Second,
		clock:     wallClock{},
		ids:       staticID("local"),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes restaurants of country until limit have been handled or ctx
// ends. With limit <= 0 it runs until canceled and waits for new
// restaurants when none are left; with a positive limit it returns once the
// directory has nothing left to give.
func (e *Enricher) Run(ctx context.Context, country string, limit int) (Summary, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	sum := Summary{RunID: runID, Statuses: map[Status]int{}}
	logger := e.logger.With(zap.String("run_id", runID), zap.String("country", country))

	for limit <= 0 || sum.Processed < limit {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("details canceled: %w", err)
		}
		rest, ok, err := e.dir.RandomRestaurant(ctx, country)
		if err != nil {
			logger.Error("fetch restaurant", zap.Error(err))
			if err := backoff.Sleep(ctx, e.failure); err != nil {
				return sum, err
			}
			continue
		}
		if !ok {
			if limit > 0 {
				logger.Info("no restaurants left to enrich")
				break
			}
			logger.Info("no restaurants available, waiting", zap.Duration("delay", e.idle))
			if err := backoff.Sleep(ctx, e.idle); err != nil {
				return sum, err
			}
			continue
		}

		status := e.process(ctx, runID, rest, logger)
		sum.Processed++
		sum.Statuses[status]++
		metrics.ObserveDetail(string(status))
		if status != StatusSuccess {
			if err := backoff.Sleep(ctx, e.failure); err != nil {
				return sum, err
			}
		}
	}
	logger.Info("details run finished",
		zap.Int("processed", sum.Processed),
		zap.Int("success", sum.Statuses[StatusSuccess]),
	)
	return sum, nil
}

// process handles one restaurant and returns its status.
func (e *Enricher) process(ctx context.Context, runID string, rest directory.Restaurant, logger *zap.Logger) Status {
	logger = logger.With(zap.Int64("restaurant_id", rest.ID), zap.String("url", rest.TripadvisorDetailPage))
	if rest.TripadvisorDetailPage == "" {
		logger.Warn("restaurant has no detail page")
		return StatusFailed
	}

	snap, err := e.renderer.Render(ctx, rest.TripadvisorDetailPage)
	if err != nil {
		logger.Error("render detail page", zap.Error(err))
		return StatusFailed
	}
	d, err := Extract(snap.HTML)
	if err != nil {
		logger.Error("extract detail page", zap.Error(err))
		return StatusFailed
	}
	logger = logger.With(zap.String("status", string(d.Status)))
	if d.Status == StatusNoData {
		logger.Warn("no data extracted", zap.Int("http_status", snap.Status))
		return d.Status
	}

	now := e.clock.Now()
	rec := Record{
		RunID:          runID,
		RestaurantID:   rest.ID,
		RestaurantName: rest.Name,
		TripadvisorURL: rest.TripadvisorDetailPage,
		FinalURL:       snap.URL,
		HTTPStatus:     snap.Status,
		ScrapedAt:      now,
		Details:        d,
	}
	uri, err := e.archive(ctx, rec)
	if err != nil {
		logger.Error("archive snapshot", zap.Error(err))
		return StatusFailed
	}
	logger.Info("snapshot archived", zap.String("uri", uri))

	if d.Status != StatusSuccess {
		return d.Status
	}
	if e.topic != "" {
		msgID, err := e.publisher.Publish(ctx, e.topic, Notification{
			RunID: runID, RestaurantID: rest.ID, Status: d.Status, URI: uri,
		})
		if err != nil {
			logger.Warn("publish notification", zap.Error(err))
		} else {
			logger.Debug("notification published", zap.String("message_id", msgID))
		}
	}
	err = e.dir.UpdateRestaurant(ctx, rest.ID, map[string]any{"last_scraped": now.Format(time.RFC3339)})
	if err != nil {
		logger.Error("update last_scraped", zap.Error(err))
		return StatusFailed
	}
	return d.Status
}

func (e *Enricher) archive(ctx context.Context, rec Record) (string, error) {
	if e.blobs == nil {
		return "", errors.New("no blob store configured")
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	path := storage.SnapshotPath(e.prefix, rec.RestaurantID, rec.RunID)
	return e.blobs.PutObject(ctx, path, "application/json", bytes.NewReader(body))
}
