// Package listing drains the work queue: it captures each queued listing
// page, classifies the capture, forwards the restaurants it lists, and
// removes the URL once the page is known to be done.
package listing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

// Queue is the part of the work queue the orchestrator uses.
type Queue interface {
	ListByStatus(ctx context.Context, cityIDs []int64, status workqueue.Status) (map[int64][]workqueue.Item, error)
	Remove(ctx context.Context, url string) (bool, error)
}

// Sink accepts parsed restaurants.
type Sink interface {
	Forward(ctx context.Context, p directory.RestaurantPayload) (bool, error)
}

// Cities resolves the run's target cities.
type Cities interface {
	CityByGeoID(ctx context.Context, geoID string) (directory.City, error)
	SearchCities(ctx context.Context, q directory.CityQuery) ([]directory.City, error)
}

// Clock stamps incidents.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// RunParams selects what one run processes.
type RunParams struct {
	// GeoID restricts the run to one city, looked up by upstream geo id.
	GeoID string
	// Country restricts the run to the cities of one country and enables
	// the geo allow-list built from those cities.
	Country string
	// Limit caps the number of cities processed in country mode. The
	// allow-list still covers every city of the country.
	Limit int
	// Status selects which queued rows are drained; empty means pending.
	Status        workqueue.Status
	Continuous    bool
	MaxIterations int
}

// Validate rejects contradictory parameters.
func (p RunParams) Validate() error {
	if p.GeoID != "" && p.Country != "" {
		return errors.New("geo id and country are mutually exclusive")
	}
	if p.Limit < 0 || p.MaxIterations < 0 {
		return errors.New("limit and max iterations must not be negative")
	}
	if _, err := workqueue.ParseStatus(string(p.Status)); err != nil {
		return err
	}
	return nil
}

// status is the normalized Status; Validate has already rejected bad values.
func (p RunParams) status() workqueue.Status {
	s, _ := workqueue.ParseStatus(string(p.Status))
	return s
}

// Summary reports what a run did.
type Summary struct {
	RunID         string
	Iterations    int
	Processed     int
	Removed       int
	Kept          int
	RecordsOK     int
	RecordsFailed int
	Outcomes      map[Outcome]int
}

func (s *Summary) add(r urlResult) {
	s.Processed++
	if r.removed {
		s.Removed++
	} else {
		s.Kept++
	}
	s.RecordsOK += r.ok
	s.RecordsFailed += r.failed
	s.Outcomes[r.verdict.Outcome]++
}

// Orchestrator runs the listing fetch loop.
type Orchestrator struct {
	queue      Queue
	sink       Sink
	scraper    scraper.Scraper
	cities     Cities
	classifier Classifier
	attempts   backoff.Policy
	profile    scraper.Profile
	workers    int
	incidents  IncidentLog
	clock      Clock
	ids        IDGenerator
	logger     *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency sets the per-city worker count.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithAttempts sets the per-URL attempt policy.
func WithAttempts(p backoff.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.attempts = p
		}
	}
}

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithProfile sets the capture profile for listing pages.
func WithProfile(p scraper.Profile) Option {
	return func(o *Orchestrator) {
		if p != "" {
			o.profile = p
		}
	}
}

// WithIncidentLog sets where suspicious outcomes are written.
func WithIncidentLog(l IncidentLog) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.incidents = l
		}
	}
}

// WithClock injects the clock.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithIDGenerator injects the run id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

type staticID string

func (s staticID) NewID() (string, error) { return string(s), nil }

// New builds an Orchestrator.
func New(q Queue, sink Sink, scr scraper.Scraper, cities Cities, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		queue:      q,
		sink:       sink,
		scraper:    scr,
		cities:     cities,
		classifier: NewClassifier(DefaultMinBytes, DefaultChallengeMarkers),
		attempts:   backoff.Linear{Attempts: 3, Base: 2 * time.Second},
		profile:    scraper.ProfileDetailed,
		workers:    5,
		incidents:  discardLog{},
		clock:      wallClock{},
		ids:        staticID("local"),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// target is the resolved scope of a run.
type target struct {
	cityIDs []int64
	allow   AllowList
}

func (o *Orchestrator) resolve(ctx context.Context, p RunParams) (target, error) {
	switch {
	case p.GeoID != "":
		city, err := o.cities.CityByGeoID(ctx, p.GeoID)
		if err != nil {
			return target{}, fmt.Errorf("resolve geo id %s: %w", p.GeoID, err)
		}
		return target{cityIDs: []int64{city.GeonameID}}, nil
	case p.Country != "":
		cities, err := o.cities.SearchCities(ctx, directory.CityQuery{
			Country:     p.Country,
			GeoIDIsNull: directory.Bool(false),
		})
		if err != nil {
			return target{}, fmt.Errorf("resolve country %s: %w", p.Country, err)
		}
		if len(cities) == 0 {
			return target{}, fmt.Errorf("no cities with a geo id in %s: %w", p.Country, directory.ErrNotFound)
		}
		t := target{cityIDs: make([]int64, 0, len(cities))}
		geoIDs := make([]string, 0, len(cities))
		for i, c := range cities {
			if p.Limit <= 0 || i < p.Limit {
				t.cityIDs = append(t.cityIDs, c.GeonameID)
			}
			geoIDs = append(geoIDs, c.TripadvisorGeoID.String())
		}
		t.allow = NewAllowList(geoIDs...)
		return t, nil
	default:
		return target{}, nil
	}
}

// Run processes the queued URLs for the selected cities. In continuous mode
// it repeats until nothing is left or MaxIterations passes have run.
func (o *Orchestrator) Run(ctx context.Context, p RunParams) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	runID, err := o.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("run id: %w", err)
	}
	sum := Summary{RunID: runID, Outcomes: map[Outcome]int{}}
	logger := o.logger.With(zap.String("run_id", runID))

	t, err := o.resolve(ctx, p)
	if err != nil {
		return sum, err
	}
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}

	status := p.status()
	for {
		pending, err := o.queue.ListByStatus(ctx, t.cityIDs, status)
		if err != nil {
			return sum, fmt.Errorf("list %s urls: %w", status, err)
		}
		if len(pending) == 0 {
			logger.Info("no queued urls left", zap.String("status", string(status)))
			return sum, nil
		}
		sum.Iterations++
		logger.Info("starting pass", zap.Int("iteration", sum.Iterations), zap.Int("cities", len(pending)))

		cityIDs := make([]int64, 0, len(pending))
		for id := range pending {
			cityIDs = append(cityIDs, id)
		}
		slices.Sort(cityIDs)
		for _, cityID := range cityIDs {
			if err := ctx.Err(); err != nil {
				return sum, fmt.Errorf("run canceled: %w", err)
			}
			o.processCity(ctx, runID, cityID, pending[cityID], t.allow, &sum, logger)
		}

		if !p.Continuous || sum.Iterations >= maxIter {
			return sum, ctx.Err()
		}
	}
}

func (o *Orchestrator) processCity(
	ctx context.Context,
	runID string,
	cityID int64,
	items []workqueue.Item,
	allow AllowList,
	sum *Summary,
	logger *zap.Logger,
) {
	logger = logger.With(zap.Int64("city_id", cityID))
	logger.Info("processing city", zap.Int("urls", len(items)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, item := range items {
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			r := o.processURL(gctx, runID, cityID, item.URL, allow, logger)
			mu.Lock()
			sum.add(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

type urlResult struct {
	verdict Verdict
	ok      int
	failed  int
	removed bool
}

func (o *Orchestrator) processURL(
	ctx context.Context,
	runID string,
	cityID int64,
	url string,
	allow AllowList,
	logger *zap.Logger,
) urlResult {
	logger = logger.With(zap.String("url", url))
	verdict, env := o.capture(ctx, url, logger)
	metrics.ObserveURL(string(verdict.Outcome))

	res := urlResult{verdict: verdict}
	remove := false
	switch verdict.Outcome {
	case OutcomeItems:
		for _, item := range verdict.Items {
			if !allow.Allows(item.URL()) {
				logger.Debug("skipping restaurant outside target cities", zap.String("restaurant", item.URL()))
				continue
			}
			ok, err := o.sink.Forward(ctx, item.Payload(cityID))
			if ok {
				res.ok++
				continue
			}
			res.failed++
			if errors.Is(err, directory.ErrInvalidRecord) {
				logger.Debug("skipping unusable list item", zap.Error(err))
			}
		}
		remove = res.ok > 0
		if !remove {
			logger.Warn("listing yielded no accepted records", zap.Int("items", len(verdict.Items)), zap.Int("failed", res.failed))
		}
	case OutcomeEmptyConfirmed:
		remove = true
	default:
		logger.Warn("url kept in queue", zap.String("outcome", string(verdict.Outcome)), zap.String("reason", verdict.Reason))
	}

	if verdict.Outcome.Suspicious() {
		in := Incident{
			Timestamp: o.clock.Now(),
			RunID:     runID,
			URL:       url,
			Reason:    string(verdict.Outcome),
			SizeKB:    float64(env.Size()) / 1024,
			Error:     verdict.Reason,
		}
		if err := o.incidents.Record(in); err != nil {
			logger.Error("record incident", zap.Error(err))
		}
	}

	if remove {
		if _, err := o.queue.Remove(ctx, url); err != nil {
			logger.Error("remove url from queue", zap.Error(err))
			return res
		}
		res.removed = true
	}
	logger.Info("url processed",
		zap.String("outcome", string(verdict.Outcome)),
		zap.Int("records_ok", res.ok),
		zap.Bool("removed", res.removed),
	)
	return res
}

// capture scrapes url until a verdict is final or attempts run out.
func (o *Orchestrator) capture(ctx context.Context, url string, logger *zap.Logger) (Verdict, scraper.Envelope) {
	var (
		verdict Verdict
		env     scraper.Envelope
	)
	attempts := o.attempts.MaxAttempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		var err error
		env, err = o.scraper.Scrape(ctx, url, o.profile)
		switch {
		case errors.Is(err, scraper.ErrRateLimited):
			return Verdict{Outcome: OutcomeRateLimited, Reason: err.Error()}, env
		case err != nil:
			verdict = Verdict{Outcome: OutcomeError, Reason: err.Error()}
		default:
			verdict = o.classifier.Classify(env)
		}
		if !verdict.Outcome.Retryable() || ctx.Err() != nil {
			return verdict, env
		}
		if attempt < attempts {
			logger.Debug("retrying capture",
				zap.Int("attempt", attempt),
				zap.String("outcome", string(verdict.Outcome)),
				zap.String("reason", verdict.Reason),
			)
			if err := backoff.Sleep(ctx, o.attempts.Delay(attempt)); err != nil {
				return verdict, env
			}
		}
	}
	return verdict, env
}
