package resultcount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/linkgen"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
)

// ErrUnparsable means the page was fetched but carried no total.
var ErrUnparsable = errors.New("resultcount: no result total on page")

// Cities is the directory surface the updater needs.
type Cities interface {
	SearchCities(ctx context.Context, q directory.CityQuery) ([]directory.City, error)
	CityByGeoID(ctx context.Context, geoID string) (directory.City, error)
	UpdateCityResults(ctx context.Context, geonameID int64, results int) error
}

// Params selects the cities to refresh.
type Params struct {
	GeoID           string
	Country         string
	ZeroResultsOnly bool
	Limit           int
}

// Validate rejects flag combinations that make no sense together.
func (p Params) Validate() error {
	if p.GeoID != "" && (p.Country != "" || p.ZeroResultsOnly) {
		return errors.New("geo id cannot be combined with country or zero-results-only")
	}
	if p.Limit < 0 {
		return errors.New("limit must not be negative")
	}
	return nil
}

func (p Params) query() directory.CityQuery {
	if p.ZeroResultsOnly {
		return directory.CityQuery{
			Country:              p.Country,
			MaxRestaurants:       directory.Int(0),
			RestaurantsURLIsNull: directory.Bool(false),
			GeoIDIsNull:          directory.Bool(false),
			Limit:                p.Limit,
		}
	}
	return directory.CityQuery{
		Country:     p.Country,
		GeoIDIsNull: directory.Bool(false),
		Limit:       p.Limit,
	}
}

// Result is the outcome for one city.
type Result struct {
	City  directory.City
	Count int
	Err   error
}

// Summary aggregates a run.
type Summary struct {
	Processed int
	Updated   int
	Failed    int
	Results   []Result
}

// Updater refreshes city result totals.
type Updater struct {
	cities  Cities
	scraper scraper.Scraper
	links   linkgen.Generator
	workers int
	logger  *zap.Logger
}

// Option customizes an Updater.
type Option func(*Updater)

// WithConcurrency bounds the number of cities processed at once.
func WithConcurrency(n int) Option {
	return func(u *Updater) {
		if n > 0 {
			u.workers = n
		}
	}
}

// WithGenerator overrides the listing URL generator.
func WithGenerator(g linkgen.Generator) Option {
	return func(u *Updater) { u.links = g }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(u *Updater) {
		if l != nil {
			u.logger = l
		}
	}
}

// NewUpdater builds an Updater.
func NewUpdater(cities Cities, scr scraper.Scraper, opts ...Option) *Updater {
	u := &Updater{
		cities:  cities,
		scraper: scr,
		links:   linkgen.Default(),
		workers: 10,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Updater) selectCities(ctx context.Context, p Params) ([]directory.City, error) {
	if p.GeoID != "" {
		city, err := u.cities.CityByGeoID(ctx, p.GeoID)
		if err != nil {
			return nil, fmt.Errorf("resolve geo id %s: %w", p.GeoID, err)
		}
		return []directory.City{city}, nil
	}
	cities, err := u.cities.SearchCities(ctx, p.query())
	if err != nil {
		return nil, fmt.Errorf("select cities: %w", err)
	}
	return cities, nil
}

// Run refreshes every selected city. Per-city failures are reported in the
// summary; only selection errors abort the run.
func (u *Updater) Run(ctx context.Context, p Params) (Summary, error) {
	if err := p.Validate(); err != nil {
		return Summary{}, err
	}
	cities, err := u.selectCities(ctx, p)
	if err != nil {
		return Summary{}, err
	}
	u.logger.Info("refreshing result totals", zap.Int("cities", len(cities)))

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.workers)
	for _, city := range cities {
		g.Go(func() error {
			n, err := u.Refresh(gctx, city)
			mu.Lock()
			defer mu.Unlock()
			sum.Processed++
			sum.Results = append(sum.Results, Result{City: city, Count: n, Err: err})
			if err != nil {
				sum.Failed++
				u.logger.Warn("result total not updated",
					zap.Int64("city_id", city.GeonameID),
					zap.String("city", city.Name),
					zap.Error(err),
				)
				return nil
			}
			sum.Updated++
			u.logger.Info("result total updated",
				zap.Int64("city_id", city.GeonameID),
				zap.String("city", city.Name),
				zap.Int("results", n),
			)
			return nil
		})
	}
	_ = g.Wait()
	return sum, ctx.Err()
}

// Refresh fetches, parses and stores one city's total.
func (u *Updater) Refresh(ctx context.Context, city directory.City) (int, error) {
	geo := city.TripadvisorGeoID.String()
	if geo == "" || city.GeonameID == 0 {
		return 0, errors.New("city is missing its geo id")
	}
	env, err := u.scraper.Scrape(ctx, u.links.FirstPage(geo), scraper.ProfileResults)
	if err != nil {
		return 0, fmt.Errorf("fetch listing: %w", err)
	}
	if env.Status != http.StatusOK || env.Error != "" {
		return 0, fmt.Errorf("fetch listing: status %d %s", env.Status, env.Error)
	}
	n, ok := ParseTotal(env.Content)
	if !ok {
		return 0, ErrUnparsable
	}
	if err := u.cities.UpdateCityResults(ctx, city.GeonameID, n); err != nil {
		return n, fmt.Errorf("store total: %w", err)
	}
	return n, nil
}
