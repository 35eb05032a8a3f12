package geoid

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
)

// Searcher looks places up by free text.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Location, error)
}

// Cities is the directory surface the resolver needs.
type Cities interface {
	SearchCities(ctx context.Context, q directory.CityQuery) ([]directory.City, error)
	UpdateCityGeoID(ctx context.Context, geonameID int64, geoID string) error
	MarkCityScraped(ctx context.Context, geonameID int64) error
	SearchRestaurants(ctx context.Context, geonameID int64) ([]directory.Restaurant, error)
	DeleteRestaurant(ctx context.Context, id int64) error
}

// Match returns the id of the first location whose name and country both
// equal the city's.
func Match(city directory.City, locs []Location) (string, bool) {
	country := city.CountryName()
	for _, loc := range locs {
		if loc.LocationID == "" {
			continue
		}
		if sameName(loc.Name, city.Name) && sameName(loc.AddressObj.Country, country) {
			return loc.LocationID.String(), true
		}
	}
	return "", false
}

// Summary counts what a resolve or check pass did.
type Summary struct {
	Processed  int
	Resolved   int
	Unmatched  int
	Failed     int
	Mismatches []Mismatch
}

// Mismatch is a city whose stored id disagrees with the search.
type Mismatch struct {
	City        directory.City
	Current     string
	Found       string
	Restaurants int
	Applied     bool
}

// CheckParams selects the cities re-validated by Check.
type CheckParams struct {
	Country string
	Limit   int
	// Apply deletes the city's restaurants and stores the found id.
	Apply bool
}

// Resolver ties the search to the directory.
type Resolver struct {
	cities   Cities
	searcher Searcher
	pause    time.Duration
	logger   *zap.Logger
}

// NewResolver builds a Resolver that waits pause between searches.
func NewResolver(cities Cities, searcher Searcher, pause time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cities: cities, searcher: searcher, pause: pause, logger: logger}
}

// Resolve looks up every never-scraped city without a geo id. Each visited
// city is marked scraped, matched or not, so the next run moves on.
func (r *Resolver) Resolve(ctx context.Context, limit int) (Summary, error) {
	cities, err := r.cities.SearchCities(ctx, directory.CityQuery{
		GeoIDIsNull:  directory.Bool(true),
		NeverScraped: true,
		Limit:        limit,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("list cities without geo id: %w", err)
	}
	r.logger.Info("resolving geo ids", zap.Int("cities", len(cities)))

	var sum Summary
	for i, city := range cities {
		if err := r.wait(ctx, i); err != nil {
			return sum, err
		}
		sum.Processed++
		query := Fold(city.SearchString())
		logger := r.logger.With(zap.Int64("city_id", city.GeonameID), zap.String("query", query))

		id, err := r.lookup(ctx, city, query)
		switch {
		case err != nil:
			sum.Failed++
			logger.Error("location search failed", zap.Error(err))
		case id == "":
			sum.Unmatched++
			logger.Warn("no exact location match")
		default:
			if err := r.cities.UpdateCityGeoID(ctx, city.GeonameID, id); err != nil {
				sum.Failed++
				logger.Error("store geo id", zap.String("geo_id", id), zap.Error(err))
				break
			}
			sum.Resolved++
			logger.Info("geo id resolved", zap.String("geo_id", id))
		}
		r.markScraped(ctx, city, logger)
	}
	return sum, nil
}

// Check re-runs the search for cities that already have a geo id and reports
// the ones that now resolve differently.
func (r *Resolver) Check(ctx context.Context, p CheckParams) (Summary, error) {
	cities, err := r.cities.SearchCities(ctx, directory.CityQuery{
		Country:     p.Country,
		GeoIDIsNull: directory.Bool(false),
		Limit:       p.Limit,
	})
	if err != nil {
		return Summary{}, fmt.Errorf("list cities with geo id: %w", err)
	}
	r.logger.Info("checking geo ids", zap.Int("cities", len(cities)), zap.Bool("apply", p.Apply))

	var sum Summary
	for i, city := range cities {
		if err := r.wait(ctx, i); err != nil {
			return sum, err
		}
		sum.Processed++
		current := city.TripadvisorGeoID.String()
		query := Fold(city.SearchString())
		logger := r.logger.With(
			zap.Int64("city_id", city.GeonameID),
			zap.String("query", query),
			zap.String("current", current),
		)

		found, err := r.lookup(ctx, city, query)
		switch {
		case err != nil:
			sum.Failed++
			logger.Error("location search failed", zap.Error(err))
		case found == "":
			sum.Unmatched++
		case found == current:
			sum.Resolved++
			logger.Debug("geo id confirmed")
		default:
			m, err := r.mismatch(ctx, city, current, found, p.Apply, logger)
			if err != nil {
				sum.Failed++
				logger.Error("apply geo id change", zap.Error(err))
			}
			sum.Mismatches = append(sum.Mismatches, m)
		}
		r.markScraped(ctx, city, logger)
	}
	return sum, nil
}

func (r *Resolver) mismatch(
	ctx context.Context,
	city directory.City,
	current, found string,
	apply bool,
	logger *zap.Logger,
) (Mismatch, error) {
	m := Mismatch{City: city, Current: current, Found: found}
	restaurants, err := r.cities.SearchRestaurants(ctx, city.GeonameID)
	if err != nil {
		return m, fmt.Errorf("list restaurants: %w", err)
	}
	m.Restaurants = len(restaurants)
	logger.Warn("geo id mismatch",
		zap.String("found", found),
		zap.Int("restaurants", m.Restaurants),
		zap.String("old_url", "https://www.tripadvisor.com/FindRestaurants?geo="+current),
		zap.String("new_url", "https://www.tripadvisor.com/FindRestaurants?geo="+found),
	)
	if !apply {
		return m, nil
	}
	for _, rest := range restaurants {
		if err := r.cities.DeleteRestaurant(ctx, rest.ID); err != nil {
			return m, fmt.Errorf("delete restaurant %d: %w", rest.ID, err)
		}
	}
	if err := r.cities.UpdateCityGeoID(ctx, city.GeonameID, found); err != nil {
		return m, fmt.Errorf("store geo id: %w", err)
	}
	m.Applied = true
	return m, nil
}

func (r *Resolver) lookup(ctx context.Context, city directory.City, query string) (string, error) {
	locs, err := r.searcher.Search(ctx, query)
	if err != nil {
		return "", err
	}
	id, _ := Match(city, locs)
	return id, nil
}

func (r *Resolver) wait(ctx context.Context, i int) error {
	if i == 0 {
		return ctx.Err()
	}
	if err := backoff.Sleep(ctx, r.pause); err != nil {
		return fmt.Errorf("pause between searches: %w", err)
	}
	return nil
}

func (r *Resolver) markScraped(ctx context.Context, city directory.City, logger *zap.Logger) {
	if err := r.cities.MarkCityScraped(ctx, city.GeonameID); err != nil {
		logger.Error("mark city scraped", zap.Error(err))
	}
}
