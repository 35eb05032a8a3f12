package linkgen

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
)

// Cities lists the cities to seed.
type Cities interface {
	SearchCities(ctx context.Context, q directory.CityQuery) ([]directory.City, error)
}

// Queue receives generated URLs.
type Queue interface {
	EnqueueBatch(ctx context.Context, cityID int64, urls []string) (int, error)
}

// SeedParams selects the cities whose listing URLs are queued.
type SeedParams struct {
	Country string
	// Exclude lists country codes to skip.
	Exclude []string
	Limit   int
}

// SeedSummary counts what a seeding pass did.
type SeedSummary struct {
	Cities    int
	Skipped   int
	Generated int
	Inserted  int
}

// Seeder queues the listing URLs of every city with a geo id and a result
// count. URLs already queued are left as they are.
type Seeder struct {
	gen    Generator
	cities Cities
	queue  Queue
	logger *zap.Logger
}

// NewSeeder builds a Seeder.
func NewSeeder(gen Generator, cities Cities, queue Queue, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{gen: gen, cities: cities, queue: queue, logger: logger}
}

// Seed runs one pass.
func (s *Seeder) Seed(ctx context.Context, p SeedParams) (SeedSummary, error) {
	cities, err := s.cities.SearchCities(ctx, directory.CityQuery{
		Country:           p.Country,
		RestaurantsIsNull: directory.Bool(false),
		GeoIDIsNull:       directory.Bool(false),
		Limit:             p.Limit,
	})
	if err != nil {
		return SeedSummary{}, fmt.Errorf("list cities to seed: %w", err)
	}
	excluded := make(map[string]bool, len(p.Exclude))
	for _, code := range p.Exclude {
		excluded[strings.ToUpper(strings.TrimSpace(code))] = true
	}

	var sum SeedSummary
	for _, city := range cities {
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("seed canceled: %w", err)
		}
		code := strings.ToUpper(city.CountryCode)
		if code == "" {
			code = city.Country.Code
		}
		urls := s.gen.Generate(City{GeoID: city.TripadvisorGeoID.String(), Results: city.Results()})
		if excluded[code] || len(urls) == 0 || city.GeonameID == 0 {
			sum.Skipped++
			continue
		}
		inserted, err := s.queue.EnqueueBatch(ctx, city.GeonameID, urls)
		if err != nil {
			return sum, fmt.Errorf("enqueue city %d: %w", city.GeonameID, err)
		}
		sum.Cities++
		sum.Generated += len(urls)
		sum.Inserted += inserted
		s.logger.Debug("city seeded",
			zap.Int64("city_id", city.GeonameID),
			zap.String("city", city.Name),
			zap.Int("urls", len(urls)),
			zap.Int("inserted", inserted),
		)
	}
	s.logger.Info("links seeded",
		zap.Int("cities", sum.Cities),
		zap.Int("skipped", sum.Skipped),
		zap.Int("generated", sum.Generated),
		zap.Int("inserted", sum.Inserted),
	)
	return sum, nil
}
