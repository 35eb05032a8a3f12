// Package audit compares the result totals recorded on cities with the
// number of restaurants actually ingested for them.
package audit

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
)

// Verdict classifies one city.
type Verdict string

const (
	VerdictOK    Verdict = "ok"
	VerdictUnder Verdict = "under"
	VerdictOver  Verdict = "over"
	VerdictError Verdict = "error"
)

// DefaultTolerance is the accepted relative difference.
const DefaultTolerance = 0.05

// Directory is what the audit reads.
type Directory interface {
	SearchCities(ctx context.Context, q directory.CityQuery) ([]directory.City, error)
	CountRestaurants(ctx context.Context, geonameID int64) (int, error)
}

// Row is the audit result for one city.
type Row struct {
	CityID    int64
	City      string
	Country   string
	Expected  int
	Actual    int
	Tolerance int
	Verdict   Verdict
	Err       error
}

// Diff is Actual minus Expected.
func (r Row) Diff() int { return r.Actual - r.Expected }

// Report is a whole audit.
type Report struct {
	Rows          []Row
	Valid         int
	Invalid       int
	TotalExpected int
	TotalActual   int
}

// Classify applies the tolerance band. The band is at least one restaurant
// wide so small cities are not flagged for an off-by-one.
func Classify(expected, actual int, tolerance float64) (Verdict, int) {
	band := max(1, int(float64(expected)*tolerance))
	switch {
	case actual < expected-band:
		return VerdictUnder, band
	case actual > expected+band:
		return VerdictOver, band
	default:
		return VerdictOK, band
	}
}

// Auditor runs audits.
type Auditor struct {
	dir       Directory
	tolerance float64
	workers   int
	logger    *zap.Logger
}

// New builds an Auditor. Non-positive tolerance or workers pick the defaults.
func New(dir Directory, tolerance float64, workers int, logger *zap.Logger) *Auditor {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if workers <= 0 {
		workers = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{dir: dir, tolerance: tolerance, workers: workers, logger: logger}
}

// Run audits every city with a geo id and at least one expected result,
// optionally limited to a country and a number of cities.
func (a *Auditor) Run(ctx context.Context, country string, limit int) (Report, error) {
	cities, err := a.dir.SearchCities(ctx, directory.CityQuery{
		Country:        country,
		GeoIDIsNull:    directory.Bool(false),
		MinRestaurants: directory.Int(1),
		Limit:          limit,
	})
	if err != nil {
		return Report{}, fmt.Errorf("list audited cities: %w", err)
	}

	var (
		mu   sync.Mutex
		rows = make([]Row, 0, len(cities))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, city := range cities {
		g.Go(func() error {
			row := a.audit(gctx, city)
			mu.Lock()
			rows = append(rows, row)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, fmt.Errorf("audit canceled: %w", err)
	}

	slices.SortFunc(rows, func(x, y Row) int {
		switch {
		case x.CityID < y.CityID:
			return -1
		case x.CityID > y.CityID:
			return 1
		default:
			return 0
		}
	})
	rep := Report{Rows: rows}
	for _, r := range rows {
		if r.Verdict == VerdictOK {
			rep.Valid++
		} else {
			rep.Invalid++
		}
		if r.Err == nil {
			rep.TotalExpected += r.Expected
			rep.TotalActual += r.Actual
		}
	}
	a.logger.Info("audit finished",
		zap.Int("cities", len(rows)),
		zap.Int("valid", rep.Valid),
		zap.Int("invalid", rep.Invalid),
		zap.Int("expected", rep.TotalExpected),
		zap.Int("actual", rep.TotalActual),
	)
	return rep, nil
}

func (a *Auditor) audit(ctx context.Context, city directory.City) Row {
	row := Row{
		CityID:   city.GeonameID,
		City:     city.Name,
		Country:  city.CountryName(),
		Expected: city.Results(),
	}
	actual, err := a.dir.CountRestaurants(ctx, city.GeonameID)
	if err != nil {
		row.Verdict, row.Err = VerdictError, err
		a.logger.Warn("count restaurants", zap.Int64("city_id", city.GeonameID), zap.Error(err))
		return row
	}
	row.Actual = actual
	row.Verdict, row.Tolerance = Classify(row.Expected, actual, a.tolerance)
	a.logger.Info("city audited",
		zap.Int64("city_id", row.CityID),
		zap.String("city", row.City),
		zap.Int("expected", row.Expected),
		zap.Int("actual", row.Actual),
		zap.String("verdict", string(row.Verdict)),
	)
	return row
}
