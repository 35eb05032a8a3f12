// Package workqueue persists the per-city listing URLs still waiting to be
// scraped. It is a single SQLite table keyed by URL and shared by every
// orchestrator process on the host.
package workqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
)

const schema = `CREATE TABLE IF NOT EXISTS city_restaurant_links (
	geoname_id INTEGER,
	url        TEXT UNIQUE,
	status     TEXT
)`

// Status is the lifecycle state of a queued URL.
type Status string

const (
	// StatusPending marks a URL waiting to be scraped.
	StatusPending Status = "pending"
	// StatusInProgress marks a URL claimed by a worker.
	StatusInProgress Status = "in_progress"
	// StatusCompleted marks a URL kept for bookkeeping after processing.
	StatusCompleted Status = "completed"
)

// ParseStatus validates a status supplied on the command line.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return s, nil
	case "":
		return StatusPending, nil
	default:
		return "", fmt.Errorf("unknown status %q (want pending, in_progress or completed)", raw)
	}
}

// Item is one row of the queue.
type Item struct {
	CityID int64  `db:"geoname_id"`
	URL    string `db:"url"`
	Status Status `db:"status"`
}

// StatusCount aggregates the queue per city and status.
type StatusCount struct {
	CityID int64  `db:"geoname_id"`
	Status Status `db:"status"`
	Total  int    `db:"total"`
}

// UpdateParams selects the columns Update rewrites. Nil fields are left alone.
type UpdateParams struct {
	CityID *int64
	Status *Status
}

var (
	// ErrNothingToUpdate is returned by Update when no field was supplied.
	ErrNothingToUpdate = errors.New("workqueue: no fields to update")
	// ErrBusy wraps the final lock-contention error once retries are exhausted.
	ErrBusy = errors.New("workqueue: database busy")
	// ErrCorrupt reports an unreadable database file.
	ErrCorrupt = errors.New("workqueue: database file is corrupt or not a database")
)

// Store is the SQLite-backed work queue.
type Store struct {
	db     *sqlx.DB
	retry  backoff.Policy
	logger *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithRetryPolicy overrides the lock-contention retry policy.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(s *Store) {
		if p != nil {
			s.retry = p
		}
	}
}

// WithLogger attaches a logger for retry diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// DefaultRetryPolicy retries busy writes five times starting at 100ms.
func DefaultRetryPolicy() backoff.Policy {
	return backoff.Exponential{Attempts: 5, Base: 100 * time.Millisecond}
}

// DSN builds the go-sqlite3 connection string. WAL journaling keeps readers
// from waiting on writers and busy_timeout lets SQLite absorb short lock waits
// before the Store-level retry kicks in.
func DSN(path string, busyTimeout time.Duration) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		path, busyTimeout.Milliseconds())
}

// Open connects to the queue database at path and creates the table when missing.
func Open(ctx context.Context, path string, busyTimeout time.Duration, opts ...Option) (*Store, error) {
	db, err := sqlx.Open("sqlite3", DSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	s := New(db, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection. The schema is not touched.
func New(db *sqlx.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		retry:  DefaultRetryPolicy(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the queue table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.do(ctx, "schema", func(ctx context.Context) error {
		if _, err := s.db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close queue database: %w", err)
	}
	return nil
}

// Enqueue inserts url for cityID. It reports false without error when the URL
// is already queued.
func (s *Store) Enqueue(ctx context.Context, cityID int64, url string, status Status) (bool, error) {
	if status == "" {
		status = StatusPending
	}
	var inserted bool
	err := s.do(ctx, "enqueue", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO city_restaurant_links (geoname_id, url, status) VALUES (?, ?, ?)`,
			cityID, url, string(status))
		if err != nil {
			return fmt.Errorf("enqueue %s: %w", url, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("enqueue rows affected: %w", err)
		}
		inserted = n > 0
		return nil
	})
	return inserted, err
}

// EnqueueBatch inserts every URL as pending inside one transaction and returns
// how many were new.
func (s *Store) EnqueueBatch(ctx context.Context, cityID int64, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	var inserted int
	err := s.do(ctx, "enqueue_batch", func(ctx context.Context) error {
		inserted = 0
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PreparexContext(ctx,
			`INSERT OR IGNORE INTO city_restaurant_links (geoname_id, url, status) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, u := range urls {
			res, err := stmt.ExecContext(ctx, cityID, u, string(StatusPending))
			if err != nil {
				return fmt.Errorf("enqueue %s: %w", u, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		return nil
	})
	return inserted, err
}

// ListByStatus returns the URLs with the given status grouped by city, each
// group ordered by URL. An empty cityIDs slice selects every city.
func (s *Store) ListByStatus(ctx context.Context, cityIDs []int64, status Status) (map[int64][]Item, error) {
	query := `SELECT geoname_id, url, status FROM city_restaurant_links WHERE status = ?`
	args := []any{string(status)}
	if len(cityIDs) > 0 {
		q, a, err := sqlx.In(query+` AND geoname_id IN (?)`, string(status), cityIDs)
		if err != nil {
			return nil, fmt.Errorf("expand city ids: %w", err)
		}
		query, args = s.db.Rebind(q), a
	}
	query += ` ORDER BY url`

	var rows []Item
	err := s.do(ctx, "list", func(ctx context.Context) error {
		rows = rows[:0]
		if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
			return fmt.Errorf("list by status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[int64][]Item)
	for _, item := range rows {
		out[item.CityID] = append(out[item.CityID], item)
	}
	return out, nil
}

// Get fetches one row. The bool is false when the URL is not queued.
func (s *Store) Get(ctx context.Context, url string) (Item, bool, error) {
	var item Item
	var found bool
	err := s.do(ctx, "get", func(ctx context.Context) error {
		var rows []Item
		if err := s.db.SelectContext(ctx, &rows,
			`SELECT geoname_id, url, status FROM city_restaurant_links WHERE url = ?`, url); err != nil {
			return fmt.Errorf("get %s: %w", url, err)
		}
		if len(rows) > 0 {
			item, found = rows[0], true
		}
		return nil
	})
	return item, found, err
}

// Remove deletes url and reports whether a row existed.
func (s *Store) Remove(ctx context.Context, url string) (bool, error) {
	var removed bool
	err := s.do(ctx, "remove", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM city_restaurant_links WHERE url = ?`, url)
		if err != nil {
			return fmt.Errorf("remove %s: %w", url, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("remove rows affected: %w", err)
		}
		removed = n > 0
		return nil
	})
	return removed, err
}

// Update rewrites the city and/or status of url. It reports false when the
// URL is absent and ErrNothingToUpdate when params selects no column.
func (s *Store) Update(ctx context.Context, url string, params UpdateParams) (bool, error) {
	var sets []string
	var args []any
	if params.CityID != nil {
		sets = append(sets, "geoname_id = ?")
		args = append(args, *params.CityID)
	}
	if params.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*params.Status))
	}
	if len(sets) == 0 {
		return false, ErrNothingToUpdate
	}
	args = append(args, url)
	query := `UPDATE city_restaurant_links SET ` + strings.Join(sets, ", ") + ` WHERE url = ?`

	var updated bool
	err := s.do(ctx, "update", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update %s: %w", url, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update rows affected: %w", err)
		}
		updated = n > 0
		return nil
	})
	return updated, err
}

// Reassign moves every URL of one city to another, used when two city records
// are merged in the directory.
func (s *Store) Reassign(ctx context.Context, fromCityID, toCityID int64) (int64, error) {
	var moved int64
	err := s.do(ctx, "reassign", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE city_restaurant_links SET geoname_id = ? WHERE geoname_id = ?`, toCityID, fromCityID)
		if err != nil {
			return fmt.Errorf("reassign %d to %d: %w", fromCityID, toCityID, err)
		}
		moved, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reassign rows affected: %w", err)
		}
		return nil
	})
	return moved, err
}

// Stats counts the queue per city and status.
func (s *Store) Stats(ctx context.Context) ([]StatusCount, error) {
	var out []StatusCount
	err := s.do(ctx, "stats", func(ctx context.Context) error {
		out = out[:0]
		if err := s.db.SelectContext(ctx, &out,
			`SELECT geoname_id, status, COUNT(*) AS total FROM city_restaurant_links
			 GROUP BY geoname_id, status ORDER BY geoname_id, status`); err != nil {
			return fmt.Errorf("queue stats: %w", err)
		}
		return nil
	})
	return out, err
}
