package workqueue

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
)

const insertSQL = `INSERT OR IGNORE INTO city_restaurant_links (geoname_id, url, status) VALUES (?, ?, ?)`

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })
	s := New(sqlx.NewDb(mockDB, "sqlite3"), WithRetryPolicy(backoff.Exponential{Attempts: 5}))
	return s, mock
}

func TestEnqueueRetriesOnBusy(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(int64(1), "u", "pending").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(int64(1), "u", "pending").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrLocked})
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs(int64(1), "u", "pending").
		WillReturnResult(sqlmock.NewResult(1, 1))

	inserted, err := s.Enqueue(context.Background(), 1, "u", StatusPending)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveGivesUpAfterFiveBusyAttempts(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	for i := 0; i < 5; i++ {
		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM city_restaurant_links WHERE url = ?`)).
			WithArgs("u").
			WillReturnError(sqlite3.Error{Code: sqlite3.ErrBusy})
	}

	removed, err := s.Remove(context.Background(), "u")
	require.Error(t, err)
	assert.False(t, removed)
	assert.ErrorIs(t, err, ErrBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNonBusyErrorsAreNotRetried(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	boom := errors.New("disk I/O error")
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM city_restaurant_links WHERE url = ?`)).
		WithArgs("u").
		WillReturnError(boom)

	_, err := s.Remove(context.Background(), "u")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrBusy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCorruptionIsClassified(t *testing.T) {
	t.Parallel()
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrCorrupt})

	_, err := s.Enqueue(context.Background(), 1, "u", StatusPending)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestIsBusy(t *testing.T) {
	t.Parallel()

	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsBusy(errors.Join(errors.New("ctx"), sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(errors.New("busy")))
}
