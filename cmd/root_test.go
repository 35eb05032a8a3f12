package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/app"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/config"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

// withTestApp points the app factory at a container backed by a temporary
// queue database and returns that container.
func withTestApp(t *testing.T) *app.App {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Directory: config.DirectoryConfig{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1, PageSize: 10},
		Scraper:   config.ScraperConfig{Backend: "direct", TimeoutSeconds: 5},
		Queue: config.QueueConfig{
			Path:          filepath.Join(dir, "queue.db"),
			BusyTimeoutMs: 100,
			MaxAttempts:   2,
			BaseDelayMs:   1,
		},
		Sink:    config.SinkConfig{MaxAttempts: 1},
		Storage: config.StorageConfig{Backend: "memory"},
	}
	instance, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, instance.Close()) })

	prev := newApp
	newApp = func(context.Context, string) (*app.App, error) { return instance, nil }
	t.Cleanup(func() { newApp = prev })
	return instance
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&rootOptions{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedQueue(t *testing.T, a *app.App) *workqueue.Store {
	t.Helper()
	q, err := a.Queue(context.Background())
	require.NoError(t, err)
	_, err = q.EnqueueBatch(context.Background(), 10, []string{
		"https://www.tripadvisor.com/Restaurants-g1-Here.html",
		"https://www.tripadvisor.com/Restaurants-g1-oa30-Here.html",
	})
	require.NoError(t, err)
	_, err = q.EnqueueBatch(context.Background(), 20, []string{
		"https://www.tripadvisor.com/Restaurants-g2-There.html",
	})
	require.NoError(t, err)
	return q
}

func TestQueueStats(t *testing.T) {
	a := withTestApp(t)
	seedQueue(t, a)

	out, err := run(t, "queue", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "CITY")
	assert.Regexp(t, `10\W+pending\W+2`, out)
	assert.Regexp(t, `20\W+pending\W+1`, out)
	assert.Contains(t, out, "3 urls")
}

func TestQueueListFiltersByCity(t *testing.T) {
	a := withTestApp(t)
	seedQueue(t, a)

	out, err := run(t, "queue", "list", "--city", "20")
	require.NoError(t, err)
	assert.Equal(t, "20\thttps://www.tripadvisor.com/Restaurants-g2-There.html\n", out)

	_, err = run(t, "queue", "list", "--status", "done")
	assert.Error(t, err)
}

func TestQueueSetAndRemove(t *testing.T) {
	a := withTestApp(t)
	q := seedQueue(t, a)
	ctx := context.Background()
	url := "https://www.tripadvisor.com/Restaurants-g2-There.html"

	_, err := run(t, "queue", "set", url, "--status", "completed", "--city", "30")
	require.NoError(t, err)
	item, ok, err := q.Get(ctx, url)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workqueue.StatusCompleted, item.Status)
	assert.Equal(t, int64(30), item.CityID)

	_, err = run(t, "queue", "set", url)
	assert.ErrorIs(t, err, workqueue.ErrNothingToUpdate)

	_, err = run(t, "queue", "remove", url)
	require.NoError(t, err)
	_, ok, err = q.Get(ctx, url)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = run(t, "queue", "remove", url)
	assert.ErrorContains(t, err, "not queued")
}

func TestQueueReassign(t *testing.T) {
	a := withTestApp(t)
	q := seedQueue(t, a)

	out, err := run(t, "queue", "reassign", "10", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "moved 2 urls from 10 to 20")

	groups, err := q.ListByStatus(context.Background(), []int64{20}, workqueue.StatusPending)
	require.NoError(t, err)
	assert.Len(t, groups[20], 3)

	_, err = run(t, "queue", "reassign", "ten", "20")
	assert.Error(t, err)
}

func TestFlagValidation(t *testing.T) {
	withTestApp(t)

	_, err := run(t, "geoids", "--apply")
	assert.ErrorContains(t, err, "--apply requires --check")

	_, err = run(t, "geoids")
	assert.ErrorContains(t, err, "geoid.api_key")

	_, err = run(t, "scrape", "--geo-id", "1", "--country", "NL")
	assert.ErrorContains(t, err, "mutually exclusive")

	_, err = run(t, "scrape", "--status", "done")
	assert.ErrorContains(t, err, "unknown status")
}

func TestResolveAppWithoutPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	assert.Error(t, err)
}
