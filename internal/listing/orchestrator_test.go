package listing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/linkgen"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

type fakeQueue struct {
	mu    sync.Mutex
	items map[string]workqueue.Item
}

func newFakeQueue(cityID int64, urls ...string) *fakeQueue {
	q := &fakeQueue{items: map[string]workqueue.Item{}}
	for _, u := range urls {
		q.items[u] = workqueue.Item{CityID: cityID, URL: u, Status: workqueue.StatusPending}
	}
	return q
}

func (q *fakeQueue) add(cityID int64, urls ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range urls {
		q.items[u] = workqueue.Item{CityID: cityID, URL: u, Status: workqueue.StatusPending}
	}
}

func (q *fakeQueue) set(status workqueue.Status, cityID int64, urls ...string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, u := range urls {
		q.items[u] = workqueue.Item{CityID: cityID, URL: u, Status: status}
	}
}

func (q *fakeQueue) ListByStatus(_ context.Context, cityIDs []int64, status workqueue.Status) (map[int64][]workqueue.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[int64][]workqueue.Item{}
	for _, it := range q.items {
		if it.Status != status {
			continue
		}
		if len(cityIDs) > 0 && !containsID(cityIDs, it.CityID) {
			continue
		}
		out[it.CityID] = append(out[it.CityID], it)
	}
	return out, nil
}

func (q *fakeQueue) Remove(_ context.Context, url string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[url]
	delete(q.items, url)
	return ok, nil
}

func (q *fakeQueue) has(url string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.items[url]
	return ok
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type fakeSink struct {
	mu       sync.Mutex
	forwards []directory.RestaurantPayload
	reject   bool
}

func (s *fakeSink) Forward(_ context.Context, p directory.RestaurantPayload) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := p.Validate(); err != nil {
		return false, err
	}
	if s.reject {
		return false, &directory.APIError{StatusCode: 400, Body: "bad"}
	}
	s.forwards = append(s.forwards, p)
	return true, nil
}

func (s *fakeSink) urls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.forwards))
	for _, f := range s.forwards {
		out = append(out, f.TripadvisorDetailPage)
	}
	return out
}

type fakeCities struct {
	byGeo   map[string]directory.City
	country []directory.City
	query   directory.CityQuery
}

func (c *fakeCities) CityByGeoID(_ context.Context, geoID string) (directory.City, error) {
	city, ok := c.byGeo[geoID]
	if !ok {
		return directory.City{}, directory.ErrNotFound
	}
	return city, nil
}

func (c *fakeCities) SearchCities(_ context.Context, q directory.CityQuery) ([]directory.City, error) {
	c.query = q
	if q.Limit > 0 && q.Limit < len(c.country) {
		return c.country[:q.Limit], nil
	}
	return c.country, nil
}

// scripted serves envelopes per URL and counts calls.
type scripted struct {
	mu    sync.Mutex
	pages map[string][]scraper.Envelope
	errs  map[string]error
	calls map[string]int
}

func newScripted() *scripted {
	return &scripted{pages: map[string][]scraper.Envelope{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (s *scripted) on(url string, envs ...scraper.Envelope) {
	s.pages[url] = envs
}

func (s *scripted) Scrape(_ context.Context, url string, _ scraper.Profile) (scraper.Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.calls[url]
	s.calls[url]++
	if err, ok := s.errs[url]; ok {
		return scraper.Envelope{}, err
	}
	envs := s.pages[url]
	if len(envs) == 0 {
		return scraper.Envelope{}, fmt.Errorf("no page scripted for %s", url)
	}
	if n >= len(envs) {
		n = len(envs) - 1
	}
	return envs[n], nil
}

func (s *scripted) count(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[url]
}

var padding = strings.Repeat("x", 11*1024)

func listPage(urls ...string) scraper.Envelope {
	elements := make([]any, 0, len(urls))
	for i, u := range urls {
		elements = append(elements, map[string]any{"item": map[string]any{
			"@type": "Restaurant",
			"name":  fmt.Sprintf("Restaurant %d", i),
			"url":   u,
		}})
	}
	return scraper.Envelope{
		Status:  200,
		Content: padding,
		JSONData: map[string]any{ScriptsKey: []any{
			map[string]any{"@type": "ItemList", "itemListOrder": "Unordered", "itemListElement": elements},
		}},
	}
}

func emptyPage() scraper.Envelope {
	return scraper.Envelope{
		Status:   200,
		Content:  padding,
		JSONData: map[string]any{ScriptsKey: []any{map[string]any{"@type": "WebSite"}}},
	}
}

type captureLog struct {
	mu        sync.Mutex
	incidents []Incident
}

func (c *captureLog) Record(in Incident) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incidents = append(c.incidents, in)
	return nil
}

func newTestOrchestrator(q Queue, sink Sink, scr scraper.Scraper, cities Cities, opts ...Option) *Orchestrator {
	base := []Option{
		WithAttempts(backoff.Linear{Attempts: 3}),
		WithIDGenerator(staticID("run-1")),
	}
	return New(q, sink, scr, cities, append(base, opts...)...)
}

func TestRunDrainsPaginatedCity(t *testing.T) {
	t.Parallel()

	const cityID = 2745912
	urls := linkgen.Generate(linkgen.City{GeoID: "188590", Results: 65})
	require.Len(t, urls, 3)

	q := newFakeQueue(cityID, urls...)
	scr := newScripted()
	scr.on(urls[0], listPage(
		"https://www.tripadvisor.com/Restaurant_Review-g188590-d1-Reviews-A.html",
		"https://www.tripadvisor.com/Restaurant_Review-g188590-d2-Reviews-B.html",
	))
	scr.on(urls[1], listPage("https://www.tripadvisor.com/Restaurant_Review-g188590-d3-Reviews-C.html"))
	scr.on(urls[2], emptyPage())
	sink := &fakeSink{}
	cities := &fakeCities{byGeo: map[string]directory.City{"188590": {GeonameID: cityID, TripadvisorGeoID: "188590"}}}
	incidents := &captureLog{}

	o := newTestOrchestrator(q, sink, scr, cities, WithIncidentLog(incidents))
	sum, err := o.Run(context.Background(), RunParams{GeoID: "188590"})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Removed)
	assert.Equal(t, 3, sum.RecordsOK)
	assert.Equal(t, 1, sum.Outcomes[OutcomeEmptyConfirmed])
	assert.Equal(t, "run-1", sum.RunID)
	for _, u := range urls {
		assert.False(t, q.has(u), u)
		assert.Equal(t, 1, scr.count(u), "one capture per url")
	}
	assert.Len(t, sink.urls(), 3)
	assert.Empty(t, incidents.incidents)
	for _, p := range sink.forwards {
		assert.Equal(t, int64(cityID), p.CityGeonameID)
	}
}

func TestRunKeepsChallengeAndRetriesNextPass(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=1"
	q := newFakeQueue(7, url)
	scr := newScripted()
	scr.on(url, scraper.Envelope{Status: 200, Title: "Please verify you are human", Content: "<html>blocked</html>"})
	incidents := &captureLog{}

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{}, WithIncidentLog(incidents))
	sum, err := o.Run(context.Background(), RunParams{Continuous: true, MaxIterations: 2})
	require.NoError(t, err)

	assert.True(t, q.has(url))
	assert.Equal(t, 2, sum.Iterations)
	assert.Equal(t, 2, scr.count(url), "a challenge ends the attempts of a pass")
	assert.Equal(t, 2, sum.Outcomes[OutcomeChallenge])
	require.Len(t, incidents.incidents, 2)
	assert.Equal(t, "challenge", incidents.incidents[0].Reason)
	assert.Equal(t, "run-1", incidents.incidents[0].RunID)
	assert.Equal(t, url, incidents.incidents[0].URL)
}

func TestRunCountryAllowList(t *testing.T) {
	t.Parallel()

	const (
		inside  = "https://www.tripadvisor.com/Restaurant_Review-g100-d1-Reviews-In.html"
		outside = "https://www.tripadvisor.com/Restaurant_Review-g999-d2-Reviews-Out.html"
		odd     = "https://www.tripadvisor.com/ShowUserReviews-1"
		page    = "https://www.tripadvisor.com/FindRestaurants?geo=100"
	)
	q := newFakeQueue(1, page)
	scr := newScripted()
	scr.on(page, listPage(inside, outside, odd))
	sink := &fakeSink{}
	cities := &fakeCities{country: []directory.City{
		{GeonameID: 1, TripadvisorGeoID: "100"},
		{GeonameID: 2, TripadvisorGeoID: "200"},
	}}

	o := newTestOrchestrator(q, sink, scr, cities)
	sum, err := o.Run(context.Background(), RunParams{Country: "NL", Limit: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{inside, odd}, slices.Sorted(slices.Values(sink.urls())))
	assert.Equal(t, 2, sum.RecordsOK)
	assert.False(t, q.has(page))
	assert.Equal(t, "NL", cities.query.Country)
	assert.Zero(t, cities.query.Limit, "the allow-list needs every city of the country")
	require.NotNil(t, cities.query.GeoIDIsNull)
	assert.False(t, *cities.query.GeoIDIsNull)
}

func TestRunRetriesUndersizedThenSucceeds(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=5"
	q := newFakeQueue(5, url)
	scr := newScripted()
	scr.on(url,
		scraper.Envelope{Status: 200, Content: "tiny"},
		listPage("https://www.tripadvisor.com/Restaurant_Review-g5-d9-Reviews-X.html"),
	)
	sink := &fakeSink{}

	o := newTestOrchestrator(q, sink, scr, &fakeCities{})
	sum, err := o.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 2, scr.count(url))
	assert.Equal(t, 1, sum.Removed)
	assert.False(t, q.has(url))
}

func TestRunUndersizedExhaustsAndLogs(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=6"
	q := newFakeQueue(6, url)
	scr := newScripted()
	scr.on(url, scraper.Envelope{Status: 200, Content: "tiny", JSONData: map[string]any{ScriptsKey: []any{}}})
	incidents := &captureLog{}

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{}, WithIncidentLog(incidents))
	sum, err := o.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 3, scr.count(url))
	assert.Equal(t, 1, sum.Kept)
	assert.True(t, q.has(url))
	require.Len(t, incidents.incidents, 1)
	assert.Equal(t, "undersized", incidents.incidents[0].Reason)
	assert.Greater(t, incidents.incidents[0].SizeKB, 0.0)
}

func TestRunRateLimitedStopsImmediately(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=8"
	q := newFakeQueue(8, url)
	scr := newScripted()
	scr.errs[url] = fmt.Errorf("spider api: %w", scraper.ErrRateLimited)
	incidents := &captureLog{}

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{}, WithIncidentLog(incidents))
	_, err := o.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 1, scr.count(url))
	assert.True(t, q.has(url))
	require.Len(t, incidents.incidents, 1)
	assert.Equal(t, "rate_limited", incidents.incidents[0].Reason)
}

func TestRunKeepsURLWhenNoRecordAccepted(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=9"
	q := newFakeQueue(9, url)
	scr := newScripted()
	scr.on(url, listPage("https://www.tripadvisor.com/Restaurant_Review-g9-d1-Reviews-A.html"))
	incidents := &captureLog{}

	o := newTestOrchestrator(q, &fakeSink{reject: true}, scr, &fakeCities{}, WithIncidentLog(incidents))
	sum, err := o.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.True(t, q.has(url))
	assert.Equal(t, 1, sum.RecordsFailed)
	assert.Empty(t, incidents.incidents)
}

func TestRunContinuousStopsWhenDrained(t *testing.T) {
	t.Parallel()

	first := "https://www.tripadvisor.com/FindRestaurants?geo=3"
	q := newFakeQueue(3, first)
	scr := newScripted()
	scr.on(first, emptyPage())

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{})
	sum, err := o.Run(context.Background(), RunParams{Continuous: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Iterations)
}

func TestRunOnlyTouchesSelectedCity(t *testing.T) {
	t.Parallel()

	mine := "https://www.tripadvisor.com/FindRestaurants?geo=10"
	other := "https://www.tripadvisor.com/FindRestaurants?geo=20"
	q := newFakeQueue(10, mine)
	q.add(20, other)
	scr := newScripted()
	scr.on(mine, emptyPage())
	scr.on(other, emptyPage())
	cities := &fakeCities{byGeo: map[string]directory.City{"10": {GeonameID: 10}}}

	o := newTestOrchestrator(q, &fakeSink{}, scr, cities)
	_, err := o.Run(context.Background(), RunParams{GeoID: "10"})
	require.NoError(t, err)

	assert.False(t, q.has(mine))
	assert.True(t, q.has(other))
	assert.Zero(t, scr.count(other))
}

func TestRunUnknownGeoID(t *testing.T) {
	t.Parallel()

	o := newTestOrchestrator(newFakeQueue(1), &fakeSink{}, newScripted(), &fakeCities{})
	_, err := o.Run(context.Background(), RunParams{GeoID: "404"})
	assert.ErrorIs(t, err, directory.ErrNotFound)

	_, err = o.Run(context.Background(), RunParams{GeoID: "1", Country: "NL"})
	assert.Error(t, err)
}

func TestJSONLLogWritesLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewJSONLLog(&buf)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, l.Record(Incident{Timestamp: ts, RunID: "r", URL: "u1", Reason: "challenge", SizeKB: 1.5}))
	require.NoError(t, l.Record(Incident{Timestamp: ts, RunID: "r", URL: "u2", Reason: "rate_limited", Error: "status 429"}))
	require.NoError(t, l.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "u1", got["url"])
	assert.Equal(t, "challenge", got["reason"])
	assert.Equal(t, 1.5, got["size_kb"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["timestamp"])
	assert.NotContains(t, got, "error")
}

func TestRunCountryLimitKeepsCountryAllowList(t *testing.T) {
	t.Parallel()

	const (
		page      = "https://www.tripadvisor.com/FindRestaurants?geo=100"
		neighbour = "https://www.tripadvisor.com/Restaurant_Review-g200-d7-Reviews-Next.html"
		abroad    = "https://www.tripadvisor.com/Restaurant_Review-g999-d8-Reviews-Far.html"
		other     = "https://www.tripadvisor.com/FindRestaurants?geo=200"
	)
	q := newFakeQueue(1, page)
	q.add(2, other)
	scr := newScripted()
	scr.on(page, listPage(neighbour, abroad))
	sink := &fakeSink{}
	cities := &fakeCities{country: []directory.City{
		{GeonameID: 1, TripadvisorGeoID: "100"},
		{GeonameID: 2, TripadvisorGeoID: "200"},
	}}

	o := newTestOrchestrator(q, sink, scr, cities)
	sum, err := o.Run(context.Background(), RunParams{Country: "NL", Limit: 1})
	require.NoError(t, err)

	assert.Equal(t, []string{neighbour}, sink.urls(), "same-country restaurants pass the allow-list")
	assert.Equal(t, 1, sum.Processed)
	assert.True(t, q.has(other), "cities beyond the limit are not drained")
	assert.Zero(t, scr.count(other))
}

func TestRunDrainsRequestedStatus(t *testing.T) {
	t.Parallel()

	const (
		stuck   = "https://www.tripadvisor.com/FindRestaurants?geo=11"
		waiting = "https://www.tripadvisor.com/FindRestaurants?geo=11&offset=30"
	)
	q := newFakeQueue(11, waiting)
	q.set(workqueue.StatusInProgress, 11, stuck)
	scr := newScripted()
	scr.on(stuck, emptyPage())
	scr.on(waiting, emptyPage())

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{})
	sum, err := o.Run(context.Background(), RunParams{Status: "IN_PROGRESS"})
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Removed)
	assert.False(t, q.has(stuck))
	assert.True(t, q.has(waiting))
	assert.Zero(t, scr.count(waiting))

	_, err = o.Run(context.Background(), RunParams{Status: "done"})
	assert.ErrorContains(t, err, "unknown status")
}

// spacing records the delays the orchestrator asks for between attempts.
type spacing struct {
	backoff.Linear
	mu     sync.Mutex
	delays []time.Duration
}

func (s *spacing) Delay(attempt int) time.Duration {
	d := s.Linear.Delay(attempt)
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return d
}

func TestRunNetworkErrorRetriesThenKeeps(t *testing.T) {
	t.Parallel()

	const url = "https://www.tripadvisor.com/FindRestaurants?geo=12"
	q := newFakeQueue(12, url)
	scr := newScripted()
	scr.errs[url] = errors.New("dial tcp: connection refused")
	incidents := &captureLog{}
	policy := &spacing{Linear: backoff.Linear{Attempts: 3, Base: time.Millisecond}}

	o := newTestOrchestrator(q, &fakeSink{}, scr, &fakeCities{},
		WithAttempts(policy), WithIncidentLog(incidents))
	sum, err := o.Run(context.Background(), RunParams{})
	require.NoError(t, err)

	assert.Equal(t, 3, scr.count(url))
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, policy.delays)
	assert.True(t, q.has(url))
	assert.Equal(t, 1, sum.Kept)
	assert.Equal(t, 1, sum.Outcomes[OutcomeError])
	assert.Empty(t, incidents.incidents)
}

func TestRunRemovesOnlyConfirmedEmptyPageFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := workqueue.Open(ctx, filepath.Join(t.TempDir(), "queue.db"), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	const cityID = 2745912
	urls := linkgen.Generate(linkgen.City{GeoID: "188590", Results: 65})
	require.Len(t, urls, 3)
	inserted, err := store.EnqueueBatch(ctx, cityID, urls)
	require.NoError(t, err)
	require.Equal(t, 3, inserted)

	blocked := scraper.Envelope{Status: 200, Title: "Please verify you are human", Content: "<html>blocked</html>"}
	scr := newScripted()
	scr.on(urls[0], blocked)
	scr.on(urls[1], blocked)
	scr.on(urls[2], emptyPage())
	cities := &fakeCities{byGeo: map[string]directory.City{"188590": {GeonameID: cityID, TripadvisorGeoID: "188590"}}}

	o := newTestOrchestrator(store, &fakeSink{}, scr, cities)
	sum, err := o.Run(ctx, RunParams{GeoID: "188590"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Removed)
	assert.Equal(t, 2, sum.Kept)

	left, err := store.ListByStatus(ctx, nil, workqueue.StatusPending)
	require.NoError(t, err)
	require.Len(t, left[cityID], 2)
	assert.Equal(t, []string{urls[0], urls[1]}, []string{left[cityID][0].URL, left[cityID][1].URL})
	_, found, err := store.Get(ctx, urls[2])
	require.NoError(t, err)
	assert.False(t, found)
}
