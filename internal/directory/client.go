// Package directory is the typed client for the city/restaurant REST API and
// the record sink that forwards scraped restaurants into it.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/metrics"
)

// DefaultBaseURL is the local directory service.
const DefaultBaseURL = "http://127.0.0.1:8000"

const maxPages = 10000

var (
	// ErrDecode marks a response body that does not match any known shape.
	ErrDecode = errors.New("directory: undecodable response")
	// ErrNotFound is returned by point reads of missing records.
	ErrNotFound = errors.New("directory: not found")
)

// APIError is a non-2xx answer from the directory.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("directory %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Temporary reports whether the request may succeed when repeated.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err is worth retrying: 5xx answers and
// transport failures are, 4xx answers, decode errors and cancellation are not.
func IsTemporary(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrDecode) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// IsDuplicate recognizes the API's answer to re-creating an existing record.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode != http.StatusBadRequest && apiErr.StatusCode != http.StatusConflict {
		return false
	}
	body := strings.ToLower(apiErr.Body)
	return strings.Contains(body, "already exists") ||
		strings.Contains(body, "unique") ||
		strings.Contains(body, "duplicate")
}

// Client talks to the directory API.
type Client struct {
	baseURL  string
	http     *http.Client
	logger   *zap.Logger
	retry    backoff.Policy
	pageSize int
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport, mostly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithTimeout bounds every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRetryPolicy overrides the retry policy used for reads and updates.
func WithRetryPolicy(p backoff.Policy) Option {
	return func(c *Client) {
		if p != nil {
			c.retry = p
		}
	}
}

// WithPageSize sets the page_size used when paginating searches.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewClient builds a Client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		logger:   zap.NewNop(),
		retry:    backoff.Exponential{Attempts: 3, Base: 500 * time.Millisecond, Max: 8 * time.Second},
		pageSize: 250,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// send performs one request and returns the response body.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.ObserveAPIRequest(method, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	c.logger.Debug("directory request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(data)),
	)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// sendRetry wraps send with the client's retry policy.
func (c *Client) sendRetry(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	var data []byte
	err := backoff.Retry(ctx, c.retry, IsTemporary, func(ctx context.Context, attempt int) error {
		var err error
		data, err = c.send(ctx, method, path, query, body)
		if err != nil && IsTemporary(err) && attempt < c.retry.MaxAttempts() {
			c.logger.Warn("directory request failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	return data, err
}

// paginate walks page/page_size until the advertised total, a short page
// (when no total is advertised), or limit is reached.
func paginate[T any](ctx context.Context, c *Client, path string, query url.Values, limit int) ([]T, error) {
	var out []T
	var firstOfPrev string
	for pageNo := 1; pageNo <= maxPages; pageNo++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", strconv.Itoa(pageNo))
		q.Set("page_size", strconv.Itoa(c.pageSize))

		data, err := c.sendRetry(ctx, http.MethodGet, path, q, nil)
		if err != nil {
			var apiErr *APIError
			// Past the last page some backends answer 404 instead of an empty list.
			if pageNo > 1 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				break
			}
			return nil, err
		}
		pg, err := normalizePage(data)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", path, pageNo, err)
		}
		if len(pg.Items) == 0 {
			break
		}
		// A backend that ignores page keeps returning the same list.
		first := string(pg.Items[0])
		if first == firstOfPrev {
			break
		}
		firstOfPrev = first

		items, err := decodeItems[T](pg)
		if err != nil {
			return nil, fmt.Errorf("%s page %d: %w", path, pageNo, err)
		}
		out = append(out, items...)

		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if pg.HasTotal {
			if len(out) >= pg.Total {
				break
			}
			continue
		}
		if len(pg.Items) < c.pageSize {
			break
		}
	}
	return out, nil
}

// CityQuery filters /api/cities/search/.
type CityQuery struct {
	Country              string
	TripadvisorGeoID     string
	GeoIDIsNull          *bool
	RestaurantsIsNull    *bool
	RestaurantsURLIsNull *bool
	NeverScraped         bool
	MinRestaurants       *int
	MaxRestaurants       *int
	Limit                int
}

// Bool returns a pointer to v, for the optional query flags.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for the optional query bounds.
func Int(v int) *int { return &v }

func (q CityQuery) values() url.Values {
	v := url.Values{}
	if q.Country != "" {
		v.Set("country", q.Country)
	}
	if q.TripadvisorGeoID != "" {
		v.Set("tripadvisor_geo_id", q.TripadvisorGeoID)
	}
	setBool := func(key string, b *bool) {
		if b != nil {
			v.Set(key, strconv.FormatBool(*b))
		}
	}
	setBool("tripadvisor_geo_id_is_null", q.GeoIDIsNull)
	setBool("restaurants_is_null", q.RestaurantsIsNull)
	setBool("tripadvisor_restaurants_url_is_null", q.RestaurantsURLIsNull)
	if q.NeverScraped {
		v.Set("never_scraped", "true")
	}
	if q.MinRestaurants != nil {
		v.Set("min_restaurants", strconv.Itoa(*q.MinRestaurants))
	}
	if q.MaxRestaurants != nil {
		v.Set("max_restaurants", strconv.Itoa(*q.MaxRestaurants))
	}
	return v
}

// SearchCities returns every city matching q.
func (c *Client) SearchCities(ctx context.Context, q CityQuery) ([]City, error) {
	cities, err := paginate[City](ctx, c, "/api/cities/search/", q.values(), q.Limit)
	if err != nil {
		return nil, fmt.Errorf("search cities: %w", err)
	}
	return cities, nil
}

// CityByGeoID resolves an upstream geo id to its directory city.
func (c *Client) CityByGeoID(ctx context.Context, geoID string) (City, error) {
	cities, err := c.SearchCities(ctx, CityQuery{TripadvisorGeoID: geoID, Limit: 1})
	if err != nil {
		return City{}, err
	}
	if len(cities) == 0 || cities[0].GeonameID == 0 {
		return City{}, fmt.Errorf("city with geo id %s: %w", geoID, ErrNotFound)
	}
	return cities[0], nil
}

// GetCity reads one city.
func (c *Client) GetCity(ctx context.Context, geonameID int64) (City, error) {
	path := fmt.Sprintf("/api/cities/%d/", geonameID)
	data, err := c.sendRetry(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return City{}, fmt.Errorf("city %d: %w", geonameID, ErrNotFound)
		}
		return City{}, err
	}
	pg, err := normalizePage(data)
	if err != nil {
		return City{}, err
	}
	cities, err := decodeItems[City](pg)
	if err != nil {
		return City{}, err
	}
	if len(cities) == 0 {
		return City{}, fmt.Errorf("city %d: %w", geonameID, ErrNotFound)
	}
	return cities[0], nil
}

// UpdateCityGeoID stores a new upstream geo id and clears the cached listing URLs.
func (c *Client) UpdateCityGeoID(ctx context.Context, geonameID int64, geoID string) error {
	body := map[string]string{
		"tripadvisor_geo_id":          geoID,
		"tripadvisor_restaurants_url": "",
		"tripadvisor_hotels_url":      "",
		"tripadvisor_attractions_url": "",
	}
	if _, err := c.sendRetry(ctx, http.MethodPut, fmt.Sprintf("/api/cities/%d/", geonameID), nil, body); err != nil {
		return fmt.Errorf("update geo id of city %d: %w", geonameID, err)
	}
	return nil
}

// UpdateCityResults stores the listing result total for a city.
func (c *Client) UpdateCityResults(ctx context.Context, geonameID int64, results int) error {
	body := map[string]int{"tripadvisor_restaurants_results": results}
	path := fmt.Sprintf("/api/cities/%d/update-tripadvisor-results/", geonameID)
	if _, err := c.sendRetry(ctx, http.MethodPatch, path, nil, body); err != nil {
		return fmt.Errorf("update results of city %d: %w", geonameID, err)
	}
	return nil
}

// MarkCityScraped bumps the city's last_scraped timestamp.
func (c *Client) MarkCityScraped(ctx context.Context, geonameID int64) error {
	path := fmt.Sprintf("/api/cities/%d/update-scraped/", geonameID)
	if _, err := c.sendRetry(ctx, http.MethodPatch, path, nil, nil); err != nil {
		return fmt.Errorf("mark city %d scraped: %w", geonameID, err)
	}
	return nil
}

// SearchRestaurants lists every restaurant linked to a city.
func (c *Client) SearchRestaurants(ctx context.Context, geonameID int64) ([]Restaurant, error) {
	q := url.Values{"geoname_id": {strconv.FormatInt(geonameID, 10)}}
	restaurants, err := paginate[Restaurant](ctx, c, "/api/restaurants/search/", q, 0)
	if err != nil {
		return nil, fmt.Errorf("search restaurants of city %d: %w", geonameID, err)
	}
	return restaurants, nil
}

// CountRestaurants returns how many restaurants the directory holds for a
// city, using the advertised count when the backend provides one.
func (c *Client) CountRestaurants(ctx context.Context, geonameID int64) (int, error) {
	q := url.Values{
		"geoname_id": {strconv.FormatInt(geonameID, 10)},
		"page_size":  {"1"},
	}
	data, err := c.sendRetry(ctx, http.MethodGet, "/api/restaurants/search/", q, nil)
	if err != nil {
		return 0, fmt.Errorf("count restaurants of city %d: %w", geonameID, err)
	}
	pg, err := normalizePage(data)
	if err != nil {
		return 0, fmt.Errorf("count restaurants of city %d: %w", geonameID, err)
	}
	if pg.HasTotal {
		return pg.Total, nil
	}
	all, err := c.SearchRestaurants(ctx, geonameID)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// RandomRestaurant asks for one never-scraped restaurant in country. The
// bool is false when none is left.
func (c *Client) RandomRestaurant(ctx context.Context, country string) (Restaurant, bool, error) {
	q := url.Values{"never_scraped": {"1"}}
	if country != "" {
		q.Set("country", country)
	}
	data, err := c.sendRetry(ctx, http.MethodGet, "/api/restaurants/random/", q, nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return Restaurant{}, false, nil
		}
		return Restaurant{}, false, fmt.Errorf("random restaurant: %w", err)
	}
	pg, err := normalizePage(data)
	if err != nil {
		return Restaurant{}, false, fmt.Errorf("random restaurant: %w", err)
	}
	restaurants, err := decodeItems[Restaurant](pg)
	if err != nil {
		return Restaurant{}, false, fmt.Errorf("random restaurant: %w", err)
	}
	if len(restaurants) == 0 || restaurants[0].ID == 0 {
		return Restaurant{}, false, nil
	}
	return restaurants[0], true, nil
}

// UpdateRestaurant applies a partial update.
func (c *Client) UpdateRestaurant(ctx context.Context, id int64, fields map[string]any) error {
	if _, err := c.sendRetry(ctx, http.MethodPut, fmt.Sprintf("/api/restaurants/%d/", id), nil, fields); err != nil {
		return fmt.Errorf("update restaurant %d: %w", id, err)
	}
	return nil
}

// DeleteRestaurant removes a restaurant record.
func (c *Client) DeleteRestaurant(ctx context.Context, id int64) error {
	if _, err := c.sendRetry(ctx, http.MethodDelete, fmt.Sprintf("/api/restaurants/%d/", id), nil, nil); err != nil {
		return fmt.Errorf("delete restaurant %d: %w", id, err)
	}
	return nil
}

// CreateRestaurant posts one restaurant. It makes a single attempt; the Sink
// owns the retry policy for creates.
func (c *Client) CreateRestaurant(ctx context.Context, p RestaurantPayload) error {
	if _, err := c.send(ctx, http.MethodPost, "/api/restaurants/", nil, p); err != nil {
		return fmt.Errorf("create restaurant %q: %w", p.Name, err)
	}
	return nil
}
