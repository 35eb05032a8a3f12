// Package geoid finds the upstream location id of directory cities through
// the content API's location search, and re-validates ids already stored.
package geoid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
)

// DefaultEndpoint is the content API location search.
const DefaultEndpoint = "https://api.content.tripadvisor.com/api/v1/location/search"

// Location is one search hit.
type Location struct {
	LocationID directory.FlexString `json:"location_id"`
	Name       string               `json:"name"`
	AddressObj struct {
		State         string `json:"state"`
		Country       string `json:"country"`
		AddressString string `json:"address_string"`
	} `json:"address_obj"`
}

// SearchError is a non-200 answer from the search API.
type SearchError struct {
	StatusCode int
	Body       string
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("location search status %d: %s", e.StatusCode, e.Body)
}

func isServerError(err error) bool {
	var se *SearchError
	return errors.As(err, &se) && se.StatusCode == http.StatusInternalServerError
}

// SearchClient queries the location search endpoint.
type SearchClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
	retry    backoff.Policy
	logger   *zap.Logger
}

// SearchOption customizes a SearchClient.
type SearchOption func(*SearchClient)

// WithHTTPClient swaps the transport.
func WithHTTPClient(h *http.Client) SearchOption {
	return func(c *SearchClient) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRetryPolicy overrides the 500 retry policy.
func WithRetryPolicy(p backoff.Policy) SearchOption {
	return func(c *SearchClient) {
		if p != nil {
			c.retry = p
		}
	}
}

// WithSearchLogger attaches a logger.
func WithSearchLogger(l *zap.Logger) SearchOption {
	return func(c *SearchClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewSearchClient builds a SearchClient. An empty endpoint selects DefaultEndpoint.
func NewSearchClient(endpoint, apiKey string, opts ...SearchOption) (*SearchClient, error) {
	if apiKey == "" {
		return nil, errors.New("geoid: content api key is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &SearchClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
		// One initial attempt plus four retries, 1s doubling to at most 30s.
		retry:  backoff.Exponential{Attempts: 5, Base: time.Second, Max: 30 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search returns the geo hits for query. Server errors are retried; any other
// non-200 answer is returned immediately.
func (c *SearchClient) Search(ctx context.Context, query string) ([]Location, error) {
	var out []Location
	err := backoff.Retry(ctx, c.retry, isServerError, func(ctx context.Context, attempt int) error {
		locs, err := c.search(ctx, query)
		if err != nil {
			if isServerError(err) {
				c.logger.Warn("location search server error",
					zap.String("query", query),
					zap.Int("attempt", attempt),
				)
			}
			return err
		}
		out = locs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return out, nil
}

func (c *SearchClient) search(ctx context.Context, query string) ([]Location, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("category", "geos")
	q.Set("searchQuery", query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("location search: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > 256 {
			body = body[:256]
		}
		return nil, &SearchError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload struct {
		Data []Location `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return payload.Data, nil
}
