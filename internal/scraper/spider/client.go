// Package spider implements scraper.Scraper on top of the Spider scraping API.
package spider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
)

// DefaultEndpoint is the public scrape endpoint.
const DefaultEndpoint = "https://api.spider.cloud/scrape"

// desktopAgents is the pool the client rotates through per request.
var desktopAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4_1) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Config holds the credentials and endpoint.
type Config struct {
	Endpoint string
	APIKey   string
	// ProxyURL is forwarded as remote_proxy; when empty the residential pool is requested.
	ProxyURL string
}

// StatusError is a non-200 answer from the Spider API itself.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("spider api status %d: %s", e.StatusCode, e.Body)
}

// Client calls the Spider API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
	agent  func() string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
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

// WithUserAgent pins the user agent instead of rotating.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.agent = func() string { return ua }
		}
	}
}

// New builds a Client. An API key is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("spider: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 90 * time.Second},
		logger: zap.NewNop(),
		agent: func() string {
			return desktopAgents[rand.IntN(len(desktopAgents))]
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// requestBody assembles the JSON body for url and profile.
func (c *Client) requestBody(url string, profile scraper.Profile) map[string]any {
	body := map[string]any{
		"url":          url,
		"request":      "http",
		"user_agent":   c.agent(),
		"cache":        true,
		"block_images": false,
		"block_ads":    false,
		"locale":       "en_US",
	}
	for k, v := range profileOptions(profile) {
		body[k] = v
	}
	if c.cfg.ProxyURL != "" {
		body["remote_proxy"] = c.cfg.ProxyURL
	} else {
		body["proxy"] = "residential"
	}
	return body
}

func profileOptions(profile scraper.Profile) map[string]any {
	switch profile {
	case scraper.ProfileBasic:
		return map[string]any{"return_format": "markdown", "metadata": false, "full_resources": false}
	case scraper.ProfileLinks:
		return map[string]any{"return_format": "markdown", "metadata": false, "return_page_links": true, "full_resources": false}
	case scraper.ProfileDetailed:
		return map[string]any{
			"return_format":     "markdown",
			"metadata":          true,
			"return_json_data":  true,
			"return_headers":    true,
			"return_page_links": true,
			"full_resources":    true,
		}
	case scraper.ProfileRaw:
		return map[string]any{
			"return_format":     "raw",
			"metadata":          false,
			"return_headers":    true,
			"return_page_links": true,
			"full_resources":    true,
		}
	case scraper.ProfileResults, scraper.ProfileRestaurant:
		return map[string]any{
			"return_format":     "bytes",
			"metadata":          true,
			"return_json_data":  true,
			"return_headers":    true,
			"return_page_links": true,
			"full_resources":    true,
		}
	default:
		return nil
	}
}

// Scrape implements scraper.Scraper.
func (c *Client) Scrape(ctx context.Context, url string, profile scraper.Profile) (scraper.Envelope, error) {
	payload, err := json.Marshal(c.requestBody(url, profile))
	if err != nil {
		return scraper.Envelope{}, fmt.Errorf("encode spider request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return scraper.Envelope{}, fmt.Errorf("build spider request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return scraper.Envelope{}, fmt.Errorf("spider request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return scraper.Envelope{}, fmt.Errorf("read spider response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return scraper.Envelope{URL: url, Status: resp.StatusCode}, fmt.Errorf("spider api: %w", scraper.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return scraper.Envelope{}, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		return scraper.Envelope{}, err
	}
	if env.URL == "" {
		env.URL = url
	}
	c.logger.Debug("spider scrape",
		zap.String("url", url),
		zap.String("profile", string(profile)),
		zap.Int("status", env.Status),
		zap.Int("size", env.Size()),
	)
	if env.Status == http.StatusTooManyRequests {
		return env, fmt.Errorf("target site: %w", scraper.ErrRateLimited)
	}
	return env, nil
}

type rawEnvelope struct {
	URL      string          `json:"url"`
	Status   int             `json:"status"`
	Content  json.RawMessage `json:"content"`
	Title    string          `json:"title"`
	Error    *string         `json:"error"`
	JSONData json.RawMessage `json:"json_data"`
	Metadata *struct {
		Title string `json:"title"`
	} `json:"metadata"`
}

// decodeEnvelope reads the first element of the response array.
func decodeEnvelope(data []byte) (scraper.Envelope, error) {
	data = bytes.TrimSpace(data)
	var raws []rawEnvelope
	if len(data) > 0 && data[0] == '{' {
		var single rawEnvelope
		if err := json.Unmarshal(data, &single); err != nil {
			return scraper.Envelope{}, fmt.Errorf("decode spider envelope: %w", err)
		}
		raws = []rawEnvelope{single}
	} else if err := json.Unmarshal(data, &raws); err != nil {
		return scraper.Envelope{}, fmt.Errorf("decode spider envelopes: %w", err)
	}
	if len(raws) == 0 {
		return scraper.Envelope{}, scraper.ErrEmptyResponse
	}
	raw := raws[0]

	content, err := decodeContent(raw.Content)
	if err != nil {
		return scraper.Envelope{}, err
	}
	env := scraper.Envelope{
		URL:     raw.URL,
		Status:  raw.Status,
		Content: content,
		Title:   raw.Title,
	}
	if env.Status == 0 {
		env.Status = http.StatusOK
	}
	if env.Title == "" && raw.Metadata != nil {
		env.Title = raw.Metadata.Title
	}
	if raw.Error != nil {
		env.Error = *raw.Error
	}
	if js := bytes.TrimSpace(raw.JSONData); len(js) > 0 && js[0] == '{' {
		var m map[string]any
		if err := json.Unmarshal(js, &m); err != nil {
			return scraper.Envelope{}, fmt.Errorf("decode spider json_data: %w", err)
		}
		env.JSONData = m
		env = env.WithJSONSize(len(js))
	}
	return env, nil
}

// decodeContent accepts the string form and the byte-array form the "bytes"
// return format produces.
func decodeContent(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode content: %w", err)
		}
		return s, nil
	case '[':
		var codes []int
		if err := json.Unmarshal(raw, &codes); err != nil {
			return "", fmt.Errorf("decode byte content: %w", err)
		}
		buf := make([]byte, len(codes))
		for i, c := range codes {
			buf[i] = byte(c)
		}
		return string(buf), nil
	default:
		return "", fmt.Errorf("decode content: unexpected %q", raw[0])
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
