// Package direct implements scraper.Scraper by fetching pages itself with
// Colly, for development against sites that do not need a proxy pool.
package direct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
)

// DefaultUserAgent is sent when Config.UserAgent is empty.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements scraper.Scraper using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Scrape fetches url and shapes the page like the Spider backend does. The
// profile only matters to remote backends and is ignored here.
func (f *Fetcher) Scrape(ctx context.Context, url string, _ scraper.Profile) (scraper.Envelope, error) {
	var (
		env      scraper.Envelope
		fetchErr error
	)
	collector := f.buildCollector(&env, &fetchErr)
	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return scraper.Envelope{}, err
	}
	if env.Status == http.StatusTooManyRequests {
		return env, fmt.Errorf("direct fetch: %w", scraper.ErrRateLimited)
	}
	return env, nil
}

func (f *Fetcher) buildCollector(env *scraper.Envelope, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.UserAgent = f.cfg.UserAgent
	if collector.UserAgent == "" {
		collector.UserAgent = DefaultUserAgent
	}
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)

	configureCollectorHooks(collector, env, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, env *scraper.Envelope, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*env = Shape(r.Request.URL.String(), r.StatusCode, r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// Shape builds an Envelope from a raw HTML body. Every JSON-LD block ends up
// under JSONData["other_scripts"], the key the listing classifier reads.
func Shape(url string, status int, body []byte) scraper.Envelope {
	env := scraper.Envelope{
		URL:     url,
		Status:  status,
		Content: string(body),
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		env.Error = err.Error()
		return env
	}
	env.Title = strings.TrimSpace(doc.Find("title").First().Text())

	scripts := []any{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err == nil {
			scripts = append(scripts, v)
		}
	})
	if len(scripts) > 0 {
		env.JSONData = map[string]any{"other_scripts": scripts}
	}
	return env
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
