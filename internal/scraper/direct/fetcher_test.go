package direct

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
)

const listingHTML = `<html><head><title> Best Restaurants in Utrecht </title>
<script type="application/ld+json">{"@type": "ItemList", "itemListOrder": "Unordered",
 "itemListElement": [{"item": {"name": "A", "url": "https://x/Restaurant_Review-g1-d1"}}]}</script>
<script type="application/ld+json">not json</script>
</head><body></body></html>`

func TestShapeExtractsStructuredData(t *testing.T) {
	t.Parallel()

	env := Shape("https://x", http.StatusOK, []byte(listingHTML))
	if env.Title != "Best Restaurants in Utrecht" {
		t.Fatalf("unexpected title %q", env.Title)
	}
	scripts, ok := env.JSONData["other_scripts"].([]any)
	if !ok || len(scripts) != 1 {
		t.Fatalf("expected one parsed script, got %#v", env.JSONData)
	}
	if env.Size() <= len(listingHTML) {
		t.Fatalf("size should include structured data, got %d", env.Size())
	}
}

func TestShapeWithoutScripts(t *testing.T) {
	t.Parallel()

	env := Shape("https://x", http.StatusOK, []byte("<html><title>t</title></html>"))
	if env.HasJSONKey("other_scripts") {
		t.Fatal("expected no other_scripts key")
	}
}

func TestScrapeAgainstServer(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path == "/slow" {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, listingHTML)
	}))
	t.Cleanup(srv.Close)

	f := New(Config{UserAgent: "direct-test", Timeout: 5 * time.Second})
	env, err := f.Scrape(context.Background(), srv.URL+"/list", scraper.ProfileResults)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	if env.Status != http.StatusOK || !env.HasJSONKey("other_scripts") {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if gotUA != "direct-test" {
		t.Fatalf("expected user agent override, got %q", gotUA)
	}

	// Same URL twice must not trip colly's visited check.
	if _, err := f.Scrape(context.Background(), srv.URL+"/list", scraper.ProfileResults); err != nil {
		t.Fatalf("revisit: %v", err)
	}

	_, err = f.Scrape(context.Background(), srv.URL+"/slow", scraper.ProfileResults)
	if !errors.Is(err, scraper.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var env scraper.Envelope
	var fetchErr error
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, &env, &fetchErr)
	if hooks.onRequest == nil || hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	if collyReq.Headers.Get("Accept-Language") == "" {
		t.Fatal("expected accept-language header")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("<title>x</title>"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com")},
	})
	if env.Status != http.StatusCreated || env.Title != "x" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func TestScrapeCanceled(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-block
	}))
	t.Cleanup(func() {
		close(block)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(Config{}).Scrape(ctx, srv.URL, scraper.ProfileBasic)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
