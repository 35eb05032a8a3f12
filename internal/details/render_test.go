package details

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
)

func TestNewBrowserLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewBrowser(BrowserConfig{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	b, err := NewBrowser(BrowserConfig{MaxParallel: 2, Headless: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer b.Close()
	if cap(b.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(b.limiter))
	}
	if _, ok := b.modals.(NoModals); !ok {
		t.Fatalf("expected NoModals default, got %T", b.modals)
	}
}

func TestBrowserNavTimeoutDefault(t *testing.T) {
	t.Parallel()

	b := &Browser{}
	if got := b.navTimeout(); got != 45*time.Second {
		t.Fatalf("expected default nav timeout, got %v", got)
	}
	b.cfg.NavigationTimeout = time.Second
	if got := b.navTimeout(); got != time.Second {
		t.Fatalf("expected override to be used, got %v", got)
	}
}

func TestBrowserAcquireCanceled(t *testing.T) {
	t.Parallel()

	b := &Browser{limiter: make(chan struct{}, 1)}
	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.acquire(ctx); err == nil {
		t.Fatal("expected canceled acquire to fail")
	}
	b.release()
	if err := b.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 403, URL: "https://example.com/first"},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://example.com/frame"},
	})
	status, url := meta.snapshotWithFallbacks("https://req", "")
	if status != 403 || url != "https://example.com/first" {
		t.Fatalf("unexpected snapshot: status=%d url=%s", status, url)
	}

	meta = &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeScript, Response: &network.Response{Status: 500}})
	status, url = meta.snapshotWithFallbacks("https://req", "")
	if status != http.StatusOK || url != "https://req" {
		t.Fatalf("unexpected fallback: status=%d url=%s", status, url)
	}
	if _, url = meta.snapshotWithFallbacks("https://req", "https://final"); url != "https://final" {
		t.Fatalf("expected final url, got %s", url)
	}
}

func TestNewSelectorChainDropsBlank(t *testing.T) {
	t.Parallel()

	c := NewSelectorChain([]string{" #accept ", "", "  "}, time.Millisecond)
	if len(c.Selectors) != 1 || c.Selectors[0] != "#accept" {
		t.Fatalf("unexpected selectors %v", c.Selectors)
	}
	if err := (NoModals{}).Dismiss(context.Background()); err != nil {
		t.Fatalf("NoModals.Dismiss() = %v", err)
	}
}
