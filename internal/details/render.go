// Package details renders individual restaurant pages in headless Chrome,
// reads their structured data, archives a snapshot and marks the
// restaurant as scraped.
package details

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"
)

// Snapshot is the rendered DOM of one page.
type Snapshot struct {
	URL    string
	HTML   string
	Status int
}

// Renderer produces the rendered DOM of a page.
type Renderer interface {
	Render(ctx context.Context, url string) (Snapshot, error)
}

// ModalStrategy clears overlays after navigation. It runs inside a chromedp
// context. Errors are logged and never fail the render.
type ModalStrategy interface {
	Dismiss(ctx context.Context) error
}

// NoModals leaves the page untouched.
type NoModals struct{}

// Dismiss does nothing.
func (NoModals) Dismiss(context.Context) error { return nil }

// SelectorChain clicks the first present element of each selector and then
// presses Escape.
type SelectorChain struct {
	Selectors []string
	// Settle is the pause after each click.
	Settle time.Duration
}

// NewSelectorChain drops blank selectors.
func NewSelectorChain(selectors []string, settle time.Duration) SelectorChain {
	cleaned := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	return SelectorChain{Selectors: cleaned, Settle: settle}
}

// Dismiss tries every selector and keeps going past failures.
func (c SelectorChain) Dismiss(ctx context.Context) error {
	var firstErr error
	for _, sel := range c.Selectors {
		var nodes []*cdp.Node
		err := chromedp.Run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
		if err == nil && len(nodes) > 0 {
			err = chromedp.Run(ctx, chromedp.MouseClickNode(nodes[0]), chromedp.Sleep(c.Settle))
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dismiss %s: %w", sel, err)
		}
	}
	if err := chromedp.Run(ctx, chromedp.KeyEvent(kb.Escape)); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("send escape: %w", err)
	}
	return firstErr
}

// BrowserConfig controls the headless renderer.
type BrowserConfig struct {
	Headless          bool
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Browser implements Renderer using chromedp and headless Chrome.
type Browser struct {
	cfg         BrowserConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	modals      ModalStrategy
	logger      *zap.Logger
}

// BrowserOption customises the Browser.
type BrowserOption func(*Browser)

// WithModalStrategy replaces the overlay handling.
func WithModalStrategy(m ModalStrategy) BrowserOption {
	return func(b *Browser) {
		if m != nil {
			b.modals = m
		}
	}
}

// WithBrowserLogger sets the logger.
func WithBrowserLogger(l *zap.Logger) BrowserOption {
	return func(b *Browser) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBrowser creates a renderer backed by chromedp. Chrome is started lazily
// on the first render.
func NewBrowser(cfg BrowserConfig, opts ...BrowserOption) (*Browser, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	headless := chromedp.Flag("headless", false)
	if cfg.Headless {
		headless = chromedp.Flag("headless", "new")
	}
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		headless,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	b := &Browser{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		modals:      NoModals{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.allocCancel()
}

// Render navigates to url, clears overlays and returns the DOM.
func (b *Browser) Render(ctx context.Context, url string) (Snapshot, error) {
	if err := b.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	defer b.release()

	taskCtx, taskCancel := chromedp.NewContext(b.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	taskCtx, cancel := context.WithTimeout(taskCtx, b.navTimeout())
	defer cancel()

	meta := &responseMeta{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	var finalURL, html string
	err := chromedp.Run(taskCtx,
		b.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(2*time.Second),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := b.modals.Dismiss(taskCtx); err != nil {
		b.logger.Debug("modal dismissal incomplete", zap.String("url", url), zap.Error(err))
	}
	err = chromedp.Run(taskCtx,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read dom %s: %w", url, err)
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return Snapshot{URL: responseURL, HTML: html, Status: status}, nil
}

func (b *Browser) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if b.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(b.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		headers := network.Headers{"Accept-Language": "en-US,en;q=0.9"}
		if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
		return nil
	})
}

func (b *Browser) acquire(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	select {
	case b.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (b *Browser) release() {
	if b.limiter == nil {
		return
	}
	select {
	case <-b.limiter:
	default:
	}
}

func (b *Browser) navTimeout() time.Duration {
	if b.cfg.NavigationTimeout > 0 {
		return b.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// responseMeta remembers the main document response.
type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()
	switch {
	case finalURL != "":
		url = finalURL
	case url == "":
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}
