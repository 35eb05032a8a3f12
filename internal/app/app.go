// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/api"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/backoff"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/config"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/directory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/publisher"
	pubmemory "github.com/barrydaniels-nl/tripadvisor-scraper/internal/publisher/memory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/publisher/pubsub"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper/direct"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/scraper/spider"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/storage"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/storage/gcs"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/storage/local"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/storage/memory"
	"github.com/barrydaniels-nl/tripadvisor-scraper/internal/workqueue"
)

// App holds the shared services. The directory client and sink are built
// eagerly; the queue, scraper, blob store and publisher are opened on first
// use so commands only pay for what they touch.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Directory *directory.Client
	Sink      *directory.Sink

	mu        sync.Mutex
	queue     *workqueue.Store
	scraper   scraper.Scraper
	blobs     storage.BlobStore
	publisher publisher.Publisher
	closers   []func() error
	stopOps   context.CancelFunc
	opsDone   chan struct{}
}

// New builds the container from a validated configuration.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := directory.NewClient(cfg.Directory.BaseURL,
		directory.WithTimeout(cfg.DirectoryTimeout()),
		directory.WithPageSize(cfg.Directory.PageSize),
		directory.WithLogger(logger.Named("directory")),
	)
	sink := directory.NewSink(dir,
		directory.WithSinkRetry(backoff.Exponential{
			Attempts: cfg.Sink.MaxAttempts,
			Base:     time.Duration(cfg.Sink.BackoffBaseMs) * time.Millisecond,
		}),
		directory.WithSinkLogger(logger.Named("sink")),
	)
	return &App{Config: cfg, Logger: logger, Directory: dir, Sink: sink}, nil
}

// Queue opens the work-queue database.
func (a *App) Queue(ctx context.Context) (*workqueue.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.queue != nil {
		return a.queue, nil
	}
	q := a.Config.Queue
	store, err := workqueue.Open(ctx, q.Path, time.Duration(q.BusyTimeoutMs)*time.Millisecond,
		workqueue.WithRetryPolicy(backoff.Exponential{
			Attempts: q.MaxAttempts,
			Base:     time.Duration(q.BaseDelayMs) * time.Millisecond,
			Max:      5 * time.Second,
		}),
		workqueue.WithLogger(a.Logger.Named("queue")),
	)
	if err != nil {
		return nil, fmt.Errorf("open work queue: %w", err)
	}
	a.queue = store
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Scraper builds the configured scraping backend behind the pacing guard.
func (a *App) Scraper() (scraper.Scraper, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.scraper != nil {
		return a.scraper, nil
	}
	cfg := a.Config.Scraper
	var backend scraper.Scraper
	switch cfg.Backend {
	case "direct":
		backend = direct.New(direct.Config{UserAgent: cfg.Direct.UserAgent, Timeout: a.Config.ScrapeTimeout()})
	default:
		if err := a.Config.RequireSpiderKey(); err != nil {
			return nil, err
		}
		client, err := spider.New(spider.Config{
			Endpoint: cfg.Spider.Endpoint,
			APIKey:   cfg.Spider.APIKey,
			ProxyURL: cfg.Spider.ProxyURL,
		}, spider.WithLogger(a.Logger.Named("spider")))
		if err != nil {
			return nil, fmt.Errorf("init spider client: %w", err)
		}
		backend = client
	}
	a.scraper = scraper.NewGuard(backend, scraper.GuardConfig{
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Timeout:       a.Config.ScrapeTimeout(),
	})
	a.Logger.Info("scraper ready", zap.String("backend", cfg.Backend))
	return a.scraper, nil
}

// Blobs opens the snapshot archive.
func (a *App) Blobs(ctx context.Context) (storage.BlobStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.blobs != nil {
		return a.blobs, nil
	}
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("open gcs storage: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		a.blobs = store
	case "memory":
		a.blobs = memory.NewBlobStore()
	default:
		store, err := local.New(local.Config{BaseDir: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("open local storage: %w", err)
		}
		a.blobs = store
	}
	a.Logger.Info("snapshot storage ready", zap.String("backend", cfg.Backend))
	return a.blobs, nil
}

// Publisher returns the notification publisher. Without a configured topic
// messages are dropped; with a topic but project "memory" they are kept in
// process.
func (a *App) Publisher(ctx context.Context) (publisher.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil {
		return a.publisher, nil
	}
	cfg := a.Config.PubSub
	switch {
	case cfg.Topic == "":
		a.publisher = publisher.Nop{}
	case cfg.ProjectID == "memory":
		a.publisher = pubmemory.New()
	default:
		pub, err := pubsub.Open(ctx, cfg.ProjectID,
			pubsub.WithAttributes(map[string]string{"source": "tripadvisor-scraper"}))
		if err != nil {
			return nil, fmt.Errorf("open pubsub: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		a.publisher = pub
	}
	return a.publisher, nil
}

// StartOps serves the operational endpoints when metrics.addr is set. It
// returns immediately; Close stops the server.
func (a *App) StartOps(ctx context.Context) error {
	addr := a.Config.Metrics.Addr
	if addr == "" {
		return nil
	}
	q, err := a.Queue(ctx)
	if err != nil {
		return err
	}
	srv := api.NewServer(q, a.Logger.Named("api"))

	a.mu.Lock()
	if a.stopOps != nil {
		a.mu.Unlock()
		return nil
	}
	opsCtx, cancel := context.WithCancel(ctx)
	a.stopOps = cancel
	a.opsDone = make(chan struct{})
	done := a.opsDone
	a.mu.Unlock()

	go func() {
		defer close(done)
		a.Logger.Info("serving ops endpoints", zap.String("addr", addr))
		if err := srv.Serve(opsCtx, addr); err != nil {
			a.Logger.Error("ops server failed", zap.Error(err))
		}
	}()
	return nil
}

// Close shuts down every opened service.
func (a *App) Close() error {
	a.mu.Lock()
	stop, done := a.stopOps, a.opsDone
	closers := a.closers
	a.closers, a.stopOps = nil, nil
	a.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("closing services", zap.Error(err))
		return err
	}
	return nil
}
