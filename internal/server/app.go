// Package server provides the core application wiring: it builds every
// collaborator from configuration, runs the serve loop and shuts down.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/api"
	"github.com/JakeFAU/forum-lead-crawler/internal/config"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/discovery"
	"github.com/JakeFAU/forum-lead-crawler/internal/dispatcher"
	"github.com/JakeFAU/forum-lead-crawler/internal/enrich"
	"github.com/JakeFAU/forum-lead-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/forum-lead-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/forum-lead-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/forum-lead-crawler/internal/headless/detector"
	"github.com/JakeFAU/forum-lead-crawler/internal/id/uuid"
	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
	"github.com/JakeFAU/forum-lead-crawler/internal/pipeline"
	"github.com/JakeFAU/forum-lead-crawler/internal/policy/ratelimit"
	kafkapublisher "github.com/JakeFAU/forum-lead-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/forum-lead-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/forum-lead-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/forum-lead-crawler/internal/publisher/webhook"
	gcsstorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/memory"
	pgstorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/postgres"
	redisstorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/redis"
	sqlitestorage "github.com/JakeFAU/forum-lead-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/forum-lead-crawler/internal/telemetry"
)

// Version is stamped into traces.
var Version = "dev"

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *ledger.Store
	pipeline *pipeline.Pipeline
	runner   *pipeline.Runner
	sender   crawler.Sender
	closers  []closer
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	sender crawler.Sender
}

// WithSender replaces the configured transport.
func WithSender(s crawler.Sender) Option {
	return func(o *buildOptions) { o.sender = s }
}

// Store returns the loaded ledger.
func (a *App) Store() *ledger.Store { return a.store }

// Pipeline returns the pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Runner returns the run coordinator.
func (a *App) Runner() *pipeline.Runner { return a.runner }

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// OpenLedger builds only the ledger. It is enough for the ledger
// subcommands and needs no delivery settings.
func OpenLedger(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	if err := app.setupLedger(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.sender == nil {
		if err := cfg.ValidateDelivery(); err != nil {
			return nil, err
		}
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	tp, err := telemetry.InitTracerProvider(ctx, Version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose("tracer", tp.Shutdown)

	if err := app.build(ctx, o); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o buildOptions) error {
	cfg := a.cfg
	a.logger.Info("building application dependencies")

	if err := a.setupLedger(ctx); err != nil {
		return err
	}

	httpFetcher, headless, err := a.setupFetchers()
	if err != nil {
		return err
	}

	a.sender = o.sender
	if a.sender == nil {
		if a.sender, err = a.setupSender(ctx); err != nil {
			return err
		}
	}

	sources, err := cfg.BuildSources()
	if err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	keys, err := cfg.Canonicalizer()
	if err != nil {
		return fmt.Errorf("canonical rules: %w", err)
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}

	var fetchOpts []extract.Option
	if cfg.Headless.Enabled && cfg.Headless.AutoPromote {
		fetchOpts = append(fetchOpts, extract.WithPromoter(detector.NewHeuristic(cfg.Headless.PromotionThreshold)))
	}
	scheduler := enrich.New(
		extract.NewPageFetcher(httpFetcher, headless, a.logger.Named("extract"), fetchOpts...),
		a.store,
		classifier,
		enrichConfig(cfg.Enrich),
		enrich.WithLogger(a.logger),
	)
	deliverer := dispatcher.New(a.sender, a.store, dispatcher.Config{
		Token: cfg.Delivery.Token,
		Retry: crawler.RetryPolicy{
			MaxAttempts: cfg.Delivery.Attempts,
			BaseDelay:   800 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Timeout:     cfg.Delivery.Timeout,
		},
		PruneLimit: cfg.Ledger.PruneLimit,
	}, dispatcher.WithLogger(a.logger))

	a.pipeline, err = pipeline.New(pipeline.Config{
		MaxAttempts: cfg.Ledger.MaxAttempts,
		PruneLimit:  cfg.Ledger.PruneLimit,
	}, sources, pipeline.Deps{
		Discoverer: discovery.New(httpFetcher, headless, a.logger),
		Keys:       keys,
		Store:      a.store,
		Classifier: classifier,
		Enricher:   scheduler,
		Deliverer:  deliverer,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	a.runner = pipeline.NewRunner(a.pipeline, uuid.New(), a.logger)

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Tag)
	}
	a.logger.Info("application ready",
		zap.Strings("sources", names),
		zap.String("ledger", cfg.Ledger.Backend),
		zap.String("transport", cfg.Delivery.Transport),
	)
	return nil
}

func enrichConfig(c config.EnrichConfig) enrich.Config {
	retry := crawler.NewExponentialRetryPolicy()
	if c.MaxRetries > 0 {
		retry.MaxAttempts = c.MaxRetries
	}
	if c.RetryBackoff > 0 {
		retry.BaseDelay = c.RetryBackoff
	}
	if c.Timeout > 0 {
		retry.Timeout = c.Timeout
	}
	return enrich.Config{
		Concurrency: c.Concurrency,
		Politeness:  c.Politeness,
		Retry:       retry,
	}
}

func (a *App) setupLedger(ctx context.Context) error {
	l := a.cfg.Ledger
	var (
		backend ledger.Backend
		err     error
	)
	switch l.Backend {
	case config.BackendLocal:
		backend, err = localstorage.New(localstorage.Config{Path: l.Path})
	case config.BackendMemory:
		a.logger.Warn("using in-memory ledger; state is lost on exit")
		backend = memorystorage.NewLedgerStore()
	case config.BackendGCS:
		var client *storage.Client
		client, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		backend, err = gcsstorage.New(client, gcsstorage.Config{Bucket: l.GCS.Bucket, Object: l.GCS.Object})
	case config.BackendRedis:
		var rs *redisstorage.LedgerStore
		rs, err = redisstorage.New(redisstorage.Config{
			Addr:     l.Redis.Addr,
			Password: l.Redis.Password,
			DB:       l.Redis.DB,
			Key:      l.Redis.Key,
		})
		if err == nil {
			a.onClose("redis", func(context.Context) error { return rs.Close() })
			backend = rs
		}
	case config.BackendPostgres:
		var ps *pgstorage.LedgerStore
		ps, err = pgstorage.New(ctx, pgstorage.Config{
			DSN:      l.Postgres.DSN,
			Table:    l.Postgres.Table,
			Name:     l.Postgres.Name,
			MaxConns: l.Postgres.MaxConns,
		})
		if err == nil {
			a.onClose("postgres", func(context.Context) error { ps.Close(); return nil })
			backend = ps
		}
	case config.BackendSQLite:
		var ss *sqlitestorage.LedgerStore
		ss, err = sqlitestorage.Open(ctx, sqlitestorage.Config{Path: l.SQLite.Path, Name: l.SQLite.Name})
		if err == nil {
			a.onClose("sqlite", func(context.Context) error { return ss.Close() })
			backend = ss
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", l.Backend)
	}
	if err != nil {
		return fmt.Errorf("%s ledger init failed: %w", l.Backend, err)
	}
	a.store = ledger.Load(ctx, backend, ledger.WithLogger(a.logger))
	a.logger.Info("ledger ready", zap.String("backend", l.Backend), zap.Int("records", a.store.Len()))
	return nil
}

func (a *App) setupFetchers() (crawler.HTMLFetcher, crawler.HTMLFetcher, error) {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Fetch.RPS,
		DefaultBurst: cfg.Fetch.Burst,
		HostRPS:      cfg.Fetch.HostRPS,
	})
	blocker := crawler.NewHostBlocker(cfg.Fetch.ForbiddenThreshold)
	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Fetch.UserAgent,
		AcceptLanguage: cfg.Fetch.AcceptLanguage,
		RespectRobots:  cfg.Fetch.RespectRobots,
		Timeout:        cfg.Fetch.Timeout,
		MaxBodySize:    cfg.Fetch.MaxBodySize,
	},
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithHostBlocker(blocker),
		collyfetcher.WithLogger(a.logger.Named("colly")),
	)
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Fetch.UserAgent),
		zap.Float64("rps", cfg.Fetch.RPS),
		zap.Bool("respect_robots", cfg.Fetch.RespectRobots),
	)

	if !cfg.Headless.Enabled {
		a.logger.Info("headless rendering disabled")
		return httpFetcher, headlessfetcher.NewNoop(), nil
	}
	headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Fetch.UserAgent,
		AcceptLanguage:    cfg.Fetch.AcceptLanguage,
		NavigationTimeout: cfg.Headless.NavigationTimeout,
		WaitTimeout:       cfg.Headless.WaitTimeout,
		BlockImages:       cfg.Headless.BlockImages,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.onClose("headless", func(context.Context) error { headless.Close(); return nil })
	a.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	return httpFetcher, headless, nil
}

func (a *App) setupSender(ctx context.Context) (crawler.Sender, error) {
	d := a.cfg.Delivery
	switch d.Transport {
	case config.TransportWebhook:
		s, err := webhook.New(webhook.Config{
			URL:       d.Webhook.URL,
			Token:     d.Token,
			Timeout:   d.Timeout,
			UserAgent: a.cfg.Fetch.UserAgent,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("webhook sender init failed: %w", err)
		}
		a.logger.Info("using webhook transport")
		return s, nil
	case config.TransportPubSub:
		client, err := pubsub.NewClient(ctx, d.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		pub := gcppublisher.New(client.Topic(d.PubSub.TopicName))
		a.onClose("pubsub", func(context.Context) error {
			pub.Close()
			return client.Close()
		})
		a.logger.Info("using Pub/Sub transport",
			zap.String("project", d.PubSub.ProjectID),
			zap.String("topic", d.PubSub.TopicName),
		)
		return pub, nil
	case config.TransportKafka:
		pub, err := kafkapublisher.New(kafkapublisher.Config{Brokers: d.Kafka.Brokers, Topic: d.Kafka.Topic})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.onClose("kafka", func(context.Context) error { return pub.Close() })
		a.logger.Info("using kafka transport", zap.Strings("brokers", d.Kafka.Brokers), zap.String("topic", d.Kafka.Topic))
		return pub, nil
	case config.TransportMemory:
		a.logger.Warn("using in-memory transport; payloads are discarded on exit")
		return memorypublisher.New(), nil
	default:
		return nil, fmt.Errorf("unknown delivery transport %q", d.Transport)
	}
}

// Reload applies a new configuration revision to the running pipeline.
// Only sources and classification change; transports and the ledger
// backend need a restart.
func (a *App) Reload(cfg config.Config) error {
	sources, err := cfg.BuildSources()
	if err != nil {
		return fmt.Errorf("sources: %w", err)
	}
	keys, err := cfg.Canonicalizer()
	if err != nil {
		return fmt.Errorf("canonical rules: %w", err)
	}
	classifier, err := cfg.Classifier()
	if err != nil {
		return fmt.Errorf("classifier: %w", err)
	}
	a.pipeline.Reconfigure(sources, keys, classifier)
	return nil
}

// Serve runs the interval loop and the HTTP API until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	apiServer := api.NewServer(ctx, a.store, a.runner, api.Config{
		APIKey:         a.cfg.Server.APIKey,
		RequestTimeout: a.cfg.Server.RequestTimeout,
	}, a.logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	interval := a.cfg.Server.Interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.tick(ctx)

	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case e, ok := <-serveErr:
			if ok {
				err = fmt.Errorf("http server: %w", e)
			}
			break loop
		case <-ticker.C:
			a.tick(ctx)
		}
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		a.logger.Error("server shutdown error", zap.Error(shutdownErr))
	}
	a.runner.Wait()
	return err
}

func (a *App) tick(ctx context.Context) {
	_, err := a.runner.RunNow(ctx, "interval")
	if errors.Is(err, pipeline.ErrBusy) {
		a.logger.Info("interval run skipped, another run is active")
		return
	}
	if err != nil {
		a.logger.Error("interval run failed", zap.Error(err))
	}
}

// Close gracefully shuts down the application in reverse build order.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}
