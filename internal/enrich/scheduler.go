// Package enrich fetches candidate threads, classifies their content and
// records every outcome in the ledger.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/classify"
	"github.com/JakeFAU/forum-lead-crawler/internal/clock/system"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
)

// Config controls the scheduler.
type Config struct {
	// Concurrency bounds in-flight tasks.
	Concurrency int
	// Politeness is paused before every fetch.
	Politeness time.Duration
	// Retry governs transport retries within one attempt.
	Retry crawler.RetryPolicy
}

// DefaultConfig mirrors the crawler's historical pacing.
func DefaultConfig() Config {
	retry := crawler.NewExponentialRetryPolicy()
	retry.BaseDelay = 800 * time.Millisecond
	retry.Timeout = 45 * time.Second
	return Config{
		Concurrency: 4,
		Politeness:  350 * time.Millisecond,
		Retry:       retry,
	}
}

// Scheduler runs enrichment tasks with bounded concurrency.
type Scheduler struct {
	cfg        Config
	fetcher    crawler.PageFetcher
	store      *ledger.Store
	classifier *classify.Classifier
	pauser     crawler.Pauser
	clock      crawler.Clock
	logger     *zap.Logger
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithPauser replaces the politeness pauser.
func WithPauser(p crawler.Pauser) Option {
	return func(s *Scheduler) { s.pauser = p }
}

// WithClock replaces the clock used for attempt timestamps.
func WithClock(c crawler.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New builds a Scheduler.
func New(fetcher crawler.PageFetcher, store *ledger.Store, classifier *classify.Classifier, cfg Config, opts ...Option) *Scheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Scheduler{
		cfg:        cfg,
		fetcher:    fetcher,
		store:      store,
		classifier: classifier,
		pauser:     crawler.TimerPauser{},
		clock:      system.New(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("enrich")
	return s
}

// Outcome is the result of one task.
type Outcome struct {
	Candidate crawler.Candidate
	Status    ledger.Status
	Item      *crawler.EnrichedItem
	Err       error
}

// Run enriches candidates and returns the accepted items in discovery
// order. Tasks start in discovery order; at most Concurrency run at once.
// classifier makes the final decision for this call; nil uses the one the
// Scheduler was built with.
func (s *Scheduler) Run(
	ctx context.Context,
	src crawler.Source,
	classifier *classify.Classifier,
	candidates []crawler.Candidate,
) []crawler.EnrichedItem {
	outcomes := s.RunOutcomes(ctx, src, classifier, candidates)
	items := make([]crawler.EnrichedItem, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Item != nil {
			items = append(items, *o.Item)
		}
	}
	return items
}

// RunOutcomes is Run with every task outcome, indexed like candidates.
func (s *Scheduler) RunOutcomes(
	ctx context.Context,
	src crawler.Source,
	classifier *classify.Classifier,
	candidates []crawler.Candidate,
) []Outcome {
	if classifier == nil {
		classifier = s.classifier
	}
	outcomes := make([]Outcome, len(candidates))
	sem := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, c := range candidates {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			for j := i; j < len(candidates); j++ {
				outcomes[j] = Outcome{Candidate: candidates[j], Err: ctx.Err()}
			}
			break
		}
		wg.Add(1)
		go func(i int, c crawler.Candidate) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = s.enrichOne(ctx, src, classifier, c)
		}(i, c)
	}
	wg.Wait()
	return outcomes
}

func (s *Scheduler) enrichOne(ctx context.Context, src crawler.Source, classifier *classify.Classifier, c crawler.Candidate) Outcome {
	logger := s.logger.With(zap.String("source", src.Tag), zap.String("key", c.Key))

	s.pauser.Pause(ctx, s.cfg.Politeness)
	if err := ctx.Err(); err != nil {
		return Outcome{Candidate: c, Err: err}
	}

	now := s.clock.Now()
	rec := s.store.Upsert(c.Key, func(r *ledger.Record) {
		r.Attempts++
		r.LastAttempt = now
		r.LastSeen = now
	})
	if rec.Status == ledger.StatusSent {
		return Outcome{Candidate: c, Status: ledger.StatusSent}
	}
	s.checkpoint(ctx, logger)

	content, err := crawler.Retry(ctx, s.cfg.Retry,
		func(attempt int, err error, wait time.Duration) {
			logger.Debug("fetch retry", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		},
		func(ctx context.Context) (crawler.Content, error) {
			return s.fetcher.FetchContent(ctx, c.URL, src.Content)
		},
	)
	if err == nil && content.Text == "" {
		err = crawler.ErrNoContent
	}
	if err != nil {
		s.record(c.Key, ledger.StatusFailed, err)
		s.checkpoint(ctx, logger)
		metrics.ObserveEnrichment(src.Tag, string(ledger.StatusFailed))
		level := logger.Warn
		if errors.Is(err, crawler.ErrNoContent) {
			level = logger.Info
		}
		level("enrichment failed", zap.Int("attempts", rec.Attempts), zap.Error(err))
		return Outcome{Candidate: c, Status: ledger.StatusFailed, Err: err}
	}

	hints := c.Hints
	if hints.PublishedAt == nil {
		hints.PublishedAt = content.PublishedAt
	}
	res := classifier.Final(c.Title, content.Text, c.URL, hints)
	if res.Label != classify.JobRequest {
		s.record(c.Key, ledger.StatusNotJob, nil)
		s.checkpoint(ctx, logger)
		metrics.ObserveEnrichment(src.Tag, string(ledger.StatusNotJob))
		logger.Debug("not a job", zap.String("label", string(res.Label)), zap.Float64("score", res.Score))
		return Outcome{Candidate: c, Status: ledger.StatusNotJob}
	}

	title := c.Title
	if title == "" {
		title = content.Title
	}
	item := &crawler.EnrichedItem{
		Key:     c.Key,
		Title:   title,
		URL:     c.URL,
		Content: content.Text,
		Score:   res.Score,
		Reasons: res.Reasons(),
	}
	s.record(c.Key, ledger.StatusReady, nil)
	s.checkpoint(ctx, logger)
	metrics.ObserveEnrichment(src.Tag, string(ledger.StatusReady))
	logger.Info("lead accepted", zap.Float64("score", res.Score), zap.String("override", res.Override))
	return Outcome{Candidate: c, Status: ledger.StatusReady, Item: item}
}

func (s *Scheduler) record(key string, status ledger.Status, err error) {
	s.store.Upsert(key, func(r *ledger.Record) {
		r.Status = status
		if err != nil {
			r.LastError = err.Error()
		} else {
			r.LastError = ""
		}
	})
}

// checkpoint saves the ledger; failures are logged and the run continues.
func (s *Scheduler) checkpoint(ctx context.Context, logger *zap.Logger) {
	if err := s.store.Save(ctx); err != nil {
		logger.Warn("ledger checkpoint failed", zap.Error(fmt.Errorf("enrich: %w", err)))
	}
}
