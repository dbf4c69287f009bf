// Package dispatcher delivers accepted leads in one batch per source and
// marks them sent once the downstream consumer accepts the batch.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/clock/system"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
)

// DefaultPruneLimit caps the ledger after a successful delivery.
const DefaultPruneLimit = 50_000

// DeliveryError reports a batch the sender did not accept. Ledger statuses
// are left untouched so the items are retried on the next run.
type DeliveryError struct {
	Source string
	Items  int
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %d items for %s: %v", e.Items, e.Source, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Config controls delivery.
type Config struct {
	Token      string
	Retry      crawler.RetryPolicy
	PruneLimit int
}

// DefaultConfig sends with two attempts and a 25s per-attempt timeout.
func DefaultConfig() Config {
	return Config{
		Retry: crawler.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   800 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Timeout:     25 * time.Second,
		},
		PruneLimit: DefaultPruneLimit,
	}
}

// Dispatcher sends batches and records their delivery.
type Dispatcher struct {
	sender crawler.Sender
	store  *ledger.Store
	clock  crawler.Clock
	cfg    Config
	logger *zap.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithClock replaces the clock used for sentAt.
func WithClock(c crawler.Clock) Option {
	return func(d *Dispatcher) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher.
func New(sender crawler.Sender, store *ledger.Store, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		store:  store,
		clock:  system.New(),
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatcher")
	return d
}

// Deliver sends items as one payload and marks them sent. It returns the
// number of items delivered. Zero items is a no-op.
func (d *Dispatcher) Deliver(ctx context.Context, source string, items []crawler.EnrichedItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	payload := crawler.NewPayload(d.cfg.Token, source, items)

	_, err := crawler.Retry(ctx, d.cfg.Retry,
		func(attempt int, err error, wait time.Duration) {
			d.logger.Warn("delivery retry",
				zap.String("source", source), zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
		},
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, d.sender.Send(ctx, payload)
		},
	)
	metrics.ObserveDelivery(source, len(items), err)
	if err != nil {
		d.logger.Warn("delivery failed, items stay retryable",
			zap.String("source", source), zap.Int("items", len(items)), zap.Error(err))
		return 0, &DeliveryError{Source: source, Items: len(items), Err: err}
	}

	now := d.clock.Now()
	for _, item := range items {
		d.store.Upsert(item.Key, func(r *ledger.Record) {
			r.Status = ledger.StatusSent
			r.SentAt = now
			r.LastError = ""
		})
	}
	if pruned := d.store.Prune(d.pruneLimit()); pruned > 0 {
		d.logger.Info("ledger pruned", zap.Int("removed", pruned))
	}
	if err := d.store.Save(ctx); err != nil {
		// The batch is out; a lost save only risks a duplicate next run.
		d.logger.Error("ledger save after delivery failed", zap.String("source", source), zap.Error(err))
	}
	d.logger.Info("delivered", zap.String("source", source), zap.Int("items", len(items)))
	return len(items), nil
}

func (d *Dispatcher) pruneLimit() int {
	if d.cfg.PruneLimit > 0 {
		return d.cfg.PruneLimit
	}
	return DefaultPruneLimit
}
