// Package pipeline runs the discover, dedup, classify, enrich and deliver
// flow for every configured source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/canonical"
	"github.com/JakeFAU/forum-lead-crawler/internal/classify"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
)

// Discoverer yields raw links for one source.
type Discoverer interface {
	Discover(ctx context.Context, src crawler.Source) ([]crawler.CandidateLink, error)
}

// Enricher fetches and classifies candidates. classifier is the run's
// snapshot and makes the final decision.
type Enricher interface {
	Run(
		ctx context.Context,
		src crawler.Source,
		classifier *classify.Classifier,
		candidates []crawler.Candidate,
	) []crawler.EnrichedItem
}

// Deliverer sends accepted items for one source.
type Deliverer interface {
	Deliver(ctx context.Context, source string, items []crawler.EnrichedItem) (int, error)
}

// Stage names used in metrics.
const (
	StageDiscovered  = "discovered"
	StageUnique      = "unique"
	StageEligible    = "eligible"
	StagePrefiltered = "prefiltered"
	StageAccepted    = "accepted"
	StageDelivered   = "delivered"
)

const tracerName = "github.com/JakeFAU/forum-lead-crawler/internal/pipeline"

// Config controls a run.
type Config struct {
	// MaxAttempts excludes keys that failed this many times.
	MaxAttempts int
	// PruneLimit caps the ledger at run start.
	PruneLimit int
}

// DefaultConfig returns the standard caps.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, PruneLimit: 50_000}
}

// SourceReport counts candidates through each stage of one source.
type SourceReport struct {
	Source      string        `json:"source"`
	Discovered  int           `json:"discovered"`
	Unique      int           `json:"unique"`
	Eligible    int           `json:"eligible"`
	Prefiltered int           `json:"prefiltered"`
	Enriched    int           `json:"enriched"`
	Accepted    int           `json:"accepted"`
	Delivered   int           `json:"delivered"`
	Errors      []string      `json:"errors,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Report summarizes one run.
type Report struct {
	Sources  []SourceReport `json:"sources"`
	Pruned   int            `json:"pruned"`
	Duration time.Duration  `json:"duration"`
}

// Delivered sums delivered items over all sources.
func (r Report) Delivered() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Delivered
	}
	return n
}

// Failed reports whether any source recorded an error.
func (r Report) Failed() bool {
	for _, s := range r.Sources {
		if len(s.Errors) > 0 {
			return true
		}
	}
	return false
}

// Pipeline wires the stages together.
type Pipeline struct {
	mu         sync.RWMutex
	cfg        Config
	sources    []crawler.Source
	discoverer Discoverer
	keys       *canonical.Canonicalizer
	store      *ledger.Store
	classifier *classify.Classifier
	enricher   Enricher
	deliverer  Deliverer
	logger     *zap.Logger
}

// Deps groups the collaborators of a Pipeline.
type Deps struct {
	Discoverer Discoverer
	Keys       *canonical.Canonicalizer
	Store      *ledger.Store
	Classifier *classify.Classifier
	Enricher   Enricher
	Deliverer  Deliverer
	Logger     *zap.Logger
}

// New validates deps and builds a Pipeline.
func New(cfg Config, sources []crawler.Source, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Discoverer == nil:
		return nil, errors.New("pipeline: discoverer is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: ledger store is required")
	case deps.Enricher == nil:
		return nil, errors.New("pipeline: enricher is required")
	case deps.Deliverer == nil:
		return nil, errors.New("pipeline: deliverer is required")
	}
	if deps.Keys == nil {
		deps.Keys = canonical.Default()
	}
	if deps.Classifier == nil {
		deps.Classifier = classify.Default()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	return &Pipeline{
		cfg:        cfg,
		sources:    sources,
		discoverer: deps.Discoverer,
		keys:       deps.Keys,
		store:      deps.Store,
		classifier: deps.Classifier,
		enricher:   deps.Enricher,
		deliverer:  deps.Deliverer,
		logger:     deps.Logger.Named("pipeline"),
	}, nil
}

// Sources returns the configured sources.
func (p *Pipeline) Sources() []crawler.Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]crawler.Source(nil), p.sources...)
}

// Reconfigure swaps the sources and classification rules. A run already
// in progress keeps the settings it started with.
func (p *Pipeline) Reconfigure(sources []crawler.Source, keys *canonical.Canonicalizer, classifier *classify.Classifier) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = sources
	if keys != nil {
		p.keys = keys
	}
	if classifier != nil {
		p.classifier = classifier
	}
	p.logger.Info("pipeline reconfigured", zap.Int("sources", len(sources)))
}

// Run processes every source in order. Sources are independent: a failing
// source is reported and the run moves on.
func (p *Pipeline) Run(ctx context.Context) Report {
	return p.run(ctx, p.Sources())
}

// RunTags processes only the sources whose tag is listed.
func (p *Pipeline) RunTags(ctx context.Context, tags ...string) (Report, error) {
	if len(tags) == 0 {
		return p.Run(ctx), nil
	}
	sources := p.Sources()
	byTag := make(map[string]crawler.Source, len(sources))
	for _, s := range sources {
		byTag[s.Tag] = s
	}
	selected := make([]crawler.Source, 0, len(tags))
	for _, tag := range tags {
		s, ok := byTag[tag]
		if !ok {
			return Report{}, fmt.Errorf("pipeline: unknown source %q", tag)
		}
		selected = append(selected, s)
	}
	return p.run(ctx, selected), nil
}

func (p *Pipeline) run(ctx context.Context, sources []crawler.Source) Report {
	p.mu.RLock()
	keys, classifier := p.keys, p.classifier
	p.mu.RUnlock()

	start := time.Now()
	report := Report{Pruned: p.store.Prune(p.cfg.PruneLimit)}
	if report.Pruned > 0 {
		p.logger.Info("ledger pruned", zap.Int("removed", report.Pruned))
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		report.Sources = append(report.Sources, p.runSource(ctx, src, keys, classifier))
	}

	// Persist even when interrupted so progress made so far is kept.
	if err := p.store.Save(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("ledger save failed", zap.Error(err))
	}
	p.publishLedgerStats()

	report.Duration = time.Since(start)
	outcome := "success"
	switch {
	case ctx.Err() != nil:
		outcome = "canceled"
	case report.Failed():
		outcome = "partial"
	}
	metrics.ObserveRun(outcome, report.Duration)
	p.logger.Info("run finished",
		zap.String("outcome", outcome),
		zap.Int("sources", len(report.Sources)),
		zap.Int("delivered", report.Delivered()),
		zap.Duration("duration", report.Duration))
	return report
}

// RunSource performs one pass over a single source.
func (p *Pipeline) RunSource(ctx context.Context, src crawler.Source) SourceReport {
	p.mu.RLock()
	keys, classifier := p.keys, p.classifier
	p.mu.RUnlock()
	return p.runSource(ctx, src, keys, classifier)
}

func (p *Pipeline) runSource(
	ctx context.Context,
	src crawler.Source,
	keys *canonical.Canonicalizer,
	classifier *classify.Classifier,
) (rep SourceReport) {
	start := time.Now()
	rep = SourceReport{Source: src.Tag}
	logger := p.logger.With(zap.String("source", src.Tag))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.source")
	span.SetAttributes(attribute.String("source", src.Tag))
	defer func() {
		rep.Duration = time.Since(start)
		span.SetAttributes(
			attribute.Int("discovered", rep.Discovered),
			attribute.Int("accepted", rep.Accepted),
			attribute.Int("delivered", rep.Delivered),
		)
		if len(rep.Errors) > 0 {
			span.SetStatus(codes.Error, rep.Errors[0])
		}
		span.End()
	}()

	links, err := p.discoverer.Discover(ctx, src)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		if len(links) == 0 {
			logger.Warn("source skipped", zap.Error(err))
			return rep
		}
		logger.Warn("discovery partially failed", zap.Error(err))
	}
	rep.Discovered = len(links)
	p.observe(src.Tag, StageDiscovered, rep.Discovered)

	candidates, keyErrs := keys.Candidates(links)
	for _, e := range keyErrs {
		logger.Debug("link dropped", zap.Error(e))
	}
	rep.Unique = len(candidates)
	p.observe(src.Tag, StageUnique, rep.Unique)

	eligible := candidates[:0:0]
	for _, c := range candidates {
		if p.store.Eligible(c.Key, p.cfg.MaxAttempts) {
			eligible = append(eligible, c)
		}
	}
	rep.Eligible = len(eligible)
	p.observe(src.Tag, StageEligible, rep.Eligible)

	kept := eligible[:0:0]
	for _, c := range eligible {
		res, keep := classifier.Prefilter(c.CandidateLink)
		if !keep {
			logger.Debug("prefilter dropped", zap.String("key", c.Key), zap.Float64("score", res.Score))
			continue
		}
		kept = append(kept, c)
	}
	rep.Prefiltered = len(kept)
	p.observe(src.Tag, StagePrefiltered, rep.Prefiltered)

	items := p.enricher.Run(ctx, src, classifier, kept)
	rep.Enriched = len(kept)
	rep.Accepted = len(items)
	p.observe(src.Tag, StageAccepted, rep.Accepted)

	n, err := p.deliverer.Deliver(ctx, src.Tag, items)
	if err != nil {
		rep.Errors = append(rep.Errors, err.Error())
		logger.Error("delivery failed", zap.Int("items", len(items)), zap.Error(err))
	}
	rep.Delivered = n
	p.observe(src.Tag, StageDelivered, rep.Delivered)

	logger.Info("source done",
		zap.Int("discovered", rep.Discovered),
		zap.Int("unique", rep.Unique),
		zap.Int("eligible", rep.Eligible),
		zap.Int("prefiltered", rep.Prefiltered),
		zap.Int("accepted", rep.Accepted),
		zap.Int("delivered", rep.Delivered))
	return rep
}

func (p *Pipeline) observe(source, stage string, n int) {
	metrics.ObserveStage(source, stage, n)
}

func (p *Pipeline) publishLedgerStats() {
	stats := p.store.Stats()
	counts := make(map[string]int, len(stats))
	for status, n := range stats {
		counts[string(status)] = n
	}
	metrics.SetLedgerRecords(counts)
}
