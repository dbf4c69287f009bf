package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/clock/system"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// ErrBusy is returned when a run is already in progress.
var ErrBusy = errors.New("a run is already in progress")

// RunState is the lifecycle of one run.
type RunState string

// Run states.
const (
	RunRunning  RunState = "running"
	RunFinished RunState = "finished"
)

// RunRecord describes the latest run.
type RunRecord struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	State      RunState   `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *Report    `json:"report,omitempty"`
}

// runFunc is the work a Runner serializes.
type runFunc func(ctx context.Context) Report

// Runner guarantees that at most one pipeline run is active at a time.
type Runner struct {
	run    runFunc
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger

	busy sync.Mutex
	mu   sync.Mutex
	last *RunRecord
	wg   sync.WaitGroup
}

// NewRunner wraps p.
func NewRunner(p *Pipeline, ids crawler.IDGenerator, logger *zap.Logger) *Runner {
	return newRunner(p.Run, ids, system.New(), logger)
}

func newRunner(run runFunc, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{run: run, ids: ids, clock: clock, logger: logger.Named("runner")}
}

// RunNow runs synchronously. It returns ErrBusy instead of waiting when
// another run holds the lock.
func (r *Runner) RunNow(ctx context.Context, trigger string) (RunRecord, error) {
	rec, err := r.begin(trigger)
	if err != nil {
		return RunRecord{}, err
	}
	return r.execute(ctx, rec), nil
}

// Start launches a run in the background and returns its record.
func (r *Runner) Start(ctx context.Context, trigger string) (RunRecord, error) {
	rec, err := r.begin(trigger)
	if err != nil {
		return RunRecord{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.execute(ctx, rec)
	}()
	return rec, nil
}

// Last returns the most recent run.
func (r *Runner) Last() (RunRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return RunRecord{}, false
	}
	return *r.last, true
}

// Wait blocks until background runs started by Start have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) begin(trigger string) (RunRecord, error) {
	if !r.busy.TryLock() {
		return RunRecord{}, ErrBusy
	}
	id, err := r.ids.NewID()
	if err != nil {
		r.busy.Unlock()
		return RunRecord{}, err
	}
	rec := RunRecord{ID: id, Trigger: trigger, State: RunRunning, StartedAt: r.clock.Now()}
	r.mu.Lock()
	r.last = &rec
	r.mu.Unlock()
	return rec, nil
}

func (r *Runner) execute(ctx context.Context, rec RunRecord) RunRecord {
	defer r.busy.Unlock()
	logger := r.logger.With(zap.String("run_id", rec.ID), zap.String("trigger", rec.Trigger))
	logger.Info("run started")

	report := r.run(ctx)

	finished := r.clock.Now()
	rec.State = RunFinished
	rec.FinishedAt = &finished
	rec.Report = &report
	r.mu.Lock()
	r.last = &rec
	r.mu.Unlock()
	logger.Info("run recorded", zap.Int("delivered", report.Delivered()))
	return rec
}
