package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int32 }

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("run-%d", s.n.Add(1)), nil
}

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

func TestRunnerRejectsConcurrentRuns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	r := newRunner(func(context.Context) Report {
		close(started)
		<-release
		return Report{Sources: []SourceReport{{Source: "r10", Delivered: 2}}}
	}, &seqIDs{}, &stepClock{now: time.Unix(100, 0)}, nil)

	rec, err := r.Start(context.Background(), "api")
	require.NoError(t, err)
	assert.Equal(t, "run-1", rec.ID)
	assert.Equal(t, RunRunning, rec.State)
	<-started

	_, err = r.Start(context.Background(), "api")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = r.RunNow(context.Background(), "interval")
	assert.ErrorIs(t, err, ErrBusy)

	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, RunRunning, last.State)

	close(release)
	r.Wait()

	last, ok = r.Last()
	require.True(t, ok)
	assert.Equal(t, RunFinished, last.State)
	require.NotNil(t, last.Report)
	assert.Equal(t, 2, last.Report.Delivered())
}

func TestRunnerRunNowReleasesLock(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	r := newRunner(func(context.Context) Report {
		calls.Add(1)
		return Report{}
	}, &seqIDs{}, &stepClock{now: time.Unix(100, 0)}, nil)

	for i := 0; i < 3; i++ {
		rec, err := r.RunNow(context.Background(), "cli")
		require.NoError(t, err)
		assert.Equal(t, RunFinished, rec.State)
	}
	assert.Equal(t, int32(3), calls.Load())
	_, ok := r.Last()
	assert.True(t, ok)
}

func TestRunnerLastEmpty(t *testing.T) {
	t.Parallel()

	r := newRunner(func(context.Context) Report { return Report{} }, &seqIDs{}, &stepClock{}, nil)
	_, ok := r.Last()
	assert.False(t, ok)
}
