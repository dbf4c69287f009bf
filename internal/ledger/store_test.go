package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	data    []byte
	readErr error
	writes  int
}

func (b *fakeBackend) Read(context.Context) ([]byte, error) {
	if b.readErr != nil {
		return nil, b.readErr
	}
	if b.data == nil {
		return nil, ErrNotFound
	}
	return b.data, nil
}

func (b *fakeBackend) Write(_ context.Context, data []byte) error {
	b.data = append([]byte(nil), data...)
	b.writes++
	return nil
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestUpsertCreatesNewRecord(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := New(nil, WithClock(clock))
	_, ok := s.Get("r10:1")
	require.False(t, ok)

	rec := s.Upsert("r10:1", nil)
	require.Equal(t, StatusNew, rec.Status)
	require.Zero(t, rec.Attempts)
	require.Equal(t, clock.Now(), rec.FirstSeen)
	require.Equal(t, clock.Now(), rec.LastSeen)
}

func TestRetryThenSuccessLifecycle(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := New(nil, WithClock(clock))
	const key, maxAttempts = "wmaraci:711822", 3

	s.Upsert(key, nil)
	require.True(t, s.Eligible(key, maxAttempts))

	rec := s.Upsert(key, func(r *Record) {
		r.Attempts++
		r.Status = StatusFailed
		r.LastError = "timeout"
	})
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, 1, rec.Attempts)
	require.True(t, s.Eligible(key, maxAttempts))

	rec = s.Upsert(key, func(r *Record) {
		r.Attempts++
		r.Status = StatusReady
		r.LastError = ""
	})
	require.Equal(t, StatusReady, rec.Status)
	require.Equal(t, 2, rec.Attempts)

	sentAt := clock.Now().Add(time.Minute)
	s.Upsert(key, func(r *Record) {
		r.Status = StatusSent
		r.SentAt = sentAt
	})
	require.False(t, s.Eligible(key, maxAttempts), "sent keys are never revisited")

	rec = s.Upsert(key, func(r *Record) {
		r.Status = StatusFailed
		r.Attempts = 10
	})
	require.Equal(t, StatusSent, rec.Status, "sent records are immutable")
	require.Equal(t, 2, rec.Attempts)
	require.Equal(t, sentAt, rec.SentAt)
}

func TestAttemptsNeverDecrease(t *testing.T) {
	t.Parallel()

	s := New(nil, WithClock(newClock()))
	s.Upsert("bhw:1", func(r *Record) { r.Attempts = 2 })
	rec := s.Upsert("bhw:1", func(r *Record) {
		r.Attempts = 0
		r.FirstSeen = time.Time{}
		r.Status = ""
	})
	require.Equal(t, 2, rec.Attempts)
	require.False(t, rec.FirstSeen.IsZero())
	require.Equal(t, StatusNew, rec.Status)
}

func TestRetryExhaustionExcludesFailedKey(t *testing.T) {
	t.Parallel()

	s := New(nil, WithClock(newClock()))
	for i := 0; i < 3; i++ {
		s.Upsert("r10:9", func(r *Record) {
			r.Attempts++
			r.Status = StatusFailed
		})
	}
	rec, ok := s.Get("r10:9")
	require.True(t, ok)
	require.Equal(t, StatusFailed, rec.Status)
	require.False(t, s.Eligible("r10:9", 3))
	require.True(t, s.Eligible("r10:9", 4))
	require.True(t, s.Eligible("r10:unknown", 3))
}

func TestPruneKeepsNewest(t *testing.T) {
	t.Parallel()

	clock := newClock()
	s := New(nil, WithClock(clock))
	for _, key := range []string{"t1", "t2", "t3"} {
		s.Upsert(key, nil)
		clock.Advance(time.Second)
	}
	require.Zero(t, s.Prune(5))
	require.Zero(t, s.Prune(0))
	require.Equal(t, 1, s.Prune(2))

	_, ok := s.Get("t1")
	require.False(t, ok)
	_, ok = s.Get("t2")
	require.True(t, ok)
	_, ok = s.Get("t3")
	require.True(t, ok)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	clock := newClock()
	backend := &fakeBackend{}
	s := Load(context.Background(), backend, WithClock(clock))
	require.Zero(t, s.Len())

	s.Upsert("bhw:7", func(r *Record) {
		r.Attempts = 1
		r.LastAttempt = clock.Now()
		r.Status = StatusFailed
		r.LastError = "navigation timeout"
	})
	s.Upsert("bhw:8", func(r *Record) {
		r.Status = StatusSent
		r.SentAt = clock.Now()
	})
	require.NoError(t, s.Save(context.Background()))
	require.Equal(t, 1, backend.writes)

	reloaded := Load(context.Background(), backend)
	require.Equal(t, 2, reloaded.Len())
	rec, ok := reloaded.Get("bhw:7")
	require.True(t, ok)
	require.Equal(t, StatusFailed, rec.Status)
	require.Equal(t, "navigation timeout", rec.LastError)
	require.True(t, rec.LastAttempt.Equal(clock.Now()))
	require.Equal(t, map[Status]int{StatusFailed: 1, StatusSent: 1}, reloaded.Stats())
}

func TestLoadCorruptLedgerReturnsEmptyStore(t *testing.T) {
	t.Parallel()

	for name, backend := range map[string]*fakeBackend{
		"garbage":    {data: []byte("{not json")},
		"wrong type": {data: []byte(`{"items": [1,2,3]}`)},
		"read error": {readErr: errors.New("disk on fire")},
		"missing":    {},
	} {
		t.Run(name, func(t *testing.T) {
			s := Load(context.Background(), backend)
			require.NotNil(t, s)
			require.Zero(t, s.Len())
		})
	}
}

func TestLoadReadsLegacyDocument(t *testing.T) {
	t.Parallel()

	legacy := `{"items":{"r10:445566":{"firstSeen":1767225600000,"lastSeen":1767225600000,` +
		`"attempts":1,"lastAttempt":1767225600000,"status":"ready","lastError":null,"sentAt":null}}}`
	s := Load(context.Background(), &fakeBackend{data: []byte(legacy)})
	rec, ok := s.Get("r10:445566")
	require.True(t, ok)
	require.Equal(t, StatusReady, rec.Status)
	require.Equal(t, 1, rec.Attempts)
	require.Empty(t, rec.LastError)
	require.True(t, rec.SentAt.IsZero())
	require.Equal(t, int64(1767225600000), rec.FirstSeen.UnixMilli())
}

func TestRecordJSONUsesMillis(t *testing.T) {
	t.Parallel()

	at := time.UnixMilli(1767225600123).UTC()
	data, err := json.Marshal(Record{FirstSeen: at, LastSeen: at, Status: StatusNew})
	require.NoError(t, err)
	require.JSONEq(t, `{"firstSeen":1767225600123,"lastSeen":1767225600123,"attempts":0,"status":"new"}`, string(data))
}

func TestConcurrentUpserts(t *testing.T) {
	t.Parallel()

	s := New(nil, WithClock(newClock()))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert("bhw:1", func(r *Record) { r.Attempts++ })
		}()
	}
	wg.Wait()
	rec, _ := s.Get("bhw:1")
	require.Equal(t, 50, rec.Attempts)
}
