package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/clock/system"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// ErrNotFound is returned by a Backend that holds no ledger yet.
var ErrNotFound = errors.New("ledger not found")

// Backend reads and writes the serialized ledger document.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
}

// Store is the in-memory ledger with explicit Load/Save against a Backend.
// It is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	saveMu sync.Mutex
	items  map[string]Record

	backend Backend
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns an empty store bound to backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		items:   make(map[string]Record),
		backend: backend,
		clock:   system.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted ledger. A missing, unreadable or corrupt ledger
// yields an empty store; Load never fails.
func Load(ctx context.Context, backend Backend, opts ...Option) *Store {
	s := New(backend, opts...)
	if backend == nil {
		return s
	}
	data, err := backend.Read(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info("ledger not found, starting empty")
		return s
	case err != nil:
		s.logger.Warn("ledger unreadable, starting empty", zap.Error(err))
		return s
	case len(data) == 0:
		return s
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("ledger corrupt, starting empty", zap.Error(err))
		return s
	}
	for key, rec := range doc.Items {
		if key == "" {
			continue
		}
		s.items[key] = rec
	}
	s.logger.Info("ledger loaded", zap.Int("items", len(s.items)))
	return s
}

// Get returns the record for key.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.items[key]
	return rec, ok
}

// Upsert applies fn to the record for key, creating a NEW record first when
// absent, and returns the stored result. Sent records are never modified,
// attempts never decrease and firstSeen never changes.
func (s *Store) Upsert(key string, fn func(*Record)) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.items[key]
	if !ok {
		now := s.clock.Now()
		prev = Record{FirstSeen: now, LastSeen: now, Status: StatusNew}
	}
	if prev.Status == StatusSent {
		return prev
	}
	next := prev
	if fn != nil {
		fn(&next)
	}
	next.FirstSeen = prev.FirstSeen
	if next.Attempts < prev.Attempts {
		next.Attempts = prev.Attempts
	}
	if next.Status == "" {
		next.Status = prev.Status
	}
	s.items[key] = next
	return next
}

// Eligible reports whether key may enter this run's candidate set.
func (s *Store) Eligible(key string, maxAttempts int) bool {
	rec, ok := s.Get(key)
	if !ok {
		return true
	}
	return rec.Status != StatusSent && !rec.Exhausted(maxAttempts)
}

// Prune evicts the oldest records by lastSeen until at most maxItems remain
// and returns how many were removed.
func (s *Store) Prune(maxItems int) int {
	if maxItems <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	excess := len(s.items) - maxItems
	if excess <= 0 {
		return 0
	}
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := s.items[keys[i]].LastSeen, s.items[keys[j]].LastSeen
		if a.Equal(b) {
			return keys[i] < keys[j]
		}
		return a.Before(b)
	})
	for _, k := range keys[:excess] {
		delete(s.items, k)
	}
	return excess
}

// Save serializes the whole ledger through the backend.
func (s *Store) Save(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	data, err := json.MarshalIndent(document{Items: s.items}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stats counts records per status.
func (s *Store) Stats() map[Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Status]int)
	for _, rec := range s.items {
		out[rec.Status]++
	}
	return out
}
