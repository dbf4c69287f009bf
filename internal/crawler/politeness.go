package crawler

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultForbiddenAttempts = 3

// SeenSet is a thread-safe set used to drop duplicate links within a run.
type SeenSet struct {
	seen sync.Map
}

// MarkIfNew stores the value if it has not been seen before and returns true.
func (s *SeenSet) MarkIfNew(value string) bool {
	if value == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(value, struct{}{})
	return !loaded
}

// HostBlocker tracks repeated forbidden responses and blocks hosts on excess.
// Forum hosts that start answering 403 are usually serving a challenge page,
// so the rest of the run skips them.
type HostBlocker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// NewHostBlocker returns a blocker that trips after threshold forbidden responses.
func NewHostBlocker(threshold int) *HostBlocker {
	if threshold <= 0 {
		threshold = defaultForbiddenAttempts
	}
	return &HostBlocker{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// IsBlocked reports whether host has been blocked.
func (b *HostBlocker) IsBlocked(host string) bool {
	if b == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blocked[key]
	return ok
}

// MarkForbidden increments the counter for host and returns true once blocked.
func (b *HostBlocker) MarkForbidden(host string) bool {
	if b == nil || host == "" {
		return false
	}
	key := strings.ToLower(host)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, blocked := b.blocked[key]; blocked {
		return true
	}
	b.counts[key]++
	if b.counts[key] >= b.threshold {
		b.blocked[key] = struct{}{}
		return true
	}
	return false
}

// TimerPauser implements Pauser with a timer.
type TimerPauser struct{}

// Pause waits for delay or until ctx is done.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
