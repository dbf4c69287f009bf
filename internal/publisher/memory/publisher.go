// Package memory records lead payloads in memory for dry runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// Publisher implements crawler.Sender by storing payloads.
type Publisher struct {
	mu       sync.RWMutex
	payloads []crawler.Payload
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes subsequent sends fail with err; nil restores success.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Send records the payload.
func (p *Publisher) Send(_ context.Context, payload crawler.Payload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

// Payloads returns the recorded payloads.
func (p *Publisher) Payloads() []crawler.Payload {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]crawler.Payload, len(p.payloads))
	copy(out, p.payloads)
	return out
}

// Items counts delivered items across all payloads.
func (p *Publisher) Items() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, pl := range p.payloads {
		n += len(pl.Data)
	}
	return n
}
