package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// ErrUnavailable is returned when rendering is requested but disabled.
var ErrUnavailable = errors.New("headless fetcher not configured")

// Noop stands in for the browser when rendering is disabled. Its error is
// permanent so render-only sources fail fast instead of retrying.
type Noop struct{}

// NewNoop creates a new Noop fetcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch always fails.
func (Noop) Fetch(_ context.Context, _ crawler.FetchRequest) (crawler.Page, error) {
	return crawler.Page{}, crawler.Permanent(ErrUnavailable)
}
