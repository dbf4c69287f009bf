package extract

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// Promoter flags plain pages that need a headless render.
type Promoter interface {
	ShouldRender(page crawler.Page) bool
}

// PageFetcher implements crawler.PageFetcher over an HTMLFetcher.
// Specs with Render set go through the headless fetcher.
type PageFetcher struct {
	http     crawler.HTMLFetcher
	headless crawler.HTMLFetcher
	promoter Promoter
	logger   *zap.Logger
}

// Option customizes a PageFetcher.
type Option func(*PageFetcher)

// WithPromoter re-fetches flagged plain pages through the headless fetcher.
func WithPromoter(p Promoter) Option {
	return func(f *PageFetcher) { f.promoter = p }
}

// NewPageFetcher builds a PageFetcher. headless may be nil.
func NewPageFetcher(httpFetcher, headless crawler.HTMLFetcher, logger *zap.Logger, opts ...Option) *PageFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &PageFetcher{http: httpFetcher, headless: headless, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchContent fetches url and extracts its readable text.
func (f *PageFetcher) FetchContent(ctx context.Context, url string, spec crawler.ExtractionSpec) (crawler.Content, error) {
	fetcher := f.http
	if spec.Render && f.headless != nil {
		fetcher = f.headless
	}
	req := crawler.FetchRequest{URL: url, WaitFor: spec.Selectors}
	page, err := fetcher.Fetch(ctx, req)
	if err != nil {
		return crawler.Content{}, fmt.Errorf("fetch %s: %w", url, err)
	}
	page = f.promote(ctx, req, page)
	if page.StatusCode >= http.StatusBadRequest {
		return crawler.Content{}, fmt.Errorf("fetch %s: status %d", url, page.StatusCode)
	}
	finalURL := page.URL
	if finalURL == "" {
		finalURL = url
	}
	content, err := Document(page.Body, finalURL, spec)
	if err != nil {
		// Not worth another transport attempt this run.
		return content, crawler.Permanent(err)
	}
	f.logger.Debug("content extracted",
		zap.String("url", finalURL),
		zap.Int("chars", len(content.Text)),
		zap.Bool("headless", page.UsedHeadless),
		zap.Duration("fetch", page.Duration),
	)
	return content, nil
}

func (f *PageFetcher) promote(ctx context.Context, req crawler.FetchRequest, page crawler.Page) crawler.Page {
	if f.promoter == nil || f.headless == nil || !f.promoter.ShouldRender(page) {
		return page
	}
	rendered, err := f.headless.Fetch(ctx, req)
	if err != nil {
		f.logger.Warn("headless promotion failed, keeping plain page", zap.String("url", req.URL), zap.Error(err))
		return page
	}
	f.logger.Debug("promoted to headless", zap.String("url", req.URL))
	return rendered
}
