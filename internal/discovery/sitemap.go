package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/extract"
)

// VisitSitemap reads a urlset or follows a sitemap index up to MaxDepth
// levels of nesting.
func (a *Adapter) VisitSitemap(ctx context.Context, src crawler.Source, s crawler.Sitemap) ([]crawler.CandidateLink, error) {
	c := newCollector(src)
	err := a.walkSitemap(ctx, c, s.URL, s.MaxDepth)
	if errors.Is(err, errLimitReached) {
		err = nil
	}
	if err != nil {
		if len(c.links) == 0 {
			return nil, err
		}
		a.logger.Warn("partial sitemap", zap.String("source", src.Tag), zap.String("url", s.URL), zap.Error(err))
	}
	return c.links, nil
}

var errLimitReached = errors.New("limit reached")

func (a *Adapter) walkSitemap(ctx context.Context, c *collector, rawURL string, depth int) error {
	page, err := a.fetch(ctx, a.http, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		return err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return fmt.Errorf("parse sitemap %s: %w", rawURL, err)
	}
	base := pageBase(page.URL, rawURL)

	if nested := xmlquery.Find(doc, "/*[local-name()='sitemapindex']/*[local-name()='sitemap']"); len(nested) > 0 {
		if depth <= 0 {
			return fmt.Errorf("sitemap index %s: max depth reached", rawURL)
		}
		var errs []error
		for _, sm := range nested {
			loc := childText(sm, "loc")
			if loc == "" {
				continue
			}
			err := a.walkSitemap(ctx, c, loc, depth-1)
			if errors.Is(err, errLimitReached) {
				return nil
			}
			if err != nil {
				errs = append(errs, err)
			}
			if ctx.Err() != nil {
				break
			}
		}
		return errors.Join(errs...)
	}

	for _, u := range xmlquery.Find(doc, "/*[local-name()='urlset']/*[local-name()='url']") {
		hints := crawler.Hints{PublishedAt: extract.ParseTime(childText(u, "lastmod"))}
		if !c.add(base, childText(u, "loc"), "", hints) {
			return errLimitReached
		}
	}
	return nil
}
