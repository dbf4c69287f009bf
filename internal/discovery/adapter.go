// Package discovery implements the per-source discovery strategies.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/extract"
	"github.com/JakeFAU/forum-lead-crawler/internal/metrics"
)

const (
	// DefaultLimit caps links kept per strategy.
	DefaultLimit = 200
	// MinTitleLength drops anchors with short non-empty text such as pagers.
	MinTitleLength = 4
)

// rowSelectors locate the listing row that owns an anchor.
const rowSelectors = ".structItem, .discussionListItem, tr, li"

// Adapter implements crawler.Visitor over HTML listings, feeds and sitemaps.
type Adapter struct {
	http     crawler.HTMLFetcher
	headless crawler.HTMLFetcher
	logger   *zap.Logger
}

// New builds an Adapter. headless may be nil, in which case rendered
// listings are fetched over plain HTTP.
func New(httpFetcher, headless crawler.HTMLFetcher, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{http: httpFetcher, headless: headless, logger: logger.Named("discovery")}
}

// Error reports a source whose strategies all failed.
type Error struct {
	Source string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("discovery %s: %v", e.Source, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Discover runs every strategy of src in order and concatenates their
// links. Failures of individual strategies are joined; the error is an
// *Error only when nothing was found.
func (a *Adapter) Discover(ctx context.Context, src crawler.Source) ([]crawler.CandidateLink, error) {
	var (
		links []crawler.CandidateLink
		errs  []error
	)
	for _, st := range src.Strategies {
		found, err := st.Accept(ctx, src, a)
		if err != nil {
			if l, ok := st.(crawler.Listing); ok && l.Optional {
				a.logger.Debug("optional listing failed",
					zap.String("source", src.Tag), zap.String("strategy", st.Describe()), zap.Error(err))
				continue
			}
			a.logger.Warn("strategy failed",
				zap.String("source", src.Tag), zap.String("strategy", st.Describe()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", st.Describe(), err))
			continue
		}
		metrics.ObserveDiscovered(src.Tag, kind(st), len(found))
		a.logger.Debug("strategy done",
			zap.String("source", src.Tag), zap.String("strategy", st.Describe()), zap.Int("links", len(found)))
		links = append(links, found...)
	}
	err := errors.Join(errs...)
	if err != nil && len(links) == 0 {
		return nil, &Error{Source: src.Tag, Err: err}
	}
	return links, err
}

// VisitListing scans every anchor of an HTML index page.
func (a *Adapter) VisitListing(ctx context.Context, src crawler.Source, s crawler.Listing) ([]crawler.CandidateLink, error) {
	fetcher := a.http
	if s.Render && a.headless != nil {
		fetcher = a.headless
	}
	page, err := a.fetch(ctx, fetcher, crawler.FetchRequest{URL: s.URL, WaitFor: s.WaitFor})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	base := pageBase(page.URL, s.URL)

	c := newCollector(src)
	doc.Find("a[href]").EachWithBreak(func(_ int, anchor *goquery.Selection) bool {
		title := extract.CleanTitle(anchor.Text())
		if n := utf8.RuneCountInString(title); n > 0 && n < MinTitleLength {
			return true
		}
		href, _ := anchor.Attr("href")
		hints := crawler.Hints{}
		if s.ForumSelector != "" {
			row := anchor.Closest(rowSelectors)
			hints.Forum = extract.CleanTitle(row.Find(s.ForumSelector).First().Text())
		}
		return c.add(base, href, title, hints)
	})
	return c.links, nil
}

func (a *Adapter) fetch(ctx context.Context, f crawler.HTMLFetcher, req crawler.FetchRequest) (crawler.Page, error) {
	page, err := f.Fetch(ctx, req)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("fetch %s: %w", req.URL, err)
	}
	if page.StatusCode >= http.StatusBadRequest {
		return crawler.Page{}, fmt.Errorf("fetch %s: status %d", req.URL, page.StatusCode)
	}
	return page, nil
}

func pageBase(finalURL, requested string) *url.URL {
	for _, raw := range []string{finalURL, requested} {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			return u
		}
	}
	return nil
}

func kind(st crawler.Strategy) string {
	switch st.(type) {
	case crawler.Listing:
		return "listing"
	case crawler.Feed:
		return "feed"
	case crawler.Sitemap:
		return "sitemap"
	default:
		return "unknown"
	}
}

// collector applies the thread filter, per-strategy dedup and limit.
type collector struct {
	src   crawler.Source
	limit int
	seen  crawler.SeenSet
	links []crawler.CandidateLink
}

func newCollector(src crawler.Source) *collector {
	limit := src.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &collector{src: src, limit: limit}
}

// add keeps the link when it looks like a thread. It returns false once
// the limit is reached.
func (c *collector) add(base *url.URL, href, title string, hints crawler.Hints) bool {
	if len(c.links) >= c.limit {
		return false
	}
	u, ok := crawler.ResolveURL(base, href)
	if !ok || !c.src.Threads.Matches(u) {
		return true
	}
	u.Fragment = ""
	u.RawFragment = ""
	abs := u.String()
	if !c.seen.MarkIfNew(abs) {
		return true
	}
	c.links = append(c.links, crawler.CandidateLink{
		Title:  strings.TrimSpace(title),
		URL:    abs,
		Source: c.src.Tag,
		Hints:  hints,
	})
	return len(c.links) < c.limit
}
