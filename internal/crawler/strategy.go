package crawler

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Strategy is one way of discovering thread links for a source. The set of
// implementations is closed: Listing, Feed and Sitemap.
type Strategy interface {
	Describe() string
	Validate() error
	Accept(ctx context.Context, src Source, v Visitor) ([]CandidateLink, error)
	sealed()
}

// Visitor dispatches over the strategy variants.
type Visitor interface {
	VisitListing(ctx context.Context, src Source, s Listing) ([]CandidateLink, error)
	VisitFeed(ctx context.Context, src Source, s Feed) ([]CandidateLink, error)
	VisitSitemap(ctx context.Context, src Source, s Sitemap) ([]CandidateLink, error)
}

// Listing scrapes thread anchors from an HTML index page.
type Listing struct {
	Name string
	URL  string
	// Optional listings may fail without marking discovery as failed.
	Optional bool
	// Render fetches the listing with the headless browser.
	Render  bool
	WaitFor []string
	// ForumSelector, when set, reads a forum label from the anchor's row.
	ForumSelector string
}

// Feed reads thread links from an RSS or Atom document.
type Feed struct {
	Name string
	URL  string
}

// Sitemap reads thread links from a sitemap or sitemap index.
type Sitemap struct {
	Name     string
	URL      string
	MaxDepth int
}

func (Listing) sealed() {}
func (Feed) sealed()    {}
func (Sitemap) sealed() {}

// Describe names the strategy for logs.
func (s Listing) Describe() string { return describe("listing", s.Name, s.URL) }

// Describe names the strategy for logs.
func (s Feed) Describe() string { return describe("feed", s.Name, s.URL) }

// Describe names the strategy for logs.
func (s Sitemap) Describe() string { return describe("sitemap", s.Name, s.URL) }

// Validate checks the required fields.
func (s Listing) Validate() error { return validateAbsolute("listing", s.URL) }

// Validate checks the required fields.
func (s Feed) Validate() error { return validateAbsolute("feed", s.URL) }

// Validate checks the required fields.
func (s Sitemap) Validate() error {
	if s.MaxDepth < 0 {
		return fmt.Errorf("sitemap max depth must be >= 0")
	}
	return validateAbsolute("sitemap", s.URL)
}

// Accept dispatches to the visitor.
func (s Listing) Accept(ctx context.Context, src Source, v Visitor) ([]CandidateLink, error) {
	return v.VisitListing(ctx, src, s)
}

// Accept dispatches to the visitor.
func (s Feed) Accept(ctx context.Context, src Source, v Visitor) ([]CandidateLink, error) {
	return v.VisitFeed(ctx, src, s)
}

// Accept dispatches to the visitor.
func (s Sitemap) Accept(ctx context.Context, src Source, v Visitor) ([]CandidateLink, error) {
	return v.VisitSitemap(ctx, src, s)
}

func describe(kind, name, rawURL string) string {
	if name == "" {
		return kind + " " + rawURL
	}
	return kind + " " + name
}

func validateAbsolute(kind, rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%s url is required", kind)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s url: %w", kind, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s url %q must be absolute", kind, rawURL)
	}
	return nil
}

// Source is one configured site.
type Source struct {
	Tag        string
	Strategies []Strategy
	Threads    ThreadMatcher
	Content    ExtractionSpec
	// Limit caps the links kept per strategy.
	Limit int
}

// Validate checks the source and all of its strategies.
func (s Source) Validate() error {
	if strings.TrimSpace(s.Tag) == "" {
		return fmt.Errorf("source tag is required")
	}
	if strings.Contains(s.Tag, ":") {
		return fmt.Errorf("source tag %q must not contain ':'", s.Tag)
	}
	if len(s.Strategies) == 0 {
		return fmt.Errorf("source %s: at least one strategy is required", s.Tag)
	}
	for _, st := range s.Strategies {
		if err := st.Validate(); err != nil {
			return fmt.Errorf("source %s: %w", s.Tag, err)
		}
	}
	return nil
}

// ThreadMatcher decides whether a URL points at a thread page. An empty
// matcher accepts everything.
type ThreadMatcher struct {
	Hosts    []string
	Patterns []*regexp.Regexp
}

// Matches reports whether u looks like a thread of this source.
func (m ThreadMatcher) Matches(u *url.URL) bool {
	if u == nil {
		return false
	}
	if len(m.Hosts) > 0 {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		ok := false
		for _, h := range m.Hosts {
			if strings.TrimPrefix(strings.ToLower(h), "www.") == host {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(m.Patterns) == 0 {
		return true
	}
	target := u.RequestURI()
	for _, re := range m.Patterns {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}
