package config

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/forum-lead-crawler/internal/canonical"
	"github.com/JakeFAU/forum-lead-crawler/internal/classify"
	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// SourceConfig describes one site.
type SourceConfig struct {
	Tag      string `mapstructure:"tag"`
	Disabled bool   `mapstructure:"disabled"`
	// Limit caps links per strategy; 0 uses discovery.limit.
	Limit          int             `mapstructure:"limit"`
	Hosts          []string        `mapstructure:"hosts"`
	ThreadPatterns []string        `mapstructure:"thread_patterns"`
	IDRules        []IDRuleConfig  `mapstructure:"id_rules"`
	Listings       []ListingConfig `mapstructure:"listings"`
	Feeds          []FeedConfig    `mapstructure:"feeds"`
	Sitemaps       []SitemapConfig `mapstructure:"sitemaps"`
	Content        ContentConfig   `mapstructure:"content"`
}

// IDRuleConfig is a canonical key rule: a path regexp with one capture
// group, or a query parameter name.
type IDRuleConfig struct {
	Path  string `mapstructure:"path"`
	Query string `mapstructure:"query"`
}

// ListingConfig is an HTML index page.
type ListingConfig struct {
	Name          string   `mapstructure:"name"`
	URL           string   `mapstructure:"url"`
	Optional      bool     `mapstructure:"optional"`
	Render        bool     `mapstructure:"render"`
	WaitFor       []string `mapstructure:"wait_for"`
	ForumSelector string   `mapstructure:"forum_selector"`
}

// FeedConfig is an RSS or Atom document.
type FeedConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// SitemapConfig is a sitemap or sitemap index.
type SitemapConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	MaxDepth int    `mapstructure:"max_depth"`
}

// ContentConfig drives thread text extraction.
type ContentConfig struct {
	Selectors []string `mapstructure:"selectors"`
	MinLength int      `mapstructure:"min_length"`
	MaxLength int      `mapstructure:"max_length"`
	Render    bool     `mapstructure:"render"`
}

// DefaultSources returns r10, wmaraci and bhw.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			Tag:            "r10",
			Hosts:          []string{"r10.net"},
			ThreadPatterns: []string{`-[0-9]+\.html`, `showthread\.php\?t=[0-9]+`},
			Listings: []ListingConfig{
				{Name: "getnew", URL: "https://www.r10.net/search.php?do=getnew"},
				{Name: "home", URL: "https://www.r10.net/"},
			},
			Content: ContentConfig{Selectors: []string{
				".postContent.userMessageSize", ".postContent", ".post_message",
				"[id^=post_message_]", "article .content",
			}},
		},
		{
			Tag:            "wmaraci",
			Hosts:          []string{"wmaraci.com"},
			ThreadPatterns: []string{`^/forum/.*-[0-9]+\.html`},
			Listings: []ListingConfig{
				{Name: "forum_index", URL: "https://wmaraci.com/forum"},
				{Name: "yeni_konular", URL: "https://wmaraci.com/yeni-konular", Optional: true},
				{Name: "yeni_ilanlar", URL: "https://wmaraci.com/yeni-ilanlar", Optional: true},
			},
			Content: ContentConfig{Selectors: []string{
				".message-body", ".postMessage", ".post-content", ".forumPost .content",
			}},
		},
		{
			Tag:            "bhw",
			Hosts:          []string{"blackhatworld.com"},
			ThreadPatterns: []string{`^/(seo|threads)/[^/]+\.[0-9]+/`},
			Listings: []ListingConfig{
				{Name: "whats_new", URL: "https://www.blackhatworld.com/whats-new/", ForumSelector: ".structItem-parts a[href*='/forums/']"},
				{Name: "new_posts", URL: "https://www.blackhatworld.com/whats-new/posts/", ForumSelector: ".structItem-parts a[href*='/forums/']"},
			},
			Content: ContentConfig{Selectors: []string{
				".message-body .bbWrapper", ".message-content .bbWrapper", "article .bbWrapper",
			}},
		},
	}
}

// BuildSources converts the enabled source configs into crawler sources.
func (c Config) BuildSources() ([]crawler.Source, error) {
	out := make([]crawler.Source, 0, len(c.Sources))
	seen := make(map[string]struct{}, len(c.Sources))
	for _, sc := range c.Sources {
		if sc.Disabled {
			continue
		}
		if _, dup := seen[sc.Tag]; dup {
			return nil, fmt.Errorf("duplicate source %q", sc.Tag)
		}
		seen[sc.Tag] = struct{}{}
		src, err := sc.build(c.Discovery.Limit)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

func (sc SourceConfig) build(defaultLimit int) (crawler.Source, error) {
	patterns := make([]*regexp.Regexp, 0, len(sc.ThreadPatterns))
	for _, p := range sc.ThreadPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return crawler.Source{}, fmt.Errorf("source %s: thread pattern %q: %w", sc.Tag, p, err)
		}
		patterns = append(patterns, re)
	}

	var strategies []crawler.Strategy
	for _, l := range sc.Listings {
		strategies = append(strategies, crawler.Listing{
			Name:          l.Name,
			URL:           l.URL,
			Optional:      l.Optional,
			Render:        l.Render,
			WaitFor:       l.WaitFor,
			ForumSelector: l.ForumSelector,
		})
	}
	for _, f := range sc.Feeds {
		strategies = append(strategies, crawler.Feed{Name: f.Name, URL: f.URL})
	}
	for _, s := range sc.Sitemaps {
		strategies = append(strategies, crawler.Sitemap{Name: s.Name, URL: s.URL, MaxDepth: s.MaxDepth})
	}

	limit := sc.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	src := crawler.Source{
		Tag:        sc.Tag,
		Strategies: strategies,
		Threads:    crawler.ThreadMatcher{Hosts: sc.Hosts, Patterns: patterns},
		Content: crawler.ExtractionSpec{
			Selectors: sc.Content.Selectors,
			MinLength: sc.Content.MinLength,
			MaxLength: sc.Content.MaxLength,
			Render:    sc.Content.Render,
		},
		Limit: limit,
	}
	if err := src.Validate(); err != nil {
		return crawler.Source{}, err
	}
	return src, nil
}

// CanonicalRules merges the built-in id rules with per-source overrides.
// A source listing id_rules replaces its built-in rules.
func (c Config) CanonicalRules() (map[string][]canonical.Rule, error) {
	rules := canonical.DefaultRules()
	for _, sc := range c.Sources {
		if len(sc.IDRules) == 0 {
			continue
		}
		compiled := make([]canonical.Rule, 0, len(sc.IDRules))
		for _, rc := range sc.IDRules {
			r, err := canonical.NewRule(rc.Path, rc.Query)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", sc.Tag, err)
			}
			compiled = append(compiled, r)
		}
		rules[sc.Tag] = compiled
	}
	return rules, nil
}

// Canonicalizer builds the key canonicalizer for the configured sources.
func (c Config) Canonicalizer() (*canonical.Canonicalizer, error) {
	rules, err := c.CanonicalRules()
	if err != nil {
		return nil, err
	}
	return canonical.New(rules), nil
}

// Policy returns the configured scoring policy.
func (c Config) Policy() classify.Policy {
	cc := c.Classify
	return classify.Policy{
		Weights:              cc.Weights,
		High:                 cc.High,
		Low:                  cc.Low,
		PrefilterFloor:       cc.PrefilterFloor,
		StrongDemandOverride: cc.StrongDemandOverride,
		LabelOverride:        cc.LabelOverride,
		LabelOverrideMin:     cc.LabelOverrideMin,
	}
}

// Classifier builds the classifier, replacing the rule table when
// classify.rules is set.
func (c Config) Classifier() (*classify.Classifier, error) {
	rules := classify.DefaultRuleSet()
	if len(c.Classify.Rules) > 0 {
		compiled, err := classify.CompileRules(c.Classify.Rules)
		if err != nil {
			return nil, fmt.Errorf("classify.rules: %w", err)
		}
		rules = rules.WithRules(compiled)
	}
	return classify.New(rules, c.Policy()), nil
}
