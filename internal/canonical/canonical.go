// Package canonical derives stable per-source thread keys from URLs.
package canonical

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// Rule extracts a thread id either from the URL path (first capture group of
// Path) or from a query parameter named Query.
type Rule struct {
	Path  *regexp.Regexp
	Query string
}

// NewRule compiles a rule. Exactly one of pathExpr and query must be set.
func NewRule(pathExpr, query string) (Rule, error) {
	switch {
	case pathExpr != "" && query != "":
		return Rule{}, fmt.Errorf("rule must set either a path pattern or a query parameter, not both")
	case query != "":
		return Rule{Query: query}, nil
	case pathExpr == "":
		return Rule{}, fmt.Errorf("rule requires a path pattern or a query parameter")
	}
	re, err := regexp.Compile(pathExpr)
	if err != nil {
		return Rule{}, fmt.Errorf("compile path pattern %q: %w", pathExpr, err)
	}
	if re.NumSubexp() < 1 {
		return Rule{}, fmt.Errorf("path pattern %q needs a capture group", pathExpr)
	}
	return Rule{Path: re}, nil
}

// Canonicalizer maps (source tag, url) to a CanonicalKey.
type Canonicalizer struct {
	rules map[string][]Rule
}

// New builds a Canonicalizer from per-source rules, tried in order.
func New(rules map[string][]Rule) *Canonicalizer {
	copied := make(map[string][]Rule, len(rules))
	for tag, rs := range rules {
		copied[tag] = append([]Rule(nil), rs...)
	}
	return &Canonicalizer{rules: copied}
}

// DefaultRules returns the id rules for the built-in sources.
func DefaultRules() map[string][]Rule {
	htmlID := regexp.MustCompile(`(?i)-([0-9]+)\.html?$`)
	return map[string][]Rule{
		// /threads/title.123456/ and /threads/title.123456/page-3
		"bhw":     {{Path: regexp.MustCompile(`\.([0-9]+)(?:/|$)`)}},
		"wmaraci": {{Path: htmlID}},
		"r10": {
			{Path: htmlID},
			{Path: regexp.MustCompile(`(?i)/([0-9]+)-[^/]*\.html?$`)},
			{Query: "t"},
		},
	}
}

// Default returns a Canonicalizer with DefaultRules.
func Default() *Canonicalizer {
	return New(DefaultRules())
}

// Key returns "<tag>:<id>" when a rule matches and "<tag>:<normalized url>"
// otherwise. Feeding a key back in returns the same key.
func (c *Canonicalizer) Key(tag, rawURL string) (string, error) {
	if tag == "" {
		return "", fmt.Errorf("source tag is required")
	}
	raw := strings.TrimPrefix(strings.TrimSpace(rawURL), tag+":")
	if raw == "" {
		return "", fmt.Errorf("url is required")
	}
	u, query, err := crawler.NormalizeURL(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize %s url: %w", tag, err)
	}
	for _, rule := range c.rules[tag] {
		if id := rule.extract(u.EscapedPath(), query); id != "" {
			return tag + ":" + id, nil
		}
	}
	return tag + ":" + u.String(), nil
}

// Candidates assigns keys and drops later duplicates, keeping discovery order.
// Links whose URL cannot be parsed are returned separately.
func (c *Canonicalizer) Candidates(links []crawler.CandidateLink) ([]crawler.Candidate, []error) {
	var (
		out  = make([]crawler.Candidate, 0, len(links))
		errs []error
		seen crawler.SeenSet
	)
	for _, link := range links {
		key, err := c.Key(link.Source, link.URL)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !seen.MarkIfNew(key) {
			continue
		}
		out = append(out, crawler.Candidate{CandidateLink: link, Key: key})
	}
	return out, errs
}

func (r Rule) extract(path string, query map[string][]string) string {
	if r.Query != "" {
		if values := query[r.Query]; len(values) > 0 {
			return strings.TrimSpace(values[0])
		}
		return ""
	}
	if r.Path == nil {
		return ""
	}
	match := r.Path.FindStringSubmatch(path)
	if len(match) < 2 {
		return ""
	}
	return match[1]
}
