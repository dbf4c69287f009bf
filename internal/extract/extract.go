// Package extract turns fetched thread pages into readable text.
package extract

import (
	"bytes"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

const (
	// DefaultMinLength is the shortest text accepted as thread content.
	DefaultMinLength = 80
	// DefaultMaxLength caps delivered content.
	DefaultMaxLength = 4000
)

// noise is stripped before any text is read.
var noise = []string{
	"script", "style", "noscript", "iframe", "form",
	"blockquote", ".quote", ".bbCodeBlock", ".bbCodeQuote",
	".signature", ".message-signature", ".postLike", ".postButtons", ".share",
}

// fallbackSelectors are tried after the source's own selectors.
var fallbackSelectors = []string{"article", "main", ".post", ".thread-content"}

var strict = bluemonday.StrictPolicy()

// Document extracts the thread text from an HTML page.
func Document(body []byte, pageURL string, spec crawler.ExtractionSpec) (crawler.Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Content{}, fmt.Errorf("parse html: %w", err)
	}

	content := crawler.Content{
		URL:         pageURL,
		Title:       pageTitle(doc),
		PublishedAt: publishedAt(doc),
	}
	description := metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)

	doc.Find(strings.Join(noise, ", ")).Remove()

	minLen := spec.MinLength
	if minLen <= 0 {
		minLen = DefaultMinLength
	}
	maxLen := spec.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	var candidates []string
	for _, sel := range append(append([]string(nil), spec.Selectors...), fallbackSelectors...) {
		if text := selectionText(doc, sel); text != "" {
			candidates = append(candidates, text)
		}
	}
	if text := readable(body, pageURL); text != "" {
		candidates = append(candidates, text)
	}
	if description != "" {
		candidates = append(candidates, collapse(description))
	}

	text := pick(candidates, minLen)
	if utf8.RuneCountInString(text) < minLen {
		return content, fmt.Errorf("%s: %d chars: %w", pageURL, utf8.RuneCountInString(text), crawler.ErrNoContent)
	}
	content.Text = truncate(text, maxLen)
	return content, nil
}

// pick returns the first candidate reaching minLen, else the longest.
func pick(candidates []string, minLen int) string {
	longest := ""
	for _, c := range candidates {
		n := utf8.RuneCountInString(c)
		if n >= minLen {
			return c
		}
		if n > utf8.RuneCountInString(longest) {
			longest = c
		}
	}
	return longest
}

func selectionText(doc *goquery.Document, selector string) string {
	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return ""
	}
	parts := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if t := collapse(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

func readable(body []byte, pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	parser := readability.NewParser()
	article, err := parser.Parse(bytes.NewReader(body), u)
	if err != nil {
		return ""
	}
	return collapse(article.TextContent)
}

func pageTitle(doc *goquery.Document) string {
	title := metaContent(doc, `meta[property="og:title"]`)
	if title == "" {
		title = doc.Find("title").First().Text()
	}
	return CleanTitle(title)
}

func publishedAt(doc *goquery.Document) *time.Time {
	raw := metaContent(doc, `meta[property="article:published_time"]`)
	if raw == "" {
		raw, _ = doc.Find("time[datetime]").First().Attr("datetime")
	}
	return ParseTime(raw)
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// CleanTitle strips markup and collapses whitespace.
func CleanTitle(raw string) string {
	return collapse(html.UnescapeString(strict.Sanitize(raw)))
}

// ParseTime accepts RFC 3339 and the common forum date layouts.
func ParseTime(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}
