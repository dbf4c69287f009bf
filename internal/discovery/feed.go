package discovery

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
	"github.com/JakeFAU/forum-lead-crawler/internal/extract"
)

// VisitFeed reads RSS 2.0 items or Atom entries.
func (a *Adapter) VisitFeed(ctx context.Context, src crawler.Source, s crawler.Feed) ([]crawler.CandidateLink, error) {
	page, err := a.fetch(ctx, a.http, crawler.FetchRequest{URL: s.URL})
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	base := pageBase(page.URL, s.URL)

	c := newCollector(src)
	for _, item := range xmlquery.Find(doc, "//*[local-name()='item' or local-name()='entry']") {
		href := childText(item, "link")
		if href == "" {
			href = atomLink(item)
		}
		hints := crawler.Hints{Category: categoryOf(item)}
		for _, name := range []string{"pubDate", "published", "updated", "date"} {
			if t := extract.ParseTime(childText(item, name)); t != nil {
				hints.PublishedAt = t
				break
			}
		}
		if !c.add(base, href, extract.CleanTitle(childText(item, "title")), hints) {
			break
		}
	}
	return c.links, nil
}

// childText returns the text of the first direct child element with the
// given local name.
func childText(n *xmlquery.Node, name string) string {
	if el := child(n, name); el != nil {
		return strings.TrimSpace(el.InnerText())
	}
	return ""
}

func child(n *xmlquery.Node, name string) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && c.Data == name {
			return c
		}
	}
	return nil
}

func atomLink(n *xmlquery.Node) string {
	fallback := ""
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode || c.Data != "link" {
			continue
		}
		href := strings.TrimSpace(c.SelectAttr("href"))
		switch rel := c.SelectAttr("rel"); rel {
		case "", "alternate":
			return href
		default:
			if fallback == "" {
				fallback = href
			}
		}
	}
	return fallback
}

func categoryOf(n *xmlquery.Node) string {
	el := child(n, "category")
	if el == nil {
		return ""
	}
	if term := el.SelectAttr("term"); term != "" {
		return strings.TrimSpace(term)
	}
	return strings.TrimSpace(el.InnerText())
}
