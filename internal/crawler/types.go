// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"net/http"
	"time"
)

// ErrNoContent is returned by a PageFetcher when a page yields no usable text.
var ErrNoContent = errors.New("no usable content")

// PayloadType is the fixed type discriminator of delivery payloads.
const PayloadType = "external_crawl"

// Hints carries structural metadata scraped next to a link.
type Hints struct {
	Category    string     `json:"category,omitempty"`
	Forum       string     `json:"forum,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Label joins the textual hints for classification.
func (h Hints) Label() string {
	switch {
	case h.Category == "":
		return h.Forum
	case h.Forum == "":
		return h.Category
	default:
		return h.Category + " " + h.Forum
	}
}

// CandidateLink is a raw link produced by a discovery strategy.
type CandidateLink struct {
	Title  string
	URL    string
	Source string
	Hints  Hints
}

// Candidate is a link that has been assigned its canonical key.
type Candidate struct {
	CandidateLink
	Key string
}

// Reasons explains how a score was reached.
type Reasons struct {
	Label        string   `json:"label"`
	StrongDemand int      `json:"strongDemand"`
	WeakDemand   int      `json:"weakDemand"`
	StrongSupply int      `json:"strongSupply"`
	WeakSupply   int      `json:"weakSupply"`
	URLHint      bool     `json:"urlHint"`
	Currency     bool     `json:"currency"`
	Contact      bool     `json:"contact"`
	LabelDemand  bool     `json:"labelDemand"`
	LabelSupply  bool     `json:"labelSupply"`
	Override     string   `json:"override,omitempty"`
	Matched      []string `json:"matched,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// EnrichedItem is an accepted candidate ready for delivery.
type EnrichedItem struct {
	Key     string
	Title   string
	URL     string
	Content string
	Score   float64
	Reasons Reasons
}

// Payload is the wire document handed to a Sender, one per source per run.
type Payload struct {
	Type   string        `json:"type"`
	Token  string        `json:"token"`
	Source string        `json:"source"`
	Data   []PayloadItem `json:"data"`
}

// PayloadItem is one delivered lead.
type PayloadItem struct {
	Title           string   `json:"title"`
	URL             string   `json:"url"`
	OriginalContent string   `json:"original_content"`
	Score           *float64 `json:"score,omitempty"`
	Reasons         *Reasons `json:"reasons,omitempty"`
}

// NewPayload builds the payload for a batch of items.
func NewPayload(token, source string, items []EnrichedItem) Payload {
	data := make([]PayloadItem, 0, len(items))
	for _, item := range items {
		score := item.Score
		reasons := item.Reasons
		data = append(data, PayloadItem{
			Title:           item.Title,
			URL:             item.URL,
			OriginalContent: item.Content,
			Score:           &score,
			Reasons:         &reasons,
		})
	}
	return Payload{
		Type:   PayloadType,
		Token:  token,
		Source: source,
		Data:   data,
	}
}

// FetchRequest describes a single page fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// WaitFor lists selectors a rendering fetcher waits on; any one suffices.
	WaitFor []string
}

// Page captures the raw HTTP result of a fetch.
type Page struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// ExtractionSpec configures content extraction for one source.
type ExtractionSpec struct {
	Selectors []string
	MinLength int
	MaxLength int
	Render    bool
}

// Content is the readable text extracted from a thread page.
type Content struct {
	Title       string
	Text        string
	PublishedAt *time.Time
	URL         string
}
