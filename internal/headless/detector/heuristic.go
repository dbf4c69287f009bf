// Package detector decides when a plain HTTP thread page needs a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// DefaultBodyLengthThreshold is the body size under which a script-heavy page
// counts as a client-rendered shell.
const DefaultBodyLengthThreshold = 2048

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. threshold <= 0 uses the default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = DefaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
}

var noscriptHints = []string{
	"enable javascript",
	"javascript is required",
	"javascript'i etkinle",
}

// ShouldRender reports whether page looks like a shell that only fills its
// posts in after scripts run. Pages already rendered headless never promote.
func (h *Heuristic) ShouldRender(page crawler.Page) bool {
	if page.UsedHeadless || page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) >= h.BodyLengthThreshold {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, hint := range noscriptHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return scriptDensityHigh(lower)
}

// scriptDensityHigh expects a lowercased document.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed tag; the rest is script.
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered*100/total >= 25
}
