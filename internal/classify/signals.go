package classify

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// Signals are the countable features extracted from one thread.
type Signals struct {
	StrongDemand int
	WeakDemand   int
	StrongSupply int
	WeakSupply   int
	URLHint      bool
	Currency     bool
	Contact      bool
	LabelDemand  bool
	LabelSupply  bool
	// Matched lists rule names in table order.
	Matched []string
	// Category is the normalized structural label that was inspected.
	Category string
}

// Extract turns text, url and structural hints into Signals. Each rule
// contributes at most one hit.
func (rs RuleSet) Extract(text, rawURL string, hints crawler.Hints) Signals {
	norm := Normalize(text)
	var s Signals
	for _, rule := range rs.Rules {
		if !rule.Pattern.MatchString(norm) {
			continue
		}
		s.Matched = append(s.Matched, rule.Name)
		switch {
		case rule.Category == Demand && rule.Strength == Strong:
			s.StrongDemand++
		case rule.Category == Demand:
			s.WeakDemand++
		case rule.Strength == Strong:
			s.StrongSupply++
		default:
			s.WeakSupply++
		}
	}
	if rs.Currency != nil {
		s.Currency = rs.Currency.MatchString(norm)
	}
	if rs.Contact != nil {
		s.Contact = rs.Contact.MatchString(norm)
	}
	s.URLHint = rs.urlHint(rawURL)

	s.Category = Normalize(hints.Label())
	if s.Category != "" {
		if rs.LabelDemand != nil {
			s.LabelDemand = rs.LabelDemand.MatchString(s.Category)
		}
		if rs.LabelSupply != nil {
			s.LabelSupply = rs.LabelSupply.MatchString(s.Category)
		}
	}
	return s
}

func (rs RuleSet) urlHint(rawURL string) bool {
	if rawURL == "" || len(rs.URLHints) == 0 {
		return false
	}
	path := strings.ToLower(rawURL)
	if u, err := url.Parse(rawURL); err == nil {
		path = strings.ToLower(u.EscapedPath())
	}
	for _, hint := range rs.URLHints {
		if strings.Contains(path, hint) {
			return true
		}
	}
	return false
}
