package classify

import (
	"strings"

	"github.com/JakeFAU/forum-lead-crawler/internal/crawler"
)

// Label is the classification outcome.
type Label string

// Labels.
const (
	JobRequest   Label = "JOB_REQUEST"
	ServiceOffer Label = "SERVICE_OFFER"
	Unknown      Label = "UNKNOWN"
)

// Override names a policy rule that promoted a result to JobRequest.
const (
	OverrideStrongDemand = "strong_demand"
	OverrideLabel        = "label"
)

// Weights are the per-signal score contributions.
type Weights struct {
	StrongDemand float64 `mapstructure:"strong_demand"`
	WeakDemand   float64 `mapstructure:"weak_demand"`
	URLHint      float64 `mapstructure:"url_hint"`
	LabelDemand  float64 `mapstructure:"label_demand"`
	StrongSupply float64 `mapstructure:"strong_supply"`
	WeakSupply   float64 `mapstructure:"weak_supply"`
	LabelSupply  float64 `mapstructure:"label_supply"`
	Currency     float64 `mapstructure:"currency"`
	Contact      float64 `mapstructure:"contact"`
}

// DefaultWeights returns the standard weights.
func DefaultWeights() Weights {
	return Weights{
		StrongDemand: 3,
		WeakDemand:   1,
		URLHint:      1,
		LabelDemand:  2,
		StrongSupply: 3,
		WeakSupply:   1,
		LabelSupply:  2,
		Currency:     0.5,
		Contact:      0.5,
	}
}

// Policy maps signals to a label.
type Policy struct {
	Weights Weights
	High    float64
	Low     float64
	// PrefilterFloor drops non-job candidates scoring below it before fetch.
	PrefilterFloor float64
	// StrongDemandOverride accepts any strong demand hit without strong supply.
	StrongDemandOverride bool
	// LabelOverride accepts a demand-labelled forum once the score reaches LabelOverrideMin.
	LabelOverride    bool
	LabelOverrideMin float64
}

// DefaultPolicy is tuned for recall.
func DefaultPolicy() Policy {
	return Policy{
		Weights:              DefaultWeights(),
		High:                 3,
		Low:                  -3,
		PrefilterFloor:       -6,
		StrongDemandOverride: true,
		LabelOverride:        true,
		LabelOverrideMin:     2,
	}
}

// Result is the outcome of Classify.
type Result struct {
	Label    Label
	Score    float64
	Override string
	Signals  Signals
}

// Score computes the weighted sum.
func (p Policy) Score(s Signals) float64 {
	w := p.Weights
	return w.StrongDemand*float64(s.StrongDemand) +
		w.WeakDemand*float64(s.WeakDemand) +
		w.URLHint*b2f(s.URLHint) +
		w.LabelDemand*b2f(s.LabelDemand) -
		w.StrongSupply*float64(s.StrongSupply) -
		w.WeakSupply*float64(s.WeakSupply) -
		w.LabelSupply*b2f(s.LabelSupply) +
		w.Currency*b2f(s.Currency) +
		w.Contact*b2f(s.Contact)
}

// Classify is a pure function of the signals.
func (p Policy) Classify(s Signals) Result {
	score := p.Score(s)
	res := Result{Score: score, Signals: s}
	switch {
	case score >= p.High:
		res.Label = JobRequest
	case score <= p.Low:
		res.Label = ServiceOffer
	default:
		res.Label = Unknown
	}
	if res.Label == JobRequest {
		return res
	}
	switch {
	case p.StrongDemandOverride && s.StrongDemand > 0 && s.StrongSupply == 0:
		res.Label = JobRequest
		res.Override = OverrideStrongDemand
	case p.LabelOverride && s.LabelDemand && score >= p.LabelOverrideMin:
		res.Label = JobRequest
		res.Override = OverrideLabel
	}
	return res
}

// Reasons renders the result for the delivery payload.
func (r Result) Reasons() crawler.Reasons {
	return crawler.Reasons{
		Label:        string(r.Label),
		StrongDemand: r.Signals.StrongDemand,
		WeakDemand:   r.Signals.WeakDemand,
		StrongSupply: r.Signals.StrongSupply,
		WeakSupply:   r.Signals.WeakSupply,
		URLHint:      r.Signals.URLHint,
		Currency:     r.Signals.Currency,
		Contact:      r.Signals.Contact,
		LabelDemand:  r.Signals.LabelDemand,
		LabelSupply:  r.Signals.LabelSupply,
		Override:     r.Override,
		Matched:      append([]string(nil), r.Signals.Matched...),
		Category:     r.Signals.Category,
	}
}

// Classifier pairs a rule set with a policy.
type Classifier struct {
	rules  RuleSet
	policy Policy
}

// New builds a Classifier.
func New(rules RuleSet, policy Policy) *Classifier {
	return &Classifier{rules: rules, policy: policy}
}

// Default uses the built-in rules and policy.
func Default() *Classifier {
	return New(DefaultRuleSet(), DefaultPolicy())
}

// Policy returns the active policy.
func (c *Classifier) Policy() Policy {
	return c.policy
}

// Classify extracts signals from text and classifies them.
func (c *Classifier) Classify(text, rawURL string, hints crawler.Hints) Result {
	return c.policy.Classify(c.rules.Extract(text, rawURL, hints))
}

// Prefilter runs the content-free pass over the link title, url and hints.
// keep is false only for obvious non-leads.
func (c *Classifier) Prefilter(link crawler.CandidateLink) (res Result, keep bool) {
	res = c.Classify(link.Title, link.URL, link.Hints)
	keep = res.Label == JobRequest || res.Score >= c.policy.PrefilterFloor
	return res, keep
}

// Final runs the authoritative pass over title and fetched content.
func (c *Classifier) Final(title, content, rawURL string, hints crawler.Hints) Result {
	text := strings.TrimSpace(title + "\n" + content)
	return c.Classify(text, rawURL, hints)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
