package classify

import (
	"fmt"
	"regexp"
)

// Category says which side of the market a rule detects.
type Category string

// Rule categories.
const (
	Demand Category = "demand"
	Supply Category = "supply"
)

// Strength separates unambiguous phrases from generic vocabulary.
type Strength string

// Rule strengths.
const (
	Strong Strength = "strong"
	Weak   Strength = "weak"
)

// Rule is one row of the signal table. Patterns run against Normalize output.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category Category
	Strength Strength
}

// RuleSpec is the uncompiled, configuration-friendly form of a Rule.
type RuleSpec struct {
	Name     string   `mapstructure:"name"`
	Pattern  string   `mapstructure:"pattern"`
	Category Category `mapstructure:"category"`
	Strength Strength `mapstructure:"strength"`
}

// RuleSet is the full vocabulary used by Extract.
type RuleSet struct {
	Rules       []Rule
	URLHints    []string
	Currency    *regexp.Regexp
	Contact     *regexp.Regexp
	LabelDemand *regexp.Regexp
	LabelSupply *regexp.Regexp
}

var defaultRuleSpecs = []RuleSpec{
	// strong demand
	{"aranir", `\baranir\b`, Demand, Strong},
	{"araniyor", `\baraniyor\b`, Demand, Strong},
	{"ihtiyac", `\bihtiyac`, Demand, Strong},
	{"gerekli", `\bgerekli\b`, Demand, Strong},
	{"lazim", `\blazim\b`, Demand, Strong},
	{"talep", `\btale[pb]`, Demand, Strong},
	{"teklif", `\bteklif`, Demand, Strong},
	{"fiyat-teklifi", `\bfiyat teklifi`, Demand, Strong},
	{"butce", `\bbutce`, Demand, Strong},
	{"yaptirmak-istiyorum", `\byaptirmak istiyorum\b`, Demand, Strong},
	{"yaptirilacak", `\byaptirilacak\b`, Demand, Strong},
	{"gelistirilecek", `\bgelistirilecek\b`, Demand, Strong},
	{"hizmet-alimi", `\bhizmet alimi?\b`, Demand, Strong},
	{"freelancer", `\bfreelancer?\b`, Demand, Strong},
	{"looking-for", `\blooking for\b`, Demand, Strong},
	{"need-someone", `\bneed (a|an|someone|somebody)\b`, Demand, Strong},
	{"seeking", `\bseeking\b`, Demand, Strong},
	{"hiring", `\bhiring\b`, Demand, Strong},
	{"want-to-hire", `\b(want|wanting|looking) to hire\b`, Demand, Strong},
	{"budget", `\bbudget\b`, Demand, Strong},
	{"quote", `\bquot(e|es|ation)\b`, Demand, Strong},
	{"proposal", `\bproposals?\b`, Demand, Strong},

	// weak demand
	{"proje", `\bproje`, Demand, Weak},
	{"project", `\bprojects?\b`, Demand, Weak},
	{"developer", `\bdevelopers?\b`, Demand, Weak},
	{"yazilim", `\byazilim`, Demand, Weak},
	{"tasarim", `\btasarim`, Demand, Weak},
	{"design", `\bdesign`, Demand, Weak},
	{"seo", `\bseo\b`, Demand, Weak},
	{"reklam", `\breklam`, Demand, Weak},
	{"ads", `\bads\b`, Demand, Weak},
	{"entegrasyon", `\bentegrasyon`, Demand, Weak},
	{"otomasyon", `\botomasyon`, Demand, Weak},
	{"bot", `\bbots?\b`, Demand, Weak},
	{"scraper", `\bscrap(er|ing)\b`, Demand, Weak},
	{"api", `\bapi\b`, Demand, Weak},

	// strong supply
	{"satilik", `\bsatilik\b`, Supply, Strong},
	{"satiyorum", `\bsatiyorum\b`, Supply, Strong},
	{"satilir", `\bsatilir\b`, Supply, Strong},
	{"for-sale", `\bfor sale\b`, Supply, Strong},
	{"selling", `\bselling\b`, Supply, Strong},
	{"indirim", `\bindirim`, Supply, Strong},
	{"promo", `\bpromo`, Supply, Strong},
	{"lisans", `\blisans`, Supply, Strong},
	{"license", `\blicen[cs]e`, Supply, Strong},
	{"hazir-urun", `\bhazir (script|site|sistem|paket|tema)`, Supply, Strong},

	// weak supply
	{"kampanya", `\bkampanya`, Supply, Weak},
	{"paket", `\bpaket`, Supply, Weak},
	{"kupon", `\bkupon`, Supply, Weak},
	{"ucuz", `\bucuz`, Supply, Weak},
	{"cheap", `\bcheap(est)?\b`, Supply, Weak},
	{"discount", `\bdiscount`, Supply, Weak},
	{"account-selling", `\baccounts? (shop|store)\b`, Supply, Weak},
}

var defaultURLHints = []string{
	"/is-ilan", "/is-ilani", "/is-ilanlari", "/is-arayan", "/is-veren", "/isveren",
	"/freelance", "/freelancer", "/proje", "/project", "/hizmet-alim", "/hizmet-alimi",
	"/talep", "/job", "/jobs", "/hiring", "/hire-a-freelancer",
}

// DefaultRuleSpecs returns a copy of the built-in rule table.
func DefaultRuleSpecs() []RuleSpec {
	return append([]RuleSpec(nil), defaultRuleSpecs...)
}

// DefaultRuleSet returns the built-in vocabulary.
func DefaultRuleSet() RuleSet {
	rules, err := CompileRules(defaultRuleSpecs)
	if err != nil {
		panic(err)
	}
	return RuleSet{
		Rules:       rules,
		URLHints:    append([]string(nil), defaultURLHints...),
		Currency:    regexp.MustCompile(`[₺$€£]|\d\s*(tl|try|usd|eur|gbp)\b|\b(tl|usd|eur|gbp|dolar|euro)\b`),
		Contact:     regexp.MustCompile(`\b(pm|dm|whatsapp|telegram|tel|telefon|iletisim|contact|skype|discord)\b`),
		LabelDemand: regexp.MustCompile(`hire a freelancer|\bis ilan|\bis ?veren|\bhizmet alim|\bproje ilan|\btalep|\bwant to buy\b|\bbuying\b|\bwanted\b`),
		LabelSupply: regexp.MustCompile(`\bmarketplace\b|\bsatilik|\bsatis\b|\bfor sale\b|\bselling\b|\bservices?\b|\bpazar`),
	}
}

// CompileRules validates and compiles rule specs.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("rule name is required")
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate rule %q", spec.Name)
		}
		seen[spec.Name] = struct{}{}
		if spec.Category != Demand && spec.Category != Supply {
			return nil, fmt.Errorf("rule %q: unknown category %q", spec.Name, spec.Category)
		}
		if spec.Strength != Strong && spec.Strength != Weak {
			return nil, fmt.Errorf("rule %q: unknown strength %q", spec.Name, spec.Strength)
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		rules = append(rules, Rule{
			Name:     spec.Name,
			Pattern:  re,
			Category: spec.Category,
			Strength: spec.Strength,
		})
	}
	return rules, nil
}

// WithRules returns a copy of the set using rules instead of the built-in table.
func (rs RuleSet) WithRules(rules []Rule) RuleSet {
	rs.Rules = append([]Rule(nil), rules...)
	return rs
}
