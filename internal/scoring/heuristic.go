package scoring

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/leadgate/leadgate/pkg/models"
)

// HeuristicScorer is the deterministic rule-based scorer. It never blocks and
// always reports confidence=low.
type HeuristicScorer struct{}

// NewHeuristicScorer creates a rule-based scorer.
func NewHeuristicScorer() *HeuristicScorer { return &HeuristicScorer{} }

// Name identifies the scorer on traces.
func (h *HeuristicScorer) Name() string { return "heuristic" }

// Score implements contracts.Scorer.
func (h *HeuristicScorer) Score(_ context.Context, lead models.Lead) models.ScoreResult {
	if missing := MissingFields(lead); len(missing) > 0 {
		return needsInfo(lead, missing)
	}

	criteria := models.CriteriaScores{
		models.CriterionIndustryFit: industryFit(lead.Industry),
		models.CriterionBudget:      budgetScore(lead.Budget),
		models.CriterionAuthority:   authorityScore(lead.Title),
		models.CriterionNeed:        needScore(lead.Need),
		models.CriterionTimeline:    timelineScore(lead.Timeline),
		models.CriterionCompanySize: companySizeScore(lead.CompanySize),
	}
	score := WeightedScore(criteria)
	tier := TierForScore(score)

	return models.ScoreResult{
		Score:          score,
		Tier:           tier,
		Segment:        SegmentFor(lead),
		CriteriaScores: criteria,
		MissingFields:  []string{},
		Confidence:     models.ConfidenceLow,
		Reasoning:      describe("Rule-based", score, tier, criteria),
	}
}

// ── Keyword matching ────────────────────────────────────────

// rule maps a set of phrases to a score. Rules are evaluated in order and
// the first matching phrase wins.
type rule struct {
	phrases []string
	score   int
}

var nonWord = regexp.MustCompile(`[^a-z0-9$]+`)

// normalize lowercases s and reduces it to single-space separated tokens with
// a leading and trailing space, so phrases match on word boundaries.
func normalize(s string) string {
	return " " + strings.TrimSpace(nonWord.ReplaceAllString(strings.ToLower(s), " ")) + " "
}

func matchRules(text string, rules []rule) (int, bool) {
	norm := normalize(text)
	for _, r := range rules {
		for _, p := range r.phrases {
			if strings.Contains(norm, " "+p+" ") {
				return r.score, true
			}
		}
	}
	return 0, false
}

// ── Criteria ────────────────────────────────────────────────

var industryRules = []rule{
	{[]string{"software", "saas", "technology", "tech", "fintech", "ecommerce", "e commerce", "internet", "it services", "cloud", "cybersecurity"}, 85},
	{[]string{"financial services", "finance", "banking", "insurance", "healthcare", "logistics", "manufacturing", "retail", "media", "telecom", "telecommunications"}, 65},
	{[]string{"government", "non profit", "nonprofit", "charity", "education", "student"}, 30},
}

func industryFit(industry string) int {
	if strings.TrimSpace(industry) == "" {
		return Neutral
	}
	if s, ok := matchRules(industry, industryRules); ok {
		return s
	}
	return Neutral
}

var (
	noBudgetRules = []rule{
		{[]string{"no budget", "none", "zero", "0", "free"}, noBudget},
		{[]string{"tbd", "unknown", "not sure", "n a", "undecided"}, Neutral},
	}
	amountPattern = regexp.MustCompile(`(\d[\d,]*(?:\.\d+)?)\s*(thousand|million|mm|k|m)?\b`)
)

const noBudget = 20

func budgetScore(budget string) int {
	b := strings.TrimSpace(budget)
	if b == "" {
		return Neutral
	}
	if s, ok := matchRules(b, noBudgetRules); ok {
		return s
	}
	if amount, ok := parseAmount(b); ok {
		switch {
		case amount == 0:
			return noBudget
		case amount >= 100_000:
			return 90
		case amount >= 25_000:
			return 80
		case amount >= 5_000:
			return 70
		default:
			return 40
		}
	}
	if strings.Contains(b, "$") {
		return 70
	}
	return Neutral
}

// parseAmount returns the largest monetary amount mentioned in s,
// honouring magnitude suffixes ("$50k", "1.5M", "2mm", "50 million").
func parseAmount(s string) (float64, bool) {
	best, found := 0.0, false
	for _, m := range amountPattern.FindAllStringSubmatch(strings.ToLower(s), -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "k", "thousand":
			v *= 1_000
		case "m", "mm", "million":
			v *= 1_000_000
		}
		if v > best {
			best = v
		}
		found = true
	}
	return best, found
}

// Junior roles are checked before executive ones: "Assistant to the CEO" is
// not the CEO.
var authorityRules = []rule{
	{[]string{"assistant director", "assistant vice president", "assistant vp"}, 75},
	{[]string{"intern", "internship", "student", "assistant", "trainee"}, 25},
	{[]string{"ceo", "cto", "cfo", "coo", "cio", "ciso", "cmo", "cro", "chief", "owner", "founder", "cofounder", "managing director", "partner"}, 95},
	{[]string{"vice president", "vp", "svp", "evp", "director", "head"}, 75},
	{[]string{"president"}, 95},
	{[]string{"manager", "lead", "principal", "architect"}, 60},
}

func authorityScore(title string) int {
	if strings.TrimSpace(title) == "" {
		return Neutral
	}
	if s, ok := matchRules(title, authorityRules); ok {
		return s
	}
	return Neutral
}

var (
	vagueNeed = []rule{
		{[]string{"just looking", "browsing", "curious", "not sure", "just exploring"}, 30},
	}
	painStems = []string{
		"scal", "automat", "replac", "migrat", "integrat", "reduc", "complian",
		"secur", "grow", "streamlin", "moderniz", "optimi", "consolidat",
	}
)

func needScore(need string) int {
	n := strings.TrimSpace(need)
	if s, ok := matchRules(n, vagueNeed); ok {
		return s
	}
	for _, tok := range strings.Fields(normalize(n)) {
		for _, stem := range painStems {
			if strings.HasPrefix(tok, stem) {
				return 85
			}
		}
	}
	if len(n) > 20 {
		return 70
	}
	return Neutral
}

const distantTimeline = 30

var urgentTimeline = rule{
	[]string{"immediate", "immediately", "asap", "urgent", "urgently", "this month", "this week", "right now", "now", "today", "right away", "30 days"},
	95,
}

// Order matters: vague and distant phrasings are checked before urgent ones.
var timelineRules = []rule{
	{[]string{"just exploring", "exploring", "not sure", "unknown", "tbd", "no timeline"}, 25},
	{[]string{"next year", "6 months", "six months", "12 months", "later", "someday", "no rush", "eventually", "not now"}, distantTimeline},
	urgentTimeline,
	{[]string{"next month", "this quarter", "next quarter", "q1", "q2", "q3", "q4", "60 days", "90 days", "3 months", "three months"}, 75},
}

var negations = []string{"not", "no", "never"}

// negatedUrgency reports whether an urgent phrase directly follows a
// negation, as in "not this month".
func negatedUrgency(timeline string) bool {
	norm := normalize(timeline)
	for _, p := range urgentTimeline.phrases {
		for _, n := range negations {
			if strings.Contains(norm, " "+n+" "+p+" ") {
				return true
			}
		}
	}
	return false
}

func timelineScore(timeline string) int {
	if negatedUrgency(timeline) {
		return distantTimeline
	}
	if s, ok := matchRules(timeline, timelineRules); ok {
		return s
	}
	return Neutral
}

func companySizeScore(size *int) int {
	if size == nil {
		return Neutral
	}
	switch n := *size; {
	case n > EnterpriseThreshold:
		return 80
	case n > 50:
		return 70
	case n >= 10:
		return 60
	default:
		return 40
	}
}
