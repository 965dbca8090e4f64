// Package scoring maps a lead record to a score, tier and segment.
//
// Two scorers satisfy the same contract: HeuristicScorer (rule-based,
// confidence=low) and LLMScorer (generative, confidence medium/high) which
// falls back to the heuristic scorer whenever the model times out, errors,
// or returns output that does not match the ScoreResult schema.
package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/leadgate/leadgate/pkg/models"
)

// Weights per criterion. They sum to 100.
var Weights = map[models.Criterion]int{
	models.CriterionIndustryFit: 20,
	models.CriterionBudget:      20,
	models.CriterionAuthority:   15,
	models.CriterionNeed:        20,
	models.CriterionTimeline:    15,
	models.CriterionCompanySize: 10,
}

const (
	// Neutral is the score for present-but-uninformative or optional absent data.
	Neutral = 50

	nurtureFloor   = 40
	qualifiedFloor = 70

	// EnterpriseThreshold: company_size strictly above this is enterprise.
	EnterpriseThreshold = 200
)

// TierForScore derives the tier of a complete lead from its score.
// Thresholds are inclusive on their lower bound.
func TierForScore(score int) models.Tier {
	switch {
	case score >= qualifiedFloor:
		return models.TierQualified
	case score >= nurtureFloor:
		return models.TierNurture
	default:
		return models.TierReject
	}
}

// SegmentFor returns enterprise iff company_size > 200.
func SegmentFor(lead models.Lead) models.Segment {
	if lead.Size() > EnterpriseThreshold {
		return models.SegmentEnterprise
	}
	return models.SegmentSMB
}

// WeightedScore returns Σ criteria[c]*weight[c]/100, truncated.
func WeightedScore(criteria models.CriteriaScores) int {
	total := 0
	for c, w := range Weights {
		total += clamp(criteria[c]) * w
	}
	return total / 100
}

// MissingFields returns the absent required fields in fixed order.
func MissingFields(lead models.Lead) []string {
	values := map[string]string{
		models.FieldEmail:    lead.Email,
		models.FieldCompany:  lead.Company,
		models.FieldNeed:     lead.Need,
		models.FieldTimeline: lead.Timeline,
	}
	var missing []string
	for _, f := range models.RequiredFields {
		if strings.TrimSpace(values[f]) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// needsInfo builds the short-circuit result for an incomplete lead.
func needsInfo(lead models.Lead, missing []string) models.ScoreResult {
	criteria := make(models.CriteriaScores, len(models.Criteria))
	for _, c := range models.Criteria {
		criteria[c] = 0
	}
	return models.ScoreResult{
		Score:          0,
		Tier:           models.TierNeedsInfo,
		Segment:        SegmentFor(lead),
		CriteriaScores: criteria,
		MissingFields:  missing,
		Confidence:     models.ConfidenceHigh,
		Reasoning:      "Missing required fields: " + strings.Join(missing, ", "),
	}
}

// describe renders a short human-readable summary of non-neutral criteria.
func describe(prefix string, score int, tier models.Tier, criteria models.CriteriaScores) string {
	var parts []string
	for _, c := range models.Criteria {
		if v := criteria[c]; v != Neutral {
			parts = append(parts, fmt.Sprintf("%s %d", c, v))
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s score %d (%s): all criteria neutral.", prefix, score, tier)
	}
	return fmt.Sprintf("%s score %d (%s): %s; other criteria neutral.", prefix, score, tier, strings.Join(parts, ", "))
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// ── Company history context ─────────────────────────────────

type historyKey struct{}

// WithHistory attaches the observed company history to ctx so that scorers
// able to use it (the LLM prompt) can read it.
func WithHistory(ctx context.Context, h *models.CompanyHistory) context.Context {
	return context.WithValue(ctx, historyKey{}, h)
}

// HistoryFrom returns the company history attached by WithHistory, if any.
func HistoryFrom(ctx context.Context) *models.CompanyHistory {
	h, _ := ctx.Value(historyKey{}).(*models.CompanyHistory)
	return h
}
