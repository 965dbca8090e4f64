package scoring

import (
	"context"
	"testing"

	"github.com/leadgate/leadgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctoLead(size int) models.Lead {
	return models.Lead{
		Email:       "cto@acme.com",
		Company:     "Acme",
		Need:        "scale ops",
		Timeline:    "this month",
		Title:       "CTO",
		CompanySize: models.IntPtr(size),
	}
}

func TestTierForScore_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  models.Tier
	}{
		{0, models.TierReject},
		{39, models.TierReject},
		{40, models.TierNurture},
		{69, models.TierNurture},
		{70, models.TierQualified},
		{100, models.TierQualified},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForScore(tt.score), "score=%d", tt.score)
	}
}

func TestSegmentFor(t *testing.T) {
	tests := []struct {
		size *int
		want models.Segment
	}{
		{nil, models.SegmentSMB},
		{models.IntPtr(1), models.SegmentSMB},
		{models.IntPtr(200), models.SegmentSMB},
		{models.IntPtr(201), models.SegmentEnterprise},
		{models.IntPtr(5000), models.SegmentEnterprise},
	}
	for _, tt := range tests {
		got := SegmentFor(models.Lead{CompanySize: tt.size})
		assert.Equal(t, tt.want, got)
	}
}

func TestWeightsSumTo100(t *testing.T) {
	total := 0
	for _, c := range models.Criteria {
		total += Weights[c]
	}
	assert.Equal(t, 100, total)
	assert.Len(t, Weights, len(models.Criteria))
}

func TestWeightedScore_Truncates(t *testing.T) {
	criteria := models.CriteriaScores{
		models.CriterionIndustryFit: 50,
		models.CriterionBudget:      50,
		models.CriterionAuthority:   51,
		models.CriterionNeed:        50,
		models.CriterionTimeline:    50,
		models.CriterionCompanySize: 50,
	}
	// 5000 + 15 = 5015 → 50
	assert.Equal(t, 50, WeightedScore(criteria))
}

func TestMissingFields_Order(t *testing.T) {
	tests := []struct {
		name string
		lead models.Lead
		want []string
	}{
		{"complete", ctoLead(50), nil},
		{"need and timeline", models.Lead{Email: "a@b.com", Company: "Acme"}, []string{"need", "timeline"}},
		{"all", models.Lead{}, []string{"email", "company", "need", "timeline"}},
		{"whitespace counts as absent", models.Lead{Email: "a@b.com", Company: "  ", Need: "x", Timeline: "y"}, []string{"company"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MissingFields(tt.lead))
		})
	}
}

func TestHeuristic_CTOExample(t *testing.T) {
	res := NewHeuristicScorer().Score(context.Background(), ctoLead(50))

	assert.GreaterOrEqual(t, res.Score, 70)
	assert.Equal(t, models.TierQualified, res.Tier)
	assert.Equal(t, models.SegmentSMB, res.Segment)
	assert.Equal(t, models.ConfidenceLow, res.Confidence)
	assert.Empty(t, res.MissingFields)
	assert.Equal(t, 95, res.CriteriaScores[models.CriterionAuthority])
	assert.Equal(t, 95, res.CriteriaScores[models.CriterionTimeline])
	assert.Len(t, res.CriteriaScores, 6)
}

func TestHeuristic_EnterpriseExample(t *testing.T) {
	res := NewHeuristicScorer().Score(context.Background(), ctoLead(500))

	assert.Equal(t, models.TierQualified, res.Tier)
	assert.Equal(t, models.SegmentEnterprise, res.Segment)
}

func TestHeuristic_NeedsInfo(t *testing.T) {
	lead := models.Lead{Email: "cto@acme.com", Company: "Acme", Title: "CTO", CompanySize: models.IntPtr(50)}
	res := NewHeuristicScorer().Score(context.Background(), lead)

	assert.Equal(t, models.TierNeedsInfo, res.Tier)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, []string{"need", "timeline"}, res.MissingFields)
	assert.Equal(t, models.ConfidenceHigh, res.Confidence)
	assert.Contains(t, res.Reasoning, "need, timeline")
	for _, c := range models.Criteria {
		assert.Equal(t, 0, res.CriteriaScores[c], "criterion %s", c)
	}
}

func TestHeuristic_TierMatchesScore(t *testing.T) {
	leads := []models.Lead{
		{Email: "a@x.com", Company: "X", Need: "just looking", Timeline: "next year", Budget: "no budget", Title: "Intern", Industry: "Education", CompanySize: models.IntPtr(3)},
		{Email: "b@x.com", Company: "X", Need: "something", Timeline: "soon"},
		{Email: "c@x.com", Company: "X", Need: "automate invoicing", Timeline: "Q3", Budget: "$50k", Title: "VP Finance", Industry: "SaaS", CompanySize: models.IntPtr(120)},
	}
	h := NewHeuristicScorer()
	for _, l := range leads {
		res := h.Score(context.Background(), l)
		require.NotEqual(t, models.TierNeedsInfo, res.Tier)
		assert.Equal(t, TierForScore(res.Score), res.Tier, "lead %s", l.Email)
		assert.Equal(t, WeightedScore(res.CriteriaScores), res.Score)
	}
}

func TestHeuristic_LowQualityRejects(t *testing.T) {
	lead := models.Lead{
		Email: "a@x.com", Company: "X", Need: "just looking", Timeline: "next year",
		Budget: "no budget", Title: "Intern", Industry: "Education", CompanySize: models.IntPtr(3),
	}
	res := NewHeuristicScorer().Score(context.Background(), lead)
	assert.Equal(t, models.TierReject, res.Tier)
}

func TestAuthorityScore(t *testing.T) {
	tests := []struct {
		title string
		want  int
	}{
		{"", 50},
		{"CTO", 95},
		{"Co-Founder", 95},
		{"Director of Engineering", 75},
		{"Vice President, Sales", 75},
		{"President", 95},
		{"Engineering Manager", 60},
		{"Marketing Intern", 25},
		{"Executive Assistant to the CEO", 25},
		{"Intern, Office of the CTO", 25},
		{"Assistant Director of IT", 75},
		{"Analyst", 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, authorityScore(tt.title), "title=%q", tt.title)
	}
}

func TestTimelineScore(t *testing.T) {
	tests := []struct {
		timeline string
		want     int
	}{
		{"this month", 95},
		{"ASAP", 95},
		{"not now", 30},
		{"not right now", 30},
		{"Not this month", 30},
		{"never urgent", 30},
		{"right now", 95},
		{"Q3", 75},
		{"next year", 30},
		{"just exploring", 25},
		{"whenever", 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, timelineScore(tt.timeline), "timeline=%q", tt.timeline)
	}
}

func TestBudgetScore(t *testing.T) {
	tests := []struct {
		budget string
		want   int
	}{
		{"", 50},
		{"no budget", 20},
		{"TBD", 50},
		{"$150k", 90},
		{"50,000", 80},
		{"$20k-$30k", 80},
		{"$2,000", 40},
		{"$0", 20},
		{"$0-$50k", 80},
		{"50 million", 90},
		{"$30 thousand", 80},
		{"$2mm", 90},
		{"$ flexible", 70},
		{"reasonable", 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, budgetScore(tt.budget), "budget=%q", tt.budget)
	}
}
