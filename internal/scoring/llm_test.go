package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/leadgate/leadgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	content string
	err     error
	delay   time.Duration
	calls   int
	lastReq *models.RouteRequest
}

func (f *fakeCompleter) Complete(ctx context.Context, req *models.RouteRequest) (*models.RouteResponse, error) {
	f.calls++
	f.lastReq = req
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &models.RouteResponse{Content: f.content}, nil
}

const validReply = `{
  "score": 80,
  "tier": "qualified",
  "segment": "smb",
  "criteria_scores": {"industry_fit": 80, "budget": 70, "authority": 95, "need": 85, "timeline": 90, "company_size": 60},
  "missing_fields": [],
  "confidence": "high",
  "reasoning": "Decision maker with urgent, concrete need."
}`

func TestLLMScorer_ValidReply(t *testing.T) {
	fc := &fakeCompleter{content: validReply}
	s := NewLLMScorer(fc, LLMOptions{Timeout: time.Second})

	res := s.Score(context.Background(), ctoLead(50))

	// 1600+1400+1425+1700+1350+600 = 8075
	assert.Equal(t, 80, res.Score)
	assert.Equal(t, models.TierQualified, res.Tier)
	assert.Equal(t, models.ConfidenceHigh, res.Confidence)
	assert.Equal(t, "Decision maker with urgent, concrete need.", res.Reasoning)
	require.NotNil(t, fc.lastReq)
	assert.True(t, fc.lastReq.JSONMode)
}

func TestLLMScorer_MissingFieldsSkipModel(t *testing.T) {
	fc := &fakeCompleter{content: validReply}
	s := NewLLMScorer(fc, LLMOptions{})

	res := s.Score(context.Background(), models.Lead{Email: "a@b.com", Company: "B"})

	assert.Equal(t, 0, fc.calls)
	assert.Equal(t, models.TierNeedsInfo, res.Tier)
	assert.Equal(t, []string{"need", "timeline"}, res.MissingFields)
}

func TestLLMScorer_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		fc   *fakeCompleter
	}{
		{"upstream error", &fakeCompleter{err: errors.New("502")}},
		{"timeout", &fakeCompleter{content: validReply, delay: time.Second}},
		{"not json", &fakeCompleter{content: "I think this lead is great"}},
		{"unknown key", &fakeCompleter{content: `{"score":80,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":80,"budget":70,"authority":95,"need":85,"timeline":90,"company_size":60},"missing_fields":[],"confidence":"high","reasoning":"x","extra":1}`}},
		{"missing reasoning", &fakeCompleter{content: `{"score":80,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":80,"budget":70,"authority":95,"need":85,"timeline":90,"company_size":60},"missing_fields":[],"confidence":"high"}`}},
		{"wrong segment", &fakeCompleter{content: `{"score":80,"tier":"qualified","segment":"enterprise","criteria_scores":{"industry_fit":80,"budget":70,"authority":95,"need":85,"timeline":90,"company_size":60},"missing_fields":[],"confidence":"high","reasoning":"x"}`}},
		{"criterion out of range", &fakeCompleter{content: `{"score":80,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":180,"budget":70,"authority":95,"need":85,"timeline":90,"company_size":60},"missing_fields":[],"confidence":"high","reasoning":"x"}`}},
		{"missing criterion", &fakeCompleter{content: `{"score":80,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":80,"budget":70,"authority":95,"need":85,"timeline":90},"missing_fields":[],"confidence":"high","reasoning":"x"}`}},
		{"fractional score", &fakeCompleter{content: `{"score":80.5,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":80,"budget":70,"authority":95,"need":85,"timeline":90,"company_size":60},"missing_fields":[],"confidence":"high","reasoning":"x"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLLMScorer(tt.fc, LLMOptions{Timeout: 50 * time.Millisecond})
			res := s.Score(context.Background(), ctoLead(50))

			want := NewHeuristicScorer().Score(context.Background(), ctoLead(50))
			assert.Equal(t, want, res)
			assert.Equal(t, models.ConfidenceLow, res.Confidence)
		})
	}
}

func TestParseScoreResult_RecomputesScore(t *testing.T) {
	// The model claims 95/qualified but its criteria only support 50.
	reply := "```json\n" + `{"score":95,"tier":"qualified","segment":"smb","criteria_scores":{"industry_fit":50,"budget":50,"authority":50,"need":50,"timeline":50,"company_size":50},"missing_fields":[],"confidence":"low","reasoning":"ok"}` + "\n```"

	res, err := ParseScoreResult([]byte(reply), ctoLead(50))
	require.NoError(t, err)
	assert.Equal(t, 50, res.Score)
	assert.Equal(t, models.TierNurture, res.Tier)
	assert.Equal(t, models.ConfidenceMedium, res.Confidence)
}

func TestParseScoreResult_RejectsNeedsInfo(t *testing.T) {
	reply := `{"score":0,"tier":"needs_info","segment":"smb","criteria_scores":{"industry_fit":0,"budget":0,"authority":0,"need":0,"timeline":0,"company_size":0},"missing_fields":["need"],"confidence":"high","reasoning":"missing"}`

	_, err := ParseScoreResult([]byte(reply), ctoLead(50))
	assert.Error(t, err)
}

func TestUserPrompt_IncludesHistory(t *testing.T) {
	h := &models.CompanyHistory{Domain: "acme.com", TotalLeadsCount: 2, LastOutcome: "nurture"}
	p := userPrompt(ctoLead(50), h)

	assert.Contains(t, p, "Previous leads: 2")
	assert.Contains(t, p, "Last outcome: nurture")
	assert.Contains(t, p, "Budget: (not provided)")
}
