// Package eval replays labelled leads through an in-process agent and
// compares the outcome against the expected tier, approval flag and score
// range.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/leadgate/leadgate/internal/agent"
	"github.com/leadgate/leadgate/internal/approvals"
	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/internal/guardrails"
	"github.com/leadgate/leadgate/internal/memory"
	"github.com/leadgate/leadgate/internal/scoring"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/internal/tools"
	"github.com/leadgate/leadgate/pkg/contracts"
	"github.com/leadgate/leadgate/pkg/models"
)

// TierInvalid is the expected tier of a case whose input must fail validation.
const TierInvalid = "invalid"

// Case is one labelled lead.
type Case struct {
	ID       int         `json:"id"`
	Category string      `json:"category,omitempty"`
	Input    models.Lead `json:"input"`
	Expected Expected    `json:"expected"`
}

// Expected is the labelled outcome. Score bounds are inclusive and optional.
type Expected struct {
	Tier             string `json:"tier"`
	ApprovalRequired bool   `json:"approval_required"`
	ScoreMin         *int   `json:"score_min,omitempty"`
	ScoreMax         *int   `json:"score_max,omitempty"`
}

// Result is the outcome of one case.
type Result struct {
	CaseID           int
	Category         string
	Passed           bool
	ExpectedTier     string
	ActualTier       string
	ExpectedApproval bool
	ActualApproval   bool
	Score            int
	// ScoreInRange is nil when the case sets no bounds.
	ScoreInRange *bool
	Error        string
}

// Summary aggregates a run.
type Summary struct {
	Passed  int
	Total   int
	Results []Result
}

// Accuracy is the pass ratio in percent.
func (s Summary) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return 100 * float64(s.Passed) / float64(s.Total)
}

// LoadCases decodes a JSON array of cases.
func LoadCases(r io.Reader) ([]Case, error) {
	var cases []Case
	if err := json.NewDecoder(r).Decode(&cases); err != nil {
		return nil, fmt.Errorf("decode cases: %w", err)
	}
	return cases, nil
}

// Runner evaluates cases against a LeadQualifier.
type Runner struct {
	agent contracts.LeadQualifier
	close func()
}

// NewRunner builds a self-contained agent: heuristic scorer, default
// guardrail policy, in-memory store and in-process company memory.
func NewRunner() (*Runner, error) {
	s := store.NewMemoryStore("")
	backend, err := memory.NewLocalBackend(16 << 20)
	if err != nil {
		s.Close()
		return nil, err
	}
	mem := memory.NewService(backend, "local", config.MemoryConfig{TTL: time.Hour})

	a := agent.New(agent.Deps{
		Scorer:     scoring.NewHeuristicScorer(),
		Guardrails: guardrails.MustDefault(),
		Ledger:     approvals.NewLedger(s),
		Memory:     mem,
		Tools:      tools.New(s, s, tools.DefaultTimeout),
		Traces:     s,
	}, agent.Options{})

	return &Runner{
		agent: a,
		close: func() {
			mem.Close()
			s.Close()
		},
	}, nil
}

// NewRunnerWith evaluates against an existing qualifier.
func NewRunnerWith(q contracts.LeadQualifier) *Runner {
	return &Runner{agent: q, close: func() {}}
}

// Close releases the runner's resources.
func (r *Runner) Close() { r.close() }

// Evaluate runs one case. Inputs are sanitized and validated the same way
// the HTTP API does before they reach the agent.
func (r *Runner) Evaluate(ctx context.Context, c Case) Result {
	res := Result{
		CaseID:           c.ID,
		Category:         c.Category,
		ExpectedTier:     c.Expected.Tier,
		ExpectedApproval: c.Expected.ApprovalRequired,
	}

	lead := guardrails.SanitizeLead(c.Input)
	if err := guardrails.ValidateLead(lead); err != nil {
		res.ActualTier = TierInvalid
		res.Error = err.Error()
		res.Passed = c.Expected.Tier == TierInvalid
		return res
	}

	out := r.agent.Run(ctx, lead)
	res.ActualTier = string(out.ScoreResult.Tier)
	res.ActualApproval = out.ApprovalRequired
	res.Score = out.ScoreResult.Score
	res.Error = out.Error

	passed := res.ActualTier == res.ExpectedTier && res.ActualApproval == res.ExpectedApproval
	if c.Expected.ScoreMin != nil || c.Expected.ScoreMax != nil {
		in := (c.Expected.ScoreMin == nil || res.Score >= *c.Expected.ScoreMin) &&
			(c.Expected.ScoreMax == nil || res.Score <= *c.Expected.ScoreMax)
		res.ScoreInRange = &in
		passed = passed && in
	}
	res.Passed = passed
	return res
}

// Run evaluates every case, or only the case with id only when only > 0.
func (r *Runner) Run(ctx context.Context, cases []Case, only int) Summary {
	var sum Summary
	for _, c := range cases {
		if only > 0 && c.ID != only {
			continue
		}
		res := r.Evaluate(ctx, c)
		sum.Results = append(sum.Results, res)
		sum.Total++
		if res.Passed {
			sum.Passed++
		}
	}
	return sum
}
