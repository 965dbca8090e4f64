// Package contracts defines the service interfaces of the leadgate decision
// core.
//
// The agent loop and the HTTP handlers depend on these interfaces only, so a
// scoring backend, a memory backend or the approval ledger can be replaced
// with a single line change in the wiring code (pkg/server).
package contracts

import (
	"context"

	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/internal/tools"
	"github.com/leadgate/leadgate/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the store's not-found error.
type ErrNotFound = store.ErrNotFound

// ── Scoring ─────────────────────────────────────────────────

// Scorer turns a lead into a ScoreResult. Score is total: implementations
// never fail, they degrade.
// Implementations: internal/scoring.HeuristicScorer, internal/scoring.LLMScorer.
type Scorer interface {
	// Name identifies the implementation in traces (heuristic | llm).
	Name() string
	Score(ctx context.Context, lead models.Lead) models.ScoreResult
}

// ── Guardrails ──────────────────────────────────────────────

// GuardrailService decides whether an action needs human approval.
// Implementation: internal/guardrails.Evaluator.
type GuardrailService interface {
	Evaluate(action string, ctx map[string]any) models.ApprovalCheck
}

// ── Approval Ledger ─────────────────────────────────────────

// ApprovalLedger owns human-review requests.
// Implementation: internal/approvals.Ledger.
type ApprovalLedger interface {
	Submit(ctx context.Context, actionType, leadKey, reason string, snapshot map[string]any) (string, error)
	Decide(ctx context.Context, actionID string, d models.ApprovalDecision) (*models.ApprovalRequest, error)
	Get(ctx context.Context, actionID string) (*models.ApprovalRequest, error)
	StatusOf(ctx context.Context, actionID string) (models.ApprovalStatus, error)
	ListPending(ctx context.Context, leadKey string) ([]models.ApprovalRequest, error)
}

// ── Company Memory ──────────────────────────────────────────

// MemoryService stores per-domain interaction history.
// Implementation: internal/memory.Service (Redis or in-process backend).
type MemoryService interface {
	GetHistory(ctx context.Context, domain string) (models.CompanyHistory, error)
	WriteSummary(ctx context.Context, domain, outcome, notes string) error
	Delete(ctx context.Context, domain string) error
}

// ── Agent ───────────────────────────────────────────────────

// LeadQualifier is the single entry point of the decision core.
// Implementation: internal/agent.Agent.
type LeadQualifier interface {
	Run(ctx context.Context, lead models.Lead) models.AgentResult
}

// ── Tools ───────────────────────────────────────────────────

// Toolset runs the act-phase side effects.
// Implementation: internal/tools.Toolbox.
type Toolset interface {
	UpsertLeadRow(ctx context.Context, leadKey string, lead models.Lead, res models.ScoreResult) (tools.UpsertResult, error)
	CreateFollowupTask(ctx context.Context, leadKey string, lead models.Lead, res models.ScoreResult) (tools.TaskResult, error)
}
