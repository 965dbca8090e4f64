package models

import (
	"strings"
	"time"
)

// ── Lead ─────────────────────────────────────────────────────

// Lead is an inbound prospect record. It is treated as immutable once it
// reaches the agent loop.
type Lead struct {
	Email       string `json:"email"`
	Company     string `json:"company"`
	Need        string `json:"need,omitempty"`
	Timeline    string `json:"timeline,omitempty"`
	Budget      string `json:"budget,omitempty"`
	Title       string `json:"title,omitempty"`
	Industry    string `json:"industry,omitempty"`
	CompanySize *int   `json:"company_size,omitempty"`
}

// Domain returns the lowercased domain part of the lead's email address.
func (l Lead) Domain() string {
	at := strings.LastIndex(l.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(l.Email[at+1:])
}

// Size returns the company size or 0 when it is absent.
func (l Lead) Size() int {
	if l.CompanySize == nil {
		return 0
	}
	return *l.CompanySize
}

// IntPtr is a small helper for building leads with a company size.
func IntPtr(v int) *int { return &v }

// ── Scoring ──────────────────────────────────────────────────

// Tier is the qualification outcome category.
type Tier string

const (
	TierReject    Tier = "reject"
	TierNurture   Tier = "nurture"
	TierQualified Tier = "qualified"
	TierNeedsInfo Tier = "needs_info"
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierReject, TierNurture, TierQualified, TierNeedsInfo:
		return true
	}
	return false
}

// Segment is the company-size bucket.
type Segment string

const (
	SegmentSMB        Segment = "smb"
	SegmentEnterprise Segment = "enterprise"
)

// Valid reports whether s is a known segment.
func (s Segment) Valid() bool {
	return s == SegmentSMB || s == SegmentEnterprise
}

// Confidence describes how the score was produced. Low is reserved for the
// rule-based scorer.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Valid reports whether c is a known confidence level.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Criterion names one of the six scoring criteria.
type Criterion string

const (
	CriterionIndustryFit Criterion = "industry_fit"
	CriterionBudget      Criterion = "budget"
	CriterionAuthority   Criterion = "authority"
	CriterionNeed        Criterion = "need"
	CriterionTimeline    Criterion = "timeline"
	CriterionCompanySize Criterion = "company_size"
)

// Criteria lists every criterion in canonical order.
var Criteria = []Criterion{
	CriterionIndustryFit,
	CriterionBudget,
	CriterionAuthority,
	CriterionNeed,
	CriterionTimeline,
	CriterionCompanySize,
}

// Required lead fields, in reporting order.
const (
	FieldEmail    = "email"
	FieldCompany  = "company"
	FieldNeed     = "need"
	FieldTimeline = "timeline"
)

// RequiredFields is the fixed order used for missing_fields.
var RequiredFields = []string{FieldEmail, FieldCompany, FieldNeed, FieldTimeline}

// CriteriaScores maps each criterion to an integer in [0,100].
type CriteriaScores map[Criterion]int

// ScoreResult is the output contract shared by every scorer.
type ScoreResult struct {
	Score          int            `json:"score"`
	Tier           Tier           `json:"tier"`
	Segment        Segment        `json:"segment"`
	CriteriaScores CriteriaScores `json:"criteria_scores"`
	MissingFields  []string       `json:"missing_fields"`
	Confidence     Confidence     `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
}

// ── Company Memory ───────────────────────────────────────────

// CompanyHistory is the prior interaction summary for an email domain.
type CompanyHistory struct {
	Domain          string     `json:"domain"`
	LastContactDate *time.Time `json:"last_contact_date,omitempty"`
	LastOutcome     string     `json:"last_outcome,omitempty"`
	NotesSummary    string     `json:"notes_summary,omitempty"`
	TotalLeadsCount int        `json:"total_leads_count"`
}

// ── Approvals ────────────────────────────────────────────────

// ApprovalStatus is the lifecycle state of an ApprovalRequest.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// ApprovalCheck is the ephemeral outcome of a guardrail evaluation.
type ApprovalCheck struct {
	Required   bool           `json:"required"`
	Reason     string         `json:"reason,omitempty"`
	ActionType string         `json:"action_type,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// ApprovalRequest is a persisted human-review request.
type ApprovalRequest struct {
	ActionID    string         `json:"action_id" db:"action_id"`
	ActionType  string         `json:"action_type" db:"action_type"`
	LeadKey     string         `json:"lead_key" db:"lead_key"`
	Reason      string         `json:"reason" db:"reason"`
	Context     map[string]any `json:"context,omitempty"`
	RequestedAt time.Time      `json:"requested_at" db:"requested_at"`
	Status      ApprovalStatus `json:"status" db:"status"`
	DecidedBy   string         `json:"decided_by,omitempty" db:"decided_by"`
	Notes       string         `json:"notes,omitempty" db:"notes"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
}

// ApprovalDecision is the reviewer payload for deciding a request.
type ApprovalDecision struct {
	Approved  bool   `json:"approved"`
	DecidedBy string `json:"decided_by,omitempty"`
	Notes     string `json:"notes,omitempty"`
}

// ── Agent Result & Trace ─────────────────────────────────────

// AgentResult is the terminal output of one agent-loop run.
type AgentResult struct {
	LeadKey          string      `json:"lead_key"`
	ScoreResult      ScoreResult `json:"score_result"`
	ActionsTaken     []string    `json:"actions_taken"`
	ApprovalRequired bool        `json:"approval_required"`
	ApprovalReason   string      `json:"approval_reason,omitempty"`
	ApprovalID       string      `json:"approval_id,omitempty"`
	TraceID          string      `json:"trace_id"`
	Error            string      `json:"error,omitempty"`
}

// TraceRecord is the write-once audit entry for one agent-loop run.
type TraceRecord struct {
	TraceID          string       `json:"trace_id" db:"trace_id"`
	LeadKey          string       `json:"lead_key" db:"lead_key"`
	StartedAt        time.Time    `json:"started_at" db:"started_at"`
	CompletedAt      time.Time    `json:"completed_at" db:"completed_at"`
	DurationMs       int64        `json:"duration_ms" db:"duration_ms"`
	Input            Lead         `json:"input"`
	ScoreResult      *ScoreResult `json:"score_result,omitempty"`
	ActionsTaken     []string     `json:"actions_taken"`
	ApprovalRequired bool         `json:"approval_required" db:"approval_required"`
	ApprovalReason   string       `json:"approval_reason,omitempty" db:"approval_reason"`
	ApprovalID       string       `json:"approval_id,omitempty" db:"approval_id"`
	Scorer           string       `json:"scorer,omitempty" db:"scorer"`
	Error            string       `json:"error,omitempty" db:"error"`
}

// TraceFilter narrows GetTraces.
type TraceFilter struct {
	LeadKey string
	Limit   int
	Offset  int
}

// ── Lead Rows & Tasks ────────────────────────────────────────

// LeadRow is the persisted, deduplicated lead record keyed by lead key.
type LeadRow struct {
	LeadKey     string    `json:"lead_key" db:"lead_key"`
	Email       string    `json:"email" db:"email"`
	Company     string    `json:"company" db:"company"`
	Score       int       `json:"score" db:"score"`
	Tier        Tier      `json:"tier" db:"tier"`
	Segment     Segment   `json:"segment" db:"segment"`
	Need        string    `json:"need,omitempty" db:"need"`
	Timeline    string    `json:"timeline,omitempty" db:"timeline"`
	Budget      string    `json:"budget,omitempty" db:"budget"`
	Title       string    `json:"title,omitempty" db:"title"`
	CompanySize *int      `json:"company_size,omitempty" db:"company_size"`
	Industry    string    `json:"industry,omitempty" db:"industry"`
	Status      string    `json:"status" db:"status"`
	Notes       string    `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Priority of a follow-up task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Task is a follow-up task created for a lead.
type Task struct {
	TaskID    string    `json:"task_id" db:"task_id"`
	LeadKey   string    `json:"lead_key" db:"lead_key"`
	Email     string    `json:"email" db:"email"`
	Type      string    `json:"type" db:"type"`
	Title     string    `json:"title" db:"title"`
	Priority  Priority  `json:"priority" db:"priority"`
	DueDate   time.Time `json:"due_date" db:"due_date"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EmailDraft is an unsent email prepared for human review.
type EmailDraft struct {
	DraftID      string    `json:"draft_id"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	TemplateType string    `json:"template_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// ── Model Routing ────────────────────────────────────────────

// ChatMessage is one message in a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage tracks token consumption of a model call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// RouteRequest is a chat completion request sent to a model provider.
type RouteRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	JSONMode    bool          `json:"json_mode,omitempty"`
}

// RouteResponse is the provider's reply.
type RouteResponse struct {
	ID        string     `json:"id"`
	Provider  string     `json:"provider"`
	Model     string     `json:"model"`
	Content   string     `json:"content"`
	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`
}
