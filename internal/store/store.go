// Package store provides the persistence interface for leads, follow-up
// tasks, run traces and approval requests, with in-memory and PostgreSQL
// implementations.
package store

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/leadgate/leadgate/pkg/models"
)

// Store is the primary storage interface. Handler and agent code depends on
// this interface so the in-memory (tests, local dev) and PostgreSQL
// (production) implementations are interchangeable.
type Store interface {
	LeadStore
	TaskStore
	TraceStore
	ApprovalStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate brings the schema up to date.
	Migrate(ctx context.Context) error
}

// ── Lead Store ──────────────────────────────────────────────

// LeadStore persists one row per lead key.
type LeadStore interface {
	// UpsertLead inserts or replaces the row for row.LeadKey and reports
	// whether it was newly created. CreatedAt is preserved on update.
	UpsertLead(ctx context.Context, row *models.LeadRow) (created bool, err error)
	GetLead(ctx context.Context, leadKey string) (*models.LeadRow, error)
}

// ── Task Store ──────────────────────────────────────────────

type TaskStore interface {
	CreateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, leadKey string) ([]models.Task, error)
}

// ── Trace Store ─────────────────────────────────────────────

// TraceStore is append-only: traces are created once and never updated.
type TraceStore interface {
	// CreateTrace returns models.ErrConflict if the trace id already exists.
	CreateTrace(ctx context.Context, trace *models.TraceRecord) error
	GetTrace(ctx context.Context, traceID string) (*models.TraceRecord, error)
	// ListTraces returns traces newest first.
	ListTraces(ctx context.Context, filter models.TraceFilter) ([]models.TraceRecord, error)
}

// ── Approval Store ──────────────────────────────────────────

// ApprovalStore holds approval requests. Requests are never deleted.
type ApprovalStore interface {
	// CreateApproval returns models.ErrConflict if the action id exists.
	CreateApproval(ctx context.Context, req *models.ApprovalRequest) error
	GetApproval(ctx context.Context, actionID string) (*models.ApprovalRequest, error)
	// DecideApproval atomically moves a pending request to status. It returns
	// ErrNotFound for an unknown id and models.ErrAlreadyDecided when the
	// request is no longer pending.
	DecideApproval(ctx context.Context, actionID string, d Decision) (*models.ApprovalRequest, error)
	// ListApprovals returns requests oldest first.
	ListApprovals(ctx context.Context, filter ApprovalFilter) ([]models.ApprovalRequest, error)
}

// Decision is the terminal state applied by DecideApproval.
type Decision struct {
	Status    models.ApprovalStatus
	DecidedBy string
	Notes     string
	DecidedAt time.Time
}

// ApprovalFilter narrows ListApprovals. Empty fields match everything.
type ApprovalFilter struct {
	LeadKey string
	Status  models.ApprovalStatus
	Limit   int
}

// ErrNotFound is returned when a requested entity does not exist.
// It matches models.ErrNotFound with errors.Is.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

func (e *ErrNotFound) Is(target error) bool {
	return target == models.ErrNotFound
}

// ── Filter helpers ──────────────────────────────────────────

const (
	defaultTraceLimit = 10
	maxTraceLimit     = 100
)

// normalizeTraceFilter applies the default and maximum page size.
func normalizeTraceFilter(f models.TraceFilter) models.TraceFilter {
	if f.Limit <= 0 {
		f.Limit = defaultTraceLimit
	}
	if f.Limit > maxTraceLimit {
		f.Limit = maxTraceLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ── Copy helpers ────────────────────────────────────────────

func cloneTrace(t *models.TraceRecord) *models.TraceRecord {
	c := *t
	c.ActionsTaken = slices.Clone(t.ActionsTaken)
	c.Input.CompanySize = cloneInt(t.Input.CompanySize)
	if t.ScoreResult != nil {
		sr := cloneScore(*t.ScoreResult)
		c.ScoreResult = &sr
	}
	return &c
}

func cloneScore(s models.ScoreResult) models.ScoreResult {
	s.CriteriaScores = maps.Clone(s.CriteriaScores)
	s.MissingFields = slices.Clone(s.MissingFields)
	return s
}

func cloneApproval(r *models.ApprovalRequest) *models.ApprovalRequest {
	c := *r
	c.Context = maps.Clone(r.Context)
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		c.DecidedAt = &t
	}
	return &c
}

func cloneLead(r *models.LeadRow) *models.LeadRow {
	c := *r
	c.CompanySize = cloneInt(r.CompanySize)
	return &c
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
