// Package tools implements the act-phase side effects of the agent loop:
// persisting the lead row, creating the follow-up task and drafting
// outbound email. Each invocation is bounded by a timeout and fails with
// a *models.ToolError.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/pkg/models"
)

// Tool names, as recorded in actions_taken and checked by the guardrails.
const (
	UpsertLeadRow      = "upsert_lead_row"
	CreateFollowupTask = "create_followup_task"
	DraftEmail         = "draft_email"
)

// DefaultTimeout bounds one tool invocation when none is configured.
const DefaultTimeout = 5 * time.Second

// Toolbox runs tools against the lead and task stores.
type Toolbox struct {
	leads   store.LeadStore
	tasks   store.TaskStore
	timeout time.Duration
	now     func() time.Time
}

// New creates a Toolbox. A non-positive timeout uses DefaultTimeout.
func New(leads store.LeadStore, tasks store.TaskStore, timeout time.Duration) *Toolbox {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Toolbox{
		leads:   leads,
		tasks:   tasks,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpsertResult reports the outcome of UpsertLeadRow.
type UpsertResult struct {
	LeadKey string `json:"lead_key"`
	Created bool   `json:"created"`
}

// TaskResult reports the outcome of CreateFollowupTask.
type TaskResult struct {
	TaskID   string          `json:"task_id"`
	Type     string          `json:"task_type"`
	DueDate  time.Time       `json:"due_date"`
	Priority models.Priority `json:"priority"`
}

// invoke runs fn under the tool timeout and wraps any failure.
func (t *Toolbox) invoke(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	start := time.Now()
	err := fn(tctx)
	if err == nil && tctx.Err() != nil {
		err = tctx.Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Dur("elapsed", time.Since(start)).Msg("Tool failed")
		return &models.ToolError{Tool: name, Err: err}
	}
	log.Debug().Str("tool", name).Dur("elapsed", time.Since(start)).Msg("Tool succeeded")
	return nil
}

// UpsertLeadRow writes the lead row for leadKey. Repeated calls with the same
// key update the row rather than duplicating it.
func (t *Toolbox) UpsertLeadRow(ctx context.Context, leadKey string, lead models.Lead, res models.ScoreResult) (UpsertResult, error) {
	row := &models.LeadRow{
		LeadKey:     leadKey,
		Email:       lead.Email,
		Company:     lead.Company,
		Score:       res.Score,
		Tier:        res.Tier,
		Segment:     res.Segment,
		Need:        lead.Need,
		Timeline:    lead.Timeline,
		Budget:      lead.Budget,
		Title:       lead.Title,
		CompanySize: lead.CompanySize,
		Industry:    lead.Industry,
		Status:      "new",
		Notes:       res.Reasoning,
	}

	var created bool
	err := t.invoke(ctx, UpsertLeadRow, func(ctx context.Context) error {
		var err error
		created, err = t.leads.UpsertLead(ctx, row)
		return err
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return UpsertResult{LeadKey: leadKey, Created: created}, nil
}

// CreateFollowupTask creates the task prescribed by PlanFor.
func (t *Toolbox) CreateFollowupTask(ctx context.Context, leadKey string, lead models.Lead, res models.ScoreResult) (TaskResult, error) {
	plan := PlanFor(res.Tier, res.Segment)
	now := t.now()
	task := &models.Task{
		TaskID:    "task_" + uuid.NewString(),
		LeadKey:   leadKey,
		Email:     lead.Email,
		Type:      plan.Type,
		Title:     plan.Title,
		Priority:  plan.Priority,
		DueDate:   now.Add(plan.DueOffset),
		Status:    "pending",
		CreatedAt: now,
	}

	err := t.invoke(ctx, CreateFollowupTask, func(ctx context.Context) error {
		return t.tasks.CreateTask(ctx, task)
	})
	if err != nil {
		return TaskResult{}, err
	}
	return TaskResult{TaskID: task.TaskID, Type: task.Type, DueDate: task.DueDate, Priority: task.Priority}, nil
}

// DraftEmail prepares an unsent email for human review. An empty
// templateType is derived from the tier.
func (t *Toolbox) DraftEmail(lead models.Lead, res models.ScoreResult, templateType string) models.EmailDraft {
	if templateType == "" {
		templateType = TemplateFor(res.Tier)
	}
	subject, body := renderEmail(lead, res, templateType)
	now := t.now()
	return models.EmailDraft{
		DraftID:      fmt.Sprintf("draft_%s_%s", now.Format("20060102150405"), uuid.NewString()[:8]),
		To:           lead.Email,
		Subject:      subject,
		Body:         body,
		TemplateType: templateType,
		CreatedAt:    now,
	}
}
