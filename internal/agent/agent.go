// Package agent implements the lead-qualification loop.
//
// Each run walks a fixed sequence of phases:
//
//	observe → decide → gate → act → stop
//
// observe reads company history (best-effort), decide scores the lead,
// gate asks the guardrails whether the tier's intended action and each act
// tool may run, act performs the side effects, and stop writes one trace.
// A gated run performs no side effects; it files an approval request.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leadgate/leadgate/internal/metrics"
	"github.com/leadgate/leadgate/internal/scoring"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/internal/telemetry"
	"github.com/leadgate/leadgate/internal/tools"
	"github.com/leadgate/leadgate/pkg/contracts"
	"github.com/leadgate/leadgate/pkg/models"
)

// DefaultMemoryTimeout bounds the observe-phase history lookup.
const DefaultMemoryTimeout = 500 * time.Millisecond

// Intended actions per tier, evaluated by the guardrails before act.
const (
	ActionRejectDecision  = "reject_decision"
	ActionScheduleMeeting = "schedule_meeting"
	ActionSendNurture     = "send_nurture"
	ActionRequestInfo     = "request_info"
)

// actTools lists the act-phase tools in execution order.
var actTools = []string{tools.UpsertLeadRow, tools.CreateFollowupTask}

// IntendedAction returns the action a tier leads to.
func IntendedAction(tier models.Tier) string {
	switch tier {
	case models.TierReject:
		return ActionRejectDecision
	case models.TierQualified:
		return ActionScheduleMeeting
	case models.TierNeedsInfo:
		return ActionRequestInfo
	default:
		return ActionSendNurture
	}
}

// Deps are the collaborators of the loop. Memory may be nil.
type Deps struct {
	Scorer     contracts.Scorer
	Guardrails contracts.GuardrailService
	Ledger     contracts.ApprovalLedger
	Memory     contracts.MemoryService
	Tools      contracts.Toolset
	Traces     store.TraceStore
}

// Options tune the loop.
type Options struct {
	MemoryTimeout time.Duration
}

// Agent runs the qualification loop. It holds no per-run state and is safe
// for concurrent use.
type Agent struct {
	deps          Deps
	memoryTimeout time.Duration
	tracer        trace.Tracer
	now           func() time.Time
}

// New creates an Agent.
func New(deps Deps, opts Options) *Agent {
	if opts.MemoryTimeout <= 0 {
		opts.MemoryTimeout = DefaultMemoryTimeout
	}
	return &Agent{
		deps:          deps,
		memoryTimeout: opts.MemoryTimeout,
		tracer:        otel.Tracer(telemetry.AgentTracer),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// run carries the state of one loop execution.
type run struct {
	result models.AgentResult
	record models.TraceRecord
	lead   models.Lead
	domain string
}

// Run qualifies one lead. It always returns a well-formed result; failures
// are reported in AgentResult.Error and on the trace.
func (a *Agent) Run(ctx context.Context, lead models.Lead) models.AgentResult {
	started := a.now()
	traceID := uuid.NewString()

	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(telemetry.RunAttributes(traceID, a.deps.Scorer.Name())...))
	defer span.End()

	r := &run{
		lead:   lead,
		domain: lead.Domain(),
		result: models.AgentResult{
			TraceID:      traceID,
			ActionsTaken: []string{},
		},
		record: models.TraceRecord{
			TraceID:   traceID,
			StartedAt: started,
			Input:     lead,
			Scorer:    a.deps.Scorer.Name(),
		},
	}
	r.result.LeadKey = a.leadKey(lead, traceID, started)
	r.record.LeadKey = r.result.LeadKey

	history := a.observe(ctx, r)
	a.decide(ctx, r, history)

	if err := ctx.Err(); err != nil {
		r.fail(fmt.Errorf("run cancelled before act: %w", err))
	} else if !a.gate(ctx, r) {
		a.act(ctx, r)
	}

	a.stop(ctx, r, started)

	if r.result.Error != "" {
		span.SetStatus(codes.Error, r.result.Error)
	}
	span.SetAttributes(
		telemetry.LeadKeyKey.String(r.result.LeadKey),
		telemetry.TierKey.String(string(r.result.ScoreResult.Tier)),
		telemetry.ApprovalRequiredKey.Bool(r.result.ApprovalRequired),
	)
	return r.result
}

// leadKey falls back to a per-run key when the lead has no email, so
// anonymous leads never collapse onto one record.
func (a *Agent) leadKey(lead models.Lead, traceID string, at time.Time) string {
	if lead.Email == "" {
		return LeadKey("anonymous-"+traceID[:8], at)
	}
	return LeadKey(lead.Email, at)
}

func (r *run) fail(err error) {
	r.result.Error = err.Error()
	r.record.Error = r.result.Error
}

// observe reads company history. Misses, errors and timeouts yield nil.
func (a *Agent) observe(ctx context.Context, r *run) *models.CompanyHistory {
	if a.deps.Memory == nil || r.domain == "" {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "agent.observe")
	defer span.End()

	start := time.Now()
	mctx, cancel := context.WithTimeout(ctx, a.memoryTimeout)
	defer cancel()

	h, err := a.deps.Memory.GetHistory(mctx, r.domain)
	event := log.Debug().Str("trace_id", r.result.TraceID).Str("lead_key", r.result.LeadKey).
		Str("phase", "observe").Str("domain", r.domain).Dur("duration", time.Since(start))
	if err != nil {
		span.RecordError(err)
		msg := "Company memory unavailable, continuing without history"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Company memory lookup timed out, continuing without history"
		}
		event.Err(err).Msg(msg)
		return nil
	}
	event.Int("total_leads", h.TotalLeadsCount).Msg("Observed company history")
	if h.TotalLeadsCount == 0 && h.LastOutcome == "" {
		return nil
	}
	return &h
}

func (a *Agent) decide(ctx context.Context, r *run, history *models.CompanyHistory) {
	ctx, span := a.tracer.Start(ctx, "agent.decide")
	defer span.End()

	start := time.Now()
	res := a.deps.Scorer.Score(scoring.WithHistory(ctx, history), r.lead)
	r.result.ScoreResult = res
	r.record.ScoreResult = &res

	span.SetAttributes(
		telemetry.ScoreKey.Int(res.Score),
		telemetry.TierKey.String(string(res.Tier)),
		telemetry.SegmentKey.String(string(res.Segment)),
	)
	log.Info().
		Str("trace_id", r.result.TraceID).
		Str("lead_key", r.result.LeadKey).
		Str("phase", "decide").
		Str("scorer", a.deps.Scorer.Name()).
		Int("score", res.Score).
		Str("tier", string(res.Tier)).
		Str("segment", string(res.Segment)).
		Str("confidence", string(res.Confidence)).
		Dur("duration", time.Since(start)).
		Msg("Lead scored")
}

// gate reports whether the run must stop for human approval. The tier's
// intended action is checked first, then every act tool in order.
func (a *Agent) gate(ctx context.Context, r *run) bool {
	ctx, span := a.tracer.Start(ctx, "agent.gate")
	defer span.End()

	res := r.result.ScoreResult
	snapshot := map[string]any{
		"tier":     string(res.Tier),
		"segment":  string(res.Segment),
		"score":    res.Score,
		"lead_key": r.result.LeadKey,
	}

	candidates := append([]string{IntendedAction(res.Tier)}, actTools...)
	var check models.ApprovalCheck
	for _, action := range candidates {
		check = a.deps.Guardrails.Evaluate(action, snapshot)
		if check.Required {
			if check.ActionType == "" {
				check.ActionType = action
			}
			break
		}
	}

	logger := log.Info().Str("trace_id", r.result.TraceID).Str("lead_key", r.result.LeadKey).Str("phase", "gate").
		Str("tier", string(res.Tier)).Str("segment", string(res.Segment))
	if !check.Required {
		logger.Bool("approval_required", false).Msg("Guardrails passed")
		return false
	}

	r.result.ApprovalRequired = true
	r.result.ApprovalReason = check.Reason
	r.record.ApprovalRequired = true
	r.record.ApprovalReason = check.Reason
	span.SetAttributes(telemetry.ApprovalActionKey.String(check.ActionType))

	if a.deps.Ledger != nil {
		id, err := a.deps.Ledger.Submit(context.WithoutCancel(ctx), check.ActionType, r.result.LeadKey, check.Reason, snapshot)
		if err != nil {
			span.RecordError(err)
			log.Error().Err(err).Str("trace_id", r.result.TraceID).Msg("Failed to file approval request")
			r.fail(fmt.Errorf("approval request not filed: %w", err))
		} else {
			r.result.ApprovalID = id
			r.record.ApprovalID = id
		}
	}

	logger.Bool("approval_required", true).
		Str("action_type", check.ActionType).
		Str("action_id", r.result.ApprovalID).
		Str("reason", check.Reason).
		Msg("Approval required, skipping act")
	return true
}

// act runs the tools in order. A tool failure stops the phase; tools that
// already succeeded stay in actions_taken.
func (a *Agent) act(ctx context.Context, r *run) {
	ctx, span := a.tracer.Start(ctx, "agent.act")
	defer span.End()

	start := time.Now()
	lead, res, key := r.lead, r.result.ScoreResult, r.result.LeadKey

	steps := []struct {
		name string
		call func() error
	}{
		{tools.UpsertLeadRow, func() error {
			_, err := a.deps.Tools.UpsertLeadRow(ctx, key, lead, res)
			return err
		}},
		{tools.CreateFollowupTask, func() error {
			_, err := a.deps.Tools.CreateFollowupTask(ctx, key, lead, res)
			return err
		}},
	}

	for _, step := range steps {
		if err := step.call(); err != nil {
			var te *models.ToolError
			if !errors.As(err, &te) {
				err = &models.ToolError{Tool: step.name, Err: err}
			}
			span.RecordError(err)
			log.Error().Err(err).Str("trace_id", r.result.TraceID).Str("lead_key", key).
				Str("phase", "act").Strs("actions_taken", r.result.ActionsTaken).Msg("Tool failed, stopping run")
			r.fail(err)
			return
		}
		r.result.ActionsTaken = append(r.result.ActionsTaken, step.name)
	}

	log.Info().Str("trace_id", r.result.TraceID).Str("lead_key", key).Str("phase", "act").
		Strs("actions_taken", r.result.ActionsTaken).Dur("duration", time.Since(start)).Msg("Actions completed")

	a.remember(ctx, r)
}

// remember writes the outcome back to company memory. Failures are logged.
func (a *Agent) remember(ctx context.Context, r *run) {
	if a.deps.Memory == nil || r.domain == "" {
		return
	}
	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.memoryTimeout)
	defer cancel()
	res := r.result.ScoreResult
	if err := a.deps.Memory.WriteSummary(mctx, r.domain, string(res.Tier), res.Reasoning); err != nil {
		log.Warn().Err(err).Str("trace_id", r.result.TraceID).Str("domain", r.domain).Msg("Company memory write-back failed")
	}
}

// stop finalizes the trace. The trace is written even if ctx was cancelled.
func (a *Agent) stop(ctx context.Context, r *run, started time.Time) {
	ctx, span := a.tracer.Start(context.WithoutCancel(ctx), "agent.stop")
	defer span.End()

	completed := a.now()
	duration := completed.Sub(started)
	r.record.CompletedAt = completed
	r.record.DurationMs = duration.Milliseconds()
	r.record.ActionsTaken = append([]string{}, r.result.ActionsTaken...)

	if a.deps.Traces != nil {
		if err := a.deps.Traces.CreateTrace(ctx, &r.record); err != nil {
			span.RecordError(err)
			log.Error().Err(err).Str("trace_id", r.result.TraceID).Msg("Failed to write trace")
		}
	}

	outcome := "completed"
	switch {
	case r.result.Error != "":
		outcome = "failed"
	case r.result.ApprovalRequired:
		outcome = "gated"
	}
	res := r.result.ScoreResult
	metrics.RunsTotal.WithLabelValues(string(res.Tier), string(res.Segment), outcome).Inc()
	metrics.RunDuration.Observe(duration.Seconds())

	log.Info().
		Str("trace_id", r.result.TraceID).
		Str("lead_key", r.result.LeadKey).
		Str("phase", "stop").
		Str("outcome", outcome).
		Int64("duration_ms", r.record.DurationMs).
		Msg("Agent run finished")
}
