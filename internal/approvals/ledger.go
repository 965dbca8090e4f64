// Package approvals implements the approval ledger: the single owner of
// human-review requests and their pending → approved | rejected lifecycle.
package approvals

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/metrics"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/pkg/models"
)

const (
	idPrefix      = "approval_"
	idTimeLayout  = "20060102T150405.000000Z"
	leadKeyPrefix = 8
	submitRetries = 3
)

// Ledger records approval requests in an ApprovalStore. It is safe for
// concurrent use; decide races are resolved by the store.
type Ledger struct {
	store    store.ApprovalStore
	notifier Notifier
	seq      atomic.Uint64
	now      func() time.Time
}

// Notifier is told about every successful submit and decide.
// Implementation: internal/notify.Webhook.
type Notifier interface {
	Notify(ctx context.Context, eventType string, req models.ApprovalRequest)
}

// Event types passed to Notifier.
const (
	EventRequested = "approval_requested"
	EventDecided   = "approval_decided"
)

// NewLedger creates a ledger backed by s.
func NewLedger(s store.ApprovalStore) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// SetNotifier registers n. It must be called before the ledger is shared.
func (l *Ledger) SetNotifier(n Notifier) {
	l.notifier = n
}

// Submit records a pending request and returns its action id.
//
// Ids have the form approval_<utc timestamp>_<seq>_<lead key prefix>_<rand>
// and sort lexically in submission order within one process.
func (l *Ledger) Submit(ctx context.Context, actionType, leadKey, reason string, snapshot map[string]any) (string, error) {
	if actionType == "" {
		return "", errors.New("approvals: action type is required")
	}

	var lastErr error
	for attempt := 0; attempt < submitRetries; attempt++ {
		at := l.now()
		req := &models.ApprovalRequest{
			ActionID:    l.newID(at, leadKey),
			ActionType:  actionType,
			LeadKey:     leadKey,
			Reason:      reason,
			Context:     maps.Clone(snapshot),
			RequestedAt: at,
			Status:      models.ApprovalPending,
		}
		err := l.store.CreateApproval(ctx, req)
		if err == nil {
			metrics.ApprovalsTotal.WithLabelValues(string(models.ApprovalPending)).Inc()
			log.Info().
				Str("action_id", req.ActionID).
				Str("action_type", actionType).
				Str("lead_key", leadKey).
				Str("status", string(req.Status)).
				Msg("Approval requested")
			if l.notifier != nil {
				l.notifier.Notify(ctx, EventRequested, *req)
			}
			return req.ActionID, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return "", fmt.Errorf("submit approval: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("submit approval: %w", lastErr)
}

func (l *Ledger) newID(at time.Time, leadKey string) string {
	seq := l.seq.Add(1)
	return fmt.Sprintf("%s%s_%06d_%s_%s",
		idPrefix, at.Format(idTimeLayout), seq, keyPrefix(leadKey), uuid.NewString()[:8])
}

// keyPrefix returns at most leadKeyPrefix runes of the lead key with
// separators removed so the id stays splittable on '_'.
func keyPrefix(leadKey string) string {
	s := strings.ReplaceAll(leadKey, "_", "")
	if utf8.RuneCountInString(s) <= leadKeyPrefix {
		return s
	}
	return string([]rune(s)[:leadKeyPrefix])
}

// Decide applies a reviewer decision. It returns an error matching
// models.ErrNotFound for unknown ids and models.ErrAlreadyDecided when the
// request is no longer pending.
func (l *Ledger) Decide(ctx context.Context, actionID string, d models.ApprovalDecision) (*models.ApprovalRequest, error) {
	status := models.ApprovalRejected
	if d.Approved {
		status = models.ApprovalApproved
	}
	req, err := l.store.DecideApproval(ctx, actionID, store.Decision{
		Status:    status,
		DecidedBy: d.DecidedBy,
		Notes:     d.Notes,
		DecidedAt: l.now(),
	})
	if err != nil {
		log.Warn().Err(err).Str("action_id", actionID).Msg("Approval decision refused")
		return nil, err
	}
	metrics.ApprovalsTotal.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("action_id", actionID).
		Str("status", string(status)).
		Str("decided_by", d.DecidedBy).
		Msg("Approval decided")
	if l.notifier != nil {
		l.notifier.Notify(ctx, EventDecided, *req)
	}
	return req, nil
}

// Get returns a snapshot of the request.
func (l *Ledger) Get(ctx context.Context, actionID string) (*models.ApprovalRequest, error) {
	return l.store.GetApproval(ctx, actionID)
}

// StatusOf returns the current status of the request.
func (l *Ledger) StatusOf(ctx context.Context, actionID string) (models.ApprovalStatus, error) {
	req, err := l.store.GetApproval(ctx, actionID)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}

// ListPending returns pending requests oldest first, optionally for one lead.
func (l *Ledger) ListPending(ctx context.Context, leadKey string) ([]models.ApprovalRequest, error) {
	reqs, err := l.store.ListApprovals(ctx, store.ApprovalFilter{
		LeadKey: leadKey,
		Status:  models.ApprovalPending,
	})
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	if reqs == nil {
		reqs = []models.ApprovalRequest{}
	}
	return reqs, nil
}
