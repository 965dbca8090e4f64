// Package notify tells reviewers about approval ledger events through an
// HMAC-signed HTTP webhook.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/approvals"
	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/pkg/models"
)

// ── Event types ─────────────────────────────────────────────

const (
	EventApprovalRequested = approvals.EventRequested
	EventApprovalDecided   = approvals.EventDecided
)

const (
	maxAttempts     = 3
	signatureHeader = "X-Leadgate-Signature"
	eventHeader     = "X-Leadgate-Event"
)

// Event is the webhook payload.
type Event struct {
	Type       string                `json:"type"`
	ActionID   string                `json:"action_id"`
	ActionType string                `json:"action_type"`
	LeadKey    string                `json:"lead_key"`
	Status     models.ApprovalStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	DecidedBy  string                `json:"decided_by,omitempty"`
	Timestamp  time.Time             `json:"timestamp"`
}

// NewEvent builds the payload for a ledger transition.
func NewEvent(eventType string, req models.ApprovalRequest) Event {
	return Event{
		Type:       eventType,
		ActionID:   req.ActionID,
		ActionType: req.ActionType,
		LeadKey:    req.LeadKey,
		Status:     req.Status,
		Reason:     req.Reason,
		DecidedBy:  req.DecidedBy,
		Timestamp:  time.Now().UTC(),
	}
}

// ── Webhook ─────────────────────────────────────────────────

var _ approvals.Notifier = (*Webhook)(nil)

// Webhook posts events as JSON to a single URL. When a secret is set the
// body is signed with HMAC-SHA256 in the X-Leadgate-Signature header.
type Webhook struct {
	url     string
	secret  string
	client  *http.Client
	backoff time.Duration
	wg      sync.WaitGroup
}

// NewWebhook creates a webhook sender for cfg.WebhookURL.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:     cfg.WebhookURL,
		secret:  cfg.WebhookSecret,
		client:  &http.Client{Timeout: timeout},
		backoff: 2 * time.Second,
	}
}

// Notify sends the event in the background so ledger calls never wait on
// the receiver. Failures are logged.
func (w *Webhook) Notify(ctx context.Context, eventType string, req models.ApprovalRequest) {
	ev := NewEvent(eventType, req)
	ctx = context.WithoutCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.Send(ctx, ev); err != nil {
			log.Warn().Err(err).Str("event", ev.Type).Str("action_id", ev.ActionID).Msg("Approval webhook failed")
			return
		}
		log.Debug().Str("event", ev.Type).Str("action_id", ev.ActionID).Msg("Approval webhook delivered")
	}()
}

// Send posts ev with up to three attempts and linear backoff.
func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.backoff):
			}
		}
		if lastErr = w.post(ctx, ev.Type, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

func (w *Webhook) post(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "leadgate-webhook/1.0")
	req.Header.Set(eventHeader, eventType)
	if w.secret != "" {
		req.Header.Set(signatureHeader, "sha256="+Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, w.url)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Close waits for in-flight deliveries.
func (w *Webhook) Close() {
	w.wg.Wait()
}
