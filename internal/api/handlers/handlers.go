// Package handlers implements the HTTP handlers of the leadgate API. The
// handlers are a thin adapter: they decode, sanitize and validate input,
// call the decision core, and map typed errors onto status codes.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/guardrails"
	"github.com/leadgate/leadgate/internal/memory"
	"github.com/leadgate/leadgate/internal/router"
	"github.com/leadgate/leadgate/internal/scoring"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/internal/tools"
	"github.com/leadgate/leadgate/pkg/contracts"
	pkgmw "github.com/leadgate/leadgate/pkg/middleware"
	"github.com/leadgate/leadgate/pkg/models"
)

const maxBodyBytes = 64 << 10

// Handlers holds all handler dependencies. Memory, Router and Tools may be nil.
type Handlers struct {
	Agent  contracts.LeadQualifier
	Store  store.Store
	Ledger contracts.ApprovalLedger
	Memory *memory.Service
	Router *router.ModelRouter
	Tools  *tools.Toolbox
	Scorer string
}

// ══════════════════════════════════════════════════════════════
// ── Lead Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// SubmitLead sanitizes and validates a lead, runs the agent loop and returns
// the AgentResult. Validation failures never reach the loop.
func (h *Handlers) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var lead models.Lead
	if err := decodeBody(w, r, &lead); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	lead = guardrails.SanitizeLead(lead)
	if err := guardrails.ValidateLead(lead); err != nil {
		respondErr(w, err)
		return
	}

	result := h.Agent.Run(r.Context(), lead)
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	row, err := h.Store.GetLead(r.Context(), chi.URLParam(r, "leadKey"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, row)
}

func (h *Handlers) ListLeadTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Store.ListTasks(r.Context(), chi.URLParam(r, "leadKey"))
	if err != nil {
		respondErr(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	respondJSON(w, http.StatusOK, tasks)
}

// DraftEmail renders an unsent email for a stored lead. The template is
// derived from the stored tier unless template_type overrides it. Nothing is
// sent; delivery stays behind the send_email approval gate.
func (h *Handlers) DraftEmail(w http.ResponseWriter, r *http.Request) {
	if h.Tools == nil {
		respondError(w, http.StatusServiceUnavailable, "tools not configured")
		return
	}

	var body struct {
		TemplateType string `json:"template_type,omitempty"`
	}
	if err := decodeBody(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	switch body.TemplateType {
	case "", tools.TemplateNurture, tools.TemplateQualified, tools.TemplateNeedsInfo:
	default:
		respondError(w, http.StatusBadRequest, "unknown template_type")
		return
	}

	row, err := h.Store.GetLead(r.Context(), chi.URLParam(r, "leadKey"))
	if err != nil {
		respondErr(w, err)
		return
	}
	lead := models.Lead{
		Email:       row.Email,
		Company:     row.Company,
		Need:        row.Need,
		Timeline:    row.Timeline,
		Budget:      row.Budget,
		Title:       row.Title,
		CompanySize: row.CompanySize,
		Industry:    row.Industry,
	}
	res := models.ScoreResult{
		Score:         row.Score,
		Tier:          row.Tier,
		Segment:       row.Segment,
		MissingFields: scoring.MissingFields(lead),
	}
	respondJSON(w, http.StatusOK, h.Tools.DraftEmail(lead, res, body.TemplateType))
}

// ══════════════════════════════════════════════════════════════
// ── Approval Handlers ────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// ListApprovals returns pending requests, optionally for one lead_key.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Ledger.ListPending(r.Context(), r.URL.Query().Get("lead_key"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pending)
}

func (h *Handlers) GetApproval(w http.ResponseWriter, r *http.Request) {
	req, err := h.Ledger.Get(r.Context(), chi.URLParam(r, "actionId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// DecideApproval applies a reviewer decision: 200 on success, 404 for an
// unknown id, 409 when the request was already decided.
func (h *Handlers) DecideApproval(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "actionId")

	var body struct {
		Approved  *bool  `json:"approved"`
		DecidedBy string `json:"decided_by,omitempty"`
		Notes     string `json:"notes,omitempty"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.Approved == nil {
		respondError(w, http.StatusBadRequest, "approved is required")
		return
	}

	decidedBy := guardrails.SanitizeText(body.DecidedBy)
	if decidedBy == "" {
		if id := pkgmw.GetIdentity(r.Context()); id != nil {
			decidedBy = id.Subject
		}
	}

	req, err := h.Ledger.Decide(r.Context(), actionID, models.ApprovalDecision{
		Approved:  *body.Approved,
		DecidedBy: decidedBy,
		Notes:     guardrails.SanitizeText(body.Notes),
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, req)
}

// ══════════════════════════════════════════════════════════════
// ── Trace Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) ListTraces(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.TraceFilter{LeadKey: q.Get("lead_key")}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		respondError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		respondError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	traces, err := h.Store.ListTraces(r.Context(), filter)
	if err != nil {
		respondErr(w, err)
		return
	}
	if traces == nil {
		traces = []models.TraceRecord{}
	}
	respondJSON(w, http.StatusOK, traces)
}

func (h *Handlers) GetTrace(w http.ResponseWriter, r *http.Request) {
	tr, err := h.Store.GetTrace(r.Context(), chi.URLParam(r, "traceId"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tr)
}

// ══════════════════════════════════════════════════════════════
// ── Company Memory Handlers ──────────────────────────────────
// ══════════════════════════════════════════════════════════════

func (h *Handlers) GetMemory(w http.ResponseWriter, r *http.Request) {
	if h.Memory == nil {
		respondError(w, http.StatusServiceUnavailable, "company memory not configured")
		return
	}
	hist, err := h.Memory.GetHistory(r.Context(), chi.URLParam(r, "domain"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, hist)
}

// DeleteMemory erases everything stored for a domain.
func (h *Handlers) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	if h.Memory == nil {
		respondError(w, http.StatusServiceUnavailable, "company memory not configured")
		return
	}
	domain := chi.URLParam(r, "domain")
	if err := h.Memory.Delete(r.Context(), domain); err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	log.Info().Str("domain", domain).Msg("Company memory erased")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) MemoryStats(w http.ResponseWriter, r *http.Request) {
	if h.Memory == nil {
		respondError(w, http.StatusServiceUnavailable, "company memory not configured")
		return
	}
	st, err := h.Memory.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// ScoringInfo reports the active scorer and, for the LLM scorer, the
// provider call statistics.
func (h *Handlers) ScoringInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{"scorer": h.Scorer}
	if h.Router != nil && h.Router.Enabled() {
		info["provider"] = h.Router.Provider()
		info["stats"] = h.Router.Stats()
	}
	respondJSON(w, http.StatusOK, info)
}

// ── Helpers ──────────────────────────────────────────────────

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps typed errors onto status codes.
func respondErr(w http.ResponseWriter, err error) {
	var verrs models.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "invalid lead",
			"details": verrs,
		})
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrAlreadyDecided):
		respondError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
