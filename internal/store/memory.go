// In-memory Store implementation, used when PostgreSQL is not configured
// (local dev, tests, the eval runner). An optional data dir enables
// file-based snapshots so data survives restarts.

package store

import (
	"cmp"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Leads     map[string]*models.LeadRow         `json:"leads"`     // key: lead_key
	Tasks     []*models.Task                     `json:"tasks"`     // append-only
	Traces    map[string]*models.TraceRecord     `json:"traces"`    // key: trace_id
	Approvals map[string]*models.ApprovalRequest `json:"approvals"` // key: action_id
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu        sync.RWMutex
	leads     map[string]*models.LeadRow
	tasks     []*models.Task
	traces    map[string]*models.TraceRecord
	approvals map[string]*models.ApprovalRequest

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
	loopWG       sync.WaitGroup
	closeOnce    sync.Once
}

// NewMemoryStore creates an in-memory store. When dataDir is non-empty the
// data is persisted to dataDir/leadgate.json and reloaded on start.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		leads:     make(map[string]*models.LeadRow),
		traces:    make(map[string]*models.TraceRecord),
		approvals: make(map[string]*models.ApprovalRequest),
		saveCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "leadgate.json")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		m.loopWG.Add(1)
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	defer m.loopWG.Done()
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-m.doneCh:
				return // Close flushes
			case <-time.After(500 * time.Millisecond):
			}
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{
		Leads:     m.leads,
		Tasks:     m.tasks,
		Traces:    m.traces,
		Approvals: m.approvals,
	}, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Leads != nil {
		m.leads = snap.Leads
	}
	if snap.Tasks != nil {
		m.tasks = snap.Tasks
	}
	if snap.Traces != nil {
		m.traces = snap.Traces
	}
	if snap.Approvals != nil {
		m.approvals = snap.Approvals
	}

	log.Info().
		Int("leads", len(m.leads)).
		Int("traces", len(m.traces)).
		Int("approvals", len(m.approvals)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		m.loopWG.Wait()
		if m.snapshotPath != "" {
			log.Info().Msg("Flushing final snapshot before shutdown...")
			m.saveSnapshot()
		}
		log.Info().Msg("Memory store closed")
	})
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Lead Store ──────────────────────────────────────────────

func (m *MemoryStore) UpsertLead(_ context.Context, row *models.LeadRow) (bool, error) {
	m.mu.Lock()
	c := cloneLead(row)
	now := time.Now().UTC()
	c.UpdatedAt = now
	existing, ok := m.leads[row.LeadKey]
	if ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	m.leads[row.LeadKey] = c
	m.mu.Unlock()
	m.requestSave()
	return !ok, nil
}

func (m *MemoryStore) GetLead(_ context.Context, leadKey string) (*models.LeadRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.leads[leadKey]
	if !ok {
		return nil, &ErrNotFound{Entity: "lead", Key: leadKey}
	}
	return cloneLead(r), nil
}

// ── Task Store ──────────────────────────────────────────────

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	c := *task
	m.tasks = append(m.tasks, &c)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, leadKey string) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Task
	for _, t := range m.tasks {
		if leadKey == "" || t.LeadKey == leadKey {
			result = append(result, *t)
		}
	}
	return result, nil
}

// ── Trace Store ─────────────────────────────────────────────

func (m *MemoryStore) CreateTrace(_ context.Context, trace *models.TraceRecord) error {
	m.mu.Lock()
	if _, ok := m.traces[trace.TraceID]; ok {
		m.mu.Unlock()
		return models.ErrConflict
	}
	m.traces[trace.TraceID] = cloneTrace(trace)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetTrace(_ context.Context, traceID string) (*models.TraceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.traces[traceID]
	if !ok {
		return nil, &ErrNotFound{Entity: "trace", Key: traceID}
	}
	return cloneTrace(t), nil
}

func (m *MemoryStore) ListTraces(_ context.Context, filter models.TraceFilter) ([]models.TraceRecord, error) {
	filter = normalizeTraceFilter(filter)

	m.mu.RLock()
	matched := make([]*models.TraceRecord, 0, len(m.traces))
	for _, t := range m.traces {
		if filter.LeadKey == "" || t.LeadKey == filter.LeadKey {
			matched = append(matched, t)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.TraceRecord) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.TraceID, a.TraceID)
	})

	if filter.Offset >= len(matched) {
		return []models.TraceRecord{}, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	result := make([]models.TraceRecord, len(matched))
	for i, t := range matched {
		result[i] = *cloneTrace(t)
	}
	return result, nil
}

// ── Approval Store ──────────────────────────────────────────

func (m *MemoryStore) CreateApproval(_ context.Context, req *models.ApprovalRequest) error {
	m.mu.Lock()
	if _, ok := m.approvals[req.ActionID]; ok {
		m.mu.Unlock()
		return models.ErrConflict
	}
	m.approvals[req.ActionID] = cloneApproval(req)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) GetApproval(_ context.Context, actionID string) (*models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.approvals[actionID]
	if !ok {
		return nil, &ErrNotFound{Entity: "approval", Key: actionID}
	}
	return cloneApproval(r), nil
}

// DecideApproval holds the write lock across the check and the update so
// exactly one concurrent decider observes the pending state.
func (m *MemoryStore) DecideApproval(_ context.Context, actionID string, d Decision) (*models.ApprovalRequest, error) {
	m.mu.Lock()
	r, ok := m.approvals[actionID]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "approval", Key: actionID}
	}
	if r.Status != models.ApprovalPending {
		m.mu.Unlock()
		return nil, models.ErrAlreadyDecided
	}
	at := d.DecidedAt
	r.Status = d.Status
	r.DecidedBy = d.DecidedBy
	r.Notes = d.Notes
	r.DecidedAt = &at
	out := cloneApproval(r)
	m.mu.Unlock()
	m.requestSave()
	return out, nil
}

func (m *MemoryStore) ListApprovals(_ context.Context, filter ApprovalFilter) ([]models.ApprovalRequest, error) {
	m.mu.RLock()
	var result []models.ApprovalRequest
	for _, r := range m.approvals {
		if filter.LeadKey != "" && r.LeadKey != filter.LeadKey {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		result = append(result, *cloneApproval(r))
	}
	m.mu.RUnlock()

	slices.SortFunc(result, func(a, b models.ApprovalRequest) int {
		if c := a.RequestedAt.Compare(b.RequestedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ActionID, b.ActionID)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}
