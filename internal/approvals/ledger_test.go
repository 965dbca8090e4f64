package approvals

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/pkg/models"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return NewLedger(s)
}

func TestSubmitThenDecide(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Submit(ctx, "reject_decision", "lead@x.com_202542", "reject_decision requires human approval",
		map[string]any{"tier": "reject", "segment": "smb"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "approval_"))

	status, err := l.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, status)

	req, err := l.Decide(ctx, id, models.ApprovalDecision{Approved: true, DecidedBy: "ops", Notes: "ok"})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, req.Status)
	assert.Equal(t, "ops", req.DecidedBy)
	require.NotNil(t, req.DecidedAt)

	status, err = l.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, status)

	_, err = l.Decide(ctx, id, models.ApprovalDecision{Approved: false})
	assert.ErrorIs(t, err, models.ErrAlreadyDecided)

	status, _ = l.StatusOf(ctx, id)
	assert.Equal(t, models.ApprovalApproved, status, "second decision must not change status")
}

func TestDecideRejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.Submit(ctx, "mark_spam", "k_202501", "mark_spam requires human approval", nil)
	require.NoError(t, err)
	req, err := l.Decide(ctx, id, models.ApprovalDecision{Approved: false})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, req.Status)
}

func TestUnknownID(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Decide(ctx, "approval_missing", models.ApprovalDecision{Approved: true})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = l.StatusOf(ctx, "approval_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = l.Get(ctx, "approval_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSubmitRequiresActionType(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Submit(context.Background(), "", "k", "r", nil)
	assert.Error(t, err)
}

func TestConcurrentSubmitSameLead(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	fixed := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	const n = 64
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := l.Submit(ctx, "schedule_meeting", "cto@acme.com_202542", "Enterprise actions require approval", nil)
			if err != nil {
				t.Errorf("Submit() error = %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	pending, err := l.ListPending(ctx, "cto@acme.com_202542")
	require.NoError(t, err)
	assert.Len(t, pending, n)
}

func TestIDsSortBySubmission(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Date(2025, 10, 15, 12, 0, 0, 0, time.UTC)
	calls := 0
	l.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Millisecond)
	}

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := l.Submit(ctx, "send_email", "a@b.com_202542", "send_email requires human approval", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.True(t, sort.StringsAreSorted(ids), "ids not sortable: %v", ids)
	assert.Contains(t, ids[0], "_a@b.com2_")
}

func TestListPendingFiltersDecided(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	a, err := l.Submit(ctx, "reject_decision", "a_202501", "r", nil)
	require.NoError(t, err)
	b, err := l.Submit(ctx, "reject_decision", "b_202501", "r", nil)
	require.NoError(t, err)
	_, err = l.Decide(ctx, a, models.ApprovalDecision{Approved: true})
	require.NoError(t, err)

	all, err := l.ListPending(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, b, all[0].ActionID)

	none, err := l.ListPending(ctx, "a_202501")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

type failingStore struct {
	store.ApprovalStore
	conflicts int
	calls     int
}

func (f *failingStore) CreateApproval(ctx context.Context, req *models.ApprovalRequest) error {
	f.calls++
	if f.calls <= f.conflicts {
		return models.ErrConflict
	}
	return f.ApprovalStore.CreateApproval(ctx, req)
}

func TestSubmitRetriesOnConflict(t *testing.T) {
	mem := store.NewMemoryStore("")
	t.Cleanup(func() { mem.Close() })

	fs := &failingStore{ApprovalStore: mem, conflicts: 2}
	l := NewLedger(fs)
	id, err := l.Submit(context.Background(), "mark_spam", "k", "r", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, fs.calls)
	assert.NotEmpty(t, id)

	fs = &failingStore{ApprovalStore: mem, conflicts: submitRetries}
	l = NewLedger(fs)
	_, err = l.Submit(context.Background(), "mark_spam", "k", "r", nil)
	assert.True(t, errors.Is(err, models.ErrConflict))
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	ids    []string
}

func (n *recordingNotifier) Notify(_ context.Context, eventType string, req models.ApprovalRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, eventType+":"+string(req.Status))
	n.ids = append(n.ids, req.ActionID)
}

func TestNotifierSeesTransitions(t *testing.T) {
	l := newTestLedger(t)
	n := &recordingNotifier{}
	l.SetNotifier(n)
	ctx := context.Background()

	id, err := l.Submit(ctx, "send_email", "k_202501", "send_email requires human approval", nil)
	require.NoError(t, err)
	_, err = l.Decide(ctx, id, models.ApprovalDecision{Approved: false, DecidedBy: "ops"})
	require.NoError(t, err)

	// A refused decision is not an event.
	_, err = l.Decide(ctx, id, models.ApprovalDecision{Approved: true})
	require.Error(t, err)

	assert.Equal(t, []string{"approval_requested:pending", "approval_decided:rejected"}, n.events)
	assert.Equal(t, []string{id, id}, n.ids)
}
