package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadgate/leadgate/internal/config"
)

func newLocalService(t *testing.T) *Service {
	t.Helper()
	b, err := NewLocalBackend(1 << 20)
	require.NoError(t, err)
	s := NewService(b, "local", config.MemoryConfig{TTL: time.Hour})
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetHistoryMiss(t *testing.T) {
	s := newLocalService(t)
	h, err := s.GetHistory(context.Background(), "Acme.com")
	require.NoError(t, err)
	assert.Equal(t, "acme.com", h.Domain)
	assert.Equal(t, 0, h.TotalLeadsCount)
	assert.Nil(t, h.LastContactDate)
}

func TestWriteSummaryAccumulates(t *testing.T) {
	s := newLocalService(t)
	ctx := context.Background()
	fixed := time.Date(2025, 10, 15, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.WriteSummary(ctx, "acme.com", "nurture", "first contact"))
	require.NoError(t, s.WriteSummary(ctx, "ACME.com", "qualified", ""))

	h, err := s.GetHistory(ctx, "acme.com")
	require.NoError(t, err)
	assert.Equal(t, 2, h.TotalLeadsCount)
	assert.Equal(t, "qualified", h.LastOutcome)
	assert.Equal(t, "first contact", h.NotesSummary, "empty notes keep the previous summary")
	require.NotNil(t, h.LastContactDate)
	assert.True(t, h.LastContactDate.Equal(fixed))
}

func TestWriteSummaryTruncatesNotes(t *testing.T) {
	s := newLocalService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteSummary(ctx, "big.io", "reject", strings.Repeat("n", 5000)))
	h, err := s.GetHistory(ctx, "big.io")
	require.NoError(t, err)
	assert.Len(t, h.NotesSummary, maxNotesLen)
}

func TestWriteSummaryTruncatesOnRuneBoundary(t *testing.T) {
	s := newLocalService(t)
	ctx := context.Background()
	notes := strings.Repeat("n", maxNotesLen-1) + strings.Repeat("é", 10)
	require.NoError(t, s.WriteSummary(ctx, "utf8.io", "nurture", notes))
	h, err := s.GetHistory(ctx, "utf8.io")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(h.NotesSummary))
	assert.Equal(t, strings.Repeat("n", maxNotesLen-1), h.NotesSummary)
}

func TestWriteSummaryEmptyDomain(t *testing.T) {
	s := newLocalService(t)
	assert.Error(t, s.WriteSummary(context.Background(), "  ", "nurture", ""))
}

func TestDeleteAndStats(t *testing.T) {
	s := newLocalService(t)
	ctx := context.Background()
	require.NoError(t, s.WriteSummary(ctx, "a.com", "nurture", ""))
	require.NoError(t, s.WriteSummary(ctx, "b.com", "nurture", ""))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Backend: "local", Companies: 2}, st)

	require.NoError(t, s.Delete(ctx, "a.com"))
	h, err := s.GetHistory(ctx, "a.com")
	require.NoError(t, err)
	assert.Equal(t, 0, h.TotalLeadsCount)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Companies)
}

// stubBackend lets tests inject latency and failures.
type stubBackend struct {
	mu    sync.Mutex
	data  map[string][]byte
	delay time.Duration
	err   error
	gets  atomic.Int32
}

func newStub() *stubBackend { return &stubBackend{data: map[string][]byte{}} }

func (b *stubBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b.gets.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if b.err != nil {
		return nil, false, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	return v, ok, nil
}

func (b *stubBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	b.data[key] = value
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.data, key)
	b.mu.Unlock()
	return nil
}

func (b *stubBackend) Count(_ context.Context, _ string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data), nil
}

func (b *stubBackend) Close() error { return nil }

func TestGetHistoryHonoursCallerDeadline(t *testing.T) {
	stub := newStub()
	stub.delay = 200 * time.Millisecond
	s := NewService(stub, "stub", config.MemoryConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	h, err := s.GetHistory(ctx, "slow.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.TotalLeadsCount)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestGetHistoryBackendError(t *testing.T) {
	stub := newStub()
	stub.err = errors.New("connection refused")
	s := NewService(stub, "stub", config.MemoryConfig{})

	h, err := s.GetHistory(context.Background(), "down.com")
	assert.Error(t, err)
	assert.Equal(t, "down.com", h.Domain)
}

func TestGetHistoryCorruptEntry(t *testing.T) {
	stub := newStub()
	stub.data["company:bad.com"] = []byte("{not json")
	s := NewService(stub, "stub", config.MemoryConfig{})

	_, err := s.GetHistory(context.Background(), "bad.com")
	assert.Error(t, err)

	require.NoError(t, s.WriteSummary(context.Background(), "bad.com", "nurture", ""))
	h, err := s.GetHistory(context.Background(), "bad.com")
	require.NoError(t, err)
	assert.Equal(t, 1, h.TotalLeadsCount)
}

func TestGetHistoryCoalescesConcurrentLookups(t *testing.T) {
	stub := newStub()
	stub.delay = 50 * time.Millisecond
	s := NewService(stub, "stub", config.MemoryConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetHistory(context.Background(), "shared.com")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, stub.gets.Load(), int32(10))
}

func TestCustomKeyPrefix(t *testing.T) {
	stub := newStub()
	s := NewService(stub, "stub", config.MemoryConfig{KeyPrefix: "lg:co:"})
	require.NoError(t, s.WriteSummary(context.Background(), "x.io", "nurture", ""))
	_, ok := stub.data["lg:co:x.io"]
	assert.True(t, ok)
}
