//go:build integration

package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/internal/store"
	"github.com/leadgate/leadgate/pkg/models"
)

// setupPostgres starts a PostgreSQL container, connects and migrates.
func setupPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "leadgate_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/leadgate_test?sslmode=disable", host, port.Port())

	var s *store.PostgresStore
	for i := 0; i < 30; i++ {
		s, err = store.NewPostgresStore(ctx, config.DatabaseConfig{URL: dsn, MaxConnections: 8})
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func TestPostgres_LeadUpsert(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	row := &models.LeadRow{LeadKey: "cto@acme.com_202542", Email: "cto@acme.com", Company: "Acme",
		Score: 71, Tier: models.TierQualified, Segment: models.SegmentSMB, CompanySize: models.IntPtr(50)}
	created, err := s.UpsertLead(ctx, row)
	if err != nil || !created {
		t.Fatalf("UpsertLead() = %v, %v; want created", created, err)
	}
	row.Score = 80
	created, err = s.UpsertLead(ctx, row)
	if err != nil || created {
		t.Fatalf("UpsertLead() second = %v, %v; want updated", created, err)
	}

	got, err := s.GetLead(ctx, row.LeadKey)
	if err != nil {
		t.Fatalf("GetLead() error = %v", err)
	}
	if got.Score != 80 || got.CompanySize == nil || *got.CompanySize != 50 {
		t.Errorf("GetLead() = %+v", got)
	}
	if _, err := s.GetLead(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetLead(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostgres_Traces(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i := 0; i < 3; i++ {
		tr := &models.TraceRecord{
			TraceID:      fmt.Sprintf("t%d", i),
			LeadKey:      "a_202501",
			StartedAt:    base.Add(time.Duration(i) * time.Second),
			CompletedAt:  base.Add(time.Duration(i)*time.Second + time.Millisecond),
			Input:        models.Lead{Email: "a@x.com", Company: "X"},
			ScoreResult:  &models.ScoreResult{Score: 50, Tier: models.TierNurture},
			ActionsTaken: []string{"upsert_lead_row", "create_followup_task"},
		}
		if err := s.CreateTrace(ctx, tr); err != nil {
			t.Fatalf("CreateTrace() error = %v", err)
		}
	}
	if err := s.CreateTrace(ctx, &models.TraceRecord{TraceID: "t0", StartedAt: base, CompletedAt: base}); !errors.Is(err, models.ErrConflict) {
		t.Errorf("CreateTrace(dup) error = %v, want ErrConflict", err)
	}

	list, err := s.ListTraces(ctx, models.TraceFilter{LeadKey: "a_202501", Limit: 2})
	if err != nil {
		t.Fatalf("ListTraces() error = %v", err)
	}
	if len(list) != 2 || list[0].TraceID != "t2" {
		t.Errorf("ListTraces() = %v, want newest first", traceIDs(list))
	}
	if list[0].ScoreResult == nil || list[0].ScoreResult.Tier != models.TierNurture || len(list[0].ActionsTaken) != 2 {
		t.Errorf("ListTraces()[0] = %+v", list[0])
	}
}

func TestPostgres_ApprovalConcurrentDecide(t *testing.T) {
	s := setupPostgres(t)
	ctx := context.Background()

	if err := s.CreateApproval(ctx, pendingApproval("approval_pg", "a_202501", time.Now().UTC())); err != nil {
		t.Fatalf("CreateApproval() error = %v", err)
	}

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.DecideApproval(ctx, "approval_pg", store.Decision{Status: models.ApprovalApproved, DecidedAt: time.Now().UTC()})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, models.ErrAlreadyDecided):
				conflicts.Add(1)
			default:
				t.Errorf("DecideApproval() error = %v", err)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 || conflicts.Load() != 7 {
		t.Errorf("wins = %d, conflicts = %d; want 1 and 7", wins.Load(), conflicts.Load())
	}

	got, err := s.GetApproval(ctx, "approval_pg")
	if err != nil {
		t.Fatalf("GetApproval() error = %v", err)
	}
	if got.Status != models.ApprovalApproved || got.Context["tier"] != "reject" {
		t.Errorf("GetApproval() = %+v", got)
	}
	if _, err := s.DecideApproval(ctx, "approval_none", store.Decision{Status: models.ApprovalApproved}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("DecideApproval(unknown) error = %v, want ErrNotFound", err)
	}
}
