package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql (needed by goose)
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/leadgate/leadgate/internal/config"
	"github.com/leadgate/leadgate/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string
}

// NewPostgresStore connects to cfg.URL and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	log.Info().Int32("max_conns", poolCfg.MaxConns).Msg("PostgreSQL store connected")
	return &PostgresStore{pool: pool, dsn: cfg.URL}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// Migrate applies all pending goose migrations from the embedded SQL files.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)

	db, err := goose.OpenDBWithDriver("pgx", p.dsn)
	if err != nil {
		return fmt.Errorf("open db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// ── Helpers ─────────────────────────────────────────────────

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// notFoundWrap maps pgx.ErrNoRows to *ErrNotFound and wraps anything else.
func notFoundWrap(err error, entity, key string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return fmt.Errorf("%s %s: %w", entity, key, err)
}

// conflictWrap maps a unique violation to models.ErrConflict.
func conflictWrap(err error, format string, args ...any) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return models.ErrConflict
	}
	return fmt.Errorf(fmt.Sprintf(format, args...)+": %w", err)
}

// ── Lead Store ──────────────────────────────────────────────

const leadColumns = `lead_key, email, company, score, tier, segment, need, timeline,
	budget, title, company_size, industry, status, notes, created_at, updated_at`

func (p *PostgresStore) UpsertLead(ctx context.Context, row *models.LeadRow) (bool, error) {
	status := row.Status
	if status == "" {
		status = "new"
	}
	// xmax is zero only for a freshly inserted tuple.
	var created bool
	err := p.pool.QueryRow(ctx, `
		INSERT INTO leads (lead_key, email, company, score, tier, segment, need, timeline,
			budget, title, company_size, industry, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now(), now())
		ON CONFLICT (lead_key) DO UPDATE SET
			email = EXCLUDED.email, company = EXCLUDED.company, score = EXCLUDED.score,
			tier = EXCLUDED.tier, segment = EXCLUDED.segment, need = EXCLUDED.need,
			timeline = EXCLUDED.timeline, budget = EXCLUDED.budget, title = EXCLUDED.title,
			company_size = EXCLUDED.company_size, industry = EXCLUDED.industry,
			status = EXCLUDED.status, notes = EXCLUDED.notes, updated_at = now()
		RETURNING (xmax = 0)`,
		row.LeadKey, row.Email, row.Company, row.Score, string(row.Tier), string(row.Segment),
		row.Need, row.Timeline, row.Budget, row.Title, row.CompanySize, row.Industry,
		status, row.Notes,
	).Scan(&created)
	if err != nil {
		return false, fmt.Errorf("upsert lead %s: %w", row.LeadKey, err)
	}
	return created, nil
}

func (p *PostgresStore) GetLead(ctx context.Context, leadKey string) (*models.LeadRow, error) {
	var r models.LeadRow
	var tier, segment string
	err := p.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE lead_key = $1`, leadKey).Scan(
		&r.LeadKey, &r.Email, &r.Company, &r.Score, &tier, &segment, &r.Need, &r.Timeline,
		&r.Budget, &r.Title, &r.CompanySize, &r.Industry, &r.Status, &r.Notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, notFoundWrap(err, "lead", leadKey)
	}
	r.Tier = models.Tier(tier)
	r.Segment = models.Segment(segment)
	return &r, nil
}

// ── Task Store ──────────────────────────────────────────────

func (p *PostgresStore) CreateTask(ctx context.Context, t *models.Task) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO tasks (task_id, lead_key, email, type, title, priority, due_date, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.TaskID, t.LeadKey, t.Email, t.Type, t.Title, string(t.Priority), t.DueDate, t.Status, t.CreatedAt,
	)
	if err != nil {
		return conflictWrap(err, "create task %s", t.TaskID)
	}
	return nil
}

func (p *PostgresStore) ListTasks(ctx context.Context, leadKey string) ([]models.Task, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT task_id, lead_key, email, type, title, priority, due_date, status, created_at
		FROM tasks WHERE ($1 = '' OR lead_key = $1) ORDER BY created_at, task_id`, leadKey)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var result []models.Task
	for rows.Next() {
		var t models.Task
		var priority string
		if err := rows.Scan(&t.TaskID, &t.LeadKey, &t.Email, &t.Type, &t.Title, &priority, &t.DueDate, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.Priority = models.Priority(priority)
		result = append(result, t)
	}
	return result, rows.Err()
}

// ── Trace Store ─────────────────────────────────────────────

const traceColumns = `trace_id, lead_key, started_at, completed_at, duration_ms, input,
	score_result, actions_taken, approval_required, approval_reason, approval_id, scorer, error`

func (p *PostgresStore) CreateTrace(ctx context.Context, t *models.TraceRecord) error {
	input, err := json.Marshal(t.Input)
	if err != nil {
		return fmt.Errorf("marshal trace input: %w", err)
	}
	var score []byte
	if t.ScoreResult != nil {
		if score, err = json.Marshal(t.ScoreResult); err != nil {
			return fmt.Errorf("marshal score result: %w", err)
		}
	}
	actions := t.ActionsTaken
	if actions == nil {
		actions = []string{}
	}
	actionsJSON, _ := json.Marshal(actions)

	_, err = p.pool.Exec(ctx, `INSERT INTO traces (`+traceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.TraceID, t.LeadKey, t.StartedAt, t.CompletedAt, t.DurationMs, input,
		score, actionsJSON, t.ApprovalRequired, t.ApprovalReason, t.ApprovalID, t.Scorer, t.Error,
	)
	if err != nil {
		return conflictWrap(err, "create trace %s", t.TraceID)
	}
	return nil
}

func (p *PostgresStore) GetTrace(ctx context.Context, traceID string) (*models.TraceRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+traceColumns+` FROM traces WHERE trace_id = $1`, traceID)
	t, err := scanTrace(row)
	if err != nil {
		return nil, notFoundWrap(err, "trace", traceID)
	}
	return t, nil
}

func (p *PostgresStore) ListTraces(ctx context.Context, filter models.TraceFilter) ([]models.TraceRecord, error) {
	filter = normalizeTraceFilter(filter)
	rows, err := p.pool.Query(ctx, `SELECT `+traceColumns+` FROM traces
		WHERE ($1 = '' OR lead_key = $1)
		ORDER BY started_at DESC, trace_id DESC
		LIMIT $2 OFFSET $3`, filter.LeadKey, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	result := []models.TraceRecord{}
	for rows.Next() {
		t, err := scanTrace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func scanTrace(row scannable) (*models.TraceRecord, error) {
	var t models.TraceRecord
	var input, score, actions []byte
	if err := row.Scan(&t.TraceID, &t.LeadKey, &t.StartedAt, &t.CompletedAt, &t.DurationMs, &input,
		&score, &actions, &t.ApprovalRequired, &t.ApprovalReason, &t.ApprovalID, &t.Scorer, &t.Error); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(input, &t.Input); err != nil {
		return nil, fmt.Errorf("decode trace input: %w", err)
	}
	if len(score) > 0 {
		var sr models.ScoreResult
		if err := json.Unmarshal(score, &sr); err != nil {
			return nil, fmt.Errorf("decode score result: %w", err)
		}
		t.ScoreResult = &sr
	}
	if err := json.Unmarshal(actions, &t.ActionsTaken); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return &t, nil
}

// ── Approval Store ──────────────────────────────────────────

const approvalColumns = `action_id, action_type, lead_key, reason, context, requested_at,
	status, decided_by, notes, decided_at`

func (p *PostgresStore) CreateApproval(ctx context.Context, r *models.ApprovalRequest) error {
	ctxJSON, err := json.Marshal(orEmptyMap(r.Context))
	if err != nil {
		return fmt.Errorf("marshal approval context: %w", err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO approvals (`+approvalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ActionID, r.ActionType, r.LeadKey, r.Reason, ctxJSON, r.RequestedAt,
		string(r.Status), r.DecidedBy, r.Notes, r.DecidedAt,
	)
	if err != nil {
		return conflictWrap(err, "create approval %s", r.ActionID)
	}
	return nil
}

func (p *PostgresStore) GetApproval(ctx context.Context, actionID string) (*models.ApprovalRequest, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+approvalColumns+` FROM approvals WHERE action_id = $1`, actionID)
	r, err := scanApproval(row)
	if err != nil {
		return nil, notFoundWrap(err, "approval", actionID)
	}
	return r, nil
}

// DecideApproval relies on the status predicate so that concurrent deciders
// race on the row lock and exactly one UPDATE matches.
func (p *PostgresStore) DecideApproval(ctx context.Context, actionID string, d Decision) (*models.ApprovalRequest, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE approvals SET status = $2, decided_by = $3, notes = $4, decided_at = $5
		WHERE action_id = $1 AND status = 'pending'
		RETURNING `+approvalColumns,
		actionID, string(d.Status), d.DecidedBy, d.Notes, d.DecidedAt,
	)
	r, err := scanApproval(row)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("decide approval %s: %w", actionID, err)
	}

	// No pending row matched: distinguish unknown from already decided.
	var exists bool
	if err := p.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM approvals WHERE action_id = $1)`, actionID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("decide approval %s: %w", actionID, err)
	}
	if !exists {
		return nil, &ErrNotFound{Entity: "approval", Key: actionID}
	}
	return nil, models.ErrAlreadyDecided
}

func (p *PostgresStore) ListApprovals(ctx context.Context, filter ApprovalFilter) ([]models.ApprovalRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.pool.Query(ctx, `SELECT `+approvalColumns+` FROM approvals
		WHERE ($1 = '' OR lead_key = $1) AND ($2 = '' OR status = $2)
		ORDER BY requested_at, action_id
		LIMIT $3`, filter.LeadKey, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var result []models.ApprovalRequest
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

func scanApproval(row scannable) (*models.ApprovalRequest, error) {
	var r models.ApprovalRequest
	var ctxJSON []byte
	var status string
	if err := row.Scan(&r.ActionID, &r.ActionType, &r.LeadKey, &r.Reason, &ctxJSON, &r.RequestedAt,
		&status, &r.DecidedBy, &r.Notes, &r.DecidedAt); err != nil {
		return nil, err
	}
	r.Status = models.ApprovalStatus(status)
	if len(ctxJSON) > 0 {
		if err := json.Unmarshal(ctxJSON, &r.Context); err != nil {
			return nil, fmt.Errorf("decode approval context: %w", err)
		}
	}
	return &r, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
