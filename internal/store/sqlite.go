package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fleetflow/outreach/control-plane/internal/schedule"
	"github.com/fleetflow/outreach/control-plane/pkg/models"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file. Each entity is kept
// as a JSON body next to the indexed columns the queries filter and sort on.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection serializes writers, which keeps claim and CAS
	// transactions free of SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Str("path", path).Msg("SQLite store configured")
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS agents (
			agent_id   TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			is_active  INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			body       JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_agents_tenant ON agents(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS actions (
			id            TEXT PRIMARY KEY,
			agent_id      TEXT NOT NULL,
			status        TEXT NOT NULL,
			priority_rank INTEGER NOT NULL,
			created_at    TEXT NOT NULL,
			body          JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_agent_status ON actions(agent_id, status)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			version    INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			body       JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_templates_tenant ON templates(tenant_id)`,
		`CREATE TABLE IF NOT EXISTS leads (
			tenant_id  TEXT NOT NULL,
			lead_id    TEXT NOT NULL,
			lead_score INTEGER NOT NULL,
			body       JSON NOT NULL,
			PRIMARY KEY (tenant_id, lead_id)
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	// Attempts interrupted by a crash never reached their channel.
	if err := s.requeueInterrupted(ctx); err != nil {
		return fmt.Errorf("requeue interrupted actions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) requeueInterrupted(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM actions WHERE status = ?`, string(models.ActionInProgress))
	if err != nil {
		return err
	}
	var stuck []*models.AgentAction
	for rows.Next() {
		var a models.AgentAction
		if err := scanBody(rows, &a); err != nil {
			_ = rows.Close()
			return err
		}
		stuck = append(stuck, &a)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, a := range stuck {
		a.Status = models.ActionPending
		a.ExecutedAt = nil
		if err := writeAction(ctx, s.db, a); err != nil {
			return err
		}
	}
	if len(stuck) > 0 {
		log.Warn().Int("count", len(stuck)).Msg("Requeued actions left in progress by a previous run")
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBody(row scanner, v any) error {
	var raw string
	if err := row.Scan(&raw); err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), v)
}

// sortableTime is fixed-width so lexical order matches time order.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(sortableTime) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ── Agent Repository ────────────────────────────────────────

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *models.AgentConfig) error {
	body, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (agent_id, tenant_id, is_active, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		agent.AgentID, agent.TenantID, boolInt(agent.IsActive), ts(agent.CreatedAt), string(body))
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var a models.AgentConfig
	err := scanBody(s.db.QueryRowContext(ctx, `SELECT body FROM agents WHERE agent_id = ?`, agentID), &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: agentID}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, agent *models.AgentConfig) error {
	body, err := json.Marshal(agent)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET is_active = ?, body = ? WHERE agent_id = ?`,
		boolInt(agent.IsActive), string(body), agent.AgentID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "agent", Key: agent.AgentID}
	}
	return nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, tenantID string, activeOnly bool) ([]models.AgentConfig, error) {
	q := `SELECT body FROM agents WHERE (? = '' OR tenant_id = ?)`
	if activeOnly {
		q += ` AND is_active = 1`
	}
	q += ` ORDER BY created_at, agent_id`
	rows, err := s.db.QueryContext(ctx, q, tenantID, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []models.AgentConfig
	for rows.Next() {
		var a models.AgentConfig
		if err := scanBody(rows, &a); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ── Action Queue Repository ─────────────────────────────────

func writeAction(ctx context.Context, db execer, a *models.AgentAction) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO actions (id, agent_id, status, priority_rank, created_at, body) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, body = excluded.body`,
		a.ID, a.AgentID, string(a.Status), a.Priority.Rank(), ts(a.CreatedAt), string(body))
	return err
}

func readAction(ctx context.Context, db execer, agentID, actionID string) (*models.AgentAction, error) {
	var a models.AgentAction
	err := scanBody(db.QueryRowContext(ctx,
		`SELECT body FROM actions WHERE id = ? AND agent_id = ?`, actionID, agentID), &a)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "action", Key: actionID}
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) EnqueueActions(ctx context.Context, actions []*models.AgentAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, a := range actions {
		if err := writeAction(ctx, tx, a); err != nil {
			return fmt.Errorf("enqueue action %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetAction(ctx context.Context, agentID, actionID string) (*models.AgentAction, error) {
	return readAction(ctx, s.db, agentID, actionID)
}

func (s *SQLiteStore) ListActions(ctx context.Context, agentID string, filter models.ActionFilter) ([]models.AgentAction, error) {
	q := `SELECT body FROM actions WHERE agent_id = ? AND (? = '' OR status = ?)
	      ORDER BY priority_rank, created_at, id`
	args := []any{agentID, string(filter.Status), string(filter.Status)}
	if filter.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []models.AgentAction
	for rows.Next() {
		var a models.AgentAction
		if err := scanBody(rows, &a); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// mutateAction runs fn against the stored action inside a transaction and
// writes the result back if fn returns nil.
func (s *SQLiteStore) mutateAction(ctx context.Context, agentID, actionID string, fn func(a *models.AgentAction) error) (*models.AgentAction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	a, err := readAction(ctx, tx, agentID, actionID)
	if err != nil {
		return nil, err
	}
	if err := fn(a); err != nil {
		return nil, err
	}
	if err := writeAction(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *SQLiteStore) ClaimAction(ctx context.Context, agentID, actionID string, now time.Time) (*models.AgentAction, error) {
	return s.mutateAction(ctx, agentID, actionID, func(a *models.AgentAction) error {
		if err := transitionState(a.Status, models.ActionInProgress); err != nil {
			return err
		}
		at := now
		a.Status = models.ActionInProgress
		a.ExecutedAt = &at
		a.Attempts++
		a.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) FinishAction(ctx context.Context, action *models.AgentAction) error {
	if action.Status != models.ActionCompleted && action.Status != models.ActionFailed {
		return &models.ValidationError{Issues: []string{"finish requires completed or failed status, got " + string(action.Status)}}
	}
	_, err := s.mutateAction(ctx, action.AgentID, action.ID, func(a *models.AgentAction) error {
		if err := transitionState(a.Status, action.Status); err != nil {
			return err
		}
		*a = *action
		return nil
	})
	return err
}

func (s *SQLiteStore) ReleaseAction(ctx context.Context, agentID, actionID string, now time.Time) error {
	_, err := s.mutateAction(ctx, agentID, actionID, func(a *models.AgentAction) error {
		if schedule.CanTransition(a.Status, models.ActionPending) {
			a.Status = models.ActionPending
			a.ExecutedAt = nil
			a.UpdatedAt = now
		}
		return nil
	})
	return err
}

func (s *SQLiteStore) CancelAction(ctx context.Context, agentID, actionID, reason string, now time.Time) (*models.AgentAction, error) {
	return s.mutateAction(ctx, agentID, actionID, func(a *models.AgentAction) error {
		if err := transitionState(a.Status, models.ActionCancelled); err != nil {
			return err
		}
		a.Status = models.ActionCancelled
		a.Error = reason
		a.UpdatedAt = now
		return nil
	})
}

func (s *SQLiteStore) CountActions(ctx context.Context, agentID string, status models.ActionStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM actions WHERE agent_id = ? AND (? = '' OR status = ?)`,
		agentID, string(status), string(status)).Scan(&n)
	return n, err
}

func (s *SQLiteStore) PurgeActions(ctx context.Context, agentID string, ids []string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	total := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM actions WHERE id = ? AND agent_id = ? AND status IN (?, ?, ?)`,
			id, agentID, string(models.ActionCompleted), string(models.ActionFailed), string(models.ActionCancelled))
		if err != nil {
			return 0, fmt.Errorf("purge action %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, tx.Commit()
}

// ── Template Repository ─────────────────────────────────────

func (s *SQLiteStore) CreateTemplate(ctx context.Context, tmpl *models.Template) error {
	body, err := json.Marshal(tmpl)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, tenant_id, version, created_at, body) VALUES (?, ?, ?, ?, ?)`,
		tmpl.ID, tmpl.TenantID, tmpl.Version, ts(tmpl.CreatedAt), string(body))
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	return readTemplate(ctx, s.db, id)
}

func readTemplate(ctx context.Context, db execer, id string) (*models.Template, error) {
	var t models.Template
	err := scanBody(db.QueryRowContext(ctx, `SELECT body FROM templates WHERE id = ?`, id), &t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "template", Key: id}
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) UpdateTemplate(ctx context.Context, tmpl *models.Template, expectedVersion int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := readTemplate(ctx, tx, tmpl.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return models.ErrVersionConflict
	}
	next := *tmpl
	next.Version = expectedVersion + 1
	next.UsageCount = current.UsageCount
	next.LastUsedAt = current.LastUsedAt
	body, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE templates SET version = ?, body = ? WHERE id = ? AND version = ?`,
		next.Version, string(body), tmpl.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrVersionConflict
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	tmpl.Version = next.Version
	return nil
}

func (s *SQLiteStore) ListTemplates(ctx context.Context, tenantID string, filter models.TemplateFilter) ([]models.Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM templates WHERE tenant_id = ? ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []models.Template
	for rows.Next() {
		var t models.Template
		if err := scanBody(rows, &t); err != nil {
			return nil, err
		}
		if matchTemplate(&t, filter) {
			result = append(result, t)
		}
	}
	return result, rows.Err()
}

func (s *SQLiteStore) TouchTemplate(ctx context.Context, id string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := readTemplate(ctx, tx, id)
	if err != nil {
		return err
	}
	t.UsageCount++
	used := at
	t.LastUsedAt = &used
	body, err := json.Marshal(t)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE templates SET body = ? WHERE id = ?`, string(body), id); err != nil {
		return err
	}
	return tx.Commit()
}

// ── Lead Repository ─────────────────────────────────────────

func (s *SQLiteStore) SaveLead(ctx context.Context, lead *models.LeadIntelligence) error {
	body, err := json.Marshal(lead)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (tenant_id, lead_id, lead_score, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT(tenant_id, lead_id) DO UPDATE SET lead_score = excluded.lead_score, body = excluded.body`,
		lead.TenantID, lead.LeadID, lead.LeadScore, string(body))
	if err != nil {
		return fmt.Errorf("save lead: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, tenantID, leadID string) (*models.LeadIntelligence, error) {
	var l models.LeadIntelligence
	err := scanBody(s.db.QueryRowContext(ctx,
		`SELECT body FROM leads WHERE tenant_id = ? AND lead_id = ?`, tenantID, leadID), &l)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "lead", Key: leadID}
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, tenantID string, filter models.LeadFilter) ([]models.LeadIntelligence, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM leads WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []models.LeadIntelligence
	for rows.Next() {
		var l models.LeadIntelligence
		if err := scanBody(rows, &l); err != nil {
			return nil, err
		}
		if filter.Match(&l) {
			result = append(result, l)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortLeads(result)
	return result, nil
}
