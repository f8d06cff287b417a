// Package postgres provides the server-backed row store. It mirrors the
// sqlite schema with JSONB payloads and runs through database/sql so tests
// can substitute a stub driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"haccare/pkg/domain"
)

var _ domain.Store = (*Store)(nil)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS managed_rows (
		entity TEXT NOT NULL,
		row_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (entity, row_id)
	)`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS identifier_mappings (
		template_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (template_id, session_id)
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		template_id TEXT NOT NULL,
		version BIGINT NOT NULL,
		captured_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (template_id, version)
	)`,
}

// Store is the postgres-backed row store.
type Store struct {
	db *sql.DB
}

// NewStore connects with the pgx stdlib driver and applies DDL.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewStoreWithDB(db)
}

// NewStoreWithDB wraps an existing handle; tests use it with a stub driver.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for integration tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Tx) error) error {
	t, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = t.Rollback()
		}
	}()
	if err := fn(&tx{t: t}); err != nil {
		return err
	}
	if err := t.Commit(); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

func (s *Store) View(ctx context.Context, fn func(domain.View) error) error {
	t, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return classify("begin view", err)
	}
	defer func() { _ = t.Rollback() }()
	return fn(&tx{t: t})
}

type tx struct {
	t *sql.Tx
}

var _ domain.Tx = (*tx)(nil)

// classify separates retryable backend failures from structural ones. A
// server error with a structural SQLSTATE (constraint, syntax, data) is
// fatal; serialization aborts, deadlocks, lock contention, and anything
// without a SQLSTATE (connection-level failures) are transient.
func classify(op string, err error) error {
	var perr *pgconn.PgError
	if errors.As(err, &perr) && !transientCode(perr.Code) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &domain.TransientStoreError{Op: op, Err: err}
}

func transientCode(code string) bool {
	if strings.HasPrefix(code, "08") { // connection exception class
		return true
	}
	switch code {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"53300", // too_many_connections
		"57P03": // cannot_connect_now
		return true
	}
	return false
}

func (x *tx) ListWhere(ctx context.Context, entity domain.EntityType, column, value string) ([]domain.Row, error) {
	rows, err := x.t.QueryContext(ctx,
		`SELECT payload FROM managed_rows WHERE entity = $1 AND payload->>$2 = $3 ORDER BY row_id`,
		string(entity), column, value)
	if err != nil {
		return nil, classify("list "+string(entity), err)
	}
	return scanRows(entity, rows)
}

func (x *tx) ListWhereIn(ctx context.Context, entity domain.EntityType, column string, values []string) ([]domain.Row, error) {
	if len(values) == 0 {
		return nil, nil
	}
	args := []any{string(entity), column}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, v)
	}
	query := fmt.Sprintf(
		`SELECT payload FROM managed_rows WHERE entity = $1 AND payload->>$2 IN (%s) ORDER BY row_id`,
		strings.Join(placeholders, ","))
	rows, err := x.t.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("list "+string(entity), err)
	}
	return scanRows(entity, rows)
}

func scanRows(entity domain.EntityType, rows *sql.Rows) ([]domain.Row, error) {
	defer func() { _ = rows.Close() }()
	var out []domain.Row
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classify("scan "+string(entity), err)
		}
		var row domain.Row
		if err := json.Unmarshal(payload, &row); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", entity, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate "+string(entity), err)
	}
	return out, nil
}

func (x *tx) Workspace(ctx context.Context, id string) (domain.Workspace, bool, error) {
	var payload []byte
	err := x.t.QueryRowContext(ctx, `SELECT payload FROM workspaces WHERE id = $1`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workspace{}, false, nil
	}
	if err != nil {
		return domain.Workspace{}, false, classify("get workspace", err)
	}
	var ws domain.Workspace
	if err := json.Unmarshal(payload, &ws); err != nil {
		return domain.Workspace{}, false, fmt.Errorf("decode workspace %s: %w", id, err)
	}
	return ws, true, nil
}

func (x *tx) MappingSet(ctx context.Context, templateID, sessionID string) (domain.MappingSet, bool, error) {
	var payload []byte
	err := x.t.QueryRowContext(ctx,
		`SELECT payload FROM identifier_mappings WHERE template_id = $1 AND session_id = $2`,
		templateID, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.MappingSet{}, false, nil
	}
	if err != nil {
		return domain.MappingSet{}, false, classify("get mapping", err)
	}
	var mapping domain.MappingSet
	if err := json.Unmarshal(payload, &mapping); err != nil {
		return domain.MappingSet{}, false, fmt.Errorf("decode mapping %s/%s: %w", templateID, sessionID, err)
	}
	return mapping, true, nil
}

func (x *tx) LatestSnapshot(ctx context.Context, templateID string) (domain.SnapshotVersion, bool, error) {
	var payload []byte
	err := x.t.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE template_id = $1 ORDER BY version DESC LIMIT 1`,
		templateID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SnapshotVersion{}, false, nil
	}
	if err != nil {
		return domain.SnapshotVersion{}, false, classify("get snapshot", err)
	}
	var snapshot domain.SnapshotVersion
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.SnapshotVersion{}, false, fmt.Errorf("decode snapshot %s: %w", templateID, err)
	}
	return snapshot, true, nil
}

func (x *tx) InsertRow(ctx context.Context, entity domain.EntityType, id string, row domain.Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row %s: %w", entity, id, err)
	}
	if _, err := x.t.ExecContext(ctx,
		`INSERT INTO managed_rows (entity, row_id, payload) VALUES ($1, $2, $3)`,
		string(entity), id, payload); err != nil {
		return classify("insert "+string(entity), err)
	}
	return nil
}

func (x *tx) UpdateRow(ctx context.Context, entity domain.EntityType, id string, columns map[string]any) error {
	var payload []byte
	err := x.t.QueryRowContext(ctx,
		`SELECT payload FROM managed_rows WHERE entity = $1 AND row_id = $2`,
		string(entity), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update of missing %s row %s", entity, id)
	}
	if err != nil {
		return classify("read "+string(entity), err)
	}
	var row domain.Row
	if err := json.Unmarshal(payload, &row); err != nil {
		return fmt.Errorf("decode %s row %s: %w", entity, id, err)
	}
	for column, value := range columns {
		row[column] = value
	}
	updated, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode %s row %s: %w", entity, id, err)
	}
	if _, err := x.t.ExecContext(ctx,
		`UPDATE managed_rows SET payload = $1 WHERE entity = $2 AND row_id = $3`,
		updated, string(entity), id); err != nil {
		return classify("update "+string(entity), err)
	}
	return nil
}

func (x *tx) DeleteWhere(ctx context.Context, entity domain.EntityType, column, value string) (int, error) {
	res, err := x.t.ExecContext(ctx,
		`DELETE FROM managed_rows WHERE entity = $1 AND payload->>$2 = $3`,
		string(entity), column, value)
	if err != nil {
		return 0, classify("delete "+string(entity), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (x *tx) DeleteWhereIn(ctx context.Context, entity domain.EntityType, column string, values []string) (int, error) {
	if len(values) == 0 {
		return 0, nil
	}
	args := []any{string(entity), column}
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", len(args)+1)
		args = append(args, v)
	}
	query := fmt.Sprintf(
		`DELETE FROM managed_rows WHERE entity = $1 AND payload->>$2 IN (%s)`,
		strings.Join(placeholders, ","))
	res, err := x.t.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, classify("delete "+string(entity), err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (x *tx) PutWorkspace(ctx context.Context, ws domain.Workspace) error {
	payload, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("encode workspace %s: %w", ws.ID, err)
	}
	if _, err := x.t.ExecContext(ctx,
		`INSERT INTO workspaces (id, payload) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`,
		ws.ID, payload); err != nil {
		return classify("put workspace", err)
	}
	return nil
}

func (x *tx) PutMappingSet(ctx context.Context, mapping domain.MappingSet) error {
	payload, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode mapping %s/%s: %w", mapping.TemplateID, mapping.SessionID, err)
	}
	if _, err := x.t.ExecContext(ctx,
		`INSERT INTO identifier_mappings (template_id, session_id, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (template_id, session_id) DO UPDATE SET payload = excluded.payload`,
		mapping.TemplateID, mapping.SessionID, payload); err != nil {
		return classify("put mapping", err)
	}
	return nil
}

func (x *tx) PutSnapshot(ctx context.Context, snapshot domain.SnapshotVersion) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s/%d: %w", snapshot.TemplateID, snapshot.Version, err)
	}
	if _, err := x.t.ExecContext(ctx,
		`INSERT INTO snapshots (template_id, version, captured_at, payload) VALUES ($1, $2, $3, $4)`,
		snapshot.TemplateID, snapshot.Version, snapshot.CapturedAt.UTC().Format(time.RFC3339Nano), payload); err != nil {
		return classify("put snapshot", err)
	}
	return nil
}
