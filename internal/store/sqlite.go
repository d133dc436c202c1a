package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/toolvault/internal/apperr"
	"github.com/starford/toolvault/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tools (
	tool_id         TEXT PRIMARY KEY,
	status          TEXT NOT NULL DEFAULT 'enriching',
	enrich_version  INTEGER NOT NULL DEFAULT 0,
	enriched_at     DATETIME,
	lock_expires_at DATETIME,
	doc             TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS aliases (
	alias   TEXT PRIMARY KEY,
	tool_id TEXT NOT NULL REFERENCES tools(tool_id)
);

CREATE INDEX IF NOT EXISTS idx_aliases_tool ON aliases(tool_id);

CREATE TABLE IF NOT EXISTS usage_counters (
	caller_id  TEXT NOT NULL,
	bucket     TEXT NOT NULL,
	count      INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (caller_id, bucket)
);
`

// SQLite is the single-node store backend. IMMEDIATE transactions provide
// the atomic read-modify-write primitive required by lock acquisition and
// quota admission.
type SQLite struct {
	conn *sql.DB
	opts Options
}

var _ ToolStore = (*SQLite)(nil)
var _ QuotaLedger = (*SQLite)(nil)

// OpenSQLite opens (or creates) the SQLite database and applies the schema.
func OpenSQLite(path string, opts Options) (*SQLite, error) {
	opts.fill()
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &SQLite{conn: conn, opts: opts}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Get returns the record for toolID, or apperr.ErrNotFound.
func (s *SQLite) Get(ctx context.Context, toolID string) (*models.GlobalTool, error) {
	var (
		status           string
		version          int
		enrichedAt, lock sql.NullTime
		doc              string
	)
	err := s.conn.QueryRowContext(ctx, `
		SELECT status, enrich_version, enriched_at, lock_expires_at, doc
		FROM tools WHERE tool_id = ?`, toolID).
		Scan(&status, &version, &enrichedAt, &lock, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get tool: %w", err)
	}

	var tool models.GlobalTool
	if err := json.Unmarshal([]byte(doc), &tool); err != nil {
		return nil, fmt.Errorf("store: decode tool doc: %w", err)
	}
	// Coordination fields live in columns; they win over the doc snapshot.
	tool.ToolID = toolID
	tool.Status = models.Status(status)
	tool.EnrichVersion = version
	tool.EnrichedAt = timeOf(enrichedAt)
	tool.LockExpiresAt = timeOf(lock)

	aliases, err := s.aliasesFor(ctx, toolID)
	if err != nil {
		return nil, err
	}
	tool.Aliases = aliases
	return &tool, nil
}

// FindByAlias resolves alias to its record, or apperr.ErrNotFound.
func (s *SQLite) FindByAlias(ctx context.Context, alias string) (*models.GlobalTool, error) {
	var toolID string
	err := s.conn.QueryRowContext(ctx, `SELECT tool_id FROM aliases WHERE alias = ?`, alias).Scan(&toolID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find alias: %w", err)
	}
	return s.Get(ctx, toolID)
}

// TryAcquireLock takes the enrichment lock for toolID unless another
// caller holds an unexpired one. A missing record is created as a stub in
// the enriching state.
func (s *SQLite) TryAcquireLock(ctx context.Context, toolID string) (bool, error) {
	now := s.opts.Now()
	expires := now.Add(s.opts.LockTTL)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var (
		status string
		lock   sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `SELECT status, lock_expires_at FROM tools WHERE tool_id = ?`, toolID).
		Scan(&status, &lock)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stub := models.GlobalTool{ToolID: toolID, Status: models.StatusEnriching, LockExpiresAt: expires}
		doc, _ := json.Marshal(stub)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tools (tool_id, status, lock_expires_at, doc) VALUES (?, ?, ?, ?)`,
			toolID, string(models.StatusEnriching), expires, string(doc)); err != nil {
			return false, fmt.Errorf("store: insert lock stub: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("store: read lock state: %w", err)
	default:
		if status == string(models.StatusEnriching) && lock.Valid && now.Before(lock.Time) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tools SET status = ?, lock_expires_at = ? WHERE tool_id = ?`,
			string(models.StatusEnriching), expires, toolID); err != nil {
			return false, fmt.Errorf("store: take lock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit lock: %w", err)
	}
	return true, nil
}

// Commit merges the enriched record, unions its aliases, and releases the
// lock in one transaction.
func (s *SQLite) Commit(ctx context.Context, tool *models.GlobalTool) error {
	doc, err := json.Marshal(tool)
	if err != nil {
		return fmt.Errorf("store: encode tool doc: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tools (tool_id, status, enrich_version, enriched_at, lock_expires_at, doc)
		VALUES (?, ?, ?, ?, NULL, ?)
		ON CONFLICT(tool_id) DO UPDATE SET
			status          = excluded.status,
			enrich_version  = excluded.enrich_version,
			enriched_at     = excluded.enriched_at,
			lock_expires_at = NULL,
			doc             = excluded.doc
	`, tool.ToolID, string(tool.Status), tool.EnrichVersion, nullTime(tool.EnrichedAt), string(doc)); err != nil {
		return fmt.Errorf("store: upsert tool: %w", err)
	}

	if err := insertAliases(ctx, tx, tool.ToolID, tool.Aliases); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit tool: %w", err)
	}
	return nil
}

// AddAliases records additional aliases for an existing tool.
func (s *SQLite) AddAliases(ctx context.Context, toolID string, aliases []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tools WHERE tool_id = ?`, toolID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: check tool: %w", err)
	}

	if err := insertAliases(ctx, tx, toolID, aliases); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit aliases: %w", err)
	}
	return nil
}

// Admit performs the atomic increment-with-ceiling for the current bucket.
func (s *SQLite) Admit(ctx context.Context, callerID string, scope Scope) (bool, error) {
	now := s.opts.Now()
	bucket := BucketKey(scope, now)
	limit := s.opts.limit(scope)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT count FROM usage_counters WHERE caller_id = ? AND bucket = ?`, callerID, bucket).
		Scan(&count)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("store: read counter: %w", err)
	}
	if count >= limit {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_counters (caller_id, bucket, count, updated_at) VALUES (?, ?, 1, ?)
		ON CONFLICT(caller_id, bucket) DO UPDATE SET
			count      = count + 1,
			updated_at = excluded.updated_at
	`, callerID, bucket, now); err != nil {
		return false, fmt.Errorf("store: increment counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit counter: %w", err)
	}
	return true, nil
}

func (s *SQLite) aliasesFor(ctx context.Context, toolID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT alias FROM aliases WHERE tool_id = ? ORDER BY alias`, toolID)
	if err != nil {
		return nil, fmt.Errorf("store: list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("store: scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

func insertAliases(ctx context.Context, tx *sql.Tx, toolID string, aliases []string) error {
	if len(aliases) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO aliases (alias, tool_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare alias insert: %w", err)
	}
	defer stmt.Close()
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, alias, toolID); err != nil {
			return fmt.Errorf("store: insert alias: %w", err)
		}
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func timeOf(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
