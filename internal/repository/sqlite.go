package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/gogo/mgmt/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS nonces (
			nonce TEXT PRIMARY KEY,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nonces_expires ON nonces(expires_at)`,
		`CREATE TABLE IF NOT EXISTS audit_events (
			audit_id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			action TEXT NOT NULL,
			stage TEXT NOT NULL,
			origin TEXT,
			payload TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_events(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ClaimNonce records nonce as used until expiresAt. It returns false if the
// nonce is already held.
func (s *SQLiteStore) ClaimNonce(ctx context.Context, nonce string, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO nonces (nonce, expires_at) VALUES (?, ?)`,
		nonce, expiresAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to claim nonce: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PruneNonces deletes nonces that expired before now.
func (s *SQLiteStore) PruneNonces(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM nonces WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune nonces: %w", err)
	}
	return res.RowsAffected()
}

// AppendAudit stores one audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	payload := ""
	if entry.Payload != nil {
		payload = string(entry.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (audit_id, agent_id, action, stage, origin, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.AuditID, entry.AgentID, entry.Action, string(entry.Stage), entry.Origin, payload, entry.CreatedAt.UnixMilli())
	return err
}

// ListAudit returns the most recent audit entries, newest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT audit_id, agent_id, action, stage, origin, payload, created_at FROM audit_events ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var stage string
		var origin, payload sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.AuditID, &e.AgentID, &e.Action, &stage, &origin, &payload, &createdAt); err != nil {
			return nil, err
		}
		e.Stage = domain.AuditStage(stage)
		e.Origin = origin.String
		if payload.Valid && payload.String != "" {
			e.Payload = []byte(payload.String)
		}
		e.CreatedAt = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
