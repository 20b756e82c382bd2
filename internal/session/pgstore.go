package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the table PgStore reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS view_sessions (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	view        JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS view_sessions_updated_at_idx ON view_sessions (updated_at);
`

// pgConn is the subset of *pgxpool.Pool used by PgStore.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

var _ pgConn = (*pgxpool.Pool)(nil)

// PgStore is a PostgreSQL-backed Store using pgx/v5. Records older than ttl
// are treated as missing and removed by DeleteExpired.
type PgStore struct {
	pool pgConn
	ttl  time.Duration
}

// NewPgStore creates a new PostgreSQL session store.
func NewPgStore(pool *pgxpool.Pool, ttl time.Duration) *PgStore {
	return &PgStore{pool: pool, ttl: ttl}
}

// EnsureSchema creates the sessions table when it does not exist.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create view_sessions: %w", err)
	}
	return nil
}

// Save upserts a record.
func (s *PgStore) Save(ctx context.Context, rec Record) error {
	viewJSON, err := json.Marshal(rec.View)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO view_sessions (id, tenant_id, subject_id, view, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			view = EXCLUDED.view,
			updated_at = EXCLUDED.updated_at
		WHERE view_sessions.tenant_id = EXCLUDED.tenant_id`,
		rec.ID, rec.TenantID, rec.SubjectID, viewJSON, rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert view session: %w", err)
	}
	return nil
}

// Load retrieves a record by ID, scoped to tenant.
func (s *PgStore) Load(ctx context.Context, tenantID, id string) (Record, error) {
	var rec Record
	var viewJSON []byte

	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, subject_id, view, updated_at
		FROM view_sessions
		WHERE id = $1 AND tenant_id = $2`,
		id, tenantID,
	).Scan(&rec.ID, &rec.TenantID, &rec.SubjectID, &viewJSON, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, notFound(id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("query view session: %w", err)
	}
	if s.ttl > 0 && time.Since(rec.UpdatedAt) > s.ttl {
		return Record{}, notFound(id)
	}

	if err := json.Unmarshal(viewJSON, &rec.View); err != nil {
		return Record{}, fmt.Errorf("unmarshal view: %w", err)
	}
	return rec, nil
}

// Delete removes a record.
func (s *PgStore) Delete(ctx context.Context, tenantID, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM view_sessions WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return fmt.Errorf("delete view session: %w", err)
	}
	return nil
}

// DeleteExpired removes records last saved before cutoff and returns how
// many were removed.
func (s *PgStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM view_sessions WHERE updated_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired view sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
