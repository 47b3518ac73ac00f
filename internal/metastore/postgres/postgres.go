// Package postgres implements the metadata store on PostgreSQL using the pgx
// stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/model"
)

const previewLen = 200

// Store implements metastore.Store.
type Store struct {
	db *sql.DB
}

// Open opens a PostgreSQL connection, verifies connectivity and bootstraps
// the schema.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := bootstrap(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wires the store to an existing connection (tests, factory).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func bootstrap(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS memory_meta (
            id               TEXT PRIMARY KEY,
            profile_id       TEXT NOT NULL,
            session_id       TEXT,
            category         TEXT NOT NULL DEFAULT 'fact',
            content_preview  TEXT,
            tags             JSONB,
            importance       DOUBLE PRECISION NOT NULL DEFAULT 0.5,
            access_count     BIGINT NOT NULL DEFAULT 0,
            pinned           BOOLEAN NOT NULL DEFAULT FALSE,
            created_at       TIMESTAMPTZ NOT NULL,
            expires_at       TIMESTAMPTZ,
            last_accessed_at TIMESTAMPTZ
        );

        CREATE INDEX IF NOT EXISTS idx_meta_profile
            ON memory_meta(profile_id);
        CREATE INDEX IF NOT EXISTS idx_meta_session
            ON memory_meta(profile_id, session_id);
        CREATE INDEX IF NOT EXISTS idx_meta_expires
            ON memory_meta(expires_at)
            WHERE expires_at IS NOT NULL;
    `)
	return err
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Insert(ctx context.Context, m *model.Memory) error {
	var tags interface{}
	if len(m.Tags) > 0 {
		b, err := json.Marshal(m.Tags)
		if err != nil {
			return err
		}
		tags = string(b)
	}
	var session interface{}
	if m.SessionID != "" {
		session = m.SessionID
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO memory_meta
            (id, profile_id, session_id, category, content_preview, tags,
             importance, access_count, pinned, created_at, expires_at, last_accessed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.ID, m.ProfileID, session, string(m.Category), preview(m.Content), tags,
		m.Importance, m.AccessCount, m.Pinned,
		m.CreatedAt.UTC(), m.ExpiresAt, m.LastAccessedAt.UTC(),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM memory_meta WHERE id IN (%s)", placeholders(1, len(ids)))
	res, err := s.db.ExecContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteBySession(ctx context.Context, profileID, sessionID string, includePinned bool) ([]string, error) {
	query := "SELECT id FROM memory_meta WHERE profile_id = $1 AND session_id = $2"
	if !includePinned {
		query += " AND NOT pinned"
	}
	ids, err := s.queryIDs(ctx, query, profileID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if _, err := s.Delete(ctx, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) FindByFilter(ctx context.Context, profileID string, f metastore.ForgetFilter) ([]string, error) {
	query := "SELECT id FROM memory_meta WHERE profile_id = $1"
	args := []interface{}{profileID}
	if f.Category != "" {
		args = append(args, string(f.Category))
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.OlderThan != nil {
		args = append(args, f.OlderThan.UTC())
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if !f.IncludePinned {
		query += " AND NOT pinned"
	}
	return s.queryIDs(ctx, query, args...)
}

func (s *Store) IsPinned(ctx context.Context, id string) (bool, error) {
	var pinned bool
	err := s.db.QueryRowContext(ctx, "SELECT pinned FROM memory_meta WHERE id = $1", id).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pinned, nil
}

func (s *Store) RecordAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
        UPDATE memory_meta
        SET access_count = access_count + 1, last_accessed_at = $1
        WHERE id IN (%s)`, placeholders(2, len(ids)))
	args := append([]interface{}{now.UTC()}, toArgs(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GetExpired(ctx context.Context, now time.Time) ([]string, error) {
	return s.queryIDs(ctx, `
        SELECT id FROM memory_meta
        WHERE NOT pinned AND expires_at IS NOT NULL AND expires_at < $1`,
		now.UTC())
}

func (s *Store) GetStale(ctx context.Context, minImportance float64, maxAccessCount int64) ([]string, error) {
	return s.queryIDs(ctx, `
        SELECT id FROM memory_meta
        WHERE NOT pinned AND importance < $1 AND access_count <= $2`,
		minImportance, maxAccessCount)
}

func (s *Store) DecayImportance(ctx context.Context, factor float64, minAge time.Duration, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
        UPDATE memory_meta
        SET importance = importance * $1
        WHERE NOT pinned AND created_at < $2`,
		factor, now.Add(-minAge).UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Stats(ctx context.Context, profileID string) (*model.ProfileStats, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*),
            COALESCE(SUM(CASE WHEN pinned THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(access_count), 0),
            MIN(created_at),
            MAX(created_at)
        FROM memory_meta WHERE profile_id = $1`, profileID)

	var st model.ProfileStats
	var oldest, newest sql.NullTime
	if err := row.Scan(&st.Total, &st.Pinned, &st.TotalAccesses, &oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		t := oldest.Time
		st.Oldest = &t
	}
	if newest.Valid {
		t := newest.Time
		st.Newest = &t
	}

	st.ByCategory = map[string]int64{}
	rows, err := s.db.QueryContext(ctx, `
        SELECT category, COUNT(*) FROM memory_meta
        WHERE profile_id = $1 GROUP BY category`, profileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, err
		}
		st.ByCategory[cat] = n
	}
	return &st, rows.Err()
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= previewLen {
		return content
	}
	return string(r[:previewLen])
}

// placeholders renders $start..$start+n-1 for an IN clause.
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
