// Package sqlite implements the metadata store on a local SQLite file via
// modernc.org/sqlite (no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/evermem/evermem/internal/metastore"
	"github.com/evermem/evermem/internal/model"
)

// timeLayout is fixed-width so stored timestamps compare lexicographically in
// the same order as chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const previewLen = 200

// Store implements metastore.Store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database file and bootstraps the schema.
func New(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewWithDB wires the store to an existing connection (tests, factory).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

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
	var expires interface{}
	if m.ExpiresAt != nil {
		expires = m.ExpiresAt.UTC().Format(timeLayout)
	}
	var session interface{}
	if m.SessionID != "" {
		session = m.SessionID
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO memory_meta
            (id, profile_id, session_id, category, content_preview, tags,
             importance, access_count, pinned, created_at, expires_at, last_accessed_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProfileID, session, string(m.Category), preview(m.Content), tags,
		m.Importance, m.AccessCount, boolToInt(m.Pinned),
		m.CreatedAt.UTC().Format(timeLayout), expires,
		m.LastAccessedAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf("DELETE FROM memory_meta WHERE id IN (%s)", placeholders(len(ids)))
	res, err := s.db.ExecContext(ctx, query, toArgs(ids)...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteBySession(ctx context.Context, profileID, sessionID string, includePinned bool) ([]string, error) {
	query := "SELECT id FROM memory_meta WHERE profile_id = ? AND session_id = ?"
	if !includePinned {
		query += " AND pinned = 0"
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
	query := "SELECT id FROM memory_meta WHERE profile_id = ?"
	args := []interface{}{profileID}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.OlderThan != nil {
		query += " AND created_at < ?"
		args = append(args, f.OlderThan.UTC().Format(timeLayout))
	}
	if !f.IncludePinned {
		query += " AND pinned = 0"
	}
	return s.queryIDs(ctx, query, args...)
}

func (s *Store) IsPinned(ctx context.Context, id string) (bool, error) {
	var pinned int
	err := s.db.QueryRowContext(ctx, "SELECT pinned FROM memory_meta WHERE id = ?", id).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return pinned != 0, nil
}

func (s *Store) RecordAccess(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
        UPDATE memory_meta
        SET access_count = access_count + 1, last_accessed_at = ?
        WHERE id IN (%s)`, placeholders(len(ids)))
	args := append([]interface{}{now.UTC().Format(timeLayout)}, toArgs(ids)...)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func (s *Store) GetExpired(ctx context.Context, now time.Time) ([]string, error) {
	return s.queryIDs(ctx, `
        SELECT id FROM memory_meta
        WHERE pinned = 0 AND expires_at IS NOT NULL AND expires_at < ?`,
		now.UTC().Format(timeLayout))
}

func (s *Store) GetStale(ctx context.Context, minImportance float64, maxAccessCount int64) ([]string, error) {
	return s.queryIDs(ctx, `
        SELECT id FROM memory_meta
        WHERE pinned = 0 AND importance < ? AND access_count <= ?`,
		minImportance, maxAccessCount)
}

func (s *Store) DecayImportance(ctx context.Context, factor float64, minAge time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-minAge).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
        UPDATE memory_meta
        SET importance = importance * ?
        WHERE pinned = 0 AND created_at < ?`,
		factor, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Stats(ctx context.Context, profileID string) (*model.ProfileStats, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT
            COUNT(*),
            COALESCE(SUM(pinned), 0),
            COALESCE(SUM(access_count), 0),
            MIN(created_at),
            MAX(created_at)
        FROM memory_meta WHERE profile_id = ?`, profileID)

	var st model.ProfileStats
	var oldest, newest sql.NullString
	if err := row.Scan(&st.Total, &st.Pinned, &st.TotalAccesses, &oldest, &newest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		if t, err := time.Parse(timeLayout, oldest.String); err == nil {
			st.Oldest = &t
		}
	}
	if newest.Valid {
		if t, err := time.Parse(timeLayout, newest.String); err == nil {
			st.Newest = &t
		}
	}

	st.ByCategory = map[string]int64{}
	rows, err := s.db.QueryContext(ctx, `
        SELECT category, COUNT(*) FROM memory_meta
        WHERE profile_id = ? GROUP BY category`, profileID)
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

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
