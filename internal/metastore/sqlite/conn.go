package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open opens (or creates) a SQLite database at the given path, enables WAL
// journal mode and bootstraps the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := bootstrap(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func bootstrap(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS memory_meta (
            id               TEXT PRIMARY KEY,
            profile_id       TEXT NOT NULL,
            session_id       TEXT,
            category         TEXT NOT NULL DEFAULT 'fact',
            content_preview  TEXT,
            tags             TEXT,
            importance       REAL NOT NULL DEFAULT 0.5,
            access_count     INTEGER NOT NULL DEFAULT 0,
            pinned           INTEGER NOT NULL DEFAULT 0,
            created_at       TEXT NOT NULL,
            expires_at       TEXT,
            last_accessed_at TEXT
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
