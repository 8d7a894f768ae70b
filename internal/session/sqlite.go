package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/parley-dev/parley/internal/nrepl"
)

// SQLiteBackend keeps every scope's records in a single database file.
// It offers the same last-write-wins semantics as the file backend: each
// write is one upsert, with no cross-invocation transaction or lock.
type SQLiteBackend struct {
	db    *sql.DB
	scope string
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	scope      TEXT NOT NULL,
	host       TEXT NOT NULL,
	port       INTEGER NOT NULL,
	session_id TEXT NOT NULL,
	env_type   TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (scope, host, port)
)`

// NewSQLiteBackend opens (creating if needed) the database at path and
// scopes all operations to the given session scope.
func NewSQLiteBackend(path, scope string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session database: %w", err)
	}
	return &SQLiteBackend{db: db, scope: scope}, nil
}

func (b *SQLiteBackend) Load(t nrepl.Target) (*Record, error) {
	row := b.db.QueryRow(
		`SELECT session_id, env_type, created_at FROM sessions WHERE scope = ? AND host = ? AND port = ?`,
		b.scope, t.Host, t.Port,
	)

	rec := Record{Host: t.Host, Port: t.Port}
	var env string
	var created time.Time
	if err := row.Scan(&rec.SessionID, &env, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session row: %w", err)
	}
	rec.EnvType = nrepl.EnvType(env)
	rec.CreatedAt = created
	return &rec, nil
}

func (b *SQLiteBackend) Save(t nrepl.Target, rec *Record) error {
	_, err := b.db.Exec(
		`INSERT OR REPLACE INTO sessions (scope, host, port, session_id, env_type, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		b.scope, t.Host, t.Port, rec.SessionID, string(rec.EnvType), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session row: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Delete(t nrepl.Target) error {
	_, err := b.db.Exec(
		`DELETE FROM sessions WHERE scope = ? AND host = ? AND port = ?`,
		b.scope, t.Host, t.Port,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session row: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) List() ([]*Record, error) {
	rows, err := b.db.Query(
		`SELECT host, port, session_id, env_type, created_at FROM sessions WHERE scope = ? ORDER BY host, port`,
		b.scope,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session rows: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var env string
		if err := rows.Scan(&rec.Host, &rec.Port, &rec.SessionID, &env, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		rec.EnvType = nrepl.EnvType(env)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
