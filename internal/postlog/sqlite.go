package postlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is the latest post log schema.
const SchemaVersion = 1

// SQLiteLog stores entries in a SQLite database.
type SQLiteLog struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite post log and migrates it.
func OpenSQLite(path string) (*SQLiteLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create post log directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite post log: %w", err)
	}
	// One writer per agent process.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteLog{db: db}, nil
}

// Migrate ensures the schema exists and is at SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}
	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS posts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			post_id TEXT NOT NULL,
			agent TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			ack_id TEXT NULL,
			publisher TEXT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create posts table: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_posts_agent_seq ON posts(agent, seq);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_posts_agent_seq: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	return nil
}

// Append inserts an entry.
func (l *SQLiteLog) Append(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO posts (id, post_id, agent, content, timestamp, ack_id, publisher) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PostID, e.Agent, e.Content, e.Timestamp.UTC().Format(time.RFC3339Nano), nullable(e.AckID), nullable(e.Publisher))
	if err != nil {
		return fmt.Errorf("append post log entry: %w", err)
	}
	return nil
}

// Recent returns the agent's latest entries in insertion order.
func (l *SQLiteLog) Recent(ctx context.Context, agent string, limit int) ([]Entry, error) {
	query := `SELECT id, post_id, agent, content, timestamp, COALESCE(ack_id, ''), COALESCE(publisher, '')
	          FROM posts WHERE (? = '' OR agent = ?) ORDER BY seq DESC`
	args := []any{agent, agent}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query post log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.PostID, &e.Agent, &e.Content, &ts, &e.AckID, &e.Publisher); err != nil {
			return nil, fmt.Errorf("scan post log row: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse post log timestamp %q: %w", ts, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate post log: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close closes the database.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
