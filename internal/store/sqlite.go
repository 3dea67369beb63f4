package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/care/detectd/internal/types"
)

// SQLiteStore keeps events in a single table ordered by an autoincrement seq.
type SQLiteStore struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// OpenSQLite opens (or creates) the database at dbPath.
// Uses WAL mode for file-based databases.
func OpenSQLite(dbPath string) (*SQLiteStore, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; also keeps :memory: on a single connection
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set synchronous: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: dbPath}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		class_label TEXT NOT NULL
	)`)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, events []types.DetectionEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvents(ctx, tx, events)
	})
}

func (s *SQLiteStore) ReadAll(ctx context.Context) ([]types.DetectionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT timestamp, class_label FROM events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]types.DetectionEvent, 0)
	for rows.Next() {
		var ts, label string
		if err := rows.Scan(&ts, &label); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := types.ParseRecord([]string{ts, label})
		if err != nil {
			slog.Warn("skipping malformed event record", "path", s.path, "timestamp", ts, "class_label", label, "error", err)
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	return s.Replace(ctx, nil)
}

func (s *SQLiteStore) Replace(ctx context.Context, events []types.DetectionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		return insertEvents(ctx, tx, events)
	})
}

func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertEvents(ctx context.Context, tx *sql.Tx, events []types.DetectionEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events (timestamp, class_label) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		rec := ev.Record()
		if _, err := stmt.ExecContext(ctx, rec[0], rec[1]); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}
