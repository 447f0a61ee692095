package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"AccountPilot/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL so dashboards can read while the pilot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY,
			timestamp  INTEGER NOT NULL,
			account_id TEXT,
			severity   TEXT NOT NULL,
			message    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_account ON events(account_id)`,

		`CREATE TABLE IF NOT EXISTS actions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			account_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			success    INTEGER NOT NULL,
			partial    INTEGER NOT NULL,
			funds      INTEGER,
			remaining  INTEGER,
			note       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_ts ON actions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS rounds (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp  INTEGER NOT NULL,
			account_id TEXT NOT NULL,
			run_id     TEXT,
			round      INTEGER,
			funds      INTEGER,
			granted    INTEGER,
			outcome    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_ts ON rounds(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordEvent(evt model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO events
		(id, timestamp, account_id, severity, message)
		VALUES (?,?,?,?,?)`,
		evt.ID, evt.Timestamp.Unix(), evt.AccountID, string(evt.Severity), evt.Message,
	)
	return err
}

func (r *SQLiteRecorder) RecordAction(rec *model.ActionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO actions
		(timestamp, account_id, kind, success, partial, funds, remaining, note)
		VALUES (?,?,?,?,?,?,?,?)`,
		time.Now().Unix(), rec.AccountID, rec.Kind,
		boolInt(rec.Success), boolInt(rec.Partial),
		rec.Funds, rec.Remaining, rec.Note,
	)
	return err
}

func (r *SQLiteRecorder) RecordRound(evt *RoundEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO rounds
		(timestamp, account_id, run_id, round, funds, granted, outcome)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.AccountID, evt.RunID, evt.Round,
		evt.Funds, evt.Granted, evt.Outcome,
	)
	return err
}

// CountEvents returns how many events are stored for an account ("" = all).
func (r *SQLiteRecorder) CountEvents(accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	var err error
	if accountID == "" {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	} else {
		err = r.db.QueryRow(`SELECT COUNT(*) FROM events WHERE account_id = ?`, accountID).Scan(&n)
	}
	return n, err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
