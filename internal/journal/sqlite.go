package journal

import (
	"database/sql"
	"fmt"
	"time"

	"wsk-go/internal/journal/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements Journal on a SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// NewSQLiteJournal opens (or creates) the journal at path and migrates its
// schema. path can be ":memory:" for an ephemeral journal.
func NewSQLiteJournal(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &SQLiteJournal{db: db, path: path}, nil
}

func (j *SQLiteJournal) Begin(operation, parameters string) (int64, error) {
	res, err := j.db.Exec(
		"INSERT INTO runs (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		operation, parameters, time.Now().UTC(), StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading run id: %w", err)
	}
	return id, nil
}

func (j *SQLiteJournal) Finish(id int64, status string) error {
	res, err := j.db.Exec(
		"UPDATE runs SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id,
	)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %d not found", id)
	}
	return nil
}

func (j *SQLiteJournal) List(limit int) ([]Run, error) {
	rows, err := j.db.Query(
		"SELECT id, operation, parameters, started_at, finished_at, status FROM runs ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.StartedAt, &finished, &r.Status); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// Path returns the journal file path (or ":memory:").
func (j *SQLiteJournal) Path() string {
	return j.path
}

func (j *SQLiteJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

var _ Journal = (*SQLiteJournal)(nil)
