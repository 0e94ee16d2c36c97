// Package journal records every mutating operation wsk performs, so a
// workstation's history of wipes, flashes, and hardening runs can be audited
// later.
package journal

import "time"

// Run statuses.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run is one journaled operation.
type Run struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is still open
	Status     string
}

// Journal persists operation runs.
type Journal interface {
	// Begin opens a run in the running state and returns its ID.
	Begin(operation, parameters string) (int64, error)
	// Finish closes the run with the given status.
	Finish(id int64, status string) error
	// List returns the most recent runs, newest first.
	List(limit int) ([]Run, error)
	Close() error
}
