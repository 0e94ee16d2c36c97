package journal

import (
	"fmt"
	"sync"
	"time"
)

// MemoryJournal keeps runs in memory. It is used in tests and when no journal
// persistence is wanted.
type MemoryJournal struct {
	mu     sync.Mutex
	runs   []Run
	nextID int64
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{nextID: 1}
}

func (j *MemoryJournal) Begin(operation, parameters string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := j.nextID
	j.nextID++
	j.runs = append(j.runs, Run{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     StatusRunning,
	})
	return id, nil
}

func (j *MemoryJournal) Finish(id int64, status string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for i := range j.runs {
		if j.runs[i].ID == id {
			j.runs[i].FinishedAt = time.Now().UTC()
			j.runs[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("run %d not found", id)
}

func (j *MemoryJournal) List(limit int) ([]Run, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var runs []Run
	for i := len(j.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		runs = append(runs, j.runs[i])
	}
	return runs, nil
}

func (j *MemoryJournal) Close() error {
	return nil
}

var _ Journal = (*MemoryJournal)(nil)
