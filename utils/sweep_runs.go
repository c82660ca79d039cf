package utils

import (
	"sync"
	"time"

	"rewards-backend/dtos"

	"github.com/google/uuid"
)

// SweepRunStore keeps recent sweep runs in memory for the admin status
// endpoint. Readers get copies.
type SweepRunStore struct {
	runs      map[uuid.UUID]*dtos.SweepRun
	retention time.Duration
	now       func() time.Time
	mu        sync.RWMutex
}

func NewSweepRunStore(retention time.Duration) *SweepRunStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &SweepRunStore{
		runs:      make(map[uuid.UUID]*dtos.SweepRun),
		retention: retention,
		now:       time.Now,
	}
}

// Cleanup removes finished runs older than the retention window.
func (s *SweepRunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retention)
	for id, run := range s.runs {
		if run.CompletedAt != nil && run.CompletedAt.Before(cutoff) {
			delete(s.runs, id)
		}
	}
}

// Start registers a running sweep over total rows.
func (s *SweepRunStore) Start(job string, total int) dtos.SweepRun {
	s.Cleanup()

	s.mu.Lock()
	defer s.mu.Unlock()

	run := &dtos.SweepRun{
		ID:        uuid.New(),
		Job:       job,
		Status:    dtos.SweepStatusRunning,
		Total:     total,
		Errors:    []dtos.SweepError{},
		StartedAt: s.now(),
	}
	s.runs[run.ID] = run
	return copyRun(run)
}

func (s *SweepRunStore) Get(id uuid.UUID) (dtos.SweepRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return dtos.SweepRun{}, false
	}
	return copyRun(run), true
}

// Latest returns the most recently started run of job.
func (s *SweepRunStore) Latest(job string) (dtos.SweepRun, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *dtos.SweepRun
	for _, run := range s.runs {
		if run.Job != job {
			continue
		}
		if latest == nil || run.StartedAt.After(latest.StartedAt) {
			latest = run
		}
	}
	if latest == nil {
		return dtos.SweepRun{}, false
	}
	return copyRun(latest), true
}

func (s *SweepRunStore) Update(id uuid.UUID, fn func(*dtos.SweepRun)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.runs[id]; ok {
		fn(run)
	}
}

func (s *SweepRunStore) AddReset(id uuid.UUID) {
	s.Update(id, func(r *dtos.SweepRun) {
		r.Processed++
		r.Reset++
	})
}

func (s *SweepRunStore) AddExpired(id uuid.UUID) {
	s.Update(id, func(r *dtos.SweepRun) {
		r.Processed++
		r.Expired++
	})
}

// AddFailed records that rowID could not be processed.
func (s *SweepRunStore) AddFailed(id, rowID uuid.UUID, err error) {
	s.Update(id, func(r *dtos.SweepRun) {
		r.Processed++
		r.Failed++
		r.Errors = append(r.Errors, dtos.SweepError{ID: rowID, Message: err.Error()})
	})
}

// Finish closes the run with status.
func (s *SweepRunStore) Finish(id uuid.UUID, status string) (dtos.SweepRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return dtos.SweepRun{}, false
	}
	run.Status = status
	now := s.now()
	run.CompletedAt = &now
	return copyRun(run), true
}

func copyRun(r *dtos.SweepRun) dtos.SweepRun {
	cp := *r
	cp.Errors = append([]dtos.SweepError(nil), r.Errors...)
	if r.CompletedAt != nil {
		at := *r.CompletedAt
		cp.CompletedAt = &at
	}
	return cp
}
