package queue

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store owns the authoritative collection of task records plus the
// pending admission list. Every mutation goes through its lock; reads
// hand out Clone() snapshots, never live aliases.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string
	pending []string
	totals  Totals
}

func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*Task),
	}
}

// Create builds a PENDING record and appends it to the pending list;
// the list's append order is what makes admission FIFO, never the wall
// clock. Parameter validation happens before this in Queue.Submit.
func (s *Store) Create(owner string, kind Kind, inputRef string, params Params, notifyTarget string) Task {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	task := &Task{
		ID:           uuid.NewString(),
		Owner:        owner,
		Kind:         kind,
		InputRef:     inputRef,
		Params:       params,
		NotifyTarget: notifyTarget,
		Status:       StatusPending,
		CreatedAt:    now,
	}
	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	s.pending = append(s.pending, task.ID)
	return task.Clone()
}

func (s *Store) Get(id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task.Clone(), nil
}

// List returns snapshots most-recent-first. Empty owner or status means
// no filter on that field.
func (s *Store) List(owner string, status Status) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		task, ok := s.tasks[s.order[i]]
		if !ok {
			continue
		}
		if owner != "" && task.Owner != owner {
			continue
		}
		if status != "" && task.Status != status {
			continue
		}
		out = append(out, task.Clone())
	}
	return out
}

// Update applies mutate under the store lock and returns the resulting
// snapshot. Terminal records are immutable; ErrTerminal is returned with
// the unmodified snapshot. A transition into a terminal status bumps the
// lifetime totals exactly once.
func (s *Store) Update(id string, mutate func(*Task)) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	if task.Terminal() {
		return task.Clone(), ErrTerminal
	}
	mutate(task)
	if task.Terminal() {
		s.recordOutcomeLocked(task.Status)
	}
	return task.Clone(), nil
}

func (s *Store) recordOutcomeLocked(status Status) {
	switch status {
	case StatusCompleted:
		s.totals.Processed++
		s.totals.Succeeded++
	case StatusFailed:
		s.totals.Processed++
		s.totals.Failed++
	case StatusCancelled:
		s.totals.Cancelled++
	}
}

// popPending removes and returns the oldest pending task, skipping ids
// whose record is no longer PENDING (cancelled while queued).
func (s *Store) popPending() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) > 0 {
		id := s.pending[0]
		s.pending = s.pending[1:]
		task, ok := s.tasks[id]
		if !ok || task.Status != StatusPending {
			continue
		}
		return task.Clone(), true
	}
	return Task{}, false
}

// cancelPending atomically removes a PENDING task from the admission
// list and marks it CANCELLED. Returns false if the task is not PENDING.
func (s *Store) cancelPending(id string) (Task, bool) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Status != StatusPending {
		return Task{}, false
	}
	for i, pid := range s.pending {
		if pid == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			break
		}
	}
	task.Status = StatusCancelled
	task.CompletedAt = &now
	s.recordOutcomeLocked(StatusCancelled)
	return task.Clone(), true
}

// sweep deletes terminal records whose completedAt is before cutoff.
// Non-terminal records are never eligible regardless of age.
func (s *Store) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		task, ok := s.tasks[id]
		if !ok {
			continue
		}
		if task.Terminal() && task.CompletedAt != nil && task.CompletedAt.Before(cutoff) {
			delete(s.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = append([]string(nil), kept...)
	return removed
}

// Info aggregates queue state without mutating any record.
func (s *Store) Info(capacity int) Info {
	dayAgo := time.Now().UTC().Add(-24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	info := Info{
		Totals:   s.totals,
		Capacity: capacity,
	}
	for _, task := range s.tasks {
		switch task.Status {
		case StatusPending:
			info.Pending++
		case StatusRunning:
			info.Running++
		case StatusCompleted:
			if task.CompletedAt != nil && task.CompletedAt.After(dayAgo) {
				info.CompletedToday++
			}
		}
	}
	return info
}

// nonTerminalByOwner returns ids of the owner's PENDING and RUNNING
// tasks, oldest first, for bulk cancellation.
func (s *Store) nonTerminalByOwner(owner string) []string {
	owner = strings.TrimSpace(owner)

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 4)
	for _, id := range s.order {
		task, ok := s.tasks[id]
		if !ok || task.Owner != owner {
			continue
		}
		if !task.Terminal() {
			out = append(out, id)
		}
	}
	return out
}
