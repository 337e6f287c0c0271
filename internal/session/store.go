// Package session holds the authoritative in-memory record of one
// conversation: the task map, insertion order, and the task state machine.
// The store performs no locking; the engine is its single writer.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evanwires/sidekick/internal/model"
)

// Store tracks every task of one conversation session. Reads hand out
// deep copies so callers can never alias live state.
type Store struct {
	id           string
	startedAt    time.Time
	tasks        map[string]*model.Task
	order        []string
	generations  map[string]uint64
	lastConsumed uint64
}

// New creates an empty session store with a fresh session id.
func New() *Store {
	return &Store{
		id:          uuid.NewString(),
		startedAt:   time.Now(),
		tasks:       make(map[string]*model.Task),
		generations: make(map[string]uint64),
	}
}

// ID returns the session identifier.
func (s *Store) ID() string { return s.id }

// StartedAt returns the session creation time.
func (s *Store) StartedAt() time.Time { return s.startedAt }

// Add registers a new task. The task must be in Proposed with an id not
// already present in the session.
func (s *Store) Add(t model.Task) error {
	if t.ID == "" {
		return fmt.Errorf("task id is empty")
	}
	if _, ok := s.tasks[t.ID]; ok {
		return fmt.Errorf("task %s already exists", t.ID)
	}
	if t.State != model.TaskProposed {
		return fmt.Errorf("new task %s must be proposed, got %s", t.ID, t.State)
	}
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	s.order = append(s.order, t.ID)
	s.generations[t.ID] = 1
	return nil
}

// Task returns a deep copy of the task with the given id.
func (s *Store) Task(id string) (model.Task, bool) {
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns deep copies of all tasks in insertion order.
func (s *Store) Tasks() []model.Task {
	out := make([]model.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// Len returns the number of tasks in the session.
func (s *Store) Len() int { return len(s.order) }

// Generation returns the task's mutation counter. Every applied mutation
// bumps it; the engine uses it to discard stale adapter results.
func (s *Store) Generation(id string) uint64 { return s.generations[id] }

// LastConsumed returns the high-water sequence number already fed to the
// task generator.
func (s *Store) LastConsumed() uint64 { return s.lastConsumed }

// SetLastConsumed advances the generator high-water mark. It never moves
// backwards.
func (s *Store) SetLastConsumed(seq uint64) {
	if seq > s.lastConsumed {
		s.lastConsumed = seq
	}
}

// Snapshot builds an immutable point-in-time view of the session.
func (s *Store) Snapshot(utterances []model.Utterance) model.SessionSnapshot {
	return model.SessionSnapshot{
		SessionID:       s.id,
		StartedAt:       s.startedAt,
		TakenAt:         time.Now(),
		Utterances:      utterances,
		Tasks:           s.Tasks(),
		LastConsumedSeq: s.lastConsumed,
	}
}
