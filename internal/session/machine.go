package session

import (
	"fmt"
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

// allowed is the task state machine. A transition absent from the table is
// an InvalidTransition. Terminal states have no outgoing edges. Stalled
// re-enters only the in-flight state named by the task's stalled stage;
// Transition enforces that separately.
var allowed = map[model.TaskState][]model.TaskState{
	model.TaskProposed:         {model.TaskVerifying},
	model.TaskVerifying:        {model.TaskVerified, model.TaskStalled, model.TaskFailed},
	model.TaskVerified:         {model.TaskValidating},
	model.TaskValidating:       {model.TaskEligible, model.TaskIneligible, model.TaskStalled, model.TaskFailed},
	model.TaskEligible:         {model.TaskAwaitingApproval, model.TaskRejected},
	model.TaskAwaitingApproval: {model.TaskExecuting, model.TaskRejected},
	model.TaskExecuting:        {model.TaskCompleted, model.TaskFailed, model.TaskStalled},
	model.TaskStalled:          {model.TaskVerifying, model.TaskValidating, model.TaskExecuting, model.TaskFailed},
}

// inFlight maps each pipeline stage to the state a task occupies while its
// adapter call is outstanding.
var inFlight = map[model.Stage]model.TaskState{
	model.StageVerify:   model.TaskVerifying,
	model.StageValidate: model.TaskValidating,
	model.StageExecute:  model.TaskExecuting,
}

// InFlightState returns the state a task holds while the stage's adapter
// call is outstanding.
func InFlightState(stage model.Stage) model.TaskState {
	return inFlight[stage]
}

// CanTransition reports whether the state machine permits from → to.
func CanTransition(from, to model.TaskState) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves a task to a new state, applying any payload mutation
// atomically with the state change. It returns a deep copy of the updated
// task for publishing. An illegal edge returns ErrInvalidTransition and
// leaves the task untouched.
func (s *Store) Transition(id string, to model.TaskState, apply func(*model.Task)) (model.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	if !CanTransition(t.State, to) {
		return model.Task{}, fmt.Errorf("task %s: %s -> %s: %w", id, t.State, to, model.ErrInvalidTransition)
	}
	if t.State == model.TaskStalled && to != model.TaskFailed && to != inFlight[t.StalledStage] {
		return model.Task{}, fmt.Errorf("task %s: stalled at %s, cannot enter %s: %w",
			id, t.StalledStage, to, model.ErrInvalidTransition)
	}
	t.State = to
	if to != model.TaskStalled {
		t.StalledStage = ""
	}
	if apply != nil {
		apply(t)
	}
	t.UpdatedAt = time.Now()
	s.generations[id]++
	return t.Clone(), nil
}

// Update mutates a task without a state change (approval flag, attempt
// counters). The generation counter still advances.
func (s *Store) Update(id string, apply func(*model.Task)) (model.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return model.Task{}, fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	apply(t)
	t.UpdatedAt = time.Now()
	s.generations[id]++
	return t.Clone(), nil
}
