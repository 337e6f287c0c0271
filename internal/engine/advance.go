package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evanwires/sidekick/internal/model"
	"github.com/evanwires/sidekick/internal/session"
)

// Advance drives one task exactly one stage forward. Proposed tasks are
// verified, Verified tasks validated, Eligible tasks parked for approval,
// and approved tasks executed. Any other state is an InvalidTransition.
func (e *Engine) Advance(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.sess.Task(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	switch t.State {
	case model.TaskProposed:
		return e.dispatchLocked(ctx, id, model.StageVerify)
	case model.TaskVerified:
		return e.dispatchLocked(ctx, id, model.StageValidate)
	case model.TaskEligible:
		updated, err := e.sess.Transition(id, model.TaskAwaitingApproval, nil)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		e.mu.Unlock()
		return nil
	case model.TaskAwaitingApproval:
		if !t.Approved {
			e.mu.Unlock()
			return fmt.Errorf("task %s awaits approval: %w", id, model.ErrInvalidTransition)
		}
		return e.dispatchLocked(ctx, id, model.StageExecute)
	default:
		e.mu.Unlock()
		return fmt.Errorf("task %s in %s cannot advance: %w", id, t.State, model.ErrInvalidTransition)
	}
}

// Retry re-invokes the stage a stalled task failed at, reusing every prior
// successful stage output. Only valid from Stalled.
func (e *Engine) Retry(ctx context.Context, id string) error {
	e.mu.Lock()
	t, ok := e.sess.Task(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	if t.State != model.TaskStalled {
		e.mu.Unlock()
		return fmt.Errorf("task %s in %s cannot be retried: %w", id, t.State, model.ErrInvalidTransition)
	}
	stage := t.StalledStage
	if t.Attempts[stage] >= e.stageBudget(stage) {
		updated, err := e.sess.Transition(id, model.TaskFailed, func(task *model.Task) {
			task.LastError = &model.TaskError{
				Stage:   stage,
				Kind:    model.ErrorKind(model.ErrRetryBudgetExceeded),
				Message: fmt.Sprintf("%s stage exhausted %d attempts", stage, task.Attempts[stage]),
				At:      time.Now(),
			}
		})
		if err == nil {
			e.observer.TaskFinished(model.TaskFailed)
			e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		}
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, model.ErrRetryBudgetExceeded)
	}
	return e.dispatchLocked(ctx, id, stage)
}

// stageBudget returns the attempt budget for a stage. Execute is pinned to
// a single attempt so the action adapter can never be invoked twice.
func (e *Engine) stageBudget(stage model.Stage) int {
	if stage == model.StageExecute {
		return 1
	}
	return e.cfg.RetryMax
}

type stageResult struct {
	facts   model.VerifiedFacts
	verdict model.PolicyVerdict
	action  model.ActionResult
	err     error
}

// dispatchLocked moves the task into the stage's in-flight state, releases
// the engine lock for the adapter call, and applies the outcome afterwards.
// A result arriving after the task's generation moved on (reject, reset) is
// discarded. Called with e.mu held; always releases it.
func (e *Engine) dispatchLocked(ctx context.Context, id string, stage model.Stage) error {
	updated, err := e.sess.Transition(id, session.InFlightState(stage), func(task *model.Task) {
		if task.Attempts == nil {
			task.Attempts = make(map[model.Stage]int)
		}
		task.Attempts[stage]++
	})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	gen := e.sess.Generation(id)
	attempt := updated.Attempts[stage]
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	e.inflight[id] = cancel
	e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
	e.mu.Unlock()

	e.log.Debug().Str("task_id", id).Str("stage", string(stage)).Int("attempt", attempt).
		Msg("stage dispatched")

	start := time.Now()
	res := e.invoke(callCtx, stage, updated)
	cancel()
	elapsed := time.Since(start)

	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
	if e.sess.Generation(id) != gen {
		e.observer.StageObserved(stage, "stale", elapsed)
		e.log.Debug().Str("task_id", id).Str("stage", string(stage)).
			Msg("stale stage result discarded")
		return nil
	}
	return e.applyLocked(id, stage, attempt, res, elapsed)
}

// invoke runs the stage's adapter. Runs without the engine lock.
func (e *Engine) invoke(ctx context.Context, stage model.Stage, task model.Task) stageResult {
	var res stageResult
	switch stage {
	case model.StageVerify:
		res.facts, res.err = e.verifier.Verify(ctx, task)
	case model.StageValidate:
		var facts model.VerifiedFacts
		if task.Facts != nil {
			facts = *task.Facts
		}
		res.verdict, res.err = e.policy.Evaluate(ctx, task, facts)
	case model.StageExecute:
		res.action, res.err = e.action.Execute(ctx, task)
	}
	if res.err == nil && ctx.Err() != nil {
		res.err = ctx.Err()
	}
	return res
}

// applyLocked records a stage outcome on the task. Called with e.mu held.
func (e *Engine) applyLocked(id string, stage model.Stage, attempt int, res stageResult, elapsed time.Duration) error {
	switch stage {
	case model.StageVerify:
		if res.err != nil && !errors.Is(res.err, model.ErrNotFound) {
			return e.failStageLocked(id, stage, attempt, res.err, elapsed)
		}
		facts := res.facts
		notFound := res.err
		updated, err := e.sess.Transition(id, model.TaskVerified, func(task *model.Task) {
			task.Facts = &facts
			task.LastError = nil
			if notFound != nil {
				task.LastError = &model.TaskError{
					Stage:   stage,
					Kind:    model.ErrorKind(notFound),
					Message: notFound.Error(),
					At:      time.Now(),
				}
			}
		})
		if err != nil {
			return err
		}
		outcome := "ok"
		if notFound != nil {
			outcome = "not_found"
		}
		e.observer.StageObserved(stage, outcome, elapsed)
		e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		return nil

	case model.StageValidate:
		if res.err != nil {
			return e.failStageLocked(id, stage, attempt, res.err, elapsed)
		}
		verdict := res.verdict
		to := model.TaskEligible
		if !verdict.Eligible {
			to = model.TaskIneligible
		}
		updated, err := e.sess.Transition(id, to, func(task *model.Task) {
			task.Verdict = &verdict
			task.LastError = nil
		})
		if err != nil {
			return err
		}
		if to == model.TaskIneligible {
			e.observer.TaskFinished(model.TaskIneligible)
		}
		e.observer.StageObserved(stage, "ok", elapsed)
		e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		return nil

	case model.StageExecute:
		if res.err != nil {
			return e.failStageLocked(id, stage, attempt, res.err, elapsed)
		}
		action := res.action
		if action.Outcome != model.OutcomeSucceeded {
			updated, err := e.sess.Transition(id, model.TaskFailed, func(task *model.Task) {
				task.Action = &action
				task.LastError = &model.TaskError{
					Stage:   stage,
					Kind:    "action_failed",
					Message: fmt.Sprintf("action reported %s (ref %q)", action.Outcome, action.Reference),
					At:      time.Now(),
				}
			})
			if err != nil {
				return err
			}
			e.observer.StageObserved(stage, "failed", elapsed)
			e.observer.TaskFinished(model.TaskFailed)
			e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
			return nil
		}
		updated, err := e.sess.Transition(id, model.TaskCompleted, func(task *model.Task) {
			task.Action = &action
			task.LastError = nil
		})
		if err != nil {
			return err
		}
		e.observer.StageObserved(stage, "ok", elapsed)
		e.observer.TaskFinished(model.TaskCompleted)
		e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		return nil
	}
	return fmt.Errorf("unknown stage %q", stage)
}

// failStageLocked stalls the task on a retryable failure, or fails it for
// good when the stage's attempt budget is spent. Called with e.mu held.
func (e *Engine) failStageLocked(id string, stage model.Stage, attempt int, cause error, elapsed time.Duration) error {
	taskErr := model.TaskError{
		Stage:   stage,
		Kind:    model.ErrorKind(cause),
		Message: cause.Error(),
		At:      time.Now(),
	}

	if attempt >= e.stageBudget(stage) {
		taskErr.Kind = model.ErrorKind(model.ErrRetryBudgetExceeded)
		taskErr.Message = fmt.Sprintf("%s attempt %d/%d: %v", stage, attempt, e.stageBudget(stage), cause)
		updated, err := e.sess.Transition(id, model.TaskFailed, func(task *model.Task) {
			task.LastError = &taskErr
		})
		if err != nil {
			return err
		}
		e.observer.StageObserved(stage, "failed", elapsed)
		e.observer.TaskFinished(model.TaskFailed)
		e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
		e.log.Warn().Str("task_id", id).Str("stage", string(stage)).Err(cause).
			Msg("stage budget exhausted, task failed")
		return fmt.Errorf("task %s %s attempt %d: %w", id, stage, attempt, model.ErrRetryBudgetExceeded)
	}

	updated, err := e.sess.Transition(id, model.TaskStalled, func(task *model.Task) {
		task.StalledStage = stage
		task.LastError = &taskErr
	})
	if err != nil {
		return err
	}
	e.observer.StageObserved(stage, "stalled", elapsed)
	e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
	e.log.Warn().Str("task_id", id).Str("stage", string(stage)).Int("attempt", attempt).
		Err(cause).Msg("stage stalled")
	return cause
}
