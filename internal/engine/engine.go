// Package engine implements the orchestration core: it owns the transcript
// buffer and session store, drives each task through the
// verify -> validate -> execute pipeline, and publishes state changes to
// observers. All session mutations happen under one mutex; adapter calls
// run outside it, concurrently across tasks but never for the same task.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
	"github.com/evanwires/sidekick/internal/session"
	"github.com/evanwires/sidekick/internal/transcript"
)

// Window selection strategies for requestAssistance.
const (
	WindowUnconsumed = "unconsumed"
	WindowLastN      = "last_n"
)

// Generator proposes candidate tasks from a transcript window.
type Generator interface {
	Generate(ctx context.Context, window []model.Utterance) ([]model.CandidateTask, error)
}

// Verifier resolves a task's entity references against the knowledge source.
type Verifier interface {
	Verify(ctx context.Context, task model.Task) (model.VerifiedFacts, error)
}

// Policy evaluates eligibility rules. It must be a pure function of the
// task and facts so a retried validation replays to the same verdict.
type Policy interface {
	Evaluate(ctx context.Context, task model.Task, facts model.VerifiedFacts) (model.PolicyVerdict, error)
}

// Action executes an approved task against an external system. The engine
// guarantees at most one Execute call per task id.
type Action interface {
	Execute(ctx context.Context, task model.Task) (model.ActionResult, error)
}

// Archiver persists the transcript of a finished session.
type Archiver interface {
	Archive(sessionID string, utterances []model.Utterance) (string, error)
}

// Config tunes pipeline behavior. Zero values fall back to defaults.
type Config struct {
	RetryMax        int
	StageTimeout    time.Duration
	AutoAdvance     bool
	DedupSimilarity float64
	WindowStrategy  string
	WindowLastN     int
}

func (c Config) withDefaults() Config {
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.StageTimeout <= 0 {
		c.StageTimeout = 10 * time.Second
	}
	if c.DedupSimilarity <= 0 {
		c.DedupSimilarity = 0.85
	}
	if c.WindowStrategy == "" {
		c.WindowStrategy = WindowUnconsumed
	}
	if c.WindowLastN <= 0 {
		c.WindowLastN = 12
	}
	return c
}

// Deps are the engine's external collaborators. Generator, Verifier,
// Policy and Action are required; Archiver and Observer are optional.
type Deps struct {
	Generator Generator
	Verifier  Verifier
	Policy    Policy
	Action    Action
	Archiver  Archiver
	Observer  Observer
}

// Engine is the single-session orchestrator.
type Engine struct {
	cfg       Config
	generator Generator
	verifier  Verifier
	policy    Policy
	action    Action
	archiver  Archiver
	observer  Observer
	log       zerolog.Logger

	mu       sync.Mutex
	buffer   *transcript.Buffer
	sess     *session.Store
	inflight map[string]context.CancelFunc
	closed   bool

	subMu    sync.Mutex
	subs     map[int]chan Event
	nextSub  int
	eventSeq uint64
}

// New constructs an engine around the given adapters.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Generator == nil || deps.Verifier == nil || deps.Policy == nil || deps.Action == nil {
		return nil, fmt.Errorf("engine requires generator, verifier, policy and action adapters")
	}
	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		generator: deps.Generator,
		verifier:  deps.Verifier,
		policy:    deps.Policy,
		action:    deps.Action,
		archiver:  deps.Archiver,
		observer:  obs,
		log:       logging.Component("engine"),
		buffer:    transcript.NewBuffer(),
		sess:      session.New(),
		inflight:  make(map[string]context.CancelFunc),
		subs:      make(map[int]chan Event),
	}, nil
}

// SessionID returns the current session identifier.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.ID()
}

// AppendUtterance appends one transcript line. The sequence number must be
// exactly one past the current maximum.
func (e *Engine) AppendUtterance(speaker model.Speaker, text string, seq uint64) (model.Utterance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return model.Utterance{}, fmt.Errorf("engine is closed")
	}
	u := model.Utterance{Speaker: speaker, Text: text, Seq: seq, At: time.Now()}
	if err := e.buffer.Append(u); err != nil {
		return model.Utterance{}, err
	}
	e.observer.UtteranceAppended(speaker)
	e.publishLocked(Event{Type: EventUtteranceAppended, Utterance: &u})
	return u, nil
}

// IngestResult summarizes one generator pass.
type IngestResult struct {
	Created    int `json:"created"`
	Rejected   int `json:"rejected"`
	Duplicates int `json:"duplicates"`
}

// RequestAssistance selects the transcript window per the configured
// strategy and runs the task generator over it.
func (e *Engine) RequestAssistance(ctx context.Context) (IngestResult, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return IngestResult{}, fmt.Errorf("engine is closed")
	}
	var window []model.Utterance
	switch e.cfg.WindowStrategy {
	case WindowLastN:
		window = e.buffer.Last(e.cfg.WindowLastN)
	default:
		for u := range e.buffer.Since(e.sess.LastConsumed()) {
			window = append(window, u)
		}
	}
	e.mu.Unlock()

	res, err := e.Ingest(ctx, window)
	if err != nil {
		return res, err
	}

	e.mu.Lock()
	if len(window) > 0 {
		e.sess.SetLastConsumed(window[len(window)-1].Seq)
	}
	e.mu.Unlock()
	return res, nil
}

// Ingest runs the task generator over an explicit window and creates a
// Proposed task per non-duplicate, well-formed candidate. A malformed
// candidate is dropped individually; the rest of the batch proceeds.
func (e *Engine) Ingest(ctx context.Context, window []model.Utterance) (IngestResult, error) {
	if len(window) == 0 {
		return IngestResult{}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()
	candidates, err := e.generator.Generate(genCtx, window)
	if err != nil {
		return IngestResult{}, fmt.Errorf("generate candidates: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return IngestResult{}, fmt.Errorf("engine is closed")
	}

	var res IngestResult
	var created []string
	for _, c := range candidates {
		if err := c.Validate(); err != nil {
			res.Rejected++
			e.log.Warn().Err(fmt.Errorf("%w: %w", model.ErrGenerationRejected, err)).
				Str("description", c.Description).Msg("candidate rejected")
			continue
		}
		if e.duplicateLocked(c) {
			res.Duplicates++
			continue
		}
		task := taskFromCandidate(c)
		if err := e.sess.Add(task); err != nil {
			res.Rejected++
			continue
		}
		e.observer.TaskCreated(task.Category)
		e.publishLocked(Event{Type: EventTaskCreated, Task: &task})
		created = append(created, task.ID)
		res.Created++
	}

	if e.cfg.AutoAdvance {
		for _, id := range created {
			go e.runTask(id)
		}
	}
	return res, nil
}

// duplicateLocked applies the dedup policy: identical source span and a
// description similarity at or above the configured threshold.
func (e *Engine) duplicateLocked(c model.CandidateTask) bool {
	for _, t := range e.sess.Tasks() {
		if t.Span == c.Span && similarity(t.Description, c.Description) >= e.cfg.DedupSimilarity {
			return true
		}
	}
	return false
}

func taskFromCandidate(c model.CandidateTask) model.Task {
	now := time.Now()
	return model.Task{
		ID:             "task-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		Span:           c.Span,
		Description:    c.Description,
		Category:       c.Category,
		Urgency:        c.Urgency,
		Kind:           c.Kind,
		CustomerName:   c.CustomerName,
		OrderRef:       c.OrderRef,
		Plan:           append([]string(nil), c.Plan...),
		SuggestedReply: c.SuggestedReply,
		State:          model.TaskProposed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Approve records the agent's approval for an eligible task, exactly once,
// and (with auto-advance) triggers execution.
func (e *Engine) Approve(id string) error {
	e.mu.Lock()
	t, ok := e.sess.Task(id)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	if t.State != model.TaskEligible && t.State != model.TaskAwaitingApproval {
		e.mu.Unlock()
		return fmt.Errorf("task %s in %s cannot be approved: %w", id, t.State, model.ErrInvalidTransition)
	}
	if t.Approved {
		e.mu.Unlock()
		return fmt.Errorf("task %s already approved: %w", id, model.ErrInvalidTransition)
	}
	if t.State == model.TaskEligible {
		if _, err := e.sess.Transition(id, model.TaskAwaitingApproval, nil); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	now := time.Now()
	updated, err := e.sess.Update(id, func(task *model.Task) {
		task.Approved = true
		task.ApprovedAt = &now
	})
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
	auto := e.cfg.AutoAdvance
	e.mu.Unlock()

	e.log.Info().Str("task_id", id).Msg("task approved")
	if auto {
		go e.runTask(id)
	}
	return nil
}

// Reject terminally dismisses a task awaiting the agent's decision and
// cancels any in-flight adapter call tied to it.
func (e *Engine) Reject(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.sess.Task(id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, model.ErrInvalidTransition)
	}
	if t.State != model.TaskEligible && t.State != model.TaskAwaitingApproval {
		return fmt.Errorf("task %s in %s cannot be rejected: %w", id, t.State, model.ErrInvalidTransition)
	}
	updated, err := e.sess.Transition(id, model.TaskRejected, nil)
	if err != nil {
		return err
	}
	if cancel, ok := e.inflight[id]; ok {
		cancel()
		delete(e.inflight, id)
	}
	e.observer.TaskFinished(model.TaskRejected)
	e.publishLocked(Event{Type: EventTaskUpdated, Task: &updated})
	e.log.Info().Str("task_id", id).Msg("task rejected")
	return nil
}

// Snapshot returns an immutable, point-in-time view of the whole session.
func (e *Engine) Snapshot() model.SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Snapshot(e.buffer.All())
}

// Reset archives the transcript, cancels all in-flight adapter calls, and
// starts a fresh session.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("engine is closed")
	}
	e.archiveLocked()
	e.cancelAllLocked()
	e.buffer = transcript.NewBuffer()
	e.sess = session.New()
	e.publishLocked(Event{Type: EventSessionReset})
	e.log.Info().Str("session_id", e.sess.ID()).Msg("session reset")
	return nil
}

// Close archives the transcript, cancels in-flight calls, and shuts the
// event stream down. The engine accepts no further operations.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.archiveLocked()
	e.cancelAllLocked()
	e.mu.Unlock()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		close(ch)
		delete(e.subs, id)
	}
	return nil
}

func (e *Engine) archiveLocked() {
	if e.archiver == nil {
		return
	}
	utterances := e.buffer.All()
	if len(utterances) == 0 {
		return
	}
	path, err := e.archiver.Archive(e.sess.ID(), utterances)
	if err != nil {
		e.log.Warn().Err(err).Msg("transcript archive failed")
		return
	}
	e.log.Info().Str("path", path).Msg("transcript archived")
}

func (e *Engine) cancelAllLocked() {
	for id, cancel := range e.inflight {
		cancel()
		delete(e.inflight, id)
	}
}

// runTask drives one task forward until it blocks: awaiting approval,
// stalled, or terminal.
func (e *Engine) runTask(id string) {
	for {
		if err := e.Advance(context.Background(), id); err != nil {
			return
		}
		e.mu.Lock()
		t, ok := e.sess.Task(id)
		e.mu.Unlock()
		if !ok || t.State.Terminal() || t.State == model.TaskStalled {
			return
		}
		if t.State == model.TaskAwaitingApproval && !t.Approved {
			return
		}
	}
}
