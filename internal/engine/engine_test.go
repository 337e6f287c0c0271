package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

type stubGenerator struct {
	mu    sync.Mutex
	out   []model.CandidateTask
	err   error
	calls int
}

func (g *stubGenerator) Generate(_ context.Context, _ []model.Utterance) ([]model.CandidateTask, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.out, g.err
}

type stubVerifier struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, task model.Task) (model.VerifiedFacts, error)
	calls int
}

func (v *stubVerifier) Verify(ctx context.Context, task model.Task) (model.VerifiedFacts, error) {
	v.mu.Lock()
	v.calls++
	fn := v.fn
	v.mu.Unlock()
	if fn != nil {
		return fn(ctx, task)
	}
	return foundFacts("ORDER-12345"), nil
}

func (v *stubVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

type stubPolicy struct {
	mu    sync.Mutex
	fn    func(task model.Task, facts model.VerifiedFacts) (model.PolicyVerdict, error)
	calls int
}

func (p *stubPolicy) Evaluate(_ context.Context, task model.Task, facts model.VerifiedFacts) (model.PolicyVerdict, error) {
	p.mu.Lock()
	p.calls++
	fn := p.fn
	p.mu.Unlock()
	if fn != nil {
		return fn(task, facts)
	}
	return model.PolicyVerdict{Eligible: true, Rationale: "ok", Rules: []string{"default"}}, nil
}

type stubAction struct {
	mu     sync.Mutex
	result model.ActionResult
	err    error
	calls  []string
}

func (a *stubAction) Execute(_ context.Context, task model.Task) (model.ActionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, task.ID)
	if a.err != nil {
		return model.ActionResult{}, a.err
	}
	res := a.result
	if res.Outcome == "" {
		res = model.ActionResult{Outcome: model.OutcomeSucceeded, Reference: "REF-1", ExecutedAt: time.Now()}
	}
	return res, nil
}

func (a *stubAction) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func foundFacts(ref string) model.VerifiedFacts {
	return model.VerifiedFacts{
		Entities: map[string]model.EntityFact{
			"order": {Ref: ref, Found: true, Attrs: map[string]string{"status": "Shipped"}},
		},
		Source:     "test",
		LookedUpAt: time.Now(),
	}
}

func candidate(desc string, from, to uint64) model.CandidateTask {
	return model.CandidateTask{
		Description: desc,
		Span:        model.SourceSpan{FromSeq: from, ToSeq: to},
		Category:    "Order Status",
		Urgency:     model.UrgencyMedium,
		Kind:        model.KindAction,
		OrderRef:    "ORDER-12345",
	}
}

type testDeps struct {
	gen    *stubGenerator
	ver    *stubVerifier
	pol    *stubPolicy
	act    *stubAction
	engine *Engine
}

func newTestEngine(t *testing.T, cfg Config) *testDeps {
	t.Helper()
	d := &testDeps{
		gen: &stubGenerator{},
		ver: &stubVerifier{},
		pol: &stubPolicy{},
		act: &stubAction{},
	}
	eng, err := New(cfg, Deps{Generator: d.gen, Verifier: d.ver, Policy: d.pol, Action: d.act})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	d.engine = eng
	return d
}

func appendLines(t *testing.T, e *Engine, lines ...string) {
	t.Helper()
	for i, line := range lines {
		if _, err := e.AppendUtterance(model.SpeakerCustomer, line, uint64(i+1)); err != nil {
			t.Fatalf("AppendUtterance %d: %v", i+1, err)
		}
	}
}

// ingestOne runs one assistance pass expected to create a single task and
// returns its id.
func ingestOne(t *testing.T, d *testDeps) string {
	t.Helper()
	res, err := d.engine.RequestAssistance(context.Background())
	if err != nil {
		t.Fatalf("RequestAssistance: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("created = %d, want 1", res.Created)
	}
	snap := d.engine.Snapshot()
	return snap.Tasks[len(snap.Tasks)-1].ID
}

func taskState(t *testing.T, e *Engine, id string) model.Task {
	t.Helper()
	task, ok := e.Snapshot().Task(id)
	if !ok {
		t.Fatalf("task %s missing from snapshot", id)
	}
	return task
}

func TestAppendUtteranceOrdering(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})

	appendLines(t, d.engine, "hello", "my order is missing")
	if _, err := d.engine.AppendUtterance(model.SpeakerAgent, "skipping ahead", 5); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("out-of-order append error = %v, want ErrOutOfOrder", err)
	}
	snap := d.engine.Snapshot()
	if len(snap.Utterances) != 2 {
		t.Fatalf("utterances = %d, want 2 (buffer changed on rejected append)", len(snap.Utterances))
	}
}

func TestIngestDropsMalformedCandidateOnly(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	appendLines(t, d.engine, "where is my order", "it is ORDER-12345")

	d.gen.out = []model.CandidateTask{
		candidate("Check status of ORDER-12345", 1, 2),
		{Description: "", Span: model.SourceSpan{FromSeq: 1, ToSeq: 2}}, // malformed
	}
	res, err := d.engine.RequestAssistance(context.Background())
	if err != nil {
		t.Fatalf("RequestAssistance: %v", err)
	}
	if res.Created != 1 || res.Rejected != 1 {
		t.Fatalf("result = %+v, want 1 created / 1 rejected", res)
	}
}

func TestIngestDedupOverlappingCandidates(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{DedupSimilarity: 0.8})
	appendLines(t, d.engine, "where is my order", "it is ORDER-12345")

	d.gen.out = []model.CandidateTask{candidate("Check status of ORDER-12345", 1, 2)}
	if _, err := d.engine.RequestAssistance(context.Background()); err != nil {
		t.Fatalf("first assist: %v", err)
	}

	// Overlapping window re-proposes the same task plus one genuinely new.
	d.gen.out = []model.CandidateTask{
		candidate("Check the status of ORDER-12345", 1, 2),
		candidate("Process refund for damaged item", 1, 2),
	}
	res, err := d.engine.Ingest(context.Background(), d.engine.Snapshot().Utterances)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Created != 1 || res.Duplicates != 1 {
		t.Fatalf("result = %+v, want 1 created / 1 duplicate", res)
	}
	if got := d.engine.Snapshot(); len(got.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(got.Tasks))
	}
}

func TestPipelineHappyPath(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	appendLines(t, d.engine, "I want a refund for ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Process refund for ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance verify: %v", err)
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskVerified || task.Facts == nil || !task.Facts.Entity("order").Found {
		t.Fatalf("after verify: state=%s facts=%+v", task.State, task.Facts)
	}

	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance validate: %v", err)
	}
	task = taskState(t, d.engine, id)
	if task.State != model.TaskEligible || task.Verdict == nil || !task.Verdict.Eligible {
		t.Fatalf("after validate: state=%s verdict=%+v", task.State, task.Verdict)
	}
	if task.Action != nil {
		t.Fatal("action result set before approval")
	}

	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance to awaiting approval: %v", err)
	}
	if got := taskState(t, d.engine, id); got.State != model.TaskAwaitingApproval {
		t.Fatalf("state = %s, want awaiting_approval", got.State)
	}

	// Approval gate: advance without an approval signal is rejected.
	if err := d.engine.Advance(ctx, id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("advance unapproved error = %v, want ErrInvalidTransition", err)
	}

	if err := d.engine.Approve(id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance execute: %v", err)
	}
	task = taskState(t, d.engine, id)
	if task.State != model.TaskCompleted || task.Action == nil || task.Action.Outcome != model.OutcomeSucceeded {
		t.Fatalf("after execute: state=%s action=%+v", task.State, task.Action)
	}
	if d.act.callCount() != 1 {
		t.Fatalf("action calls = %d, want 1", d.act.callCount())
	}
	if d.ver.callCount() != 1 {
		t.Fatalf("verifier calls = %d, want 1 (stage re-entered)", d.ver.callCount())
	}
}

func TestInvalidOperationsLeaveTaskUnmodified(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	appendLines(t, d.engine, "check ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Check ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	before := taskState(t, d.engine, id)
	if err := d.engine.Retry(ctx, id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("retry on proposed error = %v, want ErrInvalidTransition", err)
	}
	if err := d.engine.Approve(id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("approve on proposed error = %v, want ErrInvalidTransition", err)
	}
	if err := d.engine.Reject(id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("reject on proposed error = %v, want ErrInvalidTransition", err)
	}
	after := taskState(t, d.engine, id)
	if after.State != before.State || !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("rejected operation modified the task")
	}

	if err := d.engine.Advance(ctx, "task-missing"); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("advance on unknown id error = %v, want ErrInvalidTransition", err)
	}
}

func TestVerifierTimeoutStallsThenFails(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{StageTimeout: 20 * time.Millisecond})
	d.ver.fn = func(ctx context.Context, _ model.Task) (model.VerifiedFacts, error) {
		<-ctx.Done()
		return model.VerifiedFacts{}, ctx.Err()
	}
	appendLines(t, d.engine, "check ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Check ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	if err := d.engine.Advance(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("advance error = %v, want deadline exceeded", err)
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskStalled || task.StalledStage != model.StageVerify || task.Attempts[model.StageVerify] != 1 {
		t.Fatalf("after timeout: state=%s stage=%s attempts=%v", task.State, task.StalledStage, task.Attempts)
	}
	if task.LastError == nil || task.LastError.Kind != "timeout" {
		t.Fatalf("last error = %+v, want timeout kind", task.LastError)
	}

	// Second timeout stalls again, the third exhausts the budget.
	if err := d.engine.Retry(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("first retry error = %v", err)
	}
	if err := d.engine.Retry(ctx, id); !errors.Is(err, model.ErrRetryBudgetExceeded) {
		t.Fatalf("second retry error = %v, want ErrRetryBudgetExceeded", err)
	}
	task = taskState(t, d.engine, id)
	if task.State != model.TaskFailed || task.LastError == nil || task.LastError.Kind != "retry_budget_exceeded" {
		t.Fatalf("after budget: state=%s err=%+v", task.State, task.LastError)
	}

	if err := d.engine.Retry(ctx, id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("retry on failed task error = %v, want ErrInvalidTransition", err)
	}
	if d.act.callCount() != 0 {
		t.Fatalf("action calls = %d, want 0", d.act.callCount())
	}
}

func TestNotFoundProceedsWithNotFoundFacts(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	d.ver.fn = func(_ context.Context, task model.Task) (model.VerifiedFacts, error) {
		facts := model.VerifiedFacts{
			Entities:   map[string]model.EntityFact{"order": {Ref: task.OrderRef, Found: false}},
			LookedUpAt: time.Now(),
		}
		return facts, fmt.Errorf("order %s: %w", task.OrderRef, model.ErrNotFound)
	}
	appendLines(t, d.engine, "check ORDER-99999")
	d.gen.out = []model.CandidateTask{candidate("Check ORDER-99999", 1, 1)}
	id := ingestOne(t, d)

	if err := d.engine.Advance(context.Background(), id); err != nil {
		t.Fatalf("advance verify: %v", err)
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskVerified {
		t.Fatalf("state = %s, want verified (not-found is nonfatal)", task.State)
	}
	if task.Facts == nil || task.Facts.Entity("order").Found {
		t.Fatalf("facts = %+v, want found=false", task.Facts)
	}
	if task.LastError == nil || task.LastError.Kind != "not_found" {
		t.Fatalf("last error = %+v, want not_found", task.LastError)
	}
}

func TestIneligibleTaskNeverExecutes(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	d.pol.fn = func(model.Task, model.VerifiedFacts) (model.PolicyVerdict, error) {
		return model.PolicyVerdict{Eligible: false, Rationale: "order already cancelled", Rules: []string{"refund-needs-live-order"}}, nil
	}
	appendLines(t, d.engine, "refund ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Refund ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance verify: %v", err)
	}
	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance validate: %v", err)
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskIneligible {
		t.Fatalf("state = %s, want ineligible", task.State)
	}
	if err := d.engine.Approve(id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("approve ineligible error = %v, want ErrInvalidTransition", err)
	}
	if err := d.engine.Advance(ctx, id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("advance ineligible error = %v, want ErrInvalidTransition", err)
	}
	if task.Action != nil || d.act.callCount() != 0 {
		t.Fatalf("action invoked for ineligible task (calls=%d)", d.act.callCount())
	}
}

func TestStalledValidationReplaysSameVerdict(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	var verdicts []model.PolicyVerdict
	fail := true
	d.pol.fn = func(task model.Task, facts model.VerifiedFacts) (model.PolicyVerdict, error) {
		if fail {
			fail = false
			return model.PolicyVerdict{}, errors.New("rule store unreachable")
		}
		// Pure function of (task, facts): derived from inputs only.
		v := model.PolicyVerdict{
			Eligible:  facts.Entity("order").Found,
			Rationale: "order " + facts.Entity("order").Ref,
			Rules:     []string{"refund-needs-live-order"},
		}
		verdicts = append(verdicts, v)
		return v, nil
	}
	appendLines(t, d.engine, "refund ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Refund ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	if err := d.engine.Advance(ctx, id); err != nil {
		t.Fatalf("advance verify: %v", err)
	}
	factsBefore := *taskState(t, d.engine, id).Facts

	if err := d.engine.Advance(ctx, id); err == nil {
		t.Fatal("advance validate error = nil, want transient failure")
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskStalled || task.StalledStage != model.StageValidate {
		t.Fatalf("state = %s/%s, want stalled validate", task.State, task.StalledStage)
	}

	if err := d.engine.Retry(ctx, id); err != nil {
		t.Fatalf("retry validate: %v", err)
	}
	task = taskState(t, d.engine, id)
	if task.State != model.TaskEligible {
		t.Fatalf("state = %s, want eligible", task.State)
	}
	// Retry reused the verify stage's output: verifier ran once, and the
	// facts fed to the replayed validation are the originals.
	if d.ver.callCount() != 1 {
		t.Fatalf("verifier calls = %d, want 1", d.ver.callCount())
	}
	if got := task.Facts.Entity("order").Ref; got != factsBefore.Entity("order").Ref {
		t.Fatalf("facts ref changed across retry: %q", got)
	}
	if len(verdicts) != 1 || task.Verdict.Rationale != verdicts[0].Rationale {
		t.Fatalf("verdict = %+v, want replayed %+v", task.Verdict, verdicts)
	}
}

func TestActionInvokedAtMostOnce(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	d.act.err = errors.New("portal connection reset")
	appendLines(t, d.engine, "refund ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Refund ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()

	for range 3 {
		if err := d.engine.Advance(ctx, id); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	if err := d.engine.Approve(id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Double-approve is rejected.
	if err := d.engine.Approve(id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("second approve error = %v, want ErrInvalidTransition", err)
	}

	// The execute budget is one attempt: a failure goes straight to Failed.
	if err := d.engine.Advance(ctx, id); !errors.Is(err, model.ErrRetryBudgetExceeded) {
		t.Fatalf("advance execute error = %v, want ErrRetryBudgetExceeded", err)
	}
	task := taskState(t, d.engine, id)
	if task.State != model.TaskFailed {
		t.Fatalf("state = %s, want failed", task.State)
	}
	if err := d.engine.Retry(ctx, id); !errors.Is(err, model.ErrInvalidTransition) {
		t.Fatalf("retry after execute failure error = %v, want ErrInvalidTransition", err)
	}
	if d.act.callCount() != 1 {
		t.Fatalf("action calls = %d, want exactly 1", d.act.callCount())
	}
}

func TestResetDiscardsLateAdapterResult(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{StageTimeout: time.Second})
	release := make(chan struct{})
	d.ver.fn = func(ctx context.Context, _ model.Task) (model.VerifiedFacts, error) {
		select {
		case <-release:
			return foundFacts("ORDER-12345"), nil
		case <-ctx.Done():
			return model.VerifiedFacts{}, ctx.Err()
		}
	}
	appendLines(t, d.engine, "check ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Check ORDER-12345", 1, 1)}
	id := ingestOne(t, d)

	done := make(chan error, 1)
	go func() { done <- d.engine.Advance(context.Background(), id) }()

	// Wait for the verify call to be in flight, then tear the session down.
	deadline := time.After(time.Second)
	for d.ver.callCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("verifier never invoked")
		case <-time.After(time.Millisecond):
		}
	}
	oldSession := d.engine.SessionID()
	if err := d.engine.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	close(release)
	<-done // canceled or discarded, either way no state may leak

	snap := d.engine.Snapshot()
	if snap.SessionID == oldSession {
		t.Fatal("session id unchanged after reset")
	}
	if len(snap.Tasks) != 0 || len(snap.Utterances) != 0 {
		t.Fatalf("fresh session has %d tasks / %d utterances", len(snap.Tasks), len(snap.Utterances))
	}
}

func TestEventStreamCarriesFullTasks(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{})
	events, cancel := d.engine.Subscribe()
	defer cancel()

	appendLines(t, d.engine, "refund ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Refund ORDER-12345", 1, 1)}
	id := ingestOne(t, d)
	ctx := context.Background()
	for range 3 {
		if err := d.engine.Advance(ctx, id); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	var lastSeq uint64
	var sawCreated bool
	var lastTaskState model.TaskState
	for {
		select {
		case ev := <-events:
			if ev.Seq <= lastSeq {
				t.Fatalf("event seq %d not increasing past %d", ev.Seq, lastSeq)
			}
			lastSeq = ev.Seq
			switch ev.Type {
			case EventTaskCreated:
				sawCreated = true
				if ev.Task == nil || ev.Task.ID != id || ev.Task.Description == "" {
					t.Fatalf("task_created event missing full task: %+v", ev.Task)
				}
			case EventTaskUpdated:
				if ev.Task == nil {
					t.Fatal("task_updated event without task payload")
				}
				lastTaskState = ev.Task.State
			}
		default:
			if !sawCreated {
				t.Fatal("no task_created event observed")
			}
			if lastTaskState != model.TaskAwaitingApproval {
				t.Fatalf("last published state = %s, want awaiting_approval", lastTaskState)
			}
			return
		}
	}
}

func TestAutoAdvanceRunsToApprovalGate(t *testing.T) {
	t.Parallel()
	d := newTestEngine(t, Config{AutoAdvance: true})
	appendLines(t, d.engine, "refund ORDER-12345")
	d.gen.out = []model.CandidateTask{candidate("Refund ORDER-12345", 1, 1)}
	id := ingestOne(t, d)

	waitForState(t, d.engine, id, model.TaskAwaitingApproval)
	if d.act.callCount() != 0 {
		t.Fatalf("action ran before approval (calls=%d)", d.act.callCount())
	}

	if err := d.engine.Approve(id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	waitForState(t, d.engine, id, model.TaskCompleted)
	if d.act.callCount() != 1 {
		t.Fatalf("action calls = %d, want 1", d.act.callCount())
	}
}

func waitForState(t *testing.T, e *Engine, id string, want model.TaskState) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		task, ok := e.Snapshot().Task(id)
		if ok && task.State == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached %s (now %s)", id, want, task.State)
		case <-time.After(2 * time.Millisecond):
		}
	}
}
