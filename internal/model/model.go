// Package model defines the shared domain types for the assist engine.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Speaker labels the source of an utterance.
type Speaker string

// Recognized speaker labels. SpeakerUnknown marks lines the transcription
// layer could not attribute.
const (
	SpeakerCustomer Speaker = "customer"
	SpeakerAgent    Speaker = "agent"
	SpeakerUnknown  Speaker = "speaker"
)

// ParseSpeaker normalizes and validates a speaker label.
func ParseSpeaker(value string) (Speaker, error) {
	switch Speaker(strings.ToLower(strings.TrimSpace(value))) {
	case SpeakerCustomer:
		return SpeakerCustomer, nil
	case SpeakerAgent:
		return SpeakerAgent, nil
	case SpeakerUnknown:
		return SpeakerUnknown, nil
	}
	return "", fmt.Errorf("unknown speaker %q", value)
}

// Utterance is a single speaker-labeled transcript line. Immutable once appended.
type Utterance struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
}

// SourceSpan is the inclusive utterance range a task was derived from.
type SourceSpan struct {
	FromSeq uint64 `json:"from_seq"`
	ToSeq   uint64 `json:"to_seq"`
}

// Valid reports whether the span is a usable, ordered range.
func (s SourceSpan) Valid() bool {
	return s.FromSeq > 0 && s.ToSeq >= s.FromSeq
}

// TaskState is the lifecycle state of a task.
type TaskState string

// Task lifecycle states. Ineligible, Completed, Failed and Rejected are
// terminal; Stalled carries the failed stage and attempt counter on the task.
const (
	TaskProposed         TaskState = "proposed"
	TaskVerifying        TaskState = "verifying"
	TaskVerified         TaskState = "verified"
	TaskValidating       TaskState = "validating"
	TaskEligible         TaskState = "eligible"
	TaskIneligible       TaskState = "ineligible"
	TaskAwaitingApproval TaskState = "awaiting_approval"
	TaskExecuting        TaskState = "executing"
	TaskCompleted        TaskState = "completed"
	TaskFailed           TaskState = "failed"
	TaskRejected         TaskState = "rejected"
	TaskStalled          TaskState = "stalled"
)

// Terminal reports whether no further transitions are possible from the state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskIneligible, TaskCompleted, TaskFailed, TaskRejected:
		return true
	}
	return false
}

// Stage identifies an adapter-backed pipeline stage.
type Stage string

// Pipeline stages, in order.
const (
	StageVerify   Stage = "verify"
	StageValidate Stage = "validate"
	StageExecute  Stage = "execute"
)

// Task kinds: lookup tasks are answered from the knowledge source, action
// tasks require an external action after approval.
const (
	KindLookup = "lookup"
	KindAction = "action"
)

// Urgency levels for a candidate task.
const (
	UrgencyLow    = "low"
	UrgencyMedium = "medium"
	UrgencyHigh   = "high"
)

// Categories is the closed list of issue categories the generator may emit.
var Categories = []string{
	"Order Status",
	"Refund Request",
	"Product Issue",
	"Account Help",
	"General Inquiry",
	"Complaint",
	"Shipping Issue",
	"Payment Issue",
}

// ValidCategory reports whether the category is in the closed list.
func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ValidUrgency reports whether the urgency is one of low/medium/high.
func ValidUrgency(urgency string) bool {
	switch urgency {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// CandidateTask is an unverified proposal produced by a task generator.
type CandidateTask struct {
	Description    string     `json:"description"`
	Span           SourceSpan `json:"span"`
	Category       string     `json:"category"`
	Urgency        string     `json:"urgency"`
	Kind           string     `json:"kind"`
	CustomerName   string     `json:"customer_name,omitempty"`
	OrderRef       string     `json:"order_ref,omitempty"`
	Plan           []string   `json:"plan,omitempty"`
	SuggestedReply string     `json:"suggested_reply,omitempty"`
}

// Validate checks the candidate is well formed enough to become a task.
func (c CandidateTask) Validate() error {
	if strings.TrimSpace(c.Description) == "" {
		return fmt.Errorf("description is empty")
	}
	if !c.Span.Valid() {
		return fmt.Errorf("span %d..%d is invalid", c.Span.FromSeq, c.Span.ToSeq)
	}
	if !ValidCategory(c.Category) {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	if !ValidUrgency(c.Urgency) {
		return fmt.Errorf("unknown urgency %q", c.Urgency)
	}
	if c.Kind != KindLookup && c.Kind != KindAction {
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	return nil
}

// EntityFact is the resolution result for one referenced entity.
type EntityFact struct {
	Ref   string            `json:"ref"`
	Found bool              `json:"found"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// VerifiedFacts is the structured outcome of the verification stage.
type VerifiedFacts struct {
	Entities   map[string]EntityFact `json:"entities"`
	Source     string                `json:"source,omitempty"`
	LookedUpAt time.Time             `json:"looked_up_at"`
}

// Entity returns the fact for an entity kind, with found=false when absent.
func (f VerifiedFacts) Entity(kind string) EntityFact {
	if f.Entities == nil {
		return EntityFact{}
	}
	return f.Entities[kind]
}

// PolicyVerdict is the outcome of the validation stage.
type PolicyVerdict struct {
	Eligible  bool     `json:"eligible"`
	Rationale string   `json:"rationale"`
	Rules     []string `json:"rules"`
}

// Action outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// ActionResult is the outcome of the execute stage.
type ActionResult struct {
	Outcome    string    `json:"outcome"`
	Reference  string    `json:"reference,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// TaskError records the last failure observed on a task.
type TaskError struct {
	Stage   Stage     `json:"stage"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Task is one candidate support task moving through the pipeline.
type Task struct {
	ID             string         `json:"id"`
	Span           SourceSpan     `json:"span"`
	Description    string         `json:"description"`
	Category       string         `json:"category"`
	Urgency        string         `json:"urgency"`
	Kind           string         `json:"kind"`
	CustomerName   string         `json:"customer_name,omitempty"`
	OrderRef       string         `json:"order_ref,omitempty"`
	Plan           []string       `json:"plan,omitempty"`
	SuggestedReply string         `json:"suggested_reply,omitempty"`
	State          TaskState      `json:"state"`
	StalledStage   Stage          `json:"stalled_stage,omitempty"`
	Attempts       map[Stage]int  `json:"attempts,omitempty"`
	Facts          *VerifiedFacts `json:"facts,omitempty"`
	Verdict        *PolicyVerdict `json:"verdict,omitempty"`
	Action         *ActionResult  `json:"action,omitempty"`
	LastError      *TaskError     `json:"last_error,omitempty"`
	Approved       bool           `json:"approved"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a deep copy so snapshots never alias live state.
func (t Task) Clone() Task {
	out := t
	if t.Plan != nil {
		out.Plan = append([]string(nil), t.Plan...)
	}
	if t.Attempts != nil {
		out.Attempts = make(map[Stage]int, len(t.Attempts))
		for stage, n := range t.Attempts {
			out.Attempts[stage] = n
		}
	}
	if t.Facts != nil {
		facts := *t.Facts
		if t.Facts.Entities != nil {
			facts.Entities = make(map[string]EntityFact, len(t.Facts.Entities))
			for kind, fact := range t.Facts.Entities {
				if fact.Attrs != nil {
					attrs := make(map[string]string, len(fact.Attrs))
					for k, v := range fact.Attrs {
						attrs[k] = v
					}
					fact.Attrs = attrs
				}
				facts.Entities[kind] = fact
			}
		}
		out.Facts = &facts
	}
	if t.Verdict != nil {
		verdict := *t.Verdict
		if t.Verdict.Rules != nil {
			verdict.Rules = append([]string(nil), t.Verdict.Rules...)
		}
		out.Verdict = &verdict
	}
	if t.Action != nil {
		action := *t.Action
		out.Action = &action
	}
	if t.LastError != nil {
		lastErr := *t.LastError
		out.LastError = &lastErr
	}
	if t.ApprovedAt != nil {
		at := *t.ApprovedAt
		out.ApprovedAt = &at
	}
	return out
}

// SessionSnapshot is an immutable point-in-time view of the whole session.
type SessionSnapshot struct {
	SessionID       string      `json:"session_id"`
	StartedAt       time.Time   `json:"started_at"`
	TakenAt         time.Time   `json:"taken_at"`
	Utterances      []Utterance `json:"utterances"`
	Tasks           []Task      `json:"tasks"`
	LastConsumedSeq uint64      `json:"last_consumed_seq"`
}

// Task returns the snapshot task with the given id, if present.
func (s SessionSnapshot) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
