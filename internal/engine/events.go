package engine

import (
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

// Event types published on the engine's event stream.
const (
	EventTaskCreated       = "task_created"
	EventTaskUpdated       = "task_updated"
	EventUtteranceAppended = "utterance_appended"
	EventSessionReset      = "session_reset"
)

// Event is one state change. Task events carry the full updated task so a
// renderer never reconstructs partial state. Seq increases monotonically
// per engine.
type Event struct {
	Seq       uint64           `json:"seq"`
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	At        time.Time        `json:"at"`
	Task      *model.Task      `json:"task,omitempty"`
	Utterance *model.Utterance `json:"utterance,omitempty"`
}

// subscriberBuffer is per-subscriber; a subscriber that falls this far
// behind starts losing events and should resynchronize from a snapshot.
const subscriberBuffer = 64

// Subscribe registers an event stream consumer. The returned cancel
// function releases the subscription; the channel is closed on engine
// Close.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, subscriberBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if sub, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(sub)
		}
	}
}

// publishLocked stamps and fans an event out to every subscriber without
// blocking. Called with e.mu held.
func (e *Engine) publishLocked(ev Event) {
	ev.SessionID = e.sess.ID()
	ev.At = time.Now()

	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.eventSeq++
	ev.Seq = e.eventSeq
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			e.log.Warn().Uint64("seq", ev.Seq).Str("type", ev.Type).
				Msg("slow subscriber, event dropped")
		}
	}
}
