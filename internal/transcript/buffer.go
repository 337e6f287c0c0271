// Package transcript maintains the append-only utterance log for one conversation.
package transcript

import (
	"fmt"
	"iter"

	"github.com/evanwires/sidekick/internal/model"
)

// Buffer is a strictly ordered, append-only utterance log. Sequence numbers
// are contiguous starting at 1. The buffer is not safe for concurrent use;
// the engine serializes all access.
type Buffer struct {
	utterances []model.Utterance
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds an utterance whose seq is exactly MaxSeq()+1. Anything else is
// rejected and the buffer is left unchanged.
func (b *Buffer) Append(u model.Utterance) error {
	want := b.MaxSeq() + 1
	if u.Seq != want {
		return fmt.Errorf("%w: seq %d, want %d", model.ErrOutOfOrder, u.Seq, want)
	}
	b.utterances = append(b.utterances, u)
	return nil
}

// Since returns a lazy, restartable sequence of utterances with seq greater
// than after, in order.
func (b *Buffer) Since(after uint64) iter.Seq[model.Utterance] {
	return func(yield func(model.Utterance) bool) {
		start := min(int(after), len(b.utterances))
		for _, u := range b.utterances[start:] {
			if !yield(u) {
				return
			}
		}
	}
}

// Last returns copies of the trailing n utterances.
func (b *Buffer) Last(n int) []model.Utterance {
	if n <= 0 {
		return nil
	}
	start := max(len(b.utterances)-n, 0)
	out := make([]model.Utterance, len(b.utterances)-start)
	copy(out, b.utterances[start:])
	return out
}

// All returns a copy of every utterance in order.
func (b *Buffer) All() []model.Utterance {
	out := make([]model.Utterance, len(b.utterances))
	copy(out, b.utterances)
	return out
}

// Len returns the number of utterances.
func (b *Buffer) Len() int {
	return len(b.utterances)
}

// MaxSeq returns the highest appended seq, or 0 for an empty buffer.
func (b *Buffer) MaxSeq() uint64 {
	if len(b.utterances) == 0 {
		return 0
	}
	return b.utterances[len(b.utterances)-1].Seq
}
