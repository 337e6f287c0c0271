package transcript

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

func utter(seq uint64) model.Utterance {
	return model.Utterance{
		Speaker: model.SpeakerCustomer,
		Text:    fmt.Sprintf("line %d", seq),
		Seq:     seq,
		At:      time.Date(2026, 8, 24, 10, 30, int(seq), 0, time.UTC),
	}
}

func TestAppendRequiresContiguousSeq(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	if err := b.Append(utter(2)); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("first append with seq 2: error = %v, want ErrOutOfOrder", err)
	}
	if err := b.Append(utter(1)); err != nil {
		t.Fatalf("append seq 1: %v", err)
	}
	if err := b.Append(utter(3)); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("append seq 3 after 1: error = %v, want ErrOutOfOrder", err)
	}
	if err := b.Append(utter(1)); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("re-append seq 1: error = %v, want ErrOutOfOrder", err)
	}
	if b.Len() != 1 || b.MaxSeq() != 1 {
		t.Fatalf("buffer changed by rejected appends: len=%d max=%d", b.Len(), b.MaxSeq())
	}
}

func TestSinceReturnsOrderedSuffix(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	for seq := uint64(1); seq <= 5; seq++ {
		if err := b.Append(utter(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}

	tests := []struct {
		after uint64
		want  []uint64
	}{
		{after: 0, want: []uint64{1, 2, 3, 4, 5}},
		{after: 3, want: []uint64{4, 5}},
		{after: 5, want: nil},
		{after: 99, want: nil},
	}
	for _, tc := range tests {
		var got []uint64
		for u := range b.Since(tc.after) {
			got = append(got, u.Seq)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("Since(%d) = %v, want %v", tc.after, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("Since(%d) = %v, want %v", tc.after, got, tc.want)
			}
		}
	}

	// The sequence is restartable: a second pass yields the same result.
	seq := b.Since(3)
	for range 2 {
		n := 0
		for range seq {
			n++
		}
		if n != 2 {
			t.Fatalf("restarted Since(3) yielded %d utterances, want 2", n)
		}
	}
}

func TestSinceStopsWhenYieldReturnsFalse(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	for seq := uint64(1); seq <= 5; seq++ {
		if err := b.Append(utter(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	var got []uint64
	for u := range b.Since(0) {
		got = append(got, u.Seq)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("early break yielded %v", got)
	}
}

func TestLast(t *testing.T) {
	t.Parallel()

	b := NewBuffer()
	for seq := uint64(1); seq <= 3; seq++ {
		if err := b.Append(utter(seq)); err != nil {
			t.Fatalf("append %d: %v", seq, err)
		}
	}
	if got := b.Last(2); len(got) != 2 || got[0].Seq != 2 || got[1].Seq != 3 {
		t.Fatalf("Last(2) = %v", got)
	}
	if got := b.Last(10); len(got) != 3 {
		t.Fatalf("Last(10) yielded %d, want all 3", len(got))
	}
	if got := b.Last(0); got != nil {
		t.Fatalf("Last(0) = %v, want nil", got)
	}
}

func TestArchiverWritesTranscript(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := NewArchiver(dir)
	path, err := a.Archive("sess-1", []model.Utterance{utter(1), utter(2)})
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "[10:30:01] customer: line 1\n") ||
		!strings.Contains(content, "[10:30:02] customer: line 2\n") {
		t.Fatalf("archive content = %q", content)
	}

	if _, err := NewArchiver("").Archive("sess-1", nil); err == nil {
		t.Fatal("Archive with empty dir: error = nil, want error")
	}
}
