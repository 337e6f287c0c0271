package generate

import (
	"errors"
	"testing"

	"github.com/evanwires/sidekick/internal/model"
)

func TestDecodeCandidatesValidPayload(t *testing.T) {
	t.Parallel()

	raw := []byte("```json\n" + `{
		"tasks": [{
			"description": "Process refund for ORDER-12345",
			"from_seq": 2, "to_seq": 4,
			"category": "Refund Request",
			"urgency": "high",
			"kind": "action",
			"customer_name": "Jane Smith",
			"order_ref": "ORDER-12345",
			"plan": ["Verify the order", "Submit the refund"],
			"suggested_reply": "Let me check that for you."
		}]
	}` + "\n```")

	got, err := decodeCandidates(raw, model.SourceSpan{FromSeq: 1, ToSeq: 9})
	if err != nil {
		t.Fatalf("decodeCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want 1", len(got))
	}
	c := got[0]
	if c.Span != (model.SourceSpan{FromSeq: 2, ToSeq: 4}) {
		t.Fatalf("span = %+v", c.Span)
	}
	if c.Category != "Refund Request" || c.Kind != model.KindAction || c.Urgency != model.UrgencyHigh {
		t.Fatalf("candidate = %+v", c)
	}
	if len(c.Plan) != 2 || c.CustomerName != "Jane Smith" {
		t.Fatalf("candidate enrichment = %+v", c)
	}
}

func TestDecodeCandidatesSpanFallback(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"tasks": [{
		"description": "Look up status of ORDER-12345",
		"category": "Order Status", "urgency": "medium", "kind": "lookup"
	}]}`)

	got, err := decodeCandidates(raw, model.SourceSpan{FromSeq: 3, ToSeq: 7})
	if err != nil {
		t.Fatalf("decodeCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Span != (model.SourceSpan{FromSeq: 3, ToSeq: 7}) {
		t.Fatalf("candidates = %+v, want window-span fallback", got)
	}
}

func TestDecodeCandidatesMalformedPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "no json", raw: "I could not find any tasks, sorry!"},
		{name: "wrong shape", raw: `{"candidates": []}`},
		{name: "tasks not objects", raw: `{"tasks": ["do a refund"]}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := decodeCandidates([]byte(tc.raw), model.SourceSpan{FromSeq: 1, ToSeq: 1})
			if !errors.Is(err, model.ErrGenerationRejected) {
				t.Fatalf("error = %v, want ErrGenerationRejected", err)
			}
		})
	}
}

func TestDecodeCandidatesDropsInvalidCandidateOnly(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"tasks": [
		{"description": "x", "category": "Telepathy", "urgency": "low", "kind": "lookup"},
		{"description": "Look up status of ORDER-12345", "category": "Order Status", "urgency": "medium", "kind": "lookup"}
	]}`)

	got, err := decodeCandidates(raw, model.SourceSpan{FromSeq: 1, ToSeq: 1})
	if err != nil {
		t.Fatalf("decodeCandidates: %v", err)
	}
	if len(got) != 1 || got[0].Category != "Order Status" {
		t.Fatalf("candidates = %+v, want only the valid one", got)
	}
}

func TestDecodeCandidatesEmptyTaskList(t *testing.T) {
	t.Parallel()

	got, err := decodeCandidates([]byte(`{"tasks": []}`), model.SourceSpan{FromSeq: 1, ToSeq: 1})
	if err != nil {
		t.Fatalf("decodeCandidates: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("candidates = %v, want none", got)
	}
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "bare object", in: `{"tasks": []}`, want: `{"tasks": []}`, ok: true},
		{name: "fenced", in: "```json\n{\"tasks\": []}\n```", want: `{"tasks": []}`, ok: true},
		{name: "surrounding prose", in: "Here you go: {\"tasks\": []} hope that helps", want: `{"tasks": []}`, ok: true},
		{name: "no object", in: "nothing to see", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := extractJSON([]byte(tc.in))
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && string(got) != tc.want {
				t.Fatalf("extracted = %q, want %q", got, tc.want)
			}
		})
	}
}
