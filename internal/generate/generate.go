// Package generate turns transcript windows into candidate support tasks.
// The rules generator is deterministic and needs no network; the openai,
// gemini and exec generators call an LLM and funnel its output through one
// validated JSON boundary.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/evanwires/sidekick/internal/config"
	"github.com/evanwires/sidekick/internal/model"
)

// Generator proposes candidate tasks from a transcript window. Safe to
// call repeatedly with overlapping windows; deduplication is the engine's
// responsibility.
type Generator interface {
	Generate(ctx context.Context, window []model.Utterance) ([]model.CandidateTask, error)
}

// New constructs the generator selected by cfg.Type.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Type {
	case "", "rules":
		return NewRules(), nil
	case "openai":
		return NewOpenAI(cfg)
	case "gemini":
		return NewGemini(cfg)
	case "exec":
		return NewExec(cfg)
	}
	return nil, fmt.Errorf("unknown generator type %q", cfg.Type)
}

// renderWindow formats the transcript window for an LLM prompt, one
// seq-prefixed speaker-labeled line per utterance.
func renderWindow(window []model.Utterance) string {
	var b strings.Builder
	for _, u := range window {
		fmt.Fprintf(&b, "%d %s: %s\n", u.Seq, u.Speaker, u.Text)
	}
	return b.String()
}

// windowSpan is the inclusive seq range of the window, used as the default
// span for candidates that do not name one.
func windowSpan(window []model.Utterance) model.SourceSpan {
	if len(window) == 0 {
		return model.SourceSpan{}
	}
	return model.SourceSpan{FromSeq: window[0].Seq, ToSeq: window[len(window)-1].Seq}
}

const instructions = `You analyze a live customer support conversation and propose support tasks.
Each transcript line is "<seq> <speaker>: <text>". Respond with JSON only, no prose:
{"tasks": [{"description": "...", "from_seq": N, "to_seq": N,
  "category": "Order Status|Refund Request|Product Issue|Account Help|General Inquiry|Complaint|Shipping Issue|Payment Issue",
  "urgency": "low|medium|high", "kind": "lookup|action",
  "customer_name": "...", "order_ref": "...",
  "plan": ["operator step", "..."], "suggested_reply": "..."}]}
Use kind "lookup" when the answer comes from records, "action" when an external
system must be changed (refund, cancellation, address change). from_seq/to_seq
are the transcript lines the task is derived from. Propose nothing when the
window contains no actionable request: {"tasks": []}.`
