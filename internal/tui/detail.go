package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/evanwires/sidekick/internal/model"
)

// renderTaskDetail renders one task as markdown through glamour. Falls
// back to the raw markdown if the terminal renderer cannot be built.
func renderTaskDetail(t model.Task) string {
	md := taskMarkdown(t)
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func taskMarkdown(t model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", t.Description)
	fmt.Fprintf(&b, "- **State:** %s\n", t.State)
	fmt.Fprintf(&b, "- **Category:** %s (%s, %s urgency)\n", t.Category, t.Kind, t.Urgency)
	if t.CustomerName != "" {
		fmt.Fprintf(&b, "- **Customer:** %s\n", t.CustomerName)
	}
	if t.OrderRef != "" {
		fmt.Fprintf(&b, "- **Order:** %s\n", t.OrderRef)
	}
	if t.Facts != nil {
		for kind, fact := range t.Facts.Entities {
			if fact.Found {
				fmt.Fprintf(&b, "- **Verified %s:** %s %v\n", kind, fact.Ref, fact.Attrs)
			} else {
				fmt.Fprintf(&b, "- **Unresolved %s:** %s\n", kind, fact.Ref)
			}
		}
	}
	if t.Verdict != nil {
		fmt.Fprintf(&b, "- **Eligibility:** %v (%s)\n", t.Verdict.Eligible, t.Verdict.Rationale)
	}
	if t.Action != nil {
		fmt.Fprintf(&b, "- **Executed:** %s ref %s\n", t.Action.Outcome, t.Action.Reference)
	}
	if t.LastError != nil {
		fmt.Fprintf(&b, "- **Last error:** %s: %s\n", t.LastError.Kind, t.LastError.Message)
	}
	if len(t.Plan) > 0 {
		b.WriteString("\n### Plan\n\n")
		for i, step := range t.Plan {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step)
		}
	}
	if t.SuggestedReply != "" {
		fmt.Fprintf(&b, "\n### Suggested reply\n\n> %s\n", t.SuggestedReply)
	}
	return b.String()
}
