package generate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/evanwires/sidekick/internal/model"
)

// Rules is the default generator: deterministic keyword and pattern
// analysis of the window, no network. It mirrors the kinds of tasks the
// LLM generators propose so the rest of the pipeline behaves identically.
type Rules struct{}

// NewRules creates the deterministic generator.
func NewRules() *Rules { return &Rules{} }

var (
	orderRefPattern  = regexp.MustCompile(`(?i)\bORDER-\d+\b`)
	bareOrderPattern = regexp.MustCompile(`\b\d{5}\b`)
	namePattern      = regexp.MustCompile(`(?i)\b(?:my name is|this is)\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
)

var urgentCues = []string{"urgent", "immediately", "asap", "right now", "unacceptable", "furious"}

// categoryRule matches customer phrasing to one issue category.
type categoryRule struct {
	category string
	kind     string
	urgency  string
	cues     []string
	describe func(orderRef string) string
	plan     []string
	reply    string
}

var categoryRules = []categoryRule{
	{
		category: "Refund Request",
		kind:     model.KindAction,
		urgency:  model.UrgencyHigh,
		cues:     []string{"refund", "money back", "cancel my order", "return this"},
		describe: func(ref string) string { return "Process refund for " + refOrPlaceholder(ref) },
		plan: []string{
			"Verify the order exists and its current status",
			"Confirm the order is eligible for a refund under the return policy",
			"Submit the refund in the order portal after approval",
		},
		reply: "I understand you'd like a refund. Let me check your order and our return policy right away.",
	},
	{
		category: "Product Issue",
		kind:     model.KindAction,
		urgency:  model.UrgencyMedium,
		cues:     []string{"broken", "defective", "damaged", "not working", "doesn't work", "stopped working"},
		describe: func(ref string) string { return "Arrange replacement for defective item on " + refOrPlaceholder(ref) },
		plan: []string{
			"Verify the order and the affected item",
			"Check warranty and replacement eligibility",
			"Create a replacement request after approval",
		},
		reply: "I'm sorry the item arrived in that condition. Let me arrange a solution for you.",
	},
	{
		category: "Shipping Issue",
		kind:     model.KindLookup,
		urgency:  model.UrgencyMedium,
		cues:     []string{"hasn't arrived", "never arrived", "late delivery", "delayed", "lost package", "wrong address"},
		describe: func(ref string) string { return "Investigate delivery of " + refOrPlaceholder(ref) },
		plan: []string{
			"Look up the shipment status for the order",
			"Compare the promised and actual delivery dates",
			"Share tracking details with the customer",
		},
		reply: "Let me look into where your package is right now.",
	},
	{
		category: "Payment Issue",
		kind:     model.KindLookup,
		urgency:  model.UrgencyHigh,
		cues:     []string{"charged twice", "double charge", "billing", "charge on my card", "payment failed"},
		describe: func(ref string) string { return "Review billing for " + refOrPlaceholder(ref) },
		plan: []string{
			"Pull up the payment records for the order",
			"Identify any duplicate or failed charges",
			"Explain the findings to the customer",
		},
		reply: "I'll review the charges on your account right away.",
	},
	{
		category: "Account Help",
		kind:     model.KindLookup,
		urgency:  model.UrgencyLow,
		cues:     []string{"password", "can't log in", "cannot log in", "my account", "login"},
		describe: func(string) string { return "Help the customer regain account access" },
		plan: []string{
			"Verify the customer's identity",
			"Walk through the account recovery steps",
		},
		reply: "I can help you get back into your account.",
	},
	{
		category: "Order Status",
		kind:     model.KindLookup,
		urgency:  model.UrgencyMedium,
		cues:     []string{"where is my order", "order status", "track", "when will", "shipped yet", "status of"},
		describe: func(ref string) string { return "Look up status of " + refOrPlaceholder(ref) },
		plan: []string{
			"Look up the order in the system",
			"Report the current status and expected delivery",
		},
		reply: "Let me check the status of your order for you.",
	},
	{
		category: "Complaint",
		kind:     model.KindLookup,
		urgency:  model.UrgencyHigh,
		cues:     []string{"terrible", "awful", "worst", "speak to a manager", "complaint"},
		describe: func(string) string { return "Record and address the customer's complaint" },
		plan: []string{
			"Acknowledge the customer's frustration",
			"Capture the specifics of the complaint",
			"Offer escalation to a supervisor if needed",
		},
		reply: "I'm sorry about this experience. I want to make it right.",
	},
}

func refOrPlaceholder(ref string) string {
	if ref == "" {
		return "the customer's order"
	}
	return ref
}

// Generate proposes at most one candidate per matched category, spanning
// the whole window. Identical windows always yield identical candidates.
func (*Rules) Generate(_ context.Context, window []model.Utterance) ([]model.CandidateTask, error) {
	if len(window) == 0 {
		return nil, nil
	}

	var text strings.Builder
	for _, u := range window {
		if u.Speaker == model.SpeakerCustomer || u.Speaker == model.SpeakerUnknown {
			text.WriteString(strings.ToLower(u.Text))
			text.WriteString("\n")
		}
	}
	lowered := text.String()
	span := windowSpan(window)
	orderRef := findOrderRef(window)
	customer := findCustomerName(window)
	urgent := containsAny(lowered, urgentCues)

	var out []model.CandidateTask
	for _, rule := range categoryRules {
		if !containsAny(lowered, rule.cues) {
			continue
		}
		urgency := rule.urgency
		if urgent {
			urgency = model.UrgencyHigh
		}
		out = append(out, model.CandidateTask{
			Description:    rule.describe(orderRef),
			Span:           span,
			Category:       rule.category,
			Urgency:        urgency,
			Kind:           rule.kind,
			CustomerName:   customer,
			OrderRef:       orderRef,
			Plan:           rule.plan,
			SuggestedReply: rule.reply,
		})
	}

	// An order reference with no recognized request still warrants a lookup.
	if len(out) == 0 && orderRef != "" {
		out = append(out, model.CandidateTask{
			Description:    "Look up status of " + orderRef,
			Span:           span,
			Category:       "Order Status",
			Urgency:        model.UrgencyMedium,
			Kind:           model.KindLookup,
			CustomerName:   customer,
			OrderRef:       orderRef,
			Plan:           []string{"Look up the order in the system", "Report the current status"},
			SuggestedReply: "Let me check that order for you.",
		})
	}
	return out, nil
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

func findOrderRef(window []model.Utterance) string {
	for _, u := range window {
		if m := orderRefPattern.FindString(u.Text); m != "" {
			return strings.ToUpper(m)
		}
	}
	for _, u := range window {
		if m := bareOrderPattern.FindString(u.Text); m != "" {
			return fmt.Sprintf("ORDER-%s", m)
		}
	}
	return ""
}

func findCustomerName(window []model.Utterance) string {
	for _, u := range window {
		if m := namePattern.FindStringSubmatch(u.Text); m != nil {
			return m[1]
		}
	}
	return ""
}
