// Package policy decides task eligibility from verified facts using a
// declarative rule catalog.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evanwires/sidekick/internal/model"
	"github.com/evanwires/sidekick/internal/verify"
)

//go:embed rules.yaml
var defaultRules []byte

type catalog struct {
	Rules []rule `yaml:"rules"`
}

type rule struct {
	Name       string     `yaml:"name"`
	Categories []string   `yaml:"categories"`
	Kinds      []string   `yaml:"kinds"`
	Conditions conditions `yaml:"conditions"`
	Reason     string     `yaml:"reason"`
}

type conditions struct {
	OrderFound        *bool    `yaml:"order_found"`
	CustomerFound     *bool    `yaml:"customer_found"`
	AnyEntityFound    *bool    `yaml:"any_entity_found"`
	OrderStatusIn     []string `yaml:"order_status_in"`
	OrderStatusNotIn  []string `yaml:"order_status_not_in"`
	MaxDaysSinceOrder *int     `yaml:"max_days_since_order"`
}

// Engine evaluates eligibility rules. Evaluation is a pure function of
// the task and facts; time-based conditions use the facts' lookup
// timestamp so a replay produces the same verdict.
type Engine struct {
	rules []rule
}

// New loads the rule catalog from rulesPath, or the embedded default
// catalog when rulesPath is empty.
func New(rulesPath string) (*Engine, error) {
	raw := defaultRules
	if rulesPath != "" {
		var err error
		raw, err = os.ReadFile(rulesPath)
		if err != nil {
			return nil, fmt.Errorf("read rule catalog: %w", err)
		}
	}
	var cat catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parse rule catalog: %w", err)
	}
	for i, r := range cat.Rules {
		if r.Name == "" {
			return nil, fmt.Errorf("rule %d has no name", i)
		}
		if len(r.Categories) == 0 {
			return nil, fmt.Errorf("rule %q names no categories", r.Name)
		}
	}
	return &Engine{rules: cat.Rules}, nil
}

// Evaluate checks every rule matching the task's category and kind.
// The first failing rule makes the task ineligible; passing all of them
// makes it eligible. A task no rule matches is eligible by default.
func (e *Engine) Evaluate(_ context.Context, task model.Task, facts model.VerifiedFacts) (model.PolicyVerdict, error) {
	var applied []string
	for _, r := range e.rules {
		if !r.matches(task) {
			continue
		}
		applied = append(applied, r.Name)
		if reason := r.Conditions.check(facts); reason != "" {
			return model.PolicyVerdict{
				Eligible:  false,
				Rationale: fmt.Sprintf("%s: %s", r.Reason, reason),
				Rules:     applied,
			}, nil
		}
	}
	if len(applied) == 0 {
		return model.PolicyVerdict{Eligible: true, Rationale: "no policy constraints apply"}, nil
	}
	return model.PolicyVerdict{
		Eligible:  true,
		Rationale: fmt.Sprintf("passed %s", strings.Join(applied, ", ")),
		Rules:     applied,
	}, nil
}

func (r rule) matches(task model.Task) bool {
	if !slices.Contains(r.Categories, task.Category) {
		return false
	}
	return len(r.Kinds) == 0 || slices.Contains(r.Kinds, string(task.Kind))
}

// check returns an empty string when every condition holds, or a short
// description of the first condition that does not.
func (c conditions) check(facts model.VerifiedFacts) string {
	order := facts.Entity(verify.EntityOrder)
	customer := facts.Entity(verify.EntityCustomer)

	if c.OrderFound != nil && order.Found != *c.OrderFound {
		return fmt.Sprintf("order %s not found", refOrUnknown(order.Ref))
	}
	if c.CustomerFound != nil && customer.Found != *c.CustomerFound {
		return fmt.Sprintf("customer %s not found", refOrUnknown(customer.Ref))
	}
	if c.AnyEntityFound != nil && *c.AnyEntityFound && !order.Found && !customer.Found {
		return "no referenced entity could be resolved"
	}
	if len(c.OrderStatusIn) > 0 && order.Found && !slices.Contains(c.OrderStatusIn, order.Attrs["status"]) {
		return fmt.Sprintf("order status is %s", order.Attrs["status"])
	}
	if len(c.OrderStatusNotIn) > 0 && order.Found && slices.Contains(c.OrderStatusNotIn, order.Attrs["status"]) {
		return fmt.Sprintf("order status is %s", order.Attrs["status"])
	}
	if c.MaxDaysSinceOrder != nil && order.Found {
		orderedAt, err := time.Parse(time.RFC3339, order.Attrs["ordered_at"])
		if err != nil {
			return "order date is unreadable"
		}
		age := facts.LookedUpAt.Sub(orderedAt)
		if age > time.Duration(*c.MaxDaysSinceOrder)*24*time.Hour {
			return fmt.Sprintf("order is %d days old", int(age.Hours()/24))
		}
	}
	return ""
}

func refOrUnknown(ref string) string {
	if ref == "" {
		return "(unreferenced)"
	}
	return ref
}
