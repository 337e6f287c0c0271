// Package verify resolves task entity references against the knowledge base.
package verify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanwires/sidekick/internal/kb"
	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
)

// Entity kinds recorded in verified facts.
const (
	EntityCustomer = "customer"
	EntityOrder    = "order"
)

// Verifier looks up a task's customer and order references in the
// knowledge base and reports what it found as structured facts.
type Verifier struct {
	store *kb.Store
	log   zerolog.Logger
}

// New creates a verifier over the knowledge base store.
func New(store *kb.Store) *Verifier {
	return &Verifier{store: store, log: logging.Component("verify")}
}

// Verify resolves every entity the task references. A missing row yields
// found=false facts plus model.ErrNotFound; a store failure yields
// model.ErrLookupUnavailable so the caller can retry.
func (v *Verifier) Verify(ctx context.Context, task model.Task) (model.VerifiedFacts, error) {
	facts := model.VerifiedFacts{
		Entities:   map[string]model.EntityFact{},
		Source:     "kb",
		LookedUpAt: time.Now().UTC(),
	}

	var missing []string
	if task.CustomerName != "" {
		fact, err := v.lookupCustomer(ctx, task.CustomerName)
		if err != nil {
			return model.VerifiedFacts{}, err
		}
		facts.Entities[EntityCustomer] = fact
		if !fact.Found {
			missing = append(missing, "customer "+task.CustomerName)
		}
	}
	if task.OrderRef != "" {
		fact, err := v.lookupOrder(ctx, task.OrderRef)
		if err != nil {
			return model.VerifiedFacts{}, err
		}
		facts.Entities[EntityOrder] = fact
		if !fact.Found {
			missing = append(missing, "order "+task.OrderRef)
		}
	}

	if len(missing) > 0 {
		v.log.Debug().Str("task", task.ID).Strs("missing", missing).Msg("entities not found")
		return facts, fmt.Errorf("%v: %w", missing, model.ErrNotFound)
	}
	return facts, nil
}

func (v *Verifier) lookupCustomer(ctx context.Context, name string) (model.EntityFact, error) {
	c, err := v.store.CustomerByName(ctx, name)
	if errors.Is(err, model.ErrNotFound) {
		return model.EntityFact{Ref: name}, nil
	}
	if err != nil {
		return model.EntityFact{}, fmt.Errorf("%w: %v", model.ErrLookupUnavailable, err)
	}
	return model.EntityFact{
		Ref:   name,
		Found: true,
		Attrs: map[string]string{
			"name":  c.Name,
			"email": c.Email,
		},
	}, nil
}

func (v *Verifier) lookupOrder(ctx context.Context, ref string) (model.EntityFact, error) {
	o, err := v.store.OrderByRef(ctx, ref)
	if errors.Is(err, model.ErrNotFound) {
		return model.EntityFact{Ref: ref}, nil
	}
	if err != nil {
		return model.EntityFact{}, fmt.Errorf("%w: %v", model.ErrLookupUnavailable, err)
	}
	return model.EntityFact{
		Ref:   ref,
		Found: true,
		Attrs: map[string]string{
			"status":      o.Status,
			"customer":    o.CustomerName,
			"total_cents": strconv.FormatInt(o.TotalCents, 10),
			"ordered_at":  o.OrderedAt.UTC().Format(time.RFC3339),
		},
	}, nil
}
