package action

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanwires/sidekick/internal/logging"
	"github.com/evanwires/sidekick/internal/model"
)

// Sim is a deterministic stand-in for the retailer portal. Every
// execution succeeds and yields a reference derived from the task, so
// repeated demo runs produce stable output.
type Sim struct {
	log zerolog.Logger
}

// NewSim creates the simulated executor.
func NewSim() *Sim {
	return &Sim{log: logging.Component("action")}
}

// Execute records the task against the simulated portal.
func (s *Sim) Execute(_ context.Context, task model.Task) (model.ActionResult, error) {
	ref := fmt.Sprintf("%s-%s", referencePrefix(task), referenceSuffix(task))
	s.log.Info().Str("task", task.ID).Str("reference", ref).Msg("simulated execution")
	return model.ActionResult{
		Outcome:    model.OutcomeSucceeded,
		Reference:  ref,
		ExecutedAt: time.Now().UTC(),
	}, nil
}

func referencePrefix(task model.Task) string {
	if task.Kind == model.KindLookup {
		return "LKP"
	}
	switch task.Category {
	case "Refund Request":
		return "REF"
	case "Product Issue":
		return "RPL"
	default:
		return "ACT"
	}
}

// referenceSuffix prefers the order number so agents can correlate the
// reference with the order, falling back to the task id.
func referenceSuffix(task model.Task) string {
	if digits := strings.TrimPrefix(task.OrderRef, "ORDER-"); digits != "" && digits != task.OrderRef {
		return digits
	}
	return strings.ToUpper(strings.TrimPrefix(task.ID, "task-"))
}
