package engine

import (
	"time"

	"github.com/evanwires/sidekick/internal/model"
)

// Observer receives engine activity for instrumentation. Implementations
// must be fast and non-blocking; hooks run while the engine lock is held.
type Observer interface {
	UtteranceAppended(speaker model.Speaker)
	TaskCreated(category string)
	StageObserved(stage model.Stage, outcome string, elapsed time.Duration)
	TaskFinished(state model.TaskState)
}

type nopObserver struct{}

func (nopObserver) UtteranceAppended(model.Speaker)                  {}
func (nopObserver) TaskCreated(string)                               {}
func (nopObserver) StageObserved(model.Stage, string, time.Duration) {}
func (nopObserver) TaskFinished(model.TaskState)                     {}
