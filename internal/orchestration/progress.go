// Package orchestration drives the training loop: gather rollouts, score
// groups, validate, and submit batches to the training backend.
package orchestration

// EventKind identifies the type of a progress event.
type EventKind string

const (
	EventTrainingStart   EventKind = "training_start"
	EventStepStart       EventKind = "step_start"
	EventRolloutDone     EventKind = "rollout_done"
	EventGroupScored     EventKind = "group_scored"
	EventValidationStart EventKind = "validation_start"
	EventValidationDone  EventKind = "validation_done"
	EventStepDone        EventKind = "step_done"
	EventTrainingDone    EventKind = "training_done"
)

// ProgressEvent carries details about training progress. Fields are set
// depending on the Kind.
type ProgressEvent struct {
	Kind       EventKind
	Step       int
	Epoch      int
	ScenarioID string
	GroupIndex int
	GroupCount int
	// Correct is the fraction of accepted answers (EventValidationDone,
	// EventStepDone).
	Correct float64
	Scores  []float64
	Err     error
}

// ProgressListener receives progress events during a training run.
// Implementations must be fast; events are delivered synchronously and
// never concurrently.
type ProgressListener func(ProgressEvent)

func (r *TrainingRunner) emit(event ProgressEvent) {
	if r.listener == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	r.listener(event)
}
