package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/microsoft/renshu/internal/config"
	"github.com/microsoft/renshu/internal/dataset"
	"github.com/microsoft/renshu/internal/models"
	"github.com/microsoft/renshu/internal/scoring"
)

// scoreAttempts bounds how often a group is re-submitted to the judge when
// it returns a malformed score vector.
const scoreAttempts = 3

// RolloutEngine runs one episode for a scenario.
type RolloutEngine interface {
	Rollout(ctx context.Context, scenario models.Scenario) (*models.Transcript, error)
}

// Backend is the remote training service.
type Backend interface {
	Register(ctx context.Context) (string, error)
	Step(ctx context.Context) (int, error)
	DeleteCheckpoints(ctx context.Context) error
	Train(ctx context.Context, batch *models.TrainingBatch) (int, error)
	Log(ctx context.Context, step int, split string, metrics map[string]float64) error
}

// MetricsSink records local training telemetry.
type MetricsSink interface {
	RecordEpisode(step int, split models.Split, t *models.Transcript)
	RecordStep(step int, split models.Split, metrics map[string]float64)
}

// TrainingRunner drives the full training loop.
type TrainingRunner struct {
	cfg      *config.Config
	engine   RolloutEngine
	scorer   scoring.Strategy
	backend  Backend
	sink     MetricsSink
	listener ProgressListener
	logger   *slog.Logger
	emitMu   sync.Mutex
}

// RunnerOption customizes a TrainingRunner.
type RunnerOption func(*TrainingRunner)

// WithProgressListener registers a listener for progress events.
func WithProgressListener(listener ProgressListener) RunnerOption {
	return func(r *TrainingRunner) { r.listener = listener }
}

// WithLogger overrides the runner's logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *TrainingRunner) { r.logger = logger }
}

// NewTrainingRunner wires a runner from its collaborators.
func NewTrainingRunner(cfg *config.Config, engine RolloutEngine, scorer scoring.Strategy, backend Backend, sink MetricsSink, opts ...RunnerOption) *TrainingRunner {
	r := &TrainingRunner{
		cfg:     cfg,
		engine:  engine,
		scorer:  scorer,
		backend: backend,
		sink:    sink,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the training loop until the dataset or the step budget is
// exhausted. It registers with the backend, resumes from the backend's
// current step, and for each batch gathers rollouts, scores them, runs
// validation on the configured interval, and submits the batch.
func (r *TrainingRunner) Run(ctx context.Context, it *dataset.Iterator, valScenarios []models.Scenario) error {
	if _, err := r.backend.Register(ctx); err != nil {
		return err
	}

	initialStep, err := r.backend.Step(ctx)
	if err != nil {
		return fmt.Errorf("resuming: %w", err)
	}
	it.SkipTo(initialStep)

	r.emit(ProgressEvent{Kind: EventTrainingStart, Step: initialStep})
	r.logger.Info("training loop starting",
		"initial_step", initialStep,
		"max_steps", r.cfg.Training.MaxSteps,
		"groups_per_step", r.cfg.Training.GroupsPerStep,
		"rollouts_per_group", r.cfg.Training.RolloutsPerGroup)

	for {
		batch, ok := it.Next()
		if !ok {
			break
		}

		r.emit(ProgressEvent{Kind: EventStepStart, Step: batch.Step, Epoch: batch.Epoch, GroupCount: len(batch.Scenarios)})

		groups, err := r.gather(ctx, batch)
		if err != nil {
			return fmt.Errorf("step %d: %w", batch.Step, err)
		}

		if err := r.score(ctx, batch.Step, groups); err != nil {
			return fmt.Errorf("step %d: %w", batch.Step, err)
		}

		if r.cfg.Training.ValidationStepInterval > 0 && batch.Step%r.cfg.Training.ValidationStepInterval == 0 {
			// Validation is advisory: a failed pass never stops training.
			if err := r.validate(ctx, batch.Step, valScenarios); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("validation pass failed, continuing", "step", batch.Step, "error", err)
			}
		}

		if err := r.backend.DeleteCheckpoints(ctx); err != nil {
			return fmt.Errorf("step %d: %w", batch.Step, err)
		}

		trainingBatch := &models.TrainingBatch{Step: batch.Step, Epoch: batch.Epoch, Groups: groups}
		if _, err := r.backend.Train(ctx, trainingBatch); err != nil {
			return fmt.Errorf("step %d: %w", batch.Step, err)
		}

		correct := meanCorrect(groups)
		r.sink.RecordStep(batch.Step, models.SplitTrain, map[string]float64{
			"correct":    correct,
			"num_groups": float64(len(groups)),
		})
		r.emit(ProgressEvent{Kind: EventStepDone, Step: batch.Step, Epoch: batch.Epoch, Correct: correct})

		if batch.Step >= r.cfg.Training.MaxSteps {
			r.logger.Info("step budget reached", "step", batch.Step)
			break
		}
	}

	r.emit(ProgressEvent{Kind: EventTrainingDone})
	return nil
}

// gather runs RolloutsPerGroup episodes for every scenario in the batch.
// Episode errors count against a ceiling of one per requested rollout;
// groups keep whatever rollouts finished.
func (r *TrainingRunner) gather(ctx context.Context, batch dataset.Batch) ([]*models.Group, error) {
	perGroup := r.cfg.Training.RolloutsPerGroup
	maxExceptions := int64(perGroup * len(batch.Scenarios))

	slots := make([][]*models.Transcript, len(batch.Scenarios))
	for i := range slots {
		slots[i] = make([]*models.Transcript, perGroup)
	}

	var exceptions atomic.Int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Training.MaxConcurrency)

	for gi, scenario := range batch.Scenarios {
		for ri := 0; ri < perGroup; ri++ {
			gi, ri, scenario := gi, ri, scenario
			g.Go(func() error {
				transcript, err := r.engine.Rollout(gctx, scenario)
				if err != nil {
					n := exceptions.Add(1)
					r.logger.Warn("rollout failed", "scenario", scenario.ID, "error", err)
					if n > maxExceptions {
						return fmt.Errorf("gather exceeded %d failed rollouts: %w", maxExceptions, err)
					}
					return nil
				}

				mu.Lock()
				slots[gi][ri] = transcript
				mu.Unlock()

				r.sink.RecordEpisode(batch.Step, models.SplitTrain, transcript)
				r.emit(ProgressEvent{Kind: EventRolloutDone, Step: batch.Step, ScenarioID: scenario.ID, GroupIndex: gi})
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	groups := make([]*models.Group, 0, len(batch.Scenarios))
	for gi, scenario := range batch.Scenarios {
		group := &models.Group{Scenario: scenario}
		for _, t := range slots[gi] {
			if t != nil {
				group.Transcripts = append(group.Transcripts, t)
			}
		}
		if group.Size() < 2 {
			// Fewer than two rollouts cannot be compared; drop the group.
			r.logger.Warn("dropping underfilled group", "scenario", scenario.ID, "rollouts", group.Size())
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// score runs the group scorer over every group, retrying malformed score
// vectors. A group that stays malformed after scoreAttempts tries fails
// the step.
func (r *TrainingRunner) score(ctx context.Context, step int, groups []*models.Group) error {
	for gi, group := range groups {
		var scores []float64
		var err error

		for attempt := 1; attempt <= scoreAttempts; attempt++ {
			scores, err = r.scorer.ScoreGroup(ctx, group)
			if err == nil {
				break
			}

			var malformed *scoring.MalformedScoreError
			if errors.As(err, &malformed) && attempt < scoreAttempts {
				r.logger.Warn("group scoring returned malformed scores, retrying",
					"group", gi, "attempt", attempt, "error", err)
				continue
			}
			return fmt.Errorf("scoring group %d: %w", gi, err)
		}

		group.Scores = scores
		r.emit(ProgressEvent{Kind: EventGroupScored, Step: step, ScenarioID: group.Scenario.ID, GroupIndex: gi, Scores: scores})
	}
	return nil
}

// validate runs every validation scenario once (group size 1), judges the
// answers, and logs aggregate accuracy with the "val" split.
func (r *TrainingRunner) validate(ctx context.Context, step int, scenarios []models.Scenario) error {
	if len(scenarios) == 0 {
		return nil
	}
	r.emit(ProgressEvent{Kind: EventValidationStart, Step: step, GroupCount: len(scenarios)})

	transcripts := make([]*models.Transcript, len(scenarios))
	var failures atomic.Int64
	maxFailures := int64(len(scenarios))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Training.MaxConcurrency)

	for i, scenario := range scenarios {
		i, scenario := i, scenario
		g.Go(func() error {
			transcript, err := r.engine.Rollout(gctx, scenario)
			if err != nil {
				n := failures.Add(1)
				r.logger.Warn("validation rollout failed", "scenario", scenario.ID, "error", err)
				if n > maxFailures {
					return err
				}
				return nil
			}
			transcripts[i] = transcript
			r.sink.RecordEpisode(step, models.SplitVal, transcript)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var done, correct float64
	for _, t := range transcripts {
		if t == nil {
			continue
		}
		done++
		if t.Correct() {
			correct++
		}
	}
	accuracy := 0.0
	if done > 0 {
		accuracy = correct / done
	}

	metrics := map[string]float64{"correct": accuracy, "num_scenarios": done}
	r.sink.RecordStep(step, models.SplitVal, metrics)
	if err := r.backend.Log(ctx, step, string(models.SplitVal), metrics); err != nil {
		return fmt.Errorf("logging validation metrics: %w", err)
	}

	r.emit(ProgressEvent{Kind: EventValidationDone, Step: step, Correct: accuracy})
	return nil
}

func meanCorrect(groups []*models.Group) float64 {
	if len(groups) == 0 {
		return 0
	}
	sum := 0.0
	for _, g := range groups {
		sum += g.MeanCorrect()
	}
	return sum / float64(len(groups))
}
