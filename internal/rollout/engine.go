package rollout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/microsoft/renshu/internal/mailstore"
	"github.com/microsoft/renshu/internal/models"
)

// CorrectnessJudge decides whether a final answer matches the reference.
type CorrectnessJudge interface {
	JudgeCorrectness(ctx context.Context, scenario models.Scenario, answer string) (models.Judgment, error)
}

// Engine runs one episode at a time against the mail store.
type Engine struct {
	policy   PolicyClient
	store    *mailstore.Store
	judge    CorrectnessJudge
	maxTurns int
	logger   *slog.Logger
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine wires an episode engine. maxTurns bounds the number of
// assistant turns per episode.
func NewEngine(policy PolicyClient, store *mailstore.Store, judge CorrectnessJudge, maxTurns int, opts ...EngineOption) *Engine {
	e := &Engine{
		policy:   policy,
		store:    store,
		judge:    judge,
		maxTurns: maxTurns,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

const systemPromptFormat = `You are an email search agent. You are given a user query and a set of tools for searching the user's email. Use the tools to search the user's emails and find the answer to the query. You may take up to %d turns to find the answer, so if your first search doesn't return the answer, you can try again with different keywords.

User's email address: %s
Today's date: %s`

// Rollout runs one episode for the scenario. A policy or judge transport
// failure is returned as an error; a tool failure ends the episode with
// OutcomeFailed and a nil error, so one bad episode never fails the batch.
func (e *Engine) Rollout(ctx context.Context, scenario models.Scenario) (*models.Transcript, error) {
	registry, final, err := NewToolset(e.store, scenario)
	if err != nil {
		return nil, fmt.Errorf("building toolset: %w", err)
	}
	defs := registry.Definitions()

	transcript := models.NewTranscript(scenario)
	transcript.AddTurn(models.Turn{
		Role:    models.RoleSystem,
		Content: fmt.Sprintf(systemPromptFormat, e.maxTurns, scenario.InboxAddress, scenario.QueryDate),
	})
	transcript.AddTurn(models.Turn{Role: models.RoleUser, Content: scenario.Question})

	toolCalls := map[string]float64{}
	defer func() {
		transcript.AddMetric("num_turns", float64(transcript.TurnCount()))
		for name, n := range toolCalls {
			transcript.AddMetric("calls_"+name, n)
		}
	}()

	for turn := 0; turn < e.maxTurns; turn++ {
		completion, err := e.policy.Complete(ctx, transcript.Turns, defs)
		if err != nil {
			return nil, err
		}

		transcript.AddTurn(models.Turn{
			Role:      models.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		})

		// The model answering in plain text without tools means it gave up.
		if len(completion.ToolCalls) == 0 {
			transcript.Outcome = models.OutcomeIncomplete
			return transcript, nil
		}

		for _, call := range completion.ToolCalls {
			toolCalls[call.Name]++

			result, err := registry.Invoke(ctx, call.Name, call.Arguments)
			if errors.Is(err, ErrUnknownTool) {
				transcript.AddTurn(models.Turn{
					Role:       models.RoleTool,
					ToolCallID: call.ID,
					Content:    "error: " + err.Error(),
				})
				continue
			}
			if err != nil {
				e.logger.Warn("tool invocation failed, ending episode",
					"scenario", scenario.ID, "tool", call.Name, "error", err)
				transcript.Outcome = models.OutcomeFailed
				transcript.FailureReason = err.Error()
				return transcript, nil
			}

			transcript.AddTurn(models.Turn{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})

			// Finalize short-circuits: any remaining tool calls in this
			// assistant turn are never executed.
			if answer := final.Answer(); answer != nil {
				transcript.FinalAnswer = answer
				transcript.Outcome = models.OutcomeCompleted

				judgment, err := e.judge.JudgeCorrectness(ctx, scenario, answer.Answer)
				if err != nil {
					return nil, fmt.Errorf("judging answer for %q: %w", scenario.ID, err)
				}
				transcript.Judgment = &judgment
				if judgment.Accept {
					transcript.AddMetric("correct", 1)
				} else {
					transcript.AddMetric("correct", 0)
				}
				return transcript, nil
			}
		}
	}

	// Turn budget exhausted without a final answer.
	transcript.Outcome = models.OutcomeIncomplete
	return transcript, nil
}
