package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/microsoft/renshu/internal/models"
)

const rulerSystemPrompt = `You are an impartial judge ranking the attempts of an email search agent. You will be given a user's question, the reference answer, and several independent attempts at answering it, each with the full sequence of actions the agent took.

Assign each attempt a score between 0 and 1. Scores are relative: the best attempt in the group should score highest and the worst lowest, even if all attempts are poor or all are good. Reward attempts that find the correct answer, cite the right source emails, and take fewer turns. Penalize attempts that give up, run out of turns, or answer incorrectly.

Respond with a JSON object of the form {"scores": [s1, s2, ...]} containing exactly one score per attempt, in the order the attempts were presented.`

var rulerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"scores": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "number"},
		},
	},
	"required":             []any{"scores"},
	"additionalProperties": false,
}

// RulerScorer scores a group by asking a judge model to rank the group's
// trajectories against each other.
type RulerScorer struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

// RulerOption customizes a RulerScorer.
type RulerOption func(*RulerScorer)

// WithRulerLogger overrides the scorer's logger.
func WithRulerLogger(logger *slog.Logger) RulerOption {
	return func(r *RulerScorer) { r.logger = logger }
}

// NewRulerScorer returns a group scorer backed by the given judge model.
func NewRulerScorer(baseURL, apiKey, model string, opts ...RulerOption) *RulerScorer {
	r := &RulerScorer{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model:  model,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RulerScorer) Name() string { return "ruler" }

// ScoreGroup asks the judge for one score per transcript. A response that
// does not parse, or whose score count does not match the group size,
// returns *MalformedScoreError so the caller can retry.
func (r *RulerScorer) ScoreGroup(ctx context.Context, group *models.Group) ([]float64, error) {
	if group.Size() == 0 {
		return nil, fmt.Errorf("cannot score an empty group")
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(rulerSystemPrompt),
			openai.UserMessage(FormatGroup(group)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "group_scores",
					Schema: rulerSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	resp, err := r.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("scoring group: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("scoring group: empty choices")
	}

	return ParseScores(resp.Choices[0].Message.Content, group.Size())
}

// ParseScores decodes the judge payload and checks the score count against
// the group size.
func ParseScores(raw string, want int) ([]float64, error) {
	var payload struct {
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, &MalformedScoreError{Reason: err.Error(), Raw: raw}
	}
	if len(payload.Scores) != want {
		return nil, &MalformedScoreError{
			Reason: fmt.Sprintf("got %d scores for %d trajectories", len(payload.Scores), want),
			Raw:    raw,
		}
	}
	return payload.Scores, nil
}

// FormatGroup renders a group for the judge: the question and reference
// answer, then each trajectory's actions and final answer.
func FormatGroup(group *models.Group) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", group.Scenario.Question)
	fmt.Fprintf(&sb, "Reference answer: %s\n", group.Scenario.Answer)

	for i, t := range group.Transcripts {
		fmt.Fprintf(&sb, "\n--- Attempt %d ---\n", i+1)
		for _, turn := range t.Turns {
			switch {
			case turn.Role == models.RoleAssistant && len(turn.ToolCalls) > 0:
				for _, call := range turn.ToolCalls {
					fmt.Fprintf(&sb, "action: %s(%s)\n", call.Name, call.Arguments)
				}
			case turn.Role == models.RoleTool:
				fmt.Fprintf(&sb, "result: %s\n", truncate(turn.Content, 500))
			}
		}
		switch {
		case t.FinalAnswer != nil:
			fmt.Fprintf(&sb, "final answer: %s (sources: %s)\n",
				t.FinalAnswer.Answer, strings.Join(t.FinalAnswer.SourceIDs, ", "))
		case t.Outcome == models.OutcomeFailed:
			fmt.Fprintf(&sb, "outcome: failed (%s)\n", t.FailureReason)
		default:
			sb.WriteString("outcome: no final answer\n")
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
