package esim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/microsoft/renshu/internal/statistics"
)

// Expectation is the reference outcome for one evaluation case. Zero
// fields are not checked.
type Expectation struct {
	Tools       []string `json:"tools,omitempty"`
	Countries   []string `json:"countries,omitempty"`
	Days        int      `json:"days,omitempty"`
	PlanType    string   `json:"plan_type,omitempty"`
	PlanPrice   float64  `json:"plan_price,omitempty"`
	ReadyToBook *bool    `json:"ready_to_book,omitempty"`
	Ambiguous   bool     `json:"ambiguous,omitempty"`
}

// Score is one scorer's judgment of a conversation.
type Score struct {
	Value     float64 `json:"value"`
	Reasoning string  `json:"reasoning"`
}

// Scorer grades a recorded conversation against an expectation. Values
// are in [0, 1].
type Scorer interface {
	Name() string
	Score(ctx context.Context, conv *Conversation, expect Expectation) (Score, error)
}

// ToolOrderScorer checks that the expected tools were called in order.
// Extra calls in between are allowed.
type ToolOrderScorer struct{}

func (ToolOrderScorer) Name() string { return "tool_order" }

func (ToolOrderScorer) Score(_ context.Context, conv *Conversation, expect Expectation) (Score, error) {
	if len(expect.Tools) == 0 {
		return Score{Value: 1, Reasoning: "no tool calls expected"}, nil
	}

	next := 0
	for _, called := range conv.ToolCalls {
		if next < len(expect.Tools) && called == expect.Tools[next] {
			next++
		}
	}
	if next == len(expect.Tools) {
		return Score{Value: 1, Reasoning: "all expected tools called in order"}, nil
	}
	return Score{
		Value:     0,
		Reasoning: fmt.Sprintf("missing %v from calls %v", expect.Tools[next:], conv.ToolCalls),
	}, nil
}

// DurationTierScorer checks that the reply quotes the duration tier the
// catalog sells for the expected trip length.
type DurationTierScorer struct{}

func (DurationTierScorer) Name() string { return "duration_tier" }

func (DurationTierScorer) Score(_ context.Context, conv *Conversation, expect Expectation) (Score, error) {
	if expect.Days == 0 {
		return Score{Value: 1, Reasoning: "no trip length expected"}, nil
	}

	tier, err := ClosestPlanDuration(expect.Days)
	if err != nil {
		return Score{}, err
	}

	want := fmt.Sprintf("%d-day", tier)
	lower := strings.ToLower(conv.FinalOutput)
	if strings.Contains(lower, want) || strings.Contains(lower, fmt.Sprintf("%d day", tier)) {
		return Score{Value: 1, Reasoning: fmt.Sprintf("reply quotes the %s tier", want)}, nil
	}
	return Score{
		Value:     0,
		Reasoning: fmt.Sprintf("reply does not mention the %s tier for a %d-day trip", want, expect.Days),
	}, nil
}

// BookingFieldsScorer checks that a booking reply matches the account
// state: a cost breakdown and confirmation when the user is ready, a
// login or payment prompt when they are not.
type BookingFieldsScorer struct{}

func (BookingFieldsScorer) Name() string { return "booking_fields" }

func (BookingFieldsScorer) Score(_ context.Context, conv *Conversation, expect Expectation) (Score, error) {
	if expect.ReadyToBook == nil {
		return Score{Value: 1, Reasoning: "no booking outcome expected"}, nil
	}

	lower := strings.ToLower(conv.FinalOutput)
	if *expect.ReadyToBook {
		indicators := []string{"total", "tax", "confirm", "booking", "order placed"}
		for _, ind := range indicators {
			if strings.Contains(lower, ind) {
				return Score{Value: 1, Reasoning: fmt.Sprintf("reply contains %q", ind)}, nil
			}
		}
		return Score{Value: 0, Reasoning: "reply lacks a cost breakdown or confirmation"}, nil
	}

	prompts := []string{"log in", "login", "sign in", "payment method", "add a payment"}
	for _, p := range prompts {
		if strings.Contains(lower, p) {
			return Score{Value: 1, Reasoning: fmt.Sprintf("reply prompts with %q", p)}, nil
		}
	}
	return Score{Value: 0, Reasoning: "reply does not prompt for login or payment"}, nil
}

// judgeScorer is the shared transport for LLM-judged scorers.
type judgeScorer struct {
	client openai.Client
	model  string
}

func newJudgeScorer(baseURL, apiKey, model string) judgeScorer {
	return judgeScorer{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model: model,
	}
}

func (j judgeScorer) judge(ctx context.Context, name, system, user string, schema map[string]any) (string, error) {
	resp, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(j.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   name,
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s judge: %w", name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s judge: empty choices", name)
	}
	return resp.Choices[0].Message.Content, nil
}

const helpfulnessPrompt = `You are evaluating a customer-service reply.

Categorize the reply:
- "complete": it gives a complete, helpful response (plan details with prices, a clear explanation, or a finished booking with the total).
- "clarifying": it asks the user for more information.
- "incomplete": it fails to provide useful information ("I don't know", vague answers, no use of available information).

Asking "would you like to book?" after showing results still counts as "complete".`

var helpfulnessSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"category":  map[string]any{"type": "string", "enum": []any{"complete", "clarifying", "incomplete"}},
		"reasoning": map[string]any{"type": "string"},
	},
	"required":             []any{"category", "reasoning"},
	"additionalProperties": false,
}

// HelpfulnessScorer judges whether the reply is complete, and whether
// asking for clarification was warranted by the input.
type HelpfulnessScorer struct {
	judgeScorer
}

// NewHelpfulnessScorer returns an LLM-judged helpfulness scorer.
func NewHelpfulnessScorer(baseURL, apiKey, model string) *HelpfulnessScorer {
	return &HelpfulnessScorer{newJudgeScorer(baseURL, apiKey, model)}
}

func (*HelpfulnessScorer) Name() string { return "helpfulness" }

func (s *HelpfulnessScorer) Score(ctx context.Context, conv *Conversation, expect Expectation) (Score, error) {
	user := fmt.Sprintf("Agent reply:\n%s\n\nCategorize this reply:", conv.FinalOutput)
	raw, err := s.judge(ctx, "helpfulness", helpfulnessPrompt, user, helpfulnessSchema)
	if err != nil {
		return Score{}, err
	}

	var verdict struct {
		Category  string `json:"category"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		// Fail closed: an unreadable verdict scores zero.
		return Score{Value: 0, Reasoning: fmt.Sprintf("parse error: %v\nraw response: %s", err, raw)}, nil
	}

	switch verdict.Category {
	case "complete":
		return Score{Value: 1, Reasoning: verdict.Reasoning}, nil
	case "clarifying":
		if expect.Ambiguous {
			return Score{Value: 1, Reasoning: "correctly asked for clarification on ambiguous input"}, nil
		}
		return Score{Value: 0, Reasoning: "asked for clarification on a clear request"}, nil
	default:
		return Score{Value: 0, Reasoning: verdict.Reasoning}, nil
	}
}

const groundingPrompt = `You are evaluating whether a customer-service reply is grounded in the tool results of its conversation.

A reply is grounded if every plan, price, duration, and booking detail it states appears in the tool results, and it does not contradict them. A reply that invents plans, prices, or coverage is not grounded.`

var groundingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"grounded":  map[string]any{"type": "boolean"},
		"reasoning": map[string]any{"type": "string"},
	},
	"required":             []any{"grounded", "reasoning"},
	"additionalProperties": false,
}

// GroundingScorer judges whether the reply sticks to retrieved facts.
type GroundingScorer struct {
	judgeScorer
}

// NewGroundingScorer returns an LLM-judged grounding scorer.
func NewGroundingScorer(baseURL, apiKey, model string) *GroundingScorer {
	return &GroundingScorer{newJudgeScorer(baseURL, apiKey, model)}
}

func (*GroundingScorer) Name() string { return "grounding" }

func (s *GroundingScorer) Score(ctx context.Context, conv *Conversation, _ Expectation) (Score, error) {
	var b strings.Builder
	for _, turn := range conv.Turns {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, turn.Content)
	}
	user := fmt.Sprintf("Conversation:\n%s\nAgent reply:\n%s\n\nIs the reply grounded?", b.String(), conv.FinalOutput)

	raw, err := s.judge(ctx, "grounding", groundingPrompt, user, groundingSchema)
	if err != nil {
		return Score{}, err
	}

	var verdict struct {
		Grounded  bool   `json:"grounded"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return Score{Value: 0, Reasoning: fmt.Sprintf("parse error: %v\nraw response: %s", err, raw)}, nil
	}
	if verdict.Grounded {
		return Score{Value: 1, Reasoning: verdict.Reasoning}, nil
	}
	return Score{Value: 0, Reasoning: verdict.Reasoning}, nil
}

// EvalCase is one recorded conversation with its expectation.
type EvalCase struct {
	Name         string       `json:"name"`
	Conversation Conversation `json:"conversation"`
	Expectation  Expectation  `json:"expectation"`
}

// CaseResult holds every scorer's judgment of one case.
type CaseResult struct {
	Case   string           `json:"case"`
	Scores map[string]Score `json:"scores"`
}

// Report is the outcome of an evaluation run.
type Report struct {
	Cases      []CaseResult                   `json:"cases"`
	Aggregates map[string]statistics.Interval `json:"aggregates"`
}

// Evaluate runs every scorer over every case and aggregates per-scorer
// score distributions into bootstrap confidence intervals.
func Evaluate(ctx context.Context, scorers []Scorer, cases []EvalCase, seed int64) (*Report, error) {
	report := &Report{Aggregates: map[string]statistics.Interval{}}
	values := map[string][]float64{}

	for _, c := range cases {
		result := CaseResult{Case: c.Name, Scores: map[string]Score{}}
		for _, scorer := range scorers {
			score, err := scorer.Score(ctx, &c.Conversation, c.Expectation)
			if err != nil {
				return nil, fmt.Errorf("case %q, scorer %s: %w", c.Name, scorer.Name(), err)
			}
			result.Scores[scorer.Name()] = score
			values[scorer.Name()] = append(values[scorer.Name()], score.Value)
		}
		report.Cases = append(report.Cases, result)
	}

	for name, scores := range values {
		report.Aggregates[name] = statistics.Bootstrap(scores, 0.95, seed)
	}
	return report, nil
}
