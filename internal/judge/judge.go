// Package judge implements the LLM correctness judge: given a question,
// the reference answer, and the agent's answer, it decides whether the
// answer should be accepted.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/sethvargo/go-retry"

	"github.com/microsoft/renshu/internal/models"
)

const systemPrompt = `You will be given a question, a reference answer ("Reference answer"), and an answer generated by an AI assistant ("AI answer").

Your task is to decide whether the AI answer is correct. Accept the answer if it contains the relevant information from the reference answer. Do not accept it if it is missing information relevant to the question, or if it contradicts the reference answer.`

var verdictSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"reasoning": map[string]any{"type": "string"},
		"accept":    map[string]any{"type": "boolean"},
	},
	"required":             []any{"reasoning", "accept"},
	"additionalProperties": false,
}

// transportAttempts is the total number of tries for a judge call.
const transportAttempts = 3

// Client calls the judge model over an OpenAI-compatible endpoint.
type Client struct {
	client  openai.Client
	model   string
	backoff time.Duration
	logger  *slog.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithBackoff overrides the delay between transport retries.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

// WithLogger overrides the client's logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a judge client for the given endpoint and model.
func NewClient(baseURL, apiKey, model string, opts ...ClientOption) *Client {
	c := &Client{
		// Retries are handled here, not by the SDK, so the policy is
		// visible at the call site.
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		model:   model,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// JudgeCorrectness asks the judge model whether the answer matches the
// scenario's reference answer. Transport errors are retried; a response
// that cannot be parsed is fail-closed: the answer is rejected with the
// parse error recorded in the reasoning, and no error is returned.
func (c *Client) JudgeCorrectness(ctx context.Context, scenario models.Scenario, answer string) (models.Judgment, error) {
	userContent := fmt.Sprintf("Question: %s\nReference answer: %s\nAI answer: %s",
		scenario.Question, scenario.Answer, answer)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userContent),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "correctness_verdict",
					Schema: verdictSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	var raw string
	backoff := retry.WithMaxRetries(transportAttempts-1, retry.NewConstant(c.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			c.logger.Debug("judge call failed, retrying", "error", err)
			return retry.RetryableError(err)
		}
		if len(resp.Choices) == 0 {
			return retry.RetryableError(fmt.Errorf("judge returned no choices"))
		}
		raw = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return models.Judgment{}, fmt.Errorf("judge completion: %w", err)
	}

	return ParseVerdict(raw), nil
}

// ParseVerdict decodes the judge's JSON payload. Malformed payloads reject
// the answer rather than erroring, so a flaky judge can never mark an
// answer correct by accident.
func ParseVerdict(raw string) models.Judgment {
	var verdict models.Judgment
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return models.Judgment{
			Accept:    false,
			Reasoning: fmt.Sprintf("parse error: %v\nraw response: %s", err, raw),
		}
	}
	return verdict
}
