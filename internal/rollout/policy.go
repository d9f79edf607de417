package rollout

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/microsoft/renshu/internal/models"
)

// Completion is one assistant response from the policy model.
type Completion struct {
	Content   string
	ToolCalls []models.ToolCall
}

// PolicyClient produces assistant turns for an in-progress episode.
type PolicyClient interface {
	Complete(ctx context.Context, turns []models.Turn, tools []ToolDefinition) (Completion, error)
}

// OpenAIPolicy calls an OpenAI-compatible chat completions endpoint, which
// is how the training backend serves the current policy checkpoint.
// Rollouts sample at temperature 1.
type OpenAIPolicy struct {
	client      openai.Client
	model       string
	temperature float64
}

// NewOpenAIPolicy returns a policy client for the given inference endpoint.
func NewOpenAIPolicy(baseURL, apiKey, model string) *OpenAIPolicy {
	return &OpenAIPolicy{
		client: openai.NewClient(
			option.WithBaseURL(baseURL),
			option.WithAPIKey(apiKey),
		),
		model:       model,
		temperature: 1,
	}
}

func (p *OpenAIPolicy) Complete(ctx context.Context, turns []models.Turn, tools []ToolDefinition) (Completion, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    toMessageParams(turns),
		Tools:       toToolParams(tools),
		Temperature: openai.Float(p.temperature),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Completion{}, fmt.Errorf("policy completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("policy completion: empty choices")
	}

	msg := resp.Choices[0].Message
	completion := Completion{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		completion.ToolCalls = append(completion.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return completion, nil
}

func toMessageParams(turns []models.Turn) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(turn.Content))
		case models.RoleUser:
			out = append(out, openai.UserMessage(turn.Content))
		case models.RoleAssistant:
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if turn.Content != "" {
				assistant.Content.OfString = openai.String(turn.Content)
			}
			for _, tc := range turn.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case models.RoleTool:
			out = append(out, openai.ToolMessage(turn.Content, turn.ToolCallID))
		}
	}
	return out
}

func toToolParams(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	return out
}
