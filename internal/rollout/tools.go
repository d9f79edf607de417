package rollout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/microsoft/renshu/internal/mailstore"
	"github.com/microsoft/renshu/internal/models"
)

// Tool names exposed to the policy model.
const (
	ToolSearchInbox       = "search_inbox"
	ToolReadEmail         = "read_email"
	ToolReturnFinalAnswer = "return_final_answer"
)

// NewToolset returns the episode tool registry for one scenario: inbox
// search, message read, and the finalize tool. The search and read tools are
// pinned to the scenario's inbox and query date.
func NewToolset(store *mailstore.Store, scenario models.Scenario) (*Registry, *FinalAnswerTool, error) {
	final := &FinalAnswerTool{}
	registry, err := NewRegistry(
		&SearchInboxTool{store: store, scenario: scenario},
		&ReadEmailTool{store: store, scenario: scenario},
		final,
	)
	if err != nil {
		return nil, nil, err
	}
	return registry, final, nil
}

// SearchInboxTool performs full-text search over the scenario's inbox,
// bounded to messages sent before the scenario's query date.
type SearchInboxTool struct {
	store    *mailstore.Store
	scenario models.Scenario
}

type searchInboxArgs struct {
	Keywords []string `mapstructure:"keywords"`
}

func (t *SearchInboxTool) Name() string { return ToolSearchInbox }

func (t *SearchInboxTool) Description() string {
	return "Search the user's inbox for emails matching all of the given keywords. Returns message IDs and snippets of the matching regions."
}

func (t *SearchInboxTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"keywords": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Keywords that must all appear in the email subject or body.",
			},
		},
		"required":             []any{"keywords"},
		"additionalProperties": false,
	}
}

func (t *SearchInboxTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	var decoded searchInboxArgs
	if err := mapstructure.Decode(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding search arguments: %w", err)
	}

	results, err := t.store.Search(ctx, mailstore.SearchQuery{
		Inbox:      t.scenario.InboxAddress,
		Keywords:   decoded.Keywords,
		SentBefore: t.scenario.QueryDate,
	})
	if err != nil {
		return "", err
	}
	if results == nil {
		results = []models.SearchResult{}
	}

	out, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("serializing search results: %w", err)
	}
	return string(out), nil
}

// ReadEmailTool returns a full message by ID, limited to messages visible
// from the scenario's inbox.
type ReadEmailTool struct {
	store    *mailstore.Store
	scenario models.Scenario
}

type readEmailArgs struct {
	MessageID string `mapstructure:"message_id"`
}

func (t *ReadEmailTool) Name() string { return ToolReadEmail }

func (t *ReadEmailTool) Description() string {
	return "Read a single email by its message ID, as returned by search_inbox."
}

func (t *ReadEmailTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message_id": map[string]any{
				"type":        "string",
				"description": "The message ID of the email to read.",
			},
		},
		"required":             []any{"message_id"},
		"additionalProperties": false,
	}
}

func (t *ReadEmailTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	var decoded readEmailArgs
	if err := mapstructure.Decode(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding read arguments: %w", err)
	}

	email, err := t.store.Read(ctx, t.scenario.InboxAddress, decoded.MessageID)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("serializing email: %w", err)
	}
	return string(out), nil
}

// FinalAnswerTool records the agent's final answer. The episode loop checks
// Answer() after each invocation and terminates once it is set.
type FinalAnswerTool struct {
	answer *models.FinalAnswer
}

type finalAnswerArgs struct {
	Answer              string   `mapstructure:"answer"`
	ReferenceMessageIDs []string `mapstructure:"reference_message_ids"`
}

func (t *FinalAnswerTool) Name() string { return ToolReturnFinalAnswer }

func (t *FinalAnswerTool) Description() string {
	return "Return the final answer to the user's query, citing the message IDs the answer is based on."
}

func (t *FinalAnswerTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{
				"type":        "string",
				"description": "The answer to the user's query.",
			},
			"reference_message_ids": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Message IDs of the emails the answer was found in.",
			},
		},
		"required":             []any{"answer", "reference_message_ids"},
		"additionalProperties": false,
	}
}

func (t *FinalAnswerTool) Invoke(_ context.Context, args map[string]any) (string, error) {
	var decoded finalAnswerArgs
	if err := mapstructure.Decode(args, &decoded); err != nil {
		return "", fmt.Errorf("decoding final answer: %w", err)
	}

	t.answer = &models.FinalAnswer{
		Answer:    decoded.Answer,
		SourceIDs: decoded.ReferenceMessageIDs,
	}

	out, err := json.Marshal(t.answer)
	if err != nil {
		return "", fmt.Errorf("serializing final answer: %w", err)
	}
	return string(out), nil
}

// Answer returns the recorded final answer, or nil if the tool has not been
// invoked this episode.
func (t *FinalAnswerTool) Answer() *models.FinalAnswer { return t.answer }
