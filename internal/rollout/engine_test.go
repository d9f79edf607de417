package rollout

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/renshu/internal/mailstore"
	"github.com/microsoft/renshu/internal/models"
)

// scriptedPolicy replays a fixed sequence of completions. Once the script
// runs out it repeats the last entry, which lets turn-budget tests loop.
type scriptedPolicy struct {
	script []Completion
	calls  int
}

func (p *scriptedPolicy) Complete(_ context.Context, _ []models.Turn, _ []ToolDefinition) (Completion, error) {
	idx := p.calls
	if idx >= len(p.script) {
		idx = len(p.script) - 1
	}
	p.calls++
	return p.script[idx], nil
}

type fakeJudge struct {
	accept bool
	calls  int
}

func (j *fakeJudge) JudgeCorrectness(_ context.Context, _ models.Scenario, _ string) (models.Judgment, error) {
	j.calls++
	return models.Judgment{Accept: j.accept, Reasoning: "scripted"}, nil
}

func testStore(t *testing.T) *mailstore.Store {
	t.Helper()

	store, err := mailstore.Create(filepath.Join(t.TempDir(), "emails.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	emails := []models.Email{
		{
			MessageID:   "m1",
			Date:        time.Date(2001, 3, 1, 9, 0, 0, 0, time.UTC),
			Subject:     "Budget review",
			FromAddress: "boss@corp.com",
			ToAddresses: []string{"pat@corp.com"},
			Body:        "The travel budget for Q2 is $45,000.",
		},
	}
	var sb strings.Builder
	for _, e := range emails {
		line, err := json.Marshal(e)
		require.NoError(t, err)
		sb.Write(line)
		sb.WriteByte('\n')
	}
	_, err = store.Ingest(strings.NewReader(sb.String()))
	require.NoError(t, err)
	require.NoError(t, store.FinishIngest())
	return store
}

func testScenario() models.Scenario {
	return models.Scenario{
		ID:           "s1",
		Split:        models.SplitTrain,
		Question:     "What is the Q2 travel budget?",
		Answer:       "$45,000",
		InboxAddress: "pat@corp.com",
		QueryDate:    "2001-04-01",
	}
}

func searchCall(id string, keywords ...string) models.ToolCall {
	args, _ := json.Marshal(map[string]any{"keywords": keywords})
	return models.ToolCall{ID: id, Name: ToolSearchInbox, Arguments: string(args)}
}

func finalCall(id, answer string, refs ...string) models.ToolCall {
	if refs == nil {
		refs = []string{}
	}
	args, _ := json.Marshal(map[string]any{"answer": answer, "reference_message_ids": refs})
	return models.ToolCall{ID: id, Name: ToolReturnFinalAnswer, Arguments: string(args)}
}

func TestRolloutHappyPath(t *testing.T) {
	store := testStore(t)
	judge := &fakeJudge{accept: true}
	policy := &scriptedPolicy{script: []Completion{
		{ToolCalls: []models.ToolCall{searchCall("c1", "budget")}},
		{ToolCalls: []models.ToolCall{{ID: "c2", Name: ToolReadEmail, Arguments: `{"message_id":"m1"}`}}},
		{ToolCalls: []models.ToolCall{finalCall("c3", "$45,000", "m1")}},
	}}

	engine := NewEngine(policy, store, judge, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, transcript.Outcome)
	require.NotNil(t, transcript.FinalAnswer)
	assert.Equal(t, "$45,000", transcript.FinalAnswer.Answer)
	assert.Equal(t, []string{"m1"}, transcript.FinalAnswer.SourceIDs)
	assert.True(t, transcript.Correct())
	assert.Equal(t, 1, judge.calls)
	assert.Equal(t, float64(3), transcript.Metrics["num_turns"])
	assert.Equal(t, float64(1), transcript.Metrics["calls_"+ToolSearchInbox])

	// The search tool result carries the matching message.
	var sawHit bool
	for _, turn := range transcript.Turns {
		if turn.Role == models.RoleTool && strings.Contains(turn.Content, `"m1"`) {
			sawHit = true
		}
	}
	assert.True(t, sawHit)
}

func TestRolloutFinalizeShortCircuits(t *testing.T) {
	store := testStore(t)
	policy := &scriptedPolicy{script: []Completion{
		{ToolCalls: []models.ToolCall{
			finalCall("c1", "$45,000", "m1"),
			searchCall("c2", "budget"),
		}},
	}}

	engine := NewEngine(policy, store, &fakeJudge{accept: true}, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, transcript.Outcome)
	// The trailing search call was never executed.
	assert.Zero(t, transcript.Metrics["calls_"+ToolSearchInbox])
	assert.Equal(t, 1, policy.calls)
}

func TestRolloutNoToolCallsEndsEpisode(t *testing.T) {
	store := testStore(t)
	policy := &scriptedPolicy{script: []Completion{
		{Content: "I could not find anything."},
	}}

	engine := NewEngine(policy, store, &fakeJudge{}, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeIncomplete, transcript.Outcome)
	assert.Nil(t, transcript.FinalAnswer)
}

func TestRolloutTurnBudget(t *testing.T) {
	store := testStore(t)
	policy := &scriptedPolicy{script: []Completion{
		{ToolCalls: []models.ToolCall{searchCall("c", "budget")}},
	}}

	engine := NewEngine(policy, store, &fakeJudge{}, 3)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeIncomplete, transcript.Outcome)
	assert.Nil(t, transcript.FinalAnswer)
	assert.Equal(t, 3, policy.calls)
	assert.Equal(t, float64(3), transcript.Metrics["num_turns"])
}

func TestRolloutToolFailureEndsEpisode(t *testing.T) {
	store := testStore(t)
	judge := &fakeJudge{accept: true}
	policy := &scriptedPolicy{script: []Completion{
		// Empty keyword list fails store-side validation.
		{ToolCalls: []models.ToolCall{searchCall("c1")}},
		{ToolCalls: []models.ToolCall{finalCall("c2", "never reached")}},
	}}

	engine := NewEngine(policy, store, judge, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFailed, transcript.Outcome)
	assert.Contains(t, transcript.FailureReason, "keyword")
	assert.Nil(t, transcript.FinalAnswer)
	assert.Zero(t, judge.calls)
	assert.Equal(t, 1, policy.calls)
}

func TestRolloutUnknownToolReportedToModel(t *testing.T) {
	store := testStore(t)
	policy := &scriptedPolicy{script: []Completion{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "delete_inbox", Arguments: "{}"}}},
		{ToolCalls: []models.ToolCall{finalCall("c2", "$45,000", "m1")}},
	}}

	engine := NewEngine(policy, store, &fakeJudge{accept: true}, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	// The bad name is surfaced as an error tool result, not a failure.
	assert.Equal(t, models.OutcomeCompleted, transcript.Outcome)
	var sawError bool
	for _, turn := range transcript.Turns {
		if turn.Role == models.RoleTool && strings.Contains(turn.Content, "unknown tool") {
			sawError = true
		}
	}
	assert.True(t, sawError)
}

func TestRolloutRejectedAnswer(t *testing.T) {
	store := testStore(t)
	policy := &scriptedPolicy{script: []Completion{
		{ToolCalls: []models.ToolCall{finalCall("c1", "$99", "m1")}},
	}}

	engine := NewEngine(policy, store, &fakeJudge{accept: false}, 8)
	transcript, err := engine.Rollout(context.Background(), testScenario())
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeCompleted, transcript.Outcome)
	assert.False(t, transcript.Correct())
	assert.Equal(t, float64(0), transcript.Metrics["correct"])
}

func TestRegistryValidation(t *testing.T) {
	store := testStore(t)
	registry, _, err := NewToolset(store, testScenario())
	require.NoError(t, err)

	tests := []struct {
		name    string
		tool    string
		args    string
		wantErr string
	}{
		{
			name:    "missing required property",
			tool:    ToolReadEmail,
			args:    `{}`,
			wantErr: "invalid arguments",
		},
		{
			name:    "wrong type",
			tool:    ToolSearchInbox,
			args:    `{"keywords":"budget"}`,
			wantErr: "invalid arguments",
		},
		{
			name:    "not json",
			tool:    ToolSearchInbox,
			args:    `{{{`,
			wantErr: "not valid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Invoke(context.Background(), tt.tool, tt.args)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
