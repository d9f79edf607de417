package models

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the assistant. Arguments is
// the raw JSON argument payload as returned by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is a single message in an episode.
type Turn struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result turn back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// FinalAnswer is the agent's answer to the scenario question along with
// the message IDs it cites as sources.
type FinalAnswer struct {
	Answer    string   `json:"answer"`
	SourceIDs []string `json:"source_ids"`
}

// Judgment is the correctness judge's verdict on a final answer.
type Judgment struct {
	Accept    bool   `json:"accept"`
	Reasoning string `json:"reasoning"`
}

// Outcome tags how an episode ended.
type Outcome string

const (
	// OutcomeCompleted means the agent returned a final answer.
	OutcomeCompleted Outcome = "completed"
	// OutcomeIncomplete means the turn budget ran out, or the model stopped
	// calling tools, before a final answer was returned.
	OutcomeIncomplete Outcome = "incomplete"
	// OutcomeFailed means a tool invocation failed and ended the episode.
	OutcomeFailed Outcome = "failed"
)

// Transcript records one full episode for a scenario.
type Transcript struct {
	Scenario      Scenario           `json:"scenario"`
	Turns         []Turn             `json:"turns"`
	FinalAnswer   *FinalAnswer       `json:"final_answer,omitempty"`
	Judgment      *Judgment          `json:"judgment,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	Outcome       Outcome            `json:"outcome"`
	FailureReason string             `json:"failure_reason,omitempty"`
}

// NewTranscript returns an empty transcript for the given scenario.
func NewTranscript(scenario Scenario) *Transcript {
	return &Transcript{
		Scenario: scenario,
		Metrics:  map[string]float64{},
		Outcome:  OutcomeIncomplete,
	}
}

// AddTurn appends a turn to the episode.
func (t *Transcript) AddTurn(turn Turn) {
	t.Turns = append(t.Turns, turn)
}

// AddMetric records a named metric, overwriting any previous value.
func (t *Transcript) AddMetric(name string, value float64) {
	if t.Metrics == nil {
		t.Metrics = map[string]float64{}
	}
	t.Metrics[name] = value
}

// Correct reports whether the correctness judge accepted the final answer.
func (t *Transcript) Correct() bool {
	return t.Metrics["correct"] == 1
}

// TurnCount returns the number of assistant turns taken.
func (t *Transcript) TurnCount() int {
	n := 0
	for _, turn := range t.Turns {
		if turn.Role == RoleAssistant {
			n++
		}
	}
	return n
}
