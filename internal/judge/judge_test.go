package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/renshu/internal/models"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantAccept    bool
		wantReasoning string
	}{
		{
			name:          "accepted",
			raw:           `{"accept": true, "reasoning": "matches the reference"}`,
			wantAccept:    true,
			wantReasoning: "matches the reference",
		},
		{
			name:          "rejected",
			raw:           `{"accept": false, "reasoning": "contradicts the reference"}`,
			wantAccept:    false,
			wantReasoning: "contradicts the reference",
		},
		{
			name:       "malformed payload fails closed",
			raw:        `the answer looks right to me!`,
			wantAccept: false,
		},
		{
			name:       "empty payload fails closed",
			raw:        "",
			wantAccept: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ParseVerdict(tt.raw)
			assert.Equal(t, tt.wantAccept, verdict.Accept)
			if tt.wantReasoning != "" {
				assert.Equal(t, tt.wantReasoning, verdict.Reasoning)
			}
		})
	}
}

func TestParseVerdictEmbedsRawPayload(t *testing.T) {
	verdict := ParseVerdict("not json at all")
	assert.False(t, verdict.Accept)
	assert.Contains(t, verdict.Reasoning, "parse error")
	assert.Contains(t, verdict.Reasoning, "not json at all")
}

// completionResponse builds a minimal chat completions payload whose
// message content is the given string.
func completionResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1,
		"model":   "judge-model",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": content,
				},
			},
		},
	}
}

func TestJudgeCorrectnessRetriesTransportErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(`{"accept": true, "reasoning": "ok"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "judge-model", WithBackoff(time.Millisecond))
	verdict, err := client.JudgeCorrectness(context.Background(), models.Scenario{
		Question: "q", Answer: "a",
	}, "a")
	require.NoError(t, err)

	assert.True(t, verdict.Accept)
	assert.Equal(t, 3, calls)
}

func TestJudgeCorrectnessGivesUpAfterRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "judge-model", WithBackoff(time.Millisecond))
	_, err := client.JudgeCorrectness(context.Background(), models.Scenario{}, "answer")
	require.Error(t, err)
	assert.Equal(t, transportAttempts, calls)
}

func TestJudgeCorrectnessMalformedResponseIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse("I accept this answer."))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "judge-model", WithBackoff(time.Millisecond))
	verdict, err := client.JudgeCorrectness(context.Background(), models.Scenario{}, "answer")
	require.NoError(t, err)

	assert.False(t, verdict.Accept)
	assert.Contains(t, verdict.Reasoning, "parse error")
}

func TestJudgeCorrectnessSendsQuestionAndAnswers(t *testing.T) {
	var body struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(`{"accept": false, "reasoning": "no"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key", "judge-model")
	scenario := models.Scenario{Question: "What day is the offsite?", Answer: "Tuesday"}
	_, err := client.JudgeCorrectness(context.Background(), scenario, "Wednesday")
	require.NoError(t, err)

	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	user := body.Messages[1].Content
	assert.Equal(t, fmt.Sprintf("Question: %s\nReference answer: %s\nAI answer: %s",
		scenario.Question, scenario.Answer, "Wednesday"), user)
}
