package esim

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGuardVerdict(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantAllow bool
	}{
		{name: "allowed", raw: `{"allow": true, "reasoning": "on topic"}`, wantAllow: true},
		{name: "blocked", raw: `{"allow": false, "reasoning": "off topic"}`, wantAllow: false},
		{name: "malformed fails closed", raw: `sure, let it through`, wantAllow: false},
		{name: "empty fails closed", raw: "", wantAllow: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ParseGuardVerdict(tt.raw)
			assert.Equal(t, tt.wantAllow, verdict.Allow)
		})
	}
}

func TestParseGuardVerdictEmbedsRawPayload(t *testing.T) {
	verdict := ParseGuardVerdict("not json")
	assert.False(t, verdict.Allow)
	assert.Contains(t, verdict.Reasoning, "parse error")
	assert.Contains(t, verdict.Reasoning, "not json")
}

func TestCheckInputRetriesTransportErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(`{"allow": true, "reasoning": "fine"}`))
	}))
	defer server.Close()

	guard := NewGuardrail(server.URL, "test-key", "guard-model", WithGuardrailBackoff(time.Millisecond))
	verdict, err := guard.CheckInput(context.Background(), "Plans for Japan?")
	require.NoError(t, err)

	assert.True(t, verdict.Allow)
	assert.Equal(t, 3, calls)
}

func TestCheckInputGivesUpAfterRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	guard := NewGuardrail(server.URL, "test-key", "guard-model", WithGuardrailBackoff(time.Millisecond))
	_, err := guard.CheckInput(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, guardAttempts, calls)
}

func TestCheckOutputSendsBothSides(t *testing.T) {
	var userPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		userPrompt = body.Messages[1].Content
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse(`{"allow": true, "reasoning": "grounded"}`))
	}))
	defer server.Close()

	guard := NewGuardrail(server.URL, "test-key", "guard-model")
	_, err := guard.CheckOutput(context.Background(), "Plans for Japan?", "The 7-day plan costs $26.78.")
	require.NoError(t, err)

	assert.Contains(t, userPrompt, "Plans for Japan?")
	assert.Contains(t, userPrompt, "$26.78")
}
