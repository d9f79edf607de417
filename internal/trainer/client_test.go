package trainer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/renshu/internal/models"
)

func fastClient(url string) *Client {
	return NewClient(url, "email-agent-test", "proj", "base/model", 1e-5,
		WithRegisterBackoff(time.Millisecond, 4*time.Millisecond))
}

func TestRegisterRetriesUntilBackendIsUp(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"run_id": "run-7", "step": 12})
	}))
	defer server.Close()

	c := fastClient(server.URL)
	runID, err := c.Register(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-7", runID)
	assert.Equal(t, "run-7", c.RunID())
	assert.Equal(t, 3, calls)
}

func TestRegisterGivesUpAfterFiveAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := fastClient(server.URL).Register(context.Background())
	require.Error(t, err)
	assert.Equal(t, registerAttempts, calls)
}

func TestRegisterGeneratesRunIDWhenBackendOmitsIt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"step": 0})
	}))
	defer server.Close()

	c := fastClient(server.URL)
	runID, err := c.Register(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
}

func TestCallsRequireRegistration(t *testing.T) {
	c := fastClient("http://unused")
	ctx := context.Background()

	_, err := c.Step(ctx)
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.ErrorIs(t, c.DeleteCheckpoints(ctx), ErrNotRegistered)

	_, err = c.Train(ctx, &models.TrainingBatch{})
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.ErrorIs(t, c.Log(ctx, 0, "train", nil), ErrNotRegistered)
}

func TestTrainSubmitsBatch(t *testing.T) {
	var got trainRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/models/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"run_id": "run-1", "step": 0})
	})
	mux.HandleFunc("/models/email-agent-test/train", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"step": got.Step + 1})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := fastClient(server.URL)
	_, err := c.Register(context.Background())
	require.NoError(t, err)

	batch := &models.TrainingBatch{
		Step: 4,
		Groups: []*models.Group{{
			Scenario: models.Scenario{ID: "s1"},
			Scores:   []float64{0.2, 0.8},
		}},
	}
	step, err := c.Train(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, 5, step)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 4, got.Step)
	assert.InDelta(t, 1e-5, got.LearningRate, 1e-12)
	require.Len(t, got.Groups, 1)
	assert.Equal(t, []float64{0.2, 0.8}, got.Groups[0].Scores)
}

func TestStepAndDeleteCheckpoints(t *testing.T) {
	var deleted bool
	mux := http.NewServeMux()
	mux.HandleFunc("/models/register", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"run_id": "run-1"})
	})
	mux.HandleFunc("/models/email-agent-test/step", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"step": 42})
	})
	mux.HandleFunc("/models/email-agent-test/checkpoints", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		deleted = true
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := fastClient(server.URL)
	_, err := c.Register(context.Background())
	require.NoError(t, err)

	step, err := c.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, step)

	require.NoError(t, c.DeleteCheckpoints(context.Background()))
	assert.True(t, deleted)
}
