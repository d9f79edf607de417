// Package trainer is the client for the remote RL training service. The
// service hosts the policy weights; this client registers the run, submits
// scored trajectory groups, and tracks the global step.
package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/microsoft/renshu/internal/models"
)

// Registration retry policy: the backend can take a while to spin up
// serverless capacity, so registration backs off exponentially.
const (
	registerAttempts    = 5
	registerBackoffBase = 10 * time.Second
	registerBackoffCap  = 120 * time.Second
)

// ErrNotRegistered is returned by calls that need a registered run.
var ErrNotRegistered = errors.New("model is not registered")

// Client talks to one model's training endpoints.
type Client struct {
	baseURL      string
	modelName    string
	project      string
	baseModel    string
	learningRate float64

	httpClient *http.Client
	logger     *slog.Logger

	backoffBase time.Duration
	backoffCap  time.Duration

	runID string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRegisterBackoff overrides the registration backoff timings.
func WithRegisterBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffCap = cap
	}
}

// WithLogger overrides the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient returns a training client for the named model.
func NewClient(baseURL, modelName, project, baseModel string, learningRate float64, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		modelName:    modelName,
		project:      project,
		baseModel:    baseModel,
		learningRate: learningRate,
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		logger:       slog.Default(),
		backoffBase:  registerBackoffBase,
		backoffCap:   registerBackoffCap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type registerRequest struct {
	Name      string `json:"name"`
	Project   string `json:"project"`
	BaseModel string `json:"base_model"`
}

type registerResponse struct {
	RunID string `json:"run_id"`
	Step  int    `json:"step"`
}

// Register announces the run to the backend. It retries with exponential
// backoff because fresh backends routinely refuse the first attempts while
// capacity warms up. When the backend does not assign a run ID, one is
// generated locally.
func (c *Client) Register(ctx context.Context) (string, error) {
	var resp registerResponse

	backoff := retry.WithMaxRetries(registerAttempts-1,
		retry.WithCappedDuration(c.backoffCap, retry.NewExponential(c.backoffBase)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.post(ctx, "/models/register", registerRequest{
			Name:      c.modelName,
			Project:   c.project,
			BaseModel: c.baseModel,
		}, &resp)
		if err != nil {
			c.logger.Warn("model registration failed, backing off", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("registering model %q: %w", c.modelName, err)
	}

	if resp.RunID == "" {
		resp.RunID = uuid.NewString()
	}
	c.runID = resp.RunID
	c.logger.Info("model registered", "model", c.modelName, "run_id", c.runID, "step", resp.Step)
	return c.runID, nil
}

// RunID returns the registered run ID, or empty before Register.
func (c *Client) RunID() string { return c.runID }

// Step returns the backend's current global step for this model. Training
// resumes from here.
func (c *Client) Step(ctx context.Context) (int, error) {
	if c.runID == "" {
		return 0, ErrNotRegistered
	}
	var resp struct {
		Step int `json:"step"`
	}
	if err := c.get(ctx, fmt.Sprintf("/models/%s/step", c.modelName), &resp); err != nil {
		return 0, fmt.Errorf("fetching step: %w", err)
	}
	return resp.Step, nil
}

// DeleteCheckpoints prunes stale checkpoints on the backend. Called before
// every train submit to keep storage bounded.
func (c *Client) DeleteCheckpoints(ctx context.Context) error {
	if c.runID == "" {
		return ErrNotRegistered
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+fmt.Sprintf("/models/%s/checkpoints", c.modelName), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deleting checkpoints: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deleting checkpoints: %s", readError(resp))
	}
	return nil
}

type trainRequest struct {
	RunID        string          `json:"run_id"`
	Step         int             `json:"step"`
	LearningRate float64         `json:"learning_rate"`
	Groups       []*models.Group `json:"groups"`
}

type trainResponse struct {
	Step int `json:"step"`
}

// Train submits one batch of scored groups and returns the new global step.
func (c *Client) Train(ctx context.Context, batch *models.TrainingBatch) (int, error) {
	if c.runID == "" {
		return 0, ErrNotRegistered
	}
	var resp trainResponse
	err := c.post(ctx, fmt.Sprintf("/models/%s/train", c.modelName), trainRequest{
		RunID:        c.runID,
		Step:         batch.Step,
		LearningRate: c.learningRate,
		Groups:       batch.Groups,
	}, &resp)
	if err != nil {
		return 0, fmt.Errorf("submitting training batch at step %d: %w", batch.Step, err)
	}
	return resp.Step, nil
}

type logRequest struct {
	RunID   string             `json:"run_id"`
	Step    int                `json:"step"`
	Split   string             `json:"split"`
	Metrics map[string]float64 `json:"metrics"`
}

// Log forwards aggregate metrics to the backend's experiment tracking.
func (c *Client) Log(ctx context.Context, step int, split string, metrics map[string]float64) error {
	if c.runID == "" {
		return ErrNotRegistered
	}
	err := c.post(ctx, fmt.Sprintf("/models/%s/log", c.modelName), logRequest{
		RunID:   c.runID,
		Step:    step,
		Split:   split,
		Metrics: metrics,
	}, nil)
	if err != nil {
		return fmt.Errorf("logging metrics: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", path, readError(resp))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", path, readError(resp))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readError(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if len(raw) == 0 {
		return resp.Status
	}
	return fmt.Sprintf("%s: %s", resp.Status, raw)
}
