// Package telemetry records per-episode and per-step training metrics.
// Records fan out to the process logger and to a JSONL file that survives
// the run, keyed by run ID, step, and split.
package telemetry

import (
	"fmt"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"

	"github.com/microsoft/renshu/internal/models"
)

// Sink writes training metrics.
type Sink struct {
	logger *slog.Logger
	file   *os.File
	runID  string
}

// NewSink opens (appending) the JSONL metrics file and wires the fan-out.
// An empty path disables the file handler.
func NewSink(runID, path string) (*Sink, error) {
	s := &Sink{runID: runID}

	handlers := []slog.Handler{slog.Default().Handler()}
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening metrics file %q: %w", path, err)
		}
		s.file = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s.logger = slog.New(slogmulti.Fanout(handlers...)).With("run_id", runID)
	return s, nil
}

// Close flushes and closes the metrics file.
func (s *Sink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// RecordEpisode logs one finished episode.
func (s *Sink) RecordEpisode(step int, split models.Split, t *models.Transcript) {
	attrs := []any{
		"step", step,
		"split", string(split),
		"scenario", t.Scenario.ID,
		"outcome", string(t.Outcome),
	}
	for name, value := range t.Metrics {
		attrs = append(attrs, name, value)
	}
	if t.FailureReason != "" {
		attrs = append(attrs, "failure_reason", t.FailureReason)
	}
	s.logger.Info("episode", attrs...)
}

// RecordStep logs aggregate metrics for one training step.
func (s *Sink) RecordStep(step int, split models.Split, metrics map[string]float64) {
	attrs := []any{"step", step, "split", string(split)}
	for name, value := range metrics {
		attrs = append(attrs, name, value)
	}
	s.logger.Info("step", attrs...)
}
