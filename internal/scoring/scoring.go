// Package scoring assigns relative scores to groups of rollouts. The
// shipped strategy asks an LLM judge to rank every trajectory in the group
// against the others, which removes the need for hand-written reward
// functions.
package scoring

import (
	"context"
	"fmt"

	"github.com/microsoft/renshu/internal/models"
)

// Strategy scores a group of rollouts relative to each other. The returned
// slice has exactly one score per transcript, in transcript order.
type Strategy interface {
	Name() string
	ScoreGroup(ctx context.Context, group *models.Group) ([]float64, error)
}

// MalformedScoreError reports a judge response that could not be turned
// into a usable score vector. Callers treat it as retryable: the judge can
// be asked again with the same group.
type MalformedScoreError struct {
	Reason string
	Raw    string
}

func (e *MalformedScoreError) Error() string {
	return fmt.Sprintf("malformed scores: %s", e.Reason)
}

// StaticStrategy replays pre-canned score vectors, one per call.
// A test double.
type StaticStrategy struct {
	Vectors [][]float64
	Errs    []error
	calls   int
}

func (s *StaticStrategy) Name() string { return "static" }

func (s *StaticStrategy) ScoreGroup(_ context.Context, group *models.Group) ([]float64, error) {
	idx := s.calls
	s.calls++
	if idx < len(s.Errs) && s.Errs[idx] != nil {
		return nil, s.Errs[idx]
	}
	if idx >= len(s.Vectors) {
		idx = len(s.Vectors) - 1
	}
	if idx < 0 || len(s.Vectors[idx]) != group.Size() {
		return nil, &MalformedScoreError{Reason: "static vector size mismatch"}
	}
	return s.Vectors[idx], nil
}

// Calls returns how many times ScoreGroup has run.
func (s *StaticStrategy) Calls() int { return s.calls }
