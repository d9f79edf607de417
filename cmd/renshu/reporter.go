package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/microsoft/renshu/internal/orchestration"
)

const bannerWidth = 55

// trainingReporter renders progress events and keeps the counters the
// final summary is printed from. Events arrive from a single goroutine.
type trainingReporter struct {
	verbose bool

	mu          sync.Mutex
	steps       int
	rollouts    int
	lastCorrect float64
	valAccuracy []float64
}

func newTrainingReporter(verbose bool) *trainingReporter {
	return &trainingReporter{verbose: verbose}
}

func (r *trainingReporter) listen(event orchestration.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch event.Kind {
	case orchestration.EventTrainingStart:
		fmt.Printf("Training starting at step %d...\n\n", event.Step)
	case orchestration.EventStepStart:
		if r.verbose {
			fmt.Printf("[step %d] epoch %d, %d group(s)\n", event.Step, event.Epoch, event.GroupCount)
		}
	case orchestration.EventRolloutDone:
		r.rollouts++
		if r.verbose {
			fmt.Printf("  rollout done: %s\n", truncateLabel(event.ScenarioID, 60))
		}
	case orchestration.EventGroupScored:
		if r.verbose {
			fmt.Printf("  group %d scored: %s\n", event.GroupIndex, formatScores(event.Scores))
		}
	case orchestration.EventValidationStart:
		if r.verbose {
			fmt.Printf("  validating on %d scenario(s)...\n", event.GroupCount)
		}
	case orchestration.EventValidationDone:
		r.valAccuracy = append(r.valAccuracy, event.Correct)
		icon := "✓"
		if event.Correct < 0.5 {
			icon = "✗"
		}
		fmt.Printf("%s [step %d] val accuracy %.1f%%\n", icon, event.Step, event.Correct*100)
	case orchestration.EventStepDone:
		r.steps++
		r.lastCorrect = event.Correct
		icon := "✓"
		if event.Correct < 0.5 {
			icon = "✗"
		}
		fmt.Printf("%s [step %d] train accuracy %.1f%%\n", icon, event.Step, event.Correct*100)
	case orchestration.EventTrainingDone:
		fmt.Println()
	}
}

func (r *trainingReporter) printSummary() {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println(" TRAINING SUMMARY")
	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println()
	fmt.Printf("Steps trained:    %d\n", r.steps)
	fmt.Printf("Rollouts:         %d\n", r.rollouts)
	fmt.Printf("Final accuracy:   %.1f%%\n", r.lastCorrect*100)
	if len(r.valAccuracy) > 0 {
		last := r.valAccuracy[len(r.valAccuracy)-1]
		fmt.Printf("Last validation:  %.1f%%\n", last*100)
	}
	fmt.Println()
}

func formatScores(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.2f", s)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// truncateLabel shortens s to the given display width, appending "..."
// if truncated. Width-aware so wide runes do not break alignment.
func truncateLabel(s string, width int) string {
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}
