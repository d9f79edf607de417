package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/microsoft/renshu/internal/config"
	"github.com/microsoft/renshu/internal/dataset"
	"github.com/microsoft/renshu/internal/judge"
	"github.com/microsoft/renshu/internal/mailstore"
	"github.com/microsoft/renshu/internal/models"
	"github.com/microsoft/renshu/internal/rollout"
	"github.com/microsoft/renshu/internal/statistics"
)

var (
	testPreset       string
	testScenarios    string
	testMailDB       string
	testSplit        string
	testLimit        int
	testSeed         int64
	testThreshold    float64
	testOutput       string
	testModel        string
	testInferenceURL string
	testJudgeURL     string
	testAPIKey       string
	testConcurrency  int
)

// episodeResult is one scored episode in the evaluation report.
type episodeResult struct {
	ScenarioID string             `json:"scenario_id"`
	Question   string             `json:"question"`
	Outcome    models.Outcome     `json:"outcome"`
	Correct    bool               `json:"correct"`
	Answer     string             `json:"answer,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// evalReport is the JSON document written by --output.
type evalReport struct {
	Model    string              `json:"model"`
	Split    string              `json:"split"`
	Episodes []episodeResult     `json:"episodes"`
	Accuracy statistics.Interval `json:"accuracy"`
	Turns    map[string]float64  `json:"turns"`
}

func newTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate a trained model on a held-out scenario split",
		Long: `Run one episode per scenario in the chosen split, judge each final
answer, and report accuracy with a bootstrap confidence interval. With
--threshold the command exits non-zero when accuracy falls below it.`,
		Args: cobra.NoArgs,
		RunE: testCommandE,
	}

	cmd.Flags().StringVar(&testPreset, "preset", "full", "Config preset: full or demo")
	cmd.Flags().StringVar(&testScenarios, "scenarios", "", "Scenario snapshot (JSONL, optionally .gz; default from config)")
	cmd.Flags().StringVar(&testMailDB, "mail-db", "", "SQLite mail store path (default from config)")
	cmd.Flags().StringVar(&testSplit, "split", "test", "Scenario split to evaluate: train or test")
	cmd.Flags().IntVar(&testLimit, "limit", 0, "Evaluate at most this many scenarios (0 = all)")
	cmd.Flags().Int64Var(&testSeed, "seed", -1, "Bootstrap resampling seed (-1 = random)")
	cmd.Flags().Float64Var(&testThreshold, "threshold", 0, "Fail when accuracy is below this fraction")
	cmd.Flags().StringVar(&testOutput, "output", "", "Write the full report as JSON to this file")
	cmd.Flags().StringVar(&testModel, "model", "", "Model to evaluate (default from config)")
	cmd.Flags().StringVar(&testInferenceURL, "inference-url", "http://localhost:8000/v1", "Policy inference endpoint (OpenAI-compatible)")
	cmd.Flags().StringVar(&testJudgeURL, "judge-url", "https://openrouter.ai/api/v1", "Judge endpoint (OpenAI-compatible)")
	cmd.Flags().StringVar(&testAPIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for inference and judge endpoints")
	cmd.Flags().IntVar(&testConcurrency, "concurrency", 8, "Maximum concurrent episodes")

	return cmd
}

func testCommandE(cmd *cobra.Command, _ []string) error {
	if err := requireAPIKey(testAPIKey); err != nil {
		return err
	}
	base, err := config.Preset(testPreset)
	if err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cwd, base)
	if err != nil {
		return err
	}
	if testScenarios != "" {
		cfg.Paths.Scenarios = testScenarios
	}
	if testMailDB != "" {
		cfg.Paths.MailDB = testMailDB
	}
	model := cfg.Model.Name
	if testModel != "" {
		model = testModel
	}

	split, err := parseSplit(testSplit)
	if err != nil {
		return err
	}

	store, err := mailstore.Open(cfg.Paths.MailDB)
	if err != nil {
		return err
	}
	defer store.Close()

	scenarios, err := dataset.LoadScenarios(cfg.Paths.Scenarios, dataset.LoadOptions{
		Split:       split,
		Limit:       testLimit,
		MaxMessages: cfg.Dataset.MaxMessages,
	})
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		return fmt.Errorf("no %s scenarios in %s", split, cfg.Paths.Scenarios)
	}

	fmt.Printf("Evaluating %s on %d %s scenario(s)\n\n", model, len(scenarios), split)

	policy := rollout.NewOpenAIPolicy(testInferenceURL, testAPIKey, model)
	correctness := judge.NewClient(testJudgeURL, testAPIKey, cfg.Judge.CorrectnessJudgeModel)
	engine := rollout.NewEngine(policy, store, correctness, cfg.Training.MaxTurns)

	results := make([]episodeResult, len(scenarios))
	var mu sync.Mutex
	done := 0

	group, ctx := errgroup.WithContext(cmd.Context())
	group.SetLimit(testConcurrency)
	for i, scenario := range scenarios {
		group.Go(func() error {
			result, err := runEpisode(ctx, engine, scenario)
			if err != nil {
				return err
			}
			results[i] = result

			mu.Lock()
			done++
			icon := "✗"
			if result.Correct {
				icon = "✓"
			}
			fmt.Printf("%s [%d/%d] %s\n", icon, done, len(scenarios),
				truncateLabel(scenario.Question, 70))
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	scores := make([]float64, len(results))
	turns := make([]float64, len(results))
	for i, r := range results {
		if r.Correct {
			scores[i] = 1
		}
		turns[i] = r.Metrics["num_turns"]
	}
	accuracy := statistics.Bootstrap(scores, 0.95, testSeed)

	printTestSummary(model, string(split), accuracy, turns)

	if testOutput != "" {
		report := evalReport{
			Model:    model,
			Split:    string(split),
			Episodes: results,
			Accuracy: accuracy,
			Turns: map[string]float64{
				"mean":   statistics.Mean(turns),
				"stddev": statistics.StdDev(turns),
			},
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(testOutput, data, 0644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", testOutput)
	}

	if testThreshold > 0 && accuracy.Mean < testThreshold {
		return &TestFailureError{
			Message: fmt.Sprintf("accuracy %.1f%% is below the %.1f%% threshold",
				accuracy.Mean*100, testThreshold*100),
		}
	}
	return nil
}

// parseSplit accepts the splits snapshots actually carry. "val" is a
// telemetry tag, not a snapshot split.
func parseSplit(s string) (models.Split, error) {
	switch models.Split(s) {
	case models.SplitTrain, models.SplitTest:
		return models.Split(s), nil
	}
	return "", fmt.Errorf("unknown split %q (want train or test)", s)
}

func runEpisode(ctx context.Context, engine *rollout.Engine, scenario models.Scenario) (episodeResult, error) {
	transcript, err := engine.Rollout(ctx, scenario)
	if err != nil {
		return episodeResult{}, fmt.Errorf("episode %s: %w", scenario.ID, err)
	}

	result := episodeResult{
		ScenarioID: scenario.ID,
		Question:   scenario.Question,
		Outcome:    transcript.Outcome,
		Correct:    transcript.Correct(),
		Metrics:    transcript.Metrics,
	}
	if transcript.FinalAnswer != nil {
		result.Answer = transcript.FinalAnswer.Answer
	}
	if transcript.Judgment != nil {
		result.Reasoning = transcript.Judgment.Reasoning
	}
	return result, nil
}

func printTestSummary(model, split string, accuracy statistics.Interval, turns []float64) {
	fmt.Println()
	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println(" EVALUATION RESULTS")
	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println()
	fmt.Printf("Model:     %s\n", model)
	fmt.Printf("Split:     %s (%d scenarios)\n", split, accuracy.SampleSize)
	fmt.Printf("Accuracy:  %.1f%% (95%% CI %.1f%%-%.1f%%)\n",
		accuracy.Mean*100, accuracy.Lower*100, accuracy.Upper*100)
	fmt.Printf("Turns:     %.1f mean, %.1f stddev\n",
		statistics.Mean(turns), statistics.StdDev(turns))
	fmt.Println()
}
