package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/microsoft/renshu/internal/esim"
)

var (
	evalJudgeURL   string
	evalJudgeModel string
	evalAPIKey     string
	evalLLM        bool
	evalSeed       int64
	evalThreshold  float64
	evalOutput     string
)

func newEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <cases.json>",
		Short: "Score recorded eSIM demo conversations",
		Long: `Score a file of recorded conversations against their expectations. The
heuristic scorers (tool order, duration tier, booking fields) always
run; pass --llm to add the LLM-judged helpfulness and grounding
scorers. Aggregates carry bootstrap confidence intervals.`,
		Args: cobra.ExactArgs(1),
		RunE: evalCommandE,
	}

	cmd.Flags().StringVar(&evalJudgeURL, "judge-url", "https://api.openai.com/v1", "Judge endpoint for the LLM scorers")
	cmd.Flags().StringVar(&evalJudgeModel, "judge-model", "gpt-4o-mini", "Model backing the LLM scorers")
	cmd.Flags().StringVar(&evalAPIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for the judge endpoint")
	cmd.Flags().BoolVar(&evalLLM, "llm", false, "Run the LLM-judged scorers as well")
	cmd.Flags().Int64Var(&evalSeed, "seed", -1, "Bootstrap resampling seed (-1 = random)")
	cmd.Flags().Float64Var(&evalThreshold, "threshold", 0, "Fail when any scorer's mean is below this fraction")
	cmd.Flags().StringVar(&evalOutput, "output", "", "Write the full report as JSON to this file")

	return cmd
}

func evalCommandE(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var cases []esim.EvalCase
	if err := json.Unmarshal(data, &cases); err != nil {
		return fmt.Errorf("parsing cases %q: %w", args[0], err)
	}
	if len(cases) == 0 {
		return fmt.Errorf("no cases in %s", args[0])
	}

	scorers := []esim.Scorer{
		esim.ToolOrderScorer{},
		esim.DurationTierScorer{},
		esim.BookingFieldsScorer{},
	}
	if evalLLM {
		if evalAPIKey == "" {
			return fmt.Errorf("--llm requires an API key")
		}
		scorers = append(scorers,
			esim.NewHelpfulnessScorer(evalJudgeURL, evalAPIKey, evalJudgeModel),
			esim.NewGroundingScorer(evalJudgeURL, evalAPIKey, evalJudgeModel),
		)
	}

	fmt.Printf("Scoring %d case(s) with %d scorer(s)\n\n", len(cases), len(scorers))

	report, err := esim.Evaluate(cmd.Context(), scorers, cases, evalSeed)
	if err != nil {
		return err
	}

	printEvalReport(scorers, report)

	if evalOutput != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(evalOutput, data, 0644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		fmt.Printf("Report written to %s\n", evalOutput)
	}

	if evalThreshold > 0 {
		for name, interval := range report.Aggregates {
			if interval.Mean < evalThreshold {
				return &TestFailureError{
					Message: fmt.Sprintf("%s mean %.1f%% is below the %.1f%% threshold",
						name, interval.Mean*100, evalThreshold*100),
				}
			}
		}
	}
	return nil
}

func printEvalReport(scorers []esim.Scorer, report *esim.Report) {
	for _, result := range report.Cases {
		fmt.Println(truncateLabel(result.Case, 70))
		for _, scorer := range scorers {
			score := result.Scores[scorer.Name()]
			icon := "✗"
			if score.Value >= 0.5 {
				icon = "✓"
			}
			fmt.Printf("  %s %-15s %.2f  %s\n",
				icon, scorer.Name(), score.Value, truncateLabel(score.Reasoning, 50))
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println(" EVALUATION AGGREGATES")
	fmt.Println(strings.Repeat("═", bannerWidth))
	fmt.Println()

	names := make([]string, 0, len(report.Aggregates))
	for name := range report.Aggregates {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		interval := report.Aggregates[name]
		fmt.Printf("%-15s %.1f%% (95%% CI %.1f%%-%.1f%%)\n",
			name, interval.Mean*100, interval.Lower*100, interval.Upper*100)
	}
	fmt.Println()
}
