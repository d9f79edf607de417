package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/renshu/internal/config"
	"github.com/microsoft/renshu/internal/dataset"
	"github.com/microsoft/renshu/internal/judge"
	"github.com/microsoft/renshu/internal/mailstore"
	"github.com/microsoft/renshu/internal/models"
	"github.com/microsoft/renshu/internal/orchestration"
	"github.com/microsoft/renshu/internal/rollout"
	"github.com/microsoft/renshu/internal/scoring"
	"github.com/microsoft/renshu/internal/telemetry"
	"github.com/microsoft/renshu/internal/trainer"
)

var (
	trainPreset       string
	trainScenarios    string
	trainMailDB       string
	trainBackendURL   string
	trainInferenceURL string
	trainJudgeURL     string
	trainAPIKey       string
	trainMetricsFile  string
	trainMaxSteps     int
	trainGroups       int
	trainRollouts     int
	trainEpochs       int
	trainConcurrency  int
	trainSeed         int64
	trainVerbose      bool
)

func newTrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the reinforcement learning training loop",
		Long: `Run the training loop: gather rollout groups against the mail store,
score them with the group judge, and submit each batch to the training
backend. Interrupted runs resume from the backend's current step.`,
		Args: cobra.NoArgs,
		RunE: trainCommandE,
	}

	cmd.Flags().StringVar(&trainPreset, "preset", "full", "Config preset: full or demo")
	cmd.Flags().StringVar(&trainScenarios, "scenarios", "", "Scenario snapshot (JSONL, optionally .gz; default from config)")
	cmd.Flags().StringVar(&trainMailDB, "mail-db", "", "SQLite mail store path (default from config)")
	cmd.Flags().StringVar(&trainBackendURL, "backend-url", "http://localhost:7777", "Training backend base URL")
	cmd.Flags().StringVar(&trainInferenceURL, "inference-url", "http://localhost:8000/v1", "Policy inference endpoint (OpenAI-compatible)")
	cmd.Flags().StringVar(&trainJudgeURL, "judge-url", "https://openrouter.ai/api/v1", "Judge endpoint (OpenAI-compatible)")
	cmd.Flags().StringVar(&trainAPIKey, "api-key", os.Getenv("OPENAI_API_KEY"), "API key for inference and judge endpoints")
	cmd.Flags().StringVar(&trainMetricsFile, "metrics-file", "", "Append per-episode metrics to this JSONL file")
	cmd.Flags().IntVar(&trainMaxSteps, "max-steps", 0, "Override the training step budget")
	cmd.Flags().IntVar(&trainGroups, "groups-per-step", 0, "Override scenarios per training step")
	cmd.Flags().IntVar(&trainRollouts, "rollouts-per-group", 0, "Override rollouts per scenario")
	cmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Override the number of dataset epochs")
	cmd.Flags().IntVar(&trainConcurrency, "concurrency", 0, "Override maximum concurrent rollouts")
	cmd.Flags().Int64Var(&trainSeed, "seed", -1, "Override the dataset shuffle seed")
	cmd.Flags().BoolVarP(&trainVerbose, "verbose", "v", false, "Verbose output with per-rollout progress")

	return cmd
}

func trainCommandE(cmd *cobra.Command, _ []string) error {
	if err := requireAPIKey(trainAPIKey); err != nil {
		return err
	}
	cfg, err := loadTrainingConfig()
	if err != nil {
		return err
	}

	store, err := mailstore.Open(cfg.Paths.MailDB)
	if err != nil {
		return err
	}
	defer store.Close()

	trainSet, valSet, err := loadScenarioSets(cfg)
	if err != nil {
		return err
	}
	if len(trainSet) == 0 {
		return fmt.Errorf("no training scenarios in %s", cfg.Paths.Scenarios)
	}
	seed := *cfg.Dataset.Seed

	fmt.Printf("Model: %s (base %s)\n", cfg.Model.Name, cfg.Model.BaseModel)
	fmt.Printf("Scenarios: %d train, %d val\n", len(trainSet), len(valSet))
	fmt.Printf("Budget: %d steps × %d groups × %d rollouts\n",
		cfg.Training.MaxSteps, cfg.Training.GroupsPerStep, cfg.Training.RolloutsPerGroup)
	fmt.Println()

	policy := rollout.NewOpenAIPolicy(trainInferenceURL, trainAPIKey, cfg.Model.Name)
	correctness := judge.NewClient(trainJudgeURL, trainAPIKey, cfg.Judge.CorrectnessJudgeModel)
	engine := rollout.NewEngine(policy, store, correctness, cfg.Training.MaxTurns)
	scorer := scoring.NewRulerScorer(trainJudgeURL, trainAPIKey, cfg.Judge.GroupScorerModel)
	backend := trainer.NewClient(trainBackendURL, cfg.Model.Name, cfg.Model.Project, cfg.Model.BaseModel, cfg.Training.LearningRate)

	runLabel := fmt.Sprintf("%s-%d", cfg.Model.Name, time.Now().Unix())
	sink, err := telemetry.NewSink(runLabel, trainMetricsFile)
	if err != nil {
		return err
	}
	defer sink.Close()

	progress := newTrainingReporter(trainVerbose)
	runner := orchestration.NewTrainingRunner(cfg, engine, scorer, backend, sink,
		orchestration.WithProgressListener(progress.listen))

	it := dataset.NewIterator(trainSet, cfg.Training.GroupsPerStep, cfg.Training.NumEpochs, seed)
	if err := runner.Run(cmd.Context(), it, valSet); err != nil {
		return err
	}

	progress.printSummary()
	return nil
}

// loadScenarioSets loads the training and validation scenario sets.
// Snapshots carry only train and test splits; validation runs over the
// held-out test split and is reported under the "val" telemetry tag.
func loadScenarioSets(cfg *config.Config) (trainSet, valSet []models.Scenario, err error) {
	trainSet, err = dataset.LoadScenarios(cfg.Paths.Scenarios, dataset.LoadOptions{
		Split:       models.SplitTrain,
		Limit:       cfg.Dataset.TrainLimit,
		MaxMessages: cfg.Dataset.MaxMessages,
		Shuffle:     *cfg.Dataset.Shuffle,
		Seed:        *cfg.Dataset.Seed,
	})
	if err != nil {
		return nil, nil, err
	}

	valSet, err = dataset.LoadScenarios(cfg.Paths.Scenarios, dataset.LoadOptions{
		Split:       models.SplitTest,
		Limit:       cfg.Dataset.ValLimit,
		MaxMessages: cfg.Dataset.MaxMessages,
	})
	if err != nil {
		return nil, nil, err
	}
	return trainSet, valSet, nil
}

// loadTrainingConfig resolves preset, project file, and flag overrides, in
// that order.
func loadTrainingConfig() (*config.Config, error) {
	base, err := config.Preset(trainPreset)
	if err != nil {
		return nil, err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(cwd, base)
	if err != nil {
		return nil, err
	}

	if trainScenarios != "" {
		cfg.Paths.Scenarios = trainScenarios
	}
	if trainMailDB != "" {
		cfg.Paths.MailDB = trainMailDB
	}
	if trainMaxSteps > 0 {
		cfg.Training.MaxSteps = trainMaxSteps
	}
	if trainGroups > 0 {
		cfg.Training.GroupsPerStep = trainGroups
	}
	if trainRollouts > 0 {
		cfg.Training.RolloutsPerGroup = trainRollouts
	}
	if trainEpochs > 0 {
		cfg.Training.NumEpochs = trainEpochs
	}
	if trainConcurrency > 0 {
		cfg.Training.MaxConcurrency = trainConcurrency
	}
	if trainSeed >= 0 {
		cfg.Dataset.Seed = &trainSeed
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
