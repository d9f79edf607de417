// Package config provides the Config struct, presets, and the loader for
// .renshu.yaml project-level configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default values for the full training preset. Default() references them
// and no other code should duplicate them.
const (
	DefaultModelName = "email-agent-003"
	DefaultProject   = "renshu-email-agent"
	DefaultBaseModel = "OpenPipe/Qwen3-14B-Instruct"

	DefaultGroupsPerStep          = 8
	DefaultNumEpochs              = 20
	DefaultRolloutsPerGroup       = 8
	DefaultLearningRate           = 1e-5
	DefaultMaxSteps               = 500
	DefaultValidationStepInterval = 10
	DefaultMaxTurns               = 8

	DefaultTrainLimit  = 500
	DefaultValLimit    = 100
	DefaultMaxMessages = 1
	DefaultSeed        = 42

	DefaultJudgeModel            = "openai/o4-mini"
	DefaultCorrectnessJudgeModel = "openai/gpt-4.1"

	DefaultMaxConcurrency = 8
	DefaultSearchCap      = 10

	DefaultMailDBPath   = "data/emails.db"
	DefaultScenarioPath = "data/scenarios.jsonl.gz"
	DefaultResultsDir   = "results/"
)

// ModelConfig identifies the policy model being trained.
type ModelConfig struct {
	Name      string `yaml:"name,omitempty"`
	Project   string `yaml:"project,omitempty"`
	BaseModel string `yaml:"base_model,omitempty"`
}

// TrainingConfig holds the training-loop parameters.
type TrainingConfig struct {
	GroupsPerStep          int     `yaml:"groups_per_step,omitempty"`
	NumEpochs              int     `yaml:"num_epochs,omitempty"`
	RolloutsPerGroup       int     `yaml:"rollouts_per_group,omitempty"`
	LearningRate           float64 `yaml:"learning_rate,omitempty"`
	MaxSteps               int     `yaml:"max_steps,omitempty"`
	ValidationStepInterval int     `yaml:"validation_step_interval,omitempty"`
	MaxTurns               int     `yaml:"max_turns,omitempty"`
	MaxConcurrency         int     `yaml:"max_concurrency,omitempty"`
}

// DatasetConfig holds scenario selection parameters.
type DatasetConfig struct {
	TrainLimit  int    `yaml:"train_limit,omitempty"`
	ValLimit    int    `yaml:"val_limit,omitempty"`
	MaxMessages int    `yaml:"max_messages,omitempty"`
	Shuffle     *bool  `yaml:"shuffle,omitempty"`
	Seed        *int64 `yaml:"seed,omitempty"`
}

// JudgeConfig names the models used for scoring and correctness.
type JudgeConfig struct {
	GroupScorerModel      string `yaml:"group_scorer_model,omitempty"`
	CorrectnessJudgeModel string `yaml:"correctness_judge_model,omitempty"`
}

// PathsConfig holds file locations for the mail store, scenarios, and results.
type PathsConfig struct {
	MailDB    string `yaml:"mail_db,omitempty"`
	Scenarios string `yaml:"scenarios,omitempty"`
	Results   string `yaml:"results,omitempty"`
}

// Config is the top-level configuration. It is constructed in the command
// and passed down explicitly; there is no package-level instance.
type Config struct {
	Model    ModelConfig    `yaml:"model,omitempty"`
	Training TrainingConfig `yaml:"training,omitempty"`
	Dataset  DatasetConfig  `yaml:"dataset,omitempty"`
	Judge    JudgeConfig    `yaml:"judge,omitempty"`
	Paths    PathsConfig    `yaml:"paths,omitempty"`
}

// Default returns the full training preset.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Name:      DefaultModelName,
			Project:   DefaultProject,
			BaseModel: DefaultBaseModel,
		},
		Training: TrainingConfig{
			GroupsPerStep:          DefaultGroupsPerStep,
			NumEpochs:              DefaultNumEpochs,
			RolloutsPerGroup:       DefaultRolloutsPerGroup,
			LearningRate:           DefaultLearningRate,
			MaxSteps:               DefaultMaxSteps,
			ValidationStepInterval: DefaultValidationStepInterval,
			MaxTurns:               DefaultMaxTurns,
			MaxConcurrency:         DefaultMaxConcurrency,
		},
		Dataset: DatasetConfig{
			TrainLimit:  DefaultTrainLimit,
			ValLimit:    DefaultValLimit,
			MaxMessages: DefaultMaxMessages,
			Shuffle:     boolPtr(true),
			Seed:        int64Ptr(DefaultSeed),
		},
		Judge: JudgeConfig{
			GroupScorerModel:      DefaultJudgeModel,
			CorrectnessJudgeModel: DefaultCorrectnessJudgeModel,
		},
		Paths: PathsConfig{
			MailDB:    DefaultMailDBPath,
			Scenarios: DefaultScenarioPath,
			Results:   DefaultResultsDir,
		},
	}
}

// Demo returns a small preset sized for a laptop run.
func Demo() *Config {
	cfg := Default()
	cfg.Training.GroupsPerStep = 2
	cfg.Training.RolloutsPerGroup = 4
	cfg.Training.MaxSteps = 50
	cfg.Training.ValidationStepInterval = 5
	cfg.Training.MaxTurns = 6
	cfg.Dataset.TrainLimit = 50
	cfg.Dataset.ValLimit = 20
	return cfg
}

// Preset returns the named preset, or an error for an unknown name.
func Preset(name string) (*Config, error) {
	switch name {
	case "", "full":
		return Default(), nil
	case "demo":
		return Demo(), nil
	default:
		return nil, fmt.Errorf("unknown preset %q (expected \"full\" or \"demo\")", name)
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Training.RolloutsPerGroup < 2 {
		return fmt.Errorf("rollouts_per_group must be at least 2 for relative scoring, got %d", c.Training.RolloutsPerGroup)
	}
	if c.Training.GroupsPerStep < 1 {
		return fmt.Errorf("groups_per_step must be positive, got %d", c.Training.GroupsPerStep)
	}
	if c.Training.MaxTurns < 1 {
		return fmt.Errorf("max_turns must be positive, got %d", c.Training.MaxTurns)
	}
	if c.Training.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be positive, got %d", c.Training.MaxSteps)
	}
	if c.Training.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.Training.MaxConcurrency)
	}
	if c.Model.Name == "" {
		return errors.New("model name must not be empty")
	}
	return nil
}

// Load finds .renshu.yaml by walking up from startDir (max 10 levels),
// unmarshals it, and fills in missing fields from the given preset.
// If no config file is found, returns the preset with a nil error.
// Real I/O errors (e.g. permission denied) are returned to the caller.
func Load(startDir string, base *Config) (*Config, error) {
	cfg := base

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("loading .renshu.yaml: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .renshu.yaml: %w", err)
	}

	mergeConfig(cfg, &fileCfg)
	return cfg, nil
}

// findConfigFile walks up from dir looking for .renshu.yaml (max 10 levels).
// Returns os.ErrNotExist if no config file is found. Propagates real I/O
// errors instead of silently swallowing them.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".renshu.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *Config) {
	if src.Model.Name != "" {
		dst.Model.Name = src.Model.Name
	}
	if src.Model.Project != "" {
		dst.Model.Project = src.Model.Project
	}
	if src.Model.BaseModel != "" {
		dst.Model.BaseModel = src.Model.BaseModel
	}

	if src.Training.GroupsPerStep != 0 {
		dst.Training.GroupsPerStep = src.Training.GroupsPerStep
	}
	if src.Training.NumEpochs != 0 {
		dst.Training.NumEpochs = src.Training.NumEpochs
	}
	if src.Training.RolloutsPerGroup != 0 {
		dst.Training.RolloutsPerGroup = src.Training.RolloutsPerGroup
	}
	if src.Training.LearningRate != 0 {
		dst.Training.LearningRate = src.Training.LearningRate
	}
	if src.Training.MaxSteps != 0 {
		dst.Training.MaxSteps = src.Training.MaxSteps
	}
	if src.Training.ValidationStepInterval != 0 {
		dst.Training.ValidationStepInterval = src.Training.ValidationStepInterval
	}
	if src.Training.MaxTurns != 0 {
		dst.Training.MaxTurns = src.Training.MaxTurns
	}
	if src.Training.MaxConcurrency != 0 {
		dst.Training.MaxConcurrency = src.Training.MaxConcurrency
	}

	if src.Dataset.TrainLimit != 0 {
		dst.Dataset.TrainLimit = src.Dataset.TrainLimit
	}
	if src.Dataset.ValLimit != 0 {
		dst.Dataset.ValLimit = src.Dataset.ValLimit
	}
	if src.Dataset.MaxMessages != 0 {
		dst.Dataset.MaxMessages = src.Dataset.MaxMessages
	}
	if src.Dataset.Shuffle != nil {
		dst.Dataset.Shuffle = src.Dataset.Shuffle
	}
	if src.Dataset.Seed != nil {
		dst.Dataset.Seed = src.Dataset.Seed
	}

	if src.Judge.GroupScorerModel != "" {
		dst.Judge.GroupScorerModel = src.Judge.GroupScorerModel
	}
	if src.Judge.CorrectnessJudgeModel != "" {
		dst.Judge.CorrectnessJudgeModel = src.Judge.CorrectnessJudgeModel
	}

	if src.Paths.MailDB != "" {
		dst.Paths.MailDB = src.Paths.MailDB
	}
	if src.Paths.Scenarios != "" {
		dst.Paths.Scenarios = src.Paths.Scenarios
	}
	if src.Paths.Results != "" {
		dst.Paths.Results = src.Paths.Results
	}
}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(v int64) *int64 { return &v }
