package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/renshu/internal/config"
	"github.com/microsoft/renshu/internal/models"
)

func writeSnapshot(t *testing.T, splits ...string) string {
	t.Helper()

	var lines []string
	for i, split := range splits {
		lines = append(lines, fmt.Sprintf(
			`{"id":"s-%d","split":"%s","question":"q%d","answer":"a%d","inbox_address":"user@example.com","query_date":"2020-01-01","how_realistic":0.9,"message_ids":["m%d"]}`,
			i, split, i, i, i))
	}

	path := filepath.Join(t.TempDir(), "scenarios.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644))
	return path
}

// Snapshots carry only train and test splits, so the validation set must
// come from the test split or validation never runs.
func TestLoadScenarioSetsValidationFromTestSplit(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Scenarios = writeSnapshot(t, "train", "test", "test")

	trainSet, valSet, err := loadScenarioSets(cfg)
	require.NoError(t, err)

	assert.Len(t, trainSet, 1)
	require.Len(t, valSet, 2)
	for _, s := range valSet {
		assert.Equal(t, models.SplitTest, s.Split)
	}
}

func TestLoadScenarioSetsHonorsValLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.Scenarios = writeSnapshot(t, "train", "test", "test", "test")
	cfg.Dataset.ValLimit = 2

	_, valSet, err := loadScenarioSets(cfg)
	require.NoError(t, err)
	assert.Len(t, valSet, 2)
}

func TestRequireAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"set", "sk-test", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := requireAPIKey(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "--api-key")
				assert.Contains(t, err.Error(), "OPENAI_API_KEY")
				return
			}
			require.NoError(t, err)
		})
	}
}
