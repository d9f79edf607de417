package dataset

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/renshu/internal/models"
)

func scenarioLines(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		split := "train"
		if i%5 == 4 {
			split = "test"
		}
		fmt.Fprintf(&sb,
			`{"id":"s%d","split":%q,"question":"q%d","answer":"a%d","inbox_address":"pat@corp.com","query_date":"2001-04-01","how_realistic":0.9,"message_ids":["m%d"]}`+"\n",
			i, split, i, i, i)
	}
	return sb.String()
}

func makeScenarios(n int) []models.Scenario {
	out := make([]models.Scenario, n)
	for i := range out {
		out[i] = models.Scenario{ID: fmt.Sprintf("s%d", i), Split: models.SplitTrain}
	}
	return out
}

func TestReadScenarios(t *testing.T) {
	tests := []struct {
		name      string
		opts      LoadOptions
		wantCount int
	}{
		{
			name:      "train split only",
			opts:      LoadOptions{Split: models.SplitTrain},
			wantCount: 16,
		},
		{
			name:      "test split only",
			opts:      LoadOptions{Split: models.SplitTest},
			wantCount: 4,
		},
		{
			name:      "limit applies after filtering",
			opts:      LoadOptions{Split: models.SplitTrain, Limit: 5},
			wantCount: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenarios, err := ReadScenarios(strings.NewReader(scenarioLines(20)), tt.opts)
			require.NoError(t, err)
			assert.Len(t, scenarios, tt.wantCount)
			for _, s := range scenarios {
				assert.Equal(t, tt.opts.Split, s.Split)
			}
		})
	}
}

func TestReadScenariosMaxMessages(t *testing.T) {
	lines := `{"id":"one","split":"train","message_ids":["m1"]}
{"id":"many","split":"train","message_ids":["m1","m2","m3"]}
`
	scenarios, err := ReadScenarios(strings.NewReader(lines), LoadOptions{Split: models.SplitTrain, MaxMessages: 1})
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "one", scenarios[0].ID)
}

func TestReadScenariosShuffleDeterministic(t *testing.T) {
	a, err := ReadScenarios(strings.NewReader(scenarioLines(20)), LoadOptions{Shuffle: true, Seed: 42})
	require.NoError(t, err)
	b, err := ReadScenarios(strings.NewReader(scenarioLines(20)), LoadOptions{Shuffle: true, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ReadScenarios(strings.NewReader(scenarioLines(20)), LoadOptions{Shuffle: true, Seed: 7})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestReadScenariosMalformedLine(t *testing.T) {
	_, err := ReadScenarios(strings.NewReader("{not json}\n"), LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestIteratorBatching(t *testing.T) {
	it := NewIterator(makeScenarios(10), 4, 2, -1)

	var batches []Batch
	for {
		b, ok := it.Next()
		if !ok {
			break
		}
		batches = append(batches, b)
	}

	// 10 scenarios in batches of 4 gives 3 batches per epoch, 2 epochs.
	require.Len(t, batches, 6)

	for i, b := range batches {
		assert.Equal(t, i, b.Step, "steps count across epochs")
	}
	assert.Equal(t, 0, batches[0].Epoch)
	assert.Equal(t, 1, batches[3].Epoch)
	assert.Equal(t, 0, batches[3].EpochStep)

	// Final partial batch of each epoch is yielded.
	assert.Len(t, batches[2].Scenarios, 2)
	assert.Len(t, batches[5].Scenarios, 2)
}

func TestIteratorDeterministic(t *testing.T) {
	collect := func() [][]string {
		it := NewIterator(makeScenarios(9), 3, 2, 42)
		var out [][]string
		for {
			b, ok := it.Next()
			if !ok {
				break
			}
			ids := make([]string, len(b.Scenarios))
			for i, s := range b.Scenarios {
				ids[i] = s.ID
			}
			out = append(out, ids)
		}
		return out
	}

	assert.Equal(t, collect(), collect())
}

func TestIteratorReshufflesPerEpoch(t *testing.T) {
	it := NewIterator(makeScenarios(30), 30, 2, 42)

	first, ok := it.Next()
	require.True(t, ok)
	second, ok := it.Next()
	require.True(t, ok)

	firstIDs := make([]string, len(first.Scenarios))
	secondIDs := make([]string, len(second.Scenarios))
	for i := range first.Scenarios {
		firstIDs[i] = first.Scenarios[i].ID
		secondIDs[i] = second.Scenarios[i].ID
	}

	assert.ElementsMatch(t, firstIDs, secondIDs)
	assert.NotEqual(t, firstIDs, secondIDs)
}

func TestIteratorSkipToResumes(t *testing.T) {
	full := NewIterator(makeScenarios(12), 3, 3, 42)
	var wantSteps []Batch
	for {
		b, ok := full.Next()
		if !ok {
			break
		}
		if b.Step >= 5 {
			wantSteps = append(wantSteps, b)
		}
	}

	resumed := NewIterator(makeScenarios(12), 3, 3, 42)
	resumed.SkipTo(5)
	var gotSteps []Batch
	for {
		b, ok := resumed.Next()
		if !ok {
			break
		}
		gotSteps = append(gotSteps, b)
	}

	require.NotEmpty(t, gotSteps)
	assert.Equal(t, 5, gotSteps[0].Step)
	assert.Equal(t, wantSteps, gotSteps)
}
