package esim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClosestPlanDuration(t *testing.T) {
	tests := []struct {
		days    int
		want    int
		wantErr bool
	}{
		{days: 1, want: 1},
		{days: 2, want: 3},
		{days: 3, want: 3},
		{days: 7, want: 7},
		{days: 8, want: 15},
		{days: 16, want: 30},
		{days: 30, want: 30},
		{days: 31, want: 30},
		{days: 90, want: 30},
		{days: 0, wantErr: true},
		{days: -5, wantErr: true},
	}

	for _, tt := range tests {
		got, err := ClosestPlanDuration(tt.days)
		if tt.wantErr {
			assert.Error(t, err, "days=%d", tt.days)
			continue
		}
		require.NoError(t, err, "days=%d", tt.days)
		assert.Equal(t, tt.want, got, "days=%d", tt.days)
	}
}

func TestFindPlansSingleCountry(t *testing.T) {
	catalog := DefaultCatalog()

	outcome, err := catalog.FindPlans([]string{"Japan"}, 7)
	require.NoError(t, err)

	assert.Equal(t, 7, outcome.PlanDays)
	require.Len(t, outcome.Options, 2)

	// The local plan comes first, with the regional plan as an
	// alternative.
	assert.Equal(t, "local", outcome.Options[0].Type)
	assert.Equal(t, "Japan", outcome.Options[0].Name)
	assert.Equal(t, 7, outcome.Options[0].Plan.Days)

	assert.Equal(t, "regional", outcome.Options[1].Type)
	assert.Equal(t, "Asia", outcome.Options[1].Name)
	assert.Contains(t, outcome.Options[1].Countries, "South Korea")
}

func TestFindPlansSameRegion(t *testing.T) {
	catalog := DefaultCatalog()

	outcome, err := catalog.FindPlans([]string{"France", "Germany"}, 10)
	require.NoError(t, err)

	assert.Equal(t, 15, outcome.PlanDays)
	require.Len(t, outcome.Options, 1)
	assert.Equal(t, "regional", outcome.Options[0].Type)
	assert.Equal(t, "Europe", outcome.Options[0].Name)
}

func TestFindPlansCrossRegion(t *testing.T) {
	catalog := DefaultCatalog()

	outcome, err := catalog.FindPlans([]string{"Japan", "France"}, 5)
	require.NoError(t, err)

	require.Len(t, outcome.Options, 1)
	assert.Equal(t, "global", outcome.Options[0].Type)
	assert.Equal(t, "Discover Global", outcome.Options[0].Name)
	assert.Equal(t, 7, outcome.Options[0].Plan.Days)
}

func TestFindPlansUnknownCountry(t *testing.T) {
	catalog := DefaultCatalog()

	_, err := catalog.FindPlans([]string{"Atlantis"}, 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")

	_, err = catalog.FindPlans(nil, 7)
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
local:
  Japan:
    region: Asia
    plans:
      - days: 7
        data_gb: 5
        price: 19.99
regional:
  Asia:
    countries: [Japan, Thailand]
    plans:
      - days: 7
        data_gb: 5
        price: 29.99
global:
  Discover Global:
    coverage: 120+ countries
    plans:
      - days: 7
        data_gb: 5
        price: 49.99
`), 0644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	outcome, err := catalog.FindPlans([]string{"Japan"}, 6)
	require.NoError(t, err)
	require.Len(t, outcome.Options, 2)
	assert.Equal(t, 19.99, outcome.Options[0].Plan.Price)
	assert.Equal(t, 29.99, outcome.Options[1].Plan.Price)
}

func TestLoadCatalogMissingFile(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
