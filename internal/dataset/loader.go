// Package dataset loads scenario snapshots and batches them into training
// steps.
package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/microsoft/renshu/internal/models"
)

// LoadOptions controls scenario selection.
type LoadOptions struct {
	Split models.Split
	// Limit caps the number of scenarios returned; 0 means no cap.
	Limit int
	// MaxMessages drops scenarios referencing more than this many source
	// messages; 0 means no filter.
	MaxMessages int
	Shuffle     bool
	// Seed makes the shuffle reproducible. Ignored unless Shuffle is set.
	Seed int64
}

// LoadScenarios reads a JSONL snapshot (optionally gzip compressed, by file
// extension), one scenario per line, and applies the given selection.
func LoadScenarios(path string, opts LoadOptions) ([]models.Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening scenarios %q: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip scenarios %q: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	return ReadScenarios(r, opts)
}

// ReadScenarios is LoadScenarios over an arbitrary reader.
func ReadScenarios(r io.Reader, opts LoadOptions) ([]models.Scenario, error) {
	var scenarios []models.Scenario

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var s models.Scenario
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("parsing scenario line %d: %w", line, err)
		}

		if opts.Split != "" && s.Split != opts.Split {
			continue
		}
		if opts.MaxMessages > 0 && len(s.MessageIDs) > opts.MaxMessages {
			continue
		}
		scenarios = append(scenarios, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading scenarios: %w", err)
	}

	if opts.Shuffle {
		rng := rand.New(rand.NewSource(opts.Seed))
		rng.Shuffle(len(scenarios), func(i, j int) {
			scenarios[i], scenarios[j] = scenarios[j], scenarios[i]
		})
	}

	if opts.Limit > 0 && len(scenarios) > opts.Limit {
		scenarios = scenarios[:opts.Limit]
	}
	return scenarios, nil
}
