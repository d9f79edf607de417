package dataset

import (
	"math/rand"

	"github.com/microsoft/renshu/internal/models"
)

// Batch is one training step's worth of scenarios.
type Batch struct {
	// Step is the global step number, counted across epochs.
	Step int
	// Epoch is the zero-based pass over the dataset.
	Epoch int
	// EpochStep is the zero-based batch index within the epoch.
	EpochStep int
	Scenarios []models.Scenario
}

// Iterator yields fixed-size scenario batches across epochs. With a
// non-negative seed, each epoch is reshuffled with seed+epoch, so a resumed
// run sees exactly the batches the interrupted run would have.
type Iterator struct {
	scenarios     []models.Scenario
	groupsPerStep int
	numEpochs     int
	seed          int64

	step      int
	epoch     int
	epochStep int
	order     []models.Scenario
	skip      int
}

// NewIterator returns an iterator over the given scenarios. A negative seed
// disables per-epoch reshuffling and keeps the input order.
func NewIterator(scenarios []models.Scenario, groupsPerStep, numEpochs int, seed int64) *Iterator {
	return &Iterator{
		scenarios:     scenarios,
		groupsPerStep: groupsPerStep,
		numEpochs:     numEpochs,
		seed:          seed,
	}
}

// SkipTo fast-forwards the iterator so the next batch yielded has the given
// step number. Used to resume from the training backend's current step.
func (it *Iterator) SkipTo(initialStep int) {
	it.skip = initialStep
}

// Next returns the next batch, or false when every epoch is exhausted.
func (it *Iterator) Next() (Batch, bool) {
	for {
		batch, ok := it.next()
		if !ok {
			return Batch{}, false
		}
		if batch.Step < it.skip {
			continue
		}
		return batch, true
	}
}

func (it *Iterator) next() (Batch, bool) {
	for {
		if it.epoch >= it.numEpochs {
			return Batch{}, false
		}
		if it.order == nil {
			it.order = it.epochOrder()
			it.epochStep = 0
		}

		start := it.epochStep * it.groupsPerStep
		if start >= len(it.order) {
			it.epoch++
			it.order = nil
			continue
		}

		end := start + it.groupsPerStep
		if end > len(it.order) {
			end = len(it.order)
		}

		batch := Batch{
			Step:      it.step,
			Epoch:     it.epoch,
			EpochStep: it.epochStep,
			Scenarios: it.order[start:end],
		}
		it.step++
		it.epochStep++
		return batch, true
	}
}

func (it *Iterator) epochOrder() []models.Scenario {
	order := make([]models.Scenario, len(it.scenarios))
	copy(order, it.scenarios)
	if it.seed >= 0 {
		rng := rand.New(rand.NewSource(it.seed + int64(it.epoch)))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order
}
