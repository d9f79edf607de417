package models

// Group is the unit of relative scoring: several rollouts of the same
// scenario plus the scores the group scorer assigned them. Scores is nil
// until scoring has run; once set it has exactly one entry per transcript.
type Group struct {
	Scenario    Scenario      `json:"scenario"`
	Transcripts []*Transcript `json:"transcripts"`
	Scores      []float64     `json:"scores,omitempty"`
}

// Size returns the number of rollouts in the group.
func (g *Group) Size() int { return len(g.Transcripts) }

// MeanCorrect returns the fraction of rollouts the judge accepted.
func (g *Group) MeanCorrect() float64 {
	if len(g.Transcripts) == 0 {
		return 0
	}
	n := 0.0
	for _, t := range g.Transcripts {
		if t.Correct() {
			n++
		}
	}
	return n / float64(len(g.Transcripts))
}

// TrainingBatch is one training step's worth of scored groups.
type TrainingBatch struct {
	Step   int      `json:"step"`
	Epoch  int      `json:"epoch"`
	Groups []*Group `json:"groups"`
}
