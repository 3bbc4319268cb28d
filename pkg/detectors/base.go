package detectors

import (
	"math"
	"slices"

	"github.com/cockroachdb/errors"
)

// Base holds the fitted state every detector derives from its training
// scores: the contamination threshold, the training labels and the score
// range used for probability scaling.
//
// Base does no locking. Detectors guard it with their own mutex.
type Base struct {
	contamination  float64
	threshold      float64
	decisionScores []float64
	labels         []int
	scoreMin       float64
	scoreMax       float64
	fitted         bool
}

// BaseState is the serializable form of Base.
type BaseState struct {
	Contamination  float64
	Threshold      float64
	DecisionScores []float64
	Labels         []int
	ScoreMin       float64
	ScoreMax       float64
}

// NewBase creates lifecycle state for the given contamination.
func NewBase(contamination float64) Base {
	return Base{contamination: contamination}
}

// ValidateContamination checks that contamination lies in (0, 0.5].
func ValidateContamination(contamination float64) error {
	return CheckParameter(contamination, 0, 0.5, "contamination", false, true)
}

// ProcessDecisionScores stores the training scores and derives the threshold
// and labels from them. The threshold is the 100*(1-contamination)
// percentile of scores, interpolated linearly between closest ranks, and a
// sample is labelled 1 when its score is strictly above it.
func (b *Base) ProcessDecisionScores(scores []float64) error {
	if err := ValidateContamination(b.contamination); err != nil {
		return err
	}
	if len(scores) == 0 {
		return errors.Wrap(ErrMalformedInput, "no decision scores")
	}

	sorted := slices.Clone(scores)
	slices.Sort(sorted)

	b.threshold = Percentile(sorted, 1-b.contamination)
	b.decisionScores = slices.Clone(scores)
	b.labels = b.LabelScores(scores)
	b.scoreMin = sorted[0]
	b.scoreMax = sorted[len(sorted)-1]
	b.fitted = true
	return nil
}

// Percentile returns the p-quantile of sorted, p in [0, 1], placing it at
// rank (n-1)*p and interpolating linearly between the neighbouring values.
func Percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return math.NaN()
	}
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	if lo < 0 {
		return sorted[0]
	}
	frac := h - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// Fitted reports whether ProcessDecisionScores has completed.
func (b *Base) Fitted() bool { return b.fitted }

// Contamination returns the configured contamination.
func (b *Base) Contamination() float64 { return b.contamination }

// Threshold returns the current anomaly threshold.
func (b *Base) Threshold() float64 { return b.threshold }

// SetThreshold overrides the anomaly threshold.
func (b *Base) SetThreshold(t float64) { b.threshold = t }

// DecisionScores returns a copy of the training scores.
func (b *Base) DecisionScores() []float64 { return slices.Clone(b.decisionScores) }

// Labels returns a copy of the training labels.
func (b *Base) Labels() []int { return slices.Clone(b.labels) }

// LabelScores applies the threshold to scores.
func (b *Base) LabelScores(scores []float64) []int {
	labels := make([]int, len(scores))
	for i, s := range scores {
		if s > b.threshold {
			labels[i] = 1
		}
	}
	return labels
}

// ProbaScores maps scores linearly onto [0, 1] using the training score range.
func (b *Base) ProbaScores(scores []float64) []float64 {
	proba := make([]float64, len(scores))
	span := b.scoreMax - b.scoreMin
	for i, s := range scores {
		if span <= 0 {
			if s > b.scoreMax {
				proba[i] = 1
			}
			continue
		}
		p := (s - b.scoreMin) / span
		proba[i] = min(max(p, 0), 1)
	}
	return proba
}

// State returns the serializable form of b.
func (b *Base) State() BaseState {
	return BaseState{
		Contamination:  b.contamination,
		Threshold:      b.threshold,
		DecisionScores: slices.Clone(b.decisionScores),
		Labels:         slices.Clone(b.labels),
		ScoreMin:       b.scoreMin,
		ScoreMax:       b.scoreMax,
	}
}

// Restore replaces b with a previously saved state.
func (b *Base) Restore(s BaseState) {
	b.contamination = s.Contamination
	b.threshold = s.Threshold
	b.decisionScores = slices.Clone(s.DecisionScores)
	b.labels = slices.Clone(s.Labels)
	b.scoreMin = s.ScoreMin
	b.scoreMax = s.ScoreMax
	b.fitted = true
}
