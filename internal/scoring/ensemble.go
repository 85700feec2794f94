// Package scoring blends the per-disease model outputs into banded risk
// percentages and explains each score with per-answer attributions.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-health/heron/internal/domain"
)

// Weights are the ensemble mixing weights. They are fixed per process.
type Weights struct {
	Graph      float64 `json:"graph"`
	Classifier float64 `json:"classifier"`
}

// DefaultWeights favours the graphical model.
func DefaultWeights() Weights {
	return Weights{Graph: 0.6, Classifier: 0.4}
}

// Validate requires non-negative weights summing to one.
func (w Weights) Validate() error {
	if w.Graph < 0 || w.Classifier < 0 {
		return fmt.Errorf("ensemble weights must be non-negative: %+v", w)
	}
	if math.Abs(w.Graph+w.Classifier-1) > 1e-9 {
		return fmt.Errorf("ensemble weights must sum to 1, got %g", w.Graph+w.Classifier)
	}
	return nil
}

// Combine blends the two disease probabilities into a percentage in [0, 100]
// rounded to two decimals.
func Combine(w Weights, pGraph, pClassifier float64) float64 {
	risk := round2(100 * (w.Graph*pGraph + w.Classifier*pClassifier))
	switch {
	case math.IsNaN(risk) || risk < 0:
		return 0
	case risk > 100:
		return 100
	}
	return risk
}

// BandFor buckets a risk percentage. Upper bounds are inclusive: 20 is "0-20",
// 20.01 is "21-40".
func BandFor(risk float64) string {
	switch {
	case risk <= 20:
		return domain.Band0to20
	case risk <= 40:
		return domain.Band21to40
	case risk <= 60:
		return domain.Band41to60
	case risk <= 80:
		return domain.Band61to80
	}
	return domain.Band81to100
}

// Bands lists every band label, lowest first.
func Bands() []string {
	return []string{domain.Band0to20, domain.Band21to40, domain.Band41to60, domain.Band61to80, domain.Band81to100}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
