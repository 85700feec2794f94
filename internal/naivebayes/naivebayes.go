// Package naivebayes implements the Bernoulli event classifier used per disease.
//
// Every feature is reduced to a presence indicator: code 0 (the lexicographically
// first label of the feature) is absence, any other code is presence. Features
// with more than two levels therefore collapse all non-first labels together; such
// features are recorded as multi-level and reported by Constraints rather than
// being re-encoded.
package naivebayes

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	ErrNoData        = errors.New("no training rows")
	ErrShapeMismatch = errors.New("training data shape mismatch")
	ErrInvalidLabel  = errors.New("class label must be 0 or 1")
)

// minAlpha keeps conditionals strictly inside (0, 1) when smoothing is disabled.
const minAlpha = 1e-10

// FeatureInfo describes one classifier input.
type FeatureInfo struct {
	Name   string `json:"name"`
	Levels int    `json:"levels"`
}

type featureParams struct {
	info   FeatureInfo
	logP   [2]float64 // log P(present | class)
	logNot [2]float64 // log P(absent | class)
}

// Model is a trained two-class Bernoulli classifier. It is read-only after Fit.
type Model struct {
	features   []featureParams
	index      map[string]int
	logPrior   [2]float64
	classCount [2]int
	alpha      float64
}

// Indicator reduces an encoded value to presence (1) or absence (0).
func Indicator(code int) int {
	if code > 0 {
		return 1
	}
	return 0
}

// Fit estimates class priors and per-feature conditionals with additive smoothing:
// P(present | c) = (count(present, c) + alpha) / (count(c) + 2*alpha).
// X is row-major with one column per entry of features; y holds 0/1 outcomes.
func Fit(features []FeatureInfo, X [][]int, y []int, alpha float64) (*Model, error) {
	if len(X) == 0 {
		return nil, ErrNoData
	}
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	if alpha < minAlpha {
		alpha = minAlpha
	}

	m := &Model{
		features: make([]featureParams, len(features)),
		index:    make(map[string]int, len(features)),
		alpha:    alpha,
	}

	present := make([][2]int, len(features))
	for r, row := range X {
		if len(row) != len(features) {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShapeMismatch, r, len(row), len(features))
		}
		c := y[r]
		if c != 0 && c != 1 {
			return nil, fmt.Errorf("%w: row %d has %d", ErrInvalidLabel, r, c)
		}
		m.classCount[c]++
		for f, v := range row {
			present[f][c] += Indicator(v)
		}
	}

	n := float64(len(X))
	for c := 0; c < 2; c++ {
		m.logPrior[c] = math.Log(float64(m.classCount[c]) / n)
	}

	for f, info := range features {
		p := featureParams{info: info}
		for c := 0; c < 2; c++ {
			prob := (float64(present[f][c]) + alpha) / (float64(m.classCount[c]) + 2*alpha)
			p.logP[c] = math.Log(prob)
			p.logNot[c] = math.Log(1 - prob)
		}
		m.features[f] = p
		m.index[info.Name] = f
	}

	return m, nil
}

// PredictProbability returns P(class=1 | evidence).
//
// Only features present in evidence contribute. A trained feature missing from the
// evidence is marginalized out: its two conditionals sum to one, so its factor drops.
// Evidence keys the model was not trained on are ignored. Terms are summed in
// training order so repeated calls give bit-identical results.
func (m *Model) PredictProbability(evidence map[string]int) float64 {
	jll := []float64{m.logPrior[0], m.logPrior[1]}
	for _, p := range m.features {
		code, ok := evidence[p.info.Name]
		if !ok {
			continue
		}
		for c := 0; c < 2; c++ {
			if Indicator(code) == 1 {
				jll[c] += p.logP[c]
			} else {
				jll[c] += p.logNot[c]
			}
		}
	}

	norm := floats.LogSumExp(jll)
	if math.IsInf(norm, -1) || math.IsNaN(norm) {
		return 0
	}
	return clamp01(math.Exp(jll[1] - norm))
}

// ClassPrior returns P(class=c).
func (m *Model) ClassPrior(c int) float64 {
	if c != 0 && c != 1 {
		return 0
	}
	return math.Exp(m.logPrior[c])
}

// Conditional returns P(feature present | class=c).
func (m *Model) Conditional(feature string, c int) (float64, bool) {
	f, ok := m.index[feature]
	if !ok || (c != 0 && c != 1) {
		return 0, false
	}
	return math.Exp(m.features[f].logP[c]), true
}

// Features returns the trained features in training order.
func (m *Model) Features() []FeatureInfo {
	out := make([]FeatureInfo, len(m.features))
	for i, f := range m.features {
		out[i] = f.info
	}
	return out
}

// Constraints lists the features whose domain has more than two levels.
func (m *Model) Constraints() []string {
	var out []string
	for _, f := range m.features {
		if f.info.Levels > 2 {
			out = append(out, fmt.Sprintf("%s has %d levels; code 0 is absence, all other levels are presence", f.info.Name, f.info.Levels))
		}
	}
	return out
}

func clamp01(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
