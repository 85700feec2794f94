package naivebayes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trainSmall(t *testing.T) *Model {
	t.Helper()
	features := []FeatureInfo{{Name: "A", Levels: 2}, {Name: "B", Levels: 3}}
	X := [][]int{{1, 0}, {1, 2}, {0, 1}, {0, 0}}
	y := []int{1, 1, 0, 0}
	m, err := Fit(features, X, y, 1.0)
	require.NoError(t, err)
	return m
}

func TestFit(t *testing.T) {
	m := trainSmall(t)

	t.Run("Priors", func(t *testing.T) {
		assert.InDelta(t, 0.5, m.ClassPrior(0), 1e-12)
		assert.InDelta(t, 0.5, m.ClassPrior(1), 1e-12)
		assert.Equal(t, 0.0, m.ClassPrior(2))
	})

	t.Run("LaplaceConditionals", func(t *testing.T) {
		p, ok := m.Conditional("A", 1)
		require.True(t, ok)
		assert.InDelta(t, 0.75, p, 1e-12)

		p, ok = m.Conditional("A", 0)
		require.True(t, ok)
		assert.InDelta(t, 0.25, p, 1e-12)

		p, ok = m.Conditional("B", 1)
		require.True(t, ok)
		assert.InDelta(t, 0.5, p, 1e-12)

		_, ok = m.Conditional("C", 1)
		assert.False(t, ok)
	})

	t.Run("MultiLevelConstraint", func(t *testing.T) {
		constraints := m.Constraints()
		require.Len(t, constraints, 1)
		assert.Contains(t, constraints[0], "B has 3 levels")
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := Fit(nil, nil, nil, 1)
		assert.ErrorIs(t, err, ErrNoData)

		_, err = Fit([]FeatureInfo{{Name: "A", Levels: 2}}, [][]int{{1}}, []int{1, 0}, 1)
		assert.ErrorIs(t, err, ErrShapeMismatch)

		_, err = Fit([]FeatureInfo{{Name: "A", Levels: 2}}, [][]int{{1, 0}}, []int{1}, 1)
		assert.ErrorIs(t, err, ErrShapeMismatch)

		_, err = Fit([]FeatureInfo{{Name: "A", Levels: 2}}, [][]int{{1}}, []int{2}, 1)
		assert.ErrorIs(t, err, ErrInvalidLabel)
	})
}

func TestPredictProbability(t *testing.T) {
	m := trainSmall(t)

	t.Run("PresentFeature", func(t *testing.T) {
		assert.InDelta(t, 0.75, m.PredictProbability(map[string]int{"A": 1}), 1e-12)
	})

	t.Run("AbsentFeature", func(t *testing.T) {
		assert.InDelta(t, 0.25, m.PredictProbability(map[string]int{"A": 0}), 1e-12)
	})

	t.Run("NonZeroCodeIsPresence", func(t *testing.T) {
		a := m.PredictProbability(map[string]int{"A": 1, "B": 1})
		b := m.PredictProbability(map[string]int{"A": 1, "B": 2})
		assert.Equal(t, a, b)
	})

	t.Run("MissingFeaturesMarginalized", func(t *testing.T) {
		assert.InDelta(t, 0.5, m.PredictProbability(nil), 1e-12)
		assert.InDelta(t, 0.5, m.PredictProbability(map[string]int{}), 1e-12)
	})

	t.Run("UnknownFeatureIgnored", func(t *testing.T) {
		assert.InDelta(t, 0.75, m.PredictProbability(map[string]int{"A": 1, "Z": 1}), 1e-12)
	})

	t.Run("WithinUnitInterval", func(t *testing.T) {
		for a := 0; a < 2; a++ {
			for b := 0; b < 3; b++ {
				p := m.PredictProbability(map[string]int{"A": a, "B": b})
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
			}
		}
	})

	t.Run("Deterministic", func(t *testing.T) {
		ev := map[string]int{"A": 1, "B": 2}
		first := m.PredictProbability(ev)
		for i := 0; i < 50; i++ {
			assert.Equal(t, first, m.PredictProbability(ev))
		}
	})
}

func TestSingleClassTraining(t *testing.T) {
	m, err := Fit([]FeatureInfo{{Name: "A", Levels: 2}}, [][]int{{1}, {0}}, []int{1, 1}, 1.0)
	require.NoError(t, err)

	p := m.PredictProbability(map[string]int{"A": 0})
	assert.InDelta(t, 1.0, p, 1e-12)
	assert.Equal(t, 0.0, m.ClassPrior(0))
}

func TestZeroAlphaStaysFinite(t *testing.T) {
	m, err := Fit([]FeatureInfo{{Name: "A", Levels: 2}}, [][]int{{1}, {0}}, []int{1, 0}, 0)
	require.NoError(t, err)

	p := m.PredictProbability(map[string]int{"A": 1})
	assert.InDelta(t, 1.0, p, 1e-6)
	p = m.PredictProbability(map[string]int{"A": 0})
	assert.InDelta(t, 0.0, p, 1e-6)
}
