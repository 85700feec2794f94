package registry

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/encoding"
	"github.com/opensource-health/heron/internal/testkit"
)

func quietOptions() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return opts
}

func TestTrain(t *testing.T) {
	reg, err := Train(testkit.Table(1500, 42), domain.Catalog(), quietOptions())
	require.NoError(t, err)

	t.Run("EveryDiseaseTrained", func(t *testing.T) {
		assert.Equal(t, domain.DiseaseNames(domain.Catalog()), domain.DiseaseNames(reg.Diseases()))
		for _, d := range domain.Catalog() {
			m, err := reg.Model(d.Name)
			require.NoError(t, err)
			assert.Equal(t, d.Features, m.Disease.Features)

			node, ok := m.Network.Node(d.Name)
			require.True(t, ok)
			assert.Equal(t, append([]string{domain.AgeGroupFeature}, d.Features...), node.Parents)
			assert.Positive(t, m.ObservedConfigs)
			assert.LessOrEqual(t, m.ObservedConfigs, m.TotalConfigs)
		}
	})

	t.Run("UnknownDisease", func(t *testing.T) {
		_, err := reg.Model("Gout")
		assert.ErrorIs(t, err, ErrUnknownDisease)
	})

	t.Run("Questions", func(t *testing.T) {
		q := reg.Questions()
		assert.Len(t, q, len(domain.FeatureNames(domain.Catalog())))
		assert.Equal(t, []string{"High", "Low", "Normal"}, q["BloodPressure"])
		assert.Equal(t, []string{"High", "Low", "Moderate"}, q["PhysicalActivity"])
		assert.Equal(t, []string{"No", "Yes"}, q["Smoking"])
		assert.Equal(t, domain.FeatureNames(domain.Catalog()), reg.QuestionNames())
	})

	t.Run("Describe", func(t *testing.T) {
		infos := reg.Describe()
		require.Len(t, infos, 7)
		assert.Equal(t, "Diabetes", infos[0].Disease)
		assert.Equal(t, "Anemia", infos[6].Disease)

		var hyper ModelInfo
		for _, info := range infos {
			if info.Disease == "Hypertension" {
				hyper = info
			}
		}
		// BloodPressure, SaltIntake, StressLevel and PhysicalActivity have three levels.
		assert.Len(t, hyper.Constraints, 4)
		assert.Len(t, hyper.Edges, 6)
		assert.Greater(t, hyper.Prevalence, 0.0)
		assert.Less(t, hyper.Prevalence, 1.0)
	})

	t.Run("AgeDomainIsFixed", func(t *testing.T) {
		assert.Equal(t, []string{"Adult", "Middle", "Senior", "Young"}, reg.Encoder().AgeDomain().Labels())
	})
}

func TestTrainDeterministic(t *testing.T) {
	a, err := Train(testkit.Table(600, 7), domain.Catalog(), quietOptions())
	require.NoError(t, err)
	b, err := Train(testkit.Table(600, 7), domain.Catalog(), quietOptions())
	require.NoError(t, err)

	evidence := map[string]int{"Smoking": 1, "Cough": 0}
	for _, d := range domain.Catalog() {
		ma, _ := a.Model(d.Name)
		mb, _ := b.Model(d.Name)
		assert.Equal(t, ma.Classifier.PredictProbability(evidence), mb.Classifier.PredictProbability(evidence))

		pa, err := ma.Inference.Query(d.Name, map[string]int{domain.AgeGroupFeature: 1})
		require.NoError(t, err)
		pb, err := mb.Inference.Query(d.Name, map[string]int{domain.AgeGroupFeature: 1})
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
	assert.Equal(t, a.ID(), b.ID())
}

func TestRegistryID(t *testing.T) {
	base, err := Train(testkit.Table(600, 7), domain.Catalog(), quietOptions())
	require.NoError(t, err)
	assert.Len(t, base.ID(), 64)

	t.Run("DifferentData", func(t *testing.T) {
		other, err := Train(testkit.Table(600, 8), domain.Catalog(), quietOptions())
		require.NoError(t, err)
		assert.NotEqual(t, base.ID(), other.ID())
	})

	t.Run("DifferentSmoothing", func(t *testing.T) {
		opts := quietOptions()
		opts.NetworkAlpha = 0.5
		other, err := Train(testkit.Table(600, 7), domain.Catalog(), opts)
		require.NoError(t, err)
		assert.NotEqual(t, base.ID(), other.ID())
	})

	t.Run("DifferentCatalog", func(t *testing.T) {
		other, err := Train(testkit.Table(600, 7), domain.Catalog()[:3], quietOptions())
		require.NoError(t, err)
		assert.NotEqual(t, base.ID(), other.ID())
	})
}

func TestTrainErrors(t *testing.T) {
	catalog := []domain.Disease{{Name: "Asthma", Features: []string{"Smoking"}}}

	t.Run("MissingColumn", func(t *testing.T) {
		tbl, err := dataset.NewTable([]string{"Age", "Smoking"}, [][]string{{"30", "Yes"}})
		require.NoError(t, err)
		_, err = Train(tbl, catalog, quietOptions())
		assert.ErrorIs(t, err, dataset.ErrMissingColumn)
	})

	t.Run("EmptyLabel", func(t *testing.T) {
		tbl, err := dataset.NewTable([]string{"Age", "Smoking", "Asthma"}, [][]string{
			{"30", "Yes", "1"},
			{"50", "", "0"},
		})
		require.NoError(t, err)
		_, err = Train(tbl, catalog, quietOptions())
		assert.ErrorIs(t, err, encoding.ErrEmptyLabel)
	})

	t.Run("BadOutcome", func(t *testing.T) {
		tbl, err := dataset.NewTable([]string{"Age", "Smoking", "Asthma"}, [][]string{{"30", "Yes", "sometimes"}})
		require.NoError(t, err)
		_, err = Train(tbl, catalog, quietOptions())
		assert.ErrorIs(t, err, dataset.ErrBadOutcome)
	})

	t.Run("NoDiseases", func(t *testing.T) {
		_, err := Train(testkit.Table(10, 1), nil, quietOptions())
		assert.Error(t, err)
	})
}
