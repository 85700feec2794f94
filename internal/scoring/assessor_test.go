package scoring

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-health/heron/internal/cache"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/recommend"
	"github.com/opensource-health/heron/internal/registry"
	"github.com/opensource-health/heron/internal/testkit"
)

var (
	sharedOnce     sync.Once
	sharedRegistry *registry.Registry
	sharedErr      error
)

func trainedRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	sharedOnce.Do(func() {
		opts := registry.DefaultOptions()
		opts.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		sharedRegistry, sharedErr = registry.Train(testkit.Table(2000, 42), domain.Catalog(), opts)
	})
	require.NoError(t, sharedErr)
	return sharedRegistry
}

func newAssessor(t *testing.T) *Assessor {
	t.Helper()
	a, err := NewAssessor(trainedRegistry(t), recommend.NewTable(testkit.Recommendations()), DefaultWeights(), 4)
	require.NoError(t, err)
	return a
}

func sampleAnswers() map[string]string {
	return map[string]string{
		"BloodPressure": "High",
		"SugarLevel":    "Normal",
		"Smoking":       "Yes",
		"Fatigue":       "no",
		"DietQuality":   "Poor",
	}
}

func TestAssess(t *testing.T) {
	a := newAssessor(t)

	res, err := a.Assess(context.Background(), 35, sampleAnswers())
	require.NoError(t, err)

	require.Len(t, res.Report, len(domain.Catalog()))
	for i, d := range domain.Catalog() {
		r := res.Report[i]
		assert.Equal(t, d.Name, r.Disease)
		assert.GreaterOrEqual(t, r.Risk, 0.0)
		assert.LessOrEqual(t, r.Risk, 100.0)
		assert.Equal(t, round2(r.Risk), r.Risk)
		assert.Equal(t, BandFor(r.Risk), r.RiskBand)
		assert.Equal(t, d.Name+" "+r.RiskBand+": discuss these results with your doctor.", r.Recommendation)

		// Factors are the answered declared features, in declared order.
		var want []string
		for _, f := range d.Features {
			if _, ok := sampleAnswers()[f]; ok {
				want = append(want, f)
			}
		}
		var got []string
		for _, f := range r.RiskFactors {
			got = append(got, f.Factor)
			assert.GreaterOrEqual(t, f.Delta, 0.0)
			assert.Contains(t, []string{domain.DirectionIncreased, domain.DirectionReduced}, f.Direction)
		}
		assert.Equal(t, want, got, d.Name)
	}

	assert.Equal(t, "Adult", res.Profile.AgeBand.String())
	assert.Equal(t, []string{"BloodPressure", "DietQuality", "Fatigue", "Smoking", "SugarLevel"}, res.Profile.Used)
	assert.Empty(t, res.Profile.Ignored)
	assert.Positive(t, res.Queries)

	meta := res.Metadata("trace-1")
	assert.Equal(t, "trace-1", meta.TraceID)
	assert.Equal(t, 7, meta.DiseasesScored)
	assert.Equal(t, EngineVersion, meta.EngineVersion)
}

func TestAssessIdempotent(t *testing.T) {
	a := newAssessor(t)
	first, err := a.Assess(context.Background(), 52, sampleAnswers())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*Result, 16)
	errs := make([]error, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = a.Assess(context.Background(), 52, sampleAnswers())
		}()
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, first.Report, results[i].Report)
	}
}

func TestAssessUnknownAnswersExcluded(t *testing.T) {
	a := newAssessor(t)

	base, err := a.Assess(context.Background(), 70, map[string]string{"Smoking": "Yes"})
	require.NoError(t, err)

	noisy, err := a.Assess(context.Background(), 70, map[string]string{
		"Smoking":      "Yes",
		"Wheezing":     "Sometimes",
		"FavoriteFood": "Pizza",
	})
	require.NoError(t, err)

	assert.Equal(t, base.Report, noisy.Report)
	assert.Equal(t, []string{"FavoriteFood", "Wheezing"}, noisy.Profile.Ignored)
	assert.Equal(t, []string{"Smoking"}, noisy.Profile.Used)
}

func TestAssessOnlyUnknownAnswers(t *testing.T) {
	a := newAssessor(t)
	res, err := a.Assess(context.Background(), 40, map[string]string{"Mood": "Great"})
	require.NoError(t, err)
	for _, r := range res.Report {
		assert.Empty(t, r.RiskFactors)
	}
}

func TestAssessNormalizesLabels(t *testing.T) {
	a := newAssessor(t)
	clean, err := a.Assess(context.Background(), 28, map[string]string{"BloodPressure": "High", "Cough": "Yes"})
	require.NoError(t, err)
	messy, err := a.Assess(context.Background(), 28, map[string]string{"BloodPressure": "  HIGH ", "Cough": "yes"})
	require.NoError(t, err)
	assert.Equal(t, clean.Report, messy.Report)
}

func TestAssessValidation(t *testing.T) {
	a := newAssessor(t)

	_, err := a.Assess(context.Background(), 30, nil)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, ErrNoAnswers)
}

func TestAssessCancelled(t *testing.T) {
	a := newAssessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Assess(ctx, 30, sampleAnswers())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsValidation(err))
}

func TestAssessFallbackRecommendation(t *testing.T) {
	a, err := NewAssessor(trainedRegistry(t), recommend.Empty(), DefaultWeights(), 0)
	require.NoError(t, err)

	res, err := a.Assess(context.Background(), 61, sampleAnswers())
	require.NoError(t, err)
	for _, r := range res.Report {
		assert.Equal(t, domain.FallbackRecommendation, r.Recommendation)
	}
}

func TestNewAssessorErrors(t *testing.T) {
	_, err := NewAssessor(nil, nil, DefaultWeights(), 1)
	assert.Error(t, err)

	_, err = NewAssessor(trainedRegistry(t), nil, Weights{Graph: 2}, 1)
	assert.Error(t, err)
}

func TestAssessAgeBands(t *testing.T) {
	a := newAssessor(t)
	for _, age := range []int{-5, 0, 30, 31, 45, 46, 60, 61, 130} {
		res, err := a.Assess(context.Background(), age, map[string]string{"Fatigue": "Yes"})
		require.NoError(t, err, "age %d", age)
		assert.Len(t, res.Report, 7)
	}
}

func TestProfileFingerprint(t *testing.T) {
	enc := trainedRegistry(t).Encoder()

	base := NewProfile(enc, 35, sampleAnswers())

	t.Run("SameBandSameAnswers", func(t *testing.T) {
		other := NewProfile(enc, 40, map[string]string{
			"BloodPressure": " high ",
			"SugarLevel":    "normal",
			"Smoking":       "YES",
			"Fatigue":       "No",
			"DietQuality":   "poor",
			"Unknown":       "x",
		})
		assert.Equal(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("DifferentBand", func(t *testing.T) {
		other := NewProfile(enc, 70, sampleAnswers())
		assert.NotEqual(t, base.Fingerprint(), other.Fingerprint())
	})

	t.Run("DifferentAnswer", func(t *testing.T) {
		answers := sampleAnswers()
		answers["Smoking"] = "No"
		assert.NotEqual(t, base.Fingerprint(), NewProfile(enc, 35, answers).Fingerprint())
	})
}

func TestAssessWithCache(t *testing.T) {
	c := cache.Wrap(cache.NewLRUCache(100, time.Minute))
	a := newAssessor(t).WithCache(c, time.Minute)
	ctx := context.Background()

	first, err := a.Assess(ctx, 35, sampleAnswers())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Positive(t, first.Queries)

	second, err := a.Assess(ctx, 35, sampleAnswers())
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Zero(t, second.Queries)
	assert.Equal(t, first.Report, second.Report)
	assert.True(t, second.Metadata("").Cached)

	cached, err := c.GetReport(ctx, a.ReportKey(first.Profile))
	require.NoError(t, err)
	assert.Equal(t, first.Report, cached)
}

func TestSharedCacheIsolation(t *testing.T) {
	ctx := context.Background()
	recs := recommend.NewTable(testkit.Recommendations())

	opts := registry.DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	retrained, err := registry.Train(testkit.Table(2000, 7), domain.Catalog(), opts)
	require.NoError(t, err)
	require.NotEqual(t, trainedRegistry(t).ID(), retrained.ID())

	fresh := func(t *testing.T, reg *registry.Registry, w Weights) *Result {
		t.Helper()
		a, err := NewAssessor(reg, recs, w, 4)
		require.NoError(t, err)
		res, err := a.Assess(ctx, 35, sampleAnswers())
		require.NoError(t, err)
		return res
	}

	tests := []struct {
		name    string
		reg     *registry.Registry
		weights Weights
	}{
		{"different training data", retrained, DefaultWeights()},
		{"different weights", trainedRegistry(t), Weights{Graph: 0.3, Classifier: 0.7}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cache.Wrap(cache.NewLRUCache(100, time.Minute))

			first := newAssessor(t).WithCache(c, time.Minute)
			_, err := first.Assess(ctx, 35, sampleAnswers())
			require.NoError(t, err)

			second, err := NewAssessor(tt.reg, recs, tt.weights, 4)
			require.NoError(t, err)
			second.WithCache(c, time.Minute)

			assert.NotEqual(t, first.ReportKey(NewProfile(first.Registry().Encoder(), 35, sampleAnswers())),
				second.ReportKey(NewProfile(second.Registry().Encoder(), 35, sampleAnswers())))

			got, err := second.Assess(ctx, 35, sampleAnswers())
			require.NoError(t, err)
			assert.False(t, got.Cached)
			assert.Equal(t, fresh(t, tt.reg, tt.weights).Report, got.Report)
		})
	}

	t.Run("same models share entries", func(t *testing.T) {
		c := cache.Wrap(cache.NewLRUCache(100, time.Minute))
		_, err := newAssessor(t).WithCache(c, time.Minute).Assess(ctx, 35, sampleAnswers())
		require.NoError(t, err)

		got, err := newAssessor(t).WithCache(c, time.Minute).Assess(ctx, 35, sampleAnswers())
		require.NoError(t, err)
		assert.True(t, got.Cached)
	})
}
