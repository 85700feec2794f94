package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-health/heron/internal/bayesnet"
	"github.com/opensource-health/heron/internal/domain"
)

// Direction classifies a rounded delta. Zero counts as reduced.
func Direction(delta float64) string {
	if delta > 0 {
		return domain.DirectionIncreased
	}
	return domain.DirectionReduced
}

// Attribute compares, for every declared feature present in evidence, the disease
// probability given age and that single answer against the age-only baseline.
// Factors follow the disease's declared feature order. It also returns the number
// of inference queries issued.
func Attribute(inf *bayesnet.Inference, disease domain.Disease, ageCode int, evidence map[string]int) ([]domain.RiskFactor, int, error) {
	base, err := inf.Probability(disease.Name, 1, map[string]int{domain.AgeGroupFeature: ageCode})
	if err != nil {
		return nil, 0, fmt.Errorf("baseline %s: %w", disease.Name, err)
	}
	queries := 1

	factors := make([]domain.RiskFactor, 0, len(disease.Features))
	for _, f := range disease.Features {
		code, ok := evidence[f]
		if !ok {
			continue
		}
		p, err := inf.Probability(disease.Name, 1, map[string]int{domain.AgeGroupFeature: ageCode, f: code})
		if err != nil {
			return nil, queries, fmt.Errorf("attribute %s/%s: %w", disease.Name, f, err)
		}
		queries++

		delta := round2((p - base) * 100)
		factors = append(factors, domain.RiskFactor{
			Factor:    f,
			Direction: Direction(delta),
			Delta:     math.Abs(delta),
		})
	}
	return factors, queries, nil
}
