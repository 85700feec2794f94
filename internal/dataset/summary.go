package dataset

import (
	"fmt"

	"github.com/montanaflynn/stats"

	"github.com/opensource-health/heron/internal/domain"
)

// Summary describes a training table. It is logged at startup and served by the
// model listing endpoint.
type Summary struct {
	Rows       int                `json:"rows"`
	AgeMean    float64            `json:"ageMean"`
	AgeMedian  float64            `json:"ageMedian"`
	AgeStdDev  float64            `json:"ageStdDev"`
	AgeMin     float64            `json:"ageMin"`
	AgeMax     float64            `json:"ageMax"`
	Prevalence map[string]float64 `json:"prevalence"`
}

// Summarize computes age statistics and the share of positive outcomes per disease.
func Summarize(t *Table, diseases []domain.Disease) (*Summary, error) {
	ages, err := t.Ages()
	if err != nil {
		return nil, err
	}
	data := stats.LoadRawData(ages)

	s := &Summary{Rows: t.Len(), Prevalence: make(map[string]float64, len(diseases))}
	if s.AgeMean, err = stats.Mean(data); err != nil {
		return nil, fmt.Errorf("age mean: %w", err)
	}
	if s.AgeMedian, err = stats.Median(data); err != nil {
		return nil, fmt.Errorf("age median: %w", err)
	}
	if s.AgeStdDev, err = stats.StandardDeviation(data); err != nil {
		return nil, fmt.Errorf("age stddev: %w", err)
	}
	if s.AgeMin, err = stats.Min(data); err != nil {
		return nil, fmt.Errorf("age min: %w", err)
	}
	if s.AgeMax, err = stats.Max(data); err != nil {
		return nil, fmt.Errorf("age max: %w", err)
	}

	for _, d := range diseases {
		y, err := t.Outcome(d.Name)
		if err != nil {
			return nil, err
		}
		mean, err := stats.Mean(stats.LoadRawData(y))
		if err != nil {
			return nil, fmt.Errorf("prevalence %s: %w", d.Name, err)
		}
		s.Prevalence[d.Name], _ = stats.Round(mean, 4)
	}
	return s, nil
}
