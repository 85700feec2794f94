// Package testkit generates deterministic synthetic training data for tests.
package testkit

import (
	"math"
	"math/rand/v2"
	"strconv"

	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
)

// Options are the answer choices of every catalog feature.
var Options = map[string][]string{
	"Alcohol":               {"Yes", "No"},
	"BloodPressure":         {"High", "Normal", "Low"},
	"Breathlessness":        {"Yes", "No"},
	"ChestPain":             {"Yes", "No"},
	"Cough":                 {"Yes", "No"},
	"DietQuality":           {"Good", "Poor"},
	"Dizziness":             {"Yes", "No"},
	"ExcessiveThirst":       {"Yes", "No"},
	"FamilyHistoryDiabetes": {"Yes", "No"},
	"FamilyHistoryHeart":    {"Yes", "No"},
	"Fatigue":               {"Yes", "No"},
	"FrequentUrination":     {"Yes", "No"},
	"Headache":              {"Yes", "No"},
	"LossOfAppetite":        {"Yes", "No"},
	"PaleSkin":              {"Yes", "No"},
	"PhysicalActivity":      {"High", "Low", "Moderate"},
	"SaltIntake":            {"High", "Low", "Moderate"},
	"Smoking":               {"Yes", "No"},
	"StressLevel":           {"High", "Low", "Moderate"},
	"SugarLevel":            {"High", "Normal", "Low"},
	"SwellingAnkles":        {"Yes", "No"},
	"WeightLoss":            {"Yes", "No"},
	"Wheezing":              {"Yes", "No"},
}

// Harmful reports whether an answer raises the synthetic outcome rate.
func Harmful(feature, value string) bool {
	switch feature {
	case "PhysicalActivity":
		return value == "Low"
	case "DietQuality":
		return value == "Poor"
	case "BloodPressure", "SugarLevel", "SaltIntake", "StressLevel":
		return value == "High"
	}
	return value == "Yes"
}

// Rows generates n subjects with every catalog column. The same seed always
// yields the same rows. Outcomes follow a logistic model of age and the number
// of harmful answers declared for each disease.
func Rows(n int, seed uint64) (header []string, rows [][]string) {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	catalog := domain.Catalog()
	features := domain.FeatureNames(catalog)

	header = append(header, domain.AgeColumn)
	header = append(header, features...)
	header = append(header, domain.DiseaseNames(catalog)...)

	for i := 0; i < n; i++ {
		age := 18 + rng.IntN(68)
		answers := make(map[string]string, len(features))
		row := make([]string, 0, len(header))
		row = append(row, strconv.Itoa(age))
		for _, f := range features {
			opts := Options[f]
			v := opts[rng.IntN(len(opts))]
			answers[f] = v
			row = append(row, v)
		}
		for _, d := range catalog {
			harmful := 0
			for _, f := range d.Features {
				if Harmful(f, answers[f]) {
					harmful++
				}
			}
			logit := -3.2 + 0.9*float64(harmful) + 0.03*float64(age-45)
			p := 1 / (1 + math.Exp(-logit))
			y := "0"
			if rng.Float64() < p {
				y = "1"
			}
			row = append(row, y)
		}
		rows = append(rows, row)
	}
	return header, rows
}

// Table returns a synthetic training table of n rows.
func Table(n int, seed uint64) *dataset.Table {
	header, rows := Rows(n, seed)
	t, err := dataset.NewTable(header, rows)
	if err != nil {
		panic(err)
	}
	return t
}

// Recommendations returns one advice row per catalog disease and band.
func Recommendations() []dataset.Recommendation {
	bands := []string{domain.Band0to20, domain.Band21to40, domain.Band41to60, domain.Band61to80, domain.Band81to100}
	var out []dataset.Recommendation
	for _, d := range domain.Catalog() {
		for _, b := range bands {
			out = append(out, dataset.Recommendation{
				Disease: d.Name,
				Band:    b,
				Text:    d.Name + " " + b + ": discuss these results with your doctor.",
			})
		}
	}
	return out
}
