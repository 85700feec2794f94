package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Recommendation table columns.
const (
	ColumnDisease        = "Disease"
	ColumnRiskRange      = "RiskRangePercent"
	ColumnRecommendation = "DoctorRecommendation"
)

// Recommendation is one row of the advice table.
type Recommendation struct {
	Disease string `yaml:"disease" json:"disease"`
	Band    string `yaml:"band" json:"band"`
	Text    string `yaml:"text" json:"text"`
}

// LoadRecommendations reads the advice table from .xlsx, .csv or .yaml.
// Spreadsheet and CSV files use the Disease, RiskRangePercent and
// DoctorRecommendation columns; YAML files hold a list of Recommendation.
func LoadRecommendations(path, sheet string) ([]Recommendation, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return loadRecommendationsYAML(path)
	}

	t, err := Load(path, sheet)
	if err != nil {
		return nil, err
	}
	diseases, err := t.Column(ColumnDisease)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	bands, err := t.Column(ColumnRiskRange)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	texts, err := t.Column(ColumnRecommendation)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	out := make([]Recommendation, 0, len(diseases))
	for i := range diseases {
		if diseases[i] == "" || bands[i] == "" {
			continue
		}
		out = append(out, Recommendation{Disease: diseases[i], Band: bands[i], Text: texts[i]})
	}
	return out, nil
}

func loadRecommendationsYAML(path string) ([]Recommendation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var out []Recommendation
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}
