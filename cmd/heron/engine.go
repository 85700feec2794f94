package main

import (
	"fmt"
	"log/slog"

	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/recommend"
	"github.com/opensource-health/heron/internal/registry"
	"github.com/opensource-health/heron/internal/scoring"
)

// buildAssessor trains every disease model from the configured data and
// returns the assessor. Any error here is fatal to startup.
func buildAssessor(cfg *domain.Config) (*scoring.Assessor, error) {
	table, err := dataset.Load(cfg.Data.TrainingPath, cfg.Data.Sheet)
	if err != nil {
		return nil, fmt.Errorf("load training data: %w", err)
	}
	slog.Info("training data loaded",
		"path", cfg.Data.TrainingPath,
		"rows", table.Len(),
	)

	recs, err := recommend.Load(cfg.Data.RecommendationsPath, cfg.Data.Sheet)
	if err != nil {
		return nil, fmt.Errorf("load recommendations: %w", err)
	}
	slog.Info("recommendations loaded",
		"path", cfg.Data.RecommendationsPath,
		"entries", recs.Len(),
	)

	opts := registry.DefaultOptions()
	opts.ClassifierAlpha = cfg.Scoring.ClassifierAlpha
	opts.NetworkAlpha = cfg.Scoring.NetworkAlpha
	opts.Logger = slog.Default()

	reg, err := registry.Train(table, domain.Catalog(), opts)
	if err != nil {
		return nil, fmt.Errorf("train models: %w", err)
	}

	weights := scoring.Weights{
		Graph:      cfg.Scoring.GraphWeight,
		Classifier: cfg.Scoring.ClassifierWeight,
	}
	return scoring.NewAssessor(reg, recs, weights, cfg.Scoring.MaxWorkers)
}
