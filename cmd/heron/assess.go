package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/opensource-health/heron/internal/registry"
)

var (
	ageFlag = &cli.IntFlag{
		Name:     "age",
		Usage:    "Age in years",
		Required: true,
	}

	answerFlag = &cli.StringSliceFlag{
		Name:    "answer",
		Aliases: []string{"a"},
		Usage:   "Question response as Feature=Value (repeatable)",
	}

	assessCmd = &cli.Command{
		Name:      "assess",
		Usage:     "Score one set of answers and print the report as JSON",
		UsageText: "heron assess --age 52 --answer BloodPressure=High --answer Smoking=Yes",
		Flags:     []cli.Flag{ageFlag, answerFlag},
		Action:    runAssess,
	}

	questionsCmd = &cli.Command{
		Name:   "questions",
		Usage:  "Print every question with its answer options",
		Action: runQuestions,
	}

	modelsCmd = &cli.Command{
		Name:   "models",
		Usage:  "Print what each disease model was trained on",
		Action: runModels,
	}
)

func runAssess(ctx context.Context, cmd *cli.Command) error {
	answers, err := parseAnswers(cmd.StringSlice(answerFlag.Name))
	if err != nil {
		return err
	}

	assessor, err := buildAssessor(cfg)
	if err != nil {
		return err
	}

	res, err := assessor.Assess(ctx, cmd.Int(ageFlag.Name), answers)
	if err != nil {
		return err
	}

	return printJSON(map[string]any{
		"status":   "success",
		"report":   res.Report,
		"metadata": res.Metadata(""),
	})
}

func runQuestions(_ context.Context, _ *cli.Command) error {
	reg, err := trainedRegistry()
	if err != nil {
		return err
	}
	return printJSON(reg.Questions())
}

func runModels(_ context.Context, _ *cli.Command) error {
	reg, err := trainedRegistry()
	if err != nil {
		return err
	}
	return printJSON(reg.Describe())
}

func trainedRegistry() (*registry.Registry, error) {
	assessor, err := buildAssessor(cfg)
	if err != nil {
		return nil, err
	}
	return assessor.Registry(), nil
}

// parseAnswers turns Feature=Value pairs into an answer map.
func parseAnswers(pairs []string) (map[string]string, error) {
	answers := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid answer %q: expected Feature=Value", p)
		}
		answers[k] = v
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("at least one --answer is required")
	}
	return answers, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
