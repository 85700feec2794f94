// Benchmark tool for checking Heron's scores against labelled subjects.
//
// Usage:
//
//	go run ./cmd/benchmark --csv data/holdout.csv --url http://localhost:5000
//
// This tool:
//  1. Reads subjects in the training layout (Age, answers, one 0/1 column per disease)
//  2. Sends each subject to POST /api/analyze
//  3. Treats risk >= threshold as a positive screen and compares with the labels
//  4. Prints per-disease confusion counts, precision, recall, F1, Brier score
//     and request latency percentiles
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/urfave/cli/v3"

	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
)

// Subject is one labelled row of the benchmark file.
type Subject struct {
	Age     int
	Answers map[string]string
	Labels  map[string]int
}

// AnalyzeResponse is the subset of the API response the benchmark reads.
type AnalyzeResponse struct {
	Status string                  `json:"status"`
	Report []domain.RiskAssessment `json:"report"`
}

// Confusion tracks screening outcomes for one disease.
type Confusion struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int

	// squared error of risk/100 against the label, summed
	SquaredError float64
}

// Add records one scored subject.
func (c *Confusion) Add(risk float64, label int, threshold float64) {
	predicted := risk >= threshold
	actual := label == 1
	switch {
	case predicted && actual:
		c.TruePositives++
	case predicted && !actual:
		c.FalsePositives++
	case !predicted && !actual:
		c.TrueNegatives++
	default:
		c.FalseNegatives++
	}
	d := risk/100 - float64(label)
	c.SquaredError += d * d
}

// Total is the number of recorded subjects.
func (c *Confusion) Total() int {
	return c.TruePositives + c.FalsePositives + c.TrueNegatives + c.FalseNegatives
}

// Precision is TP / (TP + FP), zero when nothing screened positive.
func (c *Confusion) Precision() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalsePositives)
}

// Recall is TP / (TP + FN), zero when there were no positives.
func (c *Confusion) Recall() float64 {
	return ratio(c.TruePositives, c.TruePositives+c.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (c *Confusion) F1() float64 {
	p, r := c.Precision(), c.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Brier is the mean squared error of the risk as a probability.
func (c *Confusion) Brier() float64 {
	if c.Total() == 0 {
		return 0
	}
	return c.SquaredError / float64(c.Total())
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

// Metrics aggregates a benchmark run.
type Metrics struct {
	mu        sync.Mutex
	diseases  map[string]*Confusion
	latencies []float64
	errors    int
}

func newMetrics() *Metrics {
	return &Metrics{diseases: make(map[string]*Confusion)}
}

func (m *Metrics) record(s Subject, resp *AnalyzeResponse, elapsed time.Duration, threshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.latencies = append(m.latencies, float64(elapsed.Microseconds())/1000)
	for _, r := range resp.Report {
		label, ok := s.Labels[r.Disease]
		if !ok {
			continue
		}
		c := m.diseases[r.Disease]
		if c == nil {
			c = &Confusion{}
			m.diseases[r.Disease] = c
		}
		c.Add(r.Risk, label, threshold)
	}
}

func (m *Metrics) fail() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func main() {
	cmd := &cli.Command{
		Name:  "benchmark",
		Usage: "Score labelled subjects against a running Heron server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "csv", Usage: "Labelled subjects (.csv or .xlsx)", Required: true},
			&cli.StringFlag{Name: "sheet", Usage: "Workbook sheet (optional)"},
			&cli.StringFlag{Name: "url", Usage: "Heron base URL", Value: "http://localhost:5000"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum subjects to send (0 = all)", Value: 1000},
			&cli.IntFlag{Name: "workers", Usage: "Number of concurrent workers", Value: 10},
			&cli.FloatFlag{Name: "threshold", Usage: "Risk at or above which a screen is positive", Value: 50},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	baseURL := cmd.String("url")
	threshold := cmd.Float("threshold")

	fmt.Println("HERON BENCHMARK")
	fmt.Printf("\nFile:       %s\n", cmd.String("csv"))
	fmt.Printf("Heron URL:  %s\n", baseURL)
	fmt.Printf("Workers:    %d\n", cmd.Int("workers"))
	fmt.Printf("Limit:      %d\n", cmd.Int("limit"))
	fmt.Printf("Threshold:  %.1f\n\n", threshold)

	client := &http.Client{Timeout: 10 * time.Second}
	if err := checkHealth(ctx, client, baseURL); err != nil {
		return fmt.Errorf("heron not reachable at %s: %w", baseURL, err)
	}
	fmt.Println("✓ Heron is healthy")

	subjects, err := readSubjects(cmd.String("csv"), cmd.String("sheet"), cmd.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Printf("✓ Loaded %d subjects\n", len(subjects))

	start := time.Now()
	m := runBenchmark(ctx, client, subjects, baseURL, cmd.Int("workers"), threshold)
	printResults(m, time.Since(start))
	return nil
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// readSubjects loads labelled rows with the same reader used for training.
func readSubjects(path, sheet string, limit int) ([]Subject, error) {
	table, err := dataset.Load(path, sheet)
	if err != nil {
		return nil, err
	}

	ages, err := table.Ages()
	if err != nil {
		return nil, err
	}

	features := domain.FeatureNames(domain.Catalog())
	answers := make(map[string][]string, len(features))
	for _, f := range features {
		if col, err := table.Column(f); err == nil {
			answers[f] = col
		}
	}
	labels := make(map[string][]int)
	for _, d := range domain.Catalog() {
		if y, err := table.Outcome(d.Name); err == nil {
			labels[d.Name] = y
		}
	}

	n := table.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	subjects := make([]Subject, n)
	for i := range subjects {
		s := Subject{
			Age:     ages[i],
			Answers: make(map[string]string, len(answers)),
			Labels:  make(map[string]int, len(labels)),
		}
		for f, col := range answers {
			s.Answers[f] = col[i]
		}
		for d, y := range labels {
			s.Labels[d] = y[i]
		}
		subjects[i] = s
	}
	return subjects, nil
}

func runBenchmark(ctx context.Context, client *http.Client, subjects []Subject, baseURL string, numWorkers int, threshold float64) *Metrics {
	m := newMetrics()

	work := make(chan Subject, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range work {
				start := time.Now()
				resp, err := analyze(ctx, client, baseURL, s)
				if err != nil {
					m.fail()
					continue
				}
				m.record(s, resp, time.Since(start), threshold)
			}
		}()
	}

	for _, s := range subjects {
		work <- s
	}
	close(work)
	wg.Wait()

	return m
}

func analyze(ctx context.Context, client *http.Client, baseURL string, s Subject) (*AnalyzeResponse, error) {
	body := make(map[string]any, len(s.Answers)+1)
	for k, v := range s.Answers {
		body[k] = v
	}
	body["age"] = s.Age

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/analyze", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nRESULTS")

	names := make([]string, 0, len(m.diseases))
	for name := range m.diseases {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("\n%-14s %6s %6s %6s %6s %9s %7s %7s %7s\n",
		"Disease", "TP", "FP", "TN", "FN", "Precision", "Recall", "F1", "Brier")
	for _, name := range names {
		c := m.diseases[name]
		fmt.Printf("%-14s %6d %6d %6d %6d %9.4f %7.4f %7.4f %7.4f\n",
			name, c.TruePositives, c.FalsePositives, c.TrueNegatives, c.FalseNegatives,
			c.Precision(), c.Recall(), c.F1(), c.Brier())
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Requests:        %d (errors: %d)\n", len(m.latencies), m.errors)
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if len(m.latencies) == 0 {
		return
	}

	data := stats.LoadRawData(m.latencies)
	mean, _ := data.Mean()
	p50, _ := data.Percentile(50)
	p95, _ := data.Percentile(95)
	p99, _ := data.Percentile(99)
	fmt.Printf("   Latency mean:    %.2f ms\n", mean)
	fmt.Printf("   Latency p50:     %.2f ms\n", p50)
	fmt.Printf("   Latency p95:     %.2f ms\n", p95)
	fmt.Printf("   Latency p99:     %.2f ms\n", p99)
	fmt.Printf("   Throughput:      %.2f req/sec\n", float64(len(m.latencies))/duration.Seconds())
	fmt.Println()
}
