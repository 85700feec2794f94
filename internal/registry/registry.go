// Package registry trains the per-disease models once at startup and holds them
// read-only for the lifetime of the process.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/opensource-health/heron/internal/bayesnet"
	"github.com/opensource-health/heron/internal/dataset"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/encoding"
	"github.com/opensource-health/heron/internal/naivebayes"
)

// ErrUnknownDisease is returned for a disease that has no trained model.
var ErrUnknownDisease = errors.New("unknown disease")

// Options tune training.
type Options struct {
	// ClassifierAlpha is the additive smoothing of the event classifier.
	ClassifierAlpha float64

	// NetworkAlpha is the pseudo-count of the graphical model.
	NetworkAlpha float64

	// Logger receives one line per trained disease. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the standard smoothing settings.
func DefaultOptions() Options {
	return Options{ClassifierAlpha: 1.0}
}

// Model is everything needed to score one disease.
type Model struct {
	Disease    domain.Disease
	Classifier *naivebayes.Model
	Network    *bayesnet.Network
	Inference  *bayesnet.Inference

	// ObservedConfigs is the number of distinct parent configurations of the outcome
	// node present in training, out of TotalConfigs possible ones.
	ObservedConfigs int
	TotalConfigs    int
}

// Registry holds the fitted encoder and per-disease models. It is immutable after
// Train and safe for concurrent use.
type Registry struct {
	encoder   *encoding.Encoder
	diseases  []domain.Disease
	models    map[string]*Model
	summary   *dataset.Summary
	trainedAt time.Time
	id        string
}

// Train fits the encoder and every disease model from the training table.
func Train(table *dataset.Table, diseases []domain.Disease, opts Options) (*Registry, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if len(diseases) == 0 {
		return nil, fmt.Errorf("no diseases to train")
	}
	if err := table.Validate(diseases); err != nil {
		return nil, err
	}

	features := domain.FeatureNames(diseases)
	raw := make(map[string][]string, len(features))
	for _, f := range features {
		col, err := table.Column(f)
		if err != nil {
			return nil, err
		}
		raw[f] = col
	}
	enc, err := encoding.Fit(raw)
	if err != nil {
		return nil, fmt.Errorf("fit encoder: %w", err)
	}

	ages, err := table.Ages()
	if err != nil {
		return nil, err
	}
	ageCodes := make([]int, len(ages))
	for i, a := range ages {
		ageCodes[i] = enc.EncodeAge(a)
	}

	codes := make(map[string][]int, len(features)+1)
	codes[domain.AgeGroupFeature] = ageCodes
	for _, f := range features {
		if codes[f], err = enc.EncodeColumn(f, raw[f]); err != nil {
			return nil, err
		}
	}

	summary, err := dataset.Summarize(table, diseases)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		encoder:   enc,
		diseases:  append([]domain.Disease(nil), diseases...),
		models:    make(map[string]*Model, len(diseases)),
		summary:   summary,
		trainedAt: time.Now().UTC(),
	}

	outcomes := make(map[string][]int, len(diseases))
	for _, d := range diseases {
		y, err := table.Outcome(d.Name)
		if err != nil {
			return nil, err
		}
		outcomes[d.Name] = y
		m, err := trainDisease(d, enc, codes, y, opts)
		if err != nil {
			return nil, fmt.Errorf("train %s: %w", d.Name, err)
		}
		r.models[d.Name] = m

		logger.Info("disease model trained",
			"disease", d.Name,
			"rows", len(y),
			"prevalence", summary.Prevalence[d.Name],
			"features", len(d.Features),
			"observed_configs", m.ObservedConfigs,
			"total_configs", m.TotalConfigs,
		)
		for _, c := range m.Classifier.Constraints() {
			logger.Warn("classifier constraint", "disease", d.Name, "detail", c)
		}
	}
	r.id = identity(diseases, enc, codes, outcomes, opts)
	return r, nil
}

// identity hashes everything the fitted models depend on: the catalog, the
// label domains, the encoded training columns and the smoothing options.
func identity(diseases []domain.Disease, enc *encoding.Encoder, codes map[string][]int, outcomes map[string][]int, opts Options) string {
	h := sha256.New()
	var buf []byte
	writeInts := func(name string, vals []int) {
		buf = append(buf[:0], name...)
		buf = append(buf, ':')
		for _, v := range vals {
			buf = strconv.AppendInt(buf, int64(v), 10)
			buf = append(buf, ',')
		}
		buf = append(buf, '\n')
		h.Write(buf)
	}

	fmt.Fprintf(h, "alpha:%g,%g\n", opts.ClassifierAlpha, opts.NetworkAlpha)
	for _, d := range diseases {
		fmt.Fprintf(h, "disease:%s:%q\n", d.Name, d.Features)
		writeInts("y."+d.Name, outcomes[d.Name])
	}

	names := make([]string, 0, len(codes))
	for n := range codes {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if dom, ok := enc.Domain(n); ok {
			fmt.Fprintf(h, "domain:%s:%q\n", n, dom.Labels())
		}
		writeInts("x."+n, codes[n])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func trainDisease(d domain.Disease, enc *encoding.Encoder, codes map[string][]int, y []int, opts Options) (*Model, error) {
	infos := make([]naivebayes.FeatureInfo, len(d.Features))
	parents := make([]bayesnet.Variable, 0, len(d.Features)+1)
	parents = append(parents, bayesnet.Variable{Name: domain.AgeGroupFeature, Card: enc.AgeDomain().Size()})
	for i, f := range d.Features {
		dom, ok := enc.Domain(f)
		if !ok {
			return nil, fmt.Errorf("%w: %s", encoding.ErrUnknownColumn, f)
		}
		infos[i] = naivebayes.FeatureInfo{Name: f, Levels: dom.Size()}
		parents = append(parents, bayesnet.Variable{Name: f, Card: dom.Size()})
	}

	X := make([][]int, len(y))
	for r := range y {
		row := make([]int, len(d.Features))
		for i, f := range d.Features {
			row[i] = codes[f][r]
		}
		X[r] = row
	}
	clf, err := naivebayes.Fit(infos, X, y, opts.ClassifierAlpha)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	net, err := bayesnet.Star(bayesnet.Variable{Name: d.Name, Card: 2}, parents)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	data := make(map[string][]int, len(parents)+1)
	for _, p := range parents {
		data[p.Name] = codes[p.Name]
	}
	data[d.Name] = y
	if err := net.Fit(data, opts.NetworkAlpha); err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	inf, err := bayesnet.NewInference(net)
	if err != nil {
		return nil, fmt.Errorf("network: %w", err)
	}
	seen, total, err := net.Observed(d.Name, data)
	if err != nil {
		return nil, err
	}

	return &Model{
		Disease:         d,
		Classifier:      clf,
		Network:         net,
		Inference:       inf,
		ObservedConfigs: seen,
		TotalConfigs:    total,
	}, nil
}

// Encoder returns the shared categorical encoder.
func (r *Registry) Encoder() *encoding.Encoder {
	return r.encoder
}

// Diseases returns the trained diseases in report order.
func (r *Registry) Diseases() []domain.Disease {
	return append([]domain.Disease(nil), r.diseases...)
}

// Model returns the trained model for a disease.
func (r *Registry) Model(disease string) (*Model, error) {
	m, ok := r.models[disease]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisease, disease)
	}
	return m, nil
}

// ID identifies the trained models. Registries trained from the same data and
// options share an ID; any change to either yields a different one.
func (r *Registry) ID() string {
	return r.id
}

// Summary returns the training data statistics.
func (r *Registry) Summary() *dataset.Summary {
	return r.summary
}

// TrainedAt is when Train finished fitting.
func (r *Registry) TrainedAt() time.Time {
	return r.trainedAt
}

// Questions returns every declared feature with its answer options in code order.
func (r *Registry) Questions() map[string][]string {
	out := make(map[string][]string)
	for _, f := range domain.FeatureNames(r.diseases) {
		if d, ok := r.encoder.Domain(f); ok {
			out[f] = d.Labels()
		}
	}
	return out
}

// ModelInfo describes a trained disease model.
type ModelInfo struct {
	Disease         string      `json:"disease"`
	Features        []string    `json:"features"`
	Prevalence      float64     `json:"prevalence"`
	ClassPrior      float64     `json:"classPrior"`
	Constraints     []string    `json:"constraints,omitempty"`
	Edges           [][2]string `json:"edges"`
	ObservedConfigs int         `json:"observedConfigs"`
	TotalConfigs    int         `json:"totalConfigs"`
}

// Describe lists the trained models in report order.
func (r *Registry) Describe() []ModelInfo {
	out := make([]ModelInfo, 0, len(r.diseases))
	for _, d := range r.diseases {
		m := r.models[d.Name]
		out = append(out, ModelInfo{
			Disease:         d.Name,
			Features:        append([]string(nil), d.Features...),
			Prevalence:      r.summary.Prevalence[d.Name],
			ClassPrior:      m.Classifier.ClassPrior(1),
			Constraints:     m.Classifier.Constraints(),
			Edges:           m.Network.Edges(),
			ObservedConfigs: m.ObservedConfigs,
			TotalConfigs:    m.TotalConfigs,
		})
	}
	return out
}

// QuestionNames returns the feature names of Questions, sorted.
func (r *Registry) QuestionNames() []string {
	q := r.Questions()
	names := make([]string, 0, len(q))
	for n := range q {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
