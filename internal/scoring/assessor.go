package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/encoding"
	"github.com/opensource-health/heron/internal/recommend"
	"github.com/opensource-health/heron/internal/registry"
)

// EngineVersion is stamped on every assessment.
const EngineVersion = "heron-1.0"

var tracer = otel.Tracer("heron-scoring")

// ErrNoAnswers is returned when a request carries no answers at all.
var ErrNoAnswers = errors.New("at least one question response is required")

// ValidationError marks a request-scoped failure caused by the input.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err was caused by invalid input.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Profile is the encoded form of one request.
type Profile struct {
	Age      int
	AgeBand  encoding.AgeBand
	AgeCode  int
	Evidence map[string]int

	// Used lists the recognized answers; Ignored lists unknown features or values.
	Used    []string
	Ignored []string
}

// NewProfile encodes the age and keeps only answers the encoder recognizes.
// Unrecognized answers are recorded in Ignored and never coerced.
func NewProfile(enc *encoding.Encoder, age int, answers map[string]string) *Profile {
	p := &Profile{
		Age:      age,
		AgeBand:  encoding.BandForAge(age),
		AgeCode:  enc.EncodeAge(age),
		Evidence: make(map[string]int, len(answers)),
	}
	for feature, value := range answers {
		if code, ok := enc.Transform(feature, value); ok {
			p.Evidence[feature] = code
			p.Used = append(p.Used, feature)
		} else {
			p.Ignored = append(p.Ignored, feature)
		}
	}
	sort.Strings(p.Used)
	sort.Strings(p.Ignored)
	return p
}

// Fingerprint identifies the scoring input: the age band and the recognized
// evidence. Two requests with the same fingerprint get the same report.
func (p *Profile) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(strconv.Itoa(p.AgeCode)))
	for _, f := range p.Used {
		h.Write([]byte{0})
		h.Write([]byte(f))
		h.Write([]byte{'='})
		h.Write([]byte(strconv.Itoa(p.Evidence[f])))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Result is a scored request.
type Result struct {
	Report  []domain.RiskAssessment
	Profile *Profile
	Queries int
	Elapsed time.Duration
	Cached  bool
}

// Metadata summarizes the result for storage.
func (r *Result) Metadata(traceID string) domain.AssessmentMetadata {
	return domain.AssessmentMetadata{
		TraceID:        traceID,
		AgeBand:        r.Profile.AgeBand.String(),
		AnswersUsed:    r.Profile.Used,
		AnswersIgnored: r.Profile.Ignored,
		DiseasesScored: len(r.Report),
		Queries:        r.Queries,
		TotalMs:        r.Elapsed.Milliseconds(),
		EngineVersion:  EngineVersion,
		Cached:         r.Cached,
	}
}

// Assessor scores requests against a trained registry. It keeps no per-request
// state and is safe for concurrent use.
type Assessor struct {
	registry   *registry.Registry
	recs       domain.RecommendationProvider
	weights    Weights
	maxWorkers int

	cache     domain.Cache
	reportTTL time.Duration
	scope     string
}

// digester is implemented by recommendation providers that can identify their content.
type digester interface {
	Digest() string
}

// NewAssessor creates an assessor. maxWorkers bounds the per-request disease
// fan-out; values below one mean one worker per disease.
func NewAssessor(reg *registry.Registry, recs domain.RecommendationProvider, weights Weights, maxWorkers int) (*Assessor, error) {
	if reg == nil {
		return nil, errors.New("registry is required")
	}
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if maxWorkers < 1 {
		maxWorkers = len(reg.Diseases())
	}
	return &Assessor{
		registry:   reg,
		recs:       recs,
		weights:    weights,
		maxWorkers: maxWorkers,
		scope:      cacheScope(reg, recs, weights),
	}, nil
}

// cacheScope identifies everything besides the profile that shapes a report, so
// assessors over different models, weights or advice never share cache entries.
func cacheScope(reg *registry.Registry, recs domain.RecommendationProvider, w Weights) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%g,%g\n", EngineVersion, reg.ID(), w.Graph, w.Classifier)
	if d, ok := recs.(digester); ok {
		fmt.Fprintf(h, "recs:%s\n", d.Digest())
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ReportKey is the cache key for a profile scored by this assessor.
func (a *Assessor) ReportKey(p *Profile) string {
	sum := sha256.Sum256([]byte(a.scope + ":" + p.Fingerprint()))
	return hex.EncodeToString(sum[:])
}

// WithCache makes the assessor reuse reports cached by ReportKey.
// Cache failures are logged and never fail a request.
func (a *Assessor) WithCache(c domain.Cache, ttl time.Duration) *Assessor {
	a.cache = c
	a.reportTTL = ttl
	return a
}

// Registry returns the registry being scored against.
func (a *Assessor) Registry() *registry.Registry {
	return a.registry
}

// Weights returns the ensemble weights.
func (a *Assessor) Weights() Weights {
	return a.weights
}

// Assess scores every disease for one request. The report follows catalog order.
// A failure or panic while scoring any disease fails the whole request.
func (a *Assessor) Assess(ctx context.Context, age int, answers map[string]string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "scoring.assess")
	defer span.End()
	start := time.Now()

	if len(answers) == 0 {
		return nil, &ValidationError{Err: ErrNoAnswers}
	}

	profile := NewProfile(a.registry.Encoder(), age, answers)
	span.SetAttributes(
		attribute.String("heron.age_band", profile.AgeBand.String()),
		attribute.Int("heron.answers_used", len(profile.Used)),
		attribute.Int("heron.answers_ignored", len(profile.Ignored)),
	)

	var fingerprint string
	if a.cache != nil {
		fingerprint = a.ReportKey(profile)
		report, err := a.cache.GetReport(ctx, fingerprint)
		if err != nil {
			slog.Warn("report cache read failed", "error", err)
		}
		if report != nil {
			span.SetAttributes(attribute.Bool("heron.cached", true))
			return &Result{
				Report:  report,
				Profile: profile,
				Elapsed: time.Since(start),
				Cached:  true,
			}, nil
		}
	}

	diseases := a.registry.Diseases()
	report := make([]domain.RiskAssessment, len(diseases))
	queries := make([]int, len(diseases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.maxWorkers)
	for i, d := range diseases {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("scoring %s panicked: %v", d.Name, r)
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			report[i], queries[i], err = a.scoreDisease(d, profile)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	total := 0
	for _, q := range queries {
		total += q
	}
	span.SetAttributes(attribute.Int("heron.queries", total))

	if a.cache != nil {
		if err := a.cache.SetReport(ctx, fingerprint, report, a.reportTTL); err != nil {
			slog.Warn("report cache write failed", "error", err)
		}
	}

	return &Result{
		Report:  report,
		Profile: profile,
		Queries: total,
		Elapsed: time.Since(start),
	}, nil
}

// scoreDisease runs the full-evidence query, the classifier and the attribution
// queries for one disease.
func (a *Assessor) scoreDisease(d domain.Disease, p *Profile) (domain.RiskAssessment, int, error) {
	m, err := a.registry.Model(d.Name)
	if err != nil {
		return domain.RiskAssessment{}, 0, err
	}

	evidence := make(map[string]int, len(d.Features)+1)
	for _, f := range d.Features {
		if code, ok := p.Evidence[f]; ok {
			evidence[f] = code
		}
	}
	pClassifier := m.Classifier.PredictProbability(evidence)

	evidence[domain.AgeGroupFeature] = p.AgeCode
	pGraph, err := m.Inference.Probability(d.Name, 1, evidence)
	if err != nil {
		return domain.RiskAssessment{}, 0, fmt.Errorf("query %s: %w", d.Name, err)
	}

	factors, queries, err := Attribute(m.Inference, d, p.AgeCode, evidence)
	if err != nil {
		return domain.RiskAssessment{}, 0, err
	}

	risk := Combine(a.weights, pGraph, pClassifier)
	band := BandFor(risk)
	return domain.RiskAssessment{
		Disease:        d.Name,
		Risk:           risk,
		RiskBand:       band,
		Recommendation: recommend.Lookup(a.recs, d.Name, band),
		RiskFactors:    factors,
	}, queries + 1, nil
}
