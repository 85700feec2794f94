package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/narrative"
	"github.com/opensource-health/heron/internal/repository"
	"github.com/opensource-health/heron/internal/scoring"
)

// Request validation messages returned with 400.
const (
	msgNoJSON     = "No JSON data provided"
	msgAgeMissing = "Age is required"
	msgAgeInvalid = "Age must be a valid integer"
	msgNoAnswers  = "At least one question response is required"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Deps are the collaborators of the HTTP handlers. Only Assessor is required.
type Deps struct {
	Assessor         *scoring.Assessor
	Repo             domain.Repository
	Cache            domain.Cache
	Bus              domain.EventBus
	Narrator         domain.Narrator
	NarrativeTimeout time.Duration
	Version          string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	assessor         *scoring.Assessor
	repo             domain.Repository
	cache            domain.Cache
	bus              domain.EventBus
	narrator         domain.Narrator
	narrativeTimeout time.Duration
	version          string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps) *Handler {
	if d.NarrativeTimeout <= 0 {
		d.NarrativeTimeout = 10 * time.Second
	}
	return &Handler{
		assessor:         d.Assessor,
		repo:             d.Repo,
		cache:            d.Cache,
		bus:              d.Bus,
		narrator:         d.Narrator,
		narrativeTimeout: d.NarrativeTimeout,
		version:          d.Version,
	}
}

// AnalyzeResponse is the response for POST /api/analyze.
type AnalyzeResponse struct {
	Status    string                  `json:"status"`
	ID        string                  `json:"id"`
	Report    []domain.RiskAssessment `json:"report"`
	AISummary string                  `json:"ai_summary,omitempty"`
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Analyze handles POST /api/analyze: scores the request synchronously.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	age, answers, msg := parseAnalyzeRequest(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.assessor.Assess(ctx, age, answers)
	if err != nil {
		if scoring.IsValidation(err) {
			writeError(w, http.StatusBadRequest, msgNoAnswers)
			return
		}
		slog.Error("assessment failed",
			"trace_id", traceID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a := &domain.Assessment{
		ID:        uuid.New().String(),
		UserID:    GetUserID(ctx),
		Status:    domain.StatusCompleted,
		Age:       age,
		Answers:   answers,
		Report:    res.Report,
		CreatedAt: time.Now().UTC(),
		Metadata:  res.Metadata(traceID),
	}
	a.Summary = h.narrate(ctx, a)
	h.save(ctx, a)

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Status:    "success",
		ID:        a.ID,
		Report:    a.Report,
		AISummary: a.Summary,
	})
}

// AnalyzeAsync handles POST /api/analyze/async: stores a pending assessment
// and hands it to the worker pool.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "asynchronous scoring not available")
		return
	}

	age, answers, msg := parseAnalyzeRequest(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	req := domain.AssessmentRequest{
		ID:      uuid.New().String(),
		UserID:  GetUserID(ctx),
		TraceID: GetTraceID(ctx),
		Age:     age,
		Answers: answers,
	}

	h.save(ctx, &domain.Assessment{
		ID:        req.ID,
		UserID:    req.UserID,
		Status:    domain.StatusPending,
		Age:       age,
		Answers:   answers,
		CreatedAt: time.Now().UTC(),
		Metadata:  domain.AssessmentMetadata{TraceID: req.TraceID, EngineVersion: scoring.EngineVersion},
	})

	payload, err := json.Marshal(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := h.bus.Publish(ctx, domain.TopicAssessmentRequested, payload); err != nil {
		slog.Error("failed to publish assessment request",
			"assessment_id", req.ID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue assessment")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"id":     req.ID,
	})
}

// GetAssessment handles GET /api/assessments/{id}. Assessments owned by another
// user are reported as not found.
func (h *Handler) GetAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "assessment ID is required")
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	a, err := h.repo.GetAssessment(r.Context(), GetUserID(r.Context()), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "assessment not found")
		return
	}
	if err != nil {
		slog.Error("failed to load assessment", "assessment_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load assessment")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListReports handles GET /api/reports: the caller's history, newest first.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())
	if userID == "" {
		writeError(w, http.StatusBadRequest, "X-User-ID header is required")
		return
	}

	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "repository not available")
		return
	}

	limit := repository.DefaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := h.repo.ListAssessments(r.Context(), userID, limit)
	if err != nil {
		slog.Error("failed to list reports", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	if reports == nil {
		reports = []*domain.Assessment{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"reports": reports,
		"count":   len(reports),
	})
}

// Questions handles GET /api/questions: the answer options per feature.
func (h *Handler) Questions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"questions": h.assessor.Registry().Questions(),
		"order":     h.assessor.Registry().QuestionNames(),
	})
}

// Models handles GET /api/models: what each disease model was trained on.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	reg := h.assessor.Registry()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"models":    reg.Describe(),
		"summary":   reg.Summary(),
		"weights":   h.assessor.Weights(),
		"trainedAt": reg.TrainedAt(),
		"version":   scoring.EngineVersion,
	})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", h.repo.Ping)
	}
	if h.cache != nil {
		check("cache", h.cache.Ping)
	}
	if h.bus != nil {
		check("eventBus", h.bus.Ping)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready handles GET /ready. The service is ready once models are trained.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.assessor == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// narrate returns the narrative summary, or "" when unavailable.
func (h *Handler) narrate(ctx context.Context, a *domain.Assessment) string {
	if h.narrator == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, h.narrativeTimeout)
	defer cancel()

	summary, err := h.narrator.Summarize(ctx, &domain.NarrativeRequest{
		Age:     a.Age,
		Answers: a.Answers,
		Report:  a.Report,
	})
	if errors.Is(err, narrative.ErrDisabled) {
		return ""
	}
	if err != nil {
		slog.Warn("narrative unavailable",
			"assessment_id", a.ID,
			"error", err,
		)
		return ""
	}
	return summary
}

// save stores an assessment. Storage failures never fail the request.
func (h *Handler) save(ctx context.Context, a *domain.Assessment) {
	if h.repo == nil {
		return
	}
	if err := h.repo.SaveAssessment(ctx, a); err != nil {
		slog.Error("failed to save assessment",
			"assessment_id", a.ID,
			"error", err,
		)
	}
}

// parseAnalyzeRequest reads {"age": N, "<Feature>": "<value>", ...}. Every key
// other than age is an answer. A non-empty msg is the 400 error text.
func parseAnalyzeRequest(r *http.Request) (age int, answers map[string]string, msg string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, msgNoJSON
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return 0, nil, msgNoJSON
	}

	rawAge, ok := fields["age"]
	if !ok || string(rawAge) == "null" {
		return 0, nil, msgAgeMissing
	}
	age, ok = parseAge(rawAge)
	if !ok {
		return 0, nil, msgAgeInvalid
	}

	answers = make(map[string]string, len(fields)-1)
	for k, raw := range fields {
		if k == "age" {
			continue
		}
		answers[k] = answerText(raw)
	}
	if len(answers) == 0 {
		return 0, nil, msgNoAnswers
	}
	return age, answers, ""
}

// parseAge accepts an integral JSON number or a string holding an integer.
func parseAge(raw json.RawMessage) (int, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// answerText turns a JSON answer into its label. Strings are used as is;
// other scalars keep their JSON text and will not match a trained label.
func answerText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Status: "error", Error: msg})
}
