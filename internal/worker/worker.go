// Package worker scores assessments published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/narrative"
	"github.com/opensource-health/heron/internal/scoring"
)

// Worker consumes assessment requests from the EventBus, scores them and
// stores the outcome.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	assessor  *scoring.Assessor
	narrator  domain.Narrator
	narrateTO time.Duration

	sem           chan struct{}
	subscriptions []domain.Subscription
	mu            sync.Mutex
	stopping      bool
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// WorkerCount is the number of assessments scored concurrently
	WorkerCount int

	// NarrativeTimeout bounds the narrative call per assessment
	NarrativeTimeout time.Duration
}

// NewWorker creates a new async worker. repo and narrator may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, assessor *scoring.Assessor, narrator domain.Narrator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		assessor: assessor,
		narrator: narrator,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to assessment requests.
func (w *Worker) Start(cfg Config) error {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.NarrativeTimeout <= 0 {
		cfg.NarrativeTimeout = 10 * time.Second
	}
	w.sem = make(chan struct{}, cfg.WorkerCount)
	w.narrateTO = cfg.NarrativeTimeout

	sub, err := w.bus.Subscribe(w.ctx, domain.TopicAssessmentRequested, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", domain.TopicAssessmentRequested, err)
	}
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("workers started",
		"topic", domain.TopicAssessmentRequested,
		"worker_count", cfg.WorkerCount,
	)
	return nil
}

// handleMessage hands a request to the pool, blocking while every worker is busy.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.mu.Lock()
	if w.stopping {
		w.mu.Unlock()
		<-w.sem
		return nil
	}
	w.wg.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		// in-flight assessments finish even while the worker stops
		if err := w.process(context.WithoutCancel(w.ctx), msg); err != nil {
			w.failed.Add(1)
		} else {
			w.processed.Add(1)
		}
	}()
	return nil
}

// process scores one request and saves the result.
func (w *Worker) process(ctx context.Context, msg *domain.Message) (err error) {
	start := time.Now()

	var req domain.AssessmentRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse assessment request",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if req.ID == "" {
		req.ID = msg.ID
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	a := &domain.Assessment{
		ID:        req.ID,
		UserID:    req.UserID,
		Status:    domain.StatusPending,
		Age:       req.Age,
		Answers:   req.Answers,
		CreatedAt: time.Now().UTC(),
	}
	if w.repo != nil {
		if existing, getErr := w.repo.GetAssessment(ctx, req.UserID, req.ID); getErr == nil {
			a.CreatedAt = existing.CreatedAt
		}
	}

	slog.Debug("processing assessment",
		"assessment_id", req.ID,
		"trace_id", traceID,
	)

	res, err := w.score(ctx, req)
	if err != nil {
		a.Status = domain.StatusFailed
		a.Error = err.Error()
		a.Metadata = domain.AssessmentMetadata{TraceID: traceID, EngineVersion: scoring.EngineVersion}
		slog.Error("assessment failed",
			"assessment_id", req.ID,
			"error", err,
		)
	} else {
		a.Status = domain.StatusCompleted
		a.Report = res.Report
		a.Metadata = res.Metadata(traceID)
		a.Summary = w.narrate(ctx, req, res.Report)
	}

	if w.repo != nil {
		if saveErr := w.repo.SaveAssessment(ctx, a); saveErr != nil {
			slog.Error("failed to save assessment",
				"assessment_id", req.ID,
				"error", saveErr,
			)
			if err == nil {
				err = saveErr
			}
		}
	}

	w.publishCompletion(ctx, a)

	slog.Info("assessment processed",
		"assessment_id", req.ID,
		"status", a.Status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return err
}

// publishCompletion announces a processed assessment. Encoding and publish
// failures are logged; the assessment is already saved.
func (w *Worker) publishCompletion(ctx context.Context, a *domain.Assessment) bool {
	payload, err := json.Marshal(a)
	if err != nil {
		slog.Error("failed to encode completion",
			"assessment_id", a.ID,
			"error", err,
		)
		return false
	}
	if err := w.bus.Publish(ctx, domain.TopicAssessmentCompleted, payload); err != nil {
		slog.Error("failed to publish completion",
			"assessment_id", a.ID,
			"error", err,
		)
		return false
	}
	return true
}

// score runs the assessor with panic isolation.
func (w *Worker) score(ctx context.Context, req domain.AssessmentRequest) (res *scoring.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("assessment panicked: %v", r)
		}
	}()
	return w.assessor.Assess(ctx, req.Age, req.Answers)
}

// narrate returns the narrative summary or "" when the narrator is absent or fails.
func (w *Worker) narrate(ctx context.Context, req domain.AssessmentRequest, report []domain.RiskAssessment) string {
	if w.narrator == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, w.narrateTO)
	defer cancel()

	summary, err := w.narrator.Summarize(ctx, &domain.NarrativeRequest{
		Age:     req.Age,
		Answers: req.Answers,
		Report:  report,
	})
	if errors.Is(err, narrative.ErrDisabled) {
		return ""
	}
	if err != nil {
		slog.Warn("narrative unavailable",
			"assessment_id", req.ID,
			"error", err,
		)
		return ""
	}
	return summary
}

// Stop gracefully stops all workers, waiting for in-flight assessments.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopping = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()
	w.cancel()

	// unsubscribe outside the lock: delivery goroutines take it in handleMessage
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
