// Package narrative calls the optional summary service that turns a computed
// report into plain-language text.
package narrative

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/opensource-health/heron/internal/domain"
)

var (
	ErrDisabled     = errors.New("narrative service disabled")
	ErrEmptySummary = errors.New("narrative service returned an empty summary")
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 1 << 20

// Noop never produces a narrative.
type Noop struct{}

// Summarize implements domain.Narrator.
func (Noop) Summarize(context.Context, *domain.NarrativeRequest) (string, error) {
	return "", ErrDisabled
}

// Client posts reports to an HTTP summary service. Calls are rate limited,
// bounded by a timeout and guarded by a circuit breaker.
type Client struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

type summaryResponse struct {
	Summary string `json:"summary"`
}

// NewClient creates a client from configuration.
func NewClient(cfg domain.NarrativeConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("narrative url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 2
	}

	return &Client{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "narrative",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}, nil
}

// New returns a Client when the service is enabled and Noop otherwise.
func New(cfg domain.NarrativeConfig) (domain.Narrator, error) {
	if !cfg.Enabled {
		return Noop{}, nil
	}
	return NewClient(cfg)
}

// Summarize implements domain.Narrator.
func (c *Client) Summarize(ctx context.Context, req *domain.NarrativeRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait failed: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *Client) post(ctx context.Context, req *domain.NarrativeRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode narrative request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("narrative request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read narrative response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("narrative service returned status %d", resp.StatusCode)
	}

	var sr summaryResponse
	if err := json.Unmarshal(raw, &sr); err != nil {
		return "", fmt.Errorf("decode narrative response: %w", err)
	}
	summary := strings.TrimSpace(sr.Summary)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

var (
	_ domain.Narrator = (*Client)(nil)
	_ domain.Narrator = Noop{}
)
