package narrative

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-health/heron/internal/domain"
)

func sampleRequest() *domain.NarrativeRequest {
	return &domain.NarrativeRequest{
		Age:     35,
		Answers: map[string]string{"Smoking": "Yes"},
		Report: []domain.RiskAssessment{
			{Disease: "Asthma", Risk: 42.5, RiskBand: domain.Band41to60, Recommendation: "See a doctor."},
		},
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(domain.NarrativeConfig{
		Enabled:   true,
		URL:       url,
		APIKey:    "secret",
		Timeout:   time.Second,
		RateLimit: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestSummarize(t *testing.T) {
	var got domain.NarrativeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"summary":"  Your asthma risk is moderate.  "}`))
	}))
	defer srv.Close()

	summary, err := newTestClient(t, srv.URL).Summarize(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "Your asthma risk is moderate.", summary)
	assert.Equal(t, 35, got.Age)
	assert.Equal(t, "Asthma", got.Report[0].Disease)
}

func TestSummarizeFailures(t *testing.T) {
	t.Run("ServerError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := newTestClient(t, srv.URL).Summarize(context.Background(), sampleRequest())
		assert.ErrorContains(t, err, "502")
	})

	t.Run("EmptySummary", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"summary":""}`))
		}))
		defer srv.Close()
		_, err := newTestClient(t, srv.URL).Summarize(context.Background(), sampleRequest())
		assert.ErrorIs(t, err, ErrEmptySummary)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()
		_, err := newTestClient(t, srv.URL).Summarize(context.Background(), sampleRequest())
		assert.Error(t, err)
	})

	t.Run("Timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		c, err := NewClient(domain.NarrativeConfig{URL: srv.URL, Timeout: 50 * time.Millisecond, RateLimit: 1000})
		require.NoError(t, err)
		start := time.Now()
		_, err = c.Summarize(context.Background(), sampleRequest())
		assert.Error(t, err)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestCircuitBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		_, err := c.Summarize(context.Background(), sampleRequest())
		require.Error(t, err)
	}

	_, err := c.Summarize(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNew(t *testing.T) {
	n, err := New(domain.NarrativeConfig{Enabled: false})
	require.NoError(t, err)
	_, err = n.Summarize(context.Background(), sampleRequest())
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(domain.NarrativeConfig{Enabled: true})
	assert.Error(t, err, "enabled without a url")

	n, err = New(domain.NarrativeConfig{Enabled: true, URL: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &Client{}, n)
}
