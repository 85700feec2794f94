package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-health/heron/internal/bus"
	"github.com/opensource-health/heron/internal/cache"
	"github.com/opensource-health/heron/internal/domain"
	"github.com/opensource-health/heron/internal/recommend"
	"github.com/opensource-health/heron/internal/registry"
	"github.com/opensource-health/heron/internal/repository"
	"github.com/opensource-health/heron/internal/scoring"
	"github.com/opensource-health/heron/internal/testkit"
	"github.com/opensource-health/heron/internal/worker"
)

var (
	regOnce sync.Once
	reg     *registry.Registry
	regErr  error
)

func testAssessor(t *testing.T) *scoring.Assessor {
	t.Helper()
	regOnce.Do(func() {
		opts := registry.DefaultOptions()
		opts.Logger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
		reg, regErr = registry.Train(testkit.Table(800, 9), domain.Catalog(), opts)
	})
	require.NoError(t, regErr)

	a, err := scoring.NewAssessor(reg, recommend.NewTable(testkit.Recommendations()), scoring.DefaultWeights(), 0)
	require.NoError(t, err)
	return a
}

type stubNarrator struct {
	summary string
	err     error
}

func (s stubNarrator) Summarize(context.Context, *domain.NarrativeRequest) (string, error) {
	return s.summary, s.err
}

// createTestServer creates a server backed by in-memory SQLite.
func createTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Assessor == nil {
		deps.Assessor = testAssessor(t)
	}
	if deps.Repo == nil {
		repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		deps.Repo = repo
	}
	if deps.Version == "" {
		deps.Version = "test-v1"
	}
	return NewServer(domain.ServerConfig{Host: "localhost", Port: 5000}, deps)
}

func do(t *testing.T, s *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

const validBody = `{"age": 35, "BloodPressure": "High", "SugarLevel": "Normal", "Smoking": "Yes"}`

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer(t, Deps{})

	t.Run("Success", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze", validBody, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "success", resp.Status)
		assert.NotEmpty(t, resp.ID)
		assert.Empty(t, resp.AISummary)
		require.Len(t, resp.Report, len(domain.Catalog()))

		for i, d := range domain.Catalog() {
			r := resp.Report[i]
			assert.Equal(t, d.Name, r.Disease)
			assert.GreaterOrEqual(t, r.Risk, 0.0)
			assert.LessOrEqual(t, r.Risk, 100.0)
			assert.Equal(t, scoring.BandFor(r.Risk), r.RiskBand)
			assert.NotEmpty(t, r.Recommendation)
		}

		assert.NotEmpty(t, rr.Header().Get(TraceIDHeader))
		assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("WireFormat", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze", validBody, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
		report := raw["report"].([]any)
		first := report[0].(map[string]any)
		for _, key := range []string{"disease", "risk", "risk_band", "recommendation", "risk_factors"} {
			assert.Contains(t, first, key)
		}
		assert.NotContains(t, raw, "ai_summary")
	})

	t.Run("AgeAsString", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze", `{"age": " 61 ", "Cough": "Yes"}`, nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("Idempotent", func(t *testing.T) {
		var reports [2][]domain.RiskAssessment
		for i := range reports {
			rr := do(t, server, http.MethodPost, "/api/analyze", validBody, nil)
			var resp AnalyzeResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			reports[i] = resp.Report
		}
		assert.Equal(t, reports[0], reports[1])
	})

	validation := []struct {
		name string
		body string
		want string
	}{
		{"EmptyBody", "", msgNoJSON},
		{"NotJSON", "not-json", msgNoJSON},
		{"EmptyObject", "{}", msgNoJSON},
		{"JSONArray", `[1, 2]`, msgNoJSON},
		{"MissingAge", `{"Smoking": "Yes"}`, msgAgeMissing},
		{"NullAge", `{"age": null, "Smoking": "Yes"}`, msgAgeMissing},
		{"FractionalAge", `{"age": 35.5, "Smoking": "Yes"}`, msgAgeInvalid},
		{"WordAge", `{"age": "thirty", "Smoking": "Yes"}`, msgAgeInvalid},
		{"BoolAge", `{"age": true, "Smoking": "Yes"}`, msgAgeInvalid},
		{"NoAnswers", `{"age": 40}`, msgNoAnswers},
	}
	for _, tc := range validation {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, server, http.MethodPost, "/api/analyze", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, rr.Code)

			resp := decodeError(t, rr)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tc.want, resp.Error)
		})
	}

	t.Run("UnknownAnswersStillScored", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze", `{"age": 40, "Favourite": "Blue", "Smoking": 3}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		for _, r := range resp.Report {
			assert.Empty(t, r.RiskFactors)
		}
	})

	t.Run("Preflight", func(t *testing.T) {
		rr := do(t, server, http.MethodOptions, "/api/analyze", "", map[string]string{"Origin": "http://localhost:5173"})
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestAnalyzeNarrative(t *testing.T) {
	t.Run("Included", func(t *testing.T) {
		server := createTestServer(t, Deps{Narrator: stubNarrator{summary: "Mostly low risk."}})

		rr := do(t, server, http.MethodPost, "/api/analyze", validBody, nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "Mostly low risk.", resp.AISummary)
	})

	t.Run("FailureOmitted", func(t *testing.T) {
		server := createTestServer(t, Deps{Narrator: stubNarrator{err: errors.New("timeout")}})

		rr := do(t, server, http.MethodPost, "/api/analyze", validBody, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotContains(t, rr.Body.String(), "ai_summary")
	})
}

func TestAssessmentHistory(t *testing.T) {
	server := createTestServer(t, Deps{})
	user := map[string]string{UserIDHeader: "user-42"}

	var ids []string
	for _, body := range []string{
		`{"age": 30, "Cough": "Yes"}`,
		`{"age": 50, "Smoking": "No"}`,
	} {
		rr := do(t, server, http.MethodPost, "/api/analyze", body, user)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		ids = append(ids, resp.ID)
		time.Sleep(5 * time.Millisecond)
	}

	t.Run("GetAssessment", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/assessments/"+ids[0], "", user)
		require.Equal(t, http.StatusOK, rr.Code)

		var a domain.Assessment
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &a))
		assert.Equal(t, ids[0], a.ID)
		assert.Equal(t, "user-42", a.UserID)
		assert.Equal(t, domain.StatusCompleted, a.Status)
		assert.Equal(t, "Young", a.Metadata.AgeBand)
		assert.Equal(t, []string{"Cough"}, a.Metadata.AnswersUsed)
	})

	t.Run("OtherUserCannotRead", func(t *testing.T) {
		for name, headers := range map[string]map[string]string{
			"other user": {UserIDHeader: "mallory"},
			"no user":    nil,
		} {
			t.Run(name, func(t *testing.T) {
				rr := do(t, server, http.MethodGet, "/api/assessments/"+ids[0], "", headers)
				assert.Equal(t, http.StatusNotFound, rr.Code)
				assert.NotContains(t, rr.Body.String(), "user-42")
			})
		}
	})

	t.Run("AnonymousReadableByID", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze", `{"age": 40, "Cough": "No"}`, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp AnalyzeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

		rr = do(t, server, http.MethodGet, "/api/assessments/"+resp.ID, "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/assessments/does-not-exist", "", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "assessment not found", decodeError(t, rr).Error)
	})

	t.Run("ListReportsNewestFirst", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/reports", "", user)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Reports []domain.Assessment `json:"reports"`
			Count   int                 `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, ids[1], resp.Reports[0].ID)
		assert.Equal(t, ids[0], resp.Reports[1].ID)
	})

	t.Run("ListReportsLimit", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/reports?limit=1", "", user)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"count":1`)

		rr = do(t, server, http.MethodGet, "/api/reports?limit=zero", "", user)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("OtherUserEmpty", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/reports", "", map[string]string{UserIDHeader: "someone-else"})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"reports":[]`)
	})

	t.Run("ListReportsRequiresUser", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/reports", "", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAnalyzeAsync(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	server := createTestServer(t, Deps{Bus: eventBus})
	h := server.Handler()

	w := worker.NewWorker(eventBus, h.repo, h.assessor, nil)
	require.NoError(t, w.Start(worker.Config{WorkerCount: 2}))
	defer w.Stop()

	t.Run("AcceptedThenCompleted", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze/async", validBody, nil)
		require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

		var resp map[string]string
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "accepted", resp["status"])
		id := resp["id"]
		require.NotEmpty(t, id)

		assert.Eventually(t, func() bool {
			rr := do(t, server, http.MethodGet, "/api/assessments/"+id, "", nil)
			if rr.Code != http.StatusOK {
				return false
			}
			var a domain.Assessment
			if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
				return false
			}
			return a.Status == domain.StatusCompleted && len(a.Report) == len(domain.Catalog())
		}, 5*time.Second, 20*time.Millisecond)
	})

	t.Run("ValidatedBeforeQueueing", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/api/analyze/async", `{"age": 20}`, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, msgNoAnswers, decodeError(t, rr).Error)
	})

	t.Run("NoBus", func(t *testing.T) {
		s := createTestServer(t, Deps{})
		rr := do(t, s, http.MethodPost, "/api/analyze/async", validBody, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

func TestMetadataEndpoints(t *testing.T) {
	server := createTestServer(t, Deps{Cache: cache.Wrap(cache.NewLRUCache(10, time.Minute))})

	t.Run("Questions", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/questions", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Questions map[string][]string `json:"questions"`
			Order     []string            `json:"order"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, []string{"High", "Low", "Normal"}, resp.Questions["BloodPressure"])
		assert.Len(t, resp.Order, len(domain.FeatureNames(domain.Catalog())))
	})

	t.Run("Models", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/api/models", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp struct {
			Models []registry.ModelInfo `json:"models"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Models, len(domain.Catalog()))
		assert.Equal(t, "Diabetes", resp.Models[0].Disease)
	})

	t.Run("Health", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp["status"])
		assert.Equal(t, "test-v1", resp["version"])
	})

	t.Run("Ready", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", "", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", decodeError(t, rr).Error)
}

func TestParseAge(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{`35`, 35, true},
		{`35.0`, 35, true},
		{`"42"`, 42, true},
		{`-3`, -3, true},
		{`35.5`, 0, false},
		{`"4.5"`, 0, false},
		{`[]`, 0, false},
		{`1e12`, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, ok := parseAge(json.RawMessage(tc.raw))
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
