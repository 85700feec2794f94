package domain

import "time"

// Attribution directions.
const (
	DirectionIncreased = "increased"
	DirectionReduced   = "reduced"
)

// Risk bands, lowest first.
const (
	Band0to20   = "0-20"
	Band21to40  = "21-40"
	Band41to60  = "41-60"
	Band61to80  = "61-80"
	Band81to100 = "81-100"
)

// FallbackRecommendation is returned when the recommendation table has no entry.
const FallbackRecommendation = "Please consult with a healthcare professional."

// Assessment statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RiskFactor explains how much one answered feature moved a disease estimate
// away from the age-only baseline.
type RiskFactor struct {
	Factor    string  `json:"factor"`
	Direction string  `json:"direction"`
	Delta     float64 `json:"delta"`
}

// RiskAssessment is the screening result for a single disease.
type RiskAssessment struct {
	Disease        string       `json:"disease"`
	Risk           float64      `json:"risk"`
	RiskBand       string       `json:"risk_band"`
	Recommendation string       `json:"recommendation"`
	RiskFactors    []RiskFactor `json:"risk_factors"`
}

// Assessment is a scored request as stored and returned by the API.
type Assessment struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId,omitempty"`
	Status    string             `json:"status"`
	Age       int                `json:"age"`
	Answers   map[string]string  `json:"answers"`
	Report    []RiskAssessment   `json:"report"`
	Summary   string             `json:"ai_summary,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	Metadata  AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata contains processing information.
type AssessmentMetadata struct {
	TraceID        string   `json:"traceId,omitempty"`
	AgeBand        string   `json:"ageBand"`
	AnswersUsed    []string `json:"answersUsed"`
	AnswersIgnored []string `json:"answersIgnored,omitempty"`
	DiseasesScored int      `json:"diseasesScored"`
	Queries        int      `json:"queries"`
	TotalMs        int64    `json:"totalMs"`
	EngineVersion  string   `json:"engineVersion"`
	Cached         bool     `json:"cached,omitempty"`
}

// AssessmentRequest is the payload published for asynchronous scoring.
type AssessmentRequest struct {
	ID      string            `json:"id"`
	UserID  string            `json:"userId,omitempty"`
	TraceID string            `json:"traceId,omitempty"`
	Age     int               `json:"age"`
	Answers map[string]string `json:"answers"`
}
