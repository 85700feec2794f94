package domain

import "context"

// RecommendationProvider looks up advice text for a disease and risk band.
type RecommendationProvider interface {
	// Recommendation returns the advice text and whether an entry exists.
	Recommendation(disease, band string) (string, bool)
}

// Narrator turns a computed report into free-text narrative.
// Implementations may fail independently; callers omit the narrative on error.
type Narrator interface {
	Summarize(ctx context.Context, req *NarrativeRequest) (string, error)
}

// NarrativeRequest is the payload handed to a Narrator.
type NarrativeRequest struct {
	Age     int               `json:"age"`
	Answers map[string]string `json:"answers"`
	Report  []RiskAssessment  `json:"report"`
}
