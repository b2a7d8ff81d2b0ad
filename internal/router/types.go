package router

import (
	"github.com/ragmind/backend/internal/storage/models"
)

// RoutingDecision is produced once per loop iteration and never mutated.
type RoutingDecision struct {
	Intent             models.Intent     `json:"intent"`
	Strategy           models.Strategy   `json:"strategy"`
	NeedsRetrieval     bool              `json:"needsRetrieval"`
	Parallelizable     bool              `json:"parallelizable"`
	Confidence         float64           `json:"confidence"`
	Reasoning          string            `json:"reasoning"`
	SubQueries         []string          `json:"subQueries,omitempty"`
	FallbackStrategies []models.Strategy `json:"fallbackStrategies,omitempty"`
}

// QueryAnalysis describes the shape of a query. Routing falls back to
// ModerateDefaults when the model cannot produce one.
type QueryAnalysis struct {
	Complexity       string `json:"complexity"`  // simple, moderate, complex
	Specificity      string `json:"specificity"` // vague, specific, precise
	Temporality      string `json:"temporality"` // timeless, recent, historical
	Scope            string `json:"scope"`       // narrow, broad
	RequiresMultiHop bool   `json:"requiresMultiHop"`
}

func ModerateDefaults() QueryAnalysis {
	return QueryAnalysis{
		Complexity:       "moderate",
		Specificity:      "specific",
		Temporality:      "timeless",
		Scope:            "narrow",
		RequiresMultiHop: false,
	}
}

// ClarificationCheck reports whether the query is too ambiguous to
// retrieve against and, if so, what to ask the user.
type ClarificationCheck struct {
	NeedsClarification    bool   `json:"needsClarification"`
	ClarificationQuestion string `json:"clarificationQuestion,omitempty"`
}

// RetrievalQuality is the cheap deterministic gate run after retrieval.
type RetrievalQuality struct {
	Quality       float64 `json:"quality"`
	Coverage      float64 `json:"coverage"`
	NeedsFallback bool    `json:"needsFallback"`
}

// StrategyAdvisor supplies a historically informed strategy preference.
// The reported bool is true only when the advice is backed by enough
// recorded outcomes to trust over the static rule table.
type StrategyAdvisor interface {
	RecommendStrategy(query string, intent models.Intent, docCount int) (models.Strategy, bool)
}
