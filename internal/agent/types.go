package agent

import (
	"errors"

	"github.com/ragmind/backend/internal/evaluation"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/router"
	"github.com/ragmind/backend/internal/storage/models"
)

// ErrStructural signals that the control loop exited without producing
// routing, retrieval or evaluation. It indicates an implementation
// defect, not a recoverable runtime condition.
var ErrStructural = errors.New("agent loop exited without a complete pipeline state")

// State names one node of the control loop.
type State string

const (
	StateRoute        State = "ROUTE"
	StateDirectAnswer State = "DIRECT_ANSWER"
	StateClarify      State = "CLARIFY"
	StateRetrieve     State = "RETRIEVE"
	StateGenerate     State = "GENERATE"
	StateEvaluate     State = "EVALUATE"
	StateAccept       State = "ACCEPT"
	StateReformulate  State = "REFORMULATE"
	StateExhausted    State = "EXHAUSTED"
)

// TraceStep is one entry of the immutable loop trace kept for
// observability and tests.
type TraceStep struct {
	Iteration  int             `json:"iteration"`
	State      State           `json:"state"`
	Query      string          `json:"query"`
	Strategy   models.Strategy `json:"strategy,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Detail     string          `json:"detail,omitempty"`
	DurationMS int64           `json:"durationMs"`
}

// ResponseMetadata summarizes one completed query.
type ResponseMetadata struct {
	TotalTimeMS      int64           `json:"totalTimeMs"`
	RetrievalTimeMS  int64           `json:"retrievalTimeMs"`
	RetrievalMethod  models.Strategy `json:"retrievalMethod"`
	Confidence       float64         `json:"confidence"`
	NeedsImprovement bool            `json:"needsImprovement"`
}

// AgenticResponse is the aggregate returned by Query. It is created
// once per call and never mutated after return.
type AgenticResponse struct {
	QueryID    string                     `json:"queryId"`
	Query      string                     `json:"query"`
	Answer     string                     `json:"answer"`
	Iterations int                        `json:"iterations"`
	Routing    *router.RoutingDecision    `json:"routing"`
	Retrieval  *retrieval.RetrievalResult `json:"retrieval"`
	Evaluation *evaluation.SelfEvaluation `json:"evaluation"`
	Criticism  *evaluation.CriticFeedback `json:"criticism,omitempty"`
	Trace      []TraceStep                `json:"trace"`
	Metadata   ResponseMetadata           `json:"metadata"`
}

// ProgressFunc receives loop events as they happen, used to stream
// progress over a websocket. May be nil.
type ProgressFunc func(state State, payload map[string]interface{})
