package models

import "time"

// Intent is the coarse purpose category of a user query, used to steer
// retrieval strategy selection.
type Intent string

const (
	IntentFactual       Intent = "factual"
	IntentAnalytical    Intent = "analytical"
	IntentComparative   Intent = "comparative"
	IntentProcedural    Intent = "procedural"
	IntentClarification Intent = "clarification"
	IntentChitchat      Intent = "chitchat"
	IntentOutOfScope    Intent = "out_of_scope"
)

func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentFactual, IntentAnalytical, IntentComparative, IntentProcedural,
		IntentClarification, IntentChitchat, IntentOutOfScope:
		return Intent(s), true
	}
	return IntentFactual, false
}

// Strategy names a retrieval algorithm.
type Strategy string

const (
	StrategySemantic     Strategy = "semantic"
	StrategyKeyword      Strategy = "keyword"
	StrategyHybrid       Strategy = "hybrid"
	StrategyMultiQuery   Strategy = "multi_query"
	StrategyRAGFusion    Strategy = "rag_fusion"
	StrategyDirectAnswer Strategy = "direct_answer"
)

func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategySemantic, StrategyKeyword, StrategyHybrid,
		StrategyMultiQuery, StrategyRAGFusion, StrategyDirectAnswer:
		return Strategy(s), true
	}
	return StrategyHybrid, false
}

// RetrievalStrategies are the strategies the router may choose among when
// retrieval is needed; direct_answer is excluded by construction.
var RetrievalStrategies = []Strategy{
	StrategySemantic, StrategyKeyword, StrategyHybrid, StrategyMultiQuery, StrategyRAGFusion,
}

// ChunkStrategy selects how a document is split into chunks.
type ChunkStrategy string

const (
	ChunkFixed     ChunkStrategy = "fixed"
	ChunkSentence  ChunkStrategy = "sentence"
	ChunkParagraph ChunkStrategy = "paragraph"
	ChunkSemantic  ChunkStrategy = "semantic"
)

type Document struct {
	ID              string
	Title           string
	Content         string
	SourceType      string
	SourceURL       string
	KnowledgeBaseID string
	ChunkStrategy   ChunkStrategy
	Metadata        map[string]string
	AddedAt         time.Time
}

type DocumentChunk struct {
	ID              string
	DocumentID      string
	KnowledgeBaseID string
	ChunkIndex      int
	Text            string
	StartIndex      int
	EndIndex        int
	Tokens          int
	Embedding       []float32
	Strategy        ChunkStrategy
	CreatedAt       time.Time
}

// QueryPerformanceRecord is one immutable entry per completed query.
type QueryPerformanceRecord struct {
	ID               string
	Query            string
	Intent           Intent
	Strategy         Strategy
	Confidence       float64
	Iterations       int
	RetrievalTimeMS  int
	TotalTimeMS      int
	NeedsImprovement bool
	UserFeedback     string // "positive", "negative" or empty
	Timestamp        time.Time
}

// StrategyPerformanceMetric holds running aggregates for one
// (intent, strategy) pair. Averages are updated incrementally, never
// recomputed from the full history.
type StrategyPerformanceMetric struct {
	Intent               Intent
	Strategy             Strategy
	TotalQueries         int
	SuccessfulQueries    int
	AverageConfidence    float64
	AverageRetrievalTime float64
	AverageIterations    float64
	SuccessRate          float64
	ImprovementTrend     float64
	LastUsed             time.Time
}

// Key returns the persistence key for the metric.
func (m StrategyPerformanceMetric) Key() string {
	return string(m.Intent) + "-" + string(m.Strategy)
}

type LearningInsight struct {
	Type        string
	Description string
	Suggestion  string
	CreatedAt   time.Time
}

type Feedback struct {
	ID        int
	QueryID   string
	Helpful   bool
	Comment   string
	CreatedAt time.Time
}
