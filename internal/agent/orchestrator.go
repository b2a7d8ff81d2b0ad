package agent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/evaluation"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/router"
	"github.com/ragmind/backend/internal/storage/models"
)

// DocumentSource supplies the corpus the agent retrieves against.
type DocumentSource interface {
	Documents(ctx context.Context, kbID string) ([]models.Document, error)
}

// QueryRouter is the routing surface the loop drives.
type QueryRouter interface {
	Route(ctx context.Context, query, corpusName string, docCount int, history []string) router.RoutingDecision
	ShouldClarify(ctx context.Context, query string, docCount int) router.ClarificationCheck
	EvaluateRetrievalQuality(documents []models.Document, query string, topK int) router.RetrievalQuality
}

// Retriever executes one retrieval pass.
type Retriever interface {
	ExecuteRetrieval(ctx context.Context, query string, documents []models.Document, strategy models.Strategy, topK int, subQueries []string) (retrieval.RetrievalResult, error)
}

// Evaluator scores generated answers.
type Evaluator interface {
	PerformSelfEvaluation(ctx context.Context, query, answer string, result retrieval.RetrievalResult) evaluation.SelfEvaluation
	CriticResponse(ctx context.Context, query, answer string, documents []models.Document) evaluation.CriticFeedback
	SuggestImprovements(eval evaluation.SelfEvaluation, criticism *evaluation.CriticFeedback) ([]string, bool)
}

// PerformanceRecorder receives one record per completed query.
type PerformanceRecorder interface {
	RecordQueryPerformance(record models.QueryPerformanceRecord)
}

// Config bounds the control loop.
type Config struct {
	MaxIterations       int
	ConfidenceThreshold float64
	EnableCriticism     bool
	EnableAutoRetry     bool
	TopK                int
	HistoryWindow       int
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:       3,
		ConfidenceThreshold: 0.6,
		EnableCriticism:     true,
		EnableAutoRetry:     true,
		TopK:                5,
		HistoryWindow:       5,
	}
}

// QueryOptions overrides the instance defaults for a single query.
// Zero values (nil for the booleans) leave the matching default alone.
type QueryOptions struct {
	MaxIterations       int
	ConfidenceThreshold float64
	EnableCriticism     *bool
	EnableAutoRetry     *bool
	TopK                int
}

func (o *Orchestrator) effectiveConfig(opts *QueryOptions) Config {
	cfg := o.cfg
	if opts == nil {
		return cfg
	}
	if opts.MaxIterations > 0 {
		cfg.MaxIterations = opts.MaxIterations
	}
	if opts.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = opts.ConfidenceThreshold
	}
	if opts.EnableCriticism != nil {
		cfg.EnableCriticism = *opts.EnableCriticism
	}
	if opts.EnableAutoRetry != nil {
		cfg.EnableAutoRetry = *opts.EnableAutoRetry
	}
	if opts.TopK > 0 {
		cfg.TopK = opts.TopK
	}
	return cfg
}

type exchange struct {
	query  string
	answer string
}

// Orchestrator drives the route, retrieve, generate, evaluate loop and
// assembles the final response. One instance owns one conversation
// window; it is not shared across concurrent conversations.
type Orchestrator struct {
	router    QueryRouter
	executor  Retriever
	evaluator Evaluator
	generator Generator
	docs      DocumentSource
	tracker   PerformanceRecorder
	cfg       Config
	logger    *zap.Logger

	mu      sync.Mutex
	history []exchange
}

func NewOrchestrator(r QueryRouter, e Retriever, ev Evaluator, gen Generator, docs DocumentSource, cfg Config, log *zap.Logger) *Orchestrator {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.6
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	return &Orchestrator{
		router:    r,
		executor:  e,
		evaluator: ev,
		generator: gen,
		docs:      docs,
		cfg:       cfg,
		logger:    log,
	}
}

// SetTracker wires the learning subsystem. Optional.
func (o *Orchestrator) SetTracker(t PerformanceRecorder) {
	o.tracker = t
}

// Query runs the full agentic loop for one user query.
func (o *Orchestrator) Query(ctx context.Context, text, kbID string) (*AgenticResponse, error) {
	return o.QueryWithOptions(ctx, text, kbID, nil, nil)
}

func (o *Orchestrator) QueryWithProgress(ctx context.Context, text, kbID string, progress ProgressFunc) (*AgenticResponse, error) {
	return o.QueryWithOptions(ctx, text, kbID, nil, progress)
}

func (o *Orchestrator) QueryWithOptions(ctx context.Context, text, kbID string, opts *QueryOptions, progress ProgressFunc) (*AgenticResponse, error) {
	start := time.Now()
	cfg := o.effectiveConfig(opts)

	documents, err := o.docs.Documents(ctx, kbID)
	if err != nil {
		o.logger.Warn("document source failed, proceeding with empty corpus", zap.Error(err))
		documents = nil
	}

	var (
		routing       *router.RoutingDecision
		retrievalRes  *retrieval.RetrievalResult
		evalRes       *evaluation.SelfEvaluation
		criticism     *evaluation.CriticFeedback
		answer        string
		trace         []TraceStep
		retrievalMS   int64
		terminal      State
		currentQuery  = text
		originalQuery = text
	)

	emit := func(state State, payload map[string]interface{}) {
		if progress != nil {
			progress(state, payload)
		}
	}
	record := func(iteration int, state State, query string, strategy models.Strategy, confidence float64, detail string, began time.Time) {
		trace = append(trace, TraceStep{
			Iteration:  iteration,
			State:      state,
			Query:      query,
			Strategy:   strategy,
			Confidence: confidence,
			Detail:     detail,
			DurationMS: time.Since(began).Milliseconds(),
		})
	}

	iterations := 0
	for iterations < cfg.MaxIterations {
		iterations++

		routeStart := time.Now()
		emit(StateRoute, map[string]interface{}{"iteration": iterations, "query": currentQuery})
		decision := o.router.Route(ctx, currentQuery, kbID, len(documents), o.historyLines())
		routing = &decision
		record(iterations, StateRoute, currentQuery, decision.Strategy, decision.Confidence, decision.Reasoning, routeStart)

		if !decision.NeedsRetrieval {
			genStart := time.Now()
			emit(StateDirectAnswer, map[string]interface{}{"intent": string(decision.Intent)})
			answer = o.generator.DirectAnswer(ctx, currentQuery, decision.Intent, o.historyLines())
			record(iterations, StateDirectAnswer, currentQuery, decision.Strategy, 0.9, "", genStart)

			retrievalRes = emptyRetrieval(currentQuery)
			evalRes = &evaluation.SelfEvaluation{
				Confidence: 0.9,
				Reasoning:  "direct answer, no evidence to evaluate against",
			}
			terminal = StateAccept
			break
		}

		if iterations == 1 {
			clarStart := time.Now()
			check := o.router.ShouldClarify(ctx, currentQuery, len(documents))
			if check.NeedsClarification {
				emit(StateClarify, map[string]interface{}{"question": check.ClarificationQuestion})
				answer = check.ClarificationQuestion
				record(iterations, StateClarify, currentQuery, decision.Strategy, 0.4, "", clarStart)

				retrievalRes = emptyRetrieval(currentQuery)
				evalRes = &evaluation.SelfEvaluation{
					Confidence: 0.4,
					Reasoning:  "asked user for clarification before retrieving",
				}
				terminal = StateClarify
				break
			}
		}

		retrStart := time.Now()
		emit(StateRetrieve, map[string]interface{}{"strategy": string(decision.Strategy)})
		result, err := o.executor.ExecuteRetrieval(ctx, currentQuery, documents, decision.Strategy, cfg.TopK, decision.SubQueries)
		if err != nil {
			o.logger.Error("retrieval dispatch failed", zap.Error(err))
			result = *emptyRetrieval(currentQuery)
			result.Metadata.FallbackReason = err.Error()
		}

		quality := o.router.EvaluateRetrievalQuality(result.Documents, currentQuery, cfg.TopK)
		if quality.NeedsFallback && len(decision.FallbackStrategies) > 0 {
			fallback := decision.FallbackStrategies[0]
			o.logger.Info("retrieval quality gate triggered fallback",
				zap.Float64("quality", quality.Quality),
				zap.Float64("coverage", quality.Coverage),
				zap.String("fallback", string(fallback)),
			)
			if retry, retryErr := o.executor.ExecuteRetrieval(ctx, currentQuery, documents, fallback, cfg.TopK, nil); retryErr == nil {
				retry.Metadata.FallbackReason = joinReason(result.Metadata.FallbackReason, "quality gate fallback from "+string(decision.Strategy))
				result = retry
			}
		}
		retrievalRes = &result
		retrievalMS += time.Since(retrStart).Milliseconds()
		record(iterations, StateRetrieve, currentQuery, result.Method, 0, result.Metadata.FallbackReason, retrStart)

		genStart := time.Now()
		emit(StateGenerate, map[string]interface{}{"documents": len(result.Documents)})
		answer = o.generator.Answer(ctx, currentQuery, result, o.historyLines())
		record(iterations, StateGenerate, currentQuery, result.Method, 0, "", genStart)

		evalStart := time.Now()
		emit(StateEvaluate, nil)
		ev := o.evaluator.PerformSelfEvaluation(ctx, currentQuery, answer, result)
		if cfg.EnableCriticism {
			crit := o.evaluator.CriticResponse(ctx, currentQuery, answer, result.Documents)
			criticism = &crit
			ev.Suggestions, ev.NeedsRetry = o.evaluator.SuggestImprovements(ev, criticism)
		}
		evalRes = &ev
		record(iterations, StateEvaluate, currentQuery, result.Method, ev.Confidence, ev.Reasoning, evalStart)

		if ev.Confidence >= cfg.ConfidenceThreshold || !cfg.EnableAutoRetry || !ev.NeedsRetry {
			terminal = StateAccept
			break
		}
		if iterations >= cfg.MaxIterations {
			terminal = StateExhausted
			break
		}

		refStart := time.Now()
		emit(StateReformulate, map[string]interface{}{"iteration": iterations})
		currentQuery = o.generator.Reformulate(ctx, originalQuery, ev)
		record(iterations, StateReformulate, currentQuery, result.Method, 0, "", refStart)
	}

	if terminal == "" {
		terminal = StateExhausted
	}
	if routing == nil || retrievalRes == nil || evalRes == nil {
		return nil, ErrStructural
	}

	response := &AgenticResponse{
		QueryID:    uuid.New().String(),
		Query:      text,
		Answer:     answer,
		Iterations: iterations,
		Routing:    routing,
		Retrieval:  retrievalRes,
		Evaluation: evalRes,
		Criticism:  criticism,
		Trace:      trace,
		Metadata: ResponseMetadata{
			TotalTimeMS:      time.Since(start).Milliseconds(),
			RetrievalTimeMS:  retrievalMS,
			RetrievalMethod:  retrievalRes.Method,
			Confidence:       evalRes.Confidence,
			NeedsImprovement: terminal == StateExhausted || evalRes.NeedsRetry,
		},
	}

	o.appendHistory(text, answer)
	emit(terminal, map[string]interface{}{"confidence": evalRes.Confidence, "iterations": iterations})

	if o.tracker != nil {
		o.tracker.RecordQueryPerformance(models.QueryPerformanceRecord{
			ID:               response.QueryID,
			Query:            text,
			Intent:           routing.Intent,
			Strategy:         retrievalRes.Method,
			Confidence:       evalRes.Confidence,
			Iterations:       iterations,
			RetrievalTimeMS:  int(retrievalMS),
			TotalTimeMS:      int(response.Metadata.TotalTimeMS),
			NeedsImprovement: response.Metadata.NeedsImprovement,
			Timestamp:        time.Now(),
		})
	}

	o.logger.Info("query completed",
		zap.String("query_id", response.QueryID),
		zap.String("intent", string(routing.Intent)),
		zap.String("strategy", string(retrievalRes.Method)),
		zap.Int("iterations", iterations),
		zap.Float64("confidence", evalRes.Confidence),
		zap.String("terminal", string(terminal)),
	)
	return response, nil
}

func (o *Orchestrator) historyLines() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	lines := make([]string, 0, len(o.history)*2)
	for _, ex := range o.history {
		lines = append(lines, "user: "+ex.query, "assistant: "+ex.answer)
	}
	return lines
}

func (o *Orchestrator) appendHistory(query, answer string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.history = append(o.history, exchange{query: query, answer: answer})
	if len(o.history) > o.cfg.HistoryWindow {
		o.history = o.history[len(o.history)-o.cfg.HistoryWindow:]
	}
}

func emptyRetrieval(query string) *retrieval.RetrievalResult {
	return &retrieval.RetrievalResult{
		Documents: []models.Document{},
		Scores:    []float64{},
		Method:    models.StrategyDirectAnswer,
		QueryUsed: query,
		Metadata:  retrieval.Metadata{Backend: "local"},
	}
}

func joinReason(existing, added string) string {
	if existing == "" {
		return added
	}
	if added == "" {
		return existing
	}
	return existing + "; " + added
}
