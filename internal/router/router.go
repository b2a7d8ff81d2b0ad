package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/utils"
)

const routingCacheTTL = 30 * time.Second

type cachedDecision struct {
	decision RoutingDecision
	expires  time.Time
}

// Router classifies queries and selects retrieval strategies. Model
// failures never propagate: every model-backed step carries a
// deterministic fallback so routing always produces a decision.
type Router struct {
	llm     llm.Completer
	advisor StrategyAdvisor
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedDecision
}

func NewRouter(completer llm.Completer, advisor StrategyAdvisor, log *zap.Logger) *Router {
	return &Router{
		llm:     completer,
		advisor: advisor,
		logger:  log,
		cache:   make(map[string]cachedDecision),
	}
}

func (r *Router) ClassifyIntent(ctx context.Context, query string) models.Intent {
	systemPrompt := `You classify user queries for a document question-answering system.
Categories:
- factual: asks for a specific fact or definition
- analytical: asks for explanation, reasoning or analysis
- comparative: asks to compare two or more things
- procedural: asks how to do something, step by step
- clarification: follows up on a previous answer
- chitchat: greeting or social small talk, no information need
- out_of_scope: unrelated to any document corpus

Respond with JSON: {"intent": "<category>"}`

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Classify this query: %s", query),
		Temperature:  0.0,
		MaxTokens:    50,
		JSONMode:     true,
	})
	if err != nil {
		r.logger.Warn("intent classification failed, defaulting to factual", zap.Error(err))
		return models.IntentFactual
	}

	parsed, err := llm.DecodeJSON[struct {
		Intent string `json:"intent"`
	}](resp.Content)
	if err != nil {
		r.logger.Warn("intent response not parseable, defaulting to factual", zap.Error(err))
		return models.IntentFactual
	}

	intent, _ := models.ParseIntent(strings.ToLower(strings.TrimSpace(parsed.Intent)))
	return intent
}

func (r *Router) AnalyzeQuery(ctx context.Context, query string) QueryAnalysis {
	systemPrompt := `You analyze the shape of a search query.
Respond with JSON:
{
  "complexity": "simple" | "moderate" | "complex",
  "specificity": "vague" | "specific" | "precise",
  "temporality": "timeless" | "recent" | "historical",
  "scope": "narrow" | "broad",
  "requiresMultiHop": true | false
}`

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Analyze this query: %s", query),
		Temperature:  0.0,
		MaxTokens:    150,
		JSONMode:     true,
	})
	if err != nil {
		r.logger.Debug("query analysis failed, using defaults", zap.Error(err))
		return ModerateDefaults()
	}

	analysis, err := llm.DecodeJSON[QueryAnalysis](resp.Content)
	if err != nil {
		r.logger.Debug("query analysis not parseable, using defaults", zap.Error(err))
		return ModerateDefaults()
	}

	if analysis.Complexity == "" || analysis.Specificity == "" || analysis.Scope == "" {
		return ModerateDefaults()
	}
	return analysis
}

// Route produces the routing decision for one loop iteration. Chitchat
// and out-of-scope queries short-circuit to direct_answer and never hit
// the retrieval machinery.
func (r *Router) Route(ctx context.Context, query, corpusName string, docCount int, history []string) RoutingDecision {
	cacheKey := utils.HashString(fmt.Sprintf("%s|%s|%d", query, corpusName, docCount))
	if decision, ok := r.cachedRoute(cacheKey); ok {
		return decision
	}

	intent := r.ClassifyIntent(ctx, query)

	switch intent {
	case models.IntentChitchat:
		decision := RoutingDecision{
			Intent:         intent,
			Strategy:       models.StrategyDirectAnswer,
			NeedsRetrieval: false,
			Confidence:     0.95,
			Reasoning:      "social query, no retrieval needed",
		}
		r.storeRoute(cacheKey, decision)
		return decision
	case models.IntentOutOfScope:
		decision := RoutingDecision{
			Intent:         intent,
			Strategy:       models.StrategyDirectAnswer,
			NeedsRetrieval: false,
			Confidence:     0.8,
			Reasoning:      "query outside corpus scope",
		}
		r.storeRoute(cacheKey, decision)
		return decision
	}

	analysis := r.AnalyzeQuery(ctx, query)
	decision := r.chooseStrategy(ctx, query, intent, analysis, corpusName, docCount, history)

	if decision.Strategy == models.StrategyMultiQuery && len(decision.SubQueries) == 0 {
		decision.SubQueries = r.GenerateSubQueries(ctx, query)
	}

	r.storeRoute(cacheKey, decision)
	return decision
}

func (r *Router) chooseStrategy(ctx context.Context, query string, intent models.Intent, analysis QueryAnalysis, corpusName string, docCount int, history []string) RoutingDecision {
	systemPrompt := `You select a retrieval strategy for a document question-answering system.
Strategies:
- semantic: embedding similarity search, best for conceptual questions
- keyword: lexical term matching, best for precise names and identifiers
- hybrid: combines semantic and keyword, the safe default
- multi_query: decomposes complex multi-part questions into sub-queries
- rag_fusion: generates query variations and fuses rankings, best for broad exploratory questions

Respond with JSON:
{"strategy": "<name>", "confidence": 0.0-1.0, "parallelizable": true|false, "reasoning": "<short>"}`

	contextLine := ""
	if len(history) > 0 {
		contextLine = fmt.Sprintf("\nRecent conversation:\n%s", strings.Join(history, "\n"))
	}

	userPrompt := fmt.Sprintf(
		"Query: %s\nIntent: %s\nComplexity: %s, specificity: %s, scope: %s, multi-hop: %v\nCorpus: %s (%d documents)%s",
		query, intent, analysis.Complexity, analysis.Specificity, analysis.Scope,
		analysis.RequiresMultiHop, corpusName, docCount, contextLine,
	)

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    200,
		JSONMode:     true,
	})
	if err == nil {
		parsed, decodeErr := llm.DecodeJSON[struct {
			Strategy       string  `json:"strategy"`
			Confidence     float64 `json:"confidence"`
			Parallelizable bool    `json:"parallelizable"`
			Reasoning      string  `json:"reasoning"`
		}](resp.Content)
		if decodeErr == nil {
			if strategy, ok := models.ParseStrategy(strings.ToLower(strings.TrimSpace(parsed.Strategy))); ok && strategy != models.StrategyDirectAnswer {
				return RoutingDecision{
					Intent:             intent,
					Strategy:           strategy,
					NeedsRetrieval:     true,
					Parallelizable:     parsed.Parallelizable,
					Confidence:         clamp01(parsed.Confidence),
					Reasoning:          parsed.Reasoning,
					FallbackStrategies: fallbacksFor(strategy),
				}
			}
		}
		r.logger.Debug("strategy response not usable, falling back to rules", zap.Error(decodeErr))
	} else {
		r.logger.Warn("strategy selection failed, falling back to rules", zap.Error(err))
	}

	return r.ruleBasedStrategy(query, intent, analysis, docCount)
}

// ruleBasedStrategy is the deterministic fallback used when the model
// cannot choose. Historical advice, when available, outranks the static
// rule table.
func (r *Router) ruleBasedStrategy(query string, intent models.Intent, analysis QueryAnalysis, docCount int) RoutingDecision {
	if r.advisor != nil {
		if strategy, historical := r.advisor.RecommendStrategy(query, intent, docCount); historical {
			return RoutingDecision{
				Intent:             intent,
				Strategy:           strategy,
				NeedsRetrieval:     true,
				Confidence:         0.6,
				Reasoning:          "selected from recorded strategy performance",
				FallbackStrategies: fallbacksFor(strategy),
			}
		}
	}

	var strategy models.Strategy
	var reasoning string
	switch {
	case analysis.Complexity == "complex" || analysis.RequiresMultiHop:
		strategy = models.StrategyMultiQuery
		reasoning = "complex multi-part query"
	case analysis.Specificity == "precise":
		strategy = models.StrategyKeyword
		reasoning = "precise terms favor lexical match"
	default:
		strategy = models.StrategyHybrid
		reasoning = "default combined retrieval"
	}

	return RoutingDecision{
		Intent:             intent,
		Strategy:           strategy,
		NeedsRetrieval:     true,
		Confidence:         0.5,
		Reasoning:          reasoning,
		FallbackStrategies: fallbacksFor(strategy),
	}
}

func fallbacksFor(strategy models.Strategy) []models.Strategy {
	switch strategy {
	case models.StrategySemantic:
		return []models.Strategy{models.StrategyHybrid, models.StrategyKeyword}
	case models.StrategyKeyword:
		return []models.Strategy{models.StrategyHybrid, models.StrategySemantic}
	case models.StrategyMultiQuery:
		return []models.Strategy{models.StrategyRAGFusion, models.StrategyHybrid}
	case models.StrategyRAGFusion:
		return []models.Strategy{models.StrategyMultiQuery, models.StrategyHybrid}
	default:
		return []models.Strategy{models.StrategySemantic, models.StrategyKeyword}
	}
}

// ShouldClarify fires only for queries that are both vague and broad.
// Any failure yields a negative check so the pipeline never blocks here.
func (r *Router) ShouldClarify(ctx context.Context, query string, docCount int) ClarificationCheck {
	analysis := r.AnalyzeQuery(ctx, query)
	if analysis.Specificity != "vague" || analysis.Scope != "broad" {
		return ClarificationCheck{NeedsClarification: false}
	}

	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You write one short clarification question for an ambiguous search query. Respond with only the question.",
		UserPrompt:   fmt.Sprintf("The query %q is too vague to search %d documents. What should we ask the user?", query, docCount),
		Temperature:  0.3,
		MaxTokens:    100,
	})
	if err != nil {
		r.logger.Debug("clarification generation failed", zap.Error(err))
		return ClarificationCheck{NeedsClarification: false}
	}

	question := strings.TrimSpace(resp.Content)
	if question == "" {
		return ClarificationCheck{NeedsClarification: false}
	}
	return ClarificationCheck{NeedsClarification: true, ClarificationQuestion: question}
}

// GenerateSubQueries decomposes a query; degrades to the original query
// alone on any failure.
func (r *Router) GenerateSubQueries(ctx context.Context, query string) []string {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: `You decompose a complex question into 2-4 independent sub-questions.
Respond with JSON: {"subQueries": ["...", "..."]}`,
		UserPrompt:  fmt.Sprintf("Decompose: %s", query),
		Temperature: 0.2,
		MaxTokens:   300,
		JSONMode:    true,
	})
	if err != nil {
		return []string{query}
	}

	parsed, err := llm.DecodeJSON[struct {
		SubQueries []string `json:"subQueries"`
	}](resp.Content)
	if err != nil || len(parsed.SubQueries) == 0 {
		return []string{query}
	}
	return parsed.SubQueries
}

// ExpandQuery produces paraphrased variations for fusion retrieval;
// degrades to the original query alone on any failure.
func (r *Router) ExpandQuery(ctx context.Context, query string) []string {
	resp, err := r.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: `You rewrite a search query into 3 diverse paraphrases that preserve its meaning.
Respond with JSON: {"variations": ["...", "...", "..."]}`,
		UserPrompt:  fmt.Sprintf("Rewrite: %s", query),
		Temperature: 0.5,
		MaxTokens:   300,
		JSONMode:    true,
	})
	if err != nil {
		return []string{query}
	}

	parsed, err := llm.DecodeJSON[struct {
		Variations []string `json:"variations"`
	}](resp.Content)
	if err != nil || len(parsed.Variations) == 0 {
		return []string{query}
	}
	return parsed.Variations
}

func (r *Router) cachedRoute(key string) (RoutingDecision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expires) {
		delete(r.cache, key)
		return RoutingDecision{}, false
	}
	return entry.decision, true
}

func (r *Router) storeRoute(key string, decision RoutingDecision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cachedDecision{decision: decision, expires: time.Now().Add(routingCacheTTL)}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
