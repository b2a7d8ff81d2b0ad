package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragmind_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"intent"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status"},
	)

	QueryIterations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragmind_query_iterations",
			Help:    "Agent loop iterations per query",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
	)

	StrategyUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_strategy_used_total",
			Help: "Retrieval strategy usage",
		},
		[]string{"strategy", "backend"},
	)

	RetrievalFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_retrieval_fallbacks_total",
			Help: "Retrieval fallback chain activations",
		},
		[]string{"strategy"},
	)

	ConfidenceScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ragmind_confidence_score",
			Help:    "Response confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	UserSatisfaction = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ragmind_satisfaction_score",
			Help: "User feedback satisfaction score",
		},
		[]string{"helpful"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragmind_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragmind_documents_indexed_total",
			Help: "Total documents chunked and indexed",
		},
	)

	ChunksIndexed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragmind_chunks_indexed_total",
			Help: "Total chunks embedded and stored",
		},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(QueryIterations)
	prometheus.MustRegister(StrategyUsed)
	prometheus.MustRegister(RetrievalFallbacks)
	prometheus.MustRegister(ConfidenceScore)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(UserSatisfaction)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIndexed)
	prometheus.MustRegister(ChunksIndexed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
