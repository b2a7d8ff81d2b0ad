package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/agent"
	"github.com/ragmind/backend/internal/learning"
	"github.com/ragmind/backend/internal/metrics"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/storage/sqlite"
	"github.com/ragmind/backend/pkg/logger"
	"github.com/ragmind/backend/pkg/utils"
)

// responseCacheTTL bounds how long a full agentic response is served
// without re-running the loop. Document mutations invalidate earlier.
const responseCacheTTL = 5 * time.Minute

// QueryAgent is the loop surface the handler drives.
type QueryAgent interface {
	QueryWithOptions(ctx context.Context, text, kbID string, opts *agent.QueryOptions, progress agent.ProgressFunc) (*agent.AgenticResponse, error)
}

// ResponseCache stores full query responses keyed by query hash.
type ResponseCache interface {
	GetQuery(ctx context.Context, queryHash string, response interface{}) (bool, error)
	SetQuery(ctx context.Context, queryHash string, response interface{}, ttl time.Duration) error
}

type QueryHandler struct {
	orchestrator QueryAgent
	tracker      *learning.Tracker
	db           *sqlite.Client
	cache        ResponseCache
}

func NewQueryHandler(orchestrator QueryAgent, tracker *learning.Tracker, db *sqlite.Client) *QueryHandler {
	return &QueryHandler{
		orchestrator: orchestrator,
		tracker:      tracker,
		db:           db,
	}
}

// SetResponseCache wires the query-response cache. Optional.
func (h *QueryHandler) SetResponseCache(cache ResponseCache) {
	h.cache = cache
}

type queryConfigOverrides struct {
	MaxIterations       int     `json:"max_iterations"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	EnableCriticism     *bool   `json:"enable_criticism"`
	EnableAutoRetry     *bool   `json:"enable_auto_retry"`
	TopK                int     `json:"top_k"`
}

func (o *queryConfigOverrides) options() *agent.QueryOptions {
	if o == nil {
		return nil
	}
	return &agent.QueryOptions{
		MaxIterations:       o.MaxIterations,
		ConfidenceThreshold: o.ConfidenceThreshold,
		EnableCriticism:     o.EnableCriticism,
		EnableAutoRetry:     o.EnableAutoRetry,
		TopK:                o.TopK,
	}
}

// queryCacheKey folds the overrides into the key so a query re-run with
// a different per-request config never hits a stale entry.
func queryCacheKey(query, kbID string, opts *agent.QueryOptions) string {
	suffix := ""
	if opts != nil {
		suffix = fmt.Sprintf("|%d|%.3f|%v|%v|%d",
			opts.MaxIterations, opts.ConfidenceThreshold,
			boolRef(opts.EnableCriticism), boolRef(opts.EnableAutoRetry), opts.TopK)
	}
	return utils.HashString(kbID + "|" + query + suffix)
}

func boolRef(b *bool) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%t", *b)
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query           string                `json:"query"`
		KnowledgeBaseID string                `json:"knowledge_base_id"`
		Config          *queryConfigOverrides `json:"config"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}
	if req.KnowledgeBaseID == "" {
		req.KnowledgeBaseID = "default"
	}

	opts := req.Config.options()
	cacheKey := queryCacheKey(req.Query, req.KnowledgeBaseID, opts)

	if h.cache != nil {
		var cached agent.AgenticResponse
		hit, err := h.cache.GetQuery(c.Context(), cacheKey, &cached)
		if err != nil {
			logger.Warn("Response cache lookup failed", zap.Error(err))
		}
		if hit {
			metrics.QueryTotal.WithLabelValues("cached").Inc()
			return c.JSON(cached)
		}
	}

	start := time.Now()
	response, err := h.orchestrator.QueryWithOptions(c.Context(), req.Query, req.KnowledgeBaseID, opts, nil)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		logger.Error("Failed to process query", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process query",
		})
	}

	metrics.QueryTotal.WithLabelValues("ok").Inc()
	metrics.QueryDuration.WithLabelValues(string(response.Routing.Intent)).Observe(time.Since(start).Seconds())
	metrics.QueryIterations.Observe(float64(response.Iterations))
	metrics.ConfidenceScore.Observe(response.Metadata.Confidence)
	metrics.StrategyUsed.WithLabelValues(string(response.Metadata.RetrievalMethod), response.Retrieval.Metadata.Backend).Inc()
	if response.Retrieval.Metadata.FallbackReason != "" {
		metrics.RetrievalFallbacks.WithLabelValues(string(response.Metadata.RetrievalMethod)).Inc()
	}

	if h.cache != nil {
		if err := h.cache.SetQuery(c.Context(), cacheKey, response, responseCacheTTL); err != nil {
			logger.Warn("Response cache store failed", zap.Error(err))
		}
	}

	return c.JSON(response)
}

func (h *QueryHandler) GetHistory(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	return c.JSON(fiber.Map{
		"history": h.tracker.History(limit),
	})
}

func (h *QueryHandler) HandleFeedback(c *fiber.Ctx) error {
	var req struct {
		QueryID string `json:"query_id"`
		Helpful bool   `json:"helpful"`
		Comment string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.QueryID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query_id is required",
		})
	}

	feedback := "negative"
	satisfaction := 0.0
	if req.Helpful {
		feedback = "positive"
		satisfaction = 1.0
	}
	h.tracker.RecordUserFeedback(req.QueryID, feedback)
	metrics.UserSatisfaction.WithLabelValues(feedback).Set(satisfaction)

	if h.db != nil {
		if err := h.db.StoreFeedback(&models.Feedback{
			QueryID: req.QueryID,
			Helpful: req.Helpful,
			Comment: req.Comment,
		}); err != nil {
			logger.Warn("Failed to store feedback", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{"status": "recorded"})
}

func (h *QueryHandler) GetInsights(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"insights": h.tracker.GetInsights(),
	})
}

func (h *QueryHandler) GetStrategyMetrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"metrics": h.tracker.Metrics(),
	})
}
