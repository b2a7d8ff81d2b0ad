package learning

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
)

const (
	insightMinMetrics = 5
	insightMinRecords = 20

	bestPerformerFloor   = 0.85
	poorPerformerCeiling = 0.5
	dominantIntentShare  = 0.4
	highIterationAvg     = 1.5
)

// GenerateInsights regenerates the full insight list from the current
// aggregates. Below the data thresholds the previous list is kept.
func (t *Tracker) GenerateInsights() []models.LearningInsight {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.metrics) < insightMinMetrics || len(t.history) < insightMinRecords {
		return append([]models.LearningInsight(nil), t.insights...)
	}

	now := time.Now()
	insights := make([]models.LearningInsight, 0)

	var best *models.StrategyPerformanceMetric
	for _, m := range t.metrics {
		if m.SuccessRate > bestPerformerFloor && (best == nil || m.SuccessRate > best.SuccessRate) {
			best = m
		}
	}
	if best != nil {
		insights = append(insights, models.LearningInsight{
			Type: "best_performer",
			Description: fmt.Sprintf("%s retrieval succeeds in %.0f%% of %s queries",
				best.Strategy, best.SuccessRate*100, best.Intent),
			Suggestion: fmt.Sprintf("prefer %s for %s queries", best.Strategy, best.Intent),
			CreatedAt:  now,
		})
	}

	for _, m := range t.metrics {
		if m.SuccessRate >= poorPerformerCeiling || m.TotalQueries == 0 {
			continue
		}
		alternative := defaultStrategyFor(m.Intent, 0)
		if alternative == m.Strategy {
			alternative = models.StrategyHybrid
		}
		insights = append(insights, models.LearningInsight{
			Type: "poor_performer",
			Description: fmt.Sprintf("%s retrieval succeeds in only %.0f%% of %s queries",
				m.Strategy, m.SuccessRate*100, m.Intent),
			Suggestion: fmt.Sprintf("try %s instead of %s for %s queries", alternative, m.Strategy, m.Intent),
			CreatedAt:  now,
		})
	}

	intentCounts := make(map[models.Intent]int)
	for _, r := range t.history {
		intentCounts[r.Intent]++
	}
	for intent, count := range intentCounts {
		share := float64(count) / float64(len(t.history))
		if share > dominantIntentShare {
			insights = append(insights, models.LearningInsight{
				Type: "dominant_intent",
				Description: fmt.Sprintf("%.0f%% of recent queries are %s",
					share*100, intent),
				Suggestion: fmt.Sprintf("tune retrieval defaults for %s queries", intent),
				CreatedAt:  now,
			})
		}
	}

	weekAgo := now.AddDate(0, 0, -7)
	var iterSum, iterCount float64
	for _, r := range t.history {
		if r.Timestamp.After(weekAgo) {
			iterSum += float64(r.Iterations)
			iterCount++
		}
	}
	if iterCount > 0 && iterSum/iterCount > highIterationAvg {
		insights = append(insights, models.LearningInsight{
			Type: "high_iterations",
			Description: fmt.Sprintf("queries this week averaged %.1f loop iterations",
				iterSum/iterCount),
			Suggestion: "answers often need a retry, review chunking quality and corpus coverage",
			CreatedAt:  now,
		})
	}

	t.insights = insights
	if t.store != nil && len(insights) > 0 {
		if err := t.store.StoreInsights(insights); err != nil {
			t.logger.Warn("failed to persist insights", zap.Error(err))
		}
	}
	return append([]models.LearningInsight(nil), insights...)
}

// GetInsights returns the current insight list, regenerating when
// enough new data has accumulated.
func (t *Tracker) GetInsights() []models.LearningInsight {
	return t.GenerateInsights()
}
