package learning

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragmind/backend/internal/storage/models"
)

func insightTypes(insights []models.LearningInsight) map[string]bool {
	types := make(map[string]bool)
	for _, in := range insights {
		types[in.Type] = true
	}
	return types
}

func TestGenerateInsightsBelowThresholds(t *testing.T) {
	tr := newTestTracker()

	tr.RecordQueryPerformance(record("q1", models.IntentFactual, models.StrategyHybrid, 0.9))

	assert.Empty(t, tr.GenerateInsights())
}

func TestGenerateInsightsFindsPerformers(t *testing.T) {
	tr := newTestTracker()

	// five (intent, strategy) aggregates, twenty records, factual dominant
	seed := []struct {
		intent     models.Intent
		strategy   models.Strategy
		confidence float64
		count      int
	}{
		{models.IntentFactual, models.StrategySemantic, 0.9, 8},
		{models.IntentFactual, models.StrategyKeyword, 0.3, 4},
		{models.IntentFactual, models.StrategyHybrid, 0.9, 2},
		{models.IntentAnalytical, models.StrategySemantic, 0.9, 3},
		{models.IntentProcedural, models.StrategyHybrid, 0.9, 3},
	}

	id := 0
	for _, s := range seed {
		for i := 0; i < s.count; i++ {
			r := record(fmt.Sprintf("q%d", id), s.intent, s.strategy, s.confidence)
			r.Iterations = 2
			tr.RecordQueryPerformance(r)
			id++
		}
	}

	insights := tr.GenerateInsights()
	require.NotEmpty(t, insights)
	types := insightTypes(insights)

	assert.True(t, types["best_performer"], "a strategy with a perfect success rate should surface")
	assert.True(t, types["poor_performer"], "the failing keyword aggregate should surface")
	assert.True(t, types["dominant_intent"], "factual queries are well over the share threshold")
	assert.True(t, types["high_iterations"], "all seeded records took two iterations")
}

func TestGetInsightsDelegates(t *testing.T) {
	tr := newTestTracker()
	assert.Empty(t, tr.GetInsights())
}
