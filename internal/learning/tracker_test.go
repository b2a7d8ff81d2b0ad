package learning

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
)

func newTestTracker() *Tracker {
	return NewTracker(nil, zap.NewNop())
}

func record(id string, intent models.Intent, strategy models.Strategy, confidence float64) models.QueryPerformanceRecord {
	return models.QueryPerformanceRecord{
		ID:              id,
		Query:           "how does replication work",
		Intent:          intent,
		Strategy:        strategy,
		Confidence:      confidence,
		Iterations:      1,
		RetrievalTimeMS: 100,
		TotalTimeMS:     500,
		Timestamp:       time.Now(),
	}
}

func TestRecordQueryPerformanceRunningAverages(t *testing.T) {
	tr := newTestTracker()

	tr.RecordQueryPerformance(record("q1", models.IntentFactual, models.StrategyHybrid, 0.8))
	tr.RecordQueryPerformance(record("q2", models.IntentFactual, models.StrategyHybrid, 0.6))

	metrics := tr.Metrics()
	require.Len(t, metrics, 1)

	m := metrics[0]
	assert.Equal(t, 2, m.TotalQueries)
	assert.InDelta(t, 0.7, m.AverageConfidence, 1e-9)
	assert.InDelta(t, 100, m.AverageRetrievalTime, 1e-9)
	assert.InDelta(t, 1.0, m.AverageIterations, 1e-9)
	// first record succeeds, second misses the confidence bar
	assert.Equal(t, 1, m.SuccessfulQueries)
	assert.InDelta(t, 0.5, m.SuccessRate, 1e-9)
	assert.Negative(t, m.ImprovementTrend)
}

func TestHistoryCapIsFIFO(t *testing.T) {
	tr := newTestTracker()

	for i := 0; i < historyCap+5; i++ {
		tr.RecordQueryPerformance(record(fmt.Sprintf("q%d", i), models.IntentFactual, models.StrategyHybrid, 0.8))
	}

	history := tr.History(0)
	require.Len(t, history, historyCap)
	// newest first; the five oldest records were evicted
	assert.Equal(t, fmt.Sprintf("q%d", historyCap+4), history[0].ID)
	assert.Equal(t, "q5", history[len(history)-1].ID)
}

func TestIsSuccessClassification(t *testing.T) {
	cases := []struct {
		name   string
		record models.QueryPerformanceRecord
		want   bool
	}{
		{"low confidence positive", models.QueryPerformanceRecord{Confidence: 0.6, UserFeedback: "positive"}, false},
		{"high confidence positive", models.QueryPerformanceRecord{Confidence: 0.8, UserFeedback: "positive"}, true},
		{"high confidence negative", models.QueryPerformanceRecord{Confidence: 0.8, UserFeedback: "negative"}, false},
		{"no feedback clean", models.QueryPerformanceRecord{Confidence: 0.8}, true},
		{"no feedback needs improvement", models.QueryPerformanceRecord{Confidence: 0.8, NeedsImprovement: true}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isSuccess(tc.record))
		})
	}
}

func TestRecommendationWithoutHistoryUsesDefaults(t *testing.T) {
	tr := newTestTracker()

	rec := tr.GetStrategyRecommendation("anything", models.IntentAnalytical, 10)
	assert.False(t, rec.BasedOnHistoricalData)
	assert.Equal(t, models.StrategySemantic, rec.Strategy)

	rec = tr.GetStrategyRecommendation("anything", models.IntentFactual, 2)
	assert.Equal(t, models.StrategyKeyword, rec.Strategy)
}

func TestRecommendationPrefersRecordedWinner(t *testing.T) {
	tr := newTestTracker()

	for i := 0; i < 4; i++ {
		tr.RecordQueryPerformance(record(fmt.Sprintf("s%d", i), models.IntentFactual, models.StrategySemantic, 0.9))
	}
	r := record("k0", models.IntentFactual, models.StrategyKeyword, 0.4)
	tr.RecordQueryPerformance(r)

	rec := tr.GetStrategyRecommendation("how does replication work", models.IntentFactual, 10)

	assert.True(t, rec.BasedOnHistoricalData)
	assert.Equal(t, models.StrategySemantic, rec.Strategy)
	assert.Positive(t, rec.Score)
	require.NotEmpty(t, rec.Alternatives)
	assert.Equal(t, models.StrategyKeyword, rec.Alternatives[0].Strategy)
}

func TestRecommendStrategyAdapter(t *testing.T) {
	tr := newTestTracker()

	_, historical := tr.RecommendStrategy("q", models.IntentFactual, 10)
	assert.False(t, historical)

	for i := 0; i < minSamples; i++ {
		tr.RecordQueryPerformance(record(fmt.Sprintf("h%d", i), models.IntentFactual, models.StrategyHybrid, 0.9))
	}
	strategy, historical := tr.RecommendStrategy("q", models.IntentFactual, 10)
	assert.True(t, historical)
	assert.Equal(t, models.StrategyHybrid, strategy)
}

func TestRecordUserFeedbackFlipsSuccess(t *testing.T) {
	tr := newTestTracker()

	tr.RecordQueryPerformance(record("q1", models.IntentFactual, models.StrategyHybrid, 0.9))
	require.InDelta(t, 1.0, tr.Metrics()[0].SuccessRate, 1e-9)

	tr.RecordUserFeedback("q1", "negative")

	m := tr.Metrics()[0]
	assert.Equal(t, 0, m.SuccessfulQueries)
	assert.Zero(t, m.SuccessRate)
	assert.Equal(t, "negative", tr.History(1)[0].UserFeedback)
}

func TestRecordUserFeedbackBelowConfidenceBarStaysFailed(t *testing.T) {
	tr := newTestTracker()

	tr.RecordQueryPerformance(record("q1", models.IntentFactual, models.StrategyHybrid, 0.5))
	require.Zero(t, tr.Metrics()[0].SuccessfulQueries)

	tr.RecordUserFeedback("q1", "positive")

	assert.Zero(t, tr.Metrics()[0].SuccessfulQueries)
}

func TestSimilarQuerySuccessRate(t *testing.T) {
	tr := newTestTracker()

	r := record("q1", models.IntentFactual, models.StrategyHybrid, 0.9)
	r.Query = "replication lag across nodes"
	tr.RecordQueryPerformance(r)

	rate := tr.similarQuerySuccessRate("replication lag spikes")
	assert.InDelta(t, 1.0, rate, 1e-9)

	assert.Equal(t, -1.0, tr.similarQuerySuccessRate("completely unrelated gardening question"))
	assert.Equal(t, -1.0, tr.similarQuerySuccessRate("a an it"))
}

func TestTermOverlap(t *testing.T) {
	a := informativeTerms("replication lag across nodes")
	b := informativeTerms("replication across clusters")

	assert.InDelta(t, 2.0/3.0, termOverlap(a, b), 1e-9)
	assert.Zero(t, termOverlap(a, informativeTerms("")))
}

func TestDefaultStrategyForTable(t *testing.T) {
	assert.Equal(t, models.StrategyKeyword, defaultStrategyFor(models.IntentFactual, 2))
	assert.Equal(t, models.StrategySemantic, defaultStrategyFor(models.IntentAnalytical, 10))
	assert.Equal(t, models.StrategyMultiQuery, defaultStrategyFor(models.IntentComparative, 10))
	assert.Equal(t, models.StrategyHybrid, defaultStrategyFor(models.IntentProcedural, 10))
	assert.Equal(t, models.StrategyHybrid, defaultStrategyFor(models.IntentFactual, 10))
}
