package learning

import (
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
)

const (
	historyCap        = 1000
	minSamples        = 3
	similarityFloor   = 0.2
	similarQueryLimit = 10
	successConfidence = 0.7
)

// Store persists tracker state across restarts. Optional; persistence
// failures are logged and ignored so the tracker keeps learning in
// memory regardless.
type Store interface {
	InsertQueryRecord(record *models.QueryPerformanceRecord) error
	UpdateQueryFeedback(queryID, feedback string) error
	UpsertStrategyMetric(metric *models.StrategyPerformanceMetric) error
	LoadStrategyMetrics() ([]models.StrategyPerformanceMetric, error)
	GetQueryHistory(limit int) ([]models.QueryPerformanceRecord, error)
	StoreInsights(insights []models.LearningInsight) error
}

// Recommendation is the tracker's strategy advice for one query.
type Recommendation struct {
	Strategy              models.Strategy `json:"strategy"`
	Score                 float64         `json:"score"`
	Reasoning             string          `json:"reasoning"`
	BasedOnHistoricalData bool            `json:"basedOnHistoricalData"`
	Alternatives          []Alternative   `json:"alternatives,omitempty"`
}

type Alternative struct {
	Strategy models.Strategy `json:"strategy"`
	Score    float64         `json:"score"`
	Reason   string          `json:"reason"`
}

// Tracker observes per-query outcomes and biases future strategy
// selection. Metric updates are O(1) running averages, never recomputed
// from full history.
type Tracker struct {
	store  Store
	logger *zap.Logger

	mu       sync.Mutex
	metrics  map[string]*models.StrategyPerformanceMetric
	history  []models.QueryPerformanceRecord
	insights []models.LearningInsight
}

func NewTracker(store Store, log *zap.Logger) *Tracker {
	t := &Tracker{
		store:   store,
		logger:  log,
		metrics: make(map[string]*models.StrategyPerformanceMetric),
	}
	t.load()
	return t
}

func (t *Tracker) load() {
	if t.store == nil {
		return
	}

	metrics, err := t.store.LoadStrategyMetrics()
	if err != nil {
		t.logger.Warn("failed to load strategy metrics", zap.Error(err))
	}
	for i := range metrics {
		m := metrics[i]
		t.metrics[m.Key()] = &m
	}

	history, err := t.store.GetQueryHistory(historyCap)
	if err != nil {
		t.logger.Warn("failed to load query history", zap.Error(err))
		return
	}
	// stored newest-first, kept oldest-first
	for i := len(history) - 1; i >= 0; i-- {
		t.history = append(t.history, history[i])
	}
}

// RecordQueryPerformance appends one immutable record and updates the
// (intent, strategy) running aggregates.
func (t *Tracker) RecordQueryPerformance(record models.QueryPerformanceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history = append(t.history, record)
	if len(t.history) > historyCap {
		t.history = t.history[len(t.history)-historyCap:]
	}

	key := string(record.Intent) + "-" + string(record.Strategy)
	m, ok := t.metrics[key]
	if !ok {
		m = &models.StrategyPerformanceMetric{Intent: record.Intent, Strategy: record.Strategy}
		t.metrics[key] = m
	}

	prevSuccessRate := m.SuccessRate
	m.TotalQueries++
	n := float64(m.TotalQueries)

	m.AverageConfidence = (m.AverageConfidence*(n-1) + record.Confidence) / n
	m.AverageRetrievalTime = (m.AverageRetrievalTime*(n-1) + float64(record.RetrievalTimeMS)) / n
	m.AverageIterations = (m.AverageIterations*(n-1) + float64(record.Iterations)) / n

	if isSuccess(record) {
		m.SuccessfulQueries++
	}
	m.SuccessRate = float64(m.SuccessfulQueries) / n
	m.ImprovementTrend = m.SuccessRate - prevSuccessRate
	m.LastUsed = record.Timestamp

	t.persist(&record, m)
}

// RecordUserFeedback attaches explicit feedback to a past query and
// re-derives the success classification for its metric.
func (t *Tracker) RecordUserFeedback(queryID, feedback string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.history {
		if t.history[i].ID != queryID {
			continue
		}

		wasSuccess := isSuccess(t.history[i])
		t.history[i].UserFeedback = feedback
		nowSuccess := isSuccess(t.history[i])

		if wasSuccess != nowSuccess {
			key := t.history[i].Intent
			m, ok := t.metrics[string(key)+"-"+string(t.history[i].Strategy)]
			if ok && m.TotalQueries > 0 {
				if nowSuccess {
					m.SuccessfulQueries++
				} else if m.SuccessfulQueries > 0 {
					m.SuccessfulQueries--
				}
				m.SuccessRate = float64(m.SuccessfulQueries) / float64(m.TotalQueries)
				if t.store != nil {
					if err := t.store.UpsertStrategyMetric(m); err != nil {
						t.logger.Warn("failed to persist strategy metric", zap.Error(err))
					}
				}
			}
		}

		if t.store != nil {
			if err := t.store.UpdateQueryFeedback(queryID, feedback); err != nil {
				t.logger.Warn("failed to persist feedback", zap.Error(err))
			}
		}
		return
	}
}

func (t *Tracker) persist(record *models.QueryPerformanceRecord, m *models.StrategyPerformanceMetric) {
	if t.store == nil {
		return
	}
	if err := t.store.InsertQueryRecord(record); err != nil {
		t.logger.Warn("failed to persist query record", zap.Error(err))
	}
	if err := t.store.UpsertStrategyMetric(m); err != nil {
		t.logger.Warn("failed to persist strategy metric", zap.Error(err))
	}
}

func isSuccess(r models.QueryPerformanceRecord) bool {
	if r.Confidence < successConfidence {
		return false
	}
	switch r.UserFeedback {
	case "positive":
		return true
	case "negative":
		return false
	default:
		return !r.NeedsImprovement
	}
}

// GetStrategyRecommendation scores each candidate strategy from the
// recorded aggregates. With too little history it falls back to a
// static per-intent table flagged as non-historical.
func (t *Tracker) GetStrategyRecommendation(query string, intent models.Intent, docCount int) Recommendation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasEnoughSamples(intent) {
		strategy := defaultStrategyFor(intent, docCount)
		return Recommendation{
			Strategy:              strategy,
			Reasoning:             "not enough recorded outcomes for this intent, using static default",
			BasedOnHistoricalData: false,
		}
	}

	similarBonus := t.similarQuerySuccessRate(query)

	type scored struct {
		strategy models.Strategy
		score    float64
		reason   string
	}
	candidates := make([]scored, 0, len(models.RetrievalStrategies))

	minTime := t.minAvgRetrievalTime(intent)
	now := time.Now()

	for _, strategy := range models.RetrievalStrategies {
		m, ok := t.metrics[string(intent)+"-"+string(strategy)]
		if !ok || m.TotalQueries == 0 {
			continue
		}

		speedBonus := 0.0
		if m.AverageRetrievalTime > 0 && minTime > 0 {
			speedBonus = minTime / m.AverageRetrievalTime
		}
		recencyBonus := 0.0
		if now.Sub(m.LastUsed) < 24*time.Hour {
			recencyBonus = 1.0
		}

		score := 0.5*m.SuccessRate + 0.3*m.AverageConfidence + 0.1*speedBonus + 0.05*recencyBonus + 0.05*m.ImprovementTrend
		if similarBonus >= 0 {
			score = 0.7*score + 0.3*similarBonus
		}

		candidates = append(candidates, scored{
			strategy: strategy,
			score:    score,
			reason:   reasonFor(m),
		})
	}

	if len(candidates) == 0 {
		strategy := defaultStrategyFor(intent, docCount)
		return Recommendation{
			Strategy:              strategy,
			Reasoning:             "no recorded outcomes for this intent, using static default",
			BasedOnHistoricalData: false,
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	rec := Recommendation{
		Strategy:              best.strategy,
		Score:                 best.score,
		Reasoning:             best.reason,
		BasedOnHistoricalData: true,
	}
	for _, c := range candidates[1:] {
		if len(rec.Alternatives) == 3 {
			break
		}
		rec.Alternatives = append(rec.Alternatives, Alternative{
			Strategy: c.strategy,
			Score:    c.score,
			Reason:   c.reason,
		})
	}
	return rec
}

// RecommendStrategy adapts the recommendation for the router.
func (t *Tracker) RecommendStrategy(query string, intent models.Intent, docCount int) (models.Strategy, bool) {
	rec := t.GetStrategyRecommendation(query, intent, docCount)
	return rec.Strategy, rec.BasedOnHistoricalData
}

func (t *Tracker) hasEnoughSamples(intent models.Intent) bool {
	for _, strategy := range models.RetrievalStrategies {
		m, ok := t.metrics[string(intent)+"-"+string(strategy)]
		if ok && m.TotalQueries >= minSamples {
			return true
		}
	}
	return false
}

func (t *Tracker) minAvgRetrievalTime(intent models.Intent) float64 {
	min := 0.0
	for _, strategy := range models.RetrievalStrategies {
		m, ok := t.metrics[string(intent)+"-"+string(strategy)]
		if !ok || m.TotalQueries == 0 || m.AverageRetrievalTime <= 0 {
			continue
		}
		if min == 0 || m.AverageRetrievalTime < min {
			min = m.AverageRetrievalTime
		}
	}
	return min
}

// similarQuerySuccessRate finds historically similar queries by shared
// informative terms and returns their success rate, or -1 when no
// similar query exists.
func (t *Tracker) similarQuerySuccessRate(query string) float64 {
	queryTerms := informativeTerms(query)
	if len(queryTerms) == 0 {
		return -1
	}

	type match struct {
		overlap float64
		success bool
	}
	matches := make([]match, 0)

	for i := len(t.history) - 1; i >= 0 && len(matches) < similarQueryLimit; i-- {
		r := t.history[i]
		overlap := termOverlap(queryTerms, informativeTerms(r.Query))
		if overlap >= similarityFloor {
			matches = append(matches, match{overlap: overlap, success: isSuccess(r)})
		}
	}

	if len(matches) == 0 {
		return -1
	}
	successes := 0
	for _, m := range matches {
		if m.success {
			successes++
		}
	}
	return float64(successes) / float64(len(matches))
}

func informativeTerms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		if len(w) > 3 {
			terms[w] = struct{}{}
		}
	}
	return terms
}

func termOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for term := range a {
		if _, ok := b[term]; ok {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(shared) / float64(smaller)
}

func reasonFor(m *models.StrategyPerformanceMetric) string {
	switch {
	case m.SuccessRate > 0.8:
		return "consistently high success rate for this intent"
	case m.ImprovementTrend > 0:
		return "success rate trending upward"
	case m.AverageConfidence > 0.7:
		return "answers with this strategy score high confidence"
	default:
		return "best available recorded performance"
	}
}

func defaultStrategyFor(intent models.Intent, docCount int) models.Strategy {
	if docCount > 0 && docCount < 3 {
		return models.StrategyKeyword
	}
	switch intent {
	case models.IntentAnalytical:
		return models.StrategySemantic
	case models.IntentComparative:
		return models.StrategyMultiQuery
	case models.IntentProcedural:
		return models.StrategyHybrid
	case models.IntentClarification:
		return models.StrategySemantic
	default:
		return models.StrategyHybrid
	}
}

// Metrics returns a snapshot of the current aggregates.
func (t *Tracker) Metrics() []models.StrategyPerformanceMetric {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.StrategyPerformanceMetric, 0, len(t.metrics))
	for _, m := range t.metrics {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// History returns the most recent records, newest first.
func (t *Tracker) History(limit int) []models.QueryPerformanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 || limit > len(t.history) {
		limit = len(t.history)
	}
	out := make([]models.QueryPerformanceRecord, 0, limit)
	for i := len(t.history) - 1; i >= len(t.history)-limit; i-- {
		out = append(out, t.history[i])
	}
	return out
}
