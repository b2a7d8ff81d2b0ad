package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/storage/models"
)

// promptRoutedCompleter dispatches on the system prompt so the three
// concurrent axes each get their own scripted response.
type promptRoutedCompleter struct {
	mu sync.Mutex

	supportResp string
	utilityResp string
	criticResp  string
	err         error

	supportCalls int
	utilityCalls int
	criticCalls  int
}

func (f *promptRoutedCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var content string
	switch {
	case strings.Contains(req.SystemPrompt, "grounded"):
		f.supportCalls++
		content = f.supportResp
	case strings.Contains(req.SystemPrompt, "useful"):
		f.utilityCalls++
		content = f.utilityResp
	case strings.Contains(req.SystemPrompt, "critic"):
		f.criticCalls++
		content = f.criticResp
	}

	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

func (f *promptRoutedCompleter) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supportCalls, f.utilityCalls, f.criticCalls
}

func someDocs() []models.Document {
	return []models.Document{
		{ID: "d1", Title: "Caching", Content: "The cache keeps query results for 45 seconds."},
		{ID: "d2", Title: "Eviction", Content: "Entries expire lazily on read."},
	}
}

func resultWithScores(scores ...float64) retrieval.RetrievalResult {
	docs := someDocs()
	return retrieval.RetrievalResult{Documents: docs[:len(scores)], Scores: scores}
}

func TestEvaluateRelevanceBuckets(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{}, zap.NewNop())

	cases := []struct {
		name      string
		result    retrieval.RetrievalResult
		wantToken string
		wantConf  float64
	}{
		{"no documents", retrieval.RetrievalResult{}, RelevanceNot, 1.0},
		{"high mean", resultWithScores(0.9, 0.7), RelevanceRelevant, 0.8},
		{"middling mean", resultWithScores(0.6, 0.4), RelevancePartially, 0.5},
		{"low mean", resultWithScores(0.2, 0.2), RelevanceNot, 0.8},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			axis := e.EvaluateRelevance(tc.result)
			assert.Equal(t, tc.wantToken, axis.Token)
			assert.InDelta(t, tc.wantConf, axis.Confidence, 1e-9)
		})
	}
}

func TestEvaluateSupportZeroDocsSkipsModel(t *testing.T) {
	completer := &promptRoutedCompleter{}
	e := NewEvaluator(completer, zap.NewNop())

	axis := e.EvaluateSupport(context.Background(), "q", "a", nil)

	assert.Equal(t, SupportNot, axis.Token)
	assert.InDelta(t, 0.9, axis.Confidence, 1e-9)
	supportCalls, _, _ := completer.counts()
	assert.Zero(t, supportCalls)
}

func TestEvaluateSupportFailureDefault(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{err: errors.New("provider down")}, zap.NewNop())

	axis := e.EvaluateSupport(context.Background(), "q", "a", someDocs())

	assert.Equal(t, SupportPartially, axis.Token)
	assert.InDelta(t, 0.5, axis.Confidence, 1e-9)
}

func TestEvaluateSupportInvalidTokenDefault(t *testing.T) {
	completer := &promptRoutedCompleter{supportResp: `{"support": "MAYBE", "confidence": 0.9}`}
	e := NewEvaluator(completer, zap.NewNop())

	axis := e.EvaluateSupport(context.Background(), "q", "a", someDocs())

	assert.Equal(t, SupportPartially, axis.Token)
	assert.InDelta(t, 0.5, axis.Confidence, 1e-9)
}

func TestEvaluateSupportParsesVerdict(t *testing.T) {
	completer := &promptRoutedCompleter{supportResp: `{"support": "FULLY_SUPPORTED", "confidence": 0.92}`}
	e := NewEvaluator(completer, zap.NewNop())

	axis := e.EvaluateSupport(context.Background(), "q", "a", someDocs())

	assert.Equal(t, SupportFully, axis.Token)
	assert.InDelta(t, 0.92, axis.Confidence, 1e-9)
}

func TestEvaluateUtilityFailureDefault(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{err: errors.New("provider down")}, zap.NewNop())

	axis := e.EvaluateUtility(context.Background(), "q", "a")

	assert.Equal(t, UtilitySomewhatUseful, axis.Token)
	assert.InDelta(t, 0.6, axis.Confidence, 1e-9)
}

func TestPerformSelfEvaluationZeroDocuments(t *testing.T) {
	completer := &promptRoutedCompleter{utilityResp: `{"utility": "USEFUL", "confidence": 0.9}`}
	e := NewEvaluator(completer, zap.NewNop())

	eval := e.PerformSelfEvaluation(context.Background(), "q", "a", retrieval.RetrievalResult{})

	assert.Equal(t, RelevanceNot, eval.RelevanceToken)
	assert.Equal(t, SupportNot, eval.SupportToken)
	assert.True(t, eval.NeedsRetry)
	assert.NotEmpty(t, eval.Suggestions)

	supportCalls, utilityCalls, _ := completer.counts()
	assert.Zero(t, supportCalls)
	assert.Equal(t, 1, utilityCalls)
}

func TestPerformSelfEvaluationAccepts(t *testing.T) {
	completer := &promptRoutedCompleter{
		supportResp: `{"support": "FULLY_SUPPORTED", "confidence": 0.9}`,
		utilityResp: `{"utility": "USEFUL", "confidence": 0.9}`,
	}
	e := NewEvaluator(completer, zap.NewNop())

	eval := e.PerformSelfEvaluation(context.Background(), "q", "a", resultWithScores(0.9, 0.7))

	assert.Equal(t, RelevanceRelevant, eval.RelevanceToken)
	assert.Equal(t, SupportFully, eval.SupportToken)
	assert.Equal(t, UtilityUseful, eval.UtilityToken)
	assert.InDelta(t, (0.8+0.9+0.9)/3, eval.Confidence, 1e-9)
	assert.False(t, eval.NeedsRetry)
	assert.Empty(t, eval.Suggestions)
}

func TestPerformSelfEvaluationLowConfidenceRetries(t *testing.T) {
	completer := &promptRoutedCompleter{
		supportResp: `{"support": "PARTIALLY_SUPPORTED", "confidence": 0.3}`,
		utilityResp: `{"utility": "SOMEWHAT_USEFUL", "confidence": 0.3}`,
	}
	e := NewEvaluator(completer, zap.NewNop())

	eval := e.PerformSelfEvaluation(context.Background(), "q", "a", resultWithScores(0.5, 0.5))

	assert.Less(t, eval.Confidence, 0.5)
	require.True(t, eval.NeedsRetry)
	require.Len(t, eval.Suggestions, 1)
	assert.Contains(t, eval.Suggestions[0], "reformulate")
}

func TestCriticResponseFailureNeutral(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{err: errors.New("provider down")}, zap.NewNop())

	feedback := e.CriticResponse(context.Background(), "q", "a", someDocs())

	assert.InDelta(t, 0.7, feedback.LogicalConsistency, 1e-9)
	assert.InDelta(t, 0.7, feedback.FactualAccuracy, 1e-9)
	assert.InDelta(t, 0.7, feedback.Completeness, 1e-9)
	assert.NotEmpty(t, feedback.Note)
}

func TestCriticResponseClampsAxes(t *testing.T) {
	completer := &promptRoutedCompleter{
		criticResp: `{"logicalConsistency": 1.5, "factualAccuracy": -0.2, "completeness": 0.8, "hallucinations": ["invented figure"], "gaps": [], "suggestions": ["cite sources"]}`,
	}
	e := NewEvaluator(completer, zap.NewNop())

	feedback := e.CriticResponse(context.Background(), "q", "a", someDocs())

	assert.InDelta(t, 1.0, feedback.LogicalConsistency, 1e-9)
	assert.InDelta(t, 0.0, feedback.FactualAccuracy, 1e-9)
	assert.InDelta(t, 0.8, feedback.Completeness, 1e-9)
	assert.Equal(t, []string{"invented figure"}, feedback.Hallucinations)
}

func TestSuggestImprovementsCriticForcesRetry(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{}, zap.NewNop())

	eval := SelfEvaluation{NeedsRetry: false}
	criticism := &CriticFeedback{
		LogicalConsistency: 0.9,
		FactualAccuracy:    0.4,
		Completeness:       0.9,
		Hallucinations:     []string{"claims a 10x speedup not in evidence"},
		Gaps:               []string{"does not mention eviction"},
	}

	suggestions, retry := e.SuggestImprovements(eval, criticism)

	assert.True(t, retry)
	assert.Contains(t, suggestions, "claims a 10x speedup not in evidence")
	assert.Contains(t, suggestions, "does not mention eviction")
}

func TestSuggestImprovementsNoCriticism(t *testing.T) {
	e := NewEvaluator(&promptRoutedCompleter{}, zap.NewNop())

	suggestions, retry := e.SuggestImprovements(SelfEvaluation{
		NeedsRetry:  true,
		Suggestions: []string{"rephrase the query"},
	}, nil)

	assert.True(t, retry)
	assert.Equal(t, []string{"rephrase the query"}, suggestions)
}
