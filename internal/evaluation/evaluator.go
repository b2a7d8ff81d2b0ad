package evaluation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/storage/models"
)

const (
	RelevanceRelevant  = "RELEVANT"
	RelevancePartially = "PARTIALLY_RELEVANT"
	RelevanceNot       = "NOT_RELEVANT"

	SupportFully     = "FULLY_SUPPORTED"
	SupportPartially = "PARTIALLY_SUPPORTED"
	SupportNot       = "NOT_SUPPORTED"

	UtilityUseful         = "USEFUL"
	UtilitySomewhatUseful = "SOMEWHAT_USEFUL"
	UtilityNotUseful      = "NOT_USEFUL"
)

// SelfEvaluation is the answer's own post-hoc scoring against the
// retrieved evidence.
type SelfEvaluation struct {
	RelevanceToken string   `json:"relevanceToken"`
	SupportToken   string   `json:"supportToken"`
	UtilityToken   string   `json:"utilityToken"`
	Confidence     float64  `json:"confidence"`
	NeedsRetry     bool     `json:"needsRetry"`
	Reasoning      string   `json:"reasoning"`
	Suggestions    []string `json:"suggestions,omitempty"`
}

// CriticFeedback is the stricter secondary pass aimed at hallucinations
// and gaps. Axis scores are in [0,1].
type CriticFeedback struct {
	LogicalConsistency float64  `json:"logicalConsistency"`
	FactualAccuracy    float64  `json:"factualAccuracy"`
	Completeness       float64  `json:"completeness"`
	Hallucinations     []string `json:"hallucinations"`
	Gaps               []string `json:"gaps"`
	Suggestions        []string `json:"suggestions"`
	Note               string   `json:"note,omitempty"`
}

// AxisResult is the verdict of one evaluation axis.
type AxisResult struct {
	Token      string
	Confidence float64
}

// Evaluator scores generated answers. Model failures always degrade to
// the documented defaults so evaluation can never fail the pipeline.
type Evaluator struct {
	llm    llm.Completer
	logger *zap.Logger
}

func NewEvaluator(completer llm.Completer, log *zap.Logger) *Evaluator {
	return &Evaluator{llm: completer, logger: log}
}

// EvaluateRelevance buckets the mean retrieval score. No model call.
func (e *Evaluator) EvaluateRelevance(result retrieval.RetrievalResult) AxisResult {
	if len(result.Documents) == 0 {
		return AxisResult{Token: RelevanceNot, Confidence: 1.0}
	}

	var sum float64
	for _, s := range result.Scores {
		sum += s
	}
	mean := sum / float64(len(result.Scores))

	switch {
	case mean > 0.7:
		return AxisResult{Token: RelevanceRelevant, Confidence: mean}
	case mean > 0.4:
		return AxisResult{Token: RelevancePartially, Confidence: mean}
	default:
		return AxisResult{Token: RelevanceNot, Confidence: 1 - mean}
	}
}

// EvaluateSupport checks groundedness of the answer in the retrieved
// documents. Zero documents short-circuits without a model call.
func (e *Evaluator) EvaluateSupport(ctx context.Context, query, answer string, documents []models.Document) AxisResult {
	if len(documents) == 0 {
		return AxisResult{Token: SupportNot, Confidence: 0.9}
	}

	var evidence strings.Builder
	for i, doc := range documents {
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", i+1, doc.Title, truncate(doc.Content, 600))
	}

	systemPrompt := `You verify whether an answer is grounded in the given evidence.
Respond with JSON: {"support": "FULLY_SUPPORTED" | "PARTIALLY_SUPPORTED" | "NOT_SUPPORTED", "confidence": 0.0-1.0}`

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nAnswer: %s\n\nEvidence:\n%s", query, answer, evidence.String()),
		Temperature:  0.0,
		MaxTokens:    100,
		JSONMode:     true,
	})
	if err != nil {
		e.logger.Debug("support evaluation failed, using default", zap.Error(err))
		return AxisResult{Token: SupportPartially, Confidence: 0.5}
	}

	parsed, err := llm.DecodeJSON[struct {
		Support    string  `json:"support"`
		Confidence float64 `json:"confidence"`
	}](resp.Content)
	if err != nil || !validSupport(parsed.Support) {
		return AxisResult{Token: SupportPartially, Confidence: 0.5}
	}
	return AxisResult{Token: parsed.Support, Confidence: clamp01(parsed.Confidence)}
}

// EvaluateUtility checks whether the answer actually helps the user.
func (e *Evaluator) EvaluateUtility(ctx context.Context, query, answer string) AxisResult {
	systemPrompt := `You judge whether an answer is useful for the question asked.
Respond with JSON: {"utility": "USEFUL" | "SOMEWHAT_USEFUL" | "NOT_USEFUL", "confidence": 0.0-1.0}`

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nAnswer: %s", query, answer),
		Temperature:  0.0,
		MaxTokens:    100,
		JSONMode:     true,
	})
	if err != nil {
		e.logger.Debug("utility evaluation failed, using default", zap.Error(err))
		return AxisResult{Token: UtilitySomewhatUseful, Confidence: 0.6}
	}

	parsed, err := llm.DecodeJSON[struct {
		Utility    string  `json:"utility"`
		Confidence float64 `json:"confidence"`
	}](resp.Content)
	if err != nil || !validUtility(parsed.Utility) {
		return AxisResult{Token: UtilitySomewhatUseful, Confidence: 0.6}
	}
	return AxisResult{Token: parsed.Utility, Confidence: clamp01(parsed.Confidence)}
}

// PerformSelfEvaluation runs the three axes concurrently and joins them
// into one verdict.
func (e *Evaluator) PerformSelfEvaluation(ctx context.Context, query, answer string, result retrieval.RetrievalResult) SelfEvaluation {
	var relevance, support, utility AxisResult

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		relevance = e.EvaluateRelevance(result)
	}()
	go func() {
		defer wg.Done()
		support = e.EvaluateSupport(ctx, query, answer, result.Documents)
	}()
	go func() {
		defer wg.Done()
		utility = e.EvaluateUtility(ctx, query, answer)
	}()
	wg.Wait()

	confidence := (relevance.Confidence + support.Confidence + utility.Confidence) / 3

	needsRetry := relevance.Token == RelevanceNot ||
		support.Token == SupportNot ||
		utility.Token == UtilityNotUseful ||
		confidence < 0.5

	eval := SelfEvaluation{
		RelevanceToken: relevance.Token,
		SupportToken:   support.Token,
		UtilityToken:   utility.Token,
		Confidence:     confidence,
		NeedsRetry:     needsRetry,
		Reasoning: fmt.Sprintf("relevance=%s support=%s utility=%s confidence=%.2f",
			relevance.Token, support.Token, utility.Token, confidence),
	}

	if needsRetry {
		if relevance.Token == RelevanceNot {
			eval.Suggestions = append(eval.Suggestions, "retrieved documents do not match the query, try a different retrieval strategy or rephrase")
		}
		if support.Token == SupportNot {
			eval.Suggestions = append(eval.Suggestions, "answer makes claims not grounded in the evidence, restrict the answer to retrieved content")
		}
		if utility.Token == UtilityNotUseful {
			eval.Suggestions = append(eval.Suggestions, "answer does not address what was asked, focus on the actual question")
		}
		if len(eval.Suggestions) == 0 {
			eval.Suggestions = append(eval.Suggestions, "overall confidence is low, reformulate the query for clearer evidence")
		}
	}
	return eval
}

// CriticResponse is the stricter secondary pass. Failure returns
// neutral defaults instead of erroring.
func (e *Evaluator) CriticResponse(ctx context.Context, query, answer string, documents []models.Document) CriticFeedback {
	var evidence strings.Builder
	for i, doc := range documents {
		fmt.Fprintf(&evidence, "[%d] %s\n%s\n\n", i+1, doc.Title, truncate(doc.Content, 600))
	}

	systemPrompt := `You are a strict critic of generated answers. Score each axis in [0,1] and list concrete problems.
Respond with JSON:
{
  "logicalConsistency": 0.0-1.0,
  "factualAccuracy": 0.0-1.0,
  "completeness": 0.0-1.0,
  "hallucinations": ["claim not in evidence", ...],
  "gaps": ["missing aspect", ...],
  "suggestions": ["concrete improvement", ...]
}`

	resp, err := e.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s\n\nAnswer: %s\n\nEvidence:\n%s", query, answer, evidence.String()),
		Temperature:  0.0,
		MaxTokens:    500,
		JSONMode:     true,
	})
	if err != nil {
		e.logger.Debug("critic pass failed, using neutral defaults", zap.Error(err))
		return neutralCritic("critic model call failed")
	}

	feedback, err := llm.DecodeJSON[CriticFeedback](resp.Content)
	if err != nil {
		return neutralCritic("critic output not parseable")
	}

	feedback.LogicalConsistency = clamp01(feedback.LogicalConsistency)
	feedback.FactualAccuracy = clamp01(feedback.FactualAccuracy)
	feedback.Completeness = clamp01(feedback.Completeness)
	return feedback
}

func neutralCritic(note string) CriticFeedback {
	return CriticFeedback{
		LogicalConsistency: 0.7,
		FactualAccuracy:    0.7,
		Completeness:       0.7,
		Note:               note,
	}
}

// SuggestImprovements aggregates evaluation and critic findings into
// concrete actions. Any failing axis forces a retry.
func (e *Evaluator) SuggestImprovements(eval SelfEvaluation, criticism *CriticFeedback) ([]string, bool) {
	suggestions := append([]string(nil), eval.Suggestions...)
	shouldRetry := eval.NeedsRetry

	if criticism != nil {
		if criticism.LogicalConsistency < 0.6 {
			suggestions = append(suggestions, "answer contains logical inconsistencies, restructure the reasoning")
			shouldRetry = true
		}
		if criticism.FactualAccuracy < 0.6 {
			suggestions = append(suggestions, "answer contains factual errors, verify claims against the evidence")
			shouldRetry = true
		}
		if criticism.Completeness < 0.6 {
			suggestions = append(suggestions, "answer is incomplete, cover all parts of the question")
			shouldRetry = true
		}
		suggestions = append(suggestions, criticism.Hallucinations...)
		suggestions = append(suggestions, criticism.Gaps...)
		suggestions = append(suggestions, criticism.Suggestions...)
	}

	return suggestions, shouldRetry
}

func validSupport(token string) bool {
	return token == SupportFully || token == SupportPartially || token == SupportNot
}

func validUtility(token string) bool {
	return token == UtilityUseful || token == UtilitySomewhatUseful || token == UtilityNotUseful
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
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
