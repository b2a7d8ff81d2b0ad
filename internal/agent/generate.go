package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/evaluation"
	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/retrieval"
	"github.com/ragmind/backend/internal/storage/models"
)

const (
	docContextLimit = 800

	insufficientAnswer = "I could not find relevant information in the knowledge base to answer this question. Try rephrasing it or adding documents that cover the topic."
)

// Generator produces answers and query reformulations. Split out as an
// interface so tests can count generation attempts.
type Generator interface {
	Answer(ctx context.Context, query string, result retrieval.RetrievalResult, history []string) string
	DirectAnswer(ctx context.Context, query string, intent models.Intent, history []string) string
	Reformulate(ctx context.Context, originalQuery string, eval evaluation.SelfEvaluation) string
}

// LLMGenerator is the model-backed generator used in production.
type LLMGenerator struct {
	llm    llm.Completer
	logger *zap.Logger
}

func NewLLMGenerator(completer llm.Completer, log *zap.Logger) *LLMGenerator {
	return &LLMGenerator{llm: completer, logger: log}
}

// Answer assembles a grounded prompt from the retrieved documents and
// asks the model to answer with citations by index. Zero documents
// yields a fixed answer without a model call.
func (g *LLMGenerator) Answer(ctx context.Context, query string, result retrieval.RetrievalResult, history []string) string {
	if len(result.Documents) == 0 {
		return insufficientAnswer
	}

	var contextBlock strings.Builder
	for i, doc := range result.Documents {
		fmt.Fprintf(&contextBlock, "[%d] %s (relevance %.2f)\n%s\n\n",
			i+1, doc.Title, result.Scores[i], truncate(doc.Content, docContextLimit))
	}

	systemPrompt := `You answer questions using only the provided documents.
Cite sources by their index, like [1] or [2].
If the documents do not contain the answer, say so instead of guessing.`

	userPrompt := fmt.Sprintf("Documents:\n%s\nQuestion: %s", contextBlock.String(), query)
	if len(history) > 0 {
		userPrompt = fmt.Sprintf("Conversation so far:\n%s\n\n%s", strings.Join(history, "\n"), userPrompt)
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.2,
		MaxTokens:    1000,
	})
	if err != nil {
		g.logger.Warn("answer generation failed", zap.Error(err))
		return insufficientAnswer
	}
	return strings.TrimSpace(resp.Content)
}

func (g *LLMGenerator) DirectAnswer(ctx context.Context, query string, intent models.Intent, history []string) string {
	systemPrompt := "You are a helpful assistant for a document question-answering system. Reply briefly and naturally."
	if intent == models.IntentOutOfScope {
		systemPrompt = "You are a document question-answering assistant. The user's request is outside the document corpus. Say so politely and suggest what you can help with."
	}

	userPrompt := query
	if len(history) > 0 {
		userPrompt = fmt.Sprintf("Conversation so far:\n%s\n\nuser: %s", strings.Join(history, "\n"), query)
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.7,
		MaxTokens:    300,
	})
	if err != nil {
		g.logger.Warn("direct answer generation failed", zap.Error(err))
		return "Hello! Ask me anything about the documents in this knowledge base."
	}
	return strings.TrimSpace(resp.Content)
}

// Reformulate rewrites the original query guided by the evaluation
// findings. On failure the original query is reused so the loop always
// makes forward progress.
func (g *LLMGenerator) Reformulate(ctx context.Context, originalQuery string, eval evaluation.SelfEvaluation) string {
	guidance := eval.Reasoning
	if len(eval.Suggestions) > 0 {
		guidance += "\n- " + strings.Join(eval.Suggestions, "\n- ")
	}

	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You rewrite search queries to retrieve better evidence. Respond with only the rewritten query.",
		UserPrompt:   fmt.Sprintf("Original query: %s\n\nWhat went wrong:\n%s\n\nRewrite the query.", originalQuery, guidance),
		Temperature:  0.4,
		MaxTokens:    150,
	})
	if err != nil {
		g.logger.Debug("reformulation failed, reusing original query", zap.Error(err))
		return originalQuery
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if rewritten == "" {
		return originalQuery
	}
	return rewritten
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
