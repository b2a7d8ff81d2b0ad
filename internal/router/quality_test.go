package router

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
)

func qualityRouter() *Router {
	return NewRouter(&fakeCompleter{err: errors.New("unused")}, nil, zap.NewNop())
}

func docsAbout(contents ...string) []models.Document {
	docs := make([]models.Document, len(contents))
	for i, c := range contents {
		docs[i] = models.Document{ID: string(rune('a' + i)), Title: "doc", Content: c}
	}
	return docs
}

func TestEvaluateRetrievalQualityGoodResults(t *testing.T) {
	r := qualityRouter()
	docs := docsAbout(
		"kubernetes deployment rollback uses the previous replica set",
		"a deployment records rollout history for rollback",
		"kubectl rollout undo reverts a kubernetes deployment",
	)

	q := r.EvaluateRetrievalQuality(docs, "kubernetes deployment rollback", 5)

	assert.InDelta(t, 1.0, q.Quality, 1e-9)
	assert.InDelta(t, 0.6, q.Coverage, 1e-9)
	assert.False(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityLowCoverage(t *testing.T) {
	r := qualityRouter()
	docs := docsAbout(
		"kubernetes deployment rollback explained",
		"deployment rollback via kubernetes history",
	)

	q := r.EvaluateRetrievalQuality(docs, "kubernetes deployment rollback", 5)

	assert.InDelta(t, 0.4, q.Coverage, 1e-9)
	assert.True(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityLowTermOverlap(t *testing.T) {
	r := qualityRouter()
	docs := docsAbout(
		"completely unrelated text about cooking pasta",
		"another unrelated note on gardening tools",
		"third unrelated entry covering piano practice",
	)

	q := r.EvaluateRetrievalQuality(docs, "kubernetes deployment rollback", 5)

	assert.Less(t, q.Quality, 0.3)
	assert.True(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityNoDocuments(t *testing.T) {
	r := qualityRouter()

	q := r.EvaluateRetrievalQuality(nil, "kubernetes deployment rollback", 5)

	assert.Zero(t, q.Quality)
	assert.Zero(t, q.Coverage)
	assert.True(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityCoverageCapped(t *testing.T) {
	r := qualityRouter()
	docs := docsAbout(
		"kubernetes deployment rollback one",
		"kubernetes deployment rollback two",
		"kubernetes deployment rollback three",
	)

	q := r.EvaluateRetrievalQuality(docs, "kubernetes deployment rollback", 2)

	assert.InDelta(t, 1.0, q.Coverage, 1e-9)
	assert.False(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityShortWordQuery(t *testing.T) {
	r := qualityRouter()
	docs := docsAbout(
		"ada lovelace is the mathematician who wrote the first program",
		"notes on who ada was and what she is known for",
		"ada is often cited as the first programmer, who inspired many",
	)

	q := r.EvaluateRetrievalQuality(docs, "who is ada", 5)

	assert.InDelta(t, 1.0, q.Quality, 1e-9)
	assert.False(t, q.NeedsFallback)
}

func TestEvaluateRetrievalQualityEmptyQuery(t *testing.T) {
	r := qualityRouter()

	q := r.EvaluateRetrievalQuality(docsAbout("anything"), "   ", 5)

	assert.Zero(t, q.Quality)
	assert.True(t, q.NeedsFallback)
}

func TestQueryTermsFiltersShortAndDuplicate(t *testing.T) {
	terms := queryTerms("How do I do a rollback of a rollback in the API")

	assert.Contains(t, terms, "rollback")
	assert.NotContains(t, terms, "api")
	assert.NotContains(t, terms, "the")

	count := 0
	for _, term := range terms {
		if term == "rollback" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
