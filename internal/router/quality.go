package router

import (
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/ragmind/backend/internal/storage/models"
)

// EvaluateRetrievalQuality is a cheap deterministic gate run right after
// retrieval: term overlap between query and top-K text plus a coverage
// ratio. It triggers at most one in-iteration strategy fallback.
func (r *Router) EvaluateRetrievalQuality(documents []models.Document, query string, topK int) RetrievalQuality {
	if topK <= 0 {
		topK = 1
	}

	terms := queryTerms(query)
	if len(terms) == 0 {
		// Queries made entirely of short words ("who is x") would
		// otherwise gate every iteration; score the raw words instead.
		terms = strings.Fields(strings.ToLower(query))
	}
	coverage := float64(len(documents)) / float64(topK)
	if coverage > 1 {
		coverage = 1
	}

	if len(terms) == 0 || len(documents) == 0 {
		return RetrievalQuality{
			Quality:       0,
			Coverage:      coverage,
			NeedsFallback: true,
		}
	}

	limit := topK
	if limit > len(documents) {
		limit = len(documents)
	}
	var sb strings.Builder
	for _, doc := range documents[:limit] {
		sb.WriteString(strings.ToLower(doc.Title))
		sb.WriteByte(' ')
		sb.WriteString(strings.ToLower(doc.Content))
		sb.WriteByte(' ')
	}
	corpus := sb.String()

	matched := 0
	for _, term := range terms {
		if strings.Contains(corpus, term) {
			matched++
		}
	}
	quality := float64(matched) / float64(len(terms))

	return RetrievalQuality{
		Quality:       quality,
		Coverage:      coverage,
		NeedsFallback: quality < 0.3 || coverage < 0.6,
	}
}

// queryTerms tokenizes the query and keeps informative terms longer
// than 3 characters. Tokenization failure degrades to whitespace
// splitting.
func queryTerms(query string) []string {
	var raw []string
	if doc, err := prose.NewDocument(query, prose.WithExtraction(false), prose.WithTagging(false)); err == nil {
		for _, tok := range doc.Tokens() {
			raw = append(raw, tok.Text)
		}
	} else {
		raw = strings.Fields(query)
	}

	seen := make(map[string]struct{}, len(raw))
	terms := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		if len(t) <= 3 {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return terms
}
