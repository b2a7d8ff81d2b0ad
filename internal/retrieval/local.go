package retrieval

import (
	"sort"
	"strings"

	"github.com/ragmind/backend/internal/storage/models"
)

const exactMatchBonus = 25.0

type scoredDocument struct {
	doc   models.Document
	score float64
}

// localTermMatch is the last link of the fallback chain: in-process
// term-frequency scoring over title and content, normalized into [0,1].
func localTermMatch(query string, documents []models.Document, topK int) ([]models.Document, []float64) {
	terms := strings.Fields(strings.ToLower(query))
	queryLower := strings.ToLower(strings.TrimSpace(query))

	scored := make([]scoredDocument, 0, len(documents))
	for _, doc := range documents {
		text := strings.ToLower(doc.Title + " " + doc.Content)

		var score float64
		for _, term := range terms {
			if len(term) == 0 {
				continue
			}
			score += float64(strings.Count(text, term)) * float64(len(term))
		}
		if queryLower != "" && strings.Contains(text, queryLower) {
			score += exactMatchBonus
		}
		if score > 0 {
			scored = append(scored, scoredDocument{doc: doc, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}

	var max float64
	for _, s := range scored {
		if s.score > max {
			max = s.score
		}
	}

	docs := make([]models.Document, len(scored))
	scores := make([]float64, len(scored))
	for i, s := range scored {
		docs[i] = s.doc
		if max > 0 {
			scores[i] = s.score / max
		}
	}
	return docs, scores
}
