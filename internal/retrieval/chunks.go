package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/vector"
)

const (
	chunkFetchMultiplier = 3
	bestChunksPerDoc     = 3
)

// chunkRetrieve runs chunk-level retrieval and folds chunks back into
// their parent documents. Document content is replaced by the best
// chunks so downstream prompt assembly stays bounded.
func (e *Executor) chunkRetrieve(ctx context.Context, kbID, query string, strategy models.Strategy, documents []models.Document, topK int) ([]models.Document, []float64, string, bool) {
	fetchK := topK * chunkFetchMultiplier

	var scored []vector.ScoredChunk
	var fallbackReason string

	switch strategy {
	case models.StrategyKeyword:
		chunks, err := e.kbChunks(ctx, kbID)
		if err != nil {
			return nil, nil, fmt.Sprintf("chunk source unavailable: %v", err), false
		}
		scored = scoreChunksByTerms(query, chunks, fetchK)
	default:
		queryVector := e.indexer.EmbedQuery(ctx, query)

		if e.vectorStore != nil {
			results, err := e.vectorStore.Query(ctx, kbID, queryVector, fetchK)
			if err == nil {
				scored = results
				break
			}
			fallbackReason = fmt.Sprintf("vector store query failed: %v", err)
			e.logger.Warn("vector store query failed, using chunk fallback", zap.Error(err))
		} else {
			fallbackReason = "vector store not configured"
		}

		chunks, err := e.kbChunks(ctx, kbID)
		if err != nil {
			return nil, nil, fmt.Sprintf("%s; chunk source unavailable: %v", fallbackReason, err), false
		}
		scored = scoreChunksByVector(queryVector, chunks, fetchK)
	}

	if len(scored) == 0 {
		return nil, nil, "no chunks matched", false
	}

	docs, scores := foldChunks(scored, documents, topK)
	return docs, scores, fallbackReason, true
}

func (e *Executor) kbChunks(ctx context.Context, kbID string) ([]models.DocumentChunk, error) {
	if e.chunkSource == nil {
		return nil, fmt.Errorf("chunk source not configured")
	}
	return e.chunkSource.ChunksForKB(ctx, kbID)
}

func scoreChunksByVector(queryVector []float32, chunks []models.DocumentChunk, fetchK int) []vector.ScoredChunk {
	scored := make([]vector.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		sim := chunkindex.CosineSimilarity(queryVector, c.Embedding)
		if sim < 0 {
			sim = 0
		}
		scored = append(scored, vector.ScoredChunk{Chunk: c, Score: sim})
	}
	return topChunks(scored, fetchK)
}

func scoreChunksByTerms(query string, chunks []models.DocumentChunk, fetchK int) []vector.ScoredChunk {
	terms := strings.Fields(strings.ToLower(query))

	scored := make([]vector.ScoredChunk, 0, len(chunks))
	var max float64
	for _, c := range chunks {
		text := strings.ToLower(c.Text)
		var score float64
		for _, term := range terms {
			if len(term) == 0 {
				continue
			}
			score += float64(strings.Count(text, term)) * float64(len(term))
		}
		if score > 0 {
			scored = append(scored, vector.ScoredChunk{Chunk: c, Score: score})
			if score > max {
				max = score
			}
		}
	}
	if max > 0 {
		for i := range scored {
			scored[i].Score /= max
		}
	}
	return topChunks(scored, fetchK)
}

func topChunks(scored []vector.ScoredChunk, fetchK int) []vector.ScoredChunk {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if fetchK > 0 && len(scored) > fetchK {
		scored = scored[:fetchK]
	}
	return scored
}

// foldChunks groups chunks by parent document, scores each document by
// its best chunk, and substitutes document content with the top chunks
// in document order.
func foldChunks(scored []vector.ScoredChunk, documents []models.Document, topK int) ([]models.Document, []float64) {
	byID := make(map[string]models.Document, len(documents))
	for _, d := range documents {
		byID[d.ID] = d
	}

	type docAgg struct {
		best   float64
		chunks []vector.ScoredChunk
	}
	aggs := make(map[string]*docAgg)
	order := make([]string, 0)

	for _, sc := range scored {
		agg, ok := aggs[sc.Chunk.DocumentID]
		if !ok {
			agg = &docAgg{}
			aggs[sc.Chunk.DocumentID] = agg
			order = append(order, sc.Chunk.DocumentID)
		}
		if sc.Score > agg.best {
			agg.best = sc.Score
		}
		agg.chunks = append(agg.chunks, sc)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return aggs[order[i]].best > aggs[order[j]].best
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	docs := make([]models.Document, 0, len(order))
	scores := make([]float64, 0, len(order))
	for _, docID := range order {
		agg := aggs[docID]

		doc, known := byID[docID]
		if !known {
			doc = models.Document{ID: docID}
		}

		best := agg.chunks
		sort.SliceStable(best, func(i, j int) bool {
			return best[i].Score > best[j].Score
		})
		if len(best) > bestChunksPerDoc {
			best = best[:bestChunksPerDoc]
		}
		sort.SliceStable(best, func(i, j int) bool {
			return best[i].Chunk.ChunkIndex < best[j].Chunk.ChunkIndex
		})

		parts := make([]string, 0, len(best))
		for _, b := range best {
			parts = append(parts, b.Chunk.Text)
		}
		doc.Content = strings.Join(parts, "\n\n")

		docs = append(docs, doc)
		scores = append(scores, clampScore(agg.best))
	}
	return docs, scores
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
