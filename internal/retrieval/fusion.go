package retrieval

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/search/azure"
	"github.com/ragmind/backend/internal/storage/models"
)

const (
	hybridSemanticWeight = 0.6
	hybridKeywordWeight  = 0.4
	rrfConstant          = 60
	appearanceBoost      = 0.1
)

// hybridChain tries the backend's combined vector+keyword+rerank search
// first, then falls back to a manual fan-out of the semantic and
// keyword chains combined 0.6/0.4.
func (e *Executor) hybridChain(ctx context.Context, kbID, query string, documents []models.Document, topK int) RetrievalResult {
	var fallbackReason string

	if e.remote != nil {
		queryVector := e.indexer.EmbedQuery(ctx, query)
		hits, err := e.remoteCall(ctx, func(rctx context.Context) ([]azure.Hit, error) {
			return e.remote.HybridSearch(rctx, kbID, query, queryVector, topK)
		})
		if err == nil {
			if docs, scores, ok := mapHits(hits, documents, topK); ok {
				return RetrievalResult{Documents: docs, Scores: scores, Metadata: Metadata{Backend: backendAzure}}
			}
			fallbackReason = "remote results could not be mapped to known documents"
		} else {
			fallbackReason = fmt.Sprintf("remote hybrid search failed: %v", err)
		}
		e.logger.Warn("remote hybrid retrieval fell back", zap.String("reason", fallbackReason))
	}

	var semantic, keyword RetrievalResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		semantic = e.semanticChain(ctx, kbID, query, documents, topK, false)
	}()
	go func() {
		defer wg.Done()
		keyword = e.keywordChain(ctx, kbID, query, documents, topK, false)
	}()
	wg.Wait()

	docs, scores := combineWeighted(semantic, keyword, topK)
	return RetrievalResult{
		Documents: docs,
		Scores:    scores,
		Metadata: Metadata{
			Backend:        backendLocal,
			ChunkBased:     semantic.Metadata.ChunkBased || keyword.Metadata.ChunkBased,
			FallbackReason: joinReasons(fallbackReason, semantic.Metadata.FallbackReason),
		},
	}
}

// combineWeighted unions the two branch candidate sets. A document
// missing from one branch contributes zero for that branch.
func combineWeighted(semantic, keyword RetrievalResult, topK int) ([]models.Document, []float64) {
	type combined struct {
		doc   models.Document
		score float64
	}
	byID := make(map[string]*combined)
	order := make([]string, 0)

	for i, doc := range semantic.Documents {
		byID[doc.ID] = &combined{doc: doc, score: hybridSemanticWeight * semantic.Scores[i]}
		order = append(order, doc.ID)
	}
	for i, doc := range keyword.Documents {
		if c, ok := byID[doc.ID]; ok {
			c.score += hybridKeywordWeight * keyword.Scores[i]
			continue
		}
		byID[doc.ID] = &combined{doc: doc, score: hybridKeywordWeight * keyword.Scores[i]}
		order = append(order, doc.ID)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return byID[order[i]].score > byID[order[j]].score
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	docs := make([]models.Document, len(order))
	scores := make([]float64, len(order))
	for i, id := range order {
		docs[i] = byID[id].doc
		scores[i] = clampScore(byID[id].score)
	}
	return docs, scores
}

// multiQuery runs hybrid retrieval per sub-query concurrently and
// boosts documents surfaced by more sub-queries. Without sub-queries it
// degrades to hybrid on the original query.
func (e *Executor) multiQuery(ctx context.Context, kbID, query string, documents []models.Document, topK int, subQueries []string) RetrievalResult {
	if len(subQueries) == 0 {
		result := e.hybridChain(ctx, kbID, query, documents, topK)
		result.Metadata.FallbackReason = joinReasons("no sub-queries supplied, degraded to hybrid", result.Metadata.FallbackReason)
		return result
	}

	results := e.fanOutHybrid(ctx, kbID, documents, subQueries, topK)

	type agg struct {
		doc   models.Document
		sum   float64
		count int
	}
	byID := make(map[string]*agg)
	order := make([]string, 0)

	for _, res := range results {
		for i, doc := range res.Documents {
			a, ok := byID[doc.ID]
			if !ok {
				a = &agg{doc: doc}
				byID[doc.ID] = a
				order = append(order, doc.ID)
			}
			a.sum += res.Scores[i]
			a.count++
		}
	}

	scoresByID := make(map[string]float64, len(byID))
	var max float64
	for id, a := range byID {
		mean := a.sum / float64(a.count)
		score := mean * (1 + appearanceBoost*float64(a.count))
		scoresByID[id] = score
		if score > max {
			max = score
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scoresByID[order[i]] > scoresByID[order[j]]
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	docs := make([]models.Document, len(order))
	scores := make([]float64, len(order))
	for i, id := range order {
		docs[i] = byID[id].doc
		score := scoresByID[id]
		if max > 1 {
			score /= max
		}
		scores[i] = clampScore(score)
	}

	return RetrievalResult{
		Documents: docs,
		Scores:    scores,
		Metadata:  compositeMetadata(results),
	}
}

// ragFusion expands the query into variations, retrieves per variation
// at double depth, and merges the ranked lists with reciprocal rank
// fusion. Scores are normalized so the top document is exactly 1.0.
func (e *Executor) ragFusion(ctx context.Context, kbID, query string, documents []models.Document, topK int) RetrievalResult {
	variations := []string{query}
	if e.expander != nil {
		variations = e.expander.ExpandQuery(ctx, query)
		if len(variations) == 0 {
			variations = []string{query}
		}
	}

	results := e.fanOutHybrid(ctx, kbID, documents, variations, topK*2)

	fused := make(map[string]float64)
	docsByID := make(map[string]models.Document)
	order := make([]string, 0)

	for _, res := range results {
		for rank, doc := range res.Documents {
			if _, ok := docsByID[doc.ID]; !ok {
				docsByID[doc.ID] = doc
				order = append(order, doc.ID)
			}
			fused[doc.ID] += 1.0 / float64(rrfConstant+rank+1)
		}
	}

	var max float64
	for _, score := range fused {
		if score > max {
			max = score
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return fused[order[i]] > fused[order[j]]
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	docs := make([]models.Document, len(order))
	scores := make([]float64, len(order))
	for i, id := range order {
		docs[i] = docsByID[id]
		if max > 0 {
			scores[i] = fused[id] / max
		}
	}

	return RetrievalResult{
		Documents: docs,
		Scores:    scores,
		Metadata:  compositeMetadata(results),
	}
}

func (e *Executor) fanOutHybrid(ctx context.Context, kbID string, documents []models.Document, queries []string, topK int) []RetrievalResult {
	results := make([]RetrievalResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			results[i] = e.hybridChain(ctx, kbID, q, documents, topK)
		}(i, q)
	}
	wg.Wait()
	return results
}

func compositeMetadata(results []RetrievalResult) Metadata {
	meta := Metadata{Backend: backendAzure}
	for _, res := range results {
		if res.Metadata.Backend != backendAzure {
			meta.Backend = backendLocal
		}
		if res.Metadata.ChunkBased {
			meta.ChunkBased = true
		}
		if meta.FallbackReason == "" {
			meta.FallbackReason = res.Metadata.FallbackReason
		}
	}
	if len(results) == 0 {
		meta.Backend = backendLocal
	}
	return meta
}
