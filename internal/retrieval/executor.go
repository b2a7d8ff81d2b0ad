package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/search/azure"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/vector"
)

const defaultRemoteTimeout = 5 * time.Second

const (
	backendAzure = "azure"
	backendLocal = "local"
)

// Executor dispatches retrieval strategies. Every strategy follows a
// remote-first, local-fallback chain: managed search backend, then the
// chunk index, then in-process term matching. Remote failures are
// absorbed into metadata and never propagate to the caller.
type Executor struct {
	remote        RemoteSearcher
	vectorStore   vector.Store
	chunkSource   ChunkSource
	indexer       *chunkindex.Indexer
	expander      QueryExpander
	logger        *zap.Logger
	cache         *resultCache
	remoteTimeout time.Duration
}

type ExecutorOption func(*Executor)

func WithRemoteSearcher(r RemoteSearcher) ExecutorOption {
	return func(e *Executor) { e.remote = r }
}

func WithVectorStore(s vector.Store) ExecutorOption {
	return func(e *Executor) { e.vectorStore = s }
}

func WithChunkSource(s ChunkSource) ExecutorOption {
	return func(e *Executor) { e.chunkSource = s }
}

func WithQueryExpander(x QueryExpander) ExecutorOption {
	return func(e *Executor) { e.expander = x }
}

func WithRemoteTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.remoteTimeout = d }
}

func NewExecutor(indexer *chunkindex.Indexer, log *zap.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		indexer:       indexer,
		logger:        log,
		cache:         newResultCache(),
		remoteTimeout: defaultRemoteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecuteRetrieval runs one retrieval pass. direct_answer returns an
// empty result without side effects; all other strategies consult the
// short-TTL result cache first.
func (e *Executor) ExecuteRetrieval(ctx context.Context, query string, documents []models.Document, strategy models.Strategy, topK int, subQueries []string) (RetrievalResult, error) {
	if strategy == models.StrategyDirectAnswer {
		return RetrievalResult{
			Documents: []models.Document{},
			Scores:    []float64{},
			Method:    strategy,
			QueryUsed: query,
			Metadata:  Metadata{Backend: backendLocal},
		}, nil
	}
	if topK <= 0 {
		topK = 5
	}

	kbID := knowledgeBaseOf(documents)
	key := cacheKey(kbID, strategy, query, topK)
	if cached, ok := e.cache.get(key); ok {
		cached.Metadata.CacheHit = true
		return cached, nil
	}

	var result RetrievalResult
	switch strategy {
	case models.StrategySemantic:
		result = e.semanticChain(ctx, kbID, query, documents, topK, true)
	case models.StrategyKeyword:
		result = e.keywordChain(ctx, kbID, query, documents, topK, true)
	case models.StrategyHybrid:
		result = e.hybridChain(ctx, kbID, query, documents, topK)
	case models.StrategyMultiQuery:
		result = e.multiQuery(ctx, kbID, query, documents, topK, subQueries)
	case models.StrategyRAGFusion:
		result = e.ragFusion(ctx, kbID, query, documents, topK)
	default:
		return RetrievalResult{}, fmt.Errorf("unknown retrieval strategy: %s", strategy)
	}

	result.Method = strategy
	result.QueryUsed = query
	e.cache.set(key, result)

	e.logger.Debug("retrieval completed",
		zap.String("strategy", string(strategy)),
		zap.String("backend", result.Metadata.Backend),
		zap.Bool("chunkBased", result.Metadata.ChunkBased),
		zap.Int("results", len(result.Documents)),
	)
	return result, nil
}

func (e *Executor) semanticChain(ctx context.Context, kbID, query string, documents []models.Document, topK int, useRemote bool) RetrievalResult {
	var fallbackReason string

	if useRemote && e.remote != nil {
		queryVector := e.indexer.EmbedQuery(ctx, query)
		hits, err := e.remoteCall(ctx, func(rctx context.Context) ([]azure.Hit, error) {
			return e.remote.VectorSearch(rctx, kbID, queryVector, topK)
		})
		if err == nil {
			if docs, scores, ok := mapHits(hits, documents, topK); ok {
				return RetrievalResult{Documents: docs, Scores: scores, Metadata: Metadata{Backend: backendAzure}}
			}
			fallbackReason = "remote results could not be mapped to known documents"
		} else {
			fallbackReason = fmt.Sprintf("remote vector search failed: %v", err)
		}
		e.logger.Warn("remote semantic retrieval fell back", zap.String("reason", fallbackReason))
	}

	return e.localChain(ctx, kbID, query, models.StrategySemantic, documents, topK, fallbackReason)
}

func (e *Executor) keywordChain(ctx context.Context, kbID, query string, documents []models.Document, topK int, useRemote bool) RetrievalResult {
	var fallbackReason string

	if useRemote && e.remote != nil {
		hits, err := e.remoteCall(ctx, func(rctx context.Context) ([]azure.Hit, error) {
			return e.remote.Search(rctx, kbID, query, topK)
		})
		if err == nil {
			if docs, scores, ok := mapHits(hits, documents, topK); ok {
				return RetrievalResult{Documents: docs, Scores: scores, Metadata: Metadata{Backend: backendAzure}}
			}
			fallbackReason = "remote results could not be mapped to known documents"
		} else {
			fallbackReason = fmt.Sprintf("remote keyword search failed: %v", err)
		}
		e.logger.Warn("remote keyword retrieval fell back", zap.String("reason", fallbackReason))
	}

	return e.localChain(ctx, kbID, query, models.StrategyKeyword, documents, topK, fallbackReason)
}

// localChain is steps two and three of the fallback chain: chunk-based
// retrieval first, then in-process term matching over full documents.
func (e *Executor) localChain(ctx context.Context, kbID, query string, strategy models.Strategy, documents []models.Document, topK int, fallbackReason string) RetrievalResult {
	docs, scores, chunkReason, ok := e.chunkRetrieve(ctx, kbID, query, strategy, documents, topK)
	if ok {
		return RetrievalResult{
			Documents: docs,
			Scores:    scores,
			Metadata: Metadata{
				Backend:        backendLocal,
				ChunkBased:     true,
				FallbackReason: joinReasons(fallbackReason, chunkReason),
			},
		}
	}

	docs, scores = localTermMatch(query, documents, topK)
	return RetrievalResult{
		Documents: docs,
		Scores:    scores,
		Metadata: Metadata{
			Backend:        backendLocal,
			FallbackReason: joinReasons(fallbackReason, chunkReason),
		},
	}
}

func (e *Executor) remoteCall(ctx context.Context, call func(context.Context) ([]azure.Hit, error)) ([]azure.Hit, error) {
	rctx, cancel := context.WithTimeout(ctx, e.remoteTimeout)
	defer cancel()

	hits, err := call(rctx)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("remote backend returned no results")
	}
	return hits, nil
}

// mapHits translates remote hits back to local documents. Hits that do
// not resolve to a known document are dropped; if none resolve the
// remote pass is treated as a failure.
func mapHits(hits []azure.Hit, documents []models.Document, topK int) ([]models.Document, []float64, bool) {
	byID := make(map[string]models.Document, len(documents))
	for _, d := range documents {
		byID[d.ID] = d
	}

	var maxScore float64
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	docs := make([]models.Document, 0, len(hits))
	scores := make([]float64, 0, len(hits))
	for _, h := range hits {
		doc, ok := byID[h.DocumentID]
		if !ok {
			doc, ok = byID[h.ID]
		}
		if !ok {
			continue
		}
		if h.Content != "" {
			doc.Content = h.Content
		}

		score := h.Score
		if h.RerankerScore > 0 {
			// reranker scores are on a 0-4 scale
			score = h.RerankerScore / 4
		} else if maxScore > 0 {
			score = h.Score / maxScore
		}

		docs = append(docs, doc)
		scores = append(scores, clampScore(score))
		if len(docs) == topK {
			break
		}
	}

	if len(docs) == 0 {
		return nil, nil, false
	}
	return docs, scores, true
}

func knowledgeBaseOf(documents []models.Document) string {
	for _, d := range documents {
		if d.KnowledgeBaseID != "" {
			return d.KnowledgeBaseID
		}
	}
	return ""
}

func joinReasons(reasons ...string) string {
	out := ""
	for _, r := range reasons {
		if r == "" {
			continue
		}
		if out != "" {
			out += "; "
		}
		out += r
	}
	return out
}
