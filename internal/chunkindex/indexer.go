package chunkindex

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/llm"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/utils"
)

// embeddingCacheTTL bounds how long provider embeddings are reused.
const embeddingCacheTTL = 24 * time.Hour

// EmbeddingCache persists provider embeddings across restarts, keyed by
// text hash. Simulated embeddings are never cached; they are
// deterministic and cheaper than the round trip.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Indexer turns documents into embedded chunks. Embeddings come from the
// injected provider; when the provider is absent or fails, deterministic
// simulated embeddings are substituted so chunking never produces a chunk
// without a vector.
type Indexer struct {
	cfg      ChunkerConfig
	embedder llm.Embedder
	cache    EmbeddingCache
	dim      int
	logger   *zap.Logger
}

func NewIndexer(cfg ChunkerConfig, embedder llm.Embedder, dim int, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dim <= 0 {
		dim = DefaultEmbeddingDim
	}
	return &Indexer{cfg: cfg, embedder: embedder, dim: dim, logger: logger}
}

// SetEmbeddingCache wires an embedding cache. Optional.
func (ix *Indexer) SetEmbeddingCache(c EmbeddingCache) {
	ix.cache = c
}

// ChunkDocument splits a document and embeds each chunk. Chunk indices are
// strictly increasing; chunk sets are replaced wholesale on re-ingestion,
// never patched.
func (ix *Indexer) ChunkDocument(ctx context.Context, doc models.Document) ([]models.DocumentChunk, error) {
	strategy := doc.ChunkStrategy
	if strategy == "" {
		strategy = models.ChunkSemantic
	}

	pieces := ChunkText(doc.Content, strategy, ix.cfg)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("document %s produced no chunks", doc.ID)
	}

	embeddings := ix.embedAll(ctx, pieces)

	now := time.Now()
	chunks := make([]models.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.DocumentChunk{
			ID:              fmt.Sprintf("%s_chunk_%d", doc.ID, i),
			DocumentID:      doc.ID,
			KnowledgeBaseID: doc.KnowledgeBaseID,
			ChunkIndex:      i,
			Text:            piece.Text,
			StartIndex:      piece.StartIndex,
			EndIndex:        piece.EndIndex,
			Tokens:          piece.Tokens,
			Embedding:       embeddings[i],
			Strategy:        strategy,
			CreatedAt:       now,
		}
	}

	ix.logger.Info("Document chunked",
		zap.String("doc_id", doc.ID),
		zap.String("strategy", string(strategy)),
		zap.Int("chunks", len(chunks)),
	)

	return chunks, nil
}

// EmbedQuery embeds a single query string with the same fallback rules as
// document chunks.
func (ix *Indexer) EmbedQuery(ctx context.Context, query string) []float32 {
	if vector, ok := ix.cachedEmbedding(ctx, query); ok {
		return vector
	}

	if ix.embedder != nil {
		vector, err := ix.embedder.GenerateEmbedding(ctx, query)
		if err == nil && len(vector) > 0 {
			ix.storeEmbedding(ctx, query, vector)
			return vector
		}
		if err != nil {
			ix.logger.Warn("Query embedding failed, using simulated vector", zap.Error(err))
		}
	}
	return SimulatedEmbedding(query, ix.dim)
}

func (ix *Indexer) embedAll(ctx context.Context, pieces []Chunk) [][]float32 {
	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}

	vectors := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := ix.cachedEmbedding(ctx, text); ok {
			vectors[i] = v
		} else {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return vectors
	}

	if ix.embedder != nil {
		pending := make([]string, len(missing))
		for i, idx := range missing {
			pending[i] = texts[idx]
		}
		embedded, err := ix.embedder.GenerateBatchEmbeddings(ctx, pending)
		if err == nil && len(embedded) == len(pending) {
			for i, idx := range missing {
				vectors[idx] = embedded[i]
				ix.storeEmbedding(ctx, texts[idx], embedded[i])
			}
			return vectors
		}
		if err != nil {
			ix.logger.Warn("Batch embedding failed, using simulated vectors", zap.Error(err))
		}
	}

	for _, idx := range missing {
		vectors[idx] = SimulatedEmbedding(texts[idx], ix.dim)
	}
	return vectors
}

func (ix *Indexer) cachedEmbedding(ctx context.Context, text string) ([]float32, bool) {
	if ix.cache == nil {
		return nil, false
	}
	vector, hit, err := ix.cache.GetEmbedding(ctx, utils.HashString(text))
	if err != nil {
		ix.logger.Warn("Embedding cache lookup failed", zap.Error(err))
		return nil, false
	}
	return vector, hit && len(vector) > 0
}

func (ix *Indexer) storeEmbedding(ctx context.Context, text string, vector []float32) {
	if ix.cache == nil {
		return
	}
	if err := ix.cache.SetEmbedding(ctx, utils.HashString(text), vector, embeddingCacheTTL); err != nil {
		ix.logger.Warn("Embedding cache store failed", zap.Error(err))
	}
}
