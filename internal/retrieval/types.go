package retrieval

import (
	"context"

	"github.com/ragmind/backend/internal/search/azure"
	"github.com/ragmind/backend/internal/storage/models"
)

// Metadata records which path produced a result. Callers surface these
// fields for debugging; a fallback never fails the pipeline itself.
type Metadata struct {
	Backend        string `json:"backend"` // azure or local
	ChunkBased     bool   `json:"chunkBased"`
	FallbackReason string `json:"fallbackReason,omitempty"`
	CacheHit       bool   `json:"cacheHit"`
}

// RetrievalResult is the ranked output of one retrieval pass.
// Documents and Scores are always the same length and every score is
// in [0,1].
type RetrievalResult struct {
	Documents []models.Document `json:"documents"`
	Scores    []float64         `json:"scores"`
	Method    models.Strategy   `json:"method"`
	QueryUsed string            `json:"queryUsed"`
	Metadata  Metadata          `json:"metadata"`
}

// RemoteSearcher is the managed search backend tried first by every
// strategy. Failures are absorbed into the fallback chain.
type RemoteSearcher interface {
	Search(ctx context.Context, kbID, query string, topK int) ([]azure.Hit, error)
	VectorSearch(ctx context.Context, kbID string, vector []float32, topK int) ([]azure.Hit, error)
	HybridSearch(ctx context.Context, kbID, query string, vector []float32, topK int) ([]azure.Hit, error)
}

// ChunkSource is the key-value fallback consulted when the vector store
// is unavailable.
type ChunkSource interface {
	ChunksForKB(ctx context.Context, kbID string) ([]models.DocumentChunk, error)
}

// QueryExpander produces query variations for fusion retrieval.
type QueryExpander interface {
	ExpandQuery(ctx context.Context, query string) []string
}
