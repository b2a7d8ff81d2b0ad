package vector

import (
	"context"

	"github.com/ragmind/backend/internal/storage/models"
)

// ScoredChunk pairs a stored chunk with its similarity to the query
// vector, normalized into [0,1].
type ScoredChunk struct {
	Chunk models.DocumentChunk
	Score float64
}

// Store is the similarity-query capability the core requires. Concrete
// index engines live behind this interface.
type Store interface {
	Upsert(ctx context.Context, chunks []models.DocumentChunk) error
	Query(ctx context.Context, kbID string, vector []float32, topK int) ([]ScoredChunk, error)
	DeleteByDocument(ctx context.Context, kbID, docID string) error
}
