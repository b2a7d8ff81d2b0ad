package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/vector"
)

// Store is an in-process vector index. It serves as the local fallback
// behind the managed index and backs single-node deployments.
type Store struct {
	mu     sync.RWMutex
	chunks map[string][]models.DocumentChunk
}

func NewStore() *Store {
	return &Store{chunks: make(map[string][]models.DocumentChunk)}
}

func (s *Store) Upsert(_ context.Context, chunks []models.DocumentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		existing := s.chunks[c.KnowledgeBaseID]
		replaced := false
		for i := range existing {
			if existing[i].ID == c.ID {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
		s.chunks[c.KnowledgeBaseID] = existing
	}
	return nil
}

func (s *Store) Query(_ context.Context, kbID string, vec []float32, topK int) ([]vector.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := s.chunks[kbID]
	scored := make([]vector.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		sim := chunkindex.CosineSimilarity(vec, c.Embedding)
		if sim < 0 {
			sim = 0
		}
		scored = append(scored, vector.ScoredChunk{Chunk: c, Score: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (s *Store) DeleteByDocument(_ context.Context, kbID, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.chunks[kbID]
	kept := existing[:0]
	for _, c := range existing {
		if c.DocumentID != docID {
			kept = append(kept, c)
		}
	}
	s.chunks[kbID] = kept
	return nil
}

// Count reports the number of chunks held for a knowledge base.
func (s *Store) Count(kbID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks[kbID])
}
