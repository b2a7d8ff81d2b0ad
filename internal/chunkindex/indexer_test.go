package chunkindex

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/utils"
)

type fakeEmbedder struct {
	mu         sync.Mutex
	single     int
	batch      int
	batchTexts int
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.single++
	return []float32{float32(len(text)), 1, 0, 0}, nil
}

func (f *fakeEmbedder) GenerateBatchEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batch++
	f.batchTexts += len(texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1, 0, 0}
	}
	return out, nil
}

type memoryEmbeddingCache struct {
	mu      sync.Mutex
	entries map[string][]float32
}

func newMemoryEmbeddingCache() *memoryEmbeddingCache {
	return &memoryEmbeddingCache{entries: make(map[string][]float32)}
}

func (m *memoryEmbeddingCache) GetEmbedding(_ context.Context, textHash string) ([]float32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[textHash]
	return v, ok, nil
}

func (m *memoryEmbeddingCache) SetEmbedding(_ context.Context, textHash string, embedding []float32, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[textHash] = embedding
	return nil
}

func TestChunkDocumentSimulatedFallback(t *testing.T) {
	ix := NewIndexer(DefaultChunkerConfig(), nil, 64, nil)

	doc := models.Document{
		ID:              "doc-1",
		KnowledgeBaseID: "kb",
		Content:         sampleDoc,
		ChunkStrategy:   models.ChunkSemantic,
	}

	chunks, err := ix.ChunkDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, "doc-1", c.DocumentID)
		assert.Equal(t, "kb", c.KnowledgeBaseID)
		assert.Equal(t, models.ChunkSemantic, c.Strategy)
		assert.Len(t, c.Embedding, 64)
		assert.Equal(t, SimulatedEmbedding(c.Text, 64), c.Embedding)
	}
}

func TestChunkDocumentDefaultsToSemantic(t *testing.T) {
	ix := NewIndexer(DefaultChunkerConfig(), nil, 32, nil)

	chunks, err := ix.ChunkDocument(context.Background(), models.Document{
		ID:      "doc-2",
		Content: sampleDoc,
	})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, models.ChunkSemantic, chunks[0].Strategy)
}

func TestChunkDocumentEmptyContent(t *testing.T) {
	ix := NewIndexer(DefaultChunkerConfig(), nil, 32, nil)

	_, err := ix.ChunkDocument(context.Background(), models.Document{ID: "doc-3"})
	assert.Error(t, err)
}

func TestEmbedQueryWithoutProvider(t *testing.T) {
	ix := NewIndexer(DefaultChunkerConfig(), nil, 48, nil)

	vector := ix.EmbedQuery(context.Background(), "what is a vector index")
	assert.Equal(t, SimulatedEmbedding("what is a vector index", 48), vector)
}

func TestEmbedQueryServesRepeatFromCache(t *testing.T) {
	embedder := &fakeEmbedder{}
	cache := newMemoryEmbeddingCache()
	ix := NewIndexer(DefaultChunkerConfig(), embedder, 4, nil)
	ix.SetEmbeddingCache(cache)

	first := ix.EmbedQuery(context.Background(), "what is replication")
	second := ix.EmbedQuery(context.Background(), "what is replication")

	assert.Equal(t, first, second)
	assert.Equal(t, 1, embedder.single, "repeat query must come from the cache")
	_, ok := cache.entries[utils.HashString("what is replication")]
	assert.True(t, ok)
}

func TestEmbedAllSkipsCachedChunks(t *testing.T) {
	embedder := &fakeEmbedder{}
	cache := newMemoryEmbeddingCache()
	ix := NewIndexer(DefaultChunkerConfig(), embedder, 4, nil)
	ix.SetEmbeddingCache(cache)

	doc := models.Document{ID: "doc-c", KnowledgeBaseID: "kb", Content: sampleDoc}

	chunks, err := ix.ChunkDocument(context.Background(), doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	firstBatch := embedder.batchTexts

	// Re-ingesting the same content finds every chunk embedding cached.
	again, err := ix.ChunkDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, again, len(chunks))
	assert.Equal(t, firstBatch, embedder.batchTexts, "no chunk should be re-embedded")
	assert.Equal(t, 1, embedder.batch)

	for i := range chunks {
		assert.Equal(t, chunks[i].Embedding, again[i].Embedding)
	}
}

func TestSimulatedEmbeddingsAreNotCached(t *testing.T) {
	cache := newMemoryEmbeddingCache()
	ix := NewIndexer(DefaultChunkerConfig(), nil, 16, nil)
	ix.SetEmbeddingCache(cache)

	vector := ix.EmbedQuery(context.Background(), "no provider wired")

	assert.Equal(t, SimulatedEmbedding("no provider wired", 16), vector)
	assert.Empty(t, cache.entries)
}
