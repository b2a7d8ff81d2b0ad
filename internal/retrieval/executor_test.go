package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/search/azure"
	"github.com/ragmind/backend/internal/storage/models"
)

type fakeRemote struct {
	mu   sync.Mutex
	hits []azure.Hit
	err  error

	searchCalls int
	vectorCalls int
	hybridCalls int
}

func (f *fakeRemote) Search(_ context.Context, _, _ string, _ int) ([]azure.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	return f.hits, f.err
}

func (f *fakeRemote) VectorSearch(_ context.Context, _ string, _ []float32, _ int) ([]azure.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectorCalls++
	return f.hits, f.err
}

func (f *fakeRemote) HybridSearch(_ context.Context, _, _ string, _ []float32, _ int) ([]azure.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hybridCalls++
	return f.hits, f.err
}

type fakeChunkSource struct {
	chunks []models.DocumentChunk
	err    error
}

func (f *fakeChunkSource) ChunksForKB(_ context.Context, _ string) ([]models.DocumentChunk, error) {
	return f.chunks, f.err
}

type fakeExpander struct {
	variations []string
}

func (f *fakeExpander) ExpandQuery(_ context.Context, query string) []string {
	if len(f.variations) == 0 {
		return []string{query}
	}
	return f.variations
}

func newTestExecutor(t *testing.T, opts ...ExecutorOption) *Executor {
	t.Helper()
	ix := chunkindex.NewIndexer(chunkindex.DefaultChunkerConfig(), nil, 32, nil)
	return NewExecutor(ix, zap.NewNop(), opts...)
}

func testCorpus() []models.Document {
	return []models.Document{
		{ID: "d1", KnowledgeBaseID: "kb", Title: "Replication", Content: "replication copies data across nodes for durability"},
		{ID: "d2", KnowledgeBaseID: "kb", Title: "Sharding", Content: "sharding splits data across partitions by key"},
		{ID: "d3", KnowledgeBaseID: "kb", Title: "Backups", Content: "backups snapshot data to object storage on a schedule"},
		{ID: "d4", KnowledgeBaseID: "kb", Title: "Cooking", Content: "an unrelated note about baking sourdough bread"},
	}
}

func TestExecuteRetrievalDirectAnswer(t *testing.T) {
	remote := &fakeRemote{}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "hello", testCorpus(), models.StrategyDirectAnswer, 5, nil)
	require.NoError(t, err)

	assert.Empty(t, result.Documents)
	assert.Empty(t, result.Scores)
	assert.Equal(t, models.StrategyDirectAnswer, result.Method)
	assert.Zero(t, remote.searchCalls+remote.vectorCalls+remote.hybridCalls)
}

func TestExecuteRetrievalUnknownStrategy(t *testing.T) {
	e := newTestExecutor(t)

	_, err := e.ExecuteRetrieval(context.Background(), "q", testCorpus(), models.Strategy("graph"), 5, nil)
	assert.Error(t, err)
}

func TestExecuteRetrievalScoreInvariants(t *testing.T) {
	for _, strategy := range models.RetrievalStrategies {
		t.Run(string(strategy), func(t *testing.T) {
			e := newTestExecutor(t)

			result, err := e.ExecuteRetrieval(context.Background(), "replication durability", testCorpus(), strategy, 3, nil)
			require.NoError(t, err)

			assert.Equal(t, strategy, result.Method)
			assert.Equal(t, "replication durability", result.QueryUsed)
			require.Equal(t, len(result.Documents), len(result.Scores))
			assert.LessOrEqual(t, len(result.Documents), 3)
			for i, s := range result.Scores {
				assert.GreaterOrEqual(t, s, 0.0, "score %d", i)
				assert.LessOrEqual(t, s, 1.0, "score %d", i)
				if i > 0 {
					assert.LessOrEqual(t, s, result.Scores[i-1], "scores must be ranked")
				}
			}
		})
	}
}

func TestExecuteRetrievalCacheHit(t *testing.T) {
	e := newTestExecutor(t)

	first, err := e.ExecuteRetrieval(context.Background(), "replication", testCorpus(), models.StrategyKeyword, 3, nil)
	require.NoError(t, err)
	assert.False(t, first.Metadata.CacheHit)

	second, err := e.ExecuteRetrieval(context.Background(), "replication", testCorpus(), models.StrategyKeyword, 3, nil)
	require.NoError(t, err)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, first.Documents, second.Documents)
}

func TestKeywordRemoteSuccess(t *testing.T) {
	remote := &fakeRemote{hits: []azure.Hit{
		{ID: "c1", DocumentID: "d2", Content: "sharding chunk", Score: 4.0},
		{ID: "c2", DocumentID: "d1", Score: 2.0},
	}}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "sharding", testCorpus(), models.StrategyKeyword, 5, nil)
	require.NoError(t, err)

	assert.Equal(t, backendAzure, result.Metadata.Backend)
	require.Len(t, result.Documents, 2)
	assert.Equal(t, "d2", result.Documents[0].ID)
	assert.Equal(t, "sharding chunk", result.Documents[0].Content)
	assert.InDelta(t, 1.0, result.Scores[0], 1e-9)
	assert.InDelta(t, 0.5, result.Scores[1], 1e-9)
}

func TestSemanticRemoteRerankerScore(t *testing.T) {
	remote := &fakeRemote{hits: []azure.Hit{
		{DocumentID: "d1", Score: 12.0, RerankerScore: 3.2},
	}}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "replication", testCorpus(), models.StrategySemantic, 5, nil)
	require.NoError(t, err)

	require.Len(t, result.Scores, 1)
	assert.InDelta(t, 0.8, result.Scores[0], 1e-9)
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	remote := &fakeRemote{err: errors.New("service unavailable")}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "replication durability", testCorpus(), models.StrategyKeyword, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, backendLocal, result.Metadata.Backend)
	assert.Contains(t, result.Metadata.FallbackReason, "remote keyword search failed")
	require.NotEmpty(t, result.Documents)
	assert.Equal(t, "d1", result.Documents[0].ID)
}

func TestRemoteEmptyHitsTreatedAsFailure(t *testing.T) {
	remote := &fakeRemote{hits: nil}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "replication", testCorpus(), models.StrategyKeyword, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, backendLocal, result.Metadata.Backend)
	assert.NotEmpty(t, result.Metadata.FallbackReason)
}

func TestRemoteUnmappableHitsFallBack(t *testing.T) {
	remote := &fakeRemote{hits: []azure.Hit{
		{DocumentID: "unknown-1", Score: 1.0},
		{DocumentID: "unknown-2", Score: 0.5},
	}}
	e := newTestExecutor(t, WithRemoteSearcher(remote))

	result, err := e.ExecuteRetrieval(context.Background(), "replication", testCorpus(), models.StrategyKeyword, 3, nil)
	require.NoError(t, err)

	assert.Equal(t, backendLocal, result.Metadata.Backend)
	assert.Contains(t, result.Metadata.FallbackReason, "could not be mapped")
}

func TestSemanticChunkFallback(t *testing.T) {
	docs := testCorpus()
	chunks := []models.DocumentChunk{
		{ID: "d1_chunk_0", DocumentID: "d1", KnowledgeBaseID: "kb", ChunkIndex: 0, Text: "replication copies data across nodes", Embedding: chunkindex.SimulatedEmbedding("replication copies data across nodes", 32)},
		{ID: "d2_chunk_0", DocumentID: "d2", KnowledgeBaseID: "kb", ChunkIndex: 0, Text: "sharding splits data by key", Embedding: chunkindex.SimulatedEmbedding("sharding splits data by key", 32)},
	}
	e := newTestExecutor(t, WithChunkSource(&fakeChunkSource{chunks: chunks}))

	result, err := e.ExecuteRetrieval(context.Background(), "replication copies data across nodes", docs, models.StrategySemantic, 2, nil)
	require.NoError(t, err)

	assert.Equal(t, backendLocal, result.Metadata.Backend)
	assert.True(t, result.Metadata.ChunkBased)
	require.NotEmpty(t, result.Documents)
	assert.Equal(t, "d1", result.Documents[0].ID)
	assert.Equal(t, "replication copies data across nodes", result.Documents[0].Content)
	assert.InDelta(t, 1.0, result.Scores[0], 1e-6)
}

func TestMapHitsNoneResolved(t *testing.T) {
	_, _, ok := mapHits([]azure.Hit{{DocumentID: "nope"}}, testCorpus(), 5)
	assert.False(t, ok)
}

func TestKnowledgeBaseOf(t *testing.T) {
	assert.Equal(t, "kb", knowledgeBaseOf(testCorpus()))
	assert.Equal(t, "", knowledgeBaseOf(nil))
}

func TestJoinReasons(t *testing.T) {
	assert.Equal(t, "", joinReasons("", ""))
	assert.Equal(t, "a", joinReasons("a", ""))
	assert.Equal(t, "a; b", joinReasons("a", "b"))
}
