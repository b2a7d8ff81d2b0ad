package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/vector"
)

// Client stores chunk embeddings in a Milvus collection and answers
// similarity queries scoped to a knowledge base.
type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
	logger         *zap.Logger
}

func NewClient(endpoint, collectionName string, vectorDim int, log *zap.Logger) (*Client, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	log.Info("milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Client{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		logger:         log,
	}, nil
}

func (m *Client) Close() error {
	return m.client.Close()
}

func (m *Client) EnsureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: m.collectionName,
		Description:    "knowledge base chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       "chunk_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", m.vectorDim),
				},
			},
			{
				Name:       "text",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "8192"},
			},
			{
				Name:       "kb_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:       "doc_id",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "128"},
			},
			{
				Name:     "chunk_index",
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, _ := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err := m.client.CreateIndex(ctx, m.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	m.logger.Info("collection created and loaded", zap.String("collection", m.collectionName))
	return nil
}

func (m *Client) Upsert(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))
	texts := make([]string, len(chunks))
	kbIDs := make([]string, len(chunks))
	docIDs := make([]string, len(chunks))
	chunkIndexes := make([]int64, len(chunks))
	createdAts := make([]int64, len(chunks))

	for i, c := range chunks {
		chunkIDs[i] = c.ID
		embeddings[i] = c.Embedding
		texts[i] = c.Text
		kbIDs[i] = c.KnowledgeBaseID
		docIDs[i] = c.DocumentID
		chunkIndexes[i] = int64(c.ChunkIndex)
		createdAts[i] = c.CreatedAt.Unix()
	}

	_, err := m.client.Upsert(
		ctx,
		m.collectionName,
		"",
		entity.NewColumnVarChar("chunk_id", chunkIDs),
		entity.NewColumnFloatVector("embedding", m.vectorDim, embeddings),
		entity.NewColumnVarChar("text", texts),
		entity.NewColumnVarChar("kb_id", kbIDs),
		entity.NewColumnVarChar("doc_id", docIDs),
		entity.NewColumnInt64("chunk_index", chunkIndexes),
		entity.NewColumnInt64("created_at", createdAts),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := m.client.Flush(ctx, m.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	m.logger.Info("chunks upserted into vector store", zap.Int("count", len(chunks)))
	return nil
}

func (m *Client) Query(ctx context.Context, kbID string, vec []float32, topK int) ([]vector.ScoredChunk, error) {
	expr := fmt.Sprintf(`kb_id == "%s"`, kbID)

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	searchResult, err := m.client.Search(
		ctx,
		m.collectionName,
		[]string{},
		expr,
		[]string{"chunk_id", "text", "kb_id", "doc_id", "chunk_index"},
		[]entity.Vector{entity.FloatVector(vec)},
		"embedding",
		entity.IP,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]vector.ScoredChunk, 0)
	for _, sr := range searchResult {
		chunkIDCol := sr.Fields.GetColumn("chunk_id")
		textCol := sr.Fields.GetColumn("text")
		kbIDCol := sr.Fields.GetColumn("kb_id")
		docIDCol := sr.Fields.GetColumn("doc_id")
		chunkIndexCol := sr.Fields.GetColumn("chunk_index")

		for i := 0; i < sr.ResultCount; i++ {
			chunkID, _ := chunkIDCol.Get(i)
			text, _ := textCol.Get(i)
			kb, _ := kbIDCol.Get(i)
			docID, _ := docIDCol.Get(i)
			chunkIndex, _ := chunkIndexCol.Get(i)

			results = append(results, vector.ScoredChunk{
				Chunk: models.DocumentChunk{
					ID:              chunkID.(string),
					Text:            text.(string),
					KnowledgeBaseID: kb.(string),
					DocumentID:      docID.(string),
					ChunkIndex:      int(chunkIndex.(int64)),
				},
				Score: clampScore(float64(sr.Scores[i])),
			})
		}
	}

	m.logger.Debug("vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(results)),
		zap.String("kbID", kbID),
	)
	return results, nil
}

func (m *Client) DeleteByDocument(ctx context.Context, kbID, docID string) error {
	expr := fmt.Sprintf(`kb_id == "%s" && doc_id == "%s"`, kbID, docID)
	if err := m.client.Delete(ctx, m.collectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// clampScore maps an inner-product score on unit vectors into [0,1].
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

var _ vector.Store = (*Client)(nil)
