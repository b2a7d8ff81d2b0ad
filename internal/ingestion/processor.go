package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/cache/redis"
	"github.com/ragmind/backend/internal/chunkindex"
	"github.com/ragmind/backend/internal/metrics"
	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/internal/storage/sqlite"
	"github.com/ragmind/backend/internal/vector"
)

// Processor ingests documents into the knowledge base: chunking,
// embedding, vector store upsert, chunk cache and durable metadata. It
// also serves the in-memory corpus the agent retrieves against.
// Re-ingesting a document replaces its chunks wholesale, never
// partially.
type Processor struct {
	indexer     *chunkindex.Indexer
	vectorStore vector.Store
	cache       *redis.Client
	db          *sqlite.Client
	logger      *zap.Logger

	mu     sync.RWMutex
	docs   map[string]map[string]models.Document      // kbID -> docID -> doc
	chunks map[string]map[string][]models.DocumentChunk // kbID -> docID -> chunks
}

type Option func(*Processor)

func WithVectorStore(s vector.Store) Option {
	return func(p *Processor) { p.vectorStore = s }
}

func WithCache(c *redis.Client) Option {
	return func(p *Processor) { p.cache = c }
}

func WithDatabase(db *sqlite.Client) Option {
	return func(p *Processor) { p.db = db }
}

func NewProcessor(indexer *chunkindex.Indexer, log *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		indexer: indexer,
		logger:  log,
		docs:    make(map[string]map[string]models.Document),
		chunks:  make(map[string]map[string][]models.DocumentChunk),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Restore reloads persisted documents and rebuilds their chunks so the
// corpus survives restarts.
func (p *Processor) Restore(ctx context.Context) error {
	if p.db == nil {
		return nil
	}

	docs, err := p.db.LoadAllDocuments()
	if err != nil {
		return fmt.Errorf("failed to restore corpus: %w", err)
	}

	restored := 0
	for _, doc := range docs {
		if _, err := p.AddDocument(ctx, doc); err != nil {
			p.logger.Warn("failed to restore document",
				zap.String("doc_id", doc.ID), zap.Error(err))
			continue
		}
		restored++
	}

	p.logger.Info("corpus restored", zap.Int("documents", restored))
	return nil
}

// AddDocument runs the full ingestion pipeline and returns the number
// of chunks produced. Existing chunks for the same document are deleted
// first.
func (p *Processor) AddDocument(ctx context.Context, doc models.Document) (int, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.KnowledgeBaseID == "" {
		doc.KnowledgeBaseID = "default"
	}
	if doc.AddedAt.IsZero() {
		doc.AddedAt = time.Now()
	}

	if p.vectorStore != nil {
		if err := p.vectorStore.DeleteByDocument(ctx, doc.KnowledgeBaseID, doc.ID); err != nil {
			p.logger.Warn("failed to clear previous chunks", zap.Error(err))
		}
	}

	chunks, err := p.indexer.ChunkDocument(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk document: %w", err)
	}

	if p.vectorStore != nil {
		if err := p.vectorStore.Upsert(ctx, chunks); err != nil {
			p.logger.Warn("vector store upsert failed, chunk fallback remains available", zap.Error(err))
		}
	}
	if p.cache != nil {
		if err := p.cache.SetChunks(ctx, doc.KnowledgeBaseID, doc.ID, chunks); err != nil {
			p.logger.Warn("failed to cache chunks", zap.Error(err))
		}
		if err := p.cache.InvalidateQueryCache(ctx); err != nil {
			p.logger.Warn("failed to invalidate query cache", zap.Error(err))
		}
	}
	if p.db != nil {
		if err := p.db.InsertDocument(&doc); err != nil {
			p.logger.Warn("failed to persist document", zap.Error(err))
		}
	}

	p.mu.Lock()
	if p.docs[doc.KnowledgeBaseID] == nil {
		p.docs[doc.KnowledgeBaseID] = make(map[string]models.Document)
		p.chunks[doc.KnowledgeBaseID] = make(map[string][]models.DocumentChunk)
	}
	p.docs[doc.KnowledgeBaseID][doc.ID] = doc
	p.chunks[doc.KnowledgeBaseID][doc.ID] = chunks
	p.mu.Unlock()

	metrics.DocumentsIndexed.Inc()
	metrics.ChunksIndexed.Add(float64(len(chunks)))

	p.logger.Info("document ingested",
		zap.String("doc_id", doc.ID),
		zap.String("kb_id", doc.KnowledgeBaseID),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

func (p *Processor) DeleteDocument(ctx context.Context, kbID, docID string) error {
	if p.vectorStore != nil {
		if err := p.vectorStore.DeleteByDocument(ctx, kbID, docID); err != nil {
			p.logger.Warn("failed to delete chunks from vector store", zap.Error(err))
		}
	}
	if p.cache != nil {
		if err := p.cache.DeleteChunks(ctx, kbID, docID); err != nil {
			p.logger.Warn("failed to delete cached chunks", zap.Error(err))
		}
		if err := p.cache.InvalidateQueryCache(ctx); err != nil {
			p.logger.Warn("failed to invalidate query cache", zap.Error(err))
		}
	}
	if p.db != nil {
		if err := p.db.DeleteDocument(docID); err != nil {
			p.logger.Warn("failed to delete document record", zap.Error(err))
		}
	}

	p.mu.Lock()
	delete(p.docs[kbID], docID)
	delete(p.chunks[kbID], docID)
	p.mu.Unlock()

	p.logger.Info("document deleted", zap.String("doc_id", docID), zap.String("kb_id", kbID))
	return nil
}

// Documents returns the corpus for one knowledge base.
func (p *Processor) Documents(_ context.Context, kbID string) ([]models.Document, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	byID := p.docs[kbID]
	docs := make([]models.Document, 0, len(byID))
	for _, d := range byID {
		docs = append(docs, d)
	}
	return docs, nil
}

// ChunksForKB serves the retrieval fallback path. Memory first, then
// the chunk cache.
func (p *Processor) ChunksForKB(ctx context.Context, kbID string) ([]models.DocumentChunk, error) {
	p.mu.RLock()
	byDoc := p.chunks[kbID]
	all := make([]models.DocumentChunk, 0)
	for _, cs := range byDoc {
		all = append(all, cs...)
	}
	docIDs := make([]string, 0, len(p.docs[kbID]))
	for id := range p.docs[kbID] {
		if len(byDoc[id]) == 0 {
			docIDs = append(docIDs, id)
		}
	}
	p.mu.RUnlock()

	if p.cache != nil {
		for _, docID := range docIDs {
			var cached []models.DocumentChunk
			hit, err := p.cache.GetChunks(ctx, kbID, docID, &cached)
			if err != nil || !hit {
				continue
			}
			all = append(all, cached...)
		}
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("no chunks indexed for knowledge base %s", kbID)
	}
	return all, nil
}

func (p *Processor) Count(kbID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.docs[kbID])
}
