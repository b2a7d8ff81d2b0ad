package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ragmind/backend/internal/storage/models"
	"github.com/ragmind/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		kb_id TEXT NOT NULL,
		title TEXT NOT NULL,
		source_type TEXT,
		source_url TEXT,
		content TEXT,
		chunk_strategy TEXT,
		metadata TEXT,
		added_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(kb_id);
	CREATE INDEX IF NOT EXISTS idx_documents_added ON documents(added_at);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		query_text TEXT NOT NULL,
		intent TEXT NOT NULL,
		strategy TEXT NOT NULL,
		confidence REAL,
		iterations INTEGER,
		retrieval_time_ms INTEGER,
		total_time_ms INTEGER,
		needs_improvement INTEGER DEFAULT 0,
		user_feedback TEXT DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);
	CREATE INDEX IF NOT EXISTS idx_query_intent ON query_history(intent);

	CREATE TABLE IF NOT EXISTS strategy_metrics (
		metric_key TEXT PRIMARY KEY,
		intent TEXT NOT NULL,
		strategy TEXT NOT NULL,
		total_queries INTEGER NOT NULL,
		successful_queries INTEGER NOT NULL,
		avg_confidence REAL NOT NULL,
		avg_retrieval_time REAL NOT NULL,
		avg_iterations REAL NOT NULL,
		success_rate REAL NOT NULL,
		improvement_trend REAL NOT NULL,
		last_used INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);

	CREATE TABLE IF NOT EXISTS learning_insights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		insight_type TEXT NOT NULL,
		description TEXT NOT NULL,
		suggestion TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_created ON learning_insights(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertDocument(doc *models.Document) error {
	metadataJSON, _ := json.Marshal(doc.Metadata)

	query := `
		INSERT INTO documents (id, kb_id, title, source_type, source_url, content, chunk_strategy, metadata, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			chunk_strategy = excluded.chunk_strategy,
			metadata = excluded.metadata
	`

	_, err := c.db.Exec(
		query,
		doc.ID,
		doc.KnowledgeBaseID,
		doc.Title,
		doc.SourceType,
		doc.SourceURL,
		doc.Content,
		string(doc.ChunkStrategy),
		string(metadataJSON),
		doc.AddedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}

	logger.Debug("Document inserted", zap.String("doc_id", doc.ID), zap.String("kb_id", doc.KnowledgeBaseID))
	return nil
}

func (c *Client) GetDocument(id string) (*models.Document, error) {
	query := `SELECT id, kb_id, title, source_type, source_url, content, chunk_strategy, metadata, added_at FROM documents WHERE id = ?`

	var doc models.Document
	var strategy, metadataJSON string
	var addedAt int64

	err := c.db.QueryRow(query, id).Scan(
		&doc.ID,
		&doc.KnowledgeBaseID,
		&doc.Title,
		&doc.SourceType,
		&doc.SourceURL,
		&doc.Content,
		&strategy,
		&metadataJSON,
		&addedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	doc.ChunkStrategy = models.ChunkStrategy(strategy)
	json.Unmarshal([]byte(metadataJSON), &doc.Metadata)
	doc.AddedAt = time.Unix(addedAt, 0)

	return &doc, nil
}

func (c *Client) ListDocuments(kbID string) ([]models.Document, error) {
	query := `SELECT id, kb_id, title, source_type, source_url, chunk_strategy, added_at FROM documents WHERE kb_id = ? ORDER BY added_at DESC`

	rows, err := c.db.Query(query, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		var strategy string
		var addedAt int64

		err := rows.Scan(&d.ID, &d.KnowledgeBaseID, &d.Title, &d.SourceType, &d.SourceURL, &strategy, &addedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.ChunkStrategy = models.ChunkStrategy(strategy)
		d.AddedAt = time.Unix(addedAt, 0)
		docs = append(docs, d)
	}

	return docs, nil
}

// LoadAllDocuments returns every document with content, used to rebuild
// the in-memory corpus at startup.
func (c *Client) LoadAllDocuments() ([]models.Document, error) {
	query := `SELECT id, kb_id, title, source_type, source_url, content, chunk_strategy, metadata, added_at FROM documents ORDER BY added_at`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var d models.Document
		var strategy, metadataJSON string
		var addedAt int64

		err := rows.Scan(&d.ID, &d.KnowledgeBaseID, &d.Title, &d.SourceType, &d.SourceURL, &d.Content, &strategy, &metadataJSON, &addedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.ChunkStrategy = models.ChunkStrategy(strategy)
		json.Unmarshal([]byte(metadataJSON), &d.Metadata)
		d.AddedAt = time.Unix(addedAt, 0)
		docs = append(docs, d)
	}

	return docs, nil
}

func (c *Client) DeleteDocument(id string) error {
	_, err := c.db.Exec(`DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

func (c *Client) InsertQueryRecord(record *models.QueryPerformanceRecord) error {
	query := `
		INSERT INTO query_history (id, query_text, intent, strategy, confidence, iterations,
			retrieval_time_ms, total_time_ms, needs_improvement, user_feedback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	needsImprovement := 0
	if record.NeedsImprovement {
		needsImprovement = 1
	}

	_, err := c.db.Exec(
		query,
		record.ID,
		record.Query,
		string(record.Intent),
		string(record.Strategy),
		record.Confidence,
		record.Iterations,
		record.RetrievalTimeMS,
		record.TotalTimeMS,
		needsImprovement,
		record.UserFeedback,
		record.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Debug("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("strategy", string(record.Strategy)),
		zap.Float64("confidence", record.Confidence),
	)
	return nil
}

func (c *Client) UpdateQueryFeedback(queryID, feedback string) error {
	_, err := c.db.Exec(`UPDATE query_history SET user_feedback = ? WHERE id = ?`, feedback, queryID)
	if err != nil {
		return fmt.Errorf("failed to update query feedback: %w", err)
	}
	return nil
}

func (c *Client) GetQueryHistory(limit int) ([]models.QueryPerformanceRecord, error) {
	query := `
		SELECT id, query_text, intent, strategy, confidence, iterations,
			retrieval_time_ms, total_time_ms, needs_improvement, user_feedback, created_at
		FROM query_history
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	var records []models.QueryPerformanceRecord
	for rows.Next() {
		var r models.QueryPerformanceRecord
		var intent, strategy string
		var needsImprovement int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.Query, &intent, &strategy, &r.Confidence, &r.Iterations,
			&r.RetrievalTimeMS, &r.TotalTimeMS, &needsImprovement, &r.UserFeedback, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Intent = models.Intent(intent)
		r.Strategy = models.Strategy(strategy)
		r.NeedsImprovement = needsImprovement == 1
		r.Timestamp = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, nil
}

func (c *Client) UpsertStrategyMetric(m *models.StrategyPerformanceMetric) error {
	query := `
		INSERT INTO strategy_metrics (metric_key, intent, strategy, total_queries, successful_queries,
			avg_confidence, avg_retrieval_time, avg_iterations, success_rate, improvement_trend, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(metric_key) DO UPDATE SET
			total_queries = excluded.total_queries,
			successful_queries = excluded.successful_queries,
			avg_confidence = excluded.avg_confidence,
			avg_retrieval_time = excluded.avg_retrieval_time,
			avg_iterations = excluded.avg_iterations,
			success_rate = excluded.success_rate,
			improvement_trend = excluded.improvement_trend,
			last_used = excluded.last_used
	`

	_, err := c.db.Exec(
		query,
		m.Key(),
		string(m.Intent),
		string(m.Strategy),
		m.TotalQueries,
		m.SuccessfulQueries,
		m.AverageConfidence,
		m.AverageRetrievalTime,
		m.AverageIterations,
		m.SuccessRate,
		m.ImprovementTrend,
		m.LastUsed.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert strategy metric: %w", err)
	}
	return nil
}

func (c *Client) LoadStrategyMetrics() ([]models.StrategyPerformanceMetric, error) {
	query := `
		SELECT intent, strategy, total_queries, successful_queries, avg_confidence,
			avg_retrieval_time, avg_iterations, success_rate, improvement_trend, last_used
		FROM strategy_metrics
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load strategy metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.StrategyPerformanceMetric
	for rows.Next() {
		var m models.StrategyPerformanceMetric
		var intent, strategy string
		var lastUsed int64

		err := rows.Scan(&intent, &strategy, &m.TotalQueries, &m.SuccessfulQueries, &m.AverageConfidence,
			&m.AverageRetrievalTime, &m.AverageIterations, &m.SuccessRate, &m.ImprovementTrend, &lastUsed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.Intent = models.Intent(intent)
		m.Strategy = models.Strategy(strategy)
		m.LastUsed = time.Unix(lastUsed, 0)
		metrics = append(metrics, m)
	}

	return metrics, nil
}

func (c *Client) StoreFeedback(feedback *models.Feedback) error {
	query := `INSERT INTO feedback (query_id, helpful, comment, created_at) VALUES (?, ?, ?, ?)`

	helpful := 0
	if feedback.Helpful {
		helpful = 1
	}

	_, err := c.db.Exec(query, feedback.QueryID, helpful, feedback.Comment, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)
	return nil
}

func (c *Client) StoreInsights(insights []models.LearningInsight) error {
	query := `INSERT INTO learning_insights (insight_type, description, suggestion, created_at) VALUES (?, ?, ?, ?)`

	for _, in := range insights {
		_, err := c.db.Exec(query, in.Type, in.Description, in.Suggestion, in.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to store insight: %w", err)
		}
	}
	return nil
}
