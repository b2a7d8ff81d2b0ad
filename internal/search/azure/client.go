package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ValidationError reports a misconfigured search client. It is returned
// before any network call is attempted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("azure search config invalid: %s is required", e.Field)
}

// Hit is a single result from the managed index.
type Hit struct {
	ID            string
	DocumentID    string
	Title         string
	Content       string
	Score         float64
	RerankerScore float64
}

type Config struct {
	Endpoint   string
	IndexName  string
	APIKey     string
	APIVersion string
	Timeout    time.Duration
}

// Client talks to an Azure AI Search index over its REST API. It is the
// remote-first backend of the retrieval chain.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-11-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

func (c *Client) validate() error {
	if strings.TrimSpace(c.cfg.Endpoint) == "" {
		return &ValidationError{Field: "endpoint"}
	}
	if strings.TrimSpace(c.cfg.IndexName) == "" {
		return &ValidationError{Field: "indexName"}
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return &ValidationError{Field: "apiKey"}
	}
	return nil
}

type searchRequest struct {
	Search        string         `json:"search,omitempty"`
	Filter        string         `json:"filter,omitempty"`
	Top           int            `json:"top"`
	QueryType     string         `json:"queryType,omitempty"`
	VectorQueries []vectorQuery `json:"vectorQueries,omitempty"`
	Select        string         `json:"select,omitempty"`
}

type vectorQuery struct {
	Kind   string    `json:"kind"`
	Vector []float32 `json:"vector"`
	Fields string    `json:"fields"`
	K      int       `json:"k"`
}

type searchResponse struct {
	Value []struct {
		ID            string  `json:"chunk_id"`
		DocID         string  `json:"doc_id"`
		Title         string  `json:"title"`
		Content       string  `json:"content"`
		Score         float64 `json:"@search.score"`
		RerankerScore float64 `json:"@search.rerankerScore"`
	} `json:"value"`
}

// Search runs a keyword (BM25) query against the index.
func (c *Client) Search(ctx context.Context, kbID, query string, topK int) ([]Hit, error) {
	req := searchRequest{
		Search:    query,
		Filter:    kbFilter(kbID),
		Top:       topK,
		QueryType: "simple",
	}
	return c.execute(ctx, req)
}

// VectorSearch runs a pure vector similarity query.
func (c *Client) VectorSearch(ctx context.Context, kbID string, vector []float32, topK int) ([]Hit, error) {
	req := searchRequest{
		Filter: kbFilter(kbID),
		Top:    topK,
		VectorQueries: []vectorQuery{{
			Kind:   "vector",
			Vector: vector,
			Fields: "embedding",
			K:      topK,
		}},
	}
	return c.execute(ctx, req)
}

// HybridSearch runs keyword and vector retrieval in one request and lets
// the service fuse the rankings.
func (c *Client) HybridSearch(ctx context.Context, kbID, query string, vector []float32, topK int) ([]Hit, error) {
	req := searchRequest{
		Search:    query,
		Filter:    kbFilter(kbID),
		Top:       topK,
		QueryType: "simple",
		VectorQueries: []vectorQuery{{
			Kind:   "vector",
			Vector: vector,
			Fields: "embedding",
			K:      topK,
		}},
	}
	return c.execute(ctx, req)
}

func (c *Client) execute(ctx context.Context, sr searchRequest) ([]Hit, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(sr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	searchURL := fmt.Sprintf("%s/indexes/%s/docs/search?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.IndexName, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, searchURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(raw))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	hits := make([]Hit, 0, len(decoded.Value))
	for _, v := range decoded.Value {
		hits = append(hits, Hit{
			ID:            v.ID,
			DocumentID:    v.DocID,
			Title:         v.Title,
			Content:       v.Content,
			Score:         v.Score,
			RerankerScore: v.RerankerScore,
		})
	}

	c.logger.Debug("azure search completed",
		zap.Int("results", len(hits)),
		zap.String("index", c.cfg.IndexName),
	)
	return hits, nil
}

func kbFilter(kbID string) string {
	if kbID == "" {
		return ""
	}
	return fmt.Sprintf("kb_id eq '%s'", strings.ReplaceAll(kbID, "'", "''"))
}
