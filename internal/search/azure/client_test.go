package azure

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSearchRejectsMissingConfig(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"no endpoint", Config{IndexName: "idx", APIKey: "key"}, "endpoint"},
		{"no index", Config{Endpoint: "https://x", APIKey: "key"}, "indexName"},
		{"no key", Config{Endpoint: "https://x", IndexName: "idx"}, "apiKey"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewClient(tc.cfg, zap.NewNop())

			_, err := c.Search(context.Background(), "kb", "query", 5)
			require.Error(t, err)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestSearchSendsRequestAndParsesHits(t *testing.T) {
	var gotPath, gotKey string
	var gotBody searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value": [
			{"chunk_id": "c1", "doc_id": "d1", "title": "Doc", "content": "text", "@search.score": 2.5, "@search.rerankerScore": 3.1},
			{"chunk_id": "c2", "doc_id": "d2", "title": "Other", "content": "more", "@search.score": 1.0}
		]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, IndexName: "chunks", APIKey: "secret"}, zap.NewNop())

	hits, err := c.Search(context.Background(), "kb-1", "replication", 5)
	require.NoError(t, err)

	assert.Equal(t, "/indexes/chunks/docs/search?api-version=2023-11-01", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "replication", gotBody.Search)
	assert.Equal(t, "kb_id eq 'kb-1'", gotBody.Filter)
	assert.Equal(t, 5, gotBody.Top)

	require.Len(t, hits, 2)
	assert.Equal(t, "c1", hits[0].ID)
	assert.Equal(t, "d1", hits[0].DocumentID)
	assert.InDelta(t, 2.5, hits[0].Score, 1e-9)
	assert.InDelta(t, 3.1, hits[0].RerankerScore, 1e-9)
	assert.Zero(t, hits[1].RerankerScore)
}

func TestVectorSearchBuildsVectorQuery(t *testing.T) {
	var gotBody searchRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"value": []}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, IndexName: "chunks", APIKey: "secret"}, zap.NewNop())

	_, err := c.VectorSearch(context.Background(), "kb", []float32{0.1, 0.2}, 3)
	require.NoError(t, err)

	require.Len(t, gotBody.VectorQueries, 1)
	assert.Equal(t, "vector", gotBody.VectorQueries[0].Kind)
	assert.Equal(t, "embedding", gotBody.VectorQueries[0].Fields)
	assert.Equal(t, 3, gotBody.VectorQueries[0].K)
	assert.Empty(t, gotBody.Search)
}

func TestExecuteSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "index not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, IndexName: "missing", APIKey: "secret"}, zap.NewNop())

	_, err := c.Search(context.Background(), "kb", "q", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestKBFilterEscapesQuotes(t *testing.T) {
	assert.Equal(t, "", kbFilter(""))
	assert.Equal(t, "kb_id eq 'plain'", kbFilter("plain"))
	assert.Equal(t, "kb_id eq 'o''brien'", kbFilter("o'brien"))
}
