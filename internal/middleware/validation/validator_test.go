package validation

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg Config) *fiber.App {
	app := fiber.New()
	app.Use(New(cfg))
	ok := func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "handled"})
	}
	app.Post("/api/v1/query", ok)
	app.Post("/api/v1/documents", ok)
	app.Get("/api/v1/query/history", ok)
	return app
}

func post(t *testing.T, app *fiber.App, path string, body map[string]interface{}, contentType string) *http.Response {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestValidQueryPassesThrough(t *testing.T) {
	app := newApp(Config{})

	resp := post(t, app, "/api/v1/query",
		map[string]interface{}{"query": "how does replication work"}, fiber.MIMEApplicationJSON)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRejectsUnsupportedContentType(t *testing.T) {
	app := newApp(Config{})

	resp := post(t, app, "/api/v1/query",
		map[string]interface{}{"query": "anything"}, "text/plain")

	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestRejectsOverlongQuery(t *testing.T) {
	app := newApp(Config{MaxQueryLength: 20})

	resp := post(t, app, "/api/v1/query",
		map[string]interface{}{"query": strings.Repeat("x", 21)}, fiber.MIMEApplicationJSON)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRejectsScriptInjection(t *testing.T) {
	app := newApp(Config{})

	for _, query := range []string{
		"<script>alert(1)</script>",
		"see javascript:doEvil()",
		"x onerror=steal()",
	} {
		resp := post(t, app, "/api/v1/query",
			map[string]interface{}{"query": query}, fiber.MIMEApplicationJSON)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestRejectsOversizedDocumentContent(t *testing.T) {
	app := newApp(Config{MaxDocumentSize: 50})

	resp := post(t, app, "/api/v1/documents",
		map[string]interface{}{
			"title":   "big",
			"content": strings.Repeat("a", 51),
		}, fiber.MIMEApplicationJSON)

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestDocumentWithinLimitPasses(t *testing.T) {
	app := newApp(Config{MaxDocumentSize: 50})

	resp := post(t, app, "/api/v1/documents",
		map[string]interface{}{"title": "small", "content": "fits"}, fiber.MIMEApplicationJSON)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNonMutatingRequestsSkipChecks(t *testing.T) {
	app := newApp(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/query/history", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
