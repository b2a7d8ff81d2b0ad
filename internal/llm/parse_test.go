package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routePayload struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeJSONPlainObject(t *testing.T) {
	out, err := DecodeJSON[routePayload](`{"intent": "factual", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Equal(t, "factual", out.Intent)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
}

func TestDecodeJSONCodeFence(t *testing.T) {
	content := "Here is the classification:\n```json\n{\"intent\": \"analytical\", \"confidence\": 0.75}\n```\nLet me know if you need more."
	out, err := DecodeJSON[routePayload](content)
	require.NoError(t, err)
	assert.Equal(t, "analytical", out.Intent)
}

func TestDecodeJSONArray(t *testing.T) {
	out, err := DecodeJSON[[]string](`The sub-queries are: ["part one", "part two"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"part one", "part two"}, out)
}

func TestDecodeJSONNoPayload(t *testing.T) {
	_, err := DecodeJSON[routePayload]("I cannot answer in JSON, sorry.")
	require.Error(t, err)

	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}

func TestDecodeJSONUnterminated(t *testing.T) {
	_, err := DecodeJSON[routePayload](`{"intent": "factual"`)
	require.Error(t, err)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.NotEmpty(t, decodeErr.Raw)
}

func TestDecodeJSONMalformedBody(t *testing.T) {
	_, err := DecodeJSON[routePayload](`{"intent": factual}`)
	assert.Error(t, err)
}
