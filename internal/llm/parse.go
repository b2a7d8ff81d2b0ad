package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeError reports model output that did not contain the expected JSON
// shape. It is treated like a provider failure: the caller substitutes its
// documented default instead of propagating it.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecodeJSON extracts the first JSON object or array from model output and
// unmarshals it into T. Models frequently wrap JSON in prose or code
// fences; everything outside the outermost braces is discarded.
func DecodeJSON[T any](content string) (T, error) {
	var out T

	trimmed := strings.TrimSpace(content)
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return out, &DecodeError{Raw: content, Err: fmt.Errorf("no JSON payload found")}
	}

	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return out, &DecodeError{Raw: content, Err: fmt.Errorf("unterminated JSON payload")}
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &out); err != nil {
		return out, &DecodeError{Raw: content, Err: err}
	}

	return out, nil
}
