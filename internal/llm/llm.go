// Package llm adapts embedding and generation providers to the narrow
// contracts the services depend on.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrWrongDimensions is returned when embedding has wrong dimensions
	ErrWrongDimensions = errors.New("embedding has wrong dimensions")
	// ErrNoAPIKey is returned when the provider API key is not set
	ErrNoAPIKey = errors.New("provider API key not set")
	// ErrEmptyResponse is returned when the model produced no content
	ErrEmptyResponse = errors.New("generation returned no content")
	// ErrInvalidJSON is returned when the model output is not a JSON document
	ErrInvalidJSON = errors.New("generation returned invalid JSON")
)

// Embedder turns text into a fixed-length vector. Vectors from different
// model tags are not comparable.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelTag() string
}

// StructuredRequest asks a generator for a JSON document.
type StructuredRequest struct {
	// Name identifies the schema, e.g. "assumption_extraction".
	Name        string
	System      string
	Prompt      string
	Schema      json.RawMessage
	Temperature float32
}

// StructuredGenerator returns a syntactically valid JSON document or an
// error; it never returns partial output. Schema conformance is checked by
// the caller.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
}

// IsOutputError reports whether err describes bad model output rather than
// an unreachable provider.
func IsOutputError(err error) bool {
	return errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrInvalidJSON)
}

// ExtractJSON strips markdown fences around a model answer and checks that
// what remains is one JSON value.
func ExtractJSON(text string) (json.RawMessage, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}

	if s == "" {
		return nil, ErrEmptyResponse
	}
	if !json.Valid([]byte(s)) {
		return nil, ErrInvalidJSON
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(buf.Bytes()), nil
}
