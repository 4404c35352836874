package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiAPI is the subset of genai.Models used here.
type GeminiAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator implements StructuredGenerator on the Gemini API.
type GeminiGenerator struct {
	models  GeminiAPI
	model   string
	timeout time.Duration
}

// NewGeminiClient builds a genai client for the Gemini developer API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

func NewGeminiGenerator(models GeminiAPI, model string, timeout time.Duration) *GeminiGenerator {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{models: models, model: model, timeout: timeout}
}

// GenerateStructured asks Gemini for a JSON document. The schema is passed
// as part of the prompt; conformance is checked by the caller.
func (g *GeminiGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyText
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := req.Prompt
	if len(req.Schema) > 0 {
		prompt += "\n\nRespond with JSON matching this schema:\n" + string(req.Schema)
	}

	temperature := req.Temperature
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      &temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, "user")
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, "user")}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to generate %s: %w", req.Name, err)
	}

	return ExtractJSON(responseText(resp))
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
