package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	// DefaultEmbeddingModel is the OpenAI model used for generating embeddings
	DefaultEmbeddingModel = openai.SmallEmbedding3
	// DefaultEmbeddingDimensions is the expected dimension of embeddings
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is used for structured generation
	DefaultChatModel = openai.GPT4oMini
)

// EmbeddingAPI defines the interface for embedding generation
type EmbeddingAPI interface {
	CreateEmbeddings(ctx context.Context, text string) ([]float32, error)
}

// ChatAPI defines the interface for JSON chat completions
type ChatAPI interface {
	CompleteJSON(ctx context.Context, req StructuredRequest) (string, error)
}

// OpenAIAdapter calls the OpenAI HTTP API.
type OpenAIAdapter struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	chatModel string
}

func NewOpenAIAdapter(apiKey string, model openai.EmbeddingModel, chatModel string) *OpenAIAdapter {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	return &OpenAIAdapter{
		client:    openai.NewClient(apiKey),
		model:     model,
		chatModel: chatModel,
	}
}

// CreateEmbeddings calls the OpenAI API to create embeddings
func (a *OpenAIAdapter) CreateEmbeddings(ctx context.Context, text string) ([]float32, error) {
	resp, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: a.model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) == 0 {
		return nil, errors.New("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// CompleteJSON requests a JSON answer, constrained by the schema when one is given.
func (a *OpenAIAdapter) CompleteJSON(ctx context.Context, req StructuredRequest) (string, error) {
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	if len(req.Schema) > 0 {
		format = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.Name,
				Schema: req.Schema,
			},
		}
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:          a.chatModel,
		Messages:       messages,
		Temperature:    req.Temperature,
		ResponseFormat: format,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

type Config struct {
	APIKey              string
	EmbeddingModel      openai.EmbeddingModel
	EmbeddingDimensions int
	ChatModel           string
	Timeout             time.Duration
}

// OpenAIClient implements Embedder and StructuredGenerator.
type OpenAIClient struct {
	api        EmbeddingAPI
	chat       ChatAPI
	model      string
	dimensions int
	timeout    time.Duration
}

// NewClient creates a new OpenAI client using defaults.
func NewClient(apiKey string) *OpenAIClient {
	return NewClientWithConfig(Config{APIKey: apiKey})
}

// NewClientWithConfig creates a new OpenAI client with explicit configuration.
func NewClientWithConfig(cfg Config) *OpenAIClient {
	dimensions := cfg.EmbeddingDimensions
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	model := cfg.EmbeddingModel
	if model == "" {
		model = DefaultEmbeddingModel
	}
	adapter := NewOpenAIAdapter(cfg.APIKey, model, cfg.ChatModel)
	return &OpenAIClient{
		api:        adapter,
		chat:       adapter,
		model:      string(model),
		dimensions: dimensions,
		timeout:    cfg.Timeout,
	}
}

// NewClientFromEnv creates a new OpenAI client using OPENAI_API_KEY environment variable
func NewClientFromEnv() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	return NewClient(apiKey), nil
}

// ModelTag identifies the embedding space, model plus dimensions.
func (c *OpenAIClient) ModelTag() string {
	return fmt.Sprintf("openai/%s@%d", c.model, c.dimensions)
}

// Embed generates an embedding for the given text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	embedding, err := c.api.CreateEmbeddings(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}

	if len(embedding) != c.dimensions {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrWrongDimensions, c.dimensions, len(embedding))
	}

	return embedding, nil
}

// GenerateStructured asks the chat model for a JSON document.
func (c *OpenAIClient) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyText
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	content, err := c.chat.CompleteJSON(ctx, req)
	if err != nil {
		if errors.Is(err, ErrEmptyResponse) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to generate %s: %w", req.Name, err)
	}
	return ExtractJSON(content)
}

func (c *OpenAIClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
