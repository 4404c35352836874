package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// NewPerMinuteLimiter spaces requests evenly across a minute.
func NewPerMinuteLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// RateLimitedGenerator waits for limiter clearance before each request.
type RateLimitedGenerator struct {
	next    StructuredGenerator
	limiter *rate.Limiter
}

func NewRateLimitedGenerator(next StructuredGenerator, limiter *rate.Limiter) *RateLimitedGenerator {
	return &RateLimitedGenerator{next: next, limiter: limiter}
}

func (g *RateLimitedGenerator) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request limit: %w", err)
	}
	return g.next.GenerateStructured(ctx, req)
}

// RateLimitedEmbedder waits for limiter clearance before each request.
type RateLimitedEmbedder struct {
	next    Embedder
	limiter *rate.Limiter
}

func NewRateLimitedEmbedder(next Embedder, limiter *rate.Limiter) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{next: next, limiter: limiter}
}

func (e *RateLimitedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request limit: %w", err)
	}
	return e.next.Embed(ctx, text)
}

func (e *RateLimitedEmbedder) ModelTag() string {
	return e.next.ModelTag()
}
