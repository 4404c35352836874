// Package events publishes domain events to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cloo-solutions/alphaledger/internal/logger"
)

const defaultMaxLen = 10000

type streamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher appends events to a Redis stream.
type StreamPublisher struct {
	client streamAdder
	stream string
	maxLen int64
	now    func() time.Time
	log    *logger.Logger
}

// NewStreamPublisher creates a publisher that writes to stream, trimming it
// to roughly maxLen entries. maxLen <= 0 uses a default.
func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, log *logger.Logger) *StreamPublisher {
	return newStreamPublisher(client, stream, maxLen, log)
}

func newStreamPublisher(client streamAdder, stream string, maxLen int64, log *logger.Logger) *StreamPublisher {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &StreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		now:    time.Now,
		log:    log.Named("events"),
	}
}

// Publish adds one entry with the event type, emission time and a JSON
// payload.
func (p *StreamPublisher) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":       eventType,
			"emitted_at": p.now().UTC().Format(time.RFC3339Nano),
			"payload":    body,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}

	p.log.Debug("event published",
		logger.StringField("type", eventType),
		logger.StringField("stream", p.stream),
		logger.StringField("entry_id", id))
	return nil
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, map[string]any) error {
	return nil
}
