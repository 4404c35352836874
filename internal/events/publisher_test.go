package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/logger"
)

type mockStream struct {
	mock.Mock
}

func (m *mockStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	args := m.Called(ctx, a)
	return redis.NewStringResult(args.String(0), args.Error(1))
}

func TestStreamPublisher_Publish(t *testing.T) {
	stream := new(mockStream)
	p := newStreamPublisher(stream, "alphaledger:events", 0, logger.Nop())
	p.now = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }

	stream.On("XAdd", mock.Anything, mock.MatchedBy(func(a *redis.XAddArgs) bool {
		return a.Stream == "alphaledger:events" &&
			a.MaxLen == defaultMaxLen &&
			a.Approx &&
			a.Values.(map[string]any)["type"] == "assumption.validated" &&
			a.Values.(map[string]any)["emitted_at"] == "2025-03-14T09:00:00Z" &&
			string(a.Values.(map[string]any)["payload"].([]byte)) == `{"assumption_id":"a-1","status":"VERIFIED"}`
	})).Return("1-0", nil)

	err := p.Publish(context.Background(), "assumption.validated", map[string]any{
		"assumption_id": "a-1",
		"status":        "VERIFIED",
	})
	require.NoError(t, err)
	stream.AssertExpectations(t)
}

func TestStreamPublisher_PublishError(t *testing.T) {
	stream := new(mockStream)
	p := newStreamPublisher(stream, "s", 50, logger.Nop())
	stream.On("XAdd", mock.Anything, mock.Anything).Return("", errors.New("connection refused"))

	err := p.Publish(context.Background(), "x", map[string]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd s")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestStreamPublisher_UnmarshalablePayload(t *testing.T) {
	stream := new(mockStream)
	p := newStreamPublisher(stream, "s", 50, logger.Nop())

	err := p.Publish(context.Background(), "x", map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	stream.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), "x", nil))
}
