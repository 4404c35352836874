//go:build integration

package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/testutil"
)

func TestRedisCache_SharedAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRedisContainer(ctx, t)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })

	client, err := NewRedisClient(ctx, rc.URL())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	vec := []float32{0.25, -0.5, 1}
	first := new(MockEmbedder)
	first.On("ModelTag").Return("text-embedding-3-small")
	first.On("Embed", mock.Anything, "HBM 수요").Return(vec, nil).Once()

	writer := NewCachedEmbedder(first, NewLayeredCache(NewMemoryCache(time.Minute, time.Minute), NewRedisCache(client)), time.Hour)
	got, err := writer.Embed(ctx, "HBM 수요")
	require.NoError(t, err)
	assert.Equal(t, vec, got)

	// A second process with a cold memory layer reads the shared copy.
	second := new(MockEmbedder)
	second.On("ModelTag").Return("text-embedding-3-small")
	reader := NewCachedEmbedder(second, NewLayeredCache(NewMemoryCache(time.Minute, time.Minute), NewRedisCache(client)), time.Hour)
	got, err = reader.Embed(ctx, "HBM 수요")
	require.NoError(t, err)
	assert.Equal(t, vec, got)
	second.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)

	ttl, err := client.TTL(ctx, EmbeddingCacheKey("text-embedding-3-small", "HBM 수요")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewRedisClient(ctx, "redis://127.0.0.1:1/0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}
