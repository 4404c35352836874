//go:build integration

package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/testutil"
)

func TestStreamPublisher_Redis(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRedisContainer(ctx, t)
	t.Cleanup(func() { _ = rc.Terminate(ctx) })
	client := rc.NewClient(t)

	p := NewStreamPublisher(client, "alphaledger:events", 2, logger.Nop())
	for _, status := range []string{"VERIFIED", "FAILED", "VERIFIED"} {
		require.NoError(t, p.Publish(ctx, "assumption.validated", map[string]any{"status": status}))
	}

	entries, err := client.XRange(ctx, "alphaledger:events", "-", "+").Result()
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, "assumption.validated", last.Values["type"])
	assert.JSONEq(t, `{"status":"VERIFIED"}`, last.Values["payload"].(string))
	assert.NotEmpty(t, last.Values["emitted_at"])
}
