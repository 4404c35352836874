//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

func setupSourceForIndexJob(ctx context.Context, t *testing.T, repo *SourceRepository) *domain.Source {
	src := newTestSource("005930", domain.SourceTypeDARTFiling, uuid.NewString(), 1, time.Now())
	require.NoError(t, repo.Create(ctx, src))
	return src
}

func TestIndexJobRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	jobs := NewIndexJobRepository(pool)
	src := setupSourceForIndexJob(ctx, t, NewSourceRepository(pool))

	job := domain.NewIndexJob(uuid.NewString(), src.ID, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, jobs.Create(ctx, job))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.SourceID)
	assert.Equal(t, domain.IndexJobStatusPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Nil(t, got.ProcessedAt)

	_, err = jobs.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrIndexJobNotFound)
}

func TestIndexJobRepository_ClaimPending(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	jobs := NewIndexJobRepository(pool)
	src := setupSourceForIndexJob(ctx, t, NewSourceRepository(pool))

	base := time.Now().UTC().Truncate(time.Microsecond)
	j1 := domain.NewIndexJob(uuid.NewString(), src.ID, base)
	j2 := domain.NewIndexJob(uuid.NewString(), src.ID, base.Add(time.Second))
	j3 := domain.NewIndexJob(uuid.NewString(), src.ID, base.Add(2*time.Second))
	for _, j := range []*domain.IndexJob{j1, j2, j3} {
		require.NoError(t, jobs.Create(ctx, j))
	}

	claimed, err := jobs.ClaimPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, j1.ID, claimed[0].ID)
	assert.Equal(t, domain.IndexJobStatusProcessing, claimed[0].Status)

	claimed, err = jobs.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, j3.ID, claimed[0].ID)
}

func TestIndexJobRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	jobs := NewIndexJobRepository(pool)
	src := setupSourceForIndexJob(ctx, t, NewSourceRepository(pool))

	job := domain.NewIndexJob(uuid.NewString(), src.ID, time.Now().UTC())
	require.NoError(t, jobs.Create(ctx, job))

	require.NoError(t, jobs.IncrementRetries(ctx, job.ID))
	require.NoError(t, jobs.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, "embedder down"))

	got, err := jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IndexJobStatusFailed, got.Status)
	assert.Equal(t, "embedder down", got.Error)
	assert.Equal(t, int32(1), got.Retries)
	assert.NotNil(t, got.ProcessedAt)

	assert.ErrorIs(t, jobs.UpdateStatus(ctx, uuid.NewString(), domain.IndexJobStatusCompleted, ""), ErrIndexJobNotFound)
	assert.ErrorIs(t, jobs.IncrementRetries(ctx, uuid.NewString()), ErrIndexJobNotFound)
}
