//go:build integration

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
	"github.com/cloo-solutions/alphaledger/internal/testutil"
)

func setupPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()
	pc := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { _ = pc.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	t.Cleanup(pool.Close)
	return pool
}

func newTestSource(ticker string, st domain.SourceType, title string, version int, published time.Time) *domain.Source {
	content := fmt.Sprintf("%s %s v%d 본문", ticker, title, version)
	return &domain.Source{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		CompanyName: "삼성전자",
		SourceType:  st,
		Title:       title,
		Content:     content,
		PublishedAt: published.UTC().Truncate(time.Microsecond),
		ContentHash: domain.ContentHash(content),
		Version:     version,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestSourceRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)

	src := newTestSource("005930", domain.SourceTypeDARTFiling, "사업보고서", 1, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	src.SourceURL = "https://dart.fss.or.kr/x"
	require.NoError(t, repo.Create(ctx, src))

	got, err := repo.GetByID(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.Ticker, got.Ticker)
	assert.Equal(t, src.SourceType, got.SourceType)
	assert.Equal(t, src.ContentHash, got.ContentHash)
	assert.Equal(t, src.SourceURL, got.SourceURL)
	assert.Empty(t, got.SupersedesID)
	assert.True(t, src.PublishedAt.Equal(got.PublishedAt))

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestSourceRepository_Versions(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)

	latest, err := repo.GetLatestVersion(ctx, "005930", domain.SourceTypeEarningsCall, "2Q24")
	require.NoError(t, err)
	assert.Nil(t, latest)

	day := time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC)
	v1 := newTestSource("005930", domain.SourceTypeEarningsCall, "2Q24", 1, day)
	v2 := newTestSource("005930", domain.SourceTypeEarningsCall, "2Q24", 2, day)
	v2.SupersedesID = v1.ID
	require.NoError(t, repo.Create(ctx, v1))
	require.NoError(t, repo.Create(ctx, v2))

	latest, err = repo.GetLatestVersion(ctx, "005930", domain.SourceTypeEarningsCall, "2Q24")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, v2.ID, latest.ID)
	assert.Equal(t, v1.ID, latest.SupersedesID)

	dup := newTestSource("005930", domain.SourceTypeEarningsCall, "2Q24", 2, day)
	assert.Error(t, repo.Create(ctx, dup), "lineage versions are unique")

	all, err := repo.List(ctx, service.SourceFilter{Ticker: "005930"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	current, err := repo.List(ctx, service.SourceFilter{Ticker: "005930", LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, v2.ID, current[0].ID)
}

func TestSourceRepository_ListFilters(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewSourceRepository(pool)
	chunks := NewChunkRepository(pool)

	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	jun := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	filing := newTestSource("005930", domain.SourceTypeDARTFiling, "a", 1, jan)
	report := newTestSource("005930", domain.SourceTypeAnalystReport, "b", 1, jun)
	other := newTestSource("000660", domain.SourceTypeIRMaterial, "c", 1, jun)
	for _, s := range []*domain.Source{filing, report, other} {
		require.NoError(t, repo.Create(ctx, s))
	}

	got, err := repo.List(ctx, service.SourceFilter{SourceTypes: []domain.SourceType{domain.SourceTypeAnalystReport, domain.SourceTypeIRMaterial}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err = repo.List(ctx, service.SourceFilter{Ticker: "005930", PublishedFrom: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, report.ID, got[0].ID)

	got, err = repo.List(ctx, service.SourceFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	require.NoError(t, chunks.ReplaceChunks(ctx, filing.ID, []domain.Chunk{
		testChunk(filing.ID, domain.ChunkTypeSummary, 0, "", "model-a", 1, 0, 0),
	}))
	ids, err := repo.ListIDs(ctx, service.SourceFilter{Ticker: "005930", UnindexedForTag: "model-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{report.ID}, ids)

	ids, err = repo.ListIDs(ctx, service.SourceFilter{Ticker: "005930", UnindexedForTag: "model-b"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestTxRunner_RollsBack(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	runner := NewTxRunner(pool)
	repo := NewSourceRepository(pool)

	src := newTestSource("005930", domain.SourceTypeDARTFiling, "t", 1, time.Now())
	err := runner.WithTx(ctx, func(repos service.TxRepositories) error {
		if err := repos.Sources().Create(ctx, src); err != nil {
			return err
		}
		return repos.IndexJobs().Create(ctx, &domain.IndexJob{ID: uuid.NewString(), SourceID: uuid.NewString(), Status: domain.IndexJobStatusPending, CreatedAt: time.Now()})
	})
	require.Error(t, err, "index job references a missing source")

	_, err = repo.GetByID(ctx, src.ID)
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}
