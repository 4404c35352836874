package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

const earningsText = "삼성전자는 2분기 HBM 매출이 크게 증가했다고 밝혔다. " +
	"회사는 하반기 HBM3E 공급 확대를 예상한다. " +
	"연간 HBM 매출은 1조원 달성이 예상된다.\n\n" +
	"파운드리 부문은 적자가 지속되었다."

type indexerFixture struct {
	sources *MockSourceRepository
	chunks  *MockChunkRepository
	emb     *MockEmbedder
	tx      *testTxRunner
	svc     *IndexerService
}

func newIndexerFixture() *indexerFixture {
	f := &indexerFixture{
		sources: new(MockSourceRepository),
		chunks:  new(MockChunkRepository),
		emb:     new(MockEmbedder),
	}
	f.tx = &testTxRunner{repos: &testTxRepos{chunks: f.chunks}}
	cfg := DefaultIndexerConfig()
	cfg.Retry = fastRetry
	f.svc = NewIndexerServiceWithDeps(
		f.sources, f.chunks, f.tx, f.emb,
		domain.MustAuthorityTable(domain.DefaultAuthorityWeights()),
		cfg, &seqUUIDs{}, fixedClock, nil,
	)
	return f
}

func earningsSource() *domain.Source {
	return &domain.Source{
		ID:          "src-1",
		Ticker:      "005930",
		SourceType:  domain.SourceTypeAnalystReport,
		Content:     earningsText,
		PublishedAt: time.Date(2024, 7, 31, 0, 0, 0, 0, time.UTC),
		Version:     1,
	}
}

// shape strips generated ids so two chunk sets can be compared.
type chunkShape struct {
	Type        domain.ChunkType
	Index       int
	Content     string
	ParentIndex int
}

func shapeOf(chunks []domain.Chunk) []chunkShape {
	indexByID := make(map[string]int, len(chunks))
	for _, c := range chunks {
		indexByID[c.ID] = c.ChunkIndex
	}
	out := make([]chunkShape, len(chunks))
	for i, c := range chunks {
		parent := -1
		if c.ParentID != "" {
			parent = indexByID[c.ParentID]
		}
		out[i] = chunkShape{Type: c.ChunkType, Index: c.ChunkIndex, Content: c.Content, ParentIndex: parent}
	}
	return out
}

func TestIndexerService_Index(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("GetByID", mock.Anything, "src-1").Return(earningsSource(), nil)
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(vec(0.1, 0.2, 0.3, 0.4), nil)
	f.chunks.On("LockSource", mock.Anything, "src-1").Return(nil)

	var written []domain.Chunk
	f.chunks.On("ReplaceChunks", mock.Anything, "src-1", mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(2).([]domain.Chunk) }).
		Return(nil).Once()

	res, err := f.svc.Index(context.Background(), "src-1")

	require.NoError(t, err)
	assert.Equal(t, 2, res.Summaries)
	assert.Equal(t, 3, res.Details)
	assert.Equal(t, "test/embed@4", res.ModelTag)
	require.Len(t, written, 5)

	require.NoError(t, domain.ValidateChunkSet("src-1", written))
	summaries := map[string]bool{}
	for i, c := range written {
		assert.Equal(t, i, c.ChunkIndex)
		assert.InDelta(t, 0.4, c.AuthorityWeight, 1e-9)
		assert.Equal(t, "test/embed@4", c.EmbeddingModel)
		assert.Len(t, c.Embedding, 4)
		switch c.ChunkType {
		case domain.ChunkTypeSummary:
			assert.Empty(t, c.ParentID)
			summaries[c.ID] = true
		case domain.ChunkTypeDetail:
			assert.True(t, summaries[c.ParentID], "detail %s must reference an earlier summary", c.ID)
		}
	}
	assert.Equal(t, written[0].ID, written[2].ParentID)
	assert.Equal(t, 1, f.tx.called)
	f.emb.AssertNumberOfCalls(t, "Embed", 5)
}

func TestIndexerService_Index_Idempotent(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("GetByID", mock.Anything, "src-1").Return(earningsSource(), nil)
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0, 0, 0), nil)
	f.chunks.On("LockSource", mock.Anything, "src-1").Return(nil)

	var runs [][]domain.Chunk
	f.chunks.On("ReplaceChunks", mock.Anything, "src-1", mock.Anything).
		Run(func(args mock.Arguments) { runs = append(runs, args.Get(2).([]domain.Chunk)) }).
		Return(nil)

	_, err := f.svc.Index(context.Background(), "src-1")
	require.NoError(t, err)
	_, err = f.svc.Index(context.Background(), "src-1")
	require.NoError(t, err)

	require.Len(t, runs, 2)
	assert.Equal(t, shapeOf(runs[0]), shapeOf(runs[1]))
	assert.NotEqual(t, runs[0][0].ID, runs[1][0].ID)
}

func TestIndexerService_Index_EmbedFailureWritesNothing(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("GetByID", mock.Anything, "src-1").Return(earningsSource(), nil)
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(nil, errors.New("503 from provider"))

	_, err := f.svc.Index(context.Background(), "src-1")

	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Zero(t, f.tx.called)
	f.chunks.AssertNotCalled(t, "ReplaceChunks", mock.Anything, mock.Anything, mock.Anything)
}

func TestIndexerService_Index_WriteFailure(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("GetByID", mock.Anything, "src-1").Return(earningsSource(), nil)
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0, 0, 0), nil)
	f.chunks.On("LockSource", mock.Anything, "src-1").Return(nil)
	f.chunks.On("ReplaceChunks", mock.Anything, "src-1", mock.Anything).Return(errors.New("deadlock detected"))

	_, err := f.svc.Index(context.Background(), "src-1")
	assert.ErrorContains(t, err, "deadlock")
}

func TestIndexerService_Index_EmptySource(t *testing.T) {
	f := newIndexerFixture()
	src := earningsSource()
	src.Content = " \n "
	f.sources.On("GetByID", mock.Anything, "src-1").Return(src, nil)

	_, err := f.svc.Index(context.Background(), "src-1")
	assert.ErrorIs(t, err, domain.ErrEmptySourceContent)
}

func TestIndexerService_Index_SourceNotFound(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("GetByID", mock.Anything, "missing").Return(nil, domain.ErrSourceNotFound)

	_, err := f.svc.Index(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrSourceNotFound)
}

func TestIndexerService_ReindexAll(t *testing.T) {
	f := newIndexerFixture()
	f.sources.On("ListIDs", mock.Anything, SourceFilter{Ticker: "005930", UnindexedForTag: "test/embed@4"}).
		Return([]string{"src-1", "src-2"}, nil)
	f.sources.On("GetByID", mock.Anything, "src-1").Return(earningsSource(), nil)
	f.sources.On("GetByID", mock.Anything, "src-2").Return(nil, domain.ErrSourceNotFound)
	f.emb.On("Embed", mock.Anything, mock.Anything).Return(vec(1, 0, 0, 0), nil)
	f.chunks.On("LockSource", mock.Anything, "src-1").Return(nil)
	f.chunks.On("ReplaceChunks", mock.Anything, "src-1", mock.Anything).Return(nil)

	report, err := f.svc.ReindexAll(context.Background(), ReindexOptions{Ticker: "005930", Resume: true})

	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	for _, it := range report.Items {
		if it.ID == "src-1" {
			assert.Equal(t, "2 summaries, 3 details", it.Detail)
		}
	}
	f.sources.AssertExpectations(t)
}

func TestIndexerService_IsIndexed(t *testing.T) {
	f := newIndexerFixture()
	f.chunks.On("CountBySource", mock.Anything, "src-1", "test/embed@4").Return(5, nil)
	f.chunks.On("CountBySource", mock.Anything, "src-2", "test/embed@4").Return(0, nil)

	ok, err := f.svc.IsIndexed(context.Background(), "src-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.IsIndexed(context.Background(), "src-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("src-1")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, k.locks, "unused keys are released")

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	unlockB()
	unlockA()
}
