package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// ChunkRepositoryInterface defines the repository interface for chunk persistence
type ChunkRepositoryInterface interface {
	// LockSource serializes writers of one source's chunk set until the
	// surrounding transaction ends.
	LockSource(ctx context.Context, sourceID string) error
	ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.Chunk) error
	ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error)
	CountBySource(ctx context.Context, sourceID, modelTag string) (int, error)
	SearchByEmbedding(ctx context.Context, query ChunkSearchQuery) ([]ChunkCandidate, error)
	ListFamilies(ctx context.Context, summaryIDs []string) ([]domain.Chunk, error)
}

// IndexerConfig tunes indexing.
type IndexerConfig struct {
	Chunking         ChunkConfig
	Retry            RetryPolicy
	EmbedConcurrency int
	BatchConcurrency int
}

// DefaultIndexerConfig provides sane defaults for indexing.
func DefaultIndexerConfig() IndexerConfig {
	return IndexerConfig{
		Chunking:         DefaultChunkConfig(),
		Retry:            DefaultRetryPolicy(),
		EmbedConcurrency: 4,
		BatchConcurrency: 4,
	}
}

// IndexResult summarizes one indexing run.
type IndexResult struct {
	SourceID  string `json:"source_id"`
	Summaries int    `json:"summaries"`
	Details   int    `json:"details"`
	ModelTag  string `json:"embedding_model"`
}

// ReindexOptions selects which sources ReindexAll touches.
type ReindexOptions struct {
	Ticker string
	// Resume skips sources that already have chunks for the current model.
	Resume bool
}

// IndexerService turns sources into embedded chunk hierarchies.
type IndexerService struct {
	sourceRepo SourceRepositoryInterface
	chunkRepo  ChunkRepositoryInterface
	txRunner   TxRunner
	embedder   llm.Embedder
	authority  domain.AuthorityTable
	uuidGen    UUIDGenerator
	locks      *keyedMutex
	cfg        IndexerConfig
	log        *logger.Logger
	now        Clock
}

// NewIndexerService creates an IndexerService.
func NewIndexerService(
	sourceRepo SourceRepositoryInterface,
	chunkRepo ChunkRepositoryInterface,
	txRunner TxRunner,
	embedder llm.Embedder,
	authority domain.AuthorityTable,
	cfg IndexerConfig,
	log *logger.Logger,
) *IndexerService {
	return NewIndexerServiceWithDeps(sourceRepo, chunkRepo, txRunner, embedder, authority, cfg, &DefaultUUIDGenerator{}, systemClock, log)
}

// NewIndexerServiceWithDeps creates an IndexerService with custom generators.
func NewIndexerServiceWithDeps(
	sourceRepo SourceRepositoryInterface,
	chunkRepo ChunkRepositoryInterface,
	txRunner TxRunner,
	embedder llm.Embedder,
	authority domain.AuthorityTable,
	cfg IndexerConfig,
	uuidGen UUIDGenerator,
	now Clock,
	log *logger.Logger,
) *IndexerService {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Chunking.SentencesPerSummary <= 0 {
		cfg.Chunking = DefaultChunkConfig()
	}
	if cfg.EmbedConcurrency < 1 {
		cfg.EmbedConcurrency = 1
	}
	return &IndexerService{
		sourceRepo: sourceRepo,
		chunkRepo:  chunkRepo,
		txRunner:   txRunner,
		embedder:   embedder,
		authority:  authority,
		uuidGen:    uuidGen,
		locks:      newKeyedMutex(),
		cfg:        cfg,
		log:        log.Named("indexer"),
		now:        now,
	}
}

// Index rebuilds the chunk set of one source. Embeddings are computed
// before the write transaction; the old set is replaced atomically, so a
// failure at any point leaves the previous chunks intact.
func (s *IndexerService) Index(ctx context.Context, sourceID string) (*IndexResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IndexerService.Index", telemetry.SpanAttributes{
		SourceID:  sourceID,
		Operation: "index",
	})
	defer span.End()

	unlock := s.locks.Lock(sourceID)
	defer unlock()

	src, err := s.sourceRepo.GetByID(ctx, sourceID)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	plan := PlanChunks(src.Content, s.cfg.Chunking)
	if len(plan) == 0 {
		return nil, fmt.Errorf("%w: source %s", domain.ErrEmptySourceContent, sourceID)
	}

	chunks := s.buildChunks(src, plan)
	if err := s.embedChunks(ctx, chunks); err != nil {
		span.SetError(err)
		return nil, err
	}
	if err := domain.ValidateChunkSet(src.ID, chunks); err != nil {
		return nil, err
	}

	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Chunks().LockSource(ctx, src.ID); err != nil {
			return err
		}
		return repos.Chunks().ReplaceChunks(ctx, src.ID, chunks)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	result := &IndexResult{SourceID: src.ID, Summaries: len(plan), Details: len(chunks) - len(plan), ModelTag: s.embedder.ModelTag()}
	s.log.Info("source indexed",
		logger.StringField("source_id", src.ID),
		logger.IntField("summaries", result.Summaries),
		logger.IntField("details", result.Details))
	return result, nil
}

// buildChunks assigns ids and indices: summaries first, then details in
// summary order.
func (s *IndexerService) buildChunks(src *domain.Source, plan []PlannedSummary) []domain.Chunk {
	weight := s.authority.Weight(src.SourceType)
	model := s.embedder.ModelTag()
	now := s.now()

	chunks := make([]domain.Chunk, 0, len(plan)*2)
	summaryIDs := make([]string, len(plan))
	for i, ps := range plan {
		summaryIDs[i] = s.uuidGen.NewString()
		chunks = append(chunks, domain.Chunk{
			ID:              summaryIDs[i],
			SourceID:        src.ID,
			ChunkType:       domain.ChunkTypeSummary,
			ChunkIndex:      i,
			Content:         ps.Content,
			EmbeddingModel:  model,
			AuthorityWeight: weight,
			CreatedAt:       now,
		})
	}

	idx := len(plan)
	for i, ps := range plan {
		for _, detail := range ps.Details {
			chunks = append(chunks, domain.Chunk{
				ID:              s.uuidGen.NewString(),
				SourceID:        src.ID,
				ChunkType:       domain.ChunkTypeDetail,
				ChunkIndex:      idx,
				Content:         detail,
				EmbeddingModel:  model,
				AuthorityWeight: weight,
				ParentID:        summaryIDs[i],
				CreatedAt:       now,
			})
			idx++
		}
	}
	return chunks
}

func (s *IndexerService) embedChunks(ctx context.Context, chunks []domain.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EmbedConcurrency)
	for i := range chunks {
		g.Go(func() error {
			vec, err := withRetry(gctx, s.cfg.Retry, func(ctx context.Context) ([]float32, error) {
				return s.embedder.Embed(ctx, chunks[i].Content)
			})
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", chunks[i].ChunkIndex, classifyUpstream(err))
			}
			chunks[i].Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

// ReindexAll indexes every matching source and reports per-source
// outcomes. Cancelling ctx stops dispatching; sources already written keep
// their new chunks and a later run with Resume picks up the rest.
func (s *IndexerService) ReindexAll(ctx context.Context, opts ReindexOptions) (*BatchReport, error) {
	filter := SourceFilter{Ticker: opts.Ticker}
	if opts.Resume {
		filter.UnindexedForTag = s.embedder.ModelTag()
	}
	ids, err := s.sourceRepo.ListIDs(ctx, filter)
	if err != nil {
		return nil, err
	}

	report := runBatch(ctx, ids, s.cfg.BatchConcurrency, func(ctx context.Context, id string) ItemOutcome {
		res, err := s.Index(ctx, id)
		if err != nil {
			s.log.Warn("reindex failed", logger.StringField("source_id", id), logger.ErrorField(err))
			return failed(id, err)
		}
		return succeeded(id, fmt.Sprintf("%d summaries, %d details", res.Summaries, res.Details))
	})

	s.log.Info("reindex finished",
		logger.IntField("total", report.Total),
		logger.IntField("succeeded", report.Succeeded),
		logger.IntField("failed", report.Failed),
		logger.BoolField("cancelled", report.Cancelled))
	return report, nil
}

// Chunks returns the current chunk set of a source in index order.
func (s *IndexerService) Chunks(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	if _, err := s.sourceRepo.GetByID(ctx, sourceID); err != nil {
		return nil, err
	}
	return s.chunkRepo.ListBySource(ctx, sourceID)
}

// IsIndexed reports whether the source has chunks for the active model.
func (s *IndexerService) IsIndexed(ctx context.Context, sourceID string) (bool, error) {
	n, err := s.chunkRepo.CountBySource(ctx, sourceID, s.embedder.ModelTag())
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
