package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/marketdata"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// fastRetry keeps retry tests quick.
var fastRetry = RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

// seqUUIDs returns id-1, id-2, ... and is safe for concurrent use.
type seqUUIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqUUIDs) NewString() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%d", g.n)
}

type testTxRepos struct {
	sources     SourceRepositoryInterface
	chunks      ChunkRepositoryInterface
	indexJobs   IndexJobRepositoryInterface
	assumptions AssumptionRepositoryInterface
}

func (t *testTxRepos) Sources() SourceRepositoryInterface         { return t.sources }
func (t *testTxRepos) Chunks() ChunkRepositoryInterface           { return t.chunks }
func (t *testTxRepos) IndexJobs() IndexJobRepositoryInterface     { return t.indexJobs }
func (t *testTxRepos) Assumptions() AssumptionRepositoryInterface { return t.assumptions }

type testTxRunner struct {
	repos  TxRepositories
	called int
}

func (t *testTxRunner) WithTx(ctx context.Context, fn func(repos TxRepositories) error) error {
	t.called++
	return fn(t.repos)
}

// MockSourceRepository is a mock implementation of SourceRepositoryInterface
type MockSourceRepository struct {
	mock.Mock
}

func (m *MockSourceRepository) Create(ctx context.Context, s *domain.Source) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Source), args.Error(1)
}

func (m *MockSourceRepository) GetLatestVersion(ctx context.Context, ticker string, sourceType domain.SourceType, title string) (*domain.Source, error) {
	args := m.Called(ctx, ticker, sourceType, title)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Source), args.Error(1)
}

func (m *MockSourceRepository) List(ctx context.Context, filter SourceFilter) ([]*domain.Source, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Source), args.Error(1)
}

func (m *MockSourceRepository) ListIDs(ctx context.Context, filter SourceFilter) ([]string, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockChunkRepository is a mock implementation of ChunkRepositoryInterface
type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) LockSource(ctx context.Context, sourceID string) error {
	args := m.Called(ctx, sourceID)
	return args.Error(0)
}

func (m *MockChunkRepository) ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.Chunk) error {
	args := m.Called(ctx, sourceID, chunks)
	return args.Error(0)
}

func (m *MockChunkRepository) ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

func (m *MockChunkRepository) CountBySource(ctx context.Context, sourceID, modelTag string) (int, error) {
	args := m.Called(ctx, sourceID, modelTag)
	return args.Int(0), args.Error(1)
}

func (m *MockChunkRepository) SearchByEmbedding(ctx context.Context, query ChunkSearchQuery) ([]ChunkCandidate, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChunkCandidate), args.Error(1)
}

func (m *MockChunkRepository) ListFamilies(ctx context.Context, summaryIDs []string) ([]domain.Chunk, error) {
	args := m.Called(ctx, summaryIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

// MockIndexJobRepository is a mock implementation of IndexJobRepositoryInterface
type MockIndexJobRepository struct {
	mock.Mock
}

func (m *MockIndexJobRepository) Create(ctx context.Context, job *domain.IndexJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

// MockAssumptionRepository is a mock implementation of AssumptionRepositoryInterface
type MockAssumptionRepository struct {
	mock.Mock
}

func (m *MockAssumptionRepository) Create(ctx context.Context, a *domain.Assumption) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockAssumptionRepository) GetByID(ctx context.Context, id string) (*domain.Assumption, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionRepository) List(ctx context.Context, filter AssumptionFilter) ([]*domain.Assumption, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*domain.Assumption, error) {
	args := m.Called(ctx, asOf, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionRepository) ApplyVerdict(ctx context.Context, id string, v domain.Verdict) (*domain.Assumption, error) {
	args := m.Called(ctx, id, v)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAssumptionRepository) CountByStatus(ctx context.Context, filter AccuracyFilter) ([]StatusCountRow, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]StatusCountRow), args.Error(1)
}

func (m *MockAssumptionRepository) WeeklyOutcomes(ctx context.Context, filter AccuracyFilter) ([]WeeklyOutcome, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]WeeklyOutcome), args.Error(1)
}

// MockAttributionRepository is a mock implementation of AttributionRepositoryInterface
type MockAttributionRepository struct {
	mock.Mock
}

func (m *MockAttributionRepository) Create(ctx context.Context, p *domain.PriceAttribution) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockAttributionRepository) GetByID(ctx context.Context, id string) (*domain.PriceAttribution, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PriceAttribution), args.Error(1)
}

func (m *MockAttributionRepository) ListByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceAttribution, error) {
	args := m.Called(ctx, ticker, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.PriceAttribution), args.Error(1)
}

func (m *MockAttributionRepository) Update(ctx context.Context, p *domain.PriceAttribution) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *MockAttributionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockEmbedder mocks llm.Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedder) ModelTag() string {
	return "test/embed@4"
}

// MockGenerator mocks llm.StructuredGenerator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateStructured(ctx context.Context, req llm.StructuredRequest) (json.RawMessage, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	switch v := args.Get(0).(type) {
	case string:
		return json.RawMessage(v), args.Error(1)
	default:
		return v.(json.RawMessage), args.Error(1)
	}
}

// MockProvider mocks marketdata.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetActualValue(ctx context.Context, ticker, metric string, asOf time.Time) (*marketdata.ActualValue, error) {
	args := m.Called(ctx, ticker, metric, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*marketdata.ActualValue), args.Error(1)
}

// MockPublisher mocks EventPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	args := m.Called(ctx, eventType, payload)
	return args.Error(0)
}

// requestNamed matches a StructuredRequest by prompt name.
func requestNamed(name string) any {
	return mock.MatchedBy(func(req llm.StructuredRequest) bool { return req.Name == name })
}

func vec(vals ...float32) []float32 { return vals }
