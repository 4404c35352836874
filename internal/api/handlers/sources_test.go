package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type MockSourceService struct {
	mock.Mock
}

func (m *MockSourceService) Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IngestResult), args.Error(1)
}

func (m *MockSourceService) Get(ctx context.Context, id string) (*domain.Source, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Source), args.Error(1)
}

func (m *MockSourceService) List(ctx context.Context, filter service.SourceFilter) ([]*domain.Source, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Source), args.Error(1)
}

func (m *MockSourceService) ArchiveURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

type MockIndexService struct {
	mock.Mock
}

func (m *MockIndexService) Index(ctx context.Context, sourceID string) (*service.IndexResult, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.IndexResult), args.Error(1)
}

func (m *MockIndexService) ReindexAll(ctx context.Context, opts service.ReindexOptions) (*service.BatchReport, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BatchReport), args.Error(1)
}

func (m *MockIndexService) Chunks(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Chunk), args.Error(1)
}

type MockExtractionService struct {
	mock.Mock
}

func (m *MockExtractionService) Extract(ctx context.Context, in service.ExtractInput) ([]service.ExtractedAssumption, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.ExtractedAssumption), args.Error(1)
}

func (m *MockExtractionService) ExtractFromSource(ctx context.Context, sourceID string) ([]*domain.Assumption, error) {
	args := m.Called(ctx, sourceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Assumption), args.Error(1)
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return data
}

func newTestSource() *domain.Source {
	return &domain.Source{
		ID:          "src-1",
		Ticker:      "005930",
		CompanyName: "삼성전자",
		SourceType:  domain.SourceTypeDARTFiling,
		Title:       "2024 반기보고서",
		Content:     "HBM 매출 비중 확대",
		PublishedAt: time.Date(2024, 8, 14, 0, 0, 0, 0, time.UTC),
		ContentHash: domain.ContentHash("HBM 매출 비중 확대"),
		Version:     1,
		ArchiveKey:  "sources/005930/dart_filing/v1.txt",
		CreatedAt:   time.Date(2024, 8, 14, 1, 0, 0, 0, time.UTC),
	}
}

func newSourceHandler() (*SourceHandler, *MockSourceService, *MockIndexService, *MockExtractionService) {
	sources := new(MockSourceService)
	indexer := new(MockIndexService)
	extractor := new(MockExtractionService)
	return NewSourceHandler(sources, indexer, extractor), sources, indexer, extractor
}

func TestSourceHandler_Ingest_Created(t *testing.T) {
	h, sources, _, _ := newSourceHandler()

	src := newTestSource()
	sources.On("Ingest", mock.Anything, mock.MatchedBy(func(in service.IngestInput) bool {
		return in.Ticker == "005930" &&
			in.SourceType == domain.SourceTypeDARTFiling &&
			in.PublishedAt.Equal(time.Date(2024, 8, 14, 0, 0, 0, 0, time.UTC))
	})).Return(&service.IngestResult{Source: src, Created: true, JobID: "job-1"}, nil)

	body := `{"ticker":"005930","company_name":"삼성전자","source_type":"dart_filing","title":"2024 반기보고서","content":"HBM 매출 비중 확대","published_at":"2024-08-14"}`
	req := httptest.NewRequest(http.MethodPost, "/sources", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()

	h.Ingest(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, true, data["created"])
	assert.Equal(t, "job-1", data["job_id"])
	source := data["source"].(map[string]any)
	assert.Equal(t, "src-1", source["id"])
	assert.Equal(t, true, source["archived"])
	assert.NotContains(t, source, "content")
	sources.AssertExpectations(t)
}

func TestSourceHandler_Ingest_Unchanged(t *testing.T) {
	h, sources, _, _ := newSourceHandler()
	sources.On("Ingest", mock.Anything, mock.Anything).
		Return(&service.IngestResult{Source: newTestSource(), Created: false}, nil)

	body := `{"ticker":"005930","source_type":"DART_FILING","content":"x","published_at":"2024-08-14T09:00:00Z"}`
	w := httptest.NewRecorder()
	h.Ingest(w, httptest.NewRequest(http.MethodPost, "/sources", bytes.NewReader([]byte(body))))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeData(t, w)["created"])
}

func TestSourceHandler_Ingest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"invalid json", `{bad`, "invalid request body"},
		{"missing ticker", `{"source_type":"dart_filing","published_at":"2024-08-14"}`, "ticker is required"},
		{"missing published_at", `{"ticker":"005930","source_type":"dart_filing"}`, "published_at is required"},
		{"unknown source type", `{"ticker":"005930","source_type":"blog","published_at":"2024-08-14"}`, "invalid source type"},
		{"bad date", `{"ticker":"005930","source_type":"dart_filing","published_at":"14/08/2024"}`, "invalid date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sources, _, _ := newSourceHandler()
			w := httptest.NewRecorder()

			h.Ingest(w, httptest.NewRequest(http.MethodPost, "/sources", bytes.NewReader([]byte(tt.body))))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.message)
			sources.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
		})
	}
}

func TestSourceHandler_Get(t *testing.T) {
	h, sources, _, _ := newSourceHandler()
	sources.On("Get", mock.Anything, "src-1").Return(newTestSource(), nil)

	w := httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/sources/src-1", nil), "id", "src-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "HBM 매출 비중 확대", data["content"])
	assert.Equal(t, "2024-08-14T00:00:00Z", data["published_at"])
}

func TestSourceHandler_Get_NotFound(t *testing.T) {
	h, sources, _, _ := newSourceHandler()
	sources.On("Get", mock.Anything, "missing").Return(nil, domain.ErrSourceNotFound)

	w := httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/sources/missing", nil), "id", "missing"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrCodeNotFound)
}

func TestSourceHandler_List(t *testing.T) {
	h, sources, _, _ := newSourceHandler()
	sources.On("List", mock.Anything, mock.MatchedBy(func(f service.SourceFilter) bool {
		return f.Ticker == "005930" &&
			len(f.SourceTypes) == 2 &&
			f.SourceTypes[0] == domain.SourceTypeDARTFiling &&
			f.SourceTypes[1] == domain.SourceTypeAnalystReport &&
			f.PublishedFrom != nil && f.PublishedFrom.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) &&
			f.PublishedTo == nil &&
			f.LatestOnly &&
			f.Limit == 20
	})).Return([]*domain.Source{newTestSource()}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/sources?ticker=005930&source_type=dart_filing,analyst_report&from=2024-01-01&latest=true&limit=20", nil)
	w := httptest.NewRecorder()

	h.List(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]any)
	assert.Len(t, items, 1)
	sources.AssertExpectations(t)
}

func TestSourceHandler_List_BadParams(t *testing.T) {
	for _, url := range []string{
		"/sources?limit=abc",
		"/sources?source_type=blog",
		"/sources?from=yesterday",
	} {
		t.Run(url, func(t *testing.T) {
			h, _, _, _ := newSourceHandler()
			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSourceHandler_Archive(t *testing.T) {
	h, sources, _, _ := newSourceHandler()
	sources.On("ArchiveURL", mock.Anything, "src-1").Return("https://s3.local/presigned", nil)
	sources.On("ArchiveURL", mock.Anything, "src-2").Return("", domain.ErrArchiveNotFound)

	w := httptest.NewRecorder()
	h.Archive(w, withURLParam(httptest.NewRequest(http.MethodGet, "/sources/src-1/archive", nil), "id", "src-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://s3.local/presigned", decodeData(t, w)["download_url"])

	w = httptest.NewRecorder()
	h.Archive(w, withURLParam(httptest.NewRequest(http.MethodGet, "/sources/src-2/archive", nil), "id", "src-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSourceHandler_Chunks(t *testing.T) {
	h, _, indexer, _ := newSourceHandler()
	indexer.On("Chunks", mock.Anything, "src-1").Return([]domain.Chunk{
		{ID: "c-1", SourceID: "src-1", ChunkType: domain.ChunkTypeSummary, Content: "요약", EmbeddingModel: "text-embedding-3-small", AuthorityWeight: 1},
		{ID: "c-2", SourceID: "src-1", ChunkType: domain.ChunkTypeDetail, ParentID: "c-1", Content: "세부", EmbeddingModel: "text-embedding-3-small", AuthorityWeight: 1},
	}, nil)

	w := httptest.NewRecorder()
	h.Chunks(w, withURLParam(httptest.NewRequest(http.MethodGet, "/sources/src-1/chunks", nil), "id", "src-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "SUMMARY", items[0].(map[string]any)["chunk_type"])
	assert.NotContains(t, items[0].(map[string]any), "parent_id")
	assert.Equal(t, "c-1", items[1].(map[string]any)["parent_id"])
}

func TestSourceHandler_Index(t *testing.T) {
	h, _, indexer, _ := newSourceHandler()
	indexer.On("Index", mock.Anything, "src-1").
		Return(&service.IndexResult{SourceID: "src-1", Summaries: 2, Details: 9, ModelTag: "text-embedding-3-small"}, nil)
	indexer.On("Index", mock.Anything, "src-2").
		Return(nil, domain.Wrap(domain.ErrUpstreamUnavailable, errors.New("embedding timeout")))

	w := httptest.NewRecorder()
	h.Index(w, withURLParam(httptest.NewRequest(http.MethodPost, "/sources/src-1/index", nil), "id", "src-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(9), data["details"])
	assert.Equal(t, "text-embedding-3-small", data["embedding_model"])

	w = httptest.NewRecorder()
	h.Index(w, withURLParam(httptest.NewRequest(http.MethodPost, "/sources/src-2/index", nil), "id", "src-2"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSourceHandler_Reindex(t *testing.T) {
	h, _, indexer, _ := newSourceHandler()
	indexer.On("ReindexAll", mock.Anything, service.ReindexOptions{Ticker: "000660", Resume: true}).
		Return(&service.BatchReport{Total: 3, Succeeded: 2, Skipped: 1}, nil)
	indexer.On("ReindexAll", mock.Anything, service.ReindexOptions{}).
		Return(&service.BatchReport{}, nil)

	w := httptest.NewRecorder()
	h.Reindex(w, httptest.NewRequest(http.MethodPost, "/sources/reindex",
		bytes.NewReader([]byte(`{"ticker":"000660","resume":true}`))))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeData(t, w)["succeeded"])

	w = httptest.NewRecorder()
	h.Reindex(w, httptest.NewRequest(http.MethodPost, "/sources/reindex", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	indexer.AssertExpectations(t)
}

func TestSourceHandler_ExtractAssumptions(t *testing.T) {
	h, _, _, extractor := newSourceHandler()
	extractor.On("ExtractFromSource", mock.Anything, "src-1").Return([]*domain.Assumption{{
		ID:             "a-1",
		SourceID:       "src-1",
		Ticker:         "005930",
		AssumptionText: "HBM 매출이 2배 증가할 것",
		Category:       domain.CategoryRevenue,
		TimeHorizon:    domain.TimeHorizonMedium,
		Status:         domain.AssumptionStatusPending,
		CreatedAt:      time.Now(),
	}}, nil)

	w := httptest.NewRecorder()
	h.ExtractAssumptions(w, withURLParam(httptest.NewRequest(http.MethodPost, "/sources/src-1/assumptions", nil), "id", "src-1"))

	assert.Equal(t, http.StatusCreated, w.Code)
	items := decodeData(t, w)["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, "PENDING", items[0].(map[string]any)["status"])
	assert.Nil(t, items[0].(map[string]any)["is_correct"])
}
