package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type SourceService interface {
	Ingest(ctx context.Context, in service.IngestInput) (*service.IngestResult, error)
	Get(ctx context.Context, id string) (*domain.Source, error)
	List(ctx context.Context, filter service.SourceFilter) ([]*domain.Source, error)
	ArchiveURL(ctx context.Context, id string) (string, error)
}

type IndexService interface {
	Index(ctx context.Context, sourceID string) (*service.IndexResult, error)
	ReindexAll(ctx context.Context, opts service.ReindexOptions) (*service.BatchReport, error)
	Chunks(ctx context.Context, sourceID string) ([]domain.Chunk, error)
}

type ExtractionService interface {
	Extract(ctx context.Context, in service.ExtractInput) ([]service.ExtractedAssumption, error)
	ExtractFromSource(ctx context.Context, sourceID string) ([]*domain.Assumption, error)
}

type SourceHandler struct {
	sources   SourceService
	indexer   IndexService
	extractor ExtractionService
}

func NewSourceHandler(sources SourceService, indexer IndexService, extractor ExtractionService) *SourceHandler {
	return &SourceHandler{sources: sources, indexer: indexer, extractor: extractor}
}

type IngestSourceRequest struct {
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name"`
	SourceType  string `json:"source_type"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	PublishedAt string `json:"published_at"`
	SourceURL   string `json:"source_url"`
}

type IngestSourceResponse struct {
	Source  *SourceResponse `json:"source"`
	Created bool            `json:"created"`
	JobID   string          `json:"job_id,omitempty"`
}

func (h *SourceHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req IngestSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	if strings.TrimSpace(req.Ticker) == "" {
		api.Error(w, http.StatusBadRequest, "ticker is required")
		return
	}
	if req.PublishedAt == "" {
		api.Error(w, http.StatusBadRequest, "published_at is required")
		return
	}
	sourceType, err := domain.ParseSourceType(req.SourceType)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	publishedAt, err := parseDate(req.PublishedAt)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	res, err := h.sources.Ingest(r.Context(), service.IngestInput{
		Ticker:      req.Ticker,
		CompanyName: req.CompanyName,
		SourceType:  sourceType,
		Title:       req.Title,
		Content:     req.Content,
		PublishedAt: publishedAt,
		SourceURL:   req.SourceURL,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	api.Success(w, status, IngestSourceResponse{
		Source:  sourceToResponse(res.Source, false),
		Created: res.Created,
		JobID:   res.JobID,
	})
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.sources.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, sourceToResponse(src, true))
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	types, err := parseSourceTypes(csv(q, "source_type"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	from, err := queryDate(q, "from")
	if err != nil {
		api.HandleError(w, err)
		return
	}
	to, err := queryDate(q, "to")
	if err != nil {
		api.HandleError(w, err)
		return
	}

	sources, err := h.sources.List(r.Context(), service.SourceFilter{
		Ticker:        q.Get("ticker"),
		SourceTypes:   types,
		PublishedFrom: from,
		PublishedTo:   to,
		LatestOnly:    q.Get("latest") == "true",
		Limit:         limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]*SourceResponse, len(sources))
	for i, s := range sources {
		items[i] = sourceToResponse(s, false)
	}
	api.Success(w, http.StatusOK, map[string]any{"items": items})
}

func (h *SourceHandler) Archive(w http.ResponseWriter, r *http.Request) {
	url, err := h.sources.ArchiveURL(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]string{"download_url": url})
}

func (h *SourceHandler) Chunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.indexer.Chunks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	items := make([]ChunkResponse, len(chunks))
	for i, c := range chunks {
		items[i] = chunkToResponse(c)
	}
	api.Success(w, http.StatusOK, map[string]any{"items": items})
}

// Index rebuilds the chunk hierarchy of one source synchronously.
func (h *SourceHandler) Index(w http.ResponseWriter, r *http.Request) {
	res, err := h.indexer.Index(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, res)
}

type ReindexRequest struct {
	Ticker string `json:"ticker"`
	Resume bool   `json:"resume"`
}

func (h *SourceHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	var req ReindexRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.HandleError(w, err)
			return
		}
	}
	report, err := h.indexer.ReindexAll(r.Context(), service.ReindexOptions{Ticker: req.Ticker, Resume: req.Resume})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}

// ExtractAssumptions extracts and stores assumptions from a stored source.
func (h *SourceHandler) ExtractAssumptions(w http.ResponseWriter, r *http.Request) {
	items, err := h.extractor.ExtractFromSource(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, map[string]any{"items": assumptionsToResponse(items)})
}
