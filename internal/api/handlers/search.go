package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type Searcher interface {
	Search(ctx context.Context, in service.SearchInput) ([]service.ScoredChunk, error)
	SearchWithParentContext(ctx context.Context, in service.SearchInput) ([]service.ContextGroup, error)
	Compare(ctx context.Context, in service.SearchInput) (*service.Comparison, error)
}

type SearchHandler struct {
	search Searcher
}

func NewSearchHandler(search Searcher) *SearchHandler {
	return &SearchHandler{search: search}
}

type SearchRequest struct {
	Query         string   `json:"query"`
	Limit         int      `json:"limit"`
	Ticker        string   `json:"ticker"`
	SourceClass   string   `json:"source_class"`
	SourceTypes   []string `json:"source_types"`
	ChunkType     string   `json:"chunk_type"`
	MinSimilarity float64  `json:"min_similarity"`
}

func (req SearchRequest) toInput() (service.SearchInput, error) {
	if strings.TrimSpace(req.Query) == "" {
		return service.SearchInput{}, domain.NewDomainError(domain.ErrCodeValidation, "query is required")
	}
	if req.Limit < 0 {
		return service.SearchInput{}, domain.NewDomainError(domain.ErrCodeValidation, "limit must not be negative")
	}

	class := domain.SourceClass(strings.ToLower(req.SourceClass))
	if class != "" && class != domain.SourceClassPrimary && class != domain.SourceClassSecondary {
		return service.SearchInput{}, domain.NewDomainError(domain.ErrCodeValidation,
			fmt.Sprintf("source_class must be primary or secondary, got %q", req.SourceClass))
	}
	types, err := parseSourceTypes(req.SourceTypes)
	if err != nil {
		return service.SearchInput{}, err
	}

	return service.SearchInput{
		Query: req.Query,
		Limit: req.Limit,
		Filters: service.SearchFilters{
			Ticker:        req.Ticker,
			SourceClass:   class,
			SourceTypes:   types,
			ChunkType:     domain.ChunkType(strings.ToUpper(req.ChunkType)),
			MinSimilarity: req.MinSimilarity,
		},
	}, nil
}

func (h *SearchHandler) decode(w http.ResponseWriter, r *http.Request) (service.SearchInput, bool) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return service.SearchInput{}, false
	}
	in, err := req.toInput()
	if err != nil {
		api.HandleError(w, err)
		return service.SearchInput{}, false
	}
	return in, true
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	hits, err := h.search.Search(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]any{"items": hitsToResponse(hits)})
}

type ContextGroupResponse struct {
	Summary     *ChunkResponse      `json:"summary"`
	Details     []ChunkResponse     `json:"details"`
	Matches     []SearchHitResponse `json:"matches"`
	BestScore   float64             `json:"best_score"`
	SourceType  string              `json:"source_type"`
	SourceTitle string              `json:"source_title"`
	PublishedAt string              `json:"published_at"`
}

func (h *SearchHandler) SearchWithContext(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	groups, err := h.search.SearchWithParentContext(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]ContextGroupResponse, len(groups))
	for i, g := range groups {
		resp := ContextGroupResponse{
			Details:     make([]ChunkResponse, len(g.Details)),
			Matches:     hitsToResponse(g.Matches),
			BestScore:   g.BestScore,
			SourceType:  string(g.SourceType),
			SourceTitle: g.SourceTitle,
			PublishedAt: g.PublishedAt.UTC().Format(timeLayout),
		}
		if g.Summary != nil {
			s := chunkToResponse(*g.Summary)
			resp.Summary = &s
		}
		for j, d := range g.Details {
			resp.Details[j] = chunkToResponse(d)
		}
		items[i] = resp
	}
	api.Success(w, http.StatusOK, map[string]any{"items": items})
}

type ComparisonResponse struct {
	Weighted           []SearchHitResponse `json:"weighted"`
	Unweighted         []SearchHitResponse `json:"unweighted"`
	WeightedRanks      []int               `json:"weighted_ranks"`
	UnweightedRanks    []int               `json:"unweighted_ranks"`
	WeightedMeanRank   *float64            `json:"weighted_mean_primary_rank"`
	UnweightedMeanRank *float64            `json:"unweighted_mean_primary_rank"`
}

func (h *SearchHandler) Compare(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decode(w, r)
	if !ok {
		return
	}
	cmp, err := h.search.Compare(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, ComparisonResponse{
		Weighted:           hitsToResponse(cmp.Weighted),
		Unweighted:         hitsToResponse(cmp.Unweighted),
		WeightedRanks:      cmp.WeightedRanks,
		UnweightedRanks:    cmp.UnweightedRanks,
		WeightedMeanRank:   cmp.WeightedMeanRank,
		UnweightedMeanRank: cmp.UnweightedMeanRank,
	})
}
