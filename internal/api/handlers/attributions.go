package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type Decomposer interface {
	Decompose(ctx context.Context, in service.DecomposeInput) (*domain.PriceAttribution, error)
	BatchDecompose(ctx context.Context, inputs []service.DecomposeInput) (*service.BatchReport, []*domain.PriceAttribution)
	Get(ctx context.Context, id string) (*domain.PriceAttribution, error)
	ListByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceAttribution, error)
	Update(ctx context.Context, id string, upd service.AttributionUpdate) (*domain.PriceAttribution, error)
	Delete(ctx context.Context, id string) error
}

type AttributionHandler struct {
	decomposer Decomposer
}

func NewAttributionHandler(decomposer Decomposer) *AttributionHandler {
	return &AttributionHandler{decomposer: decomposer}
}

const maxBatchDecompose = 50

type DecomposeRequest struct {
	Ticker         string  `json:"ticker"`
	CompanyName    string  `json:"company_name"`
	EventDate      string  `json:"event_date"`
	PriceChangePct float64 `json:"price_change_pct"`
}

func (req DecomposeRequest) toInput() (service.DecomposeInput, error) {
	if strings.TrimSpace(req.Ticker) == "" {
		return service.DecomposeInput{}, fmt.Errorf("%w: ticker", domain.ErrMissingRequiredField)
	}
	if req.EventDate == "" {
		return service.DecomposeInput{}, fmt.Errorf("%w: event_date", domain.ErrMissingRequiredField)
	}
	date, err := parseDate(req.EventDate)
	if err != nil {
		return service.DecomposeInput{}, err
	}
	return service.DecomposeInput{
		Ticker:         req.Ticker,
		CompanyName:    req.CompanyName,
		EventDate:      date,
		PriceChangePct: req.PriceChangePct,
	}, nil
}

func (h *AttributionHandler) Decompose(w http.ResponseWriter, r *http.Request) {
	var req DecomposeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		api.HandleError(w, err)
		return
	}

	p, err := h.decomposer.Decompose(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusCreated, attributionToResponse(p))
}

type BatchDecomposeRequest struct {
	Items []DecomposeRequest `json:"items"`
}

type BatchDecomposeResponse struct {
	Report *service.BatchReport   `json:"report"`
	Items  []*AttributionResponse `json:"items"`
}

func (h *AttributionHandler) BatchDecompose(w http.ResponseWriter, r *http.Request) {
	var req BatchDecomposeRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if len(req.Items) == 0 {
		api.Error(w, http.StatusBadRequest, "items must not be empty")
		return
	}
	if len(req.Items) > maxBatchDecompose {
		api.Error(w, http.StatusBadRequest, fmt.Sprintf("at most %d items per batch", maxBatchDecompose))
		return
	}

	inputs := make([]service.DecomposeInput, len(req.Items))
	for i, item := range req.Items {
		in, err := item.toInput()
		if err != nil {
			api.HandleError(w, fmt.Errorf("items[%d]: %w", i, err))
			return
		}
		inputs[i] = in
	}

	report, results := h.decomposer.BatchDecompose(r.Context(), inputs)
	items := make([]*AttributionResponse, 0, len(results))
	for _, p := range results {
		if p != nil {
			items = append(items, attributionToResponse(p))
		}
	}
	api.Success(w, http.StatusOK, BatchDecomposeResponse{Report: report, Items: items})
}

func (h *AttributionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticker := q.Get("ticker")
	if ticker == "" {
		api.Error(w, http.StatusBadRequest, "ticker is required")
		return
	}
	limit, err := queryInt(q, "limit", 0)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items, err := h.decomposer.ListByTicker(r.Context(), ticker, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	out := make([]*AttributionResponse, len(items))
	for i, p := range items {
		out[i] = attributionToResponse(p)
	}
	api.Success(w, http.StatusOK, map[string]any{"items": out})
}

func (h *AttributionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.decomposer.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, attributionToResponse(p))
}

type UpdateAttributionRequest struct {
	Summary           *string  `json:"summary"`
	DominantTimeframe *string  `json:"dominant_timeframe"`
	Confidence        *float64 `json:"confidence"`
	KeyInsights       []string `json:"key_insights"`
	RiskFactors       []string `json:"risk_factors"`
}

func (h *AttributionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateAttributionRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	upd := service.AttributionUpdate{
		Summary:     req.Summary,
		Confidence:  req.Confidence,
		KeyInsights: req.KeyInsights,
		RiskFactors: req.RiskFactors,
	}
	if req.DominantTimeframe != nil {
		tf, err := domain.ParseTimeframe(*req.DominantTimeframe)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		upd.DominantTimeframe = &tf
	}

	p, err := h.decomposer.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, attributionToResponse(p))
}

func (h *AttributionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.decomposer.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
