package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/alphaledger/internal/api"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type AssumptionQueries interface {
	Get(ctx context.Context, id string) (*domain.Assumption, error)
	List(ctx context.Context, filter service.AssumptionFilter) ([]*domain.Assumption, error)
	Delete(ctx context.Context, id string) error
	Accuracy(ctx context.Context, filter service.AccuracyFilter) (*service.AccuracyStats, error)
	Trend(ctx context.Context, filter service.AccuracyFilter) ([]service.TrendPoint, error)
}

type Validator interface {
	Validate(ctx context.Context, req service.ValidationRequest) (*domain.Assumption, error)
	RunValidationJob(ctx context.Context, asOf time.Time) (*service.ValidationJobReport, error)
}

type AssumptionHandler struct {
	assumptions AssumptionQueries
	validator   Validator
	extractor   ExtractionService
	now         func() time.Time
}

func NewAssumptionHandler(assumptions AssumptionQueries, validator Validator, extractor ExtractionService) *AssumptionHandler {
	return &AssumptionHandler{
		assumptions: assumptions,
		validator:   validator,
		extractor:   extractor,
		now:         time.Now,
	}
}

func (h *AssumptionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q, "limit", service.DefaultAssumptionPageSize)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if limit <= 0 || limit > service.MaxAssumptionPageSize {
		api.Error(w, http.StatusBadRequest, fmt.Sprintf("limit must be within 1..%d", service.MaxAssumptionPageSize))
		return
	}
	offset, err := queryInt(q, "offset", 0)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	filter := service.AssumptionFilter{
		Ticker:   q.Get("ticker"),
		SourceID: q.Get("source_id"),
		Limit:    limit,
		Offset:   offset,
	}
	if raw := q.Get("status"); raw != "" {
		filter.Status = domain.AssumptionStatus(strings.ToUpper(raw))
		if !filter.Status.IsValid() {
			api.Error(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", raw))
			return
		}
	}
	for _, raw := range csv(q, "category") {
		c, err := domain.ParseCategory(raw)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		filter.Categories = append(filter.Categories, c)
	}
	if raw := q.Get("horizon"); raw != "" {
		if filter.Horizon, err = domain.ParseTimeHorizon(raw); err != nil {
			api.HandleError(w, err)
			return
		}
	}
	if filter.CreatedFrom, err = queryDate(q, "from"); err != nil {
		api.HandleError(w, err)
		return
	}
	if filter.CreatedTo, err = queryDate(q, "to"); err != nil {
		api.HandleError(w, err)
		return
	}

	items, err := h.assumptions.List(r.Context(), filter)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, map[string]any{"items": assumptionsToResponse(items)})
}

func (h *AssumptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.assumptions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, assumptionToResponse(a))
}

func (h *AssumptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.assumptions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type ValidateRequest struct {
	ActualValue string `json:"actual_value"`
	Source      string `json:"source"`
}

func (h *AssumptionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}
	if strings.TrimSpace(req.ActualValue) == "" {
		api.Error(w, http.StatusBadRequest, "actual_value is required")
		return
	}

	a, err := h.validator.Validate(r.Context(), service.ValidationRequest{
		AssumptionID: chi.URLParam(r, "id"),
		ActualValue:  req.ActualValue,
		Source:       req.Source,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, assumptionToResponse(a))
}

type ValidationRunRequest struct {
	AsOf string `json:"as_of"`
}

// RunValidation triggers one validation pass over due assumptions.
func (h *AssumptionHandler) RunValidation(w http.ResponseWriter, r *http.Request) {
	var req ValidationRunRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			api.HandleError(w, err)
			return
		}
	}

	asOf := h.now().UTC()
	if req.AsOf != "" {
		t, err := parseDate(req.AsOf)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		asOf = t
	}

	report, err := h.validator.RunValidationJob(r.Context(), asOf)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, report)
}

func accuracyFilter(r *http.Request) (service.AccuracyFilter, error) {
	q := r.URL.Query()
	filter := service.AccuracyFilter{Ticker: q.Get("ticker")}

	var err error
	if raw := q.Get("category"); raw != "" {
		if filter.Category, err = domain.ParseCategory(raw); err != nil {
			return filter, err
		}
	}
	if raw := q.Get("horizon"); raw != "" {
		if filter.Horizon, err = domain.ParseTimeHorizon(raw); err != nil {
			return filter, err
		}
	}
	if filter.Since, err = queryDate(q, "since"); err != nil {
		return filter, err
	}
	if filter.Until, err = queryDate(q, "until"); err != nil {
		return filter, err
	}
	return filter, nil
}

func (h *AssumptionHandler) Accuracy(w http.ResponseWriter, r *http.Request) {
	filter, err := accuracyFilter(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	stats, err := h.assumptions.Accuracy(r.Context(), filter)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, stats)
}

func (h *AssumptionHandler) Trend(w http.ResponseWriter, r *http.Request) {
	filter, err := accuracyFilter(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	points, err := h.assumptions.Trend(r.Context(), filter)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if points == nil {
		points = []service.TrendPoint{}
	}
	api.Success(w, http.StatusOK, map[string]any{"items": points})
}

type ExtractRequest struct {
	Text        string `json:"text"`
	Ticker      string `json:"ticker"`
	CompanyName string `json:"company_name"`
	SourceType  string `json:"source_type"`
	PublishedAt string `json:"published_at"`
}

type ExtractedAssumptionResponse struct {
	AssumptionText   string  `json:"assumption_text"`
	Category         string  `json:"category"`
	TimeHorizon      string  `json:"time_horizon"`
	PredictedValue   string  `json:"predicted_value,omitempty"`
	MetricName       string  `json:"metric_name,omitempty"`
	VerificationDate string  `json:"verification_date"`
	Reasoning        string  `json:"reasoning,omitempty"`
	RawConfidence    float64 `json:"raw_confidence"`
	AuthorityWeight  float64 `json:"authority_weight"`
	Confidence       float64 `json:"confidence"`
}

// Extract runs extraction over ad-hoc text without storing anything.
func (h *AssumptionHandler) Extract(w http.ResponseWriter, r *http.Request) {
	var req ExtractRequest
	if err := decodeJSON(r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	in := service.ExtractInput{
		Text:        req.Text,
		Ticker:      req.Ticker,
		CompanyName: req.CompanyName,
		PublishedAt: h.now().UTC(),
	}
	var err error
	if in.SourceType, err = domain.ParseSourceType(req.SourceType); err != nil {
		api.HandleError(w, err)
		return
	}
	if req.PublishedAt != "" {
		if in.PublishedAt, err = parseDate(req.PublishedAt); err != nil {
			api.HandleError(w, err)
			return
		}
	}

	extracted, err := h.extractor.Extract(r.Context(), in)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	items := make([]ExtractedAssumptionResponse, len(extracted))
	for i, e := range extracted {
		items[i] = ExtractedAssumptionResponse{
			AssumptionText:   e.Text,
			Category:         string(e.Category),
			TimeHorizon:      string(e.Horizon),
			PredictedValue:   e.PredictedValue,
			MetricName:       e.MetricName,
			VerificationDate: e.VerificationDate.Format(dateLayout),
			Reasoning:        e.Reasoning,
			RawConfidence:    e.RawConfidence,
			AuthorityWeight:  e.AuthorityWeight,
			Confidence:       e.Confidence,
		}
	}
	api.Success(w, http.StatusOK, map[string]any{"items": items})
}
