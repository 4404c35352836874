package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

type MockAssumptionQueries struct {
	mock.Mock
}

func (m *MockAssumptionQueries) Get(ctx context.Context, id string) (*domain.Assumption, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionQueries) List(ctx context.Context, filter service.AssumptionFilter) ([]*domain.Assumption, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Assumption), args.Error(1)
}

func (m *MockAssumptionQueries) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockAssumptionQueries) Accuracy(ctx context.Context, filter service.AccuracyFilter) (*service.AccuracyStats, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AccuracyStats), args.Error(1)
}

func (m *MockAssumptionQueries) Trend(ctx context.Context, filter service.AccuracyFilter) ([]service.TrendPoint, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]service.TrendPoint), args.Error(1)
}

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, req service.ValidationRequest) (*domain.Assumption, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Assumption), args.Error(1)
}

func (m *MockValidator) RunValidationJob(ctx context.Context, asOf time.Time) (*service.ValidationJobReport, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ValidationJobReport), args.Error(1)
}

var assumptionNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newAssumptionHandler() (*AssumptionHandler, *MockAssumptionQueries, *MockValidator, *MockExtractionService) {
	queries := new(MockAssumptionQueries)
	validator := new(MockValidator)
	extractor := new(MockExtractionService)
	h := NewAssumptionHandler(queries, validator, extractor)
	h.now = func() time.Time { return assumptionNow }
	return h, queries, validator, extractor
}

func newTestAssumption(status domain.AssumptionStatus) *domain.Assumption {
	verify := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	return &domain.Assumption{
		ID:               "a-1",
		SourceID:         "src-1",
		Ticker:           "005930",
		CompanyName:      "삼성전자",
		AssumptionText:   "4분기 매출 80조원 달성",
		Category:         domain.CategoryRevenue,
		TimeHorizon:      domain.TimeHorizonShort,
		PredictedValue:   "80조원",
		MetricName:       "revenue",
		VerificationDate: &verify,
		RawConfidence:    0.8,
		AuthorityWeight:  1.0,
		Confidence:       0.8,
		Status:           status,
		CreatedAt:        time.Date(2024, 8, 14, 0, 0, 0, 0, time.UTC),
	}
}

func TestAssumptionHandler_List(t *testing.T) {
	h, queries, _, _ := newAssumptionHandler()
	queries.On("List", mock.Anything, mock.MatchedBy(func(f service.AssumptionFilter) bool {
		return f.Ticker == "005930" &&
			f.Status == domain.AssumptionStatusPending &&
			len(f.Categories) == 2 && f.Categories[1] == domain.CategoryMargin &&
			f.Horizon == domain.TimeHorizonShort &&
			f.CreatedFrom != nil &&
			f.Limit == 10 && f.Offset == 20
	})).Return([]*domain.Assumption{newTestAssumption(domain.AssumptionStatusPending)}, nil)

	url := "/assumptions?ticker=005930&status=pending&category=revenue,margin&horizon=short&from=2024-01-01&limit=10&offset=20"
	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "2024-12-31", item["verification_date"])
	assert.Nil(t, item["validated_at"])
	queries.AssertExpectations(t)
}

func TestAssumptionHandler_List_DefaultLimit(t *testing.T) {
	h, queries, _, _ := newAssumptionHandler()
	queries.On("List", mock.Anything, service.AssumptionFilter{Limit: 50}).Return([]*domain.Assumption{}, nil)

	w := httptest.NewRecorder()
	h.List(w, httptest.NewRequest(http.MethodGet, "/assumptions", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeData(t, w)["items"])
}

func TestAssumptionHandler_List_BadParams(t *testing.T) {
	for _, url := range []string{
		"/assumptions?limit=0",
		"/assumptions?limit=501",
		"/assumptions?status=maybe",
		"/assumptions?category=weather",
		"/assumptions?horizon=forever",
		"/assumptions?to=someday",
	} {
		t.Run(url, func(t *testing.T) {
			h, queries, _, _ := newAssumptionHandler()
			w := httptest.NewRecorder()
			h.List(w, httptest.NewRequest(http.MethodGet, url, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			queries.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
		})
	}
}

func TestAssumptionHandler_GetDelete(t *testing.T) {
	h, queries, _, _ := newAssumptionHandler()
	queries.On("Get", mock.Anything, "a-1").Return(newTestAssumption(domain.AssumptionStatusPending), nil)
	queries.On("Delete", mock.Anything, "a-1").Return(nil)
	queries.On("Delete", mock.Anything, "a-2").Return(domain.ErrAssumptionNotFound)

	w := httptest.NewRecorder()
	h.Get(w, withURLParam(httptest.NewRequest(http.MethodGet, "/assumptions/a-1", nil), "id", "a-1"))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a-1", decodeData(t, w)["id"])

	w = httptest.NewRecorder()
	h.Delete(w, withURLParam(httptest.NewRequest(http.MethodDelete, "/assumptions/a-1", nil), "id", "a-1"))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	h.Delete(w, withURLParam(httptest.NewRequest(http.MethodDelete, "/assumptions/a-2", nil), "id", "a-2"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssumptionHandler_Validate(t *testing.T) {
	h, _, validator, _ := newAssumptionHandler()

	verified := newTestAssumption(domain.AssumptionStatusVerified)
	actual, source, correct := "78조원", "DART", true
	verified.ActualValue = &actual
	verified.ValidationSource = &source
	verified.IsCorrect = &correct
	verified.ValidationMethod = domain.ValidationMethodNumeric
	verified.ValidatedAt = &assumptionNow

	validator.On("Validate", mock.Anything, service.ValidationRequest{
		AssumptionID: "a-1",
		ActualValue:  "78조원",
		Source:       "DART",
	}).Return(verified, nil)

	req := httptest.NewRequest(http.MethodPost, "/assumptions/a-1/validate",
		bytes.NewReader([]byte(`{"actual_value":"78조원","source":"DART"}`)))
	w := httptest.NewRecorder()
	h.Validate(w, withURLParam(req, "id", "a-1"))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, "VERIFIED", data["status"])
	assert.Equal(t, true, data["is_correct"])
	assert.Equal(t, "NUMERIC", data["validation_method"])
	assert.Equal(t, "2025-03-14T09:00:00Z", data["validated_at"])
}

func TestAssumptionHandler_Validate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"missing actual", `{"source":"DART"}`, nil, http.StatusBadRequest},
		{"terminal", `{"actual_value":"1"}`, domain.ErrAssumptionTerminal, http.StatusConflict},
		{"not found", `{"actual_value":"1"}`, domain.ErrAssumptionNotFound, http.StatusNotFound},
		{"undetermined", `{"actual_value":"1"}`, domain.ErrUnresolvable, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, validator, _ := newAssumptionHandler()
			if tt.err != nil {
				validator.On("Validate", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			req := httptest.NewRequest(http.MethodPost, "/assumptions/a-1/validate", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()
			h.Validate(w, withURLParam(req, "id", "a-1"))
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAssumptionHandler_RunValidation(t *testing.T) {
	h, _, validator, _ := newAssumptionHandler()
	report := &service.ValidationJobReport{
		BatchReport: service.BatchReport{Total: 3, Succeeded: 2, Skipped: 1},
		AsOf:        assumptionNow,
		Verified:    1,
	}
	validator.On("RunValidationJob", mock.Anything, assumptionNow).Return(report, nil)
	validator.On("RunValidationJob", mock.Anything, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).Return(report, nil)

	w := httptest.NewRecorder()
	h.RunValidation(w, httptest.NewRequest(http.MethodPost, "/assumptions/validation-runs", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(3), data["total"])
	assert.Equal(t, float64(1), data["verified"])

	w = httptest.NewRecorder()
	h.RunValidation(w, httptest.NewRequest(http.MethodPost, "/assumptions/validation-runs",
		bytes.NewReader([]byte(`{"as_of":"2025-01-01"}`))))
	assert.Equal(t, http.StatusOK, w.Code)
	validator.AssertExpectations(t)
}

func TestAssumptionHandler_Accuracy(t *testing.T) {
	h, queries, _, _ := newAssumptionHandler()
	acc := 0.75
	queries.On("Accuracy", mock.Anything, mock.MatchedBy(func(f service.AccuracyFilter) bool {
		return f.Ticker == "005930" && f.Category == domain.CategoryRevenue && f.Since != nil && f.Until == nil
	})).Return(&service.AccuracyStats{
		Total:   4,
		Overall: service.AccuracyBucket{Accuracy: &acc},
	}, nil)

	w := httptest.NewRecorder()
	h.Accuracy(w, httptest.NewRequest(http.MethodGet, "/assumptions/accuracy?ticker=005930&category=REVENUE&since=2024-01-01", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	assert.Equal(t, float64(4), data["total"])
	assert.InDelta(t, 0.75, data["overall"].(map[string]any)["accuracy"], 1e-9)
}

func TestAssumptionHandler_Accuracy_BadFilter(t *testing.T) {
	h, _, _, _ := newAssumptionHandler()
	w := httptest.NewRecorder()
	h.Accuracy(w, httptest.NewRequest(http.MethodGet, "/assumptions/accuracy?horizon=decade", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAssumptionHandler_Trend_Empty(t *testing.T) {
	h, queries, _, _ := newAssumptionHandler()
	queries.On("Trend", mock.Anything, service.AccuracyFilter{}).Return(nil, nil)

	w := httptest.NewRecorder()
	h.Trend(w, httptest.NewRequest(http.MethodGet, "/assumptions/accuracy/trend", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeData(t, w)["items"])
}

func TestAssumptionHandler_Extract(t *testing.T) {
	h, _, _, extractor := newAssumptionHandler()
	extractor.On("Extract", mock.Anything, mock.MatchedBy(func(in service.ExtractInput) bool {
		return in.SourceType == domain.SourceTypeAnalystReport && in.PublishedAt.Equal(assumptionNow)
	})).Return([]service.ExtractedAssumption{{
		Text:             "영업이익률 15% 회복",
		Category:         domain.CategoryMargin,
		Horizon:          domain.TimeHorizonMedium,
		PredictedValue:   "15%",
		VerificationDate: time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		RawConfidence:    0.9,
		AuthorityWeight:  0.6,
		Confidence:       0.54,
	}}, nil)

	body := `{"text":"영업이익률이 15%로 회복될 전망","ticker":"005930","source_type":"analyst_report"}`
	w := httptest.NewRecorder()
	h.Extract(w, httptest.NewRequest(http.MethodPost, "/assumptions/extract", bytes.NewReader([]byte(body))))

	assert.Equal(t, http.StatusOK, w.Code)
	items := decodeData(t, w)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "MARGIN", item["category"])
	assert.Equal(t, "2025-09-10", item["verification_date"])
	assert.InDelta(t, 0.54, item["confidence"], 1e-9)
}

func TestAssumptionHandler_Extract_MalformedOutput(t *testing.T) {
	h, _, _, extractor := newAssumptionHandler()
	extractor.On("Extract", mock.Anything, mock.Anything).Return([]service.ExtractedAssumption{}, nil)

	w := httptest.NewRecorder()
	h.Extract(w, httptest.NewRequest(http.MethodPost, "/assumptions/extract",
		bytes.NewReader([]byte(`{"text":"x","ticker":"005930","source_type":"ir_material"}`))))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{}, decodeData(t, w)["items"])
}
