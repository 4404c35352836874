package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/marketdata"
)

type validatorFixture struct {
	repo      *MockAssumptionRepository
	provider  *MockProvider
	gen       *MockGenerator
	publisher *MockPublisher
	svc       *ValidatorService
}

func newValidatorFixture() *validatorFixture {
	f := &validatorFixture{
		repo:      new(MockAssumptionRepository),
		provider:  new(MockProvider),
		gen:       new(MockGenerator),
		publisher: new(MockPublisher),
	}
	cfg := DefaultValidatorConfig()
	cfg.Retry = fastRetry
	f.svc = NewValidatorServiceWithClock(f.repo, f.provider, f.gen, MustLoadPrompts(), f.publisher, cfg, fixedClock, nil)
	return f
}

func pendingAssumption(id, predicted, metric string) *domain.Assumption {
	due := fixedNow.AddDate(0, 0, -1)
	return &domain.Assumption{
		ID:               id,
		Ticker:           "005930",
		AssumptionText:   "HBM 매출 1조 달성 예상",
		Category:         domain.CategoryRevenue,
		TimeHorizon:      domain.TimeHorizonMedium,
		PredictedValue:   predicted,
		MetricName:       metric,
		VerificationDate: &due,
		Confidence:       0.32,
		Status:           domain.AssumptionStatusPending,
	}
}

func resolved(a *domain.Assumption, v domain.Verdict) *domain.Assumption {
	out := *a
	correct := v.IsCorrect()
	out.Status = v.Status
	out.ActualValue = &v.ActualValue
	out.IsCorrect = &correct
	out.ValidationSource = &v.Source
	out.ValidationMethod = v.Method
	out.ValidatedAt = &v.ValidatedAt
	return &out
}

func TestValidatorService_Validate_Numeric(t *testing.T) {
	tests := []struct {
		actual string
		want   domain.AssumptionStatus
	}{
		{"1.05조", domain.AssumptionStatusVerified},
		{"1.2조", domain.AssumptionStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.actual, func(t *testing.T) {
			f := newValidatorFixture()
			a := pendingAssumption("a-1", "1조", "HBM revenue")
			f.repo.On("GetByID", mock.Anything, "a-1").Return(a, nil)

			want := domain.Verdict{
				Status:      tt.want,
				ActualValue: tt.actual,
				Source:      "DART 2024Q4",
				Method:      domain.ValidationMethodNumeric,
				ValidatedAt: fixedNow,
			}
			f.repo.On("ApplyVerdict", mock.Anything, "a-1", want).Return(resolved(a, want), nil).Once()
			f.publisher.On("Publish", mock.Anything, EventAssumptionValidated, mock.MatchedBy(func(p map[string]any) bool {
				return p["assumption_id"] == "a-1" && p["status"] == string(tt.want)
			})).Return(nil).Once()

			got, err := f.svc.Validate(context.Background(), ValidationRequest{
				AssumptionID: "a-1", ActualValue: tt.actual, Source: "DART 2024Q4",
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			require.NotNil(t, got.IsCorrect)
			assert.Equal(t, tt.want == domain.AssumptionStatusVerified, *got.IsCorrect)
			f.gen.AssertNotCalled(t, "GenerateStructured", mock.Anything, mock.Anything)
			f.repo.AssertExpectations(t)
			f.publisher.AssertExpectations(t)
		})
	}
}

func TestValidatorService_Validate_Semantic(t *testing.T) {
	f := newValidatorFixture()
	a := pendingAssumption("a-2", "", "")
	a.AssumptionText = "하반기 파운드리 흑자전환"
	f.repo.On("GetByID", mock.Anything, "a-2").Return(a, nil)
	f.gen.On("GenerateStructured", mock.Anything, requestNamed("semantic_comparison")).
		Return(`{"verdict":"CONTRADICTED","reasoning":"적자 지속"}`, nil).Once()
	f.repo.On("ApplyVerdict", mock.Anything, "a-2", mock.MatchedBy(func(v domain.Verdict) bool {
		return v.Status == domain.AssumptionStatusFailed && v.Method == domain.ValidationMethodSemantic &&
			v.Reasoning == "적자 지속" && v.Source == "manual"
	})).Return(&domain.Assumption{ID: "a-2", Status: domain.AssumptionStatusFailed}, nil).Once()
	f.publisher.On("Publish", mock.Anything, EventAssumptionValidated, mock.Anything).Return(errors.New("redis down"))

	got, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a-2", ActualValue: "파운드리 적자 지속"})

	require.NoError(t, err, "publish failures do not fail validation")
	assert.Equal(t, domain.AssumptionStatusFailed, got.Status)
	f.repo.AssertExpectations(t)
}

func TestValidatorService_Validate_NumericFallsBackToSemantic(t *testing.T) {
	f := newValidatorFixture()
	a := pendingAssumption("a-3", "1조", "HBM revenue")
	f.repo.On("GetByID", mock.Anything, "a-3").Return(a, nil)
	f.gen.On("GenerateStructured", mock.Anything, requestNamed("semantic_comparison")).
		Return(`{"verdict":"CONFIRMED","reasoning":"목표 달성 공시"}`, nil).Once()
	f.repo.On("ApplyVerdict", mock.Anything, "a-3", mock.MatchedBy(func(v domain.Verdict) bool {
		return v.Status == domain.AssumptionStatusVerified && v.Method == domain.ValidationMethodSemantic
	})).Return(&domain.Assumption{ID: "a-3", Status: domain.AssumptionStatusVerified}, nil)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a-3", ActualValue: "목표 달성"})
	require.NoError(t, err)
	f.gen.AssertExpectations(t)
}

func TestValidatorService_Validate_Undetermined(t *testing.T) {
	for name, answer := range map[string]string{
		"undetermined": `{"verdict":"UNDETERMINED","reasoning":"not enough"}`,
		"malformed":    `{"answer":"yes"}`,
	} {
		t.Run(name, func(t *testing.T) {
			f := newValidatorFixture()
			f.repo.On("GetByID", mock.Anything, "a-4").Return(pendingAssumption("a-4", "", ""), nil)
			f.gen.On("GenerateStructured", mock.Anything, mock.Anything).Return(answer, nil)

			_, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a-4", ActualValue: "unclear"})

			assert.ErrorIs(t, err, domain.ErrUnresolvable)
			f.repo.AssertNotCalled(t, "ApplyVerdict", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestValidatorService_Validate_Terminal(t *testing.T) {
	f := newValidatorFixture()
	a := pendingAssumption("a-5", "1조", "m")
	a = resolved(a, domain.Verdict{Status: domain.AssumptionStatusVerified, ActualValue: "1조", Source: "x", ValidatedAt: fixedNow})
	f.repo.On("GetByID", mock.Anything, "a-5").Return(a, nil)

	_, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a-5", ActualValue: "2조"})
	assert.ErrorIs(t, err, domain.ErrAssumptionTerminal)
}

func TestValidatorService_Validate_LostRace(t *testing.T) {
	f := newValidatorFixture()
	f.repo.On("GetByID", mock.Anything, "a-6").Return(pendingAssumption("a-6", "1조", "m"), nil)
	f.repo.On("ApplyVerdict", mock.Anything, "a-6", mock.Anything).Return(nil, domain.ErrAssumptionTerminal)

	_, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a-6", ActualValue: "1조"})
	assert.ErrorIs(t, err, domain.ErrAssumptionTerminal)
	f.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestValidatorService_Validate_RequiresActual(t *testing.T) {
	f := newValidatorFixture()
	_, err := f.svc.Validate(context.Background(), ValidationRequest{AssumptionID: "a", ActualValue: " "})
	assert.ErrorIs(t, err, domain.ErrMissingRequiredField)
}

func TestValidatorService_RunValidationJob(t *testing.T) {
	f := newValidatorFixture()
	asOf := fixedNow

	verified := pendingAssumption("v", "1조", "HBM revenue")
	failedOne := pendingAssumption("f", "1조", "HBM revenue")
	noMetric := pendingAssumption("n", "1조", "")
	notYet := pendingAssumption("y", "1조", "foundry OP")
	broken := pendingAssumption("b", "1조", "capex")
	raced := pendingAssumption("r", "1조", "HBM revenue")
	failedOne.Ticker = "000660"
	raced.Ticker = "035420"

	f.repo.On("ListDue", mock.Anything, asOf, 500).Return([]*domain.Assumption{verified, failedOne, noMetric, notYet, broken, raced}, nil)

	f.provider.On("GetActualValue", mock.Anything, "005930", "HBM revenue", asOf).
		Return(&marketdata.ActualValue{Value: "1.05조", Source: "feed"}, nil)
	f.provider.On("GetActualValue", mock.Anything, "000660", "HBM revenue", asOf).
		Return(&marketdata.ActualValue{Value: "1.2조", Source: "feed"}, nil)
	f.provider.On("GetActualValue", mock.Anything, "035420", "HBM revenue", asOf).
		Return(&marketdata.ActualValue{Value: "1조", Source: "feed"}, nil)
	f.provider.On("GetActualValue", mock.Anything, "005930", "foundry OP", asOf).
		Return(nil, domain.ErrActualNotFound)
	f.provider.On("GetActualValue", mock.Anything, "005930", "capex", asOf).
		Return(nil, errors.New("timeout"))

	f.repo.On("ApplyVerdict", mock.Anything, "v", mock.Anything).Return(&domain.Assumption{ID: "v"}, nil)
	f.repo.On("ApplyVerdict", mock.Anything, "f", mock.Anything).Return(&domain.Assumption{ID: "f"}, nil)
	f.repo.On("ApplyVerdict", mock.Anything, "r", mock.Anything).Return(nil, domain.ErrAssumptionTerminal)
	f.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	report, err := f.svc.RunValidationJob(context.Background(), asOf)

	require.NoError(t, err)
	assert.Equal(t, 6, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 1, report.Verified)
	assert.Equal(t, 1, report.FailedVerdicts)
	assert.False(t, report.Cancelled)

	outcomes := make(map[string]ItemOutcome)
	for _, it := range report.Items {
		outcomes[it.ID] = it
	}
	assert.Equal(t, "no_metric", outcomes["n"].Detail)
	assert.Equal(t, "no_actual", outcomes["y"].Detail)
	assert.Equal(t, "already_resolved", outcomes["r"].Detail)
	assert.Equal(t, ItemFailed, outcomes["b"].Status)
	assert.Contains(t, outcomes["b"].Error, "timeout")
	f.provider.AssertNumberOfCalls(t, "GetActualValue", 7)
}

func TestValidatorService_ActualFor_MissingMetric(t *testing.T) {
	f := newValidatorFixture()

	_, err := f.svc.actualFor(context.Background(), pendingAssumption("n", "1조", "  "), fixedNow)

	assert.ErrorIs(t, err, domain.ErrMissingMetric)
	f.provider.AssertNotCalled(t, "GetActualValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidatorService_RunValidationJob_Cancelled(t *testing.T) {
	f := newValidatorFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.repo.On("ListDue", mock.Anything, mock.Anything, mock.Anything).
		Return([]*domain.Assumption{pendingAssumption("a", "1조", "m")}, nil)

	report, err := f.svc.RunValidationJob(ctx, time.Now())
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.NotStarted)
	f.provider.AssertNotCalled(t, "GetActualValue", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidatorService_RunValidationJob_NoProvider(t *testing.T) {
	svc := NewValidatorService(new(MockAssumptionRepository), nil, nil, MustLoadPrompts(), nil, DefaultValidatorConfig(), nil)
	_, err := svc.RunValidationJob(context.Background(), time.Now())
	assert.Equal(t, domain.ErrCodeInvalidOperation, domain.CodeOf(err))
}
