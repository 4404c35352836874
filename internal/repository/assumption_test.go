//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

func newTestAssumption(ticker string, cat domain.Category, due *time.Time) *domain.Assumption {
	return &domain.Assumption{
		ID:               uuid.NewString(),
		Ticker:           ticker,
		AssumptionText:   "HBM 매출 1조 달성 예상",
		Category:         cat,
		TimeHorizon:      domain.TimeHorizonMedium,
		PredictedValue:   "1조",
		MetricName:       "HBM revenue",
		VerificationDate: due,
		Confidence:       0.32,
		RawConfidence:    0.8,
		AuthorityWeight:  0.4,
		Status:           domain.AssumptionStatusPending,
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
}

func verdict(status domain.AssumptionStatus) domain.Verdict {
	return domain.Verdict{
		Status:      status,
		ActualValue: "1.05조",
		Source:      "DART",
		Method:      domain.ValidationMethodNumeric,
		ValidatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestAssumptionRepository_CreateGetList(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewAssumptionRepository(pool)

	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	a := newTestAssumption("005930", domain.CategoryRevenue, &due)
	b := newTestAssumption("005930", domain.CategoryMargin, nil)
	b.PredictedValue, b.MetricName = "", ""
	require.NoError(t, repo.Create(ctx, a))
	require.NoError(t, repo.Create(ctx, b))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "1조", got.PredictedValue)
	require.NotNil(t, got.VerificationDate)
	assert.True(t, due.Equal(*got.VerificationDate))
	assert.Nil(t, got.ActualValue)
	assert.NoError(t, domain.ValidateAssumption(got))

	_, err = repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrAssumptionNotFound)

	list, err := repo.List(ctx, service.AssumptionFilter{Ticker: "005930", Categories: []domain.Category{domain.CategoryMargin}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, b.ID, list[0].ID)
	assert.Nil(t, list[0].VerificationDate)

	list, err = repo.List(ctx, service.AssumptionFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestAssumptionRepository_ListDue(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewAssumptionRepository(pool)

	past := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	due := newTestAssumption("005930", domain.CategoryRevenue, &past)
	notYet := newTestAssumption("005930", domain.CategoryRevenue, &future)
	resolved := newTestAssumption("005930", domain.CategoryRevenue, &past)
	for _, a := range []*domain.Assumption{due, notYet, resolved} {
		require.NoError(t, repo.Create(ctx, a))
	}
	_, err := repo.ApplyVerdict(ctx, resolved.ID, verdict(domain.AssumptionStatusVerified))
	require.NoError(t, err)

	list, err := repo.ListDue(ctx, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)
}

func TestAssumptionRepository_ApplyVerdict(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewAssumptionRepository(pool)

	a := newTestAssumption("005930", domain.CategoryRevenue, nil)
	require.NoError(t, repo.Create(ctx, a))

	got, err := repo.ApplyVerdict(ctx, a.ID, verdict(domain.AssumptionStatusFailed))
	require.NoError(t, err)
	assert.Equal(t, domain.AssumptionStatusFailed, got.Status)
	require.NotNil(t, got.IsCorrect)
	assert.False(t, *got.IsCorrect)
	assert.Equal(t, "1.05조", *got.ActualValue)
	assert.Equal(t, domain.ValidationMethodNumeric, got.ValidationMethod)
	assert.NoError(t, domain.ValidateAssumption(got))

	_, err = repo.ApplyVerdict(ctx, a.ID, verdict(domain.AssumptionStatusVerified))
	assert.ErrorIs(t, err, domain.ErrAssumptionTerminal)

	_, err = repo.ApplyVerdict(ctx, uuid.NewString(), verdict(domain.AssumptionStatusVerified))
	assert.ErrorIs(t, err, domain.ErrAssumptionNotFound)
}

func TestAssumptionRepository_ApplyVerdict_SingleWinner(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewAssumptionRepository(pool)

	a := newTestAssumption("005930", domain.CategoryRevenue, nil)
	require.NoError(t, repo.Create(ctx, a))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := domain.AssumptionStatusVerified
			if i%2 == 1 {
				status = domain.AssumptionStatusFailed
			}
			_, errs[i] = repo.ApplyVerdict(ctx, a.ID, verdict(status))
		}()
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrAssumptionTerminal)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestAssumptionRepository_Accuracy(t *testing.T) {
	ctx := context.Background()
	pool := setupPool(ctx, t)
	repo := NewAssumptionRepository(pool)

	statuses := []domain.AssumptionStatus{
		domain.AssumptionStatusVerified, domain.AssumptionStatusVerified, domain.AssumptionStatusVerified,
		domain.AssumptionStatusFailed, domain.AssumptionStatusFailed,
		domain.AssumptionStatusPending, domain.AssumptionStatusPending, domain.AssumptionStatusPending,
		domain.AssumptionStatusPending, domain.AssumptionStatusPending,
	}
	for _, st := range statuses {
		a := newTestAssumption("005930", domain.CategoryRevenue, nil)
		require.NoError(t, repo.Create(ctx, a))
		if st != domain.AssumptionStatusPending {
			_, err := repo.ApplyVerdict(ctx, a.ID, verdict(st))
			require.NoError(t, err)
		}
	}

	rows, err := repo.CountByStatus(ctx, service.AccuracyFilter{Ticker: "005930"})
	require.NoError(t, err)
	stats := service.ComputeAccuracy(rows)
	assert.Equal(t, 10, stats.Total)
	require.NotNil(t, stats.Overall.Accuracy)
	assert.InDelta(t, 0.6, *stats.Overall.Accuracy, 1e-9)

	weeks, err := repo.WeeklyOutcomes(ctx, service.AccuracyFilter{Ticker: "005930"})
	require.NoError(t, err)
	require.Len(t, weeks, 1)
	assert.Equal(t, 3, weeks[0].Verified)
	assert.Equal(t, 2, weeks[0].Failed)
	assert.Equal(t, time.Monday, weeks[0].WeekStart.Weekday())

	rows, err = repo.CountByStatus(ctx, service.AccuracyFilter{Ticker: "000660"})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
