package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/logger"
)

const defaultTrendWindow = 12 * 7 * 24 * time.Hour

// AssumptionService serves stored assumptions and their accuracy.
type AssumptionService struct {
	assumptionRepo AssumptionRepositoryInterface
	log            *logger.Logger
	now            Clock
}

// NewAssumptionService creates an AssumptionService.
func NewAssumptionService(assumptionRepo AssumptionRepositoryInterface, log *logger.Logger) *AssumptionService {
	if log == nil {
		log = logger.Nop()
	}
	return &AssumptionService{assumptionRepo: assumptionRepo, log: log.Named("assumptions"), now: systemClock}
}

func (s *AssumptionService) Get(ctx context.Context, id string) (*domain.Assumption, error) {
	return s.assumptionRepo.GetByID(ctx, id)
}

// Assumption list page bounds.
const (
	DefaultAssumptionPageSize = 50
	MaxAssumptionPageSize     = 500
)

func (s *AssumptionService) List(ctx context.Context, filter AssumptionFilter) ([]*domain.Assumption, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "invalid assumption status")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = DefaultAssumptionPageSize
	case filter.Limit > MaxAssumptionPageSize:
		filter.Limit = MaxAssumptionPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.assumptionRepo.List(ctx, filter)
}

func (s *AssumptionService) Delete(ctx context.Context, id string) error {
	return s.assumptionRepo.Delete(ctx, id)
}

// Accuracy reports VERIFIED / (VERIFIED + FAILED) overall and per category
// and horizon.
func (s *AssumptionService) Accuracy(ctx context.Context, filter AccuracyFilter) (*AccuracyStats, error) {
	rows, err := s.assumptionRepo.CountByStatus(ctx, filter)
	if err != nil {
		return nil, err
	}
	stats := ComputeAccuracy(rows)
	return &stats, nil
}

// Trend reports weekly accuracy by resolution date. Without Since the last
// twelve weeks are used.
func (s *AssumptionService) Trend(ctx context.Context, filter AccuracyFilter) ([]TrendPoint, error) {
	if filter.Since == nil {
		since := s.now().Add(-defaultTrendWindow)
		filter.Since = &since
	}
	weeks, err := s.assumptionRepo.WeeklyOutcomes(ctx, filter)
	if err != nil {
		return nil, err
	}
	return ComputeTrend(weeks), nil
}
