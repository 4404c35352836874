package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/marketdata"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// EventAssumptionValidated is published after a verdict is stored.
const EventAssumptionValidated = "assumption.validated"

// EventPublisher announces state changes to other systems. Publishing is
// best effort and never rolls back the change.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// ValidatorConfig tunes validation.
type ValidatorConfig struct {
	// Tolerance is the relative deviation a numeric prediction may have.
	Tolerance    float64
	Concurrency  int
	DueBatchSize int
	Retry        RetryPolicy
}

// DefaultValidatorConfig provides sane defaults for validation.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Tolerance:    0.10,
		Concurrency:  4,
		DueBatchSize: 500,
		Retry:        DefaultRetryPolicy(),
	}
}

// ValidationRequest supplies the observed value for one assumption.
type ValidationRequest struct {
	AssumptionID string
	ActualValue  string
	Source       string
}

// ValidationJobReport is the outcome of one scheduled validation pass.
type ValidationJobReport struct {
	BatchReport
	AsOf           time.Time `json:"as_of"`
	Verified       int       `json:"verified"`
	FailedVerdicts int       `json:"failed_verdicts"`
}

// ValidatorService settles PENDING assumptions against observed values.
type ValidatorService struct {
	assumptionRepo AssumptionRepositoryInterface
	provider       marketdata.Provider
	generator      llm.StructuredGenerator
	prompts        *Prompts
	publisher      EventPublisher
	cfg            ValidatorConfig
	log            *logger.Logger
	now            Clock
}

// NewValidatorService creates a ValidatorService. provider and publisher
// may be nil.
func NewValidatorService(
	assumptionRepo AssumptionRepositoryInterface,
	provider marketdata.Provider,
	generator llm.StructuredGenerator,
	prompts *Prompts,
	publisher EventPublisher,
	cfg ValidatorConfig,
	log *logger.Logger,
) *ValidatorService {
	return NewValidatorServiceWithClock(assumptionRepo, provider, generator, prompts, publisher, cfg, systemClock, log)
}

// NewValidatorServiceWithClock creates a ValidatorService with a custom clock.
func NewValidatorServiceWithClock(
	assumptionRepo AssumptionRepositoryInterface,
	provider marketdata.Provider,
	generator llm.StructuredGenerator,
	prompts *Prompts,
	publisher EventPublisher,
	cfg ValidatorConfig,
	now Clock,
	log *logger.Logger,
) *ValidatorService {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = DefaultValidatorConfig().Tolerance
	}
	if cfg.DueBatchSize <= 0 {
		cfg.DueBatchSize = DefaultValidatorConfig().DueBatchSize
	}
	return &ValidatorService{
		assumptionRepo: assumptionRepo,
		provider:       provider,
		generator:      generator,
		prompts:        prompts,
		publisher:      publisher,
		cfg:            cfg,
		log:            log.Named("validator"),
		now:            now,
	}
}

// Validate compares the assumption with the supplied value and stores the
// verdict. Numeric comparison is tried first; text that is not a comparable
// figure goes to the generator. ErrUnresolvable leaves the assumption
// PENDING.
func (s *ValidatorService) Validate(ctx context.Context, req ValidationRequest) (*domain.Assumption, error) {
	ctx, span := telemetry.StartSpan(ctx, "ValidatorService.Validate", telemetry.SpanAttributes{
		AssumptionID: req.AssumptionID,
		Operation:    "validate",
	})
	defer span.End()

	if strings.TrimSpace(req.ActualValue) == "" {
		return nil, fmt.Errorf("%w: actual_value", domain.ErrMissingRequiredField)
	}
	if strings.TrimSpace(req.Source) == "" {
		req.Source = "manual"
	}

	a, err := s.assumptionRepo.GetByID(ctx, req.AssumptionID)
	if err != nil {
		return nil, err
	}
	if a.Status.IsTerminal() {
		return nil, domain.ErrAssumptionTerminal
	}

	verdict, err := s.Decide(ctx, a, req.ActualValue)
	if err != nil {
		if !errors.Is(err, domain.ErrUnresolvable) {
			span.SetError(err)
		}
		return nil, err
	}
	verdict.Source = req.Source
	return s.apply(ctx, a, verdict)
}

// Decide computes a verdict without storing it.
func (s *ValidatorService) Decide(ctx context.Context, a *domain.Assumption, actual string) (domain.Verdict, error) {
	verdict := domain.Verdict{ActualValue: strings.TrimSpace(actual), ValidatedAt: s.now()}

	if a.PredictedValue != "" {
		if status, ok := CompareQuantities(a.PredictedValue, verdict.ActualValue, s.cfg.Tolerance); ok {
			verdict.Status = status
			verdict.Method = domain.ValidationMethodNumeric
			return verdict, nil
		}
	}

	status, reasoning, err := s.compareSemantic(ctx, a, verdict.ActualValue)
	if err != nil {
		return domain.Verdict{}, err
	}
	verdict.Status = status
	verdict.Method = domain.ValidationMethodSemantic
	verdict.Reasoning = reasoning
	return verdict, nil
}

type semanticAnswer struct {
	Verdict   string `json:"verdict"`
	Reasoning string `json:"reasoning"`
}

func (s *ValidatorService) compareSemantic(ctx context.Context, a *domain.Assumption, actual string) (domain.AssumptionStatus, string, error) {
	if s.generator == nil {
		return "", "", domain.Wrap(domain.ErrUnresolvable, errors.New("no generator configured"))
	}
	req, err := s.prompts.SemanticComparison.Request(map[string]string{
		"Assumption": a.AssumptionText,
		"Predicted":  a.PredictedValue,
		"Metric":     a.MetricName,
		"Actual":     actual,
	})
	if err != nil {
		return "", "", err
	}

	raw, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return s.generator.GenerateStructured(ctx, req)
	})
	if err != nil {
		if llm.IsOutputError(err) {
			return "", "", domain.Wrap(domain.ErrUnresolvable, err)
		}
		return "", "", classifyUpstream(err)
	}

	var ans semanticAnswer
	if err := decodeOne(raw, &ans); err != nil {
		return "", "", domain.Wrap(domain.ErrUnresolvable, err)
	}
	switch strings.ToUpper(strings.TrimSpace(ans.Verdict)) {
	case "CONFIRMED":
		return domain.AssumptionStatusVerified, ans.Reasoning, nil
	case "CONTRADICTED":
		return domain.AssumptionStatusFailed, ans.Reasoning, nil
	default:
		return "", "", domain.Wrap(domain.ErrUnresolvable, fmt.Errorf("verdict %q", ans.Verdict))
	}
}

func (s *ValidatorService) apply(ctx context.Context, a *domain.Assumption, v domain.Verdict) (*domain.Assumption, error) {
	if !domain.CanTransition(a.Status, v.Status) {
		return nil, domain.ErrAssumptionTerminal
	}
	updated, err := s.assumptionRepo.ApplyVerdict(ctx, a.ID, v)
	if err != nil {
		return nil, err
	}

	s.log.Info("assumption validated",
		logger.StringField("assumption_id", a.ID),
		logger.StringField("status", string(v.Status)),
		logger.StringField("method", string(v.Method)))

	if s.publisher != nil {
		payload := map[string]any{
			"assumption_id": a.ID,
			"ticker":        a.Ticker,
			"status":        string(v.Status),
			"method":        string(v.Method),
			"actual_value":  v.ActualValue,
			"validated_at":  v.ValidatedAt.Format(time.RFC3339),
		}
		if err := s.publisher.Publish(ctx, EventAssumptionValidated, payload); err != nil {
			s.log.Warn("publish validation event failed",
				logger.StringField("assumption_id", a.ID), logger.ErrorField(err))
		}
	}
	return updated, nil
}

// RunValidationJob validates every PENDING assumption due by asOf using the
// market data provider. Items without a metric, without an observed value
// yet, or with an undecidable comparison are skipped and stay PENDING.
func (s *ValidatorService) RunValidationJob(ctx context.Context, asOf time.Time) (*ValidationJobReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "ValidatorService.RunValidationJob", telemetry.SpanAttributes{
		Operation: "validation_job",
	})
	defer span.End()

	if s.provider == nil {
		return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "no market data provider configured")
	}

	due, err := s.assumptionRepo.ListDue(ctx, asOf, s.cfg.DueBatchSize)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	byID := make(map[string]*domain.Assumption, len(due))
	ids := make([]string, 0, len(due))
	for _, a := range due {
		byID[a.ID] = a
		ids = append(ids, a.ID)
	}

	batch := runBatch(ctx, ids, s.cfg.Concurrency, func(ctx context.Context, id string) ItemOutcome {
		return s.validateDue(ctx, byID[id], asOf)
	})

	report := &ValidationJobReport{BatchReport: *batch, AsOf: asOf}
	for _, item := range batch.Items {
		if item.Status != ItemSucceeded {
			continue
		}
		switch domain.AssumptionStatus(item.Detail) {
		case domain.AssumptionStatusVerified:
			report.Verified++
		case domain.AssumptionStatusFailed:
			report.FailedVerdicts++
		}
	}

	s.log.Info("validation job finished",
		logger.IntField("total", report.Total),
		logger.IntField("succeeded", report.Succeeded),
		logger.IntField("failed", report.Failed),
		logger.IntField("skipped", report.Skipped),
		logger.IntField("verified", report.Verified),
		logger.IntField("failed_verdicts", report.FailedVerdicts))
	return report, nil
}

// actualFor fetches the observed value of the assumption's metric.
func (s *ValidatorService) actualFor(ctx context.Context, a *domain.Assumption, asOf time.Time) (*marketdata.ActualValue, error) {
	if strings.TrimSpace(a.MetricName) == "" {
		return nil, domain.ErrMissingMetric
	}
	return withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (*marketdata.ActualValue, error) {
		return s.provider.GetActualValue(ctx, a.Ticker, a.MetricName, asOf)
	})
}

func (s *ValidatorService) validateDue(ctx context.Context, a *domain.Assumption, asOf time.Time) ItemOutcome {
	actual, err := s.actualFor(ctx, a, asOf)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrMissingMetric):
			return skipped(a.ID, "no_metric")
		case errors.Is(err, domain.ErrActualNotFound):
			return skipped(a.ID, "no_actual")
		}
		return failed(a.ID, fmt.Errorf("market data: %w", err))
	}

	verdict, err := s.Decide(ctx, a, actual.Value)
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvable) {
			return skipped(a.ID, "unresolvable")
		}
		return failed(a.ID, err)
	}
	verdict.Source = actual.Source

	if _, err := s.apply(ctx, a, verdict); err != nil {
		if errors.Is(err, domain.ErrAssumptionTerminal) {
			return skipped(a.ID, "already_resolved")
		}
		return failed(a.ID, err)
	}
	return succeeded(a.ID, string(verdict.Status))
}
