package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// AttributionRepositoryInterface defines the repository interface for price attribution persistence
type AttributionRepositoryInterface interface {
	Create(ctx context.Context, p *domain.PriceAttribution) error
	GetByID(ctx context.Context, id string) (*domain.PriceAttribution, error)
	ListByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceAttribution, error)
	Update(ctx context.Context, p *domain.PriceAttribution) error
	Delete(ctx context.Context, id string) error
}

// DecomposeInput describes a price move to explain.
type DecomposeInput struct {
	Ticker         string
	CompanyName    string
	EventDate      time.Time
	PriceChangePct float64
}

// AttributionUpdate carries the editable fields of an attribution. Nil
// fields are left unchanged.
type AttributionUpdate struct {
	Summary           *string
	DominantTimeframe *domain.Timeframe
	Confidence        *float64
	KeyInsights       []string
	RiskFactors       []string
}

// DecomposerConfig tunes decomposition.
type DecomposerConfig struct {
	Retry            RetryPolicy
	BatchConcurrency int
}

var horizonFocus = map[domain.Timeframe]string{
	domain.TimeframeShort:  "Focus on news, flows and sentiment from the last few days.",
	domain.TimeframeMedium: "Focus on earnings, guidance and sector news over the last quarters.",
	domain.TimeframeLong:   "Focus on structural themes, capacity and competitive position over years.",
}

var horizonLabel = map[domain.Timeframe]string{
	domain.TimeframeShort:  "short-term (days)",
	domain.TimeframeMedium: "medium-term (quarters)",
	domain.TimeframeLong:   "long-term (years)",
}

// DecomposerService attributes a price move to short, medium and long term
// drivers.
type DecomposerService struct {
	gatherer        ContextGatherer
	generator       llm.StructuredGenerator
	prompts         *Prompts
	attributionRepo AttributionRepositoryInterface
	uuidGen         UUIDGenerator
	cfg             DecomposerConfig
	log             *logger.Logger
	now             Clock
}

// NewDecomposerService creates a DecomposerService.
func NewDecomposerService(
	gatherer ContextGatherer,
	generator llm.StructuredGenerator,
	prompts *Prompts,
	attributionRepo AttributionRepositoryInterface,
	cfg DecomposerConfig,
	log *logger.Logger,
) *DecomposerService {
	return NewDecomposerServiceWithDeps(gatherer, generator, prompts, attributionRepo, cfg, &DefaultUUIDGenerator{}, systemClock, log)
}

// NewDecomposerServiceWithDeps creates a DecomposerService with custom generators.
func NewDecomposerServiceWithDeps(
	gatherer ContextGatherer,
	generator llm.StructuredGenerator,
	prompts *Prompts,
	attributionRepo AttributionRepositoryInterface,
	cfg DecomposerConfig,
	uuidGen UUIDGenerator,
	now Clock,
	log *logger.Logger,
) *DecomposerService {
	if log == nil {
		log = logger.Nop()
	}
	return &DecomposerService{
		gatherer:        gatherer,
		generator:       generator,
		prompts:         prompts,
		attributionRepo: attributionRepo,
		uuidGen:         uuidGen,
		cfg:             cfg,
		log:             log.Named("decomposer"),
		now:             now,
	}
}

// Decompose analyses the move and stores the attribution.
func (s *DecomposerService) Decompose(ctx context.Context, in DecomposeInput) (*domain.PriceAttribution, error) {
	p, err := s.Analyze(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.attributionRepo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Analyze runs the three horizon analyses concurrently and synthesizes
// them. If any stage cannot produce usable output the result is the
// degraded fallback with zero confidence; it never fails because of the
// generator.
func (s *DecomposerService) Analyze(ctx context.Context, in DecomposeInput) (*domain.PriceAttribution, error) {
	ctx, span := telemetry.StartSpan(ctx, "DecomposerService.Analyze", telemetry.SpanAttributes{
		Ticker:    in.Ticker,
		Operation: "decompose",
	})
	defer span.End()

	if strings.TrimSpace(in.Ticker) == "" {
		return nil, fmt.Errorf("%w: ticker", domain.ErrMissingRequiredField)
	}
	if in.EventDate.IsZero() {
		return nil, fmt.Errorf("%w: event_date", domain.ErrMissingRequiredField)
	}

	now := s.now()
	p := &domain.PriceAttribution{
		ID:             s.uuidGen.NewString(),
		Ticker:         in.Ticker,
		CompanyName:    in.CompanyName,
		EventDate:      in.EventDate.UTC().Truncate(24 * time.Hour),
		PriceChangePct: in.PriceChangePct,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var g errgroup.Group
	errs := make([]error, len(domain.AllTimeframes()))
	for i, tf := range domain.AllTimeframes() {
		g.Go(func() error {
			analysis, err := s.analyzeHorizon(ctx, in, tf)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", tf, err)
				*p.Breakdown.Get(tf) = fallbackHorizon()
				return nil
			}
			*p.Breakdown.Get(tf) = analysis
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := errors.Join(errs...); err != nil {
		s.log.Warn("horizon analysis degraded", logger.StringField("ticker", in.Ticker), logger.ErrorField(err))
		applyFallback(p)
		return p, nil
	}

	if err := s.synthesize(ctx, in, p); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warn("synthesis degraded", logger.StringField("ticker", in.Ticker), logger.ErrorField(err))
		applyFallback(p)
		return p, nil
	}
	return p, nil
}

type horizonAnswer struct {
	Analysis *string  `json:"analysis"`
	Factors  []string `json:"factors"`
}

func (s *DecomposerService) analyzeHorizon(ctx context.Context, in DecomposeInput, tf domain.Timeframe) (domain.HorizonAnalysis, error) {
	bundle, err := s.gatherer.Gather(ctx, in.Ticker, in.EventDate, tf)
	if err != nil {
		return domain.HorizonAnalysis{}, err
	}

	req, err := s.prompts.Horizon.Request(map[string]string{
		"CompanyName":  companyLabel(in),
		"Ticker":       in.Ticker,
		"PriceChange":  formatChange(in.PriceChangePct),
		"EventDate":    in.EventDate.Format("2006-01-02"),
		"Horizon":      horizonLabel[tf],
		"HorizonFocus": horizonFocus[tf],
		"From":         bundle.From.Format("2006-01-02"),
		"To":           bundle.To.Format("2006-01-02"),
		"Context":      bundle.Render(),
	})
	if err != nil {
		return domain.HorizonAnalysis{}, err
	}

	raw, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return s.generator.GenerateStructured(ctx, req)
	})
	if err != nil {
		return domain.HorizonAnalysis{}, classifyUpstream(err)
	}

	var ans horizonAnswer
	if err := decodeOne(raw, &ans); err != nil {
		return domain.HorizonAnalysis{}, domain.Wrap(domain.ErrMalformedOutput, err)
	}
	if ans.Analysis == nil || strings.TrimSpace(*ans.Analysis) == "" {
		return domain.HorizonAnalysis{}, domain.Wrap(domain.ErrMalformedOutput, errors.New("analysis is empty"))
	}
	return domain.HorizonAnalysis{
		Analysis: strings.TrimSpace(*ans.Analysis),
		Factors:  nonEmpty(ans.Factors),
	}, nil
}

type synthesisAnswer struct {
	Summary           *string                    `json:"summary"`
	DominantTimeframe *string                    `json:"dominant_timeframe"`
	Confidence        *float64                   `json:"confidence"`
	Attribution       *domain.AttributionWeights `json:"attribution"`
	KeyInsights       []string                   `json:"key_insights"`
	RiskFactors       []string                   `json:"risk_factors"`
}

func (s *DecomposerService) synthesize(ctx context.Context, in DecomposeInput, p *domain.PriceAttribution) error {
	req, err := s.prompts.Synthesis.Request(map[string]string{
		"CompanyName": companyLabel(in),
		"Ticker":      in.Ticker,
		"PriceChange": formatChange(in.PriceChangePct),
		"EventDate":   in.EventDate.Format("2006-01-02"),
		"Short":       p.Breakdown.Short.Analysis,
		"Medium":      p.Breakdown.Medium.Analysis,
		"Long":        p.Breakdown.Long.Analysis,
	})
	if err != nil {
		return err
	}

	raw, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return s.generator.GenerateStructured(ctx, req)
	})
	if err != nil {
		return classifyUpstream(err)
	}

	var ans synthesisAnswer
	if err := decodeOne(raw, &ans); err != nil {
		return domain.Wrap(domain.ErrMalformedOutput, err)
	}
	if ans.Summary == nil || strings.TrimSpace(*ans.Summary) == "" {
		return domain.Wrap(domain.ErrMalformedOutput, errors.New("summary is empty"))
	}
	if ans.DominantTimeframe == nil {
		return domain.Wrap(domain.ErrMalformedOutput, errors.New("dominant_timeframe is missing"))
	}
	tf, err := domain.ParseTimeframe(*ans.DominantTimeframe)
	if err != nil {
		return domain.Wrap(domain.ErrMalformedOutput, err)
	}
	if ans.Confidence == nil || math.IsNaN(*ans.Confidence) {
		return domain.Wrap(domain.ErrMalformedOutput, errors.New("confidence is missing"))
	}

	weights, err := normalizeWeights(ans.Attribution)
	if err != nil {
		return domain.Wrap(domain.ErrMalformedOutput, err)
	}

	p.Summary = strings.TrimSpace(*ans.Summary)
	p.DominantTimeframe = tf
	p.Confidence = clampConfidence(*ans.Confidence)
	p.Weights = weights
	p.KeyInsights = nonEmpty(ans.KeyInsights)
	p.RiskFactors = nonEmpty(ans.RiskFactors)
	p.Degraded = false
	return nil
}

// BatchDecompose decomposes several moves, at most BatchConcurrency at a
// time. Results are keyed by input position.
func (s *DecomposerService) BatchDecompose(ctx context.Context, inputs []DecomposeInput) (*BatchReport, []*domain.PriceAttribution) {
	ids := make([]string, len(inputs))
	index := make(map[string]int, len(inputs))
	for i, in := range inputs {
		ids[i] = fmt.Sprintf("%s@%s#%d", in.Ticker, in.EventDate.Format("2006-01-02"), i)
		index[ids[i]] = i
	}

	results := make([]*domain.PriceAttribution, len(inputs))
	report := runBatch(ctx, ids, s.cfg.BatchConcurrency, func(ctx context.Context, id string) ItemOutcome {
		i := index[id]
		p, err := s.Decompose(ctx, inputs[i])
		if err != nil {
			return failed(id, err)
		}
		results[i] = p
		if p.Degraded {
			return succeeded(id, "degraded")
		}
		return succeeded(id, string(p.DominantTimeframe))
	})
	return report, results
}

// Get returns a stored attribution.
func (s *DecomposerService) Get(ctx context.Context, id string) (*domain.PriceAttribution, error) {
	return s.attributionRepo.GetByID(ctx, id)
}

// ListByTicker returns the newest attributions for a ticker.
func (s *DecomposerService) ListByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceAttribution, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.attributionRepo.ListByTicker(ctx, ticker, limit)
}

// Update edits a stored attribution. Degraded attributions keep zero
// confidence.
func (s *DecomposerService) Update(ctx context.Context, id string, upd AttributionUpdate) (*domain.PriceAttribution, error) {
	p, err := s.attributionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Summary != nil {
		if strings.TrimSpace(*upd.Summary) == "" {
			return nil, fmt.Errorf("%w: summary", domain.ErrMissingRequiredField)
		}
		p.Summary = strings.TrimSpace(*upd.Summary)
	}
	if upd.DominantTimeframe != nil {
		p.DominantTimeframe = *upd.DominantTimeframe
	}
	if upd.Confidence != nil {
		if p.Degraded && *upd.Confidence != domain.FallbackConfidence {
			return nil, domain.NewDomainError(domain.ErrCodeInvalidOperation, "degraded attributions keep zero confidence")
		}
		p.Confidence = *upd.Confidence
	}
	if upd.KeyInsights != nil {
		p.KeyInsights = nonEmpty(upd.KeyInsights)
	}
	if upd.RiskFactors != nil {
		p.RiskFactors = nonEmpty(upd.RiskFactors)
	}
	p.UpdatedAt = s.now()

	if err := domain.ValidatePriceAttribution(p); err != nil {
		return nil, err
	}
	if err := s.attributionRepo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a stored attribution.
func (s *DecomposerService) Delete(ctx context.Context, id string) error {
	return s.attributionRepo.Delete(ctx, id)
}

func fallbackHorizon() domain.HorizonAnalysis {
	return domain.HorizonAnalysis{Analysis: domain.FallbackSummary, Factors: []string{}, Degraded: true}
}

// applyFallback turns p into the deterministic degraded result. Horizon
// analyses that did succeed are kept.
func applyFallback(p *domain.PriceAttribution) {
	p.Summary = domain.FallbackSummary
	p.DominantTimeframe = domain.TimeframeShort
	p.Confidence = domain.FallbackConfidence
	p.Weights = domain.AttributionWeights{}
	p.KeyInsights = []string{}
	p.RiskFactors = []string{}
	p.Degraded = true
}

// clampConfidence keeps non-degraded confidence within [0.01, 1] so zero
// stays reserved for the fallback.
func clampConfidence(c float64) float64 {
	return math.Max(domain.MinAnalysisConfidence, math.Min(1, c))
}

func normalizeWeights(w *domain.AttributionWeights) (domain.AttributionWeights, error) {
	if w == nil {
		return domain.AttributionWeights{}, nil
	}
	for _, v := range []float64{w.Short, w.Medium, w.Long} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.AttributionWeights{}, fmt.Errorf("attribution weight %v out of range", v)
		}
	}
	sum := w.Short + w.Medium + w.Long
	if sum == 0 {
		return domain.AttributionWeights{}, nil
	}
	return domain.AttributionWeights{Short: w.Short / sum, Medium: w.Medium / sum, Long: w.Long / sum}, nil
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func companyLabel(in DecomposeInput) string {
	if in.CompanyName != "" {
		return in.CompanyName
	}
	return in.Ticker
}

func formatChange(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}
