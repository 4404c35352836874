package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// maxExtractionRunes caps how much source text goes into one prompt.
const maxExtractionRunes = 8000

// AssumptionFilter narrows assumption listings. Zero values do not filter.
type AssumptionFilter struct {
	Ticker      string
	SourceID    string
	Status      domain.AssumptionStatus
	Categories  []domain.Category
	Horizon     domain.TimeHorizon
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// AssumptionRepositoryInterface defines the repository interface for assumption persistence
type AssumptionRepositoryInterface interface {
	Create(ctx context.Context, a *domain.Assumption) error
	GetByID(ctx context.Context, id string) (*domain.Assumption, error)
	List(ctx context.Context, filter AssumptionFilter) ([]*domain.Assumption, error)
	// ListDue returns PENDING assumptions whose verification date is on or
	// before asOf, oldest first.
	ListDue(ctx context.Context, asOf time.Time, limit int) ([]*domain.Assumption, error)
	// ApplyVerdict moves a PENDING assumption to a terminal state. It returns
	// domain.ErrAssumptionTerminal when the row is no longer PENDING.
	ApplyVerdict(ctx context.Context, id string, v domain.Verdict) (*domain.Assumption, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, filter AccuracyFilter) ([]StatusCountRow, error)
	WeeklyOutcomes(ctx context.Context, filter AccuracyFilter) ([]WeeklyOutcome, error)
}

// ExtractInput is raw text to mine for assumptions.
type ExtractInput struct {
	Text        string
	Ticker      string
	CompanyName string
	SourceType  domain.SourceType
	PublishedAt time.Time
}

// ExtractedAssumption is one validated model proposal with its weighted
// confidence.
type ExtractedAssumption struct {
	Text             string
	Category         domain.Category
	Horizon          domain.TimeHorizon
	PredictedValue   string
	MetricName       string
	VerificationDate time.Time
	Reasoning        string
	RawConfidence    float64
	AuthorityWeight  float64
	Confidence       float64
}

// ExtractorConfig tunes extraction.
type ExtractorConfig struct {
	Retry RetryPolicy
}

// ExtractorService asks the generator for forward-looking assumptions and
// weights them by source authority.
type ExtractorService struct {
	generator  llm.StructuredGenerator
	prompts    *Prompts
	authority  domain.AuthorityTable
	sourceRepo SourceRepositoryInterface
	txRunner   TxRunner
	uuidGen    UUIDGenerator
	cfg        ExtractorConfig
	log        *logger.Logger
	now        Clock
}

// NewExtractorService creates an ExtractorService.
func NewExtractorService(
	generator llm.StructuredGenerator,
	prompts *Prompts,
	authority domain.AuthorityTable,
	sourceRepo SourceRepositoryInterface,
	txRunner TxRunner,
	cfg ExtractorConfig,
	log *logger.Logger,
) *ExtractorService {
	return NewExtractorServiceWithDeps(generator, prompts, authority, sourceRepo, txRunner, cfg, &DefaultUUIDGenerator{}, systemClock, log)
}

// NewExtractorServiceWithDeps creates an ExtractorService with custom generators.
func NewExtractorServiceWithDeps(
	generator llm.StructuredGenerator,
	prompts *Prompts,
	authority domain.AuthorityTable,
	sourceRepo SourceRepositoryInterface,
	txRunner TxRunner,
	cfg ExtractorConfig,
	uuidGen UUIDGenerator,
	now Clock,
	log *logger.Logger,
) *ExtractorService {
	if log == nil {
		log = logger.Nop()
	}
	return &ExtractorService{
		generator:  generator,
		prompts:    prompts,
		authority:  authority,
		sourceRepo: sourceRepo,
		txRunner:   txRunner,
		uuidGen:    uuidGen,
		cfg:        cfg,
		log:        log.Named("extractor"),
		now:        now,
	}
}

// Extract returns the assumptions found in in.Text. Output that does not
// match the expected shape yields no assumptions rather than partial ones;
// an unreachable generator is an error.
func (s *ExtractorService) Extract(ctx context.Context, in ExtractInput) ([]ExtractedAssumption, error) {
	ctx, span := telemetry.StartSpan(ctx, "ExtractorService.Extract", telemetry.SpanAttributes{
		Ticker:    in.Ticker,
		Operation: "extract",
	})
	defer span.End()

	if strings.TrimSpace(in.Text) == "" {
		return nil, domain.ErrEmptySourceContent
	}
	if !in.SourceType.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidSourceType, in.SourceType)
	}
	if in.PublishedAt.IsZero() {
		in.PublishedAt = s.now()
	}

	req, err := s.prompts.Extraction.Request(map[string]string{
		"CompanyName": in.CompanyName,
		"Ticker":      in.Ticker,
		"SourceType":  string(in.SourceType),
		"PublishedAt": in.PublishedAt.Format("2006-01-02"),
		"Text":        truncateRunes(in.Text, maxExtractionRunes),
	})
	if err != nil {
		return nil, err
	}

	raw, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return s.generator.GenerateStructured(ctx, req)
	})
	if err != nil {
		if llm.IsOutputError(err) {
			s.log.Warn("extraction output unusable", logger.StringField("ticker", in.Ticker), logger.ErrorField(err))
		}
		span.SetError(err)
		return nil, classifyUpstream(err)
	}

	proposals, err := parseExtraction(raw)
	if err != nil {
		s.log.Warn("extraction output rejected", logger.StringField("ticker", in.Ticker), logger.ErrorField(err))
		span.SetError(err)
		return nil, domain.Wrap(domain.ErrMalformedOutput, err)
	}

	weight := s.authority.Weight(in.SourceType)
	out := make([]ExtractedAssumption, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, p.weighted(weight, in.PublishedAt))
	}
	return out, nil
}

// ExtractFromSource extracts from a stored source and persists the results
// in one transaction.
func (s *ExtractorService) ExtractFromSource(ctx context.Context, sourceID string) ([]*domain.Assumption, error) {
	src, err := s.sourceRepo.GetByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	extracted, err := s.Extract(ctx, ExtractInput{
		Text:        src.Content,
		Ticker:      src.Ticker,
		CompanyName: src.CompanyName,
		SourceType:  src.SourceType,
		PublishedAt: src.PublishedAt,
	})
	if err != nil {
		return nil, err
	}
	return s.Store(ctx, src.ID, src.Ticker, src.CompanyName, extracted)
}

// Store persists extracted assumptions as PENDING. sourceID may be empty
// for text that was never ingested.
func (s *ExtractorService) Store(ctx context.Context, sourceID, ticker, companyName string, extracted []ExtractedAssumption) ([]*domain.Assumption, error) {
	now := s.now()
	out := make([]*domain.Assumption, 0, len(extracted))
	for _, e := range extracted {
		vd := e.VerificationDate
		a := &domain.Assumption{
			ID:               s.uuidGen.NewString(),
			SourceID:         sourceID,
			Ticker:           ticker,
			CompanyName:      companyName,
			AssumptionText:   e.Text,
			Category:         e.Category,
			TimeHorizon:      e.Horizon,
			PredictedValue:   e.PredictedValue,
			MetricName:       e.MetricName,
			VerificationDate: &vd,
			Reasoning:        e.Reasoning,
			Confidence:       e.Confidence,
			RawConfidence:    e.RawConfidence,
			AuthorityWeight:  e.AuthorityWeight,
			Status:           domain.AssumptionStatusPending,
			CreatedAt:        now,
		}
		if err := domain.ValidateAssumption(a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if len(out) == 0 {
		return out, nil
	}

	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		for _, a := range out {
			if err := repos.Assumptions().Create(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("assumptions stored",
		logger.StringField("ticker", ticker),
		logger.StringField("source_id", sourceID),
		logger.IntField("count", len(out)))
	return out, nil
}

// proposal is one assumption as the model returned it, after validation.
type proposal struct {
	Text             string
	Category         domain.Category
	Horizon          domain.TimeHorizon
	Confidence       float64
	PredictedValue   string
	MetricName       string
	VerificationDate *time.Time
	Reasoning        string
}

func (p proposal) weighted(weight float64, publishedAt time.Time) ExtractedAssumption {
	vd := p.Horizon.DefaultVerificationDate(publishedAt)
	if p.VerificationDate != nil {
		vd = *p.VerificationDate
	}
	return ExtractedAssumption{
		Text:             p.Text,
		Category:         p.Category,
		Horizon:          p.Horizon,
		PredictedValue:   p.PredictedValue,
		MetricName:       p.MetricName,
		VerificationDate: vd,
		Reasoning:        p.Reasoning,
		RawConfidence:    p.Confidence,
		AuthorityWeight:  weight,
		Confidence:       math.Min(1, p.Confidence*weight),
	}
}

type extractionEnvelope struct {
	Assumptions *[]json.RawMessage `json:"assumptions"`
}

type extractionItem struct {
	Text             *string  `json:"text"`
	Category         *string  `json:"category"`
	Horizon          *string  `json:"horizon"`
	Confidence       *float64 `json:"confidence"`
	PredictedValue   *string  `json:"predicted_value"`
	MetricName       *string  `json:"metric_name"`
	VerificationDate *string  `json:"verification_date"`
	Reasoning        *string  `json:"reasoning"`
}

// parseExtraction validates the whole model answer. Any item that breaks
// the schema rejects the entire answer.
func parseExtraction(raw json.RawMessage) ([]proposal, error) {
	var env extractionEnvelope
	if err := decodeOne(raw, &env); err != nil {
		return nil, err
	}
	if env.Assumptions == nil {
		return nil, fmt.Errorf("missing assumptions array")
	}

	out := make([]proposal, 0, len(*env.Assumptions))
	for i, itemRaw := range *env.Assumptions {
		var item extractionItem
		if err := decodeOne(itemRaw, &item); err != nil {
			return nil, fmt.Errorf("assumption %d: %w", i, err)
		}
		p, err := item.toProposal()
		if err != nil {
			return nil, fmt.Errorf("assumption %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func (it extractionItem) toProposal() (proposal, error) {
	if it.Text == nil || strings.TrimSpace(*it.Text) == "" {
		return proposal{}, fmt.Errorf("text is required")
	}
	if it.Category == nil {
		return proposal{}, fmt.Errorf("category is required")
	}
	category, err := domain.ParseCategory(*it.Category)
	if err != nil {
		return proposal{}, err
	}
	if it.Horizon == nil {
		return proposal{}, fmt.Errorf("horizon is required")
	}
	horizon, err := domain.ParseTimeHorizon(*it.Horizon)
	if err != nil {
		return proposal{}, err
	}
	if it.Confidence == nil {
		return proposal{}, fmt.Errorf("confidence is required")
	}
	c := *it.Confidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		return proposal{}, domain.ErrInvalidConfidence
	}

	p := proposal{
		Text:           strings.TrimSpace(*it.Text),
		Category:       category,
		Horizon:        horizon,
		Confidence:     c,
		PredictedValue: trimmed(it.PredictedValue),
		MetricName:     trimmed(it.MetricName),
		Reasoning:      trimmed(it.Reasoning),
	}
	if vd := trimmed(it.VerificationDate); vd != "" {
		t, err := time.Parse("2006-01-02", vd)
		if err != nil {
			return proposal{}, fmt.Errorf("verification_date %q: %w", vd, err)
		}
		p.VerificationDate = &t
	}
	return p, nil
}

// decodeOne decodes exactly one JSON value.
func decodeOne(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
