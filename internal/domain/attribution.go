package domain

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe names the horizon a price move is attributed to.
type Timeframe string

const (
	TimeframeShort  Timeframe = "short"
	TimeframeMedium Timeframe = "medium"
	TimeframeLong   Timeframe = "long"
)

func AllTimeframes() []Timeframe {
	return []Timeframe{TimeframeShort, TimeframeMedium, TimeframeLong}
}

func (t Timeframe) IsValid() bool {
	switch t {
	case TimeframeShort, TimeframeMedium, TimeframeLong:
		return true
	}
	return false
}

func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return t, nil
}

const (
	// FallbackSummary replaces analysis text when generation is unavailable.
	FallbackSummary = "insufficient context: analysis unavailable"
	// FallbackConfidence is reserved for degraded results.
	FallbackConfidence = 0.0
	// MinAnalysisConfidence is the floor for non-degraded results.
	MinAnalysisConfidence = 0.01
)

// HorizonAnalysis is the factor analysis for one timeframe.
type HorizonAnalysis struct {
	Analysis string   `json:"analysis"`
	Factors  []string `json:"factors"`
	Degraded bool     `json:"degraded,omitempty"`
}

// AttributionBreakdown holds the three horizon analyses.
type AttributionBreakdown struct {
	Short  HorizonAnalysis `json:"short"`
	Medium HorizonAnalysis `json:"medium"`
	Long   HorizonAnalysis `json:"long"`
}

// Get returns the analysis for a timeframe.
func (b *AttributionBreakdown) Get(tf Timeframe) *HorizonAnalysis {
	switch tf {
	case TimeframeShort:
		return &b.Short
	case TimeframeMedium:
		return &b.Medium
	default:
		return &b.Long
	}
}

// AttributionWeights is the share of the move assigned to each horizon.
type AttributionWeights struct {
	Short  float64 `json:"short"`
	Medium float64 `json:"medium"`
	Long   float64 `json:"long"`
}

// PriceAttribution is one decomposition of a price move.
type PriceAttribution struct {
	ID                string
	Ticker            string
	CompanyName       string
	EventDate         time.Time
	PriceChangePct    float64
	Breakdown         AttributionBreakdown
	Weights           AttributionWeights
	Summary           string
	KeyInsights       []string
	RiskFactors       []string
	DominantTimeframe Timeframe
	Confidence        float64
	Degraded          bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValidatePriceAttribution validates a PriceAttribution instance
func ValidatePriceAttribution(p *PriceAttribution) error {
	if p == nil {
		return fmt.Errorf("price attribution cannot be nil")
	}
	if p.ID == "" {
		return fmt.Errorf("%w: attribution ID", ErrMissingRequiredField)
	}
	if strings.TrimSpace(p.Ticker) == "" {
		return fmt.Errorf("%w: ticker", ErrMissingRequiredField)
	}
	if p.EventDate.IsZero() {
		return fmt.Errorf("%w: event_date", ErrMissingRequiredField)
	}
	if !p.DominantTimeframe.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTimeframe, p.DominantTimeframe)
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if p.Confidence == FallbackConfidence && !p.Degraded {
		return fmt.Errorf("%w: zero is reserved for degraded attributions", ErrInvalidConfidence)
	}
	return nil
}
