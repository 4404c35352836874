package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validAttribution() *PriceAttribution {
	return &PriceAttribution{
		ID:                "p-1",
		Ticker:            "005930",
		EventDate:         time.Date(2024, 8, 5, 0, 0, 0, 0, time.UTC),
		PriceChangePct:    -10.3,
		DominantTimeframe: TimeframeShort,
		Confidence:        0.7,
	}
}

func TestValidatePriceAttribution(t *testing.T) {
	assert.NoError(t, ValidatePriceAttribution(validAttribution()))
}

func TestValidatePriceAttribution_ZeroConfidenceReserved(t *testing.T) {
	p := validAttribution()
	p.Confidence = 0
	err := ValidatePriceAttribution(p)
	assert.ErrorIs(t, err, ErrInvalidConfidence)
	assert.Equal(t, ErrCodeValidation, CodeOf(err))

	p.Degraded = true
	assert.NoError(t, ValidatePriceAttribution(p))
}

func TestValidatePriceAttribution_BadTimeframe(t *testing.T) {
	p := validAttribution()
	p.DominantTimeframe = "quarterly"
	assert.Error(t, ValidatePriceAttribution(p))
}

func TestAttributionBreakdown_Get(t *testing.T) {
	var b AttributionBreakdown
	b.Get(TimeframeMedium).Analysis = "earnings revision"
	assert.Equal(t, "earnings revision", b.Medium.Analysis)
	assert.Empty(t, b.Short.Analysis)
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("LONG")
	assert.NoError(t, err)
	assert.Equal(t, TimeframeLong, tf)

	_, err = ParseTimeframe("weekly")
	assert.Error(t, err)
}
