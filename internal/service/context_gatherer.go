package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

// ContextGatherer collects the evidence a horizon analysis is based on.
type ContextGatherer interface {
	Gather(ctx context.Context, ticker string, eventDate time.Time, tf domain.Timeframe) (*ContextBundle, error)
}

// ContextBundle is the evidence for one timeframe.
type ContextBundle struct {
	Timeframe   domain.Timeframe
	From        time.Time
	To          time.Time
	Sources     []*domain.Source
	Assumptions []*domain.Assumption
	excerpt     int
}

// Empty reports whether nothing was found in the window.
func (b *ContextBundle) Empty() bool {
	return len(b.Sources) == 0 && len(b.Assumptions) == 0
}

// Render formats the bundle as prompt text.
func (b *ContextBundle) Render() string {
	if b.Empty() {
		return "(no documents or assumptions in this window)"
	}
	excerpt := b.excerpt
	if excerpt <= 0 {
		excerpt = 600
	}
	var sb strings.Builder
	if len(b.Sources) > 0 {
		sb.WriteString("Documents:\n")
		for _, s := range b.Sources {
			fmt.Fprintf(&sb, "- [%s %s] %s: %s\n",
				s.SourceType, s.PublishedAt.Format("2006-01-02"), s.Title,
				truncateRunes(strings.Join(strings.Fields(s.Content), " "), excerpt))
		}
	}
	if len(b.Assumptions) > 0 {
		sb.WriteString("Assumptions on record:\n")
		for _, a := range b.Assumptions {
			fmt.Fprintf(&sb, "- (%s, %s, confidence %.2f) %s", a.Category, a.Status, a.Confidence, a.AssumptionText)
			if a.PredictedValue != "" {
				fmt.Fprintf(&sb, " [predicted %s]", a.PredictedValue)
			}
			if a.ActualValue != nil {
				fmt.Fprintf(&sb, " [actual %s]", *a.ActualValue)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// TimeframeWindow is how far back each timeframe looks from the event.
func TimeframeWindow(tf domain.Timeframe) time.Duration {
	switch tf {
	case domain.TimeframeShort:
		return 7 * 24 * time.Hour
	case domain.TimeframeMedium:
		return 90 * 24 * time.Hour
	default:
		return 365 * 24 * time.Hour
	}
}

// TimeframeScope selects the evidence each timeframe reads. Nil source types
// means every type.
type TimeframeScope struct {
	SourceTypes []domain.SourceType
	Categories  []domain.Category
}

// ScopeFor returns the evidence scope of a timeframe: macro news for the
// short window, earnings and revisions for the medium one, filings and
// structural assumptions for the long one.
func ScopeFor(tf domain.Timeframe) TimeframeScope {
	switch tf {
	case domain.TimeframeShort:
		return TimeframeScope{
			Categories: []domain.Category{domain.CategoryMacro},
		}
	case domain.TimeframeMedium:
		return TimeframeScope{
			SourceTypes: []domain.SourceType{domain.SourceTypeEarningsCall, domain.SourceTypeAnalystReport},
			Categories:  []domain.Category{domain.CategoryRevenue, domain.CategoryMargin},
		}
	default:
		return TimeframeScope{
			SourceTypes: []domain.SourceType{domain.SourceTypeDARTFiling, domain.SourceTypeIRMaterial},
			Categories:  []domain.Category{domain.CategoryCapacity, domain.CategoryMarketShare},
		}
	}
}

// SourceLister is the read side of the source repository.
type SourceLister interface {
	List(ctx context.Context, filter SourceFilter) ([]*domain.Source, error)
}

// AssumptionLister is the read side of the assumption repository.
type AssumptionLister interface {
	List(ctx context.Context, filter AssumptionFilter) ([]*domain.Assumption, error)
}

// RepositoryContextGatherer reads evidence from the local store.
type RepositoryContextGatherer struct {
	sources      SourceLister
	assumptions  AssumptionLister
	maxItems     int
	excerptRunes int
}

// NewRepositoryContextGatherer creates a gatherer that returns at most
// maxItems documents and assumptions per window.
func NewRepositoryContextGatherer(sources SourceLister, assumptions AssumptionLister, maxItems, excerptRunes int) *RepositoryContextGatherer {
	if maxItems <= 0 {
		maxItems = 8
	}
	if excerptRunes <= 0 {
		excerptRunes = 600
	}
	return &RepositoryContextGatherer{sources: sources, assumptions: assumptions, maxItems: maxItems, excerptRunes: excerptRunes}
}

// Gather returns the latest source versions published in the window ending
// on the event date, plus the assumptions made in it, both restricted to the
// timeframe's scope. Assumptions of every status are included so the
// analysis sees revisions.
func (g *RepositoryContextGatherer) Gather(ctx context.Context, ticker string, eventDate time.Time, tf domain.Timeframe) (*ContextBundle, error) {
	to := eventDate.UTC().Truncate(24 * time.Hour).Add(24*time.Hour - time.Nanosecond)
	from := to.Add(-TimeframeWindow(tf)).Add(time.Nanosecond)
	scope := ScopeFor(tf)

	sources, err := g.sources.List(ctx, SourceFilter{
		Ticker:        ticker,
		SourceTypes:   scope.SourceTypes,
		PublishedFrom: &from,
		PublishedTo:   &to,
		LatestOnly:    true,
		Limit:         g.maxItems,
	})
	if err != nil {
		return nil, fmt.Errorf("gather %s sources: %w", tf, err)
	}

	assumptions, err := g.assumptions.List(ctx, AssumptionFilter{
		Ticker:      ticker,
		Categories:  scope.Categories,
		CreatedFrom: &from,
		CreatedTo:   &to,
		Limit:       g.maxItems,
	})
	if err != nil {
		return nil, fmt.Errorf("gather %s assumptions: %w", tf, err)
	}

	return &ContextBundle{
		Timeframe:   tf,
		From:        from,
		To:          to,
		Sources:     sources,
		Assumptions: assumptions,
		excerpt:     g.excerptRunes,
	}, nil
}
