package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

const attributionColumns = `id, ticker, company_name, event_date, price_change_pct, breakdown, weights, summary,
	key_insights, risk_factors, dominant_timeframe, confidence, degraded, created_at, updated_at`

type AttributionRepository struct {
	db dbtx
}

func NewAttributionRepository(pool *pgxpool.Pool) *AttributionRepository {
	return &AttributionRepository{db: pool}
}

func NewAttributionRepositoryWithTx(tx pgx.Tx) *AttributionRepository {
	return &AttributionRepository{db: tx}
}

type attributionJSON struct {
	breakdown, weights, insights, risks []byte
}

func marshalAttribution(p *domain.PriceAttribution) (*attributionJSON, error) {
	var out attributionJSON
	var err error
	if out.breakdown, err = json.Marshal(p.Breakdown); err != nil {
		return nil, fmt.Errorf("marshal breakdown: %w", err)
	}
	if out.weights, err = json.Marshal(p.Weights); err != nil {
		return nil, fmt.Errorf("marshal weights: %w", err)
	}
	if out.insights, err = json.Marshal(orEmpty(p.KeyInsights)); err != nil {
		return nil, fmt.Errorf("marshal key insights: %w", err)
	}
	if out.risks, err = json.Marshal(orEmpty(p.RiskFactors)); err != nil {
		return nil, fmt.Errorf("marshal risk factors: %w", err)
	}
	return &out, nil
}

func (r *AttributionRepository) Create(ctx context.Context, p *domain.PriceAttribution) error {
	j, err := marshalAttribution(p)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO price_attributions (id, ticker, company_name, event_date, price_change_pct, breakdown, weights,
			summary, key_insights, risk_factors, dominant_timeframe, confidence, degraded, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		p.ID, p.Ticker, p.CompanyName, pgtype.Date{Time: p.EventDate, Valid: true}, p.PriceChangePct,
		j.breakdown, j.weights, p.Summary, j.insights, j.risks, p.DominantTimeframe, p.Confidence, p.Degraded,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *AttributionRepository) GetByID(ctx context.Context, id string) (*domain.PriceAttribution, error) {
	p, err := scanAttribution(r.db.QueryRow(ctx, `SELECT `+attributionColumns+` FROM price_attributions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAttributionNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *AttributionRepository) ListByTicker(ctx context.Context, ticker string, limit int) ([]*domain.PriceAttribution, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+attributionColumns+` FROM price_attributions
		 WHERE ticker = $1 ORDER BY event_date DESC, created_at DESC LIMIT $2`,
		ticker, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PriceAttribution
	for rows.Next() {
		p, err := scanAttribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *AttributionRepository) Update(ctx context.Context, p *domain.PriceAttribution) error {
	j, err := marshalAttribution(p)
	if err != nil {
		return err
	}
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE price_attributions
		 SET summary = $1, dominant_timeframe = $2, confidence = $3, key_insights = $4, risk_factors = $5,
		     weights = $6, updated_at = $7
		 WHERE id = $8`,
		p.Summary, p.DominantTimeframe, p.Confidence, j.insights, j.risks, j.weights, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAttributionNotFound
	}
	return nil
}

func (r *AttributionRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM price_attributions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAttributionNotFound
	}
	return nil
}

func scanAttribution(row pgx.Row) (*domain.PriceAttribution, error) {
	var p domain.PriceAttribution
	var eventDate pgtype.Date
	var breakdown, weights, insights, risks []byte
	err := row.Scan(&p.ID, &p.Ticker, &p.CompanyName, &eventDate, &p.PriceChangePct, &breakdown, &weights,
		&p.Summary, &insights, &risks, &p.DominantTimeframe, &p.Confidence, &p.Degraded, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.EventDate = eventDate.Time.UTC()
	if err := json.Unmarshal(breakdown, &p.Breakdown); err != nil {
		return nil, fmt.Errorf("decode breakdown of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(weights, &p.Weights); err != nil {
		return nil, fmt.Errorf("decode weights of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(insights, &p.KeyInsights); err != nil {
		return nil, fmt.Errorf("decode key insights of %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(risks, &p.RiskFactors); err != nil {
		return nil, fmt.Errorf("decode risk factors of %s: %w", p.ID, err)
	}
	return &p, nil
}

func orEmpty(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
