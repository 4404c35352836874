package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

const assumptionColumns = `id, source_id, ticker, company_name, assumption_text, category, time_horizon,
	predicted_value, metric_name, verification_date, reasoning, confidence, raw_confidence, authority_weight,
	status, actual_value, is_correct, validation_source, validation_method, validated_at, created_at`

type AssumptionRepository struct {
	db dbtx
}

func NewAssumptionRepository(pool *pgxpool.Pool) *AssumptionRepository {
	return &AssumptionRepository{db: pool}
}

func NewAssumptionRepositoryWithTx(tx pgx.Tx) *AssumptionRepository {
	return &AssumptionRepository{db: tx}
}

func (r *AssumptionRepository) Create(ctx context.Context, a *domain.Assumption) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO assumptions (id, source_id, ticker, company_name, assumption_text, category, time_horizon,
			predicted_value, metric_name, verification_date, reasoning, confidence, raw_confidence, authority_weight,
			status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		a.ID, nullableString(a.SourceID), a.Ticker, a.CompanyName, a.AssumptionText, a.Category, a.TimeHorizon,
		nullableString(a.PredictedValue), nullableString(a.MetricName), dateOf(a.VerificationDate),
		nullableString(a.Reasoning), a.Confidence, a.RawConfidence, a.AuthorityWeight, a.Status, a.CreatedAt,
	)
	return err
}

func (r *AssumptionRepository) GetByID(ctx context.Context, id string) (*domain.Assumption, error) {
	a, err := scanAssumption(r.db.QueryRow(ctx, `SELECT `+assumptionColumns+` FROM assumptions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAssumptionNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *AssumptionRepository) List(ctx context.Context, f service.AssumptionFilter) ([]*domain.Assumption, error) {
	c := &conditions{}
	if f.Ticker != "" {
		c.add(`ticker = ?`, f.Ticker)
	}
	if f.SourceID != "" {
		c.add(`source_id = ?`, f.SourceID)
	}
	if f.Status != "" {
		c.add(`status = ?`, f.Status)
	}
	if len(f.Categories) > 0 {
		cats := make([]string, len(f.Categories))
		for i, cat := range f.Categories {
			cats[i] = string(cat)
		}
		c.add(`category = ANY(?)`, cats)
	}
	if f.Horizon != "" {
		c.add(`time_horizon = ?`, f.Horizon)
	}
	if f.CreatedFrom != nil {
		c.add(`created_at >= ?`, *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		c.add(`created_at <= ?`, *f.CreatedTo)
	}

	query := `SELECT ` + assumptionColumns + ` FROM assumptions` + c.where() + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ` + c.arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + c.arg(f.Offset)
	}

	rows, err := r.db.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssumptionRows(rows)
}

// ListDue returns PENDING assumptions whose verification date is on or
// before asOf, oldest first.
func (r *AssumptionRepository) ListDue(ctx context.Context, asOf time.Time, limit int) ([]*domain.Assumption, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+assumptionColumns+` FROM assumptions
		 WHERE status = $1 AND verification_date IS NOT NULL AND verification_date <= $2::date
		 ORDER BY verification_date, created_at
		 LIMIT $3`,
		domain.AssumptionStatusPending, asOf.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAssumptionRows(rows)
}

// ApplyVerdict moves a PENDING assumption to its terminal state in one
// conditional update. It returns ErrAssumptionTerminal when the row was
// already resolved.
func (r *AssumptionRepository) ApplyVerdict(ctx context.Context, id string, v domain.Verdict) (*domain.Assumption, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE assumptions
		 SET status = $1, actual_value = $2, is_correct = $3, validation_source = $4,
		     validation_method = $5, validated_at = $6
		 WHERE id = $7 AND status = $8
		 RETURNING `+assumptionColumns,
		v.Status, v.ActualValue, v.IsCorrect(), v.Source, v.Method, v.ValidatedAt, id, domain.AssumptionStatusPending,
	)
	a, err := scanAssumption(row)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assumptions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, domain.ErrAssumptionNotFound
	}
	return nil, domain.ErrAssumptionTerminal
}

func (r *AssumptionRepository) Delete(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM assumptions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrAssumptionNotFound
	}
	return nil
}

func accuracyConditions(f service.AccuracyFilter, timeColumn string) *conditions {
	c := &conditions{}
	if f.Ticker != "" {
		c.add(`ticker = ?`, f.Ticker)
	}
	if f.Category != "" {
		c.add(`category = ?`, f.Category)
	}
	if f.Horizon != "" {
		c.add(`time_horizon = ?`, f.Horizon)
	}
	if f.Since != nil {
		c.add(timeColumn+` >= ?`, *f.Since)
	}
	if f.Until != nil {
		c.add(timeColumn+` <= ?`, *f.Until)
	}
	return c
}

func (r *AssumptionRepository) CountByStatus(ctx context.Context, f service.AccuracyFilter) ([]service.StatusCountRow, error) {
	c := accuracyConditions(f, "created_at")
	rows, err := r.db.Query(ctx,
		`SELECT category, time_horizon, status, count(*) FROM assumptions`+c.where()+`
		 GROUP BY category, time_horizon, status`,
		c.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []service.StatusCountRow
	for rows.Next() {
		var row service.StatusCountRow
		if err := rows.Scan(&row.Category, &row.Horizon, &row.Status, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// WeeklyOutcomes buckets resolutions by the ISO week of validated_at.
func (r *AssumptionRepository) WeeklyOutcomes(ctx context.Context, f service.AccuracyFilter) ([]service.WeeklyOutcome, error) {
	c := accuracyConditions(f, "validated_at")
	c.add(`status <> ?`, domain.AssumptionStatusPending)
	rows, err := r.db.Query(ctx,
		`SELECT date_trunc('week', validated_at AT TIME ZONE 'UTC') AS week,
			count(*) FILTER (WHERE status = 'VERIFIED'),
			count(*) FILTER (WHERE status = 'FAILED')
		 FROM assumptions`+c.where()+`
		 GROUP BY week
		 ORDER BY week`,
		c.args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []service.WeeklyOutcome
	for rows.Next() {
		var w service.WeeklyOutcome
		if err := rows.Scan(&w.WeekStart, &w.Verified, &w.Failed); err != nil {
			return nil, err
		}
		w.WeekStart = time.Date(w.WeekStart.Year(), w.WeekStart.Month(), w.WeekStart.Day(), 0, 0, 0, 0, time.UTC)
		out = append(out, w)
	}
	return out, rows.Err()
}

func dateOf(t *time.Time) pgtype.Date {
	if t == nil {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: t.UTC(), Valid: true}
}

func scanAssumption(row pgx.Row) (*domain.Assumption, error) {
	var a domain.Assumption
	var sourceID, predicted, metric, reasoning, actual, validationSource, method *string
	var verification pgtype.Date
	err := row.Scan(&a.ID, &sourceID, &a.Ticker, &a.CompanyName, &a.AssumptionText, &a.Category, &a.TimeHorizon,
		&predicted, &metric, &verification, &reasoning, &a.Confidence, &a.RawConfidence, &a.AuthorityWeight,
		&a.Status, &actual, &a.IsCorrect, &validationSource, &method, &a.ValidatedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.SourceID = derefString(sourceID)
	a.PredictedValue = derefString(predicted)
	a.MetricName = derefString(metric)
	a.Reasoning = derefString(reasoning)
	a.ActualValue = actual
	a.ValidationSource = validationSource
	a.ValidationMethod = domain.ValidationMethod(derefString(method))
	if verification.Valid {
		d := verification.Time.UTC()
		a.VerificationDate = &d
	}
	return &a, nil
}

func scanAssumptionRows(rows pgx.Rows) ([]*domain.Assumption, error) {
	var out []*domain.Assumption
	for rows.Next() {
		a, err := scanAssumption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
