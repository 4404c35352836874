package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

const sourceColumns = `s.id, s.ticker, s.company_name, s.source_type, s.title, s.content, s.published_at,
	s.source_url, s.content_hash, s.version, s.supersedes_id, s.archive_key, s.created_at`

type SourceRepository struct {
	db dbtx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{db: pool}
}

func NewSourceRepositoryWithTx(tx pgx.Tx) *SourceRepository {
	return &SourceRepository{db: tx}
}

func (r *SourceRepository) Create(ctx context.Context, s *domain.Source) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sources (id, ticker, company_name, source_type, title, content, published_at,
			source_url, content_hash, version, supersedes_id, archive_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		s.ID, s.Ticker, s.CompanyName, s.SourceType, s.Title, s.Content, s.PublishedAt,
		nullableString(s.SourceURL), s.ContentHash, s.Version, nullableString(s.SupersedesID),
		nullableString(s.ArchiveKey), s.CreatedAt,
	)
	return err
}

func (r *SourceRepository) GetByID(ctx context.Context, id string) (*domain.Source, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources s WHERE s.id = $1`, id)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *SourceRepository) GetLatestVersion(ctx context.Context, ticker string, sourceType domain.SourceType, title string) (*domain.Source, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources s
		 WHERE s.ticker = $1 AND s.source_type = $2 AND s.title = $3
		 ORDER BY s.version DESC LIMIT 1`,
		ticker, sourceType, title,
	)
	s, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

func (r *SourceRepository) List(ctx context.Context, filter service.SourceFilter) ([]*domain.Source, error) {
	c := sourceConditions(filter)
	query := `SELECT ` + sourceColumns + ` FROM sources s` + c.where() + ` ORDER BY s.published_at DESC, s.id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + c.arg(filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Source
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SourceRepository) ListIDs(ctx context.Context, filter service.SourceFilter) ([]string, error) {
	c := sourceConditions(filter)
	query := `SELECT s.id FROM sources s` + c.where() + ` ORDER BY s.created_at, s.id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + c.arg(filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func sourceConditions(f service.SourceFilter) *conditions {
	c := &conditions{}
	if f.Ticker != "" {
		c.add(`s.ticker = ?`, f.Ticker)
	}
	if len(f.SourceTypes) > 0 {
		types := make([]string, len(f.SourceTypes))
		for i, st := range f.SourceTypes {
			types[i] = string(st)
		}
		c.add(`s.source_type = ANY(?)`, types)
	}
	if f.PublishedFrom != nil {
		c.add(`s.published_at >= ?`, *f.PublishedFrom)
	}
	if f.PublishedTo != nil {
		c.add(`s.published_at <= ?`, *f.PublishedTo)
	}
	if f.LatestOnly {
		c.add(`NOT EXISTS (SELECT 1 FROM sources n WHERE n.supersedes_id = s.id)`)
	}
	if f.UnindexedForTag != "" {
		c.add(`NOT EXISTS (SELECT 1 FROM source_chunks sc WHERE sc.source_id = s.id AND sc.embedding_model = ?)`, f.UnindexedForTag)
	}
	return c
}

func scanSource(row pgx.Row) (*domain.Source, error) {
	var s domain.Source
	var url, supersedes, archive *string
	err := row.Scan(&s.ID, &s.Ticker, &s.CompanyName, &s.SourceType, &s.Title, &s.Content, &s.PublishedAt,
		&url, &s.ContentHash, &s.Version, &supersedes, &archive, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	s.SourceURL = derefString(url)
	s.SupersedesID = derefString(supersedes)
	s.ArchiveKey = derefString(archive)
	return &s, nil
}
