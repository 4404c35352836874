package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

const chunkColumns = `c.id, c.source_id, c.chunk_type, c.chunk_index, c.content, c.embedding_model,
	c.authority_weight, c.parent_id, c.created_at`

// ChunkRepository handles persistence of source chunk hierarchies.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// LockSource takes a transaction-scoped advisory lock on the source.
func (r *ChunkRepository) LockSource(ctx context.Context, sourceID string) error {
	_, err := r.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, sourceID)
	return err
}

// ReplaceChunks deletes the existing chunk set of a source and inserts the
// new one. chunks must list every SUMMARY before the DETAILs that reference it.
func (r *ChunkRepository) ReplaceChunks(ctx context.Context, sourceID string, chunks []domain.Chunk) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM source_chunks WHERE source_id = $1`, sourceID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO source_chunks
				(id, source_id, chunk_type, chunk_index, content, embedding, embedding_model, authority_weight, parent_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			c.ID, sourceID, c.ChunkType, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding),
			c.EmbeddingModel, c.AuthorityWeight, nullableString(c.ParentID), c.CreatedAt,
		)
	}
	return sendBatch(ctx, r.db, batch)
}

func (r *ChunkRepository) ListBySource(ctx context.Context, sourceID string) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM source_chunks c WHERE c.source_id = $1 ORDER BY c.chunk_index`,
		sourceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func (r *ChunkRepository) CountBySource(ctx context.Context, sourceID, modelTag string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT count(*) FROM source_chunks WHERE source_id = $1 AND embedding_model = $2`,
		sourceID, modelTag,
	).Scan(&n)
	return n, err
}

// HNSW candidate list bounds. pgvector rejects ef_search above 1000.
const (
	minEfSearch = 40
	maxEfSearch = 1000
)

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SearchByEmbedding returns the chunks nearest to the query vector among
// those embedded with the query's model, ordered by cosine similarity.
// Chunks of superseded source versions are excluded. The query runs in its
// own transaction with an iterative HNSW scan, so filters applied after the
// index lookup still yield up to Limit rows.
func (r *ChunkRepository) SearchByEmbedding(ctx context.Context, q service.ChunkSearchQuery) ([]service.ChunkCandidate, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	beginner, ok := r.db.(txBeginner)
	if !ok {
		return r.searchByEmbedding(ctx, r.db, q, limit)
	}
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SET LOCAL hnsw.iterative_scan = relaxed_order`); err != nil {
		return nil, fmt.Errorf("enable iterative scan: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`SET LOCAL hnsw.ef_search = %d`, efSearch(limit))); err != nil {
		return nil, fmt.Errorf("set ef_search: %w", err)
	}

	out, err := r.searchByEmbedding(ctx, tx, q, limit)
	if err != nil {
		return nil, err
	}
	return out, tx.Commit(ctx)
}

func efSearch(limit int) int {
	return min(max(limit, minEfSearch), maxEfSearch)
}

func (r *ChunkRepository) searchByEmbedding(ctx context.Context, db dbtx, q service.ChunkSearchQuery, limit int) ([]service.ChunkCandidate, error) {
	c := &conditions{}
	vec := c.arg(pgvector.NewVector(q.Embedding))
	c.add(`c.embedding_model = ?`, q.ModelTag)
	c.add(`NOT EXISTS (SELECT 1 FROM sources n WHERE n.supersedes_id = s.id)`)
	if q.Ticker != "" {
		c.add(`s.ticker = ?`, q.Ticker)
	}
	if len(q.SourceTypes) > 0 {
		types := make([]string, len(q.SourceTypes))
		for i, st := range q.SourceTypes {
			types[i] = string(st)
		}
		c.add(`s.source_type = ANY(?)`, types)
	}
	if q.ChunkType != "" {
		c.add(`c.chunk_type = ?`, q.ChunkType)
	}
	if q.MinSimilarity > 0 {
		c.add(`1 - (c.embedding <=> `+vec+`) >= ?`, q.MinSimilarity)
	}
	query := `SELECT ` + chunkColumns + `, 1 - (c.embedding <=> ` + vec + `) AS similarity,
			s.ticker, s.company_name, s.source_type, s.title, s.published_at
		 FROM source_chunks c
		 JOIN sources s ON s.id = c.source_id` + c.where() + `
		 ORDER BY c.embedding <=> ` + vec + `
		 LIMIT ` + c.arg(limit)

	rows, err := db.Query(ctx, query, c.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []service.ChunkCandidate
	for rows.Next() {
		var cand service.ChunkCandidate
		var parentID *string
		ch := &cand.Chunk
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.ChunkType, &ch.ChunkIndex, &ch.Content, &ch.EmbeddingModel,
			&ch.AuthorityWeight, &parentID, &ch.CreatedAt, &cand.Similarity,
			&cand.Ticker, &cand.CompanyName, &cand.SourceType, &cand.SourceTitle, &cand.PublishedAt); err != nil {
			return nil, err
		}
		ch.ParentID = derefString(parentID)
		out = append(out, cand)
	}
	return out, rows.Err()
}

// ListFamilies returns the given SUMMARY chunks together with their DETAIL
// children.
func (r *ChunkRepository) ListFamilies(ctx context.Context, summaryIDs []string) ([]domain.Chunk, error) {
	if len(summaryIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+` FROM source_chunks c
		 WHERE c.id = ANY($1::uuid[]) OR c.parent_id = ANY($1::uuid[])
		 ORDER BY c.source_id, c.chunk_index`,
		summaryIDs,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChunkRows(rows)
}

func scanChunkRows(rows pgx.Rows) ([]domain.Chunk, error) {
	var out []domain.Chunk
	for rows.Next() {
		var ch domain.Chunk
		var parentID *string
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.ChunkType, &ch.ChunkIndex, &ch.Content, &ch.EmbeddingModel,
			&ch.AuthorityWeight, &parentID, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.ParentID = derefString(parentID)
		out = append(out, ch)
	}
	return out, rows.Err()
}

func sendBatch(ctx context.Context, db dbtx, batch *pgx.Batch) error {
	sender, ok := db.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		for _, q := range batch.QueuedQueries {
			if _, err := db.Exec(ctx, q.SQL, q.Arguments...); err != nil {
				return err
			}
		}
		return nil
	}
	br := sender.SendBatch(ctx, batch)
	for range batch.QueuedQueries {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}
