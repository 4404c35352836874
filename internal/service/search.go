package service

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	// parentContextFanout widens retrieval so enough distinct parents survive
	// grouping.
	parentContextFanout = 5
)

// ChunkSearchQuery is the repository-level vector query. Only chunks whose
// embedding model equals ModelTag are candidates.
type ChunkSearchQuery struct {
	Embedding     []float32
	ModelTag      string
	Ticker        string
	SourceTypes   []domain.SourceType
	ChunkType     domain.ChunkType
	MinSimilarity float64
	Limit         int
}

// ChunkCandidate is a chunk with its cosine similarity and source metadata.
type ChunkCandidate struct {
	Chunk       domain.Chunk
	Similarity  float64
	Ticker      string
	CompanyName string
	SourceType  domain.SourceType
	SourceTitle string
	PublishedAt time.Time
}

// ScoredChunk is a ranked search hit.
type ScoredChunk struct {
	ChunkCandidate
	Score        float64
	KeywordMatch bool
}

// SearchFilters narrows a search. SourceClass and SourceTypes intersect.
type SearchFilters struct {
	Ticker        string
	SourceClass   domain.SourceClass
	SourceTypes   []domain.SourceType
	ChunkType     domain.ChunkType
	MinSimilarity float64
}

// SearchInput is a weighted search request.
type SearchInput struct {
	Query   string
	Limit   int
	Filters SearchFilters
}

// ContextGroup is a summary chunk with its details and the hits that
// selected it.
type ContextGroup struct {
	Summary     *domain.Chunk
	Details     []domain.Chunk
	Matches     []ScoredChunk
	BestScore   float64
	SourceType  domain.SourceType
	SourceTitle string
	PublishedAt time.Time
}

// Comparison contrasts authority-weighted ranking with raw similarity. The
// rank fields hold the 1-based positions of PRIMARY hits in each list and
// their mean, nil when a list has no primary hit.
type Comparison struct {
	Weighted           []ScoredChunk
	Unweighted         []ScoredChunk
	WeightedRanks      []int
	UnweightedRanks    []int
	WeightedMeanRank   *float64
	UnweightedMeanRank *float64
}

// SearchConfig tunes ranking.
type SearchConfig struct {
	KeywordBonus        float64
	CandidateMultiplier int
	MaxCandidates       int
	Retry               RetryPolicy
}

// DefaultSearchConfig provides sane defaults for search.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		KeywordBonus:        0.1,
		CandidateMultiplier: 4,
		MaxCandidates:       200,
		Retry:               DefaultRetryPolicy(),
	}
}

// SearchService ranks chunks by similarity scaled by source authority.
type SearchService struct {
	chunkRepo ChunkRepositoryInterface
	embedder  llm.Embedder
	cfg       SearchConfig
	log       *logger.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(chunkRepo ChunkRepositoryInterface, embedder llm.Embedder, cfg SearchConfig, log *logger.Logger) *SearchService {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.CandidateMultiplier < 1 {
		cfg.CandidateMultiplier = 1
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultSearchConfig().MaxCandidates
	}
	return &SearchService{chunkRepo: chunkRepo, embedder: embedder, cfg: cfg, log: log.Named("search")}
}

// Search returns up to Limit chunks ordered by
// score = similarity*authority + bonus, where bonus applies when every query
// term occurs in the chunk text.
func (s *SearchService) Search(ctx context.Context, in SearchInput) ([]ScoredChunk, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		Ticker:    in.Filters.Ticker,
		Operation: "search",
	})
	defer span.End()

	limit := clampLimit(in.Limit)
	candidates, err := s.candidates(ctx, in, limit*s.cfg.CandidateMultiplier)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	ranked := RankCandidates(in.Query, candidates, s.cfg.KeywordBonus, true)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// SearchWithParentContext runs a wider search and groups hits under their
// summary chunk, returning at most Limit groups.
func (s *SearchService) SearchWithParentContext(ctx context.Context, in SearchInput) ([]ContextGroup, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.SearchWithParentContext", telemetry.SpanAttributes{
		Ticker:    in.Filters.Ticker,
		Operation: "search_parent_context",
	})
	defer span.End()

	limit := clampLimit(in.Limit)
	wide := in
	wide.Limit = limit * parentContextFanout
	if wide.Limit > s.cfg.MaxCandidates {
		wide.Limit = s.cfg.MaxCandidates
	}

	candidates, err := s.candidates(ctx, wide, wide.Limit*s.cfg.CandidateMultiplier)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	hits := RankCandidates(in.Query, candidates, s.cfg.KeywordBonus, true)
	if len(hits) > wide.Limit {
		hits = hits[:wide.Limit]
	}

	groups, summaryIDs := groupByParent(hits)
	if len(summaryIDs) > 0 {
		family, err := s.chunkRepo.ListFamilies(ctx, summaryIDs)
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		attachFamilies(groups, family)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].BestScore != groups[j].BestScore {
			return groups[i].BestScore > groups[j].BestScore
		}
		return groups[i].PublishedAt.After(groups[j].PublishedAt)
	})
	if len(groups) > limit {
		groups = groups[:limit]
	}
	return groups, nil
}

// Compare ranks one candidate set twice and reports where primary-source
// chunks land in each ordering (1-based).
func (s *SearchService) Compare(ctx context.Context, in SearchInput) (*Comparison, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Compare", telemetry.SpanAttributes{
		Ticker:    in.Filters.Ticker,
		Operation: "search_compare",
	})
	defer span.End()

	limit := clampLimit(in.Limit)
	candidates, err := s.candidates(ctx, in, limit*s.cfg.CandidateMultiplier)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	weighted := RankCandidates(in.Query, candidates, s.cfg.KeywordBonus, true)
	unweighted := RankCandidates(in.Query, candidates, 0, false)
	if len(weighted) > limit {
		weighted = weighted[:limit]
	}
	if len(unweighted) > limit {
		unweighted = unweighted[:limit]
	}

	cmp := &Comparison{Weighted: weighted, Unweighted: unweighted}
	cmp.WeightedRanks, cmp.WeightedMeanRank = primaryRanks(weighted)
	cmp.UnweightedRanks, cmp.UnweightedMeanRank = primaryRanks(unweighted)
	return cmp, nil
}

func (s *SearchService) candidates(ctx context.Context, in SearchInput, n int) ([]ChunkCandidate, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "query is required")
	}
	if in.Filters.ChunkType != "" && !in.Filters.ChunkType.IsValid() {
		return nil, domain.ErrInvalidChunkType
	}

	types, ok := resolveSourceTypes(in.Filters.SourceClass, in.Filters.SourceTypes)
	if !ok {
		return nil, nil
	}

	vec, err := withRetry(ctx, s.cfg.Retry, func(ctx context.Context) ([]float32, error) {
		return s.embedder.Embed(ctx, query)
	})
	if err != nil {
		return nil, classifyUpstream(err)
	}

	if n > s.cfg.MaxCandidates {
		n = s.cfg.MaxCandidates
	}
	return s.chunkRepo.SearchByEmbedding(ctx, ChunkSearchQuery{
		Embedding:     vec,
		ModelTag:      s.embedder.ModelTag(),
		Ticker:        in.Filters.Ticker,
		SourceTypes:   types,
		ChunkType:     in.Filters.ChunkType,
		MinSimilarity: in.Filters.MinSimilarity,
		Limit:         n,
	})
}

// resolveSourceTypes intersects a class with explicit types. ok is false
// when the intersection is empty and nothing can match.
func resolveSourceTypes(class domain.SourceClass, types []domain.SourceType) ([]domain.SourceType, bool) {
	if class == "" {
		return types, true
	}
	inClass := domain.SourceTypesInClass(class)
	if len(types) == 0 {
		return inClass, len(inClass) > 0
	}
	var out []domain.SourceType
	for _, t := range types {
		if slices.Contains(inClass, t) {
			out = append(out, t)
		}
	}
	return out, len(out) > 0
}

// RankCandidates scores and orders candidates. With weighted=false the score
// is raw similarity. Ties go to the newer source, then to the chunk id.
func RankCandidates(query string, candidates []ChunkCandidate, bonus float64, weighted bool) []ScoredChunk {
	terms := queryTerms(query)
	out := make([]ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		sc := ScoredChunk{ChunkCandidate: c, Score: c.Similarity}
		if weighted {
			sc.Score = c.Similarity * c.Chunk.AuthorityWeight
			if bonus > 0 && containsAllTerms(c.Chunk.Content, terms) {
				sc.KeywordMatch = true
				sc.Score += bonus
			}
		}
		out = append(out, sc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
	return out
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, `"'.,!?()[]`)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func containsAllTerms(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, t := range terms {
		if !strings.Contains(lower, t) {
			return false
		}
	}
	return true
}

func groupByParent(hits []ScoredChunk) ([]ContextGroup, []string) {
	index := make(map[string]int)
	var groups []ContextGroup
	var summaryIDs []string

	for _, h := range hits {
		key := h.Chunk.ID
		if h.Chunk.ChunkType == domain.ChunkTypeDetail && h.Chunk.ParentID != "" {
			key = h.Chunk.ParentID
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ContextGroup{
				BestScore:   h.Score,
				SourceType:  h.SourceType,
				SourceTitle: h.SourceTitle,
				PublishedAt: h.PublishedAt,
			})
			if h.Chunk.ChunkType == domain.ChunkTypeSummary || h.Chunk.ParentID != "" {
				summaryIDs = append(summaryIDs, key)
			}
		}
		groups[i].Matches = append(groups[i].Matches, h)
	}
	return groups, summaryIDs
}

// attachFamilies fills Summary and Details from the chunks returned for the
// groups' summary ids.
func attachFamilies(groups []ContextGroup, family []domain.Chunk) {
	summaries := make(map[string]domain.Chunk)
	details := make(map[string][]domain.Chunk)
	for _, c := range family {
		if c.ChunkType == domain.ChunkTypeSummary {
			summaries[c.ID] = c
		} else if c.ParentID != "" {
			details[c.ParentID] = append(details[c.ParentID], c)
		}
	}

	for i := range groups {
		key := groups[i].Matches[0].Chunk.ID
		if m := groups[i].Matches[0].Chunk; m.ChunkType == domain.ChunkTypeDetail && m.ParentID != "" {
			key = m.ParentID
		}
		if sum, ok := summaries[key]; ok {
			groups[i].Summary = &sum
		}
		ds := details[key]
		sort.Slice(ds, func(a, b int) bool { return ds[a].ChunkIndex < ds[b].ChunkIndex })
		groups[i].Details = ds
	}
}

func primaryRanks(ranked []ScoredChunk) ([]int, *float64) {
	var ranks []int
	for i, r := range ranked {
		if r.SourceType.Class() == domain.SourceClassPrimary {
			ranks = append(ranks, i+1)
		}
	}
	if len(ranks) == 0 {
		return ranks, nil
	}
	sum := 0
	for _, r := range ranks {
		sum += r
	}
	mean := float64(sum) / float64(len(ranks))
	return ranks, &mean
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}
