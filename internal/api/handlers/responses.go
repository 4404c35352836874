package handlers

import (
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

const (
	timeLayout = time.RFC3339
	dateLayout = "2006-01-02"
)

type SourceResponse struct {
	ID           string `json:"id"`
	Ticker       string `json:"ticker"`
	CompanyName  string `json:"company_name"`
	SourceType   string `json:"source_type"`
	Title        string `json:"title"`
	Content      string `json:"content,omitempty"`
	PublishedAt  string `json:"published_at"`
	SourceURL    string `json:"source_url,omitempty"`
	ContentHash  string `json:"content_hash"`
	Version      int    `json:"version"`
	SupersedesID string `json:"supersedes_id,omitempty"`
	Archived     bool   `json:"archived"`
	CreatedAt    string `json:"created_at"`
}

func sourceToResponse(s *domain.Source, withContent bool) *SourceResponse {
	resp := &SourceResponse{
		ID:           s.ID,
		Ticker:       s.Ticker,
		CompanyName:  s.CompanyName,
		SourceType:   string(s.SourceType),
		Title:        s.Title,
		PublishedAt:  s.PublishedAt.UTC().Format(timeLayout),
		SourceURL:    s.SourceURL,
		ContentHash:  s.ContentHash,
		Version:      s.Version,
		SupersedesID: s.SupersedesID,
		Archived:     s.ArchiveKey != "",
		CreatedAt:    s.CreatedAt.UTC().Format(timeLayout),
	}
	if withContent {
		resp.Content = s.Content
	}
	return resp
}

type ChunkResponse struct {
	ID              string  `json:"id"`
	SourceID        string  `json:"source_id"`
	ChunkType       string  `json:"chunk_type"`
	ChunkIndex      int     `json:"chunk_index"`
	Content         string  `json:"content"`
	EmbeddingModel  string  `json:"embedding_model"`
	AuthorityWeight float64 `json:"authority_weight"`
	ParentID        string  `json:"parent_id,omitempty"`
}

func chunkToResponse(c domain.Chunk) ChunkResponse {
	return ChunkResponse{
		ID:              c.ID,
		SourceID:        c.SourceID,
		ChunkType:       string(c.ChunkType),
		ChunkIndex:      c.ChunkIndex,
		Content:         c.Content,
		EmbeddingModel:  c.EmbeddingModel,
		AuthorityWeight: c.AuthorityWeight,
		ParentID:        c.ParentID,
	}
}

type SearchHitResponse struct {
	ChunkResponse
	Similarity   float64 `json:"similarity"`
	Score        float64 `json:"score"`
	KeywordMatch bool    `json:"keyword_match"`
	Ticker       string  `json:"ticker"`
	CompanyName  string  `json:"company_name"`
	SourceType   string  `json:"source_type"`
	SourceTitle  string  `json:"source_title"`
	PublishedAt  string  `json:"published_at"`
}

func hitToResponse(h service.ScoredChunk) SearchHitResponse {
	return SearchHitResponse{
		ChunkResponse: chunkToResponse(h.Chunk),
		Similarity:    h.Similarity,
		Score:         h.Score,
		KeywordMatch:  h.KeywordMatch,
		Ticker:        h.Ticker,
		CompanyName:   h.CompanyName,
		SourceType:    string(h.SourceType),
		SourceTitle:   h.SourceTitle,
		PublishedAt:   h.PublishedAt.UTC().Format(timeLayout),
	}
}

func hitsToResponse(hits []service.ScoredChunk) []SearchHitResponse {
	out := make([]SearchHitResponse, len(hits))
	for i, h := range hits {
		out[i] = hitToResponse(h)
	}
	return out
}

type AssumptionResponse struct {
	ID               string  `json:"id"`
	SourceID         string  `json:"source_id,omitempty"`
	Ticker           string  `json:"ticker"`
	CompanyName      string  `json:"company_name"`
	AssumptionText   string  `json:"assumption_text"`
	Category         string  `json:"category"`
	TimeHorizon      string  `json:"time_horizon"`
	PredictedValue   string  `json:"predicted_value,omitempty"`
	MetricName       string  `json:"metric_name,omitempty"`
	VerificationDate string  `json:"verification_date,omitempty"`
	Reasoning        string  `json:"reasoning,omitempty"`
	Confidence       float64 `json:"confidence"`
	RawConfidence    float64 `json:"raw_confidence"`
	AuthorityWeight  float64 `json:"authority_weight"`
	Status           string  `json:"status"`
	ActualValue      *string `json:"actual_value"`
	IsCorrect        *bool   `json:"is_correct"`
	ValidationSource *string `json:"validation_source"`
	ValidationMethod string  `json:"validation_method,omitempty"`
	ValidatedAt      *string `json:"validated_at"`
	CreatedAt        string  `json:"created_at"`
}

func assumptionToResponse(a *domain.Assumption) *AssumptionResponse {
	resp := &AssumptionResponse{
		ID:               a.ID,
		SourceID:         a.SourceID,
		Ticker:           a.Ticker,
		CompanyName:      a.CompanyName,
		AssumptionText:   a.AssumptionText,
		Category:         string(a.Category),
		TimeHorizon:      string(a.TimeHorizon),
		PredictedValue:   a.PredictedValue,
		MetricName:       a.MetricName,
		Reasoning:        a.Reasoning,
		Confidence:       a.Confidence,
		RawConfidence:    a.RawConfidence,
		AuthorityWeight:  a.AuthorityWeight,
		Status:           string(a.Status),
		ActualValue:      a.ActualValue,
		IsCorrect:        a.IsCorrect,
		ValidationSource: a.ValidationSource,
		ValidationMethod: string(a.ValidationMethod),
		CreatedAt:        a.CreatedAt.UTC().Format(timeLayout),
	}
	if a.VerificationDate != nil {
		resp.VerificationDate = a.VerificationDate.Format(dateLayout)
	}
	if a.ValidatedAt != nil {
		v := a.ValidatedAt.UTC().Format(timeLayout)
		resp.ValidatedAt = &v
	}
	return resp
}

func assumptionsToResponse(items []*domain.Assumption) []*AssumptionResponse {
	out := make([]*AssumptionResponse, len(items))
	for i, a := range items {
		out[i] = assumptionToResponse(a)
	}
	return out
}

type AttributionResponse struct {
	ID                string                      `json:"id"`
	Ticker            string                      `json:"ticker"`
	CompanyName       string                      `json:"company_name"`
	EventDate         string                      `json:"event_date"`
	PriceChangePct    float64                     `json:"price_change_pct"`
	Breakdown         domain.AttributionBreakdown `json:"breakdown"`
	Weights           domain.AttributionWeights   `json:"weights"`
	Summary           string                      `json:"summary"`
	KeyInsights       []string                    `json:"key_insights"`
	RiskFactors       []string                    `json:"risk_factors"`
	DominantTimeframe string                      `json:"dominant_timeframe"`
	Confidence        float64                     `json:"confidence"`
	Degraded          bool                        `json:"degraded"`
	CreatedAt         string                      `json:"created_at"`
	UpdatedAt         string                      `json:"updated_at"`
}

func attributionToResponse(p *domain.PriceAttribution) *AttributionResponse {
	return &AttributionResponse{
		ID:                p.ID,
		Ticker:            p.Ticker,
		CompanyName:       p.CompanyName,
		EventDate:         p.EventDate.Format(dateLayout),
		PriceChangePct:    p.PriceChangePct,
		Breakdown:         p.Breakdown,
		Weights:           p.Weights,
		Summary:           p.Summary,
		KeyInsights:       nonNil(p.KeyInsights),
		RiskFactors:       nonNil(p.RiskFactors),
		DominantTimeframe: string(p.DominantTimeframe),
		Confidence:        p.Confidence,
		Degraded:          p.Degraded,
		CreatedAt:         p.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:         p.UpdatedAt.UTC().Format(timeLayout),
	}
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
