package domain

import (
	"fmt"
	"time"
)

// ChunkType is the level of a chunk in the two-level hierarchy.
type ChunkType string

const (
	ChunkTypeSummary ChunkType = "SUMMARY"
	ChunkTypeDetail  ChunkType = "DETAIL"
)

func (t ChunkType) IsValid() bool {
	return t == ChunkTypeSummary || t == ChunkTypeDetail
}

// Chunk is a unit of indexed text owned by exactly one source.
type Chunk struct {
	ID              string
	SourceID        string
	ChunkType       ChunkType
	ChunkIndex      int
	Content         string
	Embedding       []float32
	EmbeddingModel  string
	AuthorityWeight float64
	ParentID        string // DETAIL only; empty for SUMMARY
	CreatedAt       time.Time
}

// ValidateChunkSet checks the hierarchy invariants of one source's chunks:
// every chunk belongs to sourceID, SUMMARY chunks have no parent, DETAIL
// parents are SUMMARY chunks of the same set, and every SUMMARY precedes
// the DETAIL chunks that reference it.
func ValidateChunkSet(sourceID string, chunks []Chunk) error {
	summaries := make(map[string]bool, len(chunks))
	seen := make(map[string]bool, len(chunks))

	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk %d has no id", ErrInvalidChunkHierarchy, i)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate chunk id %s", ErrInvalidChunkHierarchy, c.ID)
		}
		seen[c.ID] = true

		if c.SourceID != sourceID {
			return fmt.Errorf("%w: chunk %s belongs to source %s", ErrInvalidChunkHierarchy, c.ID, c.SourceID)
		}
		if !c.ChunkType.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidChunkType, c.ChunkType)
		}

		switch c.ChunkType {
		case ChunkTypeSummary:
			if c.ParentID != "" {
				return fmt.Errorf("%w: summary %s has a parent", ErrInvalidChunkHierarchy, c.ID)
			}
			summaries[c.ID] = true
		case ChunkTypeDetail:
			if c.ParentID != "" && !summaries[c.ParentID] {
				return fmt.Errorf("%w: detail %s references %s which is not an earlier summary of the source",
					ErrInvalidChunkHierarchy, c.ID, c.ParentID)
			}
		}
	}
	return nil
}
