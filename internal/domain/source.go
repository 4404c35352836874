package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// SourceType identifies the kind of financial document.
type SourceType string

const (
	SourceTypeDARTFiling    SourceType = "DART_FILING"
	SourceTypeEarningsCall  SourceType = "EARNINGS_CALL"
	SourceTypeIRMaterial    SourceType = "IR_MATERIAL"
	SourceTypeAnalystReport SourceType = "ANALYST_REPORT"
)

// SourceClass groups source types by origin.
type SourceClass string

const (
	SourceClassPrimary   SourceClass = "primary"
	SourceClassSecondary SourceClass = "secondary"
)

// AllSourceTypes lists every known source type.
func AllSourceTypes() []SourceType {
	return []SourceType{
		SourceTypeDARTFiling,
		SourceTypeEarningsCall,
		SourceTypeIRMaterial,
		SourceTypeAnalystReport,
	}
}

// IsValid reports whether the source type is known.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeDARTFiling, SourceTypeEarningsCall, SourceTypeIRMaterial, SourceTypeAnalystReport:
		return true
	}
	return false
}

// Class returns primary for company-originated documents.
func (t SourceType) Class() SourceClass {
	if t == SourceTypeAnalystReport {
		return SourceClassSecondary
	}
	return SourceClassPrimary
}

// ParseSourceType accepts the canonical names case-insensitively.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceType, s)
	}
	return st, nil
}

// SourceTypesInClass returns the source types belonging to a class.
func SourceTypesInClass(c SourceClass) []SourceType {
	var out []SourceType
	for _, st := range AllSourceTypes() {
		if st.Class() == c {
			out = append(out, st)
		}
	}
	return out
}

// Source is an immutable financial document. Re-ingesting changed content
// produces a new version that supersedes the previous one.
type Source struct {
	ID           string
	Ticker       string
	CompanyName  string
	SourceType   SourceType
	Title        string
	Content      string
	PublishedAt  time.Time
	SourceURL    string
	ContentHash  string
	Version      int
	SupersedesID string
	ArchiveKey   string
	CreatedAt    time.Time
}

// ContentHash returns the hex sha256 of content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// ValidateSource validates a Source instance
func ValidateSource(s *Source) error {
	if s == nil {
		return fmt.Errorf("source cannot be nil")
	}
	if s.ID == "" {
		return fmt.Errorf("%w: source ID", ErrMissingRequiredField)
	}
	if strings.TrimSpace(s.Ticker) == "" {
		return fmt.Errorf("%w: ticker", ErrMissingRequiredField)
	}
	if !s.SourceType.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, s.SourceType)
	}
	if strings.TrimSpace(s.Content) == "" {
		return ErrEmptySourceContent
	}
	if s.PublishedAt.IsZero() {
		return fmt.Errorf("%w: published_at", ErrMissingRequiredField)
	}
	if s.Version < 1 {
		return fmt.Errorf("source version must be >= 1")
	}
	return nil
}
