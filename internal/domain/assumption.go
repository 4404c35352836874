package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category classifies what an assumption predicts.
type Category string

const (
	CategoryRevenue     Category = "REVENUE"
	CategoryMargin      Category = "MARGIN"
	CategoryMacro       Category = "MACRO"
	CategoryCapacity    Category = "CAPACITY"
	CategoryMarketShare Category = "MARKET_SHARE"
)

func AllCategories() []Category {
	return []Category{CategoryRevenue, CategoryMargin, CategoryMacro, CategoryCapacity, CategoryMarketShare}
}

func (c Category) IsValid() bool {
	switch c {
	case CategoryRevenue, CategoryMargin, CategoryMacro, CategoryCapacity, CategoryMarketShare:
		return true
	}
	return false
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, s)
	}
	return c, nil
}

// TimeHorizon is the period an assumption speaks about.
// SHORT is under 3 months, MEDIUM 3 to 12 months, LONG beyond 12 months.
type TimeHorizon string

const (
	TimeHorizonShort  TimeHorizon = "SHORT"
	TimeHorizonMedium TimeHorizon = "MEDIUM"
	TimeHorizonLong   TimeHorizon = "LONG"
)

func AllTimeHorizons() []TimeHorizon {
	return []TimeHorizon{TimeHorizonShort, TimeHorizonMedium, TimeHorizonLong}
}

func (h TimeHorizon) IsValid() bool {
	switch h {
	case TimeHorizonShort, TimeHorizonMedium, TimeHorizonLong:
		return true
	}
	return false
}

func ParseTimeHorizon(s string) (TimeHorizon, error) {
	h := TimeHorizon(strings.ToUpper(strings.TrimSpace(s)))
	if !h.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeHorizon, s)
	}
	return h, nil
}

// DefaultVerificationDate estimates when an assumption without an explicit
// target date can be checked.
func (h TimeHorizon) DefaultVerificationDate(from time.Time) time.Time {
	switch h {
	case TimeHorizonShort:
		return from.AddDate(0, 0, 90)
	case TimeHorizonMedium:
		return from.AddDate(0, 0, 180)
	default:
		return from.AddDate(0, 0, 365)
	}
}

// AssumptionStatus is the verification state.
type AssumptionStatus string

const (
	AssumptionStatusPending  AssumptionStatus = "PENDING"
	AssumptionStatusVerified AssumptionStatus = "VERIFIED"
	AssumptionStatusFailed   AssumptionStatus = "FAILED"
)

func (s AssumptionStatus) IsValid() bool {
	switch s {
	case AssumptionStatusPending, AssumptionStatusVerified, AssumptionStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s AssumptionStatus) IsTerminal() bool {
	return s == AssumptionStatusVerified || s == AssumptionStatusFailed
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to AssumptionStatus) bool {
	return from == AssumptionStatusPending && to.IsTerminal()
}

// ValidationMethod records which comparison produced the verdict.
type ValidationMethod string

const (
	ValidationMethodNumeric  ValidationMethod = "NUMERIC"
	ValidationMethodSemantic ValidationMethod = "SEMANTIC"
)

// Assumption is a falsifiable claim extracted from one source.
type Assumption struct {
	ID               string
	SourceID         string
	Ticker           string
	CompanyName      string
	AssumptionText   string
	Category         Category
	TimeHorizon      TimeHorizon
	PredictedValue   string
	MetricName       string
	VerificationDate *time.Time
	Reasoning        string
	Confidence       float64
	RawConfidence    float64
	AuthorityWeight  float64
	Status           AssumptionStatus

	// Set together, exactly once, when Status leaves PENDING.
	ActualValue      *string
	IsCorrect        *bool
	ValidationSource *string
	ValidationMethod ValidationMethod
	ValidatedAt      *time.Time

	CreatedAt time.Time
}

// Verdict is the outcome of comparing a prediction with an observed value.
type Verdict struct {
	Status      AssumptionStatus
	ActualValue string
	Source      string
	Method      ValidationMethod
	Reasoning   string
	ValidatedAt time.Time
}

// IsCorrect mirrors the verdict as a boolean.
func (v Verdict) IsCorrect() bool {
	return v.Status == AssumptionStatusVerified
}

// ValidateAssumption validates an Assumption instance, including the rule
// that validation fields are all set or all unset depending on status.
func ValidateAssumption(a *Assumption) error {
	if a == nil {
		return fmt.Errorf("assumption cannot be nil")
	}
	if a.ID == "" {
		return fmt.Errorf("%w: assumption ID", ErrMissingRequiredField)
	}
	if strings.TrimSpace(a.Ticker) == "" {
		return fmt.Errorf("%w: ticker", ErrMissingRequiredField)
	}
	if strings.TrimSpace(a.AssumptionText) == "" {
		return fmt.Errorf("%w: assumption_text", ErrMissingRequiredField)
	}
	if !a.Category.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidCategory, a.Category)
	}
	if !a.TimeHorizon.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidTimeHorizon, a.TimeHorizon)
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return ErrInvalidConfidence
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("assumption status is invalid: %s", a.Status)
	}

	resolved := a.ActualValue != nil && a.IsCorrect != nil && a.ValidationSource != nil
	unresolved := a.ActualValue == nil && a.IsCorrect == nil && a.ValidationSource == nil
	switch {
	case a.Status == AssumptionStatusPending && !unresolved:
		return fmt.Errorf("pending assumption %s carries validation fields", a.ID)
	case a.Status.IsTerminal() && !resolved:
		return fmt.Errorf("%s assumption %s is missing validation fields", a.Status, a.ID)
	case a.Status.IsTerminal() && *a.IsCorrect != (a.Status == AssumptionStatusVerified):
		return fmt.Errorf("assumption %s is_correct disagrees with status %s", a.ID, a.Status)
	}
	return nil
}
