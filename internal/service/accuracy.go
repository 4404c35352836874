package service

import (
	"sort"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
)

// AccuracyFilter selects the assumptions accuracy is computed over.
// Since and Until bound created_at for counts and validated_at for trends.
type AccuracyFilter struct {
	Ticker   string
	Category domain.Category
	Horizon  domain.TimeHorizon
	Since    *time.Time
	Until    *time.Time
}

// StatusCountRow is one grouped count from the repository.
type StatusCountRow struct {
	Category domain.Category
	Horizon  domain.TimeHorizon
	Status   domain.AssumptionStatus
	Count    int
}

// WeeklyOutcome counts resolutions in the week starting WeekStart.
type WeeklyOutcome struct {
	WeekStart time.Time
	Verified  int
	Failed    int
}

// StatusCounts tallies assumptions by status.
type StatusCounts struct {
	Verified int `json:"verified"`
	Failed   int `json:"failed"`
	Pending  int `json:"pending"`
}

// Resolved is the number of assumptions that reached a terminal state.
func (c StatusCounts) Resolved() int {
	return c.Verified + c.Failed
}

// Accuracy is VERIFIED / (VERIFIED + FAILED), or nil when nothing resolved.
// Pending assumptions never count.
func (c StatusCounts) Accuracy() *float64 {
	if c.Resolved() == 0 {
		return nil
	}
	v := float64(c.Verified) / float64(c.Resolved())
	return &v
}

func (c *StatusCounts) add(status domain.AssumptionStatus, n int) {
	switch status {
	case domain.AssumptionStatusVerified:
		c.Verified += n
	case domain.AssumptionStatusFailed:
		c.Failed += n
	default:
		c.Pending += n
	}
}

// AccuracyBucket is the accuracy of one slice of assumptions.
type AccuracyBucket struct {
	StatusCounts
	Accuracy *float64 `json:"accuracy"`
}

// AccuracyStats is the accuracy report for a filter.
type AccuracyStats struct {
	Total      int                                   `json:"total"`
	Overall    AccuracyBucket                        `json:"overall"`
	ByCategory map[domain.Category]AccuracyBucket    `json:"by_category"`
	ByHorizon  map[domain.TimeHorizon]AccuracyBucket `json:"by_horizon"`
}

// TrendPoint is the accuracy of assumptions resolved in one week.
type TrendPoint struct {
	WeekStart time.Time `json:"week_start"`
	Verified  int       `json:"verified"`
	Failed    int       `json:"failed"`
	Accuracy  *float64  `json:"accuracy"`
}

// ComputeAccuracy folds grouped counts into overall and per-slice accuracy.
func ComputeAccuracy(rows []StatusCountRow) AccuracyStats {
	var overall StatusCounts
	byCategory := make(map[domain.Category]StatusCounts)
	byHorizon := make(map[domain.TimeHorizon]StatusCounts)

	for _, r := range rows {
		overall.add(r.Status, r.Count)
		c := byCategory[r.Category]
		c.add(r.Status, r.Count)
		byCategory[r.Category] = c
		h := byHorizon[r.Horizon]
		h.add(r.Status, r.Count)
		byHorizon[r.Horizon] = h
	}

	stats := AccuracyStats{
		Total:      overall.Resolved() + overall.Pending,
		Overall:    bucket(overall),
		ByCategory: make(map[domain.Category]AccuracyBucket, len(byCategory)),
		ByHorizon:  make(map[domain.TimeHorizon]AccuracyBucket, len(byHorizon)),
	}
	for k, v := range byCategory {
		stats.ByCategory[k] = bucket(v)
	}
	for k, v := range byHorizon {
		stats.ByHorizon[k] = bucket(v)
	}
	return stats
}

// ComputeTrend turns weekly outcomes into accuracy points, oldest first.
func ComputeTrend(weeks []WeeklyOutcome) []TrendPoint {
	out := make([]TrendPoint, 0, len(weeks))
	for _, w := range weeks {
		c := StatusCounts{Verified: w.Verified, Failed: w.Failed}
		out = append(out, TrendPoint{
			WeekStart: w.WeekStart,
			Verified:  w.Verified,
			Failed:    w.Failed,
			Accuracy:  c.Accuracy(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WeekStart.Before(out[j].WeekStart) })
	return out
}

func bucket(c StatusCounts) AccuracyBucket {
	return AccuracyBucket{StatusCounts: c, Accuracy: c.Accuracy()}
}
