package service

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ItemStatus is the outcome of one item in a batch run.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// ItemOutcome reports what happened to one item of a batch.
type ItemOutcome struct {
	ID     string     `json:"id"`
	Status ItemStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// BatchReport aggregates per-item outcomes. Items never dispatched because
// the run was cancelled are counted in NotStarted and left untouched.
type BatchReport struct {
	Total      int           `json:"total"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	NotStarted int           `json:"not_started"`
	Cancelled  bool          `json:"cancelled"`
	Items      []ItemOutcome `json:"items"`
}

func succeeded(id, detail string) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemSucceeded, Detail: detail}
}

func skipped(id, detail string) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemSkipped, Detail: detail}
}

func failed(id string, err error) ItemOutcome {
	return ItemOutcome{ID: id, Status: ItemFailed, Error: err.Error()}
}

// runBatch applies fn to every id with at most concurrency in flight. fn
// reports its own outcome, so one failing item never aborts the others.
func runBatch(ctx context.Context, ids []string, concurrency int, fn func(ctx context.Context, id string) ItemOutcome) *BatchReport {
	if concurrency < 1 {
		concurrency = 1
	}

	outcomes := make([]*ItemOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			var out ItemOutcome
			if ctx.Err() != nil {
				out = skipped(id, "cancelled")
			} else {
				out = fn(ctx, id)
			}
			outcomes[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	report := &BatchReport{Total: len(ids), Items: make([]ItemOutcome, 0, len(ids))}
	for _, out := range outcomes {
		if out == nil {
			report.NotStarted++
			continue
		}
		report.Items = append(report.Items, *out)
		switch out.Status {
		case ItemSucceeded:
			report.Succeeded++
		case ItemFailed:
			report.Failed++
		default:
			report.Skipped++
		}
	}
	report.Cancelled = ctx.Err() != nil
	return report
}
