package jobs

import (
	"context"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

// ValidationRunner settles due assumptions.
type ValidationRunner interface {
	RunValidationJob(ctx context.Context, asOf time.Time) (*service.ValidationJobReport, error)
}

// ValidationWorker periodically validates due assumptions against market data.
type ValidationWorker struct {
	runner ValidationRunner
	now    func() time.Time
	log    *logger.Logger
}

func NewValidationWorker(runner ValidationRunner, log *logger.Logger) *ValidationWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &ValidationWorker{runner: runner, now: time.Now, log: log.Named("validation_worker")}
}

// ProcessJobs implements the JobProcessor interface
func (w *ValidationWorker) ProcessJobs(ctx context.Context) error {
	report, err := w.runner.RunValidationJob(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	if report.Total > 0 {
		w.log.Info("validation pass finished",
			logger.IntField("total", report.Total),
			logger.IntField("verified", report.Verified),
			logger.IntField("failed", report.FailedVerdicts),
			logger.IntField("skipped", report.Skipped),
			logger.IntField("errors", report.Failed))
	}
	return nil
}
