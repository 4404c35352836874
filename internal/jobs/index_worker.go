package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/service"
)

const (
	// MaxRetries is the maximum number of retries for a failed job
	MaxRetries = 3

	defaultClaimBatch = 10
)

// IndexJobQueue defines the interface for index job persistence
type IndexJobQueue interface {
	// ClaimPending marks up to limit pending jobs as processing and returns them
	ClaimPending(ctx context.Context, limit int) ([]*domain.IndexJob, error)

	// UpdateStatus updates the status of an index job
	UpdateStatus(ctx context.Context, id string, status domain.IndexJobStatus, errMsg string) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, id string) error
}

// SourceIndexer builds the chunk hierarchy of a source.
type SourceIndexer interface {
	Index(ctx context.Context, sourceID string) (*service.IndexResult, error)
}

// AssumptionExtractor extracts and stores assumptions from a source.
type AssumptionExtractor interface {
	ExtractFromSource(ctx context.Context, sourceID string) ([]*domain.Assumption, error)
}

// IndexWorker processes index jobs created at ingestion.
type IndexWorker struct {
	queue     IndexJobQueue
	indexer   SourceIndexer
	extractor AssumptionExtractor
	batchSize int
	log       *logger.Logger
}

// NewIndexWorker creates a new IndexWorker instance. When extractor is not
// nil, assumptions are extracted from every freshly indexed source.
func NewIndexWorker(queue IndexJobQueue, indexer SourceIndexer, extractor AssumptionExtractor, log *logger.Logger) *IndexWorker {
	if log == nil {
		log = logger.Nop()
	}
	return &IndexWorker{
		queue:     queue,
		indexer:   indexer,
		extractor: extractor,
		batchSize: defaultClaimBatch,
		log:       log.Named("index_worker"),
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *IndexWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.queue.ClaimPending(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	w.log.Info("processing index jobs", logger.IntField("count", len(jobs)))

	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processJob(ctx, job); err != nil {
			w.log.Error("index job bookkeeping failed",
				logger.StringField("job_id", job.ID), logger.ErrorField(err))
		}
	}
	return nil
}

func (w *IndexWorker) processJob(ctx context.Context, job *domain.IndexJob) error {
	res, err := w.indexer.Index(ctx, job.SourceID)
	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.queue.UpdateStatus(ctx, job.ID, domain.IndexJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	w.log.Info("index job completed",
		logger.StringField("job_id", job.ID),
		logger.StringField("source_id", job.SourceID),
		logger.IntField("summaries", res.Summaries),
		logger.IntField("details", res.Details))

	if w.extractor != nil {
		extracted, err := w.extractor.ExtractFromSource(ctx, job.SourceID)
		if err != nil {
			w.log.Warn("assumption extraction failed",
				logger.StringField("source_id", job.SourceID), logger.ErrorField(err))
		} else {
			w.log.Info("assumptions extracted",
				logger.StringField("source_id", job.SourceID), logger.IntField("count", len(extracted)))
		}
	}
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *IndexWorker) handleJobFailure(ctx context.Context, job *domain.IndexJob, jobErr error) error {
	w.log.Warn("index job failed",
		logger.StringField("job_id", job.ID), logger.ErrorField(jobErr))

	if permanent(jobErr) {
		errMsg := fmt.Sprintf("permanent failure: %v", jobErr)
		if err := w.queue.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	if err := w.queue.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	if job.Retries+1 >= MaxRetries {
		w.log.Error("index job exceeded max retries",
			logger.StringField("job_id", job.ID), logger.IntField("max_retries", MaxRetries))
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.queue.UpdateStatus(ctx, job.ID, domain.IndexJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.queue.UpdateStatus(ctx, job.ID, domain.IndexJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}
	return nil
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	switch domain.CodeOf(err) {
	case domain.ErrCodeNotFound, domain.ErrCodeValidation:
		return true
	}
	return errors.Is(err, context.Canceled)
}
