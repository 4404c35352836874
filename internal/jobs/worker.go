package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/logger"
)

// JobProcessor defines the interface for processing jobs
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker represents a background job worker
type Worker struct {
	name         string
	processor    JobProcessor
	pollInterval time.Duration
	runOnStart   bool
	log          *logger.Logger
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRunOnStart makes the worker process once before the first tick.
func WithRunOnStart() WorkerOption {
	return func(w *Worker) { w.runOnStart = true }
}

// NewWorker creates a new Worker instance
func NewWorker(name string, processor JobProcessor, pollInterval time.Duration, log *logger.Logger, opts ...WorkerOption) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	w := &Worker{
		name:         name,
		processor:    processor,
		pollInterval: pollInterval,
		log:          log.Named(name),
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the worker's polling loop
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	w.log.Info("worker started", logger.DurationField("poll_interval", w.pollInterval))

	if w.runOnStart {
		w.process(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker stopped: context cancelled")
			return
		case <-w.stopChan:
			w.log.Info("worker stopped: stop signal received")
			return
		case <-ticker.C:
			w.process(ctx)
		}
	}
}

func (w *Worker) process(ctx context.Context) {
	if err := w.processor.ProcessJobs(ctx); err != nil {
		w.log.Error("error processing jobs", logger.ErrorField(err))
	}
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
	w.log.Info("worker shutdown complete")
}
