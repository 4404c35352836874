package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/telemetry"
)

// SourceRepositoryInterface defines the repository interface for source persistence
type SourceRepositoryInterface interface {
	Create(ctx context.Context, s *domain.Source) error
	GetByID(ctx context.Context, id string) (*domain.Source, error)
	// GetLatestVersion returns nil, nil when the lineage has no versions yet.
	GetLatestVersion(ctx context.Context, ticker string, sourceType domain.SourceType, title string) (*domain.Source, error)
	List(ctx context.Context, filter SourceFilter) ([]*domain.Source, error)
	ListIDs(ctx context.Context, filter SourceFilter) ([]string, error)
}

// IndexJobRepositoryInterface defines the repository interface for index job persistence
type IndexJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.IndexJob) error
}

// SourceFilter narrows source listings. Zero values do not filter.
type SourceFilter struct {
	Ticker          string
	SourceTypes     []domain.SourceType
	PublishedFrom   *time.Time
	PublishedTo     *time.Time
	LatestOnly      bool
	UnindexedForTag string
	Limit           int
}

// ArchiveStorage keeps a raw copy of ingested documents.
type ArchiveStorage interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
	GenerateDownloadURL(ctx context.Context, key string) (string, error)
}

// IngestInput is a document submitted for ingestion.
type IngestInput struct {
	Ticker      string
	CompanyName string
	SourceType  domain.SourceType
	Title       string
	Content     string
	SourceURL   string
	PublishedAt time.Time
}

// IngestResult reports what ingestion did. Created is false when the
// content was identical to the latest version and nothing was written.
type IngestResult struct {
	Source  *domain.Source
	Created bool
	JobID   string
}

// SourceService stores documents and queues them for indexing.
type SourceService struct {
	sourceRepo SourceRepositoryInterface
	txRunner   TxRunner
	archive    ArchiveStorage
	uuidGen    UUIDGenerator
	log        *logger.Logger
	now        Clock
}

// NewSourceService creates a SourceService. archive may be nil.
func NewSourceService(sourceRepo SourceRepositoryInterface, txRunner TxRunner, archive ArchiveStorage, log *logger.Logger) *SourceService {
	return NewSourceServiceWithDeps(sourceRepo, txRunner, archive, &DefaultUUIDGenerator{}, systemClock, log)
}

// NewSourceServiceWithDeps creates a SourceService with custom generators.
func NewSourceServiceWithDeps(sourceRepo SourceRepositoryInterface, txRunner TxRunner, archive ArchiveStorage, uuidGen UUIDGenerator, now Clock, log *logger.Logger) *SourceService {
	if log == nil {
		log = logger.Nop()
	}
	return &SourceService{
		sourceRepo: sourceRepo,
		txRunner:   txRunner,
		archive:    archive,
		uuidGen:    uuidGen,
		log:        log.Named("sources"),
		now:        now,
	}
}

// ArchiveKey is where the raw text of a source version is stored.
func ArchiveKey(s *domain.Source) string {
	return fmt.Sprintf("sources/%s/%s/v%d-%s.txt",
		strings.ToUpper(s.Ticker), strings.ToLower(string(s.SourceType)), s.Version, s.ID)
}

// Ingest stores a new source version and enqueues its index job in one
// transaction. Re-submitting unchanged content is a no-op.
func (s *SourceService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SourceService.Ingest", telemetry.SpanAttributes{
		Ticker:    in.Ticker,
		Operation: "ingest",
	})
	defer span.End()

	in.Ticker = strings.TrimSpace(in.Ticker)
	in.Title = strings.TrimSpace(in.Title)
	hash := domain.ContentHash(in.Content)

	latest, err := s.sourceRepo.GetLatestVersion(ctx, in.Ticker, in.SourceType, in.Title)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	if latest != nil && latest.ContentHash == hash {
		return &IngestResult{Source: latest, Created: false}, nil
	}

	now := s.now()
	src := &domain.Source{
		ID:          s.uuidGen.NewString(),
		Ticker:      in.Ticker,
		CompanyName: in.CompanyName,
		SourceType:  in.SourceType,
		Title:       in.Title,
		Content:     in.Content,
		PublishedAt: in.PublishedAt.UTC(),
		SourceURL:   in.SourceURL,
		ContentHash: hash,
		Version:     1,
		CreatedAt:   now,
	}
	if latest != nil {
		src.Version = latest.Version + 1
		src.SupersedesID = latest.ID
	}
	if err := domain.ValidateSource(src); err != nil {
		return nil, err
	}

	if s.archive != nil {
		key := ArchiveKey(src)
		if err := s.archive.PutObject(ctx, key, "text/plain; charset=utf-8", []byte(src.Content)); err != nil {
			// Archive copies are best effort.
			s.log.Warn("archive upload failed",
				logger.StringField("source_id", src.ID), logger.ErrorField(err))
		} else {
			src.ArchiveKey = key
		}
	}

	job := domain.NewIndexJob(s.uuidGen.NewString(), src.ID, now)
	err = s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Sources().Create(ctx, src); err != nil {
			return err
		}
		return repos.IndexJobs().Create(ctx, job)
	})
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	s.log.Info("source ingested",
		logger.StringField("source_id", src.ID),
		logger.StringField("ticker", src.Ticker),
		logger.IntField("version", src.Version))
	return &IngestResult{Source: src, Created: true, JobID: job.ID}, nil
}

// Get returns a source by id.
func (s *SourceService) Get(ctx context.Context, id string) (*domain.Source, error) {
	src, err := s.sourceRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrSourceNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get source %s: %w", id, err)
	}
	return src, nil
}

// ArchiveURL returns a temporary download link for the archived raw text of
// a source.
func (s *SourceService) ArchiveURL(ctx context.Context, id string) (string, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if s.archive == nil || src.ArchiveKey == "" {
		return "", domain.ErrArchiveNotFound
	}
	url, err := s.archive.GenerateDownloadURL(ctx, src.ArchiveKey)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", src.ArchiveKey, err)
	}
	return url, nil
}

// List returns sources matching filter, newest first.
func (s *SourceService) List(ctx context.Context, filter SourceFilter) ([]*domain.Source, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.sourceRepo.List(ctx, filter)
}
