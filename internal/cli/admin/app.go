package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/cloo-solutions/alphaledger/internal/config"
	"github.com/cloo-solutions/alphaledger/internal/database"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/events"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/marketdata"
	"github.com/cloo-solutions/alphaledger/internal/repository"
	"github.com/cloo-solutions/alphaledger/internal/service"
	"github.com/cloo-solutions/alphaledger/internal/storage"
)

const (
	memoryCacheCleanup  = 10 * time.Minute
	marketDataTimeout   = 30 * time.Second
	gathererMaxItems    = 8
	gathererExcerptSize = 600
)

// app holds the wired services shared by serve and the one-shot commands.
type app struct {
	cfg *config.Config
	log *logger.Logger

	pool      *pgxpool.Pool
	redis     *redis.Client
	archive   *storage.S3Client
	indexJobs *repository.IndexJobRepository
	authority domain.AuthorityTable

	sources     *service.SourceService
	indexer     *service.IndexerService
	search      *service.SearchService
	extractor   *service.ExtractorService
	validator   *service.ValidatorService
	assumptions *service.AssumptionService
	decomposer  *service.DecomposerService
}

func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	authority, err := domain.NewAuthorityTable(map[domain.SourceType]float64{
		domain.SourceTypeDARTFiling:    cfg.AuthorityDARTFiling,
		domain.SourceTypeEarningsCall:  cfg.AuthorityEarningsCall,
		domain.SourceTypeIRMaterial:    cfg.AuthorityIRMaterial,
		domain.SourceTypeAnalystReport: cfg.AuthorityAnalystReport,
	})
	if err != nil {
		return fmt.Errorf("invalid authority weights: %w", err)
	}

	prompts, err := service.LoadPrompts()
	if err != nil {
		return err
	}

	if cfg.HasRedis() {
		a.redis, err = llm.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		log.Info("redis connected")
	}

	embedder, generator, err := a.buildLLM(ctx)
	if err != nil {
		return err
	}

	var archive service.ArchiveStorage
	if cfg.HasS3() {
		a.archive, err = storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := a.archive.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Info("archive bucket ready", logger.StringField("bucket", cfg.S3Bucket))
		archive = a.archive
	}

	provider, err := a.buildMarketData()
	if err != nil {
		return err
	}

	var publisher service.EventPublisher = events.NopPublisher{}
	if a.redis != nil {
		publisher = events.NewStreamPublisher(a.redis, cfg.EventStream, 0, log)
	}

	retry := service.DefaultRetryPolicy()
	if cfg.UpstreamMaxAttempts > 0 {
		retry.MaxAttempts = cfg.UpstreamMaxAttempts
	}

	sourceRepo := repository.NewSourceRepository(a.pool)
	chunkRepo := repository.NewChunkRepository(a.pool)
	assumptionRepo := repository.NewAssumptionRepository(a.pool)
	attributionRepo := repository.NewAttributionRepository(a.pool)
	txRunner := repository.NewTxRunner(a.pool)
	a.indexJobs = repository.NewIndexJobRepository(a.pool)

	indexerCfg := service.DefaultIndexerConfig()
	indexerCfg.Retry = retry
	indexerCfg.BatchConcurrency = cfg.BatchConcurrency

	searchCfg := service.DefaultSearchConfig()
	searchCfg.KeywordBonus = cfg.KeywordBonus
	searchCfg.CandidateMultiplier = cfg.CandidateMultiplier
	searchCfg.Retry = retry

	validatorCfg := service.DefaultValidatorConfig()
	validatorCfg.Tolerance = cfg.NumericTolerance
	validatorCfg.Concurrency = cfg.BatchConcurrency
	validatorCfg.Retry = retry

	a.sources = service.NewSourceService(sourceRepo, txRunner, archive, log)
	a.authority = authority
	a.indexer = service.NewIndexerService(sourceRepo, chunkRepo, txRunner, embedder, authority, indexerCfg, log)
	a.search = service.NewSearchService(chunkRepo, embedder, searchCfg, log)
	a.extractor = service.NewExtractorService(generator, prompts, authority, sourceRepo, txRunner,
		service.ExtractorConfig{Retry: retry}, log)
	a.validator = service.NewValidatorService(assumptionRepo, provider, generator, prompts, publisher, validatorCfg, log)
	a.assumptions = service.NewAssumptionService(assumptionRepo, log)
	a.decomposer = service.NewDecomposerService(
		service.NewRepositoryContextGatherer(sourceRepo, assumptionRepo, gathererMaxItems, gathererExcerptSize),
		generator, prompts, attributionRepo,
		service.DecomposerConfig{Retry: retry, BatchConcurrency: cfg.BatchConcurrency},
		log,
	)
	return nil
}

// buildLLM wires embeddings through the cache and the shared rate limit,
// and picks the structured generator by GENERATION_PROVIDER.
func (a *app) buildLLM(ctx context.Context) (llm.Embedder, llm.StructuredGenerator, error) {
	cfg := a.cfg
	limiter := llm.NewPerMinuteLimiter(cfg.LLMRequestsPerMinute)

	var embedder llm.Embedder = unconfiguredLLM{what: "embeddings require ALPHALEDGER_OPENAI_API_KEY"}
	var generator llm.StructuredGenerator = unconfiguredLLM{what: "generation provider is not configured"}

	var openaiClient *llm.OpenAIClient
	if cfg.HasOpenAI() {
		openaiClient = llm.NewClientWithConfig(llm.Config{
			APIKey:              cfg.OpenAIAPIKey,
			EmbeddingModel:      openai.EmbeddingModel(cfg.EmbeddingModel),
			EmbeddingDimensions: cfg.EmbeddingDimensions,
			ChatModel:           cfg.ChatModel,
			Timeout:             cfg.LLMTimeout,
		})

		var cache llm.Cache = llm.NewMemoryCache(cfg.EmbeddingCacheTTL, memoryCacheCleanup)
		if a.redis != nil {
			cache = llm.NewLayeredCache(cache, llm.NewRedisCache(a.redis))
		}
		embedder = llm.NewCachedEmbedder(llm.NewRateLimitedEmbedder(openaiClient, limiter), cache, cfg.EmbeddingCacheTTL)
		a.log.Info("embeddings enabled", logger.StringField("model_tag", embedder.ModelTag()))
	}

	switch cfg.GenerationProvider {
	case "gemini":
		if cfg.HasGemini() {
			client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
			if err != nil {
				return nil, nil, err
			}
			generator = llm.NewRateLimitedGenerator(llm.NewGeminiGenerator(client.Models, cfg.GeminiModel, cfg.LLMTimeout), limiter)
		}
	default:
		if openaiClient != nil {
			generator = llm.NewRateLimitedGenerator(openaiClient, limiter)
		}
	}
	if _, ok := generator.(unconfiguredLLM); ok {
		a.log.Warn("structured generation disabled", logger.StringField("provider", cfg.GenerationProvider))
	}
	return embedder, generator, nil
}

func (a *app) buildMarketData() (marketdata.Provider, error) {
	cfg := a.cfg
	switch {
	case cfg.MarketDataURL != "":
		return marketdata.NewHTTPProvider(cfg.MarketDataURL, cfg.MarketDataAPIKey, cfg.MarketDataPerMin,
			&http.Client{Timeout: marketDataTimeout}), nil
	case cfg.MarketDataFile != "":
		p, err := marketdata.LoadStaticProvider(cfg.MarketDataFile)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	_ = a.log.Sync()
}

// unconfiguredLLM stands in for a missing provider so the API still serves
// stored data; any call reports the upstream as unavailable.
type unconfiguredLLM struct {
	what string
}

func (u unconfiguredLLM) Embed(context.Context, string) ([]float32, error) {
	return nil, domain.Wrap(domain.ErrUpstreamUnavailable, errors.New(u.what))
}

func (u unconfiguredLLM) ModelTag() string {
	return "unconfigured"
}

func (u unconfiguredLLM) GenerateStructured(context.Context, llm.StructuredRequest) (json.RawMessage, error) {
	return nil, domain.Wrap(domain.ErrUpstreamUnavailable, errors.New(u.what))
}
