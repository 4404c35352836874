package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	APIToken    string `envconfig:"API_TOKEN"`

	MaxRequestBytes  int64 `envconfig:"MAX_REQUEST_BYTES" default:"1048576"`
	MaxDocumentBytes int64 `envconfig:"MAX_DOCUMENT_BYTES" default:"20971520"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns     int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"file://migrations"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"alphaledger-sources"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`

	// GenerationProvider selects the structured generator: openai or gemini.
	GenerationProvider string `envconfig:"GENERATION_PROVIDER" default:"openai"`
	GeminiAPIKey       string `envconfig:"GEMINI_API_KEY"`
	GeminiModel        string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	LLMRequestsPerMinute int           `envconfig:"LLM_REQUESTS_PER_MINUTE" default:"60"`
	LLMTimeout           time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	UpstreamMaxAttempts  int           `envconfig:"UPSTREAM_MAX_ATTEMPTS" default:"3"`

	EmbeddingCacheTTL time.Duration `envconfig:"EMBEDDING_CACHE_TTL" default:"24h"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	EventStream       string        `envconfig:"EVENT_STREAM" default:"alphaledger:events"`

	MarketDataURL    string `envconfig:"MARKET_DATA_URL"`
	MarketDataAPIKey string `envconfig:"MARKET_DATA_API_KEY"`
	MarketDataFile   string `envconfig:"MARKET_DATA_FILE"`
	MarketDataPerMin int    `envconfig:"MARKET_DATA_REQUESTS_PER_MINUTE" default:"120"`

	KeywordBonus        float64 `envconfig:"SEARCH_KEYWORD_BONUS" default:"0.1"`
	CandidateMultiplier int     `envconfig:"SEARCH_CANDIDATE_MULTIPLIER" default:"4"`
	NumericTolerance    float64 `envconfig:"VALIDATION_TOLERANCE" default:"0.10"`
	BatchConcurrency    int     `envconfig:"BATCH_CONCURRENCY" default:"4"`

	AuthorityDARTFiling    float64 `envconfig:"AUTHORITY_DART_FILING" default:"1.0"`
	AuthorityEarningsCall  float64 `envconfig:"AUTHORITY_EARNINGS_CALL" default:"1.0"`
	AuthorityIRMaterial    float64 `envconfig:"AUTHORITY_IR_MATERIAL" default:"0.9"`
	AuthorityAnalystReport float64 `envconfig:"AUTHORITY_ANALYST_REPORT" default:"0.4"`

	IndexPollInterval  time.Duration `envconfig:"INDEX_POLL_INTERVAL" default:"10s"`
	ValidationInterval time.Duration `envconfig:"VALIDATION_INTERVAL" default:"1h"`

	SentryDSN string `envconfig:"SENTRY_DSN"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("ALPHALEDGER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Validate checks value ranges envconfig cannot express.
func (c *Config) Validate() error {
	if c.NumericTolerance < 0 {
		return fmt.Errorf("VALIDATION_TOLERANCE must be >= 0, got %v", c.NumericTolerance)
	}
	if c.KeywordBonus < 0 {
		return fmt.Errorf("SEARCH_KEYWORD_BONUS must be >= 0, got %v", c.KeywordBonus)
	}
	for name, w := range map[string]float64{
		"AUTHORITY_DART_FILING":    c.AuthorityDARTFiling,
		"AUTHORITY_EARNINGS_CALL":  c.AuthorityEarningsCall,
		"AUTHORITY_IR_MATERIAL":    c.AuthorityIRMaterial,
		"AUTHORITY_ANALYST_REPORT": c.AuthorityAnalystReport,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, w)
		}
	}
	switch c.GenerationProvider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("GENERATION_PROVIDER must be openai or gemini, got %q", c.GenerationProvider)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
}

func (c *Config) HasMarketData() bool {
	return c.MarketDataURL != "" || c.MarketDataFile != ""
}
