//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/alphaledger/internal/api/handlers"
	"github.com/cloo-solutions/alphaledger/internal/domain"
	"github.com/cloo-solutions/alphaledger/internal/llm"
	"github.com/cloo-solutions/alphaledger/internal/logger"
	"github.com/cloo-solutions/alphaledger/internal/repository"
	"github.com/cloo-solutions/alphaledger/internal/server"
	"github.com/cloo-solutions/alphaledger/internal/service"
	"github.com/cloo-solutions/alphaledger/internal/storage"
	"github.com/cloo-solutions/alphaledger/internal/testutil"
)

const testToken = "e2e-token"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	RustFSC      *testutil.RustFSContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	S3Client     *storage.S3Client
	BinaryDir    string
	HTTPClient   *http.Client
}

// APIResponse is the envelope every endpoint answers with.
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Code  string          `json:"code"`
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          "alphaledger-e2e",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	serverURL, serverCloser := startServer(t, pool, s3Client, port)

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		RustFSC:      s3C,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		S3Client:     s3Client,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.RustFSC != nil {
		_ = e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		_ = e.PostgresC.Terminate(e.Ctx)
	}
	if e.BinaryDir != "" {
		_ = os.RemoveAll(e.BinaryDir)
	}
}

// BuildBinaries builds the alphaledgerd binary
func (e *E2ETestEnv) BuildBinaries() {
	tmpDir, err := os.MkdirTemp("", "alphaledger-e2e-*")
	if err != nil {
		e.T.Fatalf("failed to create temp dir: %v", err)
	}
	e.BinaryDir = tmpDir

	cmd := exec.Command("go", "build", "-o", filepath.Join(tmpDir, "alphaledgerd"), "./cmd/alphaledgerd")
	cmd.Dir = "../.."
	if out, err := cmd.CombinedOutput(); err != nil {
		e.T.Fatalf("failed to build alphaledgerd: %v\n%s", err, out)
	}
}

// RunCLI runs an alphaledgerd subcommand against the test database.
func (e *E2ETestEnv) RunCLI(args ...string) (string, error) {
	cmd := exec.Command(filepath.Join(e.BinaryDir, "alphaledgerd"), args...)
	cmd.Dir = "../.."
	cmd.Env = append(os.Environ(),
		"ALPHALEDGER_DATABASE_URL="+e.PostgresC.ConnectionString(),
		"ALPHALEDGER_LOG_LEVEL=error",
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Get performs a GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, int, error) {
	return e.doRequest(http.MethodGet, path, nil)
}

// Post performs a POST request
func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, int, error) {
	return e.doRequest(http.MethodPost, path, body)
}

// Patch performs a PATCH request
func (e *E2ETestEnv) Patch(path string, body any) (*APIResponse, int, error) {
	return e.doRequest(http.MethodPatch, path, body)
}

// Delete performs a DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, int, error) {
	return e.doRequest(http.MethodDelete, path, nil)
}

// MustDecode unmarshals the data member of resp into v.
func (e *E2ETestEnv) MustDecode(resp *APIResponse, v any) {
	e.T.Helper()
	if err := json.Unmarshal(resp.Data, v); err != nil {
		e.T.Fatalf("failed to decode response data %s: %v", resp.Data, err)
	}
}

func (e *E2ETestEnv) doRequest(method, path string, body any) (*APIResponse, int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, e.ServerURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var apiResp APIResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &apiResp); err != nil {
			return nil, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
		}
	}
	if resp.StatusCode >= 400 {
		return &apiResp, resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}
	return &apiResp, resp.StatusCode, nil
}

// DownloadFile downloads a file from the presigned URL
func (e *E2ETestEnv) DownloadFile(downloadURL string) ([]byte, error) {
	resp, err := e.HTTPClient.Get(downloadURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// startServer starts the HTTP server with all handlers
func startServer(t *testing.T, pool *pgxpool.Pool, s3Client *storage.S3Client, port int) (string, func()) {
	log := logger.Nop()

	authority, err := domain.NewAuthorityTable(domain.DefaultAuthorityWeights())
	if err != nil {
		t.Fatalf("failed to build authority table: %v", err)
	}
	prompts, err := service.LoadPrompts()
	if err != nil {
		t.Fatalf("failed to load prompts: %v", err)
	}

	sourceRepo := repository.NewSourceRepository(pool)
	chunkRepo := repository.NewChunkRepository(pool)
	assumptionRepo := repository.NewAssumptionRepository(pool)
	attributionRepo := repository.NewAttributionRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embedder := hashEmbedder{}
	generator := scriptedGenerator{}
	retry := service.DefaultRetryPolicy()
	retry.MaxAttempts = 1

	sources := service.NewSourceService(sourceRepo, txRunner, s3Client, log)
	indexer := service.NewIndexerService(sourceRepo, chunkRepo, txRunner, embedder, authority, service.DefaultIndexerConfig(), log)
	search := service.NewSearchService(chunkRepo, embedder, service.DefaultSearchConfig(), log)
	extractor := service.NewExtractorService(generator, prompts, authority, sourceRepo, txRunner,
		service.ExtractorConfig{Retry: retry}, log)
	validator := service.NewValidatorService(assumptionRepo, nil, generator, prompts, nil,
		service.DefaultValidatorConfig(), log)
	assumptions := service.NewAssumptionService(assumptionRepo, log)
	decomposer := service.NewDecomposerService(
		service.NewRepositoryContextGatherer(sourceRepo, assumptionRepo, 8, 600),
		generator, prompts, attributionRepo,
		service.DecomposerConfig{Retry: retry, BatchConcurrency: 2},
		log,
	)

	router := server.NewRouter(server.RouterConfig{
		APIToken:           testToken,
		Logger:             log,
		SourceHandler:      handlers.NewSourceHandler(sources, indexer, extractor),
		SearchHandler:      handlers.NewSearchHandler(search),
		AssumptionHandler:  handlers.NewAssumptionHandler(assumptions, validator, extractor),
		AttributionHandler: handlers.NewAttributionHandler(decomposer),
		Authority:          authority,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// hashEmbedder maps each token to a fixed dimension so texts sharing words
// land close together.
type hashEmbedder struct{}

func (hashEmbedder) ModelTag() string { return "e2e-hash-1536" }

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, llm.ErrEmptyText
	}
	vec := make([]float32, llm.DefaultEmbeddingDimensions)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[h.Sum32()%uint32(len(vec))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

// scriptedGenerator answers each prompt kind with a fixed document.
type scriptedGenerator struct{}

func (scriptedGenerator) GenerateStructured(_ context.Context, req llm.StructuredRequest) (json.RawMessage, error) {
	switch req.Name {
	case "assumption_extraction":
		return json.RawMessage(`{"assumptions":[
			{"text":"HBM 수요 증가로 3분기 매출 74조원 달성","category":"REVENUE","horizon":"SHORT",
			 "confidence":0.8,"predicted_value":"74조원","metric_name":"revenue",
			 "reasoning":"가이던스 기준"}
		]}`), nil
	case "semantic_comparison":
		return json.RawMessage(`{"verdict":"UNDETERMINED","reasoning":"not comparable"}`), nil
	case "horizon_analysis":
		return json.RawMessage(`{"analysis":"HBM 공급 계약 지연 우려","factors":["HBM","수요"]}`), nil
	case "attribution_synthesis":
		return json.RawMessage(`{"summary":"단기 수급 요인이 주도",
			"dominant_timeframe":"short","confidence":0.7,
			"attribution":{"short":0.6,"medium":0.3,"long":0.1},
			"key_insights":["HBM 지연"],"risk_factors":["환율"]}`), nil
	default:
		return nil, fmt.Errorf("unexpected prompt %q", req.Name)
	}
}
