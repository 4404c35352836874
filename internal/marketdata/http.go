package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"golang.org/x/time/rate"
)

// HTTPProvider queries a JSON endpoint:
//
//	GET {base}/v1/actuals?ticker=&metric=&as_of=YYYY-MM-DD
//
// 200 returns {"value": "...", "source": "...", "as_of": "YYYY-MM-DD"};
// 404 means the value is not published yet.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

type actualResponse struct {
	Value  string `json:"value"`
	Source string `json:"source"`
	AsOf   string `json:"as_of"`
}

func NewHTTPProvider(baseURL, apiKey string, perMinute int, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		limiter: limiter,
	}
}

func (p *HTTPProvider) GetActualValue(ctx context.Context, ticker, metric string, asOf time.Time) (*ActualValue, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for request limit: %w", err)
	}

	q := url.Values{}
	q.Set("ticker", ticker)
	q.Set("metric", metric)
	q.Set("as_of", asOf.Format("2006-01-02"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/actuals?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query market data: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrActualNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("market data returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out actualResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode market data response: %w", err)
	}
	if strings.TrimSpace(out.Value) == "" {
		return nil, domain.ErrActualNotFound
	}

	observed := asOf
	if out.AsOf != "" {
		if t, err := time.Parse("2006-01-02", out.AsOf); err == nil {
			observed = t
		}
	}
	source := out.Source
	if source == "" {
		source = p.baseURL
	}

	return &ActualValue{Value: out.Value, Source: source, AsOf: observed}, nil
}
