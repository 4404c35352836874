package marketdata

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/alphaledger/internal/domain"
	"gopkg.in/yaml.v3"
)

// StaticProvider serves values from a YAML file of the form
//
//	"005930":
//	  "HBM 매출":
//	    "2024-Q3": "1.2조"
//
// The most recent period not after as_of wins.
type StaticProvider struct {
	source string
	data   map[string]map[string]map[string]string
}

func NewStaticProvider(source string, data map[string]map[string]map[string]string) *StaticProvider {
	return &StaticProvider{source: source, data: data}
}

// LoadStaticProvider reads a YAML file.
func LoadStaticProvider(path string) (*StaticProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read market data file: %w", err)
	}
	var data map[string]map[string]map[string]string
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse market data file: %w", err)
	}
	return NewStaticProvider("file:"+path, data), nil
}

func (p *StaticProvider) GetActualValue(_ context.Context, ticker, metric string, asOf time.Time) (*ActualValue, error) {
	if strings.TrimSpace(metric) == "" {
		return nil, domain.ErrActualNotFound
	}
	periods, ok := p.data[ticker][metric]
	if !ok || len(periods) == 0 {
		return nil, domain.ErrActualNotFound
	}

	target := Period(asOf)
	keys := make([]string, 0, len(periods))
	for k := range periods {
		if k <= target {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil, domain.ErrActualNotFound
	}
	sort.Strings(keys)
	latest := keys[len(keys)-1]

	return &ActualValue{Value: periods[latest], Source: p.source + "#" + latest, AsOf: asOf}, nil
}
