// Package pricing estimates the USD cost of reasoning backend calls.
package pricing

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var defaultTable []byte

type modelPrice struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// config mirrors the pricing section of models.yaml.
type config struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]map[string]modelPrice `yaml:"models"`
	} `yaml:"pricing"`
}

// fallbackPerToken applies when the table has no default ($0.002 per 1K).
const fallbackPerToken = 0.000002

var (
	mu     sync.RWMutex
	loaded *config
)

func get() *config {
	mu.RLock()
	if loaded != nil {
		defer mu.RUnlock()
		return loaded
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if loaded == nil {
		cfg, err := parse(defaultTable)
		if err != nil {
			cfg = &config{}
		}
		loaded = cfg
	}
	return loaded
}

func parse(data []byte) (*config, error) {
	var cfg config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse pricing: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *config) error {
	if cfg.Pricing.Defaults.CombinedPer1K < 0 {
		return errors.New("pricing.defaults.combined_per_1k must be >= 0")
	}
	for provider, models := range cfg.Pricing.Models {
		for name, m := range models {
			if m.InputPer1K < 0 || m.OutputPer1K < 0 || m.CombinedPer1K < 0 {
				return fmt.Errorf("negative price for %s:%s", provider, name)
			}
		}
	}
	return nil
}

// Load replaces the built-in table with the file at path. An empty path
// restores the built-in table.
func Load(path string) error {
	data := defaultTable
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read pricing: %w", err)
		}
		data = b
	}
	cfg, err := parse(data)
	if err != nil {
		return err
	}
	mu.Lock()
	loaded = cfg
	mu.Unlock()
	return nil
}

// DefaultPerToken returns default combined price per token
func DefaultPerToken() float64 {
	cfg := get()
	if cfg.Pricing.Defaults.CombinedPer1K > 0 {
		return cfg.Pricing.Defaults.CombinedPer1K / 1000.0
	}
	return fallbackPerToken
}

func lookup(model string) (modelPrice, bool) {
	if model == "" {
		return modelPrice{}, false
	}
	for _, models := range get().Pricing.Models {
		if m, ok := models[model]; ok {
			return m, true
		}
	}
	return modelPrice{}, false
}

// PricePerTokenForModel returns combined price per token for a model if available
func PricePerTokenForModel(model string) (float64, bool) {
	m, ok := lookup(model)
	if !ok {
		return 0, false
	}
	if m.CombinedPer1K > 0 {
		return m.CombinedPer1K / 1000.0, true
	}
	// Only input/output listed: approximate combined as their average.
	if m.InputPer1K > 0 && m.OutputPer1K > 0 {
		return ((m.InputPer1K + m.OutputPer1K) / 2.0) / 1000.0, true
	}
	return 0, false
}

// CostForSplit computes cost using input/output token split when available.
// Falls back to combined pricing or default if model not found.
func CostForSplit(model string, inputTokens, outputTokens int) float64 {
	inputTokens = max(inputTokens, 0)
	outputTokens = max(outputTokens, 0)

	if m, ok := lookup(model); ok {
		if m.InputPer1K > 0 && m.OutputPer1K > 0 {
			return (float64(inputTokens)/1000.0)*m.InputPer1K + (float64(outputTokens)/1000.0)*m.OutputPer1K
		}
		if m.CombinedPer1K > 0 {
			return (float64(inputTokens+outputTokens) / 1000.0) * m.CombinedPer1K
		}
	}
	if model == "" {
		metrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		metrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
	return float64(inputTokens+outputTokens) * DefaultPerToken()
}
