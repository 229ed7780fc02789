// Package config loads service configuration from YAML and environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (ANALYST_LLM_MODEL, ...).
const EnvPrefix = "ANALYST"

type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Agents  AgentsConfig  `mapstructure:"agents"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Store   StoreConfig   `mapstructure:"store"`
	// RolesFile points at a role catalog; empty uses the built-in roles.
	RolesFile string `mapstructure:"roles_file"`
}

type LLMConfig struct {
	Provider          string        `mapstructure:"provider" validate:"required"`
	BaseURL           string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RequestsPerMinute replaces the provider's built-in pace; -1 disables pacing.
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"min=-1"`
	// PricingFile overrides the built-in per-model price table.
	PricingFile       string        `mapstructure:"pricing_file"`
}

// AgentsConfig holds the reasoning parameters shared by all analysis tasks
// and the synthesis step.
type AgentsConfig struct {
	MaxIterations        int     `mapstructure:"max_iterations" validate:"min=1,max=20"`
	TaskTemperature      float32 `mapstructure:"task_temperature" validate:"min=0,max=2"`
	TaskMaxTokens        int     `mapstructure:"task_max_tokens" validate:"min=1"`
	SynthesisTemperature float32 `mapstructure:"synthesis_temperature" validate:"min=0,max=2"`
	SynthesisMaxTokens   int     `mapstructure:"synthesis_max_tokens" validate:"min=1"`
}

type ToolsConfig struct {
	HTTPTimeout time.Duration `mapstructure:"http_timeout" validate:"gt=0"`
	Arxiv       ArxivConfig   `mapstructure:"arxiv"`
	Finance     FinanceConfig `mapstructure:"finance"`
	News        NewsConfig    `mapstructure:"news"`
}

type ArxivConfig struct {
	BaseURL    string `mapstructure:"base_url" validate:"required,url"`
	MaxResults int    `mapstructure:"max_results" validate:"min=1,max=100"`
	DaysBack   int    `mapstructure:"days_back" validate:"min=1"`
}

type FinanceConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

type NewsConfig struct {
	BaseURL  string `mapstructure:"base_url" validate:"required,url"`
	APIKey   string `mapstructure:"api_key"`
	DaysBack int    `mapstructure:"days_back" validate:"min=1"`
	PageSize int    `mapstructure:"page_size" validate:"min=1,max=100"`
	Language string `mapstructure:"language" validate:"required,len=2"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	MetricsPort     int           `mapstructure:"metrics_port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	EventBuffer     int           `mapstructure:"event_buffer" validate:"min=1"`
	// EventRetention is how long finished runs stay replayable.
	EventRetention  time.Duration `mapstructure:"event_retention" validate:"gt=0"`
	// AuthToken, when set, is required as a bearer token on /v1 routes.
	AuthToken       string        `mapstructure:"auth_token"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ServiceName  string `mapstructure:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

// StoreConfig selects where finished reports are archived.
type StoreConfig struct {
	Driver    string        `mapstructure:"driver" validate:"oneof=none redis postgres sqlite"`
	RedisAddr string        `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	DSN       string        `mapstructure:"dsn" validate:"required_if=Driver postgres,required_if=Driver sqlite"`
	TTL       time.Duration `mapstructure:"ttl" validate:"min=0"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			Timeout:           120 * time.Second,
			RequestsPerMinute: 0,
		},
		Agents: AgentsConfig{
			MaxIterations:        3,
			TaskTemperature:      0.1,
			TaskMaxTokens:        2000,
			SynthesisTemperature: 0.2,
			SynthesisMaxTokens:   3000,
		},
		Tools: ToolsConfig{
			HTTPTimeout: 30 * time.Second,
			Arxiv: ArxivConfig{
				BaseURL:    "http://export.arxiv.org/api/query",
				MaxResults: 10,
				DaysBack:   365,
			},
			Finance: FinanceConfig{
				BaseURL: "https://query2.finance.yahoo.com",
			},
			News: NewsConfig{
				BaseURL:  "https://newsapi.org/v2",
				DaysBack: 30,
				PageSize: 10,
				Language: "en",
			},
		},
		Server: ServerConfig{
			Port:            8090,
			MetricsPort:     2112,
			ShutdownTimeout: 15 * time.Second,
			EventBuffer:     256,
			EventRetention:  10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			ServiceName:  "battery-analyst",
			OTLPEndpoint: "localhost:4317",
		},
		Store: StoreConfig{
			Driver:    "none",
			TTL:       7 * 24 * time.Hour,
			KeyPrefix: "analyst:report:",
		},
	}
}

// legacyEnv maps config keys to the conventional variable names operators
// already export for these services.
var legacyEnv = map[string][]string{
	"llm.api_key":           {"OPENAI_API_KEY"},
	"llm.base_url":          {"OPENAI_BASE_URL"},
	"llm.model":             {"LLM_MODEL"},
	"tools.news.api_key":    {"NEWS_API_KEY"},
	"store.redis_addr":      {"REDIS_ADDR"},
	"store.dsn":             {"DATABASE_URL"},
	"logging.level":         {"LOG_LEVEL"},
	"server.metrics_port":   {"METRICS_PORT"},
	"server.auth_token":     {"ANALYST_API_TOKEN"},
	"tracing.otlp_endpoint": {"OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// Load reads configuration from path (or $ANALYST_CONFIG when path is empty),
// applies environment overrides and validates the result. A missing path is
// not an error; defaults and environment are used alone.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range legacyEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.requests_per_minute", d.LLM.RequestsPerMinute)
	v.SetDefault("llm.pricing_file", d.LLM.PricingFile)

	v.SetDefault("agents.max_iterations", d.Agents.MaxIterations)
	v.SetDefault("agents.task_temperature", d.Agents.TaskTemperature)
	v.SetDefault("agents.task_max_tokens", d.Agents.TaskMaxTokens)
	v.SetDefault("agents.synthesis_temperature", d.Agents.SynthesisTemperature)
	v.SetDefault("agents.synthesis_max_tokens", d.Agents.SynthesisMaxTokens)

	v.SetDefault("tools.http_timeout", d.Tools.HTTPTimeout)
	v.SetDefault("tools.arxiv.base_url", d.Tools.Arxiv.BaseURL)
	v.SetDefault("tools.arxiv.max_results", d.Tools.Arxiv.MaxResults)
	v.SetDefault("tools.arxiv.days_back", d.Tools.Arxiv.DaysBack)
	v.SetDefault("tools.finance.base_url", d.Tools.Finance.BaseURL)
	v.SetDefault("tools.news.base_url", d.Tools.News.BaseURL)
	v.SetDefault("tools.news.api_key", d.Tools.News.APIKey)
	v.SetDefault("tools.news.days_back", d.Tools.News.DaysBack)
	v.SetDefault("tools.news.page_size", d.Tools.News.PageSize)
	v.SetDefault("tools.news.language", d.Tools.News.Language)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.event_buffer", d.Server.EventBuffer)
	v.SetDefault("server.event_retention", d.Server.EventRetention)
	v.SetDefault("server.auth_token", d.Server.AuthToken)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.redis_addr", d.Store.RedisAddr)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.ttl", d.Store.TTL)
	v.SetDefault("store.key_prefix", d.Store.KeyPrefix)

	v.SetDefault("roles_file", d.RolesFile)
}
