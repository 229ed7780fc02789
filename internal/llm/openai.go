package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/Kocoro-lab/battery-analyst/internal/pricing"
	"github.com/Kocoro-lab/battery-analyst/internal/ratecontrol"
	"github.com/Kocoro-lab/battery-analyst/internal/tracing"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrEmptyCompletion is returned when the backend answers with no choices.
var ErrEmptyCompletion = errors.New("empty completion")

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	Provider string
	APIKey   string
	// BaseURL overrides the API root for compatible gateways.
	BaseURL           string
	Model             string
	Timeout           time.Duration
	RequestsPerMinute int
}

// OpenAIBackend calls a chat completions endpoint. It is safe for concurrent use.
type OpenAIBackend struct {
	client  *openai.Client
	model   string
	vendor  string
	cb      *circuitbreaker.CircuitBreaker
	limiter *ratecontrol.Limiter
	logger  *zap.Logger
}

func NewOpenAIBackend(cfg OpenAIConfig, logger *zap.Logger) *OpenAIBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	cb := circuitbreaker.NewCircuitBreaker("llm-"+cfg.Provider, circuitbreaker.ConfigFor(circuitbreaker.ServiceLLM), logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker("llm-"+cfg.Provider, circuitbreaker.ServiceLLM, cb)

	return &OpenAIBackend{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		vendor:  cfg.Provider,
		cb:      cb,
		limiter: ratecontrol.ForProvider(cfg.Provider, cfg.RequestsPerMinute),
		logger:  logger,
	}
}

// Model returns the configured model name.
func (b *OpenAIBackend) Model() string { return b.model }

// Invoke sends prompt as a system/user chat and returns the first choice.
// Tools are described inside the prompt text, so the list is only used for
// tracing.
func (b *OpenAIBackend) Invoke(ctx context.Context, prompt Prompt, tools []ToolSpec) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.invoke",
		attribute.String("llm.provider", b.vendor),
		attribute.String("llm.model", b.model),
		attribute.Int("llm.tools", len(tools)),
	)

	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: prompt.Temperature,
		MaxTokens:   prompt.MaxTokens,
		Stop:        prompt.Stop,
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})

	if err := b.limiter.Wait(ctx, ratecontrol.EstimateTokens(prompt.System+prompt.User)+prompt.MaxTokens); err != nil {
		err = fmt.Errorf("rate limit wait: %w", err)
		tracing.EndSpan(span, err)
		return "", err
	}

	start := time.Now()
	resp, err := circuitbreaker.Call(ctx, b.cb, func() (openai.ChatCompletionResponse, error) {
		return b.client.CreateChatCompletion(ctx, req)
	})
	elapsed := time.Since(start)

	if err == nil && len(resp.Choices) == 0 {
		err = ErrEmptyCompletion
	}
	metrics.RecordLLM(b.vendor, b.model, err, elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	if err != nil {
		b.logger.Warn("LLM request failed",
			zap.String("provider", b.vendor),
			zap.String("model", b.model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		err = fmt.Errorf("%s chat completion: %w", b.vendor, err)
		tracing.EndSpan(span, err)
		return "", err
	}

	cost := pricing.CostForSplit(b.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	metrics.LLMCost.WithLabelValues(b.vendor, b.model).Add(cost)
	b.logger.Debug("LLM request completed",
		zap.String("model", b.model),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("cost_usd", cost),
		zap.Duration("elapsed", elapsed),
	)
	span.SetAttributes(attribute.Int("llm.total_tokens", resp.Usage.TotalTokens))
	tracing.EndSpan(span, nil)
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models to confirm the endpoint and key are usable.
func (b *OpenAIBackend) Ping(ctx context.Context) error {
	_, err := b.client.ListModels(ctx)
	return err
}
