// Package app assembles the analysis pipeline from configuration.
package app

import (
	"fmt"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/llm"
	"github.com/Kocoro-lab/battery-analyst/internal/orchestrator"
	"github.com/Kocoro-lab/battery-analyst/internal/pricing"
	"github.com/Kocoro-lab/battery-analyst/internal/synthesis"
	"github.com/Kocoro-lab/battery-analyst/internal/tasks"
	"github.com/Kocoro-lab/battery-analyst/internal/tools"
	"go.uber.org/zap"
)

// Pipeline is a ready-to-run orchestrator and the parts it was built from.
type Pipeline struct {
	Backend      llm.Backend
	Registry     *tasks.Registry
	Synthesizer  *synthesis.Synthesizer
	Orchestrator *orchestrator.Orchestrator
}

// Build wires one shared backend into every task and the synthesis step.
func Build(cfg *config.Config, logger *zap.Logger, opts ...orchestrator.Option) (*Pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pricing.Load(cfg.LLM.PricingFile); err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	backend := llm.NewOpenAIBackend(llm.OpenAIConfig{
		Provider:          cfg.LLM.Provider,
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	}, logger)
	return BuildWithBackend(cfg, backend, logger, opts...)
}

// BuildWithBackend is Build with a caller-supplied backend.
func BuildWithBackend(cfg *config.Config, backend llm.Backend, logger *zap.Logger, opts ...orchestrator.Option) (*Pipeline, error) {
	roles, err := config.LoadRoles(cfg.RolesFile)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	reg, err := tasks.BuildRegistry(roles, tools.Build(cfg.Tools, logger), backend, llm.ReactConfig{
		MaxIterations: cfg.Agents.MaxIterations,
		Temperature:   cfg.Agents.TaskTemperature,
		MaxTokens:     cfg.Agents.TaskMaxTokens,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("build tasks: %w", err)
	}
	synth := synthesis.New(backend, synthesis.Config{
		Temperature: cfg.Agents.SynthesisTemperature,
		MaxTokens:   cfg.Agents.SynthesisMaxTokens,
	}, logger)

	all := append([]orchestrator.Option{orchestrator.WithLogger(logger)}, opts...)
	return &Pipeline{
		Backend:      backend,
		Registry:     reg,
		Synthesizer:  synth,
		Orchestrator: orchestrator.New(reg, synth, all...),
	}, nil
}
