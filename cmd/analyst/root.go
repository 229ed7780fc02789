package main

import (
	"bufio"
	"context"
	"io"

	"github.com/Kocoro-lab/battery-analyst/internal/app"
	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runner is the part of the orchestrator the CLI drives.
type runner interface {
	Run(ctx context.Context, query, context string) (*envelope.Envelope, error)
}

// pipelineFactory builds a runner and the ordered task names it executes.
type pipelineFactory func(cfg *config.Config, logger *zap.Logger) (runner, []string, error)

func defaultPipeline(cfg *config.Config, logger *zap.Logger) (runner, []string, error) {
	p, err := app.Build(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return p.Orchestrator, p.Registry.Names(), nil
}

// cli carries state shared by every subcommand.
type cli struct {
	factory    pipelineFactory
	in         *bufio.Reader
	out        io.Writer
	configPath string
	verbose    bool
	plain      bool
}

func newRootCmd(factory pipelineFactory, in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{factory: factory, in: bufio.NewReader(in), out: out}

	root := &cobra.Command{
		Use:   "analyst",
		Short: "Battery market analysis from research, financial and competitor agents",
		Long: `Analyst fans a question out to a research agent (arXiv), a financial
agent (Yahoo Finance) and a competitor agent (NewsAPI and arXiv), then
synthesizes their findings into one report.`,
		SilenceUsage: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $ANALYST_CONFIG)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log at info level to stderr")
	root.PersistentFlags().BoolVar(&c.plain, "plain", false, "disable colored output")

	root.AddCommand(c.analyzeCmd(), c.shellCmd(), c.configCmd())
	return root
}

func (c *cli) loadConfig() (*config.Config, error) {
	return config.Load(c.configPath)
}

// pipeline loads configuration and builds the runner. Logs stay quiet
// unless --verbose so they do not interleave with the report.
func (c *cli) pipeline() (runner, []string, func(), error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	if !c.verbose {
		cfg.Logging.Level = "error"
	}
	cfg.Logging.Format = "console"
	logger, _, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}
	r, names, err := c.factory(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return r, names, func() { _ = logger.Sync() }, nil
}
