package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/formatting"
	"github.com/spf13/cobra"
)

const examples = `
Example queries:

### Technology Analysis
1. "What are the latest developments in solid-state battery electrolytes?"
2. "How do LFP and NMC chemistries compare on cost and cycle life?"
3. "What are the key challenges in scaling up sodium-ion production?"

### Financial Analysis
4. "Analyze CATL's financial performance and market position"
5. "Compare Tesla and BYD revenue growth and profitability"
6. "What is the market outlook for lithium producers?"

### Competitive Intelligence
7. "How do US battery makers compare to Chinese competitors?"
8. "What are the recent competitive developments in EV batteries?"
9. "Who are the emerging players in grid storage?"

CUSTOM QUERIES:
- You can ask any question about battery technology, companies, or market trends
- Be specific about companies, technologies, or timeframes for better results
`

var rule = strings.Repeat("=", 80)

func (c *cli) shellCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive analysis loop",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, names, done, err := c.pipeline()
			if err != nil {
				return err
			}
			defer done()
			return c.shell(cmd.Context(), r, names, outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory for saved reports")
	return cmd
}

func (c *cli) shell(ctx context.Context, r runner, names []string, outDir string) error {
	fmt.Fprintln(c.out, rule)
	fmt.Fprintln(c.out, "BATTERY ANALYST AGENTS - INTERACTIVE SHELL")
	fmt.Fprintln(c.out, rule)
	fmt.Fprint(c.out, examples+"\n")
	fmt.Fprintln(c.out, rule)

	for {
		fmt.Fprintln(c.out, "\n"+rule)
		query, err := c.prompt("\nEnter your query (or 'examples' to see examples, 'quit' to exit): ")
		if err != nil {
			break
		}
		if query == "" {
			continue
		}
		switch strings.ToLower(query) {
		case "quit":
			fmt.Fprintln(c.out, "\nExiting...")
			return c.goodbye()
		case "examples":
			fmt.Fprint(c.out, examples+"\n")
			continue
		}

		c.runOnce(ctx, r, names, query, outDir)

		fmt.Fprintln(c.out, "\n"+rule)
		again, err := c.prompt("\nAnalyze another query? (y/n): ")
		if err != nil || strings.ToLower(again) != "y" {
			fmt.Fprintln(c.out, "\nExiting...")
			break
		}
	}
	return c.goodbye()
}

// runOnce runs and prints one query. Failures are reported and the shell
// keeps going.
func (c *cli) runOnce(ctx context.Context, r runner, names []string, query, outDir string) {
	fmt.Fprintf(c.out, "\nQuery: %s\n\n", query)
	fmt.Fprintln(c.out, strings.Repeat("-", 80))
	fmt.Fprintln(c.out, "Running parallel analysis...")
	fmt.Fprintln(c.out, strings.Repeat("-", 80))

	start := time.Now()
	env, err := r.Run(ctx, query, "")
	if err != nil {
		fmt.Fprintf(c.out, "\nAnalysis failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Analysis completed in %.1fs\n\n", time.Since(start).Seconds())
	c.printReport(env, names)

	save, err := c.prompt("\nSave report to file? (y/n): ")
	if err != nil || strings.ToLower(save) != "y" {
		return
	}
	path, err := formatting.SaveReport(outDir, env)
	if err != nil {
		fmt.Fprintf(c.out, "\nSave failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "\nReport saved to: %s\n", path)
}

// prompt writes msg and reads one trimmed line. io.EOF is returned only
// when no input is left.
func (c *cli) prompt(msg string) (string, error) {
	fmt.Fprint(c.out, msg)
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *cli) goodbye() error {
	fmt.Fprintln(c.out, "\nThank you for using Analyst Agents!")
	return nil
}
