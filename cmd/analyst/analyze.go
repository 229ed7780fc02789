package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/envelope"
	"github.com/Kocoro-lab/battery-analyst/internal/formatting"
	"github.com/spf13/cobra"
)

func (c *cli) analyzeCmd() *cobra.Command {
	var (
		extra   string
		save    bool
		outDir  string
		asJSON  bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze <query>",
		Short: "Run one analysis and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, names, done, err := c.pipeline()
			if err != nil {
				return err
			}
			defer done()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			env, err := r.Run(ctx, strings.Join(args, " "), extra)
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(c.out)
				enc.SetIndent("", "  ")
				return enc.Encode(env)
			}
			c.printReport(env, names)
			if save {
				path, err := formatting.SaveReport(outDir, env)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "\nReport saved to: %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&extra, "context", "", "additional context appended to the query")
	cmd.Flags().BoolVar(&save, "save", false, "save the report to a text file")
	cmd.Flags().StringVar(&outDir, "out-dir", ".", "directory for saved reports")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result envelope as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall deadline for the run (0 = none)")
	return cmd
}

func (c *cli) printReport(env *envelope.Envelope, names []string) {
	render := formatting.RenderStyled
	if c.plain {
		render = formatting.RenderText
	}
	fmt.Fprintln(c.out, render(env))
	fmt.Fprintln(c.out, strings.Repeat("=", 80))
	for _, line := range formatting.TaskLines(env, names, !c.plain) {
		fmt.Fprintln(c.out, line)
	}
}
