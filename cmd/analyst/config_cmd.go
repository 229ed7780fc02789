package main

import (
	"fmt"

	"github.com/Kocoro-lab/battery-analyst/internal/config"
	"github.com/spf13/cobra"
)

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration and role catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			roles, err := config.LoadRoles(cfg.RolesFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "configuration OK: model %s, %d roles, store %s\n", cfg.LLM.Model, len(roles), cfg.Store.Driver)
			if cfg.Tools.News.APIKey == "" {
				fmt.Fprintln(c.out, "warning: NEWS_API_KEY not set; competitor news search will report errors")
			}
			return nil
		},
	})
	return cmd
}
