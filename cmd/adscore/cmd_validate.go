package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
)

func newValidateConfigCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			profile, err := cfg.Profile()
			if err != nil {
				return err
			}
			resolver, err := cfg.Resolver(profile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "configuration ok")
			fmt.Fprintf(out, "benchmark source: %s\n", cfg.Benchmarks.Source)
			fmt.Fprintf(out, "benchmark regions: %s\n", joinOrNone(resolver.Regions()))
			fmt.Fprintf(out, "account regions: %s\n", joinOrNone(cfg.Regions()))
			for _, m := range models.AllMetrics {
				mp, ok := profile[m]
				if !ok || mp.Weight == 0 {
					continue
				}
				fmt.Fprintf(out, "  %-18s %-16s weight %g\n", m, mp.Direction, mp.Weight)
			}
			return nil
		},
	}
}

func joinOrNone(s []string) string {
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ", ")
}
