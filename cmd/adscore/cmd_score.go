package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/export"
	"github.com/AngelCh415/ad-performance-scorer/internal/ingest"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
	"github.com/AngelCh415/ad-performance-scorer/internal/segments"
	"github.com/AngelCh415/ad-performance-scorer/internal/store"
)

type scoreOutput struct {
	RunID   string            `json:"run_id"`
	Region  string            `json:"region"`
	Skipped int               `json:"skipped"`
	Reports []models.AdReport `json:"reports"`
}

func newScoreCommand(root *rootOptions) *cobra.Command {
	var input, region, format string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score ads from a JSON file",
		Long: `Score reads a JSON array of ads and scores the eligible ones against the
benchmark of the given region. Ineligible ads are counted, not scored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "csv" {
				return fmt.Errorf("unknown format %q (json | csv)", format)
			}
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			ads, err := readAds(input)
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
			region = benchmark.RegionKey(region)
			bench, err := resolver.Resolve(region)
			if err != nil {
				return err
			}
			engine, err := scoring.NewEngine(cfg.EngineConfig())
			if err != nil {
				return err
			}
			agg, err := segments.NewAggregator(engine, cfg.SegmentConfig())
			if err != nil {
				return err
			}

			log := root.logger(cmd.ErrOrStderr())
			pipe := ingest.NewPipeline(nil, benchmark.NewRegistry(resolver), engine, agg, profile,
				store.NewMemoryStore(1), log, ingest.OptionsFromConfig(cfg))
			runID := uuid.NewString()
			reports, skipped, err := pipe.ScoreAds(cmd.Context(), runID, region, ads, bench)
			if err != nil {
				return err
			}

			if format == "csv" {
				return export.WriteCSV(cmd.OutOrStdout(), reports)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(scoreOutput{RunID: runID, Region: region, Skipped: skipped, Reports: reports})
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON file with an array of ads")
	cmd.Flags().StringVarP(&region, "region", "r", "", "Region whose benchmark is used")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json | csv")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func readAds(path string) ([]models.Ad, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ads []models.Ad
	if err := json.Unmarshal(b, &ads); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range ads {
		ads[i].ID = strings.TrimSpace(ads[i].ID)
		if ads[i].ID == "" {
			return nil, fmt.Errorf("parse %s: ad %d has no ad_id", path, i)
		}
		ads[i].Metrics = ads[i].Metrics.Sanitized()
	}
	return ads, nil
}
