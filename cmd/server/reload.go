package main

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/config"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
)

var (
	errReloadUnsupported = errors.New("benchmarks are derived from account insights on every run; nothing to reload")
	errRestartRequired   = errors.New("restart required")
)

// benchmarkReloader swaps the static benchmark table. Only targets may change:
// the profile and the benchmark source are fixed for the life of the process.
type benchmarkReloader struct {
	path     string
	source   string
	profile  scoring.Profile
	registry *benchmark.Registry
	log      *slog.Logger
}

func (b *benchmarkReloader) Reload() error {
	if b.source != config.BenchmarkSourceStatic {
		b.log.Warn("benchmark reload ignored", slog.String("benchmark_source", b.source))
		return errReloadUnsupported
	}
	cfg, err := config.Load(b.path)
	if err != nil {
		return err
	}
	if cfg.Benchmarks.Source != b.source {
		return fmt.Errorf("%w: benchmark source changed from %s to %s", errRestartRequired, b.source, cfg.Benchmarks.Source)
	}
	p, err := cfg.Profile()
	if err != nil {
		return err
	}
	if !maps.Equal(p, b.profile) {
		return fmt.Errorf("%w: scoring profile changed", errRestartRequired)
	}
	res, err := cfg.Resolver(b.profile)
	if err != nil {
		return err
	}
	b.registry.Reload(res)
	b.log.Info("benchmarks reloaded", slog.Any("regions", res.Regions()))
	return nil
}
