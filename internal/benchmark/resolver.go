package benchmark

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/AngelCh415/ad-performance-scorer/internal/metrics"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
)

var (
	ErrBenchmarkNotFound = errors.New("benchmark not found")
	ErrInvalidBenchmark  = errors.New("invalid benchmark")
)

// Resolver is an immutable region -> benchmark table.
type Resolver struct {
	table map[string]models.Benchmark
}

func NewResolver(benchmarks ...models.Benchmark) *Resolver {
	r := &Resolver{table: make(map[string]models.Benchmark, len(benchmarks))}
	for _, b := range benchmarks {
		key := RegionKey(b.Region)
		r.table[key] = models.Benchmark{Region: key, Targets: maps.Clone(b.Targets)}
	}
	return r
}

// Resolve returns the benchmark configured for region. A missing region is an error,
// never a default baseline.
func (r *Resolver) Resolve(region string) (models.Benchmark, error) {
	b, ok := r.table[RegionKey(region)]
	if !ok {
		return models.Benchmark{}, fmt.Errorf("%w: region %q", ErrBenchmarkNotFound, region)
	}
	return models.Benchmark{Region: b.Region, Targets: maps.Clone(b.Targets)}, nil
}

func (r *Resolver) Regions() []string {
	out := make([]string, 0, len(r.table))
	for k := range r.table {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func RegionKey(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Registry hands out a fixed Resolver per run. Reload only affects snapshots taken
// after it returns.
type Registry struct {
	current atomic.Pointer[Resolver]
}

func NewRegistry(r *Resolver) *Registry {
	g := &Registry{}
	g.current.Store(r)
	return g
}

func (g *Registry) Snapshot() *Resolver { return g.current.Load() }

func (g *Registry) Reload(r *Resolver) { g.current.Store(r) }

// Build combines per-region targets with the shared metric profile.
func Build(targets map[string]map[models.Metric]float64, p scoring.Profile) (*Resolver, error) {
	benchmarks := make([]models.Benchmark, 0, len(targets))
	regions := make([]string, 0, len(targets))
	for region := range targets {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for _, region := range regions {
		b := models.Benchmark{Region: region, Targets: map[models.Metric]models.MetricTarget{}}
		for m, target := range targets[region] {
			mp, ok := p[m]
			if !ok {
				return nil, fmt.Errorf("%w: region %s: metric %q is not in the scoring profile", ErrInvalidBenchmark, region, m)
			}
			if !(target > 0) || math.IsInf(target, 0) {
				return nil, fmt.Errorf("%w: region %s: %s target must be positive, got %v", ErrInvalidBenchmark, region, m, target)
			}
			b.Targets[m] = models.MetricTarget{Target: target, Direction: mp.Direction, Weight: mp.Weight}
		}
		if len(b.Targets) == 0 {
			return nil, fmt.Errorf("%w: region %s has no targets", ErrInvalidBenchmark, region)
		}
		benchmarks = append(benchmarks, b)
	}
	return NewResolver(benchmarks...), nil
}

// FromAccount uses an account's own normalized metrics as the targets for its region.
// Metrics that are unavailable or zero at account level are left out.
func FromAccount(region string, account models.RawMetrics, p scoring.Profile) (models.Benchmark, error) {
	n := metrics.Normalize(account)
	b := models.Benchmark{Region: RegionKey(region), Targets: map[models.Metric]models.MetricTarget{}}
	for _, m := range models.AllMetrics {
		mp, ok := p[m]
		if !ok {
			continue
		}
		v, ok := n.Value(m).Get()
		if !ok || v <= 0 {
			continue
		}
		b.Targets[m] = models.MetricTarget{Target: v, Direction: mp.Direction, Weight: mp.Weight}
	}
	if len(b.Targets) == 0 {
		return models.Benchmark{}, fmt.Errorf("%w: region %q has no usable account metrics", ErrBenchmarkNotFound, region)
	}
	return b, nil
}
