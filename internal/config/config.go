package config

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/AngelCh415/ad-performance-scorer/internal/benchmark"
	"github.com/AngelCh415/ad-performance-scorer/internal/models"
	"github.com/AngelCh415/ad-performance-scorer/internal/scoring"
	"github.com/AngelCh415/ad-performance-scorer/internal/segments"
)

// DefaultConfigPaths are searched in order when no path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/adscore/config.yaml",
}

const ConfigPathEnvVar = "CONFIG_PATH"

const (
	BenchmarkSourceStatic  = "static"
	BenchmarkSourceAccount = "account"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	API        APIConfig        `koanf:"api"`
	Selection  SelectionConfig  `koanf:"selection"`
	Scoring    ScoringConfig    `koanf:"scoring"`
	Benchmarks BenchmarksConfig `koanf:"benchmarks"`
	Export     ExportConfig     `koanf:"export"`
	LogLevel   string           `koanf:"log_level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Port              string        `koanf:"port" validate:"required"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout" validate:"gt=0"`
	RunRetention      int           `koanf:"run_retention" validate:"min=0"`
}

type APIConfig struct {
	BaseURL           string            `koanf:"base_url" validate:"omitempty,url"`
	AccessToken       string            `koanf:"access_token"`
	Timeout           time.Duration     `koanf:"timeout" validate:"gt=0"`
	MaxRetries        int               `koanf:"max_retries" validate:"min=0,max=10"`
	RetryBase         time.Duration     `koanf:"retry_base" validate:"gt=0"`
	RequestsPerSecond float64           `koanf:"requests_per_second" validate:"gt=0"`
	PageSize          int               `koanf:"page_size" validate:"min=1,max=500"`
	BreakerFailures   uint32            `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout    time.Duration     `koanf:"breaker_timeout" validate:"gt=0"`
	Accounts          map[string]string `koanf:"accounts"`
}

type SelectionConfig struct {
	DaysSinceLaunch int     `koanf:"days_since_launch" validate:"min=0"`
	MinimumSpend    float64 `koanf:"minimum_spend" validate:"min=0"`
}

type ScoringConfig struct {
	RatioFloor        float64                        `koanf:"ratio_floor" validate:"min=0"`
	RatioCeiling      float64                        `koanf:"ratio_ceiling" validate:"gtfield=RatioFloor"`
	Scale             float64                        `koanf:"scale" validate:"gt=0"`
	AboveAverage      float64                        `koanf:"above_average"`
	BelowAverage      float64                        `koanf:"below_average" validate:"ltefield=AboveAverage"`
	UnderperformRatio float64                        `koanf:"underperform_ratio" validate:"gt=0"`
	RankSize          int                            `koanf:"rank_size" validate:"min=1"`
	Concurrency       int                            `koanf:"concurrency" validate:"min=1,max=256"`
	Profile           map[string]MetricProfileConfig `koanf:"profile" validate:"dive"`
}

type MetricProfileConfig struct {
	Direction string  `koanf:"direction" validate:"oneof=higher lower higher_is_better lower_is_better"`
	Weight    float64 `koanf:"weight"`
}

type BenchmarksConfig struct {
	Source  string                        `koanf:"source" validate:"oneof=static account"`
	Regions map[string]map[string]float64 `koanf:"regions"`
}

type ExportConfig struct {
	SinkURL    string `koanf:"sink_url" validate:"omitempty,url"`
	SinkSecret string `koanf:"sink_secret" validate:"required_with=SinkURL"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              "8080",
			ReadHeaderTimeout: 10 * time.Second,
			RunRetention:      20,
		},
		API: APIConfig{
			Timeout:           15 * time.Second,
			MaxRetries:        3,
			RetryBase:         100 * time.Millisecond,
			RequestsPerSecond: 5,
			PageSize:          100,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Selection: SelectionConfig{
			DaysSinceLaunch: 7,
			MinimumSpend:    250,
		},
		Scoring: ScoringConfig{
			RatioFloor:        scoring.DefaultRatioFloor,
			RatioCeiling:      scoring.DefaultRatioCeiling,
			Scale:             scoring.DefaultScale,
			AboveAverage:      scoring.DefaultAboveAverage,
			BelowAverage:      scoring.DefaultBelowAverage,
			UnderperformRatio: segments.DefaultUnderperformRatio,
			RankSize:          segments.DefaultRankSize,
			Concurrency:       8,
		},
		Benchmarks: BenchmarksConfig{Source: BenchmarkSourceStatic},
		LogLevel:   "info",
	}
}

// Load layers defaults, an optional YAML file and the environment, in that order of
// increasing priority, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if len(cfg.Scoring.Profile) == 0 {
		cfg.Scoring.Profile = profileConfig(scoring.DefaultProfile())
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransformFunc maps the legacy variable names and the ADSCORE_ prefix onto
// koanf paths. ADSCORE_SCORING__RATIO_CEILING -> scoring.ratio_ceiling.
// Anything else is ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	legacy := map[string]string{
		"port":              "server.port",
		"ads_api_url":       "api.base_url",
		"meta_access_token": "api.access_token",
		"http_timeout":      "api.timeout",
		"log_level":         "log_level",
		"sink_url":          "export.sink_url",
		"sink_secret":       "export.sink_secret",
		"spend_threshold":   "selection.minimum_spend",
		"days_threshold":    "selection.days_since_launch",
		"benchmark_source":  "benchmarks.source",
	}
	if path, ok := legacy[key]; ok {
		return path
	}
	if rest, ok := strings.CutPrefix(key, "adscore_"); ok && rest != "" {
		return strings.ReplaceAll(rest, "__", ".")
	}
	return ""
}

func (c *Config) normalize() {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.Benchmarks.Source = strings.ToLower(strings.TrimSpace(c.Benchmarks.Source))
	if len(c.API.Accounts) > 0 {
		accounts := make(map[string]string, len(c.API.Accounts))
		for region, id := range c.API.Accounts {
			accounts[benchmark.RegionKey(region)] = strings.TrimSpace(id)
		}
		c.API.Accounts = accounts
	}
}

// Validate runs the struct rules, then the scoring rules: the weight profile, the
// ratio bound and, for static benchmarks, every configured target.
func (c *Config) Validate() error {
	if err := validateStruct(c); err != nil {
		return err
	}
	p, err := c.Profile()
	if err != nil {
		return err
	}
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if c.Benchmarks.Source == BenchmarkSourceStatic {
		if _, err := c.Resolver(p); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) Profile() (scoring.Profile, error) {
	p := make(scoring.Profile, len(c.Scoring.Profile))
	for name, mp := range c.Scoring.Profile {
		m, err := models.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scoring.ErrInvalidWeightConfiguration, err)
		}
		d, err := models.ParseDirection(mp.Direction)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", scoring.ErrInvalidWeightConfiguration, name, err)
		}
		p[m] = scoring.MetricProfile{Direction: d, Weight: mp.Weight}
	}
	if err := scoring.ValidateProfile(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Config) EngineConfig() scoring.Config {
	return scoring.Config{
		RatioFloor:   c.Scoring.RatioFloor,
		RatioCeiling: c.Scoring.RatioCeiling,
		Scale:        c.Scoring.Scale,
		AboveAverage: c.Scoring.AboveAverage,
		BelowAverage: c.Scoring.BelowAverage,
	}
}

func (c *Config) SegmentConfig() segments.Config {
	return segments.Config{
		UnderperformRatio: c.Scoring.UnderperformRatio,
		RankSize:          c.Scoring.RankSize,
	}
}

// Resolver builds the static benchmark table.
func (c *Config) Resolver(p scoring.Profile) (*benchmark.Resolver, error) {
	targets := make(map[string]map[models.Metric]float64, len(c.Benchmarks.Regions))
	for region, byMetric := range c.Benchmarks.Regions {
		t := make(map[models.Metric]float64, len(byMetric))
		for name, v := range byMetric {
			m, err := models.ParseMetric(name)
			if err != nil {
				return nil, fmt.Errorf("%w: region %s: %v", benchmark.ErrInvalidBenchmark, region, err)
			}
			t[m] = v
		}
		targets[benchmark.RegionKey(region)] = t
	}
	return benchmark.Build(targets, p)
}

// Regions returns the configured account regions in a stable order.
func (c *Config) Regions() []string {
	out := make([]string, 0, len(c.API.Accounts))
	for r := range c.API.Accounts {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func profileConfig(p scoring.Profile) map[string]MetricProfileConfig {
	out := make(map[string]MetricProfileConfig, len(p))
	for m, mp := range p {
		dir := "higher"
		if mp.Direction == models.LowerIsBetter {
			dir = "lower"
		}
		out[string(m)] = MetricProfileConfig{Direction: dir, Weight: mp.Weight}
	}
	return out
}
