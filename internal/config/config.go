// Package config handles configuration loading and management for delve.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Overflow policies for delegation batches larger than research.max_concurrent.
const (
	OverflowTruncate = "truncate"
	OverflowReject   = "reject"
)

// Search providers.
const (
	ProviderTavily = "tavily"
	ProviderSerper = "serper"
	ProviderBrave  = "brave"
)

// ProjectConfigName is the per-project override file.
const ProjectConfigName = ".delve.yaml"

// Config holds all configuration for delve.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Models    ModelsConfig    `mapstructure:"models" yaml:"models"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Research  ResearchConfig  `mapstructure:"research" yaml:"research"`
	Timeouts  TimeoutsConfig  `mapstructure:"timeouts" yaml:"timeouts"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	TUI       TUIConfig       `mapstructure:"tui" yaml:"tui"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// ModelsConfig selects the model used by each pipeline role.
type ModelsConfig struct {
	Supervisor  string `mapstructure:"supervisor" yaml:"supervisor"`
	Researcher  string `mapstructure:"researcher" yaml:"researcher"`
	Compression string `mapstructure:"compression" yaml:"compression"`
	Writer      string `mapstructure:"writer" yaml:"writer"`
	Advisor     string `mapstructure:"advisor" yaml:"advisor"`
}

// SearchConfig holds web search settings.
type SearchConfig struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	MaxResults int    `mapstructure:"max_results" yaml:"max_results"`
}

// ResearchConfig bounds the delegation loop.
type ResearchConfig struct {
	MaxConcurrent  int    `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	MaxRounds      int    `mapstructure:"max_rounds" yaml:"max_rounds"`
	MaxSearches    int    `mapstructure:"max_searches" yaml:"max_searches"`
	OverflowPolicy string `mapstructure:"overflow_policy" yaml:"overflow_policy"`
	// TokenBudget stops the supervisor once this many tokens were spent (0 = unlimited).
	TokenBudget int64 `mapstructure:"token_budget" yaml:"token_budget"`
}

// TimeoutsConfig holds timeout settings.
type TimeoutsConfig struct {
	Generate  time.Duration `mapstructure:"generate" yaml:"generate"`
	Search    time.Duration `mapstructure:"search" yaml:"search"`
	Worker    time.Duration `mapstructure:"worker" yaml:"worker"`
	Run       time.Duration `mapstructure:"run" yaml:"run"`
	Synthesis time.Duration `mapstructure:"synthesis" yaml:"synthesis"`
}

// OutputConfig controls where reports go.
type OutputConfig struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Archive bool   `mapstructure:"archive" yaml:"archive"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" yaml:"refresh_rate"`
}

// MetricsConfig holds the prometheus listener address (empty disables it).
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, DELVE_SEARCH_API_KEY)
// 2. Project config (.delve.yaml in current directory or parent)
// 3. User config (~/.config/delve/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Search.APIKey = expandEnv(cfg.Search.APIKey)
	cfg.Output.Dir = expandEnv(cfg.Output.Dir)

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()

	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("search.api_key", "DELVE_SEARCH_API_KEY")
	_ = v.BindEnv("search.provider", "DELVE_SEARCH_PROVIDER")
	_ = v.BindEnv("metrics.addr", "DELVE_METRICS_ADDR")
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("models.supervisor", cfg.Models.Supervisor)
	v.Set("models.researcher", cfg.Models.Researcher)
	v.Set("models.compression", cfg.Models.Compression)
	v.Set("models.writer", cfg.Models.Writer)
	v.Set("models.advisor", cfg.Models.Advisor)
	v.Set("search.provider", cfg.Search.Provider)
	v.Set("search.api_key", cfg.Search.APIKey)
	v.Set("search.max_results", cfg.Search.MaxResults)
	v.Set("research.max_concurrent", cfg.Research.MaxConcurrent)
	v.Set("research.max_rounds", cfg.Research.MaxRounds)
	v.Set("research.max_searches", cfg.Research.MaxSearches)
	v.Set("research.overflow_policy", cfg.Research.OverflowPolicy)
	v.Set("research.token_budget", cfg.Research.TokenBudget)
	v.Set("timeouts.generate", cfg.Timeouts.Generate.String())
	v.Set("timeouts.search", cfg.Timeouts.Search.String())
	v.Set("timeouts.worker", cfg.Timeouts.Worker.String())
	v.Set("timeouts.run", cfg.Timeouts.Run.String())
	v.Set("timeouts.synthesis", cfg.Timeouts.Synthesis.String())
	v.Set("output.dir", cfg.Output.Dir)
	v.Set("output.archive", cfg.Output.Archive)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())
	v.Set("metrics.addr", cfg.Metrics.Addr)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("models.supervisor", d.Models.Supervisor)
	v.SetDefault("models.researcher", d.Models.Researcher)
	v.SetDefault("models.compression", d.Models.Compression)
	v.SetDefault("models.writer", d.Models.Writer)
	v.SetDefault("models.advisor", d.Models.Advisor)

	v.SetDefault("search.provider", d.Search.Provider)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.max_results", d.Search.MaxResults)

	v.SetDefault("research.max_concurrent", d.Research.MaxConcurrent)
	v.SetDefault("research.max_rounds", d.Research.MaxRounds)
	v.SetDefault("research.max_searches", d.Research.MaxSearches)
	v.SetDefault("research.overflow_policy", d.Research.OverflowPolicy)
	v.SetDefault("research.token_budget", d.Research.TokenBudget)

	v.SetDefault("timeouts.generate", "2m")
	v.SetDefault("timeouts.search", "30s")
	v.SetDefault("timeouts.worker", "10m")
	v.SetDefault("timeouts.run", "30m")
	v.SetDefault("timeouts.synthesis", "3m")

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.archive", d.Output.Archive)

	v.SetDefault("tui.refresh_rate", "100ms")

	v.SetDefault("metrics.addr", "")
}

// getUserConfigDir returns the XDG config directory for delve.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "delve")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "delve")
	}
	return filepath.Join(home, ".config", "delve")
}

// findProjectConfig searches for .delve.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Supervisor:  "claude-sonnet-4-5-20250929",
			Researcher:  "claude-sonnet-4-5-20250929",
			Compression: "claude-haiku-4-5-20251001",
			Writer:      "claude-sonnet-4-5-20250929",
			Advisor:     "claude-haiku-4-5-20251001",
		},
		Search: SearchConfig{
			Provider:   ProviderTavily,
			MaxResults: 3,
		},
		Research: ResearchConfig{
			MaxConcurrent:  3,
			MaxRounds:      6,
			MaxSearches:    5,
			OverflowPolicy: OverflowTruncate,
		},
		Timeouts: TimeoutsConfig{
			Generate:  2 * time.Minute,
			Search:    30 * time.Second,
			Worker:    10 * time.Minute,
			Run:       30 * time.Minute,
			Synthesis: 3 * time.Minute,
		},
		Output: OutputConfig{
			Dir:     "reports",
			Archive: true,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}

// Validate checks value ranges that would otherwise surface mid-run.
func (c *Config) Validate() error {
	var errs []error
	if c.Research.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("research.max_concurrent must be >= 1, got %d", c.Research.MaxConcurrent))
	}
	if c.Research.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("research.max_rounds must be >= 1, got %d", c.Research.MaxRounds))
	}
	if c.Research.MaxSearches < 1 {
		errs = append(errs, fmt.Errorf("research.max_searches must be >= 1, got %d", c.Research.MaxSearches))
	}
	if c.Research.TokenBudget < 0 {
		errs = append(errs, fmt.Errorf("research.token_budget must not be negative"))
	}
	switch c.Research.OverflowPolicy {
	case OverflowTruncate, OverflowReject:
	default:
		errs = append(errs, fmt.Errorf("research.overflow_policy must be %q or %q, got %q", OverflowTruncate, OverflowReject, c.Research.OverflowPolicy))
	}
	switch c.Search.Provider {
	case ProviderTavily, ProviderSerper, ProviderBrave:
	default:
		errs = append(errs, fmt.Errorf("search.provider %q is not supported", c.Search.Provider))
	}
	if c.Search.MaxResults < 1 {
		errs = append(errs, fmt.Errorf("search.max_results must be >= 1, got %d", c.Search.MaxResults))
	}
	return errors.Join(errs...)
}
