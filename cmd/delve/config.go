package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/delve/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify delve configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/delve/config.yaml
Project-specific overrides can be placed in .delve.yaml`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(os.Stdout, cfg)
			displayKeySource(os.Stdout, cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

var configInitProject bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write the default configuration to ~/.config/delve/config.yaml, or to
.delve.yaml in the current directory with --project. An existing file is
left untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if configInitProject {
			path = config.ProjectConfigName
		}
		return initConfigFile(path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitProject, "project", false, "Write .delve.yaml in the current directory")
	configCmd.AddCommand(configInitCmd)
}

// initConfigFile writes the default configuration to path unless it exists.
func initConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		printStatus("⚠", path+" already exists, leaving it untouched", color.FgYellow)
		return nil
	}
	if err := config.SaveTo(config.Default(), path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	printStatus("✓", "Created "+path, color.FgGreen)
	return nil
}

// configKey reads and writes one dot-notation configuration value.
type configKey struct {
	get func(cfg *config.Config) string
	set func(cfg *config.Config, value string) error
}

func stringKey(field func(cfg *config.Config) *string) configKey {
	return configKey{
		get: func(cfg *config.Config) string { return *field(cfg) },
		set: func(cfg *config.Config, value string) error {
			*field(cfg) = value
			return nil
		},
	}
}

func intKey(name string, field func(cfg *config.Config) *int) configKey {
	return configKey{
		get: func(cfg *config.Config) string { return strconv.Itoa(*field(cfg)) },
		set: func(cfg *config.Config, value string) error {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(cfg) = n
			return nil
		},
	}
}

func boolKey(name string, field func(cfg *config.Config) *bool) configKey {
	return configKey{
		get: func(cfg *config.Config) string { return strconv.FormatBool(*field(cfg)) },
		set: func(cfg *config.Config, value string) error {
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("invalid boolean for %s: %w", name, err)
			}
			*field(cfg) = b
			return nil
		},
	}
}

func durationKey(name string, field func(cfg *config.Config) *time.Duration) configKey {
	return configKey{
		get: func(cfg *config.Config) string { return field(cfg).String() },
		set: func(cfg *config.Config, value string) error {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration for %s: %w", name, err)
			}
			*field(cfg) = d
			return nil
		},
	}
}

// secretKey never prints the stored value in full.
func secretKey(field func(cfg *config.Config) *string) configKey {
	k := stringKey(field)
	k.get = func(cfg *config.Config) string { return config.MaskAPIKey(*field(cfg)) }
	return k
}

var configKeys = map[string]configKey{
	"anthropic.api_key":     secretKey(func(c *config.Config) *string { return &c.Anthropic.APIKey }),
	"anthropic.use_bedrock": boolKey("anthropic.use_bedrock", func(c *config.Config) *bool { return &c.Anthropic.UseBedrock }),
	"anthropic.aws_region":  stringKey(func(c *config.Config) *string { return &c.Anthropic.AWSRegion }),
	"anthropic.aws_profile": stringKey(func(c *config.Config) *string { return &c.Anthropic.AWSProfile }),

	"models.supervisor":  stringKey(func(c *config.Config) *string { return &c.Models.Supervisor }),
	"models.researcher":  stringKey(func(c *config.Config) *string { return &c.Models.Researcher }),
	"models.compression": stringKey(func(c *config.Config) *string { return &c.Models.Compression }),
	"models.writer":      stringKey(func(c *config.Config) *string { return &c.Models.Writer }),
	"models.advisor":     stringKey(func(c *config.Config) *string { return &c.Models.Advisor }),

	"search.provider":    stringKey(func(c *config.Config) *string { return &c.Search.Provider }),
	"search.api_key":     secretKey(func(c *config.Config) *string { return &c.Search.APIKey }),
	"search.max_results": intKey("search.max_results", func(c *config.Config) *int { return &c.Search.MaxResults }),

	"research.max_concurrent":  intKey("research.max_concurrent", func(c *config.Config) *int { return &c.Research.MaxConcurrent }),
	"research.max_rounds":      intKey("research.max_rounds", func(c *config.Config) *int { return &c.Research.MaxRounds }),
	"research.max_searches":    intKey("research.max_searches", func(c *config.Config) *int { return &c.Research.MaxSearches }),
	"research.overflow_policy": stringKey(func(c *config.Config) *string { return &c.Research.OverflowPolicy }),
	"research.token_budget": {
		get: func(c *config.Config) string { return strconv.FormatInt(c.Research.TokenBudget, 10) },
		set: func(c *config.Config, value string) error {
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for research.token_budget: %w", err)
			}
			c.Research.TokenBudget = n
			return nil
		},
	},

	"timeouts.generate":  durationKey("timeouts.generate", func(c *config.Config) *time.Duration { return &c.Timeouts.Generate }),
	"timeouts.search":    durationKey("timeouts.search", func(c *config.Config) *time.Duration { return &c.Timeouts.Search }),
	"timeouts.worker":    durationKey("timeouts.worker", func(c *config.Config) *time.Duration { return &c.Timeouts.Worker }),
	"timeouts.run":       durationKey("timeouts.run", func(c *config.Config) *time.Duration { return &c.Timeouts.Run }),
	"timeouts.synthesis": durationKey("timeouts.synthesis", func(c *config.Config) *time.Duration { return &c.Timeouts.Synthesis }),

	"output.dir":       stringKey(func(c *config.Config) *string { return &c.Output.Dir }),
	"output.archive":   boolKey("output.archive", func(c *config.Config) *bool { return &c.Output.Archive }),
	"tui.refresh_rate": durationKey("tui.refresh_rate", func(c *config.Config) *time.Duration { return &c.TUI.RefreshRate }),
	"metrics.addr":     stringKey(func(c *config.Config) *string { return &c.Metrics.Addr }),
}

// displayAllConfig prints all configuration values, sorted by key.
func displayAllConfig(w io.Writer, cfg *config.Config) {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, configKeys[k].get(cfg))
	}
}

// displayKeySource tells where the Anthropic API key comes from, since the
// environment overrides anthropic.api_key.
func displayKeySource(w io.Writer, cfg *config.Config) {
	if cfg.Anthropic.UseBedrock {
		fmt.Fprintln(w, "\nAnthropic credentials: AWS Bedrock")
		return
	}
	fmt.Fprintf(w, "\nAnthropic API key source: %s\n", config.GetAPIKeySource(cfg))
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
	return k.get(cfg), nil
}

// setConfigValue sets a configuration value by dot-notation key. The result
// must still pass validation.
func setConfigValue(cfg *config.Config, key, value string) error {
	k, ok := configKeys[strings.ToLower(key)]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	if err := k.set(cfg, value); err != nil {
		return err
	}
	return cfg.Validate()
}
