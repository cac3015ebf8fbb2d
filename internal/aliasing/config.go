// Package aliasing provides pattern-based row-key renaming for the DSL
// `rename` transform (see internal/dsl).
//
// Example configuration (.rdatacore.yaml):
//
//	rename_rules:
//	  - source: "items_{index}_sku"
//	    target: "line_items.{index}.sku"
//
// This renames "items_0_sku" -> "line_items.0.sku" on every row processed by
// a workflow that references the rule.
package aliasing

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/r3data-core/rdatacore/internal/config"
)

type (
	// RenameRule defines a pattern-based row-key rename rule.
	//
	// Rules are evaluated in order; first match wins.
	// Pattern syntax:
	//   - {variable} captures any characters except "."
	//   - {variable*} captures any characters including "." (for nested paths)
	//   - Literal characters match exactly
	RenameRule struct {
		Source string `yaml:"source"`
		Target string `yaml:"target"`
	}

	// Config holds row-key rename rules loaded from .rdatacore.yaml.
	Config struct {
		//nolint:tagliatelle // snake_case is intentional for YAML config files
		RenameRules []RenameRule `yaml:"rename_rules"`
	}
)

const (
	// DefaultConfigPath is the default location for the rename-rule config file.
	DefaultConfigPath = ".rdatacore.yaml"

	// ConfigPathEnvVar is the environment variable name for a custom config path.
	ConfigPathEnvVar = "RDATACORE_CONFIG_PATH"
)

// LoadConfig loads rename rules from a YAML file at the given path.
//
// Behavior:
//   - Returns empty config (not error) if file doesn't exist - rules are optional
//   - Returns empty config + logs warning if YAML is invalid (graceful degradation)
//   - Returns populated config on success
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		RenameRules: []RenameRule{},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("config file not found, continuing without rename rules",
				slog.String("path", path))

			return cfg, nil
		}

		slog.Warn("failed to read config file, continuing without rename rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return cfg, nil
	}

	if len(data) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("failed to parse config file, continuing without rename rules",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return &Config{RenameRules: []RenameRule{}}, nil
	}

	if cfg.RenameRules == nil {
		cfg.RenameRules = []RenameRule{}
	}

	return cfg, nil
}

// LoadConfigFromEnv loads config from the path specified in RDATACORE_CONFIG_PATH
// environment variable. Falls back to ".rdatacore.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}
