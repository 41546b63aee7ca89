package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/weft/internal/outerprod"
)

// Config represents the weft configuration file (~/.config/weft/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	// Execution defaults
	Threads *int64 `yaml:"threads"`

	// Blocking overrides
	L2CacheBytes   *int64 `yaml:"l2_cache_bytes"`
	DenseTileEdge  *int64 `yaml:"dense_tile_edge"`
	RowReuseFactor *int64 `yaml:"row_reuse_factor"`
	MinColBlock    *int64 `yaml:"min_col_block"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "weft", "config.yaml")
}

// applyBenchConfig applies config file defaults to bench command variables
// when the corresponding CLI flag was not explicitly set.
func applyBenchConfig(c *cli.Command, cfg Config, threads *int64) {
	if cfg.Threads != nil && !c.IsSet("threads") {
		*threads = *cfg.Threads
	}
}

// tuningFromConfig builds the blocking parameters, starting from the
// defaults and applying any config overrides.
func tuningFromConfig(cfg Config) outerprod.Tuning {
	tn := outerprod.DefaultTuning()
	if cfg.L2CacheBytes != nil {
		tn.L2CacheBytes = int(*cfg.L2CacheBytes)
	}
	if cfg.DenseTileEdge != nil {
		tn.DenseTileEdge = int(*cfg.DenseTileEdge)
	}
	if cfg.RowReuseFactor != nil {
		tn.RowReuseFactor = int(*cfg.RowReuseFactor)
	}
	if cfg.MinColBlock != nil {
		tn.MinColBlock = int(*cfg.MinColBlock)
	}
	return tn
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
