// Package config provides configuration management for strategy-lab.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/metrics"
	"strategy-lab/internal/optimizer"
	"strategy-lab/internal/risk"
)

// EnvPrefix prefixes environment overrides, e.g. STRATEGYLAB_ENGINE_SLIPPAGE.
const EnvPrefix = "STRATEGYLAB"

// Config holds all application configuration.
type Config struct {
	Engine    EngineConfig      `mapstructure:"engine"`
	Limits    LimitsConfig      `mapstructure:"limits"`
	Optimizer OptimizerConfig   `mapstructure:"optimizer"`
	Risk      RiskConfig        `mapstructure:"risk"`
	Storage   StorageConfig     `mapstructure:"storage"`
	Logging   logging.LogConfig `mapstructure:"logging"`

	// Path is the file the configuration was read from.
	Path string `mapstructure:"-"`
}

// EngineConfig holds simulation defaults. Commission is a flat amount per
// fill and slippage a fraction of price.
type EngineConfig struct {
	RiskFreeRate     float64 `mapstructure:"risk_free_rate"`
	MinPositionValue float64 `mapstructure:"min_position_value"`
	InitialCapital   float64 `mapstructure:"initial_capital"`
	Commission       float64 `mapstructure:"commission"`
	Slippage         float64 `mapstructure:"slippage"`
	MaxPositions     int     `mapstructure:"max_positions"`
}

// LimitsConfig bounds simulated ranges and grid sizes.
type LimitsConfig struct {
	RunMinDays          int `mapstructure:"run_min_days"`
	RunMaxDays          int `mapstructure:"run_max_days"`
	OptimizationMinDays int `mapstructure:"optimization_min_days"`
	OptimizationMaxDays int `mapstructure:"optimization_max_days"`
	MaxCombinations     int `mapstructure:"max_combinations"`
}

// OptimizerConfig holds optimizer settings.
type OptimizerConfig struct {
	Workers   int    `mapstructure:"workers"`
	Objective string `mapstructure:"objective"`
}

// RiskConfig holds position-sizing defaults.
type RiskConfig struct {
	RiskPerTradePercent  float64 `mapstructure:"risk_per_trade_percent"`
	Tolerance            string  `mapstructure:"tolerance"`
	MaxPositionPercent   float64 `mapstructure:"max_position_percent"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	CorrelationReduction float64 `mapstructure:"correlation_reduction"`
}

// StorageConfig selects where bars come from and where results go.
// Empty paths resolve next to the config file.
type StorageConfig struct {
	Source        string `mapstructure:"source"` // sqlite, parquet, csv, synthetic
	DBPath        string `mapstructure:"db_path"`
	DataDir       string `mapstructure:"data_dir"`
	SyntheticSeed int64  `mapstructure:"synthetic_seed"`
}

// Bar sources accepted by StorageConfig.Source.
const (
	SourceSQLite    = "sqlite"
	SourceParquet   = "parquet"
	SourceCSV       = "csv"
	SourceSynthetic = "synthetic"
)

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "strategy-lab")
	}
	return filepath.Join(home, ".config", "strategy-lab")
}

// ResolvePath returns path, or the default config.toml when it is empty.
func ResolvePath(path string) string {
	if path == "" {
		return filepath.Join(DefaultConfigDir(), "config.toml")
	}
	return path
}

// Load reads the TOML file at path (the default location when empty),
// writing a commented template first if it does not exist. Environment
// variables override file values.
func Load(path string) (*Config, error) {
	path = ResolvePath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeTemplate(path); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	cfg.Path = path
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	// Defaults always decode
	_ = v.Unmarshal(cfg)
	cfg.resolvePaths(dir)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.risk_free_rate", metrics.DefaultRiskFreeRate)
	v.SetDefault("engine.min_position_value", backtest.DefaultMinPositionValue)
	v.SetDefault("engine.initial_capital", 100000.0)
	v.SetDefault("engine.commission", 1.0)
	v.SetDefault("engine.slippage", 0.001)
	v.SetDefault("engine.max_positions", 5)

	run := backtest.DefaultRunLimits()
	opt := backtest.DefaultOptimizationLimits()
	v.SetDefault("limits.run_min_days", run.MinDays)
	v.SetDefault("limits.run_max_days", run.MaxDays)
	v.SetDefault("limits.optimization_min_days", opt.MinDays)
	v.SetDefault("limits.optimization_max_days", opt.MaxDays)
	v.SetDefault("limits.max_combinations", optimizer.DefaultMaxCombinations)

	v.SetDefault("optimizer.workers", 4)
	v.SetDefault("optimizer.objective", string(metrics.ObjectiveSharpe))

	rl := risk.DefaultLimits()
	v.SetDefault("risk.risk_per_trade_percent", 2.0)
	v.SetDefault("risk.tolerance", "medium")
	v.SetDefault("risk.max_position_percent", rl.MaxPositionPercent)
	v.SetDefault("risk.correlation_threshold", rl.CorrelationThreshold)
	v.SetDefault("risk.correlation_reduction", rl.CorrelationReduction)

	v.SetDefault("storage.source", SourceSQLite)
	v.SetDefault("storage.db_path", "")
	v.SetDefault("storage.data_dir", "")
	v.SetDefault("storage.synthetic_seed", 1)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)
}

func (c *Config) resolvePaths(dir string) {
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = filepath.Join(dir, "strategylab.db")
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = filepath.Join(dir, "data")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = filepath.Join(dir, "logs", "strategylab.log")
	}
}

// Validate checks every section and reports the first problem as a
// ValidationError.
func (c *Config) Validate() error {
	e := c.Engine
	switch {
	case e.RiskFreeRate < 0 || e.RiskFreeRate >= 1:
		return errors.NewValidationError("engine.risk_free_rate", e.RiskFreeRate, "must be in [0, 1)")
	case e.MinPositionValue < 0:
		return errors.NewValidationError("engine.min_position_value", e.MinPositionValue, "must be non-negative")
	case !(e.InitialCapital > 0):
		return errors.NewValidationError("engine.initial_capital", e.InitialCapital, "must be positive")
	case e.Commission < 0:
		return errors.NewValidationError("engine.commission", e.Commission, "must be non-negative")
	case e.Slippage < 0 || e.Slippage >= 1:
		return errors.NewValidationError("engine.slippage", e.Slippage, "must be in [0, 1)")
	case e.MaxPositions < 1:
		return errors.NewValidationError("engine.max_positions", e.MaxPositions, "must be at least 1")
	}

	l := c.Limits
	run, opt := backtest.DefaultRunLimits(), backtest.DefaultOptimizationLimits()
	switch {
	case l.RunMinDays < run.MinDays || l.RunMinDays > run.MaxDays:
		return errors.NewValidationError("limits.run_min_days", l.RunMinDays,
			fmt.Sprintf("must be between %d and %d", run.MinDays, run.MaxDays))
	case l.RunMaxDays < l.RunMinDays || l.RunMaxDays > run.MaxDays:
		return errors.NewValidationError("limits.run_max_days", l.RunMaxDays,
			fmt.Sprintf("must be between run_min_days (%d) and %d", l.RunMinDays, run.MaxDays))
	case l.OptimizationMinDays < opt.MinDays || l.OptimizationMinDays > opt.MaxDays:
		return errors.NewValidationError("limits.optimization_min_days", l.OptimizationMinDays,
			fmt.Sprintf("must be between %d and %d", opt.MinDays, opt.MaxDays))
	case l.OptimizationMaxDays < l.OptimizationMinDays || l.OptimizationMaxDays > opt.MaxDays:
		return errors.NewValidationError("limits.optimization_max_days", l.OptimizationMaxDays,
			fmt.Sprintf("must be between optimization_min_days (%d) and %d", l.OptimizationMinDays, opt.MaxDays))
	case l.MaxCombinations < 1 || l.MaxCombinations > optimizer.DefaultMaxCombinations:
		return errors.NewValidationError("limits.max_combinations", l.MaxCombinations,
			fmt.Sprintf("must be between 1 and %d", optimizer.DefaultMaxCombinations))
	}

	if c.Optimizer.Workers < 1 {
		return errors.NewValidationError("optimizer.workers", c.Optimizer.Workers, "must be at least 1")
	}
	if _, err := metrics.ParseObjective(c.Optimizer.Objective); err != nil {
		return errors.NewValidationError("optimizer.objective", c.Optimizer.Objective, "unsupported objective")
	}

	r := c.Risk
	if _, ok := risk.ParseTolerance(r.Tolerance); !ok {
		return errors.NewValidationError("risk.tolerance", r.Tolerance, "must be low, medium or high")
	}
	switch {
	case !(r.RiskPerTradePercent > 0) || r.RiskPerTradePercent > 100:
		return errors.NewValidationError("risk.risk_per_trade_percent", r.RiskPerTradePercent, "must be in (0, 100]")
	case !(r.MaxPositionPercent > 0) || r.MaxPositionPercent > risk.MaxPositionCeiling:
		return errors.NewValidationError("risk.max_position_percent", r.MaxPositionPercent,
			fmt.Sprintf("must be in (0, %.0f]", risk.MaxPositionCeiling))
	case r.CorrelationThreshold < -1 || r.CorrelationThreshold > 1:
		return errors.NewValidationError("risk.correlation_threshold", r.CorrelationThreshold, "must be in [-1, 1]")
	case r.CorrelationReduction < 0 || r.CorrelationReduction >= 1:
		return errors.NewValidationError("risk.correlation_reduction", r.CorrelationReduction, "must be in [0, 1)")
	}

	switch c.Storage.Source {
	case SourceSQLite, SourceParquet, SourceCSV, SourceSynthetic:
	default:
		return errors.NewValidationError("storage.source", c.Storage.Source, "must be sqlite, parquet, csv or synthetic")
	}

	return nil
}

// EngineOptions returns the backtest engine settings.
func (c *Config) EngineOptions() backtest.Options {
	return backtest.Options{
		RiskFreeRate:     c.Engine.RiskFreeRate,
		MinPositionValue: c.Engine.MinPositionValue,
		Limits:           backtest.Limits{MinDays: c.Limits.RunMinDays, MaxDays: c.Limits.RunMaxDays},
	}
}

// OptimizerOptions returns the optimizer settings.
func (c *Config) OptimizerOptions() optimizer.Options {
	return optimizer.Options{
		Workers:         c.Optimizer.Workers,
		MaxCombinations: c.Limits.MaxCombinations,
		Limits:          backtest.Limits{MinDays: c.Limits.OptimizationMinDays, MaxDays: c.Limits.OptimizationMaxDays},
	}
}

// RiskLimits returns the sizing constraints.
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxPositionPercent:   c.Risk.MaxPositionPercent,
		CorrelationThreshold: c.Risk.CorrelationThreshold,
		CorrelationReduction: c.Risk.CorrelationReduction,
	}
}
