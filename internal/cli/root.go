// Package cli provides the command-line interface for strategy-lab.
package cli

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/config"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/models"
	"strategy-lab/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

const dateLayout = "2006-01-02"

// App holds the application dependencies. The store is opened on first use.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	db *store.SQLiteStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "strategylab",
		Short: "strategy-lab - backtest, optimize and size trading strategies",
		Long: `strategy-lab simulates a moving-average/RSI crossover strategy over daily
bars, searches its parameter space and sizes positions against a risk budget.

Bars come from SQLite, Parquet, CSV files or a seeded synthetic generator.
Completed runs are stored in SQLite for later inspection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			app.Config = cfg

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				cfg.Logging.Level = "debug"
			}
			app.Logger = logging.NewLoggerWithConfig(cfg.Logging)
			app.Logger.Debug().Str("config", cfg.Path).Msg("Configuration loaded")
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/strategy-lab/config.toml)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newBacktestCmd(app))
	rootCmd.AddCommand(newOptimizeCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
	rootCmd.AddCommand(newRunsCmd(app))
	rootCmd.AddCommand(newDataCmd(app))

	return rootCmd
}

// ExitCode maps an error to a process exit status: 2 for rejected input,
// 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errors.ErrConfigInvalid),
		errors.Is(err, errors.ErrInvalidStrategy),
		errors.Is(err, errors.ErrTooManyCombinations),
		errors.Is(err, errors.ErrUnsupportedObjective):
		return 2
	default:
		return 1
	}
}

// Store opens the SQLite store on first use.
func (a *App) Store() (*store.SQLiteStore, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := store.NewSQLiteStore(a.Config.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", a.Config.Storage.DBPath).Msg("SQLite store opened")
	a.db = db
	return db, nil
}

// Close releases the store if it was opened.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Engine builds a backtest engine from the configuration.
func (a *App) Engine() *backtest.Engine {
	return backtest.NewEngine(a.Config.EngineOptions(), a.Logger)
}

// Provider returns the bar source named by source, or the configured one
// when source is empty.
func (a *App) Provider(source string, seed int64) (backtest.BarProvider, error) {
	if source == "" {
		source = a.Config.Storage.Source
	}
	switch source {
	case config.SourceSQLite:
		return a.Store()
	case config.SourceParquet:
		return store.NewParquetProvider(a.Config.Storage.DataDir), nil
	case config.SourceCSV:
		return store.NewCSVProvider(a.Config.Storage.DataDir), nil
	case config.SourceSynthetic:
		if seed == 0 {
			seed = a.Config.Storage.SyntheticSeed
		}
		return store.NewSyntheticProvider(rand.New(rand.NewSource(seed))), nil
	}
	return nil, errors.NewValidationError("source", source, "must be sqlite, parquet, csv or synthetic")
}

// BarStore returns a writable bar store for the named target.
func (a *App) BarStore(target string) (store.BarStore, error) {
	switch target {
	case "", config.SourceSQLite:
		return a.Store()
	case config.SourceParquet:
		return store.NewParquetProvider(a.Config.Storage.DataDir), nil
	}
	return nil, errors.NewValidationError("to", target, "must be sqlite or parquet")
}

// addRunFlags registers the simulation flags shared by backtest and optimize.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("symbols", "s", nil, "symbols to simulate (comma separated)")
	cmd.Flags().String("start", "", "first simulated day, YYYY-MM-DD (default: one year before end)")
	cmd.Flags().String("end", "", "last simulated day, YYYY-MM-DD (default: today)")
	cmd.Flags().Float64("capital", 0, "initial capital (default from config)")
	cmd.Flags().Float64("commission", 0, "flat commission per fill (default from config)")
	cmd.Flags().Float64("slippage", 0, "slippage as a fraction of price (default from config)")
	cmd.Flags().Int("max-positions", 0, "maximum concurrent positions (default from config)")
	cmd.Flags().StringSliceP("param", "p", nil, "strategy parameter override name=value (repeatable)")
	cmd.Flags().String("source", "", "bar source: sqlite, parquet, csv or synthetic (default from config)")
	cmd.Flags().Int64("seed", 0, "seed for the synthetic source (default from config)")
	_ = cmd.MarkFlagRequired("symbols")
}

// runConfig assembles a backtest.Config from flags, falling back to the
// configured engine defaults.
func (a *App) runConfig(cmd *cobra.Command) (backtest.Config, error) {
	symbols, _ := cmd.Flags().GetStringSlice("symbols")
	start, end, err := dateRangeFromFlags(cmd)
	if err != nil {
		return backtest.Config{}, err
	}

	cfg := backtest.Config{
		StartDate:      start,
		EndDate:        end,
		InitialCapital: a.Config.Engine.InitialCapital,
		Symbols:        normalizeSymbols(symbols),
		Commission:     a.Config.Engine.Commission,
		Slippage:       a.Config.Engine.Slippage,
		MaxPositions:   a.Config.Engine.MaxPositions,
	}
	if cmd.Flags().Changed("capital") {
		cfg.InitialCapital, _ = cmd.Flags().GetFloat64("capital")
	}
	if cmd.Flags().Changed("commission") {
		cfg.Commission, _ = cmd.Flags().GetFloat64("commission")
	}
	if cmd.Flags().Changed("slippage") {
		cfg.Slippage, _ = cmd.Flags().GetFloat64("slippage")
	}
	if cmd.Flags().Changed("max-positions") {
		cfg.MaxPositions, _ = cmd.Flags().GetInt("max-positions")
	}
	return cfg, nil
}

// strategyFromFlags applies --param overrides to the default strategy.
func strategyFromFlags(cmd *cobra.Command) (backtest.Strategy, error) {
	raw, _ := cmd.Flags().GetStringSlice("param")
	overrides, err := parseAssignments("param", raw)
	if err != nil {
		return backtest.Strategy{}, err
	}
	return backtest.DefaultStrategy().With(overrides), nil
}

// dateRangeFromFlags reads --start and --end; end defaults to today and
// start to one year before end.
func dateRangeFromFlags(cmd *cobra.Command) (time.Time, time.Time, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	end := models.DayOf(time.Now())
	if endStr != "" {
		t, err := parseDate("end", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if startStr != "" {
		t, err := parseDate("start", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	return start, end, nil
}

// providerFromFlags resolves --source and --seed.
func (a *App) providerFromFlags(cmd *cobra.Command) (backtest.BarProvider, error) {
	source, _ := cmd.Flags().GetString("source")
	seed, _ := cmd.Flags().GetInt64("seed")
	return a.Provider(source, seed)
}

func parseDate(field, s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.NewValidationError(field, s, "must be a YYYY-MM-DD date")
	}
	return t, nil
}

// parseAssignments parses name=value pairs into a map of floats.
func parseAssignments(field string, pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, errors.NewValidationError(field, pair, "must be name=value")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, errors.NewValidationError(field, pair, "value must be a number")
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func symbolFromPath(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("strategy-lab v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.Config.Path})
			}
			output.Println(app.Config.Path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			// Load already validated; check again for direct callers.
			if err := app.Config.Validate(); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Initial capital:   %s\n", FormatCurrency(cfg.Engine.InitialCapital))
	output.Printf("  Commission:        %s per fill\n", FormatCurrency(cfg.Engine.Commission))
	output.Printf("  Slippage:          %.3f%%\n", cfg.Engine.Slippage*100)
	output.Printf("  Max positions:     %d\n", cfg.Engine.MaxPositions)
	output.Printf("  Min position:      %s\n", FormatCurrency(cfg.Engine.MinPositionValue))
	output.Printf("  Risk-free rate:    %.2f%%\n", cfg.Engine.RiskFreeRate*100)
	output.Println()

	output.Bold("Limits")
	output.Printf("  Backtest days:     %d-%d\n", cfg.Limits.RunMinDays, cfg.Limits.RunMaxDays)
	output.Printf("  Optimization days: %d-%d\n", cfg.Limits.OptimizationMinDays, cfg.Limits.OptimizationMaxDays)
	output.Printf("  Max combinations:  %d\n", cfg.Limits.MaxCombinations)
	output.Println()

	output.Bold("Optimizer")
	output.Printf("  Workers:           %d\n", cfg.Optimizer.Workers)
	output.Printf("  Objective:         %s\n", cfg.Optimizer.Objective)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Risk per trade:    %.2f%%\n", cfg.Risk.RiskPerTradePercent)
	output.Printf("  Tolerance:         %s\n", cfg.Risk.Tolerance)
	output.Printf("  Max position:      %.1f%%\n", cfg.Risk.MaxPositionPercent)
	output.Printf("  Correlation:       above %.2f cut by %.0f%%\n", cfg.Risk.CorrelationThreshold, cfg.Risk.CorrelationReduction*100)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Source:            %s\n", cfg.Storage.Source)
	output.Printf("  Database:          %s\n", cfg.Storage.DBPath)
	output.Printf("  Data directory:    %s\n", cfg.Storage.DataDir)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:             %s\n", cfg.Logging.Level)
	output.Printf("  File:              %s\n", fmt.Sprintf("%v (%s)", cfg.Logging.File, cfg.Logging.FilePath))
}
