package cli

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/store"
)

func newDataCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Manage historical bars",
		Long: `Import, generate, export and list the daily bars backtests read.

Bars can be written to the SQLite database or to yearly Parquet files under
the configured data directory.`,
	}

	cmd.AddCommand(newDataImportCmd(app))
	cmd.AddCommand(newDataSynthCmd(app))
	cmd.AddCommand(newDataExportCmd(app))
	cmd.AddCommand(newDataListCmd(app))

	return cmd
}

func newDataImportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.csv>...",
		Short: "Import daily bars from CSV files",
		Long: `Import date,open,high,low,close,volume CSV files. The symbol defaults to
the file name without its extension.`,
		Example: `  strategylab data import AAPL.csv MSFT.csv
  strategylab data import prices.csv --symbol TEST --to parquet`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			ctx = logging.WithLogger(ctx, app.Logger)

			symbol, _ := cmd.Flags().GetString("symbol")
			target, _ := cmd.Flags().GetString("to")
			if symbol != "" && len(args) > 1 {
				return errors.NewValidationError("symbol", symbol, "only valid with a single file")
			}

			dest, err := app.BarStore(target)
			if err != nil {
				return err
			}

			imported := make(map[string]int, len(args))
			for _, path := range args {
				sym := strings.ToUpper(strings.TrimSpace(symbol))
				if sym == "" {
					sym = symbolFromPath(path)
				}

				bars, err := store.LoadCSVFile(path, sym)
				if err != nil {
					return err
				}
				if err := dest.SaveBars(ctx, sym, bars); err != nil {
					return err
				}
				imported[sym] = len(bars)
				app.Logger.Info().Str("symbol", sym).Str("file", path).Int("bars", len(bars)).Msg("Bars imported")

				if !output.IsJSON() {
					output.Success("✓ %s: %d bars from %s", sym, len(bars), path)
				}
			}

			if output.IsJSON() {
				return output.JSON(imported)
			}
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "symbol for a single file (default: file name)")
	cmd.Flags().String("to", "sqlite", "destination: sqlite or parquet")

	return cmd
}

func newDataSynthCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Generate seeded synthetic bars",
		Long: `Generate weekday bars from a geometric random walk and store them. The same
seed, symbols and range always give the same bars.`,
		Example: `  strategylab data synth -s TEST,DEMO --start 2022-01-01 --end 2023-12-31 --seed 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			ctx = logging.WithLogger(ctx, app.Logger)

			symbols, _ := cmd.Flags().GetStringSlice("symbols")
			symbols = normalizeSymbols(symbols)
			if len(symbols) == 0 {
				return errors.NewValidationError("symbols", nil, "at least one symbol is required")
			}
			from, to, err := dateRangeFromFlags(cmd)
			if err != nil {
				return err
			}
			seed, _ := cmd.Flags().GetInt64("seed")
			if seed == 0 {
				seed = app.Config.Storage.SyntheticSeed
			}
			target, _ := cmd.Flags().GetString("to")

			dest, err := app.BarStore(target)
			if err != nil {
				return err
			}

			gen := store.NewSyntheticProvider(rand.New(rand.NewSource(seed)))
			if cmd.Flags().Changed("start-price") {
				gen.StartPrice, _ = cmd.Flags().GetFloat64("start-price")
			}
			if cmd.Flags().Changed("drift") {
				gen.Drift, _ = cmd.Flags().GetFloat64("drift")
			}
			if cmd.Flags().Changed("volatility") {
				gen.Volatility, _ = cmd.Flags().GetFloat64("volatility")
			}

			generated := make(map[string]int, len(symbols))
			for _, sym := range symbols {
				bars, err := gen.Bars(ctx, sym, from, to)
				if err != nil {
					return err
				}
				if err := dest.SaveBars(ctx, sym, bars); err != nil {
					return err
				}
				generated[sym] = len(bars)
				if !output.IsJSON() {
					output.Success("✓ %s: %d bars", sym, len(bars))
				}
			}

			if output.IsJSON() {
				return output.JSON(generated)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceP("symbols", "s", nil, "symbols to generate (comma separated)")
	cmd.Flags().String("start", "", "first day, YYYY-MM-DD (default: one year before end)")
	cmd.Flags().String("end", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().Int64("seed", 0, "random seed (default from config)")
	cmd.Flags().Float64("start-price", 100, "first close")
	cmd.Flags().Float64("drift", 0.08, "annualized drift")
	cmd.Flags().Float64("volatility", 0.25, "annualized volatility")
	cmd.Flags().String("to", "sqlite", "destination: sqlite or parquet")

	return cmd
}

func newDataExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export <symbol>",
		Short:   "Write stored bars for a symbol to CSV",
		Example: `  strategylab data export AAPL --start 2023-01-01 --out aapl.csv`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			ctx = logging.WithLogger(ctx, app.Logger)

			symbol := strings.ToUpper(args[0])
			from, to, err := dateRangeFromFlags(cmd)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			provider, err := app.Provider(source, 0)
			if err != nil {
				return err
			}
			bars, err := provider.Bars(ctx, symbol, from, to)
			if err != nil {
				return err
			}

			path, _ := cmd.Flags().GetString("out")
			if path == "" || path == "-" {
				return store.WriteCSVBars(cmd.OutOrStdout(), bars)
			}
			if err := writeCSVFile(path, func(f *os.File) error { return store.WriteCSVBars(f, bars) }); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "file": path, "bars": len(bars)})
			}
			output.Success("✓ Wrote %d %s bars to %s", len(bars), symbol, path)
			return nil
		},
	}

	cmd.Flags().String("start", "", "first day, YYYY-MM-DD (default: one year before end)")
	cmd.Flags().String("end", "", "last day, YYYY-MM-DD (default: today)")
	cmd.Flags().String("source", "", "bar source: sqlite, parquet or csv (default from config)")
	cmd.Flags().StringP("out", "o", "", "output file (default: stdout)")

	return cmd
}

func newDataListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List symbols stored in the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.Store()
			if err != nil {
				return err
			}
			coverage, err := db.Coverage(ctx)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(coverage)
			}
			if len(coverage) == 0 {
				output.Info("No bars stored. Use 'strategylab data import' or 'strategylab data synth'.")
				return nil
			}

			table := NewTable(output, "Symbol", "First", "Last", "Bars")
			for _, c := range coverage {
				table.AddRow(c.Symbol, FormatDate(c.First), FormatDate(c.Last), fmt.Sprintf("%d", c.Bars))
			}
			table.Render()
			return nil
		},
	}
}
