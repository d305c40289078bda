package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/store"
)

func newRunsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored backtests and optimizations",
		Long:  "List, show, export, compare and delete runs stored by backtest and optimize.",
	}

	cmd.AddCommand(newRunsListCmd(app))
	cmd.AddCommand(newRunsShowCmd(app))
	cmd.AddCommand(newRunsDeleteCmd(app))
	cmd.AddCommand(newRunsExportCmd(app))
	cmd.AddCommand(newRunsCompareCmd(app))
	cmd.AddCommand(newRunsOptimizationCmd(app))

	return cmd
}

func newRunsListCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored backtests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			filter := store.RunFilter{}
			filter.Strategy, _ = cmd.Flags().GetString("strategy")
			filter.Limit, _ = cmd.Flags().GetInt("limit")
			if since, _ := cmd.Flags().GetString("since"); since != "" {
				t, err := parseDate("since", since)
				if err != nil {
					return err
				}
				filter.Since = t
			}

			db, err := app.Store()
			if err != nil {
				return err
			}
			runs, err := db.ListRuns(ctx, filter)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(runs)
			}
			if len(runs) == 0 {
				output.Info("No stored runs")
				return nil
			}

			table := NewTable(output, "Run", "Created", "Strategy", "Parameters", "Symbols", "Return", "Sharpe", "Max DD", "Trades")
			for _, r := range runs {
				table.AddRow(
					r.RunID,
					FormatDateTime(r.CreatedAt),
					r.Strategy,
					TruncateString(orDash(r.Parameters), 30),
					TruncateString(fmt.Sprintf("%v", r.Symbols), 24),
					output.FormatPercent(r.TotalReturn),
					FormatRatio(r.SharpeRatio),
					fmt.Sprintf("%.2f%%", r.MaxDrawdown),
					fmt.Sprintf("%d", r.TotalTrades),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().String("strategy", "", "only runs of this strategy")
	cmd.Flags().String("since", "", "only runs created on or after YYYY-MM-DD")
	cmd.Flags().Int("limit", 20, "maximum number of runs (0 for all)")

	return cmd
}

func newRunsShowCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored backtest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.Store()
			if err != nil {
				return err
			}
			result, err := db.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			chart, _ := cmd.Flags().GetBool("chart")
			trades, _ := cmd.Flags().GetInt("trades")
			displayResult(output, result, chart, trades)
			output.Dim("Run %s, simulated %s in %s", result.RunID, FormatDateTime(result.StartedAt), FormatDuration(result.Duration))
			return nil
		},
	}

	cmd.Flags().Bool("chart", false, "draw the equity curve")
	cmd.Flags().Int("trades", 10, "number of most recent trades to list (0 for none)")

	return cmd
}

func newRunsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <run-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a stored backtest",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.Store()
			if err != nil {
				return err
			}
			if err := db.DeleteRun(ctx, args[0]); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"deleted": args[0]})
			}
			output.Success("✓ Deleted run %s", args[0])
			return nil
		},
	}
}

func newRunsExportCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "export <run-id>",
		Short:   "Write a stored run's trades and equity curve to CSV",
		Example: `  strategylab runs export 3f2c... --trades trades.csv --equity equity.csv`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			tradesPath, _ := cmd.Flags().GetString("trades")
			equityPath, _ := cmd.Flags().GetString("equity")
			if tradesPath == "" && equityPath == "" {
				return fmt.Errorf("give --trades, --equity or both")
			}

			db, err := app.Store()
			if err != nil {
				return err
			}
			result, err := db.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			if err := exportResult(result, tradesPath, equityPath); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"run_id":        result.RunID,
					"trades_file":   tradesPath,
					"equity_file":   equityPath,
					"trades":        len(result.Trades),
					"equity_points": len(result.EquityCurve),
				})
			}
			if tradesPath != "" {
				output.Success("✓ Wrote %d trades to %s", len(result.Trades), tradesPath)
			}
			if equityPath != "" {
				output.Success("✓ Wrote %d equity points to %s", len(result.EquityCurve), equityPath)
			}
			return nil
		},
	}

	cmd.Flags().String("trades", "", "trades CSV file")
	cmd.Flags().String("equity", "", "equity curve CSV file")

	return cmd
}

func newRunsCompareCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "compare <run-id> <run-id>...",
		Short: "Compare stored backtests side by side, ranked by Sharpe",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.Store()
			if err != nil {
				return err
			}
			results := make([]*backtest.Result, 0, len(args))
			for _, id := range args {
				r, err := db.GetRun(ctx, id)
				if err != nil {
					return err
				}
				results = append(results, r)
			}

			rows := backtest.CompareResults(results)
			if output.IsJSON() {
				return output.JSON(rows)
			}

			table := NewTable(output, "Run", "Parameters", "Return", "Annualized", "Win Rate", "Max DD", "Sharpe", "PF", "Trades")
			for _, c := range rows {
				table.AddRow(
					c.RunID,
					TruncateString(orDash(c.Parameters), 30),
					output.FormatPercent(c.TotalReturn),
					FormatPercent(c.AnnualizedReturn),
					fmt.Sprintf("%.1f%%", c.WinRate),
					fmt.Sprintf("%.2f%%", c.MaxDrawdown),
					FormatRatio(c.SharpeRatio),
					FormatRatio(c.ProfitFactor),
					fmt.Sprintf("%d", c.TotalTrades),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newRunsOptimizationCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimization <id>",
		Short: "Show a stored optimization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			db, err := app.Store()
			if err != nil {
				return err
			}
			result, err := db.GetOptimization(ctx, args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}
			top, _ := cmd.Flags().GetInt("top")
			displayOptimization(output, result, top)
			return nil
		},
	}

	cmd.Flags().Int("top", 10, "number of ranked combinations to show")

	return cmd
}
