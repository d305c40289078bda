package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/spf13/cobra"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/models"
	"strategy-lab/internal/store"
)

func newBacktestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Simulate the strategy over historical bars",
		Long: `Run a day-by-day simulation of the SMA/RSI crossover strategy.

Each position carries a stop-loss and take-profit bracket. Open positions are
closed at the last close of the range. The completed run is stored and can be
inspected later with 'strategylab runs show <id>'.`,
		Example: `  strategylab backtest -s AAPL,MSFT --start 2023-01-01 --end 2023-12-31
  strategylab backtest -s AAPL -p short_period=5 -p long_period=30 --chart
  strategylab backtest -s TEST --source synthetic --seed 7 --trades-csv trades.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ctx = logging.WithLogger(ctx, app.Logger)

			cfg, err := app.runConfig(cmd)
			if err != nil {
				return err
			}
			strategy, err := strategyFromFlags(cmd)
			if err != nil {
				return err
			}
			provider, err := app.providerFromFlags(cmd)
			if err != nil {
				return err
			}

			result, err := app.Engine().Run(ctx, cfg, strategy, provider)
			if err != nil {
				return err
			}

			save, _ := cmd.Flags().GetBool("save")
			if save {
				db, err := app.Store()
				if err != nil {
					return err
				}
				if err := db.SaveRun(ctx, result); err != nil {
					return err
				}
			}

			tradesPath, _ := cmd.Flags().GetString("trades-csv")
			equityPath, _ := cmd.Flags().GetString("equity-csv")
			if err := exportResult(result, tradesPath, equityPath); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			chart, _ := cmd.Flags().GetBool("chart")
			showTrades, _ := cmd.Flags().GetInt("trades")
			displayResult(output, result, chart, showTrades)
			if save {
				output.Dim("Saved as run %s", result.RunID)
			}
			return nil
		},
	}

	addRunFlags(cmd)
	cmd.Flags().Bool("save", true, "store the run in the database")
	cmd.Flags().Bool("chart", false, "draw the equity curve")
	cmd.Flags().Int("trades", 10, "number of most recent trades to list (0 for none)")
	cmd.Flags().String("trades-csv", "", "write closed trades to this CSV file")
	cmd.Flags().String("equity-csv", "", "write the equity curve to this CSV file")

	return cmd
}

func exportResult(result *backtest.Result, tradesPath, equityPath string) error {
	if tradesPath != "" {
		if err := writeCSVFile(tradesPath, func(f *os.File) error { return store.WriteTradesCSV(f, result.Trades) }); err != nil {
			return fmt.Errorf("exporting trades: %w", err)
		}
	}
	if equityPath != "" {
		if err := writeCSVFile(equityPath, func(f *os.File) error { return store.WriteEquityCSV(f, result.EquityCurve) }); err != nil {
			return fmt.Errorf("exporting equity curve: %w", err)
		}
	}
	return nil
}

func writeCSVFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func displayResult(output *Output, result *backtest.Result, chart bool, recentTrades int) {
	r := result.Report
	cfg := result.Config

	output.Box(fmt.Sprintf("Backtest %s", result.Strategy.Name), []string{
		fmt.Sprintf("Period:        %s to %s (%d trading days)", FormatDate(cfg.StartDate), FormatDate(cfg.EndDate), r.TradingDays),
		fmt.Sprintf("Symbols:       %v", cfg.Symbols),
		fmt.Sprintf("Parameters:    %s", paramsOrDefault(result.Strategy)),
		fmt.Sprintf("Capital:       %s -> %s", FormatCurrency(r.InitialCapital), FormatCurrency(r.FinalEquity)),
		fmt.Sprintf("Total return:  %s (annualized %s)", output.FormatPercent(r.TotalReturnPercent), FormatPercent(r.AnnualizedReturn)),
		fmt.Sprintf("Max drawdown:  %s (%.2f%%)", FormatCurrency(r.MaxDrawdown), r.MaxDrawdownPercent),
		fmt.Sprintf("Sharpe:        %s  Sortino: %s  Calmar: %s", FormatRatio(r.SharpeRatio), FormatRatio(r.SortinoRatio), FormatRatio(r.CalmarRatio)),
		fmt.Sprintf("Volatility:    %.2f%%", r.Volatility*100),
	})
	output.Println()

	output.Bold("Trades")
	output.Printf("  Total:          %d (%d won, %d lost, win rate %.1f%%)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades, r.WinRate)
	output.Printf("  Average win:    %s   Average loss: %s\n", FormatCurrency(r.AverageWin), FormatCurrency(r.AverageLoss))
	output.Printf("  Largest win:    %s   Largest loss: %s\n", FormatCurrency(r.LargestWin), FormatCurrency(r.LargestLoss))
	output.Printf("  Profit factor:  %s\n", FormatRatio(r.ProfitFactor))
	output.Printf("  Avg holding:    %.1f days\n", r.AverageHoldingDays)
	output.Printf("  Streaks:        %d wins, %d losses\n", r.Streaks.MaxWinStreak, r.Streaks.MaxLossStreak)
	output.Printf("  Commission:     %s\n", FormatCurrency(r.TotalCommission))
	if len(result.Trades) > 0 {
		output.Printf("  Exits:          %s\n", exitBreakdown(result.Trades))
	}
	output.Println()

	if recentTrades > 0 && len(result.Trades) > 0 {
		displayTrades(output, result.Trades, recentTrades)
		output.Println()
	}

	if len(r.MonthlyReturns) > 0 {
		table := NewTable(output, "Month", "Start", "End", "Return")
		for _, m := range r.MonthlyReturns {
			table.AddRow(m.Month, FormatCurrency(m.StartEquity), FormatCurrency(m.EndEquity), output.FormatPercent(m.ReturnPercent))
		}
		table.Render()
		output.Println()
	}

	if chart {
		output.Println(result.EquityCurveASCII(60, 12))
		output.Println()
	}
}

func displayTrades(output *Output, trades []models.ClosedTrade, n int) {
	from := 0
	if len(trades) > n {
		from = len(trades) - n
		output.Dim("Last %d of %d trades", n, len(trades))
	}

	table := NewTable(output, "Symbol", "Entry", "Exit", "Qty", "Entry Px", "Exit Px", "P&L", "Days", "Reason")
	for _, t := range trades[from:] {
		table.AddRow(
			t.Symbol,
			FormatDate(t.EntryDate),
			FormatDate(t.ExitDate),
			FormatQuantity(t.Quantity),
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			output.FormatPnL(t.Profit),
			fmt.Sprintf("%d", t.HoldingDays),
			string(t.ExitReason),
		)
	}
	table.Render()
}

func exitBreakdown(trades []models.ClosedTrade) string {
	counts := make(map[models.ExitReason]int)
	for _, t := range trades {
		counts[t.ExitReason]++
	}
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)

	s := ""
	for i, reason := range reasons {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s %d", reason, counts[models.ExitReason(reason)])
	}
	return s
}

func paramsOrDefault(s backtest.Strategy) string {
	if key := s.Key(); key != "" {
		return key
	}
	return "defaults"
}
