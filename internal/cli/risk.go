package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"strategy-lab/internal/analysis/indicators"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
	"strategy-lab/internal/risk"
)

func newRiskCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Position sizing and risk analysis",
		Long:  "Size positions against a risk budget, recommend stop-losses and summarize portfolio risk.",
	}

	cmd.AddCommand(newRiskSizeCmd(app))
	cmd.AddCommand(newRiskStopLossCmd(app))
	cmd.AddCommand(newRiskPortfolioCmd(app))

	return cmd
}

func newRiskSizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "size",
		Short: "Recommend a share count for a trade",
		Long: `Convert a risk budget into whole shares.

The budget is a percentage of the portfolio scaled by risk tolerance. The
share count is adjusted for volatility, capped at the maximum position size
and reduced when the trade is highly correlated with existing holdings.`,
		Example: `  strategylab risk size --entry 100 --stop 95 --portfolio 100000
  strategylab risk size --entry 50 --stop 47 --portfolio 250000 --tolerance high --volatility 0.35`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			req := risk.SizingRequest{
				RiskPerTradePercent: app.Config.Risk.RiskPerTradePercent,
				Tolerance:           risk.Tolerance(app.Config.Risk.Tolerance),
			}
			req.EntryPrice, _ = cmd.Flags().GetFloat64("entry")
			req.StopPrice, _ = cmd.Flags().GetFloat64("stop")
			req.PortfolioValue, _ = cmd.Flags().GetFloat64("portfolio")
			req.Correlation, _ = cmd.Flags().GetFloat64("correlation")
			if cmd.Flags().Changed("risk-percent") {
				req.RiskPerTradePercent, _ = cmd.Flags().GetFloat64("risk-percent")
			}
			if cmd.Flags().Changed("tolerance") {
				t, _ := cmd.Flags().GetString("tolerance")
				req.Tolerance = risk.Tolerance(t)
			}
			if tol, ok := risk.ParseTolerance(string(req.Tolerance)); ok {
				req.Tolerance = tol
			}
			if err := app.volatilityFromFlags(ctx, cmd, &req.Volatility); err != nil {
				return err
			}

			res := app.Config.RiskLimits().SizePosition(req)
			if output.IsJSON() {
				return output.JSON(res)
			}

			output.Box("Position size", []string{
				fmt.Sprintf("Shares:          %s", output.BoldText(FormatQuantity(res.Shares))),
				fmt.Sprintf("Position value:  %s (%.2f%% of portfolio)", FormatCurrency(res.PositionValue), res.PositionPercent),
				fmt.Sprintf("Risk budget:     %s", FormatCurrency(res.RiskAmount)),
				fmt.Sprintf("Risk at stop:    %.2f%% of portfolio", res.RiskPercent),
				fmt.Sprintf("Base shares:     %.2f (volatility factor %.2f)", res.BaseShares, res.VolatilityFactor),
			})
			for _, a := range res.Adjustments {
				output.Info("  • %s", a)
			}
			for _, w := range res.Warnings {
				output.Warning("  ⚠ %s", w)
			}
			return nil
		},
	}

	cmd.Flags().Float64("entry", 0, "entry price")
	cmd.Flags().Float64("stop", 0, "stop-loss price")
	cmd.Flags().Float64("portfolio", 0, "portfolio value")
	cmd.Flags().Float64("risk-percent", 0, "capital at risk per trade in percent (default from config)")
	cmd.Flags().String("tolerance", "", "low, medium or high (default from config)")
	cmd.Flags().Float64("volatility", 0, "annualized volatility, e.g. 0.25 (default: measured from --symbol bars, else unknown)")
	cmd.Flags().String("symbol", "", "measure volatility from this symbol's recent bars")
	cmd.Flags().String("source", "", "bar source for --symbol (default from config)")
	cmd.Flags().Float64("correlation", 0, "correlation with existing holdings")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("stop")
	_ = cmd.MarkFlagRequired("portfolio")

	return cmd
}

func newRiskStopLossCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stoploss",
		Short: "Recommend a stop-loss for an open position",
		Long: `Pick a stop from the position's unrealized P&L: trail winners, move small
gains to breakeven, keep small losses tight and flag large losses for exit.`,
		Example: `  strategylab risk stoploss --entry 100 --current 130
  strategylab risk stoploss --entry 100 --current 92 --side short --volatility 0.3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			symbol, _ := cmd.Flags().GetString("symbol")
			sideStr, _ := cmd.Flags().GetString("side")
			entry, _ := cmd.Flags().GetFloat64("entry")
			current, _ := cmd.Flags().GetFloat64("current")
			qty, _ := cmd.Flags().GetFloat64("quantity")

			side, err := parseSide(sideStr)
			if err != nil {
				return err
			}
			var vol float64
			if err := app.volatilityFromFlags(ctx, cmd, &vol); err != nil {
				return err
			}

			pos := risk.PositionInfo{Symbol: strings.ToUpper(symbol), Side: side, EntryPrice: entry, Quantity: qty}
			rec := risk.RecommendStopLoss(pos, current, vol)
			if output.IsJSON() {
				return output.JSON(rec)
			}

			lines := []string{
				fmt.Sprintf("Stop price:  %s", output.BoldText(fmt.Sprintf("%.2f", rec.StopPrice))),
				fmt.Sprintf("Type:        %s", rec.Type),
				fmt.Sprintf("Urgency:     %s", output.Level(string(rec.Urgency))),
				fmt.Sprintf("P&L:         %s", output.FormatPercent(rec.PnLPercent)),
				fmt.Sprintf("Distance:    %.2f%% from current", rec.DistancePercent),
			}
			if qty > 0 && rec.Type != risk.StopNone {
				atRisk := qty * (current - rec.StopPrice)
				if side == models.SideShort {
					atRisk = -atRisk
				}
				lines = append(lines, fmt.Sprintf("At risk:     %s", FormatCurrency(atRisk)))
			}
			title := "Stop-loss"
			if pos.Symbol != "" {
				title += " " + pos.Symbol
			}
			output.Box(title, lines)
			output.Dim("%s", rec.Reasoning)
			return nil
		},
	}

	cmd.Flags().String("symbol", "", "position symbol; its recent bars give the volatility")
	cmd.Flags().String("source", "", "bar source for --symbol (default from config)")
	cmd.Flags().String("side", "long", "long or short")
	cmd.Flags().Float64("entry", 0, "entry price")
	cmd.Flags().Float64("current", 0, "current price")
	cmd.Flags().Float64("quantity", 0, "position size, to show the amount at risk")
	cmd.Flags().Float64("volatility", 0, "annualized volatility (default: measured from --symbol bars, else unknown)")
	_ = cmd.MarkFlagRequired("entry")
	_ = cmd.MarkFlagRequired("current")

	return cmd
}

func newRiskPortfolioCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Summarize portfolio risk from a stored run and current holdings",
		Long: `Measure realized risk (volatility, Sharpe, 95% VaR and expected shortfall)
from the daily P&L of a stored backtest, and exposure risk from holdings.`,
		Example: `  strategylab risk portfolio --run 3f2c... --holding AAPL=30000 --holding MSFT=20000
  strategylab risk portfolio --holding AAPL=30000 --holding MSFT=20000 --value 100000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			runID, _ := cmd.Flags().GetString("run")
			rawHoldings, _ := cmd.Flags().GetStringSlice("holding")
			value, _ := cmd.Flags().GetFloat64("value")

			parsed, err := parseAssignments("holding", rawHoldings)
			if err != nil {
				return err
			}
			holdings := make([]risk.Holding, 0, len(parsed))
			total := 0.0
			for _, raw := range rawHoldings {
				name, _, _ := strings.Cut(raw, "=")
				name = strings.TrimSpace(name)
				holdings = append(holdings, risk.Holding{Symbol: strings.ToUpper(name), Value: parsed[name]})
				total += parsed[name]
			}

			var trades []models.ClosedTrade
			if runID != "" {
				db, err := app.Store()
				if err != nil {
					return err
				}
				run, err := db.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				trades = run.Trades
				if value == 0 {
					value = run.Report.FinalEquity
				}
			}
			if value == 0 {
				value = total
			}
			if runID == "" && len(holdings) == 0 {
				return errors.NewValidationError("portfolio", nil, "give --run, --holding or both")
			}

			pr := risk.CalculatePortfolioRisk(trades, holdings, value, app.Config.Engine.RiskFreeRate)
			if output.IsJSON() {
				return output.JSON(pr)
			}

			output.Box("Portfolio risk", []string{
				fmt.Sprintf("Level:              %s", output.Level(string(pr.Level))),
				fmt.Sprintf("Portfolio value:    %s", FormatCurrency(value)),
				fmt.Sprintf("P&L days:           %d", pr.Days),
				fmt.Sprintf("Volatility:         %.2f%%", pr.Volatility*100),
				fmt.Sprintf("Sharpe:             %s", FormatRatio(pr.SharpeRatio)),
				fmt.Sprintf("95%% daily VaR:      %s", output.FormatPnL(pr.VaR95)),
				fmt.Sprintf("Expected shortfall: %s", output.FormatPnL(pr.ExpectedShortfall)),
				fmt.Sprintf("Largest holding:    %s (%.1f%%)", orDash(pr.LargestHolding), pr.ConcentrationRisk*100),
				fmt.Sprintf("Herfindahl index:   %.3f", pr.CorrelationRisk),
			})
			if len(holdings) > 0 {
				var total float64
				for _, h := range holdings {
					total += h.Value
				}
				table := NewTable(output, "Symbol", "Value", "Weight")
				for _, h := range holdings {
					table.AddRow(h.Symbol, FormatCompact(h.Value), fmt.Sprintf("%.1f%%", h.Value/total*100))
				}
				table.Render()
			}
			for _, w := range pr.Warnings {
				output.Warning("  ⚠ %s", w)
			}
			return nil
		},
	}

	cmd.Flags().String("run", "", "stored backtest whose trades give the daily P&L")
	cmd.Flags().StringSlice("holding", nil, "current holding SYMBOL=VALUE (repeatable)")
	cmd.Flags().Float64("value", 0, "portfolio value (default: run final equity, else sum of holdings)")

	return cmd
}

// volatilityWindow is the number of daily returns behind a measured volatility.
const volatilityWindow = 20

// volatilityFromFlags sets *vol from --volatility, or measures it from the
// recent bars of --symbol. With neither, *vol is left unchanged.
func (a *App) volatilityFromFlags(ctx context.Context, cmd *cobra.Command, vol *float64) error {
	if cmd.Flags().Changed("volatility") {
		*vol, _ = cmd.Flags().GetFloat64("volatility")
		return nil
	}
	symbol, _ := cmd.Flags().GetString("symbol")
	if symbol == "" {
		return nil
	}
	source, _ := cmd.Flags().GetString("source")
	measured, err := a.measureVolatility(ctx, source, strings.ToUpper(symbol), models.DayOf(time.Now()))
	if err != nil {
		return err
	}
	*vol = measured
	a.Logger.Debug().Str("symbol", symbol).Float64("volatility", measured).Msg("Volatility measured")
	return nil
}

// measureVolatility returns the annualized close-to-close volatility of the
// bars ending at asOf.
func (a *App) measureVolatility(ctx context.Context, source, symbol string, asOf time.Time) (float64, error) {
	provider, err := a.Provider(source, 0)
	if err != nil {
		return 0, err
	}
	bars, err := provider.Bars(ctx, symbol, asOf.AddDate(0, 0, -90), asOf)
	if err != nil {
		return 0, err
	}
	vol, err := indicators.Last(indicators.NewHistoricalVolatility(volatilityWindow, 365), bars)
	if err != nil {
		return 0, errors.NewDataError("volatility", symbol, fmt.Sprintf("%d bars in the last 90 days", len(bars)), err)
	}
	return vol, nil
}

func parseSide(s string) (models.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "long":
		return models.SideLong, nil
	case "short":
		return models.SideShort, nil
	}
	return "", errors.NewValidationError("side", s, "must be long or short")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
