// Package metrics reduces a simulated trade list and equity curve into a
// fixed report of return, risk and consistency statistics.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
)

// Objective names a report figure the optimizer can rank by.
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveTotalReturn  Objective = "total_return"
	ObjectiveProfitFactor Objective = "profit_factor"
	ObjectiveCalmar       Objective = "calmar"
)

// Objectives lists the supported ranking objectives.
var Objectives = []Objective{ObjectiveSharpe, ObjectiveTotalReturn, ObjectiveProfitFactor, ObjectiveCalmar}

// ParseObjective resolves a user-supplied objective name.
func ParseObjective(name string) (Objective, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sharpe", "sharpe_ratio":
		return ObjectiveSharpe, nil
	case "total_return", "return":
		return ObjectiveTotalReturn, nil
	case "profit_factor":
		return ObjectiveProfitFactor, nil
	case "calmar", "calmar_ratio":
		return ObjectiveCalmar, nil
	}
	return "", errors.Wrapf(errors.ErrUnsupportedObjective, "%q", name)
}

// Options configures report computation.
type Options struct {
	RiskFreeRate float64 // annual, e.g. 0.02
}

// DefaultOptions returns a 2% annual risk-free rate.
func DefaultOptions() Options {
	return Options{RiskFreeRate: DefaultRiskFreeRate}
}

// MonthlyReturn is the equity change within one calendar month.
type MonthlyReturn struct {
	Month         string  `json:"month"` // YYYY-MM
	StartEquity   float64 `json:"start_equity"`
	EndEquity     float64 `json:"end_equity"`
	Return        float64 `json:"return"`
	ReturnPercent float64 `json:"return_percent"`
}

// Streaks holds the longest consecutive runs of winning and losing trades.
type Streaks struct {
	MaxWinStreak  int `json:"max_win_streak"`
	MaxLossStreak int `json:"max_loss_streak"`
}

// Report is the full set of derived statistics for one run.
type Report struct {
	InitialCapital     float64 `json:"initial_capital"`
	FinalEquity        float64 `json:"final_equity"`
	TradingDays        int     `json:"trading_days"`
	TotalReturn        float64 `json:"total_return"`
	TotalReturnPercent float64 `json:"total_return_percent"`
	AnnualizedReturn   float64 `json:"annualized_return"` // percent
	Volatility         float64 `json:"volatility"`        // annualized fraction
	SharpeRatio        float64 `json:"sharpe_ratio"`
	SortinoRatio       float64 `json:"sortino_ratio"`
	CalmarRatio        float64 `json:"calmar_ratio"`
	MaxDrawdown        float64 `json:"max_drawdown"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`

	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"` // percent
	AverageWin         float64 `json:"average_win"`
	AverageLoss        float64 `json:"average_loss"` // absolute value
	ProfitFactor       float64 `json:"profit_factor"`
	LargestWin         float64 `json:"largest_win"`
	LargestLoss        float64 `json:"largest_loss"` // absolute value
	AverageHoldingDays float64 `json:"average_holding_days"`
	TotalCommission    float64 `json:"total_commission"`

	MonthlyReturns []MonthlyReturn `json:"monthly_returns"`
	Streaks        Streaks         `json:"streaks"`
}

// Value returns the report figure named by objective.
func (r Report) Value(objective Objective) (float64, error) {
	switch objective {
	case ObjectiveSharpe:
		return r.SharpeRatio, nil
	case ObjectiveTotalReturn:
		return r.TotalReturnPercent, nil
	case ObjectiveProfitFactor:
		return r.ProfitFactor, nil
	case ObjectiveCalmar:
		return r.CalmarRatio, nil
	}
	return 0, errors.Wrapf(errors.ErrUnsupportedObjective, "%q", string(objective))
}

// Compute derives the report. Empty inputs give zero figures, never NaN.
func Compute(initialCapital float64, curve []models.EquityPoint, trades []models.ClosedTrade, opts Options) Report {
	report := Report{
		InitialCapital: initialCapital,
		FinalEquity:    initialCapital,
		MonthlyReturns: []MonthlyReturn{},
	}
	computeCurveStats(&report, curve, opts)
	computeTradeStats(&report, trades)
	report.Streaks = computeStreaks(trades)
	return report
}

func computeCurveStats(r *Report, curve []models.EquityPoint, opts Options) {
	if len(curve) == 0 {
		return
	}
	first, last := curve[0], curve[len(curve)-1]
	r.FinalEquity = last.Equity
	r.TradingDays = len(curve)
	r.TotalReturn = last.Equity - first.Equity
	if first.Equity > 0 {
		r.TotalReturnPercent = r.TotalReturn / first.Equity * 100
	}

	days := models.DaysBetween(first.Date, last.Date)
	if days > 0 && r.InitialCapital > 0 && last.Equity > 0 {
		r.AnnualizedReturn = finite((math.Pow(last.Equity/r.InitialCapital, PeriodsPerYear/float64(days)) - 1) * 100)
	}

	returns := DailyReturns(curve)
	r.Volatility = AnnualizedVolatility(returns)
	r.SharpeRatio = SharpeRatio(returns, opts.RiskFreeRate)
	r.SortinoRatio = SortinoRatio(returns, opts.RiskFreeRate)

	for _, p := range curve {
		r.MaxDrawdown = math.Max(r.MaxDrawdown, p.Drawdown)
		r.MaxDrawdownPercent = math.Max(r.MaxDrawdownPercent, p.DrawdownPercent)
	}
	if r.MaxDrawdownPercent > 0 {
		r.CalmarRatio = finite(r.AnnualizedReturn / r.MaxDrawdownPercent)
	}

	r.MonthlyReturns = MonthlyReturns(curve)
}

func computeTradeStats(r *Report, trades []models.ClosedTrade) {
	r.TotalTrades = len(trades)
	if len(trades) == 0 {
		return
	}

	var wins, losses []float64
	var holding int
	for _, t := range trades {
		r.TotalCommission += t.Commission
		holding += t.HoldingDays
		switch {
		case t.IsWin():
			wins = append(wins, t.Profit)
			r.LargestWin = math.Max(r.LargestWin, t.Profit)
		case t.IsLoss():
			losses = append(losses, -t.Profit)
			r.LargestLoss = math.Max(r.LargestLoss, -t.Profit)
		}
	}

	r.WinningTrades = len(wins)
	r.LosingTrades = len(losses)
	r.WinRate = float64(len(wins)) / float64(len(trades)) * 100
	r.AverageWin = Mean(wins)
	r.AverageLoss = Mean(losses)
	if r.AverageLoss > 0 {
		r.ProfitFactor = finite(r.AverageWin / r.AverageLoss)
	}
	r.AverageHoldingDays = float64(holding) / float64(len(trades))
}

// DailyReturns returns the fractional change between consecutive points.
// A point following zero or negative equity contributes 0.
func DailyReturns(curve []models.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev > 0 {
			returns[i-1] = (curve[i].Equity - prev) / prev
		}
	}
	return returns
}

// MonthlyReturns buckets the curve by calendar month in chronological order.
func MonthlyReturns(curve []models.EquityPoint) []MonthlyReturn {
	buckets := make(map[string]*MonthlyReturn)
	var order []string
	for _, p := range curve {
		key := p.Date.UTC().Format("2006-01")
		b, ok := buckets[key]
		if !ok {
			b = &MonthlyReturn{Month: key, StartEquity: p.Equity}
			buckets[key] = b
			order = append(order, key)
		}
		b.EndEquity = p.Equity
	}
	sort.Strings(order)

	out := make([]MonthlyReturn, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		b.Return = b.EndEquity - b.StartEquity
		if b.StartEquity > 0 {
			b.ReturnPercent = b.Return / b.StartEquity * 100
		}
		out = append(out, *b)
	}
	return out
}

// computeStreaks walks trades in exit order; breakeven trades end both streaks.
func computeStreaks(trades []models.ClosedTrade) Streaks {
	ordered := make([]models.ClosedTrade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExitDate.Before(ordered[j].ExitDate)
	})

	var s Streaks
	var wins, losses int
	for _, t := range ordered {
		switch {
		case t.IsWin():
			wins++
			losses = 0
		case t.IsLoss():
			losses++
			wins = 0
		default:
			wins, losses = 0, 0
		}
		if wins > s.MaxWinStreak {
			s.MaxWinStreak = wins
		}
		if losses > s.MaxLossStreak {
			s.MaxLossStreak = losses
		}
	}
	return s
}

// Summary renders the headline figures on one line.
func (r Report) Summary() string {
	return fmt.Sprintf("return %.2f%% | sharpe %.2f | max dd %.2f%% | trades %d | win rate %.1f%%",
		r.TotalReturnPercent, r.SharpeRatio, r.MaxDrawdownPercent, r.TotalTrades, r.WinRate)
}
