package backtest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"strategy-lab/internal/metrics"
	"strategy-lab/internal/models"
)

// Result is the complete, untruncated outcome of one run.
type Result struct {
	RunID       string               `json:"run_id"`
	Strategy    Strategy             `json:"strategy"`
	Config      Config               `json:"config"`
	Report      metrics.Report       `json:"report"`
	Trades      []models.ClosedTrade `json:"trades"`
	EquityCurve []models.EquityPoint `json:"equity_curve"`
	FinalCash   float64              `json:"final_cash"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration"`
}

// EquityCurveASCII renders the equity curve as a width×height block chart.
func (r *Result) EquityCurveASCII(width, height int) string {
	if r == nil || len(r.EquityCurve) == 0 || width < 1 || height < 2 {
		return "No data to display"
	}

	minEquity := r.EquityCurve[0].Equity
	maxEquity := r.EquityCurve[0].Equity
	for _, point := range r.EquityCurve {
		if point.Equity < minEquity {
			minEquity = point.Equity
		}
		if point.Equity > maxEquity {
			maxEquity = point.Equity
		}
	}

	// Add padding
	equityRange := maxEquity - minEquity
	if equityRange == 0 {
		equityRange = 1
	}
	minEquity -= equityRange * 0.05
	maxEquity += equityRange * 0.05
	equityRange = maxEquity - minEquity

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	// Sample points to fit width
	n := len(r.EquityCurve)
	columns := width
	if n < columns {
		columns = n
	}
	for x := 0; x < columns; x++ {
		idx := x * (n - 1) / max(columns-1, 1)
		point := r.EquityCurve[idx]
		y := int((point.Equity - minEquity) / equityRange * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Equity Curve (%.0f - %.0f)\n", minEquity, maxEquity))
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	sb.WriteString(fmt.Sprintf("%s%s\n",
		r.EquityCurve[0].Date.Format("2006-01-02"),
		leftPad(r.EquityCurve[n-1].Date.Format("2006-01-02"), width+2-10)))

	return sb.String()
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// Comparison is one row of a side-by-side strategy comparison.
type Comparison struct {
	RunID            string  `json:"run_id"`
	Strategy         string  `json:"strategy"`
	Parameters       string  `json:"parameters"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	WinRate          float64 `json:"win_rate"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	TotalTrades      int     `json:"total_trades"`
	ProfitFactor     float64 `json:"profit_factor"`
}

// CompareResults summarizes results ranked by Sharpe ratio, highest first.
func CompareResults(results []*Result) []Comparison {
	comparisons := make([]Comparison, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		comparisons = append(comparisons, Comparison{
			RunID:            r.RunID,
			Strategy:         r.Strategy.Name,
			Parameters:       r.Strategy.Key(),
			TotalReturn:      r.Report.TotalReturnPercent,
			AnnualizedReturn: r.Report.AnnualizedReturn,
			WinRate:          r.Report.WinRate,
			MaxDrawdown:      r.Report.MaxDrawdownPercent,
			SharpeRatio:      r.Report.SharpeRatio,
			TotalTrades:      r.Report.TotalTrades,
			ProfitFactor:     r.Report.ProfitFactor,
		})
	}

	sort.SliceStable(comparisons, func(i, j int) bool {
		return comparisons[i].SharpeRatio > comparisons[j].SharpeRatio
	})
	return comparisons
}
