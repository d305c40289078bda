package risk

import (
	"fmt"
	"math"
	"sort"
	"time"

	"strategy-lab/internal/metrics"
	"strategy-lab/internal/models"
)

// Level is an overall portfolio risk rating.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Holding is the current market value of one position.
type Holding struct {
	Symbol string  `json:"symbol"`
	Value  float64 `json:"value"`
}

// PortfolioRisk summarizes realized trading risk and current exposure.
// VaR95 and ExpectedShortfall are daily P&L amounts; negative means a loss.
type PortfolioRisk struct {
	Days              int      `json:"days"`
	Volatility        float64  `json:"volatility"`
	SharpeRatio       float64  `json:"sharpe_ratio"`
	VaR95             float64  `json:"var_95"`
	ExpectedShortfall float64  `json:"expected_shortfall"`
	ConcentrationRisk float64  `json:"concentration_risk"`
	LargestHolding    string   `json:"largest_holding"`
	CorrelationRisk   float64  `json:"correlation_risk"`
	Level             Level    `json:"level"`
	Warnings          []string `json:"warnings"`
}

// CalculatePortfolioRisk aggregates realized P&L by exit day and measures
// the holdings' concentration. A non-positive portfolio value gives a zero
// report with a warning.
func CalculatePortfolioRisk(trades []models.ClosedTrade, holdings []Holding, portfolioValue, riskFreeRate float64) PortfolioRisk {
	pr := PortfolioRisk{Level: LevelLow, Warnings: []string{}}
	if !(portfolioValue > 0) {
		pr.Warnings = append(pr.Warnings, "portfolio value must be positive")
		return pr
	}

	pnl := dailyPnL(trades)
	pr.Days = len(pnl)
	returns := make([]float64, len(pnl))
	for i, p := range pnl {
		returns[i] = p / portfolioValue
	}
	pr.Volatility = metrics.AnnualizedVolatility(returns)
	pr.SharpeRatio = metrics.SharpeRatio(returns, riskFreeRate)
	pr.VaR95, pr.ExpectedShortfall = historicalVaR(pnl, 0.05)

	pr.ConcentrationRisk, pr.LargestHolding = concentration(holdings, portfolioValue)
	pr.CorrelationRisk = herfindahl(holdings)

	pr.Level, pr.Warnings = classify(pr, portfolioValue)
	return pr
}

// dailyPnL sums trade profit per exit day in date order.
func dailyPnL(trades []models.ClosedTrade) []float64 {
	byDay := make(map[time.Time]float64)
	for _, t := range trades {
		byDay[models.DayOf(t.ExitDate)] += t.Profit
	}
	days := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

// historicalVaR returns the alpha-quantile of daily P&L and the mean of the
// tail at or below it.
func historicalVaR(pnl []float64, alpha float64) (float64, float64) {
	if len(pnl) == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), pnl...)
	sort.Float64s(sorted)

	idx := int(math.Floor(alpha * float64(len(sorted))))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], metrics.Mean(sorted[:idx+1])
}

func concentration(holdings []Holding, portfolioValue float64) (float64, string) {
	var largest float64
	var symbol string
	for _, h := range holdings {
		if h.Value > largest {
			largest, symbol = h.Value, h.Symbol
		}
	}
	return largest / portfolioValue, symbol
}

// herfindahl is the sum of squared holding weights: 1 for a single holding,
// 1/n for n equal ones. With no holdings there is nothing to correlate.
func herfindahl(holdings []Holding) float64 {
	var total float64
	for _, h := range holdings {
		if h.Value > 0 {
			total += h.Value
		}
	}
	if total == 0 {
		return 0
	}
	var hhi float64
	for _, h := range holdings {
		if h.Value > 0 {
			w := h.Value / total
			hhi += w * w
		}
	}
	return hhi
}

func classify(pr PortfolioRisk, portfolioValue float64) (Level, []string) {
	warnings := []string{}
	high, medium := false, false

	switch {
	case pr.ConcentrationRisk > 0.25:
		high = true
		warnings = append(warnings, fmt.Sprintf("%s is %.0f%% of the portfolio", pr.LargestHolding, pr.ConcentrationRisk*100))
	case pr.ConcentrationRisk > 0.15:
		medium = true
	}

	if loss := -pr.VaR95 / portfolioValue; loss > 0.05 {
		high = true
		warnings = append(warnings, fmt.Sprintf("95%% daily VaR is %.1f%% of the portfolio", loss*100))
	} else if loss > 0.02 {
		medium = true
	}

	switch {
	case pr.Volatility > 0.4:
		high = true
		warnings = append(warnings, fmt.Sprintf("annualized volatility %.0f%%", pr.Volatility*100))
	case pr.Volatility > 0.2:
		medium = true
	}

	if pr.CorrelationRisk > 0.5 {
		medium = true
		warnings = append(warnings, "holdings are concentrated in few positions; consider diversifying")
	}

	switch {
	case high:
		return LevelHigh, warnings
	case medium:
		return LevelMedium, warnings
	default:
		return LevelLow, warnings
	}
}
