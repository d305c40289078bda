// Package risk sizes positions, recommends stop-losses and summarizes
// portfolio-level risk. Every function is pure and safe for concurrent use.
package risk

import (
	"fmt"
	"math"
	"strings"
)

// Tolerance scales the capital put at risk on a trade.
type Tolerance string

const (
	ToleranceLow    Tolerance = "LOW"
	ToleranceMedium Tolerance = "MEDIUM"
	ToleranceHigh   Tolerance = "HIGH"
)

// ParseTolerance accepts low, medium or high in any case.
func ParseTolerance(s string) (Tolerance, bool) {
	switch Tolerance(strings.ToUpper(strings.TrimSpace(s))) {
	case ToleranceLow:
		return ToleranceLow, true
	case ToleranceMedium:
		return ToleranceMedium, true
	case ToleranceHigh:
		return ToleranceHigh, true
	}
	return ToleranceMedium, false
}

// Multiplier returns 0.5, 1 or 1.5 for LOW, MEDIUM and HIGH.
func (t Tolerance) Multiplier() float64 {
	switch t {
	case ToleranceLow:
		return 0.5
	case ToleranceHigh:
		return 1.5
	default:
		return 1.0
	}
}

// DefaultVolatility is assumed when the caller does not know it.
const DefaultVolatility = 0.2

// MaxPositionCeiling is the largest share of the portfolio, in percent, a
// sized position may take. Limits can tighten it but never loosen it.
const MaxPositionCeiling = 20.0

// Limits are the portfolio constraints applied after risk-based sizing.
type Limits struct {
	MaxPositionPercent   float64 `mapstructure:"max_position_percent"`
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	CorrelationReduction float64 `mapstructure:"correlation_reduction"`
}

// DefaultLimits caps a position at 20% of the portfolio and cuts it by 30%
// when its correlation with existing holdings exceeds 0.7.
func DefaultLimits() Limits {
	return Limits{
		MaxPositionPercent:   20,
		CorrelationThreshold: 0.7,
		CorrelationReduction: 0.3,
	}
}

// SizingRequest holds the inputs to SizePosition. Volatility is annualized
// (0.25 = 25%); zero means unknown. Correlation is with existing holdings.
type SizingRequest struct {
	EntryPrice          float64   `json:"entry_price"`
	StopPrice           float64   `json:"stop_price"`
	PortfolioValue      float64   `json:"portfolio_value"`
	RiskPerTradePercent float64   `json:"risk_per_trade_percent"`
	Tolerance           Tolerance `json:"tolerance"`
	Volatility          float64   `json:"volatility"`
	Correlation         float64   `json:"correlation"`
}

// SizingResult is a recommended share count with the reasoning behind it.
type SizingResult struct {
	RiskAmount       float64  `json:"risk_amount"`
	BaseShares       float64  `json:"base_shares"`
	VolatilityFactor float64  `json:"volatility_factor"`
	Shares           float64  `json:"shares"`
	PositionValue    float64  `json:"position_value"`
	PositionPercent  float64  `json:"position_percent"`
	RiskPercent      float64  `json:"risk_percent"` // of portfolio, at the stop
	Warnings         []string `json:"warnings"`
	Adjustments      []string `json:"adjustments"`
}

// SizePosition sizes a trade with the default limits.
func SizePosition(req SizingRequest) SizingResult {
	return DefaultLimits().SizePosition(req)
}

// SizePosition converts a risk budget into whole shares. It never fails:
// unusable inputs produce zero shares and a warning.
func (l Limits) SizePosition(req SizingRequest) SizingResult {
	res := SizingResult{Warnings: []string{}, Adjustments: []string{}}

	switch {
	case !(req.EntryPrice > 0):
		res.Warnings = append(res.Warnings, "entry price must be positive")
		return res
	case !(req.StopPrice > 0):
		res.Warnings = append(res.Warnings, "stop price must be positive")
		return res
	case req.EntryPrice == req.StopPrice:
		res.Warnings = append(res.Warnings, "stop price equals entry price; risk per share is zero")
		return res
	case !(req.PortfolioValue > 0):
		res.Warnings = append(res.Warnings, "portfolio value must be positive")
		return res
	case !(req.RiskPerTradePercent > 0):
		res.Warnings = append(res.Warnings, "risk per trade must be positive")
		return res
	}

	tolerance, ok := ParseTolerance(string(req.Tolerance))
	if !ok && req.Tolerance != "" {
		res.Warnings = append(res.Warnings, fmt.Sprintf("unknown risk tolerance %q, using MEDIUM", req.Tolerance))
	}

	// Step 1: risk budget scaled by tolerance
	res.RiskAmount = req.PortfolioValue * req.RiskPerTradePercent / 100 * tolerance.Multiplier()

	// Step 2: shares that lose exactly the budget at the stop
	perShare := math.Abs(req.EntryPrice - req.StopPrice)
	res.BaseShares = res.RiskAmount / perShare
	shares := res.BaseShares

	// Step 3: volatility adjustment
	vol := req.Volatility
	if !(vol > 0) {
		vol = DefaultVolatility
	}
	res.VolatilityFactor = clamp(1/vol, 0.5, 1.5)
	if res.VolatilityFactor != 1 {
		shares *= res.VolatilityFactor
		res.Adjustments = append(res.Adjustments,
			fmt.Sprintf("volatility %.1f%%: size x%.2f", vol*100, res.VolatilityFactor))
	}

	// Step 4: portfolio cap
	capPercent := l.MaxPositionPercent
	if !(capPercent > 0) || capPercent > MaxPositionCeiling {
		capPercent = MaxPositionCeiling
	}
	maxValue := req.PortfolioValue * capPercent / 100
	if shares*req.EntryPrice > maxValue {
		shares = maxValue / req.EntryPrice
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("position capped at %.0f%% of portfolio", capPercent))
		res.Adjustments = append(res.Adjustments, fmt.Sprintf("capped to %.0f shares", math.Floor(shares)))
	}

	// Step 5: correlation with existing holdings
	if req.Correlation > l.CorrelationThreshold {
		shares *= 1 - l.CorrelationReduction
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("correlation %.2f with existing holdings; consider diversifying", req.Correlation))
		res.Adjustments = append(res.Adjustments,
			fmt.Sprintf("reduced %.0f%% for correlation", l.CorrelationReduction*100))
	}

	res.Shares = math.Floor(shares)
	res.PositionValue = res.Shares * req.EntryPrice
	res.PositionPercent = res.PositionValue / req.PortfolioValue * 100
	res.RiskPercent = res.Shares * perShare / req.PortfolioValue * 100
	if res.Shares == 0 {
		res.Warnings = append(res.Warnings, "risk budget buys less than one share")
	}
	return res
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
