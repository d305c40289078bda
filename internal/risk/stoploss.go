package risk

import (
	"fmt"
	"math"

	"strategy-lab/internal/models"
)

// Urgency ranks how soon a stop recommendation should be acted on.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// StopType names the stop strategy chosen for a regime.
type StopType string

const (
	StopTrailing    StopType = "TRAILING"
	StopBreakeven   StopType = "BREAKEVEN"
	StopTight       StopType = "TIGHT"
	StopNearCurrent StopType = "NEAR_CURRENT"
	StopUrgent      StopType = "URGENT"
	StopNone        StopType = "NONE"
)

// minStopGap keeps a recommended stop at least 1% from the current price.
const minStopGap = 0.01

// PositionInfo is the open position a stop is recommended for.
type PositionInfo struct {
	Symbol     string      `json:"symbol"`
	Side       models.Side `json:"side"`
	EntryPrice float64     `json:"entry_price"`
	Quantity   float64     `json:"quantity"`
}

// StopLossRecommendation is a stop price with its regime and reasoning.
type StopLossRecommendation struct {
	StopPrice       float64  `json:"stop_price"`
	Type            StopType `json:"type"`
	Urgency         Urgency  `json:"urgency"`
	PnLPercent      float64  `json:"pnl_percent"`
	DistancePercent float64  `json:"distance_percent"`
	Reasoning       string   `json:"reasoning"`
}

// RecommendStopLoss picks a stop from the position's unrealized P&L:
//
//	> 20%        trailing max(5%, vol/2) from current   LOW (at most 50%)
//	0 to 20%     breakeven, 1% past cost                MEDIUM
//	-5 to 0%     min(8%, vol) past cost                 MEDIUM
//	-15 to -5%   2% from current, consider exit         HIGH
//	< -15%       1% from current                        CRITICAL
//
// Long stops are always strictly below the current price and short stops
// strictly above it. Volatility is annualized; zero means unknown.
func RecommendStopLoss(pos PositionInfo, currentPrice, volatility float64) StopLossRecommendation {
	if !(pos.EntryPrice > 0) || !(currentPrice > 0) {
		return StopLossRecommendation{
			Type:      StopNone,
			Urgency:   UrgencyLow,
			Reasoning: "entry and current price must be positive",
		}
	}
	if !(volatility > 0) {
		volatility = DefaultVolatility
	}

	short := pos.Side == models.SideShort
	// dir is +1 for longs: a stop "below" means price × (1 − x).
	dir := 1.0
	if short {
		dir = -1.0
	}
	pnl := dir * (currentPrice - pos.EntryPrice) / pos.EntryPrice * 100

	var rec StopLossRecommendation
	switch {
	case pnl > 20:
		trail := math.Min(math.Max(0.05, volatility*0.5), 0.5)
		rec = StopLossRecommendation{
			StopPrice: currentPrice * (1 - dir*trail),
			Type:      StopTrailing,
			Urgency:   UrgencyLow,
			Reasoning: fmt.Sprintf("up %.1f%%: trail %.1f%% from current price to lock in gains", pnl, trail*100),
		}
	case pnl >= 0:
		rec = StopLossRecommendation{
			StopPrice: pos.EntryPrice * (1 + dir*0.01),
			Type:      StopBreakeven,
			Urgency:   UrgencyMedium,
			Reasoning: fmt.Sprintf("up %.1f%%: move stop to breakeven plus 1%%", pnl),
		}
	case pnl >= -5:
		gap := math.Min(0.08, volatility)
		rec = StopLossRecommendation{
			StopPrice: pos.EntryPrice * (1 - dir*gap),
			Type:      StopTight,
			Urgency:   UrgencyMedium,
			Reasoning: fmt.Sprintf("down %.1f%%: hold a tight stop %.1f%% from cost", -pnl, gap*100),
		}
	case pnl >= -15:
		rec = StopLossRecommendation{
			StopPrice: currentPrice * (1 - dir*0.02),
			Type:      StopNearCurrent,
			Urgency:   UrgencyHigh,
			Reasoning: fmt.Sprintf("down %.1f%%: consider exit, stop 2%% from current price", -pnl),
		}
	default:
		rec = StopLossRecommendation{
			StopPrice: currentPrice * (1 - dir*0.01),
			Type:      StopUrgent,
			Urgency:   UrgencyCritical,
			Reasoning: fmt.Sprintf("down %.1f%%: loss exceeds 15%%, exit at 1%% from current price", -pnl),
		}
	}

	// Long stops stay below the market, short stops above it.
	if (!short && rec.StopPrice >= currentPrice) || (short && rec.StopPrice <= currentPrice) {
		rec.StopPrice = currentPrice * (1 - dir*minStopGap)
		rec.Reasoning += "; clamped to 1% from current price"
	}

	rec.PnLPercent = pnl
	rec.DistancePercent = math.Abs(currentPrice-rec.StopPrice) / currentPrice * 100
	return rec
}
