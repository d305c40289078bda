package models

import "time"

// ExitReason describes why a simulated position was closed.
type ExitReason string

const (
	ExitStopLoss    ExitReason = "STOP_LOSS"
	ExitTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitSignal      ExitReason = "SIGNAL_EXIT"
	ExitEndOfPeriod ExitReason = "END_OF_PERIOD"
)

// ClosedTrade represents a completed simulated round trip.
type ClosedTrade struct {
	Symbol        string     `json:"symbol"`
	Side          Side       `json:"side"`
	EntryPrice    float64    `json:"entry_price"`
	ExitPrice     float64    `json:"exit_price"`
	EntryDate     time.Time  `json:"entry_date"`
	ExitDate      time.Time  `json:"exit_date"`
	Quantity      float64    `json:"quantity"`
	Profit        float64    `json:"profit"`
	ProfitPercent float64    `json:"profit_percent"`
	Commission    float64    `json:"commission"`
	HoldingDays   int        `json:"holding_days"`
	ExitReason    ExitReason `json:"exit_reason"`
}

// IsWin reports whether the trade realized a profit.
func (t ClosedTrade) IsWin() bool {
	return t.Profit > 0
}

// IsLoss reports whether the trade realized a loss.
func (t ClosedTrade) IsLoss() bool {
	return t.Profit < 0
}

// EquityPoint represents one day on the equity curve.
type EquityPoint struct {
	Date            time.Time `json:"date"`
	Equity          float64   `json:"equity"`
	Cash            float64   `json:"cash"`
	PositionValue   float64   `json:"position_value"`
	Drawdown        float64   `json:"drawdown"`
	DrawdownPercent float64   `json:"drawdown_percent"`
}
