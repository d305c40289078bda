// Package models provides the domain models shared by the backtesting and risk packages.
package models

import (
	"fmt"
	"time"
)

// Side represents the direction of a position.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SignalKind represents the action suggested by a signal.
type SignalKind string

const (
	SignalBuy  SignalKind = "BUY"
	SignalSell SignalKind = "SELL"
	SignalHold SignalKind = "HOLD"
)

// PriceBar represents one day of OHLCV data for a symbol.
// Bars are supplied by a provider and never mutated by the engine.
type PriceBar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Date returns the bar timestamp truncated to its calendar day (UTC).
func (b PriceBar) Date() time.Time {
	return DayOf(b.Timestamp)
}

// Signal is a trading signal produced fresh on every evaluation.
type Signal struct {
	Kind      SignalKind `json:"kind"`
	Strength  float64    `json:"strength"` // 0-1
	Price     float64    `json:"price"`
	Timestamp time.Time  `json:"timestamp"`
	Reasoning string     `json:"reasoning"`
}

// HoldSignal builds a HOLD signal with zero strength.
func HoldSignal(price float64, ts time.Time, format string, args ...interface{}) Signal {
	return Signal{
		Kind:      SignalHold,
		Price:     price,
		Timestamp: ts,
		Reasoning: fmt.Sprintf(format, args...),
	}
}

// DayOf truncates t to midnight UTC of its calendar date.
func DayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(DayOf(b).Sub(DayOf(a)).Hours() / 24)
}
