package backtest

import (
	"fmt"
	"time"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
)

// Config describes one simulation: the date range, capital and costs.
// Commission is a flat amount charged per fill; Slippage is a fraction of price.
type Config struct {
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	Symbols        []string  `json:"symbols"`
	Commission     float64   `json:"commission"`
	Slippage       float64   `json:"slippage"`
	MaxPositions   int       `json:"max_positions"`
}

// Limits bounds the length of a simulated range in calendar days.
type Limits struct {
	MinDays int `mapstructure:"min_days"`
	MaxDays int `mapstructure:"max_days"`
}

// DefaultRunLimits bounds a single backtest to 30-1095 days. Configured run
// limits must stay within these bounds.
func DefaultRunLimits() Limits {
	return Limits{MinDays: 30, MaxDays: 1095}
}

// DefaultOptimizationLimits bounds optimizer ranges to 60-730 days.
// Configured optimization limits must stay within these bounds.
func DefaultOptimizationLimits() Limits {
	return Limits{MinDays: 60, MaxDays: 730}
}

// Days returns the calendar length of the configured range.
func (c Config) Days() int {
	return models.DaysBetween(c.StartDate, c.EndDate)
}

// Validate rejects configurations the engine cannot simulate. Out-of-range
// values are never clamped.
func (c Config) Validate(limits Limits) error {
	if c.StartDate.IsZero() {
		return errors.NewValidationError("start_date", c.StartDate, "start date is required")
	}
	if c.EndDate.IsZero() {
		return errors.NewValidationError("end_date", c.EndDate, "end date is required")
	}
	if !c.EndDate.After(c.StartDate) {
		return errors.NewValidationError("end_date", c.EndDate.Format("2006-01-02"), "end date must be after start date")
	}
	days := c.Days()
	if days < limits.MinDays || days > limits.MaxDays {
		return errors.NewValidationError("date_range", days,
			fmt.Sprintf("range must span between %d and %d days", limits.MinDays, limits.MaxDays))
	}
	if c.InitialCapital <= 0 {
		return errors.NewValidationError("initial_capital", c.InitialCapital, "initial capital must be positive")
	}
	if len(c.Symbols) == 0 {
		return errors.NewValidationError("symbols", c.Symbols, "at least one symbol is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s == "" {
			return errors.NewValidationError("symbols", c.Symbols, "symbol must not be empty")
		}
		if seen[s] {
			return errors.NewValidationError("symbols", s, "duplicate symbol")
		}
		seen[s] = true
	}
	if c.Commission < 0 {
		return errors.NewValidationError("commission", c.Commission, "commission must not be negative")
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		return errors.NewValidationError("slippage", c.Slippage, "slippage must be in [0, 1)")
	}
	if c.MaxPositions < 1 {
		return errors.NewValidationError("max_positions", c.MaxPositions, "max positions must be at least 1")
	}
	return nil
}
