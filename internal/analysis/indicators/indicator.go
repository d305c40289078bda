// Package indicators provides technical indicator calculations over daily price bars.
package indicators

import "strategy-lab/internal/models"

// Indicator defines the interface for single-value technical indicators.
// Calculate returns one value per input bar; entries before the warmup
// period are zero.
type Indicator interface {
	Name() string
	Calculate(bars []models.PriceBar) ([]float64, error)
	Period() int
}

// Last returns the final value of ind over bars.
func Last(ind Indicator, bars []models.PriceBar) (float64, error) {
	values, err := ind.Calculate(bars)
	if err != nil {
		return 0, err
	}
	return values[len(values)-1], nil
}
