package indicators

import (
	"fmt"
	"math"

	"strategy-lab/internal/models"
)

// HistoricalVolatility calculates annualized close-to-close volatility as a
// fraction (0.2 = 20%), the unit the risk sizer expects.
type HistoricalVolatility struct {
	period      int
	tradingDays int // annualization factor, 365 for calendar days
}

// NewHistoricalVolatility creates a new Historical Volatility indicator.
func NewHistoricalVolatility(period, tradingDays int) *HistoricalVolatility {
	return &HistoricalVolatility{
		period:      period,
		tradingDays: tradingDays,
	}
}

func (h *HistoricalVolatility) Name() string {
	return fmt.Sprintf("HistoricalVolatility_%d", h.period)
}

func (h *HistoricalVolatility) Period() int {
	return h.period
}

func (h *HistoricalVolatility) Calculate(bars []models.PriceBar) ([]float64, error) {
	if h.period <= 1 || h.tradingDays <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < h.period+1 {
		return nil, ErrInsufficientData
	}

	n := len(bars)
	result := make([]float64, n)
	closes := closePrices(bars)

	logReturns := make([]float64, n)
	for i := 1; i < n; i++ {
		if closes[i-1] > 0 && closes[i] > 0 {
			logReturns[i] = math.Log(closes[i] / closes[i-1])
		}
	}

	annualizationFactor := math.Sqrt(float64(h.tradingDays))
	for i := h.period; i < n; i++ {
		window := logReturns[i-h.period+1 : i+1]
		result[i] = stdDev(window) * annualizationFactor
	}

	return result, nil
}
