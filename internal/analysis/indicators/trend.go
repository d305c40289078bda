package indicators

import (
	"fmt"

	"strategy-lab/internal/models"
)

// SMA calculates Simple Moving Average.
type SMA struct {
	period int
}

// NewSMA creates a new SMA indicator.
func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Name() string {
	return fmt.Sprintf("SMA_%d", s.period)
}

func (s *SMA) Period() int {
	return s.period
}

func (s *SMA) Calculate(bars []models.PriceBar) ([]float64, error) {
	if s.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(bars) < s.period {
		return nil, ErrInsufficientData
	}

	result := make([]float64, len(bars))
	closes := closePrices(bars)

	// Rolling sum keeps this linear in len(bars).
	var window float64
	for i, c := range closes {
		window += c
		if i >= s.period {
			window -= closes[i-s.period]
		}
		if i >= s.period-1 {
			result[i] = window / float64(s.period)
		}
	}

	return result, nil
}
