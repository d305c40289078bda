package store

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"strategy-lab/internal/models"
)

// SyntheticProvider generates weekday bars from a geometric random walk.
// Output depends only on the injected source and the sequence of calls.
type SyntheticProvider struct {
	StartPrice float64
	Drift      float64 // annualized
	Volatility float64 // annualized

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSyntheticProvider creates a provider starting at 100 with 8% drift and
// 25% volatility.
func NewSyntheticProvider(rng *rand.Rand) *SyntheticProvider {
	return &SyntheticProvider{
		StartPrice: 100,
		Drift:      0.08,
		Volatility: 0.25,
		rng:        rng,
	}
}

// Bars generates one bar per weekday in [from, to].
func (p *SyntheticProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	const tradingDays = 252.0
	mu := (p.Drift - p.Volatility*p.Volatility/2) / tradingDays
	sigma := p.Volatility / math.Sqrt(tradingDays)

	var bars []models.PriceBar
	prev := p.StartPrice
	for day := models.DayOf(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		if day.Before(from) || day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}

		open := prev * (1 + p.rng.NormFloat64()*sigma*0.25)
		close := prev * math.Exp(mu+sigma*p.rng.NormFloat64())
		high := math.Max(open, close) * (1 + math.Abs(p.rng.NormFloat64())*sigma*0.5)
		low := math.Min(open, close) * (1 - math.Min(math.Abs(p.rng.NormFloat64())*sigma*0.5, 0.5))

		bars = append(bars, models.PriceBar{
			Symbol:    symbol,
			Timestamp: day,
			Open:      round2(open),
			High:      round2(high),
			Low:       round2(low),
			Close:     round2(close),
			Volume:    100_000 + p.rng.Int63n(900_000),
		})
		prev = close
	}
	return bars, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
