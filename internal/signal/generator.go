// Package signal turns a symbol's price history into a typed trading signal
// using a moving-average crossover confirmed by RSI.
package signal

import (
	"fmt"
	"math"
	"time"

	"strategy-lab/internal/analysis/indicators"
	"strategy-lab/internal/models"
)

// MinHistory is the fewest bars the generator will evaluate.
const MinHistory = 20

// crossoverScale maps a relative MA gap of 5% to a full magnitude score.
const crossoverScale = 20.0

// Params configures the crossover generator.
type Params struct {
	ShortPeriod   int
	LongPeriod    int
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
}

// DefaultParams returns SMA 10/20 with a 14-period RSI and 70/30 bands.
func DefaultParams() Params {
	return Params{
		ShortPeriod:   10,
		LongPeriod:    20,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
	}
}

// Generator evaluates the crossover rule. It holds no state between calls.
type Generator struct {
	params Params
	short  *indicators.SMA
	long   *indicators.SMA
	rsi    *indicators.RSI
}

// NewGenerator creates a generator for the given parameters.
func NewGenerator(p Params) *Generator {
	return &Generator{
		params: p,
		short:  indicators.NewSMA(p.ShortPeriod),
		long:   indicators.NewSMA(p.LongPeriod),
		rsi:    indicators.NewRSI(p.RSIPeriod),
	}
}

// RequiredHistory returns the number of bars needed before a crossover can be
// detected on the latest bar.
func (g *Generator) RequiredHistory() int {
	need := MinHistory
	if n := g.params.LongPeriod + 1; n > need {
		need = n
	}
	if n := g.params.ShortPeriod + 1; n > need {
		need = n
	}
	if n := g.params.RSIPeriod + 1; n > need {
		need = n
	}
	return need
}

// Evaluate returns the signal for the last bar of history. Short histories
// produce a zero-strength HOLD rather than an error.
func (g *Generator) Evaluate(history []models.PriceBar) models.Signal {
	if len(history) == 0 {
		return models.HoldSignal(0, time.Time{}, "insufficient data: have 0 bars, need %d", g.RequiredHistory())
	}
	last := history[len(history)-1]
	if need := g.RequiredHistory(); len(history) < need {
		return models.HoldSignal(last.Close, last.Timestamp, "insufficient data: have %d bars, need %d", len(history), need)
	}

	shortMA, errS := g.short.Calculate(history)
	longMA, errL := g.long.Calculate(history)
	rsiValues, errR := g.rsi.Calculate(history)
	if errS != nil || errL != nil || errR != nil {
		return models.HoldSignal(last.Close, last.Timestamp, "indicator unavailable")
	}

	n := len(history) - 1
	shortNow, shortPrev := shortMA[n], shortMA[n-1]
	longNow, longPrev := longMA[n], longMA[n-1]
	rsi := rsiValues[n]

	crossedUp := shortPrev <= longPrev && shortNow > longNow
	crossedDown := shortPrev >= longPrev && shortNow < longNow

	switch {
	case crossedUp && rsi < g.params.RSIOverbought:
		return models.Signal{
			Kind:      models.SignalBuy,
			Strength:  g.strength(shortNow, longNow, (g.params.RSIOverbought-rsi)/g.band()),
			Price:     last.Close,
			Timestamp: last.Timestamp,
			Reasoning: fmt.Sprintf("SMA%d crossed above SMA%d (%.2f > %.2f), RSI %.1f below %.0f",
				g.params.ShortPeriod, g.params.LongPeriod, shortNow, longNow, rsi, g.params.RSIOverbought),
		}
	case crossedDown && rsi > g.params.RSIOversold:
		return models.Signal{
			Kind:      models.SignalSell,
			Strength:  g.strength(shortNow, longNow, (rsi-g.params.RSIOversold)/g.band()),
			Price:     last.Close,
			Timestamp: last.Timestamp,
			Reasoning: fmt.Sprintf("SMA%d crossed below SMA%d (%.2f < %.2f), RSI %.1f above %.0f",
				g.params.ShortPeriod, g.params.LongPeriod, shortNow, longNow, rsi, g.params.RSIOversold),
		}
	case crossedUp:
		return models.HoldSignal(last.Close, last.Timestamp, "bullish crossover rejected: RSI %.1f overbought", rsi)
	case crossedDown:
		return models.HoldSignal(last.Close, last.Timestamp, "bearish crossover rejected: RSI %.1f oversold", rsi)
	default:
		return models.HoldSignal(last.Close, last.Timestamp, "no crossover (SMA%d %.2f, SMA%d %.2f, RSI %.1f)",
			g.params.ShortPeriod, shortNow, g.params.LongPeriod, longNow, rsi)
	}
}

func (g *Generator) band() float64 {
	b := g.params.RSIOverbought - g.params.RSIOversold
	if b <= 0 {
		return 1
	}
	return b
}

// strength blends crossover magnitude and RSI headroom, each in [0,1].
func (g *Generator) strength(shortMA, longMA, rsiDistance float64) float64 {
	magnitude := 0.0
	if longMA > 0 {
		magnitude = math.Min(1, crossoverScale*math.Abs(shortMA-longMA)/longMA)
	}
	return clip01(0.5*magnitude + 0.5*clip01(rsiDistance))
}

func clip01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
