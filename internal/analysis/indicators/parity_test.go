package indicators

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/stretchr/testify/require"
	"strategy-lab/internal/models"
)

// randomWalk builds a deterministic, never-flat close series.
func randomWalk(n int, seed int64) []models.PriceBar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]models.PriceBar, n)
	price := 100.0
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		step := rng.NormFloat64() * 1.5
		if math.Abs(step) < 0.01 {
			step = 0.05
		}
		price = math.Max(5, price+step)
		bars[i] = models.PriceBar{Symbol: "PAR", Timestamp: start.AddDate(0, 0, i), Open: price, High: price + 1, Low: price - 1, Close: price}
	}
	return bars
}

func TestParity_SMAMatchesTalib(t *testing.T) {
	bars := randomWalk(250, 7)
	closes := closePrices(bars)

	for _, period := range []int{5, 10, 20, 50} {
		ours, err := NewSMA(period).Calculate(bars)
		require.NoError(t, err)
		ref := talib.Sma(closes, period)
		for i := period - 1; i < len(bars); i++ {
			require.InDelta(t, ref[i], ours[i], 1e-9, "SMA_%d at %d", period, i)
		}
	}
}

func TestParity_RSIMatchesTalib(t *testing.T) {
	bars := randomWalk(300, 11)
	closes := closePrices(bars)

	for _, period := range []int{7, 14, 21} {
		ours, err := NewRSI(period).Calculate(bars)
		require.NoError(t, err)
		ref := talib.Rsi(closes, period)
		for i := period; i < len(bars); i++ {
			require.InDelta(t, ref[i], ours[i], 1e-6, "RSI_%d at %d", period, i)
		}
	}
}
