package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"strategy-lab/internal/models"
)

// Property 8: Bar round-trip consistency
// For any valid daily bars, saving them to a store and reading the same range
// back produces the same bars in the same order.
func TestProperty_BarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sqlite, err := NewSQLiteStore(filepath.Join(dir, "bars.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer sqlite.Close()

	stores := map[string]BarStore{
		"sqlite":  sqlite,
		"parquet": NewParquetProvider(filepath.Join(dir, "parquet")),
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	seq := 0
	for name, store := range stores {
		store := store
		properties.Property(name+": save then read produces equivalent bars", prop.ForAll(
			func(count int, basePrice float64, baseVolume int64, offset int) bool {
				ctx := context.Background()
				seq++
				symbol := fmt.Sprintf("SYM%d", seq)

				first := time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
				bars := generateTestBars(symbol, first, count, basePrice, baseVolume)

				if err := store.SaveBars(ctx, symbol, bars); err != nil {
					t.Logf("Failed to save bars: %v", err)
					return false
				}

				got, err := store.Bars(ctx, symbol, bars[0].Timestamp, bars[len(bars)-1].Timestamp)
				if err != nil {
					t.Logf("Failed to read bars: %v", err)
					return false
				}
				if len(got) != len(bars) {
					t.Logf("Count mismatch: expected %d, got %d", len(bars), len(got))
					return false
				}
				for i := range bars {
					if !barsEqual(bars[i], got[i]) {
						t.Logf("Bar mismatch at index %d: original=%+v, retrieved=%+v", i, bars[i], got[i])
						return false
					}
				}
				return true
			},
			gen.IntRange(1, 60),
			gen.Float64Range(1.0, 5000.0),
			gen.Int64Range(1000, 1000000),
			gen.IntRange(0, 60),
		))
	}

	properties.TestingRun(t)
}

// generateTestBars creates consecutive daily bars with valid OHLC relationships.
func generateTestBars(symbol string, first time.Time, count int, basePrice float64, baseVolume int64) []models.PriceBar {
	bars := make([]models.PriceBar, count)
	for i := 0; i < count; i++ {
		variation := float64(i%10) * 0.01 * basePrice
		open := basePrice + variation
		close := basePrice + variation*0.5

		bars[i] = models.PriceBar{
			Symbol:    symbol,
			Timestamp: first.AddDate(0, 0, i),
			Open:      roundToDecimal(open, 2),
			High:      roundToDecimal(math.Max(open, close)*1.01, 2),
			Low:       roundToDecimal(math.Min(open, close)*0.99, 2),
			Close:     roundToDecimal(close, 2),
			Volume:    baseVolume + int64(i*1000),
		}
	}
	return bars
}

func roundToDecimal(val float64, places int) float64 {
	multiplier := math.Pow(10, float64(places))
	return math.Round(val*multiplier) / multiplier
}

// barsEqual compares bars exactly; both stores keep float64 and millisecond
// timestamps without loss.
func barsEqual(a, b models.PriceBar) bool {
	return a.Symbol == b.Symbol &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.Open == b.Open &&
		a.High == b.High &&
		a.Low == b.Low &&
		a.Close == b.Close &&
		a.Volume == b.Volume
}
