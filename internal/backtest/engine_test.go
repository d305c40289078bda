package backtest

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func barsFromCloses(symbol string, first time.Time, closes []float64) []models.PriceBar {
	bars := make([]models.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = models.PriceBar{
			Symbol:    symbol,
			Timestamp: first.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.005,
			Low:       c * 0.995,
			Close:     c,
			Volume:    100000,
		}
	}
	return bars
}

// uptrendWithDip rises 0.6% a day except for a six-day, 10% decline from day 45.
func uptrendWithDip() []float64 {
	closes := make([]float64, 90)
	p := 100.0
	for i := range closes {
		if i >= 45 && i < 51 {
			p *= math.Pow(0.9, 1.0/6)
		} else {
			p *= 1.006
		}
		closes[i] = p
	}
	return closes
}

// randomWalk produces n daily bars with ±3% moves from a seeded source.
func randomWalk(rng *rand.Rand, symbol string, first time.Time, n int) []models.PriceBar {
	closes := make([]float64, n)
	p := 50 + rng.Float64()*100
	for i := range closes {
		p *= 1 + (rng.Float64()-0.5)*0.06
		closes[i] = p
	}
	bars := barsFromCloses(symbol, first, closes)
	for i := range bars {
		bars[i].High = bars[i].Close * (1 + rng.Float64()*0.03)
		bars[i].Low = bars[i].Close * (1 - rng.Float64()*0.03)
	}
	return bars
}

func testConfig(symbols ...string) Config {
	return Config{
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 89),
		InitialCapital: 100000,
		Symbols:        symbols,
		Commission:     1,
		Slippage:       0.001,
		MaxPositions:   5,
	}
}

func newTestEngine() *Engine {
	return NewEngine(DefaultOptions(), zerolog.Nop())
}

func TestEngine_UptrendWithDipClosesAtTakeProfit(t *testing.T) {
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}

	result, err := newTestEngine().Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
	require.NoError(t, err)

	require.Len(t, result.Trades, 1, "one BUY at most, and it must close")
	trade := result.Trades[0]
	assert.Equal(t, models.ExitTakeProfit, trade.ExitReason)
	assert.True(t, trade.ExitDate.Before(start.AddDate(0, 0, 89)), "exit %s should precede period end", trade.ExitDate)
	assert.InDelta(t, trade.EntryPrice*1.15*0.999, trade.ExitPrice, 1e-9)
	assert.Greater(t, trade.Profit, 0.0)

	assert.Len(t, result.EquityCurve, 90)
	last := result.EquityCurve[len(result.EquityCurve)-1]
	assert.Zero(t, last.PositionValue)
	assert.InDelta(t, 100000+trade.Profit, last.Equity, 1e-6)
	assert.Equal(t, 1, result.Report.TotalTrades)
	assert.Equal(t, 100.0, result.Report.WinRate)
	assert.NotEmpty(t, result.RunID)
}

func TestEngine_EntrySizing(t *testing.T) {
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}

	result, err := newTestEngine().Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	// 10% of 100000 cash, under the 20% capital cap.
	wantQty := math.Floor((10000 - 1) / trade.EntryPrice)
	assert.Equal(t, wantQty, trade.Quantity)
	assert.Equal(t, 2.0, trade.Commission)
	assert.InDelta(t, (trade.ExitPrice-trade.EntryPrice)*trade.Quantity-2, trade.Profit, 1e-9)
	assert.InDelta(t, trade.Profit/(trade.EntryPrice*trade.Quantity)*100, trade.ProfitPercent, 1e-9)
}

func TestEngine_OpenPositionsCloseAtPeriodEnd(t *testing.T) {
	closes := uptrendWithDip()[:70]
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, closes)}
	cfg := testConfig("AAA")
	cfg.EndDate = start.AddDate(0, 0, 69)

	result, err := newTestEngine().Run(context.Background(), cfg, DefaultStrategy(), provider)
	require.NoError(t, err)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, models.ExitEndOfPeriod, trade.ExitReason)
	assert.Equal(t, cfg.EndDate, trade.ExitDate)
	assert.InDelta(t, closes[69]*0.999, trade.ExitPrice, 1e-9)
	assert.Zero(t, result.EquityCurve[len(result.EquityCurve)-1].PositionValue)
}

func TestEngine_NoEntryOnFinalDay(t *testing.T) {
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}
	engine := newTestEngine()

	full, err := engine.Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
	require.NoError(t, err)
	require.Len(t, full.Trades, 1)

	// End the period on the day the BUY fires.
	cfg := testConfig("AAA")
	cfg.EndDate = full.Trades[0].EntryDate

	result, err := engine.Run(context.Background(), cfg, DefaultStrategy(), provider)
	require.NoError(t, err)
	assert.Empty(t, result.Trades)
	last := result.EquityCurve[len(result.EquityCurve)-1]
	assert.Equal(t, cfg.InitialCapital, last.Equity)
	assert.Equal(t, cfg.InitialCapital, result.FinalCash)
}

func TestEngine_StopLossCheckedBeforeTakeProfit(t *testing.T) {
	book := newPositionBook(testConfig("AAA"), DefaultStrategyParams(), DefaultMinPositionValue)
	pos, ok := book.openLong(models.PriceBar{Symbol: "AAA", Timestamp: start, Close: 100, High: 100, Low: 100})
	require.True(t, ok)

	// A bar wide enough to touch both levels.
	trade, ok := book.checkBracket(models.PriceBar{
		Symbol: "AAA", Timestamp: start.AddDate(0, 0, 3), Close: 100, High: 200, Low: 50,
	})
	require.True(t, ok)
	assert.Equal(t, models.ExitStopLoss, trade.ExitReason)
	assert.InDelta(t, pos.StopLoss*0.999, trade.ExitPrice, 1e-9)
	assert.Equal(t, 3, trade.HoldingDays)
	assert.False(t, book.has("AAA"))
}

func TestPositionBook_RejectsEntries(t *testing.T) {
	cfg := testConfig("AAA", "BBB")
	cfg.MaxPositions = 1
	book := newPositionBook(cfg, DefaultStrategyParams(), DefaultMinPositionValue)
	bar := models.PriceBar{Symbol: "AAA", Timestamp: start, Close: 100, High: 100, Low: 100}

	_, ok := book.openLong(bar)
	require.True(t, ok)

	_, ok = book.openLong(bar)
	assert.False(t, ok, "one position per symbol")

	_, ok = book.openLong(models.PriceBar{Symbol: "BBB", Timestamp: start, Close: 10, High: 10, Low: 10})
	assert.False(t, ok, "max positions reached")

	small := newPositionBook(Config{InitialCapital: 500, MaxPositions: 5}, DefaultStrategyParams(), DefaultMinPositionValue)
	_, ok = small.openLong(models.PriceBar{Symbol: "CCC", Timestamp: start, Close: 10, High: 10, Low: 10})
	assert.False(t, ok, "50 budget is below the minimum position value")
	assert.Equal(t, 500.0, small.cash)
}

// Property 1: Equity equals cash plus open position value at every point
func TestProperty_CapitalConservation(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)
	engine := newTestEngine()

	properties.Property("equity = cash + position value, final equity = capital + profits", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			first := start.AddDate(0, 0, -40)
			provider := StaticProvider{
				"AAA": randomWalk(rng, "AAA", first, 160),
				"BBB": randomWalk(rng, "BBB", first, 160),
			}
			cfg := testConfig("AAA", "BBB")
			cfg.EndDate = start.AddDate(0, 0, 119)

			result, err := engine.Run(context.Background(), cfg, DefaultStrategy(), provider)
			if err != nil {
				return false
			}
			for _, p := range result.EquityCurve {
				if math.Abs(p.Equity-(p.Cash+p.PositionValue)) > 1e-6 {
					return false
				}
			}
			var profit float64
			for _, tr := range result.Trades {
				profit += tr.Profit
			}
			last := result.EquityCurve[len(result.EquityCurve)-1]
			return math.Abs(last.Equity-(cfg.InitialCapital+profit)) < 1e-6 &&
				math.Abs(last.Cash-result.FinalCash) < 1e-9
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

// Property 2: Drawdown is non-negative and zero exactly at a new equity high
func TestProperty_DrawdownResetsAtNewHigh(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("drawdown >= 0 and 0 iff equity >= prior peak", prop.ForAll(
		func(cash []float64) bool {
			tracker := newEquityTracker(len(cash))
			peak := math.Inf(-1)
			for i, c := range cash {
				p := tracker.record(start.AddDate(0, 0, i), c, 0)
				if p.Drawdown < 0 || p.DrawdownPercent < 0 {
					return false
				}
				atHigh := c >= peak
				if atHigh != (p.Drawdown == 0) {
					return false
				}
				peak = math.Max(peak, c)
			}
			return true
		},
		gen.SliceOf(gen.Float64Range(1, 1e6)),
	))

	properties.TestingRun(t)
}

// Property 3: Holding days equal the calendar distance from entry to exit
func TestProperty_HoldingDays(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)
	engine := newTestEngine()

	properties.Property("exit >= entry and holding days match", prop.ForAll(
		func(seed int64) bool {
			rng := rand.New(rand.NewSource(seed))
			provider := StaticProvider{"AAA": randomWalk(rng, "AAA", start.AddDate(0, 0, -40), 130)}
			result, err := engine.Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
			if err != nil {
				return false
			}
			for _, tr := range result.Trades {
				if tr.ExitDate.Before(tr.EntryDate) || tr.HoldingDays != models.DaysBetween(tr.EntryDate, tr.ExitDate) {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestEngine_RejectsOutOfRangeConfigs(t *testing.T) {
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}
	engine := newTestEngine()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too short", func(c *Config) { c.EndDate = c.StartDate.AddDate(0, 0, 29) }},
		{"too long", func(c *Config) { c.EndDate = c.StartDate.AddDate(0, 0, 1096) }},
		{"reversed", func(c *Config) { c.EndDate = c.StartDate.AddDate(0, 0, -1) }},
		{"no capital", func(c *Config) { c.InitialCapital = 0 }},
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"duplicate symbol", func(c *Config) { c.Symbols = []string{"AAA", "AAA"} }},
		{"negative commission", func(c *Config) { c.Commission = -1 }},
		{"slippage of 100%", func(c *Config) { c.Slippage = 1 }},
		{"no positions", func(c *Config) { c.MaxPositions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("AAA")
			tt.mutate(&cfg)
			_, err := engine.Run(context.Background(), cfg, DefaultStrategy(), provider)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid), "got %v", err)

			var ve *errors.ValidationError
			assert.True(t, errors.As(err, &ve))
		})
	}
}

func TestConfig_LimitBoundariesAreInclusive(t *testing.T) {
	cfg := testConfig("AAA")
	cfg.EndDate = start.AddDate(0, 0, 30)
	assert.NoError(t, cfg.Validate(DefaultRunLimits()))
	assert.Error(t, cfg.Validate(DefaultOptimizationLimits()))

	cfg.EndDate = start.AddDate(0, 0, 1095)
	assert.NoError(t, cfg.Validate(DefaultRunLimits()))

	cfg.EndDate = start.AddDate(0, 0, 730)
	assert.NoError(t, cfg.Validate(DefaultOptimizationLimits()))
	cfg.EndDate = start.AddDate(0, 0, 731)
	assert.Error(t, cfg.Validate(DefaultOptimizationLimits()))
}

func TestEngine_DataErrors(t *testing.T) {
	engine := newTestEngine()
	bars := barsFromCloses("AAA", start, uptrendWithDip())

	t.Run("no data", func(t *testing.T) {
		_, err := engine.Run(context.Background(), testConfig("ZZZ"), DefaultStrategy(), StaticProvider{})
		assert.True(t, errors.Is(err, errors.ErrNoData), "got %v", err)
	})

	t.Run("unsorted", func(t *testing.T) {
		swapped := append([]models.PriceBar(nil), bars...)
		swapped[10], swapped[11] = swapped[11], swapped[10]
		_, err := engine.RunWithBars(context.Background(), testConfig("AAA"), DefaultStrategy(),
			map[string][]models.PriceBar{"AAA": swapped})
		assert.True(t, errors.Is(err, errors.ErrInvalidBars), "got %v", err)

		var de *errors.DataError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "AAA", de.Symbol)
	})

	t.Run("duplicate", func(t *testing.T) {
		dup := append([]models.PriceBar(nil), bars[:20]...)
		dup = append(dup, bars[19])
		dup = append(dup, bars[20:]...)
		_, err := engine.RunWithBars(context.Background(), testConfig("AAA"), DefaultStrategy(),
			map[string][]models.PriceBar{"AAA": dup})
		assert.True(t, errors.Is(err, errors.ErrInvalidBars), "got %v", err)
	})

	t.Run("one symbol missing", func(t *testing.T) {
		result, err := engine.Run(context.Background(), testConfig("AAA", "ZZZ"), DefaultStrategy(), StaticProvider{"AAA": bars})
		require.NoError(t, err)
		assert.Len(t, result.EquityCurve, 90)
	})
}

func TestEngine_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}
	_, err := newTestEngine().RunWithBars(ctx, testConfig("AAA"), DefaultStrategy(), provider)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEngine_HistoryBeforeStartIsWarmupOnly(t *testing.T) {
	closes := uptrendWithDip()
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start.AddDate(0, 0, -40), closes)}
	cfg := testConfig("AAA")
	cfg.EndDate = start.AddDate(0, 0, 49)

	result, err := newTestEngine().Run(context.Background(), cfg, DefaultStrategy(), provider)
	require.NoError(t, err)
	require.Len(t, result.EquityCurve, 50)
	assert.Equal(t, start, result.EquityCurve[0].Date)
	for _, tr := range result.Trades {
		assert.False(t, tr.EntryDate.Before(start))
	}
}

func TestEngine_RunsAreIndependent(t *testing.T) {
	provider := StaticProvider{"AAA": barsFromCloses("AAA", start, uptrendWithDip())}
	engine := newTestEngine()

	a, err := engine.Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
	require.NoError(t, err)
	b, err := engine.Run(context.Background(), testConfig("AAA"), DefaultStrategy(), provider)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.EquityCurve, b.EquityCurve)
}
