package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strategy-lab/internal/models"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func curveOf(equities ...float64) []models.EquityPoint {
	points := make([]models.EquityPoint, len(equities))
	peak := 0.0
	for i, e := range equities {
		peak = math.Max(peak, e)
		dd := peak - e
		points[i] = models.EquityPoint{
			Date:            day0.AddDate(0, 0, i),
			Equity:          e,
			Cash:            e,
			Drawdown:        dd,
			DrawdownPercent: dd / peak * 100,
		}
	}
	return points
}

func trade(profit float64, exitDay int) models.ClosedTrade {
	return models.ClosedTrade{
		Symbol:      "AAA",
		Side:        models.SideLong,
		EntryDate:   day0,
		ExitDate:    day0.AddDate(0, 0, exitDay),
		Quantity:    10,
		Profit:      profit,
		Commission:  2,
		HoldingDays: exitDay,
	}
}

func TestCompute_EmptyInputsGiveZeroReport(t *testing.T) {
	r := Compute(100000, nil, nil, DefaultOptions())

	assert.Equal(t, 100000.0, r.FinalEquity)
	assert.Zero(t, r.TotalReturn)
	assert.Zero(t, r.SharpeRatio)
	assert.Zero(t, r.SortinoRatio)
	assert.Zero(t, r.CalmarRatio)
	assert.Zero(t, r.ProfitFactor)
	assert.Zero(t, r.WinRate)
	assert.Empty(t, r.MonthlyReturns)
	assert.Equal(t, Streaks{}, r.Streaks)
}

func TestCompute_FlatCurveHasZeroRatios(t *testing.T) {
	r := Compute(1000, curveOf(1000, 1000, 1000, 1000), nil, DefaultOptions())

	assert.Zero(t, r.Volatility)
	assert.Zero(t, r.SharpeRatio)
	assert.Zero(t, r.SortinoRatio)
	assert.Zero(t, r.CalmarRatio)
	assert.Zero(t, r.MaxDrawdown)
}

func TestCompute_CurveFigures(t *testing.T) {
	curve := curveOf(1000, 1100, 990, 1050)
	r := Compute(1000, curve, nil, Options{RiskFreeRate: 0})

	assert.InDelta(t, 50, r.TotalReturn, 1e-9)
	assert.InDelta(t, 5, r.TotalReturnPercent, 1e-9)
	assert.InDelta(t, 110, r.MaxDrawdown, 1e-9)
	assert.InDelta(t, 10, r.MaxDrawdownPercent, 1e-9)

	wantAnnual := (math.Pow(1.05, 365.0/3) - 1) * 100
	assert.InDelta(t, wantAnnual, r.AnnualizedReturn, 1e-6)
	assert.InDelta(t, wantAnnual/10, r.CalmarRatio, 1e-6)

	returns := []float64{0.1, -0.1, 60.0 / 990}
	wantSharpe := Mean(returns) / StdDev(returns) * math.Sqrt(365)
	assert.InDelta(t, wantSharpe, r.SharpeRatio, 1e-9)
	// A single negative return has zero deviation.
	assert.Zero(t, r.SortinoRatio)
}

func TestCompute_TradeFigures(t *testing.T) {
	trades := []models.ClosedTrade{
		trade(100, 1), trade(50, 2), trade(-40, 3), trade(-20, 4), trade(-30, 5), trade(200, 6),
	}
	r := Compute(1000, nil, trades, DefaultOptions())

	assert.Equal(t, 6, r.TotalTrades)
	assert.Equal(t, 3, r.WinningTrades)
	assert.Equal(t, 3, r.LosingTrades)
	assert.InDelta(t, 50, r.WinRate, 1e-9)
	assert.InDelta(t, 350.0/3, r.AverageWin, 1e-9)
	assert.InDelta(t, 30, r.AverageLoss, 1e-9)
	assert.InDelta(t, (350.0/3)/30, r.ProfitFactor, 1e-9)
	assert.Equal(t, 200.0, r.LargestWin)
	assert.Equal(t, 40.0, r.LargestLoss)
	assert.InDelta(t, 3.5, r.AverageHoldingDays, 1e-9)
	assert.InDelta(t, 12, r.TotalCommission, 1e-9)
	assert.Equal(t, Streaks{MaxWinStreak: 2, MaxLossStreak: 3}, r.Streaks)
}

func TestCompute_NoLosersGivesZeroProfitFactor(t *testing.T) {
	r := Compute(1000, nil, []models.ClosedTrade{trade(10, 1), trade(20, 2)}, DefaultOptions())
	assert.Zero(t, r.ProfitFactor)
	assert.Equal(t, 100.0, r.WinRate)
}

func TestStreaks_UseExitOrder(t *testing.T) {
	trades := []models.ClosedTrade{trade(-1, 5), trade(1, 1), trade(1, 2), trade(-1, 3), trade(-1, 4)}
	s := computeStreaks(trades)
	assert.Equal(t, 2, s.MaxWinStreak)
	assert.Equal(t, 3, s.MaxLossStreak)
}

func TestMonthlyReturns(t *testing.T) {
	curve := []models.EquityPoint{
		{Date: time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), Equity: 1000},
		{Date: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Equity: 1020},
		{Date: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Equity: 1010},
		{Date: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), Equity: 990},
	}
	months := MonthlyReturns(curve)

	require.Len(t, months, 2)
	assert.Equal(t, "2024-01", months[0].Month)
	assert.InDelta(t, 20, months[0].Return, 1e-9)
	assert.Equal(t, "2024-02", months[1].Month)
	assert.InDelta(t, -20, months[1].Return, 1e-9)
	assert.InDelta(t, -20.0/1010*100, months[1].ReturnPercent, 1e-9)
}

func TestParseObjective(t *testing.T) {
	for _, name := range []string{"sharpe", "total_return", "profit_factor", "calmar"} {
		obj, err := ParseObjective(name)
		require.NoError(t, err)
		_, err = Report{}.Value(obj)
		require.NoError(t, err)
	}
	_, err := ParseObjective("alpha")
	assert.Error(t, err)
}

// Property 3: Win rate stays in [0, 100] and no ratio is NaN or infinite
func TestProperty_ReportFiguresFinite(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.MaxShrinkCount = 0

	properties := gopter.NewProperties(parameters)

	properties.Property("report figures are bounded and finite", prop.ForAll(
		func(equities []float64, profits []float64) bool {
			trades := make([]models.ClosedTrade, len(profits))
			for i, p := range profits {
				trades[i] = trade(p, i)
			}
			r := Compute(10000, curveOf(equities...), trades, DefaultOptions())

			if r.WinRate < 0 || r.WinRate > 100 {
				return false
			}
			for _, v := range []float64{r.SharpeRatio, r.SortinoRatio, r.CalmarRatio, r.ProfitFactor, r.AnnualizedReturn, r.Volatility} {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
			return r.ProfitFactor >= 0
		},
		gen.SliceOf(gen.Float64Range(1, 20000)),
		gen.SliceOf(gen.Float64Range(-500, 500)),
	))

	properties.TestingRun(t)
}

// Property 4: Pearson correlation is always within [-1, 1]
func TestProperty_PearsonBounded(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("pearson r in [-1, 1]", prop.ForAll(
		func(xs []float64, ys []float64) bool {
			n := len(xs)
			if len(ys) < n {
				n = len(ys)
			}
			r := Pearson(xs[:n], ys[:n])
			return r >= -1 && r <= 1 && !math.IsNaN(r)
		},
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
		gen.SliceOf(gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}

func TestPearson_PerfectCorrelation(t *testing.T) {
	assert.InDelta(t, 1, Pearson([]float64{1, 2, 3, 4}, []float64{2, 4, 6, 8}), 1e-12)
	assert.InDelta(t, -1, Pearson([]float64{1, 2, 3, 4}, []float64{8, 6, 4, 2}), 1e-12)
	assert.Zero(t, Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}))
}
