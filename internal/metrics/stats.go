package metrics

import "math"

// PeriodsPerYear annualizes daily figures over calendar days.
const PeriodsPerYear = 365.0

// DefaultRiskFreeRate is the annual risk-free rate used when none is configured.
const DefaultRiskFreeRate = 0.02

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var total float64
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// StdDev returns the population standard deviation, or 0 for an empty slice.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	var variance float64
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}

// AnnualizedVolatility scales the stdev of daily returns by sqrt(365).
func AnnualizedVolatility(dailyReturns []float64) float64 {
	return StdDev(dailyReturns) * math.Sqrt(PeriodsPerYear)
}

// SharpeRatio returns the annualized excess return per unit of volatility,
// or 0 when volatility is 0.
func SharpeRatio(dailyReturns []float64, annualRiskFree float64) float64 {
	sd := StdDev(dailyReturns)
	if sd == 0 {
		return 0
	}
	return finite((Mean(dailyReturns) - annualRiskFree/PeriodsPerYear) / sd * math.Sqrt(PeriodsPerYear))
}

// SortinoRatio is SharpeRatio with only negative returns in the denominator.
// It is 0 when there are no negative returns or their deviation is 0.
func SortinoRatio(dailyReturns []float64, annualRiskFree float64) float64 {
	var downside []float64
	for _, r := range dailyReturns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	dd := StdDev(downside)
	if dd == 0 {
		return 0
	}
	return finite((Mean(dailyReturns) - annualRiskFree/PeriodsPerYear) / dd * math.Sqrt(PeriodsPerYear))
}

// Pearson returns the correlation coefficient of xs and ys clipped to [-1, 1].
// Mismatched lengths, fewer than two samples or zero variance give 0.
func Pearson(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := Mean(xs), Mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	r := finite(cov / math.Sqrt(vx*vy))
	return math.Max(-1, math.Min(1, r))
}

// finite maps NaN and infinities to 0.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
