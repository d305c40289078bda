package backtest

import (
	"context"
	"sort"
	"time"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
)

// BarProvider supplies daily bars for a symbol in ascending timestamp order,
// inclusive of both bounds.
type BarProvider interface {
	Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error)
}

// StaticProvider serves bars from memory. It is safe for concurrent reads.
type StaticProvider map[string][]models.PriceBar

// Bars returns the stored bars for symbol within [from, to].
func (p StaticProvider) Bars(_ context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	all := p[symbol]
	lo := sort.Search(len(all), func(i int) bool { return !all[i].Timestamp.Before(from) })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Timestamp.After(to) })
	if lo >= hi {
		return nil, nil
	}
	out := make([]models.PriceBar, hi-lo)
	copy(out, all[lo:hi])
	return out, nil
}

// ValidateBars rejects unsorted bars, more than one bar per calendar day and
// non-positive prices.
func ValidateBars(symbol string, bars []models.PriceBar) error {
	for i, b := range bars {
		if b.Close <= 0 || b.High < b.Low {
			return errors.NewDataError("bars", symbol, "bar on "+b.Timestamp.Format("2006-01-02")+" has invalid prices", errors.ErrInvalidBars)
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1]
		switch {
		case b.Timestamp.Before(prev.Timestamp):
			return errors.NewDataError("bars", symbol, "bars are not in ascending order at "+b.Timestamp.Format("2006-01-02"), errors.ErrInvalidBars)
		case b.Date().Equal(prev.Date()):
			return errors.NewDataError("bars", symbol, "duplicate bar for "+b.Timestamp.Format("2006-01-02"), errors.ErrInvalidBars)
		}
	}
	return nil
}

// WarmupDays is the calendar lookback needed before the start date to fill
// the indicator history of the given parameters.
func WarmupDays(params StrategyParams) int {
	need := signalHistory(params)
	// Roughly five trading days per seven calendar days, plus holidays.
	return need*7/5 + 10
}

// FetchBars loads and validates bars for every configured symbol, including
// warmupDays of history before the start date. Symbols with no bars inside
// the range are omitted; ErrNoData is returned when none have any.
func FetchBars(ctx context.Context, provider BarProvider, cfg Config, warmupDays int) (map[string][]models.PriceBar, error) {
	from := models.DayOf(cfg.StartDate).AddDate(0, 0, -warmupDays)
	to := models.DayOf(cfg.EndDate).Add(24*time.Hour - time.Nanosecond)

	out := make(map[string][]models.PriceBar, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		bars, err := provider.Bars(ctx, symbol, from, to)
		if err != nil {
			return nil, errors.Wrapf(err, "fetching bars for %s", symbol)
		}
		if err := ValidateBars(symbol, bars); err != nil {
			return nil, err
		}
		if !hasBarsFrom(bars, models.DayOf(cfg.StartDate)) {
			continue
		}
		out[symbol] = bars
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errors.ErrNoData, "%v between %s and %s",
			cfg.Symbols, cfg.StartDate.Format("2006-01-02"), cfg.EndDate.Format("2006-01-02"))
	}
	return out, nil
}

func hasBarsFrom(bars []models.PriceBar, start time.Time) bool {
	return len(bars) > 0 && !bars[len(bars)-1].Date().Before(start)
}
