// Package backtest replays a strategy over historical daily bars to produce
// simulated trades, an equity curve and a metrics report.
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/metrics"
	"strategy-lab/internal/models"
	"strategy-lab/internal/signal"
)

// DefaultMinPositionValue is the smallest committed value an entry may have.
const DefaultMinPositionValue = 100.0

// Options holds engine-wide settings. They never change during a run.
type Options struct {
	RiskFreeRate     float64
	MinPositionValue float64
	Limits           Limits
}

// DefaultOptions returns a 2% risk-free rate, a 100 minimum position value
// and the single-run day limits.
func DefaultOptions() Options {
	return Options{
		RiskFreeRate:     metrics.DefaultRiskFreeRate,
		MinPositionValue: DefaultMinPositionValue,
		Limits:           DefaultRunLimits(),
	}
}

// Engine runs deterministic, single-threaded simulations. An Engine holds no
// per-run state and may be shared across goroutines.
type Engine struct {
	opts   Options
	logger zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	return &Engine{opts: opts, logger: logger}
}

// Options returns the engine settings.
func (e *Engine) Options() Options {
	return e.opts
}

// Run validates cfg, fetches bars from provider and simulates strategy.
func (e *Engine) Run(ctx context.Context, cfg Config, strategy Strategy, provider BarProvider) (*Result, error) {
	if err := cfg.Validate(e.opts.Limits); err != nil {
		return nil, err
	}
	params, err := strategy.Decode()
	if err != nil {
		return nil, err
	}

	bars, err := FetchBars(ctx, provider, cfg, WarmupDays(params))
	if err != nil {
		return nil, err
	}
	return e.simulate(ctx, cfg, strategy, params, bars)
}

// RunWithBars simulates strategy over preloaded bars, which are only read.
// The optimizer uses it to share one fetch across many runs.
func (e *Engine) RunWithBars(ctx context.Context, cfg Config, strategy Strategy, bars map[string][]models.PriceBar) (*Result, error) {
	if err := cfg.Validate(e.opts.Limits); err != nil {
		return nil, err
	}
	params, err := strategy.Decode()
	if err != nil {
		return nil, err
	}
	for _, symbol := range cfg.Symbols {
		if err := ValidateBars(symbol, bars[symbol]); err != nil {
			return nil, err
		}
	}
	return e.simulate(ctx, cfg, strategy, params, bars)
}

func (e *Engine) simulate(ctx context.Context, cfg Config, strategy Strategy, params StrategyParams, bars map[string][]models.PriceBar) (*Result, error) {
	startedAt := time.Now()
	runID := uuid.NewString()
	logger := logging.WithRunID(e.logger, runID)

	start, end := models.DayOf(cfg.StartDate), models.DayOf(cfg.EndDate)
	dates := tradingDates(cfg.Symbols, bars, start, end)
	if len(dates) == 0 {
		return nil, errors.Wrapf(errors.ErrNoData, "%v between %s and %s",
			cfg.Symbols, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	for _, symbol := range cfg.Symbols {
		if len(bars[symbol]) == 0 {
			sl := logging.WithSymbol(logger, symbol)
			sl.Warn().Msg("No bars for symbol, skipping")
		}
	}

	gen := signal.NewGenerator(params.SignalParams())
	book := newPositionBook(cfg, params, e.opts.MinPositionValue)
	tracker := newEquityTracker(len(dates))
	cursor := make(map[string]int, len(cfg.Symbols))
	lastClose := make(map[string]float64, len(cfg.Symbols))

	for di, day := range dates {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "backtest cancelled on %s (day %d of %d)", day.Format("2006-01-02"), di+1, len(dates))
		}
		last := di == len(dates)-1

		for _, symbol := range cfg.Symbols {
			series := bars[symbol]
			c := cursor[symbol]
			for c < len(series) && !series[c].Date().After(day) {
				c++
			}
			cursor[symbol] = c
			if c == 0 || !series[c-1].Date().Equal(day) {
				continue
			}
			bar := series[c-1]
			lastClose[symbol] = bar.Close

			if trade, ok := book.checkBracket(bar); ok {
				e.logTrade(logger, trade)
			}

			sig := gen.Evaluate(series[:c])
			switch sig.Kind {
			case models.SignalSell:
				if trade, ok := book.closeAt(symbol, bar.Close, day, models.ExitSignal); ok {
					e.logTrade(logger, trade)
				}
			case models.SignalBuy:
				// A position opened on the last day would be closed at the same price.
				if last {
					break
				}
				if pos, ok := book.openLong(bar); ok {
					sl := logging.WithSymbol(logger, symbol)
					sl.Debug().
						Float64("quantity", pos.Quantity).
						Float64("entry", pos.EntryPrice).
						Float64("stop_loss", pos.StopLoss).
						Float64("take_profit", pos.TakeProfit).
						Float64("strength", sig.Strength).
						Msg("Position opened")
				}
			}
		}

		if last {
			for _, pos := range book.openPositions() {
				if trade, ok := book.closeAt(pos.Symbol, lastClose[pos.Symbol], day, models.ExitEndOfPeriod); ok {
					e.logTrade(logger, trade)
				}
			}
		}

		tracker.record(day, book.cash, book.marketValue(lastClose))
	}

	curve := tracker.curve()
	trades := book.closed
	if trades == nil {
		trades = []models.ClosedTrade{}
	}
	report := metrics.Compute(cfg.InitialCapital, curve, trades, metrics.Options{RiskFreeRate: e.opts.RiskFreeRate})

	result := &Result{
		RunID:       runID,
		Strategy:    strategy,
		Config:      cfg,
		Report:      report,
		Trades:      trades,
		EquityCurve: curve,
		FinalCash:   book.cash,
		StartedAt:   startedAt,
		Duration:    time.Since(startedAt),
	}
	logging.LogRun(logger, strategy.Name, len(dates), len(trades), report.TotalReturnPercent, report.SharpeRatio, result.Duration)
	return result, nil
}

func (e *Engine) logTrade(logger zerolog.Logger, t models.ClosedTrade) {
	logging.LogTrade(logger, t.Symbol, string(t.ExitReason), t.Quantity, t.EntryPrice, t.ExitPrice, t.Profit)
}

// tradingDates is the sorted union of bar dates within [start, end].
func tradingDates(symbols []string, bars map[string][]models.PriceBar, start, end time.Time) []time.Time {
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, symbol := range symbols {
		for _, b := range bars[symbol] {
			d := b.Date()
			if d.Before(start) || d.After(end) || seen[d] {
				continue
			}
			seen[d] = true
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}

func signalHistory(params StrategyParams) int {
	return signal.NewGenerator(params.SignalParams()).RequiredHistory()
}
