// Package optimizer grid-searches strategy parameters by running the
// backtest engine once per combination and ranking the results.
package optimizer

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/metrics"
	"strategy-lab/internal/models"
)

// Runner simulates one strategy over preloaded bars. *backtest.Engine
// implements it.
type Runner interface {
	RunWithBars(ctx context.Context, cfg backtest.Config, strategy backtest.Strategy, bars map[string][]models.PriceBar) (*backtest.Result, error)
}

// Options configures an Optimizer.
type Options struct {
	Workers         int
	MaxCombinations int
	Limits          backtest.Limits
}

// DefaultOptions runs four combinations at a time over 60-730 day ranges.
func DefaultOptions() Options {
	return Options{
		Workers:         4,
		MaxCombinations: DefaultMaxCombinations,
		Limits:          backtest.DefaultOptimizationLimits(),
	}
}

// Request describes one optimization.
type Request struct {
	Base      backtest.Strategy
	Grid      Grid
	Config    backtest.Config
	Objective metrics.Objective
}

// Importance classifies how strongly a parameter drives the objective.
type Importance string

const (
	ImportanceHigh   Importance = "HIGH"
	ImportanceMedium Importance = "MEDIUM"
	ImportanceLow    Importance = "LOW"
)

// ClassifyImportance maps |r| > 0.7 to HIGH and 0.4 <= |r| <= 0.7 to MEDIUM.
func ClassifyImportance(r float64) Importance {
	switch a := math.Abs(r); {
	case a > 0.7:
		return ImportanceHigh
	case a >= 0.4:
		return ImportanceMedium
	default:
		return ImportanceLow
	}
}

// Combination is the outcome of one parameter set.
type Combination struct {
	Rank       int                `json:"rank"`
	Key        string             `json:"key"`
	Parameters map[string]float64 `json:"parameters"`
	Value      float64            `json:"value"`
	RunID      string             `json:"run_id"`
	Report     metrics.Report     `json:"report"`
}

// Sensitivity is the correlation between a parameter and the objective.
type Sensitivity struct {
	Parameter   string     `json:"parameter"`
	Correlation float64    `json:"correlation"`
	Importance  Importance `json:"importance"`
}

// Result holds every combination ranked best first.
type Result struct {
	ID           string            `json:"id"`
	Objective    metrics.Objective `json:"objective"`
	Strategy     string            `json:"strategy"`
	Config       backtest.Config   `json:"config"`
	Combinations []Combination     `json:"combinations"`
	Best         Combination       `json:"best"`
	Sensitivity  []Sensitivity     `json:"sensitivity"`
	Evaluated    int               `json:"evaluated"`
	Duration     time.Duration     `json:"duration"`
}

// Optimizer fans combinations out to a Runner.
type Optimizer struct {
	runner Runner
	opts   Options
	logger zerolog.Logger
}

// New creates an optimizer.
func New(runner Runner, opts Options, logger zerolog.Logger) *Optimizer {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxCombinations < 1 {
		opts.MaxCombinations = DefaultMaxCombinations
	}
	if opts.Limits == (backtest.Limits{}) {
		opts.Limits = backtest.DefaultOptimizationLimits()
	}
	return &Optimizer{runner: runner, opts: opts, logger: logging.WithOperation(logger, "optimize")}
}

// Optimize validates the request, fetches bars once and runs the grid.
func (o *Optimizer) Optimize(ctx context.Context, req Request, provider backtest.BarProvider) (*Result, error) {
	combos, warmup, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	bars, err := backtest.FetchBars(ctx, provider, req.Config, warmup)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, req, combos, bars)
}

// OptimizeWithBars runs the grid over preloaded bars.
func (o *Optimizer) OptimizeWithBars(ctx context.Context, req Request, bars map[string][]models.PriceBar) (*Result, error) {
	combos, _, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, req, combos, bars)
}

// prepare rejects bad requests before anything is simulated and returns the
// strategies to run plus the widest warmup any of them needs.
func (o *Optimizer) prepare(req Request) ([]backtest.Strategy, int, error) {
	if err := req.Config.Validate(o.opts.Limits); err != nil {
		return nil, 0, err
	}
	if _, err := (metrics.Report{}).Value(req.Objective); err != nil {
		return nil, 0, err
	}

	params, err := req.Grid.Combinations(o.opts.MaxCombinations)
	if err != nil {
		return nil, 0, err
	}

	strategies := make([]backtest.Strategy, len(params))
	warmup := 0
	for i, p := range params {
		s := req.Base.With(p)
		decoded, err := s.Decode()
		if err != nil {
			return nil, 0, errors.Wrapf(err, "combination %s", s.Key())
		}
		if w := backtest.WarmupDays(decoded); w > warmup {
			warmup = w
		}
		strategies[i] = s
	}
	return strategies, warmup, nil
}

func (o *Optimizer) run(ctx context.Context, req Request, strategies []backtest.Strategy, bars map[string][]models.PriceBar) (*Result, error) {
	startedAt := time.Now()
	names := req.Grid.Names()
	slots := make([]Combination, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i := range strategies {
		i := i
		g.Go(func() error {
			s := strategies[i]
			res, err := o.runner.RunWithBars(gctx, req.Config, s, bars)
			if err != nil {
				return errors.Wrapf(err, "running %s", s.Key())
			}
			value, err := res.Report.Value(req.Objective)
			if err != nil {
				return err
			}
			slots[i] = Combination{
				Key:        gridKey(names, s.Parameters),
				Parameters: pick(names, s.Parameters),
				Value:      value,
				RunID:      res.RunID,
				Report:     res.Report,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rank(slots)
	result := &Result{
		ID:           uuid.NewString(),
		Objective:    req.Objective,
		Strategy:     req.Base.Name,
		Config:       req.Config,
		Combinations: slots,
		Best:         slots[0],
		Sensitivity:  Sensitivities(names, slots),
		Evaluated:    len(slots),
		Duration:     time.Since(startedAt),
	}
	logging.LogOptimization(o.logger, string(req.Objective), result.Evaluated, result.Best.Key, result.Best.Value, result.Duration)
	return result, nil
}

// rank orders combinations by value descending, ties by key ascending.
func rank(combos []Combination) {
	sort.SliceStable(combos, func(i, j int) bool {
		if combos[i].Value != combos[j].Value {
			return combos[i].Value > combos[j].Value
		}
		return combos[i].Key < combos[j].Key
	})
	for i := range combos {
		combos[i].Rank = i + 1
	}
}

// Sensitivities correlates each parameter with the objective across combinations.
func Sensitivities(names []string, combos []Combination) []Sensitivity {
	values := make([]float64, len(combos))
	for i, c := range combos {
		values[i] = c.Value
	}

	out := make([]Sensitivity, 0, len(names))
	for _, name := range names {
		xs := make([]float64, len(combos))
		for i, c := range combos {
			xs[i] = c.Parameters[name]
		}
		r := metrics.Pearson(xs, values)
		out = append(out, Sensitivity{
			Parameter:   name,
			Correlation: r,
			Importance:  ClassifyImportance(r),
		})
	}
	return out
}

func pick(names []string, params map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(names))
	for _, n := range names {
		out[n] = params[n]
	}
	return out
}

func gridKey(names []string, params map[string]float64) string {
	return backtest.Strategy{Parameters: pick(names, params)}.Key()
}
