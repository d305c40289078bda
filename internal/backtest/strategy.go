package backtest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/signal"
)

// Strategy is a named set of numeric parameters.
type Strategy struct {
	Name       string             `json:"name"`
	Parameters map[string]float64 `json:"parameters"`
}

// StrategyParams is the decoded, typed form of Strategy.Parameters.
// Percentages are whole numbers (5 means 5%).
type StrategyParams struct {
	ShortPeriod               int     `mapstructure:"short_period"`
	LongPeriod                int     `mapstructure:"long_period"`
	RSIPeriod                 int     `mapstructure:"rsi_period"`
	RSIOverbought             float64 `mapstructure:"rsi_overbought"`
	RSIOversold               float64 `mapstructure:"rsi_oversold"`
	StopLossPercent           float64 `mapstructure:"stop_loss_percent"`
	TakeProfitPercent         float64 `mapstructure:"take_profit_percent"`
	PositionPercent           float64 `mapstructure:"position_percent"`
	MaxPositionCapitalPercent float64 `mapstructure:"max_position_capital_percent"`
}

// MaxPositionCapitalCeiling caps any single entry, in percent of initial
// capital, whatever the strategy asks for.
const MaxPositionCapitalCeiling = 20.0

// DefaultStrategyParams returns the SMA 10/20 + RSI 14 crossover with a
// 5% stop, 15% target and 10% of cash per entry capped at 20% of capital.
func DefaultStrategyParams() StrategyParams {
	sp := signal.DefaultParams()
	return StrategyParams{
		ShortPeriod:               sp.ShortPeriod,
		LongPeriod:                sp.LongPeriod,
		RSIPeriod:                 sp.RSIPeriod,
		RSIOverbought:             sp.RSIOverbought,
		RSIOversold:               sp.RSIOversold,
		StopLossPercent:           5,
		TakeProfitPercent:         15,
		PositionPercent:           10,
		MaxPositionCapitalPercent: 20,
	}
}

// DefaultStrategy returns the crossover strategy with no overrides.
func DefaultStrategy() Strategy {
	return Strategy{Name: "sma_rsi_crossover", Parameters: map[string]float64{}}
}

// ParameterNames lists every key a Strategy may carry, sorted.
func ParameterNames() []string {
	names := []string{
		"short_period", "long_period", "rsi_period",
		"rsi_overbought", "rsi_oversold",
		"stop_loss_percent", "take_profit_percent",
		"position_percent", "max_position_capital_percent",
	}
	sort.Strings(names)
	return names
}

// With returns a copy of s with the given parameters overridden.
func (s Strategy) With(overrides map[string]float64) Strategy {
	params := make(map[string]float64, len(s.Parameters)+len(overrides))
	for k, v := range s.Parameters {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}
	return Strategy{Name: s.Name, Parameters: params}
}

// Decode applies Parameters over the defaults and validates the result.
func (s Strategy) Decode() (StrategyParams, error) {
	params := DefaultStrategyParams()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &params,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return params, errors.Wrap(err, "creating parameter decoder")
	}

	// Integer periods arrive as float64 from grids and JSON; reject fractions
	// before mapstructure truncates them.
	input := make(map[string]interface{}, len(s.Parameters))
	for k, v := range s.Parameters {
		switch k {
		case "short_period", "long_period", "rsi_period":
			if v != float64(int(v)) {
				return params, errors.Wrapf(errors.ErrInvalidStrategy, "%s must be a whole number, got %v", k, v)
			}
			input[k] = int(v)
		default:
			input[k] = v
		}
	}
	if err := decoder.Decode(input); err != nil {
		return params, errors.Wrapf(errors.ErrInvalidStrategy, "%s: %v", s.Name, err)
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// Validate checks that the parameters describe a usable strategy.
func (p StrategyParams) Validate() error {
	var problems []string
	if p.ShortPeriod < 1 {
		problems = append(problems, "short_period must be at least 1")
	}
	if p.LongPeriod <= p.ShortPeriod {
		problems = append(problems, "long_period must exceed short_period")
	}
	if p.RSIPeriod < 1 {
		problems = append(problems, "rsi_period must be at least 1")
	}
	if p.RSIOversold < 0 || p.RSIOverbought > 100 || p.RSIOversold >= p.RSIOverbought {
		problems = append(problems, "rsi bands must satisfy 0 <= oversold < overbought <= 100")
	}
	if p.StopLossPercent <= 0 || p.StopLossPercent >= 100 {
		problems = append(problems, "stop_loss_percent must be in (0, 100)")
	}
	if p.TakeProfitPercent <= 0 {
		problems = append(problems, "take_profit_percent must be positive")
	}
	if p.PositionPercent <= 0 || p.PositionPercent > 100 {
		problems = append(problems, "position_percent must be in (0, 100]")
	}
	if p.MaxPositionCapitalPercent <= 0 || p.MaxPositionCapitalPercent > MaxPositionCapitalCeiling {
		problems = append(problems, fmt.Sprintf("max_position_capital_percent must be in (0, %.0f]", MaxPositionCapitalCeiling))
	}
	if len(problems) > 0 {
		return errors.Wrap(errors.ErrInvalidStrategy, strings.Join(problems, "; "))
	}
	return nil
}

// SignalParams extracts the signal generator configuration.
func (p StrategyParams) SignalParams() signal.Params {
	return signal.Params{
		ShortPeriod:   p.ShortPeriod,
		LongPeriod:    p.LongPeriod,
		RSIPeriod:     p.RSIPeriod,
		RSIOverbought: p.RSIOverbought,
		RSIOversold:   p.RSIOversold,
	}
}

// Key renders the parameters in sorted order, e.g. "long_period=30,short_period=5".
func (s Strategy) Key() string {
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, s.Parameters[k])
	}
	return strings.Join(parts, ",")
}
