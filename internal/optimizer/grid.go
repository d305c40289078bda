package optimizer

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"strategy-lab/internal/errors"
)

// DefaultMaxCombinations is the largest grid the optimizer will run.
const DefaultMaxCombinations = 100

// Range is an inclusive numeric sweep for one parameter.
type Range struct {
	Min  float64 `yaml:"min" json:"min"`
	Max  float64 `yaml:"max" json:"max"`
	Step float64 `yaml:"step" json:"step"`
}

// Values enumerates min, min+step, ... up to max. Max is always included,
// even when it is not a whole number of steps from min.
func (r Range) Values() ([]float64, error) {
	if r.Min > r.Max {
		return nil, errors.NewValidationError("range", r, "min must not exceed max")
	}
	if r.Min == r.Max {
		return []float64{r.Min}, nil
	}
	if r.Step <= 0 {
		return nil, errors.NewValidationError("range.step", r.Step, "step must be positive")
	}

	const eps = 1e-9
	var values []float64
	for i := 0; ; i++ {
		v := r.Min + float64(i)*r.Step
		if v > r.Max+eps {
			break
		}
		values = append(values, roundNear(v))
		if len(values) > DefaultMaxCombinations*DefaultMaxCombinations {
			return nil, errors.NewValidationError("range.step", r.Step, "step is too small for the range")
		}
	}
	if last := values[len(values)-1]; math.Abs(last-r.Max) > eps {
		values = append(values, r.Max)
	} else {
		values[len(values)-1] = r.Max
	}
	return values, nil
}

// roundNear removes accumulated float noise such as 0.30000000000000004.
func roundNear(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}

// Grid maps parameter names to their sweeps.
type Grid map[string]Range

// Names returns the parameter names in sorted order.
func (g Grid) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the Cartesian product size without enumerating it.
func (g Grid) Size() (int, error) {
	if len(g) == 0 {
		return 0, errors.NewValidationError("grid", 0, "at least one parameter range is required")
	}
	size := 1
	for _, name := range g.Names() {
		values, err := g[name].Values()
		if err != nil {
			return 0, errors.Wrapf(err, "parameter %s", name)
		}
		size *= len(values)
		if size > math.MaxInt32 {
			return size, nil
		}
	}
	return size, nil
}

// Combinations enumerates the Cartesian product in lexical order of the
// sorted parameter names. It fails with ErrTooManyCombinations when the
// product exceeds max.
func (g Grid) Combinations(max int) ([]map[string]float64, error) {
	size, err := g.Size()
	if err != nil {
		return nil, err
	}
	if size > max {
		return nil, errors.NewLimitError("combinations", size, max, errors.ErrTooManyCombinations)
	}

	names := g.Names()
	axes := make([][]float64, len(names))
	for i, name := range names {
		axes[i], _ = g[name].Values()
	}

	combos := make([]map[string]float64, 0, size)
	idx := make([]int, len(names))
	for {
		combo := make(map[string]float64, len(names))
		for i, name := range names {
			combo[name] = axes[i][idx[i]]
		}
		combos = append(combos, combo)

		// Odometer increment, last name fastest.
		k := len(idx) - 1
		for k >= 0 {
			idx[k]++
			if idx[k] < len(axes[k]) {
				break
			}
			idx[k] = 0
			k--
		}
		if k < 0 {
			return combos, nil
		}
	}
}

// gridFile is the YAML layout of a grid file:
//
//	parameters:
//	  short_period: {min: 5, max: 15, step: 5}
//	  long_period:  {min: 20, max: 40, step: 10}
type gridFile struct {
	Objective  string           `yaml:"objective"`
	Parameters map[string]Range `yaml:"parameters"`
}

// LoadGrid reads a YAML grid file. The returned objective is empty when the
// file does not name one.
func LoadGrid(path string) (Grid, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "reading grid file")
	}
	return ParseGrid(data)
}

// ParseGrid decodes a YAML grid document.
func ParseGrid(data []byte) (Grid, string, error) {
	var f gridFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, "", errors.Wrap(err, "parsing grid")
	}
	if len(f.Parameters) == 0 {
		return nil, "", errors.NewValidationError("parameters", nil, "grid file defines no parameters")
	}
	grid := Grid(f.Parameters)
	for _, name := range grid.Names() {
		if _, err := grid[name].Values(); err != nil {
			return nil, "", errors.Wrapf(err, "parameter %s", name)
		}
	}
	return grid, f.Objective, nil
}

func (r Range) String() string {
	return fmt.Sprintf("%g..%g step %g", r.Min, r.Max, r.Step)
}
