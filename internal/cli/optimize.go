package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/logging"
	"strategy-lab/internal/metrics"
	"strategy-lab/internal/optimizer"
)

func newOptimizeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Search a parameter grid for the best objective",
		Long: `Run one backtest per combination of a parameter grid and rank the results.

Bars are fetched once and shared by every run. Grids with more combinations
than the configured limit are rejected before anything is simulated.

A grid comes from a YAML file:

  objective: sharpe
  parameters:
    short_period: {min: 5, max: 15, step: 5}
    long_period:  {min: 20, max: 40, step: 10}

or from --range flags of the form name=min:max:step.`,
		Example: `  strategylab optimize -s AAPL --grid grid.yaml
  strategylab optimize -s AAPL -r short_period=5:15:5 -r long_period=20:40:10 --objective calmar`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			ctx = logging.WithLogger(ctx, app.Logger)

			grid, fileObjective, err := gridFromFlags(cmd)
			if err != nil {
				return err
			}

			objectiveName := app.Config.Optimizer.Objective
			if fileObjective != "" {
				objectiveName = fileObjective
			}
			if cmd.Flags().Changed("objective") {
				objectiveName, _ = cmd.Flags().GetString("objective")
			}
			objective, err := metrics.ParseObjective(objectiveName)
			if err != nil {
				return err
			}

			cfg, err := app.runConfig(cmd)
			if err != nil {
				return err
			}
			base, err := strategyFromFlags(cmd)
			if err != nil {
				return err
			}
			provider, err := app.providerFromFlags(cmd)
			if err != nil {
				return err
			}

			opts := app.Config.OptimizerOptions()
			if cmd.Flags().Changed("workers") {
				opts.Workers, _ = cmd.Flags().GetInt("workers")
			}

			opt := optimizer.New(app.Engine(), opts, app.Logger)
			result, err := opt.Optimize(ctx, optimizer.Request{
				Base:      base,
				Grid:      grid,
				Config:    cfg,
				Objective: objective,
			}, provider)
			if err != nil {
				return err
			}

			save, _ := cmd.Flags().GetBool("save")
			if save {
				db, err := app.Store()
				if err != nil {
					return err
				}
				if err := db.SaveOptimization(ctx, result); err != nil {
					return err
				}
			}

			if output.IsJSON() {
				return output.JSON(result)
			}

			top, _ := cmd.Flags().GetInt("top")
			displayOptimization(output, result, top)
			if save {
				output.Dim("Saved as optimization %s", result.ID)
			}
			return nil
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("grid", "", "YAML grid file")
	cmd.Flags().StringSliceP("range", "r", nil, "parameter range name=min:max:step (repeatable)")
	cmd.Flags().String("objective", "", "sharpe, total_return, profit_factor or calmar (default from config)")
	cmd.Flags().Int("workers", 0, "combinations simulated in parallel (default from config)")
	cmd.Flags().Int("top", 10, "number of ranked combinations to show")
	cmd.Flags().Bool("save", true, "store the optimization in the database")

	return cmd
}

// gridFromFlags merges --grid and --range; ranges override the file.
func gridFromFlags(cmd *cobra.Command) (optimizer.Grid, string, error) {
	path, _ := cmd.Flags().GetString("grid")
	ranges, _ := cmd.Flags().GetStringSlice("range")

	grid := optimizer.Grid{}
	objective := ""
	if path != "" {
		g, obj, err := optimizer.LoadGrid(path)
		if err != nil {
			return nil, "", err
		}
		grid, objective = g, obj
	}
	for _, spec := range ranges {
		name, r, err := parseRange(spec)
		if err != nil {
			return nil, "", err
		}
		grid[name] = r
	}
	if len(grid) == 0 {
		return nil, "", errors.NewValidationError("grid", nil, "give --grid or at least one --range")
	}
	return grid, objective, nil
}

// parseRange parses name=min:max:step, or name=value for a fixed value.
func parseRange(spec string) (string, optimizer.Range, error) {
	name, body, ok := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", optimizer.Range{}, errors.NewValidationError("range", spec, "must be name=min:max:step")
	}

	parts := strings.Split(body, ":")
	nums := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return "", optimizer.Range{}, errors.NewValidationError("range", spec, "bounds must be numbers")
		}
		nums[i] = v
	}

	var r optimizer.Range
	switch len(nums) {
	case 1:
		r = optimizer.Range{Min: nums[0], Max: nums[0], Step: 1}
	case 3:
		r = optimizer.Range{Min: nums[0], Max: nums[1], Step: nums[2]}
	default:
		return "", optimizer.Range{}, errors.NewValidationError("range", spec, "must be name=min:max:step")
	}
	if _, err := r.Values(); err != nil {
		return "", optimizer.Range{}, err
	}
	return name, r, nil
}

func displayOptimization(output *Output, result *optimizer.Result, top int) {
	best := result.Best
	output.Box(fmt.Sprintf("Optimization by %s", result.Objective), []string{
		fmt.Sprintf("Combinations: %d evaluated in %s", result.Evaluated, FormatDuration(result.Duration)),
		fmt.Sprintf("Period:       %s to %s", FormatDate(result.Config.StartDate), FormatDate(result.Config.EndDate)),
		fmt.Sprintf("Best:         %s", best.Key),
		fmt.Sprintf("Value:        %.4f", best.Value),
		fmt.Sprintf("Summary:      %s", best.Report.Summary()),
	})
	output.Println()

	if top <= 0 || top > len(result.Combinations) {
		top = len(result.Combinations)
	}
	table := NewTable(output, "Rank", "Parameters", string(result.Objective), "Return", "Max DD", "Trades")
	for _, c := range result.Combinations[:top] {
		table.AddRow(
			fmt.Sprintf("%d", c.Rank),
			c.Key,
			fmt.Sprintf("%.4f", c.Value),
			output.FormatPercent(c.Report.TotalReturnPercent),
			fmt.Sprintf("%.2f%%", c.Report.MaxDrawdownPercent),
			fmt.Sprintf("%d", c.Report.TotalTrades),
		)
	}
	table.Render()
	output.Println()

	if len(result.Sensitivity) > 0 {
		output.Bold("Parameter sensitivity")
		sens := NewTable(output, "Parameter", "Correlation", "Importance")
		for _, s := range result.Sensitivity {
			sens.AddRow(s.Parameter, fmt.Sprintf("%+.3f", s.Correlation), output.Level(string(s.Importance)))
		}
		sens.Render()
	}
}
