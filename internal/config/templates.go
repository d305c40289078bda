package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# strategy-lab configuration
# Every key can be overridden with STRATEGYLAB_<SECTION>_<KEY>,
# e.g. STRATEGYLAB_ENGINE_SLIPPAGE=0.002

[engine]
# Annual risk-free rate used by Sharpe and Sortino
risk_free_rate = 0.02
# Smallest committed value an entry may have
min_position_value = 100.0
# Defaults for backtest and optimize when flags are not given
initial_capital = 100000.0
# Flat commission per fill
commission = 1.0
# Slippage as a fraction of price (0.001 = 0.1%)
slippage = 0.001
max_positions = 5

[limits]
# Calendar-day bounds for a single backtest (within 30-1095)
run_min_days = 30
run_max_days = 1095
# Calendar-day bounds for an optimization range (within 60-730)
optimization_min_days = 60
optimization_max_days = 730
# Grids larger than this are rejected before any run (at most 100)
max_combinations = 100

[optimizer]
# Combinations simulated in parallel
workers = 4
# sharpe, total_return, profit_factor or calmar
objective = "sharpe"

[risk]
# Capital at risk per trade, percent of portfolio
risk_per_trade_percent = 2.0
# low (x0.5), medium (x1) or high (x1.5)
tolerance = "medium"
# Largest position as percent of portfolio (at most 20)
max_position_percent = 20.0
# Positions correlated above the threshold are cut by the reduction
correlation_threshold = 0.7
correlation_reduction = 0.3

[storage]
# Bar source: sqlite, parquet, csv or synthetic
source = "sqlite"
# Empty paths resolve next to this file
db_path = ""
data_dir = ""
# Seed for the synthetic source
synthetic_seed = 1

[logging]
# debug, info, warn or error
level = "info"
console = true
file = true
file_path = ""
max_size = 100
max_backups = 7
max_age = 30
`

// writeTemplate creates the config directory and a commented config.toml.
func writeTemplate(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
