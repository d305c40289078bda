package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/optimizer"
	"strategy-lab/internal/risk"
)

func TestLoad_WritesTemplateOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, path, cfg.Path)

	// The template matches the built-in defaults
	def := Default(filepath.Dir(path))
	def.Path = path
	assert.Equal(t, def, cfg)

	assert.Equal(t, filepath.Join(dir, "nested", "strategylab.db"), cfg.Storage.DBPath)
	assert.Equal(t, filepath.Join(dir, "nested", "data"), cfg.Storage.DataDir)
	assert.Equal(t, backtest.DefaultRunLimits(), cfg.EngineOptions().Limits)
	assert.Equal(t, backtest.DefaultOptimizationLimits(), cfg.OptimizerOptions().Limits)
	assert.Equal(t, optimizer.DefaultMaxCombinations, cfg.OptimizerOptions().MaxCombinations)
	assert.Equal(t, risk.DefaultLimits(), cfg.RiskLimits())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[engine]
commission = 2.5
max_positions = 3

[optimizer]
workers = 8
objective = "calmar"

[storage]
source = "parquet"
data_dir = "/srv/bars"
`), 0644))

	t.Setenv("STRATEGYLAB_ENGINE_SLIPPAGE", "0.002")
	t.Setenv("STRATEGYLAB_RISK_TOLERANCE", "high")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.Engine.Commission)
	assert.Equal(t, 3, cfg.Engine.MaxPositions)
	assert.Equal(t, 0.002, cfg.Engine.Slippage)
	assert.Equal(t, 100000.0, cfg.Engine.InitialCapital, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.OptimizerOptions().Workers)
	assert.Equal(t, "calmar", cfg.Optimizer.Objective)
	assert.Equal(t, "high", cfg.Risk.Tolerance)
	assert.Equal(t, SourceParquet, cfg.Storage.Source)
	assert.Equal(t, "/srv/bars", cfg.Storage.DataDir)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"negative commission", "[engine]\ncommission = -1\n", "engine.commission"},
		{"slippage of one", "[engine]\nslippage = 1.0\n", "engine.slippage"},
		{"inverted run limits", "[limits]\nrun_min_days = 100\nrun_max_days = 50\n", "limits.run_max_days"},
		{"run range too short", "[limits]\nrun_min_days = 7\n", "limits.run_min_days"},
		{"run range above three years", "[limits]\nrun_max_days = 5000\n", "limits.run_max_days"},
		{"optimization range too short", "[limits]\noptimization_min_days = 30\n", "limits.optimization_min_days"},
		{"optimization range above two years", "[limits]\noptimization_max_days = 1095\n", "limits.optimization_max_days"},
		{"position cap above 20%", "[risk]\nmax_position_percent = 60.0\n", "risk.max_position_percent"},
		{"zero position cap", "[risk]\nmax_position_percent = 0.0\n", "risk.max_position_percent"},
		{"grid above hard cap", "[limits]\nmax_combinations = 101\n", "limits.max_combinations"},
		{"no workers", "[optimizer]\nworkers = 0\n", "optimizer.workers"},
		{"unknown objective", "[optimizer]\nobjective = \"alpha\"\n", "optimizer.objective"},
		{"unknown tolerance", "[risk]\ntolerance = \"reckless\"\n", "risk.tolerance"},
		{"unknown source", "[storage]\nsource = \"ftp\"\n", "storage.source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0644))

			_, err := Load(path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrConfigInvalid))
			var verr *errors.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoad_TighterLimitsAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := "[limits]\nrun_max_days = 365\noptimization_max_days = 365\n\n[risk]\nmax_position_percent = 10.0\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 365, cfg.EngineOptions().Limits.MaxDays)

	res := cfg.RiskLimits().SizePosition(risk.SizingRequest{
		EntryPrice:          100,
		StopPrice:           95,
		PortfolioValue:      100000,
		RiskPerTradePercent: 2,
		Tolerance:           risk.ToleranceMedium,
	})
	assert.Equal(t, 10000.0, res.PositionValue)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine\ncommission = "), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}
