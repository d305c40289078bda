package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strategy-lab/internal/analysis/indicators"
	"strategy-lab/internal/config"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/risk"
	"strategy-lab/internal/store"
)

// testConfig points the CLI at a fresh config directory and keeps log
// output off the console.
func testConfig(t *testing.T) string {
	t.Helper()
	t.Setenv("STRATEGYLAB_LOGGING_CONSOLE", "false")
	return filepath.Join(t.TempDir(), "config.toml")
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

var synthRun = []string{
	"backtest", "-s", "TEST",
	"--source", "synthetic", "--seed", "7",
	"--start", "2023-01-01", "--end", "2023-12-31",
	"--json",
}

func TestBacktestStoresRun(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, synthRun...)
	require.NoError(t, err)

	var run struct {
		RunID  string `json:"run_id"`
		Config struct {
			Symbols []string `json:"symbols"`
		} `json:"config"`
		EquityCurve []json.RawMessage `json:"equity_curve"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	require.NotEmpty(t, run.RunID)
	assert.NotEmpty(t, run.EquityCurve)

	out, err = execute(t, cfg, "runs", "list", "--json")
	require.NoError(t, err)
	var summaries []store.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, run.RunID, summaries[0].RunID)
	assert.Equal(t, []string{"TEST"}, summaries[0].Symbols)

	out, err = execute(t, cfg, "runs", "show", run.RunID, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, run.RunID)

	_, err = execute(t, cfg, "runs", "delete", run.RunID)
	require.NoError(t, err)

	_, err = execute(t, cfg, "runs", "show", run.RunID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRunNotFound))
	assert.Equal(t, 1, ExitCode(err))
}

func TestBacktestIsReproducible(t *testing.T) {
	cfg := testConfig(t)
	args := append(append([]string{}, synthRun...), "--save=false")

	first, err := execute(t, cfg, args...)
	require.NoError(t, err)
	second, err := execute(t, cfg, args...)
	require.NoError(t, err)

	var a, b struct {
		Report json.RawMessage `json:"report"`
		Trades json.RawMessage `json:"trades"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &a))
	require.NoError(t, json.Unmarshal([]byte(second), &b))
	assert.JSONEq(t, string(a.Report), string(b.Report))
	assert.JSONEq(t, string(a.Trades), string(b.Trades))
}

func TestBacktestExportsCSV(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	equity := filepath.Join(dir, "equity.csv")

	args := append(append([]string{}, synthRun...), "--save=false", "--equity-csv", equity)
	_, err := execute(t, cfg, args...)
	require.NoError(t, err)

	data, err := os.ReadFile(equity)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Greater(t, len(lines), 1)
	assert.Equal(t, "date,equity,cash,position_value,drawdown,drawdown_percent", lines[0])
}

func TestBacktestRejectsUnknownParameter(t *testing.T) {
	cfg := testConfig(t)
	args := append(append([]string{}, synthRun...), "-p", "fast_period=3")

	_, err := execute(t, cfg, args...)
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestOptimizeRanksCombinations(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg,
		"optimize", "-s", "TEST",
		"--source", "synthetic", "--seed", "3",
		"--start", "2023-01-01", "--end", "2023-12-31",
		"-r", "short_period=5:10:5", "-r", "long_period=20:30:10",
		"--objective", "total_return", "--json",
	)
	require.NoError(t, err)

	var result struct {
		ID           string `json:"id"`
		Objective    string `json:"objective"`
		Evaluated    int    `json:"evaluated"`
		Combinations []struct {
			Rank  int     `json:"rank"`
			Value float64 `json:"value"`
		} `json:"combinations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "total_return", result.Objective)
	assert.Equal(t, 4, result.Evaluated)
	require.Len(t, result.Combinations, 4)
	for i, c := range result.Combinations {
		assert.Equal(t, i+1, c.Rank)
		if i > 0 {
			assert.LessOrEqual(t, c.Value, result.Combinations[i-1].Value)
		}
	}

	out, err = execute(t, cfg, "runs", "optimization", result.ID, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, result.ID)
}

func TestOptimizeRejectsLargeGrid(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg,
		"optimize", "-s", "TEST", "--source", "synthetic",
		"--start", "2023-01-01", "--end", "2023-12-31",
		"-r", "short_period=1:11:1", "-r", "long_period=20:30:1",
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTooManyCombinations))
	assert.Equal(t, 2, ExitCode(err))
}

func TestRiskSize(t *testing.T) {
	cfg := testConfig(t)

	tests := []struct {
		name   string
		args   []string
		shares float64
	}{
		{
			// 2% of 100k over a $5 stop is 400 shares, x1.5 for the assumed
			// 20% volatility, then capped at 20% of the portfolio.
			name:   "capped",
			args:   []string{"--entry", "100", "--stop", "95", "--portfolio", "100000"},
			shares: 200,
		},
		{
			name:   "low tolerance",
			args:   []string{"--entry", "100", "--stop", "90", "--portfolio", "100000", "--tolerance", "low"},
			shares: 150,
		},
		{
			name:   "stop equals entry",
			args:   []string{"--entry", "100", "--stop", "100", "--portfolio", "100000"},
			shares: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"risk", "size", "--json"}, tt.args...)
			out, err := execute(t, cfg, args...)
			require.NoError(t, err)

			var res risk.SizingResult
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Equal(t, tt.shares, res.Shares)
		})
	}
}

func TestRiskStopLoss(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "risk", "stoploss", "--entry", "100", "--current", "130", "--json")
	require.NoError(t, err)

	var rec risk.StopLossRecommendation
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, risk.StopTrailing, rec.Type)
	assert.Less(t, rec.StopPrice, 130.0)

	_, err = execute(t, cfg, "risk", "stoploss", "--entry", "100", "--current", "90", "--side", "sideways")
	assert.Error(t, err)
}

func TestMeasureVolatility(t *testing.T) {
	app := &App{Config: config.Default(t.TempDir()), Logger: zerolog.Nop()}
	asOf := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)

	vol, err := app.measureVolatility(context.Background(), config.SourceSynthetic, "TEST", asOf)
	require.NoError(t, err)
	assert.Greater(t, vol, 0.0)
	assert.Less(t, vol, 2.0)

	// No CSV file for the symbol means no bars to measure.
	_, err = app.measureVolatility(context.Background(), config.SourceCSV, "NONE", asOf)
	require.Error(t, err)
	assert.ErrorIs(t, err, indicators.ErrInsufficientData)
}

func TestRiskPortfolioFromHoldings(t *testing.T) {
	cfg := testConfig(t)

	out, err := execute(t, cfg, "risk", "portfolio",
		"--holding", "AAPL=60000", "--holding", "MSFT=40000", "--json")
	require.NoError(t, err)

	var pr risk.PortfolioRisk
	require.NoError(t, json.Unmarshal([]byte(out), &pr))
	assert.Equal(t, "AAPL", pr.LargestHolding)
	assert.InDelta(t, 0.6, pr.ConcentrationRisk, 1e-9)
	assert.InDelta(t, 0.52, pr.CorrelationRisk, 1e-9)

	out, err = execute(t, cfg, "risk", "portfolio",
		"--holding", "AAPL=60000", "--holding", "MSFT=40000")
	require.NoError(t, err)
	assert.Contains(t, out, "60.00K")
	assert.Contains(t, out, "40.0%")
}

func TestDataSynthAndList(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg, "data", "synth", "-s", "aaa,bbb",
		"--start", "2024-01-01", "--end", "2024-01-31", "--seed", "5")
	require.NoError(t, err)

	out, err := execute(t, cfg, "data", "list", "--json")
	require.NoError(t, err)

	var coverage []store.SymbolCoverage
	require.NoError(t, json.Unmarshal([]byte(out), &coverage))
	require.Len(t, coverage, 2)
	assert.Equal(t, "AAA", coverage[0].Symbol)
	assert.Equal(t, "BBB", coverage[1].Symbol)
	// January 2024 has 23 weekdays.
	assert.Equal(t, 23, coverage[0].Bars)
}

func TestDataImportCSV(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "demo.csv")
	csv := "date,open,high,low,close,volume\n" +
		"2024-01-03,10,11,9,10.5,1000\n" +
		"2024-01-02,9,10,8,9.5,900\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0644))

	_, err := execute(t, cfg, "data", "import", path)
	require.NoError(t, err)

	out, err := execute(t, cfg, "data", "export", "DEMO", "--start", "2024-01-01", "--end", "2024-01-31")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "2024-01-02"))
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig(t)

	_, err := execute(t, cfg, "config", "validate")
	require.NoError(t, err)

	t.Setenv("STRATEGYLAB_LIMITS_MAX_COMBINATIONS", "500")
	_, err = execute(t, cfg, "config", "validate")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestParseRange(t *testing.T) {
	name, r, err := parseRange("short_period=5:15:5")
	require.NoError(t, err)
	assert.Equal(t, "short_period", name)
	assert.Equal(t, 5.0, r.Min)
	assert.Equal(t, 15.0, r.Max)
	assert.Equal(t, 5.0, r.Step)

	_, r, err = parseRange("rsi_period=14")
	require.NoError(t, err)
	assert.Equal(t, r.Min, r.Max)

	for _, bad := range []string{"short_period", "=1:2:1", "x=1:2", "x=a:b:c"} {
		_, _, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}
