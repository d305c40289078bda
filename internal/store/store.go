// Package store provides bar sources and result persistence for backtests.
package store

import (
	"context"
	"time"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/models"
	"strategy-lab/internal/optimizer"
)

// Compile-time interface checks.
var (
	_ backtest.BarProvider = (*SQLiteStore)(nil)
	_ backtest.BarProvider = (*ParquetProvider)(nil)
	_ backtest.BarProvider = (*CSVProvider)(nil)
	_ backtest.BarProvider = (*SyntheticProvider)(nil)

	_ BarStore    = (*SQLiteStore)(nil)
	_ BarStore    = (*ParquetProvider)(nil)
	_ ResultStore = (*SQLiteStore)(nil)
)

// BarStore is a bar source that can also be written to.
type BarStore interface {
	backtest.BarProvider
	SaveBars(ctx context.Context, symbol string, bars []models.PriceBar) error
}

// ResultStore persists completed backtests and optimizations.
type ResultStore interface {
	SaveRun(ctx context.Context, result *backtest.Result) error
	GetRun(ctx context.Context, runID string) (*backtest.Result, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error)
	DeleteRun(ctx context.Context, runID string) error

	SaveOptimization(ctx context.Context, result *optimizer.Result) error
	GetOptimization(ctx context.Context, id string) (*optimizer.Result, error)
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Strategy string
	Since    time.Time
	Limit    int
}

// RunSummary is the list view of a stored backtest.
type RunSummary struct {
	RunID       string    `json:"run_id"`
	Strategy    string    `json:"strategy"`
	Parameters  string    `json:"parameters"`
	Symbols     []string  `json:"symbols"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	TotalReturn float64   `json:"total_return_percent"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown_percent"`
	TotalTrades int       `json:"total_trades"`
	CreatedAt   time.Time `json:"created_at"`
}
