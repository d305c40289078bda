package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"strategy-lab/internal/backtest"
	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
	"strategy-lab/internal/optimizer"
)

// SQLiteStore keeps daily bars and run results in a single SQLite file.
// Timestamps are stored as Unix milliseconds.
type SQLiteStore struct {
	db    *sql.DB
	retry RetryConfig
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Optimizer workers read bars concurrently
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db, retry: DefaultRetryConfig()}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Daily OHLCV bars
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		ts INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, ts)
	);

	-- Completed backtests; the full result is kept as JSON
	CREATE TABLE IF NOT EXISTS backtest_runs (
		run_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		parameters TEXT NOT NULL,
		symbols TEXT NOT NULL,
		start_date INTEGER NOT NULL,
		end_date INTEGER NOT NULL,
		total_return REAL NOT NULL,
		sharpe_ratio REAL NOT NULL,
		max_drawdown REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	-- Completed optimizations
	CREATE TABLE IF NOT EXISTS optimization_runs (
		id TEXT PRIMARY KEY,
		objective TEXT NOT NULL,
		strategy TEXT NOT NULL,
		evaluated INTEGER NOT NULL,
		best_key TEXT NOT NULL,
		best_value REAL NOT NULL,
		result TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_ts ON candles(symbol, ts);
	CREATE INDEX IF NOT EXISTS idx_runs_strategy ON backtest_runs(strategy);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON backtest_runs(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// ============================================================================
// Bars
// ============================================================================

// SaveBars upserts bars for a symbol; a bar with an existing timestamp is replaced.
func (s *SQLiteStore) SaveBars(ctx context.Context, symbol string, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}
	return Retry(ctx, s.retry, func() error {
		return s.saveBars(ctx, symbol, bars)
	})
}

func (s *SQLiteStore) saveBars(ctx context.Context, symbol string, bars []models.PriceBar) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		_, err := stmt.ExecContext(ctx, symbol, b.Timestamp.UnixMilli(), b.Open, b.High, b.Low, b.Close, b.Volume)
		if err != nil {
			return fmt.Errorf("failed to insert bar %s: %w", b.Timestamp.Format("2006-01-02"), err)
		}
	}

	return tx.Commit()
}

// Bars returns the stored bars for symbol within [from, to], oldest first.
func (s *SQLiteStore) Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND ts >= ? AND ts <= ?
		ORDER BY ts ASC
	`, symbol, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var ts int64
		b := models.PriceBar{Symbol: symbol}
		if err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		bars = append(bars, b)
	}

	return bars, rows.Err()
}

// SymbolCoverage describes the stored history of one symbol.
type SymbolCoverage struct {
	Symbol string    `json:"symbol"`
	First  time.Time `json:"first"`
	Last   time.Time `json:"last"`
	Bars   int       `json:"bars"`
}

// Coverage lists every stored symbol with its first and last bar.
func (s *SQLiteStore) Coverage(ctx context.Context) ([]SymbolCoverage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, MIN(ts), MAX(ts), COUNT(*)
		FROM candles
		GROUP BY symbol
		ORDER BY symbol
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	var out []SymbolCoverage
	for rows.Next() {
		var c SymbolCoverage
		var first, last int64
		if err := rows.Scan(&c.Symbol, &first, &last, &c.Bars); err != nil {
			return nil, fmt.Errorf("failed to scan coverage: %w", err)
		}
		c.First = time.UnixMilli(first).UTC()
		c.Last = time.UnixMilli(last).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastBar returns the timestamp of the newest stored bar for symbol, or the
// zero time when there is none.
func (s *SQLiteStore) LastBar(ctx context.Context, symbol string) (time.Time, error) {
	var ts sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(ts) FROM candles WHERE symbol = ?`, symbol).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last bar: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return time.UnixMilli(ts.Int64).UTC(), nil
}

// ============================================================================
// Backtest runs
// ============================================================================

// SaveRun stores a completed backtest, replacing any run with the same ID.
func (s *SQLiteStore) SaveRun(ctx context.Context, result *backtest.Result) error {
	if result == nil || result.RunID == "" {
		return errors.New("run has no ID")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	symbols, err := json.Marshal(result.Config.Symbols)
	if err != nil {
		return fmt.Errorf("failed to marshal symbols: %w", err)
	}

	created := result.StartedAt
	if created.IsZero() {
		created = time.Now()
	}

	const query = `
		INSERT OR REPLACE INTO backtest_runs (
			run_id, strategy, parameters, symbols, start_date, end_date,
			total_return, sharpe_ratio, max_drawdown, total_trades, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = Retry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			result.RunID, result.Strategy.Name, result.Strategy.Key(), string(symbols),
			result.Config.StartDate.UnixMilli(), result.Config.EndDate.UnixMilli(),
			result.Report.TotalReturnPercent, result.Report.SharpeRatio,
			result.Report.MaxDrawdownPercent, result.Report.TotalTrades,
			string(data), created.UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun loads a stored backtest. Unknown IDs give ErrRunNotFound.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*backtest.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM backtest_runs WHERE run_id = ?`, runID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrRunNotFound, "backtest %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var result backtest.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}
	return &result, nil
}

// ListRuns returns stored backtests, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]RunSummary, error) {
	query := `
		SELECT run_id, strategy, parameters, symbols, start_date, end_date,
		       total_return, sharpe_ratio, max_drawdown, total_trades, created_at
		FROM backtest_runs`

	var conditions []string
	var args []interface{}
	if filter.Strategy != "" {
		conditions = append(conditions, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, run_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		var symbols string
		var start, end, created int64
		if err := rows.Scan(&r.RunID, &r.Strategy, &r.Parameters, &symbols, &start, &end,
			&r.TotalReturn, &r.SharpeRatio, &r.MaxDrawdown, &r.TotalTrades, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(symbols), &r.Symbols); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symbols for %s: %w", r.RunID, err)
		}
		r.StartDate = time.UnixMilli(start).UTC()
		r.EndDate = time.UnixMilli(end).UTC()
		r.CreatedAt = time.UnixMilli(created).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// DeleteRun removes a stored backtest. Unknown IDs give ErrRunNotFound.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM backtest_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return errors.Wrapf(errors.ErrRunNotFound, "backtest %s", runID)
	}
	return nil
}

// ============================================================================
// Optimizations
// ============================================================================

// SaveOptimization stores a completed optimization.
func (s *SQLiteStore) SaveOptimization(ctx context.Context, result *optimizer.Result) error {
	if result == nil || result.ID == "" {
		return errors.New("optimization has no ID")
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal optimization: %w", err)
	}

	const query = `
		INSERT OR REPLACE INTO optimization_runs (
			id, objective, strategy, evaluated, best_key, best_value, result, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = Retry(ctx, s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			result.ID, string(result.Objective), result.Strategy, result.Evaluated,
			result.Best.Key, result.Best.Value, string(data), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save optimization: %w", err)
	}
	return nil
}

// GetOptimization loads a stored optimization. Unknown IDs give ErrRunNotFound.
func (s *SQLiteStore) GetOptimization(ctx context.Context, id string) (*optimizer.Result, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT result FROM optimization_runs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrRunNotFound, "optimization %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get optimization: %w", err)
	}

	var result optimizer.Result
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal optimization %s: %w", id, err)
	}
	return &result, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
