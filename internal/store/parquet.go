package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"strategy-lab/internal/models"
)

// ParquetProvider reads and writes daily bars as Parquet files, one per
// symbol and year:
//
//	<DataDir>/daily/<SYMBOL>/<YYYY>.parquet
type ParquetProvider struct {
	DataDir string
}

// NewParquetProvider creates a provider rooted at dataDir.
func NewParquetProvider(dataDir string) *ParquetProvider {
	return &ParquetProvider{DataDir: dataDir}
}

// BarRecord is the on-disk schema for a daily bar.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// Bars reads the year files covering [from, to]. Missing years are skipped.
func (p *ParquetProvider) Bars(ctx context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	for year := from.UTC().Year(); year <= to.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := p.barPath(symbol, year)
		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(from) || ts.After(to) {
				continue
			}
			bars = append(bars, models.PriceBar{
				Symbol:    symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// SaveBars merges bars into the year files, replacing bars with the same
// timestamp.
func (p *ParquetProvider) SaveBars(_ context.Context, symbol string, bars []models.PriceBar) error {
	byYear := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Timestamp.UTC().Year()
		byYear[year] = append(byYear[year], BarRecord{
			Symbol:    strings.ToUpper(symbol),
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for year, records := range byYear {
		path := p.barPath(symbol, year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := writeParquetFile(path, mergeBarRecords(existing, records)); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

func (p *ParquetProvider) barPath(symbol string, year int) string {
	return filepath.Join(p.DataDir, "daily", strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by timestamp, preferring incoming records.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}
