package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"strategy-lab/internal/errors"
	"strategy-lab/internal/models"
)

const csvDateLayout = "2006-01-02"

// barRow is one line of a daily bar CSV:
//
//	date,open,high,low,close,volume
//
// Dates may be plain calendar dates or RFC 3339 timestamps.
type barRow struct {
	Date   string  `csv:"date"`
	Open   float64 `csv:"open"`
	High   float64 `csv:"high"`
	Low    float64 `csv:"low"`
	Close  float64 `csv:"close"`
	Volume float64 `csv:"volume"`
}

// LoadCSVBars parses daily bars for symbol, sorted oldest first.
func LoadCSVBars(r io.Reader, symbol string) ([]models.PriceBar, error) {
	var rows []*barRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.NewDataError("csv", symbol, "failed to parse bars", err)
	}

	bars := make([]models.PriceBar, 0, len(rows))
	for i, row := range rows {
		ts, err := parseCSVDate(row.Date)
		if err != nil {
			return nil, errors.NewDataError("csv", symbol, fmt.Sprintf("line %d", i+2), err)
		}
		bars = append(bars, models.PriceBar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    int64(row.Volume),
		})
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	return bars, nil
}

// LoadCSVFile opens path and parses it with LoadCSVBars.
func LoadCSVFile(path, symbol string) ([]models.PriceBar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSVBars(f, symbol)
}

func parseCSVDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(csvDateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t.UTC(), nil
}

// CSVProvider serves bars from <Dir>/<SYMBOL>.csv. A symbol without a file
// has no bars.
type CSVProvider struct {
	Dir string
}

// NewCSVProvider creates a provider reading from dir.
func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir}
}

// Bars parses the symbol's file and returns the bars within [from, to].
func (p *CSVProvider) Bars(_ context.Context, symbol string, from, to time.Time) ([]models.PriceBar, error) {
	all, err := LoadCSVFile(filepath.Join(p.Dir, strings.ToUpper(symbol)+".csv"), symbol)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []models.PriceBar
	for _, b := range all {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

// WriteCSVBars writes bars in the format LoadCSVBars reads.
func WriteCSVBars(w io.Writer, bars []models.PriceBar) error {
	rows := make([]*barRow, len(bars))
	for i, b := range bars {
		rows[i] = &barRow{
			Date:   b.Timestamp.UTC().Format(csvDateLayout),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: float64(b.Volume),
		}
	}
	return gocsv.Marshal(rows, w)
}

type tradeRow struct {
	Symbol        string  `csv:"symbol"`
	Side          string  `csv:"side"`
	EntryDate     string  `csv:"entry_date"`
	ExitDate      string  `csv:"exit_date"`
	EntryPrice    float64 `csv:"entry_price"`
	ExitPrice     float64 `csv:"exit_price"`
	Quantity      float64 `csv:"quantity"`
	Profit        float64 `csv:"profit"`
	ProfitPercent float64 `csv:"profit_percent"`
	Commission    float64 `csv:"commission"`
	HoldingDays   int     `csv:"holding_days"`
	ExitReason    string  `csv:"exit_reason"`
}

// WriteTradesCSV exports closed trades, one per line, in the given order.
func WriteTradesCSV(w io.Writer, trades []models.ClosedTrade) error {
	rows := make([]*tradeRow, len(trades))
	for i, t := range trades {
		rows[i] = &tradeRow{
			Symbol:        t.Symbol,
			Side:          string(t.Side),
			EntryDate:     t.EntryDate.UTC().Format(csvDateLayout),
			ExitDate:      t.ExitDate.UTC().Format(csvDateLayout),
			EntryPrice:    t.EntryPrice,
			ExitPrice:     t.ExitPrice,
			Quantity:      t.Quantity,
			Profit:        t.Profit,
			ProfitPercent: t.ProfitPercent,
			Commission:    t.Commission,
			HoldingDays:   t.HoldingDays,
			ExitReason:    string(t.ExitReason),
		}
	}
	return gocsv.Marshal(rows, w)
}

type equityRow struct {
	Date            string  `csv:"date"`
	Equity          float64 `csv:"equity"`
	Cash            float64 `csv:"cash"`
	PositionValue   float64 `csv:"position_value"`
	Drawdown        float64 `csv:"drawdown"`
	DrawdownPercent float64 `csv:"drawdown_percent"`
}

// WriteEquityCSV exports the equity curve.
func WriteEquityCSV(w io.Writer, curve []models.EquityPoint) error {
	rows := make([]*equityRow, len(curve))
	for i, p := range curve {
		rows[i] = &equityRow{
			Date:            p.Date.UTC().Format(csvDateLayout),
			Equity:          p.Equity,
			Cash:            p.Cash,
			PositionValue:   p.PositionValue,
			Drawdown:        p.Drawdown,
			DrawdownPercent: p.DrawdownPercent,
		}
	}
	return gocsv.Marshal(rows, w)
}
