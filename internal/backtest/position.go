package backtest

import (
	"math"
	"time"

	"strategy-lab/internal/models"
)

// Position is an open simulated holding.
type Position struct {
	Symbol          string      `json:"symbol"`
	Side            models.Side `json:"side"`
	EntryPrice      float64     `json:"entry_price"`
	EntryDate       time.Time   `json:"entry_date"`
	Quantity        float64     `json:"quantity"`
	StopLoss        float64     `json:"stop_loss"`
	TakeProfit      float64     `json:"take_profit"`
	CommittedValue  float64     `json:"committed_value"`
	EntryCommission float64     `json:"entry_commission"`
}

// positionBook owns the cash balance and open positions of one run.
// Positions are kept in opening order so iteration is deterministic.
type positionBook struct {
	cash             float64
	initialCapital   float64
	commission       float64
	slippage         float64
	maxPositions     int
	minPositionValue float64
	params           StrategyParams

	open   []*Position
	bySym  map[string]*Position
	closed []models.ClosedTrade
}

func newPositionBook(cfg Config, params StrategyParams, minPositionValue float64) *positionBook {
	return &positionBook{
		cash:             cfg.InitialCapital,
		initialCapital:   cfg.InitialCapital,
		commission:       cfg.Commission,
		slippage:         cfg.Slippage,
		maxPositions:     cfg.MaxPositions,
		minPositionValue: minPositionValue,
		params:           params,
		bySym:            make(map[string]*Position),
	}
}

func (b *positionBook) has(symbol string) bool {
	_, ok := b.bySym[symbol]
	return ok
}

// openLong attempts a long entry at the bar's close. It reports whether a
// position was opened; rejections leave the book untouched.
func (b *positionBook) openLong(bar models.PriceBar) (*Position, bool) {
	if b.has(bar.Symbol) || len(b.open) >= b.maxPositions {
		return nil, false
	}

	budget := math.Min(
		b.cash*b.params.PositionPercent/100,
		b.initialCapital*b.params.MaxPositionCapitalPercent/100,
	)
	entryPrice := bar.Close * (1 + b.slippage)
	if entryPrice <= 0 || budget <= b.commission {
		return nil, false
	}
	qty := math.Floor((budget - b.commission) / entryPrice)
	if qty < 1 {
		return nil, false
	}
	committed := qty*entryPrice + b.commission
	if committed < b.minPositionValue || committed > b.cash {
		return nil, false
	}

	pos := &Position{
		Symbol:          bar.Symbol,
		Side:            models.SideLong,
		EntryPrice:      entryPrice,
		EntryDate:       bar.Date(),
		Quantity:        qty,
		StopLoss:        entryPrice * (1 - b.params.StopLossPercent/100),
		TakeProfit:      entryPrice * (1 + b.params.TakeProfitPercent/100),
		CommittedValue:  committed,
		EntryCommission: b.commission,
	}
	b.cash -= committed
	b.open = append(b.open, pos)
	b.bySym[pos.Symbol] = pos
	return pos, true
}

// checkBracket closes the symbol's position when the bar touches its stop or
// take-profit. The stop is tested first.
func (b *positionBook) checkBracket(bar models.PriceBar) (models.ClosedTrade, bool) {
	pos, ok := b.bySym[bar.Symbol]
	if !ok {
		return models.ClosedTrade{}, false
	}
	switch {
	case bar.Low <= pos.StopLoss:
		return b.close(pos, pos.StopLoss, bar.Date(), models.ExitStopLoss), true
	case bar.High >= pos.TakeProfit:
		return b.close(pos, pos.TakeProfit, bar.Date(), models.ExitTakeProfit), true
	}
	return models.ClosedTrade{}, false
}

// closeAt closes the symbol's position at the given reference price.
func (b *positionBook) closeAt(symbol string, price float64, day time.Time, reason models.ExitReason) (models.ClosedTrade, bool) {
	pos, ok := b.bySym[symbol]
	if !ok {
		return models.ClosedTrade{}, false
	}
	return b.close(pos, price, day, reason), true
}

// close fills the exit at price × (1 − slippage) and returns the trade.
func (b *positionBook) close(pos *Position, price float64, day time.Time, reason models.ExitReason) models.ClosedTrade {
	exitPrice := price * (1 - b.slippage)
	totalCommission := pos.EntryCommission + b.commission
	profit := (exitPrice-pos.EntryPrice)*pos.Quantity - totalCommission

	var profitPercent float64
	if cost := pos.EntryPrice * pos.Quantity; cost > 0 {
		profitPercent = profit / cost * 100
	}

	trade := models.ClosedTrade{
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		EntryPrice:    pos.EntryPrice,
		ExitPrice:     exitPrice,
		EntryDate:     pos.EntryDate,
		ExitDate:      day,
		Quantity:      pos.Quantity,
		Profit:        profit,
		ProfitPercent: profitPercent,
		Commission:    totalCommission,
		HoldingDays:   models.DaysBetween(pos.EntryDate, day),
		ExitReason:    reason,
	}

	b.cash += pos.Quantity*exitPrice - b.commission
	b.remove(pos)
	b.closed = append(b.closed, trade)
	return trade
}

func (b *positionBook) remove(pos *Position) {
	delete(b.bySym, pos.Symbol)
	for i, p := range b.open {
		if p == pos {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return
		}
	}
}

// marketValue marks every open position to the latest close seen for it.
func (b *positionBook) marketValue(lastClose map[string]float64) float64 {
	var total float64
	for _, p := range b.open {
		price, ok := lastClose[p.Symbol]
		if !ok {
			price = p.EntryPrice
		}
		total += p.Quantity * price
	}
	return total
}

// openPositions returns a snapshot of the open positions in opening order.
func (b *positionBook) openPositions() []Position {
	out := make([]Position, len(b.open))
	for i, p := range b.open {
		out[i] = *p
	}
	return out
}
