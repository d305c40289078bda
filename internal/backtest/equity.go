package backtest

import (
	"time"

	"strategy-lab/internal/models"
)

// equityTracker records one mark-to-market point per simulated day.
type equityTracker struct {
	peak   float64
	points []models.EquityPoint
}

func newEquityTracker(days int) *equityTracker {
	return &equityTracker{points: make([]models.EquityPoint, 0, days)}
}

func (t *equityTracker) record(day time.Time, cash, positionValue float64) models.EquityPoint {
	equity := cash + positionValue
	if len(t.points) == 0 || equity > t.peak {
		t.peak = equity
	}

	point := models.EquityPoint{
		Date:          day,
		Equity:        equity,
		Cash:          cash,
		PositionValue: positionValue,
	}
	if dd := t.peak - equity; dd > 0 {
		point.Drawdown = dd
		if t.peak > 0 {
			point.DrawdownPercent = dd / t.peak * 100
		}
	}
	t.points = append(t.points, point)
	return point
}

func (t *equityTracker) curve() []models.EquityPoint {
	return t.points
}
