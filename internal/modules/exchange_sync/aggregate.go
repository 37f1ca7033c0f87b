package exchange_sync

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"signal_trader/internal/exchange"
)

// orderFill — исполнения одного ордера, сложенные вместе.
type orderFill struct {
	OrderID     string
	Ticker      string
	Side        string
	Qty         float64
	AvgPrice    float64
	Cost        float64
	RealizedPnL float64
	Time        time.Time
}

// groupByOrder: сумма объёма, VWAP, сумма PnL; время и сторона — от первого исполнения.
func groupByOrder(fills []exchange.Fill) []orderFill {
	type acc struct {
		first exchange.Fill
		qty   decimal.Decimal
		cost  decimal.Decimal
		pnl   decimal.Decimal
	}
	byID := make(map[string]*acc)
	var order []string

	for _, f := range fills {
		if f.OrderID == "" {
			continue
		}
		a, ok := byID[f.OrderID]
		if !ok {
			a = &acc{first: f}
			byID[f.OrderID] = a
			order = append(order, f.OrderID)
		}
		if f.Time.Before(a.first.Time) {
			a.first = f
		}
		q := decimal.NewFromFloat(f.Qty)
		a.qty = a.qty.Add(q)
		a.cost = a.cost.Add(q.Mul(decimal.NewFromFloat(f.Price)))
		a.pnl = a.pnl.Add(decimal.NewFromFloat(f.RealizedPnL))
	}

	out := make([]orderFill, 0, len(byID))
	for _, id := range order {
		a := byID[id]
		if !a.qty.IsPositive() {
			continue
		}
		qty, _ := a.qty.Float64()
		cost, _ := a.cost.Float64()
		avg, _ := a.cost.Div(a.qty).Float64()
		pnl, _ := a.pnl.Float64()
		out = append(out, orderFill{
			OrderID:     id,
			Ticker:      a.first.Ticker,
			Side:        a.first.Side,
			Qty:         qty,
			AvgPrice:    avg,
			Cost:        cost,
			RealizedPnL: pnl,
			Time:        a.first.Time,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}
