// Package gateway turns dealer decisions into orders and routes them to a
// venue.
package gateway

import (
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"llm-dealer/internal/types"
)

// DefaultTickSize is the price increment orders are rounded to.
var DefaultTickSize = decimal.RequireFromString("0.05")

// Pricing controls how order prices are derived from the bar close.
type Pricing struct {
	UseMarketOrder bool
	Tolerance      float64
	TickSize       decimal.Decimal
}

// SideFor maps a dealer action to the order side that executes it.
func SideFor(a types.Action) (types.Side, bool) {
	switch a {
	case types.ActionBuy:
		return types.SideOpenLong, true
	case types.ActionSell:
		return types.SideCloseLong, true
	case types.ActionShort:
		return types.SideOpenShort, true
	case types.ActionCover:
		return types.SideCloseShort, true
	}
	return "", false
}

// Buying reports whether side takes from the ask.
func Buying(side types.Side) bool {
	return side == types.SideOpenLong || side == types.SideCloseShort
}

// Price applies the tolerance in the direction that makes a limit order
// marketable: buys and covers above the close, sells and shorts below.
func (p Pricing) Price(side types.Side, close float64) (float64, types.PriceType) {
	if p.UseMarketOrder {
		return close, types.PriceMarket
	}
	tick := p.TickSize
	if tick.IsZero() {
		tick = DefaultTickSize
	}
	adj := decimal.NewFromFloat(1 - p.Tolerance)
	if Buying(side) {
		adj = decimal.NewFromFloat(1 + p.Tolerance)
	}
	px := decimal.NewFromFloat(close).Mul(adj).Div(tick).Round(0).Mul(tick)
	f, _ := px.Float64()
	return f, types.PriceLimit
}

// Orders returns the orders that move a book from prev to next net lots.
// Closing orders come first so a reversal never exceeds the position limit.
func Orders(symbol string, prev, next int, close float64, at time.Time, p Pricing, tag string) []types.OrderReq {
	type leg struct {
		side types.Side
		qty  int
	}
	var legs []leg
	if prev > 0 && next < prev {
		legs = append(legs, leg{types.SideCloseLong, prev - max(next, 0)})
	}
	if prev < 0 && next > prev {
		legs = append(legs, leg{types.SideCloseShort, -prev - max(-next, 0)})
	}
	if next > 0 && next > max(prev, 0) {
		legs = append(legs, leg{types.SideOpenLong, next - max(prev, 0)})
	}
	if next < 0 && next < min(prev, 0) {
		legs = append(legs, leg{types.SideOpenShort, -next - max(-prev, 0)})
	}

	out := make([]types.OrderReq, 0, len(legs))
	for _, l := range legs {
		price, pt := p.Price(l.side, close)
		out = append(out, types.OrderReq{
			Symbol:    symbol,
			Side:      l.side,
			Qty:       l.qty,
			Price:     price,
			PriceType: pt,
			Tag:       tag,
			Time:      at,
		})
	}
	return out
}

// fillHub fans fills out to the registered callbacks.
type fillHub struct {
	mu  sync.RWMutex
	fns []func(types.Fill)
}

func (h *fillHub) OnFill(fn func(types.Fill)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

func (h *fillHub) emit(f types.Fill) {
	h.mu.RLock()
	fns := slices.Clone(h.fns)
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(f)
	}
}
