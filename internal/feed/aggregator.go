package feed

import (
	"sync"
	"time"

	"llm-dealer/internal/types"
)

// Tick is one trade print. Volume is the cumulative day volume reported by
// the exchange.
type Tick struct {
	Symbol       string
	Time         time.Time
	Price        float64
	Volume       float64
	OpenInterest float64
}

type building struct {
	bar       types.Bar
	dayVolume float64
}

// Aggregator folds ticks into one-minute bars. A bar is complete when the
// first tick of a later minute arrives for the same symbol.
type Aggregator struct {
	mu       sync.Mutex
	open     map[string]*building
	lastVols map[string]float64
}

func NewAggregator() *Aggregator {
	return &Aggregator{open: make(map[string]*building), lastVols: make(map[string]float64)}
}

// Add records t and returns the bar it completed, if any. Ticks older than
// the bar being built are dropped.
func (a *Aggregator) Add(t Tick) (types.Bar, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	minute := t.Time.Truncate(time.Minute)
	cur, ok := a.open[t.Symbol]
	if ok && minute.Before(cur.bar.Time) {
		return types.Bar{}, false
	}
	if ok && minute.Equal(cur.bar.Time) {
		b := &cur.bar
		b.High = max(b.High, t.Price)
		b.Low = min(b.Low, t.Price)
		b.Close = t.Price
		b.OpenInterest = t.OpenInterest
		if t.Volume >= cur.dayVolume {
			b.Volume += t.Volume - cur.dayVolume
			cur.dayVolume = t.Volume
		}
		return types.Bar{}, false
	}

	var done types.Bar
	if ok {
		done = cur.bar
		a.lastVols[t.Symbol] = cur.dayVolume
	}
	prev, seen := a.lastVols[t.Symbol]
	vol := 0.0
	if seen && t.Volume >= prev {
		vol = t.Volume - prev
	}
	a.open[t.Symbol] = &building{
		bar: types.Bar{
			Symbol:       t.Symbol,
			Time:         minute,
			Open:         t.Price,
			High:         t.Price,
			Low:          t.Price,
			Close:        t.Price,
			Volume:       vol,
			OpenInterest: t.OpenInterest,
		},
		dayVolume: t.Volume,
	}
	return done, ok
}

// Flush returns the bars still being built and forgets them.
func (a *Aggregator) Flush() []types.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Bar, 0, len(a.open))
	for sym, cur := range a.open {
		out = append(out, cur.bar)
		a.lastVols[sym] = cur.dayVolume
		delete(a.open, sym)
	}
	return out
}
