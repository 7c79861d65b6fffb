// Package position is a mechanical lot ledger for a single instrument.
// It does not enforce position limits; callers clamp before opening.
package position

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Direction int

const (
	Long Direction = iota + 1
	Short
)

func (d Direction) String() string {
	if d == Short {
		return "SHORT"
	}
	return "LONG"
}

// Lot is one unit of directional exposure. A lot with an exit price is
// closed and never changes again.
type Lot struct {
	Entry     decimal.Decimal
	Direction Direction
	EntryTime time.Time
	Exit      *decimal.Decimal
	ExitTime  time.Time
	HighWater decimal.Decimal
	LowWater  decimal.Decimal
}

func (l *Lot) Closed() bool { return l.Exit != nil }

func (l *Lot) close(price decimal.Decimal, at time.Time) {
	p := price
	l.Exit = &p
	l.ExitTime = at
}

// profit is the signed price delta against the exit price, or against
// current while the lot is open. Water marks ratchet only for open lots.
func (l *Lot) profit(current decimal.Decimal) decimal.Decimal {
	ref := current
	if l.Exit != nil {
		ref = *l.Exit
	}
	diff := ref.Sub(l.Entry)
	if l.Direction == Short {
		diff = l.Entry.Sub(ref)
	}
	if !l.Closed() {
		l.HighWater = decimal.Max(l.HighWater, diff)
		l.LowWater = decimal.Min(l.LowWater, diff)
	}
	return diff
}

type Profits struct {
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Total      decimal.Decimal `json:"total"`
	HighWater  decimal.Decimal `json:"high_water"`
	LowWater   decimal.Decimal `json:"low_water"`
}

// Manager keeps lots in insertion order, which is also the close order.
type Manager struct {
	lots []*Lot
}

func NewManager() *Manager {
	return &Manager{}
}

// Open appends qty unit lots.
func (m *Manager) Open(price decimal.Decimal, qty int, dir Direction, at time.Time) {
	for i := 0; i < qty; i++ {
		m.lots = append(m.lots, &Lot{Entry: price, Direction: dir, EntryTime: at})
	}
}

// Close closes up to qty open lots of dir, oldest first, and returns how
// many were closed.
func (m *Manager) Close(price decimal.Decimal, qty int, dir Direction, at time.Time) int {
	closed := 0
	for _, l := range m.lots {
		if closed >= qty {
			break
		}
		if l.Direction == dir && !l.Closed() {
			l.close(price, at)
			closed++
		}
	}
	return closed
}

// CloseAll closes every open lot in both directions.
func (m *Manager) CloseAll(price decimal.Decimal, at time.Time) int {
	n := m.Close(price, len(m.lots), Long, at)
	return n + m.Close(price, len(m.lots), Short, at)
}

func (m *Manager) Profits(current decimal.Decimal) Profits {
	var p Profits
	for _, l := range m.lots {
		v := l.profit(current)
		if l.Closed() {
			p.Realized = p.Realized.Add(v)
			continue
		}
		p.Unrealized = p.Unrealized.Add(v)
		p.HighWater = p.HighWater.Add(l.HighWater)
		p.LowWater = p.LowWater.Add(l.LowWater)
	}
	p.Total = p.Realized.Add(p.Unrealized)
	return p
}

// NetPosition is open longs minus open shorts.
func (m *Manager) NetPosition() int {
	n := 0
	for _, l := range m.lots {
		if l.Closed() {
			continue
		}
		if l.Direction == Long {
			n++
		} else {
			n--
		}
	}
	return n
}

// OpenCount returns the number of open lots in dir.
func (m *Manager) OpenCount(dir Direction) int {
	n := 0
	for _, l := range m.lots {
		if l.Direction == dir && !l.Closed() {
			n++
		}
	}
	return n
}

// Lots returns copies of every lot, open and closed.
func (m *Manager) Lots() []Lot {
	out := make([]Lot, len(m.lots))
	for i, l := range m.lots {
		out[i] = *l
	}
	return out
}

// Details renders the open lots for a prompt.
func (m *Manager) Details() string {
	var b strings.Builder
	b.WriteString("Position details:\n")
	for _, dir := range []Direction{Long, Short} {
		i := 0
		for _, l := range m.lots {
			if l.Direction != dir || l.Closed() {
				continue
			}
			if i == 0 {
				fmt.Fprintf(&b, "%s:\n", strings.ToLower(dir.String()))
			}
			i++
			fmt.Fprintf(&b, "  %d. entry: %s, time: %s, high: %s, low: %s\n",
				i, l.Entry.StringFixed(2), l.EntryTime.Format("2006-01-02 15:04"),
				l.HighWater.StringFixed(2), l.LowWater.StringFixed(2))
		}
	}
	return b.String()
}
