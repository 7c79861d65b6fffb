package position

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestCloseIsFIFO(t *testing.T) {
	m := NewManager()
	m.Open(d(10), 1, Long, t0)
	m.Open(d(12), 1, Long, t0.Add(time.Minute))

	if n := m.Close(d(11), 1, Long, t0.Add(2*time.Minute)); n != 1 {
		t.Fatalf("expected 1 closed, got %d", n)
	}
	lots := m.Lots()
	if !lots[0].Closed() || lots[1].Closed() {
		t.Fatalf("expected oldest lot closed first")
	}
	p := m.Profits(d(11))
	if !p.Realized.Equal(d(1)) {
		t.Errorf("expected realized 1, got %s", p.Realized)
	}
	if !p.Unrealized.Equal(d(-1)) {
		t.Errorf("expected unrealized -1, got %s", p.Unrealized)
	}
}

func TestOverCloseReturnsAvailable(t *testing.T) {
	m := NewManager()
	m.Open(d(10), 2, Short, t0)
	m.Open(d(10), 1, Long, t0)

	if n := m.Close(d(9), 5, Short, t0); n != 2 {
		t.Errorf("expected 2 closed, got %d", n)
	}
	if n := m.Close(d(9), 5, Short, t0); n != 0 {
		t.Errorf("expected 0 closed on empty side, got %d", n)
	}
	if m.NetPosition() != 1 {
		t.Errorf("expected net 1, got %d", m.NetPosition())
	}
	p := m.Profits(d(9))
	if !p.Realized.Equal(d(2)) {
		t.Errorf("expected short realized 2, got %s", p.Realized)
	}
}

func TestNetPositionTracksOpenLots(t *testing.T) {
	m := NewManager()
	steps := []struct {
		open bool
		dir  Direction
		qty  int
	}{
		{true, Long, 3}, {false, Long, 1}, {true, Short, 2}, {false, Long, 5}, {false, Short, 1}, {true, Long, 1},
	}
	for i, s := range steps {
		if s.open {
			m.Open(d(100), s.qty, s.dir, t0)
		} else {
			m.Close(d(101), s.qty, s.dir, t0)
		}
		want := m.OpenCount(Long) - m.OpenCount(Short)
		if got := m.NetPosition(); got != want {
			t.Errorf("step %d: expected net %d, got %d", i, want, got)
		}
	}
	if m.NetPosition() != 0 {
		t.Errorf("expected flat book, got %d", m.NetPosition())
	}
}

func TestProfitsIdempotent(t *testing.T) {
	m := NewManager()
	m.Open(d(10), 1, Long, t0)
	m.Open(d(10), 1, Long, t0)
	m.Close(d(8), 1, Long, t0)

	first := m.Profits(d(13))
	second := m.Profits(d(13))
	if !first.Total.Equal(second.Total) || !first.HighWater.Equal(second.HighWater) || !first.LowWater.Equal(second.LowWater) {
		t.Errorf("expected identical figures, got %+v and %+v", first, second)
	}
	closed := m.Lots()[0]
	if !closed.HighWater.IsZero() || !closed.LowWater.IsZero() {
		t.Errorf("expected closed lot water marks untouched, got %s/%s", closed.HighWater, closed.LowWater)
	}
}

func TestWaterMarksRatchet(t *testing.T) {
	m := NewManager()
	m.Open(d(10), 1, Long, t0)
	m.Profits(d(14))
	m.Profits(d(7))
	p := m.Profits(d(11))
	if !p.HighWater.Equal(d(4)) {
		t.Errorf("expected high water 4, got %s", p.HighWater)
	}
	if !p.LowWater.Equal(d(-3)) {
		t.Errorf("expected low water -3, got %s", p.LowWater)
	}
}

func TestCloseAll(t *testing.T) {
	m := NewManager()
	m.Open(d(10), 2, Long, t0)
	m.Open(d(10), 1, Short, t0)
	if n := m.CloseAll(d(10), t0); n != 3 {
		t.Errorf("expected 3 closed, got %d", n)
	}
	if m.NetPosition() != 0 {
		t.Errorf("expected flat, got %d", m.NetPosition())
	}
}
