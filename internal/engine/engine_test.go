package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"llm-dealer/internal/gateway"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/tradelog"
	"llm-dealer/internal/types"
)

type fakeDealer struct {
	symbol string
	nets   []int
	calls  int
	err    error
}

func (f *fakeDealer) Symbol() string { return f.symbol }

func (f *fakeDealer) ProcessBar(ctx context.Context, bar types.Bar) (types.Decision, error) {
	net := f.nets[min(f.calls, len(f.nets)-1)]
	f.calls++
	return types.Decision{Symbol: f.symbol, Time: bar.Time, Price: bar.Close, NetPosition: net}, f.err
}

func barAt(sym string, minute, sec int, close float64) types.Bar {
	return types.Bar{Symbol: sym, Time: time.Date(2024, 3, 8, 9, minute, sec, 0, time.UTC), Close: close}
}

type failingGateway struct {
	placed int
}

func (g *failingGateway) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	g.placed++
	return types.OrderResp{}, errors.New("rejected")
}

func (g *failingGateway) OnFill(func(types.Fill)) {}

func TestOnBarRoutesOrders(t *testing.T) {
	d := &fakeDealer{symbol: "RB", nets: []int{2, -1}}
	journal := tradelog.New(t.TempDir(), time.UTC)
	e := New([]interfaces.Dealer{d}, gateway.NewDryRun(), Options{
		Pricing: gateway.Pricing{UseMarketOrder: true},
		Journal: journal,
	})
	ctx := context.Background()

	res, err := e.OnBar(ctx, barAt("RB", 31, 0, 3500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Orders) != 1 {
		t.Fatalf("expected one opening order, got %+v", res.Orders)
	}

	res, _ = e.OnBar(ctx, barAt("RB", 31, 30, 3501))
	if res.Skipped != SkipSameMinute || d.calls != 1 {
		t.Errorf("expected the second bar of the minute to be skipped, got %+v", res)
	}

	res, _ = e.OnBar(ctx, barAt("RB", 32, 0, 3490))
	if len(res.Orders) != 2 {
		t.Errorf("expected close and open legs for the reversal, got %+v", res.Orders)
	}

	day := barAt("RB", 0, 0, 0).Time
	trades, err := journal.Trades(day)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 journaled fills, got %d", len(trades))
	}
	if trades[1].Side != types.SideCloseLong || trades[1].Qty != 2 || trades[2].Side != types.SideOpenShort {
		t.Errorf("unexpected fills %+v", trades)
	}
	decisions, _ := journal.Decisions(day)
	if len(decisions) != 2 {
		t.Errorf("expected 2 journaled decisions, got %d", len(decisions))
	}
}

func TestOnBarSkipsAndErrors(t *testing.T) {
	d := &fakeDealer{symbol: "RB", nets: []int{0}}
	start := barAt("RB", 30, 0, 0).Time
	e := New([]interfaces.Dealer{d}, gateway.NewDryRun(), Options{StartTime: start})
	ctx := context.Background()

	res, err := e.OnBar(ctx, barAt("RB", 29, 0, 1))
	if err != nil || res.Skipped != SkipBeforeStart || d.calls != 0 {
		t.Errorf("expected bar before start to be skipped, got %+v (%v)", res, err)
	}
	if _, err := e.OnBar(ctx, barAt("AU", 31, 0, 1)); err == nil {
		t.Errorf("expected unknown symbol to fail")
	}

	d.err = errors.New("llm down")
	res, err = e.OnBar(ctx, barAt("RB", 31, 0, 1))
	if err == nil || res == nil || len(res.Orders) != 0 {
		t.Errorf("expected degraded decision with no orders, got %+v (%v)", res, err)
	}
}

func TestRejectedCloseStopsOpen(t *testing.T) {
	d := &fakeDealer{symbol: "RB", nets: []int{-1}}
	gw := &failingGateway{}
	e := New([]interfaces.Dealer{d}, gw, Options{})
	e.(*engine).net["RB"] = 1

	res, _ := e.OnBar(context.Background(), barAt("RB", 31, 0, 1))
	if gw.placed != 1 || len(res.Orders) != 0 {
		t.Errorf("expected the opening leg to be withheld after a rejected close, got %d placed", gw.placed)
	}
}
