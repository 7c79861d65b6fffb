// Package engine is the multi-symbol router between the bar feed, the
// per-symbol dealers and the order gateway.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llm-dealer/internal/gateway"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/tradelog"
	"llm-dealer/internal/types"
)

const (
	SkipBeforeStart = "before_start"
	SkipSameMinute  = "same_minute"
)

type Options struct {
	// StartTime drops bars stamped earlier. Zero accepts every bar.
	StartTime time.Time
	Pricing   gateway.Pricing
	Journal   *tradelog.Journal
}

type engine struct {
	dealers map[string]interfaces.Dealer
	exec    *orderExecutor
	opts    Options

	mu       sync.Mutex
	symbolMu map[string]*sync.Mutex
	last     map[string]time.Time
	net      map[string]int
}

var _ interfaces.Engine = (*engine)(nil)

func New(dealers []interfaces.Dealer, gw interfaces.Gateway, opts Options) interfaces.Engine {
	e := &engine{
		dealers:  make(map[string]interfaces.Dealer, len(dealers)),
		exec:     newOrderExecutor(gw, opts.Journal),
		opts:     opts,
		symbolMu: make(map[string]*sync.Mutex, len(dealers)),
		last:     make(map[string]time.Time),
		net:      make(map[string]int),
	}
	for _, d := range dealers {
		e.dealers[d.Symbol()] = d
		e.symbolMu[d.Symbol()] = &sync.Mutex{}
	}
	return e
}

// OnBar hands bar to its dealer once per minute and places the orders that
// bring the venue in line with the dealer's book. Bars of different symbols
// may be processed concurrently.
func (e *engine) OnBar(ctx context.Context, bar types.Bar) (*types.StepResult, error) {
	d, ok := e.dealers[bar.Symbol]
	if !ok {
		return nil, fmt.Errorf("no dealer for symbol %q", bar.Symbol)
	}
	res := &types.StepResult{Symbol: bar.Symbol}

	if !e.opts.StartTime.IsZero() && bar.Time.Before(e.opts.StartTime) {
		res.Skipped = SkipBeforeStart
		return res, nil
	}

	lock := e.symbolMu[bar.Symbol]
	lock.Lock()
	defer lock.Unlock()

	minute := bar.Time.Truncate(time.Minute)
	e.mu.Lock()
	prevMinute, seen := e.last[bar.Symbol]
	if seen && !minute.After(prevMinute) {
		e.mu.Unlock()
		res.Skipped = SkipSameMinute
		return res, nil
	}
	e.last[bar.Symbol] = minute
	prevNet := e.net[bar.Symbol]
	e.mu.Unlock()

	dec, err := d.ProcessBar(ctx, bar)
	res.Decision = dec
	if err != nil {
		logger.Warn(ctx, "Dealer degraded to hold", "symbol", bar.Symbol, "error", err)
	}
	if e.opts.Journal != nil {
		if jerr := e.opts.Journal.AppendDecision(dec); jerr != nil {
			logger.ErrorWithErr(ctx, "Failed to journal decision", jerr, "symbol", bar.Symbol)
		}
	}

	orders := gateway.Orders(bar.Symbol, prevNet, dec.NetPosition, bar.Close, bar.Time, e.opts.Pricing, dec.Instruction.String())
	res.Orders = e.exec.place(ctx, orders)

	e.mu.Lock()
	e.net[bar.Symbol] = dec.NetPosition
	e.mu.Unlock()
	return res, err
}
