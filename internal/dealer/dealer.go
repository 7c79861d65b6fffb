// Package dealer runs the per-bar decision loop for one instrument: it
// keeps rolling histories, asks the LLM for an instruction, and applies
// it to a lot ledger under session and forced-close rules.
package dealer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/metrics"
	"llm-dealer/internal/position"
	"llm-dealer/internal/store"
	"llm-dealer/internal/types"
)

type Config struct {
	Symbol        string
	MaxPosition   int
	MaxDailyBars  int
	MaxHourlyBars int
	MaxMinuteBars int
	CompactMode   bool
	TradeRules    string
	Backtest      bool
	NewsEnabled   bool
	WarmStart     bool
	Sessions      []store.Session
	DayClose      string
	// NightClose is empty when the instrument may carry through the night session.
	NightClose       string
	ForceCloseWindow time.Duration
	Location         *time.Location
}

// ConfigFromStore derives the dealer settings for symbol.
func ConfigFromStore(c *store.Config, symbol string) Config {
	return Config{
		Symbol:           symbol,
		MaxPosition:      c.Dealer.MaxPosition,
		MaxDailyBars:     c.Dealer.MaxDailyBars,
		MaxHourlyBars:    c.Dealer.MaxHourlyBars,
		MaxMinuteBars:    c.Dealer.MaxMinuteBars,
		CompactMode:      c.Dealer.CompactMode,
		TradeRules:       c.Dealer.TradeRules,
		Backtest:         c.Dealer.Backtest,
		NewsEnabled:      c.Dealer.NewsEnabled,
		WarmStart:        c.Dealer.WarmStart,
		Sessions:         c.Dealer.Sessions,
		DayClose:         c.Dealer.DayClose,
		NightClose:       c.Dealer.NightClose[symbol],
		ForceCloseWindow: time.Duration(c.Dealer.ForceCloseWindowMinutes) * time.Minute,
		Location:         c.Location(),
	}
}

// ProcessingError carries a bar that could not be decided. The Decision
// returned alongside it is a hold.
type ProcessingError struct {
	Symbol string
	Bar    types.Bar
	Stage  string
	Err    error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("dealer %s: %s failed at %s: %v", e.Symbol, e.Stage, e.Bar.Time.Format(time.RFC3339), e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

type Dealer struct {
	cfg     Config
	llm     interfaces.LLM
	source  interfaces.HistorySource
	news    interfaces.NewsSource
	book    *position.Manager
	daily   *history
	hourly  *history
	minute  *history
	memo    newsMemo
	lastMsg string

	sessions    []window
	dayClose    int
	nightClose  int
	forceWindow int

	currentDate   string
	lastTradeDate string
}

var _ interfaces.Dealer = (*Dealer)(nil)

type Option func(*Dealer)

// WithHistory enables warm start from src.
func WithHistory(src interfaces.HistorySource) Option {
	return func(d *Dealer) { d.source = src }
}

func WithNews(src interfaces.NewsSource) Option {
	return func(d *Dealer) { d.news = src }
}

func New(cfg Config, llm interfaces.LLM, opts ...Option) (*Dealer, error) {
	if llm == nil {
		return nil, errors.New("dealer: llm client is required")
	}
	if cfg.MaxPosition <= 0 {
		return nil, fmt.Errorf("dealer: max position must be positive, got %d", cfg.MaxPosition)
	}
	if cfg.MaxDailyBars <= 0 {
		cfg.MaxDailyBars = 60
	}
	if cfg.MaxHourlyBars <= 0 {
		cfg.MaxHourlyBars = 30
	}
	if cfg.MaxMinuteBars <= 0 {
		cfg.MaxMinuteBars = 240
	}
	if len(cfg.Sessions) == 0 {
		cfg.Sessions = store.DefaultSessions()
	}
	if cfg.DayClose == "" {
		cfg.DayClose = "14:55"
	}
	if cfg.ForceCloseWindow <= 0 {
		cfg.ForceCloseWindow = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	d := &Dealer{
		cfg:         cfg,
		llm:         llm,
		book:        position.NewManager(),
		daily:       newHistory(cfg.MaxDailyBars),
		hourly:      newHistory(cfg.MaxHourlyBars),
		minute:      newHistory(cfg.MaxMinuteBars),
		nightClose:  -1,
		forceWindow: int(cfg.ForceCloseWindow / time.Minute),
	}
	for _, s := range cfg.Sessions {
		start, err := clockMinutes(s.Start)
		if err != nil {
			return nil, fmt.Errorf("dealer: session: %w", err)
		}
		end, err := clockMinutes(s.End)
		if err != nil {
			return nil, fmt.Errorf("dealer: session: %w", err)
		}
		d.sessions = append(d.sessions, window{start, end})
	}
	var err error
	if d.dayClose, err = clockMinutes(cfg.DayClose); err != nil {
		return nil, fmt.Errorf("dealer: day close: %w", err)
	}
	if cfg.NightClose != "" {
		if d.nightClose, err = clockMinutes(cfg.NightClose); err != nil {
			return nil, fmt.Errorf("dealer: night close: %w", err)
		}
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func (d *Dealer) Symbol() string { return d.cfg.Symbol }

// Book exposes the lot ledger for reporting.
func (d *Dealer) Book() *position.Manager { return d.book }

// ProcessRaw decodes a loosely typed bar payload and processes it. An
// unreadable timestamp falls back to the current time.
func (d *Dealer) ProcessRaw(ctx context.Context, payload map[string]any) (types.Decision, error) {
	bar, err := BarFromMap(payload, d.cfg.Location)
	if errors.Is(err, ErrTimestamp) {
		logger.Warn(ctx, "Using current time for bar", "symbol", d.cfg.Symbol, "error", err)
		bar.Time = time.Now().In(d.cfg.Location)
		err = nil
	}
	if err != nil {
		metrics.DealerBars.WithLabelValues(d.cfg.Symbol, "error").Inc()
		perr := &ProcessingError{Symbol: d.cfg.Symbol, Bar: bar, Stage: "decode", Err: err}
		logger.ErrorWithErr(ctx, "Bar payload rejected", perr, "payload", payload)
		return d.holdDecision(bar), perr
	}
	return d.ProcessBar(ctx, bar)
}

// ProcessBar decides and applies one bar. It never panics; failures come
// back as a hold Decision with a *ProcessingError.
func (d *Dealer) ProcessBar(ctx context.Context, bar types.Bar) (dec types.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ProcessingError{Symbol: d.cfg.Symbol, Bar: bar, Stage: "panic", Err: fmt.Errorf("%v", r)}
			dec = d.holdDecision(bar)
		}
		if err != nil {
			metrics.DealerBars.WithLabelValues(d.cfg.Symbol, "error").Inc()
			logger.ErrorWithErr(ctx, "Bar processing failed", err, "symbol", d.cfg.Symbol, "bar", bar)
		}
	}()

	if bar.Time.IsZero() {
		logger.Warn(ctx, "Using current time for bar", "symbol", d.cfg.Symbol, "error", ErrTimestamp)
		bar.Time = time.Now()
	}
	bar.Time = bar.Time.In(d.cfg.Location)
	if bar.Symbol == "" {
		bar.Symbol = d.cfg.Symbol
	}

	if bar.Time.Format(time.DateOnly) != d.currentDate {
		d.startDay(ctx, bar)
	}
	forced := d.rollover(ctx, bar)

	if !d.inSession(bar.Time) {
		metrics.DealerBars.WithLabelValues(d.cfg.Symbol, "outside_session").Inc()
		dec = d.holdDecision(bar)
		dec.ForcedClose = forced
		return dec, nil
	}

	d.updateHistories(bar)
	closing := d.forcedCloseSession(bar.Time)
	forced += d.forceClose(ctx, bar, closing)

	newsUpdated := d.refreshNews(ctx)
	news := ""
	if !d.cfg.Backtest && (newsUpdated || d.minute.len() == 1) {
		news = d.memo.summary
	}

	prompt := d.buildPrompt(bar, news)
	text, err := d.llm.Chat(ctx, prompt)
	if err != nil {
		dec = d.holdDecision(bar)
		dec.ForcedClose = forced
		return dec, &ProcessingError{Symbol: d.cfg.Symbol, Bar: bar, Stage: "llm", Err: err}
	}

	reply, err := ParseReply(text)
	if err != nil {
		dec = d.holdDecision(bar)
		dec.ForcedClose = forced
		return dec, &ProcessingError{Symbol: d.cfg.Symbol, Bar: bar, Stage: "parse", Err: err}
	}
	metrics.DealerInstructions.WithLabelValues(d.cfg.Symbol, string(reply.Instruction.Action)).Inc()

	dec = types.Decision{
		Symbol:      d.cfg.Symbol,
		Time:        bar.Time,
		Price:       bar.Close,
		Instruction: reply.Instruction,
		NextMessage: reply.NextMessage,
		Reason:      reply.Reason,
		Plan:        reply.Plan,
	}
	if closing != "" && reply.Instruction.Action.Opens() {
		dec.Suppressed = true
		logger.Risk(ctx, d.cfg.Symbol, "open_suppressed", "session", closing, "instruction", reply.Instruction.String())
	} else {
		dec.Executed, dec.NoOp = d.apply(ctx, reply.Instruction, bar)
	}
	forced += d.forceClose(ctx, bar, d.forcedCloseSession(bar.Time))

	d.lastMsg = reply.NextMessage
	dec.ForcedClose = forced
	dec.NetPosition = d.book.NetPosition()

	metrics.DealerBars.WithLabelValues(d.cfg.Symbol, "decided").Inc()
	metrics.DealerNetPosition.WithLabelValues(d.cfg.Symbol).Set(float64(dec.NetPosition))
	logger.Decision(ctx, d.cfg.Symbol, string(dec.Instruction.Action), dec.Executed, dec.Reason,
		"instruction", dec.Instruction.String(),
		"price", bar.Close,
		"net_position", dec.NetPosition,
		"forced_close", dec.ForcedClose,
		"suppressed", dec.Suppressed,
		"trade_plan", dec.Plan,
	)
	return dec, nil
}

func (d *Dealer) holdDecision(bar types.Bar) types.Decision {
	return types.Decision{
		Symbol:      d.cfg.Symbol,
		Time:        bar.Time,
		Price:       bar.Close,
		Instruction: types.Instruction{Action: types.ActionHold},
		NetPosition: d.book.NetPosition(),
	}
}

// startDay handles the first bar of a calendar date: today's minute
// history and the news memo are reset, and histories are optionally
// warm-started.
func (d *Dealer) startDay(ctx context.Context, bar types.Bar) {
	date := bar.Time.Format(time.DateOnly)
	logger.Info(ctx, "New trading date", "symbol", d.cfg.Symbol, "date", date, "previous", d.currentDate)

	d.currentDate = date
	d.minute.reset()
	if !d.cfg.Backtest {
		d.memo.reset()
	}
	if d.cfg.WarmStart && d.source != nil {
		d.warmStart(ctx, bar)
	}
}

// rollover closes every open lot once the trading date moves past the
// date of the last applied instruction.
func (d *Dealer) rollover(ctx context.Context, bar types.Bar) int {
	date := tradingDate(bar.Time)
	if d.lastTradeDate == date {
		return 0
	}
	d.lastTradeDate = date
	n := d.book.CloseAll(decimal.NewFromFloat(bar.Close), bar.Time)
	if n > 0 {
		metrics.DealerForcedCloses.WithLabelValues(d.cfg.Symbol, "date_change").Inc()
		logger.Risk(ctx, d.cfg.Symbol, "forced_close", "session", "date_change", "lots", n, "price", bar.Close)
	}
	return n
}

func (d *Dealer) forceClose(ctx context.Context, bar types.Bar, session string) int {
	if session == "" {
		return 0
	}
	n := d.book.CloseAll(decimal.NewFromFloat(bar.Close), bar.Time)
	if n > 0 {
		metrics.DealerForcedCloses.WithLabelValues(d.cfg.Symbol, session).Inc()
		logger.Risk(ctx, d.cfg.Symbol, "forced_close", "session", session, "lots", n, "price", bar.Close)
	}
	return n
}

// apply executes ins at the bar close and returns the lots opened or closed.
// Opens are clamped so the net position stays within MaxPosition.
func (d *Dealer) apply(ctx context.Context, ins types.Instruction, bar types.Bar) (executed int, noop bool) {
	if ins.Action == types.ActionHold {
		return 0, false
	}

	qty := ins.Quantity
	if ins.All {
		qty = d.cfg.MaxPosition
	}
	price := decimal.NewFromFloat(bar.Close)
	net := d.book.NetPosition()

	switch ins.Action {
	case types.ActionBuy:
		executed = max(0, min(qty, d.cfg.MaxPosition-net))
		d.book.Open(price, executed, position.Long, bar.Time)
	case types.ActionShort:
		executed = max(0, min(qty, d.cfg.MaxPosition+net))
		d.book.Open(price, executed, position.Short, bar.Time)
	case types.ActionSell:
		executed = d.book.Close(price, qty, position.Long, bar.Time)
	case types.ActionCover:
		executed = d.book.Close(price, qty, position.Short, bar.Time)
	}
	if executed < qty && ins.Action.Opens() {
		logger.Risk(ctx, d.cfg.Symbol, "clamped", "requested", qty, "executed", executed, "net_position", net)
	}
	if executed > 0 {
		logger.Trade(ctx, d.cfg.Symbol, string(ins.Action), executed, bar.Close, "")
	}
	return executed, executed == 0
}

// warmStart preloads today's minute bars before bar and, when empty, the
// hourly and daily histories.
func (d *Dealer) warmStart(ctx context.Context, bar types.Bar) {
	loc := d.cfg.Location
	y, m, day := bar.Time.Date()
	dayStart := time.Date(y, m, day, 0, 0, 0, 0, loc)

	load := func(interval string, from, to time.Time) []types.Bar {
		bars, err := d.source.Bars(ctx, d.cfg.Symbol, interval, from, to)
		if err != nil {
			logger.Warn(ctx, "Warm start failed", "symbol", d.cfg.Symbol, "interval", interval, "error", err)
			return nil
		}
		return bars
	}

	var today []types.Bar
	for _, b := range load("minute", dayStart, bar.Time) {
		b.Time = b.Time.In(loc)
		if b.Time.Before(bar.Time) && d.inSession(b.Time) {
			today = append(today, b)
		}
	}
	d.minute.load(today)

	if d.hourly.len() == 0 {
		d.hourly.load(load("60minute", dayStart.AddDate(0, 0, -10), dayStart))
	}
	if d.daily.len() == 0 {
		d.daily.load(load("day", dayStart.AddDate(0, 0, -d.cfg.MaxDailyBars*2), dayStart))
	}
	logger.Info(ctx, "Warm start loaded", "symbol", d.cfg.Symbol,
		"minute", d.minute.len(), "hourly", d.hourly.len(), "daily", d.daily.len())
}
