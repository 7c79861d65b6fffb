package dealer

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"llm-dealer/internal/ta"
	"llm-dealer/internal/types"
)

func fmtNum(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", v)
}

func (d *Dealer) formatIndicators(ind types.Indicators) string {
	if !ind.Valid {
		return "N/A"
	}
	if d.cfg.CompactMode {
		return fmt.Sprintf("SMA10: %s\nEMA20: %s\nRSI: %s\nMACD: %s\nBB high: %s\nBB low: %s",
			fmtNum(ind.SMA10), fmtNum(ind.EMA20), fmtNum(ind.RSI), fmtNum(ind.MACD),
			fmtNum(ind.BB.Upper), fmtNum(ind.BB.Lower))
	}
	return fmt.Sprintf(`10-period simple moving average (SMA): %s
20-period exponential moving average (EMA): %s
Relative strength index (RSI): %s
MACD: %s
MACD signal: %s
Average true range (ATR): %s
Bollinger upper: %s
Bollinger middle: %s
Bollinger lower: %s`,
		fmtNum(ind.SMA10), fmtNum(ind.EMA20), fmtNum(ind.RSI), fmtNum(ind.MACD), fmtNum(ind.MACDSignal),
		fmtNum(ind.ATR), fmtNum(ind.BB.Upper), fmtNum(ind.BB.Middle), fmtNum(ind.BB.Lower))
}

func (d *Dealer) positionDescription() string {
	net := d.book.NetPosition()
	switch {
	case net > 0:
		return fmt.Sprintf("long %d lots", net)
	case net < 0:
		return fmt.Sprintf("short %d lots", -net)
	default:
		return "flat"
	}
}

const newsGuidance = `News analysis notes:
1. Consider the short-term (intraday), medium-term (days to weeks) and long-term impact of this news.
2. The market may already have priced it in.
3. Check whether it matches prior expectations; a surprise moves prices more.
4. This news is shown only once. Keep anything worth remembering in next_message.`

// buildPrompt renders the decision prompt for bar. The minute history must
// already contain bar.
func (d *Dealer) buildPrompt(bar types.Bar, news string) string {
	ind := ta.Compute(d.minute.bars)
	profits := d.book.Profits(decimal.NewFromFloat(bar.Close))
	compact := d.cfg.CompactMode

	var b strings.Builder
	b.WriteString("You are a seasoned futures trader. You know how futures markets behave, take every real opportunity and stay alert to risk. Study the data carefully before deciding.\n")
	b.WriteString("Today you run an intraday strategy: every position must be closed before the session ends, nothing is held overnight. The bar period is 1 minute.\n")
	b.WriteString("History is not retained between calls. Anything you want to remember must go into next_message.\n\n")
	if d.cfg.TradeRules != "" {
		fmt.Fprintf(&b, "Follow these trading rules: %s\n\n", d.cfg.TradeRules)
	}

	fmt.Fprintf(&b, "Previous message: %s\n", d.lastMsg)
	fmt.Fprintf(&b, "Current bar index: %d\n\n", d.minute.len()-1)

	fmt.Fprintf(&b, "Daily history (last %d days):\n%s\n\n", d.cfg.MaxDailyBars, d.daily.summarize(true, compact))
	fmt.Fprintf(&b, "Hourly history (last %d hours):\n%s\n\n", d.cfg.MaxHourlyBars, d.hourly.summarize(false, compact))
	fmt.Fprintf(&b, "Today's minute bars (last %d minutes):\n%s\n\n", d.cfg.MaxMinuteBars, d.minute.summarize(false, compact))

	oi := "N/A"
	if bar.OpenInterest != 0 {
		oi = fmt.Sprintf("%g", bar.OpenInterest)
	}
	fmt.Fprintf(&b, "Current bar:\nTime: %s\nOpen: %.2f\nHigh: %.2f\nLow: %.2f\nClose: %.2f\nVolume: %g\nOpen interest: %s\n\n",
		bar.Time.Format("2006-01-02 15:04"), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, oi)

	fmt.Fprintf(&b, "Technical indicators:\n%s\n\n", d.formatIndicators(ind))

	if strings.TrimSpace(news) != "" {
		fmt.Fprintf(&b, "Latest news:\n%s\n\n%s\n\n", news, newsGuidance)
	}

	fmt.Fprintf(&b, "Current position: %s\n", d.positionDescription())
	fmt.Fprintf(&b, "Maximum position: %d lots\n\n", d.cfg.MaxPosition)

	fmt.Fprintf(&b, "P&L:\nRealized: %s\nUnrealized: %s\nTotal: %s\n\n",
		profits.Realized.StringFixed(2), profits.Unrealized.StringFixed(2), profits.Total.StringFixed(2))
	b.WriteString(d.book.Details())
	b.WriteString("\n")

	fmt.Fprintf(&b, `Notes:
1. Intraday positions must be closed before 15:00.
2. The current time is %s. Decide whether positions need closing.
3. Open instructions:
   - buy: 'buy N' (e.g. 'buy 2' or 'buy all')
   - short: 'short N' (e.g. 'short 2' or 'short all')
4. Close instructions:
   - sell to close longs: 'sell N' (e.g. 'sell 2' or 'sell all')
   - buy to cover shorts: 'cover N' (e.g. 'cover 2' or 'cover all')
5. Do not open more once the position is at its maximum in that direction.
6. Give a trade reason and a trade plan (stop-loss range and target price).
7. Even when holding, update trade_plan if the market has changed your expectation.

Give a trade instruction or hold, plus the message you need next time.
Reply in JSON with these fields:
- trade_instruction: string, e.g. "buy 2", "sell all", "short 1", "cover all" or "hold"
- next_message: string for the next call
- trade_reason: string explaining this decision
- trade_plan: string with stop-loss range and target price, revisable

Wrap the JSON in `+"```json and ```.\n", bar.Time.Format("15:04"))
	return b.String()
}
