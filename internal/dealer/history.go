package dealer

import (
	"fmt"
	"strings"

	"llm-dealer/internal/types"
)

// history keeps the newest max bars in time order.
type history struct {
	bars []types.Bar
	max  int
}

func newHistory(max int) *history {
	return &history{bars: make([]types.Bar, 0, max), max: max}
}

func (h *history) push(b types.Bar) {
	h.bars = append(h.bars, b)
	if len(h.bars) > h.max {
		h.bars = h.bars[len(h.bars)-h.max:]
	}
}

func (h *history) load(bars []types.Bar) {
	h.reset()
	for _, b := range bars {
		h.push(b)
	}
}

func (h *history) reset() { h.bars = h.bars[:0] }

func (h *history) len() int { return len(h.bars) }

// updateHistories appends an in-session bar: every bar to the minute
// history, top-of-hour bars to the hourly history, the 15:00 bar to daily.
func (d *Dealer) updateHistories(b types.Bar) {
	d.minute.push(b)
	if b.Time.Minute() == 0 {
		d.hourly.push(b)
		if b.Time.Hour() == 15 {
			d.daily.push(b)
		}
	}
}

// summarize renders one line per bar. Compact lines carry close and volume only.
func (h *history) summarize(daily, compact bool) string {
	if len(h.bars) == 0 {
		return "No data available"
	}
	layout := "2006-01-02 15:04"
	if daily {
		layout = "2006-01-02"
	}
	lines := make([]string, 0, len(h.bars))
	for _, b := range h.bars {
		if compact {
			lines = append(lines, fmt.Sprintf("%s: C:%.2f V:%g", b.Time.Format(layout), b.Close, b.Volume))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: O:%.2f H:%.2f L:%.2f C:%.2f V:%g",
			b.Time.Format(layout), b.Open, b.High, b.Low, b.Close, b.Volume))
	}
	return strings.Join(lines, "\n")
}
