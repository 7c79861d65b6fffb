// Package feed produces the bar streams the dealers consume: recorded
// CSV files for replays and live Kite ticks folded into minute bars.
package feed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"

	"llm-dealer/internal/dealer"
	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// csvRow is one line of a recorded bar file. The datetime column takes any
// format dealer.ParseTimestamp understands.
type csvRow struct {
	Symbol       string  `csv:"symbol"`
	Datetime     string  `csv:"datetime"`
	Open         float64 `csv:"open"`
	High         float64 `csv:"high"`
	Low          float64 `csv:"low"`
	Close        float64 `csv:"close"`
	Volume       float64 `csv:"volume"`
	OpenInterest float64 `csv:"open_interest"`
}

// CSV replays a bar file in file order.
type CSV struct {
	path   string
	symbol string
	loc    *time.Location
}

var _ interfaces.Feed = (*CSV)(nil)

// NewCSV reads bars from path. symbol fills rows whose symbol column is
// empty or missing.
func NewCSV(path, symbol string, loc *time.Location) *CSV {
	if loc == nil {
		loc = time.Local
	}
	return &CSV{path: path, symbol: symbol, loc: loc}
}

func (c *CSV) Load() ([]types.Bar, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()

	var rows []csvRow
	if err := gocsv.Unmarshal(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", c.path, err)
	}
	bars := make([]types.Bar, 0, len(rows))
	for i, r := range rows {
		at, err := dealer.ParseTimestamp(r.Datetime, c.loc)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", c.path, i+2, err)
		}
		sym := r.Symbol
		if sym == "" {
			sym = c.symbol
		}
		bars = append(bars, types.Bar{
			Symbol:       sym,
			Time:         at,
			Open:         r.Open,
			High:         r.High,
			Low:          r.Low,
			Close:        r.Close,
			Volume:       r.Volume,
			OpenInterest: r.OpenInterest,
		})
	}
	return bars, nil
}

func (c *CSV) Run(ctx context.Context, fn func(types.Bar)) error {
	bars, err := c.Load()
	if err != nil {
		return err
	}
	logger.Info(ctx, "Replaying bar file", "path", c.path, "bars", len(bars))
	for _, b := range bars {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(b)
	}
	return nil
}

// WriteCSV records bars in the format CSV reads back.
func WriteCSV(path string, bars []types.Bar) error {
	rows := make([]csvRow, len(bars))
	for i, b := range bars {
		rows[i] = csvRow{
			Symbol:       b.Symbol,
			Datetime:     b.Time.Format(time.RFC3339),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			OpenInterest: b.OpenInterest,
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
