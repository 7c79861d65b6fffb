// Package eod writes the end-of-day CSV summary of the trade journal.
package eod

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/tradelog"
	"llm-dealer/internal/types"
)

// summaryRow is one CSV line. Money columns are fixed-point strings.
type summaryRow struct {
	Symbol         string `csv:"symbol"`
	LongOpenQty    int    `csv:"long_open_qty"`
	LongOpenAvg    string `csv:"long_open_avg"`
	LongCloseQty   int    `csv:"long_close_qty"`
	LongCloseAvg   string `csv:"long_close_avg"`
	ShortOpenQty   int    `csv:"short_open_qty"`
	ShortOpenAvg   string `csv:"short_open_avg"`
	ShortCloseQty  int    `csv:"short_close_qty"`
	ShortCloseAvg  string `csv:"short_close_avg"`
	RealizedPnL    string `csv:"realized_pnl"`
	GrossBuyValue  string `csv:"gross_buy_value"`
	GrossSellValue string `csv:"gross_sell_value"`
}

type leg struct {
	qty   int
	value decimal.Decimal
}

func (l *leg) add(qty int, price float64) {
	l.qty += qty
	l.value = l.value.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(int64(qty))))
}

func (l leg) avg() decimal.Decimal {
	if l.qty == 0 {
		return decimal.Zero
	}
	return l.value.Div(decimal.NewFromInt(int64(l.qty)))
}

type agg struct {
	legs map[types.Side]*leg
}

func (a agg) leg(s types.Side) leg {
	if l, ok := a.legs[s]; ok {
		return *l
	}
	return leg{}
}

// realized pairs closes with opens at average prices.
func (a agg) realized() decimal.Decimal {
	pnl := decimal.Zero
	ol, cl := a.leg(types.SideOpenLong), a.leg(types.SideCloseLong)
	if m := min(ol.qty, cl.qty); m > 0 {
		pnl = pnl.Add(cl.avg().Sub(ol.avg()).Mul(decimal.NewFromInt(int64(m))))
	}
	so, sc := a.leg(types.SideOpenShort), a.leg(types.SideCloseShort)
	if m := min(so.qty, sc.qty); m > 0 {
		pnl = pnl.Add(so.avg().Sub(sc.avg()).Mul(decimal.NewFromInt(int64(m))))
	}
	return pnl
}

type Summarizer struct {
	journal *tradelog.Journal
	loc     *time.Location
	cutoff  time.Duration
	now     func() time.Time
}

var _ interfaces.EodSummarizer = (*Summarizer)(nil)

// NewSummarizer reads trades from journal. ShouldRunNow turns true once the
// wall clock in loc passes cutoff after midnight.
func NewSummarizer(journal *tradelog.Journal, loc *time.Location, cutoff time.Duration) *Summarizer {
	if loc == nil {
		loc = time.Local
	}
	return &Summarizer{journal: journal, loc: loc, cutoff: cutoff, now: time.Now}
}

func (s *Summarizer) csvPath(t time.Time) string {
	return filepath.Join(s.journal.Dir(), "eod", t.In(s.loc).Format(time.DateOnly)+".csv")
}

// SummarizeDay writes the summary for the day containing t. It returns an
// empty path when the day has no trades.
func (s *Summarizer) SummarizeDay(ctx context.Context, t time.Time) (string, error) {
	trades, err := s.journal.Trades(t)
	if err != nil {
		return "", err
	}
	if len(trades) == 0 {
		return "", nil
	}

	aggs := map[string]*agg{}
	for _, tr := range trades {
		a := aggs[tr.Symbol]
		if a == nil {
			a = &agg{legs: map[types.Side]*leg{}}
			aggs[tr.Symbol] = a
		}
		l := a.legs[tr.Side]
		if l == nil {
			l = &leg{}
			a.legs[tr.Side] = l
		}
		l.add(tr.Qty, tr.Price)
	}

	symbols := make([]string, 0, len(aggs))
	for k := range aggs {
		symbols = append(symbols, k)
	}
	slices.Sort(symbols)

	var rows []summaryRow
	totalPnL, totalBuy, totalSell := decimal.Zero, decimal.Zero, decimal.Zero
	for _, sym := range symbols {
		a := aggs[sym]
		ol, cl := a.leg(types.SideOpenLong), a.leg(types.SideCloseLong)
		so, sc := a.leg(types.SideOpenShort), a.leg(types.SideCloseShort)
		buy := ol.value.Add(sc.value)
		sell := cl.value.Add(so.value)
		pnl := a.realized()
		rows = append(rows, summaryRow{
			Symbol:         sym,
			LongOpenQty:    ol.qty,
			LongOpenAvg:    ol.avg().StringFixed(4),
			LongCloseQty:   cl.qty,
			LongCloseAvg:   cl.avg().StringFixed(4),
			ShortOpenQty:   so.qty,
			ShortOpenAvg:   so.avg().StringFixed(4),
			ShortCloseQty:  sc.qty,
			ShortCloseAvg:  sc.avg().StringFixed(4),
			RealizedPnL:    pnl.StringFixed(2),
			GrossBuyValue:  buy.StringFixed(2),
			GrossSellValue: sell.StringFixed(2),
		})
		totalPnL = totalPnL.Add(pnl)
		totalBuy = totalBuy.Add(buy)
		totalSell = totalSell.Add(sell)
	}
	rows = append(rows, summaryRow{
		Symbol:         "TOTAL",
		RealizedPnL:    totalPnL.StringFixed(2),
		GrossBuyValue:  totalBuy.StringFixed(2),
		GrossSellValue: totalSell.StringFixed(2),
	})

	outPath := s.csvPath(t)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	if err := gocsv.MarshalFile(&rows, out); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

func (s *Summarizer) SummarizeToday(ctx context.Context) (string, error) {
	return s.SummarizeDay(ctx, s.now().In(s.loc))
}

func (s *Summarizer) ShouldRunNow() (bool, string) {
	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	outPath := s.csvPath(now)
	if now.After(midnight.Add(s.cutoff)) {
		if _, err := os.Stat(outPath); errors.Is(err, os.ErrNotExist) {
			return true, outPath
		}
	}
	return false, outPath
}
