package types

import (
	"fmt"
	"time"
)

// Bar is one OHLCV observation; OpenInterest is zero when the venue has none.
type Bar struct {
	Symbol       string    `json:"symbol,omitempty" csv:"symbol"`
	Time         time.Time `json:"time" csv:"-"`
	Open         float64   `json:"open" csv:"open"`
	High         float64   `json:"high" csv:"high"`
	Low          float64   `json:"low" csv:"low"`
	Close        float64   `json:"close" csv:"close"`
	Volume       float64   `json:"volume" csv:"volume"`
	OpenInterest float64   `json:"open_interest,omitempty" csv:"open_interest"`
}

// Indicators holds the latest value of each indicator with the window actually used.
type Indicators struct {
	SMA10      float64 `json:"sma_10"`
	EMA20      float64 `json:"ema_20"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	BB         struct {
		Upper, Middle, Lower float64
	} `json:"bollinger"`
	ATR     float64        `json:"atr"`
	Windows map[string]int `json:"windows,omitempty"`
	Valid   bool           `json:"valid"`
}

type Action string

const (
	ActionBuy   Action = "buy"
	ActionSell  Action = "sell"
	ActionShort Action = "short"
	ActionCover Action = "cover"
	ActionHold  Action = "hold"
)

// Opens reports whether the action adds exposure.
func (a Action) Opens() bool { return a == ActionBuy || a == ActionShort }

// Closes reports whether the action removes exposure.
func (a Action) Closes() bool { return a == ActionSell || a == ActionCover }

// Instruction is the parsed trade_instruction of an LLM reply.
// All means the quantity resolves to the maximum permissible size at apply time.
type Instruction struct {
	Action   Action `json:"action"`
	Quantity int    `json:"quantity"`
	All      bool   `json:"all,omitempty"`
}

func (i Instruction) String() string {
	switch {
	case i.Action == ActionHold || i.Action == "":
		return string(ActionHold)
	case i.All:
		return string(i.Action) + " all"
	default:
		return fmt.Sprintf("%s %d", i.Action, i.Quantity)
	}
}

// Decision is what a dealer did for one bar.
type Decision struct {
	Symbol      string      `json:"symbol"`
	Time        time.Time   `json:"time"`
	Price       float64     `json:"price"`
	Instruction Instruction `json:"instruction"`
	Executed    int         `json:"executed"`
	ForcedClose int         `json:"forced_close,omitempty"`
	NoOp        bool        `json:"no_op,omitempty"`
	Suppressed  bool        `json:"suppressed,omitempty"`
	NetPosition int         `json:"net_position"`
	NextMessage string      `json:"next_message,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Plan        string      `json:"plan,omitempty"`
}

// Side is the open/close type sent to a trading gateway.
type Side string

const (
	SideOpenLong   Side = "OPEN_LONG"
	SideCloseLong  Side = "CLOSE_LONG_TODAY"
	SideOpenShort  Side = "OPEN_SHORT"
	SideCloseShort Side = "CLOSE_SHORT_TODAY"
)

type PriceType string

const (
	PriceLimit  PriceType = "LIMIT"
	PriceMarket PriceType = "MARKET"
)

type OrderReq struct {
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Qty       int       `json:"qty"`
	Price     float64   `json:"price"`
	PriceType PriceType `json:"price_type"`
	Tag       string    `json:"tag"`
	// Time is the bar the order was derived from.
	Time      time.Time `json:"time,omitempty"`
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Fill is a gateway callback for an executed order.
type Fill struct {
	OrderID string    `json:"order_id"`
	Symbol  string    `json:"symbol"`
	Side    Side      `json:"side"`
	Qty     int       `json:"qty"`
	Price   float64   `json:"price"`
	Time    time.Time `json:"time"`
}

type NewsItem struct {
	Title       string    `json:"title"`
	Content     string    `json:"content,omitempty"`
	URL         string    `json:"url,omitempty"`
	Source      string    `json:"source,omitempty"`
	Tag         string    `json:"tag,omitempty"`
	Symbol      string    `json:"symbol,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// StepResult is what the router did with one bar. Skipped names the
// reason a bar never reached its dealer.
type StepResult struct {
	Symbol   string      `json:"symbol"`
	Decision Decision    `json:"decision"`
	Orders   []OrderResp `json:"orders,omitempty"`
	Skipped  string      `json:"skipped,omitempty"`
}
