package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// Kite order statuses that end an order's life.
const (
	statusComplete  = "COMPLETE"
	statusRejected  = "REJECTED"
	statusCancelled = "CANCELLED"
)

// orderPlacer is the slice of the Kite client the gateway needs.
type orderPlacer interface {
	PlaceOrder(variety string, params kiteconnect.OrderParams) (kiteconnect.OrderResponse, error)
}

// Kite places regular orders through Kite Connect. Fills arrive through
// HandleOrderUpdate, which the ticker's order-update callback feeds.
type Kite struct {
	fillHub
	kc       orderPlacer
	exchange string
	product  string
	loc      *time.Location

	mu      sync.Mutex
	pending map[string]types.OrderReq
}

var _ interfaces.Gateway = (*Kite)(nil)

func NewKite(apiKey, accessToken, exchange, product string, loc *time.Location) (*Kite, error) {
	if apiKey == "" || accessToken == "" {
		return nil, errors.New("missing API key/access token")
	}
	kc := kiteconnect.New(apiKey)
	kc.SetAccessToken(accessToken)
	return newKite(kc, exchange, product, loc), nil
}

func newKite(kc orderPlacer, exchange, product string, loc *time.Location) *Kite {
	if loc == nil {
		loc = time.Local
	}
	if product == "" {
		product = kiteconnect.ProductMIS
	}
	return &Kite{
		kc:       kc,
		exchange: exchange,
		product:  product,
		loc:      loc,
		pending:  make(map[string]types.OrderReq),
	}
}

func transactionType(side types.Side) string {
	if Buying(side) {
		return kiteconnect.TransactionTypeBuy
	}
	return kiteconnect.TransactionTypeSell
}

// kiteTag fits the order tag into Kite's 20-character alphanumeric limit.
func kiteTag(side types.Side) string {
	tag := strings.ReplaceAll(string(side), "_", "")
	return tag[:min(len(tag), 20)]
}

func (k *Kite) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if req.Qty <= 0 {
		return types.OrderResp{}, fmt.Errorf("order quantity must be positive, got %d", req.Qty)
	}
	params := kiteconnect.OrderParams{
		Exchange:        k.exchange,
		Tradingsymbol:   req.Symbol,
		Validity:        kiteconnect.ValidityDay,
		Product:         k.product,
		TransactionType: transactionType(req.Side),
		Quantity:        req.Qty,
		Tag:             kiteTag(req.Side),
	}
	if req.PriceType == types.PriceMarket {
		params.OrderType = kiteconnect.OrderTypeMarket
	} else {
		params.OrderType = kiteconnect.OrderTypeLimit
		params.Price = req.Price
	}

	resp, err := k.kc.PlaceOrder(kiteconnect.VarietyRegular, params)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("kite order for %s: %w", req.Symbol, err)
	}
	k.mu.Lock()
	k.pending[resp.OrderID] = req
	k.mu.Unlock()

	logger.Info(ctx, "Live order placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"price", req.Price,
		"order_type", params.OrderType,
		"order_id", resp.OrderID,
	)
	return types.OrderResp{OrderID: resp.OrderID, Status: "PLACED", Message: "ok"}, nil
}

// HandleOrderUpdate turns a completed order of ours into a Fill. Updates
// for other orders, and non-terminal ones, are ignored.
func (k *Kite) HandleOrderUpdate(o kiteconnect.Order) {
	k.mu.Lock()
	req, ok := k.pending[o.OrderID]
	if ok && isTerminal(o.Status) {
		delete(k.pending, o.OrderID)
	}
	k.mu.Unlock()
	if !ok {
		return
	}

	switch o.Status {
	case statusComplete:
	case statusRejected, statusCancelled:
		logger.Warn(context.Background(), "Order not filled", "order_id", o.OrderID, "status", o.Status)
		return
	default:
		return
	}

	at := o.ExchangeTimestamp.Time
	if at.IsZero() {
		at = time.Now()
	}
	k.emit(types.Fill{
		OrderID: o.OrderID,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Qty:     int(o.FilledQuantity),
		Price:   float64(o.AveragePrice),
		Time:    at.In(k.loc),
	})
}

func isTerminal(status string) bool {
	switch status {
	case statusComplete, statusRejected, statusCancelled:
		return true
	}
	return false
}
