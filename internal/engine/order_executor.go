package engine

import (
	"context"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/tradelog"
	"llm-dealer/internal/types"
)

// orderExecutor places orders in sequence and journals the fills they
// produce.
type orderExecutor struct {
	gw      interfaces.Gateway
	journal *tradelog.Journal
}

func newOrderExecutor(gw interfaces.Gateway, journal *tradelog.Journal) *orderExecutor {
	x := &orderExecutor{gw: gw, journal: journal}
	if journal != nil {
		gw.OnFill(x.onFill)
	}
	return x
}

func (x *orderExecutor) onFill(f types.Fill) {
	err := x.journal.AppendTrade(tradelog.Trade{
		Time:    f.Time,
		Symbol:  f.Symbol,
		Side:    f.Side,
		Qty:     f.Qty,
		Price:   f.Price,
		OrderID: f.OrderID,
		Status:  "FILLED",
	})
	if err != nil {
		logger.ErrorWithErr(context.Background(), "Failed to journal fill", err, "order_id", f.OrderID)
	}
}

// place stops at the first rejected order so an opening leg is never sent
// after its closing leg failed.
func (x *orderExecutor) place(ctx context.Context, orders []types.OrderReq) []types.OrderResp {
	var out []types.OrderResp
	for _, o := range orders {
		resp, err := x.gw.PlaceOrder(ctx, o)
		if err != nil {
			logger.ErrorWithErr(ctx, "Order rejected", err,
				"symbol", o.Symbol,
				"side", o.Side,
				"qty", o.Qty,
				"price", o.Price,
			)
			break
		}
		out = append(out, resp)
	}
	return out
}
