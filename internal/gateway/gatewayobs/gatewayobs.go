package gatewayobs

import (
	"context"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/trace"
	"llm-dealer/internal/types"
)

// observableGateway wraps a Gateway with logging and tracing.
type observableGateway struct {
	gw interfaces.Gateway
}

var _ interfaces.Gateway = (*observableGateway)(nil)

func Wrap(gw interfaces.Gateway) interfaces.Gateway {
	return &observableGateway{gw: gw}
}

func (og *observableGateway) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "gateway.PlaceOrder")
	defer span.End()

	resp, err := og.gw.PlaceOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
			"price", req.Price,
		)
		return resp, err
	}
	logger.Trade(ctx, req.Symbol, string(req.Side), req.Qty, req.Price, resp.OrderID)
	return resp, nil
}

func (og *observableGateway) OnFill(fn func(types.Fill)) {
	og.gw.OnFill(func(f types.Fill) {
		logger.Debug(context.Background(), "Order filled",
			"order_id", f.OrderID,
			"symbol", f.Symbol,
			"side", f.Side,
			"qty", f.Qty,
			"price", f.Price,
		)
		fn(f)
	})
}
