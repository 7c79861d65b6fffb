package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/types"
)

// DryRun fills every order immediately at its requested price.
type DryRun struct {
	fillHub
	now func() time.Time
}

var _ interfaces.Gateway = (*DryRun)(nil)

func NewDryRun() *DryRun {
	return &DryRun{now: time.Now}
}

func (d *DryRun) PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if req.Qty <= 0 {
		return types.OrderResp{}, fmt.Errorf("order quantity must be positive, got %d", req.Qty)
	}
	id := "SIM-" + uuid.NewString()
	logger.Info(ctx, "Simulated order placed",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"price", req.Price,
		"order_id", id,
	)
	at := req.Time
	if at.IsZero() {
		at = d.now()
	}
	d.emit(types.Fill{
		OrderID: id,
		Symbol:  req.Symbol,
		Side:    req.Side,
		Qty:     req.Qty,
		Price:   req.Price,
		Time:    at,
	})
	return types.OrderResp{OrderID: id, Status: "FILLED", Message: "dry-run"}, nil
}
