package interfaces

import (
	"context"

	"llm-dealer/internal/types"
)

// Gateway routes orders to a venue. Fills are delivered through the
// callback registered with OnFill.
type Gateway interface {
	PlaceOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	OnFill(fn func(types.Fill))
}
