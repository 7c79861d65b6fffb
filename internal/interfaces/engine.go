package interfaces

import (
	"context"

	"llm-dealer/internal/types"
)

// Engine routes incoming bars to their dealers and their decisions to the
// gateway.
type Engine interface {
	OnBar(ctx context.Context, bar types.Bar) (*types.StepResult, error)
}
