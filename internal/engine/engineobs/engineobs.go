package engineobs

import (
	"context"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/trace"
	"llm-dealer/internal/types"
)

type observableEngine struct {
	engine interfaces.Engine
}

var _ interfaces.Engine = (*observableEngine)(nil)

func Wrap(eng interfaces.Engine) interfaces.Engine {
	return &observableEngine{
		engine: eng,
	}
}

func (oe *observableEngine) OnBar(ctx context.Context, bar types.Bar) (*types.StepResult, error) {
	ctx, span := trace.StartSpan(ctx, "engine.OnBar")
	defer span.End()

	start := time.Now()
	result, err := oe.engine.OnBar(ctx, bar)
	if result == nil {
		logger.ErrorWithErrSkip(ctx, 1, "Bar not routed", err, "symbol", bar.Symbol, "time", bar.Time)
		return nil, err
	}
	if result.Skipped != "" {
		logger.DebugSkip(ctx, 1, "Bar skipped", "symbol", bar.Symbol, "time", bar.Time, "reason", result.Skipped)
		return result, err
	}

	logger.InfoSkip(ctx, 1, "Bar routed",
		"symbol", bar.Symbol,
		"time", bar.Time,
		"instruction", result.Decision.Instruction.String(),
		"net_position", result.Decision.NetPosition,
		"orders", len(result.Orders),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, err
}
