package dealerobs

import (
	"context"
	"time"

	"llm-dealer/internal/interfaces"
	"llm-dealer/internal/logger"
	"llm-dealer/internal/trace"
	"llm-dealer/internal/types"
)

type observableDealer struct {
	dealer interfaces.Dealer
}

var _ interfaces.Dealer = (*observableDealer)(nil)

func Wrap(d interfaces.Dealer) interfaces.Dealer {
	return &observableDealer{
		dealer: d,
	}
}

func (od *observableDealer) Symbol() string { return od.dealer.Symbol() }

func (od *observableDealer) ProcessBar(ctx context.Context, bar types.Bar) (types.Decision, error) {
	ctx, span := trace.StartSpan(ctx, "dealer.ProcessBar")
	defer span.End()

	start := time.Now()

	logger.DebugSkip(ctx, 1, "Processing bar",
		"symbol", od.dealer.Symbol(),
		"time", bar.Time,
		"close", bar.Close,
	)

	dec, err := od.dealer.ProcessBar(ctx, bar)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Bar degraded to hold", err,
			"symbol", od.dealer.Symbol(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return dec, err
	}

	logger.DebugSkip(ctx, 1, "Bar processed",
		"symbol", od.dealer.Symbol(),
		"instruction", dec.Instruction.String(),
		"executed", dec.Executed,
		"net_position", dec.NetPosition,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return dec, nil
}
