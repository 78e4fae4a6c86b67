package takeprofit

import (
	"context"
	"errors"
	"fmt"

	"trade-engine/internal/order"
)

// ApplyTP1 scales out of a position by its symbol's TP1 percent on operator
// request and marks TP1 as taken, whatever the profit.
func (l *Ladder) ApplyTP1(ctx context.Context, ticket int64) error {
	pos, err := l.market.Position(ctx, ticket)
	if err != nil {
		return fmt.Errorf("lookup position %d: %w", ticket, err)
	}
	cfg := l.settings.Get(pos.Symbol)

	l.logger.Info().Int64("ticket", ticket).Str("symbol", pos.Symbol).Float64("percent", cfg.TP1Percent).Msg("Manual TP1")
	if err := l.scaleOut(ctx, *pos, cfg.TP1Percent); errors.Is(err, order.ErrDuplicate) {
		return err
	}
	l.tracker.MarkTP1(ticket)
	l.fired(StageTP1, *pos, l.tracker.Realized(pos.Symbol)+pos.Profit)
	return nil
}

// ApplyTP2 is the manual TP2: scale out by the TP2 percent, mark it taken and
// move the stop to break-even.
func (l *Ladder) ApplyTP2(ctx context.Context, ticket int64) error {
	pos, err := l.market.Position(ctx, ticket)
	if err != nil {
		return fmt.Errorf("lookup position %d: %w", ticket, err)
	}
	cfg := l.settings.Get(pos.Symbol)

	l.logger.Info().Int64("ticket", ticket).Str("symbol", pos.Symbol).Float64("percent", cfg.TP2Percent).Msg("Manual TP2")
	if err := l.scaleOut(ctx, *pos, cfg.TP2Percent); errors.Is(err, order.ErrDuplicate) {
		return err
	}
	l.tracker.MarkTP2(ticket)
	l.fired(StageTP2, *pos, l.tracker.Realized(pos.Symbol)+pos.Profit)

	if _, err := l.BreakEven(ctx, ticket); err != nil {
		return fmt.Errorf("break-even after manual TP2: %w", err)
	}
	return nil
}
