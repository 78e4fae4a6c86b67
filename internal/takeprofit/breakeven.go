package takeprofit

import (
	"context"
	"fmt"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
)

// BreakEvenPoints is the stop offset from the open price, in points
const BreakEvenPoints = 12

// BreakEven moves a profitable position's stop just past its open price,
// keeping the existing take-profit. It re-reads the position, tick and symbol
// so a stale snapshot cannot place the stop on the wrong side. It returns
// false without error when the position is not in profit.
func (l *Ladder) BreakEven(ctx context.Context, ticket int64) (bool, error) {
	pos, err := l.market.Position(ctx, ticket)
	if err != nil {
		return false, fmt.Errorf("lookup position %d: %w", ticket, err)
	}
	meta, err := l.market.SymbolMeta(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("symbol info %s: %w", pos.Symbol, err)
	}
	tick, err := l.market.Tick(ctx, pos.Symbol)
	if err != nil {
		return false, fmt.Errorf("tick %s: %w", pos.Symbol, err)
	}

	sl, ok := BreakEvenStop(*pos, *tick, meta.Digits)
	if !ok {
		l.logger.Info().
			Int64("ticket", ticket).
			Float64("open", pos.OpenPrice).
			Float64("bid", tick.Bid).
			Float64("ask", tick.Ask).
			Msg("Position not in profit, break-even skipped")
		return false, nil
	}

	l.logger.Info().Int64("ticket", ticket).Str("symbol", pos.Symbol).Float64("sl", sl).Msg("Setting break-even")
	if err := l.exec.ModifyStops(ctx, *pos, sl, pos.TakeProfit); err != nil {
		return false, err
	}
	l.bus.Publish(events.Event{
		Type: events.EventBreakEven,
		Data: map[string]interface{}{"ticket": ticket, "symbol": pos.Symbol, "sl": sl},
	})
	return true, nil
}

// BreakEvenStop computes the break-even stop for a position. A Buy must have
// ask above open and a Sell bid below open, otherwise ok is false.
func BreakEvenStop(pos broker.Position, tick broker.Tick, digits int) (float64, bool) {
	offset := broker.Points(BreakEvenPoints, digits)
	switch pos.Direction {
	case broker.Buy:
		if tick.Ask <= pos.OpenPrice {
			return 0, false
		}
		return broker.RoundPrice(pos.OpenPrice+offset, digits), true
	case broker.Sell:
		if tick.Bid >= pos.OpenPrice {
			return 0, false
		}
		return broker.RoundPrice(pos.OpenPrice-offset, digits), true
	}
	return 0, false
}
