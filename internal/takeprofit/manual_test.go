package takeprofit

import (
	"context"
	"errors"
	"testing"

	"trade-engine/internal/broker"
	"trade-engine/internal/order"
)

func TestManualTP1IgnoresProfitLevel(t *testing.T) {
	pos := broker.Position{Ticket: 7, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1, OpenPrice: 1.1, Profit: -20}
	market := &fakeMarket{positions: map[int64]broker.Position{7: pos}}
	l, exec, tr, _ := newLadder(market)

	if err := l.ApplyTP1(context.Background(), 7); err != nil {
		t.Fatalf("ApplyTP1: %v", err)
	}
	if len(exec.partials) != 1 || exec.partials[0].volume != 0.5 {
		t.Errorf("Expected a 0.5 lot partial close, got %+v", exec.partials)
	}
	if !tr.Status(7).TP1Applied {
		t.Error("Expected TP1 to be marked")
	}
}

func TestManualTP2SetsBreakEven(t *testing.T) {
	pos := broker.Position{Ticket: 9, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1, OpenPrice: 1.10000, TakeProfit: 1.2}
	market := &fakeMarket{
		positions: map[int64]broker.Position{9: pos},
		tick:      broker.Tick{Symbol: "EURUSD", Bid: 1.10100, Ask: 1.10110},
		meta:      broker.SymbolMeta{Symbol: "EURUSD", Digits: 5, MinVolume: 0.01},
	}
	l, exec, tr, _ := newLadder(market)

	if err := l.ApplyTP2(context.Background(), 9); err != nil {
		t.Fatalf("ApplyTP2: %v", err)
	}
	if !tr.Status(9).TP2Applied {
		t.Error("Expected TP2 to be marked")
	}
	if len(exec.stops) != 1 {
		t.Fatalf("Expected a break-even stop, got %+v", exec.stops)
	}
	if exec.stops[0].sl != 1.10012 || exec.stops[0].tp != 1.2 {
		t.Errorf("Expected sl 1.10012 keeping tp 1.2, got %+v", exec.stops[0])
	}
}

func TestManualTPUnknownTicket(t *testing.T) {
	l, exec, _, _ := newLadder(nil)
	if err := l.ApplyTP1(context.Background(), 404); err == nil {
		t.Error("Expected an error for an unknown ticket")
	}
	if len(exec.partials) != 0 {
		t.Errorf("Expected no partial close, got %+v", exec.partials)
	}
}

func TestManualTP2NotMarkedWhileCloseRetries(t *testing.T) {
	pos := broker.Position{Ticket: 9, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1, OpenPrice: 1.10000}
	market := &fakeMarket{
		positions: map[int64]broker.Position{9: pos},
		tick:      broker.Tick{Symbol: "EURUSD", Bid: 1.10100, Ask: 1.10110},
		meta:      broker.SymbolMeta{Symbol: "EURUSD", Digits: 5, MinVolume: 0.01},
	}
	l, exec, tr, _ := newLadder(market)
	exec.partialErr = order.ErrDuplicate

	if err := l.ApplyTP2(context.Background(), 9); !errors.Is(err, order.ErrDuplicate) {
		t.Fatalf("Expected ErrDuplicate, got %v", err)
	}
	if tr.Status(9).TP2Applied {
		t.Error("Expected TP2 not to be marked")
	}
	if len(exec.stops) != 0 {
		t.Errorf("Expected no break-even, got %+v", exec.stops)
	}
}
