package risk

import (
	"context"
	"testing"
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/order"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

func TestStopFor(t *testing.T) {
	buy := broker.Position{Direction: broker.Buy, OpenPrice: 1950.50}
	sell := broker.Position{Direction: broker.Sell, OpenPrice: 1950.50}

	if got := StopFor(buy, 10, 2); got != 1940.50 {
		t.Errorf("Expected buy stop 1940.50, got %v", got)
	}
	if got := StopFor(sell, 10, 2); got != 1960.50 {
		t.Errorf("Expected sell stop 1960.50, got %v", got)
	}
}

func TestInjectIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pb, err := broker.NewPaperBroker(10000, 1)
	if err != nil {
		t.Fatalf("NewPaperBroker: %v", err)
	}
	pb.AddSymbol(broker.SymbolMeta{Symbol: "XAUUSD", Digits: 2, MinVolume: 0.01, ContractSize: 100})
	pb.SetQuote("XAUUSD", 1950, 1950.2)

	reg := settings.NewRegistry(settings.DefaultSymbolConfig(), nil)
	reg.Mutate("XAUUSD", func(c *settings.SymbolConfig) { c.SLAdjust = 10 })

	exec := order.NewManager(pb, order.DefaultPolicy(), nil, zerolog.Nop())
	inj := NewStopLossInjector(pb, exec, reg, nil, zerolog.Nop())

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 0.1, Price: 1950})

	positions, _ := pb.Positions(ctx, "")
	if n := inj.Inject(ctx, positions); n != 1 {
		t.Fatalf("Expected 1 injection, got %d", n)
	}
	p, _ := pb.Position(ctx, res.Ticket)
	if p.StopLoss != 1940 {
		t.Errorf("Expected stop 1940, got %v", p.StopLoss)
	}

	positions, _ = pb.Positions(ctx, "")
	if n := inj.Inject(ctx, positions); n != 0 {
		t.Errorf("Expected protected position to be skipped, got %d", n)
	}
}

func TestInjectSkipsWhenDisabled(t *testing.T) {
	reg := settings.NewRegistry(settings.DefaultSymbolConfig(), nil)
	inj := NewStopLossInjector(nil, nil, reg, nil, zerolog.Nop())

	positions := []broker.Position{{Ticket: 1, Symbol: "EURUSD", Direction: broker.Buy, OpenPrice: 1.1}}
	if n := inj.Inject(context.Background(), positions); n != 0 {
		t.Errorf("Expected no injection with sl_adjust 0, got %d", n)
	}
}

func TestInjectRejectedStopNotCounted(t *testing.T) {
	ctx := context.Background()
	pb, err := broker.NewPaperBroker(10000, 1)
	if err != nil {
		t.Fatalf("NewPaperBroker: %v", err)
	}
	pb.AddSymbol(broker.SymbolMeta{Symbol: "XAUUSD", Digits: 2, MinVolume: 0.01, ContractSize: 100})
	pb.SetQuote("XAUUSD", 1950, 1950.2)

	reg := settings.NewRegistry(settings.DefaultSymbolConfig(), nil)
	reg.Mutate("XAUUSD", func(c *settings.SymbolConfig) { c.SLAdjust = 10 })

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	exec := order.NewManager(pb, order.DefaultPolicy(), nil, zerolog.Nop())
	exec.SetClock(func() time.Time { return now })
	inj := NewStopLossInjector(pb, exec, reg, nil, zerolog.Nop())

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 0.1, Price: 1950})
	before := len(pb.Submitted())

	pb.RejectNext(1)
	positions, _ := pb.Positions(ctx, "")
	if n := inj.Inject(ctx, positions); n != 0 {
		t.Errorf("Expected rejected stop not to be counted, got %d", n)
	}
	// the next cycle sees the position still unprotected while the retry waits
	if n := inj.Inject(ctx, positions); n != 0 {
		t.Errorf("Expected stop awaiting retry not to be counted, got %d", n)
	}
	if got := len(pb.Submitted()) - before; got != 1 {
		t.Errorf("Expected 1 stop submission, got %d", got)
	}

	now = now.Add(order.DefaultPolicy().Delay)
	exec.RunDue(ctx)
	p, _ := pb.Position(ctx, res.Ticket)
	if p.StopLoss != 1940 {
		t.Errorf("Expected retried stop 1940, got %v", p.StopLoss)
	}
}
