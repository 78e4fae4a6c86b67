package broker

import (
	"context"
	"errors"
	"math"
	"testing"
)

func newTestPaper(t *testing.T) *PaperBroker {
	t.Helper()
	b, err := NewPaperBroker(10000, 1)
	if err != nil {
		t.Fatalf("NewPaperBroker: %v", err)
	}
	b.AddSymbol(SymbolMeta{Symbol: "EURUSD", Digits: 5, MinVolume: 0.01, ContractSize: 100000})
	b.SetQuote("EURUSD", 1.10000, 1.10010)
	return b
}

func TestPaperBrokerOpenAndMark(t *testing.T) {
	ctx := context.Background()
	b := newTestPaper(t)

	res, err := b.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Buy, Volume: 1})
	if err != nil || !res.Success {
		t.Fatalf("open failed: %v %+v", err, res)
	}

	b.SetQuote("EURUSD", 1.10100, 1.10110)
	pos, err := b.Position(ctx, res.Ticket)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	// opened at ask 1.10010, marked at bid 1.10100
	want := (1.10100 - 1.10010) * 100000
	if math.Abs(pos.Profit-want) > 1e-6 {
		t.Errorf("Expected profit %.4f, got %.4f", want, pos.Profit)
	}

	acct, _ := b.Account(ctx)
	if math.Abs(acct.Equity-(10000+want)) > 1e-6 {
		t.Errorf("Expected equity %.4f, got %.4f", 10000+want, acct.Equity)
	}
}

func TestPaperBrokerPartialClose(t *testing.T) {
	ctx := context.Background()
	b := newTestPaper(t)

	res, _ := b.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Sell, Volume: 1})
	b.SetQuote("EURUSD", 1.09900, 1.09910)

	close, err := b.Submit(ctx, OrderRequest{Kind: RequestClose, Ticket: res.Ticket, Volume: 0.5})
	if err != nil || !close.Success {
		t.Fatalf("partial close failed: %v %+v", err, close)
	}

	pos, err := b.Position(ctx, res.Ticket)
	if err != nil {
		t.Fatalf("position should survive a partial close: %v", err)
	}
	if pos.Volume != 0.5 {
		t.Errorf("Expected remaining volume 0.5, got %v", pos.Volume)
	}

	acct, _ := b.Account(ctx)
	realized := (1.10000 - 1.09910) * 0.5 * 100000
	if math.Abs(acct.Balance-(10000+realized)) > 1e-6 {
		t.Errorf("Expected balance %.4f, got %.4f", 10000+realized, acct.Balance)
	}

	if _, err := b.Submit(ctx, OrderRequest{Kind: RequestClose, Ticket: res.Ticket, Volume: 0.5}); err != nil {
		t.Fatalf("final close: %v", err)
	}
	if _, err := b.Position(ctx, res.Ticket); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Expected ErrPositionNotFound after full close, got %v", err)
	}
}

func TestPaperBrokerRejectNext(t *testing.T) {
	ctx := context.Background()
	b := newTestPaper(t)
	b.RejectNext(2)

	for i := 0; i < 2; i++ {
		res, err := b.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Buy, Volume: 0.1})
		if err != nil {
			t.Fatalf("unexpected transport error: %v", err)
		}
		if res.Success {
			t.Errorf("submission %d should have been rejected", i+1)
		}
	}
	res, _ := b.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Buy, Volume: 0.1})
	if !res.Success {
		t.Errorf("third submission should succeed, got %+v", res)
	}
	if got := len(b.Submitted()); got != 3 {
		t.Errorf("Expected 3 recorded submissions, got %d", got)
	}
}

func TestPaperBrokerModifyAndCancel(t *testing.T) {
	ctx := context.Background()
	b := newTestPaper(t)

	res, _ := b.Submit(ctx, OrderRequest{Kind: RequestOpen, Symbol: "EURUSD", Direction: Buy, Volume: 0.1})
	if _, err := b.Submit(ctx, OrderRequest{Kind: RequestModifyStops, Ticket: res.Ticket, StopLoss: 1.09, TakeProfit: 1.12}); err != nil {
		t.Fatalf("modify: %v", err)
	}
	pos, _ := b.Position(ctx, res.Ticket)
	if pos.StopLoss != 1.09 || pos.TakeProfit != 1.12 {
		t.Errorf("Expected SL 1.09 TP 1.12, got SL %v TP %v", pos.StopLoss, pos.TakeProfit)
	}

	ticket := b.AddPendingOrder("EURUSD", Sell, 0.1, 1.2)
	cancel, _ := b.Submit(ctx, OrderRequest{Kind: RequestCancel, Ticket: ticket})
	if !cancel.Success {
		t.Errorf("cancel should succeed, got %+v", cancel)
	}
	orders, _ := b.Orders(ctx)
	if len(orders) != 0 {
		t.Errorf("Expected no pending orders, got %d", len(orders))
	}
}

func TestSnapshotHelpers(t *testing.T) {
	snap := &Snapshot{Positions: []Position{
		{Ticket: 1, Symbol: "EURUSD", Direction: Buy, Profit: 10},
		{Ticket: 2, Symbol: "GBPJPY", Direction: Sell, Profit: -4},
		{Ticket: 3, Symbol: "EURUSD", Direction: Sell, Profit: 5},
	}}

	eur := snap.BySymbol("EURUSD")
	if len(eur) != 2 {
		t.Fatalf("Expected 2 EURUSD positions, got %d", len(eur))
	}
	if !IsHedged(eur) {
		t.Error("EURUSD should be hedged")
	}
	if IsHedged(snap.BySymbol("GBPJPY")) {
		t.Error("GBPJPY should not be hedged")
	}
	if got := TotalProfit(eur); got != 15 {
		t.Errorf("Expected total profit 15, got %v", got)
	}
	if got := snap.Symbols(); len(got) != 2 || got[0] != "EURUSD" || got[1] != "GBPJPY" {
		t.Errorf("unexpected symbol order %v", got)
	}
}
