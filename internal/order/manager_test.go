package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"trade-engine/internal/broker"

	"github.com/rs/zerolog"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setup(t *testing.T) (*Manager, *broker.PaperBroker, *clock) {
	t.Helper()
	pb, err := broker.NewPaperBroker(10000, 1)
	if err != nil {
		t.Fatalf("NewPaperBroker: %v", err)
	}
	pb.AddSymbol(broker.SymbolMeta{Symbol: "EURUSD", Digits: 5, MinVolume: 0.01, ContractSize: 100000})
	pb.SetQuote("EURUSD", 1.10000, 1.10010)

	c := &clock{t: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)}
	m := NewManager(pb, DefaultPolicy(), nil, zerolog.Nop())
	m.SetClock(c.now)
	return m, pb, c
}

func TestRetryBound(t *testing.T) {
	ctx := context.Background()
	m, pb, c := setup(t)
	pb.RejectNext(100)

	err := m.Open(ctx, "EURUSD", 0.1, broker.Buy, "")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected on first failure, got %v", err)
	}

	// nothing is due until the delay elapses
	if n := m.RunDue(ctx); n != 0 {
		t.Errorf("Expected no due tasks before the delay, ran %d", n)
	}

	for i := 0; i < 10; i++ {
		c.advance(60 * time.Second)
		m.RunDue(ctx)
	}

	if got := len(pb.Submitted()); got != 5 {
		t.Errorf("Expected exactly 5 submissions, got %d", got)
	}
	if m.Pending() != 0 {
		t.Errorf("Expected empty queue after giving up, got %d", m.Pending())
	}
}

func TestRetrySucceedsLater(t *testing.T) {
	ctx := context.Background()
	m, pb, c := setup(t)
	pb.RejectNext(2)

	_ = m.Open(ctx, "EURUSD", 0.1, broker.Sell, "")
	c.advance(60 * time.Second)
	m.RunDue(ctx)
	c.advance(60 * time.Second)
	m.RunDue(ctx)

	positions, _ := pb.Positions(ctx, "EURUSD")
	if len(positions) != 1 {
		t.Fatalf("Expected the third attempt to open a position, got %d", len(positions))
	}
	if positions[0].OpenPrice != 1.10000 {
		t.Errorf("Sell should fill at the bid, got %v", positions[0].OpenPrice)
	}
	if got := len(pb.Submitted()); got != 3 {
		t.Errorf("Expected 3 submissions, got %d", got)
	}
}

func TestRetryDropsClosedTicket(t *testing.T) {
	ctx := context.Background()
	m, pb, c := setup(t)

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1})
	pos, _ := pb.Position(ctx, res.Ticket)

	pb.RejectNext(1)
	if err := m.Close(ctx, *pos); err == nil {
		t.Fatal("Expected first close to fail")
	}

	// someone else closes it before the retry
	pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestClose, Ticket: res.Ticket, Volume: 1})
	before := len(pb.Submitted())

	c.advance(60 * time.Second)
	m.RunDue(ctx)

	if got := len(pb.Submitted()); got != before {
		t.Errorf("Retry of a closed ticket must not submit, got %d new submissions", got-before)
	}
	if m.Pending() != 0 {
		t.Errorf("Expected no further retries, got %d queued", m.Pending())
	}
}

func TestPartialCloseReportsFill(t *testing.T) {
	ctx := context.Background()
	m, pb, _ := setup(t)

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1, Price: 1.09})
	pos, _ := pb.Position(ctx, res.Ticket)

	var fills []Fill
	m.OnPartialFill(func(f Fill) { fills = append(fills, f) })

	if err := m.PartialClose(ctx, *pos, 0.5); err != nil {
		t.Fatalf("PartialClose: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("Expected one fill, got %d", len(fills))
	}
	f := fills[0]
	if f.ClosedVolume != 0.5 || f.PositionVolume != 1 {
		t.Errorf("unexpected fill volumes %+v", f)
	}
	if got, want := f.ClosedProfit(), pos.Profit/2; got != want {
		t.Errorf("Expected closed profit %v, got %v", want, got)
	}

	left, _ := pb.Position(ctx, res.Ticket)
	if left.Volume != 0.5 {
		t.Errorf("Expected 0.5 lots left, got %v", left.Volume)
	}
}

func TestPartialCloseClampsToFullVolume(t *testing.T) {
	ctx := context.Background()
	m, pb, _ := setup(t)

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Sell, Volume: 0.3})
	pos, _ := pb.Position(ctx, res.Ticket)

	if err := m.PartialClose(ctx, *pos, 0.5); err != nil {
		t.Fatalf("PartialClose: %v", err)
	}
	if _, err := pb.Position(ctx, res.Ticket); !errors.Is(err, broker.ErrPositionNotFound) {
		t.Errorf("Expected the position to be fully closed, got %v", err)
	}
}

func TestCloseAllLoopsUntilFlat(t *testing.T) {
	ctx := context.Background()
	m, pb, c := setup(t)

	for i := 0; i < 3; i++ {
		pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Buy, Volume: 0.1})
	}

	// the first two closes bounce
	pb.RejectNext(2)
	_ = m.CloseAll(ctx)
	if !m.ClosingAll() {
		t.Fatal("Expected close-all in flight")
	}

	// a second request while in flight is ignored
	_ = m.CloseAll(ctx)

	c.advance(5 * time.Second)
	m.RunDue(ctx) // verify: two remain, re-issue

	positions, _ := pb.Positions(ctx, "")
	if len(positions) != 0 {
		t.Fatalf("Expected re-issued closes to flatten the book, %d remain", len(positions))
	}

	c.advance(5 * time.Second)
	m.RunDue(ctx) // verify: flat
	if m.ClosingAll() {
		t.Error("Expected close-all to finish once flat")
	}
}

func TestCancelAllOrders(t *testing.T) {
	ctx := context.Background()
	m, pb, _ := setup(t)

	pb.AddPendingOrder("EURUSD", broker.Buy, 0.1, 1.05)
	pb.AddPendingOrder("EURUSD", broker.Sell, 0.1, 1.15)

	if err := m.CancelAllOrders(ctx); err != nil {
		t.Fatalf("CancelAllOrders: %v", err)
	}
	orders, _ := pb.Orders(ctx)
	if len(orders) != 0 {
		t.Errorf("Expected all pending orders cancelled, %d left", len(orders))
	}
}

func TestSameTicketNotResubmittedWhileRetrying(t *testing.T) {
	ctx := context.Background()
	m, pb, c := setup(t)

	res, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1})
	pos, _ := pb.Position(ctx, res.Ticket)
	before := len(pb.Submitted())

	pb.RejectNext(1)
	_ = m.Close(ctx, *pos)
	// next cycle asks again before the retry is due
	if err := m.Close(ctx, *pos); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if got := len(pb.Submitted()) - before; got != 1 {
		t.Errorf("Expected 1 submission, got %d", got)
	}

	c.advance(60 * time.Second)
	m.RunDue(ctx)
	if _, err := pb.Position(ctx, res.Ticket); !errors.Is(err, broker.ErrPositionNotFound) {
		t.Errorf("Expected the retry to close the position, got %v", err)
	}

	// a new close after completion is accepted again
	res2, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1})
	pos2, _ := pb.Position(ctx, res2.Ticket)
	if err := m.Close(ctx, *pos2); err != nil {
		t.Errorf("Close: %v", err)
	}
}
