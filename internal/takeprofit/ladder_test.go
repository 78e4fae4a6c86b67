package takeprofit

import (
	"context"
	"testing"
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/order"
	"trade-engine/internal/position"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

type partial struct {
	ticket int64
	volume float64
}

type stops struct {
	ticket int64
	sl, tp float64
}

type fakeExec struct {
	partials   []partial
	closes     []int64
	stops      []stops
	partialErr error
}

func (f *fakeExec) Close(_ context.Context, pos broker.Position) error {
	f.closes = append(f.closes, pos.Ticket)
	return nil
}

func (f *fakeExec) PartialClose(_ context.Context, pos broker.Position, volume float64) error {
	if f.partialErr != nil {
		return f.partialErr
	}
	f.partials = append(f.partials, partial{pos.Ticket, volume})
	return nil
}

func (f *fakeExec) ModifyStops(_ context.Context, pos broker.Position, sl, tp float64) error {
	f.stops = append(f.stops, stops{pos.Ticket, sl, tp})
	return nil
}

type fakeMarket struct {
	positions map[int64]broker.Position
	tick      broker.Tick
	meta      broker.SymbolMeta
}

func (f *fakeMarket) Position(_ context.Context, ticket int64) (*broker.Position, error) {
	p, ok := f.positions[ticket]
	if !ok {
		return nil, broker.ErrPositionNotFound
	}
	return &p, nil
}

func (f *fakeMarket) Tick(_ context.Context, _ string) (*broker.Tick, error) {
	t := f.tick
	return &t, nil
}

func (f *fakeMarket) SymbolMeta(_ context.Context, _ string) (*broker.SymbolMeta, error) {
	m := f.meta
	return &m, nil
}

func newLadder(market *fakeMarket) (*Ladder, *fakeExec, *position.Tracker, *settings.Registry) {
	exec := &fakeExec{}
	tr := position.NewTracker(zerolog.Nop())
	reg := settings.NewRegistry(settings.DefaultSymbolConfig(), nil)
	if market == nil {
		market = &fakeMarket{positions: map[int64]broker.Position{}}
	}
	return NewLadder(market, exec, tr, reg, nil, zerolog.Nop()), exec, tr, reg
}

func snapshot(balance float64, positions ...broker.Position) *broker.Snapshot {
	return &broker.Snapshot{
		Positions: positions,
		Account:   broker.Account{Balance: balance, Equity: balance},
		TakenAt:   time.Now(),
	}
}

func TestTP1PartialClose(t *testing.T) {
	l, exec, tr, _ := newLadder(nil)
	pos := broker.Position{Ticket: 7, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 1, OpenPrice: 1900, Profit: 1300}

	res := l.Evaluate(context.Background(), snapshot(10000, pos))

	if res.TP1 != 1 || res.TP2 != 0 || res.FullCloses != 0 {
		t.Fatalf("Expected only TP1 to fire, got %+v", res)
	}
	if len(exec.partials) != 1 || exec.partials[0].volume != 0.5 {
		t.Fatalf("Expected a 0.5 partial close, got %+v", exec.partials)
	}
	if !tr.Status(7).TP1Applied {
		t.Error("Expected tp1_applied to be set")
	}

	// second pass on the same data must not fire TP1 again
	l.Evaluate(context.Background(), snapshot(10000, pos))
	if len(exec.partials) != 1 {
		t.Errorf("TP1 must fire once per ticket, got %d partial closes", len(exec.partials))
	}
}

func TestTP1BelowThreshold(t *testing.T) {
	l, exec, _, _ := newLadder(nil)
	// threshold is 12% of 10000 plus 1 lot of commission 10 = 1210
	pos := broker.Position{Ticket: 1, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 1, Profit: 1210}

	l.Evaluate(context.Background(), snapshot(10000, pos))
	if len(exec.partials) != 0 {
		t.Errorf("Expected no partial close at exactly the threshold, got %+v", exec.partials)
	}
}

func TestStagesCompoundOnSameSnapshot(t *testing.T) {
	market := &fakeMarket{
		positions: map[int64]broker.Position{
			3: {Ticket: 3, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 0.5, OpenPrice: 1900},
		},
		tick: broker.Tick{Symbol: "XAUUSD", Bid: 1915, Ask: 1915.2},
		meta: broker.SymbolMeta{Symbol: "XAUUSD", Digits: 2},
	}
	l, exec, tr, _ := newLadder(market)
	pos := broker.Position{Ticket: 3, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 1, OpenPrice: 1900, Profit: 1400}

	res := l.Evaluate(context.Background(), snapshot(10000, pos))

	if res.TP1 != 1 || res.TP2 != 1 {
		t.Fatalf("Expected TP1 and TP2 in one pass, got %+v", res)
	}
	// both stages size from the snapshot volume of 1 lot
	if len(exec.partials) != 2 || exec.partials[0].volume != 0.5 || exec.partials[1].volume != 0.5 {
		t.Errorf("Expected two 0.5 partial closes, got %+v", exec.partials)
	}
	st := tr.Status(3)
	if !st.TP1Applied || !st.TP2Applied {
		t.Errorf("Expected both flags set, got %+v", st)
	}
	if len(exec.stops) != 1 || exec.stops[0].sl != 1900.12 {
		t.Errorf("Expected break-even stop at 1900.12, got %+v", exec.stops)
	}
}

func TestFullCloseNeedsPositiveLedger(t *testing.T) {
	l, exec, tr, _ := newLadder(nil)
	buy := broker.Position{Ticket: 1, Symbol: "EURUSD", Direction: broker.Buy, Volume: 1, Profit: 900}
	sell := broker.Position{Ticket: 2, Symbol: "EURUSD", Direction: broker.Sell, Volume: 1, Profit: -100}
	tr.MarkTP1(1)
	tr.MarkTP2(1)
	tr.MarkTP1(2)
	tr.MarkTP2(2)

	// real profit 800 + 1000 ledger = 1800 > 15% of 10000
	tr.SetRealized("EURUSD", 1000)
	res := l.Evaluate(context.Background(), snapshot(10000, buy, sell))
	if res.FullCloses != 1 {
		t.Fatalf("Expected one full close, got %+v", res)
	}
	if len(exec.closes) != 2 {
		t.Errorf("Expected both positions closed once, got %v", exec.closes)
	}

	// same real profit without a realized ledger never flattens
	l2, exec2, tr2, _ := newLadder(nil)
	tr2.MarkTP1(1)
	tr2.MarkTP2(1)
	big := buy
	big.Profit = 2000
	l2.Evaluate(context.Background(), snapshot(10000, big))
	if len(exec2.closes) != 0 {
		t.Errorf("Expected no full close with an empty ledger, got %v", exec2.closes)
	}
}

func TestLossGuard(t *testing.T) {
	tests := []struct {
		name       string
		profit     float64
		tp1Applied bool
		wantClose  bool
	}{
		{"under threshold", -150, false, false},
		{"at threshold", -200, false, true},
		{"halved after tp1", -100, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, exec, tr, reg := newLadder(nil)
			reg.Mutate("EURUSD", func(c *settings.SymbolConfig) { c.LossThreshold = 2 })
			if tt.tp1Applied {
				tr.MarkTP1(9)
			}
			pos := broker.Position{Ticket: 9, Symbol: "EURUSD", Direction: broker.Sell, Volume: 1, Profit: tt.profit}

			res := l.Evaluate(context.Background(), snapshot(10000, pos))
			if got := res.LossCloses == 1; got != tt.wantClose {
				t.Errorf("Expected close=%v, got %+v", tt.wantClose, res)
			}
			if tt.wantClose && (len(exec.closes) != 1 || exec.closes[0] != 9) {
				t.Errorf("Expected ticket 9 closed, got %v", exec.closes)
			}
		})
	}
}

func TestPartialVolumeRoundsToZero(t *testing.T) {
	l, exec, tr, reg := newLadder(nil)
	reg.Mutate("EURUSD", func(c *settings.SymbolConfig) { c.TP1Percent = 10 })
	pos := broker.Position{Ticket: 4, Symbol: "EURUSD", Direction: broker.Buy, Volume: 0.01, Profit: 5000}
	tr.MarkTP2(4)

	l.Evaluate(context.Background(), snapshot(10000, pos))
	if len(exec.partials) != 0 {
		t.Errorf("Expected no submission for a zero volume, got %+v", exec.partials)
	}
	if !tr.Status(4).TP1Applied {
		t.Error("Expected tp1_applied even when the volume rounds to zero")
	}
}

func TestTP2DeferredWhileTP1Retries(t *testing.T) {
	ctx := context.Background()
	pb, err := broker.NewPaperBroker(10000, 1)
	if err != nil {
		t.Fatalf("NewPaperBroker: %v", err)
	}
	pb.AddSymbol(broker.SymbolMeta{Symbol: "XAUUSD", Digits: 2, MinVolume: 0.01, ContractSize: 100})
	pb.SetQuote("XAUUSD", 1930, 1930.2)

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	exec := order.NewManager(pb, order.DefaultPolicy(), nil, zerolog.Nop())
	exec.SetClock(func() time.Time { return now })
	tr := position.NewTracker(zerolog.Nop())
	reg := settings.NewRegistry(settings.DefaultSymbolConfig(), nil)
	l := NewLadder(pb, exec, tr, reg, nil, zerolog.Nop())

	opened, _ := pb.Submit(ctx, broker.OrderRequest{Kind: broker.RequestOpen, Symbol: "XAUUSD", Direction: broker.Buy, Volume: 1, Price: 1900})
	cycle := func() Result {
		positions, _ := pb.Positions(ctx, "")
		return l.Evaluate(ctx, snapshot(10000, positions...))
	}

	// profit 3000 clears both TP1 and TP2, but the TP1 close is rejected
	pb.RejectNext(1)
	res := cycle()
	if res.TP1 != 1 || res.TP2 != 0 {
		t.Fatalf("Expected TP1 only while its close awaits retry, got %+v", res)
	}
	if tr.Status(opened.Ticket).TP2Applied {
		t.Error("Expected TP2 not marked while nothing was submitted for it")
	}

	now = now.Add(order.DefaultPolicy().Delay)
	exec.RunDue(ctx)

	// 0.5 lot left with profit 1500, still above TP2
	res = cycle()
	if res.TP2 != 1 {
		t.Fatalf("Expected TP2 on the next cycle, got %+v", res)
	}

	var volumes []float64
	for _, req := range pb.Submitted() {
		if req.Kind == broker.RequestClose {
			volumes = append(volumes, req.Volume)
		}
	}
	if len(volumes) != 3 || volumes[0] != 0.5 || volumes[1] != 0.5 || volumes[2] != 0.25 {
		t.Errorf("Expected closes of 0.5 (rejected), 0.5 and 0.25, got %v", volumes)
	}
	p, err := pb.Position(ctx, opened.Ticket)
	if err != nil {
		t.Fatalf("Expected position still open, got %v", err)
	}
	if p.Volume != 0.25 {
		t.Errorf("Expected 0.25 lot left, got %v", p.Volume)
	}
	if p.StopLoss != 1900.12 {
		t.Errorf("Expected break-even stop at 1900.12, got %v", p.StopLoss)
	}
}
