package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// PaperBroker is an in-memory hedging-account broker used for dry runs.
// Each market open creates its own ticket; profits follow the quotes set
// through SetQuote.
type PaperBroker struct {
	mu        sync.RWMutex
	node      *snowflake.Node
	balance   float64
	positions map[int64]*Position
	orders    map[int64]*Order
	quotes    map[string]Tick
	meta      map[string]SymbolMeta
	rejects   int
	submitted []OrderRequest
}

// NewPaperBroker creates a paper broker with the given starting balance
func NewPaperBroker(initialBalance float64, nodeID int64) (*PaperBroker, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket generator: %w", err)
	}
	return &PaperBroker{
		node:      node,
		balance:   initialBalance,
		positions: make(map[int64]*Position),
		orders:    make(map[int64]*Order),
		quotes:    make(map[string]Tick),
		meta:      make(map[string]SymbolMeta),
	}, nil
}

// AddSymbol registers contract details for a symbol
func (b *PaperBroker) AddSymbol(m SymbolMeta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meta[m.Symbol] = m
}

// SetQuote updates the current bid/ask for a symbol
func (b *PaperBroker) SetQuote(symbol string, bid, ask float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quotes[symbol] = Tick{Symbol: symbol, Bid: bid, Ask: ask, Time: time.Now()}
}

// AddPendingOrder places a resting order that never fills
func (b *PaperBroker) AddPendingOrder(symbol string, dir Direction, volume, price float64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ticket := b.node.Generate().Int64()
	b.orders[ticket] = &Order{Ticket: ticket, Symbol: symbol, Direction: dir, Volume: volume, Price: price}
	return ticket
}

// RejectNext makes the next n submissions fail, simulating broker rejections
func (b *PaperBroker) RejectNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejects = n
}

// Submitted returns every request the broker received, rejected ones included
func (b *PaperBroker) Submitted() []OrderRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]OrderRequest, len(b.submitted))
	copy(out, b.submitted)
	return out
}

// ==================== READS ====================

func (b *PaperBroker) Positions(_ context.Context, symbol string) ([]Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		cp := *p
		cp.Profit = b.profitLocked(p)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (b *PaperBroker) Position(_ context.Context, ticket int64) (*Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	p, ok := b.positions[ticket]
	if !ok {
		return nil, ErrPositionNotFound
	}
	cp := *p
	cp.Profit = b.profitLocked(p)
	return &cp, nil
}

func (b *PaperBroker) Orders(_ context.Context) ([]Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (b *PaperBroker) Account(_ context.Context) (*Account, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	equity := b.balance
	for _, p := range b.positions {
		equity += b.profitLocked(p)
	}
	return &Account{Balance: b.balance, Equity: equity}, nil
}

func (b *PaperBroker) Tick(_ context.Context, symbol string) (*Tick, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.quotes[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTick, symbol)
	}
	return &t, nil
}

func (b *PaperBroker) SymbolMeta(_ context.Context, symbol string) (*SymbolMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.meta[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return &m, nil
}

// ==================== SUBMIT ====================

func (b *PaperBroker) Submit(_ context.Context, req OrderRequest) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.submitted = append(b.submitted, req)
	if b.rejects > 0 {
		b.rejects--
		return &OrderResult{Success: false, Reason: "rejected by paper broker"}, nil
	}

	switch req.Kind {
	case RequestOpen:
		return b.openLocked(req), nil
	case RequestClose:
		return b.closeLocked(req), nil
	case RequestModifyStops:
		p, ok := b.positions[req.Ticket]
		if !ok {
			return &OrderResult{Success: false, Reason: "position not found"}, nil
		}
		p.StopLoss = req.StopLoss
		p.TakeProfit = req.TakeProfit
		return &OrderResult{Success: true, Ticket: p.Ticket}, nil
	case RequestCancel:
		if _, ok := b.orders[req.Ticket]; !ok {
			return &OrderResult{Success: false, Reason: "order not found"}, nil
		}
		delete(b.orders, req.Ticket)
		return &OrderResult{Success: true, Ticket: req.Ticket}, nil
	default:
		return nil, fmt.Errorf("unsupported request kind %q", req.Kind)
	}
}

func (b *PaperBroker) openLocked(req OrderRequest) *OrderResult {
	if req.Volume <= 0 {
		return &OrderResult{Success: false, Reason: "invalid volume"}
	}
	price := req.Price
	if q, ok := b.quotes[req.Symbol]; ok && price == 0 {
		price = q.Ask
		if req.Direction == Sell {
			price = q.Bid
		}
	}
	ticket := b.node.Generate().Int64()
	b.positions[ticket] = &Position{
		Ticket:    ticket,
		Symbol:    req.Symbol,
		Direction: req.Direction,
		Volume:    req.Volume,
		OpenPrice: price,
		OpenedAt:  time.Now(),
	}
	return &OrderResult{Success: true, Ticket: ticket}
}

func (b *PaperBroker) closeLocked(req OrderRequest) *OrderResult {
	p, ok := b.positions[req.Ticket]
	if !ok {
		return &OrderResult{Success: false, Reason: "position not found"}
	}
	if req.Volume <= 0 || req.Volume > p.Volume {
		return &OrderResult{Success: false, Reason: "invalid volume"}
	}

	realized := b.profitLocked(p) * req.Volume / p.Volume
	b.balance += realized

	remaining := RoundVolume(p.Volume - req.Volume)
	if remaining <= 0 {
		delete(b.positions, req.Ticket)
	} else {
		p.Volume = remaining
	}
	return &OrderResult{Success: true, Ticket: req.Ticket}
}

// profitLocked marks a position to the current quote. Buys close at the bid,
// sells at the ask.
func (b *PaperBroker) profitLocked(p *Position) float64 {
	q, ok := b.quotes[p.Symbol]
	if !ok {
		return p.Profit
	}
	contract := 1.0
	if m, ok := b.meta[p.Symbol]; ok && m.ContractSize > 0 {
		contract = m.ContractSize
	}
	if p.Direction == Buy {
		return (q.Bid - p.OpenPrice) * p.Volume * contract
	}
	return (p.OpenPrice - q.Ask) * p.Volume * contract
}
