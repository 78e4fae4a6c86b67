// Package position keeps the engine-side state that lives alongside broker
// positions: which take-profit stages a ticket has passed and how much profit
// each symbol has already realized.
package position

import (
	"sort"
	"sync"

	"trade-engine/internal/broker"

	"github.com/rs/zerolog"
)

// TpStatus records which take-profit stages a ticket has passed. Both flags
// only ever go from false to true while the ticket is live.
type TpStatus struct {
	TP1Applied bool `json:"tp1_applied"`
	TP2Applied bool `json:"tp2_applied"`
}

// Transition is an open/flat edge observed for a symbol during Reconcile
type Transition struct {
	Symbol string
	Opened bool // false means the symbol went flat
}

// Tracker holds TpStatus per ticket and the realized-profit ledger per symbol.
// All mutation happens on the driver goroutine; the lock exists for readers
// such as the status API.
type Tracker struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	tp       map[int64]*TpStatus
	ledger   map[string]float64
	openFlag map[string]bool
}

// NewTracker creates an empty tracker
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		logger:   logger.With().Str("component", "PositionTracker").Logger(),
		tp:       make(map[int64]*TpStatus),
		ledger:   make(map[string]float64),
		openFlag: make(map[string]bool),
	}
}

// Reconcile brings the tracker in line with the live positions: unseen
// tickets get a TpStatus, vanished tickets lose theirs, and the open flag of
// every watched symbol is edge-detected. A symbol going flat clears its ledger.
func (t *Tracker) Reconcile(positions []broker.Position, watched []string) []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	live := make(map[int64]bool, len(positions))
	counts := make(map[string]int)
	for _, p := range positions {
		live[p.Ticket] = true
		counts[p.Symbol]++
		if _, ok := t.tp[p.Ticket]; !ok {
			t.tp[p.Ticket] = &TpStatus{}
			t.logger.Debug().Int64("ticket", p.Ticket).Str("symbol", p.Symbol).Msg("TP status created")
		}
	}

	for ticket := range t.tp {
		if !live[ticket] {
			delete(t.tp, ticket)
			t.logger.Debug().Int64("ticket", ticket).Msg("TP status removed for closed ticket")
		}
	}

	symbols := make(map[string]bool, len(watched)+len(counts))
	for _, s := range watched {
		symbols[s] = true
	}
	for s := range counts {
		symbols[s] = true
	}
	for s := range t.openFlag {
		symbols[s] = true
	}

	ordered := make([]string, 0, len(symbols))
	for s := range symbols {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	var edges []Transition
	for _, s := range ordered {
		open := counts[s] > 0
		was := t.openFlag[s]
		switch {
		case open && !was:
			t.openFlag[s] = true
			edges = append(edges, Transition{Symbol: s, Opened: true})
		case !open && was:
			t.openFlag[s] = false
			if t.ledger[s] != 0 {
				t.logger.Info().Str("symbol", s).Float64("ledger", t.ledger[s]).Msg("Symbol flat, realized profit reset")
			}
			t.ledger[s] = 0
			edges = append(edges, Transition{Symbol: s, Opened: false})
		}
	}
	return edges
}

// Status returns a copy of the ticket's TpStatus, creating it if needed
func (t *Tracker) Status(ticket int64) TpStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.tp[ticket]
	if !ok {
		st = &TpStatus{}
		t.tp[ticket] = st
	}
	return *st
}

// Known reports whether a TpStatus exists for ticket
func (t *Tracker) Known(ticket int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tp[ticket]
	return ok
}

// MarkTP1 sets tp1_applied for ticket
func (t *Tracker) MarkTP1(ticket int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusLocked(ticket).TP1Applied = true
}

// MarkTP2 sets tp2_applied for ticket
func (t *Tracker) MarkTP2(ticket int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statusLocked(ticket).TP2Applied = true
}

func (t *Tracker) statusLocked(ticket int64) *TpStatus {
	st, ok := t.tp[ticket]
	if !ok {
		st = &TpStatus{}
		t.tp[ticket] = st
	}
	return st
}

// IsOpen reports the last observed open flag of symbol
func (t *Tracker) IsOpen(symbol string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.openFlag[symbol]
}

// Realized returns the ledger value for symbol
func (t *Tracker) Realized(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger[symbol]
}

// Credit adds amount (which may be negative) to the symbol's ledger
func (t *Tracker) Credit(symbol string, amount float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger[symbol] += amount
	t.logger.Debug().Str("symbol", symbol).Float64("amount", amount).Float64("ledger", t.ledger[symbol]).Msg("Ledger credited")
	return t.ledger[symbol]
}

// SetRealized overwrites the ledger for symbol
func (t *Tracker) SetRealized(symbol string, value float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ledger[symbol] = value
}

// Reset zeroes the ledger for symbol
func (t *Tracker) Reset(symbol string) {
	t.SetRealized(symbol, 0)
}

// ResetAll zeroes every ledger
func (t *Tracker) ResetAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for s := range t.ledger {
		t.ledger[s] = 0
	}
}

// Ledger copies the ledger for readers
func (t *Tracker) Ledger() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.ledger))
	for s, v := range t.ledger {
		out[s] = v
	}
	return out
}

// TpStatuses copies the TP flags for readers
func (t *Tracker) TpStatuses() map[int64]TpStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int64]TpStatus, len(t.tp))
	for k, v := range t.tp {
		out[k] = *v
	}
	return out
}

// RealProfit is the symbol's ledger plus the unrealized profit of its live positions
func (t *Tracker) RealProfit(symbol string, live []broker.Position) float64 {
	total := t.Realized(symbol)
	for _, p := range live {
		if p.Symbol == symbol {
			total += p.Profit
		}
	}
	return total
}
