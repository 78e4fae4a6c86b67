package broker

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the side of a position or market order
type Direction string

const (
	Buy  Direction = "Buy"
	Sell Direction = "Sell"
)

// ParseDirection accepts "Buy"/"Sell" in any case
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Opposite returns the other side
func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Position is a live broker position. The broker owns it; the engine only reads it.
type Position struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Volume     float64   `json:"volume"`
	OpenPrice  float64   `json:"open_price"`
	StopLoss   float64   `json:"stop_loss"`   // 0 = unset
	TakeProfit float64   `json:"take_profit"` // 0 = unset
	Profit     float64   `json:"profit"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Order is a pending (not yet filled) broker order
type Order struct {
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Volume    float64   `json:"volume"`
	Price     float64   `json:"price"`
}

// Account holds the balance figures the engine sizes against
type Account struct {
	Balance float64 `json:"balance"`
	Equity  float64 `json:"equity"`
}

// Tick is the latest quote for a symbol
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// SymbolMeta is static contract information for a symbol
type SymbolMeta struct {
	Symbol       string  `json:"symbol"`
	Digits       int     `json:"digits"`
	MinVolume    float64 `json:"min_volume"`
	ContractSize float64 `json:"contract_size"`
}

// Point is the smallest price increment, 1/10^digits
func (m SymbolMeta) Point() float64 {
	p := 1.0
	for i := 0; i < m.Digits; i++ {
		p /= 10
	}
	return p
}

// RequestKind discriminates the order request variants
type RequestKind string

const (
	RequestOpen        RequestKind = "open"
	RequestClose       RequestKind = "close"
	RequestModifyStops RequestKind = "modify_stops"
	RequestCancel      RequestKind = "cancel"
)

// OrderRequest is a single submission to the broker. Which fields are used
// depends on Kind:
//   - open: Symbol, Direction, Volume, Price
//   - close: Ticket, Symbol, Direction (of the closing deal), Volume, Price
//   - modify_stops: Ticket, Symbol, StopLoss, TakeProfit
//   - cancel: Ticket
type OrderRequest struct {
	ID         string      `json:"id"`
	Kind       RequestKind `json:"kind"`
	Ticket     int64       `json:"ticket,omitempty"`
	Symbol     string      `json:"symbol,omitempty"`
	Direction  Direction   `json:"direction,omitempty"`
	Volume     float64     `json:"volume,omitempty"`
	Price      float64     `json:"price,omitempty"`
	StopLoss   float64     `json:"sl,omitempty"`
	TakeProfit float64     `json:"tp,omitempty"`
	Comment    string      `json:"comment,omitempty"`
}

// OrderResult is the broker's answer to an OrderRequest
type OrderResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
	Ticket  int64  `json:"ticket,omitempty"`
}

// Snapshot is the broker state read once at the start of a cycle
type Snapshot struct {
	Positions []Position
	Orders    []Order
	Account   Account
	TakenAt   time.Time
}

// BySymbol returns the live positions on symbol in broker order
func (s *Snapshot) BySymbol(symbol string) []Position {
	out := make([]Position, 0, 2)
	for _, p := range s.Positions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// Symbols returns the distinct symbols holding positions, first-seen order
func (s *Snapshot) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.Positions {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out
}

// SplitByDirection partitions positions into buys and sells
func SplitByDirection(positions []Position) (buys, sells []Position) {
	for _, p := range positions {
		if p.Direction == Buy {
			buys = append(buys, p)
		} else {
			sells = append(sells, p)
		}
	}
	return buys, sells
}

// IsHedged reports whether positions hold both a Buy and a Sell
func IsHedged(positions []Position) bool {
	buys, sells := SplitByDirection(positions)
	return len(buys) > 0 && len(sells) > 0
}

// TotalProfit sums unrealized profit
func TotalProfit(positions []Position) float64 {
	total := 0.0
	for _, p := range positions {
		total += p.Profit
	}
	return total
}
