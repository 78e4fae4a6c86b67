// Package signal turns external trade signals into order actions.
//
// A signal arrives as a single string of the form
//
//	<Action>|<Symbol>,<LotBaseOrPercent>,<Direction>
//
// e.g. "Trade|EURUSD,0.05,Sell" or "Close|GBPJPY,100,Buy".
package signal

import (
	"errors"
	"fmt"
	"strings"

	"trade-engine/internal/broker"

	"github.com/spf13/cast"
)

// Action is what a signal asks for
type Action string

const (
	ActionTrade Action = "Trade"
	ActionClose Action = "Close"
)

var (
	ErrMissingSeparator = errors.New("signal has no '|' separator")
	ErrFieldCount       = errors.New("signal data must have 3 fields")
	ErrBadLot           = errors.New("signal lot is not a number")
	ErrUnknownAction    = errors.New("unknown signal action")
	ErrUnknownDirection = errors.New("unknown signal direction")
)

// Signal is a parsed trade signal. For Trade, LotBase is lots per 1000 of
// balance; for Close it is the percent of the position to close.
type Signal struct {
	Action    Action           `json:"action"`
	Symbol    string           `json:"symbol"`
	LotBase   float64          `json:"lot_base"`
	Direction broker.Direction `json:"direction"`
	Raw       string           `json:"raw"`
}

func (s Signal) String() string {
	return fmt.Sprintf("%s|%s,%v,%s", s.Action, s.Symbol, s.LotBase, s.Direction)
}

// Parse decodes a signal payload
func Parse(raw string) (Signal, error) {
	action, data, ok := strings.Cut(strings.TrimSpace(raw), "|")
	if !ok {
		return Signal{}, ErrMissingSeparator
	}

	fields := strings.Split(data, ",")
	if len(fields) != 3 {
		return Signal{}, fmt.Errorf("%w, got %d", ErrFieldCount, len(fields))
	}

	sig := Signal{Raw: raw, Symbol: strings.TrimSpace(fields[0])}
	if sig.Symbol == "" {
		return Signal{}, fmt.Errorf("%w: empty symbol", ErrFieldCount)
	}

	switch Action(strings.TrimSpace(action)) {
	case ActionTrade:
		sig.Action = ActionTrade
	case ActionClose:
		sig.Action = ActionClose
	default:
		return Signal{}, fmt.Errorf("%w %q", ErrUnknownAction, action)
	}

	lot, err := cast.ToFloat64E(strings.TrimSpace(fields[1]))
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrBadLot, err)
	}
	if lot <= 0 {
		return Signal{}, fmt.Errorf("%w: %v must be positive", ErrBadLot, lot)
	}
	sig.LotBase = lot

	dir, err := broker.ParseDirection(fields[2])
	if err != nil {
		return Signal{}, fmt.Errorf("%w: %v", ErrUnknownDirection, err)
	}
	sig.Direction = dir
	return sig, nil
}
