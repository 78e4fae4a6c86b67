// Package broker defines the broker gateway the engine trades through, plus
// the paper and HTTP bridge implementations.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrNoTick           = errors.New("no tick for symbol")
	ErrUnknownSymbol    = errors.New("unknown symbol")
)

// Gateway is everything the engine needs from a broker. Reads are used to
// build the cycle snapshot and for fresh lookups; Submit is the only mutation.
type Gateway interface {
	// Positions returns live positions; an empty symbol means all symbols.
	Positions(ctx context.Context, symbol string) ([]Position, error)
	// Position returns a single live position or ErrPositionNotFound.
	Position(ctx context.Context, ticket int64) (*Position, error)
	Orders(ctx context.Context) ([]Order, error)
	Account(ctx context.Context) (*Account, error)
	Tick(ctx context.Context, symbol string) (*Tick, error)
	SymbolMeta(ctx context.Context, symbol string) (*SymbolMeta, error)
	Submit(ctx context.Context, req OrderRequest) (*OrderResult, error)
}

// TakeSnapshot reads positions, pending orders and the account in one pass
func TakeSnapshot(ctx context.Context, gw Gateway, now time.Time) (*Snapshot, error) {
	positions, err := gw.Positions(ctx, "")
	if err != nil {
		return nil, err
	}
	orders, err := gw.Orders(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := gw.Account(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Positions: positions,
		Orders:    orders,
		Account:   *acct,
		TakenAt:   now,
	}, nil
}
