package risk

import (
	"context"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// StopSetter is the part of the executor the injector needs
type StopSetter interface {
	ModifyStops(ctx context.Context, pos broker.Position, sl, tp float64) error
}

// MetaSource resolves symbol contract details
type MetaSource interface {
	SymbolMeta(ctx context.Context, symbol string) (*broker.SymbolMeta, error)
}

// StopLossInjector gives every unprotected position a stop loss sl_adjust
// away from its open price. Positions that already carry a stop are skipped.
type StopLossInjector struct {
	meta     MetaSource
	exec     StopSetter
	settings *settings.Registry
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewStopLossInjector creates an injector
func NewStopLossInjector(meta MetaSource, exec StopSetter, reg *settings.Registry, bus *events.EventBus, logger zerolog.Logger) *StopLossInjector {
	return &StopLossInjector{
		meta:     meta,
		exec:     exec,
		settings: reg,
		bus:      bus,
		logger:   logger.With().Str("component", "StopLossInjector").Logger(),
	}
}

// StopFor computes the injected stop for a position
func StopFor(p broker.Position, adjust float64, digits int) float64 {
	if p.Direction == broker.Buy {
		return broker.RoundPrice(p.OpenPrice-adjust, digits)
	}
	return broker.RoundPrice(p.OpenPrice+adjust, digits)
}

// Inject runs over the cycle's positions and returns how many stops the
// broker accepted on the first attempt. Rejected stops are retried by the
// executor and are neither counted nor published.
func (s *StopLossInjector) Inject(ctx context.Context, positions []broker.Position) int {
	n := 0
	for _, p := range positions {
		if p.StopLoss != 0 {
			continue
		}
		adjust := s.settings.Get(p.Symbol).SLAdjust
		if adjust == 0 {
			continue
		}
		meta, err := s.meta.SymbolMeta(ctx, p.Symbol)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("No symbol info, skipping stop injection")
			continue
		}

		sl := StopFor(p, adjust, meta.Digits)
		s.logger.Info().
			Int64("ticket", p.Ticket).
			Str("symbol", p.Symbol).
			Float64("open", p.OpenPrice).
			Float64("sl", sl).
			Msg("Injecting stop loss")
		if err := s.exec.ModifyStops(ctx, p, sl, p.TakeProfit); err != nil {
			s.logger.Warn().Err(err).Int64("ticket", p.Ticket).Msg("Stop injection not applied yet")
			continue
		}
		s.bus.Publish(events.Event{
			Type: events.EventStopLossInjected,
			Data: map[string]interface{}{"ticket": p.Ticket, "symbol": p.Symbol, "sl": sl},
		})
		n++
	}
	return n
}
