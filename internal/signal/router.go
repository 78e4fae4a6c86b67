package signal

import (
	"context"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/metrics"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// Executor is the subset of the order executor the router drives
type Executor interface {
	Open(ctx context.Context, symbol string, volume float64, dir broker.Direction, comment string) error
	Close(ctx context.Context, pos broker.Position) error
	PartialClose(ctx context.Context, pos broker.Position, volume float64) error
}

// Comment tags orders opened from signals
const Comment = "signal"

// FullClosePercent is the Close lot base at or above which the position is closed outright
const FullClosePercent = 100

// Router maps a parsed signal and the current positions to executor calls
// according to the trade management mode.
type Router struct {
	exec     Executor
	tracker  *position.Tracker
	settings *settings.Registry
	risk     *risk.RiskManager
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewRouter creates a router
func NewRouter(exec Executor, tracker *position.Tracker, reg *settings.Registry, rm *risk.RiskManager, bus *events.EventBus, logger zerolog.Logger) *Router {
	return &Router{
		exec:     exec,
		tracker:  tracker,
		settings: reg,
		risk:     rm,
		bus:      bus,
		logger:   logger.With().Str("component", "SignalRouter").Logger(),
	}
}

// Handle parses and routes a raw payload. Malformed payloads are logged and
// dropped without touching any state.
func (r *Router) Handle(ctx context.Context, raw string, snap *broker.Snapshot, rt settings.Runtime) error {
	sig, err := Parse(raw)
	if err != nil {
		r.logger.Warn().Err(err).Str("payload", raw).Msg("Dropping malformed signal")
		metrics.Signals.WithLabelValues("malformed").Inc()
		r.bus.PublishSignal(raw, false, err.Error())
		return err
	}
	metrics.Signals.WithLabelValues("routed").Inc()
	r.bus.PublishSignal(raw, true, "")
	r.Route(ctx, sig, snap, rt)
	return nil
}

// Route executes a parsed signal against the cycle snapshot
func (r *Router) Route(ctx context.Context, sig Signal, snap *broker.Snapshot, rt settings.Runtime) {
	log := r.logger.With().
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Str("direction", string(sig.Direction)).
		Float64("lot_base", sig.LotBase).
		Logger()

	existing := snap.BySymbol(sig.Symbol)

	if sig.Action == ActionClose {
		r.routeClose(ctx, sig, existing, log)
		return
	}

	lot := r.risk.SignalLot(snap.Account.Balance, sig.LotBase)
	log = log.With().Float64("lot", lot).Str("mode", rt.Mode.String()).Int("existing", len(existing)).Logger()
	log.Info().Msg("Routing trade signal")

	switch rt.Mode {
	case settings.SingleDirection:
		r.singleDirection(ctx, sig, lot, existing, rt.UseTotalProfit, log)
	case settings.Hedging:
		r.hedging(ctx, sig, lot, existing, rt.UseTotalProfit, false, log)
	case settings.SmartHedging:
		r.hedging(ctx, sig, lot, existing, rt.UseTotalProfit, true, log)
	case settings.AllSignals:
		r.openFresh(ctx, sig, lot, log)
	default:
		log.Error().Int("mode", int(rt.Mode)).Msg("Unknown trade management mode, signal ignored")
	}
}

// singleDirection keeps at most one position per symbol
func (r *Router) singleDirection(ctx context.Context, sig Signal, lot float64, existing []broker.Position, useTotal bool, log zerolog.Logger) {
	buys, sells := broker.SplitByDirection(existing)

	switch {
	case len(existing) == 1:
		cur := existing[0]
		if cur.Direction == sig.Direction && sameLot(cur.Volume, lot) {
			log.Info().Int64("ticket", cur.Ticket).Msg("Position already matches signal, no action")
			return
		}
		r.close(ctx, cur, log)
		r.open(ctx, sig, lot, log)
		if cur.Direction != sig.Direction {
			r.credit(cur, "reversal", log)
		}

	case len(existing) == 2 && len(buys) == 1 && len(sells) == 1:
		opposite, same := sells[0], buys[0]
		if sig.Direction == broker.Sell {
			opposite, same = buys[0], sells[0]
		}
		base := 0.0
		if useTotal {
			base = r.tracker.Realized(sig.Symbol)
		}
		r.setLedger(sig.Symbol, base+r.net(opposite), "hedge_unwind", log)
		r.close(ctx, opposite, log)
		if !sameLot(same.Volume, lot) {
			r.close(ctx, same, log)
			r.open(ctx, sig, lot, log)
		}

	case len(existing) == 2:
		// two legs on one side, e.g. left over from all-signals mode
		log.Warn().Int("buys", len(buys)).Int("sells", len(sells)).Msg("Two same-direction positions, signal ignored")

	default:
		r.openFresh(ctx, sig, lot, log)
	}
}

// hedging allows one position per direction. With smart set, a profitable
// opposite leg of an existing hedge is banked into the ledger and closed.
func (r *Router) hedging(ctx context.Context, sig Signal, lot float64, existing []broker.Position, useTotal, smart bool, log zerolog.Logger) {
	buys, sells := broker.SplitByDirection(existing)
	same, opposite := buys, sells
	if sig.Direction == broker.Sell {
		same, opposite = sells, buys
	}
	ledger := r.tracker.Realized(sig.Symbol)

	switch len(existing) {
	case 0:
		r.openFresh(ctx, sig, lot, log)

	case 1:
		if len(opposite) == 0 {
			log.Info().Msg("Same-direction position already open, no action")
			return
		}
		opp := opposite[0]
		net := opp.Profit
		if useTotal {
			net += ledger
		}
		if net > 0 {
			log.Info().Float64("net", net).Msg("Opposite position in profit, switching direction")
			r.close(ctx, opp, log)
			r.openFresh(ctx, sig, lot, log)
			return
		}
		log.Info().Float64("net", net).Msg("Opposite position in loss, hedging")
		r.open(ctx, sig, lot, log)

	case 2:
		if len(same) != 1 || len(opposite) != 1 {
			log.Warn().Msg("Two positions in the same direction, no action")
			return
		}
		if smart {
			opp := opposite[0]
			net := opp.Profit
			if useTotal {
				net += ledger
			}
			if net > 0 {
				base := 0.0
				if useTotal {
					base = ledger
				}
				r.setLedger(sig.Symbol, base+r.net(opp), "hedge_unwind", log)
				r.close(ctx, opp, log)
			}
		}
		if !sameLot(same[0].Volume, lot) {
			r.close(ctx, same[0], log)
			r.open(ctx, sig, lot, log)
			return
		}
		log.Info().Msg("Hedge already sized to signal, no action")

	default:
		log.Warn().Msg("More than two positions on symbol, no action")
	}
}

// routeClose closes (or partially closes) the first position matching the
// signal's symbol and direction
func (r *Router) routeClose(ctx context.Context, sig Signal, existing []broker.Position, log zerolog.Logger) {
	for _, p := range existing {
		if p.Direction != sig.Direction {
			continue
		}
		if sig.LotBase >= FullClosePercent {
			log.Info().Int64("ticket", p.Ticket).Msg("Closing position by signal")
			r.close(ctx, p, log)
			return
		}
		volume := broker.RoundVolume(p.Volume * sig.LotBase / 100)
		if volume <= 0 {
			log.Info().Int64("ticket", p.Ticket).Msg("Partial close volume rounds to zero, skipping")
			return
		}
		log.Info().Int64("ticket", p.Ticket).Float64("volume", volume).Msg("Partially closing position by signal")
		if err := r.exec.PartialClose(ctx, p, volume); err != nil {
			log.Warn().Err(err).Msg("Partial close not completed yet")
		}
		return
	}
	log.Info().Msg("No matching position for close signal")
}

func (r *Router) openFresh(ctx context.Context, sig Signal, lot float64, log zerolog.Logger) {
	r.open(ctx, sig, lot, log)
	r.setLedger(sig.Symbol, 0, "fresh_open", log)
}

func (r *Router) open(ctx context.Context, sig Signal, lot float64, log zerolog.Logger) {
	if err := r.exec.Open(ctx, sig.Symbol, lot, sig.Direction, Comment); err != nil {
		log.Warn().Err(err).Msg("Open not completed yet")
	}
}

func (r *Router) close(ctx context.Context, p broker.Position, log zerolog.Logger) {
	if err := r.exec.Close(ctx, p); err != nil {
		log.Warn().Err(err).Int64("ticket", p.Ticket).Msg("Close not completed yet")
	}
}

// net is a position's profit less the commission on its volume
func (r *Router) net(p broker.Position) float64 {
	return p.Profit - p.Volume*r.settings.Get(p.Symbol).Commission
}

func (r *Router) credit(p broker.Position, reason string, log zerolog.Logger) {
	delta := r.net(p)
	value := r.tracker.Credit(p.Symbol, delta)
	log.Info().Float64("delta", delta).Float64("ledger", value).Str("reason", reason).Msg("Realized profit updated")
	metrics.RealizedProfit.WithLabelValues(p.Symbol).Set(value)
	r.bus.PublishLedger(p.Symbol, reason, delta, value)
}

func (r *Router) setLedger(symbol string, value float64, reason string, log zerolog.Logger) {
	prev := r.tracker.Realized(symbol)
	r.tracker.SetRealized(symbol, value)
	if prev == value {
		return
	}
	log.Info().Float64("ledger", value).Str("reason", reason).Msg("Realized profit updated")
	metrics.RealizedProfit.WithLabelValues(symbol).Set(value)
	r.bus.PublishLedger(symbol, reason, value-prev, value)
}

func sameLot(a, b float64) bool {
	return broker.RoundVolume(a) == broker.RoundVolume(b)
}
