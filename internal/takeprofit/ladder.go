// Package takeprofit scales out of winning positions in stages and cuts
// losers that breach their loss threshold.
package takeprofit

import (
	"context"
	"errors"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/metrics"
	"trade-engine/internal/order"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// Stage names used in logs, events and metrics
const (
	StageTP1       = "tp1"
	StageTP2       = "tp2"
	StageFullClose = "full_close"
	StageLossGuard = "loss_guard"
)

// Executor is the subset of the order executor the ladder drives
type Executor interface {
	Close(ctx context.Context, pos broker.Position) error
	PartialClose(ctx context.Context, pos broker.Position, volume float64) error
	ModifyStops(ctx context.Context, pos broker.Position, sl, tp float64) error
}

// MarketData is the read side of the gateway needed for break-even
type MarketData interface {
	Position(ctx context.Context, ticket int64) (*broker.Position, error)
	Tick(ctx context.Context, symbol string) (*broker.Tick, error)
	SymbolMeta(ctx context.Context, symbol string) (*broker.SymbolMeta, error)
}

// Result counts what one evaluation pass triggered
type Result struct {
	TP1        int
	TP2        int
	FullCloses int
	LossCloses int
}

// Ladder evaluates the take-profit stages for every live position
type Ladder struct {
	market   MarketData
	exec     Executor
	tracker  *position.Tracker
	settings *settings.Registry
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewLadder creates a ladder
func NewLadder(market MarketData, exec Executor, tracker *position.Tracker, reg *settings.Registry, bus *events.EventBus, logger zerolog.Logger) *Ladder {
	return &Ladder{
		market:   market,
		exec:     exec,
		tracker:  tracker,
		settings: reg,
		bus:      bus,
		logger:   logger.With().Str("component", "TakeProfitLadder").Logger(),
	}
}

// Evaluate runs TP1, TP2, full close and the loss guard for each position in
// the snapshot, in that order. Every check reads the snapshot taken at the
// start of the cycle, so stages that fire in the same pass can act on
// positions an earlier stage already reduced. Only the ledger is read live.
func (l *Ladder) Evaluate(ctx context.Context, snap *broker.Snapshot) Result {
	var res Result
	balance := snap.Account.Balance
	flattened := make(map[string]bool)

	for _, pos := range snap.Positions {
		cfg := l.settings.Get(pos.Symbol)
		status := l.tracker.Status(pos.Ticket)
		symbolPositions := snap.BySymbol(pos.Symbol)
		realProfit := l.tracker.RealProfit(pos.Symbol, symbolPositions)
		fee := pos.Volume * cfg.Commission

		log := l.logger.With().
			Int64("ticket", pos.Ticket).
			Str("symbol", pos.Symbol).
			Float64("profit", pos.Profit).
			Float64("real_profit", realProfit).
			Logger()

		if !status.TP1Applied && pos.Profit > cfg.R1*balance/100+fee {
			log.Info().Float64("percent", cfg.TP1Percent).Msg("Applying TP1")
			if err := l.scaleOut(ctx, pos, cfg.TP1Percent); errors.Is(err, order.ErrDuplicate) {
				log.Info().Msg("TP1 deferred, an earlier close on this ticket is awaiting retry")
			} else {
				l.tracker.MarkTP1(pos.Ticket)
				l.fired(StageTP1, pos, realProfit)
				res.TP1++
			}
		}

		if !status.TP2Applied && realProfit > cfg.R2*balance/100+fee {
			log.Info().Float64("percent", cfg.TP2Percent).Msg("Applying TP2")
			if err := l.scaleOut(ctx, pos, cfg.TP2Percent); errors.Is(err, order.ErrDuplicate) {
				log.Info().Msg("TP2 deferred, an earlier close on this ticket is awaiting retry")
			} else {
				l.tracker.MarkTP2(pos.Ticket)
				l.fired(StageTP2, pos, realProfit)
				if _, err := l.BreakEven(ctx, pos.Ticket); err != nil {
					log.Warn().Err(err).Msg("Break-even after TP2 not applied")
				}
				res.TP2++
			}
		}

		if !flattened[pos.Symbol] && realProfit > cfg.R3*balance/100 && l.tracker.Realized(pos.Symbol) > 0 {
			log.Info().Int("positions", len(symbolPositions)).Msg("Real profit above R3, closing symbol")
			for _, p := range symbolPositions {
				if err := l.exec.Close(ctx, p); err != nil {
					log.Warn().Err(err).Int64("close_ticket", p.Ticket).Msg("Full close not completed yet")
				}
			}
			flattened[pos.Symbol] = true
			l.fired(StageFullClose, pos, realProfit)
			res.FullCloses++
		}

		if breached, lossPct := risk.LossBreached(pos.Profit, balance, cfg.LossThreshold, status.TP1Applied); breached {
			log.Warn().Float64("loss_pct", lossPct).Float64("threshold", cfg.LossThreshold).Bool("tp1_applied", status.TP1Applied).Msg("Loss threshold reached, closing position")
			if err := l.exec.Close(ctx, pos); err != nil {
				log.Warn().Err(err).Msg("Loss-guard close not completed yet")
			}
			l.bus.Publish(events.Event{
				Type: events.EventLossGuard,
				Data: map[string]interface{}{"ticket": pos.Ticket, "symbol": pos.Symbol, "loss_pct": lossPct, "threshold": cfg.LossThreshold},
			})
			metrics.TakeProfits.WithLabelValues(StageLossGuard).Inc()
			res.LossCloses++
		}
	}
	return res
}

// scaleOut closes pct percent of the position. A volume that rounds to zero
// is skipped. The executor error is logged and returned; only ErrDuplicate
// means nothing was sent.
func (l *Ladder) scaleOut(ctx context.Context, pos broker.Position, pct float64) error {
	volume := PartialVolume(pos.Volume, pct)
	if volume <= 0 {
		l.logger.Info().Int64("ticket", pos.Ticket).Float64("percent", pct).Msg("Partial volume rounds to zero, skipping")
		return nil
	}
	err := l.exec.PartialClose(ctx, pos, volume)
	if err != nil {
		l.logger.Warn().Err(err).Int64("ticket", pos.Ticket).Float64("volume", volume).Msg("Partial close not completed yet")
	}
	return err
}

func (l *Ladder) fired(stage string, pos broker.Position, realProfit float64) {
	metrics.TakeProfits.WithLabelValues(stage).Inc()
	l.bus.PublishTakeProfit(stage, pos.Symbol, pos.Ticket, pos.Profit, realProfit)
}

// PartialVolume is volume*pct/100 rounded to two decimals
func PartialVolume(volume, pct float64) float64 {
	return broker.RoundVolume(volume * pct / 100)
}
