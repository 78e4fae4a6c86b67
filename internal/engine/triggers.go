package engine

import (
	"context"

	"trade-engine/internal/broker"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// TriggerComment tags positions opened by a price trigger
const TriggerComment = "trigger"

// checkTriggers fires the one-shot buy/sell price triggers. Each symbol is
// evaluated on its own and fires at most one side per cycle. Outside trading
// hours both latches are set so a level crossed while paused never fires.
func (e *Engine) checkTriggers(ctx context.Context, snap *broker.Snapshot, rt settings.Runtime, tradable bool, log zerolog.Logger) {
	for _, sym := range e.watched() {
		cfg := e.settings.Get(sym)

		if !tradable {
			if !cfg.BuyTradeExecuted || !cfg.SellTradeExecuted {
				e.settings.Mutate(sym, func(c *settings.SymbolConfig) {
					c.BuyTradeExecuted = true
					c.SellTradeExecuted = true
				})
			}
			continue
		}

		buyPrice, sellPrice := TriggerLevels(cfg, rt)
		armed := (sellPrice > 0 && !cfg.SellTradeExecuted) || (buyPrice > 0 && !cfg.BuyTradeExecuted)
		if !armed {
			continue
		}

		tick, err := e.gw.Tick(ctx, sym)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("No tick, triggers skipped")
			continue
		}
		meta, err := e.gw.SymbolMeta(ctx, sym)
		if err != nil {
			log.Debug().Err(err).Str("symbol", sym).Msg("No symbol info, triggers skipped")
			continue
		}
		tol := broker.Points(e.opts.TriggerTolerance, meta.Digits)
		positions := snap.BySymbol(sym)

		switch {
		case sellPrice > 0 && !cfg.SellTradeExecuted && tick.Bid >= sellPrice-tol:
			log.Info().Str("symbol", sym).Float64("bid", tick.Bid).Float64("sell_price", sellPrice).Msg("Sell trigger reached")
			e.fireTrigger(ctx, sym, broker.Sell, positions, cfg, snap.Account.Equity, *meta, log)
		case buyPrice > 0 && !cfg.BuyTradeExecuted && tick.Bid <= buyPrice+tol:
			log.Info().Str("symbol", sym).Float64("bid", tick.Bid).Float64("buy_price", buyPrice).Msg("Buy trigger reached")
			e.fireTrigger(ctx, sym, broker.Buy, positions, cfg, snap.Account.Equity, *meta, log)
		}
	}
}

// TriggerLevels returns the buy and sell trigger prices: the pivot low/high
// when the symbol follows the pivot, its fixed prices otherwise
func TriggerLevels(cfg settings.SymbolConfig, rt settings.Runtime) (buy, sell float64) {
	if cfg.UsePivot {
		return rt.PivotLow, rt.PivotHigh
	}
	return cfg.BuyPrice, cfg.SellPrice
}

// fireTrigger opens dir unless the symbol already holds that side. Positions
// on the other side are closed first only when allow_new_trade is set. The
// latch is set in every case.
func (e *Engine) fireTrigger(ctx context.Context, symbol string, dir broker.Direction, positions []broker.Position, cfg settings.SymbolConfig, equity float64, meta broker.SymbolMeta, log zerolog.Logger) {
	defer e.settings.Mutate(symbol, func(c *settings.SymbolConfig) {
		if dir == broker.Buy {
			c.BuyTradeExecuted = true
		} else {
			c.SellTradeExecuted = true
		}
	})

	if len(positions) == 0 {
		e.manualTrade(ctx, symbol, dir, equity, cfg, meta, TriggerComment, log)
		return
	}
	for _, p := range positions {
		if p.Direction == dir {
			log.Info().Str("symbol", symbol).Str("direction", string(dir)).Msg("Position on that side already open, trigger consumed")
			return
		}
	}
	if !cfg.AllowNewTrade {
		log.Info().Str("symbol", symbol).Int("positions", len(positions)).Msg("Trade already open and new trades not allowed, trigger consumed")
		return
	}

	for _, p := range positions {
		if err := e.exec.Close(ctx, p); err != nil {
			log.Warn().Err(err).Int64("ticket", p.Ticket).Msg("Close before trigger not completed yet")
		}
	}
	e.manualTrade(ctx, symbol, dir, equity, cfg, meta, TriggerComment, log)
}
