package engine

import (
	"context"
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/metrics"
	"trade-engine/internal/news"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// Session is where the clock stands relative to quiet hours and the news calendar
type Session struct {
	Quiet bool        `json:"quiet"`
	News  news.Status `json:"news"`
}

// Tradable reports whether new signals and triggers may open positions
func (s Session) Tradable() bool {
	return !s.Quiet && !s.News.InWindow
}

func (e *Engine) session(now time.Time) Session {
	s := Session{Quiet: e.opts.Quiet.Contains(now)}
	if e.calendar != nil {
		s.News = e.calendar.At(now)
	}
	return s
}

// manageQuietHours closes profitable positions that are alone on their
// symbol. Hedged pairs are left as they are.
func (e *Engine) manageQuietHours(ctx context.Context, snap *broker.Snapshot, log zerolog.Logger) {
	for _, sym := range snap.Symbols() {
		positions := snap.BySymbol(sym)
		if len(positions) == 2 && broker.IsHedged(positions) {
			continue
		}
		if len(positions) != 1 || positions[0].Profit <= 0 {
			continue
		}
		p := positions[0]
		log.Info().Int64("ticket", p.Ticket).Str("symbol", sym).Float64("profit", p.Profit).Msg("Quiet hours, closing profitable position")
		if err := e.exec.Close(ctx, p); err != nil {
			log.Warn().Err(err).Int64("ticket", p.Ticket).Msg("Quiet-hours close not completed yet")
		}
	}
}

// manageNews runs inside a news window. It announces the window once and,
// with news management on, closes lone profitable positions and hedges lone
// losing ones with an equal-volume opposite position.
func (e *Engine) manageNews(ctx context.Context, snap *broker.Snapshot, rt settings.Runtime, st news.Status, log zerolog.Logger) {
	if !e.newsNotified && st.Event != nil {
		e.newsNotified = true
		log.Warn().Str("currency", st.Event.Currency).Str("title", st.Event.Title).Dur("remaining", st.Remains).Msg("Entered news window")
		e.bus.Publish(events.Event{
			Type: events.EventNewsWindow,
			Data: map[string]interface{}{
				"currency": st.Event.Currency,
				"title":    st.Event.Title,
				"time":     st.Event.Time.Format(time.RFC3339),
				"until":    st.Event.Time.Add(st.Remains).Format(time.RFC3339),
			},
		})
	}
	if !rt.NewsManagement {
		return
	}

	for _, sym := range snap.Symbols() {
		positions := snap.BySymbol(sym)
		if len(positions) != 1 {
			continue
		}
		p := positions[0]
		if p.Profit > 0 {
			log.Info().Int64("ticket", p.Ticket).Str("symbol", sym).Float64("profit", p.Profit).Msg("News window, closing profitable position")
			if err := e.exec.Close(ctx, p); err != nil {
				log.Warn().Err(err).Int64("ticket", p.Ticket).Msg("News close not completed yet")
			}
			continue
		}
		e.hedge(ctx, p, log)
	}
}

// hedge opens the opposite side at the same volume, once per ticket per window
func (e *Engine) hedge(ctx context.Context, p broker.Position, log zerolog.Logger) {
	if e.hedged[p.Ticket] {
		return
	}
	e.hedged[p.Ticket] = true
	dir := p.Direction.Opposite()
	log.Info().Int64("ticket", p.Ticket).Str("symbol", p.Symbol).Str("hedge", string(dir)).Float64("volume", p.Volume).Msg("News window, hedging position")
	if err := e.exec.Open(ctx, p.Symbol, p.Volume, dir, "hedge"); err != nil {
		log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Hedge not opened yet")
	}
}

func (e *Engine) leaveNewsWindow() {
	e.newsNotified = false
	if len(e.hedged) > 0 {
		e.hedged = make(map[int64]bool)
	}
}

// rollover starts a new trading day at the end of quiet hours: trading
// resumes, the calendar is re-read and the previous-day balance is raised if
// the book is flat and the balance grew.
func (e *Engine) rollover(ctx context.Context, snap *broker.Snapshot, now time.Time, log zerolog.Logger) {
	e.nextRollover = e.opts.Quiet.NextEnd(now)

	wasStopped := e.Runtime().TradingStopped
	e.updateRuntime(func(rt *settings.Runtime) { rt.TradingStopped = false })
	metrics.TradingStopped.Set(0)
	e.discardSignal(ctx, log)

	if e.calendar != nil {
		if err := e.calendar.Reload(); err != nil {
			log.Debug().Err(err).Msg("Calendar not reloaded")
		}
	}

	flat := len(snap.Positions) == 0
	if e.target.Rollover(snap.Account.Balance, flat) {
		e.saveBalance(ctx, snap.Account.Balance, log)
	} else if !flat {
		log.Info().Int("positions", len(snap.Positions)).Msg("Positions open, previous-day balance kept")
	}

	log.Info().
		Bool("was_stopped", wasStopped).
		Float64("prev_balance", e.target.PrevBalance()).
		Time("next_rollover", e.nextRollover).
		Msg("Trading day rolled over")
	e.bus.Publish(events.Event{
		Type: events.EventTradingResumed,
		Data: map[string]interface{}{"prev_balance": e.target.PrevBalance(), "was_stopped": wasStopped},
	})
}

// restoreBalance loads the persisted previous-day balance and raises it to
// the live balance when the book is flat
func (e *Engine) restoreBalance(ctx context.Context) {
	if e.balances != nil {
		prev, err := e.balances.LoadBalance(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Previous-day balance not loaded")
		} else {
			e.target.SetPrevBalance(prev)
		}
	}

	acct, err := e.gw.Account(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Account unavailable, previous-day balance not checked")
		return
	}
	positions, err := e.gw.Positions(ctx, "")
	if err != nil {
		e.logger.Warn().Err(err).Msg("Positions unavailable, previous-day balance not checked")
		return
	}
	if len(positions) > 0 {
		e.logger.Info().Int("positions", len(positions)).Msg("Positions open, previous-day balance kept")
		return
	}
	if acct.Balance > e.target.PrevBalance() {
		e.target.SetPrevBalance(acct.Balance)
		e.saveBalance(ctx, acct.Balance, e.logger)
	}
}

func (e *Engine) saveBalance(ctx context.Context, balance float64, log zerolog.Logger) {
	log.Info().Float64("balance", balance).Msg("Previous-day balance updated")
	if e.balances == nil {
		return
	}
	if err := e.balances.SaveBalance(ctx, balance); err != nil {
		log.Error().Err(err).Msg("Failed to persist previous-day balance")
		e.bus.PublishError("balance_store", "failed to persist previous-day balance", err)
	}
}

// checkDailyTarget stops trading for the rest of the day once equity reaches
// the daily profit target
func (e *Engine) checkDailyTarget(ctx context.Context, snap *broker.Snapshot, log zerolog.Logger) {
	if !e.target.Check(snap.Account.Equity) {
		return
	}
	e.stopTrading(ctx, snap.Account.Equity, log)
}

// stopTrading halts the cycle until the next rollover, flattens the book in
// a closed loop and cancels every pending order
func (e *Engine) stopTrading(ctx context.Context, equity float64, log zerolog.Logger) {
	e.updateRuntime(func(rt *settings.Runtime) { rt.TradingStopped = true })
	metrics.TradingStopped.Set(1)

	target := e.target.Target()
	log.Warn().Float64("equity", equity).Float64("target", target).Msg("Daily profit target reached, trading stopped")

	if err := e.exec.CloseAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Close-all pass had failures, verifying")
	}
	if err := e.exec.CancelAllOrders(ctx); err != nil {
		log.Warn().Err(err).Msg("Pending orders not all cancelled")
	}
	e.bus.Publish(events.Event{
		Type: events.EventTradingStopped,
		Data: map[string]interface{}{"equity": equity, "target": target},
	})
}
