package engine

import (
	"context"
	"errors"
	"fmt"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/metrics"
	"trade-engine/internal/order"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrNoPosition     = errors.New("no open position")
)

// CommandKind names an operator action
type CommandKind string

const (
	CmdManualTrade       CommandKind = "manual_trade"   // Symbol, Direction
	CmdReverseSymbol     CommandKind = "reverse_symbol" // Symbol
	CmdReverseTicket     CommandKind = "reverse_ticket" // Ticket
	CmdTP1               CommandKind = "tp1"            // Ticket
	CmdTP2               CommandKind = "tp2"            // Ticket
	CmdBreakEven         CommandKind = "break_even"     // Ticket
	CmdClosePosition     CommandKind = "close_position" // Ticket
	CmdCloseInProfit     CommandKind = "close_in_profit"
	CmdCloseInLoss       CommandKind = "close_in_loss"
	CmdCloseAll          CommandKind = "close_all"
	CmdClearOrders       CommandKind = "clear_orders"
	CmdCancelOrder       CommandKind = "cancel_order"        // Ticket
	CmdResetLedger       CommandKind = "reset_ledger"        // Symbol, empty for every symbol
	CmdSetMode           CommandKind = "set_mode"            // Mode
	CmdSetAutoTrading    CommandKind = "set_auto_trading"    // Enabled
	CmdSetNewsManagement CommandKind = "set_news_management" // Enabled
	CmdSetUseTotalProfit CommandKind = "set_use_total_profit"
	CmdSetDailyTarget    CommandKind = "set_daily_target"    // Value, percent
	CmdUpdateSettings    CommandKind = "update_settings"     // Symbol, Patch
	CmdSetUsePivot       CommandKind = "set_use_pivot"       // Symbol, Enabled
	CmdSetAllowNewTrade  CommandKind = "set_allow_new_trade" // Symbol, Enabled
	CmdResumeTrading     CommandKind = "resume_trading"
)

// ManualComment tags positions opened by operator commands
const ManualComment = "manual"

// Command is an operator request applied by the driver between cycles
type Command struct {
	Kind      CommandKind      `json:"kind"`
	Symbol    string           `json:"symbol,omitempty"`
	Ticket    int64            `json:"ticket,omitempty"`
	Direction broker.Direction `json:"direction,omitempty"`
	Mode      string           `json:"mode,omitempty"`
	Enabled   bool             `json:"enabled,omitempty"`
	Value     float64          `json:"value,omitempty"`
	Patch     *settings.Patch  `json:"patch,omitempty"`

	reply chan error
}

// Validate checks that the fields the kind needs are present
func (c Command) Validate() error {
	switch c.Kind {
	case CmdManualTrade:
		if c.Symbol == "" {
			return fmt.Errorf("%w: %s needs a symbol", ErrInvalidCommand, c.Kind)
		}
		if c.Direction != broker.Buy && c.Direction != broker.Sell {
			return fmt.Errorf("%w: direction must be Buy or Sell", ErrInvalidCommand)
		}
	case CmdReverseSymbol, CmdSetUsePivot, CmdSetAllowNewTrade:
		if c.Symbol == "" {
			return fmt.Errorf("%w: %s needs a symbol", ErrInvalidCommand, c.Kind)
		}
	case CmdReverseTicket, CmdTP1, CmdTP2, CmdBreakEven, CmdClosePosition, CmdCancelOrder:
		if c.Ticket == 0 {
			return fmt.Errorf("%w: %s needs a ticket", ErrInvalidCommand, c.Kind)
		}
	case CmdSetMode:
		if _, err := settings.ParseTradeMode(c.Mode); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	case CmdSetDailyTarget:
		if c.Value < 0 {
			return fmt.Errorf("%w: daily target must not be negative", ErrInvalidCommand)
		}
	case CmdUpdateSettings:
		if c.Symbol == "" || c.Patch == nil {
			return fmt.Errorf("%w: %s needs a symbol and a patch", ErrInvalidCommand, c.Kind)
		}
		if err := c.Patch.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
	case CmdCloseInProfit, CmdCloseInLoss, CmdCloseAll, CmdClearOrders, CmdResetLedger,
		CmdSetAutoTrading, CmdSetNewsManagement, CmdSetUseTotalProfit, CmdResumeTrading:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, c.Kind)
	}
	return nil
}

// Submit hands a command to the driver and waits until it has been applied.
// It blocks until ctx is done if the engine is not running.
func (e *Engine) Submit(ctx context.Context, cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	cmd.reply = make(chan error, 1)

	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) dispatch(ctx context.Context, cmd Command) {
	err := e.apply(ctx, cmd)
	if cmd.reply != nil {
		cmd.reply <- err
	}
}

// apply runs a command on the driver goroutine
func (e *Engine) apply(ctx context.Context, cmd Command) error {
	log := e.logger.With().Str("command", string(cmd.Kind)).Logger()
	if cmd.Symbol != "" {
		log = log.With().Str("symbol", cmd.Symbol).Logger()
	}
	if cmd.Ticket != 0 {
		log = log.With().Int64("ticket", cmd.Ticket).Logger()
	}
	log.Info().Msg("Applying command")

	switch cmd.Kind {
	case CmdManualTrade:
		acct, meta, err := e.sizing(ctx, cmd.Symbol)
		if err != nil {
			return err
		}
		return e.manualTrade(ctx, cmd.Symbol, cmd.Direction, acct.Equity, e.settings.Get(cmd.Symbol), *meta, ManualComment, log)
	case CmdReverseSymbol:
		return e.reverseSymbol(ctx, cmd.Symbol, log)
	case CmdReverseTicket:
		return e.reverseTicket(ctx, cmd.Ticket, log)
	case CmdTP1:
		return e.ladder.ApplyTP1(ctx, cmd.Ticket)
	case CmdTP2:
		return e.ladder.ApplyTP2(ctx, cmd.Ticket)
	case CmdBreakEven:
		_, err := e.ladder.BreakEven(ctx, cmd.Ticket)
		return err
	case CmdClosePosition:
		pos, err := e.gw.Position(ctx, cmd.Ticket)
		if err != nil {
			return err
		}
		return e.exec.Close(ctx, *pos)
	case CmdCloseInProfit:
		return e.closeWhere(ctx, func(p broker.Position) bool { return p.Profit > 0 }, log)
	case CmdCloseInLoss:
		return e.closeWhere(ctx, func(p broker.Position) bool { return p.Profit < 0 }, log)
	case CmdCloseAll:
		return e.exec.CloseAll(ctx)
	case CmdClearOrders:
		return e.exec.CancelAllOrders(ctx)
	case CmdCancelOrder:
		return e.cancelOrder(ctx, cmd.Ticket)
	case CmdResetLedger:
		e.resetLedger(cmd.Symbol)
		return nil
	case CmdSetMode:
		mode, _ := settings.ParseTradeMode(cmd.Mode)
		e.updateRuntime(func(rt *settings.Runtime) { rt.Mode = mode })
		e.bus.Publish(events.Event{Type: events.EventModeChanged, Data: map[string]interface{}{"mode": mode.String()}})
		return nil
	case CmdSetAutoTrading:
		e.setToggle("auto_trading", cmd.Enabled, func(rt *settings.Runtime) { rt.AutoTrading = cmd.Enabled })
		return nil
	case CmdSetNewsManagement:
		e.setToggle("news_management", cmd.Enabled, func(rt *settings.Runtime) { rt.NewsManagement = cmd.Enabled })
		return nil
	case CmdSetUseTotalProfit:
		e.setToggle("use_total_profit", cmd.Enabled, func(rt *settings.Runtime) { rt.UseTotalProfit = cmd.Enabled })
		return nil
	case CmdSetDailyTarget:
		e.updateRuntime(func(rt *settings.Runtime) { rt.DailyProfitTarget = cmd.Value })
		e.target.SetTargetPercent(cmd.Value)
		e.bus.Publish(events.Event{Type: events.EventSettingsChanged, Data: map[string]interface{}{"daily_profit_target": cmd.Value}})
		return nil
	case CmdUpdateSettings:
		cfg, err := e.settings.Update(cmd.Symbol, *cmd.Patch)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		e.bus.Publish(events.Event{Type: events.EventSettingsChanged, Data: map[string]interface{}{"symbol": cmd.Symbol, "settings": cfg}})
		return nil
	case CmdSetUsePivot:
		enabled := cmd.Enabled
		_, err := e.settings.Update(cmd.Symbol, settings.Patch{UsePivot: &enabled})
		return err
	case CmdSetAllowNewTrade:
		enabled := cmd.Enabled
		_, err := e.settings.Update(cmd.Symbol, settings.Patch{AllowNewTrade: &enabled})
		return err
	case CmdResumeTrading:
		e.target.ForceReset()
		e.updateRuntime(func(rt *settings.Runtime) { rt.TradingStopped = false })
		metrics.TradingStopped.Set(0)
		e.bus.Publish(events.Event{Type: events.EventTradingResumed, Data: map[string]interface{}{"manual": true}})
		return nil
	}
	return fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, cmd.Kind)
}

func (e *Engine) setToggle(name string, enabled bool, fn func(rt *settings.Runtime)) {
	e.updateRuntime(fn)
	e.bus.Publish(events.Event{Type: events.EventSettingsChanged, Data: map[string]interface{}{name: enabled}})
}

func (e *Engine) sizing(ctx context.Context, symbol string) (*broker.Account, *broker.SymbolMeta, error) {
	acct, err := e.gw.Account(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("account: %w", err)
	}
	meta, err := e.gw.SymbolMeta(ctx, symbol)
	if err != nil {
		return nil, nil, fmt.Errorf("symbol info %s: %w", symbol, err)
	}
	return acct, meta, nil
}

// manualTrade opens a position sized by the symbol's risk settings and
// starts the symbol's ledger from zero
func (e *Engine) manualTrade(ctx context.Context, symbol string, dir broker.Direction, equity float64, cfg settings.SymbolConfig, meta broker.SymbolMeta, comment string, log zerolog.Logger) error {
	lot := e.risk.ManualLot(equity, cfg, meta, 1)
	log.Info().Str("symbol", symbol).Str("direction", string(dir)).Float64("lot", lot).Str("comment", comment).Msg("Opening position")

	err := e.exec.Open(ctx, symbol, lot, dir, comment)
	e.setLedger(symbol, 0, comment+"_open")
	return err
}

// reverseSymbol closes the symbol's first position, banking its net profit,
// and opens the other side at the manual lot times the martingale multiplier
func (e *Engine) reverseSymbol(ctx context.Context, symbol string, log zerolog.Logger) error {
	positions, err := e.gw.Positions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("positions %s: %w", symbol, err)
	}
	if len(positions) == 0 {
		return fmt.Errorf("%w on %s", ErrNoPosition, symbol)
	}
	acct, meta, err := e.sizing(ctx, symbol)
	if err != nil {
		return err
	}
	cfg := e.settings.Get(symbol)
	lot := e.risk.ManualLot(acct.Equity, cfg, *meta, cfg.Martingale)
	return e.reverse(ctx, positions[0], lot, cfg, log)
}

// reverseTicket reverses one position, scaling its own volume by the martingale multiplier
func (e *Engine) reverseTicket(ctx context.Context, ticket int64, log zerolog.Logger) error {
	pos, err := e.gw.Position(ctx, ticket)
	if err != nil {
		return fmt.Errorf("lookup position %d: %w", ticket, err)
	}
	meta, err := e.gw.SymbolMeta(ctx, pos.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info %s: %w", pos.Symbol, err)
	}
	cfg := e.settings.Get(pos.Symbol)
	lot := e.risk.ReverseLot(pos.Volume, cfg.Martingale, *meta)
	return e.reverse(ctx, *pos, lot, cfg, log)
}

func (e *Engine) reverse(ctx context.Context, pos broker.Position, lot float64, cfg settings.SymbolConfig, log zerolog.Logger) error {
	delta := pos.Profit - pos.Volume*cfg.Commission
	value := e.tracker.Credit(pos.Symbol, delta)
	metrics.RealizedProfit.WithLabelValues(pos.Symbol).Set(value)
	e.bus.PublishLedger(pos.Symbol, "reverse", delta, value)

	dir := pos.Direction.Opposite()
	log.Info().
		Int64("ticket", pos.Ticket).
		Str("symbol", pos.Symbol).
		Str("direction", string(dir)).
		Float64("lot", lot).
		Float64("ledger", value).
		Msg("Reversing position")

	if err := e.exec.Close(ctx, pos); err != nil && !errors.Is(err, order.ErrRejected) && !errors.Is(err, order.ErrDuplicate) {
		return err
	}
	return e.exec.Open(ctx, pos.Symbol, lot, dir, ManualComment)
}

func (e *Engine) closeWhere(ctx context.Context, match func(broker.Position) bool, log zerolog.Logger) error {
	positions, err := e.gw.Positions(ctx, "")
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	n := 0
	for _, p := range positions {
		if !match(p) {
			continue
		}
		n++
		if err := e.exec.Close(ctx, p); err != nil {
			log.Warn().Err(err).Int64("ticket", p.Ticket).Msg("Close not completed yet")
		}
	}
	log.Info().Int("closed", n).Int("positions", len(positions)).Msg("Filtered close issued")
	return nil
}

func (e *Engine) cancelOrder(ctx context.Context, ticket int64) error {
	orders, err := e.gw.Orders(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	for _, o := range orders {
		if o.Ticket == ticket {
			return e.exec.CancelOrder(ctx, o)
		}
	}
	return fmt.Errorf("pending order %d not found", ticket)
}

func (e *Engine) resetLedger(symbol string) {
	if symbol != "" {
		e.setLedger(symbol, 0, "reset")
		return
	}
	ledger := e.tracker.Ledger()
	e.tracker.ResetAll()
	for sym, prev := range ledger {
		metrics.RealizedProfit.WithLabelValues(sym).Set(0)
		if prev != 0 {
			e.bus.PublishLedger(sym, "reset", -prev, 0)
		}
	}
}

func (e *Engine) setLedger(symbol string, value float64, reason string) {
	prev := e.tracker.Realized(symbol)
	e.tracker.SetRealized(symbol, value)
	metrics.RealizedProfit.WithLabelValues(symbol).Set(value)
	if prev != value {
		e.bus.PublishLedger(symbol, reason, value-prev, value)
	}
}
