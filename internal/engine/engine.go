// Package engine runs the driver loop. One goroutine takes a broker snapshot
// every cycle, runs the position lifecycle over it and applies operator
// commands between cycles, so all engine state has a single writer.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/circuit"
	"trade-engine/internal/events"
	"trade-engine/internal/logging"
	"trade-engine/internal/metrics"
	"trade-engine/internal/news"
	"trade-engine/internal/order"
	"trade-engine/internal/position"
	"trade-engine/internal/risk"
	"trade-engine/internal/settings"
	"trade-engine/internal/signal"
	"trade-engine/internal/store"
	"trade-engine/internal/takeprofit"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	ErrAlreadyRunning = errors.New("engine already running")
	ErrMissingDep     = errors.New("engine dependency missing")
)

// shutdownTimeout bounds the final cleanup pass
const shutdownTimeout = 10 * time.Second

// Options holds the driver settings
type Options struct {
	CycleInterval    time.Duration
	Symbols          []string // watched on top of the symbols with settings
	TriggerTolerance float64  // points
	Quiet            news.QuietHours
	Location         *time.Location // trading-day clock; nil means UTC
	PivotInterval    time.Duration
}

// DefaultOptions is a 500ms cycle, 40 point trigger tolerance and the default quiet hours
func DefaultOptions() Options {
	return Options{
		CycleInterval:    500 * time.Millisecond,
		TriggerTolerance: 40,
		Quiet:            news.DefaultQuietHours(),
		Location:         time.UTC,
		PivotInterval:    5 * time.Second,
	}
}

// Deps are the collaborators the engine drives. Source, Calendar, Pivot and
// Balances are optional.
type Deps struct {
	Gateway  broker.Gateway
	Executor *order.Manager
	Settings *settings.Registry
	Risk     *risk.RiskManager
	Target   *circuit.DailyTarget
	Source   signal.Source
	Calendar *news.Calendar
	Pivot    PivotSource
	Balances store.BalanceStore
	Bus      *events.EventBus
}

// Engine is the position lifecycle driver
type Engine struct {
	gw       broker.Gateway
	exec     *order.Manager
	tracker  *position.Tracker
	settings *settings.Registry
	risk     *risk.RiskManager
	ladder   *takeprofit.Ladder
	injector *risk.StopLossInjector
	router   *signal.Router
	target   *circuit.DailyTarget
	source   signal.Source
	calendar *news.Calendar
	pivot    PivotSource
	balances store.BalanceStore
	bus      *events.EventBus
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time

	commands chan Command
	running  atomic.Bool

	rtMu sync.RWMutex
	rt   settings.Runtime

	statusMu sync.RWMutex
	status   Status

	// driver goroutine only
	nextRollover time.Time
	nextPivot    time.Time
	newsNotified bool
	hedged       map[int64]bool // tickets hedged in the current news window
}

// New wires an engine. The tracker, ladder, stop-loss injector and router are
// built here so they share the engine's executor and registry.
func New(deps Deps, rt settings.Runtime, opts Options, logger zerolog.Logger) (*Engine, error) {
	if deps.Gateway == nil || deps.Executor == nil || deps.Settings == nil || deps.Risk == nil || deps.Target == nil {
		return nil, ErrMissingDep
	}
	if opts.CycleInterval <= 0 {
		opts.CycleInterval = DefaultOptions().CycleInterval
	}
	if opts.PivotInterval <= 0 {
		opts.PivotInterval = DefaultOptions().PivotInterval
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	tracker := position.NewTracker(logger)
	e := &Engine{
		gw:       deps.Gateway,
		exec:     deps.Executor,
		tracker:  tracker,
		settings: deps.Settings,
		risk:     deps.Risk,
		ladder:   takeprofit.NewLadder(deps.Gateway, deps.Executor, tracker, deps.Settings, deps.Bus, logger),
		injector: risk.NewStopLossInjector(deps.Gateway, deps.Executor, deps.Settings, deps.Bus, logger),
		router:   signal.NewRouter(deps.Executor, tracker, deps.Settings, deps.Risk, deps.Bus, logger),
		target:   deps.Target,
		source:   deps.Source,
		calendar: deps.Calendar,
		pivot:    deps.Pivot,
		balances: deps.Balances,
		bus:      deps.Bus,
		opts:     opts,
		logger:   logger.With().Str("component", "Engine").Logger(),
		now:      time.Now,
		commands: make(chan Command, 16),
		rt:       rt,
		hedged:   make(map[int64]bool),
	}
	e.target.SetTargetPercent(rt.DailyProfitTarget)
	e.exec.OnPartialFill(e.creditFill)
	return e, nil
}

// SetClock replaces the time source for the engine and its executor
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.exec.SetClock(now)
}

// Tracker exposes the position tracker for read-only views
func (e *Engine) Tracker() *position.Tracker {
	return e.tracker
}

// Runtime returns a copy of the engine-wide runtime state
func (e *Engine) Runtime() settings.Runtime {
	e.rtMu.RLock()
	defer e.rtMu.RUnlock()
	return e.rt
}

func (e *Engine) updateRuntime(fn func(rt *settings.Runtime)) settings.Runtime {
	e.rtMu.Lock()
	defer e.rtMu.Unlock()
	fn(&e.rt)
	return e.rt
}

func (e *Engine) clock() time.Time {
	return e.now().In(e.opts.Location)
}

// Run drives cycles until ctx is cancelled, then cancels pending orders and
// drops queued retries.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.Start(ctx)

	ticker := time.NewTicker(e.opts.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case cmd := <-e.commands:
			e.dispatch(ctx, cmd)
		case <-ticker.C:
			e.Cycle(ctx)
		}
	}
}

// Start restores the previous-day balance and schedules the first rollover.
// Run calls it; tests driving Cycle directly call it once themselves.
func (e *Engine) Start(ctx context.Context) {
	now := e.clock()
	e.nextRollover = e.opts.Quiet.NextEnd(now)
	e.restoreBalance(ctx)

	rt := e.Runtime()
	e.logger.Info().
		Str("mode", rt.Mode.String()).
		Bool("auto_trading", rt.AutoTrading).
		Float64("prev_balance", e.target.PrevBalance()).
		Time("next_rollover", e.nextRollover).
		Msg("Engine started")
	e.bus.Publish(events.Event{
		Type: events.EventEngineStarted,
		Data: map[string]interface{}{"mode": rt.Mode.String(), "next_rollover": e.nextRollover.Format(time.RFC3339)},
	})
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := e.exec.CancelAllOrders(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	dropped := e.exec.Drain()
	e.logger.Info().Int("dropped_retries", dropped).Msg("Engine stopped")
	e.bus.Publish(events.Event{Type: events.EventEngineStopped, Data: map[string]interface{}{"dropped_retries": dropped}})
	return errs
}

// Cycle runs one driver pass. It never returns an error: every failure is
// logged and the next cycle starts from a fresh snapshot.
func (e *Engine) Cycle(ctx context.Context) {
	started := time.Now()
	ctx, log := logging.WithTraceContext(ctx, e.logger)
	defer func() {
		metrics.Cycles.Inc()
		metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}()

	now := e.clock()
	if n := e.exec.RunDue(ctx); n > 0 {
		log.Debug().Int("tasks", n).Msg("Ran due retries")
	}

	snap, err := broker.TakeSnapshot(ctx, e.gw, now)
	if err != nil {
		log.Warn().Err(err).Msg("Broker snapshot failed, skipping cycle")
		return
	}
	metrics.Equity.Set(snap.Account.Equity)
	metrics.Balance.Set(snap.Account.Balance)

	if !now.Before(e.nextRollover) {
		e.rollover(ctx, snap, now, log)
	}

	e.reconcile(snap)

	rt := e.Runtime()
	sess := e.session(now)
	defer func() { e.refreshStatus(snap, e.Runtime(), sess) }()

	if rt.TradingStopped {
		return
	}

	res := e.ladder.Evaluate(ctx, snap)
	if res != (takeprofit.Result{}) {
		log.Debug().Interface("ladder", res).Msg("Ladder fired")
	}
	e.injector.Inject(ctx, snap.Positions)

	if sess.Quiet {
		e.manageQuietHours(ctx, snap, log)
	}
	if sess.News.InWindow {
		e.manageNews(ctx, snap, rt, sess.News, log)
	} else {
		e.leaveNewsWindow()
	}

	switch {
	case !sess.Tradable():
		e.discardSignal(ctx, log)
	case rt.AutoTrading:
		e.pollSignal(ctx, snap, rt, log)
	}

	e.updatePivot(ctx, now, log)
	e.checkTriggers(ctx, snap, e.Runtime(), sess.Tradable(), log)
	e.checkDailyTarget(ctx, snap, log)
}

// reconcile advances the tracker and mirrors open/flat edges into the
// symbol's open_position_flag
func (e *Engine) reconcile(snap *broker.Snapshot) {
	for _, tr := range e.tracker.Reconcile(snap.Positions, e.watched()) {
		opened := tr.Opened
		e.settings.Mutate(tr.Symbol, func(c *settings.SymbolConfig) { c.OpenPositionFlag = opened })
		if !opened {
			metrics.RealizedProfit.WithLabelValues(tr.Symbol).Set(0)
			e.bus.PublishLedger(tr.Symbol, "flat", 0, 0)
		}
	}
}

// watched is every symbol the engine evaluates triggers and ledgers for
func (e *Engine) watched() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append(e.settings.Symbols(), e.opts.Symbols...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) pollSignal(ctx context.Context, snap *broker.Snapshot, rt settings.Runtime, log zerolog.Logger) {
	if e.source == nil {
		return
	}
	raw, ok, err := e.source.Fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Signal fetch failed")
		return
	}
	if !ok {
		return
	}
	// malformed payloads are logged and counted by the router
	_ = e.router.Handle(ctx, raw, snap, rt)
}

// discardSignal consumes whatever the source holds so a signal raised while
// trading was paused is not acted on later
func (e *Engine) discardSignal(ctx context.Context, log zerolog.Logger) {
	if e.source == nil {
		return
	}
	raw, ok, err := e.source.Fetch(ctx)
	if err != nil || !ok {
		return
	}
	log.Info().Str("payload", raw).Msg("Signal discarded, trading paused")
	metrics.Signals.WithLabelValues("skipped").Inc()
	e.bus.PublishSignal(raw, false, "trading paused")
}

// creditFill books the realized share of a partial close, net of commission
func (e *Engine) creditFill(f order.Fill) {
	commission := e.settings.Get(f.Symbol).Commission
	delta := f.ClosedProfit() - f.ClosedVolume*commission
	value := e.tracker.Credit(f.Symbol, delta)
	metrics.RealizedProfit.WithLabelValues(f.Symbol).Set(value)
	e.bus.PublishLedger(f.Symbol, "partial_close", delta, value)
}
