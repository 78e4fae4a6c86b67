// Package order submits engine decisions to the broker and retries the ones
// that fail. Retries are queued with a due time and run by the driver at the
// start of a cycle, so they never overlap cycle logic.
package order

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/events"
	"trade-engine/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	// ErrRejected means the attempt failed and a retry has been scheduled
	ErrRejected = errors.New("order rejected, retry scheduled")
	// ErrGaveUp means the attempt failed and no retries remain
	ErrGaveUp = errors.New("order rejected, retries exhausted")
	// ErrDuplicate means the same action on the ticket is still awaiting a
	// retry, so nothing was submitted
	ErrDuplicate = errors.New("same order already awaiting retry")
)

// Fill describes a successful partial close
type Fill struct {
	Symbol         string
	Ticket         int64
	ClosedVolume   float64
	PositionVolume float64 // volume before the close
	PositionProfit float64 // unrealized profit before the close
}

// ClosedProfit is the share of the position's profit realized by the fill
func (f Fill) ClosedProfit() float64 {
	if f.PositionVolume <= 0 {
		return 0
	}
	return f.PositionProfit * f.ClosedVolume / f.PositionVolume
}

// operation is one logical action that may take several submissions
type operation struct {
	kind     broker.RequestKind
	label    string
	symbol   string
	ticket   int64
	attempts int
	bo       backoff.BackOff
	force    bool // close-all passes bypass deduplication
	tracked  bool
	req      broker.OrderRequest

	// prepare refreshes req from broker state before every attempt.
	// drop=true abandons the operation without counting a failure.
	prepare   func(ctx context.Context, op *operation) (drop bool, err error)
	onSuccess func(op *operation, res *broker.OrderResult)
}

type task struct {
	due  time.Time
	name string
	run  func(ctx context.Context)
}

// Manager is the retry-backed order executor
type Manager struct {
	gw     broker.Gateway
	policy Policy
	logger zerolog.Logger
	bus    *events.EventBus
	now    func() time.Time

	mu         sync.Mutex
	queue      []task
	inflight   map[string]bool
	closingAll bool
	onFill     func(Fill)
}

// NewManager creates an executor around a gateway
func NewManager(gw broker.Gateway, policy Policy, bus *events.EventBus, logger zerolog.Logger) *Manager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Manager{
		gw:       gw,
		policy:   policy,
		logger:   logger.With().Str("component", "OrderManager").Logger(),
		bus:      bus,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
}

// SetClock replaces the time source
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// OnPartialFill registers the callback run after each successful partial close.
// It runs on whichever goroutine called the executor, i.e. the driver.
func (m *Manager) OnPartialFill(fn func(Fill)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFill = fn
}

// Open submits a market order at the current ask (Buy) or bid (Sell)
func (m *Manager) Open(ctx context.Context, symbol string, volume float64, dir broker.Direction, comment string) error {
	op := &operation{
		kind:   broker.RequestOpen,
		label:  "open",
		symbol: symbol,
		req: broker.OrderRequest{
			Kind:      broker.RequestOpen,
			Symbol:    symbol,
			Direction: dir,
			Volume:    volume,
			Comment:   comment,
		},
		prepare: func(ctx context.Context, op *operation) (bool, error) {
			tick, err := m.gw.Tick(ctx, op.symbol)
			if err != nil {
				return false, err
			}
			op.req.Price = tick.Ask
			if op.req.Direction == broker.Sell {
				op.req.Price = tick.Bid
			}
			return false, nil
		},
	}
	return m.start(ctx, op)
}

// Close fully closes a position by ticket
func (m *Manager) Close(ctx context.Context, pos broker.Position) error {
	return m.start(ctx, m.closeOp(pos))
}

func (m *Manager) closeOp(pos broker.Position) *operation {
	return &operation{
		kind:   broker.RequestClose,
		label:  "close",
		symbol: pos.Symbol,
		ticket: pos.Ticket,
		req: broker.OrderRequest{
			Kind:   broker.RequestClose,
			Ticket: pos.Ticket,
			Symbol: pos.Symbol,
		},
		prepare: func(ctx context.Context, op *operation) (bool, error) {
			fresh, err := m.fresh(ctx, op.ticket)
			if fresh == nil || err != nil {
				return fresh == nil && err == nil, err
			}
			if err := m.priceClose(ctx, op, fresh); err != nil {
				return false, err
			}
			op.req.Volume = fresh.Volume
			return false, nil
		},
	}
}

// PartialClose closes volume lots of a position. If volume covers the whole
// position it is closed outright. The fill callback sees the position as it
// was just before the successful submission.
func (m *Manager) PartialClose(ctx context.Context, pos broker.Position, volume float64) error {
	var before broker.Position
	op := &operation{
		kind:   broker.RequestClose,
		label:  "partial_close",
		symbol: pos.Symbol,
		ticket: pos.Ticket,
		req: broker.OrderRequest{
			Kind:   broker.RequestClose,
			Ticket: pos.Ticket,
			Symbol: pos.Symbol,
		},
		prepare: func(ctx context.Context, op *operation) (bool, error) {
			fresh, err := m.fresh(ctx, op.ticket)
			if fresh == nil || err != nil {
				return fresh == nil && err == nil, err
			}
			if err := m.priceClose(ctx, op, fresh); err != nil {
				return false, err
			}
			op.req.Volume = broker.RoundVolume(volume)
			if op.req.Volume >= fresh.Volume {
				op.req.Volume = fresh.Volume
			}
			before = *fresh
			return false, nil
		},
		onSuccess: func(op *operation, _ *broker.OrderResult) {
			m.mu.Lock()
			fn := m.onFill
			m.mu.Unlock()
			if fn != nil {
				fn(Fill{
					Symbol:         before.Symbol,
					Ticket:         before.Ticket,
					ClosedVolume:   op.req.Volume,
					PositionVolume: before.Volume,
					PositionProfit: before.Profit,
				})
			}
		},
	}
	return m.start(ctx, op)
}

// ModifyStops sets SL and TP on a live position
func (m *Manager) ModifyStops(ctx context.Context, pos broker.Position, sl, tp float64) error {
	op := &operation{
		kind:   broker.RequestModifyStops,
		label:  "modify_stops",
		symbol: pos.Symbol,
		ticket: pos.Ticket,
		req: broker.OrderRequest{
			Kind:       broker.RequestModifyStops,
			Ticket:     pos.Ticket,
			Symbol:     pos.Symbol,
			StopLoss:   sl,
			TakeProfit: tp,
		},
		prepare: func(ctx context.Context, op *operation) (bool, error) {
			fresh, err := m.fresh(ctx, op.ticket)
			if fresh == nil || err != nil {
				return fresh == nil && err == nil, err
			}
			return false, nil
		},
	}
	return m.start(ctx, op)
}

// CancelOrder removes a pending order
func (m *Manager) CancelOrder(ctx context.Context, o broker.Order) error {
	op := &operation{
		kind:   broker.RequestCancel,
		label:  "cancel",
		symbol: o.Symbol,
		ticket: o.Ticket,
		req:    broker.OrderRequest{Kind: broker.RequestCancel, Ticket: o.Ticket, Symbol: o.Symbol},
		prepare: func(ctx context.Context, op *operation) (bool, error) {
			orders, err := m.gw.Orders(ctx)
			if err != nil {
				return false, err
			}
			for _, o := range orders {
				if o.Ticket == op.ticket {
					return false, nil
				}
			}
			return true, nil
		},
	}
	return m.start(ctx, op)
}

// CancelAllOrders cancels every pending order
func (m *Manager) CancelAllOrders(ctx context.Context) error {
	orders, err := m.gw.Orders(ctx)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	var errs error
	for _, o := range orders {
		errs = multierr.Append(errs, m.CancelOrder(ctx, o))
	}
	return errs
}

// CloseAll closes every position and keeps re-verifying until none remain.
// A second call while a close-all is in flight is a no-op.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	if m.closingAll {
		m.mu.Unlock()
		return nil
	}
	m.closingAll = true
	m.mu.Unlock()

	return m.closeAllPass(ctx)
}

// ClosingAll reports whether a close-all loop is running
func (m *Manager) ClosingAll() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closingAll
}

func (m *Manager) closeAllPass(ctx context.Context) error {
	positions, err := m.gw.Positions(ctx, "")
	var errs error
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("list positions: %w", err))
	}
	for _, p := range positions {
		op := m.closeOp(p)
		op.force = true
		if err := m.start(ctx, op); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	m.schedule(m.policy.VerifyDelay, "verify close-all", m.verifyCloseAll)
	return errs
}

func (m *Manager) verifyCloseAll(ctx context.Context) {
	positions, err := m.gw.Positions(ctx, "")
	if err == nil && len(positions) == 0 {
		m.mu.Lock()
		m.closingAll = false
		m.mu.Unlock()
		m.logger.Info().Msg("Close-all verified, no positions remain")
		return
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Close-all verification failed, re-issuing")
	} else {
		m.logger.Warn().Int("remaining", len(positions)).Msg("Positions remain after close-all, re-issuing")
	}
	if err := m.closeAllPass(ctx); err != nil {
		m.logger.Debug().Err(err).Msg("Close-all pass had failures")
	}
}

// RunDue runs every queued task whose due time has passed, oldest first
func (m *Manager) RunDue(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	var due, later []task
	for _, t := range m.queue {
		if !t.due.After(now) {
			due = append(due, t)
		} else {
			later = append(later, t)
		}
	}
	m.queue = later
	m.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, t := range due {
		t.run(ctx)
	}
	return len(due)
}

// Pending returns the number of queued tasks
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Drain discards queued tasks and returns how many were dropped
func (m *Manager) Drain() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.queue)
	m.queue = nil
	m.inflight = make(map[string]bool)
	m.closingAll = false
	return n
}

func (m *Manager) schedule(d time.Duration, name string, run func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, task{due: m.now().Add(d), name: name, run: run})
}

// start runs the first attempt. Ticket-bound operations are deduplicated:
// while one is waiting on a retry, the same action on the same ticket is
// refused with ErrDuplicate so the attempt bound holds.
func (m *Manager) start(ctx context.Context, op *operation) error {
	if op.ticket != 0 && !op.force {
		key := op.key()
		m.mu.Lock()
		if m.inflight[key] {
			m.mu.Unlock()
			m.logger.Debug().Str("op", op.label).Int64("ticket", op.ticket).Msg("Same order already awaiting retry")
			return ErrDuplicate
		}
		m.inflight[key] = true
		op.tracked = true
		m.mu.Unlock()
	}
	op.bo = m.policy.newBackOff()
	return m.attempt(ctx, op)
}

func (op *operation) key() string {
	return fmt.Sprintf("%s:%d", op.label, op.ticket)
}

func (m *Manager) finish(op *operation) {
	if !op.tracked {
		return
	}
	op.tracked = false
	m.mu.Lock()
	delete(m.inflight, op.key())
	m.mu.Unlock()
}

func (m *Manager) attempt(ctx context.Context, op *operation) error {
	op.attempts++
	log := m.logger.With().
		Str("op", op.label).
		Str("symbol", op.symbol).
		Int64("ticket", op.ticket).
		Int("attempt", op.attempts).
		Logger()

	var reason string
	if op.prepare != nil {
		drop, err := op.prepare(ctx, op)
		if drop {
			m.finish(op)
			log.Info().Msg("Target no longer live, dropping order")
			return nil
		}
		if err != nil {
			reason = err.Error()
		}
	}

	if reason == "" {
		op.req.ID = uuid.NewString()
		res, err := m.gw.Submit(ctx, op.req)
		switch {
		case err != nil:
			reason = err.Error()
		case res == nil || !res.Success:
			reason = "broker refused"
			if res != nil && res.Reason != "" {
				reason = res.Reason
			}
		default:
			metrics.Orders.WithLabelValues(op.label, "success").Inc()
			m.bus.PublishOrder(op.label, op.symbol, op.ticket, op.req.Volume, op.attempts, true, "")
			log.Info().Float64("volume", op.req.Volume).Str("direction", string(op.req.Direction)).Msg("Order executed")
			m.finish(op)
			if op.onSuccess != nil {
				op.onSuccess(op, res)
			}
			return nil
		}
	}

	metrics.Orders.WithLabelValues(op.label, "failure").Inc()
	m.bus.PublishOrder(op.label, op.symbol, op.ticket, op.req.Volume, op.attempts, false, reason)

	next := op.bo.NextBackOff()
	if next == backoff.Stop {
		metrics.GiveUps.WithLabelValues(op.label).Inc()
		m.bus.PublishGaveUp(op.label, op.symbol, op.ticket, op.attempts, reason)
		log.Error().Str("reason", reason).Msg("Order failed, retries exhausted")
		m.finish(op)
		return fmt.Errorf("%w: %s", ErrGaveUp, reason)
	}

	metrics.Retries.WithLabelValues(op.label).Inc()
	log.Warn().Str("reason", reason).Dur("retry_in", next).Msg("Order failed, retry scheduled")
	m.schedule(next, fmt.Sprintf("retry %s #%d", op.label, op.ticket), func(ctx context.Context) {
		_ = m.attempt(ctx, op)
	})
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// fresh re-reads a position. (nil, nil) means it is gone.
func (m *Manager) fresh(ctx context.Context, ticket int64) (*broker.Position, error) {
	p, err := m.gw.Position(ctx, ticket)
	if errors.Is(err, broker.ErrPositionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// priceClose fills the closing deal's side and price: a Buy is closed by
// selling at the bid, a Sell by buying at the ask.
func (m *Manager) priceClose(ctx context.Context, op *operation, pos *broker.Position) error {
	tick, err := m.gw.Tick(ctx, pos.Symbol)
	if err != nil {
		return err
	}
	op.req.Direction = pos.Direction.Opposite()
	op.req.Price = tick.Bid
	if pos.Direction == broker.Sell {
		op.req.Price = tick.Ask
	}
	return nil
}
