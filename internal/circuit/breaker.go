// Package circuit halts trading for the rest of the day once the account has
// made its daily profit target.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // Normal operation
	StateOpen   BreakerState = "open"   // Target reached, trading halted until rollover
)

// Config holds the daily target configuration
type Config struct {
	Enabled       bool    `json:"enabled"`
	TargetPercent float64 `json:"target_percent"` // % gain over the previous-day balance
}

// DefaultConfig returns the defaults: enabled, target 0 (never trips until set)
func DefaultConfig() Config {
	return Config{Enabled: true}
}

// DailyTarget trips when equity reaches previous-day balance plus the target
type DailyTarget struct {
	config      Config
	state       BreakerState
	prevBalance float64
	tripEquity  float64
	lastTrip    time.Time
	tripReason  string
	mu          sync.RWMutex
	onTrip      func(reason string)
	onReset     func()
	now         func() time.Time
}

// NewDailyTarget creates a breaker anchored at the previous-day balance
func NewDailyTarget(config Config, prevBalance float64) *DailyTarget {
	return &DailyTarget{
		config:      config,
		state:       StateClosed,
		prevBalance: prevBalance,
		now:         time.Now,
	}
}

// OnTrip sets the callback run (synchronously) when the breaker trips
func (dt *DailyTarget) OnTrip(handler func(reason string)) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.onTrip = handler
}

// OnReset sets the callback run (synchronously) when the breaker resets
func (dt *DailyTarget) OnReset(handler func()) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.onReset = handler
}

// Target is the equity level that trips the breaker
func (dt *DailyTarget) Target() float64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.targetLocked()
}

func (dt *DailyTarget) targetLocked() float64 {
	return dt.prevBalance * (1 + dt.config.TargetPercent/100)
}

// CanTrade reports whether trading is allowed
func (dt *DailyTarget) CanTrade() (bool, string) {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	if dt.state == StateOpen {
		return false, dt.tripReason
	}
	return true, ""
}

// Check evaluates equity against the target and trips the breaker the first
// time it is reached. It returns true only on the tripping call.
func (dt *DailyTarget) Check(equity float64) bool {
	dt.mu.Lock()
	if !dt.config.Enabled || dt.state == StateOpen || dt.config.TargetPercent <= 0 || dt.prevBalance <= 0 {
		dt.mu.Unlock()
		return false
	}
	if math.IsNaN(equity) || equity < dt.targetLocked() {
		dt.mu.Unlock()
		return false
	}

	dt.state = StateOpen
	dt.tripEquity = equity
	dt.lastTrip = dt.now()
	dt.tripReason = fmt.Sprintf("daily profit target reached: equity %.2f >= %.2f", equity, dt.targetLocked())
	handler, reason := dt.onTrip, dt.tripReason
	dt.mu.Unlock()

	if handler != nil {
		handler(reason)
	}
	return true
}

// RequiredProfit is how much more equity is needed to reach the target
func (dt *DailyTarget) RequiredProfit(equity float64) float64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.targetLocked() - equity
}

// Rollover starts a new trading day. The previous-day balance is raised to
// balance only when it grew and no positions are open. It reports whether
// the anchor changed.
func (dt *DailyTarget) Rollover(balance float64, flat bool) bool {
	dt.mu.Lock()
	raised := false
	if flat && balance > dt.prevBalance {
		dt.prevBalance = balance
		raised = true
	}
	wasOpen := dt.state == StateOpen
	dt.state = StateClosed
	dt.tripReason = ""
	handler := dt.onReset
	dt.mu.Unlock()

	if wasOpen && handler != nil {
		handler()
	}
	return raised
}

// ForceReset manually resets the breaker without moving the anchor
func (dt *DailyTarget) ForceReset() {
	dt.mu.Lock()
	wasOpen := dt.state == StateOpen
	dt.state = StateClosed
	dt.tripReason = ""
	handler := dt.onReset
	dt.mu.Unlock()

	if wasOpen && handler != nil {
		handler()
	}
}

// PrevBalance returns the previous-day balance anchor
func (dt *DailyTarget) PrevBalance() float64 {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.prevBalance
}

// SetPrevBalance overrides the anchor
func (dt *DailyTarget) SetPrevBalance(v float64) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.prevBalance = v
}

// SetTargetPercent updates the target
func (dt *DailyTarget) SetTargetPercent(pct float64) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.config.TargetPercent = pct
}

// SetEnabled enables or disables the breaker
func (dt *DailyTarget) SetEnabled(enabled bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.config.Enabled = enabled
}

// GetState returns current breaker state
func (dt *DailyTarget) GetState() BreakerState {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.state
}

// GetConfig returns a copy of the current configuration
func (dt *DailyTarget) GetConfig() Config {
	dt.mu.RLock()
	defer dt.mu.RUnlock()
	return dt.config
}

// GetStats returns current statistics
func (dt *DailyTarget) GetStats() map[string]interface{} {
	dt.mu.RLock()
	defer dt.mu.RUnlock()

	return map[string]interface{}{
		"state":          string(dt.state),
		"enabled":        dt.config.Enabled,
		"target_percent": dt.config.TargetPercent,
		"prev_balance":   dt.prevBalance,
		"target_equity":  dt.targetLocked(),
		"trip_equity":    dt.tripEquity,
		"trip_reason":    dt.tripReason,
		"last_trip_time": dt.lastTrip,
	}
}
