// Package settings holds the per-symbol trading configuration and the
// engine-wide runtime toggles.
package settings

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TradeMode selects how the signal router treats an incoming trade signal
type TradeMode int

const (
	SingleDirection TradeMode = iota + 1
	Hedging
	AllSignals
	SmartHedging
)

func (m TradeMode) String() string {
	switch m {
	case SingleDirection:
		return "single_direction"
	case Hedging:
		return "hedging"
	case AllSignals:
		return "all_signals"
	case SmartHedging:
		return "smart_hedging"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Valid reports whether m is one of the four known modes
func (m TradeMode) Valid() bool {
	return m >= SingleDirection && m <= SmartHedging
}

// ParseTradeMode accepts the mode name or its number (1-4)
func ParseTradeMode(s string) (TradeMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "single_direction", "single":
		return SingleDirection, nil
	case "2", "hedging", "hedge":
		return Hedging, nil
	case "3", "all_signals", "all":
		return AllSignals, nil
	case "4", "smart_hedging", "smart":
		return SmartHedging, nil
	default:
		return 0, fmt.Errorf("unknown trade mode %q", s)
	}
}

// SymbolConfig is the typed per-symbol configuration
type SymbolConfig struct {
	Commission    float64 `json:"commission" yaml:"commission"`           // per lot
	TP1Percent    float64 `json:"tp1" yaml:"tp1"`                         // % of volume closed at TP1
	TP2Percent    float64 `json:"tp2" yaml:"tp2"`                         // % of volume closed at TP2
	R1            float64 `json:"r1" yaml:"r1"`                           // % of balance
	R2            float64 `json:"r2" yaml:"r2"`                           // % of balance
	R3            float64 `json:"r3" yaml:"r3"`                           // % of balance
	LossThreshold float64 `json:"loss_threshold" yaml:"loss_threshold"`   // % of balance, 0 disables
	Martingale    float64 `json:"martingale" yaml:"martingale"`           // reverse volume multiplier
	StaticLot     float64 `json:"static_lot" yaml:"static_lot"`
	RiskPercent   float64 `json:"risk" yaml:"risk"`                       // % of equity for manual sizing
	Distance      float64 `json:"distance" yaml:"distance"`               // price distance for manual sizing
	BuyPrice      float64 `json:"buy_price" yaml:"buy_price"`             // fixed buy trigger, 0 disables
	SellPrice     float64 `json:"sell_price" yaml:"sell_price"`           // fixed sell trigger, 0 disables
	SLAdjust      float64 `json:"sl_adjust" yaml:"sl_adjust"`             // SL injection distance, 0 disables
	UsePivot      bool    `json:"use_pivot" yaml:"use_pivot"`
	AllowNewTrade bool    `json:"allow_new_trade" yaml:"allow_new_trade"` // close existing before trigger opens

	// engine-maintained latches, not user settings
	OpenPositionFlag  bool `json:"open_position_flag" yaml:"-"`
	BuyTradeExecuted  bool `json:"buy_trade_executed" yaml:"-"`
	SellTradeExecuted bool `json:"sell_trade_executed" yaml:"-"`
}

// DefaultSymbolConfig returns the declared defaults
func DefaultSymbolConfig() SymbolConfig {
	return SymbolConfig{
		Commission: 10,
		TP1Percent: 50,
		TP2Percent: 50,
		R1:         12,
		R2:         13,
		R3:         15,
		Martingale: 1,
		StaticLot:  0.01,
	}
}

// Patch is a partial update to a SymbolConfig. Nil fields are left alone.
type Patch struct {
	Commission    *float64 `json:"commission,omitempty"`
	TP1Percent    *float64 `json:"tp1,omitempty"`
	TP2Percent    *float64 `json:"tp2,omitempty"`
	R1            *float64 `json:"r1,omitempty"`
	R2            *float64 `json:"r2,omitempty"`
	R3            *float64 `json:"r3,omitempty"`
	LossThreshold *float64 `json:"loss_threshold,omitempty"`
	Martingale    *float64 `json:"martingale,omitempty"`
	StaticLot     *float64 `json:"static_lot,omitempty"`
	RiskPercent   *float64 `json:"risk,omitempty"`
	Distance      *float64 `json:"distance,omitempty"`
	BuyPrice      *float64 `json:"buy_price,omitempty"`
	SellPrice     *float64 `json:"sell_price,omitempty"`
	SLAdjust      *float64 `json:"sl_adjust,omitempty"`
	UsePivot      *bool    `json:"use_pivot,omitempty"`
	AllowNewTrade *bool    `json:"allow_new_trade,omitempty"`
}

// Validate rejects values the engine cannot act on
func (p Patch) Validate() error {
	nonNeg := map[string]*float64{
		"commission": p.Commission, "tp1": p.TP1Percent, "tp2": p.TP2Percent,
		"r1": p.R1, "r2": p.R2, "r3": p.R3, "loss_threshold": p.LossThreshold,
		"static_lot": p.StaticLot, "risk": p.RiskPercent, "distance": p.Distance,
		"buy_price": p.BuyPrice, "sell_price": p.SellPrice, "sl_adjust": p.SLAdjust,
	}
	for name, v := range nonNeg {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, v := range map[string]*float64{"tp1": p.TP1Percent, "tp2": p.TP2Percent} {
		if v != nil && *v > 100 {
			return fmt.Errorf("%s must be at most 100", name)
		}
	}
	if p.Martingale != nil && *p.Martingale <= 0 {
		return fmt.Errorf("martingale must be positive")
	}
	return nil
}

func (p Patch) apply(c *SymbolConfig) {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&c.Commission, p.Commission)
	set(&c.TP1Percent, p.TP1Percent)
	set(&c.TP2Percent, p.TP2Percent)
	set(&c.R1, p.R1)
	set(&c.R2, p.R2)
	set(&c.R3, p.R3)
	set(&c.LossThreshold, p.LossThreshold)
	set(&c.Martingale, p.Martingale)
	set(&c.StaticLot, p.StaticLot)
	set(&c.RiskPercent, p.RiskPercent)
	set(&c.Distance, p.Distance)
	set(&c.BuyPrice, p.BuyPrice)
	set(&c.SellPrice, p.SellPrice)
	set(&c.SLAdjust, p.SLAdjust)
	if p.UsePivot != nil {
		c.UsePivot = *p.UsePivot
	}
	if p.AllowNewTrade != nil {
		c.AllowNewTrade = *p.AllowNewTrade
	}
}

// Registry owns every SymbolConfig. Entries are created on demand from the
// defaults. Writes happen on the driver goroutine; the API only reads.
type Registry struct {
	mu       sync.RWMutex
	defaults SymbolConfig
	symbols  map[string]*SymbolConfig
}

// NewRegistry creates a registry seeded with per-symbol overrides
func NewRegistry(defaults SymbolConfig, overrides map[string]SymbolConfig) *Registry {
	r := &Registry{
		defaults: defaults,
		symbols:  make(map[string]*SymbolConfig),
	}
	for sym, cfg := range overrides {
		c := cfg
		r.symbols[sym] = &c
	}
	return r
}

// Get returns a copy of the config for symbol, creating it from defaults if missing
func (r *Registry) Get(symbol string) SymbolConfig {
	r.mu.RLock()
	c, ok := r.symbols[symbol]
	r.mu.RUnlock()
	if ok {
		return *c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.entryLocked(symbol)
}

func (r *Registry) entryLocked(symbol string) *SymbolConfig {
	if c, ok := r.symbols[symbol]; ok {
		return c
	}
	c := new(SymbolConfig)
	*c = r.defaults
	r.symbols[symbol] = c
	return c
}

// Update applies a patch. Any settings change re-arms both trigger latches.
func (r *Registry) Update(symbol string, p Patch) (SymbolConfig, error) {
	if err := p.Validate(); err != nil {
		return SymbolConfig{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.entryLocked(symbol)
	p.apply(c)
	c.BuyTradeExecuted = false
	c.SellTradeExecuted = false
	return *c, nil
}

// Mutate runs fn against symbol's config under the write lock
func (r *Registry) Mutate(symbol string, fn func(c *SymbolConfig)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.entryLocked(symbol))
}

// Snapshot copies every config for readers outside the driver goroutine
func (r *Registry) Snapshot() map[string]SymbolConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]SymbolConfig, len(r.symbols))
	for sym, c := range r.symbols {
		out[sym] = *c
	}
	return out
}

// Symbols lists the configured symbols in sorted order
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.symbols))
	for sym := range r.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Runtime is the engine-wide state passed into every cycle
type Runtime struct {
	Mode              TradeMode `json:"mode"`
	AutoTrading       bool      `json:"auto_trading"`
	NewsManagement    bool      `json:"news_management"`
	UseTotalProfit    bool      `json:"use_total_profit"`
	DailyProfitTarget float64   `json:"daily_profit_target"` // % of previous-day balance
	TradingStopped    bool      `json:"trading_stopped"`
	PivotHigh         float64   `json:"pivot_high"`
	PivotLow          float64   `json:"pivot_low"`
}
