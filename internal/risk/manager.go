package risk

import (
	"trade-engine/internal/broker"
	"trade-engine/internal/settings"

	"github.com/rs/zerolog"
)

// Config holds lot sizing parameters
type Config struct {
	LotBaseUnit  float64 // balance unit a signal's lot base is quoted per
	MinSignalLot float64 // floor for signal-driven lots
}

// DefaultConfig sizes signals per 1000 of balance with a 0.02 lot floor
func DefaultConfig() Config {
	return Config{LotBaseUnit: 1000, MinSignalLot: 0.02}
}

// RiskManager handles position sizing and the loss guard
type RiskManager struct {
	config Config
	logger zerolog.Logger
}

// NewRiskManager creates a new risk manager
func NewRiskManager(config Config, logger zerolog.Logger) *RiskManager {
	if config.LotBaseUnit <= 0 {
		config.LotBaseUnit = 1000
	}
	return &RiskManager{
		config: config,
		logger: logger.With().Str("component", "RiskManager").Logger(),
	}
}

// SignalLot converts a signal's lot base into lots for the current balance:
// round(balance/unit*lotBase, 2), never below the minimum.
func (rm *RiskManager) SignalLot(balance, lotBase float64) float64 {
	lot := broker.RoundVolume(balance / rm.config.LotBaseUnit * lotBase)
	if lot < rm.config.MinSignalLot {
		lot = rm.config.MinSignalLot
	}
	return lot
}

// ManualLot sizes a manual trade. With risk, distance and contract size all
// set it risks risk% of equity over distance; otherwise the static lot is
// used. The result is scaled by multiplier and floored at the symbol minimum.
func (rm *RiskManager) ManualLot(equity float64, cfg settings.SymbolConfig, meta broker.SymbolMeta, multiplier float64) float64 {
	var lot float64
	if cfg.RiskPercent > 0 && cfg.Distance > 0 && meta.ContractSize > 0 {
		lot = equity * cfg.RiskPercent / 100 / (cfg.Distance * meta.ContractSize)
	} else {
		lot = cfg.StaticLot
	}
	if multiplier > 0 {
		lot *= multiplier
	}
	lot = broker.RoundVolume(lot)
	if lot < meta.MinVolume {
		rm.logger.Debug().Str("symbol", meta.Symbol).Float64("lot", lot).Float64("min", meta.MinVolume).Msg("Lot raised to symbol minimum")
		lot = meta.MinVolume
	}
	return lot
}

// ReverseLot is the martingale volume for a reversal
func (rm *RiskManager) ReverseLot(volume, multiplier float64, meta broker.SymbolMeta) float64 {
	if multiplier <= 0 {
		multiplier = 1
	}
	lot := broker.RoundVolume(volume * multiplier)
	if lot < meta.MinVolume {
		lot = meta.MinVolume
	}
	return lot
}

// LossBreached reports whether a losing position has hit its loss threshold.
// The threshold halves once TP1 has been taken. A zero threshold disables it.
func LossBreached(profit, balance, threshold float64, tp1Applied bool) (bool, float64) {
	if threshold <= 0 || profit >= 0 || balance <= 0 {
		return false, 0
	}
	lossPct := -profit / balance * 100
	if tp1Applied {
		threshold /= 2
	}
	return lossPct >= threshold, lossPct
}
