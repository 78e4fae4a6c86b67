package engine

import (
	"time"

	"trade-engine/internal/broker"
	"trade-engine/internal/settings"
)

// PositionView is one live position with the levels the ladder works against
type PositionView struct {
	broker.Position
	RealProfit    float64 `json:"real_profit"`
	RealProfitPct float64 `json:"real_profit_pct"`
	TP1Level      float64 `json:"tp1_level"`
	TP2Level      float64 `json:"tp2_level"`
	FullCloseAt   float64 `json:"full_close_level"`
	RealSL        float64 `json:"real_sl"` // price at which the loss threshold is hit, 0 without one
	TP1Applied    bool    `json:"tp1_applied"`
	TP2Applied    bool    `json:"tp2_applied"`
}

// Status is the read model served to the API, rebuilt at the end of every cycle
type Status struct {
	UpdatedAt       time.Time          `json:"updated_at"`
	Account         broker.Account     `json:"account"`
	Runtime         settings.Runtime   `json:"runtime"`
	Session         Session            `json:"session"`
	Positions       []PositionView     `json:"positions"`
	Orders          []broker.Order     `json:"orders"`
	Ledger          map[string]float64 `json:"ledger"`
	TotalRealProfit float64            `json:"total_real_profit"`
	PrevBalance     float64            `json:"prev_balance"`
	DailyTarget     float64            `json:"daily_target"`
	RequiredProfit  float64            `json:"required_profit"`
	NextRollover    time.Time          `json:"next_rollover"`
	PendingRetries  int                `json:"pending_retries"`
	ClosingAll      bool               `json:"closing_all"`
}

// Status returns the last published read model
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) refreshStatus(snap *broker.Snapshot, rt settings.Runtime, sess Session) {
	st := Status{
		UpdatedAt:      snap.TakenAt,
		Account:        snap.Account,
		Runtime:        rt,
		Session:        sess,
		Orders:         snap.Orders,
		Ledger:         e.tracker.Ledger(),
		PrevBalance:    e.target.PrevBalance(),
		DailyTarget:    e.target.Target(),
		RequiredProfit: e.target.RequiredProfit(snap.Account.Equity),
		NextRollover:   e.nextRollover,
		PendingRetries: e.exec.Pending(),
		ClosingAll:     e.exec.ClosingAll(),
	}

	statuses := e.tracker.TpStatuses()
	st.Positions = make([]PositionView, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		v := ViewPosition(p, e.settings.Get(p.Symbol), snap.Account.Balance, e.tracker.Realized(p.Symbol))
		v.TP1Applied = statuses[p.Ticket].TP1Applied
		v.TP2Applied = statuses[p.Ticket].TP2Applied
		st.Positions = append(st.Positions, v)
		st.TotalRealProfit += v.RealProfit
	}

	e.statusMu.Lock()
	e.status = st
	e.statusMu.Unlock()
}

// ViewPosition computes the per-position figures. Real profit is the
// position's profit net of commission plus the symbol's ledger.
func ViewPosition(p broker.Position, cfg settings.SymbolConfig, balance, realized float64) PositionView {
	fee := p.Volume * cfg.Commission
	v := PositionView{
		Position:    p,
		RealProfit:  realized + p.Profit - fee,
		TP1Level:    cfg.R1*balance/100 + fee,
		TP2Level:    cfg.R2*balance/100 + fee,
		FullCloseAt: cfg.R3*balance/100 + fee,
	}
	if balance > 0 {
		v.RealProfitPct = v.RealProfit / balance * 100
	}
	if cfg.LossThreshold > 0 {
		offset := balance * cfg.LossThreshold / 100
		if p.Direction == broker.Buy {
			v.RealSL = p.OpenPrice - offset
		} else {
			v.RealSL = p.OpenPrice + offset
		}
	}
	return v
}
