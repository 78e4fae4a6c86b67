package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"trade-engine/internal/auth"
	"trade-engine/internal/broker"
	"trade-engine/internal/engine"
	"trade-engine/internal/order"
	"trade-engine/internal/settings"
	"trade-engine/internal/signal"

	"github.com/gin-gonic/gin"
)

// ==================== READS ====================

func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.ctrl.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	positions := s.ctrl.Status().Positions
	if sym := strings.ToUpper(c.Query("symbol")); sym != "" {
		filtered := positions[:0:0]
		for _, p := range positions {
			if p.Symbol == sym {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}
	successResponse(c, positions)
}

func (s *Server) handleOrders(c *gin.Context) {
	successResponse(c, s.ctrl.Status().Orders)
}

func (s *Server) handleLedger(c *gin.Context) {
	st := s.ctrl.Status()
	successResponse(c, gin.H{
		"ledger":            st.Ledger,
		"total_real_profit": st.TotalRealProfit,
	})
}

func (s *Server) handleRuntime(c *gin.Context) {
	rt := s.ctrl.Runtime()
	successResponse(c, gin.H{
		"mode":                rt.Mode.String(),
		"auto_trading":        rt.AutoTrading,
		"news_management":     rt.NewsManagement,
		"use_total_profit":    rt.UseTotalProfit,
		"daily_profit_target": rt.DailyProfitTarget,
		"trading_stopped":     rt.TradingStopped,
		"pivot_high":          rt.PivotHigh,
		"pivot_low":           rt.PivotLow,
	})
}

func (s *Server) handleGetSettings(c *gin.Context) {
	successResponse(c, s.settings.Snapshot())
}

func (s *Server) handleGetSymbolSettings(c *gin.Context) {
	successResponse(c, s.settings.Get(strings.ToUpper(c.Param("symbol"))))
}

// ==================== SIGNALS ====================

// signalRequest accepts the same envelope the polled feed serves
type signalRequest struct {
	Event string `json:"event" binding:"required"`
}

func (s *Server) handlePushSignal(c *gin.Context) {
	if s.sink == nil {
		errorResponse(c, http.StatusServiceUnavailable, "signal webhook is not enabled")
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	// reject what the router would drop anyway, so the provider sees it
	if _, err := signal.Parse(req.Event); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sink.Push(req.Event); err != nil {
		if errors.Is(err, signal.ErrQueueFull) {
			errorResponse(c, http.StatusTooManyRequests, err.Error())
			return
		}
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info().Str("payload", req.Event).Str("operator", auth.GetUsername(c)).Msg("Signal queued")
	c.JSON(http.StatusAccepted, gin.H{"success": true, "queued": req.Event})
}

// ==================== COMMANDS ====================

func (s *Server) handleCommand(c *gin.Context) {
	var cmd engine.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	cmd.Symbol = strings.ToUpper(cmd.Symbol)
	s.submit(c, cmd)
}

func (s *Server) handleUpdateSettings(c *gin.Context) {
	var patch settings.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, engine.Command{Kind: engine.CmdUpdateSettings, Symbol: strings.ToUpper(c.Param("symbol")), Patch: &patch})
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req struct {
		Mode string `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, engine.Command{Kind: engine.CmdSetMode, Mode: req.Mode})
}

func (s *Server) handleSetDailyTarget(c *gin.Context) {
	var req struct {
		Percent *float64 `json:"percent" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, engine.Command{Kind: engine.CmdSetDailyTarget, Value: *req.Percent})
}

var toggles = map[string]engine.CommandKind{
	"auto-trading":     engine.CmdSetAutoTrading,
	"news-management":  engine.CmdSetNewsManagement,
	"use-total-profit": engine.CmdSetUseTotalProfit,
}

func (s *Server) handleToggle(c *gin.Context) {
	kind, ok := toggles[c.Param("toggle")]
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown runtime toggle "+c.Param("toggle"))
		return
	}
	var req struct {
		Enabled *bool `json:"enabled" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, engine.Command{Kind: kind, Enabled: *req.Enabled})
}

func (s *Server) handleManualTrade(c *gin.Context) {
	var req struct {
		Direction string `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	dir, err := broker.ParseDirection(req.Direction)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	s.submit(c, engine.Command{Kind: engine.CmdManualTrade, Symbol: strings.ToUpper(c.Param("symbol")), Direction: dir})
}

func (s *Server) handleReverseSymbol(c *gin.Context) {
	s.submit(c, engine.Command{Kind: engine.CmdReverseSymbol, Symbol: strings.ToUpper(c.Param("symbol"))})
}

func (s *Server) handleResetLedger(c *gin.Context) {
	s.submit(c, engine.Command{Kind: engine.CmdResetLedger, Symbol: strings.ToUpper(c.Param("symbol"))})
}

// ticketCommand builds a handler for a command addressed by ticket
func (s *Server) ticketCommand(kind engine.CommandKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		ticket, err := strconv.ParseInt(c.Param("ticket"), 10, 64)
		if err != nil || ticket <= 0 {
			errorResponse(c, http.StatusBadRequest, "invalid ticket")
			return
		}
		s.submit(c, engine.Command{Kind: kind, Ticket: ticket})
	}
}

// simple builds a handler for a command without arguments
func (s *Server) simple(kind engine.CommandKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.submit(c, engine.Command{Kind: kind})
	}
}

// submit hands cmd to the driver and waits for it to be applied
func (s *Server) submit(c *gin.Context, cmd engine.Command) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.CommandTimeout)
	defer cancel()

	log := s.logger.With().Str("command", string(cmd.Kind)).Str("operator", auth.GetUsername(c)).Logger()
	err := s.ctrl.Submit(ctx, cmd)
	if errors.Is(err, order.ErrRejected) {
		log.Warn().Err(err).Msg("Command accepted, broker retry pending")
		c.JSON(http.StatusAccepted, gin.H{"success": true, "pending": true, "message": err.Error()})
		return
	}
	if err != nil {
		status := commandStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("Command failed")
		} else {
			log.Warn().Err(err).Msg("Command refused")
		}
		errorResponse(c, status, err.Error())
		return
	}
	log.Info().Msg("Command applied")
	successResponse(c, gin.H{"kind": cmd.Kind})
}

// commandStatus maps an engine error onto an HTTP status
func commandStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNoPosition), errors.Is(err, broker.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, order.ErrGaveUp):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
