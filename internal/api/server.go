package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"trade-engine/internal/auth"
	"trade-engine/internal/engine"
	"trade-engine/internal/events"
	"trade-engine/internal/logging"
	"trade-engine/internal/metrics"
	"trade-engine/internal/settings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Controller is the engine surface the API drives. Reads come from the
// engine's published snapshots; every write is a command applied by the
// driver between cycles.
type Controller interface {
	Status() engine.Status
	Runtime() settings.Runtime
	Submit(ctx context.Context, cmd engine.Command) error
}

// SettingsReader exposes the per-symbol configuration
type SettingsReader interface {
	Snapshot() map[string]settings.SymbolConfig
	Get(symbol string) settings.SymbolConfig
}

// SignalSink accepts signals pushed by a provider webhook
type SignalSink interface {
	Push(raw string) error
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	ctrl        Controller
	settings    SettingsReader
	sink        SignalSink
	eventBus    *events.EventBus
	hub         *WSHub
	config      ServerConfig
	authService *auth.Service
	authEnabled bool
	logger      zerolog.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CommandTimeout time.Duration // how long a request waits for the driver to apply a command
}

// NewServer creates a new API server. authService and sink may be nil.
func NewServer(
	config ServerConfig,
	ctrl Controller,
	reg SettingsReader,
	sink SignalSink,
	eventBus *events.EventBus,
	authService *auth.Service,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = 15 * time.Second
	}

	router := gin.New()
	router.Use(logging.GinMiddleware(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Webhook-Token"}
	corsConfig.ExposeHeaders = []string{"Content-Length", "X-Trace-ID"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		ctrl:        ctrl,
		settings:    reg,
		sink:        sink,
		eventBus:    eventBus,
		hub:         NewWSHub(logger),
		config:      config,
		authService: authService,
		authEnabled: authService != nil,
		logger:      logger.With().Str("component", "API").Logger(),
	}
	s.hub.Attach(eventBus)
	s.setupRoutes()
	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if s.authEnabled {
		authHandlers := auth.NewHandlers(s.authService)
		s.router.POST("/api/auth/login", authHandlers.Login)
		s.router.GET("/api/auth/me", auth.Middleware(s.authService.GetJWTManager()), authHandlers.Me)
	}
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	// Signal providers push here with either an operator token or the webhook secret
	signals := s.router.Group("/api/signals")
	if s.authEnabled {
		signals.Use(auth.WebhookMiddleware(s.authService.GetJWTManager(), s.authService.WebhookToken()))
	}
	signals.POST("", s.handlePushSignal)

	api := s.router.Group("/api")
	if s.authEnabled {
		api.Use(auth.Middleware(s.authService.GetJWTManager()))
	}
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handlePositions)
		api.GET("/orders", s.handleOrders)
		api.GET("/ledger", s.handleLedger)
		api.GET("/runtime", s.handleRuntime)
		api.GET("/settings", s.handleGetSettings)
		api.GET("/settings/:symbol", s.handleGetSymbolSettings)
		api.GET("/ws", s.handleWebSocket)
	}

	ops := api.Group("")
	if s.authEnabled {
		ops.Use(auth.RequireOperator())
	}
	{
		ops.POST("/commands", s.handleCommand)

		ops.PUT("/settings/:symbol", s.handleUpdateSettings)
		ops.PUT("/runtime/mode", s.handleSetMode)
		ops.PUT("/runtime/daily-target", s.handleSetDailyTarget)
		ops.PUT("/runtime/toggles/:toggle", s.handleToggle)
		ops.POST("/runtime/resume", s.simple(engine.CmdResumeTrading))

		ops.POST("/symbols/:symbol/trade", s.handleManualTrade)
		ops.POST("/symbols/:symbol/reverse", s.handleReverseSymbol)
		ops.DELETE("/symbols/:symbol/ledger", s.handleResetLedger)

		ops.POST("/positions/:ticket/close", s.ticketCommand(engine.CmdClosePosition))
		ops.POST("/positions/:ticket/reverse", s.ticketCommand(engine.CmdReverseTicket))
		ops.POST("/positions/:ticket/tp1", s.ticketCommand(engine.CmdTP1))
		ops.POST("/positions/:ticket/tp2", s.ticketCommand(engine.CmdTP2))
		ops.POST("/positions/:ticket/break-even", s.ticketCommand(engine.CmdBreakEven))
		ops.POST("/positions/close-profitable", s.simple(engine.CmdCloseInProfit))
		ops.POST("/positions/close-losing", s.simple(engine.CmdCloseInLoss))
		ops.POST("/positions/close-all", s.simple(engine.CmdCloseAll))

		ops.DELETE("/orders", s.simple(engine.CmdClearOrders))
		ops.DELETE("/orders/:ticket", s.ticketCommand(engine.CmdCancelOrder))
		ops.DELETE("/ledger", s.simple(engine.CmdResetLedger))
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  orDuration(s.config.ReadTimeout, 15*time.Second),
		WriteTimeout: orDuration(s.config.WriteTimeout, 15*time.Second),
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run(ctx)
	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth reports whether the driver is publishing fresh snapshots
func (s *Server) handleHealth(c *gin.Context) {
	st := s.ctrl.Status()
	if st.UpdatedAt.IsZero() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "healthy",
		"last_cycle":      st.UpdatedAt.Format(time.RFC3339),
		"trading_stopped": st.Runtime.TradingStopped,
		"ws_clients":      s.hub.GetClientCount(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
