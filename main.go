package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"trade-engine/config"
	"trade-engine/internal/api"
	"trade-engine/internal/auth"
	"trade-engine/internal/broker"
	"trade-engine/internal/circuit"
	"trade-engine/internal/database"
	"trade-engine/internal/engine"
	"trade-engine/internal/events"
	"trade-engine/internal/logging"
	"trade-engine/internal/news"
	"trade-engine/internal/notification"
	"trade-engine/internal/order"
	"trade-engine/internal/risk"
	"trade-engine/internal/settings"
	sig "trade-engine/internal/signal"
	"trade-engine/internal/store"
	"trade-engine/internal/vault"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("trade-engine: %v", err)
	}
}

func run() error {
	configFile := flag.String("config", "config.json", "path to the JSON config file")
	sampleFile := flag.String("sample-config", "", "write a sample config to this file and exit")
	flag.Parse()

	if *sampleFile != "" {
		if err := config.GenerateSampleConfig(*sampleFile); err != nil {
			return err
		}
		fmt.Printf("Sample config written to %s\n", *sampleFile)
		return nil
	}

	cfg, err := config.LoadFrom(*configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.New(cfg.LoggingConfig)
	defer logger.Close()
	mainLog := logger.Component("main")
	mainLog.Info().Str("broker", cfg.BrokerConfig.Kind).Str("mode", cfg.EngineConfig.Mode).Msg("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eventBus := events.NewEventBus()

	notifyManager := notification.NewManager(cfg.NotificationConfig.Enabled, logger.Logger)
	if cfg.NotificationConfig.Telegram.Enabled {
		notifyManager.AddNotifier(notification.NewTelegramNotifier(cfg.NotificationConfig.Telegram))
		mainLog.Info().Msg("Telegram notifications enabled")
	}
	if cfg.NotificationConfig.Discord.Enabled {
		notifyManager.AddNotifier(notification.NewDiscordNotifier(cfg.NotificationConfig.Discord))
		mainLog.Info().Msg("Discord notifications enabled")
	}
	notifyManager.Subscribe(eventBus)

	gw, err := newGateway(ctx, cfg, mainLog)
	if err != nil {
		return err
	}

	balances, closeRedis, err := newBalanceStore(cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	var journal *database.Journal
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Name,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
			MaxConns: int32(cfg.DatabaseConfig.MaxConns),
		}, logger.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		journal = database.NewJournal(db.Pool, logger.Logger)
		journal.Subscribe(eventBus)
		journal.Start(ctx)
		defer journal.Close()
	}

	registry := settings.NewRegistry(cfg.SymbolDefaults, cfg.Symbols)

	executor := order.NewManager(gw, order.Policy{
		MaxAttempts: cfg.RetryConfig.MaxAttempts,
		Delay:       cfg.RetryConfig.Delay,
		VerifyDelay: cfg.RetryConfig.VerifyDelay,
	}, eventBus, logger.Logger)

	riskManager := risk.NewRiskManager(risk.Config{
		LotBaseUnit:  cfg.EngineConfig.LotBaseUnit,
		MinSignalLot: cfg.EngineConfig.MinSignalLot,
	}, logger.Logger)

	target := circuit.NewDailyTarget(circuit.Config{
		Enabled:       true,
		TargetPercent: cfg.EngineConfig.DailyProfitTarget,
	}, 0)

	// Webhook pushes are served before the polled feed
	queue := sig.NewQueueSource(cfg.SignalConfig.QueueSize)
	sources := sig.MultiSource{queue}
	if cfg.SignalConfig.URL != "" {
		sources = append(sources, sig.NewHTTPSource(cfg.SignalConfig.URL, time.Duration(cfg.SignalConfig.Timeout)*time.Second))
	}

	loc, err := time.LoadLocation(cfg.NewsConfig.Timezone)
	if err != nil {
		return fmt.Errorf("news.timezone: %w", err)
	}
	calendar, err := newCalendar(ctx, cfg.NewsConfig, loc, logger.Logger)
	if err != nil {
		return err
	}
	quiet, err := quietHours(cfg.NewsConfig)
	if err != nil {
		return err
	}

	var pivot engine.PivotSource
	if cfg.PivotConfig.URL != "" {
		pivot = engine.NewHTTPPivotSource(cfg.PivotConfig.URL, 5*time.Second)
	}

	eng, err := engine.New(engine.Deps{
		Gateway:  gw,
		Executor: executor,
		Settings: registry,
		Risk:     riskManager,
		Target:   target,
		Source:   sources,
		Calendar: calendar,
		Pivot:    pivot,
		Balances: balances,
		Bus:      eventBus,
	}, settings.Runtime{
		Mode:              cfg.TradeMode(),
		AutoTrading:       cfg.EngineConfig.AutoTrading,
		NewsManagement:    cfg.EngineConfig.NewsManagement,
		UseTotalProfit:    cfg.EngineConfig.UseTotalProfit,
		DailyProfitTarget: cfg.EngineConfig.DailyProfitTarget,
	}, engine.Options{
		CycleInterval:    cfg.EngineConfig.CycleInterval,
		Symbols:          cfg.EngineConfig.Symbols,
		TriggerTolerance: cfg.EngineConfig.TriggerTolerance,
		Quiet:            quiet,
		Location:         loc,
		PivotInterval:    cfg.PivotConfig.Interval,
	}, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		var authService *auth.Service
		if cfg.AuthConfig.Enabled {
			authCfg := auth.DefaultConfig()
			authCfg.JWTSecret = cfg.AuthConfig.JWTSecret
			authCfg.Username = cfg.AuthConfig.Username
			authCfg.PasswordHash = cfg.AuthConfig.PasswordHash
			authCfg.WebhookToken = cfg.AuthConfig.WebhookToken
			if cfg.AuthConfig.AccessTokenDuration > 0 {
				authCfg.AccessTokenDuration = cfg.AuthConfig.AccessTokenDuration
			}
			authService, err = auth.NewService(authCfg, logger.Logger)
			if err != nil {
				return fmt.Errorf("failed to initialize auth: %w", err)
			}
		}

		server = api.NewServer(api.ServerConfig{
			Port:           cfg.ServerConfig.Port,
			Host:           cfg.ServerConfig.Host,
			ProductionMode: true,
			AllowedOrigins: splitOrigins(cfg.ServerConfig.AllowedOrigins),
			ReadTimeout:    time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		}, eng, registry, queue, eventBus, authService, logger.Logger)

		go func() {
			if err := server.Start(ctx); err != nil {
				mainLog.Error().Err(err).Msg("HTTP server stopped")
				stop()
			}
		}()
	}

	mainLog.Info().Msg("Starting trade engine")
	runErr := eng.Run(ctx)
	if errors.Is(runErr, engine.ErrAlreadyRunning) {
		return runErr
	}

	mainLog.Info().Msg("Shutting down...")
	var errs error
	if runErr != nil {
		errs = multierr.Append(errs, fmt.Errorf("engine shutdown: %w", runErr))
	}
	if server != nil {
		timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if errs != nil {
		mainLog.Warn().Err(errs).Msg("Shutdown finished with errors")
	} else {
		mainLog.Info().Msg("Shutdown complete")
	}
	return nil
}

// newGateway builds the broker gateway. Bridge credentials come from Vault
// when it is enabled, otherwise from the config.
func newGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) (broker.Gateway, error) {
	if cfg.BrokerConfig.Kind == "paper" {
		pb, err := broker.NewPaperBroker(cfg.BrokerConfig.PaperBalance, cfg.BrokerConfig.PaperNodeID)
		if err != nil {
			return nil, fmt.Errorf("failed to create paper broker: %w", err)
		}
		for _, symbol := range watchedSymbols(cfg) {
			pb.AddSymbol(broker.SymbolMeta{Symbol: symbol, Digits: 5, MinVolume: 0.01, ContractSize: 100000})
		}
		log.Info().Float64("balance", cfg.BrokerConfig.PaperBalance).Msg("Paper broker initialized")
		return pb, nil
	}

	baseURL, apiKey := cfg.BrokerConfig.BridgeURL, cfg.BrokerConfig.APIKey
	if cfg.VaultConfig.Enabled {
		vc, err := vault.NewClient(cfg.VaultConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		creds, err := vc.GetCredentials(ctx, cfg.BrokerConfig.Account)
		if err != nil {
			return nil, fmt.Errorf("failed to read bridge credentials: %w", err)
		}
		if creds.BaseURL != "" {
			baseURL = creds.BaseURL
		}
		apiKey = creds.APIKey
		log.Info().Str("account", cfg.BrokerConfig.Account).Msg("Bridge credentials loaded from Vault")
	}
	log.Info().Str("url", baseURL).Msg("Bridge broker initialized")
	return broker.NewBridgeBroker(baseURL, apiKey, time.Duration(cfg.BrokerConfig.Timeout)*time.Second), nil
}

// newBalanceStore returns the previous-day balance store and a cleanup func
func newBalanceStore(cfg *config.Config, logger zerolog.Logger) (store.BalanceStore, func(), error) {
	if cfg.BalanceConfig.Store == "file" {
		return store.NewFileStore(cfg.BalanceConfig.File), func() {}, nil
	}

	var client *redis.Client
	if cfg.RedisConfig.Enabled {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}
	account := cfg.BrokerConfig.Account
	if account == "" {
		account = cfg.BrokerConfig.Kind
	}
	cleanup := func() {
		if client != nil {
			client.Close()
		}
	}
	return store.NewRedisBalanceStore(client, account, logger), cleanup, nil
}

func newCalendar(ctx context.Context, cfg config.NewsConfig, loc *time.Location, logger zerolog.Logger) (*news.Calendar, error) {
	filter := news.DefaultFilter()
	if cfg.Impact != "" {
		filter.Impact = cfg.Impact
	}
	if cfg.Currency != "" {
		filter.Currencies = splitOrigins(cfg.Currency)
	}
	calendar := news.NewCalendar(filter, time.Duration(cfg.WindowMinutes)*time.Minute, loc, logger)
	if cfg.CalendarFile == "" {
		return calendar, nil
	}
	if err := calendar.LoadFile(cfg.CalendarFile); err != nil {
		return nil, fmt.Errorf("failed to load news calendar: %w", err)
	}
	if err := calendar.Watch(ctx, cfg.CalendarFile); err != nil {
		return nil, fmt.Errorf("failed to watch news calendar: %w", err)
	}
	return calendar, nil
}

func quietHours(cfg config.NewsConfig) (news.QuietHours, error) {
	q := news.DefaultQuietHours()
	if cfg.QuietStart != "" {
		start, err := news.ParseClock(cfg.QuietStart)
		if err != nil {
			return q, fmt.Errorf("news.quiet_start: %w", err)
		}
		q.Start = start
	}
	if cfg.QuietEnd != "" {
		end, err := news.ParseClock(cfg.QuietEnd)
		if err != nil {
			return q, fmt.Errorf("news.quiet_end: %w", err)
		}
		q.End = end
	}
	return q, nil
}

func watchedSymbols(cfg *config.Config) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range cfg.EngineConfig.Symbols {
		add(s)
	}
	for s := range cfg.Symbols {
		add(s)
	}
	return out
}

// splitOrigins splits a comma-separated list, dropping blanks
func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

