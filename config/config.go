package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"trade-engine/internal/logging"
	"trade-engine/internal/notification"
	"trade-engine/internal/settings"

	"github.com/joho/godotenv"
)

type Config struct {
	BrokerConfig       BrokerConfig                     `json:"broker"`
	SignalConfig       SignalConfig                     `json:"signal"`
	EngineConfig       EngineConfig                     `json:"engine"`
	RetryConfig        RetryConfig                      `json:"retry"`
	SymbolDefaults     settings.SymbolConfig            `json:"symbol_defaults"`
	Symbols            map[string]settings.SymbolConfig `json:"symbols"`
	NewsConfig         NewsConfig                       `json:"news"`
	PivotConfig        PivotConfig                      `json:"pivot"`
	BalanceConfig      BalanceConfig                    `json:"balance"`
	LoggingConfig      logging.Config                   `json:"logging"`
	NotificationConfig NotificationConfig               `json:"notification"`
	// Operator surface
	ServerConfig   ServerConfig   `json:"server"`
	AuthConfig     AuthConfig     `json:"auth"`
	VaultConfig    VaultConfig    `json:"vault"`
	RedisConfig    RedisConfig    `json:"redis"`
	DatabaseConfig DatabaseConfig `json:"database"`
}

// BrokerConfig selects the broker gateway
type BrokerConfig struct {
	Kind         string  `json:"kind"`          // "paper" or "bridge"
	BridgeURL    string  `json:"bridge_url"`    // MT5 REST sidecar
	APIKey       string  `json:"api_key"`       // sidecar key, usually from Vault
	Account      string  `json:"account"`       // broker login, keys balance and credentials
	Timeout      int     `json:"timeout"`       // Seconds
	PaperBalance float64 `json:"paper_balance"` // starting balance in paper mode
	PaperNodeID  int64   `json:"paper_node_id"` // snowflake node for paper tickets
}

// SignalConfig holds the signal feed configuration
type SignalConfig struct {
	URL       string `json:"url"`        // polled once per cycle, empty disables
	Timeout   int    `json:"timeout"`    // Seconds
	QueueSize int    `json:"queue_size"` // webhook buffer
}

// EngineConfig holds driver and runtime defaults
type EngineConfig struct {
	CycleInterval     time.Duration `json:"cycle_interval"`
	Mode              string        `json:"mode"` // single_direction, hedging, all_signals, smart_hedging
	AutoTrading       bool          `json:"auto_trading"`
	NewsManagement    bool          `json:"news_management"`
	UseTotalProfit    bool          `json:"use_total_profit"`
	DailyProfitTarget float64       `json:"daily_profit_target"` // % of previous-day balance
	LotBaseUnit       float64       `json:"lot_base_unit"`       // balance unit per signal lot base
	MinSignalLot      float64       `json:"min_signal_lot"`
	TriggerTolerance  float64       `json:"trigger_tolerance"` // points
	Symbols           []string      `json:"symbols"`           // watched for triggers and the ledger
}

// RetryConfig holds the order retry policy
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	Delay       time.Duration `json:"delay"`
	VerifyDelay time.Duration `json:"verify_delay"`
}

// NewsConfig holds calendar and quiet-hours configuration
type NewsConfig struct {
	CalendarFile  string `json:"calendar_file"` // YAML, hot reloaded
	WindowMinutes int    `json:"window_minutes"`
	Currency      string `json:"currency"`
	Impact        string `json:"impact"`
	Timezone      string `json:"timezone"`
	QuietStart    string `json:"quiet_start"` // HH:MM
	QuietEnd      string `json:"quiet_end"`   // HH:MM
}

// PivotConfig holds the optional pivot level feed
type PivotConfig struct {
	URL      string        `json:"url"`
	Interval time.Duration `json:"interval"`
}

// BalanceConfig selects where the previous-day balance is kept
type BalanceConfig struct {
	Store string `json:"store"` // "file" or "redis"
	File  string `json:"file"`
}

type NotificationConfig struct {
	Enabled  bool                        `json:"enabled"`
	Telegram notification.TelegramConfig `json:"telegram"`
	Discord  notification.DiscordConfig  `json:"discord"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`    // Seconds
	WriteTimeout    int    `json:"write_timeout"`   // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	Username            string        `json:"username"`
	PasswordHash        string        `json:"password_hash"` // bcrypt, see cmd/hashpass
	WebhookToken        string        `json:"webhook_token"` // shared secret for POST /api/signals
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path prefix for bridge credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for the balance store
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds the Postgres journal configuration
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		BrokerConfig: BrokerConfig{
			Kind:         "paper",
			Timeout:      10,
			PaperBalance: 10000,
			PaperNodeID:  1,
		},
		SignalConfig: SignalConfig{
			Timeout:   10,
			QueueSize: 100,
		},
		EngineConfig: EngineConfig{
			CycleInterval:     500 * time.Millisecond,
			Mode:              "single_direction",
			AutoTrading:       true,
			NewsManagement:    true,
			UseTotalProfit:    true,
			DailyProfitTarget: 10,
			LotBaseUnit:       1000,
			MinSignalLot:      0.02,
			TriggerTolerance:  40,
		},
		RetryConfig: RetryConfig{
			MaxAttempts: 5,
			Delay:       60 * time.Second,
			VerifyDelay: 5 * time.Second,
		},
		SymbolDefaults: settings.DefaultSymbolConfig(),
		NewsConfig: NewsConfig{
			WindowMinutes: 15,
			Currency:      "USD",
			Impact:        "High",
			Timezone:      "UTC",
			QuietStart:    "23:57",
			QuietEnd:      "02:05",
		},
		PivotConfig: PivotConfig{
			Interval: 5 * time.Second,
		},
		BalanceConfig: BalanceConfig{
			Store: "file",
			File:  "data/prev_day_balance.txt",
		},
		LoggingConfig: logging.Config{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			Username:            "admin",
			AccessTokenDuration: 12 * time.Hour,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "trade-engine/bridge",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "engine",
			Name:     "trade_engine",
			SSLMode:  "disable",
			MaxConns: 5,
		},
	}
}

// Load reads .env, then config.json over the defaults, then environment overrides
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit config file
func LoadFrom(filename string) (*Config, error) {
	// .env is optional; real environment variables win over it
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	cfg := Default()
	if err := loadFromFile(filename, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Broker
	cfg.BrokerConfig.Kind = getEnvOrDefault("BROKER_KIND", cfg.BrokerConfig.Kind)
	cfg.BrokerConfig.BridgeURL = getEnvOrDefault("BROKER_BRIDGE_URL", cfg.BrokerConfig.BridgeURL)
	cfg.BrokerConfig.APIKey = getEnvOrDefault("BROKER_API_KEY", cfg.BrokerConfig.APIKey)
	cfg.BrokerConfig.Account = getEnvOrDefault("BROKER_ACCOUNT", cfg.BrokerConfig.Account)
	cfg.BrokerConfig.Timeout = getEnvIntOrDefault("BROKER_TIMEOUT", cfg.BrokerConfig.Timeout)
	cfg.BrokerConfig.PaperBalance = getEnvFloatOrDefault("PAPER_BALANCE", cfg.BrokerConfig.PaperBalance)

	// Signal
	cfg.SignalConfig.URL = getEnvOrDefault("SIGNAL_URL", cfg.SignalConfig.URL)
	cfg.SignalConfig.Timeout = getEnvIntOrDefault("SIGNAL_TIMEOUT", cfg.SignalConfig.Timeout)

	// Engine
	cfg.EngineConfig.CycleInterval = getEnvDurationOrDefault("ENGINE_CYCLE_INTERVAL", cfg.EngineConfig.CycleInterval)
	cfg.EngineConfig.Mode = getEnvOrDefault("ENGINE_MODE", cfg.EngineConfig.Mode)
	cfg.EngineConfig.AutoTrading = getEnvBoolOrDefault("ENGINE_AUTO_TRADING", cfg.EngineConfig.AutoTrading)
	cfg.EngineConfig.NewsManagement = getEnvBoolOrDefault("ENGINE_NEWS_MANAGEMENT", cfg.EngineConfig.NewsManagement)
	cfg.EngineConfig.UseTotalProfit = getEnvBoolOrDefault("ENGINE_USE_TOTAL_PROFIT", cfg.EngineConfig.UseTotalProfit)
	cfg.EngineConfig.DailyProfitTarget = getEnvFloatOrDefault("ENGINE_DAILY_PROFIT_TARGET", cfg.EngineConfig.DailyProfitTarget)
	if v := os.Getenv("ENGINE_SYMBOLS"); v != "" {
		cfg.EngineConfig.Symbols = splitList(v)
	}

	// Retry
	cfg.RetryConfig.MaxAttempts = getEnvIntOrDefault("RETRY_MAX_ATTEMPTS", cfg.RetryConfig.MaxAttempts)
	cfg.RetryConfig.Delay = getEnvDurationOrDefault("RETRY_DELAY", cfg.RetryConfig.Delay)

	// News
	cfg.NewsConfig.CalendarFile = getEnvOrDefault("NEWS_CALENDAR_FILE", cfg.NewsConfig.CalendarFile)
	cfg.NewsConfig.Timezone = getEnvOrDefault("NEWS_TIMEZONE", cfg.NewsConfig.Timezone)

	// Pivot
	cfg.PivotConfig.URL = getEnvOrDefault("PIVOT_URL", cfg.PivotConfig.URL)

	// Balance
	cfg.BalanceConfig.Store = getEnvOrDefault("BALANCE_STORE", cfg.BalanceConfig.Store)
	cfg.BalanceConfig.File = getEnvOrDefault("BALANCE_FILE", cfg.BalanceConfig.File)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Notification
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Server config
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)
	cfg.AuthConfig.Username = getEnvOrDefault("AUTH_USERNAME", cfg.AuthConfig.Username)
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)
	cfg.AuthConfig.WebhookToken = getEnvOrDefault("AUTH_WEBHOOK_TOKEN", cfg.AuthConfig.WebhookToken)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.EngineConfig.CycleInterval <= 0 {
		return fmt.Errorf("engine.cycle_interval must be positive")
	}
	if _, err := settings.ParseTradeMode(c.EngineConfig.Mode); err != nil {
		return fmt.Errorf("engine.mode: %w", err)
	}
	if c.RetryConfig.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.RetryConfig.Delay < 0 {
		return fmt.Errorf("retry.delay must not be negative")
	}
	switch c.BrokerConfig.Kind {
	case "paper":
	case "bridge":
		if c.BrokerConfig.BridgeURL == "" {
			return fmt.Errorf("broker.bridge_url is required for the bridge broker")
		}
	default:
		return fmt.Errorf("unknown broker.kind %q", c.BrokerConfig.Kind)
	}
	switch c.BalanceConfig.Store {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown balance.store %q", c.BalanceConfig.Store)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth is enabled")
	}
	return nil
}

// TradeMode returns the parsed engine mode. Validate has already checked it.
func (c *Config) TradeMode() settings.TradeMode {
	m, err := settings.ParseTradeMode(c.EngineConfig.Mode)
	if err != nil {
		return settings.SingleDirection
	}
	return m
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	cfg := Default()
	cfg.EngineConfig.Symbols = []string{"EURUSD", "GBPJPY", "XAUUSD"}
	cfg.SignalConfig.URL = "http://localhost:9000/signal"
	cfg.NewsConfig.CalendarFile = "data/calendar.yaml"
	gold := settings.DefaultSymbolConfig()
	gold.SLAdjust = 10
	gold.LossThreshold = 5
	cfg.Symbols = map[string]settings.SymbolConfig{"XAUUSD": gold}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
