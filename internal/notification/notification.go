package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trade-engine/internal/events"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyNews        NotificationType = "news"
	NotifyDailyTarget NotificationType = "daily_target"
	NotifyLossGuard   NotificationType = "loss_guard"
	NotifyGaveUp      NotificationType = "order_gave_up"
	NotifyError       NotificationType = "error"
	NotifyInfo        NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Symbol    string
	Ticket    int64
	Timestamp time.Time
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(ctx context.Context, notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	notifiers []Notifier
	enabled   bool
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewManager creates a new notification manager
func NewManager(enabled bool, logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
		timeout:   10 * time.Second,
		logger:    logger.With().Str("component", "Notifications").Logger(),
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers and returns every failure
func (m *Manager) Send(ctx context.Context, notification *Notification) error {
	if !m.enabled {
		return nil
	}
	if notification.Timestamp.IsZero() {
		notification.Timestamp = time.Now()
	}

	var errs error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(ctx, notification); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errs
}

// Subscribe turns engine events into operator alerts. The bus already runs
// each subscriber on its own goroutine, so sends may block.
func (m *Manager) Subscribe(bus *events.EventBus) {
	for _, t := range []events.EventType{
		events.EventNewsWindow,
		events.EventTradingStopped,
		events.EventLossGuard,
		events.EventOrderGaveUp,
	} {
		bus.Subscribe(t, m.handle)
	}
}

func (m *Manager) handle(e events.Event) {
	n := FromEvent(e)
	if n == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if err := m.Send(ctx, n); err != nil {
		m.logger.Warn().Err(err).Str("type", string(n.Type)).Msg("Notification delivery failed")
	}
}

// FromEvent renders an engine event as a notification, or nil if the event
// is not one operators are alerted on
func FromEvent(e events.Event) *Notification {
	str := func(k string) string { s, _ := e.Data[k].(string); return s }
	num := func(k string) float64 { f, _ := e.Data[k].(float64); return f }
	ticket, _ := e.Data["ticket"].(int64)

	n := &Notification{Timestamp: e.Timestamp, Symbol: str("symbol"), Ticket: ticket}
	switch e.Type {
	case events.EventNewsWindow:
		n.Type = NotifyNews
		n.Title = fmt.Sprintf("News window: %s %s", str("currency"), str("title"))
		n.Message = fmt.Sprintf("High impact event at %s. No new signals until %s.", str("time"), str("until"))
	case events.EventTradingStopped:
		n.Type = NotifyDailyTarget
		n.Title = "Daily profit target reached"
		n.Message = fmt.Sprintf("Equity %.2f reached target %.2f. Positions closed, trading stopped until rollover.", num("equity"), num("target"))
	case events.EventLossGuard:
		n.Type = NotifyLossGuard
		n.Title = fmt.Sprintf("Loss guard: %s #%d", n.Symbol, ticket)
		n.Message = fmt.Sprintf("Loss %.2f%% of balance hit threshold %.2f%%, position closed.", num("loss_pct"), num("threshold"))
	case events.EventOrderGaveUp:
		n.Type = NotifyGaveUp
		n.Title = fmt.Sprintf("Order abandoned: %s %s", str("kind"), n.Symbol)
		n.Message = fmt.Sprintf("Ticket %d failed after %v attempts: %s", ticket, e.Data["attempts"], str("reason"))
	default:
		return nil
	}
	return n
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	baseURL  string
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(ctx context.Context, notification *Notification) error {
	if !t.enabled {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message),
		"parse_mode": "Markdown",
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	return postJSON(ctx, t.client, url, payload, http.StatusOK)
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(ctx context.Context, notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00 // Green
	switch notification.Type {
	case NotifyError, NotifyLossGuard, NotifyGaveUp:
		color = 0xFF0000 // Red
	case NotifyNews:
		color = 0xFFA500 // Orange
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}
	if notification.Symbol != "" {
		embed["fields"] = []map[string]interface{}{
			{"name": "Symbol", "value": notification.Symbol, "inline": true},
		}
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}
	return postJSON(ctx, d.client, d.webhookURL, payload, http.StatusOK, http.StatusNoContent)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload interface{}, okStatus ...int) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	for _, s := range okStatus {
		if resp.StatusCode == s {
			return nil
		}
	}
	return fmt.Errorf("API returned status %d", resp.StatusCode)
}
