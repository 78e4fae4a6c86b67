package vault

import (
	"context"
	"fmt"
	"sync"

	"trade-engine/config"

	"github.com/hashicorp/vault/api"
)

// BridgeCredentials is what the engine needs to reach a broker bridge
type BridgeCredentials struct {
	Account string `json:"account"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
}

// Client wraps the HashiCorp Vault client. With Vault disabled it serves
// credentials from an in-memory cache only.
type Client struct {
	client       *api.Client
	config       config.VaultConfig
	mu           sync.RWMutex
	cache        map[string]*BridgeCredentials // account -> credentials
	cacheEnabled bool
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config:       cfg,
			cache:        make(map[string]*BridgeCredentials),
			cacheEnabled: true,
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client:       client,
		config:       cfg,
		cache:        make(map[string]*BridgeCredentials),
		cacheEnabled: true,
	}, nil
}

// StoreCredentials writes bridge credentials for an account
func (c *Client) StoreCredentials(ctx context.Context, creds BridgeCredentials) error {
	if !c.config.Enabled {
		c.mu.Lock()
		c.cache[creds.Account] = &creds
		c.mu.Unlock()
		return nil
	}

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			"account":  creds.Account,
			"base_url": creds.BaseURL,
			"api_key":  creds.APIKey,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(creds.Account), secretData); err != nil {
		return fmt.Errorf("failed to store bridge credentials in vault: %w", err)
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[creds.Account] = &creds
		c.mu.Unlock()
	}
	return nil
}

// GetCredentials reads the bridge credentials for an account
func (c *Client) GetCredentials(ctx context.Context, account string) (*BridgeCredentials, error) {
	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[account]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled {
		return nil, fmt.Errorf("bridge credentials for %q not found and vault is disabled", account)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(account))
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("bridge credentials for %q not found", account)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &BridgeCredentials{
		Account: getString(data, "account"),
		BaseURL: getString(data, "base_url"),
		APIKey:  getString(data, "api_key"),
	}
	if creds.Account == "" {
		creds.Account = account
	}

	if c.cacheEnabled {
		c.mu.Lock()
		c.cache[account] = creds
		c.mu.Unlock()
	}
	return creds, nil
}

// ClearCache clears the in-memory cache
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*BridgeCredentials)
	c.mu.Unlock()
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func (c *Client) secretPath(account string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, account)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// NewMockClient creates a Vault-less client for testing
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{
			Enabled: false,
		},
		cache:        make(map[string]*BridgeCredentials),
		cacheEnabled: true,
	}
}
