package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/vault/api"

	"social-automation-dashboard/config"
)

// ErrNotFound is returned when no credentials are stored for a user
var ErrNotFound = errors.New("bot credentials not found")

// BotCredentials are the session credentials the automation bot uses to act
// on the user's social account. They never leave the server in responses.
type BotCredentials struct {
	AccountEmail  string    `json:"account_email"`
	SessionCookie string    `json:"session_cookie"`
	UserAgent     string    `json:"user_agent,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Client wraps the HashiCorp Vault client. With Vault disabled the
// credentials live only in the in-process cache.
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cache  map[string]*BotCredentials // userID -> credentials
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{
			config: cfg,
			cache:  make(map[string]*BotCredentials),
		}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vaultConfig.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
		cache:  make(map[string]*BotCredentials),
	}, nil
}

// NewMockClient creates a client backed only by the local cache
func NewMockClient() *Client {
	return &Client{
		config: config.VaultConfig{Enabled: false},
		cache:  make(map[string]*BotCredentials),
	}
}

// PutCredentials stores the bot credentials of a user
func (c *Client) PutCredentials(ctx context.Context, userID string, creds BotCredentials) error {
	if creds.UpdatedAt.IsZero() {
		creds.UpdatedAt = time.Now().UTC()
	}

	if c.config.Enabled {
		secretData := map[string]interface{}{
			"data": map[string]interface{}{
				"account_email":  creds.AccountEmail,
				"session_cookie": creds.SessionCookie,
				"user_agent":     creds.UserAgent,
				"updated_at":     creds.UpdatedAt.Format(time.RFC3339),
			},
		}
		if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(userID), secretData); err != nil {
			return fmt.Errorf("failed to store bot credentials in vault: %w", err)
		}
	}

	c.mu.Lock()
	c.cache[userID] = &creds
	c.mu.Unlock()
	return nil
}

// GetCredentials returns the stored credentials, or ErrNotFound
func (c *Client) GetCredentials(ctx context.Context, userID string) (*BotCredentials, error) {
	c.mu.RLock()
	cached, ok := c.cache[userID]
	c.mu.RUnlock()
	if ok {
		cp := *cached
		return &cp, nil
	}

	if !c.config.Enabled {
		return nil, ErrNotFound
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read bot credentials from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrNotFound
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	creds := &BotCredentials{
		AccountEmail:  getString(data, "account_email"),
		SessionCookie: getString(data, "session_cookie"),
		UserAgent:     getString(data, "user_agent"),
	}
	if ts, err := time.Parse(time.RFC3339, getString(data, "updated_at")); err == nil {
		creds.UpdatedAt = ts
	}

	c.mu.Lock()
	cp := *creds
	c.cache[userID] = &cp
	c.mu.Unlock()
	return creds, nil
}

// DeleteCredentials removes every version of the user's credentials
func (c *Client) DeleteCredentials(ctx context.Context, userID string) error {
	// The cached copy goes even when vault fails so a retry reads through
	defer c.InvalidateCacheForUser(userID)

	if !c.config.Enabled {
		return nil
	}
	if _, err := c.client.Logical().DeleteWithContext(ctx, c.metadataPath(userID)); err != nil {
		return fmt.Errorf("failed to delete bot credentials from vault: %w", err)
	}
	return nil
}

// InvalidateCacheForUser drops the cached credentials of a user
func (c *Client) InvalidateCacheForUser(userID string) {
	c.mu.Lock()
	delete(c.cache, userID)
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

func (c *Client) secretPath(userID string) string {
	return fmt.Sprintf("%s/data/%s/%s", c.config.MountPath, c.config.SecretPath, userID)
}

func (c *Client) metadataPath(userID string) string {
	return fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, userID)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
