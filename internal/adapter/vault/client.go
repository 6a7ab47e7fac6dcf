// Package vault reads certificate secrets from HashiCorp Vault.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// Client reads key/value secrets through the Vault API client.
type Client struct {
	api *api.Client
}

// NewClient creates a Vault client for addr authenticated by token. With an
// empty addr or token the client is returned unconfigured.
func NewClient(addr, token string) (*Client, error) {
	if addr == "" || token == "" {
		return &Client{}, nil
	}

	cfg := api.DefaultConfig()
	if cfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", cfg.Error)
	}
	cfg.Address = strings.TrimSuffix(addr, "/")
	cfg.Timeout = 30 * time.Second

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(token)

	return &Client{api: client}, nil
}

// Configured reports whether an address and token are set.
func (c *Client) Configured() bool {
	return c != nil && c.api != nil
}

// ReadSecret fetches path (e.g. "secret/data/certs/server") and returns its
// key/value data. KV v2 responses are unwrapped from their nested "data".
func (c *Client) ReadSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	if !c.Configured() {
		return nil, errors.New("vault address or token not configured")
	}

	secret, err := c.api.Logical().ReadWithContext(ctx, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to read vault secret: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault secret %s not found", path)
	}

	if inner, ok := secret.Data["data"].(map[string]interface{}); ok {
		return inner, nil
	}
	return secret.Data, nil
}
