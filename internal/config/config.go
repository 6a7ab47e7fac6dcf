// Package config provides configuration for the management sender and receiver.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the process configuration. It is loaded once at start-up and
// passed explicitly to every component.
type Config struct {
	// Sender settings
	Endpoint     string `env:"MGMT_ENDPOINT" envDefault:"http://localhost:5000/api/management/handshake"`
	AgentID      string `env:"AGENT_ID" envDefault:"agent-1"`
	SharedSecret string `env:"AGENT_SHARED_SECRET"`

	// Receiver settings
	HTTPPort    int    `env:"HTTP_PORT" envDefault:"5000"`
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:mgmt.db?cache=shared&mode=rwc"`

	// Replay protection
	NonceTTLMs           int `env:"NONCE_TTL_MS" envDefault:"300000"`
	TimestampToleranceMs int `env:"TIMESTAMP_TOLERANCE_MS" envDefault:"300000"`

	// Auto execution
	AutoAllowedActions  []string `env:"AUTO_ALLOWED_ACTIONS" envDefault:"restart_service,fetch_logs"`
	AutoCircuitMax      int      `env:"AUTO_CIRCUIT_MAX" envDefault:"3"`
	AutoCircuitWindowMs int      `env:"AUTO_CIRCUIT_WINDOW_MS" envDefault:"600000"`
	AutoAllowHMAC       bool     `env:"AUTO_ALLOW_HMAC"`

	// mTLS
	MTLSRequired          bool     `env:"MTLS_REQUIRED"`
	MTLSClientCNAllowlist []string `env:"MTLS_CLIENT_CN_ALLOWLIST"`
	MTLSServerKeyPath     string   `env:"MTLS_SERVER_KEY_PATH"`
	MTLSServerCertPath    string   `env:"MTLS_SERVER_CERT_PATH"`
	MTLSCAPath            string   `env:"MTLS_CA_PATH"`

	// Action scripts
	ScriptDir       string `env:"SCRIPT_DIR" envDefault:"scripts"`
	ScriptTimeoutMs int    `env:"SCRIPT_TIMEOUT_MS" envDefault:"60000"`

	// Certificate rotation
	VaultAddr     string `env:"VAULT_ADDR"`
	VaultToken    string `env:"VAULT_TOKEN"`
	VaultCertPath string `env:"VAULT_CERT_PATH"`

	// Auth URL helper
	GCloudPath    string `env:"GCLOUD_PATH" envDefault:"gcloud"`
	AuthURLWaitMs int    `env:"AUTH_URL_WAIT_MS" envDefault:"5000"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Derived from the *Ms fields by Load.
	NonceTTL           time.Duration
	TimestampTolerance time.Duration
	AutoCircuitWindow  time.Duration
	ScriptTimeout      time.Duration
	AuthURLWait        time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.NonceTTL = millis(c.NonceTTLMs)
	c.TimestampTolerance = millis(c.TimestampToleranceMs)
	c.AutoCircuitWindow = millis(c.AutoCircuitWindowMs)
	c.ScriptTimeout = millis(c.ScriptTimeoutMs)
	c.AuthURLWait = millis(c.AuthURLWaitMs)
	c.AutoAllowedActions = cleanList(c.AutoAllowedActions)
	c.MTLSClientCNAllowlist = cleanList(c.MTLSClientCNAllowlist)
}

// Secret returns the shared secret as bytes.
func (c *Config) Secret() []byte {
	return []byte(c.SharedSecret)
}

// HasServerCerts reports whether all TLS file paths are configured.
func (c *Config) HasServerCerts() bool {
	return c.MTLSServerKeyPath != "" && c.MTLSServerCertPath != "" && c.MTLSCAPath != ""
}

// Validate checks the settings the receiver cannot run without.
func (c *Config) Validate() error {
	if c.MTLSRequired && !c.HasServerCerts() {
		return errors.New("MTLS_REQUIRED is set but MTLS_SERVER_KEY_PATH, MTLS_SERVER_CERT_PATH or MTLS_CA_PATH is missing")
	}
	if !c.MTLSRequired && c.SharedSecret == "" {
		return errors.New("AGENT_SHARED_SECRET is required when mTLS is not required")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.AutoCircuitMax < 1 {
		return fmt.Errorf("AUTO_CIRCUIT_MAX must be positive, got %d", c.AutoCircuitMax)
	}
	return nil
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
