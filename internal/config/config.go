package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultPath is used when no config path is supplied.
	DefaultPath = "config.json"

	defaultServerAddress = ":8090"
	defaultWebhookURL    = "http://localhost:5678/webhook/document-extraction"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig   `json:"basic_config"`
	Webhook     WebhookConfig `json:"webhook"`
	Session     SessionConfig `json:"session"`
	Redis       RedisConfig   `json:"redis"`

	// path is the resolved file the config was read from, empty when built from defaults.
	path string
}

type BasicConfig struct {
	ServerAddress    string `json:"server_address"`
	PublicBaseURL    string `json:"public_base_url"`
	TempDir          string `json:"temp_dir"`
	MetricsNamespace string `json:"metrics_namespace"`
	ShutdownSeconds  int    `json:"shutdown_seconds"`
}

// WebhookConfig describes the external workflow endpoint and the relay limits.
type WebhookConfig struct {
	URL            string `json:"url"`
	TimeoutMinutes int    `json:"timeout_minutes"`
	DirectMaxMB    int    `json:"direct_max_mb"`
	ProxyMaxMB     int    `json:"proxy_max_mb"`
}

type SessionConfig struct {
	InactivityMinutes    int `json:"inactivity_minutes"`
	CheckIntervalSeconds int `json:"check_interval_seconds"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Default returns a configuration populated with built-in defaults.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:    defaultServerAddress,
			TempDir:          os.TempDir(),
			MetricsNamespace: "docrelay",
			ShutdownSeconds:  15,
		},
		Webhook: WebhookConfig{
			URL:            defaultWebhookURL,
			TimeoutMinutes: 20,
			DirectMaxMB:    50,
			ProxyMaxMB:     10,
		},
		Session: SessionConfig{
			InactivityMinutes:    20,
			CheckIntervalSeconds: 60,
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; an explicitly named one is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		cfg.path = absPath
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.path != "" && !filepath.IsAbs(cfg.BasicConfig.TempDir) {
		cfg.BasicConfig.TempDir = filepath.Join(filepath.Dir(cfg.path), cfg.BasicConfig.TempDir)
	}
	return cfg, nil
}

// Path reports the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the fields the service cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Webhook.URL) == "" {
		return errors.New("webhook.url must be configured")
	}
	if err := checkHTTPURL(c.Webhook.URL); err != nil {
		return fmt.Errorf("webhook.url: %w", err)
	}
	if c.BasicConfig.PublicBaseURL != "" {
		if err := checkHTTPURL(c.BasicConfig.PublicBaseURL); err != nil {
			return fmt.Errorf("basic_config.public_base_url: %w", err)
		}
	}
	if c.Webhook.ProxyMaxMB > c.Webhook.DirectMaxMB {
		return fmt.Errorf("webhook.proxy_max_mb (%d) must not exceed webhook.direct_max_mb (%d)",
			c.Webhook.ProxyMaxMB, c.Webhook.DirectMaxMB)
	}
	return nil
}

func (c *Config) RelayTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutMinutes) * time.Minute
}

func (c *Config) DirectMaxBytes() int64 {
	return int64(c.Webhook.DirectMaxMB) << 20
}

func (c *Config) ProxyMaxBytes() int64 {
	return int64(c.Webhook.ProxyMaxMB) << 20
}

func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Session.InactivityMinutes) * time.Minute
}

func (c *Config) SessionCheckInterval() time.Duration {
	return time.Duration(c.Session.CheckIntervalSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.BasicConfig.ShutdownSeconds) * time.Second
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = def.BasicConfig.ServerAddress
	}
	if c.BasicConfig.TempDir == "" {
		c.BasicConfig.TempDir = def.BasicConfig.TempDir
	}
	if c.BasicConfig.MetricsNamespace == "" {
		c.BasicConfig.MetricsNamespace = def.BasicConfig.MetricsNamespace
	}
	if c.BasicConfig.ShutdownSeconds <= 0 {
		c.BasicConfig.ShutdownSeconds = def.BasicConfig.ShutdownSeconds
	}
	if c.Webhook.TimeoutMinutes <= 0 {
		c.Webhook.TimeoutMinutes = def.Webhook.TimeoutMinutes
	}
	if c.Webhook.DirectMaxMB <= 0 {
		c.Webhook.DirectMaxMB = def.Webhook.DirectMaxMB
	}
	if c.Webhook.ProxyMaxMB <= 0 {
		c.Webhook.ProxyMaxMB = def.Webhook.ProxyMaxMB
	}
	if c.Session.InactivityMinutes <= 0 {
		c.Session.InactivityMinutes = def.Session.InactivityMinutes
	}
	if c.Session.CheckIntervalSeconds <= 0 {
		c.Session.CheckIntervalSeconds = def.Session.CheckIntervalSeconds
	}
}

func applyEnv(c *Config) {
	if v := strings.TrimSpace(os.Getenv("DOCRELAY_WEBHOOK_URL")); v != "" {
		c.Webhook.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRELAY_PUBLIC_BASE_URL")); v != "" {
		c.BasicConfig.PublicBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCRELAY_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
}

func checkHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
