package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultServerURL      = "http://127.0.0.1:8080"
	defaultStatePath      = ".watergrow/state.yaml"
	defaultPermission     = "default"
	defaultRequestTimeout = 10
)

// ClientConfig captures runtime configuration for the terminal client.
type ClientConfig struct {
	ServerURL              string
	StatePath              string
	NotificationPermission string
	LogLevel               string
	RequestTimeout         time.Duration
}

// NewClientViper returns a viper instance with client defaults and env bindings.
func NewClientViper() *viper.Viper {
	configViper := viper.New()
	ApplyClientDefaults(configViper)
	return configViper
}

func ApplyClientDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("server.url", defaultServerURL)
	configViper.SetDefault("state.path", defaultStatePath)
	configViper.SetDefault("notifications.permission", defaultPermission)
	configViper.SetDefault("log.level", "warn")
	configViper.SetDefault("request.timeout_seconds", defaultRequestTimeout)
}

// LoadClient parses client configuration from viper.
func LoadClient(configViper *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:              strings.TrimSpace(configViper.GetString("server.url")),
		StatePath:              strings.TrimSpace(configViper.GetString("state.path")),
		NotificationPermission: strings.ToLower(strings.TrimSpace(configViper.GetString("notifications.permission"))),
		LogLevel:               configViper.GetString("log.level"),
		RequestTimeout:         time.Duration(configViper.GetInt("request.timeout_seconds")) * time.Second,
	}
	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) validate() error {
	parsed, err := url.Parse(c.ServerURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("server.url must be an http(s) url, got %q", c.ServerURL)
	}
	if c.StatePath == "" {
		return fmt.Errorf("state.path is required")
	}
	switch c.NotificationPermission {
	case "default", "granted", "denied":
	default:
		return fmt.Errorf("notifications.permission must be default, granted or denied, got %q", c.NotificationPermission)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request.timeout_seconds must be positive")
	}
	return nil
}
