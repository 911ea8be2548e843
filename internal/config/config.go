package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "WATERGROW"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "watergrow.db"
	defaultLogLevel         = "info"
	defaultTicketIssuer     = "watergrow-api"
	defaultTicketAudience   = "watergrow-rooms"
	defaultTicketTTLMinutes = 720
	defaultFeedBufferSize   = 16
	defaultFeedHeartbeat    = 25
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress         string
	DatabasePath        string
	LogLevel            string
	TicketSigningSecret string
	TicketIssuer        string
	TicketAudience      string
	TicketTTL           time.Duration
	FeedBufferSize      int
	FeedHeartbeat       time.Duration
	RedisAddress        string
	RedisPassword       string
	RedisDB             int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	bindEnvironment(configViper)

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("ticket.issuer", defaultTicketIssuer)
	configViper.SetDefault("ticket.audience", defaultTicketAudience)
	configViper.SetDefault("ticket.ttl_minutes", defaultTicketTTLMinutes)
	configViper.SetDefault("feed.buffer_size", defaultFeedBufferSize)
	configViper.SetDefault("feed.heartbeat_seconds", defaultFeedHeartbeat)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
}

func bindEnvironment(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		DatabasePath:        configViper.GetString("database.path"),
		LogLevel:            configViper.GetString("log.level"),
		TicketSigningSecret: configViper.GetString("ticket.signing_secret"),
		TicketIssuer:        configViper.GetString("ticket.issuer"),
		TicketAudience:      configViper.GetString("ticket.audience"),
		TicketTTL:           time.Duration(configViper.GetInt("ticket.ttl_minutes")) * time.Minute,
		FeedBufferSize:      configViper.GetInt("feed.buffer_size"),
		FeedHeartbeat:       time.Duration(configViper.GetInt("feed.heartbeat_seconds")) * time.Second,
		RedisAddress:        strings.TrimSpace(configViper.GetString("redis.address")),
		RedisPassword:       configViper.GetString("redis.password"),
		RedisDB:             configViper.GetInt("redis.db"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TicketSigningSecret) == "" {
		return fmt.Errorf("ticket.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TicketTTL <= 0 {
		return fmt.Errorf("ticket.ttl_minutes must be positive")
	}
	if c.FeedHeartbeat <= 0 {
		return fmt.Errorf("feed.heartbeat_seconds must be positive")
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}
	return nil
}
