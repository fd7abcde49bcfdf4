package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" envPrefix:"INTERVUE_"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis" envPrefix:"REDIS_"`
	Realtime    RealtimeConfig            `json:"realtime" envPrefix:"REALTIME_"`
	Events      EventsConfig              `json:"events" envPrefix:"EVENTS_"`
	Compat      CompatConfig              `json:"compat"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" env:"SERVER_ADDRESS"`
	LogLevel      string `json:"log_level" env:"LOG_LEVEL"`
	ClientURL     string `json:"client_url" env:"CLIENT_URL"`
	// TokenTTL is the auth token lifetime in hours.
	TokenTTL int `json:"token_ttl" env:"TOKEN_TTL"`
	// ReconcileInterval and ReconcileStaleAfter are expressed in seconds.
	ReconcileInterval   int `json:"reconcile_interval" env:"RECONCILE_INTERVAL"`
	ReconcileStaleAfter int `json:"reconcile_stale_after" env:"RECONCILE_STALE_AFTER"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password" env:"PASSWORD"`
	DB       int    `json:"db" env:"DB"`
	// CacheTTL bounds cached session reads, in seconds.
	CacheTTL int `json:"cache_ttl" env:"CACHE_TTL"`
}

// RealtimeConfig points at the video call and chat channel provider.
type RealtimeConfig struct {
	Driver       string `json:"driver" env:"DRIVER"`
	VideoBaseURL string `json:"video_base_url" env:"VIDEO_BASE_URL"`
	ChatBaseURL  string `json:"chat_base_url" env:"CHAT_BASE_URL"`
	APIKey       string `json:"api_key" env:"API_KEY"`
	APISecret    string `json:"api_secret" env:"API_SECRET"`
	CallType     string `json:"call_type" env:"CALL_TYPE"`
	ChannelType  string `json:"channel_type" env:"CHANNEL_TYPE"`
	// Timeout applies to every provider request, in seconds.
	Timeout int `json:"timeout" env:"TIMEOUT"`
	// UserTokenTTL is the lifetime of client tokens, in minutes.
	UserTokenTTL int `json:"user_token_ttl" env:"USER_TOKEN_TTL"`
}

// EventsConfig selects where lifecycle notifications go: "", "redis" or "amqp".
type EventsConfig struct {
	Driver   string `json:"driver" env:"DRIVER"`
	AMQPURL  string `json:"amqp_url" env:"AMQP_URL"`
	Exchange string `json:"exchange" env:"EXCHANGE"`
	Channel  string `json:"channel" env:"CHANNEL"`
}

// CompatConfig holds switches kept for older web clients.
type CompatConfig struct {
	// SessionFullNotFound reports a full session as 404 instead of 409.
	SessionFullNotFound bool `json:"session_full_not_found"`
}

// Load reads configuration from the provided path (defaults to config.json)
// and overlays environment variables on top of it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if sqliteCfg, ok := cfg.Databases["sqlite3"]; ok && sqliteCfg.DSN != "" && !isMemoryDSN(sqliteCfg.DSN) {
		if !filepath.IsAbs(sqliteCfg.DSN) {
			sqliteCfg.DSN = filepath.Join(filepath.Dir(absPath), sqliteCfg.DSN)
			cfg.Databases["sqlite3"] = sqliteCfg
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = ":8090"
	}
	if c.BasicConfig.LogLevel == "" {
		c.BasicConfig.LogLevel = "info"
	}
	if c.BasicConfig.TokenTTL <= 0 {
		c.BasicConfig.TokenTTL = 24
	}
	if c.BasicConfig.ReconcileInterval <= 0 {
		c.BasicConfig.ReconcileInterval = 60
	}
	if c.BasicConfig.ReconcileStaleAfter <= 0 {
		c.BasicConfig.ReconcileStaleAfter = 300
	}
	if c.Realtime.Driver == "" {
		c.Realtime.Driver = "http"
	}
	if c.Realtime.CallType == "" {
		c.Realtime.CallType = "default"
	}
	if c.Realtime.ChannelType == "" {
		c.Realtime.ChannelType = "messaging"
	}
	if c.Realtime.Timeout <= 0 {
		c.Realtime.Timeout = 10
	}
	if c.Realtime.UserTokenTTL <= 0 {
		c.Realtime.UserTokenTTL = 60
	}
	if c.Redis.CacheTTL <= 0 {
		c.Redis.CacheTTL = 60
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "interview.sessions"
	}
	if c.Events.Channel == "" {
		c.Events.Channel = "sessions:events"
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return fmt.Errorf("at least one database must be configured")
	}
	switch strings.ToLower(c.Realtime.Driver) {
	case "memory":
	case "http":
		if c.Realtime.VideoBaseURL == "" || c.Realtime.ChatBaseURL == "" {
			return fmt.Errorf("realtime video_base_url and chat_base_url must be configured")
		}
		if c.Realtime.APIKey == "" || c.Realtime.APISecret == "" {
			return fmt.Errorf("realtime api_key and api_secret must be configured")
		}
	default:
		return fmt.Errorf("unsupported realtime driver: %s", c.Realtime.Driver)
	}
	switch strings.ToLower(c.Events.Driver) {
	case "", "none":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("events driver redis requires redis.enabled")
		}
	case "amqp":
		if c.Events.AMQPURL == "" {
			return fmt.Errorf("events amqp_url must be configured")
		}
	default:
		return fmt.Errorf("unsupported events driver: %s", c.Events.Driver)
	}
	return nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.HasPrefix(dsn, "file:")
}
