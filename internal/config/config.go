package config

import "time"

// Config holds client configuration values.
type Config struct {
	ServerURL    string `mapstructure:"server_url" yaml:"server_url"`
	APIURL       string `mapstructure:"api_url" yaml:"api_url"`
	DiagAddr     string `mapstructure:"diag_addr" yaml:"diag_addr"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	LogLevel     string `mapstructure:"log_level" yaml:"log_level"`

	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	ReconnectBaseDelay   time.Duration `mapstructure:"reconnect_base_delay" yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `mapstructure:"reconnect_max_delay" yaml:"reconnect_max_delay"`
	ReconnectMaxAttempts int           `mapstructure:"reconnect_max_attempts" yaml:"reconnect_max_attempts"`

	TypingTTL       time.Duration `mapstructure:"typing_ttl" yaml:"typing_ttl"`
	MaxSendAttempts int           `mapstructure:"max_send_attempts" yaml:"max_send_attempts"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:            "ws://localhost:5000/realtime",
		APIURL:               "http://localhost:5000/api",
		DiagAddr:             "127.0.0.1:6060",
		DatabasePath:         "sharebite.db",
		LogLevel:             "info",
		HandshakeTimeout:     20 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectMaxAttempts: 10,
		TypingTTL:            7 * time.Second,
		MaxSendAttempts:      3,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.DiagAddr != "" {
		c.DiagAddr = other.DiagAddr
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.ReconnectBaseDelay != 0 {
		c.ReconnectBaseDelay = other.ReconnectBaseDelay
	}
	if other.ReconnectMaxDelay != 0 {
		c.ReconnectMaxDelay = other.ReconnectMaxDelay
	}
	if other.ReconnectMaxAttempts != 0 {
		c.ReconnectMaxAttempts = other.ReconnectMaxAttempts
	}
	if other.TypingTTL != 0 {
		c.TypingTTL = other.TypingTTL
	}
	if other.MaxSendAttempts != 0 {
		c.MaxSendAttempts = other.MaxSendAttempts
	}
}
