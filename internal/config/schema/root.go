// Package schema defines configuration structure types
package schema

import "time"

// Root is the top-level configuration structure
type Root struct {
	Log       LogConfig       `yaml:"log" json:"log" toml:"log"`
	Transport TransportConfig `yaml:"transport" json:"transport" toml:"transport"`
	Session   SessionConfig   `yaml:"session" json:"session" toml:"session"`
	Reconnect ReconnectConfig `yaml:"reconnect" json:"reconnect" toml:"reconnect"`
	Forwards  []ForwardConfig `yaml:"forwards" json:"forwards" toml:"forwards"`
	Dial      DialConfig      `yaml:"dial" json:"dial" toml:"dial"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge" toml:"bridge"`
	API       APIConfig       `yaml:"api" json:"api" toml:"api"`
}

// TransportConfig selects the underlying protocol
//
// Listen is used by the server, Address by the client.
type TransportConfig struct {
	Protocol string `yaml:"protocol" json:"protocol" toml:"protocol"`
	Listen   string `yaml:"listen" json:"listen" toml:"listen"`
	Address  string `yaml:"address" json:"address" toml:"address"`
}

// Protocol names
const (
	ProtocolTCP       = "tcp"
	ProtocolWebSocket = "websocket"
	ProtocolKCP       = "kcp"
	ProtocolQUIC      = "quic"
)

// SessionConfig contains multiplexing session settings
type SessionConfig struct {
	MaxFrameSize      uint32        `yaml:"max_frame_size" json:"max_frame_size" toml:"max_frame_size"`
	InitialWindow     uint32        `yaml:"initial_window" json:"initial_window" toml:"initial_window"`
	WindowUpdateRatio float64       `yaml:"window_update_ratio" json:"window_update_ratio" toml:"window_update_ratio"`
	Resumable         bool          `yaml:"resumable" json:"resumable" toml:"resumable"`
	BacklogWatermark  int           `yaml:"backlog_watermark" json:"backlog_watermark" toml:"backlog_watermark"`
	ResumeTimeout     time.Duration `yaml:"resume_timeout" json:"resume_timeout" toml:"resume_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval" toml:"keepalive_interval"`
	KeepaliveTimeout  time.Duration `yaml:"keepalive_timeout" json:"keepalive_timeout" toml:"keepalive_timeout"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" json:"handshake_timeout" toml:"handshake_timeout"`
	DrainTimeout      time.Duration `yaml:"drain_timeout" json:"drain_timeout" toml:"drain_timeout"`
	AcceptBacklog     int           `yaml:"accept_backlog" json:"accept_backlog" toml:"accept_backlog"`
}

// ReconnectConfig contains client reconnect policy
type ReconnectConfig struct {
	MaxAttempts             int           `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"` // 0 = unlimited
	MinBackoff              time.Duration `yaml:"min_backoff" json:"min_backoff" toml:"min_backoff"`
	MaxBackoff              time.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`
	Factor                  float64       `yaml:"factor" json:"factor" toml:"factor"`
	Jitter                  bool          `yaml:"jitter" json:"jitter" toml:"jitter"`
	CircuitBreakerThreshold int           `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold" toml:"circuit_breaker_threshold"`
	CircuitBreakerTimeout   time.Duration `yaml:"circuit_breaker_timeout" json:"circuit_breaker_timeout" toml:"circuit_breaker_timeout"`
}

// ForwardConfig is one local listener bridged to a remote target
type ForwardConfig struct {
	Listen string `yaml:"listen" json:"listen" toml:"listen"`
	Target string `yaml:"target" json:"target" toml:"target"`
}

// DialConfig controls how accepted streams are answered
type DialConfig struct {
	Enabled bool          `yaml:"enabled" json:"enabled" toml:"enabled"`
	Target  string        `yaml:"target" json:"target" toml:"target"` // fixed target overriding the stream's own
	Allow   []string      `yaml:"allow" json:"allow" toml:"allow"`    // empty = any target
	Timeout time.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// BridgeConfig contains byte bridging settings
type BridgeConfig struct {
	BandwidthLimit int64 `yaml:"bandwidth_limit" json:"bandwidth_limit" toml:"bandwidth_limit"` // bytes/s per direction, 0 = unlimited
}

// APIConfig contains management HTTP API settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" json:"listen" toml:"listen"`
}
