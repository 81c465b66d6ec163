package source

import (
	"time"

	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/mux/reconnect"
	"kq-tunnel/internal/mux/session"
)

// Default addresses
const (
	DefaultServerListen  = "0.0.0.0:7000"
	DefaultClientAddress = "127.0.0.1:7000"
	DefaultAPIListen     = "127.0.0.1:9090"
)

// DefaultSource provides default configuration values
type DefaultSource struct{}

// NewDefaultSource creates a new DefaultSource
func NewDefaultSource() *DefaultSource {
	return &DefaultSource{}
}

// Name returns the source name
func (s *DefaultSource) Name() string {
	return "defaults"
}

// Priority returns the source priority
func (s *DefaultSource) Priority() int {
	return PriorityDefaults
}

// LoadInto loads default values into the configuration
func (s *DefaultSource) LoadInto(cfg *schema.Root) error {
	cfg.Log.Level = schema.LogLevelInfo
	cfg.Log.Format = schema.LogFormatText
	cfg.Log.Output = "stderr"

	cfg.Transport.Protocol = schema.ProtocolTCP
	cfg.Transport.Listen = DefaultServerListen
	cfg.Transport.Address = DefaultClientAddress

	// Session and reconnect defaults come from the packages that use them
	sd := session.DefaultConfig()
	cfg.Session.MaxFrameSize = sd.MaxPayload
	cfg.Session.InitialWindow = sd.InitialWindow
	cfg.Session.WindowUpdateRatio = sd.WindowUpdateRatio
	cfg.Session.Resumable = sd.Resumable
	cfg.Session.BacklogWatermark = sd.BacklogWatermark
	cfg.Session.ResumeTimeout = sd.ResumeTimeout
	cfg.Session.KeepaliveInterval = sd.KeepaliveInterval
	cfg.Session.KeepaliveTimeout = sd.KeepaliveTimeout
	cfg.Session.HandshakeTimeout = sd.HandshakeTimeout
	cfg.Session.DrainTimeout = sd.DrainTimeout
	cfg.Session.AcceptBacklog = sd.AcceptBacklog

	rd := reconnect.DefaultPolicy()
	cfg.Reconnect.MaxAttempts = rd.MaxAttempts
	cfg.Reconnect.MinBackoff = rd.MinBackoff
	cfg.Reconnect.MaxBackoff = rd.MaxBackoff
	cfg.Reconnect.Factor = rd.Factor
	cfg.Reconnect.Jitter = rd.Jitter
	cfg.Reconnect.CircuitBreakerThreshold = rd.CircuitBreakerThreshold
	cfg.Reconnect.CircuitBreakerTimeout = rd.CircuitBreakerTimeout

	cfg.Dial.Enabled = true
	cfg.Dial.Timeout = 10 * time.Second

	cfg.API.Enabled = false
	cfg.API.Listen = DefaultAPIListen
	return nil
}
