package source

import (
	"os"
	"strconv"
	"strings"
	"time"

	"kq-tunnel/internal/config/schema"
	coreerrors "kq-tunnel/internal/core/errors"
)

// DefaultEnvPrefix is the prefix used for environment variables
const DefaultEnvPrefix = "KQTUNNEL"

// EnvSource loads configuration from environment variables
//
// Unparseable values are reported instead of silently ignored.
type EnvSource struct {
	prefix string
	errs   []error
}

// NewEnvSource creates a new EnvSource with the specified prefix
func NewEnvSource(prefix string) *EnvSource {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return &EnvSource{
		prefix: prefix,
	}
}

// Name returns the source name
func (s *EnvSource) Name() string {
	return "env"
}

// Priority returns the source priority
func (s *EnvSource) Priority() int {
	return PriorityEnv
}

// LoadInto loads environment variables into the config structure
func (s *EnvSource) LoadInto(cfg *schema.Root) error {
	s.errs = nil

	// Log
	s.loadString("LOG_LEVEL", &cfg.Log.Level)
	s.loadString("LOG_FORMAT", &cfg.Log.Format)
	s.loadString("LOG_OUTPUT", &cfg.Log.Output)
	s.loadString("LOG_FILE", &cfg.Log.File)

	// Transport
	s.loadString("PROTOCOL", &cfg.Transport.Protocol)
	s.loadString("LISTEN", &cfg.Transport.Listen)
	s.loadString("ADDRESS", &cfg.Transport.Address)

	// Session
	s.loadUint32("SESSION_MAX_FRAME_SIZE", &cfg.Session.MaxFrameSize)
	s.loadUint32("SESSION_INITIAL_WINDOW", &cfg.Session.InitialWindow)
	s.loadFloat("SESSION_WINDOW_UPDATE_RATIO", &cfg.Session.WindowUpdateRatio)
	s.loadBool("SESSION_RESUMABLE", &cfg.Session.Resumable)
	s.loadInt("SESSION_BACKLOG_WATERMARK", &cfg.Session.BacklogWatermark)
	s.loadDuration("SESSION_RESUME_TIMEOUT", &cfg.Session.ResumeTimeout)
	s.loadDuration("SESSION_KEEPALIVE_INTERVAL", &cfg.Session.KeepaliveInterval)
	s.loadDuration("SESSION_KEEPALIVE_TIMEOUT", &cfg.Session.KeepaliveTimeout)
	s.loadDuration("SESSION_HANDSHAKE_TIMEOUT", &cfg.Session.HandshakeTimeout)
	s.loadDuration("SESSION_DRAIN_TIMEOUT", &cfg.Session.DrainTimeout)
	s.loadInt("SESSION_ACCEPT_BACKLOG", &cfg.Session.AcceptBacklog)

	// Reconnect
	s.loadInt("RECONNECT_MAX_ATTEMPTS", &cfg.Reconnect.MaxAttempts)
	s.loadDuration("RECONNECT_MIN_BACKOFF", &cfg.Reconnect.MinBackoff)
	s.loadDuration("RECONNECT_MAX_BACKOFF", &cfg.Reconnect.MaxBackoff)
	s.loadFloat("RECONNECT_FACTOR", &cfg.Reconnect.Factor)
	s.loadBool("RECONNECT_JITTER", &cfg.Reconnect.Jitter)
	s.loadInt("RECONNECT_CIRCUIT_BREAKER_THRESHOLD", &cfg.Reconnect.CircuitBreakerThreshold)
	s.loadDuration("RECONNECT_CIRCUIT_BREAKER_TIMEOUT", &cfg.Reconnect.CircuitBreakerTimeout)

	// Forwards: LISTEN=TARGET pairs separated by commas
	s.loadForwards("FORWARDS", &cfg.Forwards)

	// Dial
	s.loadBool("DIAL_ENABLED", &cfg.Dial.Enabled)
	s.loadString("DIAL_TARGET", &cfg.Dial.Target)
	s.loadStringSlice("DIAL_ALLOW", &cfg.Dial.Allow)
	s.loadDuration("DIAL_TIMEOUT", &cfg.Dial.Timeout)

	// Bridge
	s.loadInt64("BRIDGE_BANDWIDTH_LIMIT", &cfg.Bridge.BandwidthLimit)

	// API
	s.loadBool("API_ENABLED", &cfg.API.Enabled)
	s.loadString("API_LISTEN", &cfg.API.Listen)

	if len(s.errs) > 0 {
		return coreerrors.Wrap(coreerrors.Join(s.errs...), coreerrors.CodeConfigError, "invalid environment variables")
	}
	return nil
}

// getEnv gets environment variable with the configured prefix
func (s *EnvSource) getEnv(key string) (string, bool) {
	prefixedKey := s.prefix + "_" + key
	if v := os.Getenv(prefixedKey); v != "" {
		return v, true
	}
	return "", false
}

func (s *EnvSource) invalid(key, value string, err error) {
	s.errs = append(s.errs, coreerrors.Wrapf(err, coreerrors.CodeInvalidParam, "%s_%s=%q", s.prefix, key, value))
}

func (s *EnvSource) loadString(key string, target *string) {
	if v, ok := s.getEnv(key); ok {
		*target = v
	}
}

func (s *EnvSource) loadBool(key string, target *bool) {
	if v, ok := s.getEnv(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = b
	}
}

func (s *EnvSource) loadInt(key string, target *int) {
	if v, ok := s.getEnv(key); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = i
	}
}

func (s *EnvSource) loadInt64(key string, target *int64) {
	if v, ok := s.getEnv(key); ok {
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = i
	}
}

func (s *EnvSource) loadUint32(key string, target *uint32) {
	if v, ok := s.getEnv(key); ok {
		i, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = uint32(i)
	}
}

func (s *EnvSource) loadFloat(key string, target *float64) {
	if v, ok := s.getEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = f
	}
}

func (s *EnvSource) loadDuration(key string, target *time.Duration) {
	if v, ok := s.getEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			s.invalid(key, v, err)
			return
		}
		*target = d
	}
}

func (s *EnvSource) loadStringSlice(key string, target *[]string) {
	if v, ok := s.getEnv(key); ok {
		if result := splitList(v); len(result) > 0 {
			*target = result
		}
	}
}

func (s *EnvSource) loadForwards(key string, target *[]schema.ForwardConfig) {
	v, ok := s.getEnv(key)
	if !ok {
		return
	}
	var forwards []schema.ForwardConfig
	for _, item := range splitList(v) {
		listen, targetAddr, found := strings.Cut(item, "=")
		if !found {
			s.invalid(key, v, coreerrors.Newf(coreerrors.CodeInvalidParam, "forward %q must be LISTEN=TARGET", item))
			return
		}
		forwards = append(forwards, schema.ForwardConfig{
			Listen: strings.TrimSpace(listen),
			Target: strings.TrimSpace(targetAddr),
		})
	}
	if len(forwards) > 0 {
		*target = forwards
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
