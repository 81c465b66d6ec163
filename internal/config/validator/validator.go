// Package validator provides configuration validation
package validator

import (
	"fmt"
	"net"
	"strings"
	"time"

	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/mux/flow"
	"kq-tunnel/internal/mux/frame"
	"kq-tunnel/internal/transport"
	"kq-tunnel/internal/tunnel"
)

// Application types
const (
	AppTypeServer = "server"
	AppTypeClient = "client"
)

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string // Field path (e.g., "session.max_frame_size")
	Value   string // Current value
	Message string // Error message
	Hint    string // Fix suggestion
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains all validation errors
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid returns true if there are no validation errors
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error returns a formatted error message
func (r *ValidationResult) Error() string {
	if r.IsValid() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n\n")

	for i, err := range r.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Field))
		if err.Value != "" {
			sb.WriteString(fmt.Sprintf("     Current value: %s\n", err.Value))
		}
		sb.WriteString(fmt.Sprintf("     Error: %s\n", err.Message))
		if err.Hint != "" {
			sb.WriteString(fmt.Sprintf("     Hint: %s\n", err.Hint))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// AddError adds a validation error
func (r *ValidationResult) AddError(field, value, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Hint:    hint,
	})
}

// HasField reports whether any error was recorded for field
func (r *ValidationResult) HasField(field string) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// Validator validates configuration
type Validator struct {
	rules []ValidationRule
}

// ValidationRule is a function that validates configuration
type ValidationRule func(cfg *schema.Root, result *ValidationResult)

// NewValidator creates a new Validator with default rules
//
// appType adds the rules specific to a server or client; empty means shared rules only.
func NewValidator(appType string) *Validator {
	v := &Validator{
		rules: make([]ValidationRule, 0),
	}

	v.AddRule(validateLog)
	v.AddRule(validateTransport)
	v.AddRule(validateSession)
	v.AddRule(validateDial)
	v.AddRule(validateBridge)
	v.AddRule(validateAPI)
	v.AddRule(validateForwards)

	switch appType {
	case AppTypeServer:
		v.AddRule(validateServer)
	case AppTypeClient:
		v.AddRule(validateClient)
		v.AddRule(validateReconnect)
	}

	return v
}

// AddRule adds a validation rule
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the configuration
func (v *Validator) Validate(cfg *schema.Root) *ValidationResult {
	result := &ValidationResult{
		Errors: make([]ValidationError, 0),
	}

	for _, rule := range v.rules {
		rule(cfg, result)
	}

	return result
}

// ValidateConfig is a convenience function that creates a validator and validates
func ValidateConfig(cfg *schema.Root, appType string) *ValidationResult {
	return NewValidator(appType).Validate(cfg)
}

// ============================================================================
// Validation Rules
// ============================================================================

func validateLog(cfg *schema.Root, result *ValidationResult) {
	validLevels := map[string]bool{
		schema.LogLevelDebug: true,
		schema.LogLevelInfo:  true,
		schema.LogLevelWarn:  true,
		schema.LogLevelError: true,
	}
	if !validLevels[cfg.Log.Level] && cfg.Log.Level != "" {
		result.AddError("log.level",
			cfg.Log.Level,
			"invalid log level",
			"Use one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		schema.LogFormatText: true,
		schema.LogFormatJSON: true,
	}
	if !validFormats[cfg.Log.Format] && cfg.Log.Format != "" {
		result.AddError("log.format",
			cfg.Log.Format,
			"invalid log format",
			"Use one of: text, json")
	}

	switch cfg.Log.Output {
	case "", "stderr", "stdout":
	case "file":
		if cfg.Log.File == "" {
			result.AddError("log.file",
				"",
				"file is required when output is file",
				"Set log.file to a writable path")
		}
	default:
		result.AddError("log.output",
			cfg.Log.Output,
			"invalid log output",
			"Use one of: stderr, stdout, file")
	}
}

func validateTransport(cfg *schema.Root, result *ValidationResult) {
	if _, ok := transport.Lookup(cfg.Transport.Protocol); !ok {
		result.AddError("transport.protocol",
			cfg.Transport.Protocol,
			"unknown transport protocol",
			"Use one of: "+strings.Join(transport.Names(), ", "))
	}
}

func validateServer(cfg *schema.Root, result *ValidationResult) {
	if cfg.Transport.Listen == "" {
		result.AddError("transport.listen",
			"",
			"listen address is required for the server",
			"Set a host:port, e.g., 0.0.0.0:7000")
		return
	}
	validateHostPort("transport.listen", cfg.Transport.Listen, result)
}

func validateClient(cfg *schema.Root, result *ValidationResult) {
	addr := cfg.Transport.Address
	if addr == "" {
		result.AddError("transport.address",
			"",
			"server address is required for the client",
			"Set a host:port or ws:// URL, e.g., 127.0.0.1:7000")
		return
	}
	if cfg.Transport.Protocol == schema.ProtocolWebSocket {
		if _, err := transport.NormalizeWebSocketURL(addr); err != nil {
			result.AddError("transport.address", addr, "invalid websocket address", "Use ws://host:port or host:port")
		}
		return
	}
	validateHostPort("transport.address", addr, result)
}

func validateSession(cfg *schema.Root, result *ValidationResult) {
	s := cfg.Session

	if s.MaxFrameSize < frame.MinMaxPayload || s.MaxFrameSize > frame.AbsoluteMaxPayload {
		result.AddError("session.max_frame_size",
			fmt.Sprintf("%d", s.MaxFrameSize),
			fmt.Sprintf("max_frame_size must be in [%d, %d]", frame.MinMaxPayload, frame.AbsoluteMaxPayload),
			"Use a value such as 32768")
	}

	if s.InitialWindow < s.MaxFrameSize || uint64(s.InitialWindow) > flow.MaxWindow {
		result.AddError("session.initial_window",
			fmt.Sprintf("%d", s.InitialWindow),
			"initial_window must be at least max_frame_size",
			"Set initial_window >= max_frame_size, e.g., 262144")
	}

	if s.WindowUpdateRatio <= 0 || s.WindowUpdateRatio > 1 {
		result.AddError("session.window_update_ratio",
			fmt.Sprintf("%g", s.WindowUpdateRatio),
			"window_update_ratio must be in (0, 1]",
			"Use a value such as 0.5")
	}

	if s.Resumable && s.BacklogWatermark < int(s.MaxFrameSize)+frame.HeaderSize {
		result.AddError("session.backlog_watermark",
			fmt.Sprintf("%d", s.BacklogWatermark),
			"backlog_watermark must hold at least one full frame",
			"Set backlog_watermark > max_frame_size")
	}

	validatePositiveDuration("session.resume_timeout", s.ResumeTimeout, result)
	validatePositiveDuration("session.keepalive_interval", s.KeepaliveInterval, result)
	validatePositiveDuration("session.handshake_timeout", s.HandshakeTimeout, result)
	validatePositiveDuration("session.drain_timeout", s.DrainTimeout, result)

	if s.KeepaliveTimeout <= s.KeepaliveInterval {
		result.AddError("session.keepalive_timeout",
			s.KeepaliveTimeout.String(),
			"keepalive_timeout must be greater than keepalive_interval",
			"Set keepalive_timeout to about 3x keepalive_interval")
	}

	if s.AcceptBacklog < 1 {
		result.AddError("session.accept_backlog",
			fmt.Sprintf("%d", s.AcceptBacklog),
			"accept_backlog must be at least 1",
			"Set a positive value")
	}
}

func validateReconnect(cfg *schema.Root, result *ValidationResult) {
	r := cfg.Reconnect

	if r.MaxAttempts < 0 {
		result.AddError("reconnect.max_attempts",
			fmt.Sprintf("%d", r.MaxAttempts),
			"max_attempts must not be negative",
			"Use 0 for unlimited attempts")
	}
	validatePositiveDuration("reconnect.min_backoff", r.MinBackoff, result)
	if r.MaxBackoff < r.MinBackoff {
		result.AddError("reconnect.max_backoff",
			r.MaxBackoff.String(),
			"max_backoff must not be less than min_backoff",
			"Set max_backoff >= min_backoff")
	}
	if r.Factor < 1 {
		result.AddError("reconnect.factor",
			fmt.Sprintf("%g", r.Factor),
			"factor must be at least 1",
			"Use 2.0 for exponential backoff")
	}
	if r.CircuitBreakerThreshold < 0 {
		result.AddError("reconnect.circuit_breaker_threshold",
			fmt.Sprintf("%d", r.CircuitBreakerThreshold),
			"circuit_breaker_threshold must not be negative",
			"Use 0 to disable the circuit breaker")
	}
	if r.CircuitBreakerThreshold > 0 && r.CircuitBreakerTimeout <= 0 {
		result.AddError("reconnect.circuit_breaker_timeout",
			r.CircuitBreakerTimeout.String(),
			"circuit_breaker_timeout must be positive when the breaker is enabled",
			"Set a value such as 1m")
	}
}

func validateForwards(cfg *schema.Root, result *ValidationResult) {
	seen := make(map[string]int, len(cfg.Forwards))
	for i, f := range cfg.Forwards {
		field := fmt.Sprintf("forwards[%d]", i)
		spec, err := tunnel.ParseForwardSpec(f.Listen + "=" + f.Target)
		if err != nil {
			result.AddError(field,
				f.Listen+"="+f.Target,
				err.Error(),
				"Use listen: 127.0.0.1:8080 and target: host:port")
			continue
		}
		if prev, dup := seen[spec.Listen]; dup {
			result.AddError(field+".listen",
				spec.Listen,
				fmt.Sprintf("listen address already used by forwards[%d]", prev),
				"Give every forward its own local address")
			continue
		}
		seen[spec.Listen] = i
	}
}

func validateDial(cfg *schema.Root, result *ValidationResult) {
	if !cfg.Dial.Enabled {
		return
	}
	if cfg.Dial.Target != "" {
		validateHostPort("dial.target", cfg.Dial.Target, result)
	}
	if cfg.Dial.Timeout < 0 {
		result.AddError("dial.timeout",
			cfg.Dial.Timeout.String(),
			"timeout must not be negative",
			"Set a value such as 10s")
	}
}

func validateBridge(cfg *schema.Root, result *ValidationResult) {
	if cfg.Bridge.BandwidthLimit < 0 {
		result.AddError("bridge.bandwidth_limit",
			fmt.Sprintf("%d", cfg.Bridge.BandwidthLimit),
			"bandwidth_limit must not be negative",
			"Use 0 for unlimited")
	}
}

func validateAPI(cfg *schema.Root, result *ValidationResult) {
	if cfg.API.Enabled && cfg.API.Listen != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.API.Listen); err != nil {
			result.AddError("api.listen",
				cfg.API.Listen,
				"invalid listen address",
				"Use format host:port, e.g., 127.0.0.1:9090")
		}
	}
}

// ============================================================================
// Helpers
// ============================================================================

func validateHostPort(field, addr string, result *ValidationResult) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		result.AddError(field,
			addr,
			"invalid address",
			"Use format host:port")
	}
}

func validatePositiveDuration(field string, d time.Duration, result *ValidationResult) {
	if d <= 0 {
		result.AddError(field,
			d.String(),
			"must be a positive duration",
			"Use a Go duration such as 30s")
	}
}
