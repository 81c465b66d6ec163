package validator

import (
	"strings"
	"testing"
	"time"

	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
)

func defaultConfig(t *testing.T) *schema.Root {
	t.Helper()
	cfg := &schema.Root{}
	if err := source.NewDefaultSource().LoadInto(cfg); err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	return cfg
}

func TestNewValidator(t *testing.T) {
	shared := len(NewValidator("").rules)
	if shared == 0 {
		t.Fatal("NewValidator() should have default rules")
	}
	if n := len(NewValidator(AppTypeServer).rules); n <= shared {
		t.Errorf("server rules = %d, want more than %d", n, shared)
	}
	if n := len(NewValidator(AppTypeClient).rules); n <= shared {
		t.Errorf("client rules = %d, want more than %d", n, shared)
	}
}

func TestValidationResult_IsValid(t *testing.T) {
	tests := []struct {
		name   string
		errors []ValidationError
		want   bool
	}{
		{"no errors", nil, true},
		{"empty errors", []ValidationError{}, true},
		{"has errors", []ValidationError{{Field: "test", Message: "error"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ValidationResult{Errors: tt.errors}
			if got := r.IsValid(); got != tt.want {
				t.Errorf("IsValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidationResult_Error(t *testing.T) {
	r := &ValidationResult{}
	if r.Error() != "" {
		t.Error("Error() should return empty string when valid")
	}

	r.AddError("session.max_frame_size", "12", "too small", "Use 32768")
	errStr := r.Error()
	for _, want := range []string{"session.max_frame_size", "Current value: 12", "too small", "Hint: Use 32768"} {
		if !strings.Contains(errStr, want) {
			t.Errorf("Error() missing %q in:\n%s", want, errStr)
		}
	}
}

func TestValidator_ValidateDefaultConfig(t *testing.T) {
	for _, appType := range []string{"", AppTypeServer, AppTypeClient} {
		result := ValidateConfig(defaultConfig(t), appType)
		if !result.IsValid() {
			t.Errorf("default config invalid for %q:\n%s", appType, result.Error())
		}
	}
}

func TestValidator_Rules(t *testing.T) {
	tests := []struct {
		name    string
		appType string
		mutate  func(cfg *schema.Root)
		field   string
	}{
		{"bad log level", "", func(c *schema.Root) { c.Log.Level = "loud" }, "log.level"},
		{"bad log format", "", func(c *schema.Root) { c.Log.Format = "xml" }, "log.format"},
		{"file output without path", "", func(c *schema.Root) { c.Log.Output = "file" }, "log.file"},
		{"bad log output", "", func(c *schema.Root) { c.Log.Output = "syslog" }, "log.output"},
		{"unknown protocol", "", func(c *schema.Root) { c.Transport.Protocol = "carrier-pigeon" }, "transport.protocol"},
		{"frame too small", "", func(c *schema.Root) { c.Session.MaxFrameSize = 512 }, "session.max_frame_size"},
		{"frame too large", "", func(c *schema.Root) { c.Session.MaxFrameSize = 32 << 20 }, "session.max_frame_size"},
		{"window below frame", "", func(c *schema.Root) { c.Session.InitialWindow = c.Session.MaxFrameSize - 1 }, "session.initial_window"},
		{"update ratio zero", "", func(c *schema.Root) { c.Session.WindowUpdateRatio = 0 }, "session.window_update_ratio"},
		{"watermark below frame", "", func(c *schema.Root) { c.Session.BacklogWatermark = 1024 }, "session.backlog_watermark"},
		{"keepalive timeout too short", "", func(c *schema.Root) { c.Session.KeepaliveTimeout = c.Session.KeepaliveInterval }, "session.keepalive_timeout"},
		{"zero resume timeout", "", func(c *schema.Root) { c.Session.ResumeTimeout = 0 }, "session.resume_timeout"},
		{"zero accept backlog", "", func(c *schema.Root) { c.Session.AcceptBacklog = 0 }, "session.accept_backlog"},
		{"bad dial target", "", func(c *schema.Root) { c.Dial.Target = "nohost" }, "dial.target"},
		{"negative bandwidth", "", func(c *schema.Root) { c.Bridge.BandwidthLimit = -1 }, "bridge.bandwidth_limit"},
		{"bad api listen", "", func(c *schema.Root) { c.API.Enabled = true; c.API.Listen = "nope" }, "api.listen"},
		{"server without listen", AppTypeServer, func(c *schema.Root) { c.Transport.Listen = "" }, "transport.listen"},
		{"server bad listen", AppTypeServer, func(c *schema.Root) { c.Transport.Listen = "7000" }, "transport.listen"},
		{"client without address", AppTypeClient, func(c *schema.Root) { c.Transport.Address = "" }, "transport.address"},
		{"client bad websocket url", AppTypeClient, func(c *schema.Root) {
			c.Transport.Protocol = schema.ProtocolWebSocket
			c.Transport.Address = "ftp://example.com"
		}, "transport.address"},
		{"negative attempts", AppTypeClient, func(c *schema.Root) { c.Reconnect.MaxAttempts = -1 }, "reconnect.max_attempts"},
		{"max below min backoff", AppTypeClient, func(c *schema.Root) { c.Reconnect.MaxBackoff = time.Millisecond }, "reconnect.max_backoff"},
		{"factor below one", AppTypeClient, func(c *schema.Root) { c.Reconnect.Factor = 0.5 }, "reconnect.factor"},
		{"breaker without timeout", AppTypeClient, func(c *schema.Root) { c.Reconnect.CircuitBreakerTimeout = 0 }, "reconnect.circuit_breaker_timeout"},
		{"bad forward target", AppTypeClient, func(c *schema.Root) {
			c.Forwards = []schema.ForwardConfig{{Listen: "8080", Target: "web"}}
		}, "forwards[0]"},
		{"duplicate forward listen", AppTypeClient, func(c *schema.Root) {
			c.Forwards = []schema.ForwardConfig{
				{Listen: "8080", Target: "a:80"},
				{Listen: "127.0.0.1:8080", Target: "b:80"},
			}
		}, "forwards[1].listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			result := ValidateConfig(cfg, tt.appType)
			if !result.HasField(tt.field) {
				t.Errorf("expected error on %q, got:\n%s", tt.field, result.Error())
			}
		})
	}
}

func TestValidator_RoleRulesOnlyForRole(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Transport.Address = ""
	if result := ValidateConfig(cfg, AppTypeServer); !result.IsValid() {
		t.Errorf("server should not need a client address:\n%s", result.Error())
	}

	cfg = defaultConfig(t)
	cfg.Transport.Listen = ""
	if result := ValidateConfig(cfg, AppTypeClient); !result.IsValid() {
		t.Errorf("client should not need a listen address:\n%s", result.Error())
	}
}

func TestValidator_WebSocketAddressForms(t *testing.T) {
	for _, addr := range []string{"ws://example.com:7000/kq", "example.com:7000"} {
		cfg := defaultConfig(t)
		cfg.Transport.Protocol = schema.ProtocolWebSocket
		cfg.Transport.Address = addr
		if result := ValidateConfig(cfg, AppTypeClient); !result.IsValid() {
			t.Errorf("address %q rejected:\n%s", addr, result.Error())
		}
	}
}

func TestValidator_AddRule(t *testing.T) {
	v := NewValidator("")
	v.AddRule(func(cfg *schema.Root, result *ValidationResult) {
		if len(cfg.Forwards) == 0 {
			result.AddError("forwards", "", "at least one forward required", "")
		}
	})
	if result := v.Validate(defaultConfig(t)); !result.HasField("forwards") {
		t.Error("custom rule was not applied")
	}
}
