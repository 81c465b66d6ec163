package config

import (
	"testing"
	"time"

	"kq-tunnel/internal/config/schema"
	"kq-tunnel/internal/config/source"
	corelog "kq-tunnel/internal/core/log"
)

func loadDefaults(t *testing.T) *schema.Root {
	t.Helper()
	root := &schema.Root{}
	if err := source.NewDefaultSource().LoadInto(root); err != nil {
		t.Fatalf("LoadInto() error = %v", err)
	}
	return root
}

func TestSessionConfig(t *testing.T) {
	root := loadDefaults(t)
	root.Session.MaxFrameSize = 64 * 1024
	root.Session.Resumable = false
	root.Session.KeepaliveInterval = 3 * time.Second

	cfg := SessionConfig(root, corelog.NewNopLogger())
	if cfg.MaxPayload != 64*1024 {
		t.Errorf("MaxPayload = %d", cfg.MaxPayload)
	}
	if cfg.Resumable {
		t.Error("Resumable should be false")
	}
	if cfg.KeepaliveInterval != 3*time.Second {
		t.Errorf("KeepaliveInterval = %v", cfg.KeepaliveInterval)
	}
	if cfg.Logger == nil {
		t.Error("Logger not set")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestReconnectPolicy(t *testing.T) {
	root := loadDefaults(t)
	root.Reconnect.MaxAttempts = 7
	root.Reconnect.Jitter = false

	p := ReconnectPolicy(root)
	if p.MaxAttempts != 7 || p.Jitter {
		t.Errorf("Policy = %+v", p)
	}
	if p.MinBackoff != root.Reconnect.MinBackoff || p.CircuitBreakerTimeout != root.Reconnect.CircuitBreakerTimeout {
		t.Errorf("Policy = %+v", p)
	}
}

func TestLogConfig(t *testing.T) {
	root := loadDefaults(t)
	root.Log.Format = schema.LogFormatJSON
	if got := LogConfig(root); got.Format != "json" || got.Level != "info" || got.Output != "stderr" {
		t.Errorf("LogConfig() = %+v", got)
	}
}

func TestForwardSpecs(t *testing.T) {
	root := loadDefaults(t)
	root.Forwards = []schema.ForwardConfig{
		{Listen: "8080", Target: "web:80"},
		{Target: "ssh:22"},
	}
	specs, err := ForwardSpecs(root)
	if err != nil {
		t.Fatalf("ForwardSpecs() error = %v", err)
	}
	if specs[0].Listen != "127.0.0.1:8080" || specs[0].Target != "web:80" {
		t.Errorf("specs[0] = %+v", specs[0])
	}
	if specs[1].Listen != "127.0.0.1:2222" {
		t.Errorf("specs[1] = %+v", specs[1])
	}

	root.Forwards = []schema.ForwardConfig{{Listen: "8080", Target: "nohostport"}}
	if _, err := ForwardSpecs(root); err == nil {
		t.Error("ForwardSpecs() should reject a target without port")
	}
}

func TestDialServiceConfig(t *testing.T) {
	root := loadDefaults(t)
	root.Bridge.BandwidthLimit = 4096

	cfg := DialServiceConfig(root, corelog.NewNopLogger())
	if cfg.Allow != nil {
		t.Error("empty allow list should accept every target")
	}
	if cfg.DialTimeout != 10*time.Second {
		t.Errorf("DialTimeout = %v", cfg.DialTimeout)
	}
	if cfg.Bridge.BandwidthLimit != 4096 {
		t.Errorf("Bridge.BandwidthLimit = %d", cfg.Bridge.BandwidthLimit)
	}

	root.Dial.Allow = []string{"db:5432"}
	cfg = DialServiceConfig(root, corelog.NewNopLogger())
	if !cfg.Allow("db:5432") || cfg.Allow("db:5433") {
		t.Error("allow list not applied")
	}
}

func TestEndpointConfigs(t *testing.T) {
	root := loadDefaults(t)
	log := corelog.NewNopLogger()

	sc := ServerConfig(root, log, nil)
	if sc.Protocol != schema.ProtocolTCP || sc.Listen != source.DefaultServerListen {
		t.Errorf("ServerConfig() = %+v", sc)
	}
	cc := ClientConfig(root, log, nil)
	if cc.Address != source.DefaultClientAddress || cc.Policy.Factor != root.Reconnect.Factor {
		t.Errorf("ClientConfig() = %+v", cc)
	}
}
