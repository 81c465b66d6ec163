// Package config turns a loaded configuration into the settings used at runtime.
//
// Loading and validation live in the loader, source and validator subpackages.
package config

import (
	"slices"

	"kq-tunnel/internal/config/schema"
	corelog "kq-tunnel/internal/core/log"
	"kq-tunnel/internal/mux/reconnect"
	"kq-tunnel/internal/mux/session"
	"kq-tunnel/internal/tunnel"
)

// SessionConfig builds the session settings
func SessionConfig(root *schema.Root, logger corelog.Logger) session.Config {
	cfg := session.DefaultConfig()
	s := root.Session
	cfg.MaxPayload = s.MaxFrameSize
	cfg.InitialWindow = s.InitialWindow
	cfg.WindowUpdateRatio = s.WindowUpdateRatio
	cfg.Resumable = s.Resumable
	cfg.BacklogWatermark = s.BacklogWatermark
	cfg.ResumeTimeout = s.ResumeTimeout
	cfg.KeepaliveInterval = s.KeepaliveInterval
	cfg.KeepaliveTimeout = s.KeepaliveTimeout
	cfg.HandshakeTimeout = s.HandshakeTimeout
	cfg.DrainTimeout = s.DrainTimeout
	cfg.AcceptBacklog = s.AcceptBacklog
	cfg.Logger = logger
	return cfg
}

// ReconnectPolicy builds the client reconnect policy
func ReconnectPolicy(root *schema.Root) reconnect.Policy {
	r := root.Reconnect
	return reconnect.Policy{
		MaxAttempts:             r.MaxAttempts,
		MinBackoff:              r.MinBackoff,
		MaxBackoff:              r.MaxBackoff,
		Factor:                  r.Factor,
		Jitter:                  r.Jitter,
		CircuitBreakerThreshold: r.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   r.CircuitBreakerTimeout,
	}
}

// LogConfig builds the logger settings
func LogConfig(root *schema.Root) corelog.Config {
	return corelog.Config{
		Level:  root.Log.Level,
		Format: root.Log.Format,
		Output: root.Log.Output,
		File:   root.Log.File,
	}
}

// ForwardSpecs parses the configured forwards
func ForwardSpecs(root *schema.Root) ([]tunnel.ForwardSpec, error) {
	specs := make([]tunnel.ForwardSpec, 0, len(root.Forwards))
	for _, f := range root.Forwards {
		spec, err := tunnel.ParseForwardSpec(f.Listen + "=" + f.Target)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// BridgeOptions builds the byte bridging options
func BridgeOptions(root *schema.Root) tunnel.BridgeOptions {
	return tunnel.BridgeOptions{BandwidthLimit: root.Bridge.BandwidthLimit}
}

// DialServiceConfig builds the settings for answering accepted streams
//
// An empty allow list accepts every target.
func DialServiceConfig(root *schema.Root, logger corelog.Logger) tunnel.DialServiceConfig {
	cfg := tunnel.DialServiceConfig{
		Target:      root.Dial.Target,
		DialTimeout: root.Dial.Timeout,
		Bridge:      BridgeOptions(root),
		Logger:      logger,
	}
	if len(root.Dial.Allow) > 0 {
		allow := slices.Clone(root.Dial.Allow)
		cfg.Allow = func(target string) bool {
			return slices.Contains(allow, target)
		}
	}
	return cfg
}

// ServerConfig builds the server endpoint settings
func ServerConfig(root *schema.Root, logger corelog.Logger, observer tunnel.Observer) tunnel.ServerConfig {
	return tunnel.ServerConfig{
		Protocol: root.Transport.Protocol,
		Listen:   root.Transport.Listen,
		Session:  SessionConfig(root, logger),
		Observer: observer,
		Logger:   logger,
	}
}

// ClientConfig builds the client endpoint settings
func ClientConfig(root *schema.Root, logger corelog.Logger, observer tunnel.Observer) tunnel.ClientConfig {
	return tunnel.ClientConfig{
		Protocol: root.Transport.Protocol,
		Address:  root.Transport.Address,
		Session:  SessionConfig(root, logger),
		Policy:   ReconnectPolicy(root),
		Observer: observer,
		Logger:   logger,
	}
}
