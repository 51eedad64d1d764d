package config

import (
	"fmt"
	"net"
)

const minFrameBytes = 1024

var (
	validLogLevels   = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats  = map[string]bool{"json": true, "text": true}
	validWireFormats = map[string]bool{"grpc": true, "netrpc": true}
)

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Plugin.ListenHost == "" {
		return fmt.Errorf("plugin.listen_host is required")
	}
	if !validWireFormats[cfg.Plugin.WireFormat] {
		return fmt.Errorf("plugin.wire_format must be one of: grpc, netrpc (got %q)", cfg.Plugin.WireFormat)
	}
	if cfg.Plugin.CoreProtocol <= 0 {
		return fmt.Errorf("plugin.core_protocol must be positive")
	}

	if err := validateGate(cfg.Gate); err != nil {
		return err
	}

	s := cfg.Session
	if s.AcceptTimeout < 0 || s.IdleTimeout < 0 || s.CallTimeout < 0 {
		return fmt.Errorf("session timeouts must not be negative")
	}
	if s.MaxFrameBytes < minFrameBytes {
		return fmt.Errorf("session.max_frame_bytes must be at least %d (got %d)", minFrameBytes, s.MaxFrameBytes)
	}

	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error (got %q)", cfg.Log.Level)
	}
	if !validLogFormats[cfg.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text (got %q)", cfg.Log.Format)
	}

	if cfg.Status.Enabled {
		if err := validateLoopback(cfg.Status.Listen); err != nil {
			return fmt.Errorf("status.listen: %w", err)
		}
	}
	return nil
}

func validateGate(g GateConfig) error {
	fields := []struct {
		name, value string
	}{
		{"gate.cookie_key", g.CookieKey},
		{"gate.cookie_value", g.CookieValue},
		{"gate.versions_key", g.VersionsKey},
	}
	for _, f := range fields {
		if f.value == "" {
			return fmt.Errorf("%s is required", f.name)
		}
		if matches := envVarPattern.FindStringSubmatch(f.value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", f.name, matches[1])
		}
	}
	if g.AppProtocol <= 0 {
		return fmt.Errorf("gate.app_protocol must be positive")
	}
	return nil
}

// validateLoopback accepts host:port only when host is a loopback address.
func validateLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%q is not a loopback address", host)
	}
	return nil
}
