package serve

import (
	"github.com/mattjoyce/plugrpc/internal/config"
	"github.com/mattjoyce/plugrpc/internal/dispatch"
	"github.com/mattjoyce/plugrpc/internal/gate"
)

// OptionsFromConfig maps the runtime config onto Run options. Stdout, Lookup,
// OnSession and the session observer are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Requirements: gate.Requirements{
			CookieKey:   cfg.Gate.CookieKey,
			CookieValue: cfg.Gate.CookieValue,
			VersionsKey: cfg.Gate.VersionsKey,
			AppProtocol: cfg.Gate.AppProtocol,
		},
		ListenHost:    cfg.Plugin.ListenHost,
		CoreProtocol:  cfg.Plugin.CoreProtocol,
		WireFormat:    cfg.Plugin.WireFormat,
		AcceptTimeout: cfg.Session.AcceptTimeout,
		Session: dispatch.Options{
			IdleTimeout:    cfg.Session.IdleTimeout,
			CallTimeout:    cfg.Session.CallTimeout,
			MaxFrameBytes:  cfg.Session.MaxFrameBytes,
			FailureMarkers: cfg.Session.FailureMarkers,
		},
	}
}
