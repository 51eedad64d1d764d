package config

import "time"

// Config represents the complete plugrpc runtime configuration.
type Config struct {
	Plugin  PluginConfig  `yaml:"plugin"`
	Gate    GateConfig    `yaml:"gate"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Status  StatusConfig  `yaml:"status"`

	// SourcePath and Fingerprint describe the file the config came from.
	// Both are empty for Defaults().
	SourcePath  string `yaml:"-"`
	Fingerprint string `yaml:"-"`
}

// PluginConfig controls the advertised endpoint.
type PluginConfig struct {
	ListenHost   string `yaml:"listen_host"`
	WireFormat   string `yaml:"wire_format"`
	CoreProtocol int    `yaml:"core_protocol"`
}

// GateConfig names the credential the host must pass in the environment.
type GateConfig struct {
	CookieKey   string `yaml:"cookie_key"`
	CookieValue string `yaml:"cookie_value"`
	VersionsKey string `yaml:"versions_key"`
	AppProtocol int    `yaml:"app_protocol"`
}

// SessionConfig tunes the request loop. Zero timeouts disable the deadline.
type SessionConfig struct {
	AcceptTimeout  time.Duration `yaml:"accept_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	MaxFrameBytes  int           `yaml:"max_frame_bytes"`
	FailureMarkers []string      `yaml:"failure_markers"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StatusConfig defines the optional loopback status server.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config matching what the stock host expects.
func Defaults() *Config {
	return &Config{
		Plugin: PluginConfig{
			ListenHost:   "127.0.0.1",
			WireFormat:   "grpc",
			CoreProtocol: 1,
		},
		Gate: GateConfig{
			CookieKey:   "ARCADE_RPC_PLUGIN",
			CookieValue: "arcade-rpc-plugin-protocol",
			VersionsKey: "PLUGIN_PROTOCOL_VERSIONS",
			AppProtocol: 2,
		},
		Session: SessionConfig{
			MaxFrameBytes:  4 << 20,
			FailureMarkers: []string{"错误", "失败"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Status: StatusConfig{
			Enabled: false,
			Listen:  "127.0.0.1:0",
		},
	}
}
