package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by the runtime.
const (
	EnvConfigPath = "PLUGRPC_CONFIG"
	EnvLogLevel   = "PLUGRPC_LOG_LEVEL"
	EnvLogFormat  = "PLUGRPC_LOG_FORMAT"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values not set in the
// file keep their Defaults(); ${VAR} references are expanded from the
// environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	cfg.Fingerprint = FingerprintBytes(data)
	return cfg, nil
}

// Parse decodes YAML over Defaults(), applies environment overrides and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, then $PLUGRPC_CONFIG, and otherwise
// returns validated defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		return Load(path)
	}
	return Parse(nil)
}

// ApplyEnv overrides logging settings from the environment.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogFormat); ok && strings.TrimSpace(v) != "" {
		cfg.Log.Format = strings.ToLower(strings.TrimSpace(v))
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Unset variables are left in place so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
