package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Channel types.
const (
	TypeLog     = "log"
	TypeWebhook = "webhook"
	TypeRedis   = "redis"
	TypeOutbox  = "outbox"
)

const defaultTimeout = 10 * time.Second

// Config is what the host passes to Init.
type Config struct {
	Prefix   string          `json:"prefix"`
	JSON     bool            `json:"json"`
	Timeout  string          `json:"timeout"`
	Channels []ChannelConfig `json:"channels"`

	timeout time.Duration
}

// ChannelConfig declares one delivery target.
type ChannelConfig struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// webhook
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Secret  string            `json:"secret"`

	// redis: URL is the server; Channel is the pub/sub channel or list key.
	Channel string `json:"channel"`
	Mode    string `json:"mode"`

	// outbox
	Path string `json:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Channels: []ChannelConfig{{Name: "log", Type: TypeLog}},
		timeout:  defaultTimeout,
	}
}

// parseConfig accepts null, a JSON object, or a JSON string holding an
// object. The result is fully validated; nothing is opened here.
func parseConfig(raw json.RawMessage) (*Config, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return defaultConfig(), nil
	}

	if raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		raw = bytes.TrimSpace([]byte(text))
		if len(raw) == 0 {
			return defaultConfig(), nil
		}
	}

	if raw[0] != '{' {
		return nil, fmt.Errorf("parse config: want a JSON object")
	}
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.timeout = defaultTimeout
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.timeout = d
	}

	if len(c.Channels) == 0 {
		c.Channels = defaultConfig().Channels
	}

	seen := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Name == "" {
			ch.Name = ch.Type
		}
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name or type is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate name %q", i, ch.Name)
		}
		seen[ch.Name] = true

		if err := ch.validate(); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}
	return nil
}

func (ch *ChannelConfig) validate() error {
	switch ch.Type {
	case TypeLog:
		return nil
	case TypeWebhook:
		u, err := url.Parse(ch.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("url must be an http(s) URL")
		}
		return nil
	case TypeRedis:
		if ch.URL == "" {
			return fmt.Errorf("url is required")
		}
		if ch.Channel == "" {
			return fmt.Errorf("channel is required")
		}
		if ch.Mode != "" && ch.Mode != redisModePublish && ch.Mode != redisModeList {
			return fmt.Errorf("mode must be %q or %q", redisModePublish, redisModeList)
		}
		return nil
	case TypeOutbox:
		if ch.Path == "" {
			return fmt.Errorf("path is required")
		}
		return nil
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown type %q", ch.Type)
	}
}

// SendOptions is the opts argument of every send operation.
type SendOptions struct {
	Channels []string `json:"channels"`
	Subject  string   `json:"subject"`
}
