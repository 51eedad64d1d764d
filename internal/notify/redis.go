package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	redisModePublish = "publish"
	redisModeList    = "list"
)

// redisChannel publishes each message to a pub/sub channel, or appends it to
// a list when mode is "list".
type redisChannel struct {
	name   string
	target string
	mode   string
	client redis.UniversalClient
}

func openRedisChannel(ctx context.Context, cc ChannelConfig) (*redisChannel, error) {
	opts, err := parseRedisURL(cc.URL)
	if err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	mode := cc.Mode
	if mode == "" {
		mode = redisModePublish
	}
	return &redisChannel{name: cc.Name, target: cc.Channel, mode: mode, client: client}, nil
}

// parseRedisURL accepts host:port, redis:// and rediss:// addresses.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	if u.Path != "" && u.Path != "/" {
		db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/"))
		if err != nil {
			return nil, fmt.Errorf("redis: invalid db: %v", err)
		}
		opts.DB = db
	}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func (c *redisChannel) Name() string { return c.name }

func (c *redisChannel) Deliver(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if c.mode == redisModeList {
		if err := c.client.RPush(ctx, c.target, b).Err(); err != nil {
			return fmt.Errorf("redis rpush %s: %w", c.target, err)
		}
		return nil
	}
	if err := c.client.Publish(ctx, c.target, b).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", c.target, err)
	}
	return nil
}

func (c *redisChannel) Close() error {
	return c.client.Close()
}
