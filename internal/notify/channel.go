package notify

import (
	"context"
	"fmt"
	"net/http"
)

// Channel delivers messages to one target.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
	Close() error
}

// deps carries what channels share with the notifier.
type deps struct {
	plugin     string
	jsonOutput bool
	httpClient *http.Client
}

func openChannel(ctx context.Context, cc ChannelConfig, d deps) (Channel, error) {
	switch cc.Type {
	case TypeLog:
		return newLogChannel(cc.Name, d.plugin, d.jsonOutput), nil
	case TypeWebhook:
		return newWebhookChannel(cc, d.httpClient), nil
	case TypeRedis:
		return openRedisChannel(ctx, cc)
	case TypeOutbox:
		return openOutboxChannel(ctx, cc)
	default:
		return nil, fmt.Errorf("unknown channel type %q", cc.Type)
	}
}
