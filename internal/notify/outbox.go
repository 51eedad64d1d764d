package notify

import (
	"context"

	"github.com/mattjoyce/plugrpc/internal/storage"
)

// outboxChannel records every message in a local SQLite delivery log.
// Identical messages on the same channel are recorded once.
type outboxChannel struct {
	name string
	box  *storage.Outbox
}

func openOutboxChannel(ctx context.Context, cc ChannelConfig) (*outboxChannel, error) {
	box, err := storage.OpenOutbox(ctx, cc.Path)
	if err != nil {
		return nil, err
	}
	return &outboxChannel{name: cc.Name, box: box}, nil
}

func (c *outboxChannel) Name() string { return c.name }

func (c *outboxChannel) Deliver(ctx context.Context, msg Message) error {
	_, err := c.box.Record(ctx, storage.Delivery{
		ID:        msg.ID,
		Channel:   c.name,
		Plugin:    msg.Plugin,
		Subject:   msg.Subject,
		Body:      msg.Text,
		Payload:   msg.Payload,
		CreatedAt: msg.CreatedAt,
	})
	return err
}

func (c *outboxChannel) Close() error {
	return c.box.Close()
}
