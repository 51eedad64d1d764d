package notify

import (
	"context"
	"log/slog"

	"github.com/mattjoyce/plugrpc/internal/log"
)

// logChannel writes messages to the process log, which goes to stderr.
type logChannel struct {
	name       string
	jsonOutput bool
	logger     *slog.Logger
}

func newLogChannel(name, plugin string, jsonOutput bool) *logChannel {
	return &logChannel{
		name:       name,
		jsonOutput: jsonOutput,
		logger:     log.WithPlugin(plugin).With("component", "notify", "channel", name),
	}
}

func (c *logChannel) Name() string { return c.name }

func (c *logChannel) Deliver(_ context.Context, msg Message) error {
	if c.jsonOutput {
		c.logger.Info("notification", "message", msg)
		return nil
	}
	attrs := []any{"id", msg.ID, "text", msg.Text}
	if msg.Subject != "" {
		attrs = append(attrs, "subject", msg.Subject)
	}
	c.logger.Info("notification", attrs...)
	return nil
}

func (c *logChannel) Close() error { return nil }
