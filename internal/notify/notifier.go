// Package notify implements the notification capability: messages handed over
// by the host are delivered to a configurable set of channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"text/template"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/log"
)

// ErrClosed is returned by sends after Cleanup and before the next Initialize.
var ErrClosed = errors.New("notifier is closed")

// Identity is what the notifier reports through the base contract.
type Identity struct {
	Name        string
	Description string
	Version     string
	Kind        capability.Kind
}

// Notifier is a capability.Capability. It starts with a single log channel so
// sends work before Initialize.
type Notifier struct {
	id     Identity
	logger *slog.Logger

	mu       sync.RWMutex
	cfg      *Config
	channels []Channel
}

var _ capability.Capability = (*Notifier)(nil)

// New creates a notifier with the default configuration.
func New(id Identity) *Notifier {
	if id.Kind == "" {
		id.Kind = capability.KindNotify
	}
	n := &Notifier{id: id, logger: log.WithPlugin(id.Name).With("component", "notify")}
	n.cfg = defaultConfig()
	n.channels = []Channel{newLogChannel("log", id.Name, false)}
	return n
}

func (n *Notifier) Identify() string      { return n.id.Name }
func (n *Notifier) Describe() string      { return n.id.Description }
func (n *Notifier) Version() string       { return n.id.Version }
func (n *Notifier) Kind() capability.Kind { return n.id.Kind }

// Initialize replaces the configuration. The new channels are opened before
// anything is swapped, so a failure keeps the previous configuration live.
func (n *Notifier) Initialize(ctx context.Context, raw json.RawMessage) error {
	cfg, err := parseConfig(raw)
	if err != nil {
		return err
	}

	d := deps{
		plugin:     n.id.Name,
		jsonOutput: cfg.JSON,
		httpClient: &http.Client{Timeout: cfg.timeout},
	}
	openCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	opened := make([]Channel, 0, len(cfg.Channels))
	for _, cc := range cfg.Channels {
		ch, err := openChannel(openCtx, cc, d)
		if err != nil {
			closeAll(opened, n.logger)
			return fmt.Errorf("open channel %q: %w", cc.Name, err)
		}
		opened = append(opened, ch)
	}

	n.mu.Lock()
	old := n.channels
	n.cfg = cfg
	n.channels = opened
	n.mu.Unlock()

	closeAll(old, n.logger)
	n.logger.Info("notifier initialized", "channels", channelNames(opened), "prefix", cfg.Prefix)
	return nil
}

// Cleanup closes every channel. Calling it again is a no-op.
func (n *Notifier) Cleanup(context.Context) error {
	n.mu.Lock()
	old := n.channels
	n.channels = nil
	n.mu.Unlock()

	var errs []error
	for _, ch := range old {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel %q: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Operations returns Send, SendTemplate and SendBatch.
func (n *Notifier) Operations() []capability.Operation {
	return []capability.Operation{
		{Name: "Send", Arity: 2, Optional: 1, Returns: capability.ShapeVoid, Invoke: n.send},
		{Name: "SendTemplate", Arity: 3, Optional: 2, Returns: capability.ShapeVoid, Invoke: n.sendTemplate},
		{Name: "SendBatch", Arity: 2, Optional: 1, Returns: capability.ShapeVoid, Invoke: n.sendBatch},
	}
}

func (n *Notifier) send(ctx context.Context, args capability.Args) capability.Outcome {
	opts, err := sendOptions(args, 1)
	if err != nil {
		return capability.FromError(err)
	}
	doc, err := messageDoc(args, 0)
	if err != nil {
		return capability.FromError(err)
	}
	return capability.FromError(n.deliver(ctx, opts, doc))
}

func (n *Notifier) sendTemplate(ctx context.Context, args capability.Args) capability.Outcome {
	text, err := args.String(0)
	if err != nil {
		return capability.FromError(err)
	}
	var data any
	if err := args.Decode(1, &data); err != nil {
		return capability.FromError(fmt.Errorf("template data: %w", err))
	}
	opts, err := sendOptions(args, 2)
	if err != nil {
		return capability.FromError(err)
	}

	tmpl, err := template.New("message").Option("missingkey=zero").Parse(text)
	if err != nil {
		return capability.FromError(fmt.Errorf("parse template: %w", err))
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return capability.FromError(fmt.Errorf("render template: %w", err))
	}

	doc, err := json.Marshal(buf.String())
	if err != nil {
		return capability.FromError(err)
	}
	return capability.FromError(n.deliver(ctx, opts, doc))
}

func (n *Notifier) sendBatch(ctx context.Context, args capability.Args) capability.Outcome {
	opts, err := sendOptions(args, 1)
	if err != nil {
		return capability.FromError(err)
	}
	doc, err := args.JSON(0)
	if err != nil {
		return capability.FromError(err)
	}
	if doc == nil {
		return capability.Void()
	}
	var batch []json.RawMessage
	if doc[0] != '[' || json.Unmarshal(doc, &batch) != nil {
		return capability.Fail("messages must be a JSON array")
	}

	var errs []error
	for i, item := range batch {
		if err := n.deliver(ctx, opts, item); err != nil {
			errs = append(errs, fmt.Errorf("message %d: %w", i, err))
		}
	}
	return capability.FromError(errors.Join(errs...))
}

// deliver sends one message to every selected channel. All channels are tried
// even when one fails.
func (n *Notifier) deliver(ctx context.Context, opts SendOptions, doc json.RawMessage) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.channels == nil {
		return ErrClosed
	}
	targets, err := selectChannels(n.channels, opts.Channels)
	if err != nil {
		return err
	}

	msg := newMessage(n.id.Name, n.cfg.Prefix, opts.Subject, doc)
	var errs []error
	for _, ch := range targets {
		callCtx, cancel := context.WithTimeout(ctx, n.cfg.timeout)
		err := ch.Deliver(callCtx, msg)
		cancel()
		if err != nil {
			n.logger.Warn("delivery failed", "channel", ch.Name(), "message_id", msg.ID, "error", err)
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name(), err))
			continue
		}
		n.logger.Debug("delivered", "channel", ch.Name(), "message_id", msg.ID)
	}
	return errors.Join(errs...)
}

func selectChannels(all []Channel, names []string) ([]Channel, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Channel, len(all))
	for _, ch := range all {
		byName[ch.Name()] = ch
	}
	out := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		out = append(out, ch)
	}
	return out, nil
}

// messageDoc reads the message argument. Hosts pass JSON text inside a string;
// a string that is not JSON text is taken as the message itself.
func messageDoc(args capability.Args, i int) (json.RawMessage, error) {
	doc, err := args.JSON(i)
	if err == nil {
		return doc, nil
	}
	text, serr := args.String(i)
	if serr != nil {
		return nil, err
	}
	return json.Marshal(text)
}

func sendOptions(args capability.Args, i int) (SendOptions, error) {
	var opts SendOptions
	if err := args.Decode(i, &opts); err != nil {
		return opts, fmt.Errorf("options: %w", err)
	}
	return opts, nil
}

func closeAll(channels []Channel, logger *slog.Logger) {
	for _, ch := range channels {
		if err := ch.Close(); err != nil {
			logger.Warn("failed to close channel", "channel", ch.Name(), "error", err)
		}
	}
}

func channelNames(channels []Channel) string {
	names := make([]string, 0, len(channels))
	for _, ch := range channels {
		names = append(names, ch.Name())
	}
	return strings.Join(names, ",")
}
