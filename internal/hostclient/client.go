// Package hostclient is the host side of the plugin protocol: it launches a
// plugin process, reads its handshake line, connects and issues calls.
package hostclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/mattjoyce/plugrpc/internal/handshake"
	"github.com/mattjoyce/plugrpc/internal/log"
	"github.com/mattjoyce/plugrpc/internal/protocol"
)

// ErrIDMismatch is returned when a response answers a different request.
var ErrIDMismatch = errors.New("response id does not match request")

// Client issues calls over one plugin connection. Calls are serialized: the
// protocol answers requests strictly in order.
type Client struct {
	line   handshake.Line
	conn   net.Conn
	reader *protocol.Reader
	logger *slog.Logger

	mu     sync.Mutex
	nextID int64

	proc      *process
	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the address announced in line.
func Dial(ctx context.Context, line handshake.Line, maxFrameBytes int) (*Client, error) {
	if line.Network != "tcp" {
		return nil, fmt.Errorf("unsupported network %q", line.Network)
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, line.Network, line.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial plugin at %s: %w", line.Addr, err)
	}
	return &Client{
		line:   line,
		conn:   conn,
		reader: protocol.NewReader(conn, maxFrameBytes),
		logger: log.WithComponent("hostclient").With("addr", line.Addr),
	}, nil
}

// Line returns the handshake the client connected with.
func (c *Client) Line() handshake.Line { return c.line }

// Call sends method with params and waits for its response. A failed call is
// a response with Failed() true, not an error; errors are transport or
// framing problems after which the client should be closed.
func (c *Client) Call(ctx context.Context, method string, params ...json.RawMessage) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := json.RawMessage(strconv.FormatInt(c.nextID, 10))
	if params == nil {
		params = []json.RawMessage{}
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := protocol.EncodeRequest(c.conn, &protocol.Request{Method: method, Params: params, ID: id}); err != nil {
		return nil, c.wrapCtx(ctx, err)
	}

	frame, err := c.reader.Next()
	if err != nil {
		return nil, c.wrapCtx(ctx, fmt.Errorf("read response: %w", err))
	}
	resp, err := protocol.DecodeResponse(frame)
	if err != nil {
		return nil, err
	}
	if string(resp.ID) != string(id) {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrIDMismatch, id, resp.ID)
	}

	c.logger.Debug("call completed", "method", method, "id", string(id), "failed", resp.Failed())
	return resp, nil
}

// CallJSON calls method with params already encoded as JSON text, which is how
// hosts pass documents.
func (c *Client) CallJSON(ctx context.Context, method string, docs ...string) (*protocol.Response, error) {
	params := make([]json.RawMessage, len(docs))
	for i, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		params[i] = b
	}
	return c.Call(ctx, method, params...)
}

func (c *Client) wrapCtx(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

// Stderr returns what the plugin wrote to stderr so far, capped. Empty for
// dialed clients.
func (c *Client) Stderr() string {
	if c.proc == nil {
		return ""
	}
	return c.proc.stderr.String()
}

// Close closes the connection and, for launched plugins, waits for the
// process to exit, escalating to SIGTERM and then SIGKILL.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		err := c.conn.Close()
		if c.proc != nil {
			err = errors.Join(err, c.proc.stop(c.logger))
		}
		c.closeErr = err
	})
	return c.closeErr
}

// ExitCode returns the plugin's exit code once it has exited, or -1.
func (c *Client) ExitCode() int {
	if c.proc == nil {
		return -1
	}
	return c.proc.exitCode()
}
