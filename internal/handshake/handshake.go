// Package handshake opens the plugin's listening endpoint and announces it to
// the host with a single line on stdout.
//
// Line format (pipe separated, newline terminated):
//
//	core-protocol-version|app-protocol-version|network|host:port|wire-format
//
// e.g. "1|2|tcp|127.0.0.1:40123|grpc". The host parses the first line of
// stdout strictly, so nothing may be written to stdout before or after it.
package handshake

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultCoreProtocol = 1
	DefaultHost         = "127.0.0.1"
	NetworkTCP          = "tcp"

	// DefaultWireFormat is what hosts built on go-plugin expect to see; they
	// reject anything other than "netrpc" or "grpc".
	DefaultWireFormat = "grpc"
)

// ErrAlreadyEmitted is returned when a second handshake line is attempted.
var ErrAlreadyEmitted = errors.New("handshake already emitted")

// Line is the bootstrap record announced on stdout.
type Line struct {
	CoreProtocol int
	AppProtocol  int
	Network      string
	Addr         string
	WireFormat   string
}

// String renders the line without the trailing newline.
func (l Line) String() string {
	return fmt.Sprintf("%d|%d|%s|%s|%s", l.CoreProtocol, l.AppProtocol, l.Network, l.Addr, l.WireFormat)
}

// Parse is the inverse of String. Trailing whitespace is ignored.
func Parse(raw string) (Line, error) {
	raw = strings.TrimRight(raw, "\r\n \t")
	parts := strings.Split(raw, "|")
	if len(parts) != 5 {
		return Line{}, fmt.Errorf("handshake: want 5 fields, got %d in %q", len(parts), raw)
	}

	core, err := strconv.Atoi(parts[0])
	if err != nil {
		return Line{}, fmt.Errorf("handshake: invalid core protocol %q", parts[0])
	}
	app, err := strconv.Atoi(parts[1])
	if err != nil {
		return Line{}, fmt.Errorf("handshake: invalid app protocol %q", parts[1])
	}
	if parts[2] != NetworkTCP && parts[2] != "unix" {
		return Line{}, fmt.Errorf("handshake: unsupported network %q", parts[2])
	}
	if parts[3] == "" {
		return Line{}, fmt.Errorf("handshake: empty address")
	}
	if parts[4] == "" {
		return Line{}, fmt.Errorf("handshake: empty wire format")
	}

	return Line{
		CoreProtocol: core,
		AppProtocol:  app,
		Network:      parts[2],
		Addr:         parts[3],
		WireFormat:   parts[4],
	}, nil
}

// Listen binds a TCP listener on host with an OS-assigned port.
func Listen(host string) (net.Listener, error) {
	if host == "" {
		host = DefaultHost
	}
	ln, err := net.Listen(NetworkTCP, net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", host, err)
	}
	return ln, nil
}

// NewLine builds the line announcing ln.
func NewLine(ln net.Listener, coreProtocol, appProtocol int, wireFormat string) Line {
	if wireFormat == "" {
		wireFormat = DefaultWireFormat
	}
	return Line{
		CoreProtocol: coreProtocol,
		AppProtocol:  appProtocol,
		Network:      NetworkTCP,
		Addr:         ln.Addr().String(),
		WireFormat:   wireFormat,
	}
}

// Emitter writes exactly one handshake line to w.
type Emitter struct {
	mu      sync.Mutex
	w       io.Writer
	emitted bool
}

// NewEmitter wraps w (normally os.Stdout).
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

// Emit writes the line in a single write and flushes it.
func (e *Emitter) Emit(line Line) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.emitted {
		return ErrAlreadyEmitted
	}
	e.emitted = true

	if _, err := io.WriteString(e.w, line.String()+"\n"); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return flush(e.w)
}

func flush(w io.Writer) error {
	switch f := w.(type) {
	case interface{ Flush() error }:
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush handshake: %w", err)
		}
	case interface{ Sync() error }:
		// Sync on a pipe or terminal returns EINVAL; the write already reached
		// the kernel, which is all the host needs.
		_ = f.Sync()
	}
	return nil
}
