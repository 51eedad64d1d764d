// Package serve wires the startup sequence of a plugin process: credential
// check, handshake, single accept, request loop and teardown.
package serve

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/dispatch"
	"github.com/mattjoyce/plugrpc/internal/gate"
	"github.com/mattjoyce/plugrpc/internal/handshake"
	"github.com/mattjoyce/plugrpc/internal/log"
)

// cleanupTimeout bounds Capability.Cleanup once the session is over.
const cleanupTimeout = 5 * time.Second

// Options configure Run. The zero value serves with the stock host's
// defaults on os.Stdout and the process environment.
type Options struct {
	Requirements  gate.Requirements
	ListenHost    string
	CoreProtocol  int
	WireFormat    string
	AcceptTimeout time.Duration
	Session       dispatch.Options

	// Stdout receives the handshake line. Nil means os.Stdout.
	Stdout io.Writer

	// Lookup reads the credential environment. Nil means os.LookupEnv.
	Lookup gate.LookupFunc

	// OnSession is called once the host connected, before the first request
	// is read.
	OnSession func(*dispatch.Session)

	// Verify checks the bound method table before the handshake is emitted.
	// An error stops Run.
	Verify func(*capability.Table) error
}

func (o *Options) setDefaults() {
	if o.Requirements == (gate.Requirements{}) {
		o.Requirements = gate.DefaultRequirements()
	}
	if o.CoreProtocol == 0 {
		o.CoreProtocol = handshake.DefaultCoreProtocol
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
}

// Run serves c for one host session. It returns an error only for failures
// before or while accepting the connection; the caller should exit non-zero
// in that case. A session that ends because the host went away, the transport
// failed or ctx was cancelled is a clean exit.
//
// Once the method table is bound, c.Cleanup is called before Run returns.
func Run(ctx context.Context, c capability.Capability, opts Options) error {
	opts.setDefaults()
	logger := log.WithComponent("serve")

	version, err := gate.Check(opts.Lookup, opts.Requirements)
	if err != nil {
		return err
	}

	table, err := capability.NewTable(c)
	if err != nil {
		return fmt.Errorf("bind capability: %w", err)
	}
	if opts.Verify != nil {
		if err := opts.Verify(table); err != nil {
			return fmt.Errorf("verify method table: %w", err)
		}
	}
	defer cleanup(ctx, c)

	ln, err := handshake.Listen(opts.ListenHost)
	if err != nil {
		return err
	}

	line := handshake.NewLine(ln, opts.CoreProtocol, version, opts.WireFormat)
	if err := handshake.NewEmitter(opts.Stdout).Emit(line); err != nil {
		_ = ln.Close()
		return err
	}
	logger.Info("handshake emitted", "addr", line.Addr, "app_protocol", version, "plugin", c.Identify())

	conn, err := acceptOne(ctx, ln, opts.AcceptTimeout)
	if err != nil {
		logger.Error("no host connection", "error", err)
		return err
	}

	session := dispatch.NewSession(conn, table, opts.Session)
	if opts.OnSession != nil {
		opts.OnSession(session)
	}
	if err := session.Serve(ctx); err != nil {
		logger.Warn("session ended on transport failure", "session_id", session.ID(), "error", err)
	}
	snap := session.Snapshot()
	logger.Info("session closed", "session_id", snap.ID, "requests", snap.Requests, "failures", snap.Failures)
	return nil
}

func cleanup(ctx context.Context, c capability.Capability) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := c.Cleanup(ctx); err != nil {
		log.WithComponent("serve").Warn("capability cleanup failed", "error", err)
	}
}
