package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrAccept wraps every failure to obtain the host connection.
var ErrAccept = errors.New("accept host connection")

// acceptOne waits for the single host connection and closes ln afterwards,
// whatever the result. Cancelling ctx or reaching timeout (when > 0) unblocks
// the wait.
func acceptOne(ctx context.Context, ln net.Listener, timeout time.Duration) (net.Conn, error) {
	defer ln.Close()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	conn, err := ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrAccept, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrAccept, err)
	}
	return conn, nil
}
