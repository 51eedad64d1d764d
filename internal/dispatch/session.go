package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/log"
	"github.com/mattjoyce/plugrpc/internal/protocol"
)

// maxLoggedFrame caps how much of a malformed frame ends up in the log.
const maxLoggedFrame = 256

// Observer receives session events. Calls happen on the session goroutine and
// must not block.
type Observer interface {
	StateChanged(state State)
	RequestHandled(method string, outcome capability.OutcomeKind, elapsed time.Duration)
	MalformedFrame()
}

type nopObserver struct{}

func (nopObserver) StateChanged(State)                                           {}
func (nopObserver) RequestHandled(string, capability.OutcomeKind, time.Duration) {}
func (nopObserver) MalformedFrame()                                              {}

// Options tune a Session. Zero durations disable the corresponding deadline.
type Options struct {
	IdleTimeout    time.Duration
	CallTimeout    time.Duration
	MaxFrameBytes  int
	FailureMarkers []string
	Observer       Observer
}

// Snapshot is a point-in-time view of a session, safe to take from any
// goroutine.
type Snapshot struct {
	ID        string    `json:"id"`
	State     State     `json:"state"`
	Remote    string    `json:"remote"`
	StartedAt time.Time `json:"started_at"`
	Requests  uint64    `json:"requests"`
	Failures  uint64    `json:"failures"`
	Malformed uint64    `json:"malformed"`
}

// Session serves requests from one connection, strictly in arrival order.
// Each response is written before the next request is read.
type Session struct {
	id         string
	conn       net.Conn
	table      *capability.Table
	translator *Translator
	opts       Options
	observer   Observer
	logger     *slog.Logger
	startedAt  time.Time

	state     atomic.Int32
	requests  atomic.Uint64
	failures  atomic.Uint64
	malformed atomic.Uint64
}

// NewSession takes ownership of conn.
func NewSession(conn net.Conn, table *capability.Table, opts Options) *Session {
	id := uuid.New().String()
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Session{
		id:         id,
		conn:       conn,
		table:      table,
		translator: NewTranslator(opts.FailureMarkers),
		opts:       opts,
		observer:   observer,
		logger:     log.WithSession(id).With("component", "dispatch"),
		startedAt:  time.Now(),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Snapshot returns the session's counters and state.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.id,
		State:     s.State(),
		Remote:    s.conn.RemoteAddr().String(),
		StartedAt: s.startedAt,
		Requests:  s.requests.Load(),
		Failures:  s.failures.Load(),
		Malformed: s.malformed.Load(),
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.observer.StateChanged(st)
}

// Serve runs the loop until the peer closes the connection (nil), ctx is
// cancelled (nil) or the transport fails (the error). The connection is
// closed on return.
func (s *Session) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()
	defer func() {
		_ = s.conn.Close()
		s.setState(StateClosed)
	}()

	s.logger.Info("session started", "remote", s.conn.RemoteAddr().String())
	reader := protocol.NewReader(s.conn, s.opts.MaxFrameBytes)

	for {
		s.setState(StateAwaitingRequest)
		if s.opts.IdleTimeout > 0 {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
				return s.transportError(ctx, "set read deadline", err)
			}
		}

		frame, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("peer closed connection", "requests", s.requests.Load())
				return nil
			}
			return s.transportError(ctx, "read request", err)
		}

		s.setState(StateDecoding)
		var resp *protocol.Response
		req, err := protocol.DecodeRequest(frame)
		if err != nil {
			s.malformed.Add(1)
			s.observer.MalformedFrame()
			var reqErr *protocol.RequestError
			if !errors.As(err, &reqErr) {
				s.logger.Warn("discarding malformed frame", "error", err, "frame", excerpt(frame))
				continue
			}
			s.logger.Warn("invalid request", "error", reqErr.Err, "id", string(reqErr.ID), "frame", excerpt(frame))
			resp = s.reject(reqErr)
		} else {
			resp = s.handle(ctx, req)
		}

		s.setState(StateSending)
		if err := protocol.EncodeResponse(s.conn, resp); err != nil {
			return s.transportError(ctx, "write response", err)
		}
	}
}

func (s *Session) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		s.logger.Info("session cancelled", "requests", s.requests.Load())
		return nil
	}
	s.logger.Error("transport failure", "op", op, "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

// reject answers a request object that could not be decoded.
func (s *Session) reject(reqErr *protocol.RequestError) *protocol.Response {
	msg := fmt.Sprintf("invalid request: %v", reqErr.Err)
	s.requests.Add(1)
	s.failures.Add(1)
	s.table.Stats().Record(msg)
	s.observer.RequestHandled("invalid", capability.OutcomeFailure, 0)
	return protocol.ErrorResponse(reqErr.ID, msg)
}

// handle resolves, invokes and translates one request. It never returns nil.
func (s *Session) handle(ctx context.Context, req *protocol.Request) (resp *protocol.Response) {
	start := time.Now()
	name := capability.BareName(req.Method)
	label := name
	s.requests.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("operation panicked", "method", name, "panic", r, "stack", string(debug.Stack()))
			resp = protocol.ErrorResponse(req.ID, fmt.Sprintf("call %s failed: %v", name, r))
		}
		kind := outcomeOf(resp)
		errMsg := ""
		if kind == capability.OutcomeFailure {
			s.failures.Add(1)
			errMsg = *resp.Error
		}
		s.table.Stats().Record(errMsg)
		s.observer.RequestHandled(label, kind, time.Since(start))
	}()

	s.setState(StateResolving)
	op, err := s.table.Resolve(req.Method)
	if err != nil {
		label = "unknown"
		s.logger.Warn("unknown method", "method", req.Method)
		return protocol.ErrorResponse(req.ID, fmt.Sprintf("method %s not found", name))
	}

	s.setState(StateInvoking)
	callCtx := ctx
	if s.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.CallTimeout)
		defer cancel()
	}
	out := op.Call(callCtx, capability.Args(req.Params))

	s.setState(StateEncoding)
	resp = s.translator.Translate(req.ID, out)
	if resp.Failed() {
		s.logger.Debug("call failed", "method", name, "error", *resp.Error)
	} else {
		s.logger.Debug("call succeeded", "method", name, "duration_ms", time.Since(start).Milliseconds())
	}
	return resp
}

func outcomeOf(resp *protocol.Response) capability.OutcomeKind {
	switch {
	case resp.Failed():
		return capability.OutcomeFailure
	case resp.HasResult():
		return capability.OutcomeValue
	default:
		return capability.OutcomeVoid
	}
}

func excerpt(frame []byte) string {
	if len(frame) > maxLoggedFrame {
		return string(frame[:maxLoggedFrame]) + "..."
	}
	return string(frame)
}
