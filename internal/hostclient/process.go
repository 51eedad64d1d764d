package hostclient

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/plugrpc/internal/gate"
	"github.com/mattjoyce/plugrpc/internal/handshake"
	"github.com/mattjoyce/plugrpc/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr kept from the plugin.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultExitWait         = 2 * time.Second
)

// ErrHandshake wraps every failure to obtain a usable handshake line.
var ErrHandshake = errors.New("plugin handshake failed")

// LaunchOptions describe how to start a plugin.
type LaunchOptions struct {
	Path string
	Args []string

	// Env is added to the current environment, after which the cookie and
	// versions variables from Requirements are set.
	Env          []string
	Requirements gate.Requirements

	// Versions overrides the offered application protocol versions; empty
	// offers Requirements.AppProtocol only.
	Versions []int

	HandshakeTimeout time.Duration

	// ExitWait is how long Close waits for a voluntary exit before SIGTERM.
	ExitWait time.Duration

	MaxFrameBytes int
}

func (o *LaunchOptions) setDefaults() {
	if o.Requirements == (gate.Requirements{}) {
		o.Requirements = gate.DefaultRequirements()
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ExitWait <= 0 {
		o.ExitWait = defaultExitWait
	}
}

func (o *LaunchOptions) environ() []string {
	versions := o.Versions
	if len(versions) == 0 {
		versions = []int{o.Requirements.AppProtocol}
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = strconv.Itoa(v)
	}

	env := append(os.Environ(), o.Env...)
	return append(env,
		o.Requirements.CookieKey+"="+o.Requirements.CookieValue,
		o.Requirements.VersionsKey+"="+strings.Join(parts, ","),
	)
}

// process is a running plugin.
type process struct {
	cmd    *exec.Cmd
	stderr *cappedBuffer
	done   chan struct{}
	err    error
	wait   time.Duration
}

// Launch starts the plugin, waits for its handshake line and connects.
func Launch(ctx context.Context, opts LaunchOptions) (*Client, error) {
	opts.setDefaults()
	logger := log.WithComponent("hostclient").With("entrypoint", opts.Path)

	// Not CommandContext: termination is managed by stop.
	cmd := exec.Command(opts.Path, opts.Args...)
	cmd.Env = opts.environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr := &cappedBuffer{limit: maxStderrBytes}
	cmd.Stderr = stderr

	logger.Debug("spawning plugin")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process: %w", err)
	}

	proc := &process{cmd: cmd, stderr: stderr, done: make(chan struct{}), wait: opts.ExitWait}
	lines := make(chan lineResult, 1)
	go proc.run(stdout, lines)

	var raw lineResult
	timer := time.NewTimer(opts.HandshakeTimeout)
	defer timer.Stop()
	select {
	case raw = <-lines:
	case <-timer.C:
		raw.err = fmt.Errorf("no handshake within %s", opts.HandshakeTimeout)
	case <-ctx.Done():
		raw.err = ctx.Err()
	}

	fail := func(err error) (*Client, error) {
		_ = proc.stop(logger)
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			return nil, fmt.Errorf("%w: %w (stderr: %s)", ErrHandshake, err, tail)
		}
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if raw.err != nil {
		return fail(raw.err)
	}
	line, err := handshake.Parse(raw.line)
	if err != nil {
		return fail(err)
	}
	if line.AppProtocol != opts.Requirements.AppProtocol {
		return fail(fmt.Errorf("plugin speaks protocol %d, want %d", line.AppProtocol, opts.Requirements.AppProtocol))
	}

	client, err := Dial(ctx, line, opts.MaxFrameBytes)
	if err != nil {
		return fail(err)
	}
	client.proc = proc
	client.logger = logger.With("addr", line.Addr)
	logger.Debug("plugin connected", "addr", line.Addr, "pid", cmd.Process.Pid)
	return client, nil
}

type lineResult struct {
	line string
	err  error
}

// run reads the handshake line, drains the rest of stdout and then reaps the
// process. Wait must not be called before stdout is fully read.
func (p *process) run(stdout io.Reader, lines chan<- lineResult) {
	br := bufio.NewReader(stdout)
	line, err := br.ReadString('\n')
	switch {
	case err == nil:
		lines <- lineResult{line: line}
	case errors.Is(err, io.EOF):
		lines <- lineResult{err: fmt.Errorf("plugin closed stdout before the handshake")}
	default:
		lines <- lineResult{err: fmt.Errorf("read handshake: %w", err)}
	}
	_, _ = io.Copy(io.Discard, br)

	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *process) exitCode() int {
	if !p.exited() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// stop waits for the process to exit on its own, then escalates to SIGTERM
// and finally SIGKILL.
func (p *process) stop(logger *slog.Logger) error {
	wait := time.NewTimer(p.wait)
	defer wait.Stop()
	select {
	case <-p.done:
		return p.exitErr()
	case <-wait.C:
	}

	logger.Warn("plugin still running, sending SIGTERM")
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Error("failed to send SIGTERM", "error", err)
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()
	select {
	case <-p.done:
		logger.Info("plugin exited after SIGTERM")
	case <-grace.C:
		logger.Warn("plugin did not exit after SIGTERM, sending SIGKILL")
		if err := p.cmd.Process.Kill(); err != nil {
			logger.Error("failed to send SIGKILL", "error", err)
		}
		<-p.done
	}
	return p.exitErr()
}

func (p *process) exitErr() error {
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		if exitErr.Exited() {
			return fmt.Errorf("plugin exited with status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("plugin terminated: %s", exitErr.ProcessState.String())
	}
	return p.err
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
