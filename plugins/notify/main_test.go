package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/config"
	"github.com/mattjoyce/plugrpc/internal/gate"
	"github.com/mattjoyce/plugrpc/internal/handshake"
	"github.com/mattjoyce/plugrpc/internal/hostclient"
	"github.com/mattjoyce/plugrpc/internal/notify"
)

func TestEmbeddedManifestMatchesServedOperations(t *testing.T) {
	id, m, err := identity()
	require.NoError(t, err)
	assert.Equal(t, "notify", id.Name)
	assert.Equal(t, capability.KindNotify, id.Kind)

	table, err := capability.NewTable(notify.New(id))
	require.NoError(t, err)
	assert.NoError(t, m.Verify(table))
}

func TestVersionFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--version"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.True(t, strings.HasPrefix(stdout.String(), "notify "), stdout.String())
}

func TestFlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown flag", args: []string{"--nope"}, want: "Flag error"},
		{name: "positional", args: []string{"extra"}, want: "unexpected arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tt.want)
			assert.Empty(t, stdout.String())
		})
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugrpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigErrors(t *testing.T) {
	good := writeConfig(t, "log:\n  level: error\n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "missing file", args: []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, want: "Config error"},
		{name: "bad yaml", args: []string{"--config", writeConfig(t, "session:\n  bogus: 1\n")}, want: "Config error"},
		{name: "hash mismatch", args: []string{"--config", good, "--config-sha", strings.Repeat("0", 64)}, want: "hash mismatch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tt.want)
			assert.Empty(t, stdout.String(), "nothing may reach stdout before the handshake")
		})
	}
}

func TestUntrustedLaunchExitsWithoutHandshake(t *testing.T) {
	t.Setenv(gate.DefaultCookieKey, "wrong")
	t.Setenv(gate.DefaultVersionsKey, "2")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--log-format", "text"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "trusted host")
}

func TestServesOneSession(t *testing.T) {
	t.Setenv(gate.DefaultCookieKey, gate.DefaultCookieValue)
	t.Setenv(gate.DefaultVersionsKey, "1,2")

	cfgPath := writeConfig(t, "log:\n  level: error\n")
	sum, err := config.Fingerprint(cfgPath)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pr, pw := io.Pipe()
	codes := make(chan int, 1)
	go func() {
		codes <- run(ctx, []string{"--config", cfgPath, "--config-sha", sum}, pw, io.Discard)
		_ = pw.Close()
	}()

	raw, err := bufio.NewReader(pr).ReadString('\n')
	require.NoError(t, err)
	go func() { _, _ = io.Copy(io.Discard, pr) }()
	line, err := handshake.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 2, line.AppProtocol)

	client, err := hostclient.Dial(ctx, line, 0)
	require.NoError(t, err)

	resp, err := client.CallJSON(ctx, "Initialize", "")
	require.NoError(t, err)
	require.False(t, resp.Failed())

	resp, err = client.CallJSON(ctx, "Send", `"hello"`, "")
	require.NoError(t, err)
	assert.False(t, resp.Failed())

	resp, err = client.Call(ctx, "Kind")
	require.NoError(t, err)
	assert.JSONEq(t, `"notify"`, string(resp.Result))

	require.NoError(t, client.Close())
	select {
	case code := <-codes:
		assert.Equal(t, 0, code)
	case <-ctx.Done():
		t.Fatal("plugin did not exit after the host disconnected")
	}
}
