package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/plugrpc/internal/config"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	outCh := make(chan string, 1)
	errCh := make(chan string, 1)
	go func() { b, _ := io.ReadAll(stdoutR); outCh <- string(b) }()
	go func() { b, _ := io.ReadAll(stderrR); errCh <- string(b) }()

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout, stderr := <-outCh, <-errCh
	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, stdout, stderr
}

func runCLIForTest(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

func setVersionMetadataForTest(t *testing.T, v, commit, built string) {
	t.Helper()

	origVersion := version
	origCommit := gitCommit
	origBuildDate := buildDate

	version = v
	gitCommit = commit
	buildDate = built

	t.Cleanup(func() {
		version = origVersion
		gitCommit = origCommit
		buildDate = origBuildDate
	})
}

func TestRunVersionJSON(t *testing.T) {
	setVersionMetadataForTest(t, "1.4.0", "0123456789abcdef", "2026-03-01T10:00:00+02:00")

	code, stdout, stderr := runCLIForTest(t, "version", "--json")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if info.Version != "1.4.0" {
		t.Errorf("version = %q", info.Version)
	}
	if info.Commit != "0123456789ab" {
		t.Errorf("commit = %q, want shortened", info.Commit)
	}
	if info.BuildTime != "2026-03-01T08:00:00Z" {
		t.Errorf("build time = %q, want UTC", info.BuildTime)
	}
}

func TestRunVersionHuman(t *testing.T) {
	setVersionMetadataForTest(t, "1.4.0", "abc", "not-a-date")

	code, stdout, _ := runCLIForTest(t, "--version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout, "plugrpc 1.4.0") || !strings.Contains(stdout, "built_at: unknown") {
		t.Errorf("unexpected output: %q", stdout)
	}
}

func TestUnknownCommandsFail(t *testing.T) {
	tests := [][]string{
		{},
		{"frobnicate"},
		{"plugin"},
		{"plugin", "explode"},
		{"config", "lock"},
		{"call", "only-entrypoint"},
		{"version", "extra"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, "_"), func(t *testing.T) {
			code, _, _ := runCLIForTest(t, args...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
		})
	}
}

func TestHelpExitsZero(t *testing.T) {
	for _, args := range [][]string{{"help"}, {"plugin", "help"}, {"plugin", "check", "--help"}, {"call", "-h"}, {"config", "--help"}} {
		code, stdout, _ := runCLIForTest(t, args...)
		if code != 0 || stdout == "" {
			t.Errorf("%v: exit code = %d, stdout = %q", args, code, stdout)
		}
	}
}

func writeFile(t *testing.T, path, body string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatal(err)
	}
}

func TestConfigHashAndVerify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugrpc.yaml")
	writeFile(t, path, "log:\n  level: debug\n", 0o644)
	want, err := config.Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}

	code, stdout, _ := runCLIForTest(t, "config", "hash", path)
	if code != 0 || !strings.HasPrefix(stdout, want) {
		t.Fatalf("hash: code=%d stdout=%q want prefix %s", code, stdout, want)
	}

	code, stdout, _ = runCLIForTest(t, "config", "hash", "--verify", strings.ToUpper(want), path)
	if code != 0 || strings.TrimSpace(stdout) != "OK" {
		t.Errorf("verify: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr := runCLIForTest(t, "config", "hash", "--verify", strings.Repeat("f", 64), path)
	if code != 1 || !strings.Contains(stderr, "hash mismatch") {
		t.Errorf("mismatch: code=%d stderr=%q", code, stderr)
	}
}

func TestConfigCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	writeFile(t, good, "session:\n  idle_timeout: 30s\n", 0o644)
	bad := filepath.Join(dir, "bad.yaml")
	writeFile(t, bad, "plugin:\n  wire_format: carrier-pigeon\n", 0o644)

	code, stdout, _ := runCLIForTest(t, "config", "check", good)
	if code != 0 || !strings.Contains(stdout, "Configuration valid") {
		t.Errorf("good: code=%d stdout=%q", code, stdout)
	}

	code, _, stderr := runCLIForTest(t, "config", "check", bad)
	if code != 1 || !strings.Contains(stderr, "wire_format") {
		t.Errorf("bad: code=%d stderr=%q", code, stderr)
	}
}

const manifestTemplate = `name: %s
version: 1.0.0
kind: notify
protocol: 2
entrypoint: run.sh
operations:
  - name: Send
    arity: 2
    returns: void
`

func writePlugin(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	writeFile(t, filepath.Join(dir, "manifest.yaml"), fmt.Sprintf(manifestTemplate, name), 0o644)
	writeFile(t, filepath.Join(dir, "run.sh"), "#!/bin/sh\nexit 0\n", 0o755)
	return dir
}

func TestPluginCheck(t *testing.T) {
	root := t.TempDir()
	dir := writePlugin(t, root, "notify")

	code, stdout, stderr := runCLIForTest(t, "plugin", "check", dir)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	for _, want := range []string{"name:        notify", "operations:  Send", "OK"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("output missing %q:\n%s", want, stdout)
		}
	}

	if err := os.Chmod(filepath.Join(dir, "run.sh"), 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr = runCLIForTest(t, "plugin", "check", dir)
	if code != 1 || !strings.Contains(stderr, "not executable") {
		t.Errorf("non-executable: code=%d stderr=%q", code, stderr)
	}
}

func TestPluginList(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "zeta")
	writePlugin(t, root, "alpha")
	writeFile(t, filepath.Join(root, "broken", "manifest.yaml"), "name: [", 0o644)

	code, stdout, stderr := runCLIForTest(t, "plugin", "list", "--json", root)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr = %s", code, stderr)
	}
	var entries []pluginListEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].Name != "zeta" {
		t.Errorf("entries = %+v", entries)
	}

	code, _, stderr = runCLIForTest(t, "plugin", "list", "-v", root)
	if code != 0 || !strings.Contains(stderr, "failed to load plugin") {
		t.Errorf("verbose: code=%d stderr=%q", code, stderr)
	}

	code, _, _ = runCLIForTest(t, "plugin", "list", filepath.Join(root, "missing"))
	if code != 1 {
		t.Errorf("missing root: code=%d", code)
	}
}

func TestBuildParams(t *testing.T) {
	params, err := buildParams([]string{`"hello"`, `{"subject":"x"}`}, false)
	if err != nil {
		t.Fatal(err)
	}
	if string(params[0]) != `"\"hello\""` || string(params[1]) != `"{\"subject\":\"x\"}"` {
		t.Errorf("params = %s", params)
	}

	params, err = buildParams([]string{`null`, `[1,2]`}, true)
	if err != nil {
		t.Fatal(err)
	}
	if string(params[0]) != "null" || string(params[1]) != "[1,2]" {
		t.Errorf("raw params = %s", params)
	}

	if _, err := buildParams([]string{`{nope`}, true); err == nil {
		t.Error("expected error for invalid raw JSON")
	}
}
