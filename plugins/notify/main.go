// Command notify is a notification plugin. It is launched by a host, prints
// one handshake line on stdout and serves a single host connection.
package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/config"
	"github.com/mattjoyce/plugrpc/internal/log"
	"github.com/mattjoyce/plugrpc/internal/metrics"
	"github.com/mattjoyce/plugrpc/internal/notify"
	"github.com/mattjoyce/plugrpc/internal/plugin"
	"github.com/mattjoyce/plugrpc/internal/serve"
	"github.com/mattjoyce/plugrpc/internal/status"
)

//go:embed manifest.yaml
var manifestYAML []byte

// version overrides the manifest version when set at link time.
var version = ""

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type flags struct {
	configPath string
	configSHA  string
	logLevel   string
	logFormat  string
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("notify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.configPath, "config", "", "Path to runtime config YAML (default $"+config.EnvConfigPath+")")
	fs.StringVar(&f.configSHA, "config-sha", "", "Expected BLAKE3 hash of the config file")
	fs.StringVar(&f.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Override log format (json, text)")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func identity() (notify.Identity, *plugin.Manifest, error) {
	m, err := plugin.ParseManifest(manifestYAML)
	if err != nil {
		return notify.Identity{}, nil, err
	}
	id := notify.Identity{
		Name:        m.Name,
		Description: m.Description,
		Version:     m.Version,
		Kind:        capability.Kind(m.Kind),
	}
	if version != "" {
		id.Version = version
	}
	return id, m, nil
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.configSHA != "" {
		if cfg.SourcePath == "" {
			return nil, errors.New("--config-sha requires a config file")
		}
		if err := config.VerifyFileHash(cfg.SourcePath, f.configSHA); err != nil {
			return nil, err
		}
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	return cfg, nil
}

// run returns the process exit code: 0 once a session has ended, 1 when the
// plugin could not get as far as serving a host.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Flag error: %v\n", err)
		return 1
	}

	id, manifest, err := identity()
	if err != nil {
		fmt.Fprintf(stderr, "Embedded manifest: %v\n", err)
		return 1
	}
	if f.version {
		fmt.Fprintf(stdout, "%s %s\n", id.Name, id.Version)
		return 0
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	log.SetOutput(stderr, cfg.Log.Level, cfg.Log.Format)
	logger := log.WithPlugin(id.Name)
	if cfg.SourcePath != "" {
		logger.Info("config loaded", "path", cfg.SourcePath, "blake3", cfg.Fingerprint)
	}

	n := notify.New(id)
	recorder := metrics.New(id.Name, id.Version)
	tracker := &status.Tracker{}

	opts := serve.OptionsFromConfig(cfg)
	opts.Stdout = stdout
	opts.Session.Observer = recorder
	opts.OnSession = tracker.Track
	opts.Verify = func(table *capability.Table) error {
		if err := manifest.Verify(table); err != nil {
			return fmt.Errorf("manifest does not match served operations: %w", err)
		}
		return nil
	}

	if cfg.Status.Enabled {
		statusCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		srv := status.New(status.Config{
			Listen:  cfg.Status.Listen,
			Plugin:  id.Name,
			Version: id.Version,
		}, tracker, recorder.Handler(), log.WithComponent("status"))
		go func() {
			if err := srv.Start(statusCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	if err := serve.Run(ctx, n, opts); err != nil {
		logger.Error("plugin failed to serve", "error", err)
		return 1
	}
	return 0
}
