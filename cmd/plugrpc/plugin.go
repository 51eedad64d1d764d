package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattjoyce/plugrpc/internal/capability"
	"github.com/mattjoyce/plugrpc/internal/hostclient"
	"github.com/mattjoyce/plugrpc/internal/plugin"
)

func runPluginNoun(args []string) int {
	if len(args) < 1 {
		printPluginNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printPluginNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printPluginCheckHelp()
			return 0
		}
		return runPluginCheck(actionArgs)
	case "list":
		if hasHelpFlag(actionArgs) {
			printPluginListHelp()
			return 0
		}
		return runPluginList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

func runPluginCheck(args []string) int {
	var root string
	var launch bool
	var timeout time.Duration

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&root, "root", "", "Directory the entrypoint must stay under (default: parent of <dir>)")
	fs.BoolVar(&launch, "launch", false, "Also launch the plugin and compare served operations")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "Timeout for --launch")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: plugrpc plugin check [--launch] [--root <dir>] <dir>")
		return 1
	}

	p, err := plugin.Load(fs.Arg(0), root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin check failed: %v\n", err)
		return 1
	}
	printPlugin(p)

	if !launch {
		fmt.Println("OK")
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	info, err := launchInfo(ctx, p.Entrypoint)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Launch failed: %v\n", err)
		return 1
	}
	if info.Name != p.Name {
		fmt.Fprintf(os.Stderr, "Plugin reports name %q, manifest says %q\n", info.Name, p.Name)
		return 1
	}
	if err := p.Manifest.VerifyNames(info.Operations); err != nil {
		fmt.Fprintf(os.Stderr, "Operation mismatch:\n%v\n", err)
		return 1
	}
	fmt.Printf("served:      %s\n", strings.Join(info.Operations, ", "))
	fmt.Println("OK")
	return 0
}

func launchInfo(ctx context.Context, entrypoint string) (*capability.Info, error) {
	client, err := hostclient.Launch(ctx, hostclient.LaunchOptions{Path: entrypoint})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	resp, err := client.Call(ctx, "GetInfo")
	if err != nil {
		return nil, err
	}
	if resp.Failed() {
		return nil, fmt.Errorf("GetInfo: %s", *resp.Error)
	}
	var info capability.Info
	if err := resp.DecodeResult(&info); err != nil {
		return nil, fmt.Errorf("decode GetInfo result: %w", err)
	}
	return &info, nil
}

func printPlugin(p *plugin.Plugin) {
	fmt.Printf("name:        %s\n", p.Name)
	fmt.Printf("version:     %s\n", p.Version)
	fmt.Printf("kind:        %s\n", p.Kind)
	fmt.Printf("protocol:    %d\n", p.Protocol)
	fmt.Printf("entrypoint:  %s\n", p.Entrypoint)
	fmt.Printf("operations:  %s\n", strings.Join(p.Manifest.Operations.Names(), ", "))
}

type pluginListEntry struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Kind       string   `json:"kind"`
	Path       string   `json:"path"`
	Operations []string `json:"operations"`
}

func runPluginList(args []string) int {
	var jsonOut, verbose bool

	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	fs.BoolVar(&verbose, "v", false, "Report skipped plugins on stderr")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: plugrpc plugin list [--json] [-v] <root>...")
		return 1
	}

	logger := func(level, msg string, kv ...any) {
		if verbose && level != "info" {
			fmt.Fprintf(os.Stderr, "%s: %s %v\n", level, msg, kv)
		}
	}
	registry, err := plugin.Discover(fs.Args(), logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Plugin discovery error: %v\n", err)
		return 1
	}

	plugins := registry.Sorted()
	entries := make([]pluginListEntry, 0, len(plugins))
	for _, p := range plugins {
		entries = append(entries, pluginListEntry{
			Name:       p.Name,
			Version:    p.Version,
			Kind:       string(p.Kind),
			Path:       p.Path,
			Operations: p.Manifest.Operations.Names(),
		})
	}

	if jsonOut {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	if len(entries) == 0 {
		fmt.Println("No plugins found.")
		return 0
	}
	for _, e := range entries {
		fmt.Printf("%-20s %-10s %-10s %s\n", e.Name, e.Version, e.Kind, strings.Join(e.Operations, ","))
	}
	return 0
}

func printPluginNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: plugrpc plugin <action>")
	fmt.Fprintln(w, "Actions: check, list")
}

func printPluginCheckHelp() {
	fmt.Println("Usage: plugrpc plugin check [--launch] [--timeout 10s] [--root <dir>] <dir>")
	fmt.Println()
	fmt.Println("Validates manifest.yaml, entrypoint trust and declared operations.")
	fmt.Println("With --launch the plugin is started and its GetInfo operations are")
	fmt.Println("compared with the manifest.")
}

func printPluginListHelp() {
	fmt.Println("Usage: plugrpc plugin list [--json] [-v] <root>...")
	fmt.Println()
	fmt.Println("Scans each root for manifest.yaml files. When two plugins share a")
	fmt.Println("name the first one discovered wins.")
}
