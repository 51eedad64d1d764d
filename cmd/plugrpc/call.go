package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mattjoyce/plugrpc/internal/hostclient"
	"github.com/mattjoyce/plugrpc/internal/log"
	"github.com/mattjoyce/plugrpc/internal/protocol"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string     { return fmt.Sprint(*s) }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runCall(args []string) int {
	var initConfig string
	var raw, showStderr bool
	var timeout time.Duration
	var env stringList

	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	fs.StringVar(&initConfig, "init", "", "Call Initialize with this config first (JSON text)")
	fs.BoolVar(&raw, "raw", false, "Send params as raw JSON values instead of JSON text strings")
	fs.BoolVar(&showStderr, "stderr", false, "Print the plugin's stderr after the call")
	fs.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	fs.Var(&env, "env", "Extra KEY=VALUE for the plugin environment (repeatable)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() < 2 {
		printCallHelp()
		return 1
	}
	log.Setup("ERROR", "text")

	entrypoint, method := fs.Arg(0), fs.Arg(1)
	params, err := buildParams(fs.Args()[2:], raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid param: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client, err := hostclient.Launch(ctx, hostclient.LaunchOptions{Path: entrypoint, Env: env})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Launch failed: %v\n", err)
		return 1
	}
	code := callOnce(ctx, client, initConfig, method, params)

	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Plugin exit: %v\n", err)
	}
	if showStderr {
		fmt.Fprint(os.Stderr, client.Stderr())
	}
	return code
}

func callOnce(ctx context.Context, client *hostclient.Client, initConfig, method string, params []json.RawMessage) int {
	if initConfig != "" {
		resp, err := client.CallJSON(ctx, "Initialize", initConfig)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Initialize: %v\n", err)
			return 1
		}
		if resp.Failed() {
			fmt.Fprintf(os.Stderr, "Initialize failed: %s\n", *resp.Error)
			return 1
		}
	}

	resp, err := client.Call(ctx, method, params...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Call failed: %v\n", err)
		return 1
	}
	if err := printResponse(resp); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render response: %v\n", err)
		return 1
	}

	if _, err := client.Call(ctx, "Cleanup"); err != nil {
		fmt.Fprintf(os.Stderr, "Cleanup: %v\n", err)
	}
	if resp.Failed() {
		return 2
	}
	return 0
}

// buildParams turns CLI arguments into call params. By default each argument
// is JSON text and is sent as a JSON string, the way hosts pass documents.
func buildParams(args []string, raw bool) ([]json.RawMessage, error) {
	params := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		if raw {
			if !json.Valid([]byte(arg)) {
				return nil, fmt.Errorf("param %d is not valid JSON", i)
			}
			params = append(params, json.RawMessage(arg))
			continue
		}
		b, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		params = append(params, b)
	}
	return params, nil
}

func printResponse(resp *protocol.Response) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func printCallHelp() {
	fmt.Println("Usage: plugrpc call [--init <json>] [--raw] [--env K=V] [--timeout 30s] <entrypoint> <method> [param...]")
	fmt.Println()
	fmt.Println("Launches the plugin as a host would, optionally initializes it, makes")
	fmt.Println("one call and prints the response. Exit status is 2 when the call")
	fmt.Println("itself failed.")
	fmt.Println()
	fmt.Println("Example:")
	fmt.Println(`  plugrpc call ./plugins/notify/notify Send '"hello"' '{"subject":"demo"}'`)
}
