package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/plugrpc/internal/config"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "hash":
		return runConfigHash(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: plugrpc config check <file>")
		return 1
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	fmt.Printf("Configuration valid: %s\n", cfg.SourcePath)
	fmt.Printf("blake3: %s\n", cfg.Fingerprint)
	return 0
}

func runConfigHash(args []string) int {
	var verify string

	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.StringVar(&verify, "verify", "", "Compare against this hash instead of printing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: plugrpc config hash [--verify <hash>] <file>")
		return 1
	}
	path := fs.Arg(0)

	if verify != "" {
		if err := config.VerifyFileHash(path, verify); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Println("OK")
		return 0
	}

	sum, err := config.Fingerprint(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash %s: %v\n", path, err)
		return 1
	}
	fmt.Printf("%s  %s\n", sum, path)
	return 0
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: plugrpc config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, hash")
}
