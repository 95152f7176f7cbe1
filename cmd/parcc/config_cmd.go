package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/parcc/internal/config"
	"github.com/mattjoyce/parcc/internal/resolve"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return exitUsage
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return exitOK
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return exitOK
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return exitOK
		}
		return runConfigLock(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return exitUsage
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: parcc config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: parcc config check [--config PATH] [--strict]")
	fmt.Println("Validate the manifest, verify locked checksums when present, and resolve every unit.")
	fmt.Println("With --strict a missing checksums file is an error.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: parcc config lock [--config PATH]")
	fmt.Println("Write BLAKE3 hashes of the manifest and its includes to " + config.ChecksumsFilename + ".")
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to parcc.yaml or its directory")
	strict := fs.Bool("strict", false, "Require a checksums file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return exitUsage
	}

	if _, statErr := os.Stat(filepath.Join(cfg.Dir, config.ChecksumsFilename)); statErr == nil || *strict {
		if err := config.Verify(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Integrity check failed: %v\n", err)
			return exitUsage
		}
	} else {
		fmt.Fprintf(os.Stderr, "Warning: %s not found; integrity not checked\n", config.ChecksumsFilename)
	}

	set, err := resolve.Resolve(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Resolution failed: %v\n", err)
		return exitUsage
	}
	if err := set.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Resolution failed: %v\n", err)
		return exitUsage
	}

	fmt.Printf("Configuration valid: %s (%d units)\n", cfg.Path, set.Len())
	return exitOK
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to parcc.yaml or its directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitUsage
	}

	manifest, err := config.Lock(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return exitUsage
	}
	fmt.Printf("Locked %d file(s) in %s\n", len(manifest.Hashes), filepath.Join(cfg.Dir, config.ChecksumsFilename))
	return exitOK
}
