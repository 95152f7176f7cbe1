package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/parcc/internal/config"
	"github.com/mattjoyce/parcc/internal/log"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// Exit codes.
const (
	exitOK          = 0
	exitUsage       = 1
	exitBuildFailed = 2
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return exitUsage
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	case "build":
		if len(args) > 0 && args[0] == "inspect" {
			return runInspect(args[1:])
		}
		if hasHelpFlag(args) {
			printBuildHelp()
			return exitOK
		}
		return runBuild(args)
	case "plan":
		if hasHelpFlag(args) {
			printPlanHelp()
			return exitOK
		}
		return runPlan(args)
	case "config":
		return runConfigNoun(args)
	case "inspect":
		return runInspect(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return exitUsage
	}
}

func printUsage() {
	fmt.Print(`parcc - parallel compilation dispatcher for C/C++ translation units

Usage:
  parcc <command> [flags]

Build Commands:
  build             Compile every stale unit across the physical cores
  build inspect     Show a recorded build (latest when no id is given)
  plan              Show which units would compile, without compiling

Config Commands:
  config check      Validate the manifest and resolve every unit
  config lock       Record BLAKE3 hashes of the manifest and its includes

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Exit codes:
  0  Success
  1  Usage, configuration or resolution error
  2  One or more units failed to compile
`)
}

func printBuildHelp() {
	fmt.Println("Usage: parcc build [--config PATH] [--force] [--jobs N] [--fail-fast] [--verify] [--json] [-v]")
	fmt.Println("Compile every stale translation unit on a pool sized to the physical cores.")
}

func printPlanHelp() {
	fmt.Println("Usage: parcc plan [--config PATH] [--force] [--json]")
	fmt.Println("List the units a build would compile and those already current.")
}

func printInspectHelp() {
	fmt.Println("Usage: parcc build inspect [build-id] [--config PATH] [--json] [-v]")
	fmt.Println("Show a recorded build from the ledger. Without an id the latest build is shown.")
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: parcc version [--json]")
		return exitUsage
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return exitUsage
		}
		fmt.Println(string(data))
		return exitOK
	}

	fmt.Printf("parcc %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return exitOK
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if t, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = t
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// loadConfig discovers, loads and validates the manifest, then sets up
// logging from it.
func loadConfig(flagPath string) (*config.Config, error) {
	path, err := config.Discover(flagPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.SetupWriter(os.Stderr, cfg.Service.LogLevel, cfg.Service.LogFormat)
	return cfg, nil
}
