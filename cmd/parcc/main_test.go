package main

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/parcc/internal/config"
	"github.com/mattjoyce/parcc/internal/log"
	"github.com/mattjoyce/parcc/internal/report"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

const fakeCompiler = `#!/bin/sh
out=""
src=""
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift ;;
    -c) src="$2"; shift ;;
  esac
  shift
done
if grep -q SYNTAX_ERROR "$src"; then
  echo "$src:1:1: error: expected ';' before '}' token" >&2
  exit 1
fi
cat "$src" > "$out"
`

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	require.NoError(t, err)
	stderrR, stderrW, err := os.Pipe()
	require.NoError(t, err)

	os.Stdout = stdoutW
	os.Stderr = stderrW

	outCh := make(chan string)
	errCh := make(chan string)
	go func() {
		b, _ := io.ReadAll(stdoutR)
		outCh <- string(b)
	}()
	go func() {
		b, _ := io.ReadAll(stderrR)
		errCh <- string(b)
	}()

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

func runCapture(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	return captureOutputWithExitCode(t, func() int { return runCLI(args) })
}

// writeProject lays out a manifest, a stand-in compiler and the given sources.
func writeProject(t *testing.T, sources map[string]string, extraBuild string) string {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "fakecc.sh"), []byte(fakeCompiler), 0o755))

	var list []string
	for name, body := range sources {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		list = append(list, name)
	}
	slices.Sort(list)

	manifest := "service:\n  log_level: error\n" +
		"build:\n" +
		"  compiler: ./fakecc.sh\n" +
		"  output_dir: build/obj\n" +
		"  sources: [" + strings.Join(list, ", ") + "]\n" +
		extraBuild
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFilename), []byte(manifest), 0o644))
	return dir
}

func decodeReport(t *testing.T, stdout string) report.Report {
	t.Helper()
	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &r), "stdout: %s", stdout)
	return r
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := runCapture(t, "frobnicate")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown command: frobnicate")
}

func TestRunCLINoArgs(t *testing.T) {
	code, stdout, _ := runCapture(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stdout, "Usage:")
}

func TestRunVersionJSON(t *testing.T) {
	orig := version
	version = "1.2.3"
	t.Cleanup(func() { version = orig })

	code, stdout, _ := runCapture(t, "version", "--json")
	require.Equal(t, exitOK, code)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &info))
	assert.Equal(t, "1.2.3", info.Version)
}

func TestNormalizeBuildTimeUTC(t *testing.T) {
	got, ok := normalizeBuildTimeUTC("2026-01-02T03:04:05+02:00")
	require.True(t, ok)
	assert.Equal(t, "2026-01-02T01:04:05Z", got)

	_, ok = normalizeBuildTimeUTC("unknown")
	assert.False(t, ok)
}

func TestBuildCompilesThenSkipsCurrentUnits(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"src/a.c":     "int a;\n",
		"src/b.c":     "int b;\n",
		"src/sub/c.c": "int c;\n",
	}, "")

	code, stdout, stderr := runCapture(t, "build", "--config", dir, "--json")
	require.Equal(t, exitOK, code, "stderr: %s", stderr)
	first := decodeReport(t, stdout)
	assert.Equal(t, "succeeded", first.Status)
	assert.Equal(t, 3, first.Compiled)
	assert.GreaterOrEqual(t, first.PoolSize, 1)

	for _, obj := range []string{"src/a.o", "src/b.o", "src/sub/c.o"} {
		assert.FileExists(t, filepath.Join(dir, "build", "obj", obj))
	}

	code, stdout, stderr = runCapture(t, "build", "--config", dir, "--json")
	require.Equal(t, exitOK, code, "stderr: %s", stderr)
	second := decodeReport(t, stdout)
	assert.Equal(t, 0, second.Compiled)
	assert.Equal(t, 3, second.Skipped)

	code, stdout, _ = runCapture(t, "build", "--config", dir, "--json", "--force", "--jobs", "1")
	require.Equal(t, exitOK, code)
	forced := decodeReport(t, stdout)
	assert.Equal(t, 3, forced.Compiled)
	assert.Equal(t, 1, forced.PoolSize)
}

func TestBuildFailureExitCodeAndDiagnostics(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.c": "int a;\n",
		"b.c": "SYNTAX_ERROR\n",
		"c.c": "int c;\n",
	}, "")

	code, stdout, _ := runCapture(t, "build", "--config", dir, "--json")
	require.Equal(t, exitBuildFailed, code)

	r := decodeReport(t, stdout)
	assert.Equal(t, "failed", r.Status)
	assert.Equal(t, 2, r.Compiled)
	assert.Equal(t, 1, r.Failed)
	assert.Equal(t, "1 of 3 units failed", r.Error)
	for _, u := range r.Units {
		if strings.HasSuffix(u.Source, "b.c") {
			assert.Equal(t, "failed", u.Status)
			assert.Contains(t, u.Diagnostic, "expected ';'")
		}
	}

	code, stdout, _ = runCapture(t, "build", "inspect", "--config", dir, "--json")
	require.Equal(t, exitOK, code)
	stored := decodeReport(t, stdout)
	assert.Equal(t, r.BuildID, stored.BuildID)
	assert.Equal(t, "failed", stored.Status)

	code, stdout, _ = runCapture(t, "inspect", r.BuildID, "--config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, r.BuildID)
	assert.Contains(t, stdout, "expected ';'")
}

func TestBuildRejectsCollidingObjects(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"x.c":   "int x;\n",
		"x.cpp": "int y;\n",
	}, "")

	code, _, stderr := runCapture(t, "build", "--config", dir)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "duplicate object path")
	assert.NoFileExists(t, filepath.Join(dir, "build", "obj", "x.o"))
}

func TestBuildWithLedgerDisabled(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.c": "int a;\n"}, "")
	manifest := filepath.Join(dir, config.DefaultFilename)
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(manifest, append(data, []byte("state:\n  disabled: true\n")...), 0o644))

	code, stdout, _ := runCapture(t, "build", "--config", dir, "--json")
	require.Equal(t, exitOK, code)
	assert.Equal(t, 1, decodeReport(t, stdout).Compiled)
	assert.NoFileExists(t, filepath.Join(dir, ".parcc", "ledger.db"))

	code, _, stderr := runCapture(t, "inspect", "--config", dir)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "disabled")
}

func TestPlanReportsStaleUnits(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"a.c": "int a;\n",
		"b.c": "int b;\n",
	}, "")

	code, stdout, _ := runCapture(t, "plan", "--config", dir, "--json")
	require.Equal(t, exitOK, code)
	var entries []report.PlanEntry
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Stale)
	assert.True(t, entries[1].Stale)
	assert.NoDirExists(t, filepath.Join(dir, "build"), "plan must not compile")

	code, _, _ = runCapture(t, "build", "--config", dir)
	require.Equal(t, exitOK, code)

	code, stdout, _ = runCapture(t, "plan", "--config", dir, "--json")
	require.Equal(t, exitOK, code)
	require.NoError(t, json.Unmarshal([]byte(stdout), &entries))
	assert.False(t, entries[0].Stale)
	assert.False(t, entries[1].Stale)
}

func TestConfigCheckAndLock(t *testing.T) {
	dir := writeProject(t, map[string]string{"a.c": "int a;\n"}, "")

	code, stdout, stderr := runCapture(t, "config", "check", "--config", dir)
	require.Equal(t, exitOK, code, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Configuration valid")
	assert.Contains(t, stdout, "(1 units)")
	assert.Contains(t, stderr, "integrity not checked")

	code, _, _ = runCapture(t, "config", "check", "--config", dir, "--strict")
	assert.Equal(t, exitUsage, code)

	code, stdout, _ = runCapture(t, "config", "lock", "--config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Locked 1 file(s)")

	code, _, _ = runCapture(t, "config", "check", "--config", dir, "--strict")
	assert.Equal(t, exitOK, code)

	code, _, _ = runCapture(t, "build", "--config", dir, "--verify")
	assert.Equal(t, exitOK, code)

	manifest := filepath.Join(dir, config.DefaultFilename)
	f, err := os.OpenFile(manifest, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("# edited\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	code, _, stderr = runCapture(t, "build", "--config", dir, "--verify")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "hash mismatch")
}

func TestConfigCheckInvalidManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.DefaultFilename), []byte("build:\n  jobs: -3\n"), 0o644))

	code, _, stderr := runCapture(t, "config", "check", "--config", dir)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "build.jobs")
}

func TestConfigNounHelpAndUnknownAction(t *testing.T) {
	code, stdout, _ := runCapture(t, "config", "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "check, lock")

	code, _, stderr := runCapture(t, "config", "nope")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Unknown config action")
}

func TestBuildHeaderChangesHonourIncludeScan(t *testing.T) {
	for _, tt := range []struct {
		name     string
		extra    string
		compiled int
	}{
		{name: "scanned by default", compiled: 1},
		{name: "scan disabled", extra: "  include_scan: false\n", compiled: 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeProject(t, map[string]string{"a.c": "#include \"a.h\"\nint a;\n"}, tt.extra)
			header := filepath.Join(dir, "a.h")
			require.NoError(t, os.WriteFile(header, []byte("#define A 1\n"), 0o644))
			past := time.Now().Add(-time.Hour)
			require.NoError(t, os.Chtimes(header, past, past))
			require.NoError(t, os.Chtimes(filepath.Join(dir, "a.c"), past, past))

			code, _, stderr := runCapture(t, "build", "--config", dir)
			require.Equal(t, exitOK, code, "stderr: %s", stderr)

			future := time.Now().Add(time.Hour)
			require.NoError(t, os.Chtimes(header, future, future))

			code, stdout, _ := runCapture(t, "build", "--config", dir, "--json")
			require.Equal(t, exitOK, code)
			assert.Equal(t, tt.compiled, decodeReport(t, stdout).Compiled)
		})
	}
}
