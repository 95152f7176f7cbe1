package cc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeCC mimics `cc -c src -o obj`: it records its argv into the object and
// fails with a diagnostic when the source contains SYNTAX_ERROR.
const fakeCC = `#!/bin/sh
out=""
src=""
all="$*"
while [ $# -gt 0 ]; do
  case "$1" in
    -o) out="$2"; shift 2 ;;
    -c) src="$2"; shift 2 ;;
    *) shift ;;
  esac
done
if grep -q SYNTAX_ERROR "$src"; then
  echo "$src:1:1: error: expected declaration" >&2
  exit 1
fi
if grep -q PARTIAL_FAIL "$src"; then
  printf 'partial' > "$out"
  echo "$src:2:1: error: unterminated comment" >&2
  exit 1
fi
if grep -q HANG "$src"; then
  printf 'partial' > "$out"
  exec sleep 30
fi
if grep -q NO_OUTPUT "$src"; then
  exit 0
fi
if grep -q WARN "$src"; then
  echo "$src:1:1: warning: unused variable" >&2
fi
printf '%s\n' "$all" > "$out"
cat "$src" >> "$out"
`

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func newUnit(t *testing.T, dir, name, body string) compile.Unit {
	t.Helper()
	src := filepath.Join(dir, "src", name)
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0o755))
	require.NoError(t, os.WriteFile(src, []byte(body), 0o644))
	return compile.Unit{
		Source: src,
		Object: filepath.Join(dir, "obj", "src", strings.TrimSuffix(name, ".c")+".o"),
	}
}

func TestArgs(t *testing.T) {
	c := New("cc")
	u := compile.Unit{
		Source:      "src/a.c",
		Object:      "obj/a.o",
		Macros:      []compile.Macro{{Name: "NDEBUG"}, compile.Define("VERSION", "2"), {Name: "OLD", Undef: true}},
		IncludeDirs: []string{"include", "/opt/boost/include"},
		CommonArgs:  []string{"-std=gnu11", "-march=native"},
		ExtraArgs:   []string{"-w"},
		Debug:       true,
	}

	want := []string{
		"-std=gnu11", "-march=native",
		"-g",
		"-DNDEBUG", "-DVERSION=2", "-UOLD",
		"-Iinclude", "-I/opt/boost/include",
		"-c", "src/a.c", "-o", "obj/a.o",
		"-w",
	}
	assert.Equal(t, want, c.Args(u))

	u.Debug = false
	assert.NotContains(t, c.Args(u), "-g")
}

func TestCompileOneSuccess(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "ok.c", "int ok;\n")
	u.Macros = []compile.Macro{{Name: "FEATURE"}}

	require.NoError(t, c.CompileOne(context.Background(), u))

	b, err := os.ReadFile(u.Object)
	require.NoError(t, err)
	assert.Contains(t, string(b), "-DFEATURE")
	assert.Contains(t, string(b), "int ok;")
}

func TestCompileOneWarningsDoNotFail(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "warn.c", "WARN\n")

	require.NoError(t, c.CompileOne(context.Background(), u))
	assert.FileExists(t, u.Object)
}

func TestCompileOneSyntaxError(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "bad.c", "SYNTAX_ERROR\n")

	err := c.CompileOne(context.Background(), u)
	require.Error(t, err)

	var cie *compile.CompilerInvocationError
	require.True(t, errors.As(err, &cie))
	assert.Equal(t, 1, cie.ExitCode)
	assert.Equal(t, u.Source, cie.Source)
	assert.Contains(t, cie.Diagnostic, "error: expected declaration")
	assert.NoFileExists(t, u.Object)
}

func TestCompileOneFailureRemovesWrittenObject(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "partial.c", "PARTIAL_FAIL\n")

	err := c.CompileOne(context.Background(), u)
	require.Error(t, err)

	var cie *compile.CompilerInvocationError
	require.True(t, errors.As(err, &cie))
	assert.Equal(t, 1, cie.ExitCode)
	assert.Contains(t, cie.Diagnostic, "unterminated comment")
	assert.NoFileExists(t, u.Object)
}

func TestCompileOneFailureRemovesStaleObject(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "stale.c", "int ok;\n")
	require.NoError(t, c.CompileOne(context.Background(), u))
	require.FileExists(t, u.Object)

	require.NoError(t, os.WriteFile(u.Source, []byte("SYNTAX_ERROR\n"), 0o644))
	require.Error(t, c.CompileOne(context.Background(), u))
	assert.NoFileExists(t, u.Object)
}

func TestAwaitExit(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("exit already waiting beats a done context", func(t *testing.T) {
		waitErr := make(chan error, 1)
		waitErr <- nil
		exited, err := awaitExit(cancelled, waitErr)
		assert.True(t, exited)
		assert.NoError(t, err)
	})

	t.Run("exit error is passed through", func(t *testing.T) {
		boom := errors.New("exit status 1")
		waitErr := make(chan error, 1)
		waitErr <- boom
		exited, err := awaitExit(cancelled, waitErr)
		assert.True(t, exited)
		assert.Same(t, boom, err)
	})

	t.Run("done context with a running compiler", func(t *testing.T) {
		exited, err := awaitExit(cancelled, make(chan error, 1))
		assert.False(t, exited)
		assert.NoError(t, err)
	})
}

func TestCompileOneMissingObjectIsFailure(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC))
	u := newUnit(t, dir, "none.c", "NO_OUTPUT\n")

	err := c.CompileOne(context.Background(), u)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "produced no object")
}

func TestCompileOneMissingCompiler(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "does-not-exist"))
	u := newUnit(t, dir, "a.c", "int a;\n")

	err := c.CompileOne(context.Background(), u)
	require.Error(t, err)
	assert.True(t, errors.Is(err, compile.ErrCompilerInvocation))
	assert.Contains(t, err.Error(), "start compiler")
}

func TestCompileOneTimeoutTerminatesAndRemovesPartialObject(t *testing.T) {
	dir := t.TempDir()
	c := New(writeExecutable(t, dir, "cc.sh", fakeCC), WithGracePeriod(200*time.Millisecond))
	u := newUnit(t, dir, "hang.c", "HANG\n")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.CompileOne(ctx, u)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.NoFileExists(t, u.Object)
}

func TestCompileOneEnv(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nwhile [ $# -gt 0 ]; do [ \"$1\" = -o ] && out=\"$2\"; shift; done\nprintf '%s' \"$PARCC_TEST_VALUE\" > \"$out\"\n"
	c := New(writeExecutable(t, dir, "cc.sh", script), WithEnv("PARCC_TEST_VALUE=hello"))
	u := newUnit(t, dir, "env.c", "int e;\n")

	require.NoError(t, c.CompileOne(context.Background(), u))
	b, err := os.ReadFile(u.Object)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestTruncateDiagnostic(t *testing.T) {
	long := strings.Repeat("x", maxDiagnosticBytes+10)
	assert.Len(t, truncateDiagnostic(long), maxDiagnosticBytes)
	assert.Equal(t, "short", truncateDiagnostic("short"))
}
