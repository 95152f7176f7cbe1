// Package cc runs one native compiler subprocess per translation unit.
package cc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/log"
)

const (
	// maxDiagnosticBytes caps the compiler output kept per unit.
	maxDiagnosticBytes = 64 * 1024

	// DefaultGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	DefaultGracePeriod = 5 * time.Second
)

// Compiler invokes an external C/C++ compiler. It holds only read-only
// configuration and is safe for concurrent use.
type Compiler struct {
	path   string
	grace  time.Duration
	env    []string
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithGracePeriod sets the SIGTERM->SIGKILL delay used on unit timeout.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Compiler) { c.grace = d }
}

// WithEnv appends KEY=VALUE pairs to the compiler's environment.
func WithEnv(env ...string) Option {
	return func(c *Compiler) { c.env = append(c.env, env...) }
}

// New creates a Compiler for the executable at path (looked up in $PATH when
// it has no separator).
func New(path string, opts ...Option) *Compiler {
	c := &Compiler{
		path:   path,
		grace:  DefaultGracePeriod,
		logger: log.WithComponent("cc"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ compile.Compiler = (*Compiler)(nil)

// Path returns the compiler executable as configured.
func (c *Compiler) Path() string { return c.path }

// Args returns the argument vector (without the executable) for u:
// common args, -g, macros, include dirs, -c source, -o object, extra args.
func (c *Compiler) Args(u compile.Unit) []string {
	args := make([]string, 0, len(u.CommonArgs)+len(u.Macros)+len(u.IncludeDirs)+len(u.ExtraArgs)+5)
	args = append(args, u.CommonArgs...)
	if u.Debug {
		args = append(args, "-g")
	}
	for _, m := range u.Macros {
		args = append(args, m.Flag())
	}
	for _, dir := range u.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	args = append(args, "-c", u.Source, "-o", u.Object)
	args = append(args, u.ExtraArgs...)
	return args
}

// CompileOne compiles a single unit. The process runs until it exits or ctx
// is done; on ctx expiry it is sent SIGTERM, then SIGKILL after the grace
// period. On any failure the object path is removed so nothing stale survives.
func (c *Compiler) CompileOne(ctx context.Context, u compile.Unit) error {
	logger := log.WithUnit(c.logger, u.Source, u.Object)

	if err := os.MkdirAll(filepath.Dir(u.Object), 0o755); err != nil {
		return &compile.CompilerInvocationError{
			Source: u.Source,
			Object: u.Object,
			Err:    fmt.Errorf("create object directory: %w", err),
		}
	}

	// Don't use CommandContext - termination is managed below.
	cmd := exec.Command(c.path, c.Args(u)...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Children that inherit the output pipe must not hold Wait open.
	cmd.WaitDelay = c.grace

	logger.Debug("spawning compiler", "compiler", c.path, "args", cmd.Args[1:])
	started := time.Now()

	if err := cmd.Start(); err != nil {
		return &compile.CompilerInvocationError{
			Source:   u.Source,
			Object:   u.Object,
			ExitCode: -1,
			Err:      fmt.Errorf("start compiler: %w", err),
		}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	exited, err := awaitExit(ctx, waitErr)
	if !exited {
		logger.Warn("compiler exceeded its deadline, sending SIGTERM")
		c.terminate(cmd, waitErr, logger)
		c.removeObject(u.Object, logger)
		return &compile.CompilerInvocationError{
			Source:     u.Source,
			Object:     u.Object,
			ExitCode:   -1,
			Diagnostic: truncateDiagnostic(output.String()),
			Err:        fmt.Errorf("compiler terminated after %v: %w", time.Since(started).Round(time.Millisecond), ctx.Err()),
		}
	}

	diag := truncateDiagnostic(output.String())
	if err != nil {
		// Whatever a failed compiler left behind must not pass for a current object.
		c.removeObject(u.Object, logger)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn("compiler exited with non-zero status", "exit_code", exitErr.ExitCode())
			return &compile.CompilerInvocationError{
				Source:     u.Source,
				Object:     u.Object,
				ExitCode:   exitErr.ExitCode(),
				Diagnostic: diag,
				Err:        err,
			}
		}
		return &compile.CompilerInvocationError{
			Source:     u.Source,
			Object:     u.Object,
			ExitCode:   -1,
			Diagnostic: diag,
			Err:        fmt.Errorf("wait for compiler: %w", err),
		}
	}

	if _, err := os.Stat(u.Object); err != nil {
		return &compile.CompilerInvocationError{
			Source:     u.Source,
			Object:     u.Object,
			Diagnostic: diag,
			Err:        fmt.Errorf("compiler exited 0 but produced no object: %w", err),
		}
	}
	if diag != "" {
		logger.Info("compiler output", "output", diag)
	}
	logger.Debug("compiler finished", "duration", time.Since(started))
	return nil
}

// awaitExit blocks until the compiler exits or ctx is done. An exit that is
// already waiting when ctx fires wins, so a finished compile is never killed.
func awaitExit(ctx context.Context, waitErr <-chan error) (bool, error) {
	select {
	case err := <-waitErr:
		return true, err
	case <-ctx.Done():
		select {
		case err := <-waitErr:
			return true, err
		default:
			return false, nil
		}
	}
}

func (c *Compiler) removeObject(object string, logger *slog.Logger) {
	if err := os.Remove(object); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("failed to remove object", "error", err)
	}
}

// terminate sends SIGTERM, waits for the grace period, then SIGKILL.
func (c *Compiler) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(c.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("compiler exited after SIGTERM")
	case <-grace.C:
		logger.Warn("compiler did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// truncateDiagnostic truncates compiler output to maxDiagnosticBytes.
func truncateDiagnostic(s string) string {
	if len(s) > maxDiagnosticBytes {
		return s[:maxDiagnosticBytes]
	}
	return s
}
