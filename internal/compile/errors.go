package compile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCompilerInvocation = errors.New("compiler invocation failed")
	ErrResolution         = errors.New("invalid compile mapping")
	ErrTopology           = errors.New("core count detection failed")
)

// CompilerInvocationError reports a unit whose compiler exited non-zero,
// could not be started, or ran past its timeout.
type CompilerInvocationError struct {
	Source     string
	Object     string
	ExitCode   int
	Diagnostic string
	Err        error
}

func (e *CompilerInvocationError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: compiling %s", ErrCompilerInvocation.Error(), e.Source)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompilerInvocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrCompilerInvocation}
	}
	return []error{ErrCompilerInvocation, e.Err}
}

// ResolutionError reports a malformed object->source mapping.
type ResolutionError struct {
	Object string
	Source string
	Msg    string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(ErrResolution.Error())
	if e.Object != "" {
		fmt.Fprintf(&b, ": object %s", e.Object)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " (source %s)", e.Source)
	}
	if e.Msg != "" {
		b.WriteString(": " + e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResolution}
	}
	return []error{ErrResolution, e.Err}
}

// TopologyError reports a failed physical core count detection.
type TopologyError struct {
	Err error
}

func (e *TopologyError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return ErrTopology.Error()
	}
	return fmt.Sprintf("%s: %v", ErrTopology.Error(), e.Err)
}

func (e *TopologyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTopology}
	}
	return []error{ErrTopology, e.Err}
}

// UnitFailure is one failed unit inside a BuildError.
type UnitFailure struct {
	Source string
	Object string
	Err    error
}

// Diagnostic returns the compiler output for the failure, if any.
func (f UnitFailure) Diagnostic() string {
	var cie *CompilerInvocationError
	if errors.As(f.Err, &cie) {
		return cie.Diagnostic
	}
	return ""
}

// BuildError aggregates every unit that failed in a dispatch.
type BuildError struct {
	Total    int
	Failures []UnitFailure
}

func (e *BuildError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "build failed: %d of %d units failed", len(e.Failures), e.Total)
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s -> %s: %v", f.Source, f.Object, f.Err)
		if d := strings.TrimRight(f.Diagnostic(), "\n"); d != "" {
			for _, line := range strings.Split(d, "\n") {
				b.WriteString("\n    " + line)
			}
		}
	}
	return b.String()
}

func (e *BuildError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FailedSources lists the source path of every failed unit.
func (e *BuildError) FailedSources() []string {
	out := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Source)
	}
	return out
}
