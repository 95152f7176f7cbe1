package compile

import (
	"context"
	"fmt"
	"os"
	"strings"
)

//go:generate mockgen -destination=../dispatch/mocks/mock_compile.go -package=mocks github.com/mattjoyce/parcc/internal/compile Compiler,Staleness

// Macro is a preprocessor definition. Undef emits -UNAME; otherwise a nil
// Value emits -DNAME and a non-nil Value emits -DNAME=VALUE.
type Macro struct {
	Name  string
	Value *string
	Undef bool
}

// Define returns a macro with a value.
func Define(name, value string) Macro {
	return Macro{Name: name, Value: &value}
}

// Flag renders the macro as a compiler flag.
func (m Macro) Flag() string {
	switch {
	case m.Undef:
		return "-U" + m.Name
	case m.Value == nil:
		return "-D" + m.Name
	default:
		return "-D" + m.Name + "=" + *m.Value
	}
}

// Request is one translation unit: a source file and the object it produces.
type Request struct {
	Source      string
	Object      string
	Macros      []Macro
	IncludeDirs []string
	ExtraArgs   []string
	// Depends lists files other than Source whose change makes the unit stale.
	Depends []string
}

// Context is the invocation state shared by every unit of a build.
type Context struct {
	Debug bool
	// CommonArgs are placed before the source on every command line.
	CommonArgs []string
	// CommonExtraArgs are placed after the source, ahead of per-unit ExtraArgs.
	CommonExtraArgs []string
}

// Unit is the full argument set for a single compiler invocation.
type Unit struct {
	Object      string
	Source      string
	Macros      []Macro
	IncludeDirs []string
	CommonArgs  []string
	ExtraArgs   []string
	Debug       bool
}

// Compiler compiles exactly one translation unit. Implementations must be safe
// for concurrent use; they may only read shared configuration.
type Compiler interface {
	CompileOne(ctx context.Context, u Unit) error
}

// Staleness decides whether a unit needs recompiling.
type Staleness interface {
	Stale(ctx context.Context, r Request) (bool, error)
}

// StalenessFunc adapts a function to the Staleness interface.
type StalenessFunc func(ctx context.Context, r Request) (bool, error)

// Stale implements Staleness.
func (f StalenessFunc) Stale(ctx context.Context, r Request) (bool, error) {
	return f(ctx, r)
}

// AlwaysStale forces every unit to compile.
var AlwaysStale Staleness = StalenessFunc(func(context.Context, Request) (bool, error) {
	return true, nil
})

// JobSet is every unit of one build plus the shared context.
type JobSet struct {
	// Objects is the full set of objects the orchestrator expects, in order.
	// When empty it is taken from Requests.
	Objects   []string
	Requests  []Request
	Context   Context
	Staleness Staleness
}

// Len returns the number of requests in the set.
func (s *JobSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Requests)
}

// Unit merges a request with the shared context.
func (s *JobSet) Unit(r Request) Unit {
	extra := make([]string, 0, len(s.Context.CommonExtraArgs)+len(r.ExtraArgs))
	extra = append(extra, s.Context.CommonExtraArgs...)
	extra = append(extra, r.ExtraArgs...)
	return Unit{
		Object:      r.Object,
		Source:      r.Source,
		Macros:      r.Macros,
		IncludeDirs: r.IncludeDirs,
		CommonArgs:  s.Context.CommonArgs,
		ExtraArgs:   extra,
		Debug:       s.Context.Debug,
	}
}

// Validate checks the mapping before anything is dispatched. Every expected
// object must have exactly one request and every request must point at an
// existing source file.
func (s *JobSet) Validate() error {
	if s == nil {
		return nil
	}

	byObject := make(map[string]Request, len(s.Requests))
	for i, r := range s.Requests {
		if strings.TrimSpace(r.Object) == "" {
			return &ResolutionError{Source: r.Source, Msg: fmt.Sprintf("request %d has an empty object path", i)}
		}
		if strings.TrimSpace(r.Source) == "" {
			return &ResolutionError{Object: r.Object, Msg: fmt.Sprintf("request %d has an empty source path", i)}
		}
		if prev, dup := byObject[r.Object]; dup {
			return &ResolutionError{
				Object: r.Object,
				Source: r.Source,
				Msg:    fmt.Sprintf("duplicate object path (also produced by %s)", prev.Source),
			}
		}
		byObject[r.Object] = r
	}

	seen := make(map[string]bool, len(s.Objects))
	for _, obj := range s.Objects {
		if seen[obj] {
			return &ResolutionError{Object: obj, Msg: "object listed twice"}
		}
		seen[obj] = true
		if _, ok := byObject[obj]; !ok {
			return &ResolutionError{Object: obj, Msg: "object has no compile mapping"}
		}
	}
	if len(s.Objects) > 0 {
		for _, r := range s.Requests {
			if !seen[r.Object] {
				return &ResolutionError{Object: r.Object, Source: r.Source, Msg: "request for an object the build does not expect"}
			}
		}
	}

	for _, r := range s.Requests {
		info, err := os.Stat(r.Source)
		if err != nil {
			return &ResolutionError{Object: r.Object, Source: r.Source, Msg: "source not found", Err: err}
		}
		if info.IsDir() {
			return &ResolutionError{Object: r.Object, Source: r.Source, Msg: "source is a directory"}
		}
	}
	return nil
}
