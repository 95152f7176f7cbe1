package resolve

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/parcc/internal/compile"
	"github.com/mattjoyce/parcc/internal/config"
)

// Resolve builds the job set for cfg. Source, object, include and dependency
// paths in the result are resolved against the manifest directory. The job
// set's Staleness is left nil; callers attach a Tracker.
func Resolve(cfg *config.Config) (*compile.JobSet, error) {
	if cfg == nil {
		return nil, fmt.Errorf("resolve: nil config")
	}
	b := cfg.Build
	outDir := cfg.Resolve(b.OutputDir)

	units := make(map[string]config.UnitConfig, len(b.Units))
	for name, u := range b.Units {
		units[filepath.Clean(name)] = u
	}

	set := &compile.JobSet{
		Objects:  make([]string, 0, len(b.Sources)),
		Requests: make([]compile.Request, 0, len(b.Sources)),
		Context: compile.Context{
			Debug:           b.Debug,
			CommonArgs:      clone(b.ExtraPreargs),
			CommonExtraArgs: clone(b.ExtraPostargs),
		},
	}

	for _, src := range b.Sources {
		unit := units[filepath.Clean(src)]
		source := cfg.Resolve(src)

		rel, err := ObjectName(cfg.Dir, source, b.ObjectSuffix)
		if err != nil {
			return nil, &compile.ResolutionError{Source: source, Msg: "cannot derive object path", Err: err}
		}
		object := filepath.Join(outDir, rel)

		req := compile.Request{
			Source:      source,
			Object:      object,
			Macros:      macros(b.Macros, b.Undef, unit.Macros),
			IncludeDirs: resolveAll(cfg, b.IncludeDirs, unit.IncludeDirs),
			ExtraArgs:   clone(unit.ExtraArgs),
			Depends:     resolveAll(cfg, b.Depends, unit.Depends),
		}
		set.Requests = append(set.Requests, req)
		set.Objects = append(set.Objects, object)
	}
	return set, nil
}

// ObjectName returns the object path for source relative to the output
// directory: the source's path below baseDir with its extension replaced by
// suffix. Leading ".." segments and absolute roots are dropped, so sources
// outside baseDir can collide; Validate reports such collisions.
func ObjectName(baseDir, source, suffix string) (string, error) {
	rel := source
	if filepath.IsAbs(source) && baseDir != "" {
		r, err := filepath.Rel(baseDir, source)
		if err == nil {
			rel = r
		}
	}
	rel = filepath.Clean(rel)
	rel = strings.TrimPrefix(rel, filepath.VolumeName(rel))
	rel = strings.TrimLeft(rel, string(filepath.Separator))

	parts := strings.Split(rel, string(filepath.Separator))
	for len(parts) > 0 && (parts[0] == ".." || parts[0] == ".") {
		parts = parts[1:]
	}
	rel = filepath.Join(parts...)
	if rel == "" {
		return "", fmt.Errorf("source %q has no file name", source)
	}

	base := strings.TrimSuffix(rel, filepath.Ext(rel))
	if base == "" || strings.HasSuffix(base, string(filepath.Separator)) {
		return "", fmt.Errorf("source %q has no file name", source)
	}
	return base + suffix, nil
}

// macros orders global defines, then global undefines, then per-unit defines.
func macros(global []config.MacroConfig, undef []string, unit []config.MacroConfig) []compile.Macro {
	out := make([]compile.Macro, 0, len(global)+len(undef)+len(unit))
	for _, m := range global {
		out = append(out, toMacro(m))
	}
	for _, name := range undef {
		out = append(out, compile.Macro{Name: name, Undef: true})
	}
	for _, m := range unit {
		out = append(out, toMacro(m))
	}
	return out
}

func toMacro(m config.MacroConfig) compile.Macro {
	if m.Value == nil {
		return compile.Macro{Name: m.Name}
	}
	return compile.Define(m.Name, *m.Value)
}

func resolveAll(cfg *config.Config, lists ...[]string) []string {
	var out []string
	for _, l := range lists {
		for _, p := range l {
			out = append(out, cfg.Resolve(p))
		}
	}
	return out
}

func clone(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return append([]string(nil), s...)
}
