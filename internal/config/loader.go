package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFilename is the manifest looked up in the working directory.
const DefaultFilename = "parcc.yaml"

// EnvConfigPath names the environment variable consulted by Discover.
const EnvConfigPath = "PARCC_CONFIG"

var (
	envVarPattern    = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	macroNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Load reads a manifest, merges its includes, applies defaults and validates it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, DefaultFilename)
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but %s not found: %s", DefaultFilename, absPath)
		}
	}

	cfg := Defaults()
	if err := decodeFile(absPath, cfg); err != nil {
		return nil, err
	}
	cfg.Path = absPath
	cfg.Dir = filepath.Dir(absPath)

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, cfg.Dir, visited); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Discover returns the manifest path to use. Priority: explicit flag,
// $PARCC_CONFIG, ./parcc.yaml.
func Discover(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("$%s points to %q which does not exist", EnvConfigPath, p)
	}
	if _, err := os.Stat(DefaultFilename); err == nil {
		return DefaultFilename, nil
	}
	return "", fmt.Errorf("no config found (checked: --config, $%s, ./%s)", EnvConfigPath, DefaultFilename)
}

// decodeFile parses one YAML file into dst, rejecting unknown keys.
func decodeFile(path string, dst *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	dec := yaml.NewDecoder(strings.NewReader(interpolateEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return nil
}

// loadIncludes merges included manifests into cfg. Included paths, sources and
// include dirs are rebased onto the root manifest's directory.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		resolved := includePath
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(baseDir, resolved)
		}
		absPath, err := filepath.Abs(resolved)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		var included Config
		if err := decodeFile(absPath, &included); err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		mergeBuild(&cfg.Build, included.Build, rebaser(cfg.Dir, filepath.Dir(absPath)))

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// rebaser returns a function that rewrites paths relative to fromDir so they
// are relative to rootDir.
func rebaser(rootDir, fromDir string) func(string) string {
	return func(p string) string {
		if filepath.IsAbs(p) || rootDir == fromDir {
			return p
		}
		rel, err := filepath.Rel(rootDir, filepath.Join(fromDir, p))
		if err != nil {
			return filepath.Join(fromDir, p)
		}
		return rel
	}
}

// mergeBuild appends list fields from src and lets src units override dst units.
func mergeBuild(dst *BuildConfig, src BuildConfig, rebase func(string) string) {
	for _, s := range src.Sources {
		dst.Sources = append(dst.Sources, rebase(s))
	}
	for _, d := range src.IncludeDirs {
		dst.IncludeDirs = append(dst.IncludeDirs, rebase(d))
	}
	for _, d := range src.Depends {
		dst.Depends = append(dst.Depends, rebase(d))
	}
	dst.Macros = append(dst.Macros, src.Macros...)
	dst.Undef = append(dst.Undef, src.Undef...)
	dst.ExtraPreargs = append(dst.ExtraPreargs, src.ExtraPreargs...)
	dst.ExtraPostargs = append(dst.ExtraPostargs, src.ExtraPostargs...)
	dst.Env = append(dst.Env, src.Env...)

	if len(src.Units) > 0 && dst.Units == nil {
		dst.Units = make(map[string]UnitConfig)
	}
	for name, u := range src.Units {
		dst.Units[rebase(name)] = u
	}
}

func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Build.Compiler == "" {
		cfg.Build.Compiler = def.Build.Compiler
	}
	if cfg.Build.OutputDir == "" {
		cfg.Build.OutputDir = def.Build.OutputDir
	}
	if cfg.Build.ObjectSuffix == "" {
		cfg.Build.ObjectSuffix = def.Build.ObjectSuffix
	}
	if cfg.Build.GracePeriod <= 0 {
		cfg.Build.GracePeriod = def.Build.GracePeriod
	}
	if cfg.Build.Units == nil {
		cfg.Build.Units = make(map[string]UnitConfig)
	}
	if cfg.State.Path == "" {
		cfg.State.Path = def.State.Path
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = def.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = def.Service.LogFormat
	}
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.Service.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("service.log_level: unknown level %q", cfg.Service.LogLevel)
	}
	switch strings.ToLower(cfg.Service.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format: must be json or text, got %q", cfg.Service.LogFormat)
	}

	b := cfg.Build
	if strings.TrimSpace(b.Compiler) == "" {
		return fmt.Errorf("build.compiler is empty")
	}
	if strings.TrimSpace(b.OutputDir) == "" {
		return fmt.Errorf("build.output_dir is empty")
	}
	if !strings.HasPrefix(b.ObjectSuffix, ".") {
		return fmt.Errorf("build.object_suffix must start with '.', got %q", b.ObjectSuffix)
	}
	if b.Jobs < 0 {
		return fmt.Errorf("build.jobs must be >= 0, got %d", b.Jobs)
	}
	if b.UnitTimeout < 0 {
		return fmt.Errorf("build.unit_timeout must be >= 0, got %v", b.UnitTimeout)
	}
	if cfg.State.BuildRetention < 0 {
		return fmt.Errorf("state.build_retention must be >= 0, got %d", cfg.State.BuildRetention)
	}

	seen := make(map[string]bool, len(b.Sources))
	for i, src := range b.Sources {
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("build.sources[%d] is empty", i)
		}
		key := filepath.Clean(src)
		if seen[key] {
			return fmt.Errorf("build.sources[%d]: %q listed twice", i, src)
		}
		seen[key] = true
	}
	for name, u := range b.Units {
		if !seen[filepath.Clean(name)] {
			return fmt.Errorf("build.units[%q]: not listed in build.sources", name)
		}
		if err := validateMacros(fmt.Sprintf("build.units[%q].macros", name), u.Macros); err != nil {
			return err
		}
	}
	if err := validateMacros("build.macros", b.Macros); err != nil {
		return err
	}
	for i, name := range b.Undef {
		if !macroNamePattern.MatchString(name) {
			return fmt.Errorf("build.undef[%d]: invalid macro name %q", i, name)
		}
	}
	for i, kv := range b.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("build.env[%d]: expected KEY=VALUE, got %q", i, kv)
		}
	}
	return nil
}

func validateMacros(field string, macros []MacroConfig) error {
	for i, m := range macros {
		if !macroNamePattern.MatchString(m.Name) {
			return fmt.Errorf("%s[%d]: invalid macro name %q", field, i, m.Name)
		}
	}
	return nil
}

// Resolve returns p relative to the manifest directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// interpolateEnv replaces ${VAR} with the value of the environment variable.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
