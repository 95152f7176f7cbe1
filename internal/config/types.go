package config

import "time"

// Config represents a parcc build manifest.
type Config struct {
	Include []string      `yaml:"include,omitempty"`
	Service ServiceConfig `yaml:"service"`
	State   StateConfig   `yaml:"state"`
	Build   BuildConfig   `yaml:"build"`

	// Path is the absolute manifest path; Dir is its directory. Relative
	// paths in the manifest resolve against Dir.
	Path string `yaml:"-"`
	Dir  string `yaml:"-"`
}

// ServiceConfig defines logging settings.
type ServiceConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines the build ledger location.
type StateConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
	// BuildRetention is how many builds the ledger keeps; 0 keeps all.
	BuildRetention int `yaml:"build_retention"`
}

// BuildConfig describes the translation units and how to compile them.
type BuildConfig struct {
	Compiler      string        `yaml:"compiler"`
	OutputDir     string        `yaml:"output_dir"`
	ObjectSuffix  string        `yaml:"object_suffix"`
	Sources       []string      `yaml:"sources"`
	IncludeDirs   []string      `yaml:"include_dirs,omitempty"`
	Macros        []MacroConfig `yaml:"macros,omitempty"`
	Undef         []string      `yaml:"undef,omitempty"`
	ExtraPreargs  []string      `yaml:"extra_preargs,omitempty"`
	ExtraPostargs []string      `yaml:"extra_postargs,omitempty"`
	Debug         bool          `yaml:"debug"`
	Depends       []string      `yaml:"depends,omitempty"`
	// IncludeScan follows quoted #include directives when deciding staleness.
	IncludeScan bool                  `yaml:"include_scan"`
	Units       map[string]UnitConfig `yaml:"units,omitempty"`
	Env         []string              `yaml:"env,omitempty"`

	// Jobs overrides the physical core count when positive.
	Jobs        int           `yaml:"jobs"`
	FailFast    bool          `yaml:"fail_fast"`
	UnitTimeout time.Duration `yaml:"unit_timeout"`
	GracePeriod time.Duration `yaml:"grace_period"`
}

// MacroConfig is a preprocessor define. A missing value means -DNAME.
type MacroConfig struct {
	Name  string  `yaml:"name"`
	Value *string `yaml:"value,omitempty"`
}

// UnitConfig holds per-source overrides.
type UnitConfig struct {
	Macros      []MacroConfig `yaml:"macros,omitempty"`
	IncludeDirs []string      `yaml:"include_dirs,omitempty"`
	ExtraArgs   []string      `yaml:"extra_args,omitempty"`
	Depends     []string      `yaml:"depends,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path:           ".parcc/ledger.db",
			BuildRetention: 50,
		},
		Build: BuildConfig{
			Compiler:     "cc",
			OutputDir:    "build/obj",
			ObjectSuffix: ".o",
			IncludeScan:  true,
			GracePeriod:  5 * time.Second,
			Units:        make(map[string]UnitConfig),
		},
	}
}
