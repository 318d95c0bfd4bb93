// Package config handles classgen.toml project configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"github.com/chazu/classgen/codegen"
)

// FileName is the configuration file looked up by Load and FindAndLoad.
const FileName = "classgen.toml"

// Config represents a classgen.toml configuration.
type Config struct {
	Lowering Lowering `toml:"lowering"`
	Output   Output   `toml:"output"`

	// Dir is the directory containing the classgen.toml file (set at load
	// time). Empty for a default configuration.
	Dir string `toml:"-"`
}

// Lowering configures code generation.
type Lowering struct {
	Lines          string `toml:"lines"`
	Concat         string `toml:"concat"`
	ClassVersion   int    `toml:"class-version"`
	ImplicitReturn bool   `toml:"implicit-return"`
	SourceFile     string `toml:"source-file"`
}

// Output configures where and how units are written.
type Output struct {
	Dir         string `toml:"dir"`
	Bundle      string `toml:"bundle"`
	Store       string `toml:"store"`
	Verify      bool   `toml:"verify"`
	Parallelism int    `toml:"parallelism"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Lowering: Lowering{
			Lines:          codegen.LinesOff.String(),
			Concat:         codegen.ConcatBuilder.String(),
			ClassVersion:   52,
			ImplicitReturn: true,
		},
		Output: Output{
			Dir:         "classes",
			Verify:      true,
			Parallelism: 1,
		},
	}
}

// Load parses a classgen.toml file from the given directory. Keys the
// file leaves out keep their defaults; environment overrides are applied
// last.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	c.ApplyEnv()
	return c, nil
}

// FindAndLoad walks up from startDir to find a classgen.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// ApplyEnv overrides settings from CLASSGEN_* environment variables. The
// environment is reread on every call.
func (c *Config) ApplyEnv() {
	env.Load()
	c.Lowering.Lines = env.Str("CLASSGEN_LINES", c.Lowering.Lines)
	c.Lowering.Concat = env.Str("CLASSGEN_CONCAT", c.Lowering.Concat)
	c.Output.Store = env.Str("CLASSGEN_STORE", c.Output.Store)
	c.Output.Parallelism = env.Int("CLASSGEN_PARALLELISM", c.Output.Parallelism)
	if env.Has("CLASSGEN_VERIFY") {
		c.Output.Verify = env.Bool("CLASSGEN_VERIFY")
	}
}

// Options converts the lowering settings into generator options.
func (c *Config) Options() (codegen.Options, error) {
	opts := codegen.DefaultOptions()
	var err error
	if opts.Lines, err = codegen.ParseLineStrategy(c.Lowering.Lines); err != nil {
		return opts, fmt.Errorf("lowering.lines: %w", err)
	}
	if opts.Concat, err = codegen.ParseConcatStrategy(c.Lowering.Concat); err != nil {
		return opts, fmt.Errorf("lowering.concat: %w", err)
	}
	if v := c.Lowering.ClassVersion; v < 49 || v > 0xffff {
		return opts, fmt.Errorf("lowering.class-version: %d out of range", v)
	}
	if c.Output.Parallelism < 1 {
		return opts, fmt.Errorf("output.parallelism: must be at least 1, got %d", c.Output.Parallelism)
	}
	opts.ClassVersion = uint16(c.Lowering.ClassVersion)
	opts.ImplicitReturn = c.Lowering.ImplicitReturn
	opts.SourceFile = c.Lowering.SourceFile
	opts.Verify = c.Output.Verify
	opts.Parallelism = c.Output.Parallelism
	return opts, nil
}

// path resolves p against the configuration directory.
func (c *Config) path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// OutputDir returns the directory class files are written to.
func (c *Config) OutputDir() string { return c.path(c.Output.Dir) }

// BundlePath returns the bundle file path, or "" when bundling is off.
func (c *Config) BundlePath() string { return c.path(c.Output.Bundle) }

// StorePath returns the run database path, or "" when no store is used.
func (c *Config) StorePath() string { return c.path(c.Output.Store) }
