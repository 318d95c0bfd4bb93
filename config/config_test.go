package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/chazu/classgen/codegen"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[lowering]
lines = "follow-source"
concat = "indy"
class-version = 55

[output]
dir = "out"
bundle = "run.cbor"
parallelism = 4
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	opts, err := c.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Lines != codegen.LinesFollowSource {
		t.Errorf("lines = %v, want follow-source", opts.Lines)
	}
	if opts.Concat != codegen.ConcatIndy {
		t.Errorf("concat = %v, want indy", opts.Concat)
	}
	if opts.ClassVersion != 55 {
		t.Errorf("class version = %d, want 55", opts.ClassVersion)
	}
	if opts.Parallelism != 4 {
		t.Errorf("parallelism = %d, want 4", opts.Parallelism)
	}
	// Keys the file leaves out keep their defaults.
	if !opts.Verify || !opts.ImplicitReturn {
		t.Errorf("verify = %v, implicit return = %v, want both true", opts.Verify, opts.ImplicitReturn)
	}
	if got := c.OutputDir(); got != filepath.Join(c.Dir, "out") {
		t.Errorf("output dir = %q", got)
	}
	if got := c.BundlePath(); got != filepath.Join(c.Dir, "run.cbor") {
		t.Errorf("bundle path = %q", got)
	}
	if c.StorePath() != "" {
		t.Errorf("store path = %q, want empty", c.StorePath())
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("expected an error for a missing classgen.toml")
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[lowering\nlines = ")
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestOptionsRejectsUnknownNames(t *testing.T) {
	tests := []func(*Config){
		func(c *Config) { c.Lowering.Lines = "sometimes" },
		func(c *Config) { c.Lowering.Concat = "rope" },
		func(c *Config) { c.Lowering.ClassVersion = 12 },
		func(c *Config) { c.Output.Parallelism = 0 },
	}
	for i, mutate := range tests {
		c := Default()
		mutate(c)
		if _, err := c.Options(); err == nil {
			t.Errorf("case %d: expected an error", i)
		}
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[lowering]\nlines = \"incremental\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatal(err)
	}
	if c == nil {
		t.Fatal("expected to find classgen.toml in an ancestor")
	}
	if c.Lowering.Lines != "incremental" {
		t.Errorf("lines = %q, want incremental", c.Lowering.Lines)
	}
	abs, _ := filepath.Abs(root)
	if c.Dir != abs {
		t.Errorf("Dir = %q, want %q", c.Dir, abs)
	}
}

func TestEnvOverrides(t *testing.T) {
	// A first lookup must not pin the values seen by later ones.
	Default().ApplyEnv()

	t.Setenv("CLASSGEN_CONCAT", "indy")
	t.Setenv("CLASSGEN_VERIFY", "false")
	t.Setenv("CLASSGEN_PARALLELISM", "3")

	c := Default()
	c.ApplyEnv()
	opts, err := c.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.Concat != codegen.ConcatIndy {
		t.Errorf("concat = %v, want indy", opts.Concat)
	}
	if opts.Verify {
		t.Error("verify should be off")
	}
	if opts.Parallelism != 3 {
		t.Errorf("parallelism = %d, want 3", opts.Parallelism)
	}
}
