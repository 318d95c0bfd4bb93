package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/classgen/bundle"
	"github.com/chazu/classgen/classfile"
	"github.com/chazu/classgen/codegen"
	"github.com/chazu/classgen/config"
	"github.com/chazu/classgen/internal/jvmsim"
	"github.com/chazu/classgen/store"
	"github.com/chazu/classgen/verify"
)

var log = commonlog.GetLogger("classgen.cli")

type cli struct {
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

// loadConfig finds classgen.toml above the working directory, falling
// back to the defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
		cfg.ApplyEnv()
	}
	return cfg, nil
}

// disasm prints a class file in javap style.
func (c *cli) disasm(args []string) error {
	if len(args) != 1 {
		return errors.New("disasm requires one class file")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	fmt.Fprint(c.stdout, classfile.Disassemble(cf))
	return nil
}

// verify checks every file and reports all problems before failing.
func (c *cli) verify(args []string) error {
	if len(args) == 0 {
		return errors.New("verify requires at least one class file")
	}
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		err = verify.Check(data)
		var verr *verify.Error
		switch {
		case errors.As(err, &verr):
			failed++
			for _, p := range verr.Problems {
				fmt.Fprintf(c.stdout, "%s: %s\n", path, p)
			}
		case err != nil:
			return fmt.Errorf("%s: %w", path, err)
		default:
			fmt.Fprintf(c.stdout, "%s: ok\n", path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d file(s) failed verification", failed, len(args))
	}
	return nil
}

// demo generates the demo classes, writes them out and records the run.
func (c *cli) demo(args []string) error {
	fs := c.flags("demo")
	out := fs.String("o", "", "Output directory (default from classgen.toml)")
	execute := fs.Bool("run", false, "Run the generated main methods in the simulator")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	dir := cfg.OutputDir()
	if *out != "" {
		dir = *out
	}

	units, err := codegen.NewGenerator(opts).Generate(demoDeclarations()...)
	var problems []verify.Problem
	var verr *codegen.VerificationError
	if errors.As(err, &verr) {
		problems = verr.Problems
	} else if err != nil {
		return err
	}

	b := bundle.New(opts, units, problems)
	paths, werr := b.Extract(dir)
	if werr != nil {
		return werr
	}
	for _, p := range paths {
		fmt.Fprintf(c.stdout, "wrote %s\n", p)
	}
	if path := cfg.BundlePath(); path != "" {
		if err := b.WriteFile(path); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "bundle %s\n", path)
	}
	if path := cfg.StorePath(); path != "" {
		s, err := store.Open(path)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.SaveRun(b); err != nil {
			return err
		}
		fmt.Fprintf(c.stdout, "run %s\n", b.RunID)
	}
	if err != nil {
		// Units were written for inspection; the run still failed.
		return err
	}

	if *execute {
		vm := jvmsim.New(c.stdout)
		for _, u := range units {
			if err := vm.Load(u.Bytes); err != nil {
				return err
			}
		}
		for _, u := range units {
			internal := strings.ReplaceAll(u.Name, ".", "/")
			if _, err := vm.InvokeStatic(internal, "main", "([Ljava/lang/String;)V", nil); err != nil {
				return fmt.Errorf("%s.main: %w", u.Name, err)
			}
		}
	}
	return nil
}

// unbundle extracts the class files of a bundle.
func (c *cli) unbundle(args []string) error {
	var path, dir string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-o" || args[i] == "--output":
			if i+1 >= len(args) {
				return errors.New("-o requires an output directory")
			}
			dir = args[i+1]
			i++
		case path == "":
			path = args[i]
		default:
			return fmt.Errorf("unexpected argument %q", args[i])
		}
	}
	if path == "" {
		return errors.New("unbundle requires a bundle file")
	}
	if dir == "" {
		dir = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	b, err := bundle.ReadFile(path)
	if err != nil {
		return err
	}
	log.Infof("unbundling run %s (%d unit(s))", b.RunID, len(b.Units))
	paths, err := b.Extract(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(c.stdout, "wrote %s\n", p)
	}
	for _, p := range b.Problems {
		fmt.Fprintf(c.stdout, "problem: %s %s @%d: %s\n", p.Class, p.Method, p.Offset, p.Message)
	}
	return nil
}

// runs lists the runs in the store, or the units of one run.
func (c *cli) runs(args []string) error {
	fs := c.flags("runs")
	db := fs.String("db", "", "Run database (default from classgen.toml)")
	units := fs.String("units", "", "List the units of this run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *db
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.StorePath()
	}
	if path == "" {
		return errors.New("no store configured: set output.store or CLASSGEN_STORE")
	}

	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if *units != "" {
		records, err := s.Units(*units)
		if err != nil {
			return err
		}
		for _, u := range records {
			fmt.Fprintf(c.stdout, "%-40s %6d  %s\n", u.Name, u.Size, u.SHA256[:12])
		}
		return nil
	}
	runs, err := s.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		fmt.Fprintf(c.stdout, "%s  %s  %d unit(s)  %d problem(s)  lines=%s concat=%s\n",
			r.ID, r.Created.Format("2006-01-02 15:04:05"), r.Units, r.Problems, r.Lines, r.Concat)
	}
	return nil
}
