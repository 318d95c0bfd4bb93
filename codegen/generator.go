package codegen

import (
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
	"github.com/chazu/classgen/verify"
)

// Unit is one assembled class file.
type Unit struct {
	Name  string // qualified, dotted
	Bytes []byte
}

// Generator lowers declarations to class files. A Generator may be used
// by several goroutines as long as its table is not modified.
type Generator struct {
	table *Table
	opts  Options
}

// NewGenerator returns a generator with its own copy of the default
// processor table.
func NewGenerator(opts Options) *Generator {
	if opts.ClassVersion == 0 {
		opts.ClassVersion = classfile.Java8
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Generator{table: DefaultTable(), opts: opts}
}

// Table returns the processor table. Register custom processors before
// the first run.
func (g *Generator) Table() *Table { return g.table }

// Options returns the options snapshot used by every run.
func (g *Generator) Options() Options { return g.opts }

// Generate lowers every declaration to a unit. Units are returned in
// declaration order; a declaration that fails to lower is left out and
// its *ConstructionError is joined into the returned error. When
// verification is enabled and any unit fails it, the error includes a
// *VerificationError carrying every assembled unit.
func (g *Generator) Generate(decls ...*ast.ClassDeclaration) ([]Unit, error) {
	results := make([]Unit, len(decls))
	errs := make([]error, len(decls))

	var eg errgroup.Group
	eg.SetLimit(g.opts.Parallelism)
	for i, d := range decls {
		eg.Go(func() error {
			results[i], errs[i] = g.lowerUnit(d)
			return nil
		})
	}
	_ = eg.Wait()

	units := make([]Unit, 0, len(decls))
	for i, u := range results {
		if errs[i] == nil {
			units = append(units, u)
		}
	}
	log.Infof("lowered %d of %d declaration(s)", len(units), len(decls))

	if g.opts.Verify {
		var problems []verify.Problem
		for _, u := range units {
			ps, err := verify.Class(u.Bytes)
			if err != nil {
				ps = []verify.Problem{{Class: u.Name, Offset: -1, Message: err.Error()}}
			}
			problems = append(problems, ps...)
		}
		if len(problems) > 0 {
			log.Warningf("verification reported %d problem(s)", len(problems))
			errs = append(errs, &VerificationError{Units: units, Problems: problems})
		}
	}
	return units, errors.Join(errs...)
}
