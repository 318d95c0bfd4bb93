package codegen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
	"github.com/chazu/classgen/internal/jvmsim"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func class(name string, methods ...*ast.Method) *ast.ClassDeclaration {
	return &ast.ClassDeclaration{Name: name, Modifiers: ast.Public, Methods: methods}
}

func staticMethod(name string, ret ast.Type, params []ast.Param, body ...ast.Instruction) *ast.Method {
	return &ast.Method{
		Modifiers: ast.Public | ast.Static,
		Name:      name,
		Params:    params,
		Return:    ret,
		Body:      body,
	}
}

func params(ps ...ast.Param) []ast.Param { return ps }

func generate(t *testing.T, opts Options, decls ...*ast.ClassDeclaration) []Unit {
	t.Helper()
	units, err := NewGenerator(opts).Generate(decls...)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(units) != len(decls) {
		t.Fatalf("got %d units, want %d", len(units), len(decls))
	}
	return units
}

func newVM(t *testing.T, units []Unit) (*jvmsim.VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	vm := jvmsim.New(&out)
	for _, u := range units {
		if err := vm.Load(u.Bytes); err != nil {
			t.Fatalf("load %s: %v", u.Name, err)
		}
	}
	return vm, &out
}

func parse(t *testing.T, u Unit) *classfile.ClassFile {
	t.Helper()
	cf, err := classfile.Parse(u.Bytes)
	if err != nil {
		t.Fatalf("parse %s: %v", u.Name, err)
	}
	return cf
}

func method(t *testing.T, cf *classfile.ClassFile, name, desc string) *classfile.Member {
	t.Helper()
	m, ok := cf.Method(name, desc)
	if !ok {
		t.Fatalf("%s has no method %s%s", cf.Name, name, desc)
	}
	return m
}

func decode(t *testing.T, m *classfile.Member) []classfile.Insn {
	t.Helper()
	insns, err := classfile.Decode(m.Code.Code)
	if err != nil {
		t.Fatalf("decode %s: %v", m.Name, err)
	}
	return insns
}

func count(insns []classfile.Insn, op classfile.Opcode) int {
	n := 0
	for _, in := range insns {
		if in.Op == op {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

func TestHelloWorld(t *testing.T) {
	s := ast.Parameter(ast.String, "s")
	decl := class("demo.Hello",
		staticMethod("hello", ast.Void, params(s),
			ast.Println(ast.StringLit("Hello world")),
			ast.Println(ast.Var(ast.String, "s")),
		),
	)
	units := generate(t, DefaultOptions(), decl)
	if units[0].Name != "demo.Hello" {
		t.Errorf("Name = %q, want demo.Hello", units[0].Name)
	}

	insns := decode(t, method(t, parse(t, units[0]), "hello", "(Ljava/lang/String;)V"))
	if got := count(insns, classfile.INVOKEVIRTUAL); got != 2 {
		t.Errorf("invokevirtual count = %d, want 2", got)
	}
	for _, in := range insns {
		if in.Op.IsBranch() {
			t.Errorf("unexpected branch %s at %d", in.Op.Name(), in.Offset)
		}
	}

	vm, out := newVM(t, units)
	if _, err := vm.InvokeStatic("demo/Hello", "hello", "(Ljava/lang/String;)V", "x"); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "Hello world\nx\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestBrokenReturnKeepsUnits(t *testing.T) {
	opts := DefaultOptions()
	opts.ImplicitReturn = false
	decl := class("demo.Broken",
		staticMethod("broken", ast.Void, nil, ast.Println(ast.StringLit("unterminated"))),
	)
	units, err := NewGenerator(opts).Generate(decl)
	if err == nil {
		t.Fatal("expected a verification error")
	}
	var verr *VerificationError
	if !errors.As(err, &verr) {
		t.Fatalf("got %v, want *VerificationError", err)
	}
	if len(units) != 1 || len(verr.Units) != 1 {
		t.Fatalf("units = %d, error units = %d, want 1 and 1", len(units), len(verr.Units))
	}
	if !bytes.Equal(units[0].Bytes, verr.Units[0].Bytes) {
		t.Error("error carries different bytes than the returned unit")
	}
	found := false
	for _, p := range verr.Problems {
		if p.Method == "broken()V" && strings.Contains(p.Message, "fall off") {
			found = true
		}
	}
	if !found {
		t.Errorf("no fall-off problem for broken()V in %v", verr.Problems)
	}
	if _, err := classfile.Parse(units[0].Bytes); err != nil {
		t.Errorf("partial unit does not parse: %v", err)
	}
}

type unknownNode struct{}

func (unknownNode) Kind() ast.Kind { return ast.KindUser + 7 }

func TestUnsupportedKindAbortsOnlyItsUnit(t *testing.T) {
	bad := class("demo.Bad", staticMethod("run", ast.Void, nil, unknownNode{}))
	good := class("demo.Good", staticMethod("run", ast.Void, nil, ast.ReturnVoid()))

	units, err := NewGenerator(DefaultOptions()).Generate(bad, good)
	if !errors.Is(err, ErrUnsupportedInstruction) {
		t.Fatalf("got %v, want ErrUnsupportedInstruction", err)
	}
	var cerr *ConstructionError
	if !errors.As(err, &cerr) {
		t.Fatalf("got %v, want *ConstructionError", err)
	}
	if cerr.Unit != "demo.Bad" || cerr.Member != "run()V" {
		t.Errorf("error names %s.%s, want demo.Bad.run()V", cerr.Unit, cerr.Member)
	}
	if len(units) != 1 || units[0].Name != "demo.Good" {
		t.Errorf("units = %v, want only demo.Good", units)
	}
}

func TestCustomProcessor(t *testing.T) {
	g := NewGenerator(DefaultOptions())
	g.Table().RegisterFunc(unknownNode{}.Kind(), func(ctx *Context, _ ast.Instruction) error {
		return ctx.Lower(ast.Println(ast.StringLit("custom")))
	})
	units, err := g.Generate(class("demo.Custom", staticMethod("run", ast.Void, nil, unknownNode{})))
	if err != nil {
		t.Fatal(err)
	}
	vm, out := newVM(t, units)
	if _, err := vm.InvokeStatic("demo/Custom", "run", "()V"); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "custom\n" {
		t.Errorf("output = %q, want %q", got, "custom\n")
	}
	if DefaultTable().Len() != len(ast.BuiltinKinds()) {
		t.Errorf("default table has %d processors, want %d", DefaultTable().Len(), len(ast.BuiltinKinds()))
	}
}

func TestLabelResolution(t *testing.T) {
	tests := []struct {
		name string
		proc ProcessorFunc
		want error
	}{
		{"marked only", func(ctx *Context, _ ast.Instruction) error {
			return ctx.Mark(ctx.NewLabel())
		}, nil},
		{"never placed", func(ctx *Context, _ ast.Instruction) error {
			ctx.NewLabel()
			return nil
		}, ErrUnplacedLabel},
		{"jumped, never placed", func(ctx *Context, _ ast.Instruction) error {
			return ctx.Jump(classfile.GOTO, ctx.NewLabel())
		}, ErrUnresolvedLabel},
		{"placed twice", func(ctx *Context, _ ast.Instruction) error {
			l := ctx.NewLabel()
			if err := ctx.Mark(l); err != nil {
				return err
			}
			return ctx.Mark(l)
		}, ErrLabelRedefined},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(DefaultOptions())
			g.Table().RegisterFunc(unknownNode{}.Kind(), tt.proc)
			_, err := g.Generate(class("demo.Labels", staticMethod("run", ast.Void, nil, unknownNode{})))
			if tt.want == nil {
				if err != nil {
					t.Errorf("got %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBreakOutsideLoop(t *testing.T) {
	_, err := NewGenerator(DefaultOptions()).Generate(
		class("demo.Stray", staticMethod("run", ast.Void, nil, &ast.Break{})),
	)
	if !errors.Is(err, ErrBreakOutsideLoop) {
		t.Errorf("got %v, want ErrBreakOutsideLoop", err)
	}
}

func TestParallelGenerate(t *testing.T) {
	opts := DefaultOptions()
	opts.Parallelism = 4
	var decls []*ast.ClassDeclaration
	for _, name := range []string{"demo.A", "demo.B", "demo.C", "demo.D", "demo.E"} {
		decls = append(decls, class(name, staticMethod("one", ast.Int, nil, ast.Ret(ast.Int, ast.IntLit(1)))))
	}
	units := generate(t, opts, decls...)
	for i, u := range units {
		if u.Name != decls[i].Name {
			t.Errorf("unit %d = %s, want %s", i, u.Name, decls[i].Name)
		}
	}
}

func TestParseStrategies(t *testing.T) {
	for _, s := range []LineStrategy{LinesOff, LinesIncremental, LinesFollowSource} {
		got, err := ParseLineStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseLineStrategy(%q) = %v, %v", s, got, err)
		}
	}
	for _, s := range []ConcatStrategy{ConcatBuilder, ConcatIndy} {
		got, err := ParseConcatStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseConcatStrategy(%q) = %v, %v", s, got, err)
		}
	}
	if _, err := ParseLineStrategy("sometimes"); err == nil {
		t.Error("expected an error for an unknown line strategy")
	}
	if _, err := ParseConcatStrategy("rope"); err == nil {
		t.Error("expected an error for an unknown concat strategy")
	}
}
