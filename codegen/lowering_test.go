package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
	"github.com/chazu/classgen/internal/jvmsim"
)

func add(l, r ast.Instruction) *ast.Operate { return &ast.Operate{Op: ast.OpAdd, Left: l, Right: r} }

func assign(name string, t ast.Type, v ast.Instruction) *ast.Assign {
	return &ast.Assign{Name: name, Type: t, Value: v}
}

func cmp(op ast.CompareOp, l, r ast.Instruction) *ast.Compare {
	return &ast.Compare{Op: op, Left: l, Right: r}
}

func TestSiblingScopesShareSlot(t *testing.T) {
	b := ast.Var(ast.Boolean, "b")
	decl := class("demo.Slots",
		staticMethod("test", ast.Int, params(ast.Parameter(ast.Boolean, "b")),
			&ast.If{
				Cond: b,
				Body: []ast.Instruction{
					ast.Declare(ast.Int, "x", ast.IntLit(1)),
					ast.Ret(ast.Int, ast.Var(ast.Int, "x")),
				},
				Else: []ast.Instruction{
					ast.Declare(ast.Int, "y", ast.IntLit(2)),
					ast.Ret(ast.Int, ast.Var(ast.Int, "y")),
				},
			},
		),
	)
	units := generate(t, DefaultOptions(), decl)
	m := method(t, parse(t, units[0]), "test", "(Z)I")
	if m.Code.MaxLocals != 2 {
		t.Errorf("max_locals = %d, want 2", m.Code.MaxLocals)
	}

	vm, _ := newVM(t, units)
	for arg, want := range map[int32]int32{1: 1, 0: 2} {
		got, err := vm.InvokeStatic("demo/Slots", "test", "(Z)I", arg)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("test(%d) = %v, want %d", arg, got, want)
		}
	}
}

// logicClass counts calls to touch() in a static field.
func logicClass(op ast.LogicalOp) *ast.ClassDeclaration {
	self := ast.ClassType("demo.Logic")
	calls := &ast.FieldAccess{Owner: self, Name: "calls", Type: ast.Int, Static: true}
	touch := staticMethod("touch", ast.Boolean, nil,
		&ast.FieldStore{Owner: self, Name: "calls", Type: ast.Int, Static: true, Value: add(calls, ast.IntLit(1))},
		ast.Ret(ast.Boolean, ast.BoolLit(true)),
	)
	test := staticMethod("test", ast.Boolean, params(ast.Parameter(ast.Boolean, "b")),
		ast.Ret(ast.Boolean, &ast.Logical{
			Op:    op,
			Left:  ast.Var(ast.Boolean, "b"),
			Right: ast.InvokeStaticOn(self, "touch", ast.Spec(ast.Boolean)),
		}),
	)
	decl := class("demo.Logic", touch, test)
	decl.Fields = []*ast.Field{{Modifiers: ast.Static, Type: ast.Int, Name: "calls"}}
	return decl
}

func TestLogicalSideEffects(t *testing.T) {
	tests := []struct {
		op        ast.LogicalOp
		arg       int32
		want      int32
		wantCalls int32
	}{
		{ast.And, 0, 0, 0},
		{ast.And, 1, 1, 1},
		{ast.Or, 1, 1, 0},
		{ast.Or, 0, 1, 1},
		{ast.BitAnd, 0, 0, 1},
		{ast.BitOr, 1, 1, 1},
		{ast.BitXor, 1, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			vm, _ := newVM(t, generate(t, DefaultOptions(), logicClass(tt.op)))
			got, err := vm.InvokeStatic("demo/Logic", "test", "(Z)Z", tt.arg)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("b %s touch() with b=%d = %v, want %d", tt.op, tt.arg, got, tt.want)
			}
			calls, err := vm.Static("demo/Logic", "calls")
			if err != nil {
				t.Fatal(err)
			}
			if calls != tt.wantCalls {
				t.Errorf("touch() ran %v time(s), want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestBitwiseDoesNotBranch(t *testing.T) {
	units := generate(t, DefaultOptions(), logicClass(ast.BitAnd))
	insns := decode(t, method(t, parse(t, units[0]), "test", "(Z)Z"))
	for _, in := range insns {
		if in.Op.IsBranch() {
			t.Errorf("unexpected branch %s at %d", in.Op.Name(), in.Offset)
		}
	}
	if count(insns, classfile.IAND) != 1 {
		t.Error("expected one iand")
	}
}

func TestOrdinalSwitch(t *testing.T) {
	color := ast.ClassType("demo.Color")
	constant := func(name string, ordinal int) *ast.EnumConstant {
		return &ast.EnumConstant{Type: color, Name: name, Ordinal: ordinal}
	}
	say := func(s string) ast.Instruction { return ast.Println(ast.StringLit(s)) }
	c := ast.Parameter(color, "c")

	withDefault := staticMethod("describe", ast.Void, params(c), &ast.Switch{
		Mode:  ast.SwitchOrdinal,
		Value: ast.Var(color, "c"),
		Cases: []*ast.Case{
			{Value: constant("RED", 0), Body: []ast.Instruction{say("red")}},
			{Value: constant("GREEN", 1), Body: []ast.Instruction{say("green"), &ast.Break{}}},
			{Body: []ast.Instruction{say("other")}},
		},
	})
	noDefault := staticMethod("only", ast.Void, params(c), &ast.Switch{
		Mode:  ast.SwitchOrdinal,
		Value: ast.Var(color, "c"),
		Cases: []*ast.Case{
			{Value: constant("RED", 0), Body: []ast.Instruction{say("red")}},
		},
	})
	vm, out := newVM(t, generate(t, DefaultOptions(), class("demo.Colors", withDefault, noDefault)))
	vm.DefineEnum("demo/Color", "RED", "GREEN", "BLUE")

	tests := []struct {
		method, constant, want string
	}{
		{"describe", "RED", "red\ngreen\n"},
		{"describe", "GREEN", "green\n"},
		{"describe", "BLUE", "other\n"},
		{"only", "RED", "red\n"},
		{"only", "BLUE", ""},
	}
	for _, tt := range tests {
		out.Reset()
		if _, err := vm.InvokeStatic("demo/Colors", tt.method, "(Ldemo/Color;)V", vm.Constant("demo/Color", tt.constant)); err != nil {
			t.Fatal(err)
		}
		if got := out.String(); got != tt.want {
			t.Errorf("%s(%s) printed %q, want %q", tt.method, tt.constant, got, tt.want)
		}
	}
}

func TestNumericSwitch(t *testing.T) {
	r := ast.Var(ast.Int, "r")
	cases := func(keys ...int32) []*ast.Case {
		var out []*ast.Case
		for _, k := range keys {
			out = append(out, &ast.Case{
				Value: ast.IntLit(k),
				Body:  []ast.Instruction{assign("r", ast.Int, ast.IntLit(k*10)), &ast.Break{}},
			})
		}
		return append(out, &ast.Case{Body: []ast.Instruction{assign("r", ast.Int, ast.IntLit(-1))}})
	}
	body := func(keys ...int32) []ast.Instruction {
		return []ast.Instruction{
			ast.Declare(ast.Int, "r", ast.IntLit(0)),
			&ast.Switch{Mode: ast.SwitchNumeric, Value: ast.Var(ast.Int, "k"), Cases: cases(keys...)},
			ast.Ret(ast.Int, r),
		}
	}
	k := ast.Parameter(ast.Int, "k")
	dense := staticMethod("dense", ast.Int, params(k), body(1, 2, 3, 4)...)
	sparse := staticMethod("sparse", ast.Int, params(k), body(1, 1000, 100000)...)
	units := generate(t, DefaultOptions(), class("demo.Keys", dense, sparse))

	cf := parse(t, units[0])
	if n := count(decode(t, method(t, cf, "dense", "(I)I")), classfile.TABLESWITCH); n != 1 {
		t.Errorf("dense: %d tableswitch, want 1", n)
	}
	if n := count(decode(t, method(t, cf, "sparse", "(I)I")), classfile.LOOKUPSWITCH); n != 1 {
		t.Errorf("sparse: %d lookupswitch, want 1", n)
	}

	vm, _ := newVM(t, units)
	tests := []struct {
		method string
		key    int32
		want   int32
	}{
		{"dense", 3, 30},
		{"dense", 9, -1},
		{"sparse", 1000, 10000},
		{"sparse", 7, -1},
	}
	for _, tt := range tests {
		got, err := vm.InvokeStatic("demo/Keys", tt.method, "(I)I", tt.key)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("%s(%d) = %v, want %d", tt.method, tt.key, got, tt.want)
		}
	}
}

func TestDuplicateCase(t *testing.T) {
	sw := &ast.Switch{Mode: ast.SwitchNumeric, Value: ast.IntLit(1), Cases: []*ast.Case{
		{Value: ast.IntLit(1)},
		{Value: ast.IntLit(1)},
	}}
	_, err := NewGenerator(DefaultOptions()).Generate(class("demo.Dup", staticMethod("run", ast.Void, nil, sw)))
	if !errors.Is(err, ErrDuplicateCase) {
		t.Errorf("got %v, want ErrDuplicateCase", err)
	}
}

func TestStringSwitch(t *testing.T) {
	ret := func(v int32) []ast.Instruction { return []ast.Instruction{ast.Ret(ast.Int, ast.IntLit(v))} }
	decl := class("demo.Words", staticMethod("code", ast.Int, params(ast.Parameter(ast.String, "s")),
		&ast.Switch{
			Mode:  ast.SwitchString,
			Value: ast.Var(ast.String, "s"),
			Cases: []*ast.Case{
				{Value: ast.StringLit("a"), Body: ret(1)},
				{Value: ast.StringLit("b"), Body: ret(2)},
				{Value: ast.StringLit("Aa"), Body: ret(3)},
				{Value: ast.StringLit("BB"), Body: ret(4)},
				{Body: ret(-1)},
			},
		},
	))
	vm, _ := newVM(t, generate(t, DefaultOptions(), decl))
	for s, want := range map[string]int32{"a": 1, "b": 2, "Aa": 3, "BB": 4, "C#": -1, "": -1} {
		got, err := vm.InvokeStatic("demo/Words", "code", "(Ljava/lang/String;)I", s)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("code(%q) = %v, want %d", s, got, want)
		}
	}
}

func TestLoops(t *testing.T) {
	i, n, total := ast.Var(ast.Int, "i"), ast.Var(ast.Int, "n"), ast.Var(ast.Int, "total")
	sumOdd := staticMethod("sumOdd", ast.Int, params(ast.Parameter(ast.Int, "n")),
		ast.Declare(ast.Int, "total", ast.IntLit(0)),
		&ast.For{
			Init:   []ast.Instruction{ast.Declare(ast.Int, "i", ast.IntLit(0))},
			Cond:   cmp(ast.CmpLt, i, n),
			Update: []ast.Instruction{assign("i", ast.Int, add(i, ast.IntLit(1)))},
			Body: []ast.Instruction{
				&ast.If{
					Cond: cmp(ast.CmpEq, &ast.Operate{Op: ast.OpRem, Left: i, Right: ast.IntLit(2)}, ast.IntLit(0)),
					Body: []ast.Instruction{&ast.Continue{}},
				},
				&ast.If{Cond: cmp(ast.CmpGt, total, ast.IntLit(50)), Body: []ast.Instruction{&ast.Break{}}},
				assign("total", ast.Int, add(total, i)),
			},
		},
		ast.Ret(ast.Int, total),
	)

	j, hits := ast.Var(ast.Int, "j"), ast.Var(ast.Int, "count")
	nested := staticMethod("nested", ast.Int, nil,
		ast.Declare(ast.Int, "count", ast.IntLit(0)),
		&ast.For{
			Label:  "outer",
			Init:   []ast.Instruction{ast.Declare(ast.Int, "i", ast.IntLit(0))},
			Cond:   cmp(ast.CmpLt, i, ast.IntLit(3)),
			Update: []ast.Instruction{assign("i", ast.Int, add(i, ast.IntLit(1)))},
			Body: []ast.Instruction{&ast.For{
				Init:   []ast.Instruction{ast.Declare(ast.Int, "j", ast.IntLit(0))},
				Cond:   cmp(ast.CmpLt, j, ast.IntLit(3)),
				Update: []ast.Instruction{assign("j", ast.Int, add(j, ast.IntLit(1)))},
				Body: []ast.Instruction{
					&ast.If{Cond: cmp(ast.CmpEq, j, ast.IntLit(1)), Body: []ast.Instruction{&ast.Continue{Label: "outer"}}},
					assign("count", ast.Int, add(hits, ast.IntLit(1))),
				},
			}},
		},
		ast.Ret(ast.Int, hits),
	)

	countdown := staticMethod("countdown", ast.Int, params(ast.Parameter(ast.Int, "n")),
		ast.Declare(ast.Int, "steps", ast.IntLit(0)),
		&ast.DoWhile{
			Body: []ast.Instruction{
				assign("n", ast.Int, &ast.Operate{Op: ast.OpSub, Left: n, Right: ast.IntLit(1)}),
				assign("steps", ast.Int, add(ast.Var(ast.Int, "steps"), ast.IntLit(1))),
			},
			Cond: cmp(ast.CmpGt, n, ast.IntLit(0)),
		},
		&ast.While{
			Body: []ast.Instruction{&ast.Break{}},
		},
		ast.Ret(ast.Int, ast.Var(ast.Int, "steps")),
	)

	vm, _ := newVM(t, generate(t, DefaultOptions(), class("demo.Loops", sumOdd, nested, countdown)))
	tests := []struct {
		method string
		desc   string
		args   []jvmsim.Value
		want   int32
	}{
		{"sumOdd", "(I)I", []jvmsim.Value{int32(10)}, 25},
		{"sumOdd", "(I)I", []jvmsim.Value{int32(100)}, 64},
		{"nested", "()I", nil, 3},
		{"countdown", "(I)I", []jvmsim.Value{int32(4)}, 4},
		{"countdown", "(I)I", []jvmsim.Value{int32(0)}, 1},
	}
	for _, tt := range tests {
		got, err := vm.InvokeStatic("demo/Loops", tt.method, tt.desc, tt.args...)
		if err != nil {
			t.Fatalf("%s: %v", tt.method, err)
		}
		if got != tt.want {
			t.Errorf("%s%v = %v, want %d", tt.method, tt.args, got, tt.want)
		}
	}
}

func TestForEach(t *testing.T) {
	sum := ast.Var(ast.Int, "sum")
	decl := class("demo.Each", staticMethod("sum", ast.Int, nil,
		ast.Declare(ast.Int, "sum", ast.IntLit(0)),
		&ast.ForEach{
			Iterate:  ast.IterateArray,
			Variable: ast.Parameter(ast.Int, "v"),
			Iterable: &ast.NewArray{Elem: ast.Int, Values: []ast.Instruction{ast.IntLit(4), ast.IntLit(5), ast.IntLit(6)}},
			Body:     []ast.Instruction{assign("sum", ast.Int, add(sum, ast.Var(ast.Int, "v")))},
		},
		ast.Ret(ast.Int, sum),
	))
	vm, _ := newVM(t, generate(t, DefaultOptions(), decl))
	got, err := vm.InvokeStatic("demo/Each", "sum", "()I")
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(15) {
		t.Errorf("sum = %v, want 15", got)
	}
}

func TestTryCatchFinally(t *testing.T) {
	n := ast.Var(ast.Int, "n")
	arith := ast.ClassType("java.lang.ArithmeticException")
	say := func(s string) ast.Instruction { return ast.Println(ast.StringLit(s)) }
	guard := staticMethod("guard", ast.Int, params(ast.Parameter(ast.Int, "n")), &ast.Try{
		Body: []ast.Instruction{
			say("body"),
			&ast.If{
				Cond: cmp(ast.CmpEq, n, ast.IntLit(0)),
				Body: []ast.Instruction{ast.Ret(ast.Int, &ast.Operate{Op: ast.OpDiv, Left: ast.IntLit(1), Right: n})},
			},
			ast.Ret(ast.Int, n),
		},
		Catches: []*ast.Catch{{
			Types:    []ast.Type{arith},
			Variable: "e",
			Body:     []ast.Instruction{say("caught"), ast.Ret(ast.Int, ast.IntLit(-1))},
		}},
		Finally: []ast.Instruction{say("finally")},
	})
	boom := staticMethod("boom", ast.Void, nil, &ast.Try{
		Body: []ast.Instruction{&ast.Throw{Value: &ast.New{
			Type: ast.ClassType("java.lang.IllegalStateException"),
			Spec: ast.Spec(ast.Void, ast.String),
			Args: []ast.Instruction{ast.StringLit("x")},
		}}},
		Finally: []ast.Instruction{say("cleanup")},
	})

	units := generate(t, DefaultOptions(), class("demo.Guard", guard, boom))
	vm, out := newVM(t, units)

	tests := []struct {
		arg  int32
		want int32
		out  string
	}{
		{5, 5, "body\nfinally\n"},
		{0, -1, "body\ncaught\nfinally\n"},
	}
	for _, tt := range tests {
		out.Reset()
		got, err := vm.InvokeStatic("demo/Guard", "guard", "(I)I", tt.arg)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want || out.String() != tt.out {
			t.Errorf("guard(%d) = %v printing %q, want %d printing %q", tt.arg, got, out.String(), tt.want, tt.out)
		}
	}

	out.Reset()
	_, err := vm.InvokeStatic("demo/Guard", "boom", "()V")
	var thrown *jvmsim.Thrown
	if !errors.As(err, &thrown) || thrown.Exception.Class != "java/lang/IllegalStateException" {
		t.Fatalf("boom: got %v, want IllegalStateException", err)
	}
	if out.String() != "cleanup\n" {
		t.Errorf("boom printed %q, want %q", out.String(), "cleanup\n")
	}

	// One println per exit path: the finally body is inlined each time.
	insns := decode(t, method(t, parse(t, units[0]), "guard", "(I)I"))
	if n := count(insns, classfile.INVOKEVIRTUAL); n < 5 {
		t.Errorf("guard has %d invokevirtual, want at least 5", n)
	}
}

func TestConcatStrategies(t *testing.T) {
	n, s := ast.Var(ast.Int, "n"), ast.Var(ast.String, "s")
	label := staticMethod("label", ast.String, params(ast.Parameter(ast.Int, "n"), ast.Parameter(ast.String, "s")),
		ast.Ret(ast.String, &ast.Concat{Parts: []ast.Instruction{
			ast.StringLit("n="), n,
			ast.StringLit(", s="), s,
			&ast.Concat{Parts: []ast.Instruction{ast.StringLit(", pos="), cmp(ast.CmpGt, n, ast.IntLit(0))}},
			ast.StringLit(", d="), ast.DoubleLit(1.5),
		}}),
	)
	folded := staticMethod("folded", ast.String, nil,
		ast.Ret(ast.String, &ast.Concat{Parts: []ast.Instruction{ast.StringLit("a"), ast.StringLit("b")}}),
	)

	tests := []struct {
		strategy ConcatStrategy
		major    uint16
		indy     int
	}{
		{ConcatBuilder, classfile.Java8, 0},
		{ConcatIndy, classfile.Java9, 1},
	}
	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Concat = tt.strategy
			units := generate(t, opts, class("demo.Concat", label, folded))
			cf := parse(t, units[0])
			if cf.Major != tt.major {
				t.Errorf("major version = %d, want %d", cf.Major, tt.major)
			}
			desc := "(ILjava/lang/String;)Ljava/lang/String;"
			if got := count(decode(t, method(t, cf, "label", desc)), classfile.INVOKEDYNAMIC); got != tt.indy {
				t.Errorf("invokedynamic count = %d, want %d", got, tt.indy)
			}
			if got := count(decode(t, method(t, cf, "folded", "()Ljava/lang/String;")), classfile.INVOKEVIRTUAL); got != 0 {
				t.Errorf("constant concatenation was not folded")
			}

			vm, _ := newVM(t, units)
			got, err := vm.InvokeStatic("demo/Concat", "label", desc, int32(3), "x")
			if err != nil {
				t.Fatal(err)
			}
			if want := "n=3, s=x, pos=true, d=1.5"; got != want {
				t.Errorf("label = %q, want %q", got, want)
			}
		})
	}
}

func TestClosureRoundTrip(t *testing.T) {
	op := ast.ClassType("java.util.function.IntUnaryOperator")
	sam := ast.MethodSpec{Owner: op, Name: "applyAsInt", Spec: ast.Spec(ast.Int, ast.Int)}
	run := staticMethod("run", ast.Int, params(ast.Parameter(ast.Int, "n")),
		ast.Declare(ast.Int, "base", ast.IntLit(10)),
		ast.Declare(op, "f", &ast.Lambda{
			SAM:      sam,
			Captures: []ast.Capture{{Name: "base", Type: ast.Int, Value: ast.Var(ast.Int, "base")}},
			Params:   params(ast.Parameter(ast.Int, "x")),
			Body:     []ast.Instruction{ast.Ret(ast.Int, add(ast.Var(ast.Int, "x"), ast.Var(ast.Int, "base")))},
		}),
		ast.Ret(ast.Int, &ast.Invoke{
			Mode:   ast.InvokeInterface,
			Owner:  op,
			Target: ast.Var(op, "f"),
			Name:   "applyAsInt",
			Spec:   sam.Spec,
			Args:   []ast.Instruction{ast.Var(ast.Int, "n")},
		}),
	)
	units := generate(t, DefaultOptions(), class("demo.Closures", run))
	cf := parse(t, units[0])

	var synthetic []string
	for _, m := range cf.Methods {
		if strings.HasPrefix(m.Name, "lambda$") {
			synthetic = append(synthetic, m.Name+m.Descriptor)
			if m.Access&classfile.AccSynthetic == 0 || m.Access&classfile.AccStatic == 0 {
				t.Errorf("%s is not static synthetic", m.Name)
			}
		}
	}
	if len(synthetic) != 1 || synthetic[0] != "lambda$run$0(II)I" {
		t.Fatalf("synthetic methods = %v, want [lambda$run$0(II)I]", synthetic)
	}
	if n := count(decode(t, method(t, cf, "run", "(I)I")), classfile.INVOKEDYNAMIC); n != 1 {
		t.Errorf("invokedynamic count = %d, want 1", n)
	}
	if len(cf.Bootstraps) != 1 || len(cf.Bootstraps[0].Args) != 3 {
		t.Fatalf("bootstraps = %+v, want one metafactory entry", cf.Bootstraps)
	}

	vm, _ := newVM(t, units)
	viaClosure, err := vm.InvokeStatic("demo/Closures", "run", "(I)I", int32(5))
	if err != nil {
		t.Fatal(err)
	}
	direct, err := vm.InvokeStatic("demo/Closures", "lambda$run$0", "(II)I", int32(10), int32(5))
	if err != nil {
		t.Fatal(err)
	}
	if viaClosure != int32(15) || direct != viaClosure {
		t.Errorf("closure = %v, direct = %v, want 15 for both", viaClosure, direct)
	}
}

func TestMethodRef(t *testing.T) {
	self := ast.ClassType("demo.Refs")
	op := ast.ClassType("java.util.function.IntUnaryOperator")
	sam := ast.MethodSpec{Owner: op, Name: "applyAsInt", Spec: ast.Spec(ast.Int, ast.Int)}
	twice := &ast.Method{
		Modifiers: ast.Static,
		Name:      "twice",
		Params:    params(ast.Parameter(ast.Int, "v")),
		Return:    ast.Int,
		Body:      []ast.Instruction{ast.Ret(ast.Int, add(ast.Var(ast.Int, "v"), ast.Var(ast.Int, "v")))},
	}
	apply := staticMethod("apply", ast.Int, params(ast.Parameter(ast.Int, "n")),
		ast.Ret(ast.Int, &ast.Invoke{
			Mode:  ast.InvokeInterface,
			Owner: op,
			Target: &ast.MethodRef{
				SAM:    sam,
				Mode:   ast.InvokeStatic,
				Target: ast.MethodSpec{Owner: self, Name: "twice", Spec: ast.Spec(ast.Int, ast.Int)},
			},
			Name: "applyAsInt",
			Spec: sam.Spec,
			Args: []ast.Instruction{ast.Var(ast.Int, "n")},
		}),
	)
	units := generate(t, DefaultOptions(), class("demo.Refs", twice, apply))
	if _, ok := parse(t, units[0]).Method("lambda$apply$0", "(I)I"); !ok {
		t.Error("method reference did not produce lambda$apply$0(I)I")
	}
	vm, _ := newVM(t, units)
	got, err := vm.InvokeStatic("demo/Refs", "apply", "(I)I", int32(21))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(42) {
		t.Errorf("apply(21) = %v, want 42", got)
	}
}

func TestLineStrategies(t *testing.T) {
	body := []ast.Instruction{
		&ast.Line{Number: 10, Instruction: ast.Println(ast.StringLit("a"))},
		&ast.Line{Number: 8, Instruction: ast.Println(ast.StringLit("b"))},
		&ast.Line{Number: 12, Instruction: ast.Println(ast.StringLit("c"))},
	}
	tests := []struct {
		strategy LineStrategy
		want     []int
	}{
		{LinesOff, nil},
		{LinesIncremental, []int{1, 2, 3}},
		{LinesFollowSource, []int{10, 12}},
	}
	for _, tt := range tests {
		t.Run(tt.strategy.String(), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Lines = tt.strategy
			units := generate(t, opts, class("demo.Lines", staticMethod("run", ast.Void, nil, body...)))
			m := method(t, parse(t, units[0]), "run", "()V")
			var got []int
			for _, l := range m.Code.Lines {
				got = append(got, l.Line)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("lines = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("lines = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestConstructorsAndFields(t *testing.T) {
	self := ast.ClassType("demo.Point")
	x := &ast.FieldAccess{Owner: self, Name: "x", Type: ast.Int}
	decl := &ast.ClassDeclaration{
		Name:      "demo.Point",
		Modifiers: ast.Public,
		Fields: []*ast.Field{
			{Type: ast.Int, Name: "x"},
			{Type: ast.Int, Name: "y", Value: ast.IntLit(7)},
			{Modifiers: ast.Static | ast.Final, Type: ast.Int, Name: "ORIGIN", Value: ast.IntLit(0)},
		},
		Constructors: []*ast.Method{{
			Modifiers: ast.Public,
			Name:      ast.ConstructorName,
			Params:    params(ast.Parameter(ast.Int, "x")),
			Body: []ast.Instruction{
				&ast.FieldStore{Owner: self, Name: "x", Type: ast.Int, Value: ast.Var(ast.Int, "x")},
			},
		}},
		Methods: []*ast.Method{{
			Modifiers: ast.Public,
			Name:      "toString",
			Return:    ast.String,
			Body: []ast.Instruction{ast.Ret(ast.String, &ast.Concat{Parts: []ast.Instruction{
				x, ast.StringLit(","), &ast.FieldAccess{Owner: self, Name: "y", Type: ast.Int},
			}})},
		}},
	}
	vm, _ := newVM(t, generate(t, DefaultOptions(), decl))
	p, err := vm.NewInstance("demo/Point", "(I)V", int32(3))
	if err != nil {
		t.Fatal(err)
	}
	s, err := vm.InvokeVirtual(p, "toString", "()Ljava/lang/String;")
	if err != nil {
		t.Fatal(err)
	}
	if s != "3,7" {
		t.Errorf("toString = %v, want 3,7", s)
	}
	if v, _ := vm.Static("demo/Point", "ORIGIN"); v != int32(0) {
		t.Errorf("ORIGIN = %v, want 0", v)
	}
}

func TestSynchronized(t *testing.T) {
	n := ast.Var(ast.Int, "n")
	decl := class("demo.Sync", staticMethod("twice", ast.Int,
		params(ast.Parameter(ast.String, "lock"), ast.Parameter(ast.Int, "n")),
		&ast.Synchronized{
			Lock: ast.Var(ast.String, "lock"),
			Body: []ast.Instruction{ast.Ret(ast.Int, add(n, n))},
		},
	))
	units := generate(t, DefaultOptions(), decl)
	insns := decode(t, method(t, parse(t, units[0]), "twice", "(Ljava/lang/String;I)I"))
	if got := count(insns, classfile.MONITORENTER); got != 1 {
		t.Errorf("monitorenter count = %d, want 1", got)
	}
	// The early return and the catch-any handler each release the lock.
	if got := count(insns, classfile.MONITOREXIT); got != 2 {
		t.Errorf("monitorexit count = %d, want 2", got)
	}

	vm, _ := newVM(t, units)
	got, err := vm.InvokeStatic("demo/Sync", "twice", "(Ljava/lang/String;I)I", "lock", int32(21))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(42) {
		t.Errorf("twice = %v, want 42", got)
	}
}

func TestLocalVariableTable(t *testing.T) {
	decl := class("demo.Table", staticMethod("f", ast.Int, params(ast.Parameter(ast.Int, "a")),
		ast.Declare(ast.Int, "x", ast.IntLit(1)),
		ast.Ret(ast.Int, add(ast.Var(ast.Int, "x"), ast.Var(ast.Int, "a"))),
	))
	m := method(t, parse(t, generate(t, DefaultOptions(), decl)[0]), "f", "(I)I")

	got := make(map[string]classfile.LocalVariable)
	for _, l := range m.Code.Locals {
		got[l.Name] = l
	}
	a, ok := got["a"]
	if !ok {
		t.Fatalf("parameter a missing from %v", m.Code.Locals)
	}
	if a.Slot != 0 || a.Desc != "I" || a.Start != 0 || a.Start+a.Length != len(m.Code.Code) {
		t.Errorf("a = %+v, want slot 0 covering [0, %d)", a, len(m.Code.Code))
	}
	if x, ok := got["x"]; !ok || x.Slot != 1 {
		t.Errorf("x = %+v, want slot 1", x)
	}
	if len(m.Code.Locals) != 2 {
		t.Errorf("got %d entries, want 2", len(m.Code.Locals))
	}
}

func TestLocalCode(t *testing.T) {
	self := ast.ClassType("demo.Local")
	square := &ast.LocalCode{Method: &ast.Method{
		Modifiers: ast.Private | ast.Static,
		Name:      "square",
		Params:    params(ast.Parameter(ast.Int, "x")),
		Return:    ast.Int,
		Body:      []ast.Instruction{ast.Ret(ast.Int, &ast.Operate{Op: ast.OpMul, Left: ast.Var(ast.Int, "x"), Right: ast.Var(ast.Int, "x")})},
	}}
	n := ast.Var(ast.Int, "n")
	// Declaring the same method twice yields one member.
	decl := class("demo.Local", staticMethod("run", ast.Int, params(ast.Parameter(ast.Int, "n")),
		square,
		square,
		ast.Ret(ast.Int, add(square.Call(self, n), square.Call(self, ast.IntLit(2)))),
	))
	units := generate(t, DefaultOptions(), decl)
	cf := parse(t, units[0])

	m := method(t, cf, "square", "(I)I")
	if m.Access&classfile.AccPrivate == 0 || m.Access&classfile.AccStatic == 0 {
		t.Errorf("square access = %#x, want private static", m.Access)
	}
	declared := 0
	for _, m := range cf.Methods {
		if m.Name == "square" {
			declared++
		}
	}
	if declared != 1 {
		t.Errorf("square declared %d times, want 1", declared)
	}

	vm, _ := newVM(t, units)
	got, err := vm.InvokeStatic("demo/Local", "run", "(I)I", int32(3))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(13) {
		t.Errorf("run(3) = %v, want 13", got)
	}
}
