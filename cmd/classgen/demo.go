package main

import "github.com/chazu/classgen/ast"

// demoDeclarations builds the classes produced by `classgen demo`:
// the hello world program plus a class exercising closures and switches.
func demoDeclarations() []*ast.ClassDeclaration {
	hello := &ast.ClassDeclaration{
		Name:      "demo.Hello",
		Modifiers: ast.Public,
		Methods: []*ast.Method{{
			Modifiers: ast.Public | ast.Static,
			Name:      "main",
			Params:    []ast.Param{ast.Parameter(ast.ArrayOf(ast.String), "args")},
			Return:    ast.Void,
			Body: []ast.Instruction{
				ast.Println(ast.StringLit("Hello world")),
			},
		}},
	}

	op := ast.ClassType("java.util.function.IntUnaryOperator")
	sam := ast.MethodSpec{Owner: op, Name: "applyAsInt", Spec: ast.Spec(ast.Int, ast.Int)}
	self := ast.ClassType("demo.Tour")
	n := ast.Var(ast.Int, "n")

	name := &ast.Method{
		Modifiers: ast.Public | ast.Static,
		Name:      "name",
		Params:    []ast.Param{ast.Parameter(ast.Int, "n")},
		Return:    ast.String,
		Body: []ast.Instruction{&ast.Switch{
			Mode:  ast.SwitchNumeric,
			Value: n,
			Cases: []*ast.Case{
				{Value: ast.IntLit(1), Body: []ast.Instruction{ast.Ret(ast.String, ast.StringLit("one"))}},
				{Value: ast.IntLit(2), Body: []ast.Instruction{ast.Ret(ast.String, ast.StringLit("two"))}},
				{Body: []ast.Instruction{ast.Ret(ast.String, ast.StringLit("many"))}},
			},
		}},
	}

	main := &ast.Method{
		Modifiers: ast.Public | ast.Static,
		Name:      "main",
		Params:    []ast.Param{ast.Parameter(ast.ArrayOf(ast.String), "args")},
		Return:    ast.Void,
		Body: []ast.Instruction{
			ast.Declare(ast.Int, "step", ast.IntLit(3)),
			ast.Declare(op, "f", &ast.Lambda{
				SAM:      sam,
				Captures: []ast.Capture{{Name: "step", Type: ast.Int, Value: ast.Var(ast.Int, "step")}},
				Params:   []ast.Param{ast.Parameter(ast.Int, "x")},
				Body: []ast.Instruction{ast.Ret(ast.Int, &ast.Operate{
					Op:    ast.OpAdd,
					Left:  ast.Var(ast.Int, "x"),
					Right: ast.Var(ast.Int, "step"),
				})},
			}),
			&ast.For{
				Init:   []ast.Instruction{ast.Declare(ast.Int, "i", ast.IntLit(1))},
				Cond:   &ast.Compare{Op: ast.CmpLe, Left: ast.Var(ast.Int, "i"), Right: ast.IntLit(3)},
				Update: []ast.Instruction{&ast.Assign{Name: "i", Type: ast.Int, Value: &ast.Operate{Op: ast.OpAdd, Left: ast.Var(ast.Int, "i"), Right: ast.IntLit(1)}}},
				Body: []ast.Instruction{ast.Println(&ast.Concat{Parts: []ast.Instruction{
					ast.InvokeStaticOn(self, "name", ast.Spec(ast.String, ast.Int), ast.Var(ast.Int, "i")),
					ast.StringLit(" -> "),
					&ast.Invoke{
						Mode:   ast.InvokeInterface,
						Owner:  op,
						Target: ast.Var(op, "f"),
						Name:   "applyAsInt",
						Spec:   sam.Spec,
						Args:   []ast.Instruction{ast.Var(ast.Int, "i")},
					},
				}})},
			},
		},
	}

	tour := &ast.ClassDeclaration{
		Name:      "demo.Tour",
		Modifiers: ast.Public,
		Methods:   []*ast.Method{name, main},
	}
	return []*ast.ClassDeclaration{hello, tour}
}
