package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Lambdas and method references
// ---------------------------------------------------------------------------

var metafactory = classfile.Handle{
	Kind:  classfile.RefInvokeStatic,
	Owner: "java/lang/invoke/LambdaMetafactory",
	Name:  "metafactory",
	Desc: "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;" +
		"Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)" +
		"Ljava/lang/invoke/CallSite;",
}

// syntheticBase returns the name lambdas declared in a member are
// numbered under.
func syntheticBase(member string) string {
	switch member {
	case ast.ConstructorName:
		return "new"
	case ast.StaticInitializerName:
		return "static"
	}
	return member
}

func captureParams(caps []ast.Capture) []ast.Param {
	params := make([]ast.Param, len(caps))
	for i, cp := range caps {
		name := cp.Name
		if _, ok := unwrapLine(cp.Value).(*ast.This); ok && name == "" {
			name = "this"
		}
		params[i] = ast.Param{Name: name, Type: cp.Type}
	}
	return params
}

func instantiated(sam ast.MethodSpec, inst ast.TypeSpec) ast.TypeSpec {
	if !inst.Return.IsValid() && len(inst.Params) == 0 {
		return sam.Spec
	}
	if !inst.Return.IsValid() {
		inst.Return = ast.Void
	}
	return inst
}

// callSite evaluates the captures and emits the invokedynamic that
// links sam to the synthetic method.
func (c *Context) callSite(sam ast.MethodSpec, inst ast.TypeSpec, caps []ast.Capture, synth *ast.Method) error {
	capTypes := make([]ast.Type, len(caps))
	for i, cp := range caps {
		if err := c.lowerAs(cp.Value, cp.Type); err != nil {
			return err
		}
		capTypes[i] = cp.Type
	}
	impl := classfile.Handle{
		Kind:      classfile.RefInvokeStatic,
		Owner:     c.unit.decl.Type().InternalName(),
		Name:      synth.Name,
		Desc:      synth.Spec().Descriptor(),
		Interface: c.unit.decl.Interface,
	}
	c.w.InvokeDynamicInsn(sam.Name, ast.Spec(sam.Owner, capTypes...).Descriptor(), metafactory,
		classfile.MethodTypeConst(sam.Spec.Descriptor()),
		impl,
		classfile.MethodTypeConst(inst.Descriptor()),
	)
	c.popN(len(caps))
	c.pushType(sam.Owner)
	return nil
}

func lowerLambda(c *Context, n *ast.Lambda) error {
	if c.unit == nil {
		return ErrFragmentSynthetic
	}
	inst := instantiated(n.SAM, n.Instantiated)
	params := append(captureParams(n.Captures), n.Params...)
	if len(n.Params) != len(inst.Params) {
		return fmt.Errorf("%w: lambda declares %d parameters for %s", ErrTypeMismatch, len(n.Params), inst.Descriptor())
	}
	synth := &ast.Method{
		Modifiers: ast.Private | ast.Static | ast.Synthetic,
		Name:      c.unit.syntheticName(c.member),
		Params:    params,
		Return:    inst.Return,
		Body:      n.Body,
	}
	c.unit.enqueue(synth, c.member)
	return c.callSite(n.SAM, inst, n.Captures, synth)
}

func lowerMethodRef(c *Context, n *ast.MethodRef) error {
	if c.unit == nil {
		return ErrFragmentSynthetic
	}
	inst := instantiated(n.SAM, n.Instantiated)
	params := captureParams(n.Captures)
	for i, t := range inst.Params {
		params = append(params, ast.Param{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	args := make([]ast.Instruction, len(params))
	for i, p := range params {
		args[i] = ast.Var(p.Type, p.Name)
	}

	var call ast.Instruction
	target := n.Target
	switch {
	case target.Name == ast.ConstructorName:
		call = &ast.New{Type: target.Owner, Spec: target.Spec, Args: args}
	case n.Mode == ast.InvokeStatic:
		call = &ast.Invoke{Mode: ast.InvokeStatic, Owner: target.Owner, Name: target.Name, Spec: target.Spec, Args: args}
	default:
		if len(args) == 0 {
			return fmt.Errorf("%w: instance method reference %s without receiver", ErrTypeMismatch, target.Name)
		}
		recv := args[0]
		if !params[0].Type.Is(target.Owner) {
			recv = &ast.Cast{From: params[0].Type, To: target.Owner, Value: recv}
		}
		call = &ast.Invoke{Mode: n.Mode, Owner: target.Owner, Target: recv, Name: target.Name, Spec: target.Spec, Args: args[1:]}
	}

	body := []ast.Instruction{call}
	if !inst.Return.IsVoid() {
		body = []ast.Instruction{ast.Ret(inst.Return, call)}
	}
	synth := &ast.Method{
		Modifiers: ast.Private | ast.Static | ast.Synthetic,
		Name:      c.unit.syntheticName(c.member),
		Params:    params,
		Return:    inst.Return,
		Body:      body,
	}
	c.unit.enqueue(synth, c.member)
	return c.callSite(n.SAM, inst, n.Captures, synth)
}

func lowerLocalCode(c *Context, n *ast.LocalCode) error {
	if c.unit == nil {
		return ErrFragmentSynthetic
	}
	if n.Method == nil {
		return fmt.Errorf("%w: local code without a method", ErrTypeMismatch)
	}
	c.unit.declareLocal(n.Method)
	return nil
}
