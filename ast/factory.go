package ast

// Convenience constructors. The full builder API lives with callers; these
// cover the shapes the engine itself synthesizes and what tests need.

// IntLit returns an int literal.
func IntLit(v int32) *Literal { return &Literal{Type: Int, Value: v} }

// LongLit returns a long literal.
func LongLit(v int64) *Literal { return &Literal{Type: Long, Value: v} }

// DoubleLit returns a double literal.
func DoubleLit(v float64) *Literal { return &Literal{Type: Double, Value: v} }

// BoolLit returns a boolean literal.
func BoolLit(v bool) *Literal { return &Literal{Type: Boolean, Value: v} }

// StringLit returns a String literal.
func StringLit(v string) *Literal { return &Literal{Type: String, Value: v} }

// Null returns the null literal typed as t.
func Null(t Type) *Literal { return &Literal{Type: t, Value: nil} }

// Var reads a local.
func Var(t Type, name string) *VariableAccess { return &VariableAccess{Name: name, Type: t} }

// Declare declares a local with an initial value.
func Declare(t Type, name string, value Instruction) *VariableDeclaration {
	return &VariableDeclaration{Name: name, Type: t, Value: value}
}

// Ret returns a value of type t.
func Ret(t Type, value Instruction) *Return { return &Return{Type: t, Value: value} }

// ReturnVoid returns from a void method.
func ReturnVoid() *Return { return &Return{Type: Void} }

// SystemOut reads System.out.
func SystemOut() *FieldAccess {
	return &FieldAccess{Owner: System, Name: "out", Type: PrintStream, Static: true}
}

// Println prints value through System.out.println, picking the overload
// from the value's type.
func Println(value Instruction) *Invoke {
	t := TypeOf(value, Object)
	switch {
	case t.Is(String), t.IsPrimitive() && !t.Is(Byte) && !t.Is(Short):
	case t.Is(Byte) || t.Is(Short):
		t = Int
	default:
		t = Object
	}
	return &Invoke{
		Mode:   InvokeVirtual,
		Owner:  PrintStream,
		Target: SystemOut(),
		Name:   "println",
		Spec:   Spec(Void, t),
		Args:   []Instruction{value},
	}
}

// InvokeStaticOn calls a static method.
func InvokeStaticOn(owner Type, name string, spec TypeSpec, args ...Instruction) *Invoke {
	return &Invoke{Mode: InvokeStatic, Owner: owner, Name: name, Spec: spec, Args: args}
}

// InvokeVirtualOn calls an instance method.
func InvokeVirtualOn(owner Type, target Instruction, name string, spec TypeSpec, args ...Instruction) *Invoke {
	return &Invoke{Mode: InvokeVirtual, Owner: owner, Target: target, Name: name, Spec: spec, Args: args}
}

// SuperConstructor calls the superclass constructor on this.
func SuperConstructor(super Type, spec TypeSpec, args ...Instruction) *Invoke {
	spec.Return = Void
	return &Invoke{Mode: InvokeSpecial, Owner: super, Target: &This{}, Name: ConstructorName, Spec: spec, Args: args}
}
