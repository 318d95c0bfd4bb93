package ast

// Typed is implemented by caller-defined instructions that produce a value.
type Typed interface {
	ResultType() Type
}

// TypeOf returns the static type of the value an instruction leaves on the
// operand stack, or Void for statements. self is the type This refers to.
func TypeOf(in Instruction, self Type) Type {
	switch n := in.(type) {
	case nil:
		return Void
	case *VariableAccess:
		return n.Type
	case *This:
		return self
	case *FieldAccess:
		return n.Type
	case *Invoke:
		if !n.Spec.Return.IsValid() {
			return Void
		}
		return n.Spec.Return
	case *New:
		return n.Type
	case *Literal:
		return n.Type
	case *EnumConstant:
		return n.Type
	case *Operate:
		return operateType(n, self)
	case *Compare, *Logical, *Not, *InstanceOf:
		return Boolean
	case *Cast:
		return n.To
	case *NewArray:
		return ArrayOf(n.Elem)
	case *ArrayLoad:
		return n.Elem
	case *ArrayLength:
		return Int
	case *Concat:
		return String
	case *Lambda:
		return n.SAM.Owner
	case *MethodRef:
		return n.SAM.Owner
	case *Line:
		return TypeOf(n.Instruction, self)
	case Typed:
		return n.ResultType()
	}
	return Void
}

func operateType(n *Operate, self Type) Type {
	left := TypeOf(n.Left, self).Unboxed()
	if n.Op.IsUnary() {
		return Promote(left)
	}
	right := TypeOf(n.Right, self).Unboxed()
	switch n.Op {
	case OpShl, OpShr, OpUshr:
		return Promote(left)
	case OpAnd, OpOr, OpXor:
		if left.Is(Boolean) && right.Is(Boolean) {
			return Boolean
		}
	}
	return BinaryPromote(left, right)
}

// Promote applies unary numeric promotion.
func Promote(t Type) Type {
	if t.IsIntLike() {
		return Int
	}
	return t
}

// BinaryPromote applies binary numeric promotion.
func BinaryPromote(a, b Type) Type {
	switch {
	case a.Is(Double) || b.Is(Double):
		return Double
	case a.Is(Float) || b.Is(Float):
		return Float
	case a.Is(Long) || b.Is(Long):
		return Long
	}
	return Int
}
