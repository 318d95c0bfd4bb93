package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

func lowerBlock(c *Context, n *ast.Block) error {
	return c.Scoped(n.Body)
}

func lowerVariableDeclaration(c *Context, n *ast.VariableDeclaration) error {
	if n.Value == nil {
		_, err := c.declare(n.Name, n.Type, false, false)
		return err
	}
	// The initializer cannot see the variable it initializes.
	if err := c.lowerAs(n.Value, n.Type); err != nil {
		return err
	}
	_, err := c.declare(n.Name, n.Type, true, false)
	return err
}

func lowerAssign(c *Context, n *ast.Assign) error {
	l, err := c.lookup(n.Name)
	if err != nil {
		return err
	}
	if err := c.lowerAs(n.Value, l.typ); err != nil {
		return err
	}
	c.store(l.typ, l.slot)
	return nil
}

func lowerVariableAccess(c *Context, n *ast.VariableAccess) error {
	l, err := c.lookup(n.Name)
	if err != nil {
		return err
	}
	c.load(l.typ, l.slot)
	return c.convert(l.typ, n.Type, false)
}

func lowerThis(c *Context, _ *ast.This) error {
	l, ok := c.alloc.Lookup("this")
	if !ok {
		return fmt.Errorf("%w: this in static context", ErrUnknownVariable)
	}
	c.load(l.typ, l.slot)
	return nil
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func (c *Context) receiver(target ast.Instruction) error {
	if target == nil {
		target = &ast.This{}
	}
	return c.Lower(target)
}

func lowerFieldAccess(c *Context, n *ast.FieldAccess) error {
	if !n.Static {
		if err := c.receiver(n.Target); err != nil {
			return err
		}
	}
	c.getField(n.Owner, n.Name, n.Type, n.Static)
	return nil
}

func lowerFieldStore(c *Context, n *ast.FieldStore) error {
	if !n.Static {
		if err := c.receiver(n.Target); err != nil {
			return err
		}
	}
	if err := c.lowerAs(n.Value, n.Type); err != nil {
		return err
	}
	c.putField(n.Owner, n.Name, n.Type, n.Static)
	return nil
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func (c *Context) arguments(spec ast.TypeSpec, args []ast.Instruction) error {
	if len(args) != len(spec.Params) {
		return fmt.Errorf("%w: %d arguments for %s", ErrTypeMismatch, len(args), spec.Descriptor())
	}
	for i, a := range args {
		if err := c.lowerAs(a, spec.Params[i]); err != nil {
			return err
		}
	}
	return nil
}

func lowerInvoke(c *Context, n *ast.Invoke) error {
	if n.Mode != ast.InvokeStatic {
		if err := c.receiver(n.Target); err != nil {
			return err
		}
	}
	if err := c.arguments(n.Spec, n.Args); err != nil {
		return err
	}
	spec := n.Spec
	if !spec.Return.IsValid() || n.Name == ast.ConstructorName {
		spec.Return = ast.Void
	}
	c.invoke(n.Mode, n.Owner, n.Name, spec, false)
	return nil
}

func lowerNew(c *Context, n *ast.New) error {
	off := c.w.Offset()
	c.w.TypeInsn(classfile.NEW, n.Type.InternalName())
	c.newTypes[off] = n.Type.InternalName()
	c.push(classfile.UninitializedAt(off))
	c.dup()
	if err := c.arguments(n.Spec, n.Args); err != nil {
		return err
	}
	spec := n.Spec
	spec.Return = ast.Void
	c.invoke(ast.InvokeSpecial, n.Type, ast.ConstructorName, spec, false)
	return nil
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func intValue(v any) (int64, bool) {
	switch v := v.(type) {
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint16:
		return int64(v), true
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch v := v.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	if i, ok := intValue(v); ok {
		return float64(i), true
	}
	return 0, false
}

func lowerLiteral(c *Context, n *ast.Literal) error {
	t := n.Type
	switch {
	case t.IsIntLike():
		v, ok := intValue(n.Value)
		if !ok {
			return fmt.Errorf("%w: %T literal of type %s", ErrTypeMismatch, n.Value, t)
		}
		c.pushInt(int32(v))
	case t.Is(ast.Long):
		v, ok := intValue(n.Value)
		if !ok {
			return fmt.Errorf("%w: %T literal of type long", ErrTypeMismatch, n.Value)
		}
		c.pushLong(v)
	case t.Is(ast.Float):
		v, ok := floatValue(n.Value)
		if !ok {
			return fmt.Errorf("%w: %T literal of type float", ErrTypeMismatch, n.Value)
		}
		c.pushFloat(float32(v))
	case t.Is(ast.Double):
		v, ok := floatValue(n.Value)
		if !ok {
			return fmt.Errorf("%w: %T literal of type double", ErrTypeMismatch, n.Value)
		}
		c.pushDouble(v)
	case n.Value == nil:
		c.pushNull()
	default:
		switch v := n.Value.(type) {
		case string:
			c.pushString(v)
		case ast.Type:
			c.classLiteral(v)
		default:
			if !t.IsBox() {
				return fmt.Errorf("%w: %T literal of type %s", ErrTypeMismatch, n.Value, t)
			}
			// Boxed constants load the primitive and box it.
			if err := lowerLiteral(c, &ast.Literal{Type: t.Unboxed(), Value: n.Value}); err != nil {
				return err
			}
			c.box(t.Unboxed())
		}
	}
	return nil
}

func (c *Context) classLiteral(t ast.Type) {
	if t.IsPrimitive() || t.IsVoid() {
		owner := t.Boxed()
		if t.IsVoid() {
			owner = ast.ClassType("java.lang.Void")
		}
		c.getField(owner, "TYPE", ast.Class, true)
		return
	}
	c.w.LdcInsn(classfile.ClassConst(t.InternalName()))
	c.pushType(ast.Class)
}

func lowerEnumConstant(c *Context, n *ast.EnumConstant) error {
	c.getField(n.Type, n.Name, n.Type, true)
	return nil
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var operatorOps = map[ast.Operator]classfile.Opcode{
	ast.OpAdd:  classfile.IADD,
	ast.OpSub:  classfile.ISUB,
	ast.OpMul:  classfile.IMUL,
	ast.OpDiv:  classfile.IDIV,
	ast.OpRem:  classfile.IREM,
	ast.OpNeg:  classfile.INEG,
	ast.OpShl:  classfile.ISHL,
	ast.OpShr:  classfile.ISHR,
	ast.OpUshr: classfile.IUSHR,
	ast.OpAnd:  classfile.IAND,
	ast.OpOr:   classfile.IOR,
	ast.OpXor:  classfile.IXOR,
}

// arithOp picks the typed variant. Shift and bitwise families only have
// int and long forms, interleaved.
func arithOp(op ast.Operator, t ast.Type) (classfile.Opcode, error) {
	base, ok := operatorOps[op]
	if !ok {
		return 0, fmt.Errorf("%w: operator %s", ErrUnsupportedInstruction, op)
	}
	idx := typeIndex(t)
	switch op {
	case ast.OpShl, ast.OpShr, ast.OpUshr, ast.OpAnd, ast.OpOr, ast.OpXor:
		if idx > 1 {
			return 0, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, op, t)
		}
		return base + classfile.Opcode(idx), nil
	}
	if idx > 3 {
		return 0, fmt.Errorf("%w: %s on %s", ErrTypeMismatch, op, t)
	}
	return base + classfile.Opcode(idx), nil
}

func lowerOperate(c *Context, n *ast.Operate) error {
	rt := c.typeOf(n)
	operand := rt
	if rt.Is(ast.Boolean) {
		operand = ast.Boolean
	}
	switch n.Op {
	case ast.OpNeg:
		if err := c.lowerAs(n.Left, rt); err != nil {
			return err
		}
		op, err := arithOp(n.Op, rt)
		if err != nil {
			return err
		}
		c.w.Insn(op)
		return nil
	case ast.OpInv:
		if err := c.lowerAs(n.Left, rt); err != nil {
			return err
		}
		if rt.Is(ast.Long) {
			c.pushLong(-1)
		} else {
			c.pushInt(-1)
		}
		op, err := arithOp(ast.OpXor, rt)
		if err != nil {
			return err
		}
		c.w.Insn(op)
		c.pop()
		return nil
	case ast.OpShl, ast.OpShr, ast.OpUshr:
		if err := c.lowerAs(n.Left, rt); err != nil {
			return err
		}
		if err := c.lowerAs(n.Right, ast.Promote(c.typeOf(n.Right).Unboxed())); err != nil {
			return err
		}
		if c.peek().Tag == classfile.VLong {
			c.w.Insn(classfile.L2I)
			c.pop()
			c.push(classfile.Integer)
		}
	default:
		if err := c.lowerAs(n.Left, operand); err != nil {
			return err
		}
		if err := c.lowerAs(n.Right, operand); err != nil {
			return err
		}
	}
	op, err := arithOp(n.Op, rt)
	if err != nil {
		return err
	}
	c.w.Insn(op)
	c.popN(2)
	c.pushType(rt)
	return nil
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func lowerCast(c *Context, n *ast.Cast) error {
	if err := c.Lower(n.Value); err != nil {
		return err
	}
	from := n.From
	if !from.IsValid() {
		from = c.typeOf(n.Value)
	}
	return c.convert(from, n.To, true)
}

func lowerInstanceOf(c *Context, n *ast.InstanceOf) error {
	if err := c.Lower(n.Value); err != nil {
		return err
	}
	c.w.TypeInsn(classfile.INSTANCEOF, n.Type.InternalName())
	c.pop()
	c.push(classfile.Integer)
	return nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func (c *Context) newArray(elem ast.Type) {
	if elem.IsPrimitive() {
		c.w.IntInsn(classfile.NEWARRAY, newArrayCode(elem))
	} else {
		c.w.TypeInsn(classfile.ANEWARRAY, elem.InternalName())
	}
	c.pop()
	c.pushType(ast.ArrayOf(elem))
}

func lowerNewArray(c *Context, n *ast.NewArray) error {
	if len(n.Values) == 0 {
		if n.Length == nil {
			c.pushInt(0)
		} else if err := c.lowerAs(n.Length, ast.Int); err != nil {
			return err
		}
		c.newArray(n.Elem)
		return nil
	}
	c.pushInt(int32(len(n.Values)))
	c.newArray(n.Elem)
	for i, v := range n.Values {
		c.dup()
		c.pushInt(int32(i))
		if err := c.lowerAs(v, n.Elem); err != nil {
			return err
		}
		c.w.Insn(arrayStoreOp(n.Elem))
		c.popN(3)
	}
	return nil
}

func lowerArrayLoad(c *Context, n *ast.ArrayLoad) error {
	if err := c.Lower(n.Array); err != nil {
		return err
	}
	if err := c.lowerAs(n.Index, ast.Int); err != nil {
		return err
	}
	c.w.Insn(arrayLoadOp(n.Elem))
	c.popN(2)
	c.pushType(n.Elem)
	return nil
}

func lowerArrayStore(c *Context, n *ast.ArrayStore) error {
	if err := c.Lower(n.Array); err != nil {
		return err
	}
	if err := c.lowerAs(n.Index, ast.Int); err != nil {
		return err
	}
	if err := c.lowerAs(n.Value, n.Elem); err != nil {
		return err
	}
	c.w.Insn(arrayStoreOp(n.Elem))
	c.popN(3)
	return nil
}

func lowerArrayLength(c *Context, n *ast.ArrayLength) error {
	if err := c.Lower(n.Array); err != nil {
		return err
	}
	c.w.Insn(classfile.ARRAYLENGTH)
	c.pop()
	c.push(classfile.Integer)
	return nil
}

func lowerThrow(c *Context, n *ast.Throw) error {
	if err := c.Lower(n.Value); err != nil {
		return err
	}
	c.w.Insn(classfile.ATHROW)
	c.pop()
	c.unreachable()
	return nil
}
