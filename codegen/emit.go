package codegen

import (
	"fmt"
	"math"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Typed opcode selection
// ---------------------------------------------------------------------------

// typeIndex orders the int, long, float, double and reference variants of
// an opcode family.
func typeIndex(t ast.Type) int {
	switch {
	case t.IsIntLike():
		return 0
	case t.Is(ast.Long):
		return 1
	case t.Is(ast.Float):
		return 2
	case t.Is(ast.Double):
		return 3
	}
	return 4
}

func loadOp(t ast.Type) classfile.Opcode   { return classfile.ILOAD + classfile.Opcode(typeIndex(t)) }
func storeOp(t ast.Type) classfile.Opcode  { return classfile.ISTORE + classfile.Opcode(typeIndex(t)) }
func returnOp(t ast.Type) classfile.Opcode { return classfile.IRETURN + classfile.Opcode(typeIndex(t)) }

func arrayLoadOp(elem ast.Type) classfile.Opcode {
	switch {
	case elem.Is(ast.Boolean), elem.Is(ast.Byte):
		return classfile.BALOAD
	case elem.Is(ast.Char):
		return classfile.CALOAD
	case elem.Is(ast.Short):
		return classfile.SALOAD
	}
	return classfile.IALOAD + classfile.Opcode(typeIndex(elem))
}

func arrayStoreOp(elem ast.Type) classfile.Opcode {
	switch {
	case elem.Is(ast.Boolean), elem.Is(ast.Byte):
		return classfile.BASTORE
	case elem.Is(ast.Char):
		return classfile.CASTORE
	case elem.Is(ast.Short):
		return classfile.SASTORE
	}
	return classfile.IASTORE + classfile.Opcode(typeIndex(elem))
}

func newArrayCode(elem ast.Type) int {
	switch elem.Descriptor() {
	case "Z":
		return classfile.T_BOOLEAN
	case "C":
		return classfile.T_CHAR
	case "F":
		return classfile.T_FLOAT
	case "D":
		return classfile.T_DOUBLE
	case "B":
		return classfile.T_BYTE
	case "S":
		return classfile.T_SHORT
	case "J":
		return classfile.T_LONG
	}
	return classfile.T_INT
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

func (c *Context) pushInt(v int32) {
	switch {
	case v >= -1 && v <= 5:
		c.w.Insn(classfile.ICONST_M1 + classfile.Opcode(v+1))
	case v >= math.MinInt8 && v <= math.MaxInt8:
		c.w.IntInsn(classfile.BIPUSH, int(v))
	case v >= math.MinInt16 && v <= math.MaxInt16:
		c.w.IntInsn(classfile.SIPUSH, int(v))
	default:
		c.w.LdcInsn(v)
	}
	c.push(classfile.Integer)
}

func (c *Context) pushLong(v int64) {
	if v == 0 || v == 1 {
		c.w.Insn(classfile.LCONST_0 + classfile.Opcode(v))
	} else {
		c.w.LdcInsn(v)
	}
	c.push(classfile.Long)
}

func (c *Context) pushFloat(v float32) {
	if (v == 0 && !math.Signbit(float64(v))) || v == 1 || v == 2 {
		c.w.Insn(classfile.FCONST_0 + classfile.Opcode(v))
	} else {
		c.w.LdcInsn(v)
	}
	c.push(classfile.Float)
}

func (c *Context) pushDouble(v float64) {
	if (v == 0 && !math.Signbit(v)) || v == 1 {
		c.w.Insn(classfile.DCONST_0 + classfile.Opcode(v))
	} else {
		c.w.LdcInsn(v)
	}
	c.push(classfile.Double)
}

func (c *Context) pushString(s string) {
	c.w.LdcInsn(s)
	c.push(classfile.ObjectType("java/lang/String"))
}

func (c *Context) pushNull() {
	c.w.Insn(classfile.ACONST_NULL)
	c.push(classfile.Null)
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func (c *Context) load(t ast.Type, slot int) {
	c.w.VarInsn(loadOp(t), slot)
	if slot < len(c.frame.locals) && c.frame.locals[slot].Tag != classfile.VTop && t.IsReference() {
		// Keep the sharper type the local currently holds, such as an
		// uninitialized receiver.
		c.push(c.frame.locals[slot])
		return
	}
	c.push(vtypeOf(t))
}

func (c *Context) store(t ast.Type, slot int) {
	c.w.VarInsn(storeOp(t), slot)
	v := c.pop()
	if t.IsReference() && (v.Tag == classfile.VUninitializedThis || v.Tag == classfile.VUninitialized) {
		c.setLocal(slot, v)
		return
	}
	c.setLocal(slot, vtypeOf(t))
}

// ---------------------------------------------------------------------------
// Stack shuffles
// ---------------------------------------------------------------------------

func (c *Context) dup() {
	t := c.peek()
	if t.IsWide() {
		c.w.Insn(classfile.DUP2)
	} else {
		c.w.Insn(classfile.DUP)
	}
	c.push(t)
}

func (c *Context) discard() {
	if c.pop().IsWide() {
		c.w.Insn(classfile.POP2)
	} else {
		c.w.Insn(classfile.POP)
	}
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

func (c *Context) getField(owner ast.Type, name string, t ast.Type, static bool) {
	if static {
		c.w.FieldInsn(classfile.GETSTATIC, owner.InternalName(), name, t.Descriptor())
	} else {
		c.w.FieldInsn(classfile.GETFIELD, owner.InternalName(), name, t.Descriptor())
		c.pop()
	}
	c.pushType(t)
}

func (c *Context) putField(owner ast.Type, name string, t ast.Type, static bool) {
	if static {
		c.w.FieldInsn(classfile.PUTSTATIC, owner.InternalName(), name, t.Descriptor())
		c.pop()
		return
	}
	c.w.FieldInsn(classfile.PUTFIELD, owner.InternalName(), name, t.Descriptor())
	c.popN(2)
}

func invokeOp(mode ast.InvokeMode) classfile.Opcode {
	switch mode {
	case ast.InvokeStatic:
		return classfile.INVOKESTATIC
	case ast.InvokeInterface:
		return classfile.INVOKEINTERFACE
	case ast.InvokeSpecial:
		return classfile.INVOKESPECIAL
	}
	return classfile.INVOKEVIRTUAL
}

// invoke emits a call whose arguments (and receiver) are on the stack.
func (c *Context) invoke(mode ast.InvokeMode, owner ast.Type, name string, spec ast.TypeSpec, itf bool) {
	c.w.MethodInsn(invokeOp(mode), owner.InternalName(), name, spec.Descriptor(), itf || mode == ast.InvokeInterface)
	c.popN(len(spec.Params))
	if mode != ast.InvokeStatic {
		recv := c.pop()
		if name == ast.ConstructorName {
			c.initialize(recv)
		}
	}
	if name != ast.ConstructorName {
		c.pushType(spec.Return)
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// lowerAs lowers node and converts its value to want.
func (c *Context) lowerAs(node ast.Instruction, want ast.Type) error {
	if err := c.Lower(node); err != nil {
		return err
	}
	return c.convert(c.typeOf(node), want, false)
}

func (c *Context) typeOf(node ast.Instruction) ast.Type {
	return ast.TypeOf(node, c.self)
}

// convert emits the conversion from one static type to another. Explicit
// conversions also checkcast between reference types.
func (c *Context) convert(from, to ast.Type, explicit bool) error {
	switch {
	case !to.IsValid() || to.IsVoid() || from.Is(to):
		return nil
	case from.IsVoid() || !from.IsValid():
		return fmt.Errorf("%w: void value used as %s", ErrTypeMismatch, to)
	case from.IsPrimitive() && to.IsPrimitive():
		return c.primitive(from, to)
	case from.IsPrimitive():
		// Boxing. A box target fixes the primitive; otherwise the value
		// keeps its own box.
		prim := from
		if to.IsBox() {
			prim = to.Unboxed()
			if err := c.primitive(from, prim); err != nil {
				return err
			}
		}
		c.box(prim)
		if explicit && !to.IsBox() && !to.Is(ast.Object) {
			c.checkcast(to)
		}
		return nil
	case to.IsPrimitive():
		box := from
		if !from.IsBox() {
			box = to.Boxed()
			c.checkcast(box)
		}
		c.unbox(box)
		return c.primitive(box.Unboxed(), to)
	case explicit && !to.Is(ast.Object):
		c.checkcast(to)
	case c.peek().Tag == classfile.VObject && c.peek().Class == "java/lang/Object" && !to.Is(ast.Object):
		// Erased values flowing into typed slots.
		c.checkcast(to)
	}
	return nil
}

func (c *Context) checkcast(t ast.Type) {
	c.w.TypeInsn(classfile.CHECKCAST, t.InternalName())
	c.pop()
	c.pushType(t)
}

func (c *Context) box(prim ast.Type) {
	box := prim.Boxed()
	c.invoke(ast.InvokeStatic, box, "valueOf", ast.Spec(box, prim), false)
}

func (c *Context) unbox(box ast.Type) {
	prim := box.Unboxed()
	c.invoke(ast.InvokeVirtual, box, prim.String()+"Value", ast.Spec(prim), false)
}

// primitive emits a primitive widening or narrowing conversion.
func (c *Context) primitive(from, to ast.Type) error {
	if from.Is(ast.Boolean) != to.Is(ast.Boolean) {
		return fmt.Errorf("%w: %s to %s", ErrTypeMismatch, from, to)
	}
	if from.Is(to) {
		return nil
	}
	src, dst := typeIndex(from), typeIndex(to)
	if src != dst {
		c.w.Insn(wideningOps[src][dst])
		c.pop()
		c.pushType(ast.Promote(to))
	}
	if !to.IsIntLike() || to.Is(ast.Int) {
		return nil
	}
	if src == 0 && (from.Is(to) || narrower(from, to)) {
		return nil
	}
	switch {
	case to.Is(ast.Byte):
		c.w.Insn(classfile.I2B)
	case to.Is(ast.Char):
		c.w.Insn(classfile.I2C)
	case to.Is(ast.Short):
		c.w.Insn(classfile.I2S)
	}
	return nil
}

// narrower reports whether every value of from fits in to.
func narrower(from, to ast.Type) bool {
	return from.Is(ast.Byte) && to.Is(ast.Short)
}

// wideningOps[from][to] over int, long, float, double.
var wideningOps = [4][4]classfile.Opcode{
	{classfile.NOP, classfile.I2L, classfile.I2F, classfile.I2D},
	{classfile.L2I, classfile.NOP, classfile.L2F, classfile.L2D},
	{classfile.F2I, classfile.F2L, classfile.NOP, classfile.F2D},
	{classfile.D2I, classfile.D2L, classfile.D2F, classfile.NOP},
}
