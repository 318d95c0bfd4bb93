package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// jumpIf branches to target when cond evaluates to when and falls through
// otherwise. The right operand of a short-circuit operator is only
// evaluated when the left one does not decide the outcome.
func (c *Context) jumpIf(cond ast.Instruction, target *Label, when bool) error {
	if !c.reachable {
		return nil
	}
	switch n := cond.(type) {
	case *ast.Line:
		if c.opts.Lines == LinesFollowSource && n.Number > c.line {
			c.recordLine(n.Number)
		}
		return c.jumpIf(n.Instruction, target, when)
	case *ast.Literal:
		if v, ok := n.Value.(bool); ok {
			if v == when {
				return c.Jump(classfile.GOTO, target)
			}
			return nil
		}
	case *ast.Not:
		return c.jumpIf(n.Operand, target, !when)
	case *ast.Logical:
		if n.Op.ShortCircuit() {
			return c.shortCircuit(n, target, when)
		}
		if err := c.bitwise(n); err != nil {
			return err
		}
		return c.jumpPop(truthOp(when), target)
	case *ast.Compare:
		return c.compareJump(n, target, when)
	}
	if err := c.lowerAs(cond, ast.Boolean); err != nil {
		return err
	}
	return c.jumpPop(truthOp(when), target)
}

func truthOp(when bool) classfile.Opcode {
	if when {
		return classfile.IFNE
	}
	return classfile.IFEQ
}

func (c *Context) shortCircuit(n *ast.Logical, target *Label, when bool) error {
	// a && b jumps when true only if both hold; a || b jumps when false
	// only if both fail. The other two combinations need no skip label.
	decisive := n.Op == ast.Or
	if when == decisive {
		if err := c.jumpIf(n.Left, target, when); err != nil {
			return err
		}
		return c.jumpIf(n.Right, target, when)
	}
	skip := c.NewLabel()
	if err := c.jumpIf(n.Left, skip, !when); err != nil {
		return err
	}
	if err := c.jumpIf(n.Right, target, when); err != nil {
		return err
	}
	return c.Mark(skip)
}

// bitwise evaluates both operands and combines them without branching.
func (c *Context) bitwise(n *ast.Logical) error {
	if err := c.lowerAs(n.Left, ast.Boolean); err != nil {
		return err
	}
	if err := c.lowerAs(n.Right, ast.Boolean); err != nil {
		return err
	}
	switch n.Op {
	case ast.BitAnd:
		c.w.Insn(classfile.IAND)
	case ast.BitOr:
		c.w.Insn(classfile.IOR)
	case ast.BitXor:
		c.w.Insn(classfile.IXOR)
	default:
		return fmt.Errorf("%w: logical operator %s", ErrUnsupportedInstruction, n.Op)
	}
	c.popN(2)
	c.push(classfile.Integer)
	return nil
}

func isNullLiteral(in ast.Instruction) bool {
	if l, ok := in.(*ast.Line); ok {
		return isNullLiteral(l.Instruction)
	}
	l, ok := in.(*ast.Literal)
	return ok && l.Value == nil && l.Type.IsReference()
}

func (c *Context) compareJump(n *ast.Compare, target *Label, when bool) error {
	op := n.Op
	if !when {
		op = op.Negate()
	}
	lt, rt := c.typeOf(n.Left), c.typeOf(n.Right)
	equality := op == ast.CmpEq || op == ast.CmpNe

	switch {
	case isNullLiteral(n.Right) || isNullLiteral(n.Left):
		if !equality {
			return fmt.Errorf("%w: %s against null", ErrTypeMismatch, n.Op)
		}
		operand := n.Left
		if isNullLiteral(n.Left) {
			operand = n.Right
		}
		if err := c.Lower(operand); err != nil {
			return err
		}
		if op == ast.CmpEq {
			return c.jumpPop(classfile.IFNULL, target)
		}
		return c.jumpPop(classfile.IFNONNULL, target)

	case lt.IsReference() && rt.IsReference():
		if !equality {
			return fmt.Errorf("%w: %s on references", ErrTypeMismatch, n.Op)
		}
		if err := c.Lower(n.Left); err != nil {
			return err
		}
		if err := c.Lower(n.Right); err != nil {
			return err
		}
		return c.jumpPop(classfile.IF_ACMPEQ+classfile.Opcode(op-ast.CmpEq), target)
	}

	lu, ru := lt.Unboxed(), rt.Unboxed()
	if lu.IsIntLike() && ru.IsIntLike() {
		if err := c.lowerAs(n.Left, lu); err != nil {
			return err
		}
		if err := c.lowerAs(n.Right, ru); err != nil {
			return err
		}
		return c.jumpPop(classfile.IF_ICMPEQ+classfile.Opcode(op), target)
	}

	t := ast.BinaryPromote(lu, ru)
	if err := c.lowerAs(n.Left, t); err != nil {
		return err
	}
	if err := c.lowerAs(n.Right, t); err != nil {
		return err
	}
	switch {
	case t.Is(ast.Long):
		c.w.Insn(classfile.LCMP)
	case t.Is(ast.Float):
		c.w.Insn(nanAware(n.Op, classfile.FCMPL, classfile.FCMPG))
	default:
		c.w.Insn(nanAware(n.Op, classfile.DCMPL, classfile.DCMPG))
	}
	c.popN(2)
	c.push(classfile.Integer)
	return c.jumpPop(classfile.IFEQ+classfile.Opcode(op), target)
}

// nanAware picks the comparison that makes the written operator false
// when either operand is NaN: the g variant yields 1 for < and <=.
func nanAware(op ast.CompareOp, l, g classfile.Opcode) classfile.Opcode {
	if op == ast.CmpLt || op == ast.CmpLe {
		return g
	}
	return l
}

// ---------------------------------------------------------------------------
// Conditions as values
// ---------------------------------------------------------------------------

// condValue materializes a condition as 1 or 0.
func (c *Context) condValue(cond ast.Instruction) error {
	f, end := c.NewLabel(), c.NewLabel()
	if err := c.jumpIf(cond, f, false); err != nil {
		return err
	}
	if c.reachable {
		c.pushInt(1)
		if err := c.Jump(classfile.GOTO, end); err != nil {
			return err
		}
	}
	if err := c.Mark(f); err != nil {
		return err
	}
	if c.reachable {
		c.pushInt(0)
	}
	return c.Mark(end)
}

func lowerCompare(c *Context, n *ast.Compare) error {
	return c.condValue(n)
}

func lowerLogical(c *Context, n *ast.Logical) error {
	if n.Op.ShortCircuit() {
		return c.condValue(n)
	}
	return c.bitwise(n)
}

func lowerNot(c *Context, n *ast.Not) error {
	if err := c.lowerAs(n.Operand, ast.Boolean); err != nil {
		return err
	}
	c.pushInt(1)
	c.w.Insn(classfile.IXOR)
	c.pop()
	return nil
}
