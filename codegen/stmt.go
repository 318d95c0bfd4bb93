package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// If
// ---------------------------------------------------------------------------

func lowerIf(c *Context, n *ast.If) error {
	end := c.NewLabel()
	if len(n.Else) == 0 {
		if err := c.jumpIf(n.Cond, end, false); err != nil {
			return err
		}
		if err := c.Scoped(n.Body); err != nil {
			return err
		}
		return c.Mark(end)
	}
	els := c.NewLabel()
	if err := c.jumpIf(n.Cond, els, false); err != nil {
		return err
	}
	if err := c.Scoped(n.Body); err != nil {
		return err
	}
	if c.reachable {
		if err := c.Jump(classfile.GOTO, end); err != nil {
			return err
		}
	}
	if err := c.Mark(els); err != nil {
		return err
	}
	if err := c.Scoped(n.Else); err != nil {
		return err
	}
	return c.Mark(end)
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

// loop lowers body between a continue label and a break label.
func (c *Context) loop(name string, brk, cont *Label, body func() error) error {
	c.pushFlow(&flowEntry{kind: flowLoop, name: name, brk: brk, cont: cont})
	defer c.popFlow()
	return body()
}

func lowerWhile(c *Context, n *ast.While) error {
	head, end := c.NewLabel(), c.NewLabel()
	if err := c.Mark(head); err != nil {
		return err
	}
	if n.Cond != nil {
		if err := c.jumpIf(n.Cond, end, false); err != nil {
			return err
		}
	}
	err := c.loop(n.Label, end, head, func() error {
		if err := c.Scoped(n.Body); err != nil {
			return err
		}
		if c.reachable {
			return c.Jump(classfile.GOTO, head)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return c.Mark(end)
}

func lowerDoWhile(c *Context, n *ast.DoWhile) error {
	top, cont, end := c.NewLabel(), c.NewLabel(), c.NewLabel()
	if err := c.Mark(top); err != nil {
		return err
	}
	err := c.loop(n.Label, end, cont, func() error {
		if err := c.Scoped(n.Body); err != nil {
			return err
		}
		if err := c.Mark(cont); err != nil {
			return err
		}
		if n.Cond == nil {
			if c.reachable {
				return c.Jump(classfile.GOTO, top)
			}
			return nil
		}
		return c.jumpIf(n.Cond, top, true)
	})
	if err != nil {
		return err
	}
	return c.Mark(end)
}

func lowerFor(c *Context, n *ast.For) error {
	c.EnterScope()
	if err := c.Statements(n.Init); err != nil {
		return err
	}
	head, cont, end := c.NewLabel(), c.NewLabel(), c.NewLabel()
	if err := c.Mark(head); err != nil {
		return err
	}
	if n.Cond != nil {
		if err := c.jumpIf(n.Cond, end, false); err != nil {
			return err
		}
	}
	err := c.loop(n.Label, end, cont, func() error {
		if err := c.Scoped(n.Body); err != nil {
			return err
		}
		if err := c.Mark(cont); err != nil {
			return err
		}
		if err := c.Statements(n.Update); err != nil {
			return err
		}
		if c.reachable {
			return c.Jump(classfile.GOTO, head)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.Mark(end); err != nil {
		return err
	}
	c.ExitScope()
	return nil
}

// ---------------------------------------------------------------------------
// For-each
// ---------------------------------------------------------------------------

var (
	iteratorSpec = ast.Spec(ast.Iterator)
	hasNextSpec  = ast.Spec(ast.Boolean)
	nextSpec     = ast.Spec(ast.Object)
)

func lowerForEach(c *Context, n *ast.ForEach) error {
	switch n.Iterate {
	case ast.IterateArray:
		return c.forEachArray(n)
	case ast.IterateIterable:
		return c.forEachIterable(n)
	}
	return fmt.Errorf("%w: iteration kind %d", ErrUnsupportedInstruction, n.Iterate)
}

func (c *Context) forEachArray(n *ast.ForEach) error {
	arrType := c.typeOf(n.Iterable)
	if !arrType.IsArray() {
		return fmt.Errorf("%w: for-each over %s", ErrTypeMismatch, arrType)
	}
	elem := arrType.Elem()

	c.EnterScope()
	if err := c.Lower(n.Iterable); err != nil {
		return err
	}
	arr, err := c.temp(arrType)
	if err != nil {
		return err
	}
	c.load(arrType, arr)
	c.w.Insn(classfile.ARRAYLENGTH)
	c.pop()
	c.push(classfile.Integer)
	length, err := c.temp(ast.Int)
	if err != nil {
		return err
	}
	c.pushInt(0)
	index, err := c.temp(ast.Int)
	if err != nil {
		return err
	}

	head, cont, end := c.NewLabel(), c.NewLabel(), c.NewLabel()
	if err := c.Mark(head); err != nil {
		return err
	}
	c.load(ast.Int, index)
	c.load(ast.Int, length)
	if err := c.jumpPop(classfile.IF_ICMPGE, end); err != nil {
		return err
	}
	err = c.loop(n.Label, end, cont, func() error {
		c.EnterScope()
		c.load(arrType, arr)
		c.load(ast.Int, index)
		c.w.Insn(arrayLoadOp(elem))
		c.popN(2)
		c.pushType(elem)
		if err := c.convert(elem, n.Variable.Type, false); err != nil {
			return err
		}
		if _, err := c.declare(n.Variable.Name, n.Variable.Type, true, false); err != nil {
			return err
		}
		if err := c.Statements(n.Body); err != nil {
			return err
		}
		c.ExitScope()
		if err := c.Mark(cont); err != nil {
			return err
		}
		if !c.reachable {
			return nil
		}
		c.w.IincInsn(index, 1)
		return c.Jump(classfile.GOTO, head)
	})
	if err != nil {
		return err
	}
	if err := c.Mark(end); err != nil {
		return err
	}
	c.ExitScope()
	return nil
}

func (c *Context) forEachIterable(n *ast.ForEach) error {
	c.EnterScope()
	if err := c.Lower(n.Iterable); err != nil {
		return err
	}
	c.invoke(ast.InvokeInterface, ast.Iterable, "iterator", iteratorSpec, true)
	it, err := c.temp(ast.Iterator)
	if err != nil {
		return err
	}

	head, end := c.NewLabel(), c.NewLabel()
	if err := c.Mark(head); err != nil {
		return err
	}
	c.load(ast.Iterator, it)
	c.invoke(ast.InvokeInterface, ast.Iterator, "hasNext", hasNextSpec, true)
	if err := c.jumpPop(classfile.IFEQ, end); err != nil {
		return err
	}
	err = c.loop(n.Label, end, head, func() error {
		c.EnterScope()
		c.load(ast.Iterator, it)
		c.invoke(ast.InvokeInterface, ast.Iterator, "next", nextSpec, true)
		if err := c.convert(ast.Object, n.Variable.Type, true); err != nil {
			return err
		}
		if _, err := c.declare(n.Variable.Name, n.Variable.Type, true, false); err != nil {
			return err
		}
		if err := c.Statements(n.Body); err != nil {
			return err
		}
		c.ExitScope()
		if c.reachable {
			return c.Jump(classfile.GOTO, head)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := c.Mark(end); err != nil {
		return err
	}
	c.ExitScope()
	return nil
}
