package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// Binding names a local the caller already owns.
type Binding struct {
	Name string
	Type ast.Type
	Slot int
}

// Environment describes the method a fragment is lowered into. It is
// read at the start of GenerateFragment and updated when it returns; the
// engine keeps no reference to it.
type Environment struct {
	Writer classfile.MethodWriter
	Self   ast.Type
	Static bool
	Return ast.Type

	// Locals are visible to the fragment by name. Reserved slots
	// [0, Reserved) are never handed out, whether bound or not.
	Locals   []Binding
	Reserved int

	// Stack is the caller's operand stack, bottom first. On return it
	// holds the stack after the fragment.
	Stack []classfile.VType

	// MaxStack and MaxLocals are raised to cover the fragment.
	MaxStack  int
	MaxLocals int
}

// GenerateFragment lowers instructions into the caller's open method
// writer. Values the instructions leave are kept on the stack for the
// caller. Closures and local code are rejected with ErrFragmentSynthetic.
func (g *Generator) GenerateFragment(env *Environment, instrs ...ast.Instruction) error {
	c := newContext(g.table, g.opts, env.Writer)
	c.self = env.Self
	c.static = env.Static
	c.ret = env.Return
	c.member = "fragment"

	c.EnterScope()
	c.alloc.Reserve(env.Reserved)
	for _, b := range env.Locals {
		for s := b.Slot; s < b.Slot+b.Type.Size(); s++ {
			c.alloc.ReserveSlot(s)
		}
		c.alloc.Bind(b.Name, b.Type, b.Slot)
		c.setLocal(b.Slot, vtypeOf(b.Type))
	}
	if !env.Static {
		if _, ok := c.alloc.Lookup("this"); !ok {
			c.alloc.ReserveSlot(0)
			c.alloc.Bind("this", env.Self, 0)
			c.setLocal(0, vtypeOf(env.Self))
		}
	}
	for _, t := range env.Stack {
		c.push(t)
	}

	for _, in := range instrs {
		if !c.reachable {
			break
		}
		c.stepLine()
		if err := c.Lower(in); err != nil {
			return fmt.Errorf("fragment: %w", err)
		}
	}
	c.ExitScope()
	if err := c.finish(); err != nil {
		return fmt.Errorf("fragment: %w", err)
	}

	env.MaxStack = max(env.MaxStack, c.maxStack)
	env.MaxLocals = max(env.MaxLocals, c.alloc.Max())
	env.Stack = append(env.Stack[:0:0], c.frame.stack...)
	return nil
}
