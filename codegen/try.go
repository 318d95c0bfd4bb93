package codegen

import (
	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Try / catch / finally
// ---------------------------------------------------------------------------

func lowerTry(c *Context, n *ast.Try) error {
	var fin func() error
	if len(n.Finally) > 0 {
		fin = func() error { return c.Scoped(n.Finally) }
	}
	if len(n.Body) == 0 {
		// Nothing can throw, so no handler is reachable.
		if fin == nil {
			return nil
		}
		return fin()
	}
	return c.guarded(n.Body, n.Catches, fin)
}

func lowerSynchronized(c *Context, n *ast.Synchronized) error {
	if err := c.lowerAs(n.Lock, ast.Object); err != nil {
		return err
	}
	c.dup()
	c.EnterScope()
	lock, err := c.temp(ast.Object)
	if err != nil {
		return err
	}
	c.w.Insn(classfile.MONITORENTER)
	c.pop()
	err = c.guarded(n.Body, nil, func() error {
		c.load(ast.Object, lock)
		c.w.Insn(classfile.MONITOREXIT)
		c.pop()
		return nil
	})
	if err != nil {
		return err
	}
	c.ExitScope()
	return nil
}

// guarded lowers a protected body with its handlers. fin, when set, runs
// on every exit: inline on normal and early exits, and from a catch-any
// handler that rethrows.
func (c *Context) guarded(body []ast.Instruction, catches []*ast.Catch, fin func() error) error {
	if fin == nil && len(catches) == 0 {
		return c.Scoped(body)
	}
	entry := append([]classfile.VType(nil), c.frame.locals...)
	done := c.NewLabel()

	try := &region{finally: fin}
	c.openRegion(try)
	if fin != nil {
		c.pushFlow(&flowEntry{kind: flowFinally, guard: try})
	}
	if err := c.Scoped(body); err != nil {
		return err
	}
	c.closeRegion(try)
	if fin != nil {
		c.popFlow()
	}
	if err := c.leave(fin, done); err != nil {
		return err
	}

	anySpans := append([]span(nil), try.spans...)
	for _, cs := range catches {
		spans, err := c.lowerCatch(cs, try.spans, entry, fin, done)
		if err != nil {
			return err
		}
		anySpans = append(anySpans, spans...)
	}

	if fin != nil {
		handler := c.NewLabel()
		for _, s := range anySpans {
			c.w.TryCatch(s.start, s.end, handler.l, "")
		}
		if err := c.markHandler(handler, entry, ast.Throwable); err != nil {
			return err
		}
		c.EnterScope()
		exc, err := c.temp(ast.Throwable)
		if err != nil {
			return err
		}
		if err := fin(); err != nil {
			return err
		}
		if c.reachable {
			c.load(ast.Throwable, exc)
			c.w.Insn(classfile.ATHROW)
			c.pop()
			c.unreachable()
		}
		c.ExitScope()
	}
	return c.Mark(done)
}

// leave runs the finally copy for a normal exit and jumps past the
// construct.
func (c *Context) leave(fin func() error, done *Label) error {
	if !c.reachable {
		return nil
	}
	if fin != nil {
		if err := fin(); err != nil {
			return err
		}
		if !c.reachable {
			return nil
		}
	}
	return c.Jump(classfile.GOTO, done)
}

// lowerCatch emits one handler and returns the spans of its body that the
// catch-any handler must also cover.
func (c *Context) lowerCatch(cs *ast.Catch, covered []span, entry []classfile.VType, fin func() error, done *Label) ([]span, error) {
	exType := ast.Throwable
	if len(cs.Types) == 1 {
		exType = cs.Types[0]
	}
	handler := c.NewLabel()
	for _, s := range covered {
		if len(cs.Types) == 0 {
			c.w.TryCatch(s.start, s.end, handler.l, "")
		}
		for _, t := range cs.Types {
			c.w.TryCatch(s.start, s.end, handler.l, t.InternalName())
		}
	}
	if err := c.markHandler(handler, entry, exType); err != nil {
		return nil, err
	}

	guard := &region{finally: fin}
	if fin != nil {
		c.openRegion(guard)
		c.pushFlow(&flowEntry{kind: flowFinally, guard: guard})
	}
	c.EnterScope()
	if cs.Variable == "" {
		c.discard()
	} else if _, err := c.declare(cs.Variable, exType, true, false); err != nil {
		return nil, err
	}
	if err := c.Statements(cs.Body); err != nil {
		return nil, err
	}
	c.ExitScope()
	if fin != nil {
		c.closeRegion(guard)
		c.popFlow()
	}
	if err := c.leave(fin, done); err != nil {
		return nil, err
	}
	return guard.spans, nil
}
