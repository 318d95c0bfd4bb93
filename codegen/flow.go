package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Flow stack
// ---------------------------------------------------------------------------

type flowKind uint8

const (
	flowLoop flowKind = iota
	flowSwitch
	flowFinally
)

// flowEntry is one enclosing construct an early exit may target or cross.
type flowEntry struct {
	kind  flowKind
	name  string
	brk   *Label
	cont  *Label
	guard *region
}

type span struct {
	start, end *classfile.Label
}

// region is a range protected by a finally handler. Early exits close the
// current span before inlining the finally body and reopen it after the
// exit so the inlined copy is not covered by its own handler.
type region struct {
	finally func() error
	spans   []span
	start   *classfile.Label
}

func (c *Context) openRegion(r *region) {
	r.start = c.w.NewLabel()
	c.w.Mark(r.start)
}

func (c *Context) closeRegion(r *region) {
	if r.start == nil {
		return
	}
	end := c.w.NewLabel()
	c.w.Mark(end)
	r.spans = append(r.spans, span{r.start, end})
	r.start = nil
}

func (c *Context) pushFlow(e *flowEntry) { c.flow = append(c.flow, e) }

func (c *Context) popFlow() { c.flow = c.flow[:len(c.flow)-1] }

// findExit returns the index of the entry a break or continue targets, or
// -1.
func (c *Context) findExit(name string, cont bool) int {
	for i := len(c.flow) - 1; i >= 0; i-- {
		e := c.flow[i]
		switch {
		case e.kind == flowFinally:
			continue
		case cont && e.kind != flowLoop:
			continue
		case name != "" && e.name != name:
			continue
		}
		return i
	}
	return -1
}

// crossFinally inlines the finally bodies of every region above flow
// index floor, innermost first. It reports the regions it closed; the
// caller reopens them once the exit instruction has been emitted.
func (c *Context) crossFinally(floor int) ([]*region, error) {
	var crossed []*region
	for i := len(c.flow) - 1; i > floor; i-- {
		e := c.flow[i]
		if e.kind != flowFinally {
			continue
		}
		c.closeRegion(e.guard)
		crossed = append(crossed, e.guard)

		saved := c.flow
		c.flow = c.flow[:i]
		err := e.guard.finally()
		c.flow = saved
		if err != nil {
			return crossed, err
		}
		if !c.reachable {
			break
		}
	}
	return crossed, nil
}

func (c *Context) reopen(crossed []*region) {
	for _, r := range crossed {
		c.openRegion(r)
	}
}

func (c *Context) hasFinally(floor int) bool {
	for i := len(c.flow) - 1; i > floor; i-- {
		if c.flow[i].kind == flowFinally {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Break, continue, return
// ---------------------------------------------------------------------------

func lowerBreak(c *Context, n *ast.Break) error {
	i := c.findExit(n.Label, false)
	if i < 0 {
		if n.Label != "" {
			return fmt.Errorf("%w: no enclosing %q", ErrBreakOutsideLoop, n.Label)
		}
		return ErrBreakOutsideLoop
	}
	return c.exit(i, c.flow[i].brk)
}

func lowerContinue(c *Context, n *ast.Continue) error {
	i := c.findExit(n.Label, true)
	if i < 0 {
		if n.Label != "" {
			return fmt.Errorf("%w: no enclosing loop %q", ErrContinueOutsideLoop, n.Label)
		}
		return ErrContinueOutsideLoop
	}
	return c.exit(i, c.flow[i].cont)
}

func (c *Context) exit(i int, target *Label) error {
	crossed, err := c.crossFinally(i)
	if err != nil {
		return err
	}
	if c.reachable {
		if err := c.Jump(classfile.GOTO, target); err != nil {
			return err
		}
	}
	c.reopen(crossed)
	return nil
}

func lowerReturn(c *Context, n *ast.Return) error {
	want := c.ret
	if !want.IsValid() {
		want = ast.Void
	}
	if n.Value == nil {
		if !want.IsVoid() {
			return fmt.Errorf("%w: missing return value of type %s", ErrTypeMismatch, want)
		}
		crossed, err := c.crossFinally(-1)
		if err != nil {
			return err
		}
		if c.reachable {
			c.w.Insn(classfile.RETURN)
			c.unreachable()
		}
		c.reopen(crossed)
		return nil
	}
	if want.IsVoid() {
		return fmt.Errorf("%w: value returned from void method", ErrTypeMismatch)
	}
	if err := c.lowerAs(n.Value, want); err != nil {
		return err
	}
	if !c.hasFinally(-1) {
		c.w.Insn(returnOp(want))
		c.pop()
		c.unreachable()
		return nil
	}
	slot, err := c.temp(want)
	if err != nil {
		return err
	}
	crossed, err := c.crossFinally(-1)
	if err != nil {
		return err
	}
	if c.reachable {
		c.load(want, slot)
		c.w.Insn(returnOp(want))
		c.pop()
		c.unreachable()
	}
	c.reopen(crossed)
	return nil
}
