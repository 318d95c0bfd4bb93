package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Codegen context
// ---------------------------------------------------------------------------

// Context holds the per-method lowering state. It is not safe for
// concurrent use.
type Context struct {
	table *Table
	opts  Options
	unit  *unitState // nil in fragment mode

	w      classfile.MethodWriter
	self   ast.Type
	static bool
	ret    ast.Type
	member string // name used for synthetic method names

	alloc     *allocator
	frame     frameState
	depth     int // operand stack depth in slots
	maxStack  int
	reachable bool
	newTypes  map[int]string // offset of new -> created class

	labels []*Label
	marks  []*Label // in mark order
	flow   []*flowEntry
	line   int
	entry  *classfile.Label
}

func newContext(table *Table, opts Options, w classfile.MethodWriter) *Context {
	return &Context{
		table:     table,
		opts:      opts,
		w:         w,
		alloc:     newAllocator(),
		reachable: true,
		newTypes:  make(map[int]string),
	}
}

// Options returns the run's options.
func (c *Context) Options() Options { return c.opts }

// Writer returns the method writer lowering emits into.
func (c *Context) Writer() classfile.MethodWriter { return c.w }

// Self returns the type This refers to.
func (c *Context) Self() ast.Type { return c.self }

// Reachable reports whether the next instruction can be reached.
func (c *Context) Reachable() bool { return c.reachable }

// StackDepth returns the operand stack depth in values.
func (c *Context) StackDepth() int { return len(c.frame.stack) }

// Lower dispatches node to its registered processor.
func (c *Context) Lower(node ast.Instruction) error {
	if node == nil {
		return nil
	}
	p, ok := c.table.Lookup(node.Kind())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedInstruction, node.Kind())
	}
	return p.Process(c, node)
}

// Statements lowers a statement list. Values a statement leaves on the
// stack are discarded; statements that cannot be reached are dropped.
func (c *Context) Statements(body []ast.Instruction) error {
	for i, stmt := range body {
		if !c.reachable {
			log.Debugf("%s: dropping %d unreachable statement(s)", c.member, len(body)-i)
			return nil
		}
		before := len(c.frame.stack)
		c.stepLine()
		if err := c.Lower(stmt); err != nil {
			return err
		}
		if !c.reachable {
			continue
		}
		for len(c.frame.stack) > before {
			if c.frame.stack[len(c.frame.stack)-1].IsWide() {
				c.w.Insn(classfile.POP2)
			} else {
				c.w.Insn(classfile.POP)
			}
			c.pop()
		}
	}
	return nil
}

// Scoped lowers body inside a fresh scope.
func (c *Context) Scoped(body []ast.Instruction) error {
	c.EnterScope()
	if err := c.Statements(body); err != nil {
		return err
	}
	c.ExitScope()
	return nil
}

// ---------------------------------------------------------------------------
// Operand stack tracking
// ---------------------------------------------------------------------------

func (c *Context) push(t classfile.VType) {
	c.frame.stack = append(c.frame.stack, t)
	c.depth++
	if t.IsWide() {
		c.depth++
	}
	c.maxStack = max(c.maxStack, c.depth)
}

func (c *Context) pushType(t ast.Type) {
	if !t.IsValid() || t.IsVoid() {
		return
	}
	c.push(vtypeOf(t))
}

func (c *Context) pop() classfile.VType {
	n := len(c.frame.stack)
	if n == 0 {
		return classfile.Top
	}
	t := c.frame.stack[n-1]
	c.frame.stack = c.frame.stack[:n-1]
	c.depth--
	if t.IsWide() {
		c.depth--
	}
	return t
}

func (c *Context) popN(n int) {
	for i := 0; i < n; i++ {
		c.pop()
	}
}

func (c *Context) peek() classfile.VType {
	if len(c.frame.stack) == 0 {
		return classfile.Top
	}
	return c.frame.stack[len(c.frame.stack)-1]
}

// initialize replaces every occurrence of an uninitialized type once its
// constructor has run.
func (c *Context) initialize(v classfile.VType) {
	var done classfile.VType
	switch v.Tag {
	case classfile.VUninitializedThis:
		done = classfile.ObjectType(c.self.InternalName())
	case classfile.VUninitialized:
		done = classfile.ObjectType(c.newTypes[v.Offset])
	default:
		return
	}
	for i, t := range c.frame.locals {
		if t == v {
			c.frame.locals[i] = done
		}
	}
	for i, t := range c.frame.stack {
		if t == v {
			c.frame.stack[i] = done
		}
	}
}

// ---------------------------------------------------------------------------
// Locals
// ---------------------------------------------------------------------------

func (c *Context) setLocal(slot int, t classfile.VType) {
	width := 1
	if t.IsWide() {
		width = 2
	}
	for len(c.frame.locals) < slot+width {
		c.frame.locals = append(c.frame.locals, classfile.Top)
	}
	if slot > 0 && c.frame.locals[slot-1].IsWide() {
		c.frame.locals[slot-1] = classfile.Top
	}
	if old := c.frame.locals[slot]; old.IsWide() && !t.IsWide() && slot+1 < len(c.frame.locals) {
		c.frame.locals[slot+1] = classfile.Top
	}
	c.frame.locals[slot] = t
	if width == 2 {
		c.frame.locals[slot+1] = classfile.Top
	}
}

func (c *Context) clearLocal(slot, width int) {
	for s := slot; s < slot+width && s < len(c.frame.locals); s++ {
		c.frame.locals[s] = classfile.Top
	}
}

// EnterScope opens a nested lexical scope.
func (c *Context) EnterScope() { c.alloc.EnterScope() }

// ExitScope closes the innermost scope. Its slots become free and are
// typed Top from here on.
func (c *Context) ExitScope() {
	freed := c.alloc.ExitScope()
	if len(freed) == 0 {
		return
	}
	var end *classfile.Label
	for _, l := range freed {
		c.clearLocal(l.slot, l.typ.Size())
		if l.synthetic || l.start == nil {
			continue
		}
		if end == nil {
			end = c.w.NewLabel()
			c.w.Mark(end)
		}
		c.w.LocalVariable(l.name, l.typ.Descriptor(), l.start, end, l.slot)
	}
}

// declare allocates a local and stores the value on top of the stack
// into it when store is set.
func (c *Context) declare(name string, t ast.Type, store, synthetic bool) (local, error) {
	l, err := c.alloc.Declare(name, t, synthetic)
	if err != nil {
		return l, err
	}
	if store {
		c.store(t, l.slot)
	}
	if !synthetic {
		start := c.w.NewLabel()
		c.w.Mark(start)
		c.alloc.SetStart(l.slot, start)
	}
	return l, nil
}

// temp allocates an unnamed local in the innermost scope and stores the
// top of the stack into it.
func (c *Context) temp(t ast.Type) (int, error) {
	l, err := c.declare("", t, true, true)
	return l.slot, err
}

func (c *Context) lookup(name string) (local, error) {
	l, ok := c.alloc.Lookup(name)
	if !ok {
		return l, fmt.Errorf("%w: %q", ErrUnknownVariable, name)
	}
	return l, nil
}

// ---------------------------------------------------------------------------
// Labels and jumps
// ---------------------------------------------------------------------------

// NewLabel creates a label owned by this method.
func (c *Context) NewLabel() *Label {
	l := &Label{l: c.w.NewLabel()}
	c.labels = append(c.labels, l)
	return l
}

func (c *Context) snapshot() *frameState { return c.frame.clone() }

// flowInto records the current state as flowing into l.
func (c *Context) flowInto(l *Label) error {
	l.jumped = true
	cur := c.snapshot()
	switch {
	case l.marked:
		if err := l.frame.fits(cur); err != nil {
			return fmt.Errorf("backward jump: %w", err)
		}
	case l.frame == nil:
		l.frame = cur
	default:
		if err := l.frame.merge(cur); err != nil {
			return err
		}
	}
	return nil
}

// Jump emits a branch to l. Operands consumed by op must already be
// popped from the tracked stack.
func (c *Context) Jump(op classfile.Opcode, l *Label) error {
	if err := c.flowInto(l); err != nil {
		return err
	}
	c.w.JumpInsn(op, l.l)
	if op == classfile.GOTO || op == classfile.GOTO_W {
		c.reachable = false
	}
	return nil
}

// jumpPop pops the operands a conditional branch consumes and emits it.
func (c *Context) jumpPop(op classfile.Opcode, l *Label) error {
	switch {
	case op >= classfile.IF_ICMPEQ && op <= classfile.IF_ACMPNE:
		c.popN(2)
	case op != classfile.GOTO && op != classfile.GOTO_W:
		c.pop()
	}
	return c.Jump(op, l)
}

// Mark places l at the current position. Reachable fall-through merges
// into the label's state; the label's state becomes the current state.
func (c *Context) Mark(l *Label) error {
	if l.marked {
		return ErrLabelRedefined
	}
	if c.reachable {
		if l.frame == nil {
			l.frame = c.snapshot()
		} else if err := l.frame.merge(c.snapshot()); err != nil {
			return err
		}
	}
	l.marked = true
	c.marks = append(c.marks, l)
	c.w.Mark(l.l)
	if l.frame != nil {
		c.frame = *l.frame.clone()
		c.depth = 0
		for _, t := range c.frame.stack {
			c.depth++
			if t.IsWide() {
				c.depth++
			}
		}
		c.reachable = true
	}
	return nil
}

// markHandler places an exception handler whose entry state is fixed.
func (c *Context) markHandler(l *Label, locals []classfile.VType, exception ast.Type) error {
	l.jumped = true
	l.frame = &frameState{
		locals: append([]classfile.VType(nil), locals...),
		stack:  []classfile.VType{vtypeOf(exception)},
	}
	c.reachable = false
	return c.Mark(l)
}

// unreachable records that control cannot fall through.
func (c *Context) unreachable() { c.reachable = false }

// ---------------------------------------------------------------------------
// Method boundaries
// ---------------------------------------------------------------------------

// begin binds the receiver and parameters and sets the entry frame.
func (c *Context) begin(params []ast.Param, ctor bool) {
	c.EnterScope()
	c.entry = c.w.NewLabel()
	c.w.Mark(c.entry)
	slot := 0
	if !c.static {
		c.alloc.Reserve(1)
		c.alloc.Bind("this", c.self, 0)
		c.alloc.SetStart(0, c.entry)
		if ctor && c.self.InternalName() != "java/lang/Object" {
			c.setLocal(0, classfile.UninitializedThis)
		} else {
			c.setLocal(0, vtypeOf(c.self))
		}
		slot = 1
	}
	for _, p := range params {
		c.alloc.Reserve(slot + p.Type.Size())
		c.alloc.Bind(p.Name, p.Type, slot)
		c.alloc.SetStart(slot, c.entry)
		c.setLocal(slot, vtypeOf(p.Type))
		slot += p.Type.Size()
	}
}

// end closes the outermost scope and records the receiver and parameters
// in the local variable table.
func (c *Context) end() {
	// Bound locals leave Live when their scope closes.
	var bound []local
	for _, l := range c.alloc.Live() {
		if l.bound && l.name != "" && l.start != nil {
			bound = append(bound, l)
		}
	}
	c.ExitScope()
	if len(bound) == 0 {
		return
	}
	end := c.w.NewLabel()
	c.w.Mark(end)
	for _, l := range bound {
		c.w.LocalVariable(l.name, l.typ.Descriptor(), l.start, end, l.slot)
	}
}

// finish resolves frames. Frames are recorded in mark order so that the
// last label placed at an offset, whose state includes every earlier one,
// wins. Every label created must be placed.
func (c *Context) finish() error {
	for _, l := range c.labels {
		switch {
		case l.marked:
		case l.jumped:
			return ErrUnresolvedLabel
		default:
			return ErrUnplacedLabel
		}
	}
	for _, l := range c.marks {
		if l.needsFrame() {
			c.w.Frame(l.l, l.frame.locals, l.frame.stack)
		}
	}
	return c.w.Err()
}
