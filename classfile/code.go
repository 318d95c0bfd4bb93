package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// ---------------------------------------------------------------------------
// Constants accepted by ldc and bootstrap arguments
// ---------------------------------------------------------------------------

// ClassConst is a class literal, by internal name.
type ClassConst string

// MethodTypeConst is a method type constant, by descriptor.
type MethodTypeConst string

// Handle is a method handle constant.
type Handle struct {
	Kind      uint8
	Owner     string
	Name      string
	Desc      string
	Interface bool
}

// ---------------------------------------------------------------------------
// MethodWriter
// ---------------------------------------------------------------------------

// MethodWriter is the instruction-level surface lowering writes to. Errors
// are sticky: the first failure is kept and reported by Err.
type MethodWriter interface {
	NewLabel() *Label
	Mark(l *Label)
	Offset() int

	Insn(op Opcode)
	IntInsn(op Opcode, operand int)
	VarInsn(op Opcode, slot int)
	IincInsn(slot, delta int)
	TypeInsn(op Opcode, internalName string)
	FieldInsn(op Opcode, owner, name, desc string)
	MethodInsn(op Opcode, owner, name, desc string, itf bool)
	InvokeDynamicInsn(name, desc string, bootstrap Handle, args ...any)
	LdcInsn(v any)
	JumpInsn(op Opcode, l *Label)
	TableSwitchInsn(low, high int32, dflt *Label, targets []*Label)
	LookupSwitchInsn(dflt *Label, keys []int32, targets []*Label)

	TryCatch(start, end, handler *Label, catchType string)
	LineNumber(line int, at *Label)
	LocalVariable(name, desc string, start, end *Label, slot int)
	Frame(at *Label, locals, stack []VType)
	SetMaxs(maxStack, maxLocals int)

	Err() error
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

type labelRef struct {
	insn int  // offset of the referencing instruction
	at   int  // offset of the operand to patch
	wide bool // 32-bit operand
}

// Label is a position in a method body, possibly not yet known.
type Label struct {
	resolved bool
	pos      int
	refs     []labelRef
}

// Offset returns the bytecode offset of a marked label.
func (l *Label) Offset() (int, bool) {
	return l.pos, l.resolved
}

// Resolved reports whether the label has been marked.
func (l *Label) Resolved() bool { return l.resolved }

// Referenced reports whether any instruction targets the label.
func (l *Label) Referenced() bool { return len(l.refs) > 0 }

// ---------------------------------------------------------------------------
// Code: the MethodWriter implementation
// ---------------------------------------------------------------------------

type handlerEntry struct {
	start, end, handler *Label
	catchType           string
}

type lineEntry struct {
	at   *Label
	line int
}

type localEntry struct {
	name, desc string
	start, end *Label
	slot       int
}

type frameEntry struct {
	at            *Label
	locals, stack []VType
}

// Code assembles one method body.
type Code struct {
	class *ClassWriter
	pool  *Pool

	owner, name, desc string
	access            uint16

	bytes     []byte
	labels    []*Label
	maxStack  int
	maxLocals int

	handlers []handlerEntry
	lines    []lineEntry
	locals   []localEntry
	frames   []frameEntry

	err error
}

var _ MethodWriter = (*Code)(nil)

func (c *Code) fail(err error) {
	if c.err == nil {
		c.err = fmt.Errorf("%s.%s%s: %w", c.owner, c.name, c.desc, err)
	}
}

// Err returns the first failure recorded while writing the body.
func (c *Code) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.pool.Err()
}

// Name returns the method name.
func (c *Code) Name() string { return c.name }

// Descriptor returns the method descriptor.
func (c *Code) Descriptor() string { return c.desc }

// Owner returns the internal name of the declaring class.
func (c *Code) Owner() string { return c.owner }

// IsStatic reports whether the method is static.
func (c *Code) IsStatic() bool { return c.access&AccStatic != 0 }

// Offset returns the offset of the next instruction.
func (c *Code) Offset() int { return len(c.bytes) }

// Bytes returns the code emitted so far.
func (c *Code) Bytes() []byte { return c.bytes }

func (c *Code) u1(v byte) { c.bytes = append(c.bytes, v) }

func (c *Code) u2(v uint16) { c.bytes = binary.BigEndian.AppendUint16(c.bytes, v) }

func (c *Code) u4(v uint32) { c.bytes = binary.BigEndian.AppendUint32(c.bytes, v) }

// NewLabel creates an unresolved label.
func (c *Code) NewLabel() *Label {
	l := &Label{refs: make([]labelRef, 0, 2)}
	c.labels = append(c.labels, l)
	return l
}

// Mark resolves a label to the current position and patches forward
// references.
func (c *Code) Mark(l *Label) {
	if l.resolved {
		c.fail(ErrLabelRedefined)
		return
	}
	l.resolved = true
	l.pos = len(c.bytes)
	for _, ref := range l.refs {
		c.patch(ref, l.pos)
	}
}

func (c *Code) patch(ref labelRef, target int) {
	delta := target - ref.insn
	if ref.wide {
		binary.BigEndian.PutUint32(c.bytes[ref.at:], uint32(int32(delta)))
		return
	}
	if delta < math.MinInt16 || delta > math.MaxInt16 {
		c.fail(ErrBranchOutOfRange)
		return
	}
	binary.BigEndian.PutUint16(c.bytes[ref.at:], uint16(int16(delta)))
}

func (c *Code) ref(l *Label, insn int, wide bool) {
	ref := labelRef{insn: insn, at: len(c.bytes), wide: wide}
	l.refs = append(l.refs, ref)
	if wide {
		c.u4(0)
	} else {
		c.u2(0)
	}
	if l.resolved {
		c.patch(ref, l.pos)
	}
}

// Insn emits an instruction without operands.
func (c *Code) Insn(op Opcode) { c.u1(byte(op)) }

// IntInsn emits bipush, sipush or newarray.
func (c *Code) IntInsn(op Opcode, operand int) {
	c.u1(byte(op))
	if op == SIPUSH {
		c.u2(uint16(int16(operand)))
		return
	}
	c.u1(byte(operand))
}

// VarInsn emits a load, store or ret, choosing the short or wide form.
func (c *Code) VarInsn(op Opcode, slot int) {
	switch {
	case slot <= 3 && op >= ILOAD && op <= ALOAD:
		c.u1(byte(ILOAD_0) + byte(op-ILOAD)*4 + byte(slot))
	case slot <= 3 && op >= ISTORE && op <= ASTORE:
		c.u1(byte(ISTORE_0) + byte(op-ISTORE)*4 + byte(slot))
	case slot <= math.MaxUint8:
		c.u1(byte(op))
		c.u1(byte(slot))
	default:
		c.u1(byte(WIDE))
		c.u1(byte(op))
		c.u2(uint16(slot))
	}
}

// IincInsn increments an int local.
func (c *Code) IincInsn(slot, delta int) {
	if slot <= math.MaxUint8 && delta >= math.MinInt8 && delta <= math.MaxInt8 {
		c.u1(byte(IINC))
		c.u1(byte(slot))
		c.u1(byte(int8(delta)))
		return
	}
	c.u1(byte(WIDE))
	c.u1(byte(IINC))
	c.u2(uint16(slot))
	c.u2(uint16(int16(delta)))
}

// TypeInsn emits new, anewarray, checkcast or instanceof.
func (c *Code) TypeInsn(op Opcode, internalName string) {
	c.u1(byte(op))
	c.u2(c.pool.Class(internalName))
}

// FieldInsn emits a field access.
func (c *Code) FieldInsn(op Opcode, owner, name, desc string) {
	c.u1(byte(op))
	c.u2(c.pool.Field(owner, name, desc))
}

// MethodInsn emits an invocation.
func (c *Code) MethodInsn(op Opcode, owner, name, desc string, itf bool) {
	c.u1(byte(op))
	c.u2(c.pool.Method(owner, name, desc, itf || op == INVOKEINTERFACE))
	if op == INVOKEINTERFACE {
		c.u1(byte(1 + ParamSlots(desc)))
		c.u1(0)
	}
}

// InvokeDynamicInsn emits invokedynamic, registering the bootstrap method
// with the class.
func (c *Code) InvokeDynamicInsn(name, desc string, bootstrap Handle, args ...any) {
	bsm, err := c.class.bootstrap(bootstrap, args)
	if err != nil {
		c.fail(err)
		return
	}
	c.u1(byte(INVOKEDYNAMIC))
	c.u2(c.pool.InvokeDynamic(bsm, name, desc))
	c.u2(0)
}

// LdcInsn loads a pool constant, choosing ldc, ldc_w or ldc2_w.
func (c *Code) LdcInsn(v any) {
	idx, wide, err := c.pool.Constant(v)
	if err != nil {
		c.fail(err)
		return
	}
	switch {
	case wide:
		c.u1(byte(LDC2_W))
		c.u2(idx)
	case idx <= math.MaxUint8:
		c.u1(byte(LDC))
		c.u1(byte(idx))
	default:
		c.u1(byte(LDC_W))
		c.u2(idx)
	}
}

// JumpInsn emits a branch to a label.
func (c *Code) JumpInsn(op Opcode, l *Label) {
	insn := len(c.bytes)
	c.u1(byte(op))
	c.ref(l, insn, op == GOTO_W || op == JSR_W)
}

// pad aligns switch operands to a multiple of four from the code start.
func (c *Code) pad() {
	for len(c.bytes)%4 != 0 {
		c.u1(0)
	}
}

// TableSwitchInsn emits a tableswitch over low..high.
func (c *Code) TableSwitchInsn(low, high int32, dflt *Label, targets []*Label) {
	insn := len(c.bytes)
	c.u1(byte(TABLESWITCH))
	c.pad()
	c.ref(dflt, insn, true)
	c.u4(uint32(low))
	c.u4(uint32(high))
	for _, t := range targets {
		c.ref(t, insn, true)
	}
}

// LookupSwitchInsn emits a lookupswitch; keys must be sorted ascending.
func (c *Code) LookupSwitchInsn(dflt *Label, keys []int32, targets []*Label) {
	insn := len(c.bytes)
	c.u1(byte(LOOKUPSWITCH))
	c.pad()
	c.ref(dflt, insn, true)
	c.u4(uint32(len(keys)))
	for i, k := range keys {
		c.u4(uint32(k))
		c.ref(targets[i], insn, true)
	}
}

// TryCatch registers an exception handler. An empty catchType catches
// everything.
func (c *Code) TryCatch(start, end, handler *Label, catchType string) {
	c.handlers = append(c.handlers, handlerEntry{start, end, handler, catchType})
}

// LineNumber maps the instruction at a label to a source line.
func (c *Code) LineNumber(line int, at *Label) {
	c.lines = append(c.lines, lineEntry{at: at, line: line})
}

// LocalVariable records a LocalVariableTable entry.
func (c *Code) LocalVariable(name, desc string, start, end *Label, slot int) {
	c.locals = append(c.locals, localEntry{name, desc, start, end, slot})
}

// Frame records the stack map frame at a label. Locals are per slot.
// Recording a second frame at the same offset replaces the first.
func (c *Code) Frame(at *Label, locals, stack []VType) {
	c.frames = append(c.frames, frameEntry{
		at:     at,
		locals: append([]VType(nil), locals...),
		stack:  append([]VType(nil), stack...),
	})
}

// SetMaxs sets max_stack and max_locals.
func (c *Code) SetMaxs(maxStack, maxLocals int) {
	c.maxStack, c.maxLocals = maxStack, maxLocals
}

// Maxs returns max_stack and max_locals.
func (c *Code) Maxs() (maxStack, maxLocals int) { return c.maxStack, c.maxLocals }

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

// resolvedFrames returns the recorded frames keyed by offset, last
// recording winning.
func (c *Code) resolvedFrames() ([]FrameAt, error) {
	byOffset := make(map[int]FrameAt, len(c.frames))
	for _, f := range c.frames {
		off, ok := f.at.Offset()
		if !ok {
			return nil, ErrUnresolvedLabel
		}
		byOffset[off] = FrameAt{Offset: off, Locals: f.locals, Stack: f.stack}
	}
	frames := make([]FrameAt, 0, len(byOffset))
	for _, f := range byOffset {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Offset < frames[j].Offset })
	return frames, nil
}

func (c *Code) attribute() ([]byte, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}
	for _, l := range c.labels {
		if l.Referenced() && !l.resolved {
			return nil, fmt.Errorf("%s.%s%s: %w", c.owner, c.name, c.desc, ErrUnresolvedLabel)
		}
	}
	if len(c.bytes) == 0 || len(c.bytes) > math.MaxUint16 {
		return nil, fmt.Errorf("%s.%s%s: %w", c.owner, c.name, c.desc, ErrCodeTooLarge)
	}
	p := c.pool
	b := binary.BigEndian.AppendUint16(nil, uint16(c.maxStack))
	b = binary.BigEndian.AppendUint16(b, uint16(c.maxLocals))
	b = binary.BigEndian.AppendUint32(b, uint32(len(c.bytes)))
	b = append(b, c.bytes...)

	var table []byte
	count := 0
	for _, h := range c.handlers {
		start, ok1 := h.start.Offset()
		end, ok2 := h.end.Offset()
		handler, ok3 := h.handler.Offset()
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%s.%s%s: handler: %w", c.owner, c.name, c.desc, ErrUnresolvedLabel)
		}
		if start >= end {
			continue
		}
		var ct uint16
		if h.catchType != "" {
			ct = p.Class(h.catchType)
		}
		table = binary.BigEndian.AppendUint16(table, uint16(start))
		table = binary.BigEndian.AppendUint16(table, uint16(end))
		table = binary.BigEndian.AppendUint16(table, uint16(handler))
		table = binary.BigEndian.AppendUint16(table, ct)
		count++
	}
	b = binary.BigEndian.AppendUint16(b, uint16(count))
	b = append(b, table...)

	var attrs [][]byte
	frames, err := c.resolvedFrames()
	if err != nil {
		return nil, fmt.Errorf("%s.%s%s: frame: %w", c.owner, c.name, c.desc, err)
	}
	if len(frames) > 0 {
		initial := InitialLocals(c.owner, c.name, c.desc, c.IsStatic())
		attrs = append(attrs, namedAttribute(p, "StackMapTable", encodeStackMap(p, initial, frames)))
	}
	if len(c.lines) > 0 {
		var lt []byte
		n := 0
		for _, e := range c.lines {
			off, ok := e.at.Offset()
			if !ok || off >= len(c.bytes) {
				continue
			}
			lt = binary.BigEndian.AppendUint16(lt, uint16(off))
			lt = binary.BigEndian.AppendUint16(lt, uint16(e.line))
			n++
		}
		if n > 0 {
			attrs = append(attrs, namedAttribute(p, "LineNumberTable",
				append(binary.BigEndian.AppendUint16(nil, uint16(n)), lt...)))
		}
	}
	if len(c.locals) > 0 {
		var lv []byte
		n := 0
		for _, e := range c.locals {
			start, ok1 := e.start.Offset()
			end, ok2 := e.end.Offset()
			if !ok1 || !ok2 || end < start {
				continue
			}
			lv = binary.BigEndian.AppendUint16(lv, uint16(start))
			lv = binary.BigEndian.AppendUint16(lv, uint16(end-start))
			lv = binary.BigEndian.AppendUint16(lv, p.Utf8(e.name))
			lv = binary.BigEndian.AppendUint16(lv, p.Utf8(e.desc))
			lv = binary.BigEndian.AppendUint16(lv, uint16(e.slot))
			n++
		}
		if n > 0 {
			attrs = append(attrs, namedAttribute(p, "LocalVariableTable",
				append(binary.BigEndian.AppendUint16(nil, uint16(n)), lv...)))
		}
	}
	b = binary.BigEndian.AppendUint16(b, uint16(len(attrs)))
	for _, a := range attrs {
		b = append(b, a...)
	}
	if err := p.Err(); err != nil {
		return nil, err
	}
	return b, nil
}

func namedAttribute(p *Pool, name string, body []byte) []byte {
	b := binary.BigEndian.AppendUint16(nil, p.Utf8(name))
	b = binary.BigEndian.AppendUint32(b, uint32(len(body)))
	return append(b, body...)
}
