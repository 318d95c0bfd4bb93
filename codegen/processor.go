package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
)

// ---------------------------------------------------------------------------
// Processor dispatch
// ---------------------------------------------------------------------------

// Processor lowers one instruction kind. Expression processors leave
// their result on the operand stack tracked by the context.
type Processor interface {
	Process(ctx *Context, node ast.Instruction) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx *Context, node ast.Instruction) error

// Process calls f.
func (f ProcessorFunc) Process(ctx *Context, node ast.Instruction) error {
	return f(ctx, node)
}

// Table maps instruction kinds to processors. A table must not be
// modified while a run using it is in progress; it may be shared by
// concurrent runs.
type Table struct {
	processors map[ast.Kind]Processor
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{processors: make(map[ast.Kind]Processor)}
}

// Register adds or replaces the processor for kind.
func (t *Table) Register(kind ast.Kind, p Processor) {
	t.processors[kind] = p
}

// RegisterFunc registers a function as the processor for kind.
func (t *Table) RegisterFunc(kind ast.Kind, f func(ctx *Context, node ast.Instruction) error) {
	t.Register(kind, ProcessorFunc(f))
}

// Lookup returns the processor for kind.
func (t *Table) Lookup(kind ast.Kind) (Processor, bool) {
	p, ok := t.processors[kind]
	return p, ok
}

// Len returns the number of registered kinds.
func (t *Table) Len() int { return len(t.processors) }

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	c := NewTable()
	for k, p := range t.processors {
		c.processors[k] = p
	}
	return c
}

// typed wraps a processor for one concrete node type.
func typed[N ast.Instruction](f func(ctx *Context, n N) error) ProcessorFunc {
	return func(ctx *Context, node ast.Instruction) error {
		n, ok := node.(N)
		if !ok {
			return fmt.Errorf("%w: %T registered as %s", ErrTypeMismatch, node, node.Kind())
		}
		return f(ctx, n)
	}
}

// DefaultTable returns a table with a processor for every built-in kind.
func DefaultTable() *Table {
	t := NewTable()
	t.Register(ast.KindBlock, typed(lowerBlock))
	t.Register(ast.KindVariableDeclaration, typed(lowerVariableDeclaration))
	t.Register(ast.KindAssign, typed(lowerAssign))
	t.Register(ast.KindVariableAccess, typed(lowerVariableAccess))
	t.Register(ast.KindThis, typed(lowerThis))
	t.Register(ast.KindFieldAccess, typed(lowerFieldAccess))
	t.Register(ast.KindFieldStore, typed(lowerFieldStore))
	t.Register(ast.KindInvoke, typed(lowerInvoke))
	t.Register(ast.KindNew, typed(lowerNew))
	t.Register(ast.KindLiteral, typed(lowerLiteral))
	t.Register(ast.KindEnumConstant, typed(lowerEnumConstant))
	t.Register(ast.KindOperate, typed(lowerOperate))
	t.Register(ast.KindCompare, typed(lowerCompare))
	t.Register(ast.KindLogical, typed(lowerLogical))
	t.Register(ast.KindNot, typed(lowerNot))
	t.Register(ast.KindCast, typed(lowerCast))
	t.Register(ast.KindInstanceOf, typed(lowerInstanceOf))
	t.Register(ast.KindNewArray, typed(lowerNewArray))
	t.Register(ast.KindArrayLoad, typed(lowerArrayLoad))
	t.Register(ast.KindArrayStore, typed(lowerArrayStore))
	t.Register(ast.KindArrayLength, typed(lowerArrayLength))
	t.Register(ast.KindConcat, typed(lowerConcat))
	t.Register(ast.KindIf, typed(lowerIf))
	t.Register(ast.KindSwitch, typed(lowerSwitch))
	t.Register(ast.KindWhile, typed(lowerWhile))
	t.Register(ast.KindDoWhile, typed(lowerDoWhile))
	t.Register(ast.KindFor, typed(lowerFor))
	t.Register(ast.KindForEach, typed(lowerForEach))
	t.Register(ast.KindBreak, typed(lowerBreak))
	t.Register(ast.KindContinue, typed(lowerContinue))
	t.Register(ast.KindTry, typed(lowerTry))
	t.Register(ast.KindThrow, typed(lowerThrow))
	t.Register(ast.KindReturn, typed(lowerReturn))
	t.Register(ast.KindLambda, typed(lowerLambda))
	t.Register(ast.KindMethodRef, typed(lowerMethodRef))
	t.Register(ast.KindSynchronized, typed(lowerSynchronized))
	t.Register(ast.KindLocalCode, typed(lowerLocalCode))
	t.Register(ast.KindLine, typed(lowerLine))
	return t
}
