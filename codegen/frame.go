package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Abstract frame state
// ---------------------------------------------------------------------------

// frameState is the verifier's view of a program point: one type per
// local slot and one per operand stack value.
type frameState struct {
	locals []classfile.VType
	stack  []classfile.VType
}

func (f *frameState) clone() *frameState {
	return &frameState{
		locals: append([]classfile.VType(nil), f.locals...),
		stack:  append([]classfile.VType(nil), f.stack...),
	}
}

func vtypeOf(t ast.Type) classfile.VType {
	switch {
	case t.IsIntLike():
		return classfile.Integer
	case t.Is(ast.Long):
		return classfile.Long
	case t.Is(ast.Float):
		return classfile.Float
	case t.Is(ast.Double):
		return classfile.Double
	}
	return classfile.ObjectType(t.InternalName())
}

var objectVType = classfile.ObjectType("java/lang/Object")

// mergeType returns the least type both a and b are assignable to, or
// Top when none exists.
func mergeType(a, b classfile.VType) classfile.VType {
	switch {
	case a == b:
		return a
	case a.Tag == classfile.VNull && b.Tag == classfile.VObject:
		return b
	case b.Tag == classfile.VNull && a.Tag == classfile.VObject:
		return a
	case a.Tag == classfile.VObject && b.Tag == classfile.VObject:
		return objectVType
	}
	return classfile.Top
}

// assignable reports whether a value of type from may flow where a frame
// declares type to. References are checked structurally; class hierarchy
// questions are left to the verifier.
func assignable(from, to classfile.VType) bool {
	switch {
	case from == to, to.Tag == classfile.VTop:
		return true
	case from.Tag == classfile.VNull:
		return to.Tag == classfile.VObject
	case from.Tag == classfile.VObject && to.Tag == classfile.VObject:
		return true
	}
	return false
}

// merge widens dst so that src flows into it.
func (f *frameState) merge(src *frameState) error {
	if len(f.stack) != len(src.stack) {
		return fmt.Errorf("%w: depth %d vs %d", ErrStackMismatch, len(f.stack), len(src.stack))
	}
	for i := range f.stack {
		m := mergeType(f.stack[i], src.stack[i])
		if m.Tag == classfile.VTop {
			return fmt.Errorf("%w: %s vs %s at depth %d", ErrStackMismatch, f.stack[i], src.stack[i], i)
		}
		f.stack[i] = m
	}
	n := max(len(f.locals), len(src.locals))
	for i := 0; i < n; i++ {
		var a, b classfile.VType
		if i < len(f.locals) {
			a = f.locals[i]
		}
		if i < len(src.locals) {
			b = src.locals[i]
		}
		m := mergeType(a, b)
		if i < len(f.locals) {
			f.locals[i] = m
		} else {
			f.locals = append(f.locals, m)
		}
	}
	fixWide(f.locals)
	return nil
}

// fits reports whether src can flow into a frame already fixed at f.
func (f *frameState) fits(src *frameState) error {
	if len(f.stack) != len(src.stack) {
		return fmt.Errorf("%w: depth %d vs %d", ErrStackMismatch, len(src.stack), len(f.stack))
	}
	for i := range f.stack {
		if !assignable(src.stack[i], f.stack[i]) {
			return fmt.Errorf("%w: %s does not fit %s at depth %d", ErrStackMismatch, src.stack[i], f.stack[i], i)
		}
	}
	for i, want := range f.locals {
		got := classfile.Top
		if i < len(src.locals) {
			got = src.locals[i]
		}
		if !assignable(got, want) {
			return fmt.Errorf("%w: local %d is %s, frame expects %s", ErrStackMismatch, i, got, want)
		}
	}
	return nil
}

// fixWide clears wide locals whose second half did not survive a merge.
func fixWide(locals []classfile.VType) {
	for i, t := range locals {
		if !t.IsWide() {
			continue
		}
		if i+1 >= len(locals) || locals[i+1].Tag != classfile.VTop {
			locals[i] = classfile.Top
		}
	}
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// Label is a jump target that carries the frame state flowing into it.
type Label struct {
	l      *classfile.Label
	frame  *frameState
	marked bool
	jumped bool // target of a jump, switch or handler
}

func (l *Label) needsFrame() bool { return l.jumped && l.marked }
