// Package verify type-checks class files the way the JVM's split
// verifier does: linearly, trusting the StackMapTable at branch targets
// and handlers. Class hierarchy questions are answered leniently: any
// reference is assignable to any class type.
package verify

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/classgen/classfile"
)

var log = commonlog.GetLogger("classgen.verify")

// Problem is one verification failure. Offset is -1 for problems that
// are not tied to an instruction.
type Problem struct {
	Class   string
	Method  string // name and descriptor
	Offset  int
	Message string
}

func (p Problem) String() string {
	switch {
	case p.Method == "":
		return fmt.Sprintf("%s: %s", p.Class, p.Message)
	case p.Offset < 0:
		return fmt.Sprintf("%s.%s: %s", p.Class, p.Method, p.Message)
	}
	return fmt.Sprintf("%s.%s @%d: %s", p.Class, p.Method, p.Offset, p.Message)
}

// Class verifies every method of a class file. The error is non-nil only
// when the bytes cannot be parsed at all.
func Class(data []byte) ([]Problem, error) {
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	return File(cf), nil
}

// File verifies a parsed class file.
func File(cf *classfile.ClassFile) []Problem {
	name := cf.Name
	var problems []Problem
	for i := range cf.Methods {
		m := &cf.Methods[i]
		abstract := m.Access&(classfile.AccAbstract|0x0100) != 0 // native has no code either
		switch {
		case m.Code == nil && !abstract:
			problems = append(problems, Problem{Class: name, Method: m.Name + m.Descriptor, Offset: -1, Message: "missing Code attribute"})
		case m.Code != nil && abstract:
			problems = append(problems, Problem{Class: name, Method: m.Name + m.Descriptor, Offset: -1, Message: "abstract method has code"})
		case m.Code != nil:
			problems = append(problems, checkMethod(cf, m)...)
		}
	}
	log.Debugf("%s: %d method(s), %d problem(s)", name, len(cf.Methods), len(problems))
	return problems
}

// ---------------------------------------------------------------------------
// Method checker
// ---------------------------------------------------------------------------

type checker struct {
	cf   *classfile.ClassFile
	m    *classfile.Member
	code *classfile.CodeAttribute

	frames   map[int]classfile.FrameAt
	bounds   map[int]bool
	newTypes map[int]string
	retDesc  string

	locals    []classfile.VType
	stack     []classfile.VType
	reachable bool
	off       int
	current   classfile.Insn

	problems   []Problem
	stackShown bool
}

func (k *checker) report(off int, format string, args ...any) {
	k.problems = append(k.problems, Problem{
		Class:   k.cf.Name,
		Method:  k.m.Name + k.m.Descriptor,
		Offset:  off,
		Message: fmt.Sprintf(format, args...),
	})
}

func checkMethod(cf *classfile.ClassFile, m *classfile.Member) []Problem {
	k := &checker{
		cf:       cf,
		m:        m,
		code:     m.Code,
		frames:   make(map[int]classfile.FrameAt),
		bounds:   make(map[int]bool),
		newTypes: make(map[int]string),
		retDesc:  classfile.ReturnDescriptor(m.Descriptor),
	}
	insns, err := classfile.Decode(k.code.Code)
	if err != nil {
		k.report(-1, "%v", err)
		return k.problems
	}
	if len(insns) == 0 {
		k.report(-1, "empty code")
		return k.problems
	}
	for _, in := range insns {
		k.bounds[in.Offset] = true
		if in.Op == classfile.NEW {
			k.newTypes[in.Offset] = cf.Pool.ClassAt(uint16(in.Index))
		}
	}

	static := m.Access&classfile.AccStatic != 0
	initial := classfile.InitialLocals(cf.Name, m.Name, m.Descriptor, static)
	if len(initial) > k.code.MaxLocals {
		k.report(-1, "max_locals %d below parameter size %d", k.code.MaxLocals, len(initial))
	}
	var frames []classfile.FrameAt
	if len(k.code.StackMap) > 0 {
		frames, err = classfile.DecodeStackMap(cf.Pool, initial, k.code.StackMap)
		if err != nil {
			k.report(-1, "stack map: %v", err)
			return k.problems
		}
	}
	for _, f := range frames {
		if !k.bounds[f.Offset] {
			k.report(f.Offset, "stack map frame not at an instruction boundary")
		}
		k.frames[f.Offset] = f
	}
	k.checkHandlers()

	k.locals = append([]classfile.VType(nil), initial...)
	k.reachable = true
	gap := false
	for _, in := range insns {
		k.off = in.Offset
		if f, ok := k.frames[in.Offset]; ok {
			if k.reachable {
				k.fits(f, "falls through into frame")
			}
			k.locals = append([]classfile.VType(nil), f.Locals...)
			k.stack = append([]classfile.VType(nil), f.Stack...)
			k.reachable = true
			gap = false
		} else if !k.reachable {
			if !gap {
				k.report(in.Offset, "no stack map frame after unconditional branch")
				gap = true
			}
			// Resynchronize at the next frame.
			continue
		}
		k.checkHandlerLocals(in.Offset)
		k.step(in)
	}
	if k.reachable {
		k.report(len(k.code.Code), "execution can fall off the end of the code")
	}
	return k.problems
}

func (k *checker) checkHandlers() {
	size := len(k.code.Code)
	for _, h := range k.code.Handlers {
		switch {
		case !k.bounds[h.Start], h.End != size && !k.bounds[h.End], h.Start >= h.End:
			k.report(h.Start, "bad exception range [%d,%d)", h.Start, h.End)
		case !k.bounds[h.Handler]:
			k.report(h.Handler, "handler not at an instruction boundary")
		}
		f, ok := k.frames[h.Handler]
		if !ok {
			k.report(h.Handler, "no stack map frame at exception handler")
			continue
		}
		if len(f.Stack) != 1 || !f.Stack[0].IsReference() {
			k.report(h.Handler, "handler frame stack must hold the exception, got %s", classfile.FormatTypes(f.Stack))
		}
	}
}

func (k *checker) checkHandlerLocals(off int) {
	for _, h := range k.code.Handlers {
		if off < h.Start || off >= h.End {
			continue
		}
		f, ok := k.frames[h.Handler]
		if !ok {
			continue
		}
		for i, want := range f.Locals {
			if !assignable(k.local(i), want) {
				k.report(off, "local %d is %s, handler at %d expects %s", i, k.local(i), h.Handler, want)
				break
			}
		}
	}
}

// fits checks the current state against a recorded frame.
func (k *checker) fits(f classfile.FrameAt, what string) {
	if len(f.Stack) != len(k.stack) {
		k.report(k.off, "%s at %d: stack %s, frame %s", what, f.Offset, classfile.FormatTypes(k.stack), classfile.FormatTypes(f.Stack))
		return
	}
	for i := range f.Stack {
		if !assignable(k.stack[i], f.Stack[i]) {
			k.report(k.off, "%s at %d: stack %s, frame %s", what, f.Offset, classfile.FormatTypes(k.stack), classfile.FormatTypes(f.Stack))
			return
		}
	}
	for i, want := range f.Locals {
		if !assignable(k.local(i), want) {
			k.report(k.off, "%s at %d: local %d is %s, frame expects %s", what, f.Offset, i, k.local(i), want)
			return
		}
	}
}

func (k *checker) jumpTo(target int) {
	if !k.bounds[target] {
		k.report(k.off, "branch target %d is not an instruction", target)
		return
	}
	f, ok := k.frames[target]
	if !ok {
		k.report(k.off, "no stack map frame at branch target %d", target)
		return
	}
	k.fits(f, "jump")
}

func (k *checker) local(i int) classfile.VType {
	if i < len(k.locals) {
		return k.locals[i]
	}
	return classfile.Top
}

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

func isInitializedRef(t classfile.VType) bool {
	return t.Tag == classfile.VObject || t.Tag == classfile.VNull
}

func assignable(from, to classfile.VType) bool {
	switch {
	case from == to, to.Tag == classfile.VTop:
		return true
	case to.Tag == classfile.VObject:
		return isInitializedRef(from)
	}
	return false
}

// Error carries the problems found by Check.
type Error struct {
	Problems []Problem
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return e.Problems[0].String()
	}
	return fmt.Sprintf("%d verification problems, first: %s", len(e.Problems), e.Problems[0])
}

// Check verifies a class file and returns an *Error when any problem is
// found.
func Check(data []byte) error {
	problems, err := Class(data)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return &Error{Problems: problems}
	}
	return nil
}
