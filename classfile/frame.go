package classfile

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Verification types
// ---------------------------------------------------------------------------

// VTag is a StackMapTable verification type tag.
type VTag uint8

const (
	VTop               VTag = 0
	VInteger           VTag = 1
	VFloat             VTag = 2
	VDouble            VTag = 3
	VLong              VTag = 4
	VNull              VTag = 5
	VUninitializedThis VTag = 6
	VObject            VTag = 7
	VUninitialized     VTag = 8
)

// VType is a verification type. Class is set for VObject; Offset is the
// offset of the creating new instruction for VUninitialized.
type VType struct {
	Tag    VTag
	Class  string
	Offset int
}

// Frequently used verification types.
var (
	Top               = VType{Tag: VTop}
	Integer           = VType{Tag: VInteger}
	Float             = VType{Tag: VFloat}
	Double            = VType{Tag: VDouble}
	Long              = VType{Tag: VLong}
	Null              = VType{Tag: VNull}
	UninitializedThis = VType{Tag: VUninitializedThis}
)

// ObjectType returns the verification type of a class or array.
func ObjectType(internalName string) VType {
	return VType{Tag: VObject, Class: internalName}
}

// UninitializedAt returns the type of an object created by the new at offset.
func UninitializedAt(offset int) VType {
	return VType{Tag: VUninitialized, Offset: offset}
}

// VTypeOf returns the verification type of a field descriptor.
func VTypeOf(desc string) VType {
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return Integer
	case 'J':
		return Long
	case 'F':
		return Float
	case 'D':
		return Double
	case 'L':
		return ObjectType(desc[1 : len(desc)-1])
	}
	return ObjectType(desc)
}

// IsWide reports whether the type occupies two slots.
func (v VType) IsWide() bool { return v.Tag == VLong || v.Tag == VDouble }

// IsReference reports whether the type is a reference (possibly null or
// uninitialized).
func (v VType) IsReference() bool {
	switch v.Tag {
	case VNull, VObject, VUninitialized, VUninitializedThis:
		return true
	}
	return false
}

// String implements the Stringer interface.
func (v VType) String() string {
	switch v.Tag {
	case VTop:
		return "top"
	case VInteger:
		return "int"
	case VFloat:
		return "float"
	case VDouble:
		return "double"
	case VLong:
		return "long"
	case VNull:
		return "null"
	case VUninitializedThis:
		return "uninitializedThis"
	case VObject:
		return v.Class
	case VUninitialized:
		return fmt.Sprintf("uninitialized(%d)", v.Offset)
	}
	return fmt.Sprintf("vtype(%d)", v.Tag)
}

// FormatTypes renders a list of verification types.
func FormatTypes(ts []VType) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ---------------------------------------------------------------------------
// Frame compression
// ---------------------------------------------------------------------------

// FrameAt is a decoded stack map frame. Locals are per slot: a long or
// double is followed by a Top for its second half.
type FrameAt struct {
	Offset int
	Locals []VType
	Stack  []VType
}

// compactLocals drops the implicit second halves of wide types and trims
// trailing Tops.
func compactLocals(locals []VType) []VType {
	out := make([]VType, 0, len(locals))
	for i := 0; i < len(locals); i++ {
		out = append(out, locals[i])
		if locals[i].IsWide() {
			i++
		}
	}
	for len(out) > 0 && out[len(out)-1].Tag == VTop {
		out = out[:len(out)-1]
	}
	return out
}

// expandLocals reverses compactLocals.
func expandLocals(compact []VType) []VType {
	out := make([]VType, 0, len(compact)+2)
	for _, t := range compact {
		out = append(out, t)
		if t.IsWide() {
			out = append(out, Top)
		}
	}
	return out
}

func sameTypes(a, b []VType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func appendVType(b []byte, pool *Pool, v VType) []byte {
	b = append(b, byte(v.Tag))
	switch v.Tag {
	case VObject:
		b = binary.BigEndian.AppendUint16(b, pool.Class(v.Class))
	case VUninitialized:
		b = binary.BigEndian.AppendUint16(b, uint16(v.Offset))
	}
	return b
}

// encodeStackMap produces the StackMapTable attribute body for frames
// sorted by offset. initial is the implicit frame derived from the
// method descriptor.
func encodeStackMap(pool *Pool, initial []VType, frames []FrameAt) []byte {
	b := binary.BigEndian.AppendUint16(nil, uint16(len(frames)))
	prevLocals := compactLocals(initial)
	prevOffset := -1
	for _, f := range frames {
		delta := f.Offset - prevOffset - 1
		locals := compactLocals(f.Locals)
		stack := f.Stack
		switch {
		case len(stack) == 0 && sameTypes(locals, prevLocals):
			if delta < 64 {
				b = append(b, byte(delta))
			} else {
				b = append(b, 251)
				b = binary.BigEndian.AppendUint16(b, uint16(delta))
			}
		case len(stack) == 1 && sameTypes(locals, prevLocals):
			if delta < 64 {
				b = append(b, byte(64+delta))
			} else {
				b = append(b, 247)
				b = binary.BigEndian.AppendUint16(b, uint16(delta))
			}
			b = appendVType(b, pool, stack[0])
		case len(stack) == 0 && len(locals) < len(prevLocals) && len(prevLocals)-len(locals) <= 3 &&
			sameTypes(locals, prevLocals[:len(locals)]):
			b = append(b, byte(251-(len(prevLocals)-len(locals))))
			b = binary.BigEndian.AppendUint16(b, uint16(delta))
		case len(stack) == 0 && len(locals) > len(prevLocals) && len(locals)-len(prevLocals) <= 3 &&
			sameTypes(locals[:len(prevLocals)], prevLocals):
			extra := locals[len(prevLocals):]
			b = append(b, byte(251+len(extra)))
			b = binary.BigEndian.AppendUint16(b, uint16(delta))
			for _, t := range extra {
				b = appendVType(b, pool, t)
			}
		default:
			b = append(b, 255)
			b = binary.BigEndian.AppendUint16(b, uint16(delta))
			b = binary.BigEndian.AppendUint16(b, uint16(len(locals)))
			for _, t := range locals {
				b = appendVType(b, pool, t)
			}
			b = binary.BigEndian.AppendUint16(b, uint16(len(stack)))
			for _, t := range stack {
				b = appendVType(b, pool, t)
			}
		}
		prevLocals = locals
		prevOffset = f.Offset
	}
	return b
}

// DecodeStackMap expands a StackMapTable attribute body into full frames.
func DecodeStackMap(pool *Pool, initial []VType, data []byte) ([]FrameAt, error) {
	r := &byteReader{b: data}
	n := int(r.u2())
	frames := make([]FrameAt, 0, n)
	locals := compactLocals(initial)
	offset := -1
	readType := func() VType {
		t := VType{Tag: VTag(r.u1())}
		switch t.Tag {
		case VObject:
			t.Class = pool.ClassAt(r.u2())
		case VUninitialized:
			t.Offset = int(r.u2())
		}
		return t
	}
	for i := 0; i < n && r.err == nil; i++ {
		kind := int(r.u1())
		var delta int
		var stack []VType
		switch {
		case kind < 64:
			delta = kind
		case kind < 128:
			delta = kind - 64
			stack = []VType{readType()}
		case kind == 247:
			delta = int(r.u2())
			stack = []VType{readType()}
		case kind >= 248 && kind <= 250:
			delta = int(r.u2())
			k := 251 - kind
			if k > len(locals) {
				return nil, fmt.Errorf("%w: chop frame below zero locals", ErrMalformed)
			}
			locals = append([]VType(nil), locals[:len(locals)-k]...)
		case kind == 251:
			delta = int(r.u2())
		case kind >= 252 && kind <= 254:
			delta = int(r.u2())
			locals = append([]VType(nil), locals...)
			for j := 0; j < kind-251; j++ {
				locals = append(locals, readType())
			}
		case kind == 255:
			delta = int(r.u2())
			nl := int(r.u2())
			locals = make([]VType, 0, nl)
			for j := 0; j < nl; j++ {
				locals = append(locals, readType())
			}
			ns := int(r.u2())
			for j := 0; j < ns; j++ {
				stack = append(stack, readType())
			}
		default:
			return nil, fmt.Errorf("%w: reserved frame type %d", ErrMalformed, kind)
		}
		offset += delta + 1
		frames = append(frames, FrameAt{Offset: offset, Locals: expandLocals(locals), Stack: stack})
	}
	if r.err != nil {
		return nil, r.err
	}
	return frames, nil
}

// InitialLocals returns the implicit entry frame of a method.
func InitialLocals(owner, name, desc string, static bool) []VType {
	var locals []VType
	if !static {
		if name == "<init>" && owner != "java/lang/Object" {
			locals = append(locals, UninitializedThis)
		} else {
			locals = append(locals, ObjectType(owner))
		}
	}
	for _, p := range ParamDescriptors(desc) {
		t := VTypeOf(p)
		locals = append(locals, t)
		if t.IsWide() {
			locals = append(locals, Top)
		}
	}
	return locals
}

// ParamDescriptors splits the parameter list of a method descriptor.
func ParamDescriptors(desc string) []string {
	var out []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		j := i
		for j < len(desc) && desc[j] == '[' {
			j++
		}
		if j < len(desc) && desc[j] == 'L' {
			for j < len(desc) && desc[j] != ';' {
				j++
			}
		}
		j++
		if j > len(desc) {
			break
		}
		out = append(out, desc[i:j])
		i = j
	}
	return out
}

// ParamSlots returns the local slots a method descriptor's parameters use.
func ParamSlots(desc string) int {
	n := 0
	for _, p := range ParamDescriptors(desc) {
		if p == "J" || p == "D" {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// ReturnDescriptor returns the return part of a method descriptor.
func ReturnDescriptor(desc string) string {
	if i := strings.LastIndexByte(desc, ')'); i >= 0 {
		return desc[i+1:]
	}
	return ""
}
