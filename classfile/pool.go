package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// Tag identifies the kind of a constant pool entry.
type Tag uint8

const (
	TagUtf8               Tag = 1
	TagInteger            Tag = 3
	TagFloat              Tag = 4
	TagLong               Tag = 5
	TagDouble             Tag = 6
	TagClass              Tag = 7
	TagString             Tag = 8
	TagFieldref           Tag = 9
	TagMethodref          Tag = 10
	TagInterfaceMethodref Tag = 11
	TagNameAndType        Tag = 12
	TagMethodHandle       Tag = 15
	TagMethodType         Tag = 16
	TagInvokeDynamic      Tag = 18
)

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// PoolEntry is one decoded constant. Ref1 and Ref2 hold the index operands
// of structured entries; Kind holds a method handle's reference kind.
type PoolEntry struct {
	Tag    Tag
	Int    int32
	Long   int64
	Float  float32
	Double float64
	Str    string
	Ref1   uint16
	Ref2   uint16
	Kind   uint8
}

type poolKey struct {
	tag  Tag
	s    string
	n    int64
	a, b uint16
}

// Pool is an interning constant pool. Index 0 is unused; long and double
// entries occupy two indices.
type Pool struct {
	entries []PoolEntry
	index   map[poolKey]uint16
	err     error
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{
		entries: make([]PoolEntry, 1, 64),
		index:   make(map[poolKey]uint16),
	}
}

// Err returns the first interning failure, if any.
func (p *Pool) Err() error { return p.err }

// Count returns the constant_pool_count value (one more than the highest index).
func (p *Pool) Count() int { return len(p.entries) }

// Entry returns the entry at idx.
func (p *Pool) Entry(idx uint16) (PoolEntry, bool) {
	if idx == 0 || int(idx) >= len(p.entries) || p.entries[idx].Tag == 0 {
		return PoolEntry{}, false
	}
	return p.entries[idx], true
}

func (p *Pool) intern(k poolKey, e PoolEntry) uint16 {
	if idx, ok := p.index[k]; ok {
		return idx
	}
	width := 1
	if e.Tag == TagLong || e.Tag == TagDouble {
		width = 2
	}
	if len(p.entries)+width > math.MaxUint16 {
		if p.err == nil {
			p.err = ErrPoolOverflow
		}
		return 0
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if width == 2 {
		p.entries = append(p.entries, PoolEntry{})
	}
	p.index[k] = idx
	return idx
}

// Utf8 interns a CONSTANT_Utf8.
func (p *Pool) Utf8(s string) uint16 {
	return p.intern(poolKey{tag: TagUtf8, s: s}, PoolEntry{Tag: TagUtf8, Str: s})
}

// Integer interns a CONSTANT_Integer.
func (p *Pool) Integer(v int32) uint16 {
	return p.intern(poolKey{tag: TagInteger, n: int64(v)}, PoolEntry{Tag: TagInteger, Int: v})
}

// Float interns a CONSTANT_Float.
func (p *Pool) Float(v float32) uint16 {
	return p.intern(poolKey{tag: TagFloat, n: int64(math.Float32bits(v))}, PoolEntry{Tag: TagFloat, Float: v})
}

// Long interns a CONSTANT_Long.
func (p *Pool) Long(v int64) uint16 {
	return p.intern(poolKey{tag: TagLong, n: v}, PoolEntry{Tag: TagLong, Long: v})
}

// Double interns a CONSTANT_Double.
func (p *Pool) Double(v float64) uint16 {
	return p.intern(poolKey{tag: TagDouble, n: int64(math.Float64bits(v))}, PoolEntry{Tag: TagDouble, Double: v})
}

// Class interns a CONSTANT_Class for an internal name or array descriptor.
func (p *Pool) Class(internalName string) uint16 {
	name := p.Utf8(internalName)
	return p.intern(poolKey{tag: TagClass, a: name}, PoolEntry{Tag: TagClass, Ref1: name})
}

// StringConst interns a CONSTANT_String.
func (p *Pool) StringConst(s string) uint16 {
	utf := p.Utf8(s)
	return p.intern(poolKey{tag: TagString, a: utf}, PoolEntry{Tag: TagString, Ref1: utf})
}

// NameAndType interns a CONSTANT_NameAndType.
func (p *Pool) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.intern(poolKey{tag: TagNameAndType, a: n, b: d}, PoolEntry{Tag: TagNameAndType, Ref1: n, Ref2: d})
}

func (p *Pool) member(tag Tag, owner, name, desc string) uint16 {
	c, nt := p.Class(owner), p.NameAndType(name, desc)
	return p.intern(poolKey{tag: tag, a: c, b: nt}, PoolEntry{Tag: tag, Ref1: c, Ref2: nt})
}

// Field interns a CONSTANT_Fieldref.
func (p *Pool) Field(owner, name, desc string) uint16 {
	return p.member(TagFieldref, owner, name, desc)
}

// Method interns a CONSTANT_Methodref or CONSTANT_InterfaceMethodref.
func (p *Pool) Method(owner, name, desc string, itf bool) uint16 {
	if itf {
		return p.member(TagInterfaceMethodref, owner, name, desc)
	}
	return p.member(TagMethodref, owner, name, desc)
}

// MethodType interns a CONSTANT_MethodType.
func (p *Pool) MethodType(desc string) uint16 {
	d := p.Utf8(desc)
	return p.intern(poolKey{tag: TagMethodType, a: d}, PoolEntry{Tag: TagMethodType, Ref1: d})
}

// MethodHandle interns a CONSTANT_MethodHandle.
func (p *Pool) MethodHandle(h Handle) uint16 {
	var ref uint16
	switch h.Kind {
	case RefGetField, RefGetStatic, RefPutField, RefPutStatic:
		ref = p.Field(h.Owner, h.Name, h.Desc)
	default:
		ref = p.Method(h.Owner, h.Name, h.Desc, h.Interface)
	}
	return p.intern(poolKey{tag: TagMethodHandle, n: int64(h.Kind), a: ref},
		PoolEntry{Tag: TagMethodHandle, Kind: h.Kind, Ref1: ref})
}

// InvokeDynamic interns a CONSTANT_InvokeDynamic.
func (p *Pool) InvokeDynamic(bootstrap uint16, name, desc string) uint16 {
	nt := p.NameAndType(name, desc)
	return p.intern(poolKey{tag: TagInvokeDynamic, a: bootstrap, b: nt},
		PoolEntry{Tag: TagInvokeDynamic, Ref1: bootstrap, Ref2: nt})
}

// Constant interns an ldc-able value and reports whether it is two slots wide.
func (p *Pool) Constant(v any) (idx uint16, wide bool, err error) {
	switch c := v.(type) {
	case int32:
		return p.Integer(c), false, nil
	case float32:
		return p.Float(c), false, nil
	case int64:
		return p.Long(c), true, nil
	case float64:
		return p.Double(c), true, nil
	case string:
		return p.StringConst(c), false, nil
	case ClassConst:
		return p.Class(string(c)), false, nil
	case MethodTypeConst:
		return p.MethodType(string(c)), false, nil
	case Handle:
		return p.MethodHandle(c), false, nil
	}
	return 0, false, fmt.Errorf("classfile: unsupported constant %T", v)
}

// ---------------------------------------------------------------------------
// Lookups
// ---------------------------------------------------------------------------

// Utf8At returns the string of a CONSTANT_Utf8.
func (p *Pool) Utf8At(idx uint16) string {
	e, ok := p.Entry(idx)
	if !ok || e.Tag != TagUtf8 {
		return ""
	}
	return e.Str
}

// ClassAt returns the internal name of a CONSTANT_Class.
func (p *Pool) ClassAt(idx uint16) string {
	e, ok := p.Entry(idx)
	if !ok || e.Tag != TagClass {
		return ""
	}
	return p.Utf8At(e.Ref1)
}

// NameAndTypeAt returns the name and descriptor of a CONSTANT_NameAndType.
func (p *Pool) NameAndTypeAt(idx uint16) (name, desc string) {
	e, ok := p.Entry(idx)
	if !ok || e.Tag != TagNameAndType {
		return "", ""
	}
	return p.Utf8At(e.Ref1), p.Utf8At(e.Ref2)
}

// MemberAt returns the owner, name and descriptor of a field or method ref.
func (p *Pool) MemberAt(idx uint16) (owner, name, desc string) {
	e, ok := p.Entry(idx)
	if !ok {
		return "", "", ""
	}
	switch e.Tag {
	case TagFieldref, TagMethodref, TagInterfaceMethodref:
		name, desc = p.NameAndTypeAt(e.Ref2)
		return p.ClassAt(e.Ref1), name, desc
	}
	return "", "", ""
}

// HandleAt decodes a CONSTANT_MethodHandle.
func (p *Pool) HandleAt(idx uint16) (Handle, bool) {
	e, ok := p.Entry(idx)
	if !ok || e.Tag != TagMethodHandle {
		return Handle{}, false
	}
	ref, _ := p.Entry(e.Ref1)
	owner, name, desc := p.MemberAt(e.Ref1)
	return Handle{Kind: e.Kind, Owner: owner, Name: name, Desc: desc, Interface: ref.Tag == TagInterfaceMethodref}, true
}

// ConstantAt decodes an ldc-able entry into the values Constant accepts.
func (p *Pool) ConstantAt(idx uint16) (any, bool) {
	e, ok := p.Entry(idx)
	if !ok {
		return nil, false
	}
	switch e.Tag {
	case TagInteger:
		return e.Int, true
	case TagFloat:
		return e.Float, true
	case TagLong:
		return e.Long, true
	case TagDouble:
		return e.Double, true
	case TagString:
		return p.Utf8At(e.Ref1), true
	case TagClass:
		return ClassConst(p.Utf8At(e.Ref1)), true
	case TagMethodType:
		return MethodTypeConst(p.Utf8At(e.Ref1)), true
	case TagMethodHandle:
		return p.HandleAt(idx)
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func (p *Pool) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(p.entries)))
	for _, e := range p.entries[1:] {
		if e.Tag == 0 {
			continue
		}
		b = append(b, byte(e.Tag))
		switch e.Tag {
		case TagUtf8:
			s := encodeModifiedUTF8(e.Str)
			b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
			b = append(b, s...)
		case TagInteger:
			b = binary.BigEndian.AppendUint32(b, uint32(e.Int))
		case TagFloat:
			b = binary.BigEndian.AppendUint32(b, math.Float32bits(e.Float))
		case TagLong:
			b = binary.BigEndian.AppendUint64(b, uint64(e.Long))
		case TagDouble:
			b = binary.BigEndian.AppendUint64(b, math.Float64bits(e.Double))
		case TagClass, TagString, TagMethodType:
			b = binary.BigEndian.AppendUint16(b, e.Ref1)
		case TagMethodHandle:
			b = append(b, e.Kind)
			b = binary.BigEndian.AppendUint16(b, e.Ref1)
		default:
			b = binary.BigEndian.AppendUint16(b, e.Ref1)
			b = binary.BigEndian.AppendUint16(b, e.Ref2)
		}
	}
	return b
}

// encodeModifiedUTF8 encodes s the way class files store strings: NUL as
// two bytes and supplementary characters as surrogate pairs.
func encodeModifiedUTF8(s string) []byte {
	out := make([]byte, 0, len(s))
	put := func(c uint16) {
		switch {
		case c != 0 && c < 0x80:
			out = append(out, byte(c))
		case c < 0x800:
			out = append(out, 0xc0|byte(c>>6), 0x80|byte(c&0x3f))
		default:
			out = append(out, 0xe0|byte(c>>12), 0x80|byte((c>>6)&0x3f), 0x80|byte(c&0x3f))
		}
	}
	for _, r := range s {
		if r >= 0x10000 {
			hi, lo := utf16.EncodeRune(r)
			put(uint16(hi))
			put(uint16(lo))
			continue
		}
		put(uint16(r))
	}
	return out
}

func decodeModifiedUTF8(b []byte) (string, error) {
	units := make([]uint16, 0, len(b))
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			units = append(units, uint16(c))
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) {
				return "", ErrMalformed
			}
			units = append(units, uint16(c&0x1f)<<6|uint16(b[i+1]&0x3f))
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) {
				return "", ErrMalformed
			}
			units = append(units, uint16(c&0x0f)<<12|uint16(b[i+1]&0x3f)<<6|uint16(b[i+2]&0x3f))
			i += 3
		default:
			return "", ErrMalformed
		}
	}
	return string(utf16.Decode(units)), nil
}
