package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Byte reader
// ---------------------------------------------------------------------------

type byteReader struct {
	b   []byte
	pos int
	err error
}

func (r *byteReader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.pos+n > len(r.b) {
		r.err = fmt.Errorf("%w: truncated at %d", ErrMalformed, r.pos)
		return false
	}
	return true
}

func (r *byteReader) u1() byte {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *byteReader) u2() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *byteReader) u4() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *byteReader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

// ---------------------------------------------------------------------------
// Parsed class files
// ---------------------------------------------------------------------------

// Attribute is an undecoded attribute.
type Attribute struct {
	Name string
	Data []byte
}

// ExceptionHandler is a decoded exception table entry. CatchType is empty
// for catch-all handlers.
type ExceptionHandler struct {
	Start, End, Handler int
	CatchType           string
}

// LineNumber maps a code offset to a source line.
type LineNumber struct {
	Offset int
	Line   int
}

// LocalVariable is a decoded LocalVariableTable entry.
type LocalVariable struct {
	Start, Length int
	Name, Desc    string
	Slot          int
}

// CodeAttribute is a decoded Code attribute.
type CodeAttribute struct {
	MaxStack  int
	MaxLocals int
	Code      []byte
	Handlers  []ExceptionHandler
	StackMap  []byte // raw StackMapTable body, nil when absent
	Lines     []LineNumber
	Locals    []LocalVariable
}

// Member is a field or method.
type Member struct {
	Access     uint16
	Name       string
	Descriptor string
	Attributes []Attribute
	Code       *CodeAttribute
}

// BootstrapMethod is a decoded BootstrapMethods entry.
type BootstrapMethod struct {
	Handle Handle
	Args   []any
}

// ClassFile is a parsed class file.
type ClassFile struct {
	Minor, Major uint16
	Pool         *Pool
	Access       uint16
	Name         string
	Super        string
	Interfaces   []string
	Fields       []Member
	Methods      []Member
	Attributes   []Attribute
	SourceFile   string
	Bootstraps   []BootstrapMethod
}

// Method returns the method with the given name and descriptor; an empty
// descriptor matches the first method of that name.
func (cf *ClassFile) Method(name, desc string) (*Member, bool) {
	for i := range cf.Methods {
		m := &cf.Methods[i]
		if m.Name == name && (desc == "" || m.Descriptor == desc) {
			return m, true
		}
	}
	return nil, false
}

// Parse decodes a class file.
func Parse(data []byte) (*ClassFile, error) {
	r := &byteReader{b: data}
	if r.u4() != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	cf := &ClassFile{Minor: r.u2(), Major: r.u2()}
	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	cf.Pool = pool
	cf.Access = r.u2()
	cf.Name = pool.ClassAt(r.u2())
	cf.Super = pool.ClassAt(r.u2())
	n := int(r.u2())
	for i := 0; i < n; i++ {
		cf.Interfaces = append(cf.Interfaces, pool.ClassAt(r.u2()))
	}
	if cf.Fields, err = readMembers(r, pool); err != nil {
		return nil, err
	}
	if cf.Methods, err = readMembers(r, pool); err != nil {
		return nil, err
	}
	cf.Attributes = readAttributes(r, pool)
	if r.err != nil {
		return nil, r.err
	}
	for _, a := range cf.Attributes {
		switch a.Name {
		case "SourceFile":
			ar := &byteReader{b: a.Data}
			cf.SourceFile = pool.Utf8At(ar.u2())
		case "BootstrapMethods":
			ar := &byteReader{b: a.Data}
			count := int(ar.u2())
			for i := 0; i < count && ar.err == nil; i++ {
				h, _ := pool.HandleAt(ar.u2())
				bm := BootstrapMethod{Handle: h}
				nargs := int(ar.u2())
				for j := 0; j < nargs; j++ {
					v, _ := pool.ConstantAt(ar.u2())
					bm.Args = append(bm.Args, v)
				}
				cf.Bootstraps = append(cf.Bootstraps, bm)
			}
			if ar.err != nil {
				return nil, ar.err
			}
		}
	}
	return cf, nil
}

func readPool(r *byteReader) (*Pool, error) {
	p := NewPool()
	count := int(r.u2())
	for len(p.entries) < count && r.err == nil {
		e := PoolEntry{Tag: Tag(r.u1())}
		switch e.Tag {
		case TagUtf8:
			s, err := decodeModifiedUTF8(r.bytes(int(r.u2())))
			if err != nil {
				return nil, err
			}
			e.Str = s
		case TagInteger:
			e.Int = int32(r.u4())
		case TagFloat:
			e.Float = math.Float32frombits(r.u4())
		case TagLong:
			e.Long = int64(uint64(r.u4())<<32 | uint64(r.u4()))
		case TagDouble:
			e.Double = math.Float64frombits(uint64(r.u4())<<32 | uint64(r.u4()))
		case TagClass, TagString, TagMethodType:
			e.Ref1 = r.u2()
		case TagMethodHandle:
			e.Kind = r.u1()
			e.Ref1 = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagInvokeDynamic:
			e.Ref1 = r.u2()
			e.Ref2 = r.u2()
		default:
			return nil, fmt.Errorf("%w: constant pool tag %d", ErrMalformed, e.Tag)
		}
		p.entries = append(p.entries, e)
		if e.Tag == TagLong || e.Tag == TagDouble {
			p.entries = append(p.entries, PoolEntry{})
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

func readAttributes(r *byteReader, p *Pool) []Attribute {
	n := int(r.u2())
	attrs := make([]Attribute, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		name := p.Utf8At(r.u2())
		data := r.bytes(int(r.u4()))
		attrs = append(attrs, Attribute{Name: name, Data: data})
	}
	return attrs
}

func readMembers(r *byteReader, p *Pool) ([]Member, error) {
	n := int(r.u2())
	members := make([]Member, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		m := Member{Access: r.u2(), Name: p.Utf8At(r.u2()), Descriptor: p.Utf8At(r.u2())}
		m.Attributes = readAttributes(r, p)
		for _, a := range m.Attributes {
			if a.Name != "Code" {
				continue
			}
			code, err := readCode(a.Data, p)
			if err != nil {
				return nil, fmt.Errorf("%s%s: %w", m.Name, m.Descriptor, err)
			}
			m.Code = code
		}
		members = append(members, m)
	}
	return members, r.err
}

func readCode(data []byte, p *Pool) (*CodeAttribute, error) {
	r := &byteReader{b: data}
	c := &CodeAttribute{MaxStack: int(r.u2()), MaxLocals: int(r.u2())}
	c.Code = r.bytes(int(r.u4()))
	n := int(r.u2())
	for i := 0; i < n; i++ {
		h := ExceptionHandler{Start: int(r.u2()), End: int(r.u2()), Handler: int(r.u2())}
		if ct := r.u2(); ct != 0 {
			h.CatchType = p.ClassAt(ct)
		}
		c.Handlers = append(c.Handlers, h)
	}
	for _, a := range readAttributes(r, p) {
		ar := &byteReader{b: a.Data}
		switch a.Name {
		case "StackMapTable":
			c.StackMap = a.Data
		case "LineNumberTable":
			count := int(ar.u2())
			for i := 0; i < count; i++ {
				c.Lines = append(c.Lines, LineNumber{Offset: int(ar.u2()), Line: int(ar.u2())})
			}
		case "LocalVariableTable":
			count := int(ar.u2())
			for i := 0; i < count; i++ {
				c.Locals = append(c.Locals, LocalVariable{
					Start:  int(ar.u2()),
					Length: int(ar.u2()),
					Name:   p.Utf8At(ar.u2()),
					Desc:   p.Utf8At(ar.u2()),
					Slot:   int(ar.u2()),
				})
			}
		}
		if ar.err != nil {
			return nil, ar.err
		}
	}
	return c, r.err
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Insn is a decoded instruction. Index holds the constant pool index,
// local slot or immediate; Value holds a second immediate (iinc delta,
// invokeinterface count, multianewarray dimensions). Targets are absolute
// offsets; for switches the default comes first.
type Insn struct {
	Offset  int
	Op      Opcode
	Index   int
	Value   int
	Targets []int
	Keys    []int32
	Len     int
	Wide    bool
}

// Decode splits a code array into instructions.
func Decode(code []byte) ([]Insn, error) {
	var out []Insn
	r := &byteReader{b: code}
	for r.pos < len(code) && r.err == nil {
		in := Insn{Offset: r.pos}
		in.Op = Opcode(r.u1())
		if !in.Op.Valid() {
			return nil, fmt.Errorf("%w: invalid opcode 0x%02x at %d", ErrMalformed, byte(in.Op), in.Offset)
		}
		switch {
		case in.Op == WIDE:
			in.Wide = true
			in.Op = Opcode(r.u1())
			in.Index = int(r.u2())
			if in.Op == IINC {
				in.Value = int(int16(r.u2()))
			}
		case in.Op == TABLESWITCH || in.Op == LOOKUPSWITCH:
			for r.pos%4 != 0 {
				r.u1()
			}
			in.Targets = append(in.Targets, in.Offset+int(int32(r.u4())))
			if in.Op == TABLESWITCH {
				low, high := int32(r.u4()), int32(r.u4())
				if high < low || int64(high)-int64(low) > int64(len(code)) {
					return nil, fmt.Errorf("%w: tableswitch bounds at %d", ErrMalformed, in.Offset)
				}
				for k := low; ; k++ {
					in.Keys = append(in.Keys, k)
					in.Targets = append(in.Targets, in.Offset+int(int32(r.u4())))
					if k == high {
						break
					}
				}
			} else {
				n := int(r.u4())
				if n > len(code) {
					return nil, fmt.Errorf("%w: lookupswitch size at %d", ErrMalformed, in.Offset)
				}
				for i := 0; i < n; i++ {
					in.Keys = append(in.Keys, int32(r.u4()))
					in.Targets = append(in.Targets, in.Offset+int(int32(r.u4())))
				}
			}
		case in.Op.IsBranch():
			in.Targets = []int{in.Offset + int(int16(r.u2()))}
		case in.Op == GOTO_W || in.Op == JSR_W:
			in.Targets = []int{in.Offset + int(int32(r.u4()))}
		case in.Op == BIPUSH:
			in.Index = int(int8(r.u1()))
		case in.Op == SIPUSH:
			in.Index = int(int16(r.u2()))
		case in.Op == IINC:
			in.Index = int(r.u1())
			in.Value = int(int8(r.u1()))
		case in.Op == INVOKEINTERFACE:
			in.Index = int(r.u2())
			in.Value = int(r.u1())
			r.u1()
		case in.Op == INVOKEDYNAMIC:
			in.Index = int(r.u2())
			r.u2()
		case in.Op == MULTIANEWARRAY:
			in.Index = int(r.u2())
			in.Value = int(r.u1())
		default:
			switch in.Op.Info().OperandBytes {
			case 1:
				in.Index = int(r.u1())
			case 2:
				in.Index = int(r.u2())
			}
		}
		in.Len = r.pos - in.Offset
		out = append(out, in)
	}
	if r.err != nil {
		return nil, r.err
	}
	return out, nil
}

// Slot returns the local slot of a load, store, ret or iinc, resolving
// the short forms.
func (in Insn) Slot() (int, bool) {
	switch {
	case in.Op >= ILOAD && in.Op <= ALOAD, in.Op >= ISTORE && in.Op <= ASTORE, in.Op == RET, in.Op == IINC:
		return in.Index, true
	case in.Op >= ILOAD_0 && in.Op <= ALOAD_0+3:
		return int(in.Op-ILOAD_0) % 4, true
	case in.Op >= ISTORE_0 && in.Op <= ASTORE_0+3:
		return int(in.Op-ISTORE_0) % 4, true
	}
	return 0, false
}
