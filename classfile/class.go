package classfile

import (
	"encoding/binary"
	"fmt"
)

// Access flags.
const (
	AccPublic       uint16 = 0x0001
	AccPrivate      uint16 = 0x0002
	AccProtected    uint16 = 0x0004
	AccStatic       uint16 = 0x0008
	AccFinal        uint16 = 0x0010
	AccSuper        uint16 = 0x0020
	AccSynchronized uint16 = 0x0020
	AccVolatile     uint16 = 0x0040
	AccBridge       uint16 = 0x0040
	AccTransient    uint16 = 0x0080
	AccVarargs      uint16 = 0x0080
	AccInterface    uint16 = 0x0200
	AccAbstract     uint16 = 0x0400
	AccSynthetic    uint16 = 0x1000
	AccEnum         uint16 = 0x4000
)

// Class file versions.
const (
	Java8  uint16 = 52
	Java9  uint16 = 53
	Java11 uint16 = 55
	Java17 uint16 = 61
)

// Magic is the class file signature.
const Magic uint32 = 0xCAFEBABE

type fieldInfo struct {
	access     uint16
	name, desc string
	constant   any
}

type methodInfo struct {
	access     uint16
	name, desc string
	code       *Code
}

type bootstrapMethod struct {
	handle uint16
	args   []uint16
}

// ClassWriter assembles a class file. Methods are written through the
// Code returned by Method; Bytes serializes everything.
type ClassWriter struct {
	pool *Pool

	major      uint16
	access     uint16
	name       string
	super      string
	interfaces []string
	sourceFile string

	fields     []fieldInfo
	methods    []*methodInfo
	bootstraps []bootstrapMethod
	bsmIndex   map[string]uint16
}

// NewClassWriter starts a class. super may be empty for java/lang/Object
// itself.
func NewClassWriter(major, access uint16, name, super string, interfaces ...string) *ClassWriter {
	return &ClassWriter{
		pool:       NewPool(),
		major:      major,
		access:     access,
		name:       name,
		super:      super,
		interfaces: interfaces,
		bsmIndex:   make(map[string]uint16),
	}
}

// Name returns the internal name of the class.
func (w *ClassWriter) Name() string { return w.name }

// IsInterface reports whether the class is an interface.
func (w *ClassWriter) IsInterface() bool { return w.access&AccInterface != 0 }

// Pool returns the class's constant pool.
func (w *ClassWriter) Pool() *Pool { return w.pool }

// SetVersion changes the major version.
func (w *ClassWriter) SetVersion(major uint16) { w.major = major }

// Version returns the major version.
func (w *ClassWriter) Version() uint16 { return w.major }

// SetSourceFile sets the SourceFile attribute.
func (w *ClassWriter) SetSourceFile(name string) { w.sourceFile = name }

// Field declares a field. constant, if non-nil, becomes a ConstantValue
// attribute (static finals only).
func (w *ClassWriter) Field(access uint16, name, desc string, constant any) {
	w.fields = append(w.fields, fieldInfo{access: access, name: name, desc: desc, constant: constant})
}

// AbstractMethod declares a method without code.
func (w *ClassWriter) AbstractMethod(access uint16, name, desc string) {
	w.methods = append(w.methods, &methodInfo{access: access, name: name, desc: desc})
}

// Method declares a method with code and returns its writer.
func (w *ClassWriter) Method(access uint16, name, desc string) *Code {
	c := &Code{class: w, pool: w.pool, owner: w.name, name: name, desc: desc, access: access}
	w.methods = append(w.methods, &methodInfo{access: access, name: name, desc: desc, code: c})
	return c
}

// Methods returns the names and descriptors of declared methods in order.
func (w *ClassWriter) Methods() [][2]string {
	out := make([][2]string, len(w.methods))
	for i, m := range w.methods {
		out[i] = [2]string{m.name, m.desc}
	}
	return out
}

func (w *ClassWriter) bootstrap(h Handle, args []any) (uint16, error) {
	bm := bootstrapMethod{handle: w.pool.MethodHandle(h)}
	key := fmt.Sprint(bm.handle)
	for _, a := range args {
		idx, _, err := w.pool.Constant(a)
		if err != nil {
			return 0, err
		}
		bm.args = append(bm.args, idx)
		key += fmt.Sprintf(",%d", idx)
	}
	if idx, ok := w.bsmIndex[key]; ok {
		return idx, nil
	}
	idx := uint16(len(w.bootstraps))
	w.bootstraps = append(w.bootstraps, bm)
	w.bsmIndex[key] = idx
	return idx, nil
}

// Bytes serializes the class. The first failing method aborts.
func (w *ClassWriter) Bytes() ([]byte, error) {
	p := w.pool
	this := p.Class(w.name)
	var super uint16
	if w.super != "" {
		super = p.Class(w.super)
	}
	ifaces := make([]uint16, len(w.interfaces))
	for i, n := range w.interfaces {
		ifaces[i] = p.Class(n)
	}

	// Member bodies intern into the pool, so serialize them before the pool.
	var body []byte
	body = binary.BigEndian.AppendUint16(body, uint16(len(w.fields)))
	for _, f := range w.fields {
		body = binary.BigEndian.AppendUint16(body, f.access)
		body = binary.BigEndian.AppendUint16(body, p.Utf8(f.name))
		body = binary.BigEndian.AppendUint16(body, p.Utf8(f.desc))
		if f.constant == nil {
			body = binary.BigEndian.AppendUint16(body, 0)
			continue
		}
		idx, _, err := p.Constant(f.constant)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.name, err)
		}
		body = binary.BigEndian.AppendUint16(body, 1)
		body = append(body, namedAttribute(p, "ConstantValue", binary.BigEndian.AppendUint16(nil, idx))...)
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(w.methods)))
	for _, m := range w.methods {
		body = binary.BigEndian.AppendUint16(body, m.access)
		body = binary.BigEndian.AppendUint16(body, p.Utf8(m.name))
		body = binary.BigEndian.AppendUint16(body, p.Utf8(m.desc))
		if m.code == nil {
			body = binary.BigEndian.AppendUint16(body, 0)
			continue
		}
		attr, err := m.code.attribute()
		if err != nil {
			return nil, err
		}
		body = binary.BigEndian.AppendUint16(body, 1)
		body = append(body, namedAttribute(p, "Code", attr)...)
	}

	var attrs [][]byte
	if w.sourceFile != "" {
		attrs = append(attrs, namedAttribute(p, "SourceFile", binary.BigEndian.AppendUint16(nil, p.Utf8(w.sourceFile))))
	}
	if len(w.bootstraps) > 0 {
		bs := binary.BigEndian.AppendUint16(nil, uint16(len(w.bootstraps)))
		for _, bm := range w.bootstraps {
			bs = binary.BigEndian.AppendUint16(bs, bm.handle)
			bs = binary.BigEndian.AppendUint16(bs, uint16(len(bm.args)))
			for _, a := range bm.args {
				bs = binary.BigEndian.AppendUint16(bs, a)
			}
		}
		attrs = append(attrs, namedAttribute(p, "BootstrapMethods", bs))
	}
	body = binary.BigEndian.AppendUint16(body, uint16(len(attrs)))
	for _, a := range attrs {
		body = append(body, a...)
	}
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", w.name, err)
	}

	out := binary.BigEndian.AppendUint32(nil, Magic)
	out = binary.BigEndian.AppendUint16(out, 0)
	out = binary.BigEndian.AppendUint16(out, w.major)
	out = p.appendTo(out)
	out = binary.BigEndian.AppendUint16(out, w.access)
	out = binary.BigEndian.AppendUint16(out, this)
	out = binary.BigEndian.AppendUint16(out, super)
	out = binary.BigEndian.AppendUint16(out, uint16(len(ifaces)))
	for _, i := range ifaces {
		out = binary.BigEndian.AppendUint16(out, i)
	}
	return append(out, body...), nil
}
