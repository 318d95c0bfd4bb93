package jvmsim

import (
	"errors"
	"fmt"
	"math"

	"github.com/chazu/classgen/classfile"
)

const maxDepth = 512

// ---------------------------------------------------------------------------
// Frame: Execution state for one method invocation
// ---------------------------------------------------------------------------

type frame struct {
	owner  string
	class  *class
	method *classfile.Member
	code   *decoded
	locals []Value
	stack  []Value
	pc     int // index into code.insns
}

func (f *frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *frame) pop() Value {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func (f *frame) popN(n int) []Value {
	out := append([]Value(nil), f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return out
}

func (f *frame) popInt() int32      { return f.pop().(int32) }
func (f *frame) popLong() int64     { return f.pop().(int64) }
func (f *frame) popFloat() float32  { return f.pop().(float32) }
func (f *frame) popDouble() float64 { return f.pop().(float64) }

func (f *frame) jump(target int) {
	f.pc = f.code.index[target]
}

func (vm *VM) decode(c *class, m *classfile.Member) (*decoded, error) {
	if d, ok := c.insns[m]; ok {
		return d, nil
	}
	insns, err := classfile.Decode(m.Code.Code)
	if err != nil {
		return nil, err
	}
	d := &decoded{insns: insns, index: make(map[int]int, len(insns))}
	for i, in := range insns {
		d.index[in.Offset] = i
	}
	c.insns[m] = d
	return d, nil
}

// call runs a method with its receiver (if any) first in args.
func (vm *VM) call(owner string, m *classfile.Member, args []Value) (Value, error) {
	c := vm.classes[owner]
	if m.Code == nil {
		return nil, fmt.Errorf("%w: %s.%s%s has no code", ErrNoSuchMethod, owner, m.Name, m.Descriptor)
	}
	d, err := vm.decode(c, m)
	if err != nil {
		return nil, err
	}
	vm.depth++
	defer func() { vm.depth-- }()
	if vm.depth > maxDepth {
		return nil, throw("java/lang/StackOverflowError", "")
	}

	f := &frame{owner: owner, class: c, method: m, code: d, locals: make([]Value, m.Code.MaxLocals+1)}
	slot := 0
	for _, a := range args {
		if slot >= len(f.locals) {
			f.locals = append(f.locals, nil, nil)
		}
		f.locals[slot] = a
		slot++
		if isWide(a) {
			slot++
		}
	}
	return vm.run(f)
}

func (vm *VM) run(f *frame) (Value, error) {
	for {
		if f.pc >= len(f.code.insns) {
			return nil, fmt.Errorf("%s.%s%s: execution fell off the end of the code", f.owner, f.method.Name, f.method.Descriptor)
		}
		in := f.code.insns[f.pc]
		f.pc++
		vm.steps++
		if vm.MaxSteps > 0 && vm.steps > vm.MaxSteps {
			return nil, ErrStepLimit
		}

		result, done, err := vm.exec(f, in)
		if err != nil {
			var t *Thrown
			if !errors.As(err, &t) {
				return nil, err
			}
			handler, ok := vm.handlerFor(f, in.Offset, t.Exception)
			if !ok {
				return nil, err
			}
			f.stack = append(f.stack[:0], t.Exception)
			f.jump(handler)
			continue
		}
		if done {
			return result, nil
		}
	}
}

func (vm *VM) handlerFor(f *frame, offset int, exc *Object) (int, bool) {
	for _, h := range f.method.Code.Handlers {
		if offset < h.Start || offset >= h.End {
			continue
		}
		if h.CatchType == "" || vm.isSubclass(exc.Class, h.CatchType) {
			return h.Handler, true
		}
	}
	return 0, false
}

func npe(what string) error {
	return throw("java/lang/NullPointerException", what)
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

func (vm *VM) exec(f *frame, in classfile.Insn) (Value, bool, error) {
	op := in.Op
	pool := f.class.file.Pool

	switch {
	// --- Local variables ---
	case op >= classfile.ILOAD && op <= classfile.ALOAD, op >= classfile.ILOAD_0 && op <= classfile.ALOAD_0+3:
		slot, _ := in.Slot()
		f.push(f.locals[slot])
		return nil, false, nil
	case op >= classfile.ISTORE && op <= classfile.ASTORE, op >= classfile.ISTORE_0 && op <= classfile.ASTORE_0+3:
		slot, _ := in.Slot()
		f.locals[slot] = f.pop()
		return nil, false, nil

	// --- Arithmetic ---
	case op >= classfile.IADD && op <= classfile.DREM:
		err := vm.arith(f, int(op-classfile.IADD)/4, int(op-classfile.IADD)%4)
		return nil, false, err
	case op >= classfile.IF_ICMPEQ && op <= classfile.IF_ICMPLE:
		b, a := f.popInt(), f.popInt()
		if compare(int(op-classfile.IF_ICMPEQ), cmp3(a, b)) {
			f.jump(in.Targets[0])
		}
		return nil, false, nil
	case op >= classfile.IFEQ && op <= classfile.IFLE:
		if compare(int(op-classfile.IFEQ), cmp3(f.popInt(), 0)) {
			f.jump(in.Targets[0])
		}
		return nil, false, nil
	case op >= classfile.ICONST_M1 && op <= classfile.ICONST_5:
		f.push(int32(op) - int32(classfile.ICONST_0))
		return nil, false, nil
	case op >= classfile.IRETURN && op <= classfile.ARETURN:
		return f.pop(), true, nil
	}

	switch op {
	case classfile.NOP:
	case classfile.ACONST_NULL:
		f.push(nil)
	case classfile.LCONST_0, classfile.LCONST_1:
		f.push(int64(op - classfile.LCONST_0))
	case classfile.FCONST_0, classfile.FCONST_1, classfile.FCONST_2:
		f.push(float32(op - classfile.FCONST_0))
	case classfile.DCONST_0, classfile.DCONST_1:
		f.push(float64(op - classfile.DCONST_0))
	case classfile.BIPUSH, classfile.SIPUSH:
		f.push(int32(in.Index))
	case classfile.LDC, classfile.LDC_W, classfile.LDC2_W:
		v, _ := pool.ConstantAt(uint16(in.Index))
		if c, ok := v.(classfile.ClassConst); ok {
			v = &ClassRef{Name: string(c)}
		}
		f.push(v)

	// --- Arrays ---
	case classfile.IALOAD, classfile.LALOAD, classfile.FALOAD, classfile.DALOAD,
		classfile.AALOAD, classfile.BALOAD, classfile.CALOAD, classfile.SALOAD:
		i := f.popInt()
		arr, err := arrayAt(f.pop(), i)
		if err != nil {
			return nil, false, err
		}
		f.push(arr.Data[i])
	case classfile.IASTORE, classfile.LASTORE, classfile.FASTORE, classfile.DASTORE,
		classfile.AASTORE, classfile.BASTORE, classfile.CASTORE, classfile.SASTORE:
		v := f.pop()
		i := f.popInt()
		arr, err := arrayAt(f.pop(), i)
		if err != nil {
			return nil, false, err
		}
		switch arr.Elem {
		case "B":
			v = int32(int8(v.(int32)))
		case "C":
			v = int32(uint16(v.(int32)))
		case "S":
			v = int32(int16(v.(int32)))
		case "Z":
			v = v.(int32) & 1
		}
		arr.Data[i] = v
	case classfile.ARRAYLENGTH:
		arr, ok := f.pop().(*Array)
		if !ok || arr == nil {
			return nil, false, npe("arraylength")
		}
		f.push(int32(len(arr.Data)))
	case classfile.NEWARRAY:
		n := f.popInt()
		if n < 0 {
			return nil, false, throw("java/lang/NegativeArraySizeException", fmt.Sprint(n))
		}
		f.push(newArray(newArrayElem[in.Index], int(n)))
	case classfile.ANEWARRAY:
		n := f.popInt()
		if n < 0 {
			return nil, false, throw("java/lang/NegativeArraySizeException", fmt.Sprint(n))
		}
		name := pool.ClassAt(uint16(in.Index))
		elem := "L" + name + ";"
		if name[0] == '[' {
			elem = name
		}
		f.push(newArray(elem, int(n)))
	case classfile.MULTIANEWARRAY:
		dims := f.popN(in.Value)
		f.push(multiArray(pool.ClassAt(uint16(in.Index))[1:], dims))

	// --- Stack ---
	case classfile.POP:
		f.pop()
	case classfile.POP2:
		if v := f.pop(); !isWide(v) {
			f.pop()
		}
	case classfile.DUP:
		v := f.pop()
		f.push(v)
		f.push(v)
	case classfile.DUP_X1:
		v1, v2 := f.pop(), f.pop()
		f.stack = append(f.stack, v1, v2, v1)
	case classfile.DUP_X2:
		v1, v2 := f.pop(), f.pop()
		if isWide(v2) {
			f.stack = append(f.stack, v1, v2, v1)
		} else {
			v3 := f.pop()
			f.stack = append(f.stack, v1, v3, v2, v1)
		}
	case classfile.DUP2:
		v1 := f.pop()
		if isWide(v1) {
			f.stack = append(f.stack, v1, v1)
		} else {
			v2 := f.pop()
			f.stack = append(f.stack, v2, v1, v2, v1)
		}
	case classfile.DUP2_X1:
		v1, v2 := f.pop(), f.pop()
		if isWide(v1) {
			f.stack = append(f.stack, v1, v2, v1)
		} else {
			v3 := f.pop()
			f.stack = append(f.stack, v2, v1, v3, v2, v1)
		}
	case classfile.DUP2_X2:
		v1, v2 := f.pop(), f.pop()
		switch {
		case isWide(v1) && isWide(v2):
			f.stack = append(f.stack, v1, v2, v1)
		case isWide(v1):
			v3 := f.pop()
			f.stack = append(f.stack, v1, v3, v2, v1)
		default:
			v3 := f.pop()
			if isWide(v3) {
				f.stack = append(f.stack, v2, v1, v3, v2, v1)
			} else {
				v4 := f.pop()
				f.stack = append(f.stack, v2, v1, v4, v3, v2, v1)
			}
		}
	case classfile.SWAP:
		v1, v2 := f.pop(), f.pop()
		f.stack = append(f.stack, v1, v2)

	// --- Negation, shifts and bitwise ---
	case classfile.INEG:
		f.push(-f.popInt())
	case classfile.LNEG:
		f.push(-f.popLong())
	case classfile.FNEG:
		f.push(-f.popFloat())
	case classfile.DNEG:
		f.push(-f.popDouble())
	case classfile.ISHL, classfile.ISHR, classfile.IUSHR:
		s := uint(f.popInt() & 31)
		a := f.popInt()
		switch op {
		case classfile.ISHL:
			f.push(a << s)
		case classfile.ISHR:
			f.push(a >> s)
		default:
			f.push(int32(uint32(a) >> s))
		}
	case classfile.LSHL, classfile.LSHR, classfile.LUSHR:
		s := uint(f.popInt() & 63)
		a := f.popLong()
		switch op {
		case classfile.LSHL:
			f.push(a << s)
		case classfile.LSHR:
			f.push(a >> s)
		default:
			f.push(int64(uint64(a) >> s))
		}
	case classfile.IAND:
		f.push(f.popInt() & f.popInt())
	case classfile.IOR:
		f.push(f.popInt() | f.popInt())
	case classfile.IXOR:
		f.push(f.popInt() ^ f.popInt())
	case classfile.LAND:
		f.push(f.popLong() & f.popLong())
	case classfile.LOR:
		f.push(f.popLong() | f.popLong())
	case classfile.LXOR:
		f.push(f.popLong() ^ f.popLong())
	case classfile.IINC:
		f.locals[in.Index] = f.locals[in.Index].(int32) + int32(in.Value)

	// --- Conversions ---
	case classfile.I2L:
		f.push(int64(f.popInt()))
	case classfile.I2F:
		f.push(float32(f.popInt()))
	case classfile.I2D:
		f.push(float64(f.popInt()))
	case classfile.L2I:
		f.push(int32(f.popLong()))
	case classfile.L2F:
		f.push(float32(f.popLong()))
	case classfile.L2D:
		f.push(float64(f.popLong()))
	case classfile.F2I:
		f.push(toInt32(float64(f.popFloat())))
	case classfile.F2L:
		f.push(toInt64(float64(f.popFloat())))
	case classfile.F2D:
		f.push(float64(f.popFloat()))
	case classfile.D2I:
		f.push(toInt32(f.popDouble()))
	case classfile.D2L:
		f.push(toInt64(f.popDouble()))
	case classfile.D2F:
		f.push(float32(f.popDouble()))
	case classfile.I2B:
		f.push(int32(int8(f.popInt())))
	case classfile.I2C:
		f.push(int32(uint16(f.popInt())))
	case classfile.I2S:
		f.push(int32(int16(f.popInt())))

	// --- Comparisons ---
	case classfile.LCMP:
		b, a := f.popLong(), f.popLong()
		f.push(int32(cmp3(a, b)))
	case classfile.FCMPL, classfile.FCMPG:
		b, a := f.popFloat(), f.popFloat()
		f.push(fcmp(float64(a), float64(b), op == classfile.FCMPG))
	case classfile.DCMPL, classfile.DCMPG:
		b, a := f.popDouble(), f.popDouble()
		f.push(fcmp(a, b, op == classfile.DCMPG))
	case classfile.IF_ACMPEQ, classfile.IF_ACMPNE:
		b, a := f.pop(), f.pop()
		if (a == b) == (op == classfile.IF_ACMPEQ) {
			f.jump(in.Targets[0])
		}
	case classfile.IFNULL, classfile.IFNONNULL:
		if (f.pop() == nil) == (op == classfile.IFNULL) {
			f.jump(in.Targets[0])
		}

	// --- Control ---
	case classfile.GOTO, classfile.GOTO_W:
		f.jump(in.Targets[0])
	case classfile.TABLESWITCH, classfile.LOOKUPSWITCH:
		key := f.popInt()
		target := in.Targets[0]
		for i, k := range in.Keys {
			if k == key {
				target = in.Targets[i+1]
				break
			}
		}
		f.jump(target)
	case classfile.RETURN:
		return nil, true, nil
	case classfile.ATHROW:
		exc, ok := f.pop().(*Object)
		if !ok || exc == nil {
			return nil, false, npe("throw null")
		}
		return nil, false, &Thrown{Exception: exc}
	case classfile.MONITORENTER, classfile.MONITOREXIT:
		if f.pop() == nil {
			return nil, false, npe(op.Name())
		}

	// --- Fields ---
	case classfile.GETSTATIC:
		owner, name, _ := pool.MemberAt(uint16(in.Index))
		if err := vm.initialize(owner); err != nil {
			return nil, false, err
		}
		v, err := vm.getStatic(owner, name)
		if err != nil {
			return nil, false, err
		}
		f.push(v)
	case classfile.PUTSTATIC:
		owner, name, _ := pool.MemberAt(uint16(in.Index))
		if err := vm.initialize(owner); err != nil {
			return nil, false, err
		}
		if err := vm.putStatic(owner, name, f.pop()); err != nil {
			return nil, false, err
		}
	case classfile.GETFIELD:
		_, name, _ := pool.MemberAt(uint16(in.Index))
		obj, ok := f.pop().(*Object)
		if !ok || obj == nil {
			return nil, false, npe("getfield " + name)
		}
		f.push(obj.Fields[name])
	case classfile.PUTFIELD:
		_, name, _ := pool.MemberAt(uint16(in.Index))
		v := f.pop()
		obj, ok := f.pop().(*Object)
		if !ok || obj == nil {
			return nil, false, npe("putfield " + name)
		}
		obj.Fields[name] = v

	// --- Objects ---
	case classfile.NEW:
		obj, err := vm.allocate(pool.ClassAt(uint16(in.Index)))
		if err != nil {
			return nil, false, err
		}
		f.push(obj)
	case classfile.CHECKCAST:
		name := pool.ClassAt(uint16(in.Index))
		if v := f.stack[len(f.stack)-1]; v != nil && !vm.instanceOf(v, name) {
			return nil, false, throw("java/lang/ClassCastException", fmt.Sprintf("%T cannot be cast to %s", v, name))
		}
	case classfile.INSTANCEOF:
		name := pool.ClassAt(uint16(in.Index))
		f.push(boolInt(vm.instanceOf(f.pop(), name)))

	// --- Invocation ---
	case classfile.INVOKEVIRTUAL, classfile.INVOKEINTERFACE, classfile.INVOKESPECIAL, classfile.INVOKESTATIC:
		owner, name, desc := pool.MemberAt(uint16(in.Index))
		n := len(classfile.ParamDescriptors(desc))
		if op != classfile.INVOKESTATIC {
			n++
		}
		args := f.popN(n)
		var (
			r   Value
			err error
		)
		switch op {
		case classfile.INVOKESTATIC:
			r, err = vm.invokeStatic(owner, name, desc, args)
		case classfile.INVOKESPECIAL:
			r, err = vm.invokeSpecial(owner, name, desc, args)
		default:
			r, err = vm.invokeVirtual(owner, name, desc, args)
		}
		if err != nil {
			return nil, false, err
		}
		if classfile.ReturnDescriptor(desc) != "V" {
			f.push(r)
		}
	case classfile.INVOKEDYNAMIC:
		r, err := vm.invokeDynamic(f, in.Index)
		if err != nil {
			return nil, false, err
		}
		f.push(r)

	default:
		return nil, false, fmt.Errorf("%w: opcode %s", ErrUnsupported, op.Name())
	}
	return nil, false, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (vm *VM) arith(f *frame, kind, typ int) error {
	switch typ {
	case 0:
		b, a := f.popInt(), f.popInt()
		if kind >= 3 && b == 0 {
			return throw("java/lang/ArithmeticException", "/ by zero")
		}
		f.push([...]func() int32{
			func() int32 { return a + b },
			func() int32 { return a - b },
			func() int32 { return a * b },
			func() int32 { return a / b },
			func() int32 { return a % b },
		}[kind]())
	case 1:
		b, a := f.popLong(), f.popLong()
		if kind >= 3 && b == 0 {
			return throw("java/lang/ArithmeticException", "/ by zero")
		}
		f.push([...]func() int64{
			func() int64 { return a + b },
			func() int64 { return a - b },
			func() int64 { return a * b },
			func() int64 { return a / b },
			func() int64 { return a % b },
		}[kind]())
	case 2:
		b, a := f.popFloat(), f.popFloat()
		f.push(float32(floatArith(kind, float64(a), float64(b))))
	case 3:
		b, a := f.popDouble(), f.popDouble()
		f.push(floatArith(kind, a, b))
	}
	return nil
}

func floatArith(kind int, a, b float64) float64 {
	switch kind {
	case 0:
		return a + b
	case 1:
		return a - b
	case 2:
		return a * b
	case 3:
		return a / b
	}
	return math.Mod(a, b)
}

func cmp3[T int32 | int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compare evaluates a branch condition in IFEQ order (eq, ne, lt, ge,
// gt, le) against a three-way comparison result.
func compare(cond, c int) bool {
	switch cond {
	case 0:
		return c == 0
	case 1:
		return c != 0
	case 2:
		return c < 0
	case 3:
		return c >= 0
	case 4:
		return c > 0
	}
	return c <= 0
}

func fcmp(a, b float64, nanIsGreater bool) int32 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		if nanIsGreater {
			return 1
		}
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func toInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func boolInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

var newArrayElem = map[int]string{
	classfile.T_BOOLEAN: "Z",
	classfile.T_CHAR:    "C",
	classfile.T_FLOAT:   "F",
	classfile.T_DOUBLE:  "D",
	classfile.T_BYTE:    "B",
	classfile.T_SHORT:   "S",
	classfile.T_INT:     "I",
	classfile.T_LONG:    "J",
}

func newArray(elem string, n int) *Array {
	a := &Array{Elem: elem, Data: make([]Value, n)}
	z := zero(elem)
	for i := range a.Data {
		a.Data[i] = z
	}
	return a
}

func multiArray(elem string, dims []Value) *Array {
	a := newArray(elem, int(dims[0].(int32)))
	if len(dims) > 1 {
		for i := range a.Data {
			a.Data[i] = multiArray(elem[1:], dims[1:])
		}
	}
	return a
}

func arrayAt(v Value, i int32) (*Array, error) {
	arr, ok := v.(*Array)
	if !ok || arr == nil {
		return nil, npe("array access")
	}
	if i < 0 || int(i) >= len(arr.Data) {
		return nil, throw("java/lang/ArrayIndexOutOfBoundsException", fmt.Sprintf("Index %d out of bounds for length %d", i, len(arr.Data)))
	}
	return arr, nil
}
