package verify

import (
	"strings"

	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Instruction effects
// ---------------------------------------------------------------------------

// anyRef matches any initialized reference when popped.
var anyRef = classfile.VType{Tag: classfile.VObject}

// effect is the stack signature of an instruction that touches neither
// locals nor the constant pool. Letters: I int, J long, F float, D double,
// A reference, N null. Pops are listed bottom first.
type effect struct {
	pop, push string
}

var simple = map[classfile.Opcode]effect{
	classfile.NOP:          {},
	classfile.ACONST_NULL:  {push: "N"},
	classfile.BIPUSH:       {push: "I"},
	classfile.SIPUSH:       {push: "I"},
	classfile.LCMP:         {"JJ", "I"},
	classfile.FCMPL:        {"FF", "I"},
	classfile.FCMPG:        {"FF", "I"},
	classfile.DCMPL:        {"DD", "I"},
	classfile.DCMPG:        {"DD", "I"},
	classfile.ARRAYLENGTH:  {"A", "I"},
	classfile.MONITORENTER: {pop: "A"},
	classfile.MONITOREXIT:  {pop: "A"},
	classfile.ISHL:         {"II", "I"},
	classfile.ISHR:         {"II", "I"},
	classfile.IUSHR:        {"II", "I"},
	classfile.LSHL:         {"JI", "J"},
	classfile.LSHR:         {"JI", "J"},
	classfile.LUSHR:        {"JI", "J"},
	classfile.IAND:         {"II", "I"},
	classfile.IOR:          {"II", "I"},
	classfile.IXOR:         {"II", "I"},
	classfile.LAND:         {"JJ", "J"},
	classfile.LOR:          {"JJ", "J"},
	classfile.LXOR:         {"JJ", "J"},
	classfile.I2B:          {"I", "I"},
	classfile.I2C:          {"I", "I"},
	classfile.I2S:          {"I", "I"},
}

func init() {
	for op := classfile.ICONST_M1; op <= classfile.ICONST_5; op++ {
		simple[op] = effect{push: "I"}
	}
	simple[classfile.LCONST_0] = effect{push: "J"}
	simple[classfile.LCONST_1] = effect{push: "J"}
	simple[classfile.FCONST_0] = effect{push: "F"}
	simple[classfile.FCONST_1] = effect{push: "F"}
	simple[classfile.FCONST_2] = effect{push: "F"}
	simple[classfile.DCONST_0] = effect{push: "D"}
	simple[classfile.DCONST_1] = effect{push: "D"}

	kinds := "IJFD"
	for i := range 4 {
		t := kinds[i : i+1]
		for _, base := range []classfile.Opcode{classfile.IADD, classfile.ISUB, classfile.IMUL, classfile.IDIV, classfile.IREM} {
			simple[base+classfile.Opcode(i)] = effect{t + t, t}
		}
		simple[classfile.INEG+classfile.Opcode(i)] = effect{t, t}
	}

	// Conversions run I2L..D2F in source-major order, skipping identity.
	op := classfile.I2L
	for from := range 4 {
		for to := range 4 {
			if from == to {
				continue
			}
			simple[op] = effect{kinds[from : from+1], kinds[to : to+1]}
			op++
		}
	}

	arrays := "IJFDABCS"
	for i := range 8 {
		t := arrays[i : i+1]
		switch t {
		case "B", "C", "S":
			t = "I"
		}
		if arrays[i] != 'A' {
			simple[classfile.IALOAD+classfile.Opcode(i)] = effect{"AI", t}
		}
		simple[classfile.IASTORE+classfile.Opcode(i)] = effect{"AI" + t, ""}
	}
}

func letterType(c byte) classfile.VType {
	switch c {
	case 'I':
		return classfile.Integer
	case 'J':
		return classfile.Long
	case 'F':
		return classfile.Float
	case 'D':
		return classfile.Double
	case 'N':
		return classfile.Null
	}
	return anyRef
}

// ---------------------------------------------------------------------------
// Stack and locals
// ---------------------------------------------------------------------------

func words(ts []classfile.VType) int {
	n := 0
	for _, t := range ts {
		n++
		if t.IsWide() {
			n++
		}
	}
	return n
}

func (k *checker) push(ts ...classfile.VType) {
	k.stack = append(k.stack, ts...)
	if !k.stackShown && words(k.stack) > k.code.MaxStack {
		k.stackShown = true
		k.report(k.off, "operand stack overflow: max_stack is %d", k.code.MaxStack)
	}
}

func (k *checker) pop() (classfile.VType, bool) {
	if len(k.stack) == 0 {
		k.report(k.off, "operand stack underflow")
		return classfile.Top, false
	}
	t := k.stack[len(k.stack)-1]
	k.stack = k.stack[:len(k.stack)-1]
	return t, true
}

// popType pops a value that must match want. anyRef and object types
// accept any initialized reference.
func (k *checker) popType(want classfile.VType) classfile.VType {
	got, ok := k.pop()
	if !ok {
		return got
	}
	match := got.Tag == want.Tag
	if want.Tag == classfile.VObject {
		match = isInitializedRef(got)
	}
	if !match {
		k.report(k.off, "expected %s on the stack, found %s", describe(want), got)
	}
	return got
}

func describe(t classfile.VType) string {
	if t == anyRef {
		return "reference"
	}
	return t.String()
}

// popWords pops whole values totalling n words and returns them bottom
// first. A long or double may not be split.
func (k *checker) popWords(n int) []classfile.VType {
	var out []classfile.VType
	for w := 0; w < n; {
		t, ok := k.pop()
		if !ok {
			return out
		}
		out = append([]classfile.VType{t}, out...)
		w++
		if t.IsWide() {
			w++
		}
		if w > n {
			k.report(k.off, "%s splits a %s value", k.op(), t)
		}
	}
	return out
}

func (k *checker) popDescriptor(desc string) {
	k.popType(classfile.VTypeOf(desc))
}

func (k *checker) pushDescriptor(desc string) {
	if desc != "V" {
		k.push(classfile.VTypeOf(desc))
	}
}

func (k *checker) setLocal(slot int, t classfile.VType) {
	size := 1
	if t.IsWide() {
		size = 2
	}
	if slot+size > k.code.MaxLocals {
		k.report(k.off, "local %d exceeds max_locals %d", slot, k.code.MaxLocals)
		return
	}
	for len(k.locals) < slot+size {
		k.locals = append(k.locals, classfile.Top)
	}
	if slot > 0 && k.locals[slot-1].IsWide() {
		k.locals[slot-1] = classfile.Top
	}
	k.locals[slot] = t
	if size == 2 {
		k.locals[slot+1] = classfile.Top
	}
}

func (k *checker) op() string {
	return k.current.Op.Name()
}

// ---------------------------------------------------------------------------
// Step
// ---------------------------------------------------------------------------

var loadTypes = [...]classfile.VType{classfile.Integer, classfile.Long, classfile.Float, classfile.Double, anyRef}

func (k *checker) step(in classfile.Insn) {
	k.current = in
	op := in.Op
	if e, ok := simple[op]; ok {
		for i := len(e.pop) - 1; i >= 0; i-- {
			k.popType(letterType(e.pop[i]))
		}
		for i := range len(e.push) {
			k.push(letterType(e.push[i]))
		}
		return
	}

	switch {
	case op >= classfile.ILOAD && op <= classfile.ALOAD, op >= classfile.ILOAD_0 && op <= classfile.ALOAD_0+3:
		kind := int(op - classfile.ILOAD)
		if op >= classfile.ILOAD_0 {
			kind = int(op-classfile.ILOAD_0) / 4
		}
		slot, _ := in.Slot()
		k.load(slot, loadTypes[kind])
		return
	case op >= classfile.ISTORE && op <= classfile.ASTORE, op >= classfile.ISTORE_0 && op <= classfile.ASTORE_0+3:
		kind := int(op - classfile.ISTORE)
		if op >= classfile.ISTORE_0 {
			kind = int(op-classfile.ISTORE_0) / 4
		}
		slot, _ := in.Slot()
		k.store(slot, loadTypes[kind])
		return
	case op >= classfile.IFEQ && op <= classfile.IFLE:
		k.popType(classfile.Integer)
		k.jumpTo(in.Targets[0])
		return
	case op >= classfile.IF_ICMPEQ && op <= classfile.IF_ICMPLE:
		k.popType(classfile.Integer)
		k.popType(classfile.Integer)
		k.jumpTo(in.Targets[0])
		return
	case op >= classfile.IRETURN && op <= classfile.RETURN:
		k.ret(op)
		return
	}

	pool := k.cf.Pool
	switch op {
	case classfile.IF_ACMPEQ, classfile.IF_ACMPNE:
		k.popRef()
		k.popRef()
		k.jumpTo(in.Targets[0])
	case classfile.IFNULL, classfile.IFNONNULL:
		k.popRef()
		k.jumpTo(in.Targets[0])
	case classfile.GOTO, classfile.GOTO_W:
		k.jumpTo(in.Targets[0])
		k.unreachable()
	case classfile.TABLESWITCH, classfile.LOOKUPSWITCH:
		k.popType(classfile.Integer)
		seen := make(map[int]bool, len(in.Targets))
		for _, t := range in.Targets {
			if !seen[t] {
				seen[t] = true
				k.jumpTo(t)
			}
		}
		k.unreachable()
	case classfile.JSR, classfile.JSR_W, classfile.RET:
		k.report(k.off, "%s is not allowed in version 50+ class files", op.Name())
		k.unreachable()

	case classfile.IINC:
		if t := k.local(in.Index); t != classfile.Integer {
			k.report(k.off, "iinc on local %d of type %s", in.Index, t)
		}
	case classfile.LDC, classfile.LDC_W, classfile.LDC2_W:
		k.ldc(in)

	case classfile.POP:
		k.popWords(1)
	case classfile.POP2:
		k.popWords(2)
	case classfile.DUP:
		a := k.popWords(1)
		k.push(a...)
		k.push(a...)
	case classfile.DUP_X1, classfile.DUP_X2:
		a := k.popWords(1)
		b := k.popWords(int(op-classfile.DUP_X1) + 1)
		k.push(a...)
		k.push(b...)
		k.push(a...)
	case classfile.DUP2:
		a := k.popWords(2)
		k.push(a...)
		k.push(a...)
	case classfile.DUP2_X1, classfile.DUP2_X2:
		a := k.popWords(2)
		b := k.popWords(int(op-classfile.DUP2_X1) + 1)
		k.push(a...)
		k.push(b...)
		k.push(a...)
	case classfile.SWAP:
		a := k.popWords(1)
		b := k.popWords(1)
		k.push(a...)
		k.push(b...)

	case classfile.AALOAD:
		k.popType(classfile.Integer)
		arr := k.popType(anyRef)
		switch {
		case arr.Tag == classfile.VNull:
			k.push(classfile.Null)
		case strings.HasPrefix(arr.Class, "["):
			k.push(classfile.VTypeOf(arr.Class[1:]))
		default:
			k.report(k.off, "aaload on non-array %s", arr)
			k.push(classfile.ObjectType("java/lang/Object"))
		}

	case classfile.GETSTATIC:
		_, _, desc := pool.MemberAt(uint16(in.Index))
		k.pushDescriptor(desc)
	case classfile.PUTSTATIC:
		_, _, desc := pool.MemberAt(uint16(in.Index))
		k.popDescriptor(desc)
	case classfile.GETFIELD:
		_, _, desc := pool.MemberAt(uint16(in.Index))
		k.popType(anyRef)
		k.pushDescriptor(desc)
	case classfile.PUTFIELD:
		owner, _, desc := pool.MemberAt(uint16(in.Index))
		k.popDescriptor(desc)
		recv, ok := k.pop()
		// Fields of the class under construction may be set before super().
		if ok && !isInitializedRef(recv) && !(recv.Tag == classfile.VUninitializedThis && owner == k.cf.Name) {
			k.report(k.off, "putfield on %s", recv)
		}

	case classfile.INVOKEVIRTUAL, classfile.INVOKESPECIAL, classfile.INVOKESTATIC, classfile.INVOKEINTERFACE:
		k.invoke(in)
	case classfile.INVOKEDYNAMIC:
		e, ok := pool.Entry(uint16(in.Index))
		if !ok || e.Tag != classfile.TagInvokeDynamic {
			k.report(k.off, "invokedynamic operand %d is not a call site", in.Index)
			k.unreachable()
			return
		}
		_, desc := pool.NameAndTypeAt(e.Ref2)
		k.popParams(desc)
		k.pushDescriptor(classfile.ReturnDescriptor(desc))

	case classfile.NEW:
		k.push(classfile.UninitializedAt(in.Offset))
	case classfile.NEWARRAY:
		k.popType(classfile.Integer)
		elem, ok := primitiveArrays[in.Index]
		if !ok {
			k.report(k.off, "newarray with bad element type %d", in.Index)
		}
		k.push(classfile.ObjectType("[" + elem))
	case classfile.ANEWARRAY:
		k.popType(classfile.Integer)
		name := pool.ClassAt(uint16(in.Index))
		if strings.HasPrefix(name, "[") {
			k.push(classfile.ObjectType("[" + name))
		} else {
			k.push(classfile.ObjectType("[L" + name + ";"))
		}
	case classfile.MULTIANEWARRAY:
		for range in.Value {
			k.popType(classfile.Integer)
		}
		k.push(classfile.ObjectType(pool.ClassAt(uint16(in.Index))))
	case classfile.CHECKCAST:
		k.popType(anyRef)
		k.push(classfile.ObjectType(pool.ClassAt(uint16(in.Index))))
	case classfile.INSTANCEOF:
		k.popType(anyRef)
		k.push(classfile.Integer)
	case classfile.ATHROW:
		k.popType(anyRef)
		k.unreachable()

	default:
		k.report(k.off, "unhandled opcode %s", op.Name())
		k.unreachable()
	}
}

var primitiveArrays = map[int]string{
	classfile.T_BOOLEAN: "Z",
	classfile.T_CHAR:    "C",
	classfile.T_FLOAT:   "F",
	classfile.T_DOUBLE:  "D",
	classfile.T_BYTE:    "B",
	classfile.T_SHORT:   "S",
	classfile.T_INT:     "I",
	classfile.T_LONG:    "J",
}

func (k *checker) unreachable() {
	k.reachable = false
	k.stack = k.stack[:0]
}

func (k *checker) popRef() {
	t, ok := k.pop()
	if ok && !t.IsReference() {
		k.report(k.off, "expected reference on the stack, found %s", t)
	}
}

func (k *checker) load(slot int, want classfile.VType) {
	size := 1
	if want.IsWide() {
		size = 2
	}
	if slot+size > k.code.MaxLocals {
		k.report(k.off, "local %d exceeds max_locals %d", slot, k.code.MaxLocals)
		k.push(want)
		return
	}
	got := k.local(slot)
	if want == anyRef {
		if !got.IsReference() {
			k.report(k.off, "%s from local %d holding %s", k.op(), slot, got)
			got = anyRef
		}
		k.push(got)
		return
	}
	if got != want {
		k.report(k.off, "%s from local %d holding %s", k.op(), slot, got)
	}
	k.push(want)
}

func (k *checker) store(slot int, want classfile.VType) {
	var t classfile.VType
	if want == anyRef {
		var ok bool
		if t, ok = k.pop(); ok && !t.IsReference() {
			k.report(k.off, "%s of %s", k.op(), t)
		}
	} else {
		k.popType(want)
		t = want
	}
	k.setLocal(slot, t)
}

func (k *checker) ldc(in classfile.Insn) {
	v, ok := k.cf.Pool.ConstantAt(uint16(in.Index))
	if !ok {
		k.report(k.off, "%s operand %d is not a loadable constant", in.Op.Name(), in.Index)
		k.push(classfile.Top)
		return
	}
	var t classfile.VType
	wide := false
	switch v.(type) {
	case int32:
		t = classfile.Integer
	case float32:
		t = classfile.Float
	case int64:
		t, wide = classfile.Long, true
	case float64:
		t, wide = classfile.Double, true
	case string:
		t = classfile.ObjectType("java/lang/String")
	case classfile.ClassConst:
		t = classfile.ObjectType("java/lang/Class")
	case classfile.MethodTypeConst:
		t = classfile.ObjectType("java/lang/invoke/MethodType")
	case classfile.Handle:
		t = classfile.ObjectType("java/lang/invoke/MethodHandle")
	}
	if wide != (in.Op == classfile.LDC2_W) {
		k.report(k.off, "%s cannot load %s", in.Op.Name(), t)
	}
	k.push(t)
}

func (k *checker) popParams(desc string) {
	params := classfile.ParamDescriptors(desc)
	for i := len(params) - 1; i >= 0; i-- {
		k.popDescriptor(params[i])
	}
}

func (k *checker) invoke(in classfile.Insn) {
	owner, name, desc := k.cf.Pool.MemberAt(uint16(in.Index))
	if in.Op == classfile.INVOKEINTERFACE && in.Value != 1+classfile.ParamSlots(desc) {
		k.report(k.off, "invokeinterface count %d, descriptor needs %d", in.Value, 1+classfile.ParamSlots(desc))
	}
	k.popParams(desc)
	if in.Op != classfile.INVOKESTATIC {
		recv, ok := k.pop()
		switch {
		case !ok:
		case name == "<init>":
			if in.Op != classfile.INVOKESPECIAL {
				k.report(k.off, "%s of <init>", in.Op.Name())
			}
			k.construct(recv, owner)
		case !isInitializedRef(recv):
			k.report(k.off, "%s %s.%s on %s", in.Op.Name(), owner, name, recv)
		}
	}
	k.pushDescriptor(classfile.ReturnDescriptor(desc))
}

// construct replaces every copy of an uninitialized receiver with its
// initialized type.
func (k *checker) construct(recv classfile.VType, owner string) {
	var init classfile.VType
	switch recv.Tag {
	case classfile.VUninitializedThis:
		init = classfile.ObjectType(k.cf.Name)
	case classfile.VUninitialized:
		name, ok := k.newTypes[recv.Offset]
		if !ok {
			k.report(k.off, "uninitialized(%d) does not name a new instruction", recv.Offset)
			return
		}
		if name != owner {
			k.report(k.off, "%s.<init> called on new %s", owner, name)
		}
		init = classfile.ObjectType(name)
	default:
		k.report(k.off, "<init> called on %s", recv)
		return
	}
	for i, t := range k.stack {
		if t == recv {
			k.stack[i] = init
		}
	}
	for i, t := range k.locals {
		if t == recv {
			k.locals[i] = init
		}
	}
}

var returnOps = map[byte]classfile.Opcode{
	'Z': classfile.IRETURN, 'B': classfile.IRETURN, 'C': classfile.IRETURN,
	'S': classfile.IRETURN, 'I': classfile.IRETURN,
	'J': classfile.LRETURN, 'F': classfile.FRETURN, 'D': classfile.DRETURN,
	'L': classfile.ARETURN, '[': classfile.ARETURN, 'V': classfile.RETURN,
}

func (k *checker) ret(op classfile.Opcode) {
	want := classfile.NOP
	if k.retDesc != "" {
		want = returnOps[k.retDesc[0]]
	}
	if op != want {
		k.report(k.off, "%s in method returning %s", op.Name(), k.retDesc)
	}
	switch op {
	case classfile.RETURN:
		if k.m.Name == "<init>" && k.local(0).Tag == classfile.VUninitializedThis {
			k.report(k.off, "constructor returns before calling a super constructor")
		}
	case classfile.ARETURN:
		k.popType(anyRef)
	default:
		k.popType(loadTypes[op-classfile.IRETURN])
	}
	k.unreachable()
}
