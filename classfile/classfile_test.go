package classfile

import (
	"errors"
	"strings"
	"testing"
)

func newStatic(t *testing.T, desc string) (*ClassWriter, *Code) {
	t.Helper()
	w := NewClassWriter(Java8, AccPublic|AccSuper, "demo/Sample", "java/lang/Object")
	return w, w.Method(AccPublic|AccStatic, "run", desc)
}

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op       Opcode
		name     string
		operands int
	}{
		{NOP, "nop", 0},
		{ILOAD_0 + 3, "iload_3", 0},
		{ASTORE_0 + 1, "astore_1", 0},
		{SIPUSH, "sipush", 2},
		{IFNONNULL, "ifnonnull", 2},
		{INVOKEINTERFACE, "invokeinterface", 4},
		{TABLESWITCH, "tableswitch", -1},
	}
	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name || info.OperandBytes != tt.operands {
			t.Errorf("%d: got %+v, want %s/%d", byte(tt.op), info, tt.name, tt.operands)
		}
	}
	if Opcode(0xfe).Valid() {
		t.Error("0xfe should not be a valid opcode")
	}
	if IFEQ.Invert() != IFNE || IF_ICMPGE.Invert() != IF_ICMPLT || IFNULL.Invert() != IFNONNULL {
		t.Error("Invert pairs are wrong")
	}
}

func TestVarInsnForms(t *testing.T) {
	_, c := newStatic(t, "()V")
	c.VarInsn(ILOAD, 2)
	c.VarInsn(ASTORE, 3)
	c.VarInsn(LLOAD, 4)
	c.VarInsn(DSTORE, 300)
	c.IincInsn(1, 5)
	c.IincInsn(1, 1000)
	want := []byte{
		byte(ILOAD_0) + 2,
		byte(ASTORE_0) + 3,
		byte(LLOAD), 4,
		byte(WIDE), byte(DSTORE), 0x01, 0x2c,
		byte(IINC), 1, 5,
		byte(WIDE), byte(IINC), 0, 1, 0x03, 0xe8,
	}
	if string(c.Bytes()) != string(want) {
		t.Fatalf("bytes = % x, want % x", c.Bytes(), want)
	}
	insns, err := Decode(c.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	slots := []int{2, 3, 4, 300, 1, 1}
	for i, in := range insns {
		s, ok := in.Slot()
		if !ok || s != slots[i] {
			t.Errorf("insn %d (%s): slot %d, want %d", i, in.Op, s, slots[i])
		}
	}
	if insns[5].Value != 1000 {
		t.Errorf("wide iinc delta = %d", insns[5].Value)
	}
}

func TestForwardAndBackwardJumps(t *testing.T) {
	_, c := newStatic(t, "(I)I")
	top := c.NewLabel()
	out := c.NewLabel()
	c.Mark(top)
	c.VarInsn(ILOAD, 0)
	c.JumpInsn(IFEQ, out)
	c.IincInsn(0, -1)
	c.JumpInsn(GOTO, top)
	c.Mark(out)
	c.Insn(ICONST_0)
	c.Insn(IRETURN)
	if err := c.Err(); err != nil {
		t.Fatal(err)
	}
	insns, err := Decode(c.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if insns[1].Op != IFEQ || insns[1].Targets[0] != 10 {
		t.Errorf("ifeq target = %v, want 10", insns[1].Targets)
	}
	if insns[3].Op != GOTO || insns[3].Targets[0] != 0 {
		t.Errorf("goto target = %v, want 0", insns[3].Targets)
	}
}

func TestSwitchPadding(t *testing.T) {
	_, c := newStatic(t, "(I)I")
	a, b, d := c.NewLabel(), c.NewLabel(), c.NewLabel()
	c.VarInsn(ILOAD, 0)
	c.TableSwitchInsn(1, 2, d, []*Label{a, b})
	c.Mark(a)
	c.Insn(ICONST_1)
	c.Insn(IRETURN)
	c.Mark(b)
	c.Insn(ICONST_2)
	c.Insn(IRETURN)
	c.Mark(d)
	c.VarInsn(ILOAD, 0)
	c.LookupSwitchInsn(a, []int32{-5, 100}, []*Label{b, d})

	insns, err := Decode(c.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	ts := insns[1]
	// opcode at 1, two padding bytes, then default, low, high, two offsets
	if ts.Op != TABLESWITCH || ts.Len != 1+2+12+8 {
		t.Fatalf("tableswitch len = %d", ts.Len)
	}
	aOff, _ := a.Offset()
	bOff, _ := b.Offset()
	dOff, _ := d.Offset()
	if ts.Targets[0] != dOff || ts.Targets[1] != aOff || ts.Targets[2] != bOff {
		t.Errorf("targets = %v", ts.Targets)
	}
	ls := insns[len(insns)-1]
	if ls.Op != LOOKUPSWITCH || len(ls.Keys) != 2 || ls.Keys[0] != -5 || ls.Targets[2] != dOff {
		t.Errorf("lookupswitch = %+v", ls)
	}
}

func TestLabelErrors(t *testing.T) {
	_, c := newStatic(t, "()V")
	l := c.NewLabel()
	c.Mark(l)
	c.Mark(l)
	if !errors.Is(c.Err(), ErrLabelRedefined) {
		t.Errorf("err = %v, want ErrLabelRedefined", c.Err())
	}

	w, c := newStatic(t, "()V")
	c.JumpInsn(GOTO, c.NewLabel())
	if _, err := w.Bytes(); !errors.Is(err, ErrUnresolvedLabel) {
		t.Errorf("err = %v, want ErrUnresolvedLabel", err)
	}
}

func TestBranchOutOfRange(t *testing.T) {
	_, c := newStatic(t, "()V")
	far := c.NewLabel()
	c.JumpInsn(GOTO, far)
	for i := 0; i < 40000; i++ {
		c.Insn(NOP)
	}
	c.Mark(far)
	c.Insn(RETURN)
	if !errors.Is(c.Err(), ErrBranchOutOfRange) {
		t.Errorf("err = %v, want ErrBranchOutOfRange", c.Err())
	}
}

func TestPoolInterningAndOverflow(t *testing.T) {
	p := NewPool()
	a := p.Method("java/io/PrintStream", "println", "(I)V", false)
	b := p.Method("java/io/PrintStream", "println", "(I)V", false)
	if a != b {
		t.Errorf("methodref not interned: %d vs %d", a, b)
	}
	l := p.Long(7)
	next := p.Integer(1)
	if next != l+2 {
		t.Errorf("long should take two slots: %d then %d", l, next)
	}
	owner, name, desc := p.MemberAt(a)
	if owner != "java/io/PrintStream" || name != "println" || desc != "(I)V" {
		t.Errorf("MemberAt = %s %s %s", owner, name, desc)
	}

	for i := int32(0); i < 70000 && p.Err() == nil; i++ {
		p.Integer(i)
	}
	if !errors.Is(p.Err(), ErrPoolOverflow) {
		t.Errorf("err = %v, want ErrPoolOverflow", p.Err())
	}
}

func TestModifiedUTF8(t *testing.T) {
	for _, s := range []string{"", "plain", "nul\x00byte", "héllo", "emoji \U0001F600"} {
		enc := encodeModifiedUTF8(s)
		for _, c := range enc {
			if c == 0 {
				t.Errorf("%q: encoded form contains a zero byte", s)
			}
		}
		dec, err := decodeModifiedUTF8(enc)
		if err != nil || dec != s {
			t.Errorf("%q: decoded %q, %v", s, dec, err)
		}
	}
	if got := len(encodeModifiedUTF8("\U0001F600")); got != 6 {
		t.Errorf("supplementary char encoded in %d bytes, want 6", got)
	}
}

func TestClassRoundTrip(t *testing.T) {
	w := NewClassWriter(Java8, AccPublic|AccSuper, "demo/Hello", "java/lang/Object")
	w.SetSourceFile("Hello.java")
	w.Field(AccPublic|AccStatic|AccFinal, "ANSWER", "I", int32(42))
	c := w.Method(AccPublic|AccStatic, "main", "([Ljava/lang/String;)V")
	start := c.NewLabel()
	c.Mark(start)
	c.LineNumber(3, start)
	c.FieldInsn(GETSTATIC, "java/lang/System", "out", "Ljava/io/PrintStream;")
	c.LdcInsn("Hello World!")
	c.MethodInsn(INVOKEVIRTUAL, "java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)
	c.Insn(RETURN)
	end := c.NewLabel()
	c.Mark(end)
	c.LocalVariable("args", "[Ljava/lang/String;", start, end, 0)
	c.SetMaxs(2, 1)
	w.AbstractMethod(AccPublic|AccAbstract, "todo", "()V")

	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cf, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if cf.Name != "demo/Hello" || cf.Super != "java/lang/Object" || cf.Major != Java8 {
		t.Errorf("header = %s %s %d", cf.Name, cf.Super, cf.Major)
	}
	if cf.SourceFile != "Hello.java" {
		t.Errorf("source = %q", cf.SourceFile)
	}
	m, ok := cf.Method("main", "")
	if !ok || m.Code == nil {
		t.Fatal("main not found")
	}
	if m.Code.MaxStack != 2 || m.Code.MaxLocals != 1 {
		t.Errorf("maxs = %d/%d", m.Code.MaxStack, m.Code.MaxLocals)
	}
	if len(m.Code.Lines) != 1 || m.Code.Lines[0] != (LineNumber{Offset: 0, Line: 3}) {
		t.Errorf("lines = %+v", m.Code.Lines)
	}
	if len(m.Code.Locals) != 1 || m.Code.Locals[0].Name != "args" || m.Code.Locals[0].Length != len(m.Code.Code) {
		t.Errorf("locals = %+v", m.Code.Locals)
	}
	if abs, _ := cf.Method("todo", "()V"); abs.Code != nil {
		t.Error("abstract method has code")
	}
	text := Disassemble(cf)
	for _, want := range []string{
		`getstatic java/lang/System.out:Ljava/io/PrintStream;`,
		`ldc "Hello World!"`,
		`invokevirtual java/io/PrintStream.println:(Ljava/lang/String;)V`,
		"line 3: 0",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("disassembly missing %q:\n%s", want, text)
		}
	}
}

func TestStackMapCompression(t *testing.T) {
	w, c := newStatic(t, "(I)I")
	other := c.NewLabel()
	merge := c.NewLabel()
	wide := c.NewLabel()
	c.VarInsn(ILOAD, 0)
	c.JumpInsn(IFEQ, other)
	c.Insn(ICONST_1)
	c.Insn(IRETURN)
	c.Mark(other)
	c.Frame(other, []VType{Integer}, nil)
	c.Insn(ICONST_2)
	c.JumpInsn(GOTO, merge)
	c.Mark(merge)
	c.Frame(merge, []VType{Integer}, []VType{Integer})
	c.VarInsn(ISTORE, 0)
	c.Insn(LCONST_0)
	c.VarInsn(LSTORE, 1)
	c.JumpInsn(GOTO, wide)
	c.Mark(wide)
	c.Frame(wide, []VType{Integer, Long, Top}, nil)
	c.VarInsn(ILOAD, 0)
	c.Insn(IRETURN)
	c.SetMaxs(2, 3)

	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cf, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	m, _ := cf.Method("run", "(I)I")
	// same_frame, same_locals_1_stack_item, append(1)
	if m.Code.StackMap[2] != 6 || m.Code.StackMap[3] != 64+3 {
		t.Errorf("frame headers = % x", m.Code.StackMap)
	}
	frames, err := DecodeStackMap(cf.Pool, InitialLocals("demo/Sample", "run", "(I)I", true), m.Code.StackMap)
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames = %+v", frames)
	}
	if frames[0].Offset != 6 || len(frames[0].Stack) != 0 {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Offset != 10 || len(frames[1].Stack) != 1 || frames[1].Stack[0] != Integer {
		t.Errorf("frame 1 = %+v", frames[1])
	}
	if got := FormatTypes(frames[2].Locals); got != "[int, long, top]" {
		t.Errorf("frame 2 locals = %s", got)
	}
}

func TestInvokeDynamicBootstrapSharing(t *testing.T) {
	w, c := newStatic(t, "()V")
	bsm := Handle{Kind: RefInvokeStatic, Owner: "java/lang/invoke/StringConcatFactory", Name: "makeConcatWithConstants",
		Desc: "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;"}
	c.Insn(ICONST_1)
	c.InvokeDynamicInsn("makeConcatWithConstants", "(I)Ljava/lang/String;", bsm, "n=\u0001")
	c.Insn(POP)
	c.Insn(ICONST_2)
	c.InvokeDynamicInsn("makeConcatWithConstants", "(I)Ljava/lang/String;", bsm, "n=\u0001")
	c.Insn(POP)
	c.Insn(RETURN)
	c.SetMaxs(1, 0)
	data, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cf, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(cf.Bootstraps) != 1 {
		t.Fatalf("bootstraps = %d, want 1", len(cf.Bootstraps))
	}
	if cf.Bootstraps[0].Handle.Name != "makeConcatWithConstants" || cf.Bootstraps[0].Args[0] != "n=\u0001" {
		t.Errorf("bootstrap = %+v", cf.Bootstraps[0])
	}
}

func TestInvokeInterfaceCount(t *testing.T) {
	_, c := newStatic(t, "()V")
	c.MethodInsn(INVOKEINTERFACE, "java/util/Map", "put", "(Ljava/lang/Object;Ljava/lang/Object;)Ljava/lang/Object;", true)
	insns, err := Decode(c.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if insns[0].Value != 3 || insns[0].Len != 5 {
		t.Errorf("invokeinterface = %+v", insns[0])
	}
}

func TestDecodeOffsets(t *testing.T) {
	// iload_0; iload_1; if_icmplt +5; iload_0; ireturn; iload_1; ireturn
	code := []byte{0x1a, 0x1b, 0xa1, 0x00, 0x05, 0x1a, 0xac, 0x1b, 0xac}
	insns, err := Decode(code)
	if err != nil {
		t.Fatal(err)
	}
	wantOffsets := []int{0, 1, 2, 5, 6, 7, 8}
	if len(insns) != len(wantOffsets) {
		t.Fatalf("got %d instructions, want %d", len(insns), len(wantOffsets))
	}
	for i, in := range insns {
		if in.Offset != wantOffsets[i] {
			t.Errorf("insn %d (%s) offset = %d, want %d", i, in.Op.Name(), in.Offset, wantOffsets[i])
		}
	}
	if insns[0].Op != ILOAD_0 || insns[2].Op != IF_ICMPLT {
		t.Errorf("got ops %s, %s", insns[0].Op.Name(), insns[2].Op.Name())
	}
	if len(insns[2].Targets) != 1 || insns[2].Targets[0] != 7 {
		t.Errorf("if_icmplt targets = %v, want [7]", insns[2].Targets)
	}
	if insns[2].Len != 3 {
		t.Errorf("if_icmplt len = %d, want 3", insns[2].Len)
	}
}
