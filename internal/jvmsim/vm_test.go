package jvmsim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/classgen/classfile"
)

func load(t *testing.T, w *classfile.ClassWriter) (*VM, *bytes.Buffer) {
	t.Helper()
	data, err := w.Bytes()
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	var out bytes.Buffer
	vm := New(&out)
	if err := vm.Load(data); err != nil {
		t.Fatalf("load: %v", err)
	}
	return vm, &out
}

func newClass() *classfile.ClassWriter {
	return classfile.NewClassWriter(classfile.Java8, classfile.AccPublic|classfile.AccSuper, "demo/Sim", "java/lang/Object")
}

func TestArithmeticAndBranches(t *testing.T) {
	w := newClass()
	c := w.Method(classfile.AccPublic|classfile.AccStatic, "max", "(II)I")
	second := c.NewLabel()
	c.VarInsn(classfile.ILOAD, 0)
	c.VarInsn(classfile.ILOAD, 1)
	c.JumpInsn(classfile.IF_ICMPLT, second)
	c.VarInsn(classfile.ILOAD, 0)
	c.Insn(classfile.IRETURN)
	c.Mark(second)
	c.Frame(second, []classfile.VType{classfile.Integer, classfile.Integer}, nil)
	c.VarInsn(classfile.ILOAD, 1)
	c.Insn(classfile.IRETURN)
	c.SetMaxs(2, 2)

	c = w.Method(classfile.AccPublic|classfile.AccStatic, "mix", "(JI)J")
	c.VarInsn(classfile.LLOAD, 0)
	c.VarInsn(classfile.ILOAD, 2)
	c.Insn(classfile.I2L)
	c.Insn(classfile.LMUL)
	c.Insn(classfile.LRETURN)
	c.SetMaxs(4, 3)

	vm, _ := load(t, w)
	tests := []struct {
		a, b int32
		want int32
	}{
		{1, 2, 2},
		{5, -3, 5},
		{7, 7, 7},
	}
	for _, tt := range tests {
		got, err := vm.InvokeStatic("demo/Sim", "max", "(II)I", tt.a, tt.b)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("max(%d, %d) = %v, want %d", tt.a, tt.b, got, tt.want)
		}
	}
	got, err := vm.InvokeStatic("demo/Sim", "mix", "(JI)J", int64(1)<<40, int32(3))
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(3)<<40 {
		t.Errorf("mix = %v, want %d", got, int64(3)<<40)
	}
}

func TestPrintAndBuilder(t *testing.T) {
	w := newClass()
	c := w.Method(classfile.AccPublic|classfile.AccStatic, "main", "()V")
	c.FieldInsn(classfile.GETSTATIC, "java/lang/System", "out", "Ljava/io/PrintStream;")
	c.TypeInsn(classfile.NEW, "java/lang/StringBuilder")
	c.Insn(classfile.DUP)
	c.MethodInsn(classfile.INVOKESPECIAL, "java/lang/StringBuilder", "<init>", "()V", false)
	c.LdcInsn("x=")
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/StringBuilder", "append", "(Ljava/lang/String;)Ljava/lang/StringBuilder;", false)
	c.IntInsn(classfile.BIPUSH, 42)
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/StringBuilder", "append", "(I)Ljava/lang/StringBuilder;", false)
	c.Insn(classfile.ICONST_1)
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/StringBuilder", "append", "(Z)Ljava/lang/StringBuilder;", false)
	c.LdcInsn(2.5)
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/StringBuilder", "append", "(D)Ljava/lang/StringBuilder;", false)
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/lang/StringBuilder", "toString", "()Ljava/lang/String;", false)
	c.MethodInsn(classfile.INVOKEVIRTUAL, "java/io/PrintStream", "println", "(Ljava/lang/String;)V", false)
	c.Insn(classfile.RETURN)
	c.SetMaxs(3, 0)

	vm, out := load(t, w)
	if _, err := vm.InvokeStatic("demo/Sim", "main", "()V"); err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "x=42true2.5\n"; got != want {
		t.Errorf("got = %q, want %q", got, want)
	}
}

func TestExceptionCaught(t *testing.T) {
	w := newClass()
	c := w.Method(classfile.AccPublic|classfile.AccStatic, "safeDiv", "(II)I")
	start, end, handler := c.NewLabel(), c.NewLabel(), c.NewLabel()
	c.Mark(start)
	c.VarInsn(classfile.ILOAD, 0)
	c.VarInsn(classfile.ILOAD, 1)
	c.Insn(classfile.IDIV)
	c.Insn(classfile.IRETURN)
	c.Mark(end)
	c.Mark(handler)
	c.Frame(handler, []classfile.VType{classfile.Integer, classfile.Integer}, []classfile.VType{classfile.ObjectType("java/lang/ArithmeticException")})
	c.Insn(classfile.POP)
	c.Insn(classfile.ICONST_M1)
	c.Insn(classfile.IRETURN)
	c.TryCatch(start, end, handler, "java/lang/ArithmeticException")
	c.SetMaxs(2, 2)

	vm, _ := load(t, w)
	got, err := vm.InvokeStatic("demo/Sim", "safeDiv", "(II)I", int32(7), int32(0))
	if err != nil {
		t.Fatal(err)
	}
	if got != int32(-1) {
		t.Errorf("safeDiv(7, 0) = %v, want -1", got)
	}
	got, _ = vm.InvokeStatic("demo/Sim", "safeDiv", "(II)I", int32(7), int32(2))
	if got != int32(3) {
		t.Errorf("safeDiv(7, 2) = %v, want 3", got)
	}
}

func TestUncaughtException(t *testing.T) {
	w := newClass()
	c := w.Method(classfile.AccPublic|classfile.AccStatic, "fail", "()V")
	c.TypeInsn(classfile.NEW, "java/lang/IllegalStateException")
	c.Insn(classfile.DUP)
	c.LdcInsn("boom")
	c.MethodInsn(classfile.INVOKESPECIAL, "java/lang/IllegalStateException", "<init>", "(Ljava/lang/String;)V", false)
	c.Insn(classfile.ATHROW)
	c.SetMaxs(3, 0)

	vm, _ := load(t, w)
	_, err := vm.InvokeStatic("demo/Sim", "fail", "()V")
	var thrown *Thrown
	if !errors.As(err, &thrown) {
		t.Fatalf("got %v, want a thrown exception", err)
	}
	if thrown.Exception.Class != "java/lang/IllegalStateException" || thrown.Exception.Fields["message"] != "boom" {
		t.Errorf("got %s %v", thrown.Exception.Class, thrown.Exception.Fields)
	}
}

func TestStepLimit(t *testing.T) {
	w := newClass()
	c := w.Method(classfile.AccPublic|classfile.AccStatic, "spin", "()V")
	top := c.NewLabel()
	c.Mark(top)
	c.Frame(top, nil, nil)
	c.JumpInsn(classfile.GOTO, top)
	c.SetMaxs(0, 0)

	vm, _ := load(t, w)
	vm.MaxSteps = 100
	if _, err := vm.InvokeStatic("demo/Sim", "spin", "()V"); !errors.Is(err, ErrStepLimit) {
		t.Errorf("got %v, want ErrStepLimit", err)
	}
}

func TestStaticsAndInstances(t *testing.T) {
	w := newClass()
	w.Field(classfile.AccStatic, "count", "I", nil)
	w.Field(0, "name", "Ljava/lang/String;", nil)

	c := w.Method(classfile.AccPublic, "<init>", "(Ljava/lang/String;)V")
	c.VarInsn(classfile.ALOAD, 0)
	c.MethodInsn(classfile.INVOKESPECIAL, "java/lang/Object", "<init>", "()V", false)
	c.VarInsn(classfile.ALOAD, 0)
	c.VarInsn(classfile.ALOAD, 1)
	c.FieldInsn(classfile.PUTFIELD, "demo/Sim", "name", "Ljava/lang/String;")
	c.FieldInsn(classfile.GETSTATIC, "demo/Sim", "count", "I")
	c.Insn(classfile.ICONST_1)
	c.Insn(classfile.IADD)
	c.FieldInsn(classfile.PUTSTATIC, "demo/Sim", "count", "I")
	c.Insn(classfile.RETURN)
	c.SetMaxs(2, 2)

	c = w.Method(classfile.AccPublic, "toString", "()Ljava/lang/String;")
	c.VarInsn(classfile.ALOAD, 0)
	c.FieldInsn(classfile.GETFIELD, "demo/Sim", "name", "Ljava/lang/String;")
	c.Insn(classfile.ARETURN)
	c.SetMaxs(1, 1)

	vm, _ := load(t, w)
	for _, name := range []string{"a", "b"} {
		obj, err := vm.NewInstance("demo/Sim", "(Ljava/lang/String;)V", name)
		if err != nil {
			t.Fatal(err)
		}
		s, err := vm.InvokeVirtual(obj, "toString", "()Ljava/lang/String;")
		if err != nil {
			t.Fatal(err)
		}
		if s != name {
			t.Errorf("toString = %v, want %s", s, name)
		}
	}
	if n, _ := vm.Static("demo/Sim", "count"); n != int32(2) {
		t.Errorf("count = %v, want 2", n)
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1.0"},
		{2.5, "2.5"},
		{-0.125, "-0.125"},
		{1e7, "1.0E7"},
		{1.5e-5, "1.5E-5"},
		{-2.5e-10, "-2.5E-10"},
		{1.25e100, "1.25E100"},
		{0, "0.0"},
	}
	for _, tt := range tests {
		if got := formatDouble(tt.in, 64); got != tt.want {
			t.Errorf("formatDouble(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashString(t *testing.T) {
	if got := hashString("hello"); got != 99162322 {
		t.Errorf("got = %d, want 99162322", got)
	}
	if got := hashString(""); got != 0 {
		t.Errorf("got = %d, want 0", got)
	}
}
