package classfile

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInsn renders one decoded instruction, resolving pool operands.
func FormatInsn(p *Pool, in Insn) string {
	name := in.Op.Name()
	if in.Wide {
		name = "wide " + name
	}
	switch {
	case in.Op == TABLESWITCH || in.Op == LOOKUPSWITCH:
		var b strings.Builder
		b.WriteString(name)
		b.WriteString(" {")
		for i, k := range in.Keys {
			fmt.Fprintf(&b, " %d: %d;", k, in.Targets[i+1])
		}
		fmt.Fprintf(&b, " default: %d }", in.Targets[0])
		return b.String()
	case len(in.Targets) == 1:
		return fmt.Sprintf("%s %d", name, in.Targets[0])
	}
	switch in.Op {
	case BIPUSH, SIPUSH:
		return fmt.Sprintf("%s %d", name, in.Index)
	case IINC:
		return fmt.Sprintf("%s %d %d", name, in.Index, in.Value)
	case NEWARRAY:
		return fmt.Sprintf("%s %s", name, arrayTypeName(in.Index))
	case LDC, LDC_W, LDC2_W:
		v, _ := p.ConstantAt(uint16(in.Index))
		return fmt.Sprintf("%s %s", name, formatConstant(v))
	case NEW, ANEWARRAY, CHECKCAST, INSTANCEOF:
		return fmt.Sprintf("%s %s", name, p.ClassAt(uint16(in.Index)))
	case MULTIANEWARRAY:
		return fmt.Sprintf("%s %s %d", name, p.ClassAt(uint16(in.Index)), in.Value)
	case GETSTATIC, PUTSTATIC, GETFIELD, PUTFIELD,
		INVOKEVIRTUAL, INVOKESPECIAL, INVOKESTATIC, INVOKEINTERFACE:
		owner, member, desc := p.MemberAt(uint16(in.Index))
		return fmt.Sprintf("%s %s.%s:%s", name, owner, member, desc)
	case INVOKEDYNAMIC:
		e, _ := p.Entry(uint16(in.Index))
		member, desc := p.NameAndTypeAt(e.Ref2)
		return fmt.Sprintf("%s #%d:%s:%s", name, e.Ref1, member, desc)
	}
	if in.Op.Info().OperandBytes > 0 || in.Wide {
		return fmt.Sprintf("%s %d", name, in.Index)
	}
	return name
}

func arrayTypeName(code int) string {
	switch code {
	case T_BOOLEAN:
		return "boolean"
	case T_CHAR:
		return "char"
	case T_FLOAT:
		return "float"
	case T_DOUBLE:
		return "double"
	case T_BYTE:
		return "byte"
	case T_SHORT:
		return "short"
	case T_INT:
		return "int"
	case T_LONG:
		return "long"
	}
	return strconv.Itoa(code)
}

func formatConstant(v any) string {
	switch c := v.(type) {
	case string:
		return strconv.Quote(c)
	case int64:
		return strconv.FormatInt(c, 10) + "L"
	case float32:
		return strconv.FormatFloat(float64(c), 'g', -1, 32) + "f"
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64) + "d"
	case ClassConst:
		return string(c) + ".class"
	case MethodTypeConst:
		return string(c)
	case Handle:
		return fmt.Sprintf("%s.%s:%s", c.Owner, c.Name, c.Desc)
	}
	return fmt.Sprint(v)
}

// FormatAccess renders access flags as Java modifiers.
func FormatAccess(flags uint16, method bool) string {
	var mods []string
	add := func(bit uint16, name string) {
		if flags&bit != 0 {
			mods = append(mods, name)
		}
	}
	add(AccPublic, "public")
	add(AccPrivate, "private")
	add(AccProtected, "protected")
	add(AccStatic, "static")
	add(AccFinal, "final")
	if method {
		add(AccSynchronized, "synchronized")
	}
	add(AccAbstract, "abstract")
	add(AccSynthetic, "synthetic")
	return strings.Join(mods, " ")
}

// Disassemble renders a parsed class in a javap-like listing.
func Disassemble(cf *ClassFile) string {
	var b strings.Builder
	kind := "class"
	if cf.Access&AccInterface != 0 {
		kind = "interface"
	}
	fmt.Fprintf(&b, "%s %s extends %s", kind, cf.Name, cf.Super)
	if len(cf.Interfaces) > 0 {
		fmt.Fprintf(&b, " implements %s", strings.Join(cf.Interfaces, ", "))
	}
	fmt.Fprintf(&b, " (version %d.%d)\n", cf.Major, cf.Minor)
	if cf.SourceFile != "" {
		fmt.Fprintf(&b, "  source %s\n", cf.SourceFile)
	}
	for _, f := range cf.Fields {
		fmt.Fprintf(&b, "  field %s %s %s\n", FormatAccess(f.Access, false), f.Name, f.Descriptor)
	}
	for i, bm := range cf.Bootstraps {
		args := make([]string, len(bm.Args))
		for j, a := range bm.Args {
			args[j] = formatConstant(a)
		}
		fmt.Fprintf(&b, "  bootstrap #%d %s.%s [%s]\n", i, bm.Handle.Owner, bm.Handle.Name, strings.Join(args, ", "))
	}
	for _, m := range cf.Methods {
		b.WriteString("\n")
		fmt.Fprintf(&b, "  %s %s%s\n", FormatAccess(m.Access, true), m.Name, m.Descriptor)
		if m.Code == nil {
			continue
		}
		disassembleCode(&b, cf, &m)
	}
	return b.String()
}

func disassembleCode(b *strings.Builder, cf *ClassFile, m *Member) {
	c := m.Code
	fmt.Fprintf(b, "    stack=%d locals=%d\n", c.MaxStack, c.MaxLocals)
	insns, err := Decode(c.Code)
	if err != nil {
		fmt.Fprintf(b, "    <%v>\n", err)
		return
	}
	for _, in := range insns {
		fmt.Fprintf(b, "    %5d: %s\n", in.Offset, FormatInsn(cf.Pool, in))
	}
	if len(c.Handlers) > 0 {
		b.WriteString("    exceptions:\n")
		for _, h := range c.Handlers {
			ct := h.CatchType
			if ct == "" {
				ct = "any"
			}
			fmt.Fprintf(b, "      %d %d %d %s\n", h.Start, h.End, h.Handler, ct)
		}
	}
	if len(c.Lines) > 0 {
		b.WriteString("    lines:\n")
		for _, l := range c.Lines {
			fmt.Fprintf(b, "      line %d: %d\n", l.Line, l.Offset)
		}
	}
	if len(c.Locals) > 0 {
		b.WriteString("    locals:\n")
		for _, l := range c.Locals {
			fmt.Fprintf(b, "      %d %s %s [%d, %d)\n", l.Slot, l.Name, l.Desc, l.Start, l.Start+l.Length)
		}
	}
	if c.StackMap != nil {
		initial := InitialLocals(cf.Name, m.Name, m.Descriptor, m.Access&AccStatic != 0)
		frames, err := DecodeStackMap(cf.Pool, initial, c.StackMap)
		if err != nil {
			fmt.Fprintf(b, "    <%v>\n", err)
			return
		}
		b.WriteString("    frames:\n")
		for _, f := range frames {
			fmt.Fprintf(b, "      %d: locals=%s stack=%s\n", f.Offset, FormatTypes(f.Locals), FormatTypes(f.Stack))
		}
	}
}
