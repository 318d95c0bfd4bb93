package ast

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Type is a resolved JVM type, identified by its field descriptor
// ("I", "Ljava/lang/String;", "[J"). The zero Type is invalid.
type Type struct {
	desc string
}

// Primitive and well-known types.
var (
	Void    = Type{"V"}
	Boolean = Type{"Z"}
	Byte    = Type{"B"}
	Char    = Type{"C"}
	Short   = Type{"S"}
	Int     = Type{"I"}
	Long    = Type{"J"}
	Float   = Type{"F"}
	Double  = Type{"D"}

	Object      = ClassType("java.lang.Object")
	String      = ClassType("java.lang.String")
	Class       = ClassType("java.lang.Class")
	Throwable   = ClassType("java.lang.Throwable")
	Enum        = ClassType("java.lang.Enum")
	Iterable    = ClassType("java.lang.Iterable")
	Iterator    = ClassType("java.util.Iterator")
	PrintStream = ClassType("java.io.PrintStream")
	System      = ClassType("java.lang.System")
)

// ClassType returns the type for a dotted or slashed class name.
func ClassType(name string) Type {
	return Type{"L" + strings.ReplaceAll(name, ".", "/") + ";"}
}

// ArrayOf returns the array type with the given element type.
func ArrayOf(elem Type) Type {
	return Type{"[" + elem.desc}
}

// TypeFromDescriptor wraps an existing field descriptor.
func TypeFromDescriptor(desc string) Type {
	return Type{desc}
}

// Descriptor returns the field descriptor.
func (t Type) Descriptor() string { return t.desc }

// String implements the Stringer interface.
func (t Type) String() string {
	switch t.desc {
	case "V":
		return "void"
	case "Z":
		return "boolean"
	case "B":
		return "byte"
	case "C":
		return "char"
	case "S":
		return "short"
	case "I":
		return "int"
	case "J":
		return "long"
	case "F":
		return "float"
	case "D":
		return "double"
	}
	if t.IsArray() {
		return t.Elem().String() + "[]"
	}
	return t.ClassName()
}

// IsValid reports whether t was built by one of the constructors.
func (t Type) IsValid() bool { return t.desc != "" }

// IsVoid reports whether t is void.
func (t Type) IsVoid() bool { return t.desc == "V" }

// IsPrimitive reports whether t is a primitive (non-void) type.
func (t Type) IsPrimitive() bool {
	return len(t.desc) == 1 && t.desc != "V"
}

// IsReference reports whether t is a class or array type.
func (t Type) IsReference() bool {
	return len(t.desc) > 1
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return strings.HasPrefix(t.desc, "[")
}

// IsWide reports whether t occupies two slots (long, double).
func (t Type) IsWide() bool {
	return t.desc == "J" || t.desc == "D"
}

// IsIntLike reports whether values of t are int on the operand stack.
func (t Type) IsIntLike() bool {
	switch t.desc {
	case "Z", "B", "C", "S", "I":
		return true
	}
	return false
}

// Size returns the number of local/stack slots a value of t occupies.
func (t Type) Size() int {
	switch {
	case t.desc == "V":
		return 0
	case t.IsWide():
		return 2
	}
	return 1
}

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	if !t.IsArray() {
		return Type{}
	}
	return Type{t.desc[1:]}
}

// InternalName returns the slashed class name used in class files. For
// arrays the descriptor itself is the internal name.
func (t Type) InternalName() string {
	if t.IsArray() {
		return t.desc
	}
	if strings.HasPrefix(t.desc, "L") {
		return t.desc[1 : len(t.desc)-1]
	}
	return t.desc
}

// ClassName returns the dotted class name.
func (t Type) ClassName() string {
	return strings.ReplaceAll(t.InternalName(), "/", ".")
}

// SimpleName returns the class name without package.
func (t Type) SimpleName() string {
	n := t.ClassName()
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		return n[i+1:]
	}
	return n
}

// Is reports descriptor equality.
func (t Type) Is(o Type) bool { return t.desc == o.desc }

var boxes = map[string]Type{
	"Z": ClassType("java.lang.Boolean"),
	"B": ClassType("java.lang.Byte"),
	"C": ClassType("java.lang.Character"),
	"S": ClassType("java.lang.Short"),
	"I": ClassType("java.lang.Integer"),
	"J": ClassType("java.lang.Long"),
	"F": ClassType("java.lang.Float"),
	"D": ClassType("java.lang.Double"),
}

// Boxed returns the wrapper type of a primitive, or t itself.
func (t Type) Boxed() Type {
	if b, ok := boxes[t.desc]; ok {
		return b
	}
	return t
}

// Unboxed returns the primitive of a wrapper type, or t itself.
func (t Type) Unboxed() Type {
	for p, b := range boxes {
		if b.desc == t.desc {
			return Type{p}
		}
	}
	return t
}

// IsBox reports whether t is a primitive wrapper class.
func (t Type) IsBox() bool {
	return t.IsReference() && !t.Unboxed().Is(t)
}

// ---------------------------------------------------------------------------
// Method signatures
// ---------------------------------------------------------------------------

// TypeSpec is a method signature: return type and ordered parameter types.
type TypeSpec struct {
	Return Type
	Params []Type
}

// Spec builds a TypeSpec.
func Spec(ret Type, params ...Type) TypeSpec {
	return TypeSpec{Return: ret, Params: params}
}

// Descriptor returns the method descriptor, e.g. "(ILjava/lang/String;)V".
func (s TypeSpec) Descriptor() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, p := range s.Params {
		b.WriteString(p.desc)
	}
	b.WriteByte(')')
	if s.Return.IsValid() {
		b.WriteString(s.Return.desc)
	} else {
		b.WriteByte('V')
	}
	return b.String()
}

// ParamSlots returns the number of slots the parameters occupy.
func (s TypeSpec) ParamSlots() int {
	n := 0
	for _, p := range s.Params {
		n += p.Size()
	}
	return n
}

// ParseMethodDescriptor splits a method descriptor into a TypeSpec.
func ParseMethodDescriptor(desc string) (TypeSpec, bool) {
	if !strings.HasPrefix(desc, "(") {
		return TypeSpec{}, false
	}
	var spec TypeSpec
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n := descLen(desc[i:])
		if n == 0 {
			return TypeSpec{}, false
		}
		spec.Params = append(spec.Params, Type{desc[i : i+n]})
		i += n
	}
	if i >= len(desc) {
		return TypeSpec{}, false
	}
	ret := desc[i+1:]
	if descLen(ret) != len(ret) {
		return TypeSpec{}, false
	}
	spec.Return = Type{ret}
	return spec, true
}

// descLen returns the length of the first field descriptor in s.
func descLen(s string) int {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D', 'V':
		return i + 1
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0
		}
		return i + end + 1
	}
	return 0
}
