package ast

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// Modifiers is a set of declaration modifiers.
type Modifiers uint16

const (
	Public Modifiers = 1 << iota
	Private
	Protected
	Static
	Final
	SynchronizedMethod
	Volatile
	Transient
	Abstract
	Synthetic
	Varargs
)

// Has reports whether all bits of m2 are set.
func (m Modifiers) Has(m2 Modifiers) bool { return m&m2 == m2 }

// ConstructorName is the JVM name of instance initializers.
const ConstructorName = "<init>"

// StaticInitializerName is the JVM name of the class initializer.
const StaticInitializerName = "<clinit>"

// ClassDeclaration is a named type unit: a class or an interface.
type ClassDeclaration struct {
	Name       string // qualified, dotted
	Modifiers  Modifiers
	Interface  bool
	Super      Type // zero means java.lang.Object
	Interfaces []Type

	Fields       []*Field
	Constructors []*Method
	Methods      []*Method

	// SourceFile names the SourceFile attribute; empty omits it.
	SourceFile string
}

// Type returns the declared type.
func (d *ClassDeclaration) Type() Type { return ClassType(d.Name) }

// SuperType returns the superclass, defaulting to java.lang.Object.
func (d *ClassDeclaration) SuperType() Type {
	if d.Super.IsValid() {
		return d.Super
	}
	return Object
}

// Field is a member variable, optionally with an initializer.
type Field struct {
	Modifiers Modifiers
	Type      Type
	Name      string
	Value     Instruction
}

// Param is a named, typed method parameter.
type Param struct {
	Name string
	Type Type
}

// Method is a method or constructor. A nil Body means abstract.
type Method struct {
	Modifiers Modifiers
	Name      string
	Params    []Param
	Return    Type
	Body      []Instruction

	// Line is the declared source line of the first statement, used
	// when following source positions.
	Line int
}

// Spec returns the method's signature.
func (m *Method) Spec() TypeSpec {
	ret := m.Return
	if !ret.IsValid() {
		ret = Void
	}
	params := make([]Type, len(m.Params))
	for i, p := range m.Params {
		params[i] = p.Type
	}
	return TypeSpec{Return: ret, Params: params}
}

// IsAbstract reports whether the method has no body.
func (m *Method) IsAbstract() bool { return m.Body == nil }

// IsStatic reports whether the method is static.
func (m *Method) IsStatic() bool { return m.Modifiers.Has(Static) }

// IsConstructor reports whether the method is an instance initializer.
func (m *Method) IsConstructor() bool { return m.Name == ConstructorName }

// Parameter builds a Param.
func Parameter(t Type, name string) Param { return Param{Name: name, Type: t} }
