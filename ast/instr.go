package ast

import "fmt"

// ---------------------------------------------------------------------------
// Instruction: tagged variant over statements and expressions
// ---------------------------------------------------------------------------

// Kind tags a concrete instruction variant. Lowering dispatches on it.
type Kind uint16

const (
	KindInvalid Kind = iota
	KindBlock
	KindVariableDeclaration
	KindAssign
	KindVariableAccess
	KindThis
	KindFieldAccess
	KindFieldStore
	KindInvoke
	KindNew
	KindLiteral
	KindEnumConstant
	KindOperate
	KindCompare
	KindLogical
	KindNot
	KindCast
	KindInstanceOf
	KindNewArray
	KindArrayLoad
	KindArrayStore
	KindArrayLength
	KindConcat
	KindIf
	KindSwitch
	KindWhile
	KindDoWhile
	KindFor
	KindForEach
	KindBreak
	KindContinue
	KindTry
	KindThrow
	KindReturn
	KindLambda
	KindMethodRef
	KindSynchronized
	KindLine
	KindLocalCode

	numKinds

	// KindUser is the first tag available to caller-defined instructions.
	KindUser Kind = 1 << 10
)

var kindNames = [...]string{
	KindInvalid:             "Invalid",
	KindBlock:               "Block",
	KindVariableDeclaration: "VariableDeclaration",
	KindAssign:              "Assign",
	KindVariableAccess:      "VariableAccess",
	KindThis:                "This",
	KindFieldAccess:         "FieldAccess",
	KindFieldStore:          "FieldStore",
	KindInvoke:              "Invoke",
	KindNew:                 "New",
	KindLiteral:             "Literal",
	KindEnumConstant:        "EnumConstant",
	KindOperate:             "Operate",
	KindCompare:             "Compare",
	KindLogical:             "Logical",
	KindNot:                 "Not",
	KindCast:                "Cast",
	KindInstanceOf:          "InstanceOf",
	KindNewArray:            "NewArray",
	KindArrayLoad:           "ArrayLoad",
	KindArrayStore:          "ArrayStore",
	KindArrayLength:         "ArrayLength",
	KindConcat:              "Concat",
	KindIf:                  "If",
	KindSwitch:              "Switch",
	KindWhile:               "While",
	KindDoWhile:             "DoWhile",
	KindFor:                 "For",
	KindForEach:             "ForEach",
	KindBreak:               "Break",
	KindContinue:            "Continue",
	KindTry:                 "Try",
	KindThrow:               "Throw",
	KindReturn:              "Return",
	KindLambda:              "Lambda",
	KindMethodRef:           "MethodRef",
	KindSynchronized:        "Synchronized",
	KindLine:                "Line",
	KindLocalCode:           "LocalCode",
}

// BuiltinKinds returns every tag defined by this package.
func BuiltinKinds() []Kind {
	kinds := make([]Kind, 0, numKinds-1)
	for k := KindBlock; k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// String implements the Stringer interface.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint16(k))
}

// Instruction is implemented by every statement and expression node.
// Callers may define their own variants with tags >= KindUser.
type Instruction interface {
	Kind() Kind
}

// ---------------------------------------------------------------------------
// Scopes and variables
// ---------------------------------------------------------------------------

// Block is a nested statement list with its own scope.
type Block struct {
	Body []Instruction
}

func (*Block) Kind() Kind { return KindBlock }

// VariableDeclaration declares a local. A nil Value leaves it unassigned.
type VariableDeclaration struct {
	Name  string
	Type  Type
	Value Instruction
}

func (*VariableDeclaration) Kind() Kind { return KindVariableDeclaration }

// Assign stores into an existing local.
type Assign struct {
	Name  string
	Type  Type
	Value Instruction
}

func (*Assign) Kind() Kind { return KindAssign }

// VariableAccess reads a local or parameter.
type VariableAccess struct {
	Name string
	Type Type
}

func (*VariableAccess) Kind() Kind { return KindVariableAccess }

// This reads the receiver.
type This struct{}

func (*This) Kind() Kind { return KindThis }

// FieldAccess reads a field. Target is ignored for static fields; a nil
// Target on an instance field means this.
type FieldAccess struct {
	Owner  Type
	Target Instruction
	Name   string
	Type   Type
	Static bool
}

func (*FieldAccess) Kind() Kind { return KindFieldAccess }

// FieldStore writes a field.
type FieldStore struct {
	Owner  Type
	Target Instruction
	Name   string
	Type   Type
	Value  Instruction
	Static bool
}

func (*FieldStore) Kind() Kind { return KindFieldStore }

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// InvokeMode selects the invocation instruction.
type InvokeMode uint8

const (
	InvokeVirtual InvokeMode = iota
	InvokeStatic
	InvokeInterface
	InvokeSpecial
)

func (m InvokeMode) String() string {
	switch m {
	case InvokeVirtual:
		return "virtual"
	case InvokeStatic:
		return "static"
	case InvokeInterface:
		return "interface"
	case InvokeSpecial:
		return "special"
	}
	return fmt.Sprintf("InvokeMode(%d)", uint8(m))
}

// Invoke calls a method. Target is ignored for static calls; a nil
// Target on an instance call means this.
type Invoke struct {
	Mode   InvokeMode
	Owner  Type
	Target Instruction
	Name   string
	Spec   TypeSpec
	Args   []Instruction
}

func (*Invoke) Kind() Kind { return KindInvoke }

// IsSuperConstructorCall reports whether the invocation is this(...)
// or super(...) at the start of a constructor.
func (n *Invoke) IsSuperConstructorCall() bool {
	if n.Mode != InvokeSpecial || n.Name != ConstructorName {
		return false
	}
	if n.Target == nil {
		return true
	}
	_, ok := n.Target.(*This)
	return ok
}

// New allocates and constructs an object.
type New struct {
	Type Type
	Spec TypeSpec // constructor signature; return type ignored
	Args []Instruction
}

func (*New) Kind() Kind { return KindNew }

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Literal is a constant. Value holds int32, int64, float32, float64,
// bool, uint16 (char), string, nil (null) or Type (class literal).
type Literal struct {
	Type  Type
	Value any
}

func (*Literal) Kind() Kind { return KindLiteral }

// EnumConstant references a constant of an enum type.
type EnumConstant struct {
	Type    Type
	Name    string
	Ordinal int
}

func (*EnumConstant) Kind() Kind { return KindEnumConstant }

// Operator is an arithmetic or bitwise operator.
type Operator uint8

const (
	OpAdd Operator = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpShl
	OpShr
	OpUshr
	OpAnd
	OpOr
	OpXor
	OpNeg // unary
	OpInv // unary bitwise complement
)

var operatorNames = [...]string{"+", "-", "*", "/", "%", "<<", ">>", ">>>", "&", "|", "^", "neg", "~"}

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", uint8(o))
}

// IsUnary reports whether the operator takes a single operand.
func (o Operator) IsUnary() bool { return o == OpNeg || o == OpInv }

// Operate applies an operator. Right is nil for unary operators.
type Operate struct {
	Op    Operator
	Left  Instruction
	Right Instruction
}

func (*Operate) Kind() Kind { return KindOperate }

// CompareOp is a relational operator.
type CompareOp uint8

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpLt
	CmpGe
	CmpGt
	CmpLe
)

var compareNames = [...]string{"==", "!=", "<", ">=", ">", "<="}

func (o CompareOp) String() string {
	if int(o) < len(compareNames) {
		return compareNames[o]
	}
	return fmt.Sprintf("CompareOp(%d)", uint8(o))
}

// Negate returns the operator testing the opposite outcome.
func (o CompareOp) Negate() CompareOp {
	return o ^ 1
}

// Compare is a boolean-valued relational expression.
type Compare struct {
	Op    CompareOp
	Left  Instruction
	Right Instruction
}

func (*Compare) Kind() Kind { return KindCompare }

// LogicalOp combines boolean operands.
type LogicalOp uint8

const (
	And    LogicalOp = iota // short-circuit
	Or                      // short-circuit
	BitAnd                  // eager
	BitOr                   // eager
	BitXor                  // eager
)

var logicalNames = [...]string{"&&", "||", "&", "|", "^"}

func (o LogicalOp) String() string {
	if int(o) < len(logicalNames) {
		return logicalNames[o]
	}
	return fmt.Sprintf("LogicalOp(%d)", uint8(o))
}

// ShortCircuit reports whether the right operand is conditionally evaluated.
func (o LogicalOp) ShortCircuit() bool { return o == And || o == Or }

// Logical combines two boolean operands.
type Logical struct {
	Op    LogicalOp
	Left  Instruction
	Right Instruction
}

func (*Logical) Kind() Kind { return KindLogical }

// Not negates a boolean operand.
type Not struct {
	Operand Instruction
}

func (*Not) Kind() Kind { return KindNot }

// Cast converts between primitives, boxes/unboxes, or checkcasts.
type Cast struct {
	From  Type
	To    Type
	Value Instruction
}

func (*Cast) Kind() Kind { return KindCast }

// InstanceOf tests a reference against a type.
type InstanceOf struct {
	Value Instruction
	Type  Type
}

func (*InstanceOf) Kind() Kind { return KindInstanceOf }

// NewArray allocates a one-dimensional array. When Values is non-empty
// the length is len(Values) and Length is ignored.
type NewArray struct {
	Elem   Type
	Length Instruction
	Values []Instruction
}

func (*NewArray) Kind() Kind { return KindNewArray }

// ArrayLoad reads an element.
type ArrayLoad struct {
	Elem  Type
	Array Instruction
	Index Instruction
}

func (*ArrayLoad) Kind() Kind { return KindArrayLoad }

// ArrayStore writes an element.
type ArrayStore struct {
	Elem  Type
	Array Instruction
	Index Instruction
	Value Instruction
}

func (*ArrayStore) Kind() Kind { return KindArrayStore }

// ArrayLength reads an array's length.
type ArrayLength struct {
	Array Instruction
}

func (*ArrayLength) Kind() Kind { return KindArrayLength }

// Concat builds a String from its parts.
type Concat struct {
	Parts []Instruction
}

func (*Concat) Kind() Kind { return KindConcat }

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// If is a conditional with an optional else branch.
type If struct {
	Cond Instruction
	Body []Instruction
	Else []Instruction
}

func (*If) Kind() Kind { return KindIf }

// SwitchMode selects the key domain of a switch.
type SwitchMode uint8

const (
	SwitchNumeric SwitchMode = iota // int, short, char, byte (boxes unboxed)
	SwitchOrdinal                   // enum, keyed by ordinal()
	SwitchString                    // hash buckets + equals chain
)

func (m SwitchMode) String() string {
	switch m {
	case SwitchNumeric:
		return "numeric"
	case SwitchOrdinal:
		return "ordinal"
	case SwitchString:
		return "string"
	}
	return fmt.Sprintf("SwitchMode(%d)", uint8(m))
}

// Case is one arm of a switch. Default cases have a nil Value.
type Case struct {
	Value Instruction // *Literal or *EnumConstant
	Body  []Instruction
}

// IsDefault reports whether the case is the default arm.
func (c *Case) IsDefault() bool { return c.Value == nil }

// Switch is a multi-way branch with fall-through semantics.
type Switch struct {
	Mode  SwitchMode
	Value Instruction
	Cases []*Case
}

func (*Switch) Kind() Kind { return KindSwitch }

// While loops while Cond holds. A nil Cond loops forever.
type While struct {
	Label string
	Cond  Instruction
	Body  []Instruction
}

func (*While) Kind() Kind { return KindWhile }

// DoWhile runs Body at least once.
type DoWhile struct {
	Label string
	Body  []Instruction
	Cond  Instruction
}

func (*DoWhile) Kind() Kind { return KindDoWhile }

// For is a classic three-clause loop.
type For struct {
	Label  string
	Init   []Instruction
	Cond   Instruction
	Update []Instruction
	Body   []Instruction
}

func (*For) Kind() Kind { return KindFor }

// IterationKind selects how ForEach walks its iterable.
type IterationKind uint8

const (
	IterateArray IterationKind = iota
	IterateIterable
)

// ForEach iterates an array or java.lang.Iterable.
type ForEach struct {
	Label    string
	Iterate  IterationKind
	Variable Param
	Iterable Instruction
	Body     []Instruction
}

func (*ForEach) Kind() Kind { return KindForEach }

// Break leaves the innermost (or named) loop or switch.
type Break struct {
	Label string
}

func (*Break) Kind() Kind { return KindBreak }

// Continue restarts the innermost (or named) loop.
type Continue struct {
	Label string
}

func (*Continue) Kind() Kind { return KindContinue }

// Catch handles one or more exception types.
type Catch struct {
	Types    []Type
	Variable string
	Body     []Instruction
}

// Try is a protected region with handlers and an optional finally.
type Try struct {
	Body    []Instruction
	Catches []*Catch
	Finally []Instruction
}

func (*Try) Kind() Kind { return KindTry }

// Throw raises an exception.
type Throw struct {
	Value Instruction
}

func (*Throw) Kind() Kind { return KindThrow }

// Return leaves the method. Value is nil for void returns.
type Return struct {
	Type  Type
	Value Instruction
}

func (*Return) Kind() Kind { return KindReturn }

// Synchronized runs Body holding the monitor of Lock.
type Synchronized struct {
	Lock Instruction
	Body []Instruction
}

func (*Synchronized) Kind() Kind { return KindSynchronized }

// Line attaches a declared source line to an instruction.
type Line struct {
	Number      int
	Instruction Instruction
}

func (*Line) Kind() Kind { return KindLine }

// LocalCode declares Method inside a body. The method becomes a member of
// the enclosing class; the declaration site emits nothing.
type LocalCode struct {
	Method *Method
}

func (*LocalCode) Kind() Kind { return KindLocalCode }

// Call invokes the declared method on owner, the enclosing class. Instance
// methods are called on This; private ones through invokespecial.
func (n *LocalCode) Call(owner Type, args ...Instruction) *Invoke {
	m := n.Method
	if m.IsStatic() {
		return InvokeStaticOn(owner, m.Name, m.Spec(), args...)
	}
	inv := InvokeVirtualOn(owner, &This{}, m.Name, m.Spec(), args...)
	if m.Modifiers.Has(Private) {
		inv.Mode = InvokeSpecial
	}
	return inv
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

// MethodSpec names a method: owner, name and signature.
type MethodSpec struct {
	Owner Type
	Name  string
	Spec  TypeSpec
}

// Capture is a value copied into a closure at its creation site.
type Capture struct {
	Name  string
	Type  Type
	Value Instruction
}

// Lambda is a closure implementing the functional interface method SAM.
// SAM.Spec is the erased signature; Instantiated is the signature of the
// body (parameter and return types the body actually uses).
type Lambda struct {
	SAM          MethodSpec
	Instantiated TypeSpec
	Captures     []Capture
	Params       []Param
	Body         []Instruction
}

func (*Lambda) Kind() Kind { return KindLambda }

// MethodRef adapts an existing method to the functional interface SAM.
// Captures come first in the target's argument list; for instance
// targets the first capture is the receiver.
type MethodRef struct {
	SAM          MethodSpec
	Instantiated TypeSpec
	Captures     []Capture
	Mode         InvokeMode
	Target       MethodSpec
}

func (*MethodRef) Kind() Kind { return KindMethodRef }
