package jvmsim

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
)

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Value is a JVM value. Primitives are int32 (boolean, byte, char, short
// and int), int64, float32 and float64. References are nil, string, or
// one of the pointer types below.
type Value any

// Object is an instance of a loaded class or of a native exception type.
type Object struct {
	Class  string
	Fields map[string]Value
}

// Box is a java.lang wrapper (Integer, Long, ...).
type Box struct {
	Class string // internal name
	V     Value
}

// Array is a one-dimensional array. Elem is the element descriptor.
type Array struct {
	Elem string
	Data []Value
}

// Builder is a java.lang.StringBuilder.
type Builder struct {
	strings.Builder
}

// List is a java.util.ArrayList.
type List struct {
	Items []Value
}

// Iterator walks a List.
type Iterator struct {
	list *List
	next int
}

// EnumValue is a constant of an enum defined with DefineEnum.
type EnumValue struct {
	Class   string
	Name    string
	Ordinal int32
}

// Closure is the object an invokedynamic call site produced by the
// lambda metafactory returns.
type Closure struct {
	Interface string
	Method    string
	Owner     string
	Impl      string
	ImplDesc  string
	Captured  []Value
}

// ClassRef is a java.lang.Class value.
type ClassRef struct {
	Name string
}

// PrintStream is System.out.
type PrintStream struct{}

func zero(desc string) Value {
	switch desc[0] {
	case 'Z', 'B', 'C', 'S', 'I':
		return int32(0)
	case 'J':
		return int64(0)
	case 'F':
		return float32(0)
	case 'D':
		return float64(0)
	}
	return nil
}

func isWide(v Value) bool {
	switch v.(type) {
	case int64, float64:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// String conversion
// ---------------------------------------------------------------------------

// formatDouble renders a double the way Double.toString does for the
// values tests use: integral values keep a trailing ".0".
func formatDouble(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	abs := math.Abs(f)
	if abs == 0 || (abs >= 1e-3 && abs < 1e7) {
		s := strconv.FormatFloat(f, 'f', -1, bits)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		return s
	}
	s := strconv.FormatFloat(f, 'E', -1, bits)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	return mant + "E" + strconv.Itoa(n)
}

// stringOf renders v as String.valueOf would. desc disambiguates the
// int32 representations of boolean and char; it may be empty.
func (vm *VM) stringOf(v Value, desc string) (string, error) {
	switch x := v.(type) {
	case nil:
		return "null", nil
	case int32:
		switch desc {
		case "Z":
			return strconv.FormatBool(x != 0), nil
		case "C":
			return string(rune(x)), nil
		}
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return formatDouble(float64(x), 32), nil
	case float64:
		return formatDouble(x, 64), nil
	case string:
		return x, nil
	case *Box:
		return vm.stringOf(x.V, boxPrimitive[x.Class])
	case *Builder:
		return x.String(), nil
	case *EnumValue:
		return x.Name, nil
	case *ClassRef:
		return "class " + strings.ReplaceAll(x.Name, "/", "."), nil
	case *List:
		parts := make([]string, len(x.Items))
		for i, it := range x.Items {
			s, err := vm.stringOf(it, "")
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case *Object:
		if m, owner := vm.findMethod(x.Class, "toString", "()Ljava/lang/String;"); m != nil {
			r, err := vm.call(owner, m, []Value{x})
			if err != nil {
				return "", err
			}
			return vm.stringOf(r, "")
		}
		if msg, ok := x.Fields["message"]; ok && isThrowable(vm, x.Class) {
			name := strings.ReplaceAll(x.Class, "/", ".")
			if msg == nil {
				return name, nil
			}
			return name + ": " + msg.(string), nil
		}
		return fmt.Sprintf("%s@%p", strings.ReplaceAll(x.Class, "/", "."), x), nil
	}
	return fmt.Sprintf("%v", v), nil
}

var boxPrimitive = map[string]string{
	"java/lang/Boolean":   "Z",
	"java/lang/Byte":      "B",
	"java/lang/Character": "C",
	"java/lang/Short":     "S",
	"java/lang/Integer":   "I",
	"java/lang/Long":      "J",
	"java/lang/Float":     "F",
	"java/lang/Double":    "D",
}

// hashString is String.hashCode over UTF-16 units.
func hashString(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}
