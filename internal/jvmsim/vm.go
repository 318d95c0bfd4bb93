// Package jvmsim executes generated class files well enough to test them.
// It interprets bytecode directly, models a handful of java.lang and
// java.util classes natively, and links the lambda metafactory and string
// concatenation bootstraps. It trusts its input: run the verifier first.
package jvmsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/classgen/classfile"
)

var log = commonlog.GetLogger("classgen.jvmsim")

var (
	ErrNoSuchClass  = errors.New("no such class")
	ErrNoSuchMethod = errors.New("no such method")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrUnsupported  = errors.New("unsupported by the simulator")
)

// Thrown carries a Java exception through Go returns. It is returned to
// the caller when the exception escapes the outermost call.
type Thrown struct {
	Exception *Object
}

func (t *Thrown) Error() string {
	msg, _ := t.Exception.Fields["message"].(string)
	name := strings.ReplaceAll(t.Exception.Class, "/", ".")
	if msg == "" {
		return "uncaught " + name
	}
	return "uncaught " + name + ": " + msg
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

type class struct {
	file        *classfile.ClassFile
	statics     map[string]Value
	initialized bool
	insns       map[*classfile.Member]*decoded
}

type decoded struct {
	insns []classfile.Insn
	index map[int]int // offset to position in insns
}

// VM holds loaded classes and their static state. A VM is not safe for
// concurrent use.
type VM struct {
	Out io.Writer

	// MaxSteps bounds the instructions a single top-level call may run;
	// zero means no bound.
	MaxSteps int

	classes map[string]*class
	enums   map[string][]*EnumValue
	steps   int
	depth   int
}

// New returns an empty VM printing System.out to out.
func New(out io.Writer) *VM {
	return &VM{
		Out:      out,
		MaxSteps: 1_000_000,
		classes:  make(map[string]*class),
		enums:    make(map[string][]*EnumValue),
	}
}

// Load parses and registers a class file.
func (vm *VM) Load(data []byte) error {
	cf, err := classfile.Parse(data)
	if err != nil {
		return err
	}
	vm.classes[cf.Name] = &class{
		file:    cf,
		statics: make(map[string]Value),
		insns:   make(map[*classfile.Member]*decoded),
	}
	log.Debugf("loaded %s (%d methods)", cf.Name, len(cf.Methods))
	return nil
}

// DefineEnum registers a native enum whose constants are static fields of
// the same name. name is an internal name.
func (vm *VM) DefineEnum(name string, constants ...string) {
	values := make([]*EnumValue, len(constants))
	for i, c := range constants {
		values[i] = &EnumValue{Class: name, Name: c, Ordinal: int32(i)}
	}
	vm.enums[name] = values
}

// Constant returns the enum constant registered with DefineEnum.
func (vm *VM) Constant(enum, name string) *EnumValue {
	for _, v := range vm.enums[enum] {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// InvokeStatic runs a static method of a loaded class.
func (vm *VM) InvokeStatic(owner, name, desc string, args ...Value) (Value, error) {
	vm.steps = 0
	c, ok := vm.classes[owner]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchClass, owner)
	}
	if err := vm.initialize(owner); err != nil {
		return nil, err
	}
	m, ok := c.file.Method(name, desc)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, owner, name, desc)
	}
	return vm.call(owner, m, args)
}

// NewInstance constructs an object of a loaded class.
func (vm *VM) NewInstance(owner, ctorDesc string, args ...Value) (*Object, error) {
	vm.steps = 0
	if err := vm.initialize(owner); err != nil {
		return nil, err
	}
	obj, err := vm.allocate(owner)
	if err != nil {
		return nil, err
	}
	o := obj.(*Object)
	if _, err := vm.invokeSpecial(owner, "<init>", ctorDesc, append([]Value{o}, args...)); err != nil {
		return nil, err
	}
	return o, nil
}

// InvokeVirtual calls an instance method on a receiver.
func (vm *VM) InvokeVirtual(recv Value, name, desc string, args ...Value) (Value, error) {
	vm.steps = 0
	return vm.invokeVirtual("java/lang/Object", name, desc, append([]Value{recv}, args...))
}

// Static reads a static field of a loaded class.
func (vm *VM) Static(owner, name string) (Value, error) {
	if err := vm.initialize(owner); err != nil {
		return nil, err
	}
	return vm.getStatic(owner, name)
}

func (vm *VM) initialize(name string) error {
	c, ok := vm.classes[name]
	if !ok || c.initialized {
		return nil
	}
	c.initialized = true
	if super := c.file.Super; super != "" {
		if err := vm.initialize(super); err != nil {
			return err
		}
	}
	for i := range c.file.Fields {
		f := &c.file.Fields[i]
		if f.Access&classfile.AccStatic == 0 {
			continue
		}
		c.statics[f.Name] = zero(f.Descriptor)
		for _, a := range f.Attributes {
			if a.Name == "ConstantValue" && len(a.Data) == 2 {
				if v, ok := c.file.Pool.ConstantAt(binary.BigEndian.Uint16(a.Data)); ok {
					c.statics[f.Name] = v
				}
			}
		}
	}
	if m, ok := c.file.Method("<clinit>", "()V"); ok {
		_, err := vm.call(name, m, nil)
		return err
	}
	return nil
}

func (vm *VM) getStatic(owner, name string) (Value, error) {
	for n := owner; n != ""; {
		c, ok := vm.classes[n]
		if !ok {
			break
		}
		if v, ok := c.statics[name]; ok {
			return v, nil
		}
		n = c.file.Super
	}
	if v := vm.Constant(owner, name); v != nil {
		return v, nil
	}
	if owner == "java/lang/System" && name == "out" {
		return &PrintStream{}, nil
	}
	if prim, ok := boxPrimitive[owner]; ok && name == "TYPE" {
		return &ClassRef{Name: prim}, nil
	}
	return nil, fmt.Errorf("%w: static field %s.%s", ErrNoSuchMethod, owner, name)
}

func (vm *VM) putStatic(owner, name string, v Value) error {
	for n := owner; n != ""; {
		c, ok := vm.classes[n]
		if !ok {
			break
		}
		if _, ok := c.statics[name]; ok {
			c.statics[name] = v
			return nil
		}
		n = c.file.Super
	}
	return fmt.Errorf("%w: static field %s.%s", ErrNoSuchMethod, owner, name)
}

// allocate implements the new instruction.
func (vm *VM) allocate(name string) (Value, error) {
	switch name {
	case "java/lang/StringBuilder":
		return &Builder{}, nil
	case "java/util/ArrayList":
		return &List{}, nil
	case "java/lang/Object":
		return &Object{Class: name, Fields: map[string]Value{}}, nil
	}
	if _, ok := vm.classes[name]; !ok {
		if isThrowable(vm, name) {
			return &Object{Class: name, Fields: map[string]Value{"message": nil}}, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrNoSuchClass, name)
	}
	if err := vm.initialize(name); err != nil {
		return nil, err
	}
	obj := &Object{Class: name, Fields: make(map[string]Value)}
	for n := name; n != ""; {
		c, ok := vm.classes[n]
		if !ok {
			if isThrowable(vm, n) {
				obj.Fields["message"] = nil
			}
			break
		}
		for i := range c.file.Fields {
			f := &c.file.Fields[i]
			if f.Access&classfile.AccStatic == 0 {
				if _, set := obj.Fields[f.Name]; !set {
					obj.Fields[f.Name] = zero(f.Descriptor)
				}
			}
		}
		n = c.file.Super
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Hierarchy
// ---------------------------------------------------------------------------

var nativeSupers = map[string]string{
	"java/lang/Throwable":                       "java/lang/Object",
	"java/lang/Exception":                       "java/lang/Throwable",
	"java/lang/Error":                           "java/lang/Throwable",
	"java/lang/RuntimeException":                "java/lang/Exception",
	"java/lang/StackOverflowError":              "java/lang/Error",
	"java/lang/IllegalStateException":           "java/lang/RuntimeException",
	"java/lang/IllegalArgumentException":        "java/lang/RuntimeException",
	"java/lang/ArithmeticException":             "java/lang/RuntimeException",
	"java/lang/NullPointerException":            "java/lang/RuntimeException",
	"java/lang/ClassCastException":              "java/lang/RuntimeException",
	"java/lang/IndexOutOfBoundsException":       "java/lang/RuntimeException",
	"java/lang/ArrayIndexOutOfBoundsException":  "java/lang/IndexOutOfBoundsException",
	"java/lang/NegativeArraySizeException":      "java/lang/RuntimeException",
	"java/lang/StringIndexOutOfBoundsException": "java/lang/IndexOutOfBoundsException",
	"java/lang/NumberFormatException":           "java/lang/IllegalArgumentException",
	"java/lang/UnsupportedOperationException":   "java/lang/RuntimeException",
	"java/util/NoSuchElementException":          "java/lang/RuntimeException",
	"java/io/IOException":                       "java/lang/Exception",
}

func (vm *VM) superOf(name string) string {
	if c, ok := vm.classes[name]; ok {
		return c.file.Super
	}
	return nativeSupers[name]
}

func isThrowable(vm *VM, name string) bool {
	return vm.isSubclass(name, "java/lang/Throwable")
}

func (vm *VM) isSubclass(name, target string) bool {
	for n := name; n != ""; n = vm.superOf(n) {
		if n == target {
			return true
		}
		if c, ok := vm.classes[n]; ok {
			for _, itf := range c.file.Interfaces {
				if vm.isSubclass(itf, target) {
					return true
				}
			}
		}
	}
	return target == "java/lang/Object"
}

// instanceOf implements instanceof and checkcast for every value kind.
func (vm *VM) instanceOf(v Value, target string) bool {
	if target == "java/lang/Object" {
		return v != nil
	}
	switch x := v.(type) {
	case nil:
		return false
	case string:
		switch target {
		case "java/lang/String", "java/lang/CharSequence", "java/lang/Comparable":
			return true
		}
	case *Object:
		return vm.isSubclass(x.Class, target)
	case *Box:
		if target == x.Class || target == "java/lang/Comparable" {
			return true
		}
		return target == "java/lang/Number" && x.Class != "java/lang/Boolean" && x.Class != "java/lang/Character"
	case *Builder:
		return target == "java/lang/StringBuilder" || target == "java/lang/CharSequence"
	case *List:
		switch target {
		case "java/util/ArrayList", "java/util/List", "java/util/Collection", "java/lang/Iterable":
			return true
		}
	case *Iterator:
		return target == "java/util/Iterator"
	case *EnumValue:
		return target == x.Class || target == "java/lang/Enum" || target == "java/lang/Comparable"
	case *Closure:
		return target == x.Interface
	case *Array:
		return target == "["+x.Elem
	case *ClassRef:
		return target == "java/lang/Class"
	case *PrintStream:
		return target == "java/io/PrintStream"
	}
	return false
}

// findMethod looks a method up from class name upwards, including
// default methods of implemented interfaces.
func (vm *VM) findMethod(name, method, desc string) (*classfile.Member, string) {
	for n := name; n != ""; {
		c, ok := vm.classes[n]
		if !ok {
			return nil, ""
		}
		if m, ok := c.file.Method(method, desc); ok && m.Code != nil {
			return m, n
		}
		for _, itf := range c.file.Interfaces {
			if m, owner := vm.findMethod(itf, method, desc); m != nil {
				return m, owner
			}
		}
		n = c.file.Super
	}
	return nil, ""
}

// newThrowable builds a native exception object.
func newThrowable(class, msg string) *Object {
	var m Value
	if msg != "" {
		m = msg
	}
	return &Object{Class: class, Fields: map[string]Value{"message": m}}
}

func throw(class, msg string) error {
	return &Thrown{Exception: newThrowable(class, msg)}
}
