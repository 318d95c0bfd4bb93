package jvmsim

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func (vm *VM) invokeStatic(owner, name, desc string, args []Value) (Value, error) {
	if _, ok := vm.classes[owner]; ok {
		if err := vm.initialize(owner); err != nil {
			return nil, err
		}
		m, at := vm.findMethod(owner, name, desc)
		if m == nil {
			return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, owner, name, desc)
		}
		return vm.call(at, m, args)
	}
	return vm.nativeStatic(owner, name, desc, args)
}

// invokeSpecial runs constructors, private methods and super calls: the
// method is looked up from owner, not from the receiver's class.
func (vm *VM) invokeSpecial(owner, name, desc string, args []Value) (Value, error) {
	if m, at := vm.findMethod(owner, name, desc); m != nil {
		return vm.call(at, m, args)
	}
	if name == "<init>" {
		return nil, vm.nativeInit(owner, desc, args)
	}
	return vm.nativeVirtual(args[0], name, desc, args[1:])
}

func (vm *VM) invokeVirtual(owner, name, desc string, args []Value) (Value, error) {
	recv := args[0]
	switch x := recv.(type) {
	case nil:
		return nil, npe(fmt.Sprintf("%s.%s on null", owner, name))
	case *Object:
		if m, at := vm.findMethod(x.Class, name, desc); m != nil {
			return vm.call(at, m, args)
		}
	case *Closure:
		if name == x.Method {
			return vm.callClosure(x, desc, args[1:])
		}
	}
	return vm.nativeVirtual(recv, name, desc, args[1:])
}

// callClosure forwards a functional interface call to the implementation
// method, adapting boxed and primitive values the way the metafactory's
// generated class would.
func (vm *VM) callClosure(c *Closure, samDesc string, args []Value) (Value, error) {
	all := append(append([]Value(nil), c.Captured...), args...)
	params := classfile.ParamDescriptors(c.ImplDesc)
	for i := range all {
		if i < len(params) {
			all[i] = adapt(all[i], params[i])
		}
	}
	r, err := vm.invokeStatic(c.Owner, c.Impl, c.ImplDesc, all)
	if err != nil {
		return nil, err
	}
	if ret := classfile.ReturnDescriptor(samDesc); ret != "V" {
		return adapt(r, ret), nil
	}
	return nil, nil
}

func adapt(v Value, desc string) Value {
	prim := len(desc) == 1
	switch x := v.(type) {
	case *Box:
		if prim {
			return convertPrimitive(x.V, desc)
		}
	case int32, int64, float32, float64:
		if !prim {
			return box(x, desc)
		}
	}
	return v
}

// box wraps a primitive for a reference-typed slot. The box type follows
// the slot's declared type where it names one.
func box(v Value, desc string) *Box {
	name := strings.TrimSuffix(strings.TrimPrefix(desc, "L"), ";")
	if p, ok := boxPrimitive[name]; ok {
		return &Box{Class: name, V: convertPrimitive(v, p)}
	}
	switch v.(type) {
	case int64:
		return &Box{Class: "java/lang/Long", V: v}
	case float32:
		return &Box{Class: "java/lang/Float", V: v}
	case float64:
		return &Box{Class: "java/lang/Double", V: v}
	}
	return &Box{Class: "java/lang/Integer", V: v}
}

func convertPrimitive(v Value, desc string) Value {
	var (
		i int64
		f float64
		isFloat bool
	)
	switch x := v.(type) {
	case int32:
		i = int64(x)
	case int64:
		i = x
	case float32:
		f, isFloat = float64(x), true
	case float64:
		f, isFloat = x, true
	default:
		return v
	}
	if isFloat {
		switch desc {
		case "F":
			return float32(f)
		case "D":
			return f
		case "J":
			return toInt64(f)
		}
		i = int64(toInt32(f))
	}
	switch desc {
	case "J":
		return i
	case "F":
		return float32(i)
	case "D":
		return float64(i)
	case "B":
		return int32(int8(i))
	case "C":
		return int32(uint16(i))
	case "S":
		return int32(int16(i))
	}
	return int32(i)
}

// ---------------------------------------------------------------------------
// invokedynamic
// ---------------------------------------------------------------------------

const (
	metafactory   = "java/lang/invoke/LambdaMetafactory.metafactory"
	concatFactory = "java/lang/invoke/StringConcatFactory.makeConcatWithConstants"
)

func (vm *VM) invokeDynamic(f *frame, index int) (Value, error) {
	cf := f.class.file
	e, ok := cf.Pool.Entry(uint16(index))
	if !ok || int(e.Ref1) >= len(cf.Bootstraps) {
		return nil, fmt.Errorf("%w: bad call site %d", ErrUnsupported, index)
	}
	name, desc := cf.Pool.NameAndTypeAt(e.Ref2)
	bsm := cf.Bootstraps[e.Ref1]
	args := f.popN(len(classfile.ParamDescriptors(desc)))

	switch bsm.Handle.Owner + "." + bsm.Handle.Name {
	case metafactory:
		if len(bsm.Args) != 3 {
			return nil, fmt.Errorf("%w: metafactory takes 3 static arguments, got %d", ErrUnsupported, len(bsm.Args))
		}
		impl, ok := bsm.Args[1].(classfile.Handle)
		if !ok {
			return nil, fmt.Errorf("%w: metafactory implementation is %T", ErrUnsupported, bsm.Args[1])
		}
		ret := classfile.ReturnDescriptor(desc)
		return &Closure{
			Interface: ret[1 : len(ret)-1],
			Method:    name,
			Owner:     impl.Owner,
			Impl:      impl.Name,
			ImplDesc:  impl.Desc,
			Captured:  args,
		}, nil

	case concatFactory:
		recipe, _ := bsm.Args[0].(string)
		params := classfile.ParamDescriptors(desc)
		var b strings.Builder
		arg, constant := 0, 1
		for _, r := range recipe {
			switch r {
			case '\u0001':
				s, err := vm.stringOf(args[arg], params[arg])
				if err != nil {
					return nil, err
				}
				b.WriteString(s)
				arg++
			case '\u0002':
				s, err := vm.stringOf(bsm.Args[constant], "")
				if err != nil {
					return nil, err
				}
				b.WriteString(s)
				constant++
			default:
				b.WriteRune(r)
			}
		}
		return b.String(), nil
	}
	return nil, fmt.Errorf("%w: bootstrap %s.%s", ErrUnsupported, bsm.Handle.Owner, bsm.Handle.Name)
}

// ---------------------------------------------------------------------------
// Native classes
// ---------------------------------------------------------------------------

func (vm *VM) nativeInit(owner, desc string, args []Value) error {
	switch x := args[0].(type) {
	case *Builder:
		if desc == "(Ljava/lang/String;)V" {
			s, err := vm.stringOf(args[1], "")
			if err != nil {
				return err
			}
			x.WriteString(s)
		}
		return nil
	case *List:
		return nil
	case *Object:
		if isThrowable(vm, owner) {
			if len(args) > 1 {
				if s, ok := args[1].(string); ok {
					x.Fields["message"] = s
				}
			}
			return nil
		}
		if owner == "java/lang/Object" {
			return nil
		}
	}
	return fmt.Errorf("%w: %s.<init>%s", ErrNoSuchMethod, owner, desc)
}

func (vm *VM) nativeStatic(owner, name, desc string, args []Value) (Value, error) {
	params := classfile.ParamDescriptors(desc)
	if prim, ok := boxPrimitive[owner]; ok && name == "valueOf" && len(params) == 1 && len(params[0]) == 1 {
		return &Box{Class: owner, V: convertPrimitive(args[0], prim)}, nil
	}
	switch owner + "." + name {
	case "java/lang/String.valueOf":
		p := ""
		if len(params) == 1 {
			p = params[0]
		}
		return vm.stringOf(args[0], p)
	case "java/lang/Integer.toString", "java/lang/Long.toString":
		return vm.stringOf(args[0], params[0])
	case "java/lang/Integer.parseInt":
		n, err := strconv.ParseInt(args[0].(string), 10, 32)
		if err != nil {
			return nil, throw("java/lang/NumberFormatException", fmt.Sprintf("For input string: %q", args[0]))
		}
		return int32(n), nil
	case "java/lang/Math.max":
		return mathPick(args[0], args[1], true), nil
	case "java/lang/Math.min":
		return mathPick(args[0], args[1], false), nil
	case "java/lang/Math.abs":
		switch x := args[0].(type) {
		case int32:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		case int64:
			if x < 0 {
				return -x, nil
			}
			return x, nil
		}
	}
	return nil, fmt.Errorf("%w: %s.%s%s", ErrNoSuchMethod, owner, name, desc)
}

func mathPick(a, b Value, greater bool) Value {
	switch x := a.(type) {
	case int32:
		if (x > b.(int32)) == greater {
			return x
		}
	case int64:
		if (x > b.(int64)) == greater {
			return x
		}
	case float64:
		if (x > b.(float64)) == greater {
			return x
		}
	}
	return b
}

func (vm *VM) nativeVirtual(recv Value, name, desc string, args []Value) (Value, error) {
	params := classfile.ParamDescriptors(desc)
	switch x := recv.(type) {
	case *PrintStream:
		return nil, vm.print(name, params, args)

	case string:
		switch name {
		case "length":
			return int32(len(utf16.Encode([]rune(x)))), nil
		case "isEmpty":
			return boolInt(x == ""), nil
		case "charAt":
			units := utf16.Encode([]rune(x))
			i := args[0].(int32)
			if i < 0 || int(i) >= len(units) {
				return nil, throw("java/lang/StringIndexOutOfBoundsException", fmt.Sprint(i))
			}
			return int32(units[i]), nil
		case "concat":
			return x + args[0].(string), nil
		case "toUpperCase":
			return strings.ToUpper(x), nil
		case "compareTo":
			return int32(strings.Compare(x, args[0].(string))), nil
		}

	case *Builder:
		switch name {
		case "append":
			s, err := vm.stringOf(args[0], params[0])
			if err != nil {
				return nil, err
			}
			x.WriteString(s)
			return x, nil
		case "length":
			return int32(len(utf16.Encode([]rune(x.String())))), nil
		}

	case *Box:
		if strings.HasSuffix(name, "Value") && len(args) == 0 {
			return convertPrimitive(x.V, classfile.ReturnDescriptor(desc)), nil
		}
		switch name {
		case "equals":
			o, ok := args[0].(*Box)
			return boolInt(ok && o.Class == x.Class && o.V == x.V), nil
		case "hashCode":
			switch v := x.V.(type) {
			case int32:
				return v, nil
			case int64:
				return int32(v ^ v>>32), nil
			}
		case "compareTo":
			o := args[0].(*Box)
			switch v := x.V.(type) {
			case int32:
				return int32(cmp3(v, o.V.(int32))), nil
			case int64:
				return int32(cmp3(v, o.V.(int64))), nil
			}
		}

	case *EnumValue:
		switch name {
		case "ordinal":
			return x.Ordinal, nil
		case "name":
			return x.Name, nil
		case "hashCode":
			return hashString(x.Class + "." + x.Name), nil
		}

	case *List:
		switch name {
		case "add":
			x.Items = append(x.Items, args[0])
			return int32(1), nil
		case "get":
			i := args[0].(int32)
			if i < 0 || int(i) >= len(x.Items) {
				return nil, throw("java/lang/IndexOutOfBoundsException", fmt.Sprintf("Index %d out of bounds for length %d", i, len(x.Items)))
			}
			return x.Items[i], nil
		case "size":
			return int32(len(x.Items)), nil
		case "isEmpty":
			return boolInt(len(x.Items) == 0), nil
		case "iterator":
			return &Iterator{list: x}, nil
		}

	case *Iterator:
		switch name {
		case "hasNext":
			return boolInt(x.next < len(x.list.Items)), nil
		case "next":
			if x.next >= len(x.list.Items) {
				return nil, throw("java/util/NoSuchElementException", "")
			}
			x.next++
			return x.list.Items[x.next-1], nil
		}

	case *Object:
		if isThrowable(vm, x.Class) {
			switch name {
			case "getMessage", "getLocalizedMessage":
				return x.Fields["message"], nil
			}
		}

	case *ClassRef:
		if name == "getName" {
			return strings.ReplaceAll(x.Name, "/", "."), nil
		}
	}

	// java.lang.Object methods for every receiver.
	switch name {
	case "toString":
		return vm.stringOf(recv, "")
	case "equals":
		if s, ok := recv.(string); ok {
			o, isString := args[0].(string)
			return boolInt(isString && o == s), nil
		}
		return boolInt(recv == args[0]), nil
	case "hashCode":
		if s, ok := recv.(string); ok {
			return hashString(s), nil
		}
		return hashString(fmt.Sprintf("%p", recv)), nil
	}
	return nil, fmt.Errorf("%w: %T.%s%s", ErrNoSuchMethod, recv, name, desc)
}

func (vm *VM) print(name string, params []string, args []Value) error {
	var s string
	if len(args) == 1 {
		var err error
		if s, err = vm.stringOf(args[0], params[0]); err != nil {
			return err
		}
	}
	switch name {
	case "println":
		s += "\n"
	case "print":
	default:
		return fmt.Errorf("%w: PrintStream.%s", ErrNoSuchMethod, name)
	}
	_, err := io.WriteString(vm.Out, s)
	return err
}
