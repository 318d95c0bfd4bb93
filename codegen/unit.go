package codegen

import (
	"fmt"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Unit lowering
// ---------------------------------------------------------------------------

// unitState is shared by every method of one declaration, including the
// synthetic methods its closures produce.
type unitState struct {
	decl *ast.ClassDeclaration
	cw   *classfile.ClassWriter

	queue      []pending
	local      map[*ast.Method]bool
	counter    int
	indyConcat bool
}

type pending struct {
	method *ast.Method
	base   string
}

func (u *unitState) syntheticName(base string) string {
	name := fmt.Sprintf("lambda$%s$%d", base, u.counter)
	u.counter++
	return name
}

func (u *unitState) enqueue(m *ast.Method, base string) {
	u.queue = append(u.queue, pending{method: m, base: base})
}

// declareLocal queues a method declared inside a body. Bodies lowered more
// than once, such as finally blocks, declare it once.
func (u *unitState) declareLocal(m *ast.Method) {
	if u.local[m] {
		return
	}
	if u.local == nil {
		u.local = make(map[*ast.Method]bool)
	}
	u.local[m] = true
	u.enqueue(m, syntheticBase(m.Name))
}

func classFlags(d *ast.ClassDeclaration) uint16 {
	var acc uint16
	if d.Modifiers.Has(ast.Public) {
		acc |= classfile.AccPublic
	}
	if d.Modifiers.Has(ast.Final) {
		acc |= classfile.AccFinal
	}
	if d.Modifiers.Has(ast.Abstract) {
		acc |= classfile.AccAbstract
	}
	if d.Modifiers.Has(ast.Synthetic) {
		acc |= classfile.AccSynthetic
	}
	if d.Interface {
		return acc | classfile.AccInterface | classfile.AccAbstract
	}
	return acc | classfile.AccSuper
}

func memberFlags(m ast.Modifiers, field bool) uint16 {
	var acc uint16
	for _, f := range [...]struct {
		mod ast.Modifiers
		acc uint16
	}{
		{ast.Public, classfile.AccPublic},
		{ast.Private, classfile.AccPrivate},
		{ast.Protected, classfile.AccProtected},
		{ast.Static, classfile.AccStatic},
		{ast.Final, classfile.AccFinal},
		{ast.Abstract, classfile.AccAbstract},
		{ast.Synthetic, classfile.AccSynthetic},
	} {
		if m.Has(f.mod) {
			acc |= f.acc
		}
	}
	switch {
	case field && m.Has(ast.Volatile):
		acc |= classfile.AccVolatile
	case field && m.Has(ast.Transient):
		acc |= classfile.AccTransient
	case !field && m.Has(ast.SynchronizedMethod):
		acc |= classfile.AccSynchronized
	case !field && m.Has(ast.Varargs):
		acc |= classfile.AccVarargs
	}
	return acc
}

// constantValue returns the ConstantValue of a static final field with a
// literal initializer.
func constantValue(f *ast.Field) (any, bool) {
	if !f.Modifiers.Has(ast.Static) || !f.Modifiers.Has(ast.Final) || f.Value == nil {
		return nil, false
	}
	lit, ok := unwrapLine(f.Value).(*ast.Literal)
	if !ok || lit.Value == nil {
		return nil, false
	}
	switch {
	case f.Type.IsIntLike():
		if v, ok := intValue(lit.Value); ok {
			return int32(v), true
		}
	case f.Type.Is(ast.Long):
		if v, ok := intValue(lit.Value); ok {
			return v, true
		}
	case f.Type.Is(ast.Float):
		if v, ok := floatValue(lit.Value); ok {
			return float32(v), true
		}
	case f.Type.Is(ast.Double):
		if v, ok := floatValue(lit.Value); ok {
			return v, true
		}
	case f.Type.Is(ast.String):
		if s, ok := lit.Value.(string); ok {
			return s, true
		}
	}
	return nil, false
}

func (g *Generator) lowerUnit(d *ast.ClassDeclaration) (Unit, error) {
	self := d.Type()
	ifaces := make([]string, len(d.Interfaces))
	for i, t := range d.Interfaces {
		ifaces[i] = t.InternalName()
	}
	u := &unitState{
		decl: d,
		cw:   classfile.NewClassWriter(g.opts.ClassVersion, classFlags(d), self.InternalName(), d.SuperType().InternalName(), ifaces...),
	}
	switch {
	case g.opts.SourceFile != "":
		u.cw.SetSourceFile(g.opts.SourceFile)
	case d.SourceFile != "":
		u.cw.SetSourceFile(d.SourceFile)
	}

	var instanceInit, staticInit []ast.Instruction
	for _, f := range d.Fields {
		cv, isConst := constantValue(f)
		u.cw.Field(memberFlags(f.Modifiers, true), f.Name, f.Type.Descriptor(), cv)
		if f.Value == nil || isConst {
			continue
		}
		store := &ast.FieldStore{Owner: self, Name: f.Name, Type: f.Type, Value: f.Value, Static: f.Modifiers.Has(ast.Static)}
		if store.Static {
			staticInit = append(staticInit, store)
		} else {
			instanceInit = append(instanceInit, store)
		}
	}

	ctors := d.Constructors
	if len(ctors) == 0 && !d.Interface {
		ctors = []*ast.Method{{Modifiers: ast.Public, Name: ast.ConstructorName, Body: []ast.Instruction{}}}
	}
	for _, m := range ctors {
		if err := g.lowerMethod(u, m, instanceInit); err != nil {
			return Unit{}, err
		}
	}

	clinit := false
	for _, m := range d.Methods {
		if m.Name == ast.StaticInitializerName {
			clinit = true
		}
		var prologue []ast.Instruction
		if m.Name == ast.StaticInitializerName {
			prologue = staticInit
		}
		if err := g.lowerMethod(u, m, prologue); err != nil {
			return Unit{}, err
		}
	}
	if !clinit && len(staticInit) > 0 {
		m := &ast.Method{Modifiers: ast.Static, Name: ast.StaticInitializerName, Body: []ast.Instruction{}}
		if err := g.lowerMethod(u, m, staticInit); err != nil {
			return Unit{}, err
		}
	}

	// Closures lowered above may queue further closures.
	for i := 0; i < len(u.queue); i++ {
		p := u.queue[i]
		if err := g.lowerSynthetic(u, p.method, p.base); err != nil {
			return Unit{}, err
		}
	}

	if u.indyConcat && u.cw.Version() < classfile.Java9 {
		log.Debugf("%s: raising class version to %d for indy concatenation", d.Name, classfile.Java9)
		u.cw.SetVersion(classfile.Java9)
	}
	data, err := u.cw.Bytes()
	if err != nil {
		return Unit{}, &ConstructionError{Unit: d.Name, Err: err}
	}
	log.Debugf("%s: %d method(s), %d byte(s)", d.Name, len(u.cw.Methods()), len(data))
	return Unit{Name: d.Name, Bytes: data}, nil
}

func (g *Generator) lowerMethod(u *unitState, m *ast.Method, prologue []ast.Instruction) error {
	return g.lowerBody(u, m, syntheticBase(m.Name), prologue)
}

func (g *Generator) lowerSynthetic(u *unitState, m *ast.Method, base string) error {
	return g.lowerBody(u, m, base, nil)
}

func (g *Generator) lowerBody(u *unitState, m *ast.Method, base string, prologue []ast.Instruction) error {
	spec := m.Spec()
	desc := spec.Descriptor()
	fail := func(err error) error {
		return &ConstructionError{Unit: u.decl.Name, Member: m.Name + desc, Err: err}
	}
	flags := memberFlags(m.Modifiers, false)
	if u.decl.Interface && !m.Modifiers.Has(ast.Private) && m.Name != ast.StaticInitializerName {
		flags |= classfile.AccPublic
	}
	if m.IsAbstract() {
		if m.IsConstructor() {
			return fail(fmt.Errorf("%w: constructor without body", ErrTypeMismatch))
		}
		u.cw.AbstractMethod(flags|classfile.AccAbstract, m.Name, desc)
		return nil
	}

	code := u.cw.Method(flags, m.Name, desc)
	c := newContext(g.table, g.opts, code)
	c.unit = u
	c.self = u.decl.Type()
	c.static = m.IsStatic()
	c.ret = spec.Return
	c.member = base
	c.begin(m.Params, m.IsConstructor())
	c.startLines(m.Line)

	body := m.Body
	if m.IsConstructor() {
		var first ast.Instruction
		if len(body) > 0 {
			first = unwrapLine(body[0])
		}
		if inv, ok := first.(*ast.Invoke); ok && inv.IsSuperConstructorCall() {
			if err := c.Statements(body[:1]); err != nil {
				return fail(err)
			}
			body = body[1:]
			if inv.Owner.Is(c.self) {
				// this(...) runs the initializers itself.
				prologue = nil
			}
		} else {
			super := ast.SuperConstructor(u.decl.SuperType(), ast.Spec(ast.Void))
			if err := c.Statements([]ast.Instruction{super}); err != nil {
				return fail(err)
			}
		}
	}
	if err := c.Statements(prologue); err != nil {
		return fail(err)
	}
	if err := c.Statements(body); err != nil {
		return fail(err)
	}
	if c.reachable && spec.Return.IsVoid() && g.opts.ImplicitReturn {
		c.w.Insn(classfile.RETURN)
		c.unreachable()
	}
	c.end()
	if err := c.finish(); err != nil {
		return fail(err)
	}
	code.SetMaxs(c.maxStack, c.alloc.Max())
	return nil
}
