package codegen

import (
	"fmt"
	"slices"
	"unicode/utf16"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// Switch
// ---------------------------------------------------------------------------

var (
	ordinalSpec  = ast.Spec(ast.Int)
	hashCodeSpec = ast.Spec(ast.Int)
	equalsSpec   = ast.Spec(ast.Boolean, ast.Object)
)

func lowerSwitch(c *Context, n *ast.Switch) error {
	labels := make([]*Label, len(n.Cases))
	for i := range labels {
		labels[i] = c.NewLabel()
	}
	end := c.NewLabel()
	dflt := end
	for i, cs := range n.Cases {
		if cs.IsDefault() {
			if dflt != end {
				return fmt.Errorf("%w: more than one default", ErrDuplicateCase)
			}
			dflt = labels[i]
		}
	}

	c.EnterScope()
	var err error
	switch n.Mode {
	case ast.SwitchNumeric:
		err = c.numericDispatch(n, labels, dflt)
	case ast.SwitchOrdinal:
		err = c.ordinalDispatch(n, labels, dflt)
	case ast.SwitchString:
		err = c.stringDispatch(n, labels, dflt)
	default:
		err = fmt.Errorf("%w: switch mode %s", ErrUnsupportedInstruction, n.Mode)
	}
	if err != nil {
		return err
	}

	c.pushFlow(&flowEntry{kind: flowSwitch, brk: end})
	for i, cs := range n.Cases {
		if err := c.Mark(labels[i]); err != nil {
			return err
		}
		if err := c.Statements(cs.Body); err != nil {
			return err
		}
	}
	c.popFlow()
	if err := c.Mark(end); err != nil {
		return err
	}
	c.ExitScope()
	return nil
}

// caseKeys collects one key per non-default case, rejecting duplicates.
func caseKeys(n *ast.Switch, key func(ast.Instruction) (int32, error)) ([]int32, []int, error) {
	var keys []int32
	var cases []int
	seen := make(map[int32]bool)
	for i, cs := range n.Cases {
		if cs.IsDefault() {
			continue
		}
		k, err := key(cs.Value)
		if err != nil {
			return nil, nil, err
		}
		if seen[k] {
			return nil, nil, fmt.Errorf("%w: %d", ErrDuplicateCase, k)
		}
		seen[k] = true
		keys = append(keys, k)
		cases = append(cases, i)
	}
	return keys, cases, nil
}

func unwrapLine(in ast.Instruction) ast.Instruction {
	for {
		l, ok := in.(*ast.Line)
		if !ok {
			return in
		}
		in = l.Instruction
	}
}

func (c *Context) numericDispatch(n *ast.Switch, labels []*Label, dflt *Label) error {
	kt := c.typeOf(n.Value).Unboxed()
	if !kt.IsIntLike() || kt.Is(ast.Boolean) {
		return fmt.Errorf("%w: switch on %s", ErrTypeMismatch, kt)
	}
	keys, cases, err := caseKeys(n, func(in ast.Instruction) (int32, error) {
		lit, ok := unwrapLine(in).(*ast.Literal)
		if !ok {
			return 0, fmt.Errorf("%w: case %T is not a literal", ErrTypeMismatch, in)
		}
		v, ok := intValue(lit.Value)
		if !ok {
			return 0, fmt.Errorf("%w: case literal %T", ErrTypeMismatch, lit.Value)
		}
		return int32(v), nil
	})
	if err != nil {
		return err
	}
	if err := c.lowerAs(n.Value, kt); err != nil {
		return err
	}
	return c.dispatch(keys, pick(labels, cases), dflt)
}

func (c *Context) ordinalDispatch(n *ast.Switch, labels []*Label, dflt *Label) error {
	keys, cases, err := caseKeys(n, func(in ast.Instruction) (int32, error) {
		ec, ok := unwrapLine(in).(*ast.EnumConstant)
		if !ok {
			return 0, fmt.Errorf("%w: case %T is not an enum constant", ErrTypeMismatch, in)
		}
		return int32(ec.Ordinal), nil
	})
	if err != nil {
		return err
	}
	if err := c.Lower(n.Value); err != nil {
		return err
	}
	owner := c.typeOf(n.Value)
	if !owner.IsReference() {
		owner = ast.Enum
	}
	c.invoke(ast.InvokeVirtual, owner, "ordinal", ordinalSpec, false)
	return c.dispatch(keys, pick(labels, cases), dflt)
}

func (c *Context) stringDispatch(n *ast.Switch, labels []*Label, dflt *Label) error {
	type entry struct {
		value string
		label *Label
	}
	buckets := make(map[int32][]entry)
	seen := make(map[string]bool)
	for i, cs := range n.Cases {
		if cs.IsDefault() {
			continue
		}
		lit, ok := unwrapLine(cs.Value).(*ast.Literal)
		if !ok {
			return fmt.Errorf("%w: case %T is not a literal", ErrTypeMismatch, cs.Value)
		}
		s, ok := lit.Value.(string)
		if !ok {
			return fmt.Errorf("%w: case literal %T in string switch", ErrTypeMismatch, lit.Value)
		}
		if seen[s] {
			return fmt.Errorf("%w: %q", ErrDuplicateCase, s)
		}
		seen[s] = true
		h := StringHash(s)
		buckets[h] = append(buckets[h], entry{s, labels[i]})
	}

	if err := c.lowerAs(n.Value, ast.String); err != nil {
		return err
	}
	key, err := c.temp(ast.String)
	if err != nil {
		return err
	}

	hashes := make([]int32, 0, len(buckets))
	for h := range buckets {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)
	targets := make([]*Label, len(hashes))
	for i := range targets {
		targets[i] = c.NewLabel()
	}

	c.load(ast.String, key)
	c.invoke(ast.InvokeVirtual, ast.String, "hashCode", hashCodeSpec, false)
	if err := c.dispatch(hashes, targets, dflt); err != nil {
		return err
	}

	for i, h := range hashes {
		if err := c.Mark(targets[i]); err != nil {
			return err
		}
		for _, e := range buckets[h] {
			c.load(ast.String, key)
			c.pushString(e.value)
			c.invoke(ast.InvokeVirtual, ast.String, "equals", equalsSpec, false)
			if err := c.jumpPop(classfile.IFNE, e.label); err != nil {
				return err
			}
		}
		if err := c.Jump(classfile.GOTO, dflt); err != nil {
			return err
		}
	}
	return nil
}

func pick(labels []*Label, idx []int) []*Label {
	out := make([]*Label, len(idx))
	for i, j := range idx {
		out[i] = labels[j]
	}
	return out
}

// dispatch pops the int key and emits a tableswitch or lookupswitch.
func (c *Context) dispatch(keys []int32, targets []*Label, dflt *Label) error {
	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		switch {
		case keys[a] < keys[b]:
			return -1
		case keys[a] > keys[b]:
			return 1
		}
		return 0
	})
	sorted := make([]int32, len(keys))
	sortedTargets := make([]*Label, len(keys))
	for i, j := range order {
		sorted[i] = keys[j]
		sortedTargets[i] = targets[j]
	}

	c.pop()
	if err := c.flowInto(dflt); err != nil {
		return err
	}
	for _, t := range sortedTargets {
		if err := c.flowInto(t); err != nil {
			return err
		}
	}

	if len(sorted) > 0 && UseTableSwitch(sorted[0], sorted[len(sorted)-1], len(sorted)) {
		lo, hi := sorted[0], sorted[len(sorted)-1]
		table := make([]*classfile.Label, int(int64(hi)-int64(lo)+1))
		for i := range table {
			table[i] = dflt.l
		}
		for i, k := range sorted {
			table[int(int64(k)-int64(lo))] = sortedTargets[i].l
		}
		c.w.TableSwitchInsn(lo, hi, dflt.l, table)
	} else {
		raw := make([]*classfile.Label, len(sortedTargets))
		for i, t := range sortedTargets {
			raw[i] = t.l
		}
		c.w.LookupSwitchInsn(dflt.l, sorted, raw)
	}
	c.unreachable()
	return nil
}

// UseTableSwitch applies javac's cost rule to a sorted key range.
func UseTableSwitch(lo, hi int32, n int) bool {
	tableSpace := 4 + (int64(hi) - int64(lo) + 1)
	tableTime := int64(3)
	lookupSpace := 3 + 2*int64(n)
	lookupTime := int64(n)
	return tableSpace+3*tableTime <= lookupSpace+3*lookupTime
}

// StringHash computes java.lang.String.hashCode over UTF-16 code units.
func StringHash(s string) int32 {
	var h int32
	for _, u := range utf16.Encode([]rune(s)) {
		h = 31*h + int32(u)
	}
	return h
}
