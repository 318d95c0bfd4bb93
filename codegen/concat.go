package codegen

import (
	"fmt"
	"strings"

	"github.com/chazu/classgen/ast"
	"github.com/chazu/classgen/classfile"
)

// ---------------------------------------------------------------------------
// String concatenation
// ---------------------------------------------------------------------------

var (
	stringBuilder = ast.ClassType("java.lang.StringBuilder")
	charSequence  = ast.ClassType("java.lang.CharSequence")

	concatFactory = classfile.Handle{
		Kind:  classfile.RefInvokeStatic,
		Owner: "java/lang/invoke/StringConcatFactory",
		Name:  "makeConcatWithConstants",
		Desc: "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;" +
			"Ljava/lang/String;[Ljava/lang/Object;)Ljava/lang/invoke/CallSite;",
	}
)

const (
	recipeArg      = "\u0001"
	recipeConstant = "\u0002"
)

// flattenConcat inlines nested concatenations.
func flattenConcat(parts []ast.Instruction) []ast.Instruction {
	var out []ast.Instruction
	for _, p := range parts {
		if inner, ok := unwrapLine(p).(*ast.Concat); ok {
			out = append(out, flattenConcat(inner.Parts)...)
			continue
		}
		out = append(out, p)
	}
	return out
}

func stringLiteral(in ast.Instruction) (string, bool) {
	lit, ok := unwrapLine(in).(*ast.Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func lowerConcat(c *Context, n *ast.Concat) error {
	parts := flattenConcat(n.Parts)

	var folded strings.Builder
	constant := true
	for _, p := range parts {
		s, ok := stringLiteral(p)
		if !ok {
			constant = false
			break
		}
		folded.WriteString(s)
	}
	if constant {
		c.pushString(folded.String())
		return nil
	}

	if c.opts.Concat == ConcatIndy {
		return c.concatIndy(parts)
	}
	return c.concatBuilder(parts)
}

// appendParam picks the StringBuilder.append overload for a part.
func appendParam(t ast.Type) ast.Type {
	switch {
	case t.Is(ast.Byte), t.Is(ast.Short):
		return ast.Int
	case t.IsPrimitive(), t.Is(ast.String), t.Is(charSequence):
		return t
	}
	return ast.Object
}

func (c *Context) concatBuilder(parts []ast.Instruction) error {
	if err := c.Lower(&ast.New{Type: stringBuilder, Spec: ast.Spec(ast.Void)}); err != nil {
		return err
	}
	for _, p := range parts {
		t := c.typeOf(p)
		if t.IsVoid() || !t.IsValid() {
			return fmt.Errorf("%w: void part in concatenation", ErrTypeMismatch)
		}
		if err := c.Lower(p); err != nil {
			return err
		}
		c.invoke(ast.InvokeVirtual, stringBuilder, "append", ast.Spec(stringBuilder, appendParam(t)), false)
	}
	c.invoke(ast.InvokeVirtual, stringBuilder, "toString", ast.Spec(ast.String), false)
	return nil
}

func (c *Context) concatIndy(parts []ast.Instruction) error {
	var recipe strings.Builder
	var constants []any
	var args []ast.Type
	for _, p := range parts {
		if s, ok := stringLiteral(p); ok {
			if strings.ContainsAny(s, recipeArg+recipeConstant) {
				recipe.WriteString(recipeConstant)
				constants = append(constants, s)
			} else {
				recipe.WriteString(s)
			}
			continue
		}
		t := c.typeOf(p)
		if t.IsVoid() || !t.IsValid() {
			return fmt.Errorf("%w: void part in concatenation", ErrTypeMismatch)
		}
		if err := c.Lower(p); err != nil {
			return err
		}
		recipe.WriteString(recipeArg)
		args = append(args, t)
	}
	bsmArgs := append([]any{recipe.String()}, constants...)
	spec := ast.Spec(ast.String, args...)
	c.w.InvokeDynamicInsn("makeConcatWithConstants", spec.Descriptor(), concatFactory, bsmArgs...)
	c.popN(len(args))
	c.pushType(ast.String)
	if c.unit != nil {
		c.unit.indyConcat = true
	}
	return nil
}
