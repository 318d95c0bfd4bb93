package codegen

import "github.com/chazu/classgen/ast"

// Line numbers. The cursor holds the last line recorded in the method.

func (c *Context) startLines(first int) {
	switch c.opts.Lines {
	case LinesIncremental:
		c.line = max(first, 1) - 1
	case LinesFollowSource:
		if first > 0 {
			c.recordLine(first)
		}
	}
}

// stepLine runs before every statement.
func (c *Context) stepLine() {
	if c.opts.Lines == LinesIncremental {
		c.recordLine(c.line + 1)
	}
}

func (c *Context) recordLine(n int) {
	at := c.w.NewLabel()
	c.w.Mark(at)
	c.w.LineNumber(n, at)
	c.line = n
}

func lowerLine(c *Context, n *ast.Line) error {
	if c.opts.Lines == LinesFollowSource && n.Number > c.line {
		c.recordLine(n.Number)
	}
	return c.Lower(n.Instruction)
}
