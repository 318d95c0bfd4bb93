package codegen

import (
	"fmt"

	"github.com/chazu/classgen/classfile"
)

// LineStrategy selects how LineNumberTable entries are produced.
type LineStrategy uint8

const (
	// LinesOff emits no line numbers.
	LinesOff LineStrategy = iota
	// LinesIncremental numbers statements 1, 2, 3, ... in lowering order.
	LinesIncremental
	// LinesFollowSource uses the lines declared on ast.Line nodes and
	// Method.Line. The cursor never moves backwards.
	LinesFollowSource
)

var lineNames = map[LineStrategy]string{
	LinesOff:          "off",
	LinesIncremental:  "incremental",
	LinesFollowSource: "follow-source",
}

func (s LineStrategy) String() string {
	if n, ok := lineNames[s]; ok {
		return n
	}
	return fmt.Sprintf("LineStrategy(%d)", uint8(s))
}

// ParseLineStrategy parses the name used in configuration files.
func ParseLineStrategy(name string) (LineStrategy, error) {
	for s, n := range lineNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown line strategy %q", name)
}

// ConcatStrategy selects how ast.Concat is lowered.
type ConcatStrategy uint8

const (
	// ConcatBuilder appends each part to a StringBuilder.
	ConcatBuilder ConcatStrategy = iota
	// ConcatIndy uses StringConcatFactory.makeConcatWithConstants.
	ConcatIndy
)

var concatNames = map[ConcatStrategy]string{
	ConcatBuilder: "builder",
	ConcatIndy:    "indy",
}

func (s ConcatStrategy) String() string {
	if n, ok := concatNames[s]; ok {
		return n
	}
	return fmt.Sprintf("ConcatStrategy(%d)", uint8(s))
}

// ParseConcatStrategy parses the name used in configuration files.
func ParseConcatStrategy(name string) (ConcatStrategy, error) {
	for s, n := range concatNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown concat strategy %q", name)
}

// Options is the configuration snapshot for one generation run.
type Options struct {
	Lines  LineStrategy
	Concat ConcatStrategy

	// Verify runs the verifier over every assembled unit.
	Verify bool

	// ClassVersion is the major class file version; indy concatenation
	// raises it to at least 53.
	ClassVersion uint16

	// Parallelism bounds how many declarations are lowered at once.
	Parallelism int

	// ImplicitReturn appends a return to void bodies that can complete
	// normally. Disabling it is a debugging aid.
	ImplicitReturn bool

	// SourceFile, if set, overrides the SourceFile attribute of every unit.
	SourceFile string
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		Lines:          LinesOff,
		Concat:         ConcatBuilder,
		Verify:         true,
		ClassVersion:   classfile.Java8,
		Parallelism:    1,
		ImplicitReturn: true,
	}
}
