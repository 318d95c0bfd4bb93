package codegen

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/classgen/verify"
)

// Construction errors. They abort the unit being lowered; sibling units
// are unaffected.
var (
	ErrUnsupportedInstruction = errors.New("no processor registered for instruction kind")
	ErrUnknownVariable        = errors.New("unknown variable")
	ErrBreakOutsideLoop       = errors.New("break outside loop or switch")
	ErrContinueOutsideLoop    = errors.New("continue outside loop")
	ErrUnresolvedLabel        = errors.New("label referenced but never marked")
	ErrLabelRedefined         = errors.New("label marked twice")
	ErrUnplacedLabel          = errors.New("label created but never marked")
	ErrDuplicateCase          = errors.New("duplicate case key")
	ErrStackMismatch          = errors.New("operand stack mismatch")
	ErrSlotConflict           = errors.New("local slot conflict")
	ErrFragmentSynthetic      = errors.New("closures and local code need an enclosing declaration")
	ErrTypeMismatch           = errors.New("type mismatch")
)

// ConstructionError reports a malformed input tree for one member of one
// unit.
type ConstructionError struct {
	Unit   string // qualified declaration name
	Member string // name and descriptor, empty for class-level problems
	Err    error
}

func (e *ConstructionError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("%s: %v", e.Unit, e.Err)
	}
	return fmt.Sprintf("%s.%s: %v", e.Unit, e.Member, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// VerificationError reports units that were assembled but failed
// verification. Units holds every unit produced by the run, including
// the failing ones.
type VerificationError struct {
	Units    []Unit
	Problems []verify.Problem
}

func (e *VerificationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "verification failed with %d problem(s)", len(e.Problems))
	for i, p := range e.Problems {
		if i == 3 {
			fmt.Fprintf(&b, "; ...")
			break
		}
		fmt.Fprintf(&b, "; %s", p)
	}
	return b.String()
}
