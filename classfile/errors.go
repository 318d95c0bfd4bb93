package classfile

import "errors"

var (
	// ErrPoolOverflow is returned when a class needs more than 65535
	// constant pool entries.
	ErrPoolOverflow = errors.New("classfile: constant pool overflow")

	// ErrBranchOutOfRange is returned when a branch target does not fit
	// a signed 16-bit offset.
	ErrBranchOutOfRange = errors.New("classfile: branch offset out of range")

	// ErrCodeTooLarge is returned when a method body exceeds 65535 bytes.
	ErrCodeTooLarge = errors.New("classfile: method code too large")

	// ErrUnresolvedLabel is returned when a referenced label was never marked.
	ErrUnresolvedLabel = errors.New("classfile: unresolved label")

	// ErrLabelRedefined is returned when a label is marked twice.
	ErrLabelRedefined = errors.New("classfile: label marked twice")

	// ErrMalformed is returned by the reader for truncated or invalid input.
	ErrMalformed = errors.New("classfile: malformed class file")
)
