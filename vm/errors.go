package vm

import (
	"errors"
	"fmt"
)

// Fatal conditions. These never enter exception unwinding and terminate the
// top-level Invoke.
var (
	ErrBadBytecode    = errors.New("vm: bad bytecode")
	ErrInvalidProgram = errors.New("vm: invalid program")
	ErrStackUnderflow = errors.New("vm: stack underflow")
	ErrCallDepth      = errors.New("vm: call depth exceeded")
)

// Catchable conditions raised by the core.
var (
	ErrOverflow        = errors.New("vm: arithmetic overflow")
	ErrDivideByZero    = errors.New("vm: divide by zero")
	ErrInvalidCast     = errors.New("vm: invalid cast")
	ErrNullReference   = errors.New("vm: null reference")
	ErrIndexOutOfRange = errors.New("vm: index out of range")
	ErrOutOfMemory     = errors.New("vm: allocation exceeds limit")
	ErrHostPanic       = errors.New("vm: host panic")
)

// FaultKind classifies a catchable fault.
type FaultKind uint8

const (
	FaultArithmetic FaultKind = iota + 1
	FaultCast
	FaultNull
	FaultRange
	FaultHost
	FaultThrow
	FaultMemory
)

var faultKindNames = map[FaultKind]string{
	FaultArithmetic: "arithmetic",
	FaultCast:       "cast",
	FaultNull:       "null",
	FaultRange:      "range",
	FaultHost:       "host",
	FaultThrow:      "throw",
	FaultMemory:     "memory",
}

func (k FaultKind) String() string {
	if s, ok := faultKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("fault(%d)", uint8(k))
}

// Fault is a catchable exception in flight. Object is the host exception
// object handlers observe; Err is the underlying cause.
type Fault struct {
	Kind   FaultKind
	Offset int
	Object Value
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("vm: %s fault at %04d: %v", f.Kind, f.Offset, f.Err)
	}
	return fmt.Sprintf("vm: %s fault at %04d: %v", f.Kind, f.Offset, f.Object)
}

func (f *Fault) Unwrap() error { return f.Err }

// faultKindOf maps a core sentinel to its fault kind.
func faultKindOf(err error) FaultKind {
	switch {
	case errors.Is(err, ErrOverflow), errors.Is(err, ErrDivideByZero):
		return FaultArithmetic
	case errors.Is(err, ErrInvalidCast):
		return FaultCast
	case errors.Is(err, ErrNullReference):
		return FaultNull
	case errors.Is(err, ErrIndexOutOfRange):
		return FaultRange
	case errors.Is(err, ErrOutOfMemory):
		return FaultMemory
	}
	return FaultHost
}

// IsFatal reports whether err is an uncatchable interpreter condition.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadBytecode) ||
		errors.Is(err, ErrInvalidProgram) ||
		errors.Is(err, ErrStackUnderflow) ||
		errors.Is(err, ErrCallDepth)
}
