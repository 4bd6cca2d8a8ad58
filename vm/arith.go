package vm

import (
	"math"
	"math/bits"
)

// ---------------------------------------------------------------------------
// Numeric kind resolution
// ---------------------------------------------------------------------------

// numClass is the arithmetic class an operand participates in.
type numClass uint8

const (
	numNone numClass = iota
	numInt32
	numNative
	numInt64
	numFloat32
	numFloat64
	numPointer
)

func (c numClass) width() int {
	switch c {
	case numInt32:
		return 4
	case numNative, numPointer:
		return NativeSize
	}
	return 8
}

func classOf(v Value) numClass {
	switch v.kind {
	case KindBool, KindChar, KindInt8, KindUint8, KindInt16, KindUint16, KindInt32, KindUint32:
		return numInt32
	case KindInt64, KindUint64:
		return numInt64
	case KindNativeInt, KindNativeUint:
		return numNative
	case KindFloat32:
		return numFloat32
	case KindFloat64:
		return numFloat64
	case KindPointer:
		return numPointer
	case KindEnum:
		if v.typ != nil && v.typ.Elem() != nil && v.typ.Elem().Kind().width() == 8 {
			return numInt64
		}
		return numInt32
	}
	return numNone
}

// commonClass resolves the class two operands are combined in. A pointer
// combined with an integer stays a pointer and keeps its declared type.
func commonClass(a, b Value) (numClass, Type) {
	ca, cb := classOf(a), classOf(b)
	switch {
	case ca == numNone || cb == numNone:
		return numNone, nil
	case ca == numPointer && cb == numPointer:
		return numNative, nil
	case ca == numPointer:
		if cb == numFloat32 || cb == numFloat64 {
			return numNone, nil
		}
		return numPointer, a.typ
	case cb == numPointer:
		if ca == numFloat32 || ca == numFloat64 {
			return numNone, nil
		}
		return numPointer, b.typ
	case ca == numFloat64 || cb == numFloat64:
		return numFloat64, nil
	case ca == numFloat32 || cb == numFloat32:
		return numFloat32, nil
	case ca == numNative || cb == numNative:
		return numNative, nil
	case ca == numInt64 || cb == numInt64:
		return numInt64, nil
	}
	return numInt32, nil
}

func sarg(v Value, w int) int64  { return truncSigned(v.Int64(), w) }
func uarg(v Value, w int) uint64 { return truncUnsigned(v.Uint64(), w) }

func umax(w int) uint64 { return truncUnsigned(math.MaxUint64, w) }

func smin(w int) int64 {
	if w == 8 {
		return math.MinInt64
	}
	return -1 << (uint(w)*8 - 1)
}

func makeInt(c numClass, n uint64, ptr Type) Value {
	switch c {
	case numInt32:
		return FromInt32(int32(n))
	case numNative:
		return FromNativeInt(int64(n))
	case numPointer:
		return FromPointer(ptr, n)
	}
	return FromInt64(int64(n))
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

// ArithFlags select the overflow-checked and unsigned variants of an
// arithmetic operation.
type ArithFlags uint8

const (
	Checked ArithFlags = 1 << iota
	Unsigned
)

// Add adds two stack values. Unchecked integer addition wraps.
func Add(a, b Value, f ArithFlags) (Value, error) {
	c, pt := commonClass(a, b)
	switch c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(a.Float32() + b.Float32()), nil
	case numFloat64:
		return FromFloat64(a.Float64() + b.Float64()), nil
	}
	w := c.width()
	if f&Checked != 0 {
		if f&Unsigned != 0 {
			x, y := uarg(a, w), uarg(b, w)
			s, carry := bits.Add64(x, y, 0)
			if carry != 0 || s > umax(w) {
				return Value{}, ErrOverflow
			}
			return makeInt(c, s, pt), nil
		}
		x, y := sarg(a, w), sarg(b, w)
		s := x + y
		if w == 8 && (x^s)&(y^s) < 0 || w < 8 && s != truncSigned(s, w) {
			return Value{}, ErrOverflow
		}
		return makeInt(c, uint64(s), pt), nil
	}
	return makeInt(c, uint64(sarg(a, w)+sarg(b, w)), pt), nil
}

// Sub subtracts b from a.
func Sub(a, b Value, f ArithFlags) (Value, error) {
	c, pt := commonClass(a, b)
	switch c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(a.Float32() - b.Float32()), nil
	case numFloat64:
		return FromFloat64(a.Float64() - b.Float64()), nil
	}
	w := c.width()
	if f&Checked != 0 {
		if f&Unsigned != 0 {
			x, y := uarg(a, w), uarg(b, w)
			if x < y {
				return Value{}, ErrOverflow
			}
			return makeInt(c, x-y, pt), nil
		}
		x, y := sarg(a, w), sarg(b, w)
		d := x - y
		if w == 8 && (x^y)&(x^d) < 0 || w < 8 && d != truncSigned(d, w) {
			return Value{}, ErrOverflow
		}
		return makeInt(c, uint64(d), pt), nil
	}
	return makeInt(c, uint64(sarg(a, w)-sarg(b, w)), pt), nil
}

// Mul multiplies two stack values.
func Mul(a, b Value, f ArithFlags) (Value, error) {
	c, pt := commonClass(a, b)
	switch c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(a.Float32() * b.Float32()), nil
	case numFloat64:
		return FromFloat64(a.Float64() * b.Float64()), nil
	}
	w := c.width()
	if f&Checked != 0 {
		if f&Unsigned != 0 {
			x, y := uarg(a, w), uarg(b, w)
			hi, lo := bits.Mul64(x, y)
			if hi != 0 || lo > umax(w) {
				return Value{}, ErrOverflow
			}
			return makeInt(c, lo, pt), nil
		}
		x, y := sarg(a, w), sarg(b, w)
		p := x * y
		if w < 8 {
			if p != truncSigned(p, w) {
				return Value{}, ErrOverflow
			}
		} else if x != 0 && (p/x != y || (x == -1 && y == math.MinInt64)) {
			return Value{}, ErrOverflow
		}
		return makeInt(c, uint64(p), pt), nil
	}
	return makeInt(c, uint64(sarg(a, w)*sarg(b, w)), pt), nil
}

// Div divides a by b. Integer division by zero is ErrDivideByZero and the
// signed quotient MinValue / -1 is ErrOverflow.
func Div(a, b Value, f ArithFlags) (Value, error) {
	c, pt := commonClass(a, b)
	switch c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(a.Float32() / b.Float32()), nil
	case numFloat64:
		return FromFloat64(a.Float64() / b.Float64()), nil
	}
	w := c.width()
	if f&Unsigned != 0 {
		x, y := uarg(a, w), uarg(b, w)
		if y == 0 {
			return Value{}, ErrDivideByZero
		}
		return makeInt(c, x/y, pt), nil
	}
	x, y := sarg(a, w), sarg(b, w)
	if y == 0 {
		return Value{}, ErrDivideByZero
	}
	if y == -1 && x == smin(w) {
		return Value{}, ErrOverflow
	}
	return makeInt(c, uint64(x/y), pt), nil
}

// Rem computes the remainder of a / b with the sign of a.
func Rem(a, b Value, f ArithFlags) (Value, error) {
	c, pt := commonClass(a, b)
	switch c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(float32(math.Mod(float64(a.Float32()), float64(b.Float32())))), nil
	case numFloat64:
		return FromFloat64(math.Mod(a.Float64(), b.Float64())), nil
	}
	w := c.width()
	if f&Unsigned != 0 {
		x, y := uarg(a, w), uarg(b, w)
		if y == 0 {
			return Value{}, ErrDivideByZero
		}
		return makeInt(c, x%y, pt), nil
	}
	x, y := sarg(a, w), sarg(b, w)
	if y == 0 {
		return Value{}, ErrDivideByZero
	}
	if y == -1 && x == smin(w) {
		return Value{}, ErrOverflow
	}
	return makeInt(c, uint64(x%y), pt), nil
}

type bitwiseOp uint8

const (
	bitAnd bitwiseOp = iota
	bitOr
	bitXor
)

func bitwise(a, b Value, op bitwiseOp) (Value, error) {
	c, pt := commonClass(a, b)
	if c == numNone || c == numFloat32 || c == numFloat64 {
		return Value{}, ErrInvalidProgram
	}
	x, y := a.Uint64(), b.Uint64()
	var r uint64
	switch op {
	case bitAnd:
		r = x & y
	case bitOr:
		r = x | y
	default:
		r = x ^ y
	}
	return makeInt(c, r, pt), nil
}

func And(a, b Value) (Value, error) { return bitwise(a, b, bitAnd) }
func Or(a, b Value) (Value, error)  { return bitwise(a, b, bitOr) }
func Xor(a, b Value) (Value, error) { return bitwise(a, b, bitXor) }

func shiftOperands(a, n Value) (numClass, uint, error) {
	c := classOf(a)
	if c == numNone || c == numFloat32 || c == numFloat64 {
		return numNone, 0, ErrInvalidProgram
	}
	if cn := classOf(n); cn == numNone || cn == numFloat32 || cn == numFloat64 {
		return numNone, 0, ErrInvalidProgram
	}
	return c, uint(n.Int64()) & uint(c.width()*8-1), nil
}

// Shl shifts a left by n. The shift count is masked to the operand width.
func Shl(a, n Value) (Value, error) {
	c, s, err := shiftOperands(a, n)
	if err != nil {
		return Value{}, err
	}
	return makeInt(c, a.Uint64()<<s, a.typ), nil
}

// Shr shifts a right by n, arithmetically unless Unsigned is set.
func Shr(a, n Value, f ArithFlags) (Value, error) {
	c, s, err := shiftOperands(a, n)
	if err != nil {
		return Value{}, err
	}
	w := c.width()
	if f&Unsigned != 0 {
		return makeInt(c, uarg(a, w)>>s, a.typ), nil
	}
	return makeInt(c, uint64(sarg(a, w)>>s), a.typ), nil
}

// Neg negates a.
func Neg(a Value) (Value, error) {
	switch c := classOf(a); c {
	case numNone:
		return Value{}, ErrInvalidProgram
	case numFloat32:
		return FromFloat32(-a.Float32()), nil
	case numFloat64:
		return FromFloat64(-a.Float64()), nil
	default:
		return makeInt(c, uint64(-a.Int64()), a.typ), nil
	}
}

// Not complements the bits of a.
func Not(a Value) (Value, error) {
	c := classOf(a)
	if c == numNone || c == numFloat32 || c == numFloat64 {
		return Value{}, ErrInvalidProgram
	}
	return makeInt(c, ^a.Uint64(), a.typ), nil
}

// Compare orders a against b and returns -1, 0 or 1. Handles compare by
// identity with null ordered first. When the operands are unordered (a NaN
// is involved, or a handle meets a number) def is returned.
func Compare(a, b Value, unsigned bool, def int) int {
	c, _ := commonClass(a, b)
	switch c {
	case numNone:
		if a.isNumeric() || b.isNumeric() {
			return def
		}
		if a.Equal(b) || (a.IsNull() && b.IsNull()) {
			return 0
		}
		if b.IsNull() {
			return 1
		}
		return -1
	case numFloat32, numFloat64:
		x, y := a.Float64(), b.Float64()
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			return def
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	w := c.width()
	if unsigned {
		x, y := uarg(a, w), uarg(b, w)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	x, y := sarg(a, w), sarg(b, w)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
