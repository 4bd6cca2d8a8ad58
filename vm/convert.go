package vm

import (
	"math"
	"math/bits"
)

// NativeSize is the byte width of NativeInt, NativeUint and Pointer values.
// Hosts reading or writing raw memory must use the same width.
const NativeSize = bits.UintSize / 8

func truncSigned(n int64, size int) int64 {
	switch size {
	case 1:
		return int64(int8(n))
	case 2:
		return int64(int16(n))
	case 4:
		return int64(int32(n))
	}
	return n
}

func truncUnsigned(n uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(uint8(n))
	case 2:
		return uint64(uint16(n))
	case 4:
		return uint64(uint32(n))
	}
	return n
}

const (
	two63 = 9223372036854775808.0
	two64 = 18446744073709551616.0
)

func floatToInt64(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= two63:
		return math.MaxInt64
	case f < -two63:
		return math.MinInt64
	}
	return int64(f)
}

func floatToUint64(f float64) uint64 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= two64:
		return math.MaxUint64
	}
	return uint64(f)
}

func floatToInt32(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	}
	return int32(f)
}

func floatToUint32(f float64) uint32 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(f)
}

// asUnsigned reinterprets an integer stack value as unsigned at its own width.
func (v Value) asUnsigned() uint64 {
	switch v.kind {
	case KindInt32:
		return uint64(uint32(v.bits))
	case KindNativeInt, KindPointer:
		return truncUnsigned(v.bits, NativeSize)
	case KindEnum:
		if v.typ != nil && v.typ.Elem() != nil {
			return truncUnsigned(v.bits, v.typ.Elem().Kind().width())
		}
	}
	return v.bits
}

// convertKind performs an unchecked conversion to a primitive numeric kind.
func convertKind(v Value, k Kind) Value {
	switch k {
	case KindBool:
		return FromBool(v.Bool())
	case KindChar:
		return FromChar(v.Char())
	case KindInt8:
		return FromInt8(v.Int8())
	case KindUint8:
		return FromUint8(v.Uint8())
	case KindInt16:
		return FromInt16(v.Int16())
	case KindUint16:
		return FromUint16(v.Uint16())
	case KindInt32:
		return FromInt32(v.Int32())
	case KindUint32:
		return FromUint32(v.Uint32())
	case KindInt64:
		return FromInt64(v.Int64())
	case KindUint64:
		return FromUint64(v.Uint64())
	case KindFloat32:
		return FromFloat32(v.Float32())
	case KindFloat64:
		return FromFloat64(v.Float64())
	case KindNativeInt:
		if v.isFloat() {
			return FromNativeInt(floatToInt64(v.Float64()))
		}
		return FromNativeInt(v.Int64())
	case KindNativeUint:
		return FromNativeUint(v.Uint64())
	}
	return v
}

// Convert converts v to the declared type t without overflow checks. Object
// typed targets accept any value unchanged; Void and null convert to the
// zero value of a value-typed target.
func Convert(v Value, t Type) Value {
	if t == nil {
		return v
	}
	k := t.Kind()
	switch {
	case k == KindVoid:
		return Void
	case k.IsInteger() || k.IsFloat():
		return convertKind(v, k)
	}
	switch k {
	case KindEnum:
		n := v.Int64()
		if under := t.Elem(); under != nil {
			if under.Kind().IsUnsigned() {
				n = int64(truncUnsigned(uint64(n), under.Kind().width()))
			} else {
				n = truncSigned(n, under.Kind().width())
			}
		}
		return FromEnum(t, n)
	case KindPointer:
		return FromPointer(t, v.Uint64())
	case KindString:
		if v.kind == KindString {
			return v
		}
		if s, ok := v.obj.(string); ok {
			return FromString(s)
		}
		if v.IsNull() {
			return Value{kind: KindString, typ: t}
		}
	case KindArray:
		if v.IsNull() {
			return Value{kind: KindArray, typ: t}
		}
	case KindAggregate:
		if v.IsVoid() || (v.kind == KindObject && v.obj == nil) {
			return Zero(t)
		}
	case KindObject:
		if v.IsVoid() {
			return Value{kind: KindObject, typ: t}
		}
	}
	return v
}

// ConvertChecked converts v to the numeric kind k, reporting ErrOverflow when
// the value does not fit. With unsigned set, integer sources are read as
// unsigned at their own width.
func ConvertChecked(v Value, k Kind, unsigned bool) (Value, error) {
	lo, hi, ok := kindRange(k)
	if !ok {
		return convertKind(v, k), nil
	}
	switch {
	case v.isFloat():
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Value{}, ErrOverflow
		}
		t := math.Trunc(f)
		if t < float64(lo) || t >= float64(hi)+1 {
			return Value{}, ErrOverflow
		}
	case unsigned || v.unsigned():
		if v.asUnsigned() > hi {
			return Value{}, ErrOverflow
		}
	default:
		s := v.Int64()
		if s < lo || (s > 0 && uint64(s) > hi) {
			return Value{}, ErrOverflow
		}
	}
	return convertKind(v, k), nil
}

// kindRange returns the inclusive range of an integer kind.
func kindRange(k Kind) (lo int64, hi uint64, ok bool) {
	switch k {
	case KindInt8:
		return math.MinInt8, math.MaxInt8, true
	case KindUint8, KindBool:
		return 0, math.MaxUint8, true
	case KindInt16:
		return math.MinInt16, math.MaxInt16, true
	case KindUint16, KindChar:
		return 0, math.MaxUint16, true
	case KindInt32:
		return math.MinInt32, math.MaxInt32, true
	case KindUint32:
		return 0, math.MaxUint32, true
	case KindInt64:
		return math.MinInt64, math.MaxInt64, true
	case KindUint64:
		return 0, math.MaxUint64, true
	case KindNativeInt:
		if NativeSize == 4 {
			return math.MinInt32, math.MaxInt32, true
		}
		return math.MinInt64, math.MaxInt64, true
	case KindNativeUint:
		if NativeSize == 4 {
			return 0, math.MaxUint32, true
		}
		return 0, math.MaxUint64, true
	}
	return 0, 0, false
}

// Zero returns the default value of the declared type t.
func Zero(t Type) Value {
	if t == nil {
		return Null
	}
	switch k := t.Kind(); k {
	case KindVoid:
		return Void
	case KindAggregate:
		return FromAggregate(NewAggregate(t))
	case KindEnum:
		return FromEnum(t, 0)
	case KindPointer:
		return FromPointer(t, 0)
	default:
		return Value{kind: k, typ: t}
	}
}
