package vm

import (
	"fmt"
	"math"
	"reflect"
)

// ---------------------------------------------------------------------------
// Kinds
// ---------------------------------------------------------------------------

// Kind is the declared kind of a Value or Type.
type Kind uint8

const (
	KindVoid Kind = iota
	KindBool
	KindChar
	KindInt8
	KindUint8
	KindInt16
	KindUint16
	KindInt32
	KindUint32
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindNativeInt
	KindNativeUint
	KindString
	KindObject
	KindArray
	KindAggregate
	KindEnum
	KindPointer
	KindRef
	KindMethod
)

var kindNames = [...]string{
	KindVoid:       "void",
	KindBool:       "bool",
	KindChar:       "char",
	KindInt8:       "int8",
	KindUint8:      "uint8",
	KindInt16:      "int16",
	KindUint16:     "uint16",
	KindInt32:      "int32",
	KindUint32:     "uint32",
	KindInt64:      "int64",
	KindUint64:     "uint64",
	KindFloat32:    "float32",
	KindFloat64:    "float64",
	KindNativeInt:  "nativeint",
	KindNativeUint: "nativeuint",
	KindString:     "string",
	KindObject:     "object",
	KindArray:      "array",
	KindAggregate:  "aggregate",
	KindEnum:       "enum",
	KindPointer:    "pointer",
	KindRef:        "ref",
	KindMethod:     "method",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsInteger reports whether k is a fixed-width or native integer kind.
func (k Kind) IsInteger() bool {
	switch k {
	case KindBool, KindChar, KindInt8, KindUint8, KindInt16, KindUint16,
		KindInt32, KindUint32, KindInt64, KindUint64, KindNativeInt, KindNativeUint:
		return true
	}
	return false
}

// IsUnsigned reports whether k is an unsigned integer kind.
func (k Kind) IsUnsigned() bool {
	switch k {
	case KindBool, KindChar, KindUint8, KindUint16, KindUint32, KindUint64, KindNativeUint:
		return true
	}
	return false
}

// IsFloat reports whether k is Float32 or Float64.
func (k Kind) IsFloat() bool {
	return k == KindFloat32 || k == KindFloat64
}

// IsReference reports whether values of kind k are handles that may be null.
func (k Kind) IsReference() bool {
	switch k {
	case KindString, KindObject, KindArray, KindMethod:
		return true
	}
	return false
}

// width returns the byte width of an integer kind.
func (k Kind) width() int {
	switch k {
	case KindBool, KindInt8, KindUint8:
		return 1
	case KindChar, KindInt16, KindUint16:
		return 2
	case KindInt32, KindUint32, KindFloat32:
		return 4
	case KindNativeInt, KindNativeUint, KindPointer:
		return NativeSize
	}
	return 8
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is a tagged runtime value. Integer payloads live in bits, sign
// extended for signed kinds and zero extended for unsigned ones. Float32 is
// held as the bits of its exact float64 widening. Handles (strings, host
// objects, arrays, aggregates, references, methods) live in obj.
type Value struct {
	kind Kind
	bits uint64
	obj  any
	typ  Type
}

// Void is the absent value returned by void routines.
var Void = Value{}

// Null is the null object reference.
var Null = Value{kind: KindObject}

func FromBool(b bool) Value {
	if b {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

func FromChar(c uint16) Value   { return Value{kind: KindChar, bits: uint64(c)} }
func FromInt8(n int8) Value     { return Value{kind: KindInt8, bits: uint64(int64(n))} }
func FromUint8(n uint8) Value   { return Value{kind: KindUint8, bits: uint64(n)} }
func FromInt16(n int16) Value   { return Value{kind: KindInt16, bits: uint64(int64(n))} }
func FromUint16(n uint16) Value { return Value{kind: KindUint16, bits: uint64(n)} }
func FromInt32(n int32) Value   { return Value{kind: KindInt32, bits: uint64(int64(n))} }
func FromUint32(n uint32) Value { return Value{kind: KindUint32, bits: uint64(n)} }
func FromInt64(n int64) Value   { return Value{kind: KindInt64, bits: uint64(n)} }
func FromUint64(n uint64) Value { return Value{kind: KindUint64, bits: n} }

func FromFloat32(f float32) Value {
	return Value{kind: KindFloat32, bits: math.Float64bits(float64(f))}
}

func FromFloat64(f float64) Value {
	return Value{kind: KindFloat64, bits: math.Float64bits(f)}
}

// FromNativeInt creates a pointer-width signed integer, truncated to the
// native width.
func FromNativeInt(n int64) Value {
	return Value{kind: KindNativeInt, bits: uint64(truncSigned(n, NativeSize))}
}

func FromNativeUint(n uint64) Value {
	return Value{kind: KindNativeUint, bits: truncUnsigned(n, NativeSize)}
}

func FromString(s string) Value { return Value{kind: KindString, obj: s} }

// FromObject wraps a host object handle. A nil handle is Null.
func FromObject(o any) Value { return Value{kind: KindObject, obj: o} }

// FromArray wraps a core-managed array. A nil array is a null array reference.
func FromArray(a *Array) Value {
	if a == nil {
		return Value{kind: KindArray}
	}
	return Value{kind: KindArray, obj: a, typ: a.typ}
}

func FromAggregate(a *Aggregate) Value {
	return Value{kind: KindAggregate, obj: a, typ: a.typ}
}

// FromEnum creates a value of enum type t whose underlying integer is n.
func FromEnum(t Type, n int64) Value {
	return Value{kind: KindEnum, bits: uint64(n), typ: t}
}

// FromPointer creates a raw pointer of declared type t.
func FromPointer(t Type, addr uint64) Value {
	return Value{kind: KindPointer, bits: truncUnsigned(addr, NativeSize), typ: t}
}

// FromRef wraps a managed reference.
func FromRef(r Reference) Value {
	return Value{kind: KindRef, obj: r, typ: r.Type()}
}

// FromMethod wraps a host method handle (ldftn).
func FromMethod(m Method) Value {
	if m == nil {
		return Value{kind: KindMethod}
	}
	return Value{kind: KindMethod, obj: m}
}

// withType returns v retagged with the declared type t.
func (v Value) withType(t Type) Value {
	v.typ = t
	return v
}

// Kind returns the declared kind of v.
func (v Value) Kind() Kind { return v.kind }

// Type returns the declared host type of v, if one was recorded.
func (v Value) Type() Type { return v.typ }

// IsVoid reports whether v is the absent value.
func (v Value) IsVoid() bool { return v.kind == KindVoid }

// IsNull reports whether v is a null handle.
func (v Value) IsNull() bool {
	return (v.kind.IsReference() && v.obj == nil) || v.kind == KindVoid
}

// Object returns the handle payload of a reference value.
func (v Value) Object() any {
	switch v.kind {
	case KindString, KindObject, KindArray, KindAggregate, KindMethod, KindRef:
		return v.obj
	}
	return nil
}

// Str returns the payload of a String value, or "" otherwise.
func (v Value) Str() string {
	s, _ := v.obj.(string)
	return s
}

// Array returns the array payload or nil.
func (v Value) Array() *Array {
	a, _ := v.obj.(*Array)
	return a
}

// Aggregate returns the aggregate payload or nil.
func (v Value) Aggregate() *Aggregate {
	a, _ := v.obj.(*Aggregate)
	return a
}

// Ref returns the reference payload or nil.
func (v Value) Ref() Reference {
	r, _ := v.obj.(Reference)
	return r
}

// Method returns the method payload or nil.
func (v Value) Method() Method {
	m, _ := v.obj.(Method)
	return m
}

// isNumeric reports whether v carries an integer, float, enum or pointer payload.
func (v Value) isNumeric() bool {
	return v.kind.IsInteger() || v.kind.IsFloat() || v.kind == KindEnum || v.kind == KindPointer
}

// isFloat reports whether v is a floating-point value.
func (v Value) isFloat() bool { return v.kind.IsFloat() }

// unsigned reports whether v's integer payload is zero-extended.
func (v Value) unsigned() bool {
	if v.kind == KindEnum {
		return v.typ != nil && v.typ.Elem() != nil && v.typ.Elem().Kind().IsUnsigned()
	}
	return v.kind.IsUnsigned() || v.kind == KindPointer
}

// ---------------------------------------------------------------------------
// Accessors. These never fail: integers truncate, floats saturate, and
// non-numeric values read as zero.
// ---------------------------------------------------------------------------

func (v Value) Int64() int64 {
	switch {
	case v.isFloat():
		return floatToInt64(v.Float64())
	case v.isNumeric():
		return int64(v.bits)
	}
	return 0
}

func (v Value) Uint64() uint64 {
	switch {
	case v.isFloat():
		return floatToUint64(v.Float64())
	case v.isNumeric():
		return v.bits
	}
	return 0
}

func (v Value) Float64() float64 {
	switch {
	case v.isFloat():
		return math.Float64frombits(v.bits)
	case v.isNumeric():
		if v.unsigned() {
			return float64(v.bits)
		}
		return float64(int64(v.bits))
	}
	return 0
}

func (v Value) Float32() float32 { return float32(v.Float64()) }

func (v Value) Int32() int32 {
	if v.isFloat() {
		return floatToInt32(v.Float64())
	}
	return int32(v.Int64())
}

func (v Value) Uint32() uint32 {
	if v.isFloat() {
		return floatToUint32(v.Float64())
	}
	return uint32(v.Uint64())
}

func (v Value) Int16() int16   { return int16(v.Int32()) }
func (v Value) Uint16() uint16 { return uint16(v.Uint32()) }
func (v Value) Int8() int8     { return int8(v.Int32()) }
func (v Value) Uint8() uint8   { return uint8(v.Uint32()) }
func (v Value) Char() uint16   { return v.Uint16() }

// NativeInt returns v truncated to the native width and sign extended.
func (v Value) NativeInt() int64 { return truncSigned(v.Int64(), NativeSize) }

// NativeUint returns v truncated to the native width.
func (v Value) NativeUint() uint64 { return truncUnsigned(v.Uint64(), NativeSize) }

// Bool reports whether v is "true" in the branch sense: non-zero numbers and
// non-null handles.
func (v Value) Bool() bool {
	switch {
	case v.isFloat():
		return v.Float64() != 0
	case v.isNumeric():
		return v.bits != 0
	case v.kind == KindAggregate || v.kind == KindRef:
		return v.obj != nil
	}
	return !v.IsNull()
}

// ---------------------------------------------------------------------------
// Stack projection and copying
// ---------------------------------------------------------------------------

// ToStack projects v to its evaluation-stack form: integers narrower than 32
// bits and Uint32 become Int32, Uint64 becomes Int64, NativeUint becomes
// NativeInt. Other kinds are unchanged.
func (v Value) ToStack() Value {
	switch v.kind {
	case KindBool, KindChar, KindInt8, KindUint8, KindInt16, KindUint16, KindUint32:
		return Value{kind: KindInt32, bits: uint64(int64(int32(v.bits)))}
	case KindUint64:
		return Value{kind: KindInt64, bits: v.bits}
	case KindNativeUint:
		return Value{kind: KindNativeInt, bits: uint64(truncSigned(int64(v.bits), NativeSize))}
	}
	return v
}

// Clone returns a copy of v. Aggregates are copied deeply; handles are shared.
func (v Value) Clone() Value {
	if v.kind == KindAggregate {
		if a := v.Aggregate(); a != nil {
			v.obj = a.Clone()
		}
	}
	return v
}

// Equal reports value identity: numbers by kind and payload, strings by
// content, aggregates field by field, handles by identity.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.obj == o.obj
	case KindAggregate:
		return v.Aggregate().Equal(o.Aggregate())
	case KindObject, KindArray, KindMethod, KindRef:
		return sameHandle(v.obj, o.obj)
	}
	return v.bits == o.bits
}

// sameHandle compares two handles by identity without panicking on
// incomparable dynamic types.
func sameHandle(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if !ta.Comparable() {
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return a == b
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindBool:
		return fmt.Sprintf("%t", v.bits != 0)
	case KindFloat32, KindFloat64:
		return fmt.Sprintf("%s(%g)", v.kind, v.Float64())
	case KindString:
		if v.obj == nil {
			return "string(null)"
		}
		return fmt.Sprintf("%q", v.Str())
	case KindObject, KindArray, KindMethod:
		if v.obj == nil {
			return v.kind.String() + "(null)"
		}
		return fmt.Sprintf("%s(%v)", v.kind, v.obj)
	case KindAggregate:
		return fmt.Sprintf("aggregate(%s)", typeName(v.typ))
	case KindRef:
		return fmt.Sprintf("ref(%s)", typeName(v.typ))
	case KindEnum:
		return fmt.Sprintf("%s(%d)", typeName(v.typ), v.Int64())
	case KindPointer:
		return fmt.Sprintf("pointer(%#x)", v.bits)
	}
	if v.unsigned() {
		return fmt.Sprintf("%s(%d)", v.kind, v.bits)
	}
	return fmt.Sprintf("%s(%d)", v.kind, int64(v.bits))
}

func typeName(t Type) string {
	if t == nil {
		return "?"
	}
	return t.Name()
}
