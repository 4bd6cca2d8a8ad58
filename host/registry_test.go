package host

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/vmrt/vm"
)

var (
	i32 = vm.Primitive(vm.KindInt32)
	f64 = vm.Primitive(vm.KindFloat64)
)

// ---------------------------------------------------------------------------
// Resolution and definitions
// ---------------------------------------------------------------------------

func TestNewRegistry_Builtins(t *testing.T) {
	r := NewRegistry()

	typ, err := r.ResolveType(PrimitiveToken(vm.KindInt32))
	require.NoError(t, err)
	assert.Same(t, i32, typ)

	obj, err := r.ResolveType(PrimitiveToken(vm.KindObject))
	require.NoError(t, err)
	assert.Same(t, r.Object(), obj)

	tests := []struct {
		token int32
		name  string
		base  string
	}{
		{TokenException, "System.Exception", "System.Object"},
		{TokenArithmeticException, "System.ArithmeticException", "System.Exception"},
		{TokenOverflowException, "System.OverflowException", "System.ArithmeticException"},
		{TokenDivideByZeroException, "System.DivideByZeroException", "System.ArithmeticException"},
		{TokenInvalidCastException, "System.InvalidCastException", "System.Exception"},
		{TokenNullReferenceException, "System.NullReferenceException", "System.Exception"},
		{TokenIndexOutOfRangeException, "System.IndexOutOfRangeException", "System.Exception"},
		{TokenOutOfMemoryException, "System.OutOfMemoryException", "System.Exception"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, err := r.ResolveType(tt.token)
			require.NoError(t, err)
			ht := typ.(*Type)
			assert.Equal(t, tt.name, ht.Name())
			assert.Equal(t, tt.base, ht.Base().Name())
			assert.True(t, ht.IsSubclassOf(r.Object()))
		})
	}
}

func TestRegistry_UnknownAndDuplicateTokens(t *testing.T) {
	r := NewRegistry()
	point := NewStruct("Point")

	_, err := r.ResolveType(FirstUserToken)
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = r.ResolveMethod(FirstUserToken)
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = r.ResolveField(FirstUserToken)
	assert.ErrorIs(t, err, ErrUnknownToken)
	_, err = r.ResolveString(FirstUserToken)
	assert.ErrorIs(t, err, ErrUnknownToken)

	require.NoError(t, r.DefineType(FirstUserToken, point))
	assert.ErrorIs(t, r.DefineType(FirstUserToken, point), ErrDuplicateToken)
	assert.ErrorIs(t, r.DefineType(TokenException, point), ErrDuplicateToken)
	require.NoError(t, r.DefineString(1, "a"))
	assert.ErrorIs(t, r.DefineString(1, "b"), ErrDuplicateToken)
}

func TestRegistry_FieldIndexesFollowInheritance(t *testing.T) {
	r := NewRegistry()
	base := NewClass("Base", r.Object())
	derived := NewClass("Derived", base)

	a, err := r.DefineField(1, base, "A", i32, false)
	require.NoError(t, err)
	b, err := r.DefineField(2, base, "B", i32, false)
	require.NoError(t, err)
	s, err := r.DefineField(3, base, "S", i32, true)
	require.NoError(t, err)
	c, err := r.DefineField(4, derived, "C", i32, false)
	require.NoError(t, err)

	assert.Equal(t, 0, a.Index())
	assert.Equal(t, 1, b.Index())
	assert.Equal(t, -1, s.Index())
	assert.Equal(t, 2, c.Index())

	_, err = r.DefineField(4, derived, "D", i32, false)
	assert.ErrorIs(t, err, ErrDuplicateToken)
}

// ---------------------------------------------------------------------------
// Objects and invocation
// ---------------------------------------------------------------------------

type shapes struct {
	r             *Registry
	shape, square *Type
	side          *Field
	area          *Method
	ctor          *Method
}

func newShapes(t *testing.T) *shapes {
	t.Helper()
	r := NewRegistry()
	s := &shapes{r: r}
	s.shape = NewClass("Shape", r.Object())
	s.square = NewClass("Square", s.shape)

	var err error
	s.side, err = r.DefineField(10, s.square, "Side", i32, false)
	require.NoError(t, err)

	s.area = NewMethod(s.shape, "Area", Virtual, nil, i32, func(vm.Value, []vm.Value) (vm.Value, error) {
		return vm.FromInt32(0), nil
	})
	require.NoError(t, r.DefineMethod(20, s.area))
	require.NoError(t, r.DefineMethod(21, NewMethod(s.square, "Area", Virtual, nil, i32,
		func(this vm.Value, _ []vm.Value) (vm.Value, error) {
			side := this.Object().(*Object).Get(s.side.Index(), i32).Int32()
			return vm.FromInt32(side * side), nil
		})))

	s.ctor = NewMethod(s.square, ".ctor", Constructor, []vm.Type{i32}, nil,
		func(this vm.Value, args []vm.Value) (vm.Value, error) {
			this.Object().(*Object).Set(s.side.Index(), args[0])
			return vm.Void, nil
		})
	require.NoError(t, r.DefineMethod(22, s.ctor))
	return s
}

func TestRegistry_ConstructAndDevirtualize(t *testing.T) {
	s := newShapes(t)

	sq, err := s.r.Construct(s.ctor, []vm.Value{vm.FromInt32(3)})
	require.NoError(t, err)
	obj := sq.Object().(*Object)
	assert.Same(t, s.square, obj.Type())

	target, err := s.r.Devirtualize(sq, s.area)
	require.NoError(t, err)
	assert.Equal(t, "Square::Area", fmt.Sprint(target))

	res, err := s.r.Invoke(s.area, sq, nil, true)
	require.NoError(t, err)
	assert.Equal(t, int32(9), res.Int32())

	res, err = s.r.Invoke(s.area, sq, nil, false)
	require.NoError(t, err)
	assert.Equal(t, int32(0), res.Int32(), "non-virtual call binds statically")

	_, err = s.r.Devirtualize(vm.Null, s.area)
	assert.ErrorIs(t, err, vm.ErrNullReference)
}

func TestRegistry_ConstructStruct(t *testing.T) {
	r := NewRegistry()
	point := NewStruct("Point")
	x, err := r.DefineField(1, point, "X", i32, false)
	require.NoError(t, err)
	ctor := NewMethod(point, ".ctor", Constructor, []vm.Type{i32}, nil,
		func(this vm.Value, args []vm.Value) (vm.Value, error) {
			this.Aggregate().Set(x, args[0])
			return vm.Void, nil
		})

	p, err := r.Construct(ctor, []vm.Value{vm.FromInt32(4)})
	require.NoError(t, err)
	require.Equal(t, vm.KindAggregate, p.Kind())
	assert.Equal(t, int32(4), p.Aggregate().Get(x).Int32())

	_, err = r.Construct(NewMethod(point, "NotCtor", 0, nil, nil, nil), nil)
	assert.Error(t, err)
}

func TestRegistry_InvokeWithoutBody(t *testing.T) {
	r := NewRegistry()
	m := NewMethod(r.Object(), "Nothing", Static, nil, nil, nil)
	_, err := r.Invoke(m, vm.Void, nil, false)
	assert.ErrorIs(t, err, ErrNoBody)
}

func TestRegistry_Fields(t *testing.T) {
	s := newShapes(t)
	sq, err := s.r.Construct(s.ctor, []vm.Value{vm.FromInt32(5)})
	require.NoError(t, err)

	v, err := s.r.LoadField(sq, s.side)
	require.NoError(t, err)
	assert.Equal(t, int32(5), v.Int32())

	require.NoError(t, s.r.StoreField(sq, s.side, vm.FromInt32(6)))
	v, err = s.r.LoadField(sq, s.side)
	require.NoError(t, err)
	assert.Equal(t, int32(6), v.Int32())

	_, err = s.r.LoadField(vm.Null, s.side)
	assert.ErrorIs(t, err, vm.ErrNullReference)

	plain := vm.FromObject(NewObject(s.shape))
	_, err = s.r.LoadField(plain, s.side)
	assert.ErrorIs(t, err, vm.ErrInvalidCast, "Shape has no Side field")

	_, err = s.r.LoadField(vm.FromString("x"), s.side)
	assert.ErrorIs(t, err, vm.ErrInvalidCast)
}

func TestRegistry_Statics(t *testing.T) {
	r := NewRegistry()
	owner := NewClass("Counter", r.Object())
	count, err := r.DefineField(1, owner, "Count", i32, true)
	require.NoError(t, err)

	v, err := r.LoadStatic(count)
	require.NoError(t, err)
	assert.Equal(t, vm.KindInt32, v.Kind())
	assert.Equal(t, int32(0), v.Int32())

	require.NoError(t, r.StoreStatic(count, vm.FromInt32(3)))
	v, err = r.LoadStatic(count)
	require.NoError(t, err)
	assert.Equal(t, int32(3), v.Int32())

	inst, err := r.DefineField(2, owner, "Inst", i32, false)
	require.NoError(t, err)
	_, err = r.LoadStatic(inst)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Boxing and type tests
// ---------------------------------------------------------------------------

func TestRegistry_BoxUnbox(t *testing.T) {
	r := NewRegistry()
	color := NewEnum("Color", vm.KindInt32)

	boxed, err := r.Box(vm.FromInt32(7), i32)
	require.NoError(t, err)

	v, err := r.Unbox(boxed, i32)
	require.NoError(t, err)
	assert.Equal(t, int32(7), v.Int32())

	_, err = r.Unbox(boxed, f64)
	assert.ErrorIs(t, err, vm.ErrInvalidCast)

	_, err = r.Unbox(boxed, color)
	assert.NoError(t, err, "an enum unboxes from its underlying type")

	_, err = r.Unbox(vm.Null, i32)
	assert.ErrorIs(t, err, vm.ErrNullReference)

	_, err = r.Unbox(vm.FromObject(NewObject(r.Object())), i32)
	assert.ErrorIs(t, err, vm.ErrInvalidCast)
}

func TestRegistry_IsInstanceOf(t *testing.T) {
	s := newShapes(t)
	r := s.r
	sq := vm.FromObject(NewObject(s.square))
	boxed, err := r.Box(vm.FromInt32(1), i32)
	require.NoError(t, err)
	arr := vm.FromArray(vm.NewArray(i32, 2))

	tests := []struct {
		name string
		v    vm.Value
		t    vm.Type
		want bool
	}{
		{"same class", sq, s.square, true},
		{"base class", sq, s.shape, true},
		{"root", sq, r.Object(), true},
		{"unrelated", vm.FromObject(NewObject(s.shape)), s.square, false},
		{"boxed exact", boxed, i32, true},
		{"boxed other", boxed, f64, false},
		{"boxed as object", boxed, r.Object(), true},
		{"string", vm.FromString("s"), vm.Primitive(vm.KindString), true},
		{"string as class", vm.FromString("s"), s.shape, false},
		{"array", arr, arr.Array().Elem(), false},
		{"null", vm.Null, r.Object(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.IsInstanceOf(tt.v, tt.t))
		})
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestRegistry_Memory(t *testing.T) {
	r := NewRegistry()
	mem := make([]byte, 16)
	require.NoError(t, r.MapMemory(0x1000, mem))

	require.NoError(t, r.WriteAbsolute(0x1000, i32, vm.FromInt32(-2)))
	assert.Equal(t, []byte{0xFE, 0xFF, 0xFF, 0xFF}, mem[:4])

	v, err := r.ReadAbsolute(0x1000, i32)
	require.NoError(t, err)
	assert.Equal(t, int32(-2), v.Int32())

	v, err = r.ReadAbsolute(0x1000, vm.Primitive(vm.KindInt8))
	require.NoError(t, err)
	assert.Equal(t, vm.KindInt8, v.Kind())
	assert.Equal(t, int8(-2), v.Int8())

	require.NoError(t, r.WriteAbsolute(0x1008, f64, vm.FromFloat64(2.5)))
	v, err = r.ReadAbsolute(0x1008, f64)
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.Float64())

	v, err = r.ReadAbsolute(0x1004, vm.Primitive(vm.KindBool))
	require.NoError(t, err)
	assert.False(t, v.Bool())

	color := NewEnum("Color", vm.KindUint8)
	require.NoError(t, r.WriteAbsolute(0x1004, color, vm.FromEnum(color, 3)))
	v, err = r.ReadAbsolute(0x1004, color)
	require.NoError(t, err)
	assert.Equal(t, vm.KindEnum, v.Kind())
	assert.Equal(t, int64(3), v.Int64())

	_, err = r.ReadAbsolute(0x100E, i32)
	assert.ErrorIs(t, err, ErrUnmapped, "read straddles the segment end")
	_, err = r.ReadAbsolute(0x0FFF, i32)
	assert.ErrorIs(t, err, ErrUnmapped)
	_, err = r.ReadAbsolute(0x1000, vm.Primitive(vm.KindString))
	assert.Error(t, err)

	assert.Error(t, r.MapMemory(0x100F, make([]byte, 4)), "overlapping segment")
	assert.NoError(t, r.MapMemory(0x1010, make([]byte, 4)))
}

func TestRegistry_MemoryNativeWidth(t *testing.T) {
	r := NewRegistry()
	mem := make([]byte, 16)
	require.NoError(t, r.MapMemory(0x1000, mem))

	require.NoError(t, r.WriteAbsolute(0x1000, vm.Primitive(vm.KindNativeInt), vm.FromNativeInt(-1)))
	written := 0
	for _, b := range mem {
		if b == 0xFF {
			written++
		}
	}
	assert.Equal(t, vm.NativeSize, written)

	v, err := r.ReadAbsolute(0x1000, vm.Primitive(vm.KindNativeInt))
	require.NoError(t, err)
	assert.Equal(t, vm.KindNativeInt, v.Kind())
	assert.Equal(t, int64(-1), v.NativeInt())

	ptr := PointerTo(i32)
	require.NoError(t, r.WriteAbsolute(0x1008, ptr, vm.FromPointer(ptr, 0x1234)))
	v, err = r.ReadAbsolute(0x1008, ptr)
	require.NoError(t, err)
	assert.Equal(t, vm.KindPointer, v.Kind())
	assert.Equal(t, uint64(0x1234), v.Uint64())

	_, err = r.ReadAbsolute(uint64(0x1010-vm.NativeSize+1), ptr)
	assert.ErrorIs(t, err, ErrUnmapped)
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

func TestRegistry_ExceptionObject(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		err  error
		want string
	}{
		{vm.ErrOverflow, "System.OverflowException"},
		{vm.ErrDivideByZero, "System.DivideByZeroException"},
		{vm.ErrInvalidCast, "System.InvalidCastException"},
		{vm.ErrNullReference, "System.NullReferenceException"},
		{vm.ErrIndexOutOfRange, "System.IndexOutOfRangeException"},
		{vm.ErrOutOfMemory, "System.OutOfMemoryException"},
		{fmt.Errorf("wrapped: %w", vm.ErrOverflow), "System.OverflowException"},
		{errors.New("disk on fire"), "System.Exception"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			exc := r.ExceptionObject(tt.err)
			obj, ok := exc.Object().(*Object)
			require.True(t, ok)
			assert.Equal(t, tt.want, obj.Type().Name())
			assert.Equal(t, tt.err.Error(), Message(exc))
		})
	}
}

func TestRegistry_ExceptionObjectKeepsIdentity(t *testing.T) {
	r := NewRegistry()
	exc := r.NewException(r.ExceptionType(vm.ErrNullReference), "custom")

	got := r.ExceptionObject(&Thrown{Object: exc})
	assert.Same(t, exc, got.Object())

	fault := &vm.Fault{Kind: vm.FaultThrow, Object: vm.FromObject(exc)}
	got = r.ExceptionObject(fmt.Errorf("outer: %w", fault))
	assert.Same(t, exc, got.Object())
	assert.Equal(t, "System.NullReferenceException: custom", (&Thrown{Object: exc}).Error())
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

func TestStandardBuiltins_TooFewArguments(t *testing.T) {
	builtins := StandardBuiltins()
	for _, name := range []string{
		"string.concat", "string.length", "string.equals", "string.fromint",
		"string.parseint", "math.sqrt", "math.abs",
	} {
		t.Run(name, func(t *testing.T) {
			body, ok := builtins[name]
			require.True(t, ok)
			_, err := body(vm.Void, nil)
			assert.ErrorIs(t, err, ErrArity)
		})
	}

	_, err := builtins["string.concat"](vm.Void, []vm.Value{vm.FromString("a")})
	assert.ErrorIs(t, err, ErrArity)
	res, err := builtins["string.concat"](vm.Void, []vm.Value{vm.FromString("a"), vm.FromString("b")})
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Str())
}
