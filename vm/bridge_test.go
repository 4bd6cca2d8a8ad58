package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// In-package host used by the interpreter tests
// ---------------------------------------------------------------------------

const (
	tokInt32   int32 = 0x01
	tokInt64   int32 = 0x02
	tokObject  int32 = 0x03
	tokString  int32 = 0x04
	tokFloat64 int32 = 0x05
	tokUint8   int32 = 0x06

	tokException  int32 = 0x10
	tokArithmetic int32 = 0x11
	tokCastExc    int32 = 0x12
	tokNullExc    int32 = 0x13
	tokRangeExc   int32 = 0x14
	tokMemoryExc  int32 = 0x15

	tokPoint    int32 = 0x20
	tokBox      int32 = 0x21
	tokRefInt32 int32 = 0x22

	tokPointX   int32 = 0x30
	tokPointY   int32 = 0x31
	tokBoxValue int32 = 0x32
	tokCounter  int32 = 0x33

	tokIncr    int32 = 0x40
	tokConcat  int32 = 0x41
	tokBoxCtor int32 = 0x42
	tokBoxGet  int32 = 0x43
	tokFail    int32 = 0x44
	tokMove    int32 = 0x45
	tokSecond  int32 = 0x46
	tokBadCtor int32 = 0x47

	tokHello int32 = 0x50
	tokWorld int32 = 0x51
)

type fakeType struct {
	name string
	kind Kind
	elem Type
	base *fakeType
}

func (t *fakeType) Name() string { return t.name }
func (t *fakeType) Kind() Kind   { return t.kind }
func (t *fakeType) Elem() Type   { return t.elem }

type fakeMethod struct {
	name    string
	decl    Type
	params  []Type
	ret     Type
	static  bool
	virtual bool
	ctor    bool
	fn      func(this Value, args []Value) (Value, error)
}

func (m *fakeMethod) Name() string          { return m.name }
func (m *fakeMethod) DeclaringType() Type   { return m.decl }
func (m *fakeMethod) Params() []Type        { return m.params }
func (m *fakeMethod) Return() Type          { return m.ret }
func (m *fakeMethod) IsStatic() bool        { return m.static }
func (m *fakeMethod) IsVirtual() bool       { return m.virtual }
func (m *fakeMethod) IsConstructor() bool   { return m.ctor }

type fakeField struct {
	name   string
	decl   Type
	typ    Type
	index  int
	static bool
}

func (f *fakeField) Name() string        { return f.name }
func (f *fakeField) DeclaringType() Type { return f.decl }
func (f *fakeField) Type() Type          { return f.typ }
func (f *fakeField) Index() int          { return f.index }
func (f *fakeField) IsStatic() bool      { return f.static }

type fakeObject struct {
	typ    *fakeType
	mu     sync.Mutex
	fields map[int]Value
	msg    string
}

type fakeBoxed struct {
	typ Type
	val Value
}

type fakeBridge struct {
	types   map[int32]Type
	methods map[int32]Method
	fields  map[int32]Field
	strings map[int32]string

	excByErr map[error]*fakeType
	excBase  *fakeType

	mu      sync.Mutex
	statics map[Field]Value
	mem     []byte
	calls   map[int32]int
}

func newFakeBridge() *fakeBridge {
	object := &fakeType{name: "Object", kind: KindObject}
	exc := &fakeType{name: "Exception", kind: KindObject, base: object}
	arith := &fakeType{name: "ArithmeticException", kind: KindObject, base: exc}
	cast := &fakeType{name: "InvalidCastException", kind: KindObject, base: exc}
	null := &fakeType{name: "NullReferenceException", kind: KindObject, base: exc}
	rng := &fakeType{name: "IndexOutOfRangeException", kind: KindObject, base: exc}
	oom := &fakeType{name: "OutOfMemoryException", kind: KindObject, base: exc}
	point := &fakeType{name: "Point", kind: KindAggregate}
	box := &fakeType{name: "Box", kind: KindObject, base: object}
	refInt32 := &fakeType{name: "int32&", kind: KindRef, elem: Primitive(KindInt32)}

	b := &fakeBridge{
		types: map[int32]Type{
			tokInt32:      Primitive(KindInt32),
			tokInt64:      Primitive(KindInt64),
			tokObject:     object,
			tokString:     Primitive(KindString),
			tokFloat64:    Primitive(KindFloat64),
			tokUint8:      Primitive(KindUint8),
			tokException:  exc,
			tokArithmetic: arith,
			tokCastExc:    cast,
			tokNullExc:    null,
			tokRangeExc:   rng,
			tokMemoryExc:  oom,
			tokPoint:      point,
			tokBox:        box,
			tokRefInt32:   refInt32,
		},
		fields: map[int32]Field{
			tokPointX:   &fakeField{name: "X", decl: point, typ: Primitive(KindInt32), index: 0},
			tokPointY:   &fakeField{name: "Y", decl: point, typ: Primitive(KindInt32), index: 1},
			tokBoxValue: &fakeField{name: "Value", decl: box, typ: Primitive(KindInt32), index: 0},
			tokCounter:  &fakeField{name: "Counter", decl: box, typ: Primitive(KindInt32), static: true},
		},
		strings: map[int32]string{
			tokHello: "hello",
			tokWorld: "world",
		},
		excByErr: map[error]*fakeType{
			ErrOverflow:        arith,
			ErrDivideByZero:    arith,
			ErrInvalidCast:     cast,
			ErrNullReference:   null,
			ErrIndexOutOfRange: rng,
			ErrOutOfMemory:     oom,
		},
		excBase: exc,
		statics: make(map[Field]Value),
		calls:   make(map[int32]int),
	}

	b.methods = map[int32]Method{
		tokIncr: &fakeMethod{
			name: "Incr", decl: box, params: []Type{refInt32}, static: true,
			fn: func(_ Value, args []Value) (Value, error) {
				args[0] = FromInt32(args[0].Int32() + 1)
				return Void, nil
			},
		},
		tokConcat: &fakeMethod{
			name: "Concat", decl: Primitive(KindString), static: true,
			params: []Type{Primitive(KindString), Primitive(KindString)}, ret: Primitive(KindString),
			fn: func(_ Value, args []Value) (Value, error) {
				return FromString(args[0].Str() + args[1].Str()), nil
			},
		},
		tokBoxCtor: &fakeMethod{
			name: ".ctor", decl: box, params: []Type{Primitive(KindInt32)}, ctor: true,
			fn: func(_ Value, args []Value) (Value, error) {
				return FromObject(&fakeObject{typ: box, fields: map[int]Value{0: args[0]}}), nil
			},
		},
		tokBoxGet: &fakeMethod{
			name: "Get", decl: box, ret: Primitive(KindInt32), virtual: true,
			fn: func(this Value, _ []Value) (Value, error) {
				o := this.Object().(*fakeObject)
				return o.fields[0], nil
			},
		},
		tokFail: &fakeMethod{
			name: "Fail", decl: box, static: true,
			fn: func(Value, []Value) (Value, error) {
				return Void, errors.New("boom")
			},
		},
		tokSecond: &fakeMethod{
			name: "Second", decl: Primitive(KindString), static: true,
			params: []Type{Primitive(KindString)}, ret: Primitive(KindString),
			fn: func(_ Value, args []Value) (Value, error) {
				return args[1], nil
			},
		},
		tokBadCtor: &fakeMethod{
			name: ".ctor", decl: box, ctor: true,
			fn: func(Value, []Value) (Value, error) {
				panic("constructor failed")
			},
		},
		tokMove: &fakeMethod{
			name: ".ctor", decl: point, params: []Type{Primitive(KindInt32), Primitive(KindInt32)}, ctor: true,
			fn: func(_ Value, args []Value) (Value, error) {
				p := NewAggregate(point)
				p.Set(&fakeField{typ: Primitive(KindInt32), index: 0}, args[0])
				p.Set(&fakeField{typ: Primitive(KindInt32), index: 1}, args[1])
				return FromAggregate(p), nil
			},
		},
	}
	return b
}

func (b *fakeBridge) ResolveType(token int32) (Type, error) {
	if t, ok := b.types[token]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type token %#x", token)
}

func (b *fakeBridge) ResolveMethod(token int32) (Method, error) {
	if m, ok := b.methods[token]; ok {
		b.mu.Lock()
		b.calls[token]++
		b.mu.Unlock()
		return m, nil
	}
	return nil, fmt.Errorf("unknown method token %#x", token)
}

func (b *fakeBridge) ResolveField(token int32) (Field, error) {
	if f, ok := b.fields[token]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("unknown field token %#x", token)
}

func (b *fakeBridge) ResolveString(token int32) (string, error) {
	if s, ok := b.strings[token]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown string token %#x", token)
}

func (b *fakeBridge) resolutions(token int32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[token]
}

func (b *fakeBridge) Invoke(m Method, this Value, args []Value, virtual bool) (Value, error) {
	return m.(*fakeMethod).fn(this, args)
}

func (b *fakeBridge) Construct(ctor Method, args []Value) (Value, error) {
	return ctor.(*fakeMethod).fn(Null, args)
}

func (b *fakeBridge) Devirtualize(this Value, m Method) (Method, error) {
	return m, nil
}

func (b *fakeBridge) LoadField(obj Value, f Field) (Value, error) {
	o, ok := obj.Object().(*fakeObject)
	if !ok {
		return Void, ErrInvalidCast
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if v, ok := o.fields[f.Index()]; ok {
		return v, nil
	}
	return Zero(f.Type()), nil
}

func (b *fakeBridge) StoreField(obj Value, f Field, v Value) error {
	o, ok := obj.Object().(*fakeObject)
	if !ok {
		return ErrInvalidCast
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fields[f.Index()] = v
	return nil
}

func (b *fakeBridge) LoadStatic(f Field) (Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.statics[f]; ok {
		return v, nil
	}
	return Zero(f.Type()), nil
}

func (b *fakeBridge) StoreStatic(f Field, v Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statics[f] = v
	return nil
}

func (b *fakeBridge) Box(v Value, t Type) (Value, error) {
	return FromObject(&fakeBoxed{typ: t, val: v}), nil
}

func (b *fakeBridge) Unbox(obj Value, t Type) (Value, error) {
	bx, ok := obj.Object().(*fakeBoxed)
	if !ok || bx.typ != t {
		return Void, ErrInvalidCast
	}
	return bx.val, nil
}

func (b *fakeBridge) IsInstanceOf(obj Value, t Type) bool {
	switch o := obj.Object().(type) {
	case *fakeObject:
		for c := o.typ; c != nil; c = c.base {
			if Type(c) == t {
				return true
			}
		}
	case *fakeBoxed:
		return o.typ == t
	case string:
		return t == Primitive(KindString)
	}
	return false
}

func (b *fakeBridge) ReadAbsolute(addr uint64, t Type) (Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr+4 > uint64(len(b.mem)) {
		return Void, fmt.Errorf("address %#x not mapped", addr)
	}
	return Convert(FromInt32(int32(binary.LittleEndian.Uint32(b.mem[addr:]))), t), nil
}

func (b *fakeBridge) WriteAbsolute(addr uint64, t Type, v Value) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr+4 > uint64(len(b.mem)) {
		return fmt.Errorf("address %#x not mapped", addr)
	}
	binary.LittleEndian.PutUint32(b.mem[addr:], v.Uint32())
	return nil
}

func (b *fakeBridge) ExceptionObject(err error) Value {
	t := b.excBase
	for sentinel, et := range b.excByErr {
		if errors.Is(err, sentinel) {
			t = et
			break
		}
	}
	return FromObject(&fakeObject{typ: t, fields: map[int]Value{}, msg: err.Error()})
}

// excType returns the host type name of an exception object.
func excType(v Value) string {
	if o, ok := v.Object().(*fakeObject); ok {
		return o.typ.name
	}
	return ""
}
