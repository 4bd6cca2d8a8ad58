// Package host provides Registry, an in-process implementation of the
// interpreter's host bridge. It holds the type, method, field and string
// tables a virtualized image refers to by token, allocates host objects,
// boxes values, maps raw memory and materializes core faults as instances of
// a small exception class hierarchy.
package host

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/vmrt/vm"
)

var log = commonlog.GetLogger("vmrt.host")

// Tokens reserved by every Registry. Image-defined tokens start at
// FirstUserToken.
const (
	TokenObject int32 = 0x200 + iota
	TokenException
	TokenArithmeticException
	TokenOverflowException
	TokenDivideByZeroException
	TokenInvalidCastException
	TokenNullReferenceException
	TokenIndexOutOfRangeException
	TokenOutOfMemoryException

	FirstUserToken int32 = 0x1000
)

// PrimitiveToken returns the reserved type token of a primitive kind.
func PrimitiveToken(k vm.Kind) int32 {
	return 0x100 + int32(k)
}

var (
	ErrUnknownToken   = errors.New("host: unknown token")
	ErrDuplicateToken = errors.New("host: duplicate token")
	ErrNoBody         = errors.New("host: method has no body")
	ErrUnmapped       = errors.New("host: address not mapped")
	ErrArity          = errors.New("host: too few arguments")
)

// Thrown is returned by a method body to raise a managed exception object.
type Thrown struct {
	Object *Object
}

func (t *Thrown) Error() string { return t.Object.String() }

// segment is a mapped block of little-endian host memory.
type segment struct {
	base uint64
	data []byte
}

var _ vm.Bridge = (*Registry)(nil)

// Registry implements vm.Bridge over in-memory tables. Definitions are
// expected before execution starts; the tables, statics and memory are safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	types   map[int32]vm.Type
	methods map[int32]*Method
	fields  map[int32]*Field
	strings map[int32]string

	statics map[*Field]vm.Value
	memory  []segment

	object     *Type
	exceptions map[error]*Type
	exception  *Type
}

// NewRegistry creates a registry with the primitive types and the built-in
// exception hierarchy already defined.
func NewRegistry() *Registry {
	r := &Registry{
		types:      make(map[int32]vm.Type),
		methods:    make(map[int32]*Method),
		fields:     make(map[int32]*Field),
		strings:    make(map[int32]string),
		statics:    make(map[*Field]vm.Value),
		exceptions: make(map[error]*Type),
	}

	for k := vm.KindBool; k <= vm.KindString; k++ {
		r.types[PrimitiveToken(k)] = vm.Primitive(k)
	}

	r.object = NewClass("System.Object", nil)
	r.types[TokenObject] = r.object
	r.types[PrimitiveToken(vm.KindObject)] = r.object

	r.exception = NewClass("System.Exception", r.object)
	arith := NewClass("System.ArithmeticException", r.exception)
	builtin := []struct {
		token int32
		t     *Type
		cause error
	}{
		{TokenException, r.exception, nil},
		{TokenArithmeticException, arith, nil},
		{TokenOverflowException, NewClass("System.OverflowException", arith), vm.ErrOverflow},
		{TokenDivideByZeroException, NewClass("System.DivideByZeroException", arith), vm.ErrDivideByZero},
		{TokenInvalidCastException, NewClass("System.InvalidCastException", r.exception), vm.ErrInvalidCast},
		{TokenNullReferenceException, NewClass("System.NullReferenceException", r.exception), vm.ErrNullReference},
		{TokenIndexOutOfRangeException, NewClass("System.IndexOutOfRangeException", r.exception), vm.ErrIndexOutOfRange},
		{TokenOutOfMemoryException, NewClass("System.OutOfMemoryException", r.exception), vm.ErrOutOfMemory},
	}
	for _, b := range builtin {
		r.types[b.token] = b.t
		if b.cause != nil {
			r.exceptions[b.cause] = b.t
		}
	}
	return r
}

// Object returns the root class.
func (r *Registry) Object() *Type { return r.object }

// ---------------------------------------------------------------------------
// Definitions
// ---------------------------------------------------------------------------

// DefineType registers t under token.
func (r *Registry) DefineType(token int32, t vm.Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[token]; ok {
		return fmt.Errorf("%w: type %#x", ErrDuplicateToken, token)
	}
	r.types[token] = t
	return nil
}

// DefineMethod registers m under token. Virtual methods become overridable
// in classes deriving from the declaring type.
func (r *Registry) DefineMethod(token int32, m *Method) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[token]; ok {
		return fmt.Errorf("%w: method %#x", ErrDuplicateToken, token)
	}
	r.methods[token] = m
	if m.IsVirtual() && m.decl != nil {
		if m.decl.vtable == nil {
			m.decl.vtable = make(map[string]*Method)
		}
		m.decl.vtable[m.name] = m
	}
	return nil
}

// DefineField registers a field of decl under token. Instance fields are
// numbered in definition order after those inherited from base classes.
func (r *Registry) DefineField(token int32, decl *Type, name string, typ vm.Type, static bool) (*Field, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fields[token]; ok {
		return nil, fmt.Errorf("%w: field %#x", ErrDuplicateToken, token)
	}
	f := &Field{name: name, decl: decl, typ: typ, static: static, index: -1}
	if !static {
		f.index = decl.nfields
		for b := decl.base; b != nil; b = b.base {
			f.index += b.nfields
		}
		decl.nfields++
	}
	r.fields[token] = f
	return f, nil
}

// DefineString registers a string literal under token.
func (r *Registry) DefineString(token int32, s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strings[token]; ok {
		return fmt.Errorf("%w: string %#x", ErrDuplicateToken, token)
	}
	r.strings[token] = s
	return nil
}

// MapMemory maps data at base for ReadAbsolute and WriteAbsolute. The slice
// is used in place.
func (r *Registry) MapMemory(base uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	end := base + uint64(len(data))
	for _, s := range r.memory {
		if base < s.base+uint64(len(s.data)) && s.base < end {
			return fmt.Errorf("host: segment %#x-%#x overlaps %#x", base, end, s.base)
		}
	}
	r.memory = append(r.memory, segment{base: base, data: data})
	return nil
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

func (r *Registry) ResolveType(token int32) (vm.Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t, ok := r.types[token]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: type %#x", ErrUnknownToken, token)
}

func (r *Registry) ResolveMethod(token int32) (vm.Method, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.methods[token]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: method %#x", ErrUnknownToken, token)
}

func (r *Registry) ResolveField(token int32) (vm.Field, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.fields[token]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: field %#x", ErrUnknownToken, token)
}

func (r *Registry) ResolveString(token int32) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strings[token]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: string %#x", ErrUnknownToken, token)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

func asMethod(m vm.Method) (*Method, error) {
	hm, ok := m.(*Method)
	if !ok {
		return nil, fmt.Errorf("host: foreign method %s", m.Name())
	}
	return hm, nil
}

// Invoke runs the body of m, dispatching on the receiver's dynamic type when
// virtual is set.
func (r *Registry) Invoke(m vm.Method, this vm.Value, args []vm.Value, virtual bool) (vm.Value, error) {
	if virtual && !m.IsStatic() {
		target, err := r.Devirtualize(this, m)
		if err != nil {
			return vm.Void, err
		}
		m = target
	}
	hm, err := asMethod(m)
	if err != nil {
		return vm.Void, err
	}
	if hm.body == nil {
		return vm.Void, fmt.Errorf("%w: %s", ErrNoBody, hm)
	}
	return hm.body(this, args)
}

// Construct allocates an instance of the constructor's declaring type and
// runs the constructor body on it.
func (r *Registry) Construct(ctor vm.Method, args []vm.Value) (vm.Value, error) {
	hm, err := asMethod(ctor)
	if err != nil {
		return vm.Void, err
	}
	if !hm.IsConstructor() || hm.decl == nil {
		return vm.Void, fmt.Errorf("host: %s is not a constructor", hm)
	}

	var this vm.Value
	switch hm.decl.kind {
	case vm.KindAggregate:
		this = vm.FromAggregate(vm.NewAggregate(hm.decl))
	case vm.KindObject:
		this = vm.FromObject(NewObject(hm.decl))
	default:
		return vm.Void, fmt.Errorf("host: cannot construct %s", hm.decl)
	}
	if hm.body != nil {
		if _, err := hm.body(this, args); err != nil {
			return vm.Void, err
		}
	}
	return this, nil
}

// Devirtualize returns the override of m for the receiver's dynamic type.
// Receivers that are not host objects use m itself.
func (r *Registry) Devirtualize(this vm.Value, m vm.Method) (vm.Method, error) {
	if this.IsNull() {
		return nil, vm.ErrNullReference
	}
	if !m.IsVirtual() {
		return m, nil
	}
	obj, ok := this.Object().(*Object)
	if !ok {
		return m, nil
	}
	if target := obj.typ.lookupVirtual(m.Name()); target != nil {
		return target, nil
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func (r *Registry) instance(obj vm.Value, f vm.Field) (*Object, error) {
	if obj.IsNull() {
		return nil, vm.ErrNullReference
	}
	o, ok := obj.Object().(*Object)
	if !ok {
		return nil, vm.ErrInvalidCast
	}
	if decl, ok := f.DeclaringType().(*Type); ok && !o.typ.IsSubclassOf(decl) {
		return nil, fmt.Errorf("%w: %s has no field %s", vm.ErrInvalidCast, o.typ, f.Name())
	}
	return o, nil
}

func (r *Registry) LoadField(obj vm.Value, f vm.Field) (vm.Value, error) {
	o, err := r.instance(obj, f)
	if err != nil {
		return vm.Void, err
	}
	return o.Get(f.Index(), f.Type()), nil
}

func (r *Registry) StoreField(obj vm.Value, f vm.Field, v vm.Value) error {
	o, err := r.instance(obj, f)
	if err != nil {
		return err
	}
	o.Set(f.Index(), v)
	return nil
}

func (r *Registry) LoadStatic(f vm.Field) (vm.Value, error) {
	hf, ok := f.(*Field)
	if !ok || !hf.static {
		return vm.Void, fmt.Errorf("host: %s is not a static field", f.Name())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.statics[hf]; ok {
		return v, nil
	}
	return vm.Zero(hf.typ), nil
}

func (r *Registry) StoreStatic(f vm.Field, v vm.Value) error {
	hf, ok := f.(*Field)
	if !ok || !hf.static {
		return fmt.Errorf("host: %s is not a static field", f.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statics[hf] = v
	return nil
}

// ---------------------------------------------------------------------------
// Boxing and type tests
// ---------------------------------------------------------------------------

func (r *Registry) Box(v vm.Value, t vm.Type) (vm.Value, error) {
	return vm.FromObject(&Boxed{Type: t, Value: v}), nil
}

// Unbox requires the boxed type to match t exactly. An enum and its
// underlying integer type unbox into each other.
func (r *Registry) Unbox(obj vm.Value, t vm.Type) (vm.Value, error) {
	if obj.IsNull() {
		return vm.Void, vm.ErrNullReference
	}
	b, ok := obj.Object().(*Boxed)
	if !ok || !unboxCompatible(b.Type, t) {
		return vm.Void, vm.ErrInvalidCast
	}
	return b.Value, nil
}

func unboxCompatible(boxed, t vm.Type) bool {
	if boxed == t {
		return true
	}
	if boxed == nil || t == nil {
		return false
	}
	underlying := func(t vm.Type) vm.Kind {
		if t.Kind() == vm.KindEnum && t.Elem() != nil {
			return t.Elem().Kind()
		}
		return t.Kind()
	}
	if boxed.Kind() != vm.KindEnum && t.Kind() != vm.KindEnum {
		return false
	}
	return underlying(boxed) == underlying(t)
}

// IsInstanceOf walks the class chain of host objects. Boxed values match
// their exact type; every non-null value is a System.Object.
func (r *Registry) IsInstanceOf(obj vm.Value, t vm.Type) bool {
	if obj.IsNull() {
		return false
	}
	if t == vm.Type(r.object) {
		return true
	}
	switch o := obj.Object().(type) {
	case *Object:
		target, ok := t.(*Type)
		return ok && o.typ.IsSubclassOf(target)
	case *Boxed:
		return o.Type == t
	case string:
		return t.Kind() == vm.KindString
	case *vm.Array:
		return t.Kind() == vm.KindArray && (t.Elem() == nil || t.Elem() == o.Elem())
	}
	return false
}

// ---------------------------------------------------------------------------
// Raw memory
// ---------------------------------------------------------------------------

func sizeOf(t vm.Type) (int, bool) {
	switch t.Kind() {
	case vm.KindBool, vm.KindInt8, vm.KindUint8:
		return 1, true
	case vm.KindChar, vm.KindInt16, vm.KindUint16:
		return 2, true
	case vm.KindInt32, vm.KindUint32, vm.KindFloat32:
		return 4, true
	case vm.KindInt64, vm.KindUint64, vm.KindFloat64:
		return 8, true
	case vm.KindNativeInt, vm.KindNativeUint, vm.KindPointer:
		return vm.NativeSize, true
	case vm.KindEnum:
		if t.Elem() != nil {
			return sizeOf(t.Elem())
		}
	}
	return 0, false
}

func (r *Registry) mapped(addr uint64, n int) ([]byte, error) {
	for _, s := range r.memory {
		if addr >= s.base && addr-s.base+uint64(n) <= uint64(len(s.data)) {
			off := addr - s.base
			return s.data[off : off+uint64(n)], nil
		}
	}
	return nil, fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, n)
}

// ReadAbsolute decodes a little-endian value of type t at addr.
func (r *Registry) ReadAbsolute(addr uint64, t vm.Type) (vm.Value, error) {
	n, ok := sizeOf(t)
	if !ok {
		return vm.Void, fmt.Errorf("host: cannot read %s from memory", typeName(t))
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, err := r.mapped(addr, n)
	if err != nil {
		return vm.Void, err
	}

	var raw uint64
	switch n {
	case 1:
		raw = uint64(b[0])
	case 2:
		raw = uint64(binary.LittleEndian.Uint16(b))
	case 4:
		raw = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		raw = binary.LittleEndian.Uint64(b)
	}

	switch t.Kind() {
	case vm.KindFloat32:
		return vm.FromFloat32(math.Float32frombits(uint32(raw))), nil
	case vm.KindFloat64:
		return vm.FromFloat64(math.Float64frombits(raw)), nil
	case vm.KindPointer:
		return vm.FromPointer(t, raw), nil
	case vm.KindBool:
		return vm.FromBool(raw != 0), nil
	}
	return vm.Convert(vm.FromUint64(raw), t), nil
}

// WriteAbsolute encodes v as type t at addr.
func (r *Registry) WriteAbsolute(addr uint64, t vm.Type, v vm.Value) error {
	n, ok := sizeOf(t)
	if !ok {
		return fmt.Errorf("host: cannot write %s to memory", typeName(t))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.mapped(addr, n)
	if err != nil {
		return err
	}

	var raw uint64
	switch t.Kind() {
	case vm.KindFloat32:
		raw = uint64(math.Float32bits(v.Float32()))
	case vm.KindFloat64:
		raw = math.Float64bits(v.Float64())
	default:
		raw = v.Uint64()
	}

	switch n {
	case 1:
		b[0] = byte(raw)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(raw))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(raw))
	case 8:
		binary.LittleEndian.PutUint64(b, raw)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// ExceptionType returns the built-in exception class raised for a core fault
// cause, or System.Exception.
func (r *Registry) ExceptionType(err error) *Type {
	for cause, t := range r.exceptions {
		if errors.Is(err, cause) {
			return t
		}
	}
	return r.exception
}

// NewException allocates an exception of class t with a message.
func (r *Registry) NewException(t *Type, msg string) *Object {
	o := NewObject(t)
	o.Message = msg
	return o
}

// ExceptionObject returns the managed exception for err: the object carried
// by a Thrown error or an in-flight Fault, otherwise a new instance of the
// class mapped to err's cause.
func (r *Registry) ExceptionObject(err error) vm.Value {
	var thrown *Thrown
	if errors.As(err, &thrown) && thrown.Object != nil {
		return vm.FromObject(thrown.Object)
	}
	var fault *vm.Fault
	if errors.As(err, &fault) && !fault.Object.IsNull() {
		return fault.Object
	}
	t := r.ExceptionType(err)
	log.Debugf("materializing %s for %v", t, err)
	return vm.FromObject(r.NewException(t, err.Error()))
}

// Message returns the message of an exception value, or its string form.
func Message(v vm.Value) string {
	if o, ok := v.Object().(*Object); ok {
		return o.Message
	}
	return v.String()
}
