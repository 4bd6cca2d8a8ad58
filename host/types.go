package host

import (
	"fmt"
	"sync"

	"github.com/chazu/vmrt/vm"
)

// ---------------------------------------------------------------------------
// Type
// ---------------------------------------------------------------------------

// Type is a host type: a class, a struct, an enum, or a ref or pointer type.
// Classes form a single-inheritance chain through Base.
type Type struct {
	name string
	kind vm.Kind
	elem vm.Type
	base *Type

	nfields int                // instance fields declared on this type
	vtable  map[string]*Method // virtual methods declared on this type
}

// NewClass creates a reference type deriving from base.
func NewClass(name string, base *Type) *Type {
	return &Type{name: name, kind: vm.KindObject, base: base}
}

// NewStruct creates a value type.
func NewStruct(name string) *Type {
	return &Type{name: name, kind: vm.KindAggregate}
}

// NewEnum creates an enum over an integer kind.
func NewEnum(name string, underlying vm.Kind) *Type {
	return &Type{name: name, kind: vm.KindEnum, elem: vm.Primitive(underlying)}
}

// RefTo creates the managed reference type for by-ref parameters of elem.
func RefTo(elem vm.Type) *Type {
	return &Type{name: typeName(elem) + "&", kind: vm.KindRef, elem: elem}
}

// PointerTo creates an unmanaged pointer type.
func PointerTo(elem vm.Type) *Type {
	return &Type{name: typeName(elem) + "*", kind: vm.KindPointer, elem: elem}
}

func (t *Type) Name() string   { return t.name }
func (t *Type) Elem() vm.Type  { return t.elem }
func (t *Type) Kind() vm.Kind  { return t.kind }
func (t *Type) Base() *Type    { return t.base }
func (t *Type) String() string { return t.name }


// IsSubclassOf returns true if t is other or derives from it.
func (t *Type) IsSubclassOf(other *Type) bool {
	for c := t; c != nil; c = c.base {
		if c == other {
			return true
		}
	}
	return false
}

// lookupVirtual finds the most derived override of name starting at t.
func (t *Type) lookupVirtual(name string) *Method {
	for c := t; c != nil; c = c.base {
		if m, ok := c.vtable[name]; ok {
			return m
		}
	}
	return nil
}

func typeName(t vm.Type) string {
	if t == nil {
		return "object"
	}
	return t.Name()
}

// ---------------------------------------------------------------------------
// Method
// ---------------------------------------------------------------------------

// Func is the Go body of a host method. For instance methods this is the
// receiver; for constructors it is the freshly allocated instance. By-ref
// arguments arrive as their referent values and are written back from args
// after the call returns.
type Func func(this vm.Value, args []vm.Value) (vm.Value, error)

// MethodFlags describe how a method is dispatched.
type MethodFlags uint8

const (
	Static MethodFlags = 1 << iota
	Virtual
	Constructor
)

// Method is a host method with a Go body.
type Method struct {
	name   string
	decl   *Type
	params []vm.Type
	ret    vm.Type
	flags  MethodFlags
	body   Func
}

// NewMethod creates a method of decl. A nil ret declares a void method.
func NewMethod(decl *Type, name string, flags MethodFlags, params []vm.Type, ret vm.Type, body Func) *Method {
	return &Method{name: name, decl: decl, params: params, ret: ret, flags: flags, body: body}
}

func (m *Method) Name() string        { return m.name }
func (m *Method) Params() []vm.Type   { return m.params }
func (m *Method) IsStatic() bool      { return m.flags&Static != 0 }
func (m *Method) IsVirtual() bool     { return m.flags&Virtual != 0 }
func (m *Method) IsConstructor() bool { return m.flags&Constructor != 0 }
func (m *Method) Return() vm.Type     { return m.ret }
func (m *Method) String() string      { return m.decl.name + "::" + m.name }

func (m *Method) DeclaringType() vm.Type {
	if m.decl == nil {
		return nil
	}
	return m.decl
}


// ---------------------------------------------------------------------------
// Field
// ---------------------------------------------------------------------------

// Field is an instance or static field of a class or struct.
type Field struct {
	name   string
	decl   *Type
	typ    vm.Type
	index  int
	static bool
}

func (f *Field) Name() string           { return f.name }
func (f *Field) DeclaringType() vm.Type { return f.decl }
func (f *Field) Type() vm.Type          { return f.typ }
func (f *Field) Index() int             { return f.index }
func (f *Field) IsStatic() bool         { return f.static }

// ---------------------------------------------------------------------------
// Object and Boxed
// ---------------------------------------------------------------------------

// Object is an instance of a host class. Exceptions carry a Message.
type Object struct {
	typ     *Type
	mu      sync.Mutex
	fields  []vm.Value
	Message string
}

// NewObject allocates a zeroed instance of the class t.
func NewObject(t *Type) *Object {
	return &Object{typ: t}
}

// Type returns the object's dynamic type.
func (o *Object) Type() *Type { return o.typ }

// Get returns the field at index i, or the zero value of typ if unset.
func (o *Object) Get(i int, typ vm.Type) vm.Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= len(o.fields) || o.fields[i].IsVoid() {
		return vm.Zero(typ)
	}
	return o.fields[i]
}

// Set stores v at index i.
func (o *Object) Set(i int, v vm.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if i >= len(o.fields) {
		grown := make([]vm.Value, i+1)
		copy(grown, o.fields)
		o.fields = grown
	}
	o.fields[i] = v
}

func (o *Object) String() string {
	if o.Message != "" {
		return fmt.Sprintf("%s: %s", o.typ.name, o.Message)
	}
	return o.typ.name
}

// Boxed is a value type instance moved to the heap.
type Boxed struct {
	Type  vm.Type
	Value vm.Value
}

func (b *Boxed) String() string {
	return fmt.Sprintf("%s(%v)", typeName(b.Type), b.Value)
}
