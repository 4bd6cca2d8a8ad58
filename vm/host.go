package vm

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Host metadata
// ---------------------------------------------------------------------------

// Type is a host type descriptor. Elem is the element type of arrays and
// pointers, the referent type of Ref types and the underlying integer type
// of enums; it is nil otherwise.
type Type interface {
	Name() string
	Kind() Kind
	Elem() Type
}

// Method is a host method descriptor. Params excludes the receiver; a by-ref
// parameter has a Type of KindRef. Return is nil for void methods.
type Method interface {
	Name() string
	DeclaringType() Type
	Params() []Type
	Return() Type
	IsStatic() bool
	IsVirtual() bool
	IsConstructor() bool
}

// Field is a host field descriptor. Index addresses the field inside core
// aggregates and host objects alike.
type Field interface {
	Name() string
	DeclaringType() Type
	Type() Type
	Index() int
	IsStatic() bool
}

// ---------------------------------------------------------------------------
// Host Bridge
// ---------------------------------------------------------------------------

// Bridge is everything the interpreter needs from its host: metadata
// resolution, invocation, object and field access, boxing, raw memory and the
// materialization of core faults as host exception objects. Implementations
// must be safe for concurrent use.
type Bridge interface {
	ResolveType(token int32) (Type, error)
	ResolveMethod(token int32) (Method, error)
	ResolveField(token int32) (Field, error)
	ResolveString(token int32) (string, error)

	// Invoke calls m. For by-ref parameters args[i] holds the referent value
	// on entry and the value to write back on return.
	Invoke(m Method, this Value, args []Value, virtual bool) (Value, error)
	Construct(ctor Method, args []Value) (Value, error)
	Devirtualize(this Value, m Method) (Method, error)

	LoadField(obj Value, f Field) (Value, error)
	StoreField(obj Value, f Field, v Value) error
	LoadStatic(f Field) (Value, error)
	StoreStatic(f Field, v Value) error

	Box(v Value, t Type) (Value, error)
	Unbox(obj Value, t Type) (Value, error)
	IsInstanceOf(obj Value, t Type) bool

	ReadAbsolute(addr uint64, t Type) (Value, error)
	WriteAbsolute(addr uint64, t Type, v Value) error

	// ExceptionObject returns the host exception object for a core fault
	// cause such as ErrOverflow or ErrNullReference.
	ExceptionObject(err error) Value
}

// ---------------------------------------------------------------------------
// Resolution cache
// ---------------------------------------------------------------------------

// Resolver wraps a Bridge with a process-wide token cache. Entries are only
// ever added; a token resolved twice concurrently keeps the first result.
type Resolver struct {
	Bridge

	mu      sync.Mutex
	types   map[int32]Type
	methods map[int32]Method
	fields  map[int32]Field
	strings map[int32]string

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewResolver creates a caching resolver over b.
func NewResolver(b Bridge) *Resolver {
	return &Resolver{
		Bridge:  b,
		types:   make(map[int32]Type),
		methods: make(map[int32]Method),
		fields:  make(map[int32]Field),
		strings: make(map[int32]string),
	}
}

func resolveCached[T any](r *Resolver, cache map[int32]T, token int32, resolve func(int32) (T, error)) (T, error) {
	r.mu.Lock()
	v, ok := cache[token]
	r.mu.Unlock()
	if ok {
		r.hits.Add(1)
		return v, nil
	}
	r.misses.Add(1)

	v, err := resolve(token)
	if err != nil {
		return v, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := cache[token]; ok {
		return prev, nil
	}
	cache[token] = v
	return v, nil
}

func (r *Resolver) ResolveType(token int32) (Type, error) {
	return resolveCached(r, r.types, token, r.Bridge.ResolveType)
}

func (r *Resolver) ResolveMethod(token int32) (Method, error) {
	return resolveCached(r, r.methods, token, r.Bridge.ResolveMethod)
}

func (r *Resolver) ResolveField(token int32) (Field, error) {
	return resolveCached(r, r.fields, token, r.Bridge.ResolveField)
}

func (r *Resolver) ResolveString(token int32) (string, error) {
	return resolveCached(r, r.strings, token, r.Bridge.ResolveString)
}

// Stats returns the cache hit and miss counts.
func (r *Resolver) Stats() (hits, misses uint64) {
	return r.hits.Load(), r.misses.Load()
}

// Len returns the number of cached entries across all token spaces.
func (r *Resolver) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types) + len(r.methods) + len(r.fields) + len(r.strings)
}
