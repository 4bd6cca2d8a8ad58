package vm

// ---------------------------------------------------------------------------
// Aggregate: a value-type instance with copy semantics
// ---------------------------------------------------------------------------

// Aggregate holds the fields of a value-type instance. Fields are indexed by
// Field.Index and materialize lazily with their zero value.
type Aggregate struct {
	typ    Type
	fields []Value
}

// NewAggregate creates a zeroed instance of the value type t.
func NewAggregate(t Type) *Aggregate {
	return &Aggregate{typ: t}
}

// Type returns the declared value type.
func (a *Aggregate) Type() Type { return a.typ }

// Get returns the value of field f, or its zero value if never stored.
func (a *Aggregate) Get(f Field) Value {
	i := f.Index()
	if i < 0 || i >= len(a.fields) || a.fields[i].IsVoid() {
		return Zero(f.Type())
	}
	return a.fields[i]
}

// Set stores v into field f, converting it to the field's declared type.
func (a *Aggregate) Set(f Field, v Value) {
	i := f.Index()
	if i < 0 {
		return
	}
	if i >= len(a.fields) {
		grown := make([]Value, i+1)
		copy(grown, a.fields)
		a.fields = grown
	}
	a.fields[i] = Convert(v, f.Type())
}

// Clone returns a deep copy: nested aggregates are copied, handles shared.
func (a *Aggregate) Clone() *Aggregate {
	if a == nil {
		return nil
	}
	c := &Aggregate{typ: a.typ, fields: make([]Value, len(a.fields))}
	for i, f := range a.fields {
		c.fields[i] = f.Clone()
	}
	return c
}

// Equal compares two aggregates field by field.
func (a *Aggregate) Equal(b *Aggregate) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.typ != b.typ {
		return false
	}
	n := max(len(a.fields), len(b.fields))
	for i := 0; i < n; i++ {
		var x, y Value
		if i < len(a.fields) {
			x = a.fields[i]
		}
		if i < len(b.fields) {
			y = b.fields[i]
		}
		if x.IsVoid() != y.IsVoid() {
			// An unset field equals a stored zero.
			if !isZeroValue(x) || !isZeroValue(y) {
				return false
			}
			continue
		}
		if !x.Equal(y) {
			return false
		}
	}
	return true
}

func isZeroValue(v Value) bool {
	switch {
	case v.IsVoid():
		return true
	case v.isNumeric():
		return v.bits == 0
	}
	return v.IsNull()
}

// ---------------------------------------------------------------------------
// Array: a fixed-length vector of typed elements
// ---------------------------------------------------------------------------

// Array is a core-owned single-dimensional array.
type Array struct {
	typ   Type
	items []Value
}

// NewArray creates an array of n zero elements of type elem.
func NewArray(elem Type, n int) *Array {
	a := &Array{typ: arrayOf(elem), items: make([]Value, n)}
	for i := range a.items {
		a.items[i] = Zero(elem)
	}
	return a
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.items) }

// Elem returns the element type.
func (a *Array) Elem() Type { return a.typ.Elem() }

// Get returns element i.
func (a *Array) Get(i int64) (Value, error) {
	if i < 0 || i >= int64(len(a.items)) {
		return Value{}, ErrIndexOutOfRange
	}
	return a.items[i], nil
}

// Set stores v at index i, converted to the element type.
func (a *Array) Set(i int64, v Value) error {
	if i < 0 || i >= int64(len(a.items)) {
		return ErrIndexOutOfRange
	}
	a.items[i] = Convert(v, a.Elem())
	return nil
}

// Values returns the backing elements.
func (a *Array) Values() []Value { return a.items }

type arrayType struct{ elem Type }

func arrayOf(elem Type) Type { return arrayType{elem: elem} }

func (t arrayType) Name() string { return typeName(t.elem) + "[]" }
func (t arrayType) Kind() Kind   { return KindArray }
func (t arrayType) Elem() Type   { return t.elem }
