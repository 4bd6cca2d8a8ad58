package vm

// Reference is a managed pointer to a storage location. Load returns the
// stored value without copying it; callers clone where copy semantics apply.
type Reference interface {
	Load() (Value, error)
	Store(Value) error
	Type() Type
}

// slotRef addresses a slot of an ArgumentTable.
type slotRef struct {
	table *ArgumentTable
	index int
}

func (r slotRef) Load() (Value, error) { return r.table.slots[r.index].val, nil }

func (r slotRef) Store(v Value) error {
	s := &r.table.slots[r.index]
	s.val = Convert(v, s.typ)
	return nil
}

func (r slotRef) Type() Type { return r.table.slots[r.index].typ }

// elemRef addresses an element of a caller-supplied argument slice, so that
// writes are visible to the caller after the invocation.
type elemRef struct {
	elems []Value
	index int
	typ   Type
}

func (r elemRef) Load() (Value, error) { return r.elems[r.index], nil }

func (r elemRef) Store(v Value) error {
	r.elems[r.index] = Convert(v, r.typ)
	return nil
}

func (r elemRef) Type() Type { return r.typ }

// aggregateFieldRef addresses a field of a core aggregate in place.
type aggregateFieldRef struct {
	agg   *Aggregate
	field Field
}

func (r aggregateFieldRef) Load() (Value, error) { return r.agg.Get(r.field), nil }

func (r aggregateFieldRef) Store(v Value) error {
	r.agg.Set(r.field, v)
	return nil
}

func (r aggregateFieldRef) Type() Type { return r.field.Type() }

// objectFieldRef addresses an instance field of a host object.
type objectFieldRef struct {
	bridge Bridge
	obj    Value
	field  Field
}

func (r objectFieldRef) Load() (Value, error) { return r.bridge.LoadField(r.obj, r.field) }

func (r objectFieldRef) Store(v Value) error {
	return r.bridge.StoreField(r.obj, r.field, Convert(v, r.field.Type()))
}

func (r objectFieldRef) Type() Type { return r.field.Type() }

// staticFieldRef addresses a static host field.
type staticFieldRef struct {
	bridge Bridge
	field  Field
}

func (r staticFieldRef) Load() (Value, error) { return r.bridge.LoadStatic(r.field) }

func (r staticFieldRef) Store(v Value) error {
	return r.bridge.StoreStatic(r.field, Convert(v, r.field.Type()))
}

func (r staticFieldRef) Type() Type { return r.field.Type() }

// arrayElemRef addresses an array element.
type arrayElemRef struct {
	arr   *Array
	index int64
}

func (r arrayElemRef) Load() (Value, error) { return r.arr.Get(r.index) }
func (r arrayElemRef) Store(v Value) error  { return r.arr.Set(r.index, v) }
func (r arrayElemRef) Type() Type           { return r.arr.Elem() }

// pointerRef addresses raw host memory.
type pointerRef struct {
	bridge Bridge
	addr   uint64
	typ    Type
}

func (r pointerRef) Load() (Value, error) {
	if r.addr == 0 {
		return Value{}, ErrNullReference
	}
	return r.bridge.ReadAbsolute(r.addr, r.typ)
}

func (r pointerRef) Store(v Value) error {
	if r.addr == 0 {
		return ErrNullReference
	}
	return r.bridge.WriteAbsolute(r.addr, r.typ, Convert(v, r.typ))
}

func (r pointerRef) Type() Type { return r.typ }

// nullRef is a typed placeholder for a by-ref argument the caller did not
// supply. Any access faults.
type nullRef struct{ typ Type }

func (r nullRef) Load() (Value, error) { return Value{}, ErrNullReference }
func (r nullRef) Store(Value) error    { return ErrNullReference }
func (r nullRef) Type() Type           { return r.typ }

// NewSliceRef returns a Reference to args[i] that converts stored values to t.
// Hosts use it to pass by-ref arguments into Invoke.
func NewSliceRef(args []Value, i int, t Type) Reference {
	return elemRef{elems: args, index: i, typ: t}
}
