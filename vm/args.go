package vm

// Param describes a routine parameter.
type Param struct {
	Type  Type
	ByRef bool
}

type slot struct {
	val Value
	typ Type
	ref Reference
}

// ArgumentTable holds a routine's parameters followed by its locals. A slot
// either owns its value or, for by-ref parameters, is bound to a Reference.
type ArgumentTable struct {
	slots []slot
}

// NewArgumentTable creates an empty table with room for n slots.
func NewArgumentTable(n int) *ArgumentTable {
	return &ArgumentTable{slots: make([]slot, 0, n)}
}

// Bind appends one slot per declared parameter. A by-ref parameter binds to
// the caller's Reference when one is passed, to the caller's slice element
// when a plain value is passed (so the caller observes writes), and to a
// typed-null placeholder when the caller supplied nothing. By-value
// parameters own a converted copy.
func (t *ArgumentTable) Bind(callerArgs []Value, params []Param) {
	for i, p := range params {
		var arg Value
		if i < len(callerArgs) {
			arg = callerArgs[i]
		}
		if !p.ByRef {
			t.slots = append(t.slots, slot{val: Convert(arg, p.Type).Clone(), typ: p.Type})
			continue
		}
		s := slot{typ: p.Type}
		switch {
		case arg.Kind() == KindRef && arg.Ref() != nil:
			s.ref = arg.Ref()
		case arg.IsVoid():
			s.ref = nullRef{typ: p.Type}
		default:
			callerArgs[i] = Convert(arg, p.Type)
			s.ref = elemRef{elems: callerArgs, index: i, typ: p.Type}
		}
		t.slots = append(t.slots, s)
	}
}

// AddLocal appends a zero-initialized local of type typ and returns its index.
func (t *ArgumentTable) AddLocal(typ Type) int {
	t.slots = append(t.slots, slot{val: Zero(typ), typ: typ})
	return len(t.slots) - 1
}

// Load returns a copy of slot i. A by-ref slot yields its Reference.
func (t *ArgumentTable) Load(i int) Value {
	s := &t.slots[i]
	if s.ref != nil {
		return FromRef(s.ref)
	}
	return s.val.Clone()
}

// Store writes v into slot i. Storing a Reference into a by-ref slot rebinds
// it; any other value is written through the binding.
func (t *ArgumentTable) Store(i int, v Value) error {
	s := &t.slots[i]
	if s.ref != nil {
		if v.Kind() == KindRef && v.Ref() != nil {
			s.ref = v.Ref()
			return nil
		}
		return s.ref.Store(v)
	}
	s.val = Convert(v, s.typ)
	return nil
}

// Address returns a Reference to slot i. For a by-ref slot it is the bound
// Reference itself.
func (t *ArgumentTable) Address(i int) Value {
	s := &t.slots[i]
	if s.ref != nil {
		return FromRef(s.ref)
	}
	return FromRef(slotRef{table: t, index: i})
}

// Len returns the number of slots.
func (t *ArgumentTable) Len() int { return len(t.slots) }
