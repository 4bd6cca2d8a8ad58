package vm

// EvalStack is the per-invocation evaluation stack. Values are stored in
// their stack projection. Popping an empty stack is an interpreter invariant
// violation and panics with ErrStackUnderflow; Interpreter.Run converts the
// panic into a fatal result.
type EvalStack struct {
	items []Value
}

// NewEvalStack creates a stack with room for capacity values before growing.
func NewEvalStack(capacity int) *EvalStack {
	return &EvalStack{items: make([]Value, 0, capacity)}
}

// Push projects v and pushes it.
func (s *EvalStack) Push(v Value) {
	s.items = append(s.items, v.ToStack())
}

// Pop removes and returns the top value.
func (s *EvalStack) Pop() Value {
	n := len(s.items)
	if n == 0 {
		panic(ErrStackUnderflow)
	}
	v := s.items[n-1]
	s.items[n-1] = Value{}
	s.items = s.items[:n-1]
	return v
}

// Peek returns the top value without removing it.
func (s *EvalStack) Peek() Value {
	if len(s.items) == 0 {
		panic(ErrStackUnderflow)
	}
	return s.items[len(s.items)-1]
}

// Dup pushes a copy of the top value. Aggregates are copied; handles are
// shared.
func (s *EvalStack) Dup() {
	s.items = append(s.items, s.Peek().Clone())
}

// Clear empties the stack.
func (s *EvalStack) Clear() {
	clear(s.items)
	s.items = s.items[:0]
}

// Len returns the number of values on the stack.
func (s *EvalStack) Len() int { return len(s.items) }
