package vm

import (
	"errors"
	"fmt"
	"runtime"
)

// ---------------------------------------------------------------------------
// Interpreter: execution state of one routine invocation
// ---------------------------------------------------------------------------

// Interpreter runs a single invocation. It owns its cursor, evaluation stack,
// argument table and exception state; nested callvm invocations get their
// own Interpreter.
type Interpreter struct {
	vm      *VM
	routine *Routine
	depth   int

	cursor *Cursor
	stack  *EvalStack
	args   *ArgumentTable

	tryStack  []*TryRegion
	cleanups  []cleanupFrame
	caught    []caughtFrame
	exception *Fault
	filter    *filterState

	constrained Type
	opStart     int
	done        bool
	result      Value
}

func newInterpreter(v *VM, r *Routine, args []Value, depth int) *Interpreter {
	in := &Interpreter{
		vm:      v,
		routine: r,
		depth:   depth,
		cursor:  NewCursor(v.code, 0),
		stack:   NewEvalStack(v.opts.StackCapacity),
		args:    NewArgumentTable(len(r.Params) + len(r.Locals)),
	}
	in.args.Bind(args, r.Params)
	for _, t := range r.Locals {
		in.args.AddLocal(t)
	}
	return in
}

// Run executes the routine until ret. Catchable faults are routed to the
// routine's handlers; a fault no handler accepts is returned as *Fault.
// Malformed bytecode and interpreter invariant violations are fatal.
func (in *Interpreter) Run() (result Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = Void, in.recovered(r)
		}
	}()

	trace := in.vm.opts.Trace
	prof := in.vm.profiler
	in.cursor.Seek(in.routine.Code)
	for !in.done {
		in.opStart = in.cursor.Pos()
		op := Opcode(in.cursor.ReadU8())
		h := dispatchTable[op]
		if h == nil {
			return Void, in.fatal(fmt.Errorf("%w: unknown opcode %#02x", ErrBadBytecode, byte(op)))
		}
		if trace {
			log.Debugf("%04d  %-12s depth=%d stack=%d", in.opStart, op, in.depth, in.stack.Len())
		}
		if prof != nil {
			prof.RecordOpcode(op)
		}
		if err := h(in); err != nil {
			if err := in.raise(err); err != nil {
				if IsFatal(err) {
					return Void, in.fatal(err)
				}
				return Void, err
			}
		}
	}
	return in.result, nil
}

func (in *Interpreter) fatal(err error) error {
	return fmt.Errorf("routine %04d at %04d: %w", in.routine.Entry, in.opStart, err)
}

// recovered converts a panic from the dispatch loop into a fatal error.
// Out-of-range reads and stack underflow mean the bytecode is malformed.
func (in *Interpreter) recovered(r any) error {
	switch e := r.(type) {
	case runtime.Error:
		return in.fatal(fmt.Errorf("%w: %v", ErrBadBytecode, e))
	case error:
		if errors.Is(e, ErrStackUnderflow) {
			return in.fatal(e)
		}
	}
	panic(r)
}

// jump transfers control to offset. Targets are validated lazily: fetching
// from an offset outside the code section is reported as bad bytecode.
func (in *Interpreter) jump(offset int) {
	in.cursor.Seek(offset)
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

func (in *Interpreter) typeOperand() (Type, error) {
	token := in.cursor.ReadI32()
	t, err := in.vm.bridge.ResolveType(token)
	if err != nil {
		return nil, fmt.Errorf("resolve type %#08x: %w", uint32(token), err)
	}
	return t, nil
}

func (in *Interpreter) methodOperand() (Method, error) {
	token := in.cursor.ReadI32()
	m, err := in.vm.bridge.ResolveMethod(token)
	if err != nil {
		return nil, fmt.Errorf("resolve method %#08x: %w", uint32(token), err)
	}
	return m, nil
}

func (in *Interpreter) fieldOperand() (Field, error) {
	token := in.cursor.ReadI32()
	f, err := in.vm.bridge.ResolveField(token)
	if err != nil {
		return nil, fmt.Errorf("resolve field %#08x: %w", uint32(token), err)
	}
	return f, nil
}

// deref follows a managed reference to its target. Other values are
// returned unchanged.
func deref(v Value) (Value, error) {
	if v.Kind() != KindRef {
		return v, nil
	}
	r := v.Ref()
	if r == nil {
		return Value{}, ErrNullReference
	}
	return r.Load()
}
