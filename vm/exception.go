package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exception state
// ---------------------------------------------------------------------------

// filterState records the filter currently being evaluated so a rejection
// resumes the handler scan after it.
type filterState struct {
	region *TryRegion
	index  int
}

// cleanupFrame is a running finally or fault handler. When the handler ends
// control continues with the remaining handlers of the same region, then
// either resumes unwinding exception or continues leaving towards target.
// depth is the try-stack height the handler runs at.
type cleanupFrame struct {
	handlers  []int
	exception *Fault
	target    int
	depth     int
}

// caughtFrame is a running catch handler; rethrow re-raises its exception.
type caughtFrame struct {
	exception *Fault
	depth     int
}

// enterTry activates every region beginning at offset, outermost first.
func (in *Interpreter) enterTry(offset int) error {
	regions := in.routine.Regions.Starting(offset)
	if len(regions) == 0 {
		return fmt.Errorf("%w: no try region at %04d", ErrBadBytecode, offset)
	}
	in.tryStack = append(in.tryStack, regions...)
	return nil
}

func (in *Interpreter) popRegion() *TryRegion {
	n := len(in.tryStack)
	r := in.tryStack[n-1]
	in.tryStack[n-1] = nil
	in.tryStack = in.tryStack[:n-1]
	return r
}

func (in *Interpreter) topRegion() *TryRegion {
	if len(in.tryStack) == 0 {
		return nil
	}
	return in.tryStack[len(in.tryStack)-1]
}

// abandonHandlers drops running handlers whose code lies inside regions
// that are no longer active: an exception is leaving them.
func (in *Interpreter) abandonHandlers(depth int) {
	for n := len(in.cleanups); n > 0 && in.cleanups[n-1].depth >= depth; n-- {
		in.cleanups = in.cleanups[:n-1]
	}
	for n := len(in.caught); n > 0 && in.caught[n-1].depth >= depth; n-- {
		in.caught = in.caught[:n-1]
	}
}

func (in *Interpreter) runCleanup(f cleanupFrame) {
	first := f.handlers[0]
	f.handlers = f.handlers[1:]
	f.depth = len(in.tryStack)
	in.cleanups = append(in.cleanups, f)
	in.jump(first)
}

// ---------------------------------------------------------------------------
// Raising and unwinding
// ---------------------------------------------------------------------------

// raise turns a handler error into an exception in flight and unwinds. It
// returns a non-nil error when the exception escapes the routine or the
// condition is fatal.
func (in *Interpreter) raise(err error) error {
	if IsFatal(err) {
		return err
	}
	if in.filter != nil {
		// A fault inside a filter rejects that filter; the original
		// exception keeps propagating.
		log.Debugf("routine %04d: fault in filter at %04d ignored: %v", in.routine.Entry, in.opStart, err)
		return in.unwind()
	}

	var f *Fault
	if !errors.As(err, &f) {
		f = &Fault{Kind: faultKindOf(err), Offset: in.opStart, Err: err, Object: in.vm.bridge.ExceptionObject(err)}
	}
	in.exception = f
	return in.unwind()
}

// unwind searches the active regions, innermost first, for a handler of the
// current exception. A matching catch or a filter transfers control to it.
// A region with no accepting handler is exited: its finally and fault
// handlers run before outer regions are searched.
func (in *Interpreter) unwind() error {
	in.stack.Clear()
	exc := in.exception

	for len(in.tryStack) > 0 {
		in.abandonHandlers(len(in.tryStack))
		r := in.topRegion()
		start := 0
		if in.filter != nil && in.filter.region == r {
			start = in.filter.index + 1
		}
		in.filter = nil

		for i := start; i < len(r.Handlers); i++ {
			h := r.Handlers[i]
			switch h.Kind {
			case HandlerCatch:
				ok, err := in.catches(exc, h.CatchType)
				if err != nil {
					return err
				}
				if ok {
					log.Debugf("routine %04d: %s fault caught by %04d", in.routine.Entry, exc.Kind, h.Offset)
					in.enterCatch(h.Offset)
					return nil
				}
			case HandlerFilter:
				in.filter = &filterState{region: r, index: i}
				in.stack.Push(exc.Object)
				in.jump(h.Filter)
				return nil
			}
		}

		in.popRegion()
		var cleanup []int
		for _, h := range r.Handlers {
			if h.Kind == HandlerFinally || h.Kind == HandlerFault {
				cleanup = append(cleanup, h.Offset)
			}
		}
		if len(cleanup) > 0 {
			in.runCleanup(cleanupFrame{handlers: cleanup, exception: exc})
			return nil
		}
	}
	in.abandonHandlers(0)
	in.exception = nil
	return exc
}

// enterCatch exits the top region and starts the catch handler at offset
// with the exception object on the stack.
func (in *Interpreter) enterCatch(offset int) {
	exc := in.exception
	in.popRegion()
	in.caught = append(in.caught, caughtFrame{exception: exc, depth: len(in.tryStack)})
	in.exception = nil
	in.stack.Clear()
	in.stack.Push(exc.Object)
	in.jump(offset)
}

func (in *Interpreter) catches(exc *Fault, token int32) (bool, error) {
	t, err := in.vm.bridge.ResolveType(token)
	if err != nil {
		return false, fmt.Errorf("%w: catch type %#08x: %v", ErrBadBytecode, uint32(token), err)
	}
	if t == nil || exc.Object.IsNull() {
		return false, nil
	}
	return in.vm.bridge.IsInstanceOf(exc.Object, t), nil
}

// ---------------------------------------------------------------------------
// leave / endfinally / endfilter / throw / rethrow
// ---------------------------------------------------------------------------

// leave exits protected regions towards target, running the finally
// handlers of every exited region innermost first. Leaving a catch handler
// ends it.
func (in *Interpreter) leave(target int) {
	in.stack.Clear()
	if n := len(in.caught); n > 0 && in.caught[n-1].depth >= len(in.tryStack) {
		in.caught = in.caught[:n-1]
	}
	in.continueLeave(target)
}

func (in *Interpreter) continueLeave(target int) {
	for {
		r := in.topRegion()
		if r == nil || r.contains(target) {
			break
		}
		in.popRegion()
		var finals []int
		for _, h := range r.Handlers {
			if h.Kind == HandlerFinally {
				finals = append(finals, h.Offset)
			}
		}
		if len(finals) > 0 {
			in.runCleanup(cleanupFrame{handlers: finals, target: target})
			return
		}
	}
	in.jump(target)
}

func (in *Interpreter) endFinally() error {
	n := len(in.cleanups)
	if n == 0 {
		return fmt.Errorf("%w: endfinally outside a handler", ErrBadBytecode)
	}
	f := &in.cleanups[n-1]
	in.stack.Clear()
	if len(f.handlers) > 0 {
		next := f.handlers[0]
		f.handlers = f.handlers[1:]
		in.jump(next)
		return nil
	}
	done := *f
	in.cleanups = in.cleanups[:n-1]
	if done.exception != nil {
		in.exception = done.exception
		return in.unwind()
	}
	in.continueLeave(done.target)
	return nil
}

func (in *Interpreter) endFilter() error {
	accept := in.stack.Pop()
	if in.filter == nil || in.exception == nil {
		return fmt.Errorf("%w: endfilter outside a filter", ErrBadBytecode)
	}
	if !accept.Bool() {
		log.Debugf("routine %04d: filter at %04d rejected", in.routine.Entry, in.opStart)
		return in.unwind()
	}
	h := in.filter.region.Handlers[in.filter.index]
	in.filter = nil
	in.enterCatch(h.Offset)
	return nil
}

func (in *Interpreter) throw() error {
	v := in.stack.Pop()
	if v.IsNull() {
		return ErrNullReference
	}
	return &Fault{Kind: FaultThrow, Offset: in.opStart, Object: v}
}

func (in *Interpreter) rethrow() error {
	n := len(in.caught)
	if n == 0 {
		return fmt.Errorf("%w: rethrow outside a catch handler", ErrInvalidProgram)
	}
	return in.caught[n-1].exception
}
