package vm

import "fmt"

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

// hostPanic converts a panic escaping the host bridge into a catchable host
// fault. It must be deferred directly.
func hostPanic(m Method, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrHostPanic, m.Name(), r)
	}
}

func (in *Interpreter) hostInvoke(m Method, this Value, args []Value, virtual bool) (res Value, err error) {
	defer hostPanic(m, &err)
	return in.vm.bridge.Invoke(m, this, args, virtual)
}

func (in *Interpreter) hostConstruct(ctor Method, args []Value) (obj Value, err error) {
	defer hostPanic(ctor, &err)
	return in.vm.bridge.Construct(ctor, args)
}

// popArgs pops len(params) arguments, converting each to its parameter type.
// A Reference passed for a by-ref parameter is dereferenced and recorded so
// the host's result can be written back.
func (in *Interpreter) popArgs(params []Type) ([]Value, []Reference, error) {
	args := make([]Value, len(params))
	var refs []Reference
	for i := len(params) - 1; i >= 0; i-- {
		v := in.stack.Pop()
		p := params[i]
		if p != nil && p.Kind() == KindRef && v.Kind() == KindRef {
			r := v.Ref()
			if r == nil {
				return nil, nil, ErrNullReference
			}
			target, err := r.Load()
			if err != nil {
				return nil, nil, err
			}
			if refs == nil {
				refs = make([]Reference, len(params))
			}
			refs[i] = r
			args[i] = Convert(target.Clone(), p.Elem())
			continue
		}
		args[i] = Convert(v, p)
	}
	return args, refs, nil
}

func writeBack(args []Value, refs []Reference) error {
	for i, r := range refs {
		if r == nil {
			continue
		}
		if err := r.Store(args[i]); err != nil {
			return err
		}
	}
	return nil
}

// call invokes a host method. Managed references used as the receiver are
// followed; a value-type constructor called on an address stores the
// constructed value through it.
func (in *Interpreter) call(m Method, virtual bool) error {
	constrained := in.constrained
	in.constrained = nil

	args, refs, err := in.popArgs(m.Params())
	if err != nil {
		return err
	}

	var this Value
	if !m.IsStatic() {
		this = in.stack.Pop()
		if m.IsConstructor() && this.Kind() == KindRef {
			obj, err := in.hostConstruct(m, args)
			if err != nil {
				return err
			}
			if err := writeBack(args, refs); err != nil {
				return err
			}
			return this.Ref().Store(obj)
		}
		if this.Kind() == KindRef || constrained != nil {
			if this, err = deref(this); err != nil {
				return err
			}
		}
		if virtual && this.IsNull() {
			return ErrNullReference
		}
	}

	res, err := in.hostInvoke(m, this, args, virtual)
	if err != nil {
		return err
	}
	if err := writeBack(args, refs); err != nil {
		return err
	}
	if ret := m.Return(); ret != nil && ret.Kind() != KindVoid {
		in.stack.Push(Convert(res, ret))
	}
	return nil
}

func opCall(in *Interpreter) error {
	m, err := in.methodOperand()
	if err != nil {
		return err
	}
	return in.call(m, false)
}

func opCallvirt(in *Interpreter) error {
	m, err := in.methodOperand()
	if err != nil {
		return err
	}
	return in.call(m, true)
}

func opCalli(in *Interpreter) error {
	m := in.stack.Pop().Method()
	if m == nil {
		return ErrNullReference
	}
	return in.call(m, false)
}

func opNewobj(in *Interpreter) error {
	ctor, err := in.methodOperand()
	if err != nil {
		return err
	}
	args, refs, err := in.popArgs(ctor.Params())
	if err != nil {
		return err
	}
	obj, err := in.hostConstruct(ctor, args)
	if err != nil {
		return err
	}
	if err := writeBack(args, refs); err != nil {
		return err
	}
	in.stack.Push(Convert(obj, ctor.DeclaringType()))
	return nil
}

func opConstrained(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	in.constrained = t
	return nil
}

func opLdftn(in *Interpreter) error {
	m, err := in.methodOperand()
	if err != nil {
		return err
	}
	in.stack.Push(FromMethod(m))
	return nil
}

func opLdvirtftn(in *Interpreter) error {
	m, err := in.methodOperand()
	if err != nil {
		return err
	}
	obj := in.stack.Pop()
	if obj.IsNull() {
		return ErrNullReference
	}
	target, err := in.vm.bridge.Devirtualize(obj, m)
	if err != nil {
		return err
	}
	in.stack.Push(FromMethod(target))
	return nil
}

// ---------------------------------------------------------------------------
// Virtualized calls
// ---------------------------------------------------------------------------

// callVM invokes another virtualized routine in a fresh interpreter. Managed
// references are passed through so by-ref parameters write into the
// caller's storage directly.
func callVM(virtual bool) opHandler {
	return func(in *Interpreter) error {
		entry := int(in.cursor.ReadI32())
		r, err := in.vm.Routine(entry)
		if err != nil {
			return err
		}
		args := make([]Value, len(r.Params))
		for i := len(args) - 1; i >= 0; i-- {
			v := in.stack.Pop()
			if v.Kind() == KindRef {
				args[i] = v
				continue
			}
			args[i] = Convert(v, r.Params[i].Type)
		}
		if virtual && len(args) > 0 && args[0].IsNull() {
			return ErrNullReference
		}
		res, err := in.vm.invoke(args, entry, in.depth+1)
		if err != nil {
			return err
		}
		if r.Return != nil && r.Return.Kind() != KindVoid {
			in.stack.Push(res)
		}
		return nil
	}
}
