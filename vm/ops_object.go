package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func opLdfld(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	obj, err := deref(in.stack.Pop())
	if err != nil {
		return err
	}
	if agg := obj.Aggregate(); agg != nil {
		in.stack.Push(agg.Get(f).Clone())
		return nil
	}
	if obj.IsNull() {
		return ErrNullReference
	}
	v, err := in.vm.bridge.LoadField(obj, f)
	if err != nil {
		return err
	}
	in.stack.Push(Convert(v, f.Type()))
	return nil
}

func opLdflda(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	obj, err := deref(in.stack.Pop())
	if err != nil {
		return err
	}
	if agg := obj.Aggregate(); agg != nil {
		in.stack.Push(FromRef(aggregateFieldRef{agg: agg, field: f}))
		return nil
	}
	if obj.IsNull() {
		return ErrNullReference
	}
	in.stack.Push(FromRef(objectFieldRef{bridge: in.vm.bridge, obj: obj, field: f}))
	return nil
}

func opStfld(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	v := in.stack.Pop()
	obj, err := deref(in.stack.Pop())
	if err != nil {
		return err
	}
	if agg := obj.Aggregate(); agg != nil {
		agg.Set(f, v.Clone())
		return nil
	}
	if obj.IsNull() {
		return ErrNullReference
	}
	return in.vm.bridge.StoreField(obj, f, Convert(v, f.Type()))
}

func opLdsfld(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	v, err := in.vm.bridge.LoadStatic(f)
	if err != nil {
		return err
	}
	in.stack.Push(Convert(v, f.Type()).Clone())
	return nil
}

func opLdsflda(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	in.stack.Push(FromRef(staticFieldRef{bridge: in.vm.bridge, field: f}))
	return nil
}

func opStsfld(in *Interpreter) error {
	f, err := in.fieldOperand()
	if err != nil {
		return err
	}
	return in.vm.bridge.StoreStatic(f, Convert(in.stack.Pop(), f.Type()))
}

// ---------------------------------------------------------------------------
// Boxing and casts
// ---------------------------------------------------------------------------

func isReferenceType(t Type) bool {
	return t == nil || t.Kind().IsReference()
}

func opBox(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	v := in.stack.Pop()
	if isReferenceType(t) {
		in.stack.Push(v)
		return nil
	}
	obj, err := in.vm.bridge.Box(Convert(v, t).Clone(), t)
	if err != nil {
		return err
	}
	in.stack.Push(obj)
	return nil
}

func (in *Interpreter) unbox(t Type) error {
	obj := in.stack.Pop()
	if obj.IsNull() {
		return ErrNullReference
	}
	v, err := in.vm.bridge.Unbox(obj, t)
	if err != nil {
		return err
	}
	in.stack.Push(Convert(v, t).Clone())
	return nil
}

// opUnbox yields the boxed value itself rather than an address to it; a
// following ldind through the value is not supported.
func opUnbox(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	return in.unbox(t)
}

func opUnboxAny(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	if isReferenceType(t) {
		return in.castclass(t)
	}
	return in.unbox(t)
}

func (in *Interpreter) isInstance(v Value, t Type) bool {
	if v.IsNull() || t == nil {
		return true
	}
	return in.vm.bridge.IsInstanceOf(v, t)
}

func (in *Interpreter) castclass(t Type) error {
	v := in.stack.Pop()
	if !in.isInstance(v, t) {
		return ErrInvalidCast
	}
	in.stack.Push(v)
	return nil
}

func opCastclass(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	return in.castclass(t)
}

func opIsinst(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	v := in.stack.Pop()
	if !in.isInstance(v, t) {
		v = Null
	}
	in.stack.Push(v)
	return nil
}

func opInitobj(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	addr := in.stack.Pop()
	r := addr.Ref()
	if r == nil {
		return ErrNullReference
	}
	return r.Store(Zero(t))
}

// ---------------------------------------------------------------------------
// Indirect memory
// ---------------------------------------------------------------------------

// addressRef turns a managed reference, raw pointer or native integer
// address into a Reference of type t.
func (in *Interpreter) addressRef(addr Value, t Type) (Reference, error) {
	switch addr.Kind() {
	case KindRef:
		if r := addr.Ref(); r != nil {
			return r, nil
		}
	case KindPointer, KindNativeInt, KindNativeUint, KindInt64, KindInt32:
		if a := addr.NativeUint(); a != 0 {
			return pointerRef{bridge: in.vm.bridge, addr: a, typ: t}, nil
		}
	}
	return nil, ErrNullReference
}

func opLdind(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	r, err := in.addressRef(in.stack.Pop(), t)
	if err != nil {
		return err
	}
	v, err := r.Load()
	if err != nil {
		return err
	}
	in.stack.Push(Convert(v, t).Clone())
	return nil
}

func opStind(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	v := in.stack.Pop()
	r, err := in.addressRef(in.stack.Pop(), t)
	if err != nil {
		return err
	}
	return r.Store(Convert(v, t).Clone())
}

// opLdmemI4 reads a 32-bit integer from an image-relative address.
func opLdmemI4(in *Interpreter) error {
	addr := in.cursor.ReadU32()
	v, err := in.vm.bridge.ReadAbsolute(uint64(addr), Primitive(KindInt32))
	if err != nil {
		return err
	}
	in.stack.Push(FromInt32(v.Int32()))
	return nil
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func opNewarr(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	n := in.stack.Pop().Int64()
	if n < 0 || n > math.MaxInt32 {
		return ErrOverflow
	}
	if n > int64(in.vm.opts.MaxArrayLength) {
		return fmt.Errorf("%w: newarr of %d elements, limit %d", ErrOutOfMemory, n, in.vm.opts.MaxArrayLength)
	}
	in.stack.Push(FromArray(NewArray(t, int(n))))
	return nil
}

func (in *Interpreter) popArray() (*Array, error) {
	a := in.stack.Pop().Array()
	if a == nil {
		return nil, ErrNullReference
	}
	return a, nil
}

func opLdlen(in *Interpreter) error {
	a, err := in.popArray()
	if err != nil {
		return err
	}
	in.stack.Push(FromNativeInt(int64(a.Len())))
	return nil
}

func opLdelem(in *Interpreter) error {
	idx := in.stack.Pop().Int64()
	a, err := in.popArray()
	if err != nil {
		return err
	}
	v, err := a.Get(idx)
	if err != nil {
		return err
	}
	in.stack.Push(v.Clone())
	return nil
}

func opLdelema(in *Interpreter) error {
	idx := in.stack.Pop().Int64()
	a, err := in.popArray()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= int64(a.Len()) {
		return ErrIndexOutOfRange
	}
	in.stack.Push(FromRef(arrayElemRef{arr: a, index: idx}))
	return nil
}

func opStelem(in *Interpreter) error {
	v := in.stack.Pop()
	idx := in.stack.Pop().Int64()
	a, err := in.popArray()
	if err != nil {
		return err
	}
	return a.Set(idx, v.Clone())
}
