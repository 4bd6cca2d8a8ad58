package vm

import (
	"math"
)

// opHandler executes one instruction. The opcode byte has been consumed;
// the handler reads its own operands. A returned error is raised as an
// exception unless it is fatal.
type opHandler func(in *Interpreter) error

// dispatchTable maps every opcode byte to its handler. Unassigned entries
// are nil and decode as bad bytecode.
var dispatchTable [256]opHandler

func init() {
	dispatchTable = [256]opHandler{
		OpNop:    func(*Interpreter) error { return nil },
		OpPop:    opPop,
		OpDup:    opDup,
		OpLdnull: opLdnull,
		OpLdcI4:  opLdcI4,
		OpLdcI4S: opLdcI4S,
		OpLdcI8:  opLdcI8,
		OpLdcR4:  opLdcR4,
		OpLdcR8:  opLdcR8,
		OpLdstr:  opLdstr,

		OpLdarg:  opLdarg,
		OpLdarga: opLdarga,
		OpStarg:  opStarg,

		OpAdd:      arith(Add, 0),
		OpAddOvf:   arith(Add, Checked),
		OpAddOvfUn: arith(Add, Checked|Unsigned),
		OpSub:      arith(Sub, 0),
		OpSubOvf:   arith(Sub, Checked),
		OpSubOvfUn: arith(Sub, Checked|Unsigned),
		OpMul:      arith(Mul, 0),
		OpMulOvf:   arith(Mul, Checked),
		OpMulOvfUn: arith(Mul, Checked|Unsigned),
		OpDiv:      arith(Div, 0),
		OpDivUn:    arith(Div, Unsigned),
		OpRem:      arith(Rem, 0),
		OpRemUn:    arith(Rem, Unsigned),
		OpAnd:      binop(And),
		OpOr:       binop(Or),
		OpXor:      binop(Xor),
		OpShl:      binop(Shl),
		OpShr:      arith(Shr, 0),
		OpShrUn:    arith(Shr, Unsigned),
		OpNeg:      unop(Neg),
		OpNot:      unop(Not),

		OpConv:      opConv,
		OpConvOvf:   convChecked(false),
		OpConvOvfUn: convChecked(true),
		OpConvRUn:   opConvRUn,
		OpCkfinite:  opCkfinite,

		OpCmp:     compare(false),
		OpCmpUn:   compare(true),
		OpBr:      opBr,
		OpBrtrue:  branchIf(true),
		OpBrfalse: branchIf(false),
		OpSwitch:  opSwitch,

		OpEnterTry:   opEnterTry,
		OpLeave:      opLeave,
		OpEndfinally: (*Interpreter).endFinally,
		OpEndfilter:  (*Interpreter).endFilter,
		OpThrow:      (*Interpreter).throw,
		OpRethrow:    (*Interpreter).rethrow,
		OpRet:        opRet,

		OpCall:        opCall,
		OpCallvirt:    opCallvirt,
		OpCalli:       opCalli,
		OpCallvm:      callVM(false),
		OpCallvmVirt:  callVM(true),
		OpNewobj:      opNewobj,
		OpConstrained: opConstrained,
		OpLdftn:       opLdftn,
		OpLdvirtftn:   opLdvirtftn,

		OpLdfld:     opLdfld,
		OpLdflda:    opLdflda,
		OpStfld:     opStfld,
		OpLdsfld:    opLdsfld,
		OpLdsflda:   opLdsflda,
		OpStsfld:    opStsfld,
		OpBox:       opBox,
		OpUnbox:     opUnbox,
		OpUnboxAny:  opUnboxAny,
		OpCastclass: opCastclass,
		OpIsinst:    opIsinst,
		OpInitobj:   opInitobj,

		OpLdind:   opLdind,
		OpStind:   opStind,
		OpLdmemI4: opLdmemI4,

		OpNewarr:  opNewarr,
		OpLdlen:   opLdlen,
		OpLdelem:  opLdelem,
		OpLdelema: opLdelema,
		OpStelem:  opStelem,
	}
}

// ---------------------------------------------------------------------------
// Stack and constants
// ---------------------------------------------------------------------------

func opPop(in *Interpreter) error {
	in.stack.Pop()
	return nil
}

func opDup(in *Interpreter) error {
	in.stack.Dup()
	return nil
}

func opLdnull(in *Interpreter) error {
	in.stack.Push(Null)
	return nil
}

func opLdcI4(in *Interpreter) error {
	in.stack.Push(FromInt32(in.cursor.ReadI32()))
	return nil
}

func opLdcI4S(in *Interpreter) error {
	in.stack.Push(FromInt32(int32(in.cursor.ReadI8())))
	return nil
}

func opLdcI8(in *Interpreter) error {
	in.stack.Push(FromInt64(in.cursor.ReadI64()))
	return nil
}

func opLdcR4(in *Interpreter) error {
	in.stack.Push(FromFloat32(in.cursor.ReadF32()))
	return nil
}

func opLdcR8(in *Interpreter) error {
	in.stack.Push(FromFloat64(in.cursor.ReadF64()))
	return nil
}

func opLdstr(in *Interpreter) error {
	token := in.cursor.ReadI32()
	s, err := in.vm.bridge.ResolveString(token)
	if err != nil {
		return err
	}
	in.stack.Push(FromString(s))
	return nil
}

// ---------------------------------------------------------------------------
// Arguments and locals
// ---------------------------------------------------------------------------

func opLdarg(in *Interpreter) error {
	in.stack.Push(in.args.Load(int(in.cursor.ReadU16())))
	return nil
}

func opLdarga(in *Interpreter) error {
	in.stack.Push(in.args.Address(int(in.cursor.ReadU16())))
	return nil
}

func opStarg(in *Interpreter) error {
	i := int(in.cursor.ReadU16())
	return in.args.Store(i, in.stack.Pop())
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func arith(fn func(a, b Value, f ArithFlags) (Value, error), flags ArithFlags) opHandler {
	return func(in *Interpreter) error {
		b := in.stack.Pop()
		a := in.stack.Pop()
		r, err := fn(a, b, flags)
		if err != nil {
			return err
		}
		in.stack.Push(r)
		return nil
	}
}

func binop(fn func(a, b Value) (Value, error)) opHandler {
	return func(in *Interpreter) error {
		b := in.stack.Pop()
		a := in.stack.Pop()
		r, err := fn(a, b)
		if err != nil {
			return err
		}
		in.stack.Push(r)
		return nil
	}
}

func unop(fn func(a Value) (Value, error)) opHandler {
	return func(in *Interpreter) error {
		r, err := fn(in.stack.Pop())
		if err != nil {
			return err
		}
		in.stack.Push(r)
		return nil
	}
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

func opConv(in *Interpreter) error {
	t, err := in.typeOperand()
	if err != nil {
		return err
	}
	in.stack.Push(Convert(in.stack.Pop(), t))
	return nil
}

func convChecked(unsigned bool) opHandler {
	return func(in *Interpreter) error {
		t, err := in.typeOperand()
		if err != nil {
			return err
		}
		v := in.stack.Pop()
		if t == nil {
			in.stack.Push(v)
			return nil
		}
		if _, _, ok := kindRange(t.Kind()); !ok {
			in.stack.Push(Convert(v, t))
			return nil
		}
		r, err := ConvertChecked(v, t.Kind(), unsigned)
		if err != nil {
			return err
		}
		in.stack.Push(r)
		return nil
	}
}

func opConvRUn(in *Interpreter) error {
	v := in.stack.Pop()
	if v.isFloat() {
		in.stack.Push(FromFloat64(v.Float64()))
		return nil
	}
	in.stack.Push(FromFloat64(float64(v.asUnsigned())))
	return nil
}

func opCkfinite(in *Interpreter) error {
	v := in.stack.Pop()
	if v.isFloat() {
		if f := v.Float64(); math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrOverflow
		}
	}
	in.stack.Push(v)
	return nil
}

// ---------------------------------------------------------------------------
// Comparison and branches
// ---------------------------------------------------------------------------

func compare(unsigned bool) opHandler {
	return func(in *Interpreter) error {
		def := in.cursor.ReadI32()
		b := in.stack.Pop()
		a := in.stack.Pop()
		in.stack.Push(FromInt32(int32(Compare(a, b, unsigned, int(def)))))
		return nil
	}
}

func opBr(in *Interpreter) error {
	in.jump(int(in.cursor.ReadI32()))
	return nil
}

func branchIf(want bool) opHandler {
	return func(in *Interpreter) error {
		target := int(in.cursor.ReadI32())
		if in.stack.Pop().Bool() == want {
			in.jump(target)
		}
		return nil
	}
}

func opSwitch(in *Interpreter) error {
	n := int(in.cursor.ReadU16())
	targets := make([]int32, n)
	for i := range targets {
		targets[i] = in.cursor.ReadI32()
	}
	idx := uint32(in.stack.Pop().Int32())
	if idx < uint32(n) {
		in.jump(int(targets[idx]))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Exception control and return
// ---------------------------------------------------------------------------

func opEnterTry(in *Interpreter) error {
	return in.enterTry(int(in.cursor.ReadI32()))
}

func opLeave(in *Interpreter) error {
	in.leave(int(in.cursor.ReadI32()))
	return nil
}

func opRet(in *Interpreter) error {
	if t := in.routine.Return; t != nil && t.Kind() != KindVoid {
		in.result = Convert(in.stack.Pop(), t)
	} else {
		in.result = Void
	}
	in.done = true
	return nil
}
