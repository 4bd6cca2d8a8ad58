package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single-byte instruction code.
type Opcode byte

// Stack and constants (0x00-0x0F)
const (
	OpNop    Opcode = 0x00
	OpPop    Opcode = 0x01
	OpDup    Opcode = 0x02
	OpLdnull Opcode = 0x03
	OpLdcI4  Opcode = 0x04 // i32
	OpLdcI4S Opcode = 0x05 // i8
	OpLdcI8  Opcode = 0x06 // i64
	OpLdcR4  Opcode = 0x07 // f32
	OpLdcR8  Opcode = 0x08 // f64
	OpLdstr  Opcode = 0x09 // string token
)

// Arguments and locals (0x10-0x1F)
const (
	OpLdarg  Opcode = 0x10 // u16 slot
	OpLdarga Opcode = 0x11 // u16 slot
	OpStarg  Opcode = 0x12 // u16 slot
)

// Arithmetic (0x20-0x3F)
const (
	OpAdd      Opcode = 0x20
	OpAddOvf   Opcode = 0x21
	OpAddOvfUn Opcode = 0x22
	OpSub      Opcode = 0x23
	OpSubOvf   Opcode = 0x24
	OpSubOvfUn Opcode = 0x25
	OpMul      Opcode = 0x26
	OpMulOvf   Opcode = 0x27
	OpMulOvfUn Opcode = 0x28
	OpDiv      Opcode = 0x29
	OpDivUn    Opcode = 0x2A
	OpRem      Opcode = 0x2B
	OpRemUn    Opcode = 0x2C
	OpAnd      Opcode = 0x2D
	OpOr       Opcode = 0x2E
	OpXor      Opcode = 0x2F
	OpShl      Opcode = 0x30
	OpShr      Opcode = 0x31
	OpShrUn    Opcode = 0x32
	OpNeg      Opcode = 0x33
	OpNot      Opcode = 0x34
)

// Conversion (0x40-0x4F)
const (
	OpConv      Opcode = 0x40 // type token
	OpConvOvf   Opcode = 0x41 // type token
	OpConvOvfUn Opcode = 0x42 // type token
	OpConvRUn   Opcode = 0x43
	OpCkfinite  Opcode = 0x44
)

// Comparison and branches (0x50-0x5F)
const (
	OpCmp     Opcode = 0x50 // i32 default for unordered operands
	OpCmpUn   Opcode = 0x51 // i32 default for unordered operands
	OpBr      Opcode = 0x52 // i32 target
	OpBrtrue  Opcode = 0x53 // i32 target
	OpBrfalse Opcode = 0x54 // i32 target
	OpSwitch  Opcode = 0x55 // u16 count, i32 targets
)

// Exception control (0x60-0x6F)
const (
	OpEnterTry   Opcode = 0x60 // i32 region begin
	OpLeave      Opcode = 0x61 // i32 target
	OpEndfinally Opcode = 0x62
	OpEndfilter  Opcode = 0x63
	OpThrow      Opcode = 0x64
	OpRethrow    Opcode = 0x65
	OpRet        Opcode = 0x66
)

// Calls (0x70-0x7F)
const (
	OpCall        Opcode = 0x70 // method token
	OpCallvirt    Opcode = 0x71 // method token
	OpCalli       Opcode = 0x72
	OpCallvm      Opcode = 0x73 // i32 entry offset
	OpCallvmVirt  Opcode = 0x74 // i32 entry offset
	OpNewobj      Opcode = 0x75 // method token
	OpConstrained Opcode = 0x76 // type token
	OpLdftn       Opcode = 0x77 // method token
	OpLdvirtftn   Opcode = 0x78 // method token
)

// Objects and fields (0x80-0x8F)
const (
	OpLdfld     Opcode = 0x80 // field token
	OpLdflda    Opcode = 0x81 // field token
	OpStfld     Opcode = 0x82 // field token
	OpLdsfld    Opcode = 0x83 // field token
	OpLdsflda   Opcode = 0x84 // field token
	OpStsfld    Opcode = 0x85 // field token
	OpBox       Opcode = 0x86 // type token
	OpUnbox     Opcode = 0x87 // type token
	OpUnboxAny  Opcode = 0x88 // type token
	OpCastclass Opcode = 0x89 // type token
	OpIsinst    Opcode = 0x8A // type token
	OpInitobj   Opcode = 0x8B // type token
)

// Indirect memory (0x90-0x9F)
const (
	OpLdind   Opcode = 0x90 // type token
	OpStind   Opcode = 0x91 // type token
	OpLdmemI4 Opcode = 0x92 // u32 address
)

// Arrays (0xA0-0xAF)
const (
	OpNewarr  Opcode = 0xA0 // element type token
	OpLdlen   Opcode = 0xA1
	OpLdelem  Opcode = 0xA2
	OpLdelema Opcode = 0xA3
	OpStelem  Opcode = 0xA4
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes the inline operand layout following an opcode.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandI8
	OperandU16
	OperandI32
	OperandU32
	OperandI64
	OperandF32
	OperandF64
	OperandToken
	OperandTarget
	OperandSwitch
)

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:    {"nop", OperandNone},
	OpPop:    {"pop", OperandNone},
	OpDup:    {"dup", OperandNone},
	OpLdnull: {"ldnull", OperandNone},
	OpLdcI4:  {"ldc.i4", OperandI32},
	OpLdcI4S: {"ldc.i4.s", OperandI8},
	OpLdcI8:  {"ldc.i8", OperandI64},
	OpLdcR4:  {"ldc.r4", OperandF32},
	OpLdcR8:  {"ldc.r8", OperandF64},
	OpLdstr:  {"ldstr", OperandToken},

	OpLdarg:  {"ldarg", OperandU16},
	OpLdarga: {"ldarga", OperandU16},
	OpStarg:  {"starg", OperandU16},

	OpAdd:      {"add", OperandNone},
	OpAddOvf:   {"add.ovf", OperandNone},
	OpAddOvfUn: {"add.ovf.un", OperandNone},
	OpSub:      {"sub", OperandNone},
	OpSubOvf:   {"sub.ovf", OperandNone},
	OpSubOvfUn: {"sub.ovf.un", OperandNone},
	OpMul:      {"mul", OperandNone},
	OpMulOvf:   {"mul.ovf", OperandNone},
	OpMulOvfUn: {"mul.ovf.un", OperandNone},
	OpDiv:      {"div", OperandNone},
	OpDivUn:    {"div.un", OperandNone},
	OpRem:      {"rem", OperandNone},
	OpRemUn:    {"rem.un", OperandNone},
	OpAnd:      {"and", OperandNone},
	OpOr:       {"or", OperandNone},
	OpXor:      {"xor", OperandNone},
	OpShl:      {"shl", OperandNone},
	OpShr:      {"shr", OperandNone},
	OpShrUn:    {"shr.un", OperandNone},
	OpNeg:      {"neg", OperandNone},
	OpNot:      {"not", OperandNone},

	OpConv:      {"conv", OperandToken},
	OpConvOvf:   {"conv.ovf", OperandToken},
	OpConvOvfUn: {"conv.ovf.un", OperandToken},
	OpConvRUn:   {"conv.r.un", OperandNone},
	OpCkfinite:  {"ckfinite", OperandNone},

	OpCmp:     {"cmp", OperandI32},
	OpCmpUn:   {"cmp.un", OperandI32},
	OpBr:      {"br", OperandTarget},
	OpBrtrue:  {"brtrue", OperandTarget},
	OpBrfalse: {"brfalse", OperandTarget},
	OpSwitch:  {"switch", OperandSwitch},

	OpEnterTry:   {"entertry", OperandTarget},
	OpLeave:      {"leave", OperandTarget},
	OpEndfinally: {"endfinally", OperandNone},
	OpEndfilter:  {"endfilter", OperandNone},
	OpThrow:      {"throw", OperandNone},
	OpRethrow:    {"rethrow", OperandNone},
	OpRet:        {"ret", OperandNone},

	OpCall:        {"call", OperandToken},
	OpCallvirt:    {"callvirt", OperandToken},
	OpCalli:       {"calli", OperandNone},
	OpCallvm:      {"callvm", OperandTarget},
	OpCallvmVirt:  {"callvm.virt", OperandTarget},
	OpNewobj:      {"newobj", OperandToken},
	OpConstrained: {"constrained.", OperandToken},
	OpLdftn:       {"ldftn", OperandToken},
	OpLdvirtftn:   {"ldvirtftn", OperandToken},

	OpLdfld:     {"ldfld", OperandToken},
	OpLdflda:    {"ldflda", OperandToken},
	OpStfld:     {"stfld", OperandToken},
	OpLdsfld:    {"ldsfld", OperandToken},
	OpLdsflda:   {"ldsflda", OperandToken},
	OpStsfld:    {"stsfld", OperandToken},
	OpBox:       {"box", OperandToken},
	OpUnbox:     {"unbox", OperandToken},
	OpUnboxAny:  {"unbox.any", OperandToken},
	OpCastclass: {"castclass", OperandToken},
	OpIsinst:    {"isinst", OperandToken},
	OpInitobj:   {"initobj", OperandToken},

	OpLdind:   {"ldind", OperandToken},
	OpStind:   {"stind", OperandToken},
	OpLdmemI4: {"ldmem.i4", OperandU32},

	OpNewarr:  {"newarr", OperandToken},
	OpLdlen:   {"ldlen", OperandNone},
	OpLdelem:  {"ldelem", OperandNone},
	OpLdelema: {"ldelema", OperandNone},
	OpStelem:  {"stelem", OperandNone},
}

// Info returns metadata for the opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the mnemonic for the opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the fixed operand size. Switch reports only its count
// prefix; the target table follows.
func (op Opcode) OperandBytes() int {
	switch op.Info().Operand {
	case OperandI8:
		return 1
	case OperandU16, OperandSwitch:
		return 2
	case OperandI32, OperandU32, OperandF32, OperandToken, OperandTarget:
		return 4
	case OperandI64, OperandF64:
		return 8
	}
	return 0
}

func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// Routine header encoding
// ---------------------------------------------------------------------------

// ParamSpec is a parameter in an encoded routine header.
type ParamSpec struct {
	Type  int32
	ByRef bool
}

// Signature is the encoded form of a routine's parameters, locals and return
// type. Token 0 is untyped for parameters and locals and void for Return.
type Signature struct {
	Params []ParamSpec
	Locals []int32
	Return int32
}

// HandlerSpec is an exception handler in an encoded routine header. Filter is
// used by filter handlers; CatchType by catch handlers.
type HandlerSpec struct {
	Kind      HandlerKind
	Begin     *Label
	End       *Label
	Handler   *Label
	Filter    *Label
	CatchType int32
}

const paramByRef = 0x01

// ---------------------------------------------------------------------------
// Builder: helper for emitting bytecode
// ---------------------------------------------------------------------------

// Builder accumulates routine headers and instructions into a code section.
// Jump targets and handler offsets are absolute section offsets.
type Builder struct {
	bytes []byte
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 256)}
}

// Bytes returns the emitted code section.
func (b *Builder) Bytes() []byte {
	return b.bytes
}

// Len returns the current offset.
func (b *Builder) Len() int {
	return len(b.bytes)
}

func (b *Builder) putU16(v uint16) {
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, v)
}

func (b *Builder) putI32(v int32) {
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(v))
}

// BeginRoutine writes a routine header and returns its entry offset.
func (b *Builder) BeginRoutine(sig Signature, handlers ...HandlerSpec) int {
	entry := len(b.bytes)
	b.putU16(uint16(len(sig.Params)))
	for _, p := range sig.Params {
		var flags byte
		if p.ByRef {
			flags |= paramByRef
		}
		b.bytes = append(b.bytes, flags)
		b.putI32(p.Type)
	}
	b.putU16(uint16(len(sig.Locals)))
	for _, l := range sig.Locals {
		b.putI32(l)
	}
	b.putI32(sig.Return)
	b.putU16(uint16(len(handlers)))
	for _, h := range handlers {
		b.bytes = append(b.bytes, byte(h.Kind))
		b.emitLabelRef(h.Begin)
		b.emitLabelRef(h.End)
		b.emitLabelRef(h.Handler)
		if h.Kind == HandlerFilter {
			b.emitLabelRef(h.Filter)
		} else {
			b.putI32(h.CatchType)
		}
	}
	return entry
}

// Emit adds a single opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitRaw adds a raw byte.
func (b *Builder) EmitRaw(data byte) {
	b.bytes = append(b.bytes, data)
}

// EmitInt8 adds an opcode with a signed 8-bit operand.
func (b *Builder) EmitInt8(op Opcode, operand int8) {
	b.bytes = append(b.bytes, byte(op), byte(operand))
}

// EmitUint16 adds an opcode with a 16-bit operand.
func (b *Builder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op))
	b.putU16(operand)
}

// EmitInt32 adds an opcode with a 32-bit operand. Tokens use this form.
func (b *Builder) EmitInt32(op Opcode, operand int32) {
	b.bytes = append(b.bytes, byte(op))
	b.putI32(operand)
}

// EmitInt64 adds an opcode with a 64-bit operand.
func (b *Builder) EmitInt64(op Opcode, operand int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitFloat32 adds an opcode with a float32 operand.
func (b *Builder) EmitFloat32(op Opcode, operand float32) {
	b.EmitInt32(op, int32(math.Float32bits(operand)))
}

// EmitFloat64 adds an opcode with a float64 operand.
func (b *Builder) EmitFloat64(op Opcode, operand float64) {
	b.EmitInt64(op, int64(math.Float64bits(operand)))
}

// EmitSwitch adds a switch over the given targets.
func (b *Builder) EmitSwitch(targets ...*Label) {
	b.bytes = append(b.bytes, byte(OpSwitch))
	b.putU16(uint16(len(targets)))
	for _, l := range targets {
		b.emitLabelRef(l)
	}
}

// ---------------------------------------------------------------------------
// Labels for forward jumps
// ---------------------------------------------------------------------------

// Label represents a code offset that may not be known yet.
type Label struct {
	resolved bool
	position int
	refs     []int // operand positions that reference this label
}

// NewLabel creates a new unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{}
}

// Mark binds the label to the current offset and patches earlier references.
func (b *Builder) Mark(label *Label) {
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		binary.LittleEndian.PutUint32(b.bytes[ref:], uint32(label.position))
	}
	label.refs = nil
}

// Position returns the offset a resolved label is bound to.
func (l *Label) Position() int {
	return l.position
}

func (b *Builder) emitLabelRef(label *Label) {
	if label == nil {
		b.putI32(0)
		return
	}
	if label.resolved {
		b.putI32(int32(label.position))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.putI32(0)
}

// EmitJump adds an instruction whose operand is the label's offset.
func (b *Builder) EmitJump(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	b.emitLabelRef(label)
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// DisassembleInstruction decodes the instruction at the cursor's position and
// advances past it.
func DisassembleInstruction(c *Cursor) string {
	pos := c.Pos()
	op := Opcode(c.ReadU8())
	info := op.Info()

	switch info.Operand {
	case OperandI8:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, c.ReadI8())
	case OperandU16:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, c.ReadU16())
	case OperandI32:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, c.ReadI32())
	case OperandU32:
		return fmt.Sprintf("%04d  %s %#x", pos, info.Name, c.ReadU32())
	case OperandI64:
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, c.ReadI64())
	case OperandF32:
		return fmt.Sprintf("%04d  %s %g", pos, info.Name, c.ReadF32())
	case OperandF64:
		return fmt.Sprintf("%04d  %s %g", pos, info.Name, c.ReadF64())
	case OperandToken:
		return fmt.Sprintf("%04d  %s token=%#08x", pos, info.Name, uint32(c.ReadI32()))
	case OperandTarget:
		return fmt.Sprintf("%04d  %s -> %04d", pos, info.Name, c.ReadI32())
	case OperandSwitch:
		n := int(c.ReadU16())
		targets := make([]string, n)
		for i := range targets {
			targets[i] = fmt.Sprintf("%04d", c.ReadI32())
		}
		return fmt.Sprintf("%04d  %s (%s)", pos, info.Name, strings.Join(targets, ", "))
	}
	return fmt.Sprintf("%04d  %s", pos, info.Name)
}

// DisassembleHeader decodes the routine header at entry and returns its text
// together with the offset of the first instruction.
func DisassembleHeader(code []byte, entry int) (text string, start int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: truncated routine header at %04d", ErrBadBytecode, entry)
		}
	}()
	c := NewCursor(code, 0)
	c.Seek(entry)
	h := readHeader(c)

	var sb strings.Builder
	fmt.Fprintf(&sb, "routine @%04d\n", entry)
	for i, p := range h.params {
		ref := ""
		if p.ByRef {
			ref = "&"
		}
		fmt.Fprintf(&sb, "  param %d: %#08x%s\n", i, uint32(p.Type), ref)
	}
	for i, l := range h.locals {
		fmt.Fprintf(&sb, "  local %d: %#08x\n", len(h.params)+i, uint32(l))
	}
	fmt.Fprintf(&sb, "  returns: %#08x\n", uint32(h.ret))
	for _, t := range h.handlers {
		fmt.Fprintf(&sb, "  try %04d-%04d %s -> %04d", t.begin, t.end, t.kind, t.handler)
		switch t.kind {
		case HandlerCatch:
			fmt.Fprintf(&sb, " type=%#08x", uint32(t.extra))
		case HandlerFilter:
			fmt.Fprintf(&sb, " filter=%04d", t.extra)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), c.Pos(), nil
}

// Disassemble decodes the instructions in code[from:to].
func Disassemble(code []byte, from, to int) string {
	c := NewCursor(code, 0)
	c.Seek(from)
	var lines []string
	for c.Pos() < to {
		line, ok := safeDisassemble(c)
		lines = append(lines, line)
		if !ok {
			break
		}
	}
	return strings.Join(lines, "\n")
}

func safeDisassemble(c *Cursor) (line string, ok bool) {
	pos := c.Pos()
	defer func() {
		if r := recover(); r != nil {
			line, ok = fmt.Sprintf("%04d  <truncated>", pos), false
		}
	}()
	return DisassembleInstruction(c), true
}
