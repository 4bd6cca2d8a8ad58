package vm

import (
	"encoding/binary"
	"math"
)

// Cursor reads little-endian operands from the VM code section. Positions
// are relative to base. Reads are not bounds-checked here; an out-of-range
// read panics and is reported by the interpreter as ErrBadBytecode.
type Cursor struct {
	mem  []byte
	base int
	pos  int
}

// NewCursor creates a cursor over mem whose offset 0 is mem[base].
func NewCursor(mem []byte, base int) *Cursor {
	return &Cursor{mem: mem, base: base}
}

// Pos returns the current offset.
func (c *Cursor) Pos() int { return c.pos }

// Seek moves to offset pos.
func (c *Cursor) Seek(pos int) { c.pos = pos }

func (c *Cursor) take(n int) []byte {
	p := c.base + c.pos
	b := c.mem[p : p+n]
	c.pos += n
	return b
}

func (c *Cursor) ReadU8() uint8 {
	b := c.mem[c.base+c.pos]
	c.pos++
	return b
}

func (c *Cursor) ReadI8() int8    { return int8(c.ReadU8()) }
func (c *Cursor) ReadU16() uint16 { return binary.LittleEndian.Uint16(c.take(2)) }
func (c *Cursor) ReadI16() int16  { return int16(c.ReadU16()) }
func (c *Cursor) ReadU32() uint32 { return binary.LittleEndian.Uint32(c.take(4)) }
func (c *Cursor) ReadI32() int32  { return int32(c.ReadU32()) }
func (c *Cursor) ReadI64() int64  { return int64(binary.LittleEndian.Uint64(c.take(8))) }

func (c *Cursor) ReadF32() float32 { return math.Float32frombits(c.ReadU32()) }
func (c *Cursor) ReadF64() float64 { return math.Float64frombits(uint64(c.ReadI64())) }

// Len returns the number of addressable bytes past base.
func (c *Cursor) Len() int { return len(c.mem) - c.base }
